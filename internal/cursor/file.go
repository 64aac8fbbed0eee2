package cursor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// fileState はカーソルファイルの内容。
type fileState struct {
	LastSyncTime time.Time `json:"lastSyncTime"`
}

// FileBackend はJSONファイルにカーソルを保存するBackend。
// 書き込みは一時ファイルへの書き出し後にrenameで置き換える。
type FileBackend struct {
	mu   sync.Mutex
	path string
}

// NewFileBackend はFileBackendの新しいインスタンスを生成する。
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

// Load はファイルからカーソルを読み込む。ファイルがない場合はokがfalseになる。
func (b *FileBackend) Load(ctx context.Context) (time.Time, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, err := os.ReadFile(b.path)
	if errors.Is(err, os.ErrNotExist) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read cursor file: %w", err)
	}

	var state fileState
	if err := json.Unmarshal(data, &state); err != nil {
		return time.Time{}, false, fmt.Errorf("parse cursor file: %w", err)
	}
	if state.LastSyncTime.IsZero() {
		return time.Time{}, false, nil
	}
	return state.LastSyncTime, true, nil
}

// Save はカーソルをファイルに書き込む。
func (b *FileBackend) Save(ctx context.Context, t time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, err := json.MarshalIndent(fileState{LastSyncTime: t.UTC()}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cursor: %w", err)
	}

	dir := filepath.Dir(b.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(b.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp cursor file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write cursor file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close cursor file: %w", err)
	}
	if err := os.Rename(tmpName, b.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace cursor file: %w", err)
	}
	return nil
}
