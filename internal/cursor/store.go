// Package cursor は同期カーソル（最後に成功した同期の開始時刻）の永続化を提供する。
// ファイル、PostgreSQL、Redisのいずれかをバックエンドとして使用する。
package cursor

import (
	"context"
	"log/slog"
	"time"

	"github.com/nicolas-growmodo/twiliner-integration/internal/metrics"
)

// DefaultLookback はカーソルが存在しない場合に遡る期間。
const DefaultLookback = 24 * time.Hour

// Backend はカーソル値の読み書きを行う永続化層。
type Backend interface {
	// Load は保存済みのカーソルを返す。未保存の場合はokがfalseになる。
	Load(ctx context.Context) (t time.Time, ok bool, err error)
	// Save はカーソルを保存する。
	Save(ctx context.Context, t time.Time) error
}

// Store は同期カーソルの読み書きを行う。
// 読み書きの失敗は呼び出し元に返さず、ログに記録する。
type Store struct {
	backend Backend
	metrics metrics.MetricsCollector
	logger  *slog.Logger
	now     func() time.Time
}

// NewStore はStoreの新しいインスタンスを生成する。
func NewStore(backend Backend, collector metrics.MetricsCollector, logger *slog.Logger) *Store {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Store{
		backend: backend,
		metrics: collector,
		logger:  logger,
		now:     time.Now,
	}
}

// Read は保存済みのカーソルを返す。
// 未保存または読み取りに失敗した場合は現在時刻の24時間前を返す。
func (s *Store) Read(ctx context.Context) time.Time {
	t, ok, err := s.backend.Load(ctx)
	if err != nil {
		fallback := s.now().Add(-DefaultLookback).UTC()
		s.logger.Warn("同期カーソルの読み取りに失敗したため既定値を使用します",
			slog.String("error", err.Error()),
			slog.Time("cursor", fallback),
		)
		return fallback
	}
	if !ok {
		return s.now().Add(-DefaultLookback).UTC()
	}
	return t.UTC()
}

// Write はカーソルを保存する。
// 保存済みの値より前の時刻は書き込まず、既存の値を維持する。
func (s *Store) Write(ctx context.Context, t time.Time) {
	t = t.UTC()

	current, ok, err := s.backend.Load(ctx)
	if err == nil && ok && t.Before(current) {
		s.logger.Warn("同期カーソルを過去に戻す書き込みを無視しました",
			slog.Time("current", current.UTC()),
			slog.Time("requested", t),
		)
		return
	}

	if err := s.backend.Save(ctx, t); err != nil {
		s.logger.Error("同期カーソルの保存に失敗しました",
			slog.String("error", err.Error()),
			slog.Time("cursor", t),
		)
		return
	}

	s.metrics.RecordCursor(t)
	s.logger.Info("同期カーソルを更新しました", slog.Time("cursor", t))
}
