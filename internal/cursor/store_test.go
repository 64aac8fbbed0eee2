package cursor

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// memoryBackend はBackendのテスト用インメモリ実装。
type memoryBackend struct {
	value   time.Time
	ok      bool
	loadErr error
	saveErr error
	saves   int
}

func (m *memoryBackend) Load(ctx context.Context) (time.Time, bool, error) {
	if m.loadErr != nil {
		return time.Time{}, false, m.loadErr
	}
	return m.value, m.ok, nil
}

func (m *memoryBackend) Save(ctx context.Context, t time.Time) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.value = t
	m.ok = true
	return nil
}

func newTestStore(backend Backend) (*Store, *bytes.Buffer, time.Time) {
	var buf bytes.Buffer
	s := NewStore(backend, nil, slog.New(slog.NewJSONHandler(&buf, nil)))
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	return s, &buf, now
}

func TestStore_Read_ReturnsStoredCursor(t *testing.T) {
	stored := time.Date(2024, 3, 9, 8, 0, 0, 0, time.UTC)
	s, _, _ := newTestStore(&memoryBackend{value: stored, ok: true})

	assert.Equal(t, stored, s.Read(context.Background()))
}

func TestStore_Read_DefaultsTo24HoursAgo(t *testing.T) {
	s, _, now := newTestStore(&memoryBackend{})

	assert.Equal(t, now.Add(-24*time.Hour), s.Read(context.Background()))
}

func TestStore_Read_ErrorFallsBackAndLogs(t *testing.T) {
	s, buf, now := newTestStore(&memoryBackend{loadErr: errors.New("disk unreadable")})

	assert.Equal(t, now.Add(-24*time.Hour), s.Read(context.Background()))
	assert.Contains(t, buf.String(), `"level":"WARN"`)
	assert.Contains(t, buf.String(), "disk unreadable")
}

func TestStore_Write_PersistsCursor(t *testing.T) {
	backend := &memoryBackend{}
	s, _, _ := newTestStore(backend)

	cursor := time.Date(2024, 3, 10, 11, 55, 0, 0, time.UTC)
	s.Write(context.Background(), cursor)

	assert.Equal(t, cursor, backend.value)
	assert.Equal(t, cursor, s.Read(context.Background()))
}

func TestStore_Write_NeverMovesBackwards(t *testing.T) {
	latest := time.Date(2024, 3, 10, 11, 0, 0, 0, time.UTC)
	backend := &memoryBackend{value: latest, ok: true}
	s, buf, _ := newTestStore(backend)

	s.Write(context.Background(), latest.Add(-time.Minute))

	assert.Equal(t, latest, backend.value)
	assert.Equal(t, 0, backend.saves)
	assert.Contains(t, buf.String(), "同期カーソルを過去に戻す書き込みを無視しました")
}

func TestStore_Write_SameInstantIsAccepted(t *testing.T) {
	latest := time.Date(2024, 3, 10, 11, 0, 0, 0, time.UTC)
	backend := &memoryBackend{value: latest, ok: true}
	s, _, _ := newTestStore(backend)

	s.Write(context.Background(), latest)

	assert.Equal(t, 1, backend.saves)
}

func TestStore_Write_SaveErrorIsLoggedNotReturned(t *testing.T) {
	s, buf, _ := newTestStore(&memoryBackend{saveErr: errors.New("read-only file system")})

	s.Write(context.Background(), time.Now())

	assert.Contains(t, buf.String(), `"level":"ERROR"`)
	assert.Contains(t, buf.String(), "read-only file system")
}

func TestStore_Write_NormalizesToUTC(t *testing.T) {
	backend := &memoryBackend{}
	s, _, _ := newTestStore(backend)

	loc := time.FixedZone("EET", 2*60*60)
	s.Write(context.Background(), time.Date(2024, 3, 10, 14, 0, 0, 0, loc))

	assert.Equal(t, time.UTC, backend.value.Location())
	assert.Equal(t, 12, backend.value.Hour())
}
