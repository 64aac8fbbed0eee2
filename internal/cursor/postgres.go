package cursor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PostgresBackend はsync_stateテーブルの1行にカーソルを保存するBackend。
// 保存時はGREATESTで既存値と比較し、同時書き込みでもカーソルが戻らないようにする。
type PostgresBackend struct {
	db   *sql.DB
	name string
}

// NewPostgresBackend はPostgresBackendの新しいインスタンスを生成する。
// nameはsync_stateの行を識別するキー。
func NewPostgresBackend(db *sql.DB, name string) *PostgresBackend {
	return &PostgresBackend{db: db, name: name}
}

// Load はカーソルを読み込む。行がない場合はokがfalseになる。
func (b *PostgresBackend) Load(ctx context.Context) (time.Time, bool, error) {
	var t time.Time
	err := b.db.QueryRowContext(ctx,
		`SELECT last_sync_time FROM sync_state WHERE name = $1`,
		b.name,
	).Scan(&t)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("select sync_state: %w", err)
	}
	return t, true, nil
}

// Save はカーソルを保存する。
func (b *PostgresBackend) Save(ctx context.Context, t time.Time) error {
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO sync_state (name, last_sync_time, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE SET
			last_sync_time = GREATEST(sync_state.last_sync_time, EXCLUDED.last_sync_time),
			updated_at = now()`,
		b.name, t.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert sync_state: %w", err)
	}
	return nil
}

// Ping はデータベースへの疎通を確認する。ヘルスチェックに使用する。
func (b *PostgresBackend) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}
