package cursor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCmdable はRedisBackendが使用するコマンドのサブセット。
type RedisCmdable interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// RedisBackend はRedisの文字列キーにRFC 3339形式でカーソルを保存するBackend。
type RedisBackend struct {
	client RedisCmdable
	key    string
}

// NewRedisBackend はRedisBackendの新しいインスタンスを生成する。
func NewRedisBackend(client RedisCmdable, key string) *RedisBackend {
	return &RedisBackend{client: client, key: key}
}

// OpenRedis はREDIS_URL形式の接続先からクライアントを生成し、疎通を確認する。
func OpenRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

// Load はカーソルを読み込む。キーがない場合はokがfalseになる。
func (b *RedisBackend) Load(ctx context.Context) (time.Time, bool, error) {
	val, err := b.client.Get(ctx, b.key).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("redis get %s: %w", b.key, err)
	}

	t, err := time.Parse(time.RFC3339Nano, val)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse cursor %q: %w", val, err)
	}
	return t, true, nil
}

// Save はカーソルを有効期限なしで保存する。
func (b *RedisBackend) Save(ctx context.Context, t time.Time) error {
	if err := b.client.Set(ctx, b.key, t.UTC().Format(time.RFC3339Nano), 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", b.key, err)
	}
	return nil
}

// Ping はRedisへの疎通を確認する。ヘルスチェックに使用する。
func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}
