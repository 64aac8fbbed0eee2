// Package provider はTurnit予約APIとの通信を提供する。
// クライアントクレデンシャルによるトークン管理と、予約検索・詳細取得を含む。
package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/nicolas-growmodo/twiliner-integration/internal/metrics"
)

const (
	// PlaceholderToken はトークン取得に失敗した開発・テスト環境で使うダミートークン。
	PlaceholderToken = "mock-token"
	// safetyMargin は有効期限の手前でトークンを失効扱いにする余裕時間。
	safetyMargin = 60 * time.Second
	// defaultExpiresIn はexpires_inが返らない場合の有効期間。
	defaultExpiresIn = 3600 * time.Second
)

// ErrTokenExchange はトークンエンドポイントとの交換に失敗したことを表す。
var ErrTokenExchange = errors.New("provider token exchange failed")

// Credential はBearerトークンと失効時刻（安全マージン適用済み）。
type Credential struct {
	AccessToken string
	ExpiresAt   time.Time
}

// Valid はnowの時点でトークンを提示してよいかを返す。
func (c Credential) Valid(now time.Time) bool {
	return c.AccessToken != "" && now.Before(c.ExpiresAt)
}

// IsPlaceholder はダミートークンかどうかを返す。
func (c Credential) IsPlaceholder() bool {
	return c.AccessToken == PlaceholderToken
}

// SessionConfig はSessionの設定。
type SessionConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	// AllowPlaceholder が真の場合、交換失敗時にダミートークンを返す（APP_ENV=test）。
	AllowPlaceholder bool
	Timeout          time.Duration
}

// exchangeFunc はトークンエンドポイントとの交換を行う関数。
type exchangeFunc func(ctx context.Context) (*oauth2.Token, error)

// Session はプロバイダーのアクセストークンをキャッシュする。
// 更新は同時に1つまでで、待機していた呼び出し元は更新後のトークンを再利用する。
type Session struct {
	mu   sync.Mutex
	cred Credential

	exchange         exchangeFunc
	clientID         string
	allowPlaceholder bool
	timeout          time.Duration
	metrics          metrics.MetricsCollector
	logger           *slog.Logger
	now              func() time.Time
}

// NewSession はSessionの新しいインスタンスを生成する。
// トークン交換はフォーム形式でclient_id/client_secretを本文に含めて送信する。
func NewSession(cfg SessionConfig, httpClient *http.Client, collector metrics.MetricsCollector, logger *slog.Logger) *Session {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if collector == nil {
		collector = metrics.Nop{}
	}

	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		AuthStyle:    oauth2.AuthStyleInParams,
	}

	return &Session{
		exchange: func(ctx context.Context) (*oauth2.Token, error) {
			ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
			return cc.Token(ctx)
		},
		clientID:         cfg.ClientID,
		allowPlaceholder: cfg.AllowPlaceholder,
		timeout:          cfg.Timeout,
		metrics:          collector,
		logger:           logger,
		now:              time.Now,
	}
}

// Token は有効なアクセストークンを返す。
// キャッシュが失効している場合のみトークンエンドポイントに問い合わせる。
func (s *Session) Token(ctx context.Context) (Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cred.Valid(s.now()) {
		return s.cred, nil
	}

	if s.clientID == "" {
		s.logger.Warn("Turnitの認証情報が未設定のためダミートークンを使用します")
		s.metrics.RecordTokenRefresh("degraded")
		return Credential{AccessToken: PlaceholderToken}, nil
	}

	exchangeCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		exchangeCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	obtainedAt := s.now()
	tok, err := s.exchange(exchangeCtx)
	if err != nil {
		if s.allowPlaceholder {
			s.logger.Warn("トークン取得に失敗したためダミートークンを使用します",
				slog.String("error", err.Error()),
			)
			s.metrics.RecordTokenRefresh("degraded")
			return Credential{AccessToken: PlaceholderToken}, nil
		}
		s.logger.Error("トークン取得に失敗しました",
			slog.String("error", err.Error()),
		)
		s.metrics.RecordTokenRefresh("failure")
		return Credential{}, fmt.Errorf("%w: %w", ErrTokenExchange, err)
	}

	s.cred = Credential{
		AccessToken: tok.AccessToken,
		ExpiresAt:   expiresAt(tok, obtainedAt),
	}
	s.metrics.RecordTokenRefresh("success")
	s.logger.Info("アクセストークンを取得しました",
		slog.Time("expires_at", s.cred.ExpiresAt),
	)

	return s.cred, nil
}

// Invalidate はキャッシュ済みのトークンを破棄する。
// 上流が401を返した場合に次回の呼び出しで再取得させるために使う。
func (s *Session) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred = Credential{}
}

// expiresAt は取得時刻と有効期間から安全マージンを差し引いた失効時刻を計算する。
func expiresAt(tok *oauth2.Token, obtainedAt time.Time) time.Time {
	if !tok.Expiry.IsZero() {
		return tok.Expiry.Add(-safetyMargin)
	}
	return obtainedAt.Add(defaultExpiresIn - safetyMargin)
}
