package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/nicolas-growmodo/twiliner-integration/internal/booking"
	"github.com/nicolas-growmodo/twiliner-integration/internal/config"
	"github.com/nicolas-growmodo/twiliner-integration/internal/crm"
	"github.com/nicolas-growmodo/twiliner-integration/internal/cursor"
	"github.com/nicolas-growmodo/twiliner-integration/internal/database"
	"github.com/nicolas-growmodo/twiliner-integration/internal/dispatch"
	"github.com/nicolas-growmodo/twiliner-integration/internal/handler"
	"github.com/nicolas-growmodo/twiliner-integration/internal/metrics"
	"github.com/nicolas-growmodo/twiliner-integration/internal/provider"
	"github.com/nicolas-growmodo/twiliner-integration/internal/security"
	"github.com/nicolas-growmodo/twiliner-integration/internal/upstream"
	"github.com/nicolas-growmodo/twiliner-integration/internal/worker/syncer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// 上流名（メトリクスのラベルとログに使用）
const (
	upstreamTurnit = "turnit"
	upstreamBrevo  = "brevo"
)

// components は各コマンドが共有する依存関係をまとめたもの。
type components struct {
	cfg       *config.Config
	logger    *slog.Logger
	registry  *prometheus.Registry
	collector *metrics.Collector

	health    handler.HealthChecker
	crm       *crm.Client
	processor *dispatch.Processor
	scheduler *syncer.Scheduler

	closers []func() error
}

// buildComponents は設定に従って全依存関係をワイヤリングする。
// 返されたcomponentsは使用後にCloseする必要がある。
func buildComponents(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*components, error) {
	c := &components{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}
	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	c.collector = metrics.NewCollector(c.registry)

	// 1. カーソルの永続化先
	backend, err := c.openCursorBackend(ctx)
	if err != nil {
		c.Close()
		return nil, err
	}
	store := cursor.NewStore(backend, c.collector, logger)

	// 2. 上流ごとのHTTP実行器（リトライ・レート制限・サーキットブレーカー）
	httpClient := &http.Client{}
	turnitDoer := upstream.NewDoer(upstreamConfig(cfg, upstreamTurnit), httpClient, c.collector, logger)
	brevoDoer := upstream.NewDoer(upstreamConfig(cfg, upstreamBrevo), httpClient, c.collector, logger)

	// 3. Turnit
	session := provider.NewSession(provider.SessionConfig{
		TokenURL:         cfg.TurnitAuthURL,
		ClientID:         cfg.TurnitClientID,
		ClientSecret:     cfg.TurnitClientSecret,
		AllowPlaceholder: cfg.IsTestEnv(),
		Timeout:          cfg.UpstreamTimeout,
	}, httpClient, c.collector, logger)
	providerClient := provider.NewClient(provider.ClientConfig{
		BaseURL:     cfg.TurnitAPIURL,
		POSID:       cfg.TurnitPOSID,
		SearchLimit: cfg.TurnitSearchLimit,
	}, session, turnitDoer, logger)

	// 4. Brevo
	c.crm = crm.NewClient(cfg.BrevoAPIURL, cfg.BrevoAPIKey, brevoDoer, logger)

	// 5. 正規化と配信（定期同期とWebhookで共有）
	c.processor = dispatch.NewProcessor(
		booking.NewTransformer(security.NewTextSanitizer()),
		dispatch.NewDispatcher(c.crm, c.collector, logger),
	)

	// 6. 同期スケジューラ
	c.scheduler = syncer.NewScheduler(providerClient, store, c.processor, c.collector, logger)

	return c, nil
}

// openCursorBackend はCURSOR_BACKENDに応じたカーソルの永続化先を開く。
// PostgreSQLとRedisの場合は疎通確認をヘルスチェックにも使用する。
func (c *components) openCursorBackend(ctx context.Context) (cursor.Backend, error) {
	switch c.cfg.CursorBackend {
	case config.CursorBackendPostgres:
		if err := database.RunMigrations(c.cfg.DatabaseURL, c.logger); err != nil {
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		db, err := database.Open(ctx, c.cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, db.Close)
		backend := cursor.NewPostgresBackend(db, c.cfg.CursorKey)
		c.health = backend
		c.logger.Info("database connection established")
		return backend, nil

	case config.CursorBackendRedis:
		client, err := cursor.OpenRedis(ctx, c.cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, client.Close)
		backend := cursor.NewRedisBackend(client, c.cfg.CursorKey)
		c.health = backend
		c.logger.Info("redis connection established")
		return backend, nil

	default:
		return cursor.NewFileBackend(c.cfg.CursorFile), nil
	}
}

// upstreamConfig は上流ごとのHTTP実行器の設定を返す。
func upstreamConfig(cfg *config.Config, name string) upstream.Config {
	return upstream.Config{
		Name:             name,
		Timeout:          cfg.UpstreamTimeout,
		MaxRetries:       cfg.UpstreamMaxRetries,
		MinInterval:      cfg.UpstreamMinInterval,
		FailureThreshold: cfg.BreakerFailureThreshold,
		OpenTimeout:      cfg.BreakerOpenTimeout,
	}
}

// router はWebhook・ヘルスチェック・メトリクスのHTTPハンドラーを構成する。
func (c *components) router() http.Handler {
	return handler.NewRouter(&handler.RouterDeps{
		Processor:     c.processor,
		HealthChecker: c.health,
		Gatherer:      c.registry,
		Metrics:       c.collector,
		Logger:        c.logger,
	})
}

// Close は開いた接続をすべて閉じる。
func (c *components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
