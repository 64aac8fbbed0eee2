package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/nicolas-growmodo/twiliner-integration/internal/metrics"
	"github.com/nicolas-growmodo/twiliner-integration/internal/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// Webhook
	Processor WebhookProcessor

	// 運用
	HealthChecker HealthChecker
	Gatherer      prometheus.Gatherer
	Metrics       metrics.MetricsCollector

	Logger *slog.Logger
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Logging → Recovery → SecurityHeaders
//
// Gathererがnilの場合は/metricsを公開しない。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())

	webhookHandler := NewWebhookHandler(deps.Processor, deps.Metrics, logger)
	healthHandler := NewHealthHandler(deps.HealthChecker, logger)

	r.Post("/webhook/turnit", webhookHandler.HandleTurnit)
	r.Get("/health", healthHandler.Health)

	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}

	return r
}
