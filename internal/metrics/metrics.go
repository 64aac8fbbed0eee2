// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 同期ワーカー、上流クライアント、Webhookハンドラーから利用する。
type MetricsCollector interface {
	RecordSyncCycle(result string, duration time.Duration)
	RecordBooking(outcome string)
	RecordDispatch(action string, result string)
	RecordCursor(cursor time.Time)
	RecordUpstreamResponse(upstream string, statusCode int, duration time.Duration)
	RecordBreakerState(upstream string, state string)
	RecordTokenRefresh(result string)
	RecordWebhookEvent(eventType string, result string)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	syncCycles      *prometheus.CounterVec
	syncDuration    prometheus.Histogram
	bookings        *prometheus.CounterVec
	dispatches      *prometheus.CounterVec
	cursorTimestamp prometheus.Gauge
	upstreamStatus  *prometheus.CounterVec
	upstreamLatency *prometheus.HistogramVec
	breakerState    *prometheus.GaugeVec
	tokenRefreshes  *prometheus.CounterVec
	webhookEvents   *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		syncCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "twiliner_sync_cycles_total",
			Help: "同期サイクルの結果別の実行数",
		}, []string{"result"}),
		syncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "twiliner_sync_cycle_duration_seconds",
			Help:    "同期サイクルの所要時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		bookings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "twiliner_bookings_total",
			Help: "予約の処理結果別の件数",
		}, []string{"outcome"}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "twiliner_dispatch_total",
			Help: "CRMへの配信アクション別の件数",
		}, []string{"action", "result"}),
		cursorTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "twiliner_sync_cursor_timestamp_seconds",
			Help: "最後に保存した同期カーソル（UNIX秒）",
		}),
		upstreamStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "twiliner_upstream_responses_total",
			Help: "上流APIのHTTPステータスコード別のレスポンス数",
		}, []string{"upstream", "status_code"}),
		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "twiliner_upstream_latency_seconds",
			Help:    "上流API呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"upstream"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "twiliner_circuit_breaker_state",
			Help: "サーキットブレーカーの状態（0: closed, 1: half-open, 2: open）",
		}, []string{"upstream"}),
		tokenRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "twiliner_token_refresh_total",
			Help: "アクセストークン取得の結果別の件数",
		}, []string{"result"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "twiliner_webhook_events_total",
			Help: "Webhookイベントの種別・結果別の受信数",
		}, []string{"event_type", "result"}),
	}

	reg.MustRegister(
		c.syncCycles,
		c.syncDuration,
		c.bookings,
		c.dispatches,
		c.cursorTimestamp,
		c.upstreamStatus,
		c.upstreamLatency,
		c.breakerState,
		c.tokenRefreshes,
		c.webhookEvents,
	)

	return c
}

// RecordSyncCycle は同期サイクルの結果と所要時間を記録する。
func (c *Collector) RecordSyncCycle(result string, duration time.Duration) {
	c.syncCycles.WithLabelValues(result).Inc()
	c.syncDuration.Observe(duration.Seconds())
}

// RecordBooking は予約1件の処理結果を記録する。
func (c *Collector) RecordBooking(outcome string) {
	c.bookings.WithLabelValues(outcome).Inc()
}

// RecordDispatch はCRM配信の結果を記録する。
func (c *Collector) RecordDispatch(action string, result string) {
	c.dispatches.WithLabelValues(action, result).Inc()
}

// RecordCursor は保存したカーソルを記録する。
func (c *Collector) RecordCursor(cursor time.Time) {
	c.cursorTimestamp.Set(float64(cursor.Unix()))
}

// RecordUpstreamResponse は上流APIのステータスコードとレイテンシを記録する。
// ステータスコード0はネットワークエラーなどレスポンスなしを表す。
func (c *Collector) RecordUpstreamResponse(upstream string, statusCode int, duration time.Duration) {
	c.upstreamStatus.WithLabelValues(upstream, strconv.Itoa(statusCode)).Inc()
	c.upstreamLatency.WithLabelValues(upstream).Observe(duration.Seconds())
}

// RecordBreakerState はサーキットブレーカーの状態遷移を記録する。
func (c *Collector) RecordBreakerState(upstream string, state string) {
	var v float64
	switch state {
	case "half-open":
		v = 1
	case "open":
		v = 2
	}
	c.breakerState.WithLabelValues(upstream).Set(v)
}

// RecordTokenRefresh はアクセストークン取得の結果を記録する。
func (c *Collector) RecordTokenRefresh(result string) {
	c.tokenRefreshes.WithLabelValues(result).Inc()
}

// RecordWebhookEvent はWebhookイベントの受信結果を記録する。
func (c *Collector) RecordWebhookEvent(eventType string, result string) {
	c.webhookEvents.WithLabelValues(eventType, result).Inc()
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使用する。
type Nop struct{}

func (Nop) RecordSyncCycle(string, time.Duration) {}

func (Nop) RecordBooking(string) {}

func (Nop) RecordDispatch(string, string) {}

func (Nop) RecordCursor(time.Time) {}

func (Nop) RecordUpstreamResponse(string, int, time.Duration) {}

func (Nop) RecordBreakerState(string, string) {}

func (Nop) RecordTokenRefresh(string) {}

func (Nop) RecordWebhookEvent(string, string) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
