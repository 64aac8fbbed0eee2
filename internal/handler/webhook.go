package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/google/uuid"
	"github.com/nicolas-growmodo/twiliner-integration/internal/dispatch"
	"github.com/nicolas-growmodo/twiliner-integration/internal/metrics"
	"github.com/nicolas-growmodo/twiliner-integration/internal/middleware"
	"github.com/nicolas-growmodo/twiliner-integration/internal/model"
)

// 処理対象のWebhookイベント種別
const (
	EventBookingCreated = "booking.created"
	EventBookingUpdated = "booking.updated"
)

// maxWebhookBodySize はWebhookリクエストボディの上限（1MB）。
const maxWebhookBodySize = 1 << 20

// Webhookイベントの処理結果
const (
	webhookProcessed = "processed"
	webhookIgnored   = "ignored"
	webhookSkipped   = "skipped"
	webhookFailed    = "failed"
	webhookMalformed = "malformed"
)

// WebhookProcessor は予約1件を正規化して配信するインターフェース。
type WebhookProcessor interface {
	Process(ctx context.Context, raw *model.RawBooking) (dispatch.Action, error)
}

// webhookEvent はTurnitから受信するWebhookのボディ。
type webhookEvent struct {
	EventType   string            `json:"event_type"`
	Reservation *model.RawBooking `json:"reservation"`
}

// WebhookHandler はTurnitからの予約イベントを受け付けるHTTPハンドラー。
// 処理結果にかかわらず常に200 OKを返す。
type WebhookHandler struct {
	processor WebhookProcessor
	collector metrics.MetricsCollector
	logger    *slog.Logger
}

// NewWebhookHandler はWebhookHandlerを生成する。
func NewWebhookHandler(processor WebhookProcessor, collector metrics.MetricsCollector, logger *slog.Logger) *WebhookHandler {
	if collector == nil {
		collector = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookHandler{
		processor: processor,
		collector: collector,
		logger:    logger,
	}
}

// HandleTurnit はTurnitの予約イベントを処理する。
// POST /webhook/turnit
func (h *WebhookHandler) HandleTurnit(w http.ResponseWriter, r *http.Request) {
	deliveryID := middleware.RequestIDFromContext(r.Context())
	if deliveryID == "" {
		deliveryID = uuid.NewString()
	}
	logger := h.logger.With(slog.String("delivery_id", deliveryID))

	eventLabel, result := h.handle(w, r, logger)
	h.collector.RecordWebhookEvent(eventLabel, result)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, "OK")
}

// handle はイベントを解析して処理し、メトリクス用のイベント種別と結果を返す。
// panicは回復してfailedとして扱う。
func (h *WebhookHandler) handle(w http.ResponseWriter, r *http.Request, logger *slog.Logger) (eventLabel, result string) {
	eventLabel = "unknown"

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("Webhook処理中にpanicが発生しました",
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())),
			)
			result = webhookFailed
		}
	}()

	var event webhookEvent
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxWebhookBodySize)).Decode(&event); err != nil {
		logger.Warn("Webhookボディを解析できませんでした",
			slog.String("error", err.Error()),
		)
		return eventLabel, webhookMalformed
	}

	switch event.EventType {
	case EventBookingCreated, EventBookingUpdated:
		eventLabel = event.EventType
	default:
		logger.Info("対象外のWebhookイベントを無視しました",
			slog.String("event_type", event.EventType),
		)
		return "other", webhookIgnored
	}

	if event.Reservation == nil {
		logger.Warn("Webhookイベントに予約が含まれていません",
			slog.String("event_type", event.EventType),
		)
		return eventLabel, webhookMalformed
	}

	logger = logger.With(
		slog.String("event_type", event.EventType),
		slog.String("booking_id", event.Reservation.ID),
	)

	action, err := h.processor.Process(r.Context(), event.Reservation)
	if err != nil {
		if errors.Is(err, dispatch.ErrTransform) || errors.Is(err, dispatch.ErrMissingEmail) {
			logger.Warn("Webhookの予約をスキップしました",
				slog.String("error", err.Error()),
			)
			return eventLabel, webhookSkipped
		}
		logger.Error("Webhookの予約の配信に失敗しました",
			slog.String("error", err.Error()),
		)
		return eventLabel, webhookFailed
	}

	if action == dispatch.ActionNone {
		return eventLabel, webhookIgnored
	}

	logger.Info("Webhookの予約を配信しました",
		slog.String("action", string(action)),
	)
	return eventLabel, webhookProcessed
}
