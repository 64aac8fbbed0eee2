// Package dispatch は正規化済み予約をステータスに応じてCRMへ配信する。
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nicolas-growmodo/twiliner-integration/internal/crm"
	"github.com/nicolas-growmodo/twiliner-integration/internal/metrics"
	"github.com/nicolas-growmodo/twiliner-integration/internal/model"
)

// Action は予約に対して実行した配信の種類。
type Action string

const (
	// ActionContactUpsert は連絡先のUPSERT（確定予約）。
	ActionContactUpsert Action = "contact_upsert"
	// ActionEventTrack はcart_updatedイベントの送信（未確定・失敗予約）。
	ActionEventTrack Action = "event_track"
	// ActionNone は配信対象外。
	ActionNone Action = "none"
)

// ErrMissingEmail は顧客メールアドレスが空のため配信できないことを表す。
var ErrMissingEmail = errors.New("customer email is empty")

// CRM は配信先CRMのインターフェース。
type CRM interface {
	UpsertContact(ctx context.Context, req crm.ContactRequest) (*crm.ContactResult, error)
	TrackEvent(ctx context.Context, req crm.EventRequest) error
}

// Dispatcher は予約ステータスに応じた配信を行う。
type Dispatcher struct {
	crm     CRM
	metrics metrics.MetricsCollector
	logger  *slog.Logger
}

// NewDispatcher はDispatcherの新しいインスタンスを生成する。
func NewDispatcher(client CRM, collector metrics.MetricsCollector, logger *slog.Logger) *Dispatcher {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Dispatcher{
		crm:     client,
		metrics: collector,
		logger:  logger,
	}
}

// Dispatch は予約を配信する。
// confirmedは連絡先UPSERT、pending/failedはcart_updatedイベント、それ以外は何もしない。
func (d *Dispatcher) Dispatch(ctx context.Context, b *model.CanonicalBooking) (Action, error) {
	action := actionFor(b.Booking.Status)
	if action == ActionNone {
		d.logger.Info("配信対象外のステータスのためスキップします",
			slog.String("booking_id", b.Booking.Reference),
			slog.String("status", string(b.Booking.Status)),
		)
		d.metrics.RecordDispatch(string(action), "skipped")
		return ActionNone, nil
	}

	if b.Customer.Email == "" {
		d.metrics.RecordDispatch(string(action), "skipped")
		return action, ErrMissingEmail
	}

	var err error
	switch action {
	case ActionContactUpsert:
		_, err = d.crm.UpsertContact(ctx, ContactFromBooking(b))
	case ActionEventTrack:
		err = d.crm.TrackEvent(ctx, CartEventFromBooking(b))
	}
	if err != nil {
		d.metrics.RecordDispatch(string(action), "failure")
		return action, fmt.Errorf("dispatch %s: %w", action, err)
	}

	d.metrics.RecordDispatch(string(action), "success")
	return action, nil
}

func actionFor(status model.BookingStatus) Action {
	switch status {
	case model.StatusConfirmed:
		return ActionContactUpsert
	case model.StatusPending, model.StatusFailed:
		return ActionEventTrack
	default:
		return ActionNone
	}
}
