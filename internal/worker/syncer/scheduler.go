// Package syncer はTurnitからBrevoへの定期同期処理を提供する。
// カーソル以降の予約を検索し、1件ずつ詳細取得・正規化・配信を行う。
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nicolas-growmodo/twiliner-integration/internal/dispatch"
	"github.com/nicolas-growmodo/twiliner-integration/internal/metrics"
	"github.com/nicolas-growmodo/twiliner-integration/internal/model"
)

// ErrCycleInProgress は前回の同期サイクルが実行中であることを表す。
var ErrCycleInProgress = errors.New("sync cycle already in progress")

// BookingSource は予約の検索と詳細取得のインターフェース。
type BookingSource interface {
	SearchSince(ctx context.Context, since time.Time) model.Outcome[[]model.BookingSummary]
	GetDetails(ctx context.Context, bookingID string) model.Outcome[*model.RawBooking]
}

// CursorStore は同期カーソルの読み書きインターフェース。
type CursorStore interface {
	Read(ctx context.Context) time.Time
	Write(ctx context.Context, t time.Time)
}

// BookingProcessor は予約1件の正規化と配信のインターフェース。
type BookingProcessor interface {
	Process(ctx context.Context, raw *model.RawBooking) (dispatch.Action, error)
}

// 予約1件の処理結果
const (
	outcomeDispatched = "dispatched"
	outcomeIgnored    = "ignored"
	outcomeSkipped    = "skipped"
	outcomeFailed     = "failed"
)

// CycleReport は同期サイクル1回分の結果。
type CycleReport struct {
	CycleID        string
	Since          time.Time
	CycleStart     time.Time
	Found          int
	Dispatched     int
	Ignored        int
	Skipped        int
	Failed         int
	CursorAdvanced bool
}

// Scheduler は同期サイクルのスケジューリングと実行を行う。
// 実行中のサイクルがある間に次のティックが来た場合、そのティックはスキップする。
type Scheduler struct {
	source    BookingSource
	cursor    CursorStore
	processor BookingProcessor
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
	running   atomic.Bool
	now       func() time.Time
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
func NewScheduler(
	source BookingSource,
	cursor CursorStore,
	processor BookingProcessor,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Scheduler {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Scheduler{
		source:    source,
		cursor:    cursor,
		processor: processor,
		metrics:   collector,
		logger:    logger,
		now:       time.Now,
	}
}

// Start は指定間隔のティッカーでスケジューラを起動する。
// 起動直後に1回実行し、コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("同期スケジューラを開始しました",
		slog.Duration("interval", interval),
	)

	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("同期スケジューラを停止しました")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil && !errors.Is(err, ErrCycleInProgress) {
		s.logger.Error("同期サイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// RunOnce は同期サイクルを1回実行する。
//
// 検索に失敗した場合とサイクル途中でキャンセルされた場合はカーソルを更新しない。
// 予約1件ごとの失敗はログに記録して次の予約に進み、カーソル更新を妨げない。
// 新しいカーソルは検索前に記録したサイクル開始時刻。
func (s *Scheduler) RunOnce(ctx context.Context) (*CycleReport, error) {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Warn("前回の同期サイクルが実行中のためスキップします")
		s.metrics.RecordSyncCycle("skipped", 0)
		return nil, ErrCycleInProgress
	}
	defer s.running.Store(false)

	start := time.Now()
	report := &CycleReport{CycleID: uuid.NewString()}
	logger := s.logger.With(slog.String("cycle_id", report.CycleID))

	report.Since = s.cursor.Read(ctx)
	report.CycleStart = s.now().UTC()

	logger.Info("同期サイクルを開始します",
		slog.Time("since", report.Since),
	)

	result := s.source.SearchSince(ctx, report.Since)
	if result.IsFailed() {
		logger.Error("予約検索に失敗したため同期サイクルを中断します",
			slog.String("error", result.Err().Error()),
		)
		s.metrics.RecordSyncCycle("search_failed", time.Since(start))
		return report, fmt.Errorf("search bookings: %w", result.Err())
	}

	summaries := result.Value()
	report.Found = len(summaries)
	logger.Info("処理対象の予約を取得しました",
		slog.Int("booking_count", report.Found),
	)

	for _, summary := range summaries {
		if err := ctx.Err(); err != nil {
			logger.Warn("同期サイクルがキャンセルされたためカーソルを更新せずに終了します")
			s.metrics.RecordSyncCycle("canceled", time.Since(start))
			return report, err
		}

		outcome := s.processBooking(ctx, logger, summary)
		s.metrics.RecordBooking(outcome)
		switch outcome {
		case outcomeDispatched:
			report.Dispatched++
		case outcomeIgnored:
			report.Ignored++
		case outcomeSkipped:
			report.Skipped++
		case outcomeFailed:
			report.Failed++
		}
	}

	if err := ctx.Err(); err != nil {
		s.metrics.RecordSyncCycle("canceled", time.Since(start))
		return report, err
	}

	s.cursor.Write(ctx, report.CycleStart)
	report.CursorAdvanced = true

	duration := time.Since(start)
	s.metrics.RecordSyncCycle("success", duration)
	logger.Info("同期サイクルが完了しました",
		slog.Int("booking_count", report.Found),
		slog.Int("dispatched", report.Dispatched),
		slog.Int("ignored", report.Ignored),
		slog.Int("skipped", report.Skipped),
		slog.Int("failed", report.Failed),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return report, nil
}

// processBooking は予約1件を処理し、結果を返す。
// panicはこの予約の失敗として回収し、後続の予約の処理を続ける。
func (s *Scheduler) processBooking(ctx context.Context, logger *slog.Logger, summary model.BookingSummary) (outcome string) {
	bookingID := summary.Identifier()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("予約の処理中にpanicが発生しました",
				slog.String("booking_id", bookingID),
				slog.String("panic", fmt.Sprint(r)),
				slog.String("stack", string(debug.Stack())),
			)
			outcome = outcomeFailed
		}
	}()

	if bookingID == "" {
		logger.Warn("検索結果に予約IDがないためスキップします")
		return outcomeSkipped
	}

	details := s.source.GetDetails(ctx, bookingID)
	if !details.IsOK() {
		attrs := []any{slog.String("booking_id", bookingID), slog.String("result", details.Kind().String())}
		if err := details.Err(); err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		logger.Warn("予約詳細を取得できなかったためスキップします", attrs...)
		return outcomeSkipped
	}

	action, err := s.processor.Process(ctx, details.Value())
	switch {
	case errors.Is(err, dispatch.ErrTransform), errors.Is(err, dispatch.ErrMissingEmail):
		logger.Warn("予約を配信できないためスキップします",
			slog.String("booking_id", bookingID),
			slog.String("error", err.Error()),
		)
		return outcomeSkipped
	case err != nil:
		logger.Error("予約の配信に失敗しました",
			slog.String("booking_id", bookingID),
			slog.String("action", string(action)),
			slog.String("error", err.Error()),
		)
		return outcomeFailed
	case action == dispatch.ActionNone:
		return outcomeIgnored
	}

	logger.Info("予約を配信しました",
		slog.String("booking_id", bookingID),
		slog.String("action", string(action)),
	)
	return outcomeDispatched
}
