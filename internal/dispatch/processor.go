package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/nicolas-growmodo/twiliner-integration/internal/model"
)

// ErrTransform は予約の正規化に失敗したことを表す。
var ErrTransform = errors.New("booking transform failed")

// Transformer は予約の正規化インターフェース。
type Transformer interface {
	Transform(raw *model.RawBooking) (*model.CanonicalBooking, error)
}

// BookingDispatcher は正規化済み予約の配信インターフェース。
type BookingDispatcher interface {
	Dispatch(ctx context.Context, b *model.CanonicalBooking) (Action, error)
}

// Processor は予約1件の正規化と配信を行う。
// 定期同期とWebhookの両方から同じ処理として呼び出される。
type Processor struct {
	transformer Transformer
	dispatcher  BookingDispatcher
}

// NewProcessor はProcessorの新しいインスタンスを生成する。
func NewProcessor(transformer Transformer, dispatcher BookingDispatcher) *Processor {
	return &Processor{
		transformer: transformer,
		dispatcher:  dispatcher,
	}
}

// Process は予約を正規化して配信する。
// 正規化に失敗した場合はErrTransformでラップしたエラーを返す。
func (p *Processor) Process(ctx context.Context, raw *model.RawBooking) (Action, error) {
	canonical, err := p.transformer.Transform(raw)
	if err != nil {
		return ActionNone, fmt.Errorf("%w: %w", ErrTransform, err)
	}
	return p.dispatcher.Dispatch(ctx, canonical)
}
