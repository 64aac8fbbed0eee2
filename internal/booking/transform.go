// Package booking はプロバイダーの予約データを正規化する。
package booking

import (
	"errors"
	"math"

	"github.com/nicolas-growmodo/twiliner-integration/internal/model"
	"github.com/nicolas-growmodo/twiliner-integration/internal/security"
)

const (
	// UnknownPlace は停留所参照がない場合の地名。
	UnknownPlace = "Unknown"
	// DefaultCurrency は確定金額がない場合の通貨。
	DefaultCurrency = "EUR"
	// travelWindowDays は出発前・到着後の案内日を決める日数。
	travelWindowDays = 3
)

var (
	// ErrNoReservation は予約データが渡されなかったことを表す。
	ErrNoReservation = errors.New("no reservation data")
	// ErrNoTripSummaries は予約に区間が1つも含まれないことを表す。
	ErrNoTripSummaries = errors.New("reservation has no trip summaries")
	// ErrMissingTripTimes は最初の区間の出発時刻または最後の区間の到着時刻がないことを表す。
	ErrMissingTripTimes = errors.New("reservation has no departure or arrival time")
)

// Sanitizer は顧客テキストの無害化インターフェース。
type Sanitizer interface {
	Sanitize(s string) string
}

// Transformer はRawBookingをCanonicalBookingに変換する。
// 入力を変更せず、同じ入力には常に同じ結果を返す。
type Transformer struct {
	sanitizer Sanitizer
}

// NewTransformer はTransformerの新しいインスタンスを生成する。
func NewTransformer(sanitizer Sanitizer) *Transformer {
	return &Transformer{sanitizer: sanitizer}
}

var defaultTransformer = NewTransformer(security.NewTextSanitizer())

// Transform は既定のサニタイザーでRawBookingを変換する。
func Transform(raw *model.RawBooking) (*model.CanonicalBooking, error) {
	return defaultTransformer.Transform(raw)
}

// Transform はRawBookingをCanonicalBookingに変換する。
//
// 確定金額があり amount > 0 の場合のみconfirmed、それ以外はpendingとする。
// 出発日は最初の区間の出発時刻、到着日は最後の区間の到着時刻をUTCの日付に切り詰めたもの。
// 出発前日付は出発日の3日前、到着後日付は到着日の3日後。
func (t *Transformer) Transform(raw *model.RawBooking) (*model.CanonicalBooking, error) {
	if raw == nil {
		return nil, ErrNoReservation
	}
	if len(raw.TripSummaries) == 0 {
		return nil, ErrNoTripSummaries
	}

	first := raw.TripSummaries[0]
	last := raw.TripSummaries[len(raw.TripSummaries)-1]
	if first.StartTime.IsZero() || last.EndTime.IsZero() {
		return nil, ErrMissingTripTimes
	}

	departure := model.DateOf(first.StartTime)
	arrival := model.DateOf(last.EndTime)

	facts := model.BookingFacts{
		Reference:      raw.ID,
		Status:         inferStatus(raw.ConfirmedPrice),
		Currency:       DefaultCurrency,
		DepartureDate:  departure,
		ArrivalDate:    arrival,
		PreTravelDate:  departure.AddDays(-travelWindowDays),
		PostTravelDate: arrival.AddDays(travelWindowDays),
		Origin:         placeName(first.Origin),
		Destination:    placeName(last.Destination),
	}
	if p := raw.ConfirmedPrice; p != nil {
		facts.TotalPrice = float64(p.Amount) / math.Pow10(p.Scale)
		if p.Currency != "" {
			facts.Currency = p.Currency
		}
	}

	return &model.CanonicalBooking{
		Customer: t.customer(raw.Purchaser),
		Booking:  facts,
	}, nil
}

func (t *Transformer) customer(p *model.Purchaser) model.Customer {
	if p == nil || p.Detail == nil {
		return model.Customer{}
	}
	d := p.Detail
	return model.Customer{
		Email:     t.clean(d.Email),
		FirstName: t.clean(d.FirstName),
		LastName:  t.clean(d.LastName),
		Phone:     t.clean(d.Phone),
	}
}

func (t *Transformer) clean(s string) string {
	if t.sanitizer == nil {
		return s
	}
	return t.sanitizer.Sanitize(s)
}

func inferStatus(p *model.ConfirmedPrice) model.BookingStatus {
	if p != nil && p.Amount > 0 {
		return model.StatusConfirmed
	}
	return model.StatusPending
}

func placeName(p *model.Place) string {
	if p == nil || p.StopPlaceRef == "" {
		return UnknownPlace
	}
	return p.StopPlaceRef
}
