// Package model はドメインモデルを定義する。
package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// BookingSummary は予約検索APIが返す軽量な参照。
// 詳細取得のための識別子のみを保持する。
type BookingSummary struct {
	ID        string `json:"id"`
	BookingID string `json:"bookingId,omitempty"`
}

// Identifier は詳細取得に使用する予約IDを返す。
// idが空の場合はbookingIdにフォールバックする。
func (s BookingSummary) Identifier() string {
	if s.ID != "" {
		return s.ID
	}
	return s.BookingID
}

// RawBooking はプロバイダーが返す予約オブジェクトそのもの。
// 詳細取得APIとWebhookの両方でこの形に正規化してからTransformerに渡す。
type RawBooking struct {
	ID             string          `json:"id"`
	Purchaser      *Purchaser      `json:"purchaser,omitempty"`
	TripSummaries  []TripSummary   `json:"tripSummaries"`
	ConfirmedPrice *ConfirmedPrice `json:"confirmedPrice,omitempty"`
}

// Purchaser は購入者情報。
type Purchaser struct {
	Detail *PurchaserDetail `json:"detail,omitempty"`
}

// PurchaserDetail は購入者の連絡先情報。
type PurchaserDetail struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Phone     string `json:"phone,omitempty"`
}

// TripSummary は予約に含まれる1区間（レグ）。
type TripSummary struct {
	StartTime   time.Time `json:"startTime"`
	EndTime     time.Time `json:"endTime"`
	Origin      *Place    `json:"origin,omitempty"`
	Destination *Place    `json:"destination,omitempty"`
}

// timestampLayouts はプロバイダーの時刻として受け付ける形式。
// タイムゾーンのない時刻はUTCとして扱う。
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseTimestamp はプロバイダーの時刻文字列を解釈する。空文字はゼロ値を返す。
func ParseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("時刻のパースに失敗しました: %q", s)
}

// UnmarshalJSON はstartTime・endTimeをParseTimestampで解釈する。
func (s *TripSummary) UnmarshalJSON(data []byte) error {
	type plain TripSummary
	var aux struct {
		plain
		StartTime string `json:"startTime"`
		EndTime   string `json:"endTime"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	start, err := ParseTimestamp(aux.StartTime)
	if err != nil {
		return fmt.Errorf("startTime: %w", err)
	}
	end, err := ParseTimestamp(aux.EndTime)
	if err != nil {
		return fmt.Errorf("endTime: %w", err)
	}

	*s = TripSummary(aux.plain)
	s.StartTime = start
	s.EndTime = end
	return nil
}

// Place は停留所の参照。
type Place struct {
	StopPlaceRef string `json:"stopPlaceRef"`
}

// ConfirmedPrice は確定金額。
// 実際の金額は Amount / 10^Scale で表される。
type ConfirmedPrice struct {
	Amount   int64  `json:"amount"`
	Scale    int    `json:"scale"`
	Currency string `json:"currency"`
}

// BookingStatus は正規化後の予約ステータス。
type BookingStatus string

const (
	// StatusConfirmed は確定済みの予約。
	StatusConfirmed BookingStatus = "confirmed"
	// StatusPending は未確定の予約（カゴ落ちとして扱う）。
	StatusPending BookingStatus = "pending"
	// StatusFailed は失敗した予約。Transformerは生成しないが配信ルーティングでは扱う。
	StatusFailed BookingStatus = "failed"
)

// Customer は正規化後の顧客情報。
type Customer struct {
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Phone     string `json:"phone"`
}

// BookingFacts は正規化後の予約情報。
type BookingFacts struct {
	Reference      string        `json:"reference"`
	Status         BookingStatus `json:"status"`
	TotalPrice     float64       `json:"totalPrice"`
	Currency       string        `json:"currency"`
	DepartureDate  Date          `json:"departureDate"`
	ArrivalDate    Date          `json:"arrivalDate"`
	PreTravelDate  Date          `json:"preTravelDate"`
	PostTravelDate Date          `json:"postTravelDate"`
	Origin         string        `json:"origin"`
	Destination    string        `json:"destination"`
}

// CanonicalBooking はプロバイダー非依存の正規化済み予約。
// Transformerが予約ごとに生成し、生成後は変更しない。
type CanonicalBooking struct {
	Customer Customer     `json:"customer"`
	Booking  BookingFacts `json:"booking"`
}
