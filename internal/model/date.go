package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// dateLayout は暦日の文字列表現（YYYY-MM-DD）。
const dateLayout = "2006-01-02"

// Date は時刻成分を持たないUTCの暦日。
// ゼロ値は「日付なし」を表し、空文字列として出力される。
type Date struct {
	t time.Time
}

// DateOf は時刻をUTCに変換し、日付部分のみを取り出す。
func DateOf(t time.Time) Date {
	u := t.UTC()
	return Date{t: time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)}
}

// ParseDate はYYYY-MM-DD形式の文字列をDateに変換する。
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("日付のパースに失敗しました: %w", err)
	}
	return Date{t: t}, nil
}

// AddDays は日数を加算したDateを返す。月末・年末の繰り上がりはtime.AddDateに従う。
func (d Date) AddDays(days int) Date {
	if d.IsZero() {
		return d
	}
	return Date{t: d.t.AddDate(0, 0, days)}
}

// IsZero は日付が未設定かどうかを返す。
func (d Date) IsZero() bool {
	return d.t.IsZero()
}

// Time はUTCの0時0分を返す。
func (d Date) Time() time.Time {
	return d.t
}

// String はYYYY-MM-DD形式の文字列を返す。
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.t.Format(dateLayout)
}

// MarshalJSON はDateをYYYY-MM-DD形式のJSON文字列に変換する。
func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON はYYYY-MM-DD形式のJSON文字列をDateに変換する。
func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
