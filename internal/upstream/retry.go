package upstream

import (
	"net/http"
	"strconv"
	"time"
)

// StatusClass はHTTPステータスコードに基づく呼び出し結果の分類。
type StatusClass int

const (
	// StatusOK は成功（2xx）。
	StatusOK StatusClass = iota
	// StatusStop は再試行しても結果が変わらないステータス（429以外の4xx）。
	StatusStop
	// StatusBackoff は待機後の再試行が有効なステータス（429/5xx）。
	StatusBackoff
	// StatusUnknown は1xx/3xxなど想定外のステータス。
	StatusUnknown
)

// ClassifyHTTPStatus はHTTPステータスコードを呼び出し結果に分類する。
func ClassifyHTTPStatus(statusCode int) StatusClass {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return StatusOK
	case statusCode == http.StatusTooManyRequests:
		return StatusBackoff
	case statusCode >= 400 && statusCode < 500:
		return StatusStop
	case statusCode >= 500:
		return StatusBackoff
	default:
		return StatusUnknown
	}
}

// CalculateBackoff は再試行回数に基づいて指数バックオフ遅延を計算する。
// attempt=0でbase、以降2倍ずつ増加し、maxで頭打ちになる。
func CalculateBackoff(attempt int, base, max time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if max > 0 && delay > max {
		return max
	}
	return delay
}

// retryAfter はRetry-Afterヘッダー（秒数表記のみ）を解釈する。
// 解釈できない場合は0を返す。
func retryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
