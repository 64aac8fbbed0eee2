// Package security は外部から受け取る値の無害化を提供する。
//
// TextSanitizer は予約データの顧客名などプレーンテキストであるべき値から
// HTMLタグを取り除き、CRMにマークアップが送られないようにする。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizerService はプレーンテキスト用サニタイズのインターフェース。
type TextSanitizerService interface {
	// Sanitize は全てのタグを除去し、前後の空白を取り除いた文字列を返す。
	// エスケープされた文字（&amp; など）は元の文字に戻す。
	// 同一入力に対して常に同一出力を返す。
	Sanitize(s string) string
}

// TextSanitizer はbluemondayのStrictPolicyによるTextSanitizerServiceの実装。
// ポリシーは読み取り専用のため、複数のgoroutineから同時に使用できる。
type TextSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerの新しいインスタンスを生成する。
func NewTextSanitizer() *TextSanitizer {
	return &TextSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize は全てのタグを除去したプレーンテキストを返す。
func (s *TextSanitizer) Sanitize(in string) string {
	if in == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(in)))
}
