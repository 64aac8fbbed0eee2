package model

// OutcomeKind は外部呼び出し結果の分類。
type OutcomeKind int

const (
	// OutcomeOK は値を取得できたことを示す。
	OutcomeOK OutcomeKind = iota
	// OutcomeEmpty は呼び出しは成功したが対象が存在しないことを示す。
	OutcomeEmpty
	// OutcomeFailed は呼び出しが失敗したことを示す。
	OutcomeFailed
)

// String はログ出力用の名前を返す。
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeOK:
		return "ok"
	case OutcomeEmpty:
		return "empty"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome は ok(value) | empty | failed(reason) のいずれかを表す結果型。
// 呼び出し元が継続か中断かを明示的に判断できるようにする。
type Outcome[T any] struct {
	kind  OutcomeKind
	value T
	err   error
}

// OK は値を持つ成功結果を返す。
func OK[T any](v T) Outcome[T] {
	return Outcome[T]{kind: OutcomeOK, value: v}
}

// Empty は対象なしの成功結果を返す。
func Empty[T any]() Outcome[T] {
	return Outcome[T]{kind: OutcomeEmpty}
}

// Failed は失敗理由を持つ結果を返す。
func Failed[T any](err error) Outcome[T] {
	return Outcome[T]{kind: OutcomeFailed, err: err}
}

// Kind は結果の分類を返す。
func (o Outcome[T]) Kind() OutcomeKind { return o.kind }

// Value は成功時の値を返す。OK以外ではゼロ値。
func (o Outcome[T]) Value() T { return o.value }

// Err は失敗理由を返す。Failed以外ではnil。
func (o Outcome[T]) Err() error { return o.err }

// IsOK は値を持つ成功結果かどうかを返す。
func (o Outcome[T]) IsOK() bool { return o.kind == OutcomeOK }

// IsEmpty は対象なしの成功結果かどうかを返す。
func (o Outcome[T]) IsEmpty() bool { return o.kind == OutcomeEmpty }

// IsFailed は失敗結果かどうかを返す。
func (o Outcome[T]) IsFailed() bool { return o.kind == OutcomeFailed }
