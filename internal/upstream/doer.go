// Package upstream は外部API呼び出しの共通処理を提供する。
// 呼び出し間隔の制御、試行ごとのタイムアウト、指数バックオフによる再試行、
// サーキットブレーカーを1つのDoerにまとめる。
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/nicolas-growmodo/twiliner-integration/internal/metrics"
)

// maxResponseBytes はレスポンスボディの読み取り上限。
const maxResponseBytes = 10 << 20

// errBuildRequest はリクエストの組み立てに失敗したことを表す。再試行しない。
var errBuildRequest = errors.New("build request")

// Response は読み取り済みのHTTPレスポンス。
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// StatusError は上流APIが2xx以外のステータスを返したことを表す。
type StatusError struct {
	Upstream   string
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d", e.Upstream, e.StatusCode)
}

// Retryable は待機後の再試行で成功する可能性があるかを返す。
func (e *StatusError) Retryable() bool {
	return ClassifyHTTPStatus(e.StatusCode) == StatusBackoff
}

// RequestBuilder は試行ごとにHTTPリクエストを組み立てる関数。
// 渡されるctxには試行単位のタイムアウトが設定されている。
type RequestBuilder func(ctx context.Context) (*http.Request, error)

// Config はDoerの設定。
type Config struct {
	// Name はメトリクスとログに使う上流名（turnit, brevoなど）。
	Name             string
	Timeout          time.Duration
	MaxRetries       int
	BaseBackoff      time.Duration
	MaxBackoff       time.Duration
	MinInterval      time.Duration
	FailureThreshold int
	OpenTimeout      time.Duration
}

// Doer は1つの上流APIに対するHTTP呼び出しを実行する。
// 複数のgoroutineから同時に使用できる。
type Doer struct {
	name        string
	httpClient  *http.Client
	limiter     *rate.Limiter
	breaker     *gobreaker.CircuitBreaker[*Response]
	metrics     metrics.MetricsCollector
	logger      *slog.Logger
	timeout     time.Duration
	maxRetries  int
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

// NewDoer はDoerの新しいインスタンスを生成する。
// collectorがnilの場合はメトリクスを記録しない。
func NewDoer(cfg Config, httpClient *http.Client, collector metrics.MetricsCollector, logger *slog.Logger) *Doer {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	if cfg.Name == "" {
		cfg.Name = "upstream"
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = time.Minute
	}

	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}

	d := &Doer{
		name:        cfg.Name,
		httpClient:  httpClient,
		limiter:     rate.NewLimiter(limit, 1),
		metrics:     collector,
		logger:      logger,
		timeout:     cfg.Timeout,
		maxRetries:  cfg.MaxRetries,
		baseBackoff: cfg.BaseBackoff,
		maxBackoff:  cfg.MaxBackoff,
	}

	threshold := uint32(cfg.FailureThreshold)
	d.breaker = gobreaker.NewCircuitBreaker[*Response](gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			d.logger.Warn("サーキットブレーカーの状態が変化しました",
				slog.String("upstream", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
			d.metrics.RecordBreakerState(name, to.String())
		},
		IsSuccessful: isBreakerSuccess,
	})
	collector.RecordBreakerState(cfg.Name, gobreaker.StateClosed.String())

	return d
}

// Name は上流名を返す。
func (d *Doer) Name() string {
	return d.name
}

// Do はリクエストを実行し、2xxの場合にレスポンスを返す。
// 429/5xxとネットワークエラーは最大MaxRetries回まで再試行する。
// 2xx以外で終了した場合は*StatusErrorを返し、レスポンスも併せて返す。
func (d *Doer) Do(ctx context.Context, build RequestBuilder) (*Response, error) {
	for attempt := 0; ; attempt++ {
		if err := d.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		resp, err := d.breaker.Execute(func() (*Response, error) {
			return d.attempt(ctx, build)
		})
		if err == nil {
			return resp, nil
		}

		if attempt >= d.maxRetries || ctx.Err() != nil || !isRetryable(err) {
			return resp, err
		}

		delay := CalculateBackoff(attempt, d.baseBackoff, d.maxBackoff)
		if resp != nil {
			if ra := retryAfter(resp.Header); ra > delay {
				delay = min(ra, d.maxBackoff)
			}
		}

		d.logger.Warn("上流APIの呼び出しを再試行します",
			slog.String("upstream", d.name),
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)

		if err := sleepContext(ctx, delay); err != nil {
			return resp, err
		}
	}
}

// attempt は1回分のHTTP呼び出しを試行単位のタイムアウト付きで実行する。
func (d *Doer) attempt(ctx context.Context, build RequestBuilder) (*Response, error) {
	attemptCtx := ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	req, err := build(attemptCtx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", d.name, errBuildRequest, err)
	}

	start := time.Now()
	httpResp, err := d.httpClient.Do(req)
	if err != nil {
		d.metrics.RecordUpstreamResponse(d.name, 0, time.Since(start))
		return nil, fmt.Errorf("%s: %w", d.name, err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	d.metrics.RecordUpstreamResponse(d.name, httpResp.StatusCode, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("%s: read body: %w", d.name, err)
	}

	resp := &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       body,
	}

	if ClassifyHTTPStatus(httpResp.StatusCode) != StatusOK {
		return resp, &StatusError{Upstream: d.name, StatusCode: httpResp.StatusCode, Body: body}
	}
	return resp, nil
}

// isRetryable は再試行対象のエラーかどうかを判定する。
func isRetryable(err error) bool {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) ||
		errors.Is(err, errBuildRequest) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	// ネットワークエラーと試行単位のタイムアウト
	return true
}

// isBreakerSuccess はブレーカーの失敗として数えないエラーを判定する。
// 429以外の4xxと呼び出し元のキャンセルは失敗に数えない。
func isBreakerSuccess(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, errBuildRequest) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return !se.Retryable()
	}
	return false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
