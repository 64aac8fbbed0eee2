package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/nicolas-growmodo/twiliner-integration/internal/model"
	"github.com/nicolas-growmodo/twiliner-integration/internal/upstream"
)

// searchTimeFormat はpurchaseDateRangeに渡すISO 8601形式（ミリ秒、UTC）。
const searchTimeFormat = "2006-01-02T15:04:05.000Z07:00"

var (
	// ErrNotConfigured はTURNIT_API_URLが未設定であることを表す。
	ErrNotConfigured = errors.New("provider api url is not configured")
	// ErrMalformedResponse はレスポンスJSONを解釈できなかったことを表す。
	ErrMalformedResponse = errors.New("provider returned a malformed response")
	// ErrMissingBookingID は詳細取得に予約IDが指定されなかったことを表す。
	ErrMissingBookingID = errors.New("booking id is empty")
	// ErrMissingReservation は詳細レスポンスにreservationが含まれないことを表す。
	ErrMissingReservation = errors.New("response has no reservation object")
)

// TokenSource はBearerトークンの取得インターフェース。
type TokenSource interface {
	Token(ctx context.Context) (Credential, error)
}

// HTTPDoer は上流API呼び出しのインターフェース。
type HTTPDoer interface {
	Do(ctx context.Context, build upstream.RequestBuilder) (*upstream.Response, error)
}

// ClientConfig はClientの設定。
type ClientConfig struct {
	BaseURL     string
	POSID       int
	SearchLimit int
}

// Client はTurnit予約APIのクライアント。
// 失敗は呼び出し元にエラーとして返さず、ログに記録したうえでOutcomeのFailedとして返す。
type Client struct {
	baseURL     string
	posID       int
	searchLimit int
	tokens      TokenSource
	doer        HTTPDoer
	logger      *slog.Logger
	now         func() time.Time
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(cfg ClientConfig, tokens TokenSource, doer HTTPDoer, logger *slog.Logger) *Client {
	if cfg.SearchLimit <= 0 {
		cfg.SearchLimit = 100
	}
	return &Client{
		baseURL:     cfg.BaseURL,
		posID:       cfg.POSID,
		searchLimit: cfg.SearchLimit,
		tokens:      tokens,
		doer:        doer,
		logger:      logger,
		now:         time.Now,
	}
}

type searchRequest struct {
	PurchaseDateRange purchaseDateRange `json:"purchaseDateRange"`
	Parameters        searchParameters  `json:"parameters"`
}

type purchaseDateRange struct {
	StartTime string `json:"startTime"`
	EndDate   string `json:"endDate"`
}

type searchParameters struct {
	NumberOfResults int `json:"numberOfResults"`
}

type searchResponse struct {
	BookingSearchResults []model.BookingSummary `json:"bookingSearchResults"`
}

// SearchSince はsince以降に購入された予約の一覧を1ページ分取得する。
// 結果が0件の場合はEmptyを返す。
func (c *Client) SearchSince(ctx context.Context, since time.Time) model.Outcome[[]model.BookingSummary] {
	if c.baseURL == "" {
		c.logger.Warn("TURNIT_API_URLが未設定のため予約検索をスキップします")
		return model.Failed[[]model.BookingSummary](ErrNotConfigured)
	}

	payload, err := json.Marshal(searchRequest{
		PurchaseDateRange: purchaseDateRange{
			StartTime: since.UTC().Format(searchTimeFormat),
			EndDate:   c.now().UTC().Format(searchTimeFormat),
		},
		Parameters: searchParameters{NumberOfResults: c.searchLimit},
	})
	if err != nil {
		return model.Failed[[]model.BookingSummary](fmt.Errorf("encode search request: %w", err))
	}

	resp, err := c.call(ctx, http.MethodPost, c.baseURL+"/bookings-search", payload)
	if err != nil {
		c.logFailure("予約検索に失敗しました", resp, err, slog.Time("since", since))
		return model.Failed[[]model.BookingSummary](err)
	}

	var result searchResponse
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		c.logger.Error("予約検索のレスポンスのパースに失敗しました",
			slog.String("error", err.Error()),
		)
		return model.Failed[[]model.BookingSummary](fmt.Errorf("%w: %w", ErrMalformedResponse, err))
	}

	if len(result.BookingSearchResults) == 0 {
		return model.Empty[[]model.BookingSummary]()
	}
	return model.OK(result.BookingSearchResults)
}

// GetDetails は予約1件の詳細を取得する。
// レスポンスは {"reservation": {...}} で包まれている必要があり、それ以外はFailedを返す。
func (c *Client) GetDetails(ctx context.Context, bookingID string) model.Outcome[*model.RawBooking] {
	if c.baseURL == "" {
		return model.Failed[*model.RawBooking](ErrNotConfigured)
	}
	if bookingID == "" {
		return model.Failed[*model.RawBooking](ErrMissingBookingID)
	}

	c.logger.Debug("予約詳細を取得します", slog.String("booking_id", bookingID))

	resp, err := c.call(ctx, http.MethodGet, c.baseURL+"/bookings/"+url.PathEscape(bookingID), nil)
	if err != nil {
		c.logFailure("予約詳細の取得に失敗しました", resp, err, slog.String("booking_id", bookingID))
		return model.Failed[*model.RawBooking](err)
	}

	raw, err := decodeBooking(resp.Body)
	if err != nil {
		c.logger.Error("予約詳細のレスポンスのパースに失敗しました",
			slog.String("booking_id", bookingID),
			slog.String("error", err.Error()),
		)
		return model.Failed[*model.RawBooking](fmt.Errorf("%w: %w", ErrMalformedResponse, err))
	}
	if raw.ID == "" {
		raw.ID = bookingID
	}

	return model.OK(raw)
}

// call はトークンを取得し、共通ヘッダーを付与してリクエストを実行する。
func (c *Client) call(ctx context.Context, method, endpoint string, body []byte) (*upstream.Response, error) {
	cred, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := c.doer.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Content-Type", "application/json")
		if c.posID > 0 {
			req.Header.Set("Requestor", EncodeRequestor(c.posID))
		}
		return req, nil
	})

	// 401は失効したトークンを捨てて次回の呼び出しで再取得させる
	var se *upstream.StatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusUnauthorized {
		if inv, ok := c.tokens.(interface{ Invalidate() }); ok {
			inv.Invalidate()
		}
	}
	return resp, err
}

// logFailure は上流呼び出しの失敗を、レスポンス本文があれば併せて記録する。
func (c *Client) logFailure(msg string, resp *upstream.Response, err error, attrs ...any) {
	attrs = append(attrs, slog.String("error", err.Error()))
	if resp != nil {
		attrs = append(attrs,
			slog.Int("http_status", resp.StatusCode),
			slog.String("response_body", truncate(string(resp.Body), 512)),
		)
	}
	c.logger.Error(msg, attrs...)
}

// decodeBooking は詳細レスポンスをRawBookingに変換する。
// 受け付けるのは {"reservation": {...}} の形式のみで、reservationがない・nullの場合はエラーを返す。
func decodeBooking(body []byte) (*model.RawBooking, error) {
	var envelope struct {
		Reservation *model.RawBooking `json:"reservation"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, err
	}
	if envelope.Reservation == nil {
		return nil, ErrMissingReservation
	}
	return envelope.Reservation, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
