// Package crm はBrevo APIのクライアントを提供する。
// 連絡先のUPSERT、イベント送信、接続確認用のアカウント取得を含む。
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/nicolas-growmodo/twiliner-integration/internal/upstream"
)

// ErrMissingAPIKey はBREVO_API_KEYが未設定であることを表す。
var ErrMissingAPIKey = errors.New("brevo api key is not configured")

// HTTPDoer は上流API呼び出しのインターフェース。
type HTTPDoer interface {
	Do(ctx context.Context, build upstream.RequestBuilder) (*upstream.Response, error)
}

// ContactRequest は連絡先UPSERTのリクエスト本文。
type ContactRequest struct {
	Email         string            `json:"email"`
	Attributes    ContactAttributes `json:"attributes"`
	UpdateEnabled bool              `json:"updateEnabled"`
}

// ContactAttributes はBrevoの連絡先属性。
type ContactAttributes struct {
	FirstName      string `json:"FIRSTNAME"`
	LastName       string `json:"LASTNAME"`
	SMS            string `json:"SMS"`
	BookingRef     string `json:"BOOKING_REF"`
	DepartureDate  string `json:"DEPARTURE_DATE"`
	ArrivalDate    string `json:"ARRIVAL_DATE"`
	PreTravelDate  string `json:"PRE_TRAVEL_DATE"`
	PostTravelDate string `json:"POST_TRAVEL_DATE"`
	PaymentStatus  string `json:"PAYMENT_STATUS"`
}

// ContactResult は連絡先UPSERTの結果。既存連絡先の更新時はIDが0になる。
type ContactResult struct {
	ID int64 `json:"id"`
}

// EventRequest はイベント送信のリクエスト本文。
type EventRequest struct {
	EventName       string           `json:"event_name"`
	Identifiers     EventIdentifiers `json:"identifiers"`
	EventProperties EventProperties  `json:"event_properties"`
}

// EventIdentifiers はイベントの対象となる連絡先の識別子。
type EventIdentifiers struct {
	EmailID string `json:"email_id"`
}

// EventProperties はカゴ落ちイベントの属性。
type EventProperties struct {
	ID            string  `json:"id"`
	Price         float64 `json:"price"`
	Currency      string  `json:"currency"`
	Status        string  `json:"status"`
	DepartureDate string  `json:"departure_date"`
	Origin        string  `json:"origin"`
	Destination   string  `json:"destination"`
}

// Account はBrevoアカウントの概要。
type Account struct {
	Email       string `json:"email"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	CompanyName string `json:"companyName"`
}

// Client はBrevo APIのクライアント。
type Client struct {
	baseURL string
	apiKey  string
	doer    HTTPDoer
	logger  *slog.Logger
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(baseURL, apiKey string, doer HTTPDoer, logger *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		doer:    doer,
		logger:  logger,
	}
}

// UpsertContact は連絡先を作成し、既に存在する場合は属性を更新する。
func (c *Client) UpsertContact(ctx context.Context, req ContactRequest) (*ContactResult, error) {
	resp, err := c.call(ctx, http.MethodPost, "/contacts", req)
	if err != nil {
		c.logFailure("Brevoへの連絡先同期に失敗しました", resp, err)
		return nil, fmt.Errorf("brevo contact upsert: %w", err)
	}

	result := &ContactResult{}
	// 更新時は204で本文なし
	if len(bytes.TrimSpace(resp.Body)) > 0 {
		if err := json.Unmarshal(resp.Body, result); err != nil {
			c.logger.Warn("連絡先同期のレスポンスのパースに失敗しました",
				slog.String("error", err.Error()),
			)
		}
	}

	c.logger.Info("Brevoに連絡先を同期しました",
		slog.Int64("contact_id", result.ID),
		slog.Int("http_status", resp.StatusCode),
	)
	return result, nil
}

// TrackEvent はイベントを送信する。
func (c *Client) TrackEvent(ctx context.Context, req EventRequest) error {
	resp, err := c.call(ctx, http.MethodPost, "/events", req)
	if err != nil {
		c.logFailure("Brevoへのイベント送信に失敗しました", resp, err)
		return fmt.Errorf("brevo track event: %w", err)
	}

	c.logger.Info("Brevoにイベントを送信しました",
		slog.String("event_name", req.EventName),
		slog.Int("http_status", resp.StatusCode),
	)
	return nil
}

// Account はAPIキーに紐づくアカウント情報を取得する。接続確認に使用する。
func (c *Client) Account(ctx context.Context) (*Account, error) {
	resp, err := c.call(ctx, http.MethodGet, "/account", nil)
	if err != nil {
		c.logFailure("Brevoアカウント情報の取得に失敗しました", resp, err)
		return nil, fmt.Errorf("brevo account: %w", err)
	}

	var account Account
	if err := json.Unmarshal(resp.Body, &account); err != nil {
		return nil, fmt.Errorf("brevo account: decode response: %w", err)
	}
	return &account, nil
}

// call はAPIキーと共通ヘッダーを付与してリクエストを実行する。
func (c *Client) call(ctx context.Context, method, path string, payload any) (*upstream.Response, error) {
	if c.apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
	}

	return c.doer.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("accept", "application/json")
		req.Header.Set("content-type", "application/json")
		req.Header.Set("api-key", c.apiKey)
		return req, nil
	})
}

func (c *Client) logFailure(msg string, resp *upstream.Response, err error) {
	attrs := []any{slog.String("error", err.Error())}
	if resp != nil {
		attrs = append(attrs,
			slog.Int("http_status", resp.StatusCode),
			slog.String("response_body", string(resp.Body)),
		)
	}
	c.logger.Error(msg, attrs...)
}
