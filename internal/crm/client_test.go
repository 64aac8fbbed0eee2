package crm

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicolas-growmodo/twiliner-integration/internal/upstream"
)

func newTestClient(t *testing.T, apiKey string, handler http.HandlerFunc) (*Client, *bytes.Buffer) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	doer := upstream.NewDoer(upstream.Config{
		Name:    "brevo",
		Timeout: time.Second,
	}, server.Client(), nil, logger)

	return NewClient(server.URL, apiKey, doer, logger), &buf
}

func TestClient_UpsertContact(t *testing.T) {
	c, buf := newTestClient(t, "xkeysib-test", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/contacts", r.URL.Path)
		assert.Equal(t, "xkeysib-test", r.Header.Get("api-key"))
		assert.Equal(t, "application/json", r.Header.Get("content-type"))
		assert.Equal(t, "application/json", r.Header.Get("accept"))

		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{
			"email": "ada@example.com",
			"attributes": {
				"FIRSTNAME": "Ada",
				"LASTNAME": "Lovelace",
				"SMS": "",
				"BOOKING_REF": "b-1",
				"DEPARTURE_DATE": "2024-03-10",
				"ARRIVAL_DATE": "2024-03-12",
				"PRE_TRAVEL_DATE": "2024-03-07",
				"POST_TRAVEL_DATE": "2024-03-15",
				"PAYMENT_STATUS": "confirmed"
			},
			"updateEnabled": true
		}`, string(body))

		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":42}`))
	})

	result, err := c.UpsertContact(context.Background(), ContactRequest{
		Email: "ada@example.com",
		Attributes: ContactAttributes{
			FirstName:      "Ada",
			LastName:       "Lovelace",
			BookingRef:     "b-1",
			DepartureDate:  "2024-03-10",
			ArrivalDate:    "2024-03-12",
			PreTravelDate:  "2024-03-07",
			PostTravelDate: "2024-03-15",
			PaymentStatus:  "confirmed",
		},
		UpdateEnabled: true,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), result.ID)
	assert.Contains(t, buf.String(), "Brevoに連絡先を同期しました")
}

func TestClient_UpsertContact_UpdatedReturnsNoContent(t *testing.T) {
	c, _ := newTestClient(t, "key", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	result, err := c.UpsertContact(context.Background(), ContactRequest{Email: "ada@example.com"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), result.ID)
}

func TestClient_UpsertContact_BadRequest(t *testing.T) {
	c, buf := newTestClient(t, "key", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":"invalid_parameter","message":"email is not valid"}`))
	})

	_, err := c.UpsertContact(context.Background(), ContactRequest{Email: "bad"})
	require.Error(t, err)

	var se *upstream.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadRequest, se.StatusCode)
	assert.Contains(t, buf.String(), "email is not valid")
}

func TestClient_TrackEvent(t *testing.T) {
	c, _ := newTestClient(t, "key", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/events", r.URL.Path)

		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{
			"event_name": "cart_updated",
			"identifiers": {"email_id": "ada@example.com"},
			"event_properties": {
				"id": "b-2",
				"price": 0,
				"currency": "EUR",
				"status": "pending",
				"departure_date": "2024-03-10",
				"origin": "TLL",
				"destination": "Unknown"
			}
		}`, string(body))

		w.WriteHeader(http.StatusNoContent)
	})

	err := c.TrackEvent(context.Background(), EventRequest{
		EventName:   "cart_updated",
		Identifiers: EventIdentifiers{EmailID: "ada@example.com"},
		EventProperties: EventProperties{
			ID:            "b-2",
			Currency:      "EUR",
			Status:        "pending",
			DepartureDate: "2024-03-10",
			Origin:        "TLL",
			Destination:   "Unknown",
		},
	})
	require.NoError(t, err)
}

func TestClient_Account(t *testing.T) {
	c, _ := newTestClient(t, "key", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/account", r.URL.Path)
		w.Write([]byte(`{"email":"ops@twiliner.example","companyName":"Twiliner","firstName":"Ops"}`))
	})

	account, err := c.Account(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ops@twiliner.example", account.Email)
	assert.Equal(t, "Twiliner", account.CompanyName)
}

func TestClient_Account_Unauthorized(t *testing.T) {
	c, _ := newTestClient(t, "wrong", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"code":"unauthorized","message":"Key not found"}`))
	})

	_, err := c.Account(context.Background())
	var se *upstream.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnauthorized, se.StatusCode)
}

func TestClient_MissingAPIKey(t *testing.T) {
	c, _ := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
		t.Error("API should not be called without an api key")
	})

	_, err := c.Account(context.Background())
	assert.True(t, errors.Is(err, ErrMissingAPIKey))

	err = c.TrackEvent(context.Background(), EventRequest{EventName: "cart_updated"})
	assert.True(t, errors.Is(err, ErrMissingAPIKey))

	_, err = c.UpsertContact(context.Background(), ContactRequest{Email: "ada@example.com"})
	assert.True(t, errors.Is(err, ErrMissingAPIKey))
}
