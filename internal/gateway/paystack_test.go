package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaystackClient_Initialize(t *testing.T) {
	t.Run("successful initialization", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/transaction/initialize", r.URL.Path)
			assert.Equal(t, "Bearer sk_test_abc", r.Header.Get("Authorization"))

			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "rider@example.com", body["email"])
			assert.Equal(t, float64(10000), body["amount"])
			assert.Equal(t, "ZAR", body["currency"])
			meta := body["metadata"].(map[string]any)
			assert.Equal(t, "CARD-ABCD1234", meta["card_id"])

			json.NewEncoder(w).Encode(map[string]any{
				"status": true,
				"data": map[string]any{
					"authorization_url": "https://checkout.paystack.com/xyz",
					"access_code":       "xyz",
					"reference":         "ref-001",
				},
			})
		}))
		defer srv.Close()

		client := NewPaystackClientWith(srv.URL, "sk_test_abc", srv.Client())
		data, err := client.Initialize(context.Background(), InitializeRequest{
			Email:       "rider@example.com",
			Amount:      10000,
			Currency:    "ZAR",
			CardID:      "CARD-ABCD1234",
			CallbackURL: "https://transit.example.com/api/v1/payments/callback",
		})
		require.NoError(t, err)
		assert.Equal(t, "https://checkout.paystack.com/xyz", data.AuthorizationURL)
		assert.Equal(t, "ref-001", data.Reference)
	})

	t.Run("non-200 response", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		client := NewPaystackClientWith(srv.URL, "sk_test_abc", srv.Client())
		_, err := client.Initialize(context.Background(), InitializeRequest{})
		assert.Error(t, err)
	})

	t.Run("malformed response", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{"status": true, "data": map[string]any{}})
		}))
		defer srv.Close()

		client := NewPaystackClientWith(srv.URL, "sk_test_abc", srv.Client())
		_, err := client.Initialize(context.Background(), InitializeRequest{})
		assert.Error(t, err)
	})
}

func TestPaystackClient_Verify(t *testing.T) {
	t.Run("successful verification", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodGet, r.Method)
			assert.Equal(t, "/transaction/verify/ref-001", r.URL.Path)

			json.NewEncoder(w).Encode(map[string]any{
				"status": true,
				"data": map[string]any{
					"status":   "success",
					"currency": "ZAR",
					"amount":   10000,
					"paid_at":  "2024-06-01T10:00:00Z",
					"metadata": map[string]any{"card_id": "CARD-ABCD1234"},
				},
			})
		}))
		defer srv.Close()

		client := NewPaystackClientWith(srv.URL, "sk_test_abc", srv.Client())
		data, err := client.Verify(context.Background(), "ref-001")
		require.NoError(t, err)
		assert.Equal(t, "success", data.Status)
		assert.Equal(t, "ZAR", data.Currency)
		assert.Equal(t, int64(10000), data.Amount)
		assert.Equal(t, "CARD-ABCD1234", data.CardID)
	})

	t.Run("gateway error status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		client := NewPaystackClientWith(srv.URL, "sk_test_abc", srv.Client())
		_, err := client.Verify(context.Background(), "no-such-ref")
		assert.Error(t, err)
	})

	t.Run("network failure", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		srv.Close() // closed before the call

		client := NewPaystackClientWith(srv.URL, "sk_test_abc", nil)
		_, err := client.Verify(context.Background(), "ref-001")
		assert.Error(t, err)
	})
}
