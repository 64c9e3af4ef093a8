package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClient_CreateOrder(t *testing.T) {
	t.Run("successful order creation", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/orders", r.URL.Path)
			assert.Equal(t, http.MethodPost, r.Method)

			user, pass, ok := r.BasicAuth()
			assert.True(t, ok)
			assert.Equal(t, "key_test", user)
			assert.Equal(t, "secret_test", pass)

			var req map[string]any
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, float64(1500000), req["amount"])
			assert.Equal(t, "INR", req["currency"])

			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]string{"id": "order_abc123"})
		}))
		defer server.Close()

		client := NewClient(Config{BaseURL: server.URL, KeyID: "key_test", KeySecret: "secret_test"})

		orderID, err := client.CreateOrder(context.Background(), "acct-1", 1500000, "INR")
		assert.NoError(t, err)
		assert.Equal(t, "order_abc123", orderID)
	})

	t.Run("retries transient server errors", func(t *testing.T) {
		var calls int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&calls, 1) == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			json.NewEncoder(w).Encode(map[string]string{"id": "order_retry"})
		}))
		defer server.Close()

		client := NewClient(Config{BaseURL: server.URL, KeyID: "k", KeySecret: "s", MaxRetries: 2})

		orderID, err := client.CreateOrder(context.Background(), "acct-1", 500, "INR")
		assert.NoError(t, err)
		assert.Equal(t, "order_retry", orderID)
		assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	})

	t.Run("client errors are not retried", func(t *testing.T) {
		var calls int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusBadRequest)
		}))
		defer server.Close()

		client := NewClient(Config{BaseURL: server.URL, KeyID: "k", KeySecret: "s", MaxRetries: 3})

		_, err := client.CreateOrder(context.Background(), "acct-1", 500, "INR")
		assert.Error(t, err)
		assert.NotErrorIs(t, err, ErrGatewayUnavailable)
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})

	t.Run("unreachable gateway surfaces ErrGatewayUnavailable", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		server.Close()

		client := NewClient(Config{BaseURL: server.URL, KeyID: "k", KeySecret: "s", MaxRetries: 1})

		_, err := client.CreateOrder(context.Background(), "acct-1", 500, "INR")
		assert.ErrorIs(t, err, ErrGatewayUnavailable)
	})

	t.Run("non-positive amount rejected without a request", func(t *testing.T) {
		client := NewClient(Config{BaseURL: "http://127.0.0.1:0", KeyID: "k", KeySecret: "s"})

		_, err := client.CreateOrder(context.Background(), "acct-1", 0, "INR")
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})
}

func TestClient_VerifyPayment(t *testing.T) {
	client := NewClient(Config{BaseURL: "http://localhost", KeyID: "k", KeySecret: "secret_test"})

	sign := func(orderID, paymentID string) string {
		h := hmac.New(sha256.New, []byte("secret_test"))
		h.Write([]byte(orderID + "|" + paymentID))
		return hex.EncodeToString(h.Sum(nil))
	}

	t.Run("valid signature", func(t *testing.T) {
		assert.True(t, client.VerifyPayment("order_1", "pay_1", sign("order_1", "pay_1")))
	})

	t.Run("signature for a different order", func(t *testing.T) {
		assert.False(t, client.VerifyPayment("order_2", "pay_1", sign("order_1", "pay_1")))
	})

	t.Run("tampered signature", func(t *testing.T) {
		assert.False(t, client.VerifyPayment("order_1", "pay_1", "deadbeef"))
	})

	t.Run("empty signature", func(t *testing.T) {
		assert.False(t, client.VerifyPayment("order_1", "pay_1", ""))
	})
}

func TestClient_PaymentLink(t *testing.T) {
	t.Run("uses dedicated checkout base when set", func(t *testing.T) {
		client := NewClient(Config{BaseURL: "https://api.example.com", CheckoutBaseURL: "https://pay.example.com"})
		assert.Equal(t, "https://pay.example.com/checkout/order_1", client.PaymentLink("order_1"))
	})

	t.Run("falls back to the API base", func(t *testing.T) {
		client := NewClient(Config{BaseURL: "https://api.example.com"})
		assert.Equal(t, "https://api.example.com/checkout/order_1", client.PaymentLink("order_1"))
	})
}
