// Package gateway talks to the external payment gateway: order creation over
// its REST API and offline verification of completed payments.
package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
)

var (
	// ErrGatewayUnavailable wraps network and 5xx failures. No local state has
	// changed when it is returned; the caller may retry.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	// ErrInvalidAmount rejects non-positive order amounts before any gateway call.
	ErrInvalidAmount = errors.New("order amount must be positive")
)

// Config carries the gateway credentials and endpoints.
type Config struct {
	BaseURL         string
	CheckoutBaseURL string
	KeyID           string
	KeySecret       string
	Timeout         time.Duration
	MaxRetries      uint64
}

// Client is the payment gateway adapter. It never touches the ledger.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.CheckoutBaseURL == "" {
		cfg.CheckoutBaseURL = cfg.BaseURL
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

type orderRequest struct {
	Amount   int64             `json:"amount"` // minor units (paise/cents)
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

type orderResponse struct {
	ID string `json:"id"`
}

// CreateOrder registers a payment order with the gateway and returns the
// gateway-assigned order id. Network and 5xx failures are retried with
// backoff before surfacing ErrGatewayUnavailable.
func (c *Client) CreateOrder(ctx context.Context, accountID string, amountMinorUnits int64, currency string) (string, error) {
	if amountMinorUnits <= 0 {
		return "", ErrInvalidAmount
	}

	body, err := json.Marshal(orderRequest{
		Amount:   amountMinorUnits,
		Currency: currency,
		Receipt:  "rcpt_" + uuid.NewString(),
		Notes:    map[string]string{"account_id": accountID},
	})
	if err != nil {
		return "", err
	}

	var orderID string
	backoff := retry.WithMaxRetries(c.cfg.MaxRetries, retry.NewFibonacci(200*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/orders", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.SetBasicAuth(c.cfg.KeyID, c.cfg.KeySecret)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			log.Printf("[GATEWAY] Order request failed: %v", err)
			return retry.RetryableError(fmt.Errorf("%w: %v", ErrGatewayUnavailable, err))
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			log.Printf("[GATEWAY] Gateway returned status %d", resp.StatusCode)
			return retry.RetryableError(fmt.Errorf("%w: status %d", ErrGatewayUnavailable, resp.StatusCode))
		}
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
			return fmt.Errorf("gateway rejected order: status %d", resp.StatusCode)
		}

		var order orderResponse
		if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
			return fmt.Errorf("decoding gateway response: %w", err)
		}
		if order.ID == "" {
			return errors.New("gateway response missing order id")
		}
		orderID = order.ID
		return nil
	})
	if err != nil {
		return "", err
	}

	log.Printf("[GATEWAY] Created order %s for account %s (%d %s)", orderID, accountID, amountMinorUnits, currency)
	return orderID, nil
}

// VerifyPayment checks the gateway's payment signature: HMAC-SHA256 over
// "orderID|paymentID" with the key secret, hex-encoded. A mismatch is an
// expected outcome (false), never an error. Pure; no I/O.
func (c *Client) VerifyPayment(orderID, paymentID, signature string) bool {
	h := hmac.New(sha256.New, []byte(c.cfg.KeySecret))
	h.Write([]byte(orderID + "|" + paymentID))
	expected := hex.EncodeToString(h.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// PaymentLink returns the gateway-hosted checkout URL for an order. The UI
// renders it as a link and a UPI-style QR code.
func (c *Client) PaymentLink(orderID string) string {
	return fmt.Sprintf("%s/checkout/%s", c.cfg.CheckoutBaseURL, orderID)
}
