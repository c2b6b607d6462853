package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/viper"
)

// InitializeRequest starts a hosted checkout for a wallet topup. Amount is
// in minor units (cents). CardID travels in the transaction metadata and
// comes back on verification.
type InitializeRequest struct {
	Email       string
	Amount      int64
	Currency    string
	CardID      string
	CallbackURL string
}

// InitializeData is the subset of the initialize response the topup flow
// needs.
type InitializeData struct {
	AuthorizationURL string
	AccessCode       string
	Reference        string
}

// VerifyData is the gateway's view of a transaction, fetched server-to-server.
type VerifyData struct {
	Reference string
	Status    string
	Currency  string
	Amount    int64 // minor units
	CardID    string
	PaidAt    string
}

// Client is the payment gateway contract consumed by the topup and
// reconciliation flows.
type Client interface {
	Initialize(ctx context.Context, req InitializeRequest) (*InitializeData, error)
	Verify(ctx context.Context, reference string) (*VerifyData, error)
}

// PaystackClient talks to the Paystack REST API.
type PaystackClient struct {
	baseURL   string
	secretKey string
	client    *http.Client
}

// NewPaystackClient builds a client from viper config. Gateway calls are
// the only blocking network I/O in the fare engine, so they carry a
// bounded timeout.
func NewPaystackClient() *PaystackClient {
	viper.SetDefault("gateway.base_url", "https://api.paystack.co")
	viper.SetDefault("gateway.timeout", 30*time.Second)

	return &PaystackClient{
		baseURL:   viper.GetString("gateway.base_url"),
		secretKey: viper.GetString("gateway.secret_key"),
		client:    &http.Client{Timeout: viper.GetDuration("gateway.timeout")},
	}
}

// NewPaystackClientWith is used by tests to point at a stub server.
func NewPaystackClientWith(baseURL, secretKey string, client *http.Client) *PaystackClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &PaystackClient{baseURL: baseURL, secretKey: secretKey, client: client}
}

func (c *PaystackClient) Initialize(ctx context.Context, req InitializeRequest) (*InitializeData, error) {
	body := map[string]any{
		"email":        req.Email,
		"amount":       req.Amount,
		"currency":     req.Currency,
		"metadata":     map[string]string{"card_id": req.CardID},
		"callback_url": req.CallbackURL,
	}
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transaction/initialize", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.secretKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("initialize returned status %d", resp.StatusCode)
	}

	var out struct {
		Status bool `json:"status"`
		Data   struct {
			AuthorizationURL string `json:"authorization_url"`
			AccessCode       string `json:"access_code"`
			Reference        string `json:"reference"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	if out.Data.AuthorizationURL == "" || out.Data.Reference == "" {
		return nil, fmt.Errorf("initialize response malformed")
	}

	return &InitializeData{
		AuthorizationURL: out.Data.AuthorizationURL,
		AccessCode:       out.Data.AccessCode,
		Reference:        out.Data.Reference,
	}, nil
}

func (c *PaystackClient) Verify(ctx context.Context, reference string) (*VerifyData, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/transaction/verify/"+reference, nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.secretKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("verify returned status %d", resp.StatusCode)
	}

	var out struct {
		Status bool `json:"status"`
		Data   struct {
			Status   string `json:"status"`
			Currency string `json:"currency"`
			Amount   int64  `json:"amount"`
			PaidAt   string `json:"paid_at"`
			Metadata struct {
				CardID string `json:"card_id"`
			} `json:"metadata"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}

	return &VerifyData{
		Reference: reference,
		Status:    out.Data.Status,
		Currency:  out.Data.Currency,
		Amount:    out.Data.Amount,
		CardID:    out.Data.Metadata.CardID,
		PaidAt:    out.Data.PaidAt,
	}, nil
}
