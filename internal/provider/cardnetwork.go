package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"escrow-engine/internal/config"
	"escrow-engine/internal/domain"

	"github.com/shopspring/decimal"
)

// cardNetworkClient talks to the card provider's hosted-session API. The
// provider only supports polling a session for its payment status, so
// VerifyTransaction is a session lookup.
type cardNetworkClient struct {
	baseURL string
	secret  string
	http    *http.Client
}

func NewCardNetworkClient(creds config.ProviderCredentials) Client {
	return &cardNetworkClient{
		baseURL: creds.BaseURL,
		secret:  creds.SecretKey,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

type cardSessionRequest struct {
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	Reference string `json:"client_reference"`
	ReturnURL string `json:"return_url"`
}

type cardSessionResponse struct {
	ID            string `json:"id"`
	URL           string `json:"url"`
	PaymentStatus string `json:"payment_status"`
	AmountTotal   string `json:"amount_total"`
	Currency      string `json:"currency"`
	Reference     string `json:"client_reference"`
	Error         struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *cardNetworkClient) CreateCheckout(ctx context.Context, amount decimal.Decimal, currency, reference, returnURL string) (*CheckoutSession, error) {
	payload := cardSessionRequest{
		Amount:    amount.StringFixed(2),
		Currency:  currency,
		Reference: reference,
		ReturnURL: returnURL,
	}
	var resp cardSessionResponse
	if err := c.do(ctx, http.MethodPost, "/v1/checkout/sessions", payload, &resp); err != nil {
		return nil, err
	}
	if resp.ID == "" || resp.URL == "" {
		return nil, fmt.Errorf("%w: cardnetwork session missing id or url", domain.ErrProviderRejected)
	}
	return &CheckoutSession{CheckoutURL: resp.URL, ProviderRef: resp.ID}, nil
}

func (c *cardNetworkClient) VerifyTransaction(ctx context.Context, providerTxID string) (*VerifyResult, error) {
	var resp cardSessionResponse
	if err := c.do(ctx, http.MethodGet, "/v1/checkout/sessions/"+providerTxID, nil, &resp); err != nil {
		return nil, err
	}
	amount, err := decimal.NewFromString(resp.AmountTotal)
	if err != nil {
		amount = decimal.Zero
	}
	return &VerifyResult{
		Succeeded: resp.PaymentStatus == "paid",
		Amount:    amount,
		Currency:  resp.Currency,
		Reference: resp.ID,
	}, nil
}

type cardRefundRequest struct {
	Session string `json:"session"`
	Amount  string `json:"amount"`
	Reason  string `json:"reason"`
}

type cardRefundResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (c *cardNetworkClient) Refund(ctx context.Context, providerRef string, amount decimal.Decimal, reason string) (*RefundResult, error) {
	payload := cardRefundRequest{Session: providerRef, Amount: amount.StringFixed(2), Reason: reason}
	var resp cardRefundResponse
	if err := c.do(ctx, http.MethodPost, "/v1/refunds", payload, &resp); err != nil {
		return nil, err
	}
	status := RefundPending
	if resp.Status == "succeeded" {
		status = RefundSucceeded
	}
	return &RefundResult{Status: status, Reference: resp.ID}, nil
}

func (c *cardNetworkClient) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.secret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: cardnetwork: %v", domain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: cardnetwork: %v", domain.ErrProviderUnavailable, err)
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: cardnetwork returned %d", domain.ErrProviderUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		var failure cardSessionResponse
		_ = json.Unmarshal(raw, &failure)
		if failure.Error.Message != "" {
			return fmt.Errorf("%w: %s", domain.ErrProviderRejected, failure.Error.Message)
		}
		return fmt.Errorf("%w: cardnetwork returned %d", domain.ErrProviderRejected, resp.StatusCode)
	}
	return json.Unmarshal(raw, out)
}
