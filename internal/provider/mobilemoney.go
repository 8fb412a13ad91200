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

// mobileMoneyClient talks to the mobile-money aggregator. Amounts on the
// wire are integer minor units; verification is a direct transaction-id
// lookup. The same client doubles as the payout transfer rail.
type mobileMoneyClient struct {
	baseURL string
	secret  string
	http    *http.Client
}

func NewMobileMoneyClient(creds config.ProviderCredentials) *mobileMoneyClient {
	return &mobileMoneyClient{
		baseURL: creds.BaseURL,
		secret:  creds.SecretKey,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

var minorUnits = decimal.NewFromInt(100)

func toMinor(amount decimal.Decimal) int64 {
	return amount.Mul(minorUnits).Round(0).IntPart()
}

func fromMinor(minor int64) decimal.Decimal {
	return decimal.NewFromInt(minor).Div(minorUnits)
}

type momoEnvelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type momoInitData struct {
	AuthorizationURL string `json:"authorization_url"`
	Reference        string `json:"reference"`
}

type momoTxData struct {
	Status    string `json:"status"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Reference string `json:"reference"`
}

func (c *mobileMoneyClient) CreateCheckout(ctx context.Context, amount decimal.Decimal, currency, reference, returnURL string) (*CheckoutSession, error) {
	payload := map[string]any{
		"amount":       toMinor(amount),
		"currency":     currency,
		"reference":    reference,
		"callback_url": returnURL,
	}
	var data momoInitData
	if err := c.do(ctx, http.MethodPost, "/transaction/initialize", payload, &data); err != nil {
		return nil, err
	}
	if data.AuthorizationURL == "" || data.Reference == "" {
		return nil, fmt.Errorf("%w: mobilemoney initialize returned empty session", domain.ErrProviderRejected)
	}
	return &CheckoutSession{CheckoutURL: data.AuthorizationURL, ProviderRef: data.Reference}, nil
}

func (c *mobileMoneyClient) VerifyTransaction(ctx context.Context, providerTxID string) (*VerifyResult, error) {
	var data momoTxData
	if err := c.do(ctx, http.MethodGet, "/transaction/verify/"+providerTxID, nil, &data); err != nil {
		return nil, err
	}
	return &VerifyResult{
		Succeeded: data.Status == "success",
		Amount:    fromMinor(data.Amount),
		Currency:  data.Currency,
		Reference: data.Reference,
	}, nil
}

type momoRefundData struct {
	Status    string `json:"status"`
	Reference string `json:"reference"`
}

func (c *mobileMoneyClient) Refund(ctx context.Context, providerRef string, amount decimal.Decimal, reason string) (*RefundResult, error) {
	payload := map[string]any{
		"transaction":   providerRef,
		"amount":        toMinor(amount),
		"customer_note": reason,
	}
	var data momoRefundData
	if err := c.do(ctx, http.MethodPost, "/refund", payload, &data); err != nil {
		return nil, err
	}
	status := RefundPending
	if data.Status == "processed" || data.Status == "success" {
		status = RefundSucceeded
	}
	return &RefundResult{Status: status, Reference: data.Reference}, nil
}

type momoTransferData struct {
	TransferCode string `json:"transfer_code"`
	Status       string `json:"status"`
}

func (c *mobileMoneyClient) SubmitTransfer(ctx context.Context, number, network string, amount decimal.Decimal, currency, reference string) (string, error) {
	payload := map[string]any{
		"type":      "mobile_money",
		"number":    number,
		"network":   network,
		"amount":    toMinor(amount),
		"currency":  currency,
		"reference": reference,
	}
	var data momoTransferData
	if err := c.do(ctx, http.MethodPost, "/transfer", payload, &data); err != nil {
		return "", err
	}
	if data.TransferCode == "" {
		return "", fmt.Errorf("%w: mobilemoney transfer returned no code", domain.ErrProviderRejected)
	}
	return data.TransferCode, nil
}

func (c *mobileMoneyClient) do(ctx context.Context, method, path string, payload, out any) error {
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
		return fmt.Errorf("%w: mobilemoney: %v", domain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: mobilemoney: %v", domain.ErrProviderUnavailable, err)
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: mobilemoney returned %d", domain.ErrProviderUnavailable, resp.StatusCode)
	}

	var env momoEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%w: mobilemoney: bad response body", domain.ErrProviderUnavailable)
	}
	if resp.StatusCode >= 400 || !env.Status {
		msg := env.Message
		if msg == "" {
			msg = fmt.Sprintf("mobilemoney returned %d", resp.StatusCode)
		}
		return fmt.Errorf("%w: %s", domain.ErrProviderRejected, msg)
	}
	if out != nil {
		return json.Unmarshal(env.Data, out)
	}
	return nil
}
