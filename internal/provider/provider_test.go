package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"escrow-engine/internal/config"
	"escrow-engine/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cardClient(t *testing.T, handler http.HandlerFunc) Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewCardNetworkClient(config.ProviderCredentials{BaseURL: srv.URL, SecretKey: "sk_card"})
}

func momoClient(t *testing.T, handler http.HandlerFunc) *mobileMoneyClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewMobileMoneyClient(config.ProviderCredentials{BaseURL: srv.URL, SecretKey: "sk_momo"})
}

func TestCardNetworkCreateCheckout(t *testing.T) {
	client := cardClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		assert.Equal(t, "Bearer sk_card", r.Header.Get("Authorization"))

		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "150.00", req["amount"])
		assert.Equal(t, "GHS", req["currency"])

		json.NewEncoder(w).Encode(map[string]string{
			"id":  "cs_123",
			"url": "https://pay.example/cs_123",
		})
	})

	session, err := client.CreateCheckout(context.Background(), decimal.RequireFromString("150.00"), "GHS", "intent-1", "https://app/return")
	require.NoError(t, err)
	assert.Equal(t, "cs_123", session.ProviderRef)
	assert.Equal(t, "https://pay.example/cs_123", session.CheckoutURL)
}

func TestCardNetworkCheckoutRejected(t *testing.T) {
	client := cardClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{"message": "card declined"}})
	})

	_, err := client.CreateCheckout(context.Background(), decimal.New(10, 0), "GHS", "ref", "url")
	require.ErrorIs(t, err, domain.ErrProviderRejected)
	assert.Contains(t, err.Error(), "card declined")
}

func TestCardNetworkServerErrorIsUnavailable(t *testing.T) {
	client := cardClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := client.CreateCheckout(context.Background(), decimal.New(10, 0), "GHS", "ref", "url")
	require.ErrorIs(t, err, domain.ErrProviderUnavailable)
}

func TestCardNetworkVerifyTransaction(t *testing.T) {
	client := cardClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/checkout/sessions/cs_123", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]string{
			"id":             "cs_123",
			"payment_status": "paid",
			"amount_total":   "150.00",
			"currency":       "GHS",
		})
	})

	res, err := client.VerifyTransaction(context.Background(), "cs_123")
	require.NoError(t, err)
	assert.True(t, res.Succeeded)
	assert.True(t, res.Amount.Equal(decimal.RequireFromString("150.00")))
	assert.Equal(t, "GHS", res.Currency)
	assert.Equal(t, "cs_123", res.Reference)
}

func TestMobileMoneyCheckoutUsesMinorUnits(t *testing.T) {
	client := momoClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transaction/initialize", r.URL.Path)

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.EqualValues(t, 15050, req["amount"])

		json.NewEncoder(w).Encode(map[string]any{
			"status": true,
			"data":   map[string]string{"authorization_url": "https://momo.example/pay", "reference": "mm_9"},
		})
	})

	session, err := client.CreateCheckout(context.Background(), decimal.RequireFromString("150.50"), "GHS", "intent-2", "https://app/return")
	require.NoError(t, err)
	assert.Equal(t, "mm_9", session.ProviderRef)
}

func TestMobileMoneyVerifyConvertsAmount(t *testing.T) {
	client := momoClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transaction/verify/mm_9", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"status": true,
			"data": map[string]any{
				"status": "success", "amount": 15050, "currency": "GHS", "reference": "mm_9",
			},
		})
	})

	res, err := client.VerifyTransaction(context.Background(), "mm_9")
	require.NoError(t, err)
	assert.True(t, res.Succeeded)
	assert.True(t, res.Amount.Equal(decimal.RequireFromString("150.50")), "got %s", res.Amount)
}

func TestMobileMoneyEnvelopeFailure(t *testing.T) {
	client := momoClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"status": false, "message": "insufficient float"})
	})

	_, err := client.VerifyTransaction(context.Background(), "mm_9")
	require.ErrorIs(t, err, domain.ErrProviderRejected)
	assert.Contains(t, err.Error(), "insufficient float")
}

func TestMobileMoneyTransfer(t *testing.T) {
	client := momoClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transfer", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"status": true,
			"data":   map[string]string{"transfer_code": "trf_1", "status": "pending"},
		})
	})

	code, err := client.SubmitTransfer(context.Background(), "0244000000", "mtn", decimal.RequireFromString("50.00"), "GHS", "payout-1")
	require.NoError(t, err)
	assert.Equal(t, "trf_1", code)
}

func TestFactoryUnconfiguredProvider(t *testing.T) {
	factory := NewFactory(config.SettlementConfig{})

	_, err := factory.ClientFor(domain.ProviderCardNetwork)
	require.ErrorIs(t, err, domain.ErrProviderUnavailable)

	_, err = factory.ClientFor(domain.ProviderMobileMoney)
	require.ErrorIs(t, err, domain.ErrProviderUnavailable)

	_, err = factory.Rail()
	require.ErrorIs(t, err, domain.ErrProviderUnavailable)
}

func TestSimulatorLifecycle(t *testing.T) {
	sim := NewSimulator()
	ctx := context.Background()

	session, err := sim.CreateCheckout(ctx, decimal.RequireFromString("89.50"), "GHS", "ref", "url")
	require.NoError(t, err)

	res, err := sim.VerifyTransaction(ctx, session.ProviderRef)
	require.NoError(t, err)
	assert.False(t, res.Succeeded, "unpaid session must not verify")

	sim.Complete(session.ProviderRef)
	res, err = sim.VerifyTransaction(ctx, session.ProviderRef)
	require.NoError(t, err)
	assert.True(t, res.Succeeded)
	assert.True(t, res.Amount.Equal(decimal.RequireFromString("89.50")))

	refund, err := sim.Refund(ctx, session.ProviderRef, res.Amount, "cancelled")
	require.NoError(t, err)
	assert.Equal(t, RefundSucceeded, refund.Status)
}

func TestSimulatorCheckoutFailureIsUnavailable(t *testing.T) {
	sim := NewSimulator()
	sim.FailNextCheckout = true

	_, err := sim.CreateCheckout(context.Background(), decimal.RequireFromString("10.00"), "GHS", "ref", "url")
	require.ErrorIs(t, err, domain.ErrProviderUnavailable)

	// Failure consumes the flag; the next attempt succeeds.
	_, err = sim.CreateCheckout(context.Background(), decimal.RequireFromString("10.00"), "GHS", "ref", "url")
	require.NoError(t, err)
}
