package provider

import (
	"context"
	"fmt"
	"sync"

	"escrow-engine/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Simulator is an in-memory provider used by local runs and worker tests.
// It remembers every session it opens so verification and refunds behave
// like a real provider that has already seen the charge, including the
// case where a charge succeeded remotely but the caller only saw a timeout.
type Simulator struct {
	mu       sync.RWMutex
	sessions map[string]*simSession

	// FailNextCheckout makes the next CreateCheckout return an error while
	// still not recording a session, mimicking an unreachable provider.
	FailNextCheckout bool
	// SettleImmediately marks every new session paid without waiting for a
	// Complete call.
	SettleImmediately bool
	// PendingRefunds makes Refund report pending instead of succeeded.
	PendingRefunds bool
}

type simSession struct {
	ref      string
	amount   decimal.Decimal
	currency string
	paid     bool
	refunded bool
}

func NewSimulator() *Simulator {
	return &Simulator{sessions: make(map[string]*simSession)}
}

// Complete marks a session paid, standing in for the user finishing the
// hosted checkout.
func (s *Simulator) Complete(providerRef string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[providerRef]; ok {
		sess.paid = true
	}
}

func (s *Simulator) CreateCheckout(ctx context.Context, amount decimal.Decimal, currency, reference, returnURL string) (*CheckoutSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailNextCheckout {
		s.FailNextCheckout = false
		return nil, fmt.Errorf("%w: simulator connection timeout", domain.ErrProviderUnavailable)
	}

	ref := "sim_" + uuid.NewString()
	s.sessions[ref] = &simSession{
		ref:      ref,
		amount:   amount,
		currency: currency,
		paid:     s.SettleImmediately,
	}
	return &CheckoutSession{
		CheckoutURL: "https://checkout.simulator.local/" + ref,
		ProviderRef: ref,
	}, nil
}

func (s *Simulator) VerifyTransaction(ctx context.Context, providerTxID string) (*VerifyResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[providerTxID]
	if !ok {
		return &VerifyResult{Succeeded: false}, nil
	}
	return &VerifyResult{
		Succeeded: sess.paid,
		Amount:    sess.amount,
		Currency:  sess.currency,
		Reference: sess.ref,
	}, nil
}

func (s *Simulator) Refund(ctx context.Context, providerRef string, amount decimal.Decimal, reason string) (*RefundResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[providerRef]
	if !ok || !sess.paid {
		return nil, fmt.Errorf("simulator: nothing to refund for %s", providerRef)
	}
	sess.refunded = true
	status := RefundSucceeded
	if s.PendingRefunds {
		status = RefundPending
	}
	return &RefundResult{Status: status, Reference: "simref_" + uuid.NewString()}, nil
}

func (s *Simulator) SubmitTransfer(ctx context.Context, number, network string, amount decimal.Decimal, currency, reference string) (string, error) {
	return "simtrf_" + uuid.NewString(), nil
}
