package provider

import (
	"context"
	"fmt"

	"escrow-engine/internal/config"
	"escrow-engine/internal/domain"

	"github.com/shopspring/decimal"
)

// CheckoutSession is a hosted payment page opened with an external provider.
type CheckoutSession struct {
	CheckoutURL string
	ProviderRef string
}

// VerifyResult is the provider's reported truth about one transaction,
// normalized across providers so the settlement path never branches on
// provider identity.
type VerifyResult struct {
	Succeeded bool
	Amount    decimal.Decimal
	Currency  string
	Reference string
}

type RefundStatus string

const (
	RefundSucceeded RefundStatus = "succeeded"
	RefundPending   RefundStatus = "pending"
)

type RefundResult struct {
	Status    RefundStatus
	Reference string
}

// Client is the uniform contract over one external payment provider.
type Client interface {
	CreateCheckout(ctx context.Context, amount decimal.Decimal, currency, reference, returnURL string) (*CheckoutSession, error)
	VerifyTransaction(ctx context.Context, providerTxID string) (*VerifyResult, error)
	Refund(ctx context.Context, providerRef string, amount decimal.Decimal, reason string) (*RefundResult, error)
}

// TransferRail submits outbound mobile-money transfers for payouts.
type TransferRail interface {
	SubmitTransfer(ctx context.Context, number, network string, amount decimal.Decimal, currency, reference string) (string, error)
}

// Factory selects the concrete client for a provider enum value.
type Factory struct {
	card        Client
	mobileMoney Client
	rail        TransferRail
}

func NewFactory(cfg config.SettlementConfig) *Factory {
	f := &Factory{}
	if cfg.CardNetwork.SecretKey != "" {
		f.card = NewCardNetworkClient(cfg.CardNetwork)
	}
	if cfg.MobileMoney.SecretKey != "" {
		mm := NewMobileMoneyClient(cfg.MobileMoney)
		f.mobileMoney = mm
		f.rail = mm
	}
	return f
}

// NewFactoryWithClients wires explicit clients; tests and the local
// simulator use this.
func NewFactoryWithClients(card, mobileMoney Client, rail TransferRail) *Factory {
	return &Factory{card: card, mobileMoney: mobileMoney, rail: rail}
}

func (f *Factory) ClientFor(p domain.PaymentProvider) (Client, error) {
	switch p {
	case domain.ProviderCardNetwork:
		if f.card == nil {
			return nil, fmt.Errorf("%w: cardnetwork secret not configured", domain.ErrProviderUnavailable)
		}
		return f.card, nil
	case domain.ProviderMobileMoney:
		if f.mobileMoney == nil {
			return nil, fmt.Errorf("%w: mobilemoney secret not configured", domain.ErrProviderUnavailable)
		}
		return f.mobileMoney, nil
	}
	return nil, fmt.Errorf("%w: unknown provider %q", domain.ErrValidation, p)
}

func (f *Factory) Rail() (TransferRail, error) {
	if f.rail == nil {
		return nil, fmt.Errorf("%w: transfer rail not configured", domain.ErrProviderUnavailable)
	}
	return f.rail, nil
}
