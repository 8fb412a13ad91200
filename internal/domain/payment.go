package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentProvider identifies one of the supported external payment rails.
type PaymentProvider string

const (
	ProviderCardNetwork PaymentProvider = "cardnetwork"
	ProviderMobileMoney PaymentProvider = "mobilemoney"
)

func ParseProvider(s string) (PaymentProvider, bool) {
	switch PaymentProvider(s) {
	case ProviderCardNetwork, ProviderMobileMoney:
		return PaymentProvider(s), true
	}
	return "", false
}

type IntentStatus string

const (
	IntentCreated   IntentStatus = "created"
	IntentPending   IntentStatus = "pending"
	IntentSucceeded IntentStatus = "succeeded"
	IntentFailed    IntentStatus = "failed"
)

// PaymentIntent is the engine's own record of one external charge attempt,
// possibly covering several orders from a single checkout. Transitions are
// monotonic; once succeeded it never reverts.
type PaymentIntent struct {
	ID            uuid.UUID
	BuyerID       uuid.UUID
	Provider      PaymentProvider
	Status        IntentStatus
	Amount        decimal.Decimal
	Currency      string
	ProviderRef   *string
	FailureReason *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// PaymentEvent records one provider webhook or verification result applied
// to a payment intent. The (PaymentIntentID, ProviderEventID) pair is unique
// so duplicate delivery collapses to a no-op insert.
type PaymentEvent struct {
	ID              uuid.UUID
	PaymentIntentID uuid.UUID
	ProviderEventID string
	ProviderTxRef   string
	Kind            string
	CreatedAt       time.Time
}
