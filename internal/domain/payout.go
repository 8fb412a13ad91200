package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PayoutStatus string

const (
	PayoutRequested  PayoutStatus = "requested"
	PayoutProcessing PayoutStatus = "processing"
	PayoutPaid       PayoutStatus = "paid"
	PayoutFailed     PayoutStatus = "failed"
	PayoutCancelled  PayoutStatus = "cancelled"
)

// Terminal reports whether the payout can no longer be resolved again.
func (s PayoutStatus) Terminal() bool {
	return s == PayoutPaid || s == PayoutFailed || s == PayoutCancelled
}

// PayoutRequest is one withdrawal attempt draining a provider wallet to an
// external mobile-money transfer.
type PayoutRequest struct {
	ID             uuid.UUID
	ProviderUserID uuid.UUID
	Amount         decimal.Decimal
	Currency       string
	DestNumber     string
	DestNetwork    string
	Status         PayoutStatus
	Reference      *string
	FailureReason  *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

var payoutTransitions = map[PayoutStatus][]PayoutStatus{
	PayoutRequested:  {PayoutProcessing, PayoutCancelled},
	PayoutProcessing: {PayoutPaid, PayoutFailed},
}

func (p *PayoutRequest) Transition(to PayoutStatus) error {
	for _, next := range payoutTransitions[p.Status] {
		if next == to {
			p.Status = to
			p.UpdatedAt = time.Now()
			return nil
		}
	}
	return fmt.Errorf("%w: payout %s cannot move %s -> %s", ErrStateConflict, p.ID, p.Status, to)
}
