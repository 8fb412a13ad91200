package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ProviderWallet is the per-provider-user ledger. AvailableBalance is
// withdrawable; PendingBalance is in escrow or awaiting payout clearance.
// Both are always >= 0, and every mutation pairs with an order or payout
// transition in the same transaction.
type ProviderWallet struct {
	ID               uuid.UUID
	ProviderUserID   uuid.UUID
	AvailableBalance decimal.Decimal
	PendingBalance   decimal.Decimal
	Currency         string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
