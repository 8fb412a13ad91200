package domain

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ServiceTier is the read-only catalog surface the engine consumes at
// checkout time. The catalog itself is owned elsewhere.
type ServiceTier struct {
	ID             uuid.UUID
	ServiceID      uuid.UUID
	ProviderUserID uuid.UUID
	UnitPrice      decimal.Decimal
	PricingType    PricingType
	Currency       string
	Active         bool
}
