package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderCreated       OrderStatus = "created"
	OrderPaidToEscrow  OrderStatus = "paid_to_escrow"
	OrderAccepted      OrderStatus = "accepted"
	OrderInProgress    OrderStatus = "in_progress"
	OrderDelivered     OrderStatus = "delivered"
	OrderApproved      OrderStatus = "approved"
	OrderReleased      OrderStatus = "released"
	OrderCancelled     OrderStatus = "cancelled"
	OrderRefundPending OrderStatus = "refund_pending"
	OrderRefunded      OrderStatus = "refunded"
	OrderDisputed      OrderStatus = "disputed"
	OrderChargeback    OrderStatus = "chargeback"
)

// orderTransitions is the single source of truth for the order state
// machine. Every mutation path consults it; anything not listed here is a
// state conflict.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderCreated:       {OrderPaidToEscrow, OrderCancelled},
	OrderPaidToEscrow:  {OrderAccepted, OrderCancelled, OrderRefundPending, OrderRefunded, OrderDisputed},
	OrderAccepted:      {OrderInProgress, OrderDelivered, OrderDisputed},
	OrderInProgress:    {OrderDelivered, OrderDisputed},
	OrderDelivered:     {OrderApproved, OrderDisputed},
	OrderApproved:      {OrderReleased},
	OrderRefundPending: {OrderRefunded},
	OrderDisputed:      {OrderChargeback},
}

func CanTransition(from, to OrderStatus) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type Order struct {
	ID                uuid.UUID
	BuyerID           uuid.UUID
	ProviderID        uuid.UUID
	ServiceID         uuid.UUID
	TierID            uuid.UUID
	Quantity          int
	AmountGross       decimal.Decimal
	PlatformFee       decimal.Decimal
	TaxAmount         decimal.Decimal
	AmountNet         decimal.Decimal
	Currency          string
	PaymentIntentID   *uuid.UUID
	Status            OrderStatus
	AcceptedAt        *time.Time
	DeliveredAt       *time.Time
	CancelledAt       *time.Time
	RefundRequestedAt *time.Time
	RefundCompletedAt *time.Time
	RefundReference   *string
	RefundProvider    *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Transition validates and applies a status change on the order. The caller
// persists the order inside its own transaction.
func (o *Order) Transition(to OrderStatus) error {
	if !CanTransition(o.Status, to) {
		return fmt.Errorf("%w: order %s cannot move %s -> %s", ErrStateConflict, o.ID, o.Status, to)
	}
	o.Status = to
	o.UpdatedAt = time.Now()
	return nil
}

type PricingType string

const (
	PricingPerUnit PricingType = "per_unit"
	PricingFlat    PricingType = "flat"
)

// EscrowSplit is the gross/fee/tax/net breakdown computed once at order
// creation and never recomputed.
type EscrowSplit struct {
	Gross decimal.Decimal
	Fee   decimal.Decimal
	Tax   decimal.Decimal
	Net   decimal.Decimal
}

var bpsDenominator = decimal.NewFromInt(10000)

// ComputeSplit derives the escrow split for a tier price. Per-unit tiers
// multiply the unit price by quantity before splitting; flat tiers clamp
// quantity to 1. fee = gross*feeBps/10000, tax = fee*taxBps/10000,
// net = gross - fee - tax.
func ComputeSplit(unitPrice decimal.Decimal, pricing PricingType, quantity int, platformFeeBps, taxBps int64) EscrowSplit {
	if quantity < 1 || pricing == PricingFlat {
		quantity = 1
	}
	gross := unitPrice.Mul(decimal.NewFromInt(int64(quantity))).Round(2)
	fee := gross.Mul(decimal.NewFromInt(platformFeeBps)).Div(bpsDenominator).Round(2)
	tax := fee.Mul(decimal.NewFromInt(taxBps)).Div(bpsDenominator).Round(2)
	return EscrowSplit{
		Gross: gross,
		Fee:   fee,
		Tax:   tax,
		Net:   gross.Sub(fee).Sub(tax),
	}
}

type OrderEventType string

const (
	OrderEventCreated         OrderEventType = "created"
	OrderEventPaid            OrderEventType = "paid"
	OrderEventAccepted        OrderEventType = "accepted"
	OrderEventDelivered       OrderEventType = "delivered"
	OrderEventApproved        OrderEventType = "approved"
	OrderEventCancelled       OrderEventType = "cancelled"
	OrderEventRefundInitiated OrderEventType = "refund_initiated"
	OrderEventRefunded        OrderEventType = "refunded"
	OrderEventReleased        OrderEventType = "released"
)

// OrderEvent is the append-only audit row written in the same transaction
// as the transition it records.
type OrderEvent struct {
	ID        uuid.UUID
	OrderID   uuid.UUID
	ActorID   *uuid.UUID
	Type      OrderEventType
	CreatedAt time.Time
}
