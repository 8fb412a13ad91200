package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"escrow-engine/internal/domain"
	"escrow-engine/internal/metrics"
	"escrow-engine/internal/notify"
	"escrow-engine/internal/provider"
	"escrow-engine/internal/repo"

	"github.com/google/uuid"
)

// RefundCoordinator unwinds escrowed orders. Orders cancelled before any
// money moved take a plain transition; escrowed orders go through the
// provider refund call first and only then mutate the ledger.
type RefundCoordinator struct {
	db        *sql.DB
	orders    repo.OrderRepo
	intents   repo.IntentRepo
	wallets   repo.WalletRepo
	providers *provider.Factory
	notifier  notify.Notifier
}

func NewRefundCoordinator(
	db *sql.DB,
	orders repo.OrderRepo,
	intents repo.IntentRepo,
	wallets repo.WalletRepo,
	providers *provider.Factory,
	notifier notify.Notifier,
) *RefundCoordinator {
	return &RefundCoordinator{
		db:        db,
		orders:    orders,
		intents:   intents,
		wallets:   wallets,
		providers: providers,
		notifier:  notifier,
	}
}

// CancelOrder cancels an order on behalf of its buyer, its provider or an
// admin. A created order simply becomes cancelled; a paid_to_escrow order
// is refunded through the provider. Anything further along is rejected.
func (r *RefundCoordinator) CancelOrder(ctx context.Context, actorID uuid.UUID, role string, orderID uuid.UUID, reason string) (*domain.Order, error) {
	order, err := r.orders.FindById(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, fmt.Errorf("%w: order %s", domain.ErrNotFound, orderID)
	}
	if role != "admin" && actorID != order.BuyerID && actorID != order.ProviderID {
		return nil, fmt.Errorf("%w: not a party to order %s", domain.ErrForbidden, orderID)
	}

	switch order.Status {
	case domain.OrderCreated:
		return r.cancelUnpaid(ctx, actorID, order)
	case domain.OrderPaidToEscrow:
		return r.refundEscrowed(ctx, actorID, order, reason)
	default:
		return nil, fmt.Errorf("%w: order %s cannot be cancelled in status %s", domain.ErrStateConflict, orderID, order.Status)
	}
}

// cancelUnpaid handles the branch where checkout never settled: no
// provider call, no wallet mutation.
func (r *RefundCoordinator) cancelUnpaid(ctx context.Context, actorID uuid.UUID, order *domain.Order) (*domain.Order, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	locked, err := r.orders.FindByIdForUpdate(ctx, tx, order.ID)
	if err != nil {
		return nil, err
	}
	if locked == nil || locked.Status != domain.OrderCreated {
		return nil, fmt.Errorf("%w: order %s changed state", domain.ErrStateConflict, order.ID)
	}
	if err := locked.Transition(domain.OrderCancelled); err != nil {
		return nil, err
	}
	now := time.Now()
	locked.CancelledAt = &now
	if err := r.orders.UpdateOrder(ctx, tx, locked); err != nil {
		return nil, err
	}
	if err := r.orders.AppendEvent(ctx, tx, &domain.OrderEvent{OrderID: locked.ID, ActorID: &actorID, Type: domain.OrderEventCancelled}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	r.notifyParties(ctx, locked, actorID, "order_cancelled", "Order cancelled", "The order was cancelled before payment")
	return locked, nil
}

func (r *RefundCoordinator) refundEscrowed(ctx context.Context, actorID uuid.UUID, order *domain.Order, reason string) (*domain.Order, error) {
	if order.PaymentIntentID == nil {
		return nil, fmt.Errorf("%w: order %s has no payment intent", domain.ErrMissingPaymentReference, order.ID)
	}
	intent, err := r.intents.FindById(ctx, *order.PaymentIntentID)
	if err != nil {
		return nil, err
	}
	if intent == nil {
		return nil, fmt.Errorf("%w: payment intent %s", domain.ErrNotFound, *order.PaymentIntentID)
	}

	// Prefer the transaction reference recorded at settlement; fall back
	// to the checkout session reference.
	refundTarget := ""
	if event, err := r.intents.LatestEvent(ctx, intent.ID); err != nil {
		return nil, err
	} else if event != nil && event.ProviderTxRef != "" {
		refundTarget = event.ProviderTxRef
	} else if intent.ProviderRef != nil {
		refundTarget = *intent.ProviderRef
	}
	if refundTarget == "" {
		return nil, fmt.Errorf("%w: intent %s has no provider reference", domain.ErrMissingPaymentReference, intent.ID)
	}

	client, err := r.providers.ClientFor(intent.Provider)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	res, err := client.Refund(ctx, refundTarget, order.AmountGross, reason)
	metrics.ProviderCallDuration.WithLabelValues(string(intent.Provider), "refund").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.RefundsTotal.WithLabelValues("provider_error").Inc()
		return nil, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	locked, err := r.orders.FindByIdForUpdate(ctx, tx, order.ID)
	if err != nil {
		return nil, err
	}
	if locked == nil || locked.Status != domain.OrderPaidToEscrow {
		return nil, fmt.Errorf("%w: order %s changed state", domain.ErrStateConflict, order.ID)
	}

	now := time.Now()
	locked.RefundRequestedAt = &now
	locked.CancelledAt = &now
	locked.RefundReference = &res.Reference
	refundProvider := string(intent.Provider)
	locked.RefundProvider = &refundProvider

	eventType := domain.OrderEventRefundInitiated
	if res.Status == provider.RefundSucceeded {
		if err := locked.Transition(domain.OrderRefunded); err != nil {
			return nil, err
		}
		locked.RefundCompletedAt = &now
		eventType = domain.OrderEventRefunded
	} else {
		if err := locked.Transition(domain.OrderRefundPending); err != nil {
			return nil, err
		}
	}

	if err := r.orders.UpdateOrder(ctx, tx, locked); err != nil {
		return nil, err
	}
	if err := r.orders.AppendEvent(ctx, tx, &domain.OrderEvent{OrderID: locked.ID, ActorID: &actorID, Type: eventType}); err != nil {
		return nil, err
	}
	// The escrow leaves the provider's pending balance at initiation; a
	// later confirmation webhook must not touch the wallet again.
	if err := r.wallets.DebitPending(ctx, tx, locked.ProviderID, locked.AmountNet); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	metrics.RefundsTotal.WithLabelValues(string(res.Status)).Inc()

	if locked.Status == domain.OrderRefunded {
		r.notifyParties(ctx, locked, actorID, "refund_completed", "Refund completed", "The payment was returned to the buyer")
	} else {
		r.notifyParties(ctx, locked, actorID, "refund_initiated", "Refund initiated", "The refund is being processed by the provider")
	}
	return locked, nil
}

// ResolveRefund applies a provider webhook confirming a previously pending
// refund. Arriving after the order is already refunded is a no-op; the
// wallet was debited at initiation and is never touched here.
func (r *RefundCoordinator) ResolveRefund(ctx context.Context, refundReference string) (*domain.Order, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	order, err := r.orders.FindByRefundReferenceForUpdate(ctx, tx, refundReference)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, fmt.Errorf("%w: no order with refund reference %q", domain.ErrNotFound, refundReference)
	}
	if order.Status == domain.OrderRefunded {
		return order, nil
	}
	if err := order.Transition(domain.OrderRefunded); err != nil {
		return nil, err
	}
	now := time.Now()
	order.RefundCompletedAt = &now
	if err := r.orders.UpdateOrder(ctx, tx, order); err != nil {
		return nil, err
	}
	if err := r.orders.AppendEvent(ctx, tx, &domain.OrderEvent{OrderID: order.ID, Type: domain.OrderEventRefunded}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	metrics.RefundsTotal.WithLabelValues("confirmed").Inc()

	r.notifyParties(ctx, order, order.BuyerID, "refund_completed", "Refund completed", "The payment was returned to the buyer")
	return order, nil
}

func (r *RefundCoordinator) notifyParties(ctx context.Context, o *domain.Order, actorID uuid.UUID, eventType, title, body string) {
	data := map[string]string{"order_id": o.ID.String()}
	r.notifier.Notify(ctx, notify.Notification{UserID: o.BuyerID, ActorID: actorID, Type: eventType, Title: title, Body: body, Data: data})
	r.notifier.Notify(ctx, notify.Notification{UserID: o.ProviderID, ActorID: actorID, Type: eventType, Title: title, Body: body, Data: data})
}
