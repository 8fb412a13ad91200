package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"escrow-engine/internal/domain"
	"escrow-engine/internal/notify"
	"escrow-engine/internal/repo"

	"github.com/google/uuid"
)

// OrderLedger exposes the order lifecycle actions taken by the two
// parties after settlement: accept, start, deliver, approve, release.
// Every action checks the actor, consults the state machine, and writes
// its audit event in the same transaction.
type OrderLedger struct {
	db       *sql.DB
	orders   repo.OrderRepo
	wallets  repo.WalletRepo
	notifier notify.Notifier
}

func NewOrderLedger(db *sql.DB, orders repo.OrderRepo, wallets repo.WalletRepo, notifier notify.Notifier) *OrderLedger {
	return &OrderLedger{db: db, orders: orders, wallets: wallets, notifier: notifier}
}

func (l *OrderLedger) Get(ctx context.Context, actorID uuid.UUID, role string, orderID uuid.UUID) (*domain.Order, error) {
	order, err := l.orders.FindById(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, fmt.Errorf("%w: order %s", domain.ErrNotFound, orderID)
	}
	if role != "admin" && actorID != order.BuyerID && actorID != order.ProviderID {
		return nil, fmt.Errorf("%w: not a party to order %s", domain.ErrForbidden, orderID)
	}
	return order, nil
}

// Accept moves a settled order into the provider's hands. Provider only.
func (l *OrderLedger) Accept(ctx context.Context, actorID, orderID uuid.UUID) (*domain.Order, error) {
	return l.act(ctx, actorID, orderID, actorProvider, domain.OrderAccepted, domain.OrderEventAccepted,
		func(o *domain.Order, now time.Time) { o.AcceptedAt = &now },
		"order_accepted", "Order accepted", "The provider accepted your order")
}

// Start marks an accepted order as in progress. Provider only.
func (l *OrderLedger) Start(ctx context.Context, actorID, orderID uuid.UUID) (*domain.Order, error) {
	return l.act(ctx, actorID, orderID, actorProvider, domain.OrderInProgress, "",
		nil, "order_status", "Order in progress", "Work on your order has started")
}

// Deliver marks the work handed over. Provider only.
func (l *OrderLedger) Deliver(ctx context.Context, actorID, orderID uuid.UUID) (*domain.Order, error) {
	return l.act(ctx, actorID, orderID, actorProvider, domain.OrderDelivered, domain.OrderEventDelivered,
		func(o *domain.Order, now time.Time) { o.DeliveredAt = &now },
		"order_delivered", "Order delivered", "The provider marked your order delivered")
}

// Approve is the buyer signing off on the delivery.
func (l *OrderLedger) Approve(ctx context.Context, actorID, orderID uuid.UUID) (*domain.Order, error) {
	return l.act(ctx, actorID, orderID, actorBuyer, domain.OrderApproved, domain.OrderEventApproved,
		nil, "order_approved", "Delivery approved", "The buyer approved the delivery")
}

type actorKind int

const (
	actorProvider actorKind = iota
	actorBuyer
)

func (l *OrderLedger) act(
	ctx context.Context,
	actorID, orderID uuid.UUID,
	kind actorKind,
	to domain.OrderStatus,
	eventType domain.OrderEventType,
	stamp func(*domain.Order, time.Time),
	notifyType, title, body string,
) (*domain.Order, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	order, err := l.orders.FindByIdForUpdate(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, fmt.Errorf("%w: order %s", domain.ErrNotFound, orderID)
	}
	switch kind {
	case actorProvider:
		if actorID != order.ProviderID {
			return nil, fmt.Errorf("%w: only the provider may act on order %s", domain.ErrForbidden, orderID)
		}
	case actorBuyer:
		if actorID != order.BuyerID {
			return nil, fmt.Errorf("%w: only the buyer may act on order %s", domain.ErrForbidden, orderID)
		}
	}

	if err := order.Transition(to); err != nil {
		return nil, err
	}
	now := time.Now()
	if stamp != nil {
		stamp(order, now)
	}
	if err := l.orders.UpdateOrder(ctx, tx, order); err != nil {
		return nil, err
	}
	if eventType != "" {
		if err := l.orders.AppendEvent(ctx, tx, &domain.OrderEvent{OrderID: order.ID, ActorID: &actorID, Type: eventType}); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	data := map[string]string{"order_id": order.ID.String()}
	l.notifier.Notify(ctx, notify.Notification{UserID: order.BuyerID, ActorID: actorID, Type: notifyType, Title: title, Body: body, Data: data})
	l.notifier.Notify(ctx, notify.Notification{UserID: order.ProviderID, ActorID: actorID, Type: notifyType, Title: title, Body: body, Data: data})
	return order, nil
}

// Release moves an approved order's escrow from pending to available on
// the provider wallet and closes the order.
func (l *OrderLedger) Release(ctx context.Context, actorID uuid.UUID, role string, orderID uuid.UUID) (*domain.Order, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	order, err := l.orders.FindByIdForUpdate(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, fmt.Errorf("%w: order %s", domain.ErrNotFound, orderID)
	}
	if role != "admin" && actorID != order.BuyerID {
		return nil, fmt.Errorf("%w: only the buyer or an admin may release order %s", domain.ErrForbidden, orderID)
	}
	if err := order.Transition(domain.OrderReleased); err != nil {
		return nil, err
	}
	if err := l.orders.UpdateOrder(ctx, tx, order); err != nil {
		return nil, err
	}
	if err := l.wallets.MovePendingToAvailable(ctx, tx, order.ProviderID, order.AmountNet); err != nil {
		return nil, err
	}
	if err := l.orders.AppendEvent(ctx, tx, &domain.OrderEvent{OrderID: order.ID, ActorID: &actorID, Type: domain.OrderEventReleased}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	l.notifier.Notify(ctx, notify.Notification{
		UserID:  order.ProviderID,
		ActorID: actorID,
		Type:    "order_released",
		Title:   "Escrow released",
		Body:    "Funds for the order are now available for payout",
		Data:    map[string]string{"order_id": order.ID.String()},
	})
	return order, nil
}
