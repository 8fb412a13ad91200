package repo

import (
	"context"
	"database/sql"
	"time"

	"escrow-engine/internal/domain"

	"github.com/google/uuid"
)

type OrderRepo interface {
	CreateOrder(ctx context.Context, tx *sql.Tx, order *domain.Order) error
	FindById(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	FindByIdForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Order, error)
	FindByIntentForUpdate(ctx context.Context, tx *sql.Tx, intentID uuid.UUID) ([]domain.Order, error)
	FindByRefundReferenceForUpdate(ctx context.Context, tx *sql.Tx, reference string) (*domain.Order, error)
	UpdateOrder(ctx context.Context, tx *sql.Tx, order *domain.Order) error
	AppendEvent(ctx context.Context, tx *sql.Tx, event *domain.OrderEvent) error
}

type orderRepo struct {
	db *sql.DB
}

func NewOrderRepo(db *sql.DB) OrderRepo {
	return &orderRepo{db: db}
}

const orderColumns = `id, buyer_id, provider_user_id, service_id, tier_id, quantity,
	amount_gross, platform_fee, tax_amount, amount_net, currency, payment_intent_id,
	status, accepted_at, delivered_at, cancelled_at, refund_requested_at,
	refund_completed_at, refund_reference, refund_provider, created_at, updated_at`

func scanOrder(row interface{ Scan(...any) error }) (*domain.Order, error) {
	var o domain.Order
	err := row.Scan(
		&o.ID, &o.BuyerID, &o.ProviderID, &o.ServiceID, &o.TierID, &o.Quantity,
		&o.AmountGross, &o.PlatformFee, &o.TaxAmount, &o.AmountNet, &o.Currency,
		&o.PaymentIntentID, &o.Status, &o.AcceptedAt, &o.DeliveredAt, &o.CancelledAt,
		&o.RefundRequestedAt, &o.RefundCompletedAt, &o.RefundReference, &o.RefundProvider,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *orderRepo) CreateOrder(ctx context.Context, tx *sql.Tx, order *domain.Order) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO orders (id, buyer_id, provider_user_id, service_id, tier_id, quantity,
			amount_gross, platform_fee, tax_amount, amount_net, currency, payment_intent_id,
			status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		order.ID, order.BuyerID, order.ProviderID, order.ServiceID, order.TierID, order.Quantity,
		order.AmountGross, order.PlatformFee, order.TaxAmount, order.AmountNet, order.Currency,
		order.PaymentIntentID, order.Status, order.CreatedAt, order.UpdatedAt,
	)
	return err
}

func (r *orderRepo) FindById(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	order, err := scanOrder(r.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil // not found
	}
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (r *orderRepo) FindByIdForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Order, error) {
	order, err := scanOrder(tx.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (r *orderRepo) FindByRefundReferenceForUpdate(ctx context.Context, tx *sql.Tx, reference string) (*domain.Order, error) {
	order, err := scanOrder(tx.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE refund_reference = $1 FOR UPDATE`, reference))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (r *orderRepo) FindByIntentForUpdate(ctx context.Context, tx *sql.Tx, intentID uuid.UUID) ([]domain.Order, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE payment_intent_id = $1 FOR UPDATE`, intentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

func (r *orderRepo) UpdateOrder(ctx context.Context, tx *sql.Tx, order *domain.Order) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE orders SET status = $2, accepted_at = $3, delivered_at = $4, cancelled_at = $5,
			refund_requested_at = $6, refund_completed_at = $7, refund_reference = $8,
			refund_provider = $9, updated_at = $10
		WHERE id = $1`,
		order.ID, order.Status, order.AcceptedAt, order.DeliveredAt, order.CancelledAt,
		order.RefundRequestedAt, order.RefundCompletedAt, order.RefundReference,
		order.RefundProvider, order.UpdatedAt,
	)
	return err
}

func (r *orderRepo) AppendEvent(ctx context.Context, tx *sql.Tx, event *domain.OrderEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO order_events (id, order_id, actor_id, event_type, created_at) VALUES ($1,$2,$3,$4,$5)`,
		event.ID, event.OrderID, event.ActorID, event.Type, event.CreatedAt,
	)
	return err
}
