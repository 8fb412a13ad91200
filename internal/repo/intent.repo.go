package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"escrow-engine/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

type IntentRepo interface {
	Create(ctx context.Context, tx *sql.Tx, intent *domain.PaymentIntent) error
	FindById(ctx context.Context, id uuid.UUID) (*domain.PaymentIntent, error)
	FindByProviderRef(ctx context.Context, providerRef string) (*domain.PaymentIntent, error)
	// FindByIdForUpdate takes the row lock that serializes concurrent
	// finalize attempts for the same intent.
	FindByIdForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.PaymentIntent, error)
	MarkPending(ctx context.Context, id uuid.UUID, providerRef string) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
	MarkSucceeded(ctx context.Context, tx *sql.Tx, id uuid.UUID) error
	// InsertEvent reports false when the (intent, provider event) pair was
	// already recorded; duplicate webhook delivery lands here.
	InsertEvent(ctx context.Context, tx *sql.Tx, event *domain.PaymentEvent) (bool, error)
	LatestEvent(ctx context.Context, intentID uuid.UUID) (*domain.PaymentEvent, error)
	FindPendingBefore(ctx context.Context, before time.Time, limit int) ([]domain.PaymentIntent, error)
}

type intentRepo struct {
	db *sql.DB
}

func NewIntentRepo(db *sql.DB) IntentRepo {
	return &intentRepo{db: db}
}

const intentColumns = `id, buyer_id, provider, status, amount, currency, provider_ref, failure_reason, created_at, updated_at`

func scanIntent(row interface{ Scan(...any) error }) (*domain.PaymentIntent, error) {
	var in domain.PaymentIntent
	err := row.Scan(
		&in.ID, &in.BuyerID, &in.Provider, &in.Status, &in.Amount, &in.Currency,
		&in.ProviderRef, &in.FailureReason, &in.CreatedAt, &in.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &in, nil
}

func (r *intentRepo) Create(ctx context.Context, tx *sql.Tx, intent *domain.PaymentIntent) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO payment_intents (id, buyer_id, provider, status, amount, currency, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		intent.ID, intent.BuyerID, intent.Provider, intent.Status, intent.Amount,
		intent.Currency, intent.CreatedAt, intent.UpdatedAt,
	)
	return err
}

func (r *intentRepo) FindById(ctx context.Context, id uuid.UUID) (*domain.PaymentIntent, error) {
	intent, err := scanIntent(r.db.QueryRowContext(ctx,
		`SELECT `+intentColumns+` FROM payment_intents WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return intent, nil
}

func (r *intentRepo) FindByProviderRef(ctx context.Context, providerRef string) (*domain.PaymentIntent, error) {
	intent, err := scanIntent(r.db.QueryRowContext(ctx,
		`SELECT `+intentColumns+` FROM payment_intents WHERE provider_ref = $1`, providerRef))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return intent, nil
}

func (r *intentRepo) FindByIdForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.PaymentIntent, error) {
	intent, err := scanIntent(tx.QueryRowContext(ctx,
		`SELECT `+intentColumns+` FROM payment_intents WHERE id = $1 FOR UPDATE`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return intent, nil
}

func (r *intentRepo) MarkPending(ctx context.Context, id uuid.UUID, providerRef string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE payment_intents SET status = $2, provider_ref = $3, updated_at = now() WHERE id = $1`,
		id, domain.IntentPending, providerRef,
	)
	return err
}

func (r *intentRepo) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE payment_intents SET status = $2, failure_reason = $3, updated_at = now()
		WHERE id = $1 AND status <> $4`,
		id, domain.IntentFailed, reason, domain.IntentSucceeded,
	)
	return err
}

func (r *intentRepo) MarkSucceeded(ctx context.Context, tx *sql.Tx, id uuid.UUID) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE payment_intents SET status = $2, failure_reason = NULL, updated_at = now() WHERE id = $1`,
		id, domain.IntentSucceeded,
	)
	return err
}

func (r *intentRepo) InsertEvent(ctx context.Context, tx *sql.Tx, event *domain.PaymentEvent) (bool, error) {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO payment_events (id, payment_intent_id, provider_event_id, provider_tx_ref, kind, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (payment_intent_id, provider_event_id) DO NOTHING`,
		event.ID, event.PaymentIntentID, event.ProviderEventID, event.ProviderTxRef, event.Kind, event.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return false, nil
		}
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *intentRepo) LatestEvent(ctx context.Context, intentID uuid.UUID) (*domain.PaymentEvent, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, payment_intent_id, provider_event_id, provider_tx_ref, kind, created_at
		FROM payment_events WHERE payment_intent_id = $1 ORDER BY created_at DESC LIMIT 1`, intentID)
	var ev domain.PaymentEvent
	err := row.Scan(&ev.ID, &ev.PaymentIntentID, &ev.ProviderEventID, &ev.ProviderTxRef, &ev.Kind, &ev.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

func (r *intentRepo) FindPendingBefore(ctx context.Context, before time.Time, limit int) ([]domain.PaymentIntent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+intentColumns+` FROM payment_intents
		WHERE status = $1 AND updated_at < $2 LIMIT $3`,
		domain.IntentPending, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var intents []domain.PaymentIntent
	for rows.Next() {
		in, err := scanIntent(rows)
		if err != nil {
			return nil, err
		}
		intents = append(intents, *in)
	}
	return intents, rows.Err()
}
