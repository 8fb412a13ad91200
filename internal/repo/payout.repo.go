package repo

import (
	"context"
	"database/sql"
	"time"

	"escrow-engine/internal/domain"

	"github.com/google/uuid"
)

// PayoutDestination is a provider's configured mobile-money target.
type PayoutDestination struct {
	ProviderUserID uuid.UUID
	MomoNumber     string
	MomoNetwork    string
}

type PayoutRepo interface {
	Create(ctx context.Context, tx *sql.Tx, p *domain.PayoutRequest) error
	FindById(ctx context.Context, id uuid.UUID) (*domain.PayoutRequest, error)
	FindByIdForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.PayoutRequest, error)
	// FindByReferenceForUpdate locks the payout row so a webhook resolution
	// cannot race a concurrent poll of the same transfer.
	FindByReferenceForUpdate(ctx context.Context, tx *sql.Tx, reference string) (*domain.PayoutRequest, error)
	FindRequested(ctx context.Context, limit int) ([]domain.PayoutRequest, error)
	Update(ctx context.Context, tx *sql.Tx, p *domain.PayoutRequest) error
	Destination(ctx context.Context, providerUserID uuid.UUID) (*PayoutDestination, error)
}

type payoutRepo struct {
	db *sql.DB
}

func NewPayoutRepo(db *sql.DB) PayoutRepo {
	return &payoutRepo{db: db}
}

const payoutColumns = `id, provider_user_id, amount, currency, dest_number, dest_network, status, reference, failure_reason, created_at, updated_at`

func scanPayout(row interface{ Scan(...any) error }) (*domain.PayoutRequest, error) {
	var p domain.PayoutRequest
	err := row.Scan(
		&p.ID, &p.ProviderUserID, &p.Amount, &p.Currency, &p.DestNumber, &p.DestNetwork,
		&p.Status, &p.Reference, &p.FailureReason, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *payoutRepo) Create(ctx context.Context, tx *sql.Tx, p *domain.PayoutRequest) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
		p.UpdatedAt = p.CreatedAt
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO payout_requests (id, provider_user_id, amount, currency, dest_number, dest_network, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		p.ID, p.ProviderUserID, p.Amount, p.Currency, p.DestNumber, p.DestNetwork, p.Status, p.CreatedAt, p.UpdatedAt,
	)
	return err
}

func (r *payoutRepo) FindById(ctx context.Context, id uuid.UUID) (*domain.PayoutRequest, error) {
	p, err := scanPayout(r.db.QueryRowContext(ctx,
		`SELECT `+payoutColumns+` FROM payout_requests WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r *payoutRepo) FindByIdForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.PayoutRequest, error) {
	p, err := scanPayout(tx.QueryRowContext(ctx,
		`SELECT `+payoutColumns+` FROM payout_requests WHERE id = $1 FOR UPDATE`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r *payoutRepo) FindByReferenceForUpdate(ctx context.Context, tx *sql.Tx, reference string) (*domain.PayoutRequest, error) {
	p, err := scanPayout(tx.QueryRowContext(ctx,
		`SELECT `+payoutColumns+` FROM payout_requests WHERE reference = $1 FOR UPDATE`, reference))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r *payoutRepo) FindRequested(ctx context.Context, limit int) ([]domain.PayoutRequest, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+payoutColumns+` FROM payout_requests WHERE status = $1 ORDER BY created_at LIMIT $2`,
		domain.PayoutRequested, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payouts []domain.PayoutRequest
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, err
		}
		payouts = append(payouts, *p)
	}
	return payouts, rows.Err()
}

func (r *payoutRepo) Update(ctx context.Context, tx *sql.Tx, p *domain.PayoutRequest) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE payout_requests SET status = $2, reference = $3, failure_reason = $4, updated_at = $5 WHERE id = $1`,
		p.ID, p.Status, p.Reference, p.FailureReason, p.UpdatedAt,
	)
	return err
}

func (r *payoutRepo) Destination(ctx context.Context, providerUserID uuid.UUID) (*PayoutDestination, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT provider_user_id, momo_number, momo_network FROM payout_destinations WHERE provider_user_id = $1`,
		providerUserID)
	var d PayoutDestination
	err := row.Scan(&d.ProviderUserID, &d.MomoNumber, &d.MomoNetwork)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}
