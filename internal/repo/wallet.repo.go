package repo

import (
	"context"
	"database/sql"

	"escrow-engine/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// WalletRepo mutates provider wallets strictly with read-modify-write
// increments so concurrent settlements on the same wallet compose.
type WalletRepo interface {
	FindByProviderUser(ctx context.Context, providerUserID uuid.UUID) (*domain.ProviderWallet, error)
	CreditPending(ctx context.Context, tx *sql.Tx, providerUserID uuid.UUID, amount decimal.Decimal, currency string) error
	DebitPending(ctx context.Context, tx *sql.Tx, providerUserID uuid.UUID, amount decimal.Decimal) error
	// MoveAvailableToPending reports false when the available balance does
	// not cover the amount; nothing is mutated in that case.
	MoveAvailableToPending(ctx context.Context, tx *sql.Tx, providerUserID uuid.UUID, amount decimal.Decimal) (bool, error)
	MovePendingToAvailable(ctx context.Context, tx *sql.Tx, providerUserID uuid.UUID, amount decimal.Decimal) error
}

type walletRepo struct {
	db *sql.DB
}

func NewWalletRepo(db *sql.DB) WalletRepo {
	return &walletRepo{db: db}
}

func (r *walletRepo) FindByProviderUser(ctx context.Context, providerUserID uuid.UUID) (*domain.ProviderWallet, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, provider_user_id, available_balance, pending_balance, currency, created_at, updated_at
		FROM provider_wallets WHERE provider_user_id = $1`, providerUserID)
	var w domain.ProviderWallet
	err := row.Scan(&w.ID, &w.ProviderUserID, &w.AvailableBalance, &w.PendingBalance, &w.Currency, &w.CreatedAt, &w.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *walletRepo) CreditPending(ctx context.Context, tx *sql.Tx, providerUserID uuid.UUID, amount decimal.Decimal, currency string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO provider_wallets (id, provider_user_id, available_balance, pending_balance, currency)
		VALUES ($1, $2, 0, $3, $4)
		ON CONFLICT (provider_user_id)
		DO UPDATE SET pending_balance = provider_wallets.pending_balance + EXCLUDED.pending_balance,
			updated_at = now()`,
		uuid.New(), providerUserID, amount, currency,
	)
	return err
}

func (r *walletRepo) DebitPending(ctx context.Context, tx *sql.Tx, providerUserID uuid.UUID, amount decimal.Decimal) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE provider_wallets SET pending_balance = pending_balance - $2, updated_at = now()
		WHERE provider_user_id = $1 AND pending_balance >= $2`,
		providerUserID, amount,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrInsufficientBalance
	}
	return nil
}

func (r *walletRepo) MoveAvailableToPending(ctx context.Context, tx *sql.Tx, providerUserID uuid.UUID, amount decimal.Decimal) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE provider_wallets
		SET available_balance = available_balance - $2,
			pending_balance = pending_balance + $2,
			updated_at = now()
		WHERE provider_user_id = $1 AND available_balance >= $2`,
		providerUserID, amount,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *walletRepo) MovePendingToAvailable(ctx context.Context, tx *sql.Tx, providerUserID uuid.UUID, amount decimal.Decimal) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE provider_wallets
		SET pending_balance = pending_balance - $2,
			available_balance = available_balance + $2,
			updated_at = now()
		WHERE provider_user_id = $1 AND pending_balance >= $2`,
		providerUserID, amount,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrInsufficientBalance
	}
	return nil
}
