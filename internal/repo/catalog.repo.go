package repo

import (
	"context"
	"database/sql"

	"escrow-engine/internal/domain"

	"github.com/google/uuid"
)

// CatalogRepo is the read-only intake surface over the service catalog,
// which is owned by another subsystem.
type CatalogRepo interface {
	ResolveTier(ctx context.Context, serviceID, tierID uuid.UUID) (*domain.ServiceTier, error)
}

type catalogRepo struct {
	db *sql.DB
}

func NewCatalogRepo(db *sql.DB) CatalogRepo {
	return &catalogRepo{db: db}
}

func (r *catalogRepo) ResolveTier(ctx context.Context, serviceID, tierID uuid.UUID) (*domain.ServiceTier, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, service_id, provider_user_id, unit_price, pricing_type, currency, active
		FROM service_tiers WHERE id = $1 AND service_id = $2`, tierID, serviceID)
	var t domain.ServiceTier
	err := row.Scan(&t.ID, &t.ServiceID, &t.ProviderUserID, &t.UnitPrice, &t.PricingType, &t.Currency, &t.Active)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}
