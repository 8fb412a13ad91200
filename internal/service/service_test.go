package service

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"escrow-engine/internal/config"
	"escrow-engine/internal/domain"
	"escrow-engine/internal/notify"
	"escrow-engine/internal/provider"
	"escrow-engine/internal/repo"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	dbOnce sync.Once
	testDB *sql.DB
	dbErr  error
)

// sharedDB starts one throwaway Postgres for the whole package; the
// reaper tears it down after the run. Every test works with its own
// UUIDs so no cross-test cleanup is needed.
func sharedDB(t *testing.T) *sql.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}
	dbOnce.Do(func() {
		ctx := context.Background()
		container, err := postgres.Run(ctx, "postgres:16-alpine",
			postgres.WithInitScripts(filepath.Join("..", "..", "migrations", "schema.sql")),
			postgres.WithDatabase("escrow"),
			postgres.WithUsername("escrow"),
			postgres.WithPassword("escrow"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second)),
		)
		if err != nil {
			dbErr = err
			return
		}
		connStr, err := container.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			dbErr = err
			return
		}
		testDB, dbErr = sql.Open("pgx", connStr)
	})
	if dbErr != nil {
		t.Skipf("postgres container unavailable: %v", dbErr)
	}
	return testDB
}

type fixture struct {
	db         *sql.DB
	orders     repo.OrderRepo
	intents    repo.IntentRepo
	wallets    repo.WalletRepo
	payoutRepo repo.PayoutRepo
	sim        *provider.Simulator
	settlement *SettlementCoordinator
	refunds    *RefundCoordinator
	payouts    *PayoutCoordinator
	ledger     *OrderLedger
	cfg        config.SettlementConfig
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := sharedDB(t)

	cfg := config.SettlementConfig{
		PlatformFeeBps:    1000,
		TaxBps:            500,
		MinPayoutAmount:   decimal.RequireFromString("10.00"),
		PayoutNetworks:    []string{"mtn", "vodafone"},
		CheckoutReturnURL: "https://app.test/return",
	}

	orders := repo.NewOrderRepo(db)
	intents := repo.NewIntentRepo(db)
	wallets := repo.NewWalletRepo(db)
	catalog := repo.NewCatalogRepo(db)
	payouts := repo.NewPayoutRepo(db)

	sim := provider.NewSimulator()
	factory := provider.NewFactoryWithClients(sim, sim, sim)
	notifier := notify.LogNotifier{}

	return &fixture{
		db:         db,
		orders:     orders,
		intents:    intents,
		wallets:    wallets,
		payoutRepo: payouts,
		sim:        sim,
		settlement: NewSettlementCoordinator(db, orders, intents, wallets, catalog, factory, notifier, cfg),
		refunds:    NewRefundCoordinator(db, orders, intents, wallets, factory, notifier),
		payouts:    NewPayoutCoordinator(db, payouts, wallets, factory, notifier, cfg),
		ledger:     NewOrderLedger(db, orders, wallets, notifier),
		cfg:        cfg,
	}
}

func (f *fixture) seedTier(t *testing.T, providerUserID uuid.UUID, price string, pricing domain.PricingType, currency string) domain.ServiceTier {
	t.Helper()
	tier := domain.ServiceTier{
		ID:             uuid.New(),
		ServiceID:      uuid.New(),
		ProviderUserID: providerUserID,
		UnitPrice:      decimal.RequireFromString(price),
		PricingType:    pricing,
		Currency:       currency,
		Active:         true,
	}
	_, err := f.db.Exec(
		`INSERT INTO service_tiers (id, service_id, provider_user_id, unit_price, pricing_type, currency, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		tier.ID, tier.ServiceID, tier.ProviderUserID, tier.UnitPrice, tier.PricingType, tier.Currency, tier.Active,
	)
	require.NoError(t, err)
	return tier
}

func (f *fixture) seedWallet(t *testing.T, providerUserID uuid.UUID, available, pending, currency string) {
	t.Helper()
	_, err := f.db.Exec(
		`INSERT INTO provider_wallets (id, provider_user_id, available_balance, pending_balance, currency)
		VALUES ($1,$2,$3,$4,$5)`,
		uuid.New(), providerUserID, decimal.RequireFromString(available), decimal.RequireFromString(pending), currency,
	)
	require.NoError(t, err)
}

func (f *fixture) seedDestination(t *testing.T, providerUserID uuid.UUID, number, network string) {
	t.Helper()
	_, err := f.db.Exec(
		`INSERT INTO payout_destinations (provider_user_id, momo_number, momo_network) VALUES ($1,$2,$3)`,
		providerUserID, number, network,
	)
	require.NoError(t, err)
}

func (f *fixture) wallet(t *testing.T, providerUserID uuid.UUID) *domain.ProviderWallet {
	t.Helper()
	w, err := f.wallets.FindByProviderUser(context.Background(), providerUserID)
	require.NoError(t, err)
	return w
}

func (f *fixture) order(t *testing.T, id uuid.UUID) *domain.Order {
	t.Helper()
	o, err := f.orders.FindById(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, o)
	return o
}

// settleOneOrder runs a full checkout + simulated payment + verify for one
// flat-priced item and returns the settled order.
func (f *fixture) settleOneOrder(t *testing.T, buyerID, providerUserID uuid.UUID, price string) *domain.Order {
	t.Helper()
	tier := f.seedTier(t, providerUserID, price, domain.PricingFlat, "GHS")

	result, err := f.settlement.Checkout(context.Background(), buyerID, "mobilemoney",
		[]CheckoutItem{{ServiceID: tier.ServiceID, TierID: tier.ID, Quantity: 1}})
	require.NoError(t, err)
	require.Len(t, result.OrderIDs, 1)

	intent, err := f.intents.FindById(context.Background(), result.IntentID)
	require.NoError(t, err)
	require.NotNil(t, intent.ProviderRef)

	f.sim.Complete(*intent.ProviderRef)
	outcome, err := f.settlement.Verify(context.Background(), *intent.ProviderRef)
	require.NoError(t, err)
	require.Len(t, outcome.SettledOrders, 1)

	return f.order(t, result.OrderIDs[0])
}

func requireAmount(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, got.Equal(decimal.RequireFromString(want)), "want %s, got %s", want, got)
}
