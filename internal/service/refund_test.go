package service

import (
	"context"
	"testing"

	"escrow-engine/internal/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCancelUnpaidOrderTakesNoRefund(t *testing.T) {
	f := newFixture(t)
	buyer, seller := uuid.New(), uuid.New()
	tier := f.seedTier(t, seller, "100.00", domain.PricingFlat, "GHS")

	result, err := f.settlement.Checkout(context.Background(), buyer, "mobilemoney",
		[]CheckoutItem{{ServiceID: tier.ServiceID, TierID: tier.ID, Quantity: 1}})
	require.NoError(t, err)

	order, err := f.refunds.CancelOrder(context.Background(), buyer, "buyer", result.OrderIDs[0], "changed my mind")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderCancelled, order.Status)
	assert.NotNil(t, order.CancelledAt)
	assert.Nil(t, order.RefundReference)

	// Never reached escrow, so no wallet exists and none was touched.
	assert.Nil(t, f.wallet(t, seller))
}

func TestCancelEscrowedOrderRefundsImmediately(t *testing.T) {
	f := newFixture(t)
	buyer, seller := uuid.New(), uuid.New()
	order := f.settleOneOrder(t, buyer, seller, "100.00")

	cancelled, err := f.refunds.CancelOrder(context.Background(), buyer, "buyer", order.ID, "not needed")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderRefunded, cancelled.Status)
	require.NotNil(t, cancelled.RefundReference)
	assert.Equal(t, "mobilemoney", *cancelled.RefundProvider)
	assert.NotNil(t, cancelled.RefundRequestedAt)
	assert.NotNil(t, cancelled.RefundCompletedAt)

	requireAmount(t, "0.00", f.wallet(t, seller).PendingBalance)
}

func TestCancelEscrowedOrderPendingRefund(t *testing.T) {
	f := newFixture(t)
	buyer, seller := uuid.New(), uuid.New()
	order := f.settleOneOrder(t, buyer, seller, "100.00")

	f.sim.PendingRefunds = true
	cancelled, err := f.refunds.CancelOrder(context.Background(), buyer, "buyer", order.ID, "dispute")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderRefundPending, cancelled.Status)
	require.NotNil(t, cancelled.RefundReference)
	assert.Nil(t, cancelled.RefundCompletedAt)

	// The escrow is debited at initiation, not at confirmation.
	requireAmount(t, "0.00", f.wallet(t, seller).PendingBalance)

	// Provider later confirms the refund.
	resolved, err := f.refunds.ResolveRefund(context.Background(), *cancelled.RefundReference)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderRefunded, resolved.Status)
	assert.NotNil(t, resolved.RefundCompletedAt)

	// The confirmation webhook replayed is a no-op and the wallet is
	// never touched a second time.
	resolved, err = f.refunds.ResolveRefund(context.Background(), *cancelled.RefundReference)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderRefunded, resolved.Status)
	requireAmount(t, "0.00", f.wallet(t, seller).PendingBalance)
}

func TestCancelRejectedOnceRefundInFlight(t *testing.T) {
	f := newFixture(t)
	buyer, seller := uuid.New(), uuid.New()
	order := f.settleOneOrder(t, buyer, seller, "100.00")

	f.sim.PendingRefunds = true
	_, err := f.refunds.CancelOrder(context.Background(), buyer, "buyer", order.ID, "dispute")
	require.NoError(t, err)

	_, err = f.refunds.CancelOrder(context.Background(), buyer, "buyer", order.ID, "again")
	require.ErrorIs(t, err, domain.ErrStateConflict)
}

func TestCancelByStrangerForbidden(t *testing.T) {
	f := newFixture(t)
	buyer, seller := uuid.New(), uuid.New()
	order := f.settleOneOrder(t, buyer, seller, "100.00")

	_, err := f.refunds.CancelOrder(context.Background(), uuid.New(), "buyer", order.ID, "not mine")
	require.ErrorIs(t, err, domain.ErrForbidden)

	// An admin may cancel on either party's behalf.
	cancelled, err := f.refunds.CancelOrder(context.Background(), uuid.New(), "admin", order.ID, "support ticket")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderRefunded, cancelled.Status)
}

func TestCancelDeliveredOrderRejected(t *testing.T) {
	f := newFixture(t)
	buyer, seller := uuid.New(), uuid.New()
	order := f.settleOneOrder(t, buyer, seller, "100.00")

	_, err := f.ledger.Accept(context.Background(), seller, order.ID)
	require.NoError(t, err)
	_, err = f.ledger.Deliver(context.Background(), seller, order.ID)
	require.NoError(t, err)

	_, err = f.refunds.CancelOrder(context.Background(), buyer, "buyer", order.ID, "too late")
	require.ErrorIs(t, err, domain.ErrStateConflict)
}

func TestLedgerLifecycleReleasesEscrow(t *testing.T) {
	f := newFixture(t)
	buyer, seller := uuid.New(), uuid.New()
	order := f.settleOneOrder(t, buyer, seller, "100.00")

	// Only the provider may accept.
	_, err := f.ledger.Accept(context.Background(), buyer, order.ID)
	require.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.ledger.Accept(context.Background(), seller, order.ID)
	require.NoError(t, err)
	_, err = f.ledger.Start(context.Background(), seller, order.ID)
	require.NoError(t, err)
	_, err = f.ledger.Deliver(context.Background(), seller, order.ID)
	require.NoError(t, err)

	// Only the buyer approves the delivery.
	_, err = f.ledger.Approve(context.Background(), seller, order.ID)
	require.ErrorIs(t, err, domain.ErrForbidden)
	_, err = f.ledger.Approve(context.Background(), buyer, order.ID)
	require.NoError(t, err)

	released, err := f.ledger.Release(context.Background(), buyer, "buyer", order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderReleased, released.Status)

	w := f.wallet(t, seller)
	requireAmount(t, "89.50", w.AvailableBalance)
	requireAmount(t, "0.00", w.PendingBalance)
}
