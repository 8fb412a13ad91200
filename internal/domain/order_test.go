package domain

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestComputeSplit(t *testing.T) {
	cases := []struct {
		name      string
		unitPrice string
		pricing   PricingType
		quantity  int
		feeBps    int64
		taxBps    int64
		gross     string
		fee       string
		tax       string
		net       string
	}{
		{"ten percent fee, five percent tax of fee", "100.00", PricingFlat, 1, 1000, 500, "100.00", "10.00", "0.50", "89.50"},
		{"per unit multiplies by quantity", "25.00", PricingPerUnit, 4, 1000, 500, "100.00", "10.00", "0.50", "89.50"},
		{"flat ignores quantity", "100.00", PricingFlat, 3, 1000, 500, "100.00", "10.00", "0.50", "89.50"},
		{"zero quantity clamps to one", "40.00", PricingPerUnit, 0, 1000, 500, "40.00", "4.00", "0.20", "35.80"},
		{"zero fee and tax", "59.99", PricingFlat, 1, 0, 0, "59.99", "0.00", "0.00", "59.99"},
		{"odd amounts round to cents", "33.33", PricingPerUnit, 3, 250, 750, "99.99", "2.50", "0.19", "97.30"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			split := ComputeSplit(d(tc.unitPrice), tc.pricing, tc.quantity, tc.feeBps, tc.taxBps)
			assert.True(t, split.Gross.Equal(d(tc.gross)), "gross %s != %s", split.Gross, tc.gross)
			assert.True(t, split.Fee.Equal(d(tc.fee)), "fee %s != %s", split.Fee, tc.fee)
			assert.True(t, split.Tax.Equal(d(tc.tax)), "tax %s != %s", split.Tax, tc.tax)
			assert.True(t, split.Net.Equal(d(tc.net)), "net %s != %s", split.Net, tc.net)
		})
	}
}

func TestComputeSplitNetIdentity(t *testing.T) {
	// net must always equal gross - fee - tax exactly, whatever the basis
	// point configuration.
	for _, feeBps := range []int64{0, 1, 333, 1000, 2500, 9999} {
		for _, taxBps := range []int64{0, 1, 500, 1750} {
			split := ComputeSplit(d("123.45"), PricingPerUnit, 7, feeBps, taxBps)
			want := split.Gross.Sub(split.Fee).Sub(split.Tax)
			require.True(t, split.Net.Equal(want), "feeBps=%d taxBps=%d", feeBps, taxBps)
		}
	}
}

func TestOrderTransitions(t *testing.T) {
	happyPath := []OrderStatus{
		OrderPaidToEscrow, OrderAccepted, OrderInProgress, OrderDelivered, OrderApproved, OrderReleased,
	}
	o := &Order{Status: OrderCreated}
	for _, next := range happyPath {
		require.NoError(t, o.Transition(next))
		require.Equal(t, next, o.Status)
	}

	// Released is terminal.
	err := o.Transition(OrderCancelled)
	require.ErrorIs(t, err, ErrStateConflict)
}

func TestOrderCancelBranches(t *testing.T) {
	// An unpaid order cancels directly.
	o := &Order{Status: OrderCreated}
	require.NoError(t, o.Transition(OrderCancelled))

	// An escrowed order can go to refund_pending and on to refunded.
	o = &Order{Status: OrderPaidToEscrow}
	require.NoError(t, o.Transition(OrderRefundPending))
	require.NoError(t, o.Transition(OrderRefunded))

	// Cancelling once a refund is in flight is rejected, not ignored.
	o = &Order{Status: OrderRefundPending}
	err := o.Transition(OrderCancelled)
	require.ErrorIs(t, err, ErrStateConflict)

	o = &Order{Status: OrderRefunded}
	err = o.Transition(OrderCancelled)
	require.ErrorIs(t, err, ErrStateConflict)
}

func TestOrderForbiddenTransitions(t *testing.T) {
	cases := []struct {
		from, to OrderStatus
	}{
		{OrderCreated, OrderAccepted},      // must settle first
		{OrderCreated, OrderReleased},      // cannot skip the lifecycle
		{OrderAccepted, OrderPaidToEscrow}, // no going back
		{OrderDelivered, OrderCancelled},   // too late to cancel
		{OrderRefunded, OrderPaidToEscrow}, // refund is terminal
		{OrderChargeback, OrderReleased},   // chargeback is terminal
	}
	for _, tc := range cases {
		assert.False(t, CanTransition(tc.from, tc.to), "%s -> %s should be rejected", tc.from, tc.to)
	}
}

func TestPayoutTransitions(t *testing.T) {
	p := &PayoutRequest{Status: PayoutRequested}
	require.NoError(t, p.Transition(PayoutProcessing))
	require.NoError(t, p.Transition(PayoutPaid))
	require.True(t, p.Status.Terminal())

	// A terminal payout is never re-resolved.
	err := p.Transition(PayoutFailed)
	require.ErrorIs(t, err, ErrStateConflict)

	p = &PayoutRequest{Status: PayoutRequested}
	require.NoError(t, p.Transition(PayoutCancelled))
	require.True(t, p.Status.Terminal())

	p = &PayoutRequest{Status: PayoutProcessing}
	err = p.Transition(PayoutCancelled)
	require.ErrorIs(t, err, ErrStateConflict)
}

func TestParseProvider(t *testing.T) {
	p, ok := ParseProvider("cardnetwork")
	require.True(t, ok)
	require.Equal(t, ProviderCardNetwork, p)

	_, ok = ParseProvider("paypal")
	require.False(t, ok)
}

func TestOrderEventTypesAreDistinct(t *testing.T) {
	all := []OrderEventType{
		OrderEventCreated, OrderEventPaid, OrderEventAccepted, OrderEventDelivered,
		OrderEventApproved, OrderEventCancelled, OrderEventRefundInitiated,
		OrderEventRefunded, OrderEventReleased,
	}
	seen := make(map[OrderEventType]bool, len(all))
	for _, e := range all {
		assert.False(t, seen[e], "duplicate event type %q", e)
		seen[e] = true
	}
}

func TestErrorTaxonomyIsDistinct(t *testing.T) {
	all := []error{
		ErrValidation, ErrNotFound, ErrForbidden, ErrProviderUnavailable,
		ErrProviderRejected, ErrStateConflict, ErrInsufficientBalance, ErrMissingPaymentReference,
	}
	for i, a := range all {
		for j, b := range all {
			if i != j {
				assert.False(t, errors.Is(a, b))
			}
		}
	}
}
