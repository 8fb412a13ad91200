package service

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"escrow-engine/internal/config"
	"escrow-engine/internal/domain"
	"escrow-engine/internal/metrics"
	"escrow-engine/internal/notify"
	"escrow-engine/internal/provider"
	"escrow-engine/internal/repo"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CheckoutItem is one line of a checkout request.
type CheckoutItem struct {
	ServiceID uuid.UUID
	TierID    uuid.UUID
	Quantity  int
}

type CheckoutResult struct {
	IntentID    uuid.UUID
	OrderIDs    []uuid.UUID
	RedirectURL string
}

// FinalizeOutcome reports what a finalize attempt actually did. A repeat
// delivery yields AlreadySettled with no ledger movement.
type FinalizeOutcome struct {
	IntentID       uuid.UUID
	AlreadySettled bool
	SettledOrders  []domain.Order
}

// SettlementCoordinator owns the checkout -> verify -> finalize flow. The
// payment intent row is the resumption point between HTTP calls; nothing
// in memory spans the flow.
type SettlementCoordinator struct {
	db        *sql.DB
	orders    repo.OrderRepo
	intents   repo.IntentRepo
	wallets   repo.WalletRepo
	catalog   repo.CatalogRepo
	providers *provider.Factory
	notifier  notify.Notifier
	cfg       config.SettlementConfig
}

func NewSettlementCoordinator(
	db *sql.DB,
	orders repo.OrderRepo,
	intents repo.IntentRepo,
	wallets repo.WalletRepo,
	catalog repo.CatalogRepo,
	providers *provider.Factory,
	notifier notify.Notifier,
	cfg config.SettlementConfig,
) *SettlementCoordinator {
	return &SettlementCoordinator{
		db:        db,
		orders:    orders,
		intents:   intents,
		wallets:   wallets,
		catalog:   catalog,
		providers: providers,
		notifier:  notifier,
		cfg:       cfg,
	}
}

// Checkout creates orders and a payment intent for the buyer's items, then
// opens a hosted checkout with the selected provider. The provider call
// happens after the transaction commits; on provider failure the intent is
// marked failed and the orders stay created (abandoned, no money moved).
func (s *SettlementCoordinator) Checkout(ctx context.Context, buyerID uuid.UUID, providerName string, items []CheckoutItem) (*CheckoutResult, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: checkout requires at least one item", domain.ErrValidation)
	}
	prov, ok := domain.ParseProvider(providerName)
	if !ok {
		return nil, fmt.Errorf("%w: unknown payment provider %q", domain.ErrValidation, providerName)
	}
	client, err := s.providers.ClientFor(prov)
	if err != nil {
		return nil, err
	}

	// Resolve every tier before creating anything so a mixed-currency or
	// invalid cart rejects with zero rows written.
	tiers := make([]*domain.ServiceTier, len(items))
	currency := ""
	for i, item := range items {
		tier, err := s.catalog.ResolveTier(ctx, item.ServiceID, item.TierID)
		if err != nil {
			return nil, err
		}
		if tier == nil || !tier.Active {
			return nil, fmt.Errorf("%w: tier %s not found for service %s", domain.ErrNotFound, item.TierID, item.ServiceID)
		}
		if tier.ProviderUserID == buyerID {
			return nil, fmt.Errorf("%w: cannot purchase own service", domain.ErrValidation)
		}
		if currency == "" {
			currency = tier.Currency
		} else if tier.Currency != currency {
			return nil, fmt.Errorf("%w: mixed currencies %s and %s in one checkout", domain.ErrValidation, currency, tier.Currency)
		}
		tiers[i] = tier
	}

	now := time.Now()
	intent := &domain.PaymentIntent{
		ID:        uuid.New(),
		BuyerID:   buyerID,
		Provider:  prov,
		Status:    domain.IntentCreated,
		Currency:  currency,
		CreatedAt: now,
		UpdatedAt: now,
	}

	var orders []*domain.Order
	total := decimal.Zero
	for i, item := range items {
		split := domain.ComputeSplit(tiers[i].UnitPrice, tiers[i].PricingType, item.Quantity, s.cfg.PlatformFeeBps, s.cfg.TaxBps)
		quantity := item.Quantity
		if quantity < 1 || tiers[i].PricingType == domain.PricingFlat {
			quantity = 1
		}
		intentID := intent.ID
		orders = append(orders, &domain.Order{
			ID:              uuid.New(),
			BuyerID:         buyerID,
			ProviderID:      tiers[i].ProviderUserID,
			ServiceID:       item.ServiceID,
			TierID:          item.TierID,
			Quantity:        quantity,
			AmountGross:     split.Gross,
			PlatformFee:     split.Fee,
			TaxAmount:       split.Tax,
			AmountNet:       split.Net,
			Currency:        currency,
			PaymentIntentID: &intentID,
			Status:          domain.OrderCreated,
			CreatedAt:       now,
			UpdatedAt:       now,
		})
		total = total.Add(split.Gross)
	}
	intent.Amount = total

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := s.intents.Create(ctx, tx, intent); err != nil {
		return nil, err
	}
	orderIDs := make([]uuid.UUID, 0, len(orders))
	for _, o := range orders {
		if err := s.orders.CreateOrder(ctx, tx, o); err != nil {
			return nil, err
		}
		buyer := o.BuyerID
		if err := s.orders.AppendEvent(ctx, tx, &domain.OrderEvent{OrderID: o.ID, ActorID: &buyer, Type: domain.OrderEventCreated}); err != nil {
			return nil, err
		}
		orderIDs = append(orderIDs, o.ID)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	session, err := s.timedCheckout(ctx, client, prov, intent)
	if err != nil {
		if markErr := s.intents.MarkFailed(ctx, intent.ID, err.Error()); markErr != nil {
			log.Printf("settlement: mark intent %s failed: %v", intent.ID, markErr)
		}
		metrics.CheckoutsTotal.WithLabelValues("provider_error").Inc()
		return nil, err
	}
	if err := s.intents.MarkPending(ctx, intent.ID, session.ProviderRef); err != nil {
		return nil, err
	}
	metrics.CheckoutsTotal.WithLabelValues("ok").Inc()

	for _, o := range orders {
		s.notifyOrder(ctx, o, buyerID, "order_created", "Order created", "Your order is awaiting payment")
	}

	return &CheckoutResult{IntentID: intent.ID, OrderIDs: orderIDs, RedirectURL: session.CheckoutURL}, nil
}

func (s *SettlementCoordinator) timedCheckout(ctx context.Context, client provider.Client, prov domain.PaymentProvider, intent *domain.PaymentIntent) (*provider.CheckoutSession, error) {
	start := time.Now()
	session, err := client.CreateCheckout(ctx, intent.Amount, intent.Currency, intent.ID.String(), s.cfg.CheckoutReturnURL)
	metrics.ProviderCallDuration.WithLabelValues(string(prov), "create_checkout").Observe(time.Since(start).Seconds())
	return session, err
}

// Verify is the client-triggered settlement path, typically hit from the
// redirect callback. It fetches the provider's truth, asserts it against
// the stored intent, and only then finalizes.
func (s *SettlementCoordinator) Verify(ctx context.Context, providerRef string) (*FinalizeOutcome, error) {
	intent, err := s.intents.FindByProviderRef(ctx, providerRef)
	if err != nil {
		return nil, err
	}
	if intent == nil {
		return nil, fmt.Errorf("%w: no payment intent for reference %q", domain.ErrNotFound, providerRef)
	}
	if intent.Status == domain.IntentSucceeded {
		return &FinalizeOutcome{IntentID: intent.ID, AlreadySettled: true}, nil
	}

	client, err := s.providers.ClientFor(intent.Provider)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	res, err := client.VerifyTransaction(ctx, providerRef)
	metrics.ProviderCallDuration.WithLabelValues(string(intent.Provider), "verify").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	if reason := mismatch(intent, res); reason != "" {
		if markErr := s.intents.MarkFailed(ctx, intent.ID, reason); markErr != nil {
			log.Printf("settlement: mark intent %s failed: %v", intent.ID, markErr)
		}
		metrics.FinalizationsTotal.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w: payment not successful", domain.ErrProviderRejected)
	}

	return s.Finalize(ctx, intent.ID, "verify-"+res.Reference, res.Reference)
}

// ApplyWebhook settles an intent from a signature-verified provider
// event. The event's reported amount and currency are held to the same
// preconditions as the verify path; a short or wrong-currency settlement
// marks the intent failed and is never applied.
func (s *SettlementCoordinator) ApplyWebhook(ctx context.Context, providerRef, providerEventID string, amount decimal.Decimal, currency string) (*FinalizeOutcome, error) {
	intent, err := s.intents.FindByProviderRef(ctx, providerRef)
	if err != nil {
		return nil, err
	}
	if intent == nil {
		return nil, fmt.Errorf("%w: no payment intent for reference %q", domain.ErrNotFound, providerRef)
	}
	if intent.Status == domain.IntentSucceeded {
		metrics.FinalizationsTotal.WithLabelValues("duplicate").Inc()
		return &FinalizeOutcome{IntentID: intent.ID, AlreadySettled: true}, nil
	}

	reported := &provider.VerifyResult{Succeeded: true, Amount: amount, Currency: currency, Reference: providerRef}
	if reason := mismatch(intent, reported); reason != "" {
		if markErr := s.intents.MarkFailed(ctx, intent.ID, reason); markErr != nil {
			log.Printf("settlement: mark intent %s failed: %v", intent.ID, markErr)
		}
		metrics.FinalizationsTotal.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w: payment not successful", domain.ErrProviderRejected)
	}
	return s.Finalize(ctx, intent.ID, providerEventID, providerRef)
}

// Poll is the reconciliation variant of Verify. A provider that simply
// has not seen the payment yet leaves the intent pending untouched;
// only a settled charge whose details check out finalizes, and only a
// genuine mismatch on a settled charge marks the intent failed.
func (s *SettlementCoordinator) Poll(ctx context.Context, providerRef string) (*FinalizeOutcome, bool, error) {
	intent, err := s.intents.FindByProviderRef(ctx, providerRef)
	if err != nil {
		return nil, false, err
	}
	if intent == nil {
		return nil, false, fmt.Errorf("%w: no payment intent for reference %q", domain.ErrNotFound, providerRef)
	}
	if intent.Status == domain.IntentSucceeded {
		return &FinalizeOutcome{IntentID: intent.ID, AlreadySettled: true}, true, nil
	}

	client, err := s.providers.ClientFor(intent.Provider)
	if err != nil {
		return nil, false, err
	}
	res, err := client.VerifyTransaction(ctx, providerRef)
	if err != nil {
		return nil, false, err
	}
	if !res.Succeeded {
		return nil, false, nil
	}
	if reason := mismatch(intent, res); reason != "" {
		if markErr := s.intents.MarkFailed(ctx, intent.ID, reason); markErr != nil {
			log.Printf("settlement: mark intent %s failed: %v", intent.ID, markErr)
		}
		metrics.FinalizationsTotal.WithLabelValues("rejected").Inc()
		return nil, false, fmt.Errorf("%w: payment not successful", domain.ErrProviderRejected)
	}
	outcome, err := s.Finalize(ctx, intent.ID, "verify-"+res.Reference, res.Reference)
	if err != nil {
		return nil, false, err
	}
	return outcome, true, nil
}

// mismatch applies the settlement preconditions: provider says success,
// references and currency match exactly, and the provider-reported amount
// covers the stored amount. Partial settlement is never accepted.
func mismatch(intent *domain.PaymentIntent, res *provider.VerifyResult) string {
	switch {
	case !res.Succeeded:
		return "provider reports transaction not successful"
	case intent.ProviderRef == nil || res.Reference != *intent.ProviderRef:
		return "provider reference mismatch"
	case res.Currency != intent.Currency:
		return fmt.Sprintf("currency mismatch: provider reported %s, expected %s", res.Currency, intent.Currency)
	case res.Amount.LessThan(intent.Amount):
		return fmt.Sprintf("amount mismatch: provider reported %s, expected at least %s", res.Amount, intent.Amount)
	}
	return ""
}

// Finalize settles a payment intent exactly once. The FOR UPDATE lock on
// the intent row serializes concurrent attempts; whichever commits first
// moves the money and every later attempt sees succeeded and no-ops.
func (s *SettlementCoordinator) Finalize(ctx context.Context, intentID uuid.UUID, providerEventID, providerTxRef string) (*FinalizeOutcome, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	intent, err := s.intents.FindByIdForUpdate(ctx, tx, intentID)
	if err != nil {
		return nil, err
	}
	if intent == nil {
		return nil, fmt.Errorf("%w: payment intent %s", domain.ErrNotFound, intentID)
	}
	if intent.Status == domain.IntentSucceeded {
		metrics.FinalizationsTotal.WithLabelValues("duplicate").Inc()
		return &FinalizeOutcome{IntentID: intentID, AlreadySettled: true}, nil
	}

	if err := s.intents.MarkSucceeded(ctx, tx, intentID); err != nil {
		return nil, err
	}
	if _, err := s.intents.InsertEvent(ctx, tx, &domain.PaymentEvent{
		PaymentIntentID: intentID,
		ProviderEventID: providerEventID,
		ProviderTxRef:   providerTxRef,
		Kind:            "settlement",
	}); err != nil {
		return nil, err
	}

	orders, err := s.orders.FindByIntentForUpdate(ctx, tx, intentID)
	if err != nil {
		return nil, err
	}

	var settled []domain.Order
	for i := range orders {
		o := &orders[i]
		if o.Status != domain.OrderCreated {
			// Already advanced by a prior partial finalize; leave it.
			continue
		}
		if err := o.Transition(domain.OrderPaidToEscrow); err != nil {
			return nil, err
		}
		if err := s.orders.UpdateOrder(ctx, tx, o); err != nil {
			return nil, err
		}
		if err := s.wallets.CreditPending(ctx, tx, o.ProviderID, o.AmountNet, o.Currency); err != nil {
			return nil, err
		}
		if err := s.orders.AppendEvent(ctx, tx, &domain.OrderEvent{OrderID: o.ID, Type: domain.OrderEventPaid}); err != nil {
			return nil, err
		}
		settled = append(settled, *o)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	metrics.FinalizationsTotal.WithLabelValues("settled").Inc()

	for i := range settled {
		o := &settled[i]
		s.notifyOrder(ctx, o, o.BuyerID, "order_paid", "Payment received", "Funds are held in escrow")
	}

	return &FinalizeOutcome{IntentID: intentID, SettledOrders: settled}, nil
}

// notifyOrder fans one order event out to both parties. Best effort only.
func (s *SettlementCoordinator) notifyOrder(ctx context.Context, o *domain.Order, actorID uuid.UUID, eventType, title, body string) {
	data := map[string]string{"order_id": o.ID.String()}
	s.notifier.Notify(ctx, notify.Notification{UserID: o.BuyerID, ActorID: actorID, Type: eventType, Title: title, Body: body, Data: data})
	s.notifier.Notify(ctx, notify.Notification{UserID: o.ProviderID, ActorID: actorID, Type: eventType, Title: title, Body: body, Data: data})
}
