package service

import (
	"context"
	"database/sql"
	"fmt"
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

// PayoutCoordinator drains available balance out to mobile money. A
// request reserves the funds synchronously; the transfer itself is
// submitted later by a worker and resolved by webhook.
type PayoutCoordinator struct {
	db        *sql.DB
	payouts   repo.PayoutRepo
	wallets   repo.WalletRepo
	providers *provider.Factory
	notifier  notify.Notifier
	cfg       config.SettlementConfig
}

func NewPayoutCoordinator(
	db *sql.DB,
	payouts repo.PayoutRepo,
	wallets repo.WalletRepo,
	providers *provider.Factory,
	notifier notify.Notifier,
	cfg config.SettlementConfig,
) *PayoutCoordinator {
	return &PayoutCoordinator{
		db:        db,
		payouts:   payouts,
		wallets:   wallets,
		providers: providers,
		notifier:  notifier,
		cfg:       cfg,
	}
}

// Request validates eligibility and reserves the amount: available
// balance moves to pending in the same transaction that records the
// payout. No external call happens here.
func (p *PayoutCoordinator) Request(ctx context.Context, providerUserID uuid.UUID, amount decimal.Decimal) (*domain.PayoutRequest, error) {
	dest, err := p.payouts.Destination(ctx, providerUserID)
	if err != nil {
		return nil, err
	}
	if dest == nil {
		return nil, fmt.Errorf("%w: payout destination not configured", domain.ErrValidation)
	}
	if !p.cfg.NetworkSupported(dest.MomoNetwork) {
		return nil, fmt.Errorf("%w: network %q is not supported for payouts", domain.ErrValidation, dest.MomoNetwork)
	}
	if amount.LessThan(p.cfg.MinPayoutAmount) {
		return nil, fmt.Errorf("%w: amount %s is below the minimum payout of %s", domain.ErrValidation, amount, p.cfg.MinPayoutAmount)
	}
	wallet, err := p.wallets.FindByProviderUser(ctx, providerUserID)
	if err != nil {
		return nil, err
	}
	if wallet == nil {
		return nil, fmt.Errorf("%w: no wallet for provider", domain.ErrInsufficientBalance)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	moved, err := p.wallets.MoveAvailableToPending(ctx, tx, providerUserID, amount)
	if err != nil {
		return nil, err
	}
	if !moved {
		metrics.PayoutsTotal.WithLabelValues("insufficient").Inc()
		return nil, fmt.Errorf("%w: available balance does not cover %s", domain.ErrInsufficientBalance, amount)
	}

	payout := &domain.PayoutRequest{
		ID:             uuid.New(),
		ProviderUserID: providerUserID,
		Amount:         amount,
		Currency:       wallet.Currency,
		DestNumber:     dest.MomoNumber,
		DestNetwork:    dest.MomoNetwork,
		Status:         domain.PayoutRequested,
	}
	if err := p.payouts.Create(ctx, tx, payout); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	metrics.PayoutsTotal.WithLabelValues("requested").Inc()
	return payout, nil
}

// Submit hands one requested payout to the transfer rail and records the
// external reference. Rail failure leaves the payout requested so a later
// pass can retry it.
func (p *PayoutCoordinator) Submit(ctx context.Context, payoutID uuid.UUID) error {
	payout, err := p.payouts.FindById(ctx, payoutID)
	if err != nil {
		return err
	}
	if payout == nil {
		return fmt.Errorf("%w: payout %s", domain.ErrNotFound, payoutID)
	}
	if payout.Status != domain.PayoutRequested {
		return fmt.Errorf("%w: payout %s is %s", domain.ErrStateConflict, payoutID, payout.Status)
	}

	rail, err := p.providers.Rail()
	if err != nil {
		return err
	}
	start := time.Now()
	reference, err := rail.SubmitTransfer(ctx, payout.DestNumber, payout.DestNetwork, payout.Amount, payout.Currency, payout.ID.String())
	metrics.ProviderCallDuration.WithLabelValues(string(domain.ProviderMobileMoney), "transfer").Observe(time.Since(start).Seconds())
	if err != nil {
		return err
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	locked, err := p.payouts.FindByIdForUpdate(ctx, tx, payoutID)
	if err != nil {
		return err
	}
	if locked == nil || locked.Status != domain.PayoutRequested {
		return fmt.Errorf("%w: payout %s changed state", domain.ErrStateConflict, payoutID)
	}
	if err := locked.Transition(domain.PayoutProcessing); err != nil {
		return err
	}
	locked.Reference = &reference
	if err := p.payouts.Update(ctx, tx, locked); err != nil {
		return err
	}
	return tx.Commit()
}

// Resolve applies the transfer rail's webhook verdict. Terminal payouts
// are never re-resolved; paid leaves the pending debit in place (the money
// left the system), failed returns the funds to available.
func (p *PayoutCoordinator) Resolve(ctx context.Context, reference string, succeeded bool, failureReason string) (*domain.PayoutRequest, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	payout, err := p.payouts.FindByReferenceForUpdate(ctx, tx, reference)
	if err != nil {
		return nil, err
	}
	if payout == nil {
		return nil, fmt.Errorf("%w: no payout with reference %q", domain.ErrNotFound, reference)
	}
	if payout.Status.Terminal() {
		return payout, nil
	}

	if succeeded {
		if err := payout.Transition(domain.PayoutPaid); err != nil {
			return nil, err
		}
		if err := p.wallets.DebitPending(ctx, tx, payout.ProviderUserID, payout.Amount); err != nil {
			return nil, err
		}
	} else {
		if err := payout.Transition(domain.PayoutFailed); err != nil {
			return nil, err
		}
		if failureReason != "" {
			payout.FailureReason = &failureReason
		}
		if err := p.wallets.MovePendingToAvailable(ctx, tx, payout.ProviderUserID, payout.Amount); err != nil {
			return nil, err
		}
	}
	if err := p.payouts.Update(ctx, tx, payout); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	metrics.PayoutsTotal.WithLabelValues(string(payout.Status)).Inc()

	title := "Payout sent"
	body := "Your payout was delivered to " + payout.DestNumber
	if payout.Status == domain.PayoutFailed {
		title = "Payout failed"
		body = "Your payout could not be delivered; the funds are back in your balance"
	}
	p.notifier.Notify(ctx, notify.Notification{
		UserID: payout.ProviderUserID,
		Type:   "payout_update",
		Title:  title,
		Body:   body,
		Data:   map[string]string{"payout_id": payout.ID.String()},
	})
	return payout, nil
}

// Cancel withdraws a payout that has not been submitted yet and returns
// the reserved funds to the available balance.
func (p *PayoutCoordinator) Cancel(ctx context.Context, providerUserID, payoutID uuid.UUID) (*domain.PayoutRequest, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	payout, err := p.payouts.FindByIdForUpdate(ctx, tx, payoutID)
	if err != nil {
		return nil, err
	}
	if payout == nil {
		return nil, fmt.Errorf("%w: payout %s", domain.ErrNotFound, payoutID)
	}
	if payout.ProviderUserID != providerUserID {
		return nil, fmt.Errorf("%w: payout %s", domain.ErrForbidden, payoutID)
	}
	if err := payout.Transition(domain.PayoutCancelled); err != nil {
		return nil, err
	}
	if err := p.wallets.MovePendingToAvailable(ctx, tx, payout.ProviderUserID, payout.Amount); err != nil {
		return nil, err
	}
	if err := p.payouts.Update(ctx, tx, payout); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	metrics.PayoutsTotal.WithLabelValues("cancelled").Inc()
	return payout, nil
}
