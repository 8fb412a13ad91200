package worker

import (
	"context"
	"log"
	"time"

	"escrow-engine/internal/repo"
	"escrow-engine/internal/service"
)

// ReconciliationWorker is the polling-driven settlement path: payment
// intents stuck in pending (webhook lost, user never returned from the
// redirect) are re-verified against the provider's records on a timer.
type ReconciliationWorker struct {
	intents    repo.IntentRepo
	settlement *service.SettlementCoordinator
	interval   time.Duration
	stuckAfter time.Duration
	batchSize  int
}

func NewReconciliationWorker(
	intents repo.IntentRepo,
	settlement *service.SettlementCoordinator,
	interval, stuckAfter time.Duration,
) *ReconciliationWorker {
	return &ReconciliationWorker{
		intents:    intents,
		settlement: settlement,
		interval:   interval,
		stuckAfter: stuckAfter,
		batchSize:  50,
	}
}

func (rw *ReconciliationWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(rw.interval)
	defer ticker.Stop()

	log.Println("Reconciliation worker started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := rw.process(ctx); err != nil {
				log.Printf("Reconciliation failed: %v", err)
			}
		}
	}
}

func (rw *ReconciliationWorker) process(ctx context.Context) error {
	stuck, err := rw.intents.FindPendingBefore(ctx, time.Now().Add(-rw.stuckAfter), rw.batchSize)
	if err != nil {
		return err
	}
	if len(stuck) == 0 {
		return nil
	}

	log.Printf("Found %d pending payment intents to re-verify", len(stuck))

	for _, intent := range stuck {
		if intent.ProviderRef == nil {
			continue
		}
		outcome, settled, err := rw.settlement.Poll(ctx, *intent.ProviderRef)
		if err != nil {
			log.Printf("Re-verify intent %s: %v", intent.ID, err)
			continue
		}
		if settled && !outcome.AlreadySettled {
			log.Printf("Recovered lost settlement for intent %s (%d orders)", intent.ID, len(outcome.SettledOrders))
		}
	}
	return nil
}
