package worker

import (
	"context"
	"log"
	"time"

	"escrow-engine/internal/repo"
	"escrow-engine/internal/service"
)

// PayoutSubmitter drains requested payouts onto the transfer rail on a
// timer. Submission failures leave the payout requested so the next
// sweep retries it.
type PayoutSubmitter struct {
	payouts   repo.PayoutRepo
	coord     *service.PayoutCoordinator
	interval  time.Duration
	batchSize int
}

func NewPayoutSubmitter(payouts repo.PayoutRepo, coord *service.PayoutCoordinator, interval time.Duration) *PayoutSubmitter {
	return &PayoutSubmitter{
		payouts:   payouts,
		coord:     coord,
		interval:  interval,
		batchSize: 20,
	}
}

func (ps *PayoutSubmitter) Run(ctx context.Context) {
	ticker := time.NewTicker(ps.interval)
	defer ticker.Stop()

	log.Println("Payout submitter started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ps.process(ctx); err != nil {
				log.Printf("Payout submission sweep failed: %v", err)
			}
		}
	}
}

func (ps *PayoutSubmitter) process(ctx context.Context) error {
	requested, err := ps.payouts.FindRequested(ctx, ps.batchSize)
	if err != nil {
		return err
	}
	for _, payout := range requested {
		if err := ps.coord.Submit(ctx, payout.ID); err != nil {
			log.Printf("Submit payout %s: %v", payout.ID, err)
		}
	}
	return nil
}
