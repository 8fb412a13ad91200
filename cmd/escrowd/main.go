package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"escrow-engine/internal/config"
	"escrow-engine/internal/database"
	"escrow-engine/internal/handlers"
	"escrow-engine/internal/metrics"
	"escrow-engine/internal/notify"
	"escrow-engine/internal/provider"
	"escrow-engine/internal/repo"
	"escrow-engine/internal/service"
	"escrow-engine/internal/worker"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	db := database.NewPostgres()
	health := database.New(db)
	metrics.Register()

	orderRepo := repo.NewOrderRepo(db)
	intentRepo := repo.NewIntentRepo(db)
	walletRepo := repo.NewWalletRepo(db)
	catalogRepo := repo.NewCatalogRepo(db)
	payoutRepo := repo.NewPayoutRepo(db)

	providers := provider.NewFactory(cfg)
	notifier := notify.LogNotifier{}

	settlement := service.NewSettlementCoordinator(db, orderRepo, intentRepo, walletRepo, catalogRepo, providers, notifier, cfg)
	refunds := service.NewRefundCoordinator(db, orderRepo, intentRepo, walletRepo, providers, notifier)
	payouts := service.NewPayoutCoordinator(db, payoutRepo, walletRepo, providers, notifier, cfg)
	ledger := service.NewOrderLedger(db, orderRepo, walletRepo, notifier)

	go worker.NewReconciliationWorker(intentRepo, settlement, 1*time.Minute, 5*time.Minute).Run(ctx)
	go worker.NewPayoutSubmitter(payoutRepo, payouts, 30*time.Second).Run(ctx)

	router := gin.Default()
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	handlers.New(settlement, refunds, payouts, ledger, health, cfg).Register(router)

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	go func() {
		log.Printf("escrowd listening on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
	if err := health.Close(); err != nil {
		log.Printf("close db: %v", err)
	}
}
