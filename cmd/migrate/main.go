// Command migrate classifies legacy payments and rebuilds monthly aggregates.
//
//	migrate -dry-run
//	migrate -reconcile-from 2023-01
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/mamadbah2/gymledger/internal/config"
	"github.com/mamadbah2/gymledger/internal/domain/models"
	"github.com/mamadbah2/gymledger/internal/repository"
	"github.com/mamadbah2/gymledger/internal/service/aggregates"
	paymentsvc "github.com/mamadbah2/gymledger/internal/service/payments"
	reconcilesvc "github.com/mamadbah2/gymledger/internal/service/reconcile"
	"github.com/mamadbah2/gymledger/pkg/logger"
)

func main() {
	envFile := flag.String("env", "", "optional .env file")
	dryRun := flag.Bool("dry-run", false, "report category changes without writing them")
	from := flag.String("reconcile-from", "", "reconcile every month from YYYY-MM through the current one")
	flag.Parse()

	if err := run(*envFile, *dryRun, *from); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(envFile string, dryRun bool, from string) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Log.Level)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx := context.Background()
	store, closeStore, err := repository.Open(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := closeStore(ctx); err != nil {
			log.Error("failed to close document store", zap.Error(err))
		}
	}()

	ledger := aggregates.NewLedger(store, log.Named("svc.aggregates"))
	payments := paymentsvc.NewService(store, ledger, cfg.Location, log.Named("svc.payments"))

	backfill, err := payments.Backfill(ctx, dryRun)
	if err != nil {
		return fmt.Errorf("backfill payment categories: %w", err)
	}
	log.Info("payment categories backfilled",
		zap.Bool("dry_run", dryRun),
		zap.Int("scanned", backfill.Scanned),
		zap.Int("updated", backfill.Updated),
		zap.Any("by_category", backfill.ByCategory))

	if from == "" || dryRun {
		return nil
	}

	start, err := models.ParseYearMonth(from)
	if err != nil {
		return fmt.Errorf("-reconcile-from: %w", err)
	}

	replay, err := ledger.ReplayPending(ctx)
	if err != nil {
		return fmt.Errorf("replay outbox: %w", err)
	}
	log.Info("outbox replayed", zap.Int("applied", replay.Applied), zap.Int("failed", replay.Failed))

	reconciler := reconcilesvc.NewService(store, ledger, nil, cfg.Location, log.Named("svc.reconcile"))
	results, err := reconciler.RunFrom(ctx, start)
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	for _, r := range results {
		log.Info("month reconciled",
			zap.String("month", r.Month),
			zap.Bool("skipped", r.Skipped),
			zap.Int("adjustments", len(r.Adjustments)))
	}
	return nil
}
