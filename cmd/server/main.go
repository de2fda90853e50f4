package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mamadbah2/gymledger/internal/config"
	"github.com/mamadbah2/gymledger/internal/repository"
	"github.com/mamadbah2/gymledger/internal/repository/sheets"
	"github.com/mamadbah2/gymledger/internal/scheduler"
	"github.com/mamadbah2/gymledger/internal/server/handlers"
	"github.com/mamadbah2/gymledger/internal/server/router"
	"github.com/mamadbah2/gymledger/internal/service/aggregates"
	commandsvc "github.com/mamadbah2/gymledger/internal/service/commands"
	"github.com/mamadbah2/gymledger/internal/service/inventory"
	paymentsvc "github.com/mamadbah2/gymledger/internal/service/payments"
	reconcilesvc "github.com/mamadbah2/gymledger/internal/service/reconcile"
	reportingsvc "github.com/mamadbah2/gymledger/internal/service/reporting"
	salesvc "github.com/mamadbah2/gymledger/internal/service/sales"
	whatsappsvc "github.com/mamadbah2/gymledger/internal/service/whatsapp"
	whatsappclient "github.com/mamadbah2/gymledger/pkg/clients/whatsapp"
	"github.com/mamadbah2/gymledger/pkg/logger"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		panic(err)
	}

	baseLogger := logger.Must(logger.New(cfg.Log.Level))
	defer func() { _ = baseLogger.Sync() }()

	zap.ReplaceGlobals(baseLogger)

	store, closeStore, err := repository.Open(context.Background(), cfg, baseLogger)
	if err != nil {
		baseLogger.Fatal("failed to open document store", zap.String("driver", cfg.Store.Driver), zap.Error(err))
	}
	defer func() {
		if err := closeStore(context.Background()); err != nil {
			baseLogger.Error("failed to close document store", zap.Error(err))
		}
	}()

	var exporter reportingsvc.Exporter
	if cfg.Sheets.Enabled() {
		sheetsRepo, err := sheets.NewGoogleSheetRepository(context.Background(), cfg.Sheets, baseLogger.Named("repo.sheets"))
		if err != nil {
			baseLogger.Fatal("failed to init sheets repository", zap.Error(err))
		}
		exporter = sheetsRepo
	} else {
		baseLogger.Warn("google sheets not configured, monthly export disabled")
	}

	var (
		whatsClient *whatsappclient.APIClient
		notifier    *whatsappclient.Notifier
	)
	if cfg.WhatsApp.Enabled() {
		whatsClient = whatsappclient.NewClient(cfg.WhatsApp)
		notifier = whatsappclient.NewNotifier(whatsClient, cfg.WhatsApp.ManagerID)
		baseLogger.Info("whatsapp notifications enabled")
	} else {
		baseLogger.Warn("whatsapp not configured, digests and drift alerts disabled")
	}

	loc := cfg.Location
	ledger := aggregates.NewLedger(store, baseLogger.Named("svc.aggregates"))
	catalog := inventory.NewService(store, baseLogger.Named("svc.inventory"))
	coordinator := salesvc.NewCoordinator(store, ledger, loc, baseLogger.Named("svc.sales"))
	paymentSvc := paymentsvc.NewService(store, ledger, loc, baseLogger.Named("svc.payments"))
	reportingSvc := reportingsvc.NewService(store, ledger, exporter, loc, baseLogger.Named("svc.reporting"))

	var reconcileNotifier reconcilesvc.Notifier
	var schedOpts scheduler.Options
	if notifier != nil {
		reconcileNotifier = notifier
		schedOpts.Notifier = notifier
	}
	schedOpts.Export = exporter != nil
	reconcileSvc := reconcilesvc.NewService(store, ledger, reconcileNotifier, loc, baseLogger.Named("svc.reconcile"))

	handler := handlers.NewHandler(handlers.Services{
		Sales:      coordinator,
		Payments:   paymentSvc,
		Catalog:    catalog,
		Aggregates: ledger,
		Reconciler: reconcileSvc,
		Reports:    reportingSvc,
	}, loc, baseLogger.Named("handlers"))

	var webhookHandler *handlers.WebhookHandler
	if cfg.WhatsApp.CommandsEnabled() {
		dispatcher := commandsvc.NewService(coordinator, catalog, reportingSvc, ledger, loc, baseLogger.Named("svc.commands"))
		messagingSvc := whatsappsvc.NewMetaWhatsAppService(cfg.WhatsApp, whatsClient, dispatcher, baseLogger.Named("svc.whatsapp"))
		webhookHandler = handlers.NewWebhookHandler(messagingSvc, baseLogger.Named("handlers.whatsapp"))
		baseLogger.Info("whatsapp chat commands enabled", zap.Int("senders", len(cfg.WhatsApp.Senders())))
	}
	engine := router.New(handler, webhookHandler, baseLogger.Named("router"))

	sched := scheduler.NewScheduler(cfg.Schedule, loc, ledger, reconcileSvc, reportingSvc, schedOpts, baseLogger.Named("scheduler"))
	if err := sched.Start(); err != nil {
		baseLogger.Fatal("failed to start scheduler", zap.Error(err))
	}
	defer sched.Stop()

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		baseLogger.Info("server starting", zap.String("port", cfg.Server.Port), zap.String("timezone", loc.String()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			baseLogger.Fatal("http server crashed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	baseLogger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		baseLogger.Error("graceful shutdown failed", zap.Error(err))
	}
}
