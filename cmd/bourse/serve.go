package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/efreitasn/bourse/internal/config"
	"github.com/efreitasn/bourse/internal/domain"
	"github.com/efreitasn/bourse/internal/engine"
	"github.com/efreitasn/bourse/internal/handler"
	"github.com/efreitasn/bourse/internal/logging"
	"github.com/efreitasn/bourse/internal/metrics"
	"github.com/efreitasn/bourse/internal/pricing"
	"github.com/efreitasn/bourse/internal/service"
	"github.com/efreitasn/bourse/internal/store"
)

func serve(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		return err
	}

	logger, logCloser := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	defer logCloser.Close()
	slog.SetDefault(logger)

	st, err := openStore(cfg.DatabasePath)
	if err != nil {
		logger.Error("failed to open store", slog.String("error", err.Error()))
		return err
	}
	defer st.Close()

	strategy, err := pricing.NewStrategy(cfg.Pricing.Strategy, cfg.Pricing.Scale)
	if err != nil {
		return err
	}
	pe := pricing.NewEngine(strategy, cfg.Pricing.Tolerance)
	retry := engine.RetryPolicy{
		MaxRetries: cfg.Store.MaxRetries,
		BaseDelay:  cfg.Store.RetryBaseDelay,
		MaxDelay:   cfg.Store.RetryMaxDelay,
	}
	m := metrics.New()

	// Publishers: websocket hub first, then webhooks.
	hub := service.NewHub(cfg.StreamBuffer)
	webhookSvc := service.NewWebhookService(store.NewWebhookStore(), cfg.WebhookTimeout, logger)

	ledger := engine.NewLedger(st, pe, engine.Publishers{hub, webhookSvc}, m, logger, retry)
	aggregator := engine.NewAggregator(st, pe, m, logger, retry)
	auditor := engine.NewAuditor(cfg.AuditInterval, st, m, logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := seedProducts(ctx, ledger, cfg.Products, logger); err != nil {
		logger.Error("failed to seed products", slog.String("error", err.Error()))
		return err
	}

	router := handler.NewRouter(handler.Services{
		Markets:  service.NewMarketService(ledger),
		Orders:   service.NewOrderService(ledger),
		Stats:    service.NewStatsService(aggregator),
		Webhooks: webhookSvc,
		Hub:      hub,
		Metrics:  m.Handler(),
	}, logger)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting",
			slog.String("addr", addr),
			slog.String("pricing_strategy", strategy.Name()),
			slog.Bool("persistent", cfg.DatabasePath != ""),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return auditor.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		return err
	}
	logger.Info("server stopped")
	return nil
}

// openStore returns the in-memory store unless a database path is set.
func openStore(path string) (store.Store, error) {
	if path == "" {
		return store.NewMemoryStore(), nil
	}
	return store.NewSQLStore(path)
}

// seedProducts onboards the configured products. Products that already
// exist (a restarted persistent store) are left untouched.
func seedProducts(ctx context.Context, ledger *engine.Ledger, seeds []config.ProductSeed, logger *slog.Logger) error {
	for _, s := range seeds {
		p, err := domain.NewProduct(s.ProductID, s.Name, s.BasePrice, s.StockAvailable)
		if err != nil {
			return err
		}
		if _, err := ledger.CreateProduct(ctx, p); err != nil {
			if errors.Is(err, domain.ErrProductAlreadyExists) {
				logger.Debug("seed product already exists", slog.String("product_id", s.ProductID))
				continue
			}
			return fmt.Errorf("seed %s: %w", s.ProductID, err)
		}
	}
	return nil
}
