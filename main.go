package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	appinv "github.com/Zhima-Mochi/minishop-saga/internal/application/inventory"
	apporder "github.com/Zhima-Mochi/minishop-saga/internal/application/order"
	"github.com/Zhima-Mochi/minishop-saga/internal/config"
	domid "github.com/Zhima-Mochi/minishop-saga/internal/domain/identity"
	dominv "github.com/Zhima-Mochi/minishop-saga/internal/domain/inventory"
	domorder "github.com/Zhima-Mochi/minishop-saga/internal/domain/order"
	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/cache"
	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/catalogclient"
	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/id"
	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/identity"
	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/memory"
	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/notify"
	infraobs "github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/observability"
	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/observability/oteltrace"
	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/observability/prometrics"
	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/observability/zaplogger"
	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/outbox"
	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/postgres"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability"
	httppresentation "github.com/Zhima-Mochi/minishop-saga/internal/presentation/http"
	workerpresentation "github.com/Zhima-Mochi/minishop-saga/internal/presentation/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"
)

const serviceVersion = "0.1.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// closer is released in reverse order of registration on shutdown.
type closer struct {
	name string
	fn   func(context.Context) error
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	baseLogger, err := zaplogger.New(zaplogger.Options{
		Level: cfg.LogLevel,
		File:  cfg.LogFile,
		Fixed: []observability.Field{
			observability.F("service", cfg.ServiceName),
			observability.F("env", cfg.Env),
		},
	})
	if err != nil {
		return err
	}
	defer func() { _ = baseLogger.Sync() }()

	systemLogger := baseLogger.With(
		observability.F("trace_id", trace.TraceID{}.String()),
		observability.F("span_id", trace.SpanID{}.String()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var closers []closer
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].fn(shutdownCtx); err != nil {
				systemLogger.Error("shutdown_step_failed",
					observability.F("step", closers[i].name),
					observability.F("error", err.Error()),
				)
			}
		}
	}()

	shutdownTracing, err := oteltrace.Setup(ctx, oteltrace.Options{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: serviceVersion,
		Environment:    cfg.Env,
		Endpoint:       cfg.OTelEndpoint,
		Insecure:       cfg.OTelInsecure,
	})
	if err != nil {
		return err
	}
	closers = append(closers, closer{"tracing", shutdownTracing})

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := prometrics.NewMetrics(prometrics.New(reg, "", ""))
	tel := infraobs.New(oteltrace.New(cfg.ServiceName), baseLogger, metrics)

	// Stores.
	var (
		orderRepo   domorder.Repository
		productRepo dominv.Repository
	)
	if cfg.DatabaseURL != "" {
		db, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		closers = append(closers, closer{"postgres", func(context.Context) error { db.Close(); return nil }})
		if err := postgres.Migrate(ctx, db.Pool); err != nil {
			return err
		}
		orderRepo = postgres.NewOrderRepository(db.Pool)
		productRepo = postgres.NewInventoryRepository(db.Pool)
		systemLogger.Info("store_selected", observability.F("store", "postgres"))
	} else {
		orderRepo = memory.NewOrderRepository()
		productRepo = memory.NewInventoryRepository()
		systemLogger.Info("store_selected", observability.F("store", "memory"))
	}
	if err := seedProducts(ctx, productRepo, cfg.SeedProducts); err != nil {
		return err
	}

	// Cache.
	var productCache appinv.Cache
	switch {
	case cfg.CacheDisabled:
		productCache = cache.Nop{}
	case cfg.RedisURL != "":
		rc, err := cache.NewRedis(cfg.RedisURL)
		if err != nil {
			return err
		}
		closers = append(closers, closer{"redis", func(context.Context) error { return rc.Close() }})
		productCache = rc
	default:
		productCache = cache.NewMemory()
	}

	// Events.
	bus := outbox.NewBus(tel, outbox.WithEventContext(workerpresentation.EventContext(baseLogger, tel)))
	var notifier interface {
		apporder.Notifier
		Close() error
	}
	if len(cfg.KafkaBrokers) > 0 {
		notifier = notify.NewKafkaNotifier(notify.NewKafkaWriter(cfg.KafkaBrokers), cfg.KafkaTopicPrefix, tel)
	} else {
		notifier = notify.NewLogNotifier(tel)
	}
	apporder.NewWorker(bus, notifier, tel).Start()
	bus.Start(ctx)
	closers = append(closers,
		closer{"notifier", func(context.Context) error { return notifier.Close() }},
		closer{"event_bus", bus.Stop},
	)

	// Inventory.
	ids := id.NewUUIDGenerator()
	guard := appinv.NewCacheGuard(productCache, tel)
	retry := appinv.RetryPolicy{MaxAttempts: cfg.ReserveMaxAttempts, Backoff: cfg.ReserveRetryBackoff}
	catalog := appinv.NewCatalog(productRepo, productCache, guard, ids, cfg.CacheTTL, tel)
	reserve := appinv.NewReserveStockUseCase(productRepo, guard, bus, retry, tel)
	release := appinv.NewReleaseStockUseCase(productRepo, guard, bus, retry, tel)

	var inventory apporder.InventoryPort = appinv.NewLocal(catalog, reserve, release)
	if cfg.CatalogServiceURL != "" {
		inventory = catalogclient.NewClient(cfg.CatalogServiceURL, cfg.ClientTimeout, tel)
	}

	// Identity.
	var directory domid.Directory
	if cfg.IdentityServiceURL != "" {
		directory = identity.NewClient(cfg.IdentityServiceURL, cfg.ClientTimeout, tel)
	} else {
		dir := memory.NewIdentityDirectory()
		for _, b := range cfg.SeedBuyers {
			dir.AddBuyer(domid.Buyer{ID: b.ID, Name: b.ID, Email: b.Email})
		}
		directory = dir
	}

	handler := httppresentation.NewHandler(httppresentation.Services{
		CreateOrder: apporder.NewCreateOrderUseCase(orderRepo, inventory, directory, ids, bus,
			apporder.SagaConfig{StepTimeout: cfg.StepTimeout}, tel),
		Orders:  apporder.NewService(orderRepo, bus, tel),
		Catalog: catalog,
		Reserve: reserve,
		Release: release,
	}, tel, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		systemLogger.Info("http_server_start",
			observability.F("addr", server.Addr),
		)
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			systemLogger.Error("http_server_error",
				observability.F("error", err.Error()),
			)
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		systemLogger.Error("http_server_shutdown_error",
			observability.F("error", err.Error()),
		)
	} else {
		systemLogger.Info("http_server_stopped")
	}
	return nil
}

func seedProducts(ctx context.Context, repo dominv.Repository, seeds []config.ProductSeed) error {
	for _, s := range seeds {
		p, err := dominv.NewProduct(s.ID, s.ID, s.ID, s.Price, s.Stock)
		if err != nil {
			return fmt.Errorf("seed product %s: %w", s.ID, err)
		}
		// Seeds survive restarts against postgres; an existing row wins.
		if err := repo.Create(ctx, p); err != nil && !errors.Is(err, dominv.ErrDuplicate) {
			return fmt.Errorf("seed product %s: %w", s.ID, err)
		}
	}
	return nil
}
