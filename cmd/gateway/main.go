// Command gateway serves the LLM dispatch and metering API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	gwhttp "github.com/alextavares/aichat-sub001/internal/adapter/http"
	gwnats "github.com/alextavares/aichat-sub001/internal/adapter/nats"
	"github.com/alextavares/aichat-sub001/internal/adapter/natskv"
	gwotel "github.com/alextavares/aichat-sub001/internal/adapter/otel"
	"github.com/alextavares/aichat-sub001/internal/adapter/postgres"
	"github.com/alextavares/aichat-sub001/internal/adapter/redis"
	"github.com/alextavares/aichat-sub001/internal/adapter/ristretto"
	"github.com/alextavares/aichat-sub001/internal/adapter/sqlite"
	"github.com/alextavares/aichat-sub001/internal/adapter/tiered"
	"github.com/alextavares/aichat-sub001/internal/adapter/ws"
	"github.com/alextavares/aichat-sub001/internal/config"
	"github.com/alextavares/aichat-sub001/internal/domain/catalog"
	"github.com/alextavares/aichat-sub001/internal/domain/chat"
	"github.com/alextavares/aichat-sub001/internal/logger"
	"github.com/alextavares/aichat-sub001/internal/middleware"
	"github.com/alextavares/aichat-sub001/internal/port/cache"
	"github.com/alextavares/aichat-sub001/internal/port/database"
	"github.com/alextavares/aichat-sub001/internal/port/messagequeue"
	"github.com/alextavares/aichat-sub001/internal/resilience"
	"github.com/alextavares/aichat-sub001/internal/secrets"
	"github.com/alextavares/aichat-sub001/internal/service"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		if err := runAdmin(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser := logger.New(cfg.Logging)
	defer logCloser.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"version", version,
		"port", cfg.Server.Port,
		"store", cfg.Store.Driver,
		"cache_l2", cfg.Cache.L2,
		"log_level", cfg.Logging.Level,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Observability ---

	otelShutdown, err := gwotel.Setup(ctx, cfg.OTEL)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Error("otel shutdown failed", "error", err)
		}
	}()
	metrics, err := gwotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("otel metrics: %w", err)
	}

	// --- Infrastructure ---

	store, err := openStore(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer store.Close()

	var queue messagequeue.Queue
	var natsQueue *gwnats.Queue
	if cfg.NATS.URL != "" {
		natsQueue, err = gwnats.Connect(ctx, cfg.NATS.URL, cfg.NATS.Stream)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() {
			if err := natsQueue.Drain(); err != nil {
				slog.Error("nats drain failed", "error", err)
			}
		}()
		queue = natsQueue
		slog.Info("nats connected", "stream", cfg.NATS.Stream)

		alerts, err := buildAlerts(cfg.Alerts)
		if err != nil {
			return err
		}
		stopMonitor, err := service.NewReconciliationMonitor(queue, alerts, cfg.Alerts.Cooldown).Start(ctx)
		if err != nil {
			return fmt.Errorf("accounting subscriber: %w", err)
		}
		defer stopMonitor()
	} else {
		slog.Warn("nats disabled, accounting events are not published")
	}

	sharedCache, closeCache, err := buildCache(ctx, cfg, natsQueue)
	if err != nil {
		return err
	}
	defer closeCache()

	vault, err := openVault(ctx, cfg.Providers.SecretsFile)
	if err != nil {
		return err
	}

	// --- Services ---

	cat := catalog.Default()
	be := buildProviders(cfg, cat, vault, sharedCache)
	if be.litellm.IsConfigured() {
		go be.litellm.RunDiscovery(ctx, 0)
	}

	retrier := resilience.NewRetrier(resilience.RetryConfig{
		Attempts:       cfg.Retry.Attempts,
		BaseDelay:      cfg.Retry.BaseDelay,
		AttemptTimeout: cfg.Retry.AttemptTimeout,
		Jitter:         cfg.Retry.Jitter,
	}).OnRetry(func(attempt int, err error, delay time.Duration) {
		backend := "unknown"
		var bErr *chat.BackendError
		if errors.As(err, &bErr) {
			backend = string(bErr.Backend)
		}
		metrics.RecordRetry(context.Background(), backend)
		slog.Warn("backend attempt failed, retrying",
			"backend", backend, "attempt", attempt, "delay", delay, "error", err)
	})

	gateway := service.NewGateway(service.GatewayConfig{
		Catalog:               cat,
		Router:                service.NewRouter(cat, retrier, be.all...),
		Quota:                 service.NewQuotaService(cat, store, cfg.PlanLimits(), queue),
		Ledger:                service.NewLedgerService(store, queue),
		Queue:                 queue,
		Metrics:               metrics,
		CreditPreflight:       cfg.Gateway.CreditPreflight,
		PreflightOutputTokens: cfg.Gateway.PreflightOutputTokens,
	})
	for _, b := range gateway.Backends() {
		slog.Info("backend", "name", b.Name, "configured", b.Configured)
	}

	// --- HTTP ---

	if cfg.Identity.DevMode {
		slog.Warn("identity dev mode enabled, caller headers are trusted")
	}
	identity := middleware.Identity(middleware.IdentityConfig{
		Secret:  []byte(cfg.Identity.JWTSecret),
		Issuer:  cfg.Identity.Issuer,
		DevMode: cfg.Identity.DevMode,
	})

	limiter := middleware.NewRateLimiter(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst)
	stopCleanup := limiter.StartCleanup(cfg.Rate.CleanupInterval, cfg.Rate.MaxIdleTime)
	defer stopCleanup()

	hub := ws.NewHub(gateway, originHosts(cfg.Server.CORSOrigin)...)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(gwhttp.Logger)
	r.Use(chimw.Recoverer)
	r.Use(gwhttp.SecurityHeaders)
	r.Use(gwhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(gwotel.HTTPMiddleware(cfg.OTEL.ServiceName))

	gwhttp.MountRoutes(r, &gwhttp.Handlers{Gateway: gateway, Version: version}, gwhttp.RouteOptions{
		Identity:    identity,
		RateLimit:   limiter.Handler,
		Idempotency: middleware.Idempotency(cache.Prefixed(sharedCache, "idem:"), cfg.Idempotency.TTL),
		ChatSocket:  http.HandlerFunc(hub.HandleChat),
		Timeout:     cfg.Server.WriteTimeout,
	})

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Streams clear their own deadline; buffered routes are bounded by
		// the route timeout, which this must exceed.
		WriteTimeout: cfg.Server.WriteTimeout + 15*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	case <-ctx.Done():
	}
	slog.Info("shutting down server")

	hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// openStore opens the configured store. migrate applies pending Postgres
// migrations; the SQLite store migrates itself on open.
func openStore(ctx context.Context, cfg *config.Config, migrate bool) (database.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		if migrate {
			if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
				return nil, fmt.Errorf("migrations: %w", err)
			}
			slog.Info("migrations applied")
		}
		store, err := postgres.Open(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		slog.Info("postgres connected")
		return store, nil
	case "sqlite":
		store, err := sqlite.Open(ctx, cfg.SQLite)
		if err != nil {
			return nil, fmt.Errorf("sqlite: %w", err)
		}
		slog.Info("sqlite opened", "path", store.Path())
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// buildCache assembles the tiered cache: ristretto in process, with NATS KV
// or Redis behind it when configured.
func buildCache(ctx context.Context, cfg *config.Config, q *gwnats.Queue) (cache.Cache, func(), error) {
	l1, err := ristretto.New(int(cfg.Cache.L1MaxSizeMB))
	if err != nil {
		return nil, nil, fmt.Errorf("l1 cache: %w", err)
	}
	closers := []func(){l1.Close}
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var l2 cache.Cache
	switch cfg.Cache.L2 {
	case "nats":
		if q == nil {
			closeAll()
			return nil, nil, errors.New("cache.l2 is nats but nats.url is empty")
		}
		kv, err := q.KeyValue(ctx, cfg.Cache.L2Bucket, cfg.Cache.L2TTL)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("nats kv: %w", err)
		}
		l2 = natskv.New(kv)
	case "redis":
		rc, err := redis.New(ctx, redis.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		closers = append(closers, func() { _ = rc.Close() })
		l2 = rc
	case "", "none":
	default:
		closeAll()
		return nil, nil, fmt.Errorf("unknown cache.l2 %q", cfg.Cache.L2)
	}

	slog.Info("cache ready", "l1_mb", cfg.Cache.L1MaxSizeMB, "l2", cfg.Cache.L2)
	return tiered.New(l1, l2, time.Minute), closeAll, nil
}

// openVault loads provider credentials from the environment and, when set,
// the secrets file, which is then watched for changes.
func openVault(ctx context.Context, secretsFile string) (*secrets.Vault, error) {
	loaders := []secrets.Loader{secrets.EnvLoader(secrets.ProviderKeys...)}
	if secretsFile != "" {
		loaders = append(loaders, secrets.FileLoader(secretsFile))
	}
	vault, err := secrets.NewVault(secrets.Chain(loaders...))
	if err != nil {
		return nil, fmt.Errorf("secrets: %w", err)
	}
	if secretsFile == "" {
		return vault, nil
	}

	w, err := secrets.Watch(ctx, vault, secretsFile, 0)
	if err != nil {
		return nil, err
	}
	context.AfterFunc(ctx, func() { _ = w.Close() })
	vault.OnReload(func() {
		slog.Info("provider credentials reloaded", "keys", vault.Keys())
	})
	return vault, nil
}

// originHosts turns the configured CORS origin into websocket origin
// patterns.
func originHosts(origin string) []string {
	if origin == "" || origin == "*" {
		return nil
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return nil
	}
	return []string{u.Host}
}
