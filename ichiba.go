// Package ichiba is the public API for embedding the ichiba epoch engine.
//
// The binary in cmd/ichiba is a thin cobra wrapper over this package, and
// other programs can drive the same engine without forking it:
//
//	app, err := ichiba.New(ctx,
//	    ichiba.WithVersion(version),
//	    ichiba.WithLogger(logger),
//	    ichiba.WithEpochHook(myHook{}),
//	)
//	if err != nil { ... }
//	defer app.Close(context.Background())
//	if err := app.Serve(ctx); err != nil { ... }
//
// The import graph is one-way: ichiba (root) imports internal/*, and
// internal/* never imports the root. Public types are aliases of the
// internal model so no conversion layer is needed.
package ichiba

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"

	"github.com/ashita-ai/ichiba/internal/config"
	"github.com/ashita-ai/ichiba/internal/mcp"
	"github.com/ashita-ai/ichiba/internal/oracle"
	"github.com/ashita-ai/ichiba/internal/ratelimit"
	"github.com/ashita-ai/ichiba/internal/server"
	"github.com/ashita-ai/ichiba/internal/service/decisions"
	"github.com/ashita-ai/ichiba/internal/service/epoch"
	"github.com/ashita-ai/ichiba/internal/storage"
	"github.com/ashita-ai/ichiba/internal/storage/sqlite"
	"github.com/ashita-ai/ichiba/internal/telemetry"
	"github.com/ashita-ai/ichiba/migrations"
)

// Timeouts for background work the App starts on its own.
const (
	hookTimeout     = 10 * time.Second
	shutdownTimeout = 30 * time.Second
)

// App is the ichiba lifecycle. Construct with New, release with Close.
// App has no public fields; use New options to configure it.
type App struct {
	cfg          config.Config
	store        storage.Store
	engine       *hookedEngine
	srv          *server.Server
	broker       *server.Broker
	limiter      ratelimit.Limiter
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New loads configuration, opens the store, and wires the engine, oracle,
// HTTP server and MCP server. It does not start any goroutines or accept
// connections.
func New(ctx context.Context, opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	cfg := config.Config{}
	if o.config != nil {
		cfg = *o.config
	} else {
		loaded, err := config.Load()
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	o.apply(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, err
	}

	engineRand, oracleRand := newRands(cfg.Seed)
	orc := o.oracle
	if orc == nil {
		orc = newOracle(cfg, oracleRand, logger)
	}
	eng := epoch.New(store, orc, epoch.Config{
		Rand: engineRand,
		Decisions: decisions.Config{
			Timeout:     cfg.OracleTimeout,
			Concurrency: cfg.OracleConcurrency,
		},
	}, logger)
	hooked := &hookedEngine{Engine: eng, hooks: o.epochHooks, logger: logger}

	var limiter ratelimit.Limiter
	if cfg.RateLimitEnabled {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		logger.Info("rate limiting: memory (in-process token bucket)",
			"rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
	} else {
		limiter = ratelimit.NoopLimiter{}
		logger.Info("rate limiting: disabled")
	}

	broker := server.NewBroker(logger)
	mcpSrv := mcp.New(store, eng, logger, version)

	middlewares := make([]func(http.Handler) http.Handler, 0, len(o.middlewares))
	for _, mw := range o.middlewares {
		middlewares = append(middlewares, mw)
	}
	if cfg.AdminSecret == "" {
		logger.Info("admin routes: disabled (no ICHIBA_ADMIN_SECRET)")
	}

	srv := server.New(server.ServerConfig{
		Store:               store,
		Engine:              hooked,
		Logger:              logger,
		Limiter:             limiter,
		Broker:              broker,
		MCPServer:           mcpSrv.MCPServer(),
		Middlewares:         middlewares,
		AdminSecret:         cfg.AdminSecret,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	logger.Info("ichiba ready", "version", version, "store", store.Kind(), "oracle", cfg.ResolvedOracle())

	return &App{
		cfg:          cfg,
		store:        store,
		engine:       hooked,
		srv:          srv,
		broker:       broker,
		limiter:      limiter,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (storage.Store, error) {
	switch cfg.ResolvedStore() {
	case config.StorePostgres:
		db, err := storage.New(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, fmt.Errorf("storage: %w", err)
		}
		if err := db.RunMigrations(ctx, migrations.FS); err != nil {
			_ = db.Close(ctx)
			return nil, fmt.Errorf("migrations: %w", err)
		}
		db.RegisterPoolMetrics()
		logger.Info("store: postgres")
		return db, nil
	default:
		db, err := sqlite.Open(ctx, cfg.SQLitePath, logger)
		if err != nil {
			return nil, fmt.Errorf("storage: %w", err)
		}
		logger.Info("store: sqlite", "path", cfg.SQLitePath)
		return db, nil
	}
}

func newOracle(cfg config.Config, rng *rand.Rand, logger *slog.Logger) oracle.Oracle {
	if cfg.ResolvedOracle() == config.OracleOpenAI {
		logger.Info("oracle: openai", "model", cfg.OracleModel, "base_url", cfg.OracleBaseURL)
		return oracle.NewOpenAI(oracle.OpenAIConfig{
			APIKey:      cfg.OpenAIAPIKey,
			BaseURL:     cfg.OracleBaseURL,
			Model:       cfg.OracleModel,
			Temperature: float32(cfg.OracleTemperature),
			JSONMode:    true,
		}, logger)
	}
	logger.Info("oracle: random (offline)")
	return oracle.NewRandom(rng)
}

// newRands returns independent generators for the engine and the offline
// oracle. A zero seed draws from the clock.
func newRands(seed uint64) (engineRand, oracleRand *rand.Rand) {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano()) //nolint:gosec // simulation randomness
	}
	return rand.New(rand.NewPCG(seed, seed>>1|1)),
		rand.New(rand.NewPCG(seed^0x9e3779b97f4a7c15, seed<<1|1))
}

// Handler returns the HTTP handler, for tests and custom listeners.
func (a *App) Handler() http.Handler {
	return a.srv.Handler()
}

// StoreKind names the backend in use, e.g. "sqlite".
func (a *App) StoreKind() string {
	return a.store.Kind()
}

// EpochDelay is the configured pause between back-to-back epochs.
func (a *App) EpochDelay() time.Duration {
	return a.cfg.EpochDelay
}

// Seed creates the built-in personality agents when no agent exists yet.
func (a *App) Seed(ctx context.Context) (int, error) {
	n, err := epoch.Seed(ctx, a.store)
	if err != nil {
		return n, err
	}
	if n > 0 {
		a.logger.Info("agents seeded", "count", n)
	}
	return n, nil
}

// RunEpochs anchors any committed epochs still missing an anchor, then runs
// count epochs with delay between them. It returns the summaries of the
// epochs that completed, which may be fewer than count on error.
func (a *App) RunEpochs(ctx context.Context, count int, delay time.Duration) ([]EpochSummary, error) {
	a.backfill(ctx)
	return a.engine.RunN(ctx, count, delay, a.engine.fire)
}

// RunEpoch runs exactly one epoch.
func (a *App) RunEpoch(ctx context.Context) (EpochSummary, error) {
	a.backfill(ctx)
	return a.engine.RunEpoch(ctx)
}

// Anchor computes and attaches the anchor of a committed epoch.
func (a *App) Anchor(ctx context.Context, number int) (string, error) {
	return a.engine.AnchorEpoch(ctx, number)
}

// Verify recomputes an epoch's anchor and compares it with the stored one.
func (a *App) Verify(ctx context.Context, number int) (AnchorVerification, error) {
	return a.engine.VerifyEpoch(ctx, number)
}

// LedgerRoot folds every stored anchor into one Merkle root.
func (a *App) LedgerRoot(ctx context.Context) (LedgerRoot, error) {
	return a.engine.LedgerRoot(ctx)
}

// Revive returns a bankrupt agent to active with the given balance. A zero
// balance restores the seed balance.
func (a *App) Revive(ctx context.Context, agentID string, balance decimal.Decimal) (Agent, error) {
	if balance.IsZero() {
		balance = SeedBalance
	}
	agent, err := a.store.ReviveAgent(ctx, agentID, balance)
	if err != nil {
		return Agent{}, err
	}
	a.logger.Info("agent revived", "agent_id", agentID, "balance", agent.Balance.StringFixed(4))
	return agent, nil
}

// Serve runs the HTTP API and, when a schedule is configured, one epoch per
// cron tick. It blocks until ctx is cancelled or the server fails, then
// drains in-flight requests and the running epoch.
func (a *App) Serve(ctx context.Context) error {
	a.backfill(ctx)

	var sched *cron.Cron
	if a.cfg.EpochSchedule != "" {
		cl := cronLogger{logger: a.logger}
		sched = cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		)
		if _, err := sched.AddFunc(a.cfg.EpochSchedule, func() { a.scheduledEpoch(ctx) }); err != nil {
			return fmt.Errorf("epoch schedule %q: %w", a.cfg.EpochSchedule, err)
		}
		sched.Start()
		a.logger.Info("epoch schedule: enabled", "schedule", a.cfg.EpochSchedule)
	} else {
		a.logger.Info("epoch schedule: disabled (no ICHIBA_EPOCH_SCHEDULE)")
	}

	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}
	if sched != nil {
		select {
		case <-sched.Stop().Done():
		case <-shutdownCtx.Done():
			a.logger.Warn("scheduled epoch still running at shutdown")
		}
	}
	return serveErr
}

// scheduledEpoch runs one epoch from a cron tick. The epoch itself is not
// tied to ctx so a shutdown mid-epoch still lets the commit finish.
func (a *App) scheduledEpoch(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	s, err := a.engine.RunEpoch(context.WithoutCancel(ctx))
	switch {
	case errors.Is(err, epoch.ErrEpochInProgress):
		a.logger.Info("scheduled epoch skipped: epoch in progress")
	case errors.Is(err, epoch.ErrNotEnoughAgents):
		a.logger.Warn("scheduled epoch skipped: not enough active agents")
	case err != nil:
		a.logger.Error("scheduled epoch failed", "error", err)
	default:
		a.broker.Publish(s)
	}
}

// backfill anchors committed epochs whose anchor write failed. Failure is
// logged, never fatal: anchoring can always be retried later.
func (a *App) backfill(ctx context.Context) {
	if n, err := a.engine.BackfillAnchors(ctx); err != nil {
		a.logger.Warn("anchor backfill failed", "error", err, "anchored", n)
	}
}

// Close releases the rate limiter, the store and the telemetry providers.
func (a *App) Close(ctx context.Context) error {
	_ = a.limiter.Close()
	err := a.store.Close(ctx)
	_ = a.otelShutdown(ctx)
	a.logger.Info("ichiba stopped")
	return err
}

// hookedEngine fires registered epoch hooks after every committed epoch,
// whichever path triggered it.
type hookedEngine struct {
	*epoch.Engine
	hooks  []EpochHook
	logger *slog.Logger
}

func (e *hookedEngine) RunEpoch(ctx context.Context) (EpochSummary, error) {
	s, err := e.Engine.RunEpoch(ctx)
	if err != nil {
		return s, err
	}
	e.fire(s)
	return s, nil
}

// fire delivers s to every hook in a goroutine. Hook failures are logged
// and never affect the epoch.
func (e *hookedEngine) fire(s EpochSummary) {
	if len(e.hooks) == 0 {
		return
	}
	hooks := e.hooks
	logger := e.logger
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
		defer cancel()
		for _, h := range hooks {
			if err := h.OnEpochCommitted(ctx, s); err != nil {
				logger.Warn("epoch hook failed", "epoch", s.Epoch.Number, "error", err)
			}
		}
	}()
}

// cronLogger routes robfig/cron's logging through slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
