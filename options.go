package ichiba

import (
	"log/slog"

	"github.com/ashita-ai/ichiba/internal/config"
)

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported; callers use the With* functions.
type resolvedOptions struct {
	config      *config.Config
	port        int
	databaseURL string
	sqlitePath  string
	adminSecret string
	schedule    string
	seed        uint64
	logger      *slog.Logger
	version     string
	oracle      Oracle
	epochHooks  []EpochHook
	middlewares []Middleware
}

// apply copies explicit overrides onto cfg.
func (o *resolvedOptions) apply(cfg *config.Config) {
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	if o.sqlitePath != "" {
		cfg.SQLitePath = o.sqlitePath
	}
	if o.adminSecret != "" {
		cfg.AdminSecret = o.adminSecret
	}
	if o.schedule != "" {
		cfg.EpochSchedule = o.schedule
	}
	if o.seed != 0 {
		cfg.Seed = o.seed
	}
}

// WithConfig replaces environment loading with cfg. Other options still
// override its fields.
func WithConfig(cfg Config) Option {
	return func(o *resolvedOptions) { o.config = &cfg }
}

// WithPort overrides the TCP port from config (ICHIBA_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithDatabaseURL overrides the PostgreSQL connection string (DATABASE_URL env var).
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithSQLitePath overrides the embedded database file (ICHIBA_SQLITE_PATH env var).
func WithSQLitePath(path string) Option {
	return func(o *resolvedOptions) { o.sqlitePath = path }
}

// WithAdminSecret sets the bearer secret guarding admin routes.
func WithAdminSecret(secret string) Option {
	return func(o *resolvedOptions) { o.adminSecret = secret }
}

// WithEpochSchedule sets the cron spec Serve runs epochs on, e.g. "@every 10m".
func WithEpochSchedule(spec string) Option {
	return func(o *resolvedOptions) { o.schedule = spec }
}

// WithSeed fixes the simulation randomness (ICHIBA_SEED env var).
func WithSeed(seed uint64) Option {
	return func(o *resolvedOptions) { o.seed = seed }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in the health endpoint and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithOracle replaces the configured decision oracle (OpenAI or offline random).
func WithOracle(orc Oracle) Option {
	return func(o *resolvedOptions) { o.oracle = orc }
}

// WithEpochHook registers a hook notified after every committed epoch.
// Multiple hooks may be registered; all receive every epoch.
func WithEpochHook(hook EpochHook) Option {
	return func(o *resolvedOptions) { o.epochHooks = append(o.epochHooks, hook) }
}

// WithMiddleware registers an outermost HTTP middleware.
// Applied in registration order: the first-registered middleware is outermost.
func WithMiddleware(mw Middleware) Option {
	return func(o *resolvedOptions) { o.middlewares = append(o.middlewares, mw) }
}
