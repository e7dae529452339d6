// Package testutil provides shared test infrastructure: a PostgreSQL
// container for storage integration tests, in-memory SQLite stores for
// everything else, and agent fixtures.
//
// Usage in TestMain:
//
//	func TestMain(m *testing.M) {
//	    tc := testutil.MustStartPostgres()
//	    defer tc.Terminate()
//	    testDB, _ = tc.NewTestDB(context.Background(), logger)
//	    os.Exit(m.Run())
//	}
package testutil

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ashita-ai/ichiba/internal/model"
	"github.com/ashita-ai/ichiba/internal/storage"
	"github.com/ashita-ai/ichiba/internal/storage/sqlite"
	"github.com/ashita-ai/ichiba/migrations"
)

// TestContainer wraps a testcontainers container with a DSN for connecting.
type TestContainer struct {
	Container testcontainers.Container
	DSN       string
}

// MustStartPostgres starts a PostgreSQL container. Calls os.Exit(1) on
// failure (suitable for TestMain).
func MustStartPostgres() *TestContainer {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:17-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "ichiba",
			"POSTGRES_PASSWORD": "ichiba",
			"POSTGRES_DB":       "ichiba",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "testutil: failed to start container: %v\n", err)
		os.Exit(1)
	}

	host, err := container.Host(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "testutil: failed to get container host: %v\n", err)
		os.Exit(1)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		fmt.Fprintf(os.Stderr, "testutil: failed to get container port: %v\n", err)
		os.Exit(1)
	}

	dsn := fmt.Sprintf("postgres://ichiba:ichiba@%s:%s/ichiba?sslmode=disable", host, port.Port())
	return &TestContainer{Container: container, DSN: dsn}
}

// NewTestDB creates a storage.DB connected to this container and runs all migrations.
func (tc *TestContainer) NewTestDB(ctx context.Context, logger *slog.Logger) (*storage.DB, error) {
	db, err := storage.New(ctx, tc.DSN, logger)
	if err != nil {
		return nil, fmt.Errorf("testutil: create DB: %w", err)
	}
	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return nil, fmt.Errorf("testutil: run migrations: %w", err)
	}
	return db, nil
}

// Terminate stops and removes the container.
func (tc *TestContainer) Terminate() {
	_ = tc.Container.Terminate(context.Background())
}

// TestLogger returns a logger configured for test output (warns only).
func TestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// NewMemoryStore returns an empty in-memory SQLite store closed at test end.
func NewMemoryStore(t testing.TB) *sqlite.DB {
	t.Helper()
	ctx := context.Background()
	db, err := sqlite.Open(ctx, sqlite.MemoryPath, TestLogger())
	if err != nil {
		t.Fatalf("testutil: open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close(ctx) })
	return db
}

// Money parses a decimal literal, failing the test on error.
func Money(t testing.TB, s string) decimal.Decimal {
	t.Helper()
	d, err := model.ParseMoney(s)
	if err != nil {
		t.Fatalf("testutil: money %q: %v", s, err)
	}
	return d
}

// SeedAgents creates one active agent per id=balance pair, in order.
func SeedAgents(t testing.TB, store storage.Store, pairs ...string) []model.Agent {
	t.Helper()
	if len(pairs)%2 != 0 {
		t.Fatalf("testutil: SeedAgents needs id/balance pairs")
	}
	out := make([]model.Agent, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		a, err := store.CreateAgent(context.Background(), model.Agent{
			ID:      pairs[i],
			Name:    "Agent " + pairs[i],
			Balance: Money(t, pairs[i+1]),
		})
		if err != nil {
			t.Fatalf("testutil: create agent %s: %v", pairs[i], err)
		}
		out = append(out, a)
	}
	return out
}

// QuietMarket is a single normal event with no supplementary trading, so
// only scripted decisions produce transfers.
func QuietMarket() []model.MarketEvent {
	return []model.MarketEvent{{
		Type:             model.EventNormal,
		Description:      "An ordinary market day",
		PriceMultiplier:  decimal.NewFromInt(1),
		TradeProbability: 0,
	}}
}
