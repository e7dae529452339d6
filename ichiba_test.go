package ichiba_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/ichiba"
	"github.com/ashita-ai/ichiba/internal/storage"
	"github.com/ashita-ai/ichiba/internal/testutil"
)

type recordingHook struct {
	mu     sync.Mutex
	epochs []int
	done   chan struct{}
}

func (h *recordingHook) OnEpochCommitted(_ context.Context, s ichiba.EpochSummary) error {
	h.mu.Lock()
	h.epochs = append(h.epochs, s.Epoch.Number)
	h.mu.Unlock()
	h.done <- struct{}{}
	return nil
}

func newApp(t *testing.T, opts ...ichiba.Option) *ichiba.App {
	t.Helper()
	t.Setenv("ICHIBA_STORE", "sqlite")
	t.Setenv("ICHIBA_ORACLE_PROVIDER", "random")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	cfg, err := ichiba.LoadConfig()
	require.NoError(t, err)

	base := []ichiba.Option{
		ichiba.WithConfig(cfg),
		ichiba.WithSQLitePath(filepath.Join(t.TempDir(), "ichiba.db")),
		ichiba.WithLogger(testutil.TestLogger()),
		ichiba.WithVersion("test"),
		ichiba.WithSeed(7),
	}
	app, err := ichiba.New(context.Background(), append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })
	return app
}

func waitOracle() ichiba.Oracle {
	return ichiba.OracleFunc(func(_ context.Context, _ ichiba.DecisionRequest) (ichiba.Decision, error) {
		return ichiba.Decision{Action: ichiba.ActionWait, Reason: "watching"}, nil
	})
}

func TestAppSeedIsIdempotent(t *testing.T) {
	app := newApp(t)
	ctx := context.Background()

	n, err := app.Seed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 15, n)

	n, err = app.Seed(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, "sqlite", app.StoreKind())
}

func TestAppRunEpochsFiresHooksAndAnchors(t *testing.T) {
	hook := &recordingHook{done: make(chan struct{}, 4)}
	app := newApp(t, ichiba.WithOracle(waitOracle()), ichiba.WithEpochHook(hook))
	ctx := context.Background()

	_, err := app.Seed(ctx)
	require.NoError(t, err)

	summaries, err := app.RunEpochs(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, 1, summaries[0].Epoch.Number)
	assert.Equal(t, 2, summaries[1].Epoch.Number)
	assert.Zero(t, summaries[0].Fallbacks)

	<-hook.done
	<-hook.done
	hook.mu.Lock()
	assert.ElementsMatch(t, []int{1, 2}, hook.epochs)
	hook.mu.Unlock()

	v, err := app.Verify(ctx, 2)
	require.NoError(t, err)
	assert.True(t, v.Anchored)
	assert.True(t, v.Valid)

	hash, err := app.Anchor(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, summaries[0].AnchorHash, hash)

	root, err := app.LedgerRoot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, root.Anchored)
	assert.NotEmpty(t, root.Root)
}

func TestAppRunEpochWithoutAgents(t *testing.T) {
	app := newApp(t)
	_, err := app.RunEpoch(context.Background())
	require.Error(t, err)
}

func TestAppReviveRejectsActiveAgent(t *testing.T) {
	app := newApp(t)
	ctx := context.Background()
	_, err := app.Seed(ctx)
	require.NoError(t, err)

	_, err = app.Revive(ctx, "trader", decimal.Zero)
	require.ErrorIs(t, err, storage.ErrNotBankrupt)

	_, err = app.Revive(ctx, "nobody", decimal.NewFromInt(50))
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestAppMiddlewareIsOutermost(t *testing.T) {
	mw := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Embedded-By", "host")
			next.ServeHTTP(w, r)
		})
	}
	app := newApp(t, ichiba.WithMiddleware(mw))

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "host", rec.Header().Get("X-Embedded-By"))
}
