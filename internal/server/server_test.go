package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/ichiba/internal/model"
	"github.com/ashita-ai/ichiba/internal/oracle/oracletest"
	"github.com/ashita-ai/ichiba/internal/ratelimit"
	"github.com/ashita-ai/ichiba/internal/server"
	"github.com/ashita-ai/ichiba/internal/service/decisions"
	"github.com/ashita-ai/ichiba/internal/service/epoch"
	"github.com/ashita-ai/ichiba/internal/storage/sqlite"
	"github.com/ashita-ai/ichiba/internal/testutil"
)

const adminSecret = "s3cret"

type env struct {
	srv    *httptest.Server
	store  *sqlite.DB
	engine *epoch.Engine
	broker *server.Broker
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store := testutil.NewMemoryStore(t)
	testutil.SeedAgents(t, store, "alice", "100", "bob", "100", "carol", "0.50")
	o := oracletest.New().
		On("alice", model.Decision{Action: model.ActionBuy, Skill: "coding", Price: decimal.NewFromInt(20)}).
		On("bob", model.Decision{Action: model.ActionSell, Skill: "coding", Price: decimal.NewFromInt(15)})
	eng := epoch.New(store, o, epoch.Config{
		Rand:      rand.New(rand.NewPCG(1, 2)),
		Events:    testutil.QuietMarket(),
		Decisions: decisions.Config{Timeout: time.Second},
	}, testutil.TestLogger())
	broker := server.NewBroker(testutil.TestLogger())

	srv := server.New(server.ServerConfig{
		Store:       store,
		Engine:      eng,
		Broker:      broker,
		Logger:      testutil.TestLogger(),
		AdminSecret: adminSecret,
		Version:     "test",
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &env{srv: ts, store: store, engine: eng, broker: broker}
}

func (e *env) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, r)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeData[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var env struct {
		Data T                  `json:"data"`
		Meta model.ResponseMeta `json:"meta"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	assert.NotEmpty(t, env.Meta.RequestID)
	return env.Data
}

func decodeErr(t *testing.T, resp *http.Response) model.ErrorDetail {
	t.Helper()
	var body model.APIError
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body.Error
}

func TestHealthEndpoint(t *testing.T) {
	e := newEnv(t)
	resp := e.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	h := decodeData[model.HealthResponse](t, resp)
	assert.Equal(t, "healthy", h.Status)
	assert.Equal(t, "sqlite", h.Store)
	assert.Equal(t, "test", h.Version)
	assert.Zero(t, h.LastEpoch)
}

func TestRunEpochRequiresAdmin(t *testing.T) {
	e := newEnv(t)

	resp := e.do(t, http.MethodPost, "/v1/epochs/run", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp = e.do(t, http.MethodPost, "/v1/epochs/run", "wrong", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	last, err := e.store.LastEpochNumber(context.Background())
	require.NoError(t, err)
	assert.Zero(t, last, "rejected requests must not run an epoch")
}

func TestAdminRoutesDisabledWithoutSecret(t *testing.T) {
	store := testutil.NewMemoryStore(t)
	srv := server.New(server.ServerConfig{
		Store:  store,
		Engine: epoch.New(store, oracletest.New(), epoch.Config{}, testutil.TestLogger()),
		Logger: testutil.TestLogger(),
	})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/epochs/run", nil)
	req.Header.Set("Authorization", "Bearer anything")
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRunEpochAndReadBack(t *testing.T) {
	e := newEnv(t)

	resp := e.do(t, http.MethodPost, "/v1/epochs/run", adminSecret, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	run := decodeData[model.RunEpochResponse](t, resp)
	assert.Equal(t, 1, run.Summary.Epoch.Number)
	assert.Equal(t, 1, run.Summary.Trades)
	assert.Equal(t, 1, run.Summary.Bankruptcies)
	assert.NotEmpty(t, run.Summary.AnchorHash)

	t.Run("epoch detail", func(t *testing.T) {
		resp := e.do(t, http.MethodGet, "/v1/epochs/1", "", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		d := decodeData[model.EpochDetail](t, resp)
		assert.Equal(t, 1, d.Epoch.Number)
		require.Len(t, d.Transactions, 2)
		assert.Equal(t, model.KindTrade, d.Transactions[0].Kind)
		assert.Equal(t, "15.0000", model.FormatMoney(d.Transactions[0].Amount))
		assert.Equal(t, model.KindBankruptcy, d.Transactions[1].Kind)
	})

	t.Run("epoch list", func(t *testing.T) {
		resp := e.do(t, http.MethodGet, "/v1/epochs?limit=10", "", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var list struct {
			Data    []model.Epoch `json:"data"`
			HasMore bool          `json:"has_more"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
		require.Len(t, list.Data, 1)
		assert.False(t, list.HasMore)
	})

	t.Run("leaderboard", func(t *testing.T) {
		resp := e.do(t, http.MethodGet, "/v1/leaderboard", "", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		rows := decodeData[[]model.LeaderboardEntry](t, resp)
		require.Len(t, rows, 3)
		assert.Equal(t, "bob", rows[0].Agent.ID)
		assert.Equal(t, "114.2500", model.FormatMoney(rows[0].Agent.Balance))
		assert.Equal(t, "alice", rows[1].Agent.ID)
		assert.Equal(t, model.StatusBankrupt, rows[2].Classification)
	})

	t.Run("stats", func(t *testing.T) {
		resp := e.do(t, http.MethodGet, "/v1/stats", "", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		s := decodeData[model.Stats](t, resp)
		assert.Equal(t, 3, s.TotalAgents)
		assert.Equal(t, 2, s.ActiveAgents)
		assert.Equal(t, 1, s.BankruptAgents)
		assert.Equal(t, 1, s.TotalEpochs)
		assert.Equal(t, 1, s.TotalTransactions, "tombstones are not trades")
	})

	t.Run("agent detail", func(t *testing.T) {
		resp := e.do(t, http.MethodGet, "/v1/agents/bob", "", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		d := decodeData[model.AgentDetail](t, resp)
		assert.Equal(t, "bob", d.Agent.ID)
		require.Len(t, d.TopPartners, 1)
		assert.Equal(t, "alice", d.TopPartners[0].AgentID)
		require.Len(t, d.History, 1)
	})

	t.Run("agent list filter", func(t *testing.T) {
		resp := e.do(t, http.MethodGet, "/v1/agents?status=bankrupt", "", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var list struct {
			Data []model.Agent `json:"data"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
		require.Len(t, list.Data, 1)
		assert.Equal(t, "carol", list.Data[0].ID)
	})

	t.Run("verify anchor", func(t *testing.T) {
		resp := e.do(t, http.MethodGet, "/v1/epochs/1/anchor", "", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		v := decodeData[model.AnchorVerification](t, resp)
		assert.True(t, v.Anchored)
		assert.True(t, v.Valid)
		assert.Equal(t, run.Summary.AnchorHash, v.AnchorHash)
		assert.Equal(t, v.AnchorHash, v.RecomputedHash)
	})

	t.Run("ledger root", func(t *testing.T) {
		resp := e.do(t, http.MethodGet, "/v1/ledger/root", "", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		root := decodeData[model.LedgerRoot](t, resp)
		assert.Equal(t, 1, root.Anchored)
		assert.Empty(t, root.Unanchored)
		assert.NotEmpty(t, root.Root)
	})
}

func TestNotFoundAndBadInput(t *testing.T) {
	e := newEnv(t)

	resp := e.do(t, http.MethodGet, "/v1/epochs/9", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, model.ErrCodeNotFound, decodeErr(t, resp).Code)

	resp = e.do(t, http.MethodGet, "/v1/epochs/9/anchor", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = e.do(t, http.MethodGet, "/v1/epochs/zero", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = e.do(t, http.MethodGet, "/v1/agents/nobody", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = e.do(t, http.MethodGet, "/v1/agents?status=warning", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAnchorEndpointAttachesMissingAnchor(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	// Commit an epoch directly so it has no anchor.
	now := time.Now().UTC()
	alice, err := e.store.GetAgent(ctx, "alice")
	require.NoError(t, err)
	require.NoError(t, e.store.CommitEpoch(ctx, model.EpochCommit{
		Epoch:     model.Epoch{Number: 1, EventType: model.EventNormal, EventDescription: "quiet", ActiveAgents: 3, CreatedAt: now},
		Agents:    []model.Agent{alice},
		Snapshots: []model.AgentSnapshot{alice.Snapshot()},
	}))

	resp := e.do(t, http.MethodGet, "/v1/epochs/1/anchor", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	v := decodeData[model.AnchorVerification](t, resp)
	assert.False(t, v.Anchored)
	assert.False(t, v.Valid)
	assert.NotEmpty(t, v.RecomputedHash)

	resp = e.do(t, http.MethodPost, "/v1/epochs/1/anchor", adminSecret, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	a := decodeData[model.EpochAnchor](t, resp)
	assert.Equal(t, v.RecomputedHash, a.AnchorHash)

	resp = e.do(t, http.MethodGet, "/v1/epochs/1/anchor", "", nil)
	v = decodeData[model.AnchorVerification](t, resp)
	assert.True(t, v.Valid)
}

func TestReviveEndpoint(t *testing.T) {
	e := newEnv(t)
	resp := e.do(t, http.MethodPost, "/v1/epochs/run", adminSecret, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = e.do(t, http.MethodPost, "/v1/agents/alice/revive", adminSecret, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = e.do(t, http.MethodPost, "/v1/agents/carol/revive", adminSecret, map[string]string{"balance": "25"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	a := decodeData[model.Agent](t, resp)
	assert.Equal(t, model.StatusActive, a.Status)
	assert.Equal(t, "25.0000", model.FormatMoney(a.Balance))

	resp = e.do(t, http.MethodPost, "/v1/agents/carol/revive", adminSecret, map[string]string{"bogus": "1"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRunEpochNotEnoughAgents(t *testing.T) {
	store := testutil.NewMemoryStore(t)
	testutil.SeedAgents(t, store, "solo", "100")
	srv := server.New(server.ServerConfig{
		Store:       store,
		Engine:      epoch.New(store, oracletest.New(), epoch.Config{}, testutil.TestLogger()),
		Logger:      testutil.TestLogger(),
		AdminSecret: adminSecret,
	})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/epochs/run", nil)
	req.Header.Set("Authorization", "Bearer "+adminSecret)
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSubscribeStreamsEpochs(t *testing.T) {
	e := newEnv(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.srv.URL+"/v1/subscribe", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return e.broker.Subscribers() == 1 }, time.Second, 10*time.Millisecond)
	run := e.do(t, http.MethodPost, "/v1/epochs/run", adminSecret, nil)
	require.Equal(t, http.StatusCreated, run.StatusCode)

	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 1024)
	for !strings.Contains(string(buf), "\n\n") {
		n, err := resp.Body.Read(chunk)
		require.NoError(t, err)
		buf = append(buf, chunk[:n]...)
	}
	assert.True(t, strings.HasPrefix(string(buf), "event: epoch\nid: 1\n"), "got %q", buf)
}

func TestRateLimitedReadAPI(t *testing.T) {
	store := testutil.NewMemoryStore(t)
	lim := newTightLimiter(t)
	srv := server.New(server.ServerConfig{
		Store:   store,
		Engine:  epoch.New(store, oracletest.New(), epoch.Config{}, testutil.TestLogger()),
		Logger:  testutil.TestLogger(),
		Limiter: lim,
	})
	codes := make([]int, 0, 3)
	for range 3 {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
		req.RemoteAddr = "10.1.1.1:999"
		srv.Handler().ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{200, 200, 429}, codes)

	// Health is never limited.
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "10.1.1.1:999"
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func newTightLimiter(t *testing.T) *ratelimit.MemoryLimiter {
	t.Helper()
	lim := ratelimit.NewMemoryLimiter(0.001, 2)
	t.Cleanup(func() { _ = lim.Close() })
	return lim
}
