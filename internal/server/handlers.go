package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ashita-ai/ichiba/internal/model"
	"github.com/ashita-ai/ichiba/internal/service/epoch"
	"github.com/ashita-ai/ichiba/internal/service/reports"
	"github.com/ashita-ai/ichiba/internal/storage"
)

// Engine is the epoch engine surface the API exposes.
type Engine interface {
	RunEpoch(ctx context.Context) (model.EpochSummary, error)
	AnchorEpoch(ctx context.Context, number int) (string, error)
	VerifyEpoch(ctx context.Context, number int) (model.AnchorVerification, error)
	LedgerRoot(ctx context.Context) (model.LedgerRoot, error)
}

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	store               storage.Store
	engine              Engine
	broker              *Broker
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64

	// verifyGroup collapses concurrent verifications of the same epoch into
	// one recomputation.
	verifyGroup singleflight.Group
}

// HandlersDeps holds all dependencies for constructing Handlers.
// Broker is optional.
type HandlersDeps struct {
	Store               storage.Store
	Engine              Engine
	Broker              *Broker
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	maxBody := d.MaxRequestBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	return &Handlers{
		store:               d.Store,
		engine:              d.Engine,
		broker:              d.Broker,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		maxRequestBodyBytes: maxBody,
	}
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	httpStatus := http.StatusOK

	if err := h.store.Ping(r.Context()); err != nil {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}
	last, err := h.store.LastEpochNumber(r.Context())
	if err != nil && httpStatus == http.StatusOK {
		status = "degraded"
	}

	writeJSON(w, r, httpStatus, model.HealthResponse{
		Status:    status,
		Version:   h.version,
		Store:     h.store.Kind(),
		LastEpoch: last,
		Uptime:    int64(time.Since(h.startedAt).Seconds()),
	})
}

// HandleLeaderboard handles GET /v1/leaderboard.
func (h *Handlers) HandleLeaderboard(w http.ResponseWriter, r *http.Request) {
	agents, err := h.store.ListAgents(r.Context())
	if err != nil {
		h.writeStoreError(w, r, "leaderboard", err)
		return
	}
	writeJSON(w, r, http.StatusOK, reports.Leaderboard(agents, queryLimit(r, defaultLeaderboardLimit)))
}

// HandleStats handles GET /v1/stats.
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats(r.Context())
	if err != nil {
		h.writeStoreError(w, r, "stats", err)
		return
	}
	writeJSON(w, r, http.StatusOK, stats)
}

// HandleListAgents handles GET /v1/agents. ?status=active|bankrupt filters.
func (h *Handlers) HandleListAgents(w http.ResponseWriter, r *http.Request) {
	status := model.AgentStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Persisted() {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "status must be active or bankrupt")
		return
	}
	agents, err := h.store.ListAgents(r.Context())
	if err != nil {
		h.writeStoreError(w, r, "list agents", err)
		return
	}
	if status != "" {
		filtered := agents[:0]
		for _, a := range agents {
			if a.Status == status {
				filtered = append(filtered, a)
			}
		}
		agents = filtered
	}

	limit := queryLimit(r, storage.DefaultListLimit)
	offset := queryOffset(r)
	page := []model.Agent{}
	if offset < len(agents) {
		end := min(offset+limit, len(agents))
		page = agents[offset:end]
	}
	writeList(w, r, page, offset+len(page) < len(agents), limit, offset)
}

// HandleGetAgent handles GET /v1/agents/{id}.
func (h *Handlers) HandleGetAgent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := model.ValidateAgentID(id); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	detail, err := reports.AgentDetail(r.Context(), h.store, id)
	if err != nil {
		h.writeStoreError(w, r, "agent detail", err)
		return
	}
	writeJSON(w, r, http.StatusOK, detail)
}

// HandleSubscribe handles GET /v1/subscribe (SSE).
func (h *Handlers) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	if h.broker == nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeUnavailable,
			"epoch stream not available (no in-process scheduler)")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Idle streams would otherwise die at the server's WriteTimeout.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	ch := h.broker.Subscribe()
	defer h.broker.Unsubscribe(ch)

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			if _, err := w.Write([]byte(":keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case event, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write(event); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// writeStoreError maps domain and storage errors onto the API envelope.
func (h *Handlers) writeStoreError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "not found")
	case errors.Is(err, epoch.ErrEpochInProgress):
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "an epoch is already in progress")
	case errors.Is(err, epoch.ErrNotEnoughAgents):
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "fewer than two active agents")
	case errors.Is(err, storage.ErrAnchorConflict):
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "epoch already carries a different anchor")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeUnavailable, "request timed out")
	default:
		h.logger.Error("server: "+op, "error", err, "request_id", RequestIDFromContext(r.Context()))
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal error")
	}
}

// --- Shared helpers ---

const defaultLeaderboardLimit = 100

// parseEpochNumber reads the {n} path segment.
func parseEpochNumber(r *http.Request) (int, error) {
	raw := r.PathValue("n")
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid epoch number: %q", raw)
	}
	return n, nil
}

// maxQueryLimit is the maximum allowed value for limit query parameters.
const maxQueryLimit = 1000

func queryInt(r *http.Request, key string, defaultVal int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

// maxQueryOffset bounds offsets so a client cannot force huge scans.
const maxQueryOffset = 100_000

// queryOffset returns a bounded, non-negative offset from query params.
func queryOffset(r *http.Request) int {
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		return 0
	}
	if offset > maxQueryOffset {
		return maxQueryOffset
	}
	return offset
}

// queryLimit returns a bounded limit value from query params.
// Values are clamped to [1, maxQueryLimit].
func queryLimit(r *http.Request, defaultVal int) int {
	limit := queryInt(r, "limit", defaultVal)
	if limit < 1 {
		return 1
	}
	if limit > maxQueryLimit {
		return maxQueryLimit
	}
	return limit
}

// HandleReviveAgent handles POST /v1/agents/{id}/revive (admin): the
// out-of-band bankrupt to active override.
func (h *Handlers) HandleReviveAgent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := model.ValidateAgentID(id); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	var req model.ReviveRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	balance := model.Round(req.Balance)
	if balance.IsZero() {
		balance = model.SeedBalance
	}
	if !balance.IsPositive() {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "balance must be positive")
		return
	}
	agent, err := h.store.ReviveAgent(r.Context(), id, balance)
	if errors.Is(err, storage.ErrNotBankrupt) {
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "agent is not bankrupt")
		return
	}
	if err != nil {
		h.writeStoreError(w, r, "revive agent", err)
		return
	}
	h.logger.Info("agent revived via api", "agent_id", id, "balance", model.FormatMoney(balance))
	writeJSON(w, r, http.StatusOK, agent)
}
