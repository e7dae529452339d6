package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/ashita-ai/ichiba/internal/model"
	"github.com/ashita-ai/ichiba/internal/service/reports"
)

// runTimeout bounds an admin-triggered epoch. The run is detached from the
// request so a dropped connection does not abort it mid-commit.
const runTimeout = 5 * time.Minute

// HandleListEpochs handles GET /v1/epochs, newest first.
func (h *Handlers) HandleListEpochs(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 50)
	offset := queryOffset(r)
	epochs, err := h.store.ListEpochs(r.Context(), limit+1, offset)
	if err != nil {
		h.writeStoreError(w, r, "list epochs", err)
		return
	}
	hasMore := len(epochs) > limit
	if hasMore {
		epochs = epochs[:limit]
	}
	if epochs == nil {
		epochs = []model.Epoch{}
	}
	writeList(w, r, epochs, hasMore, limit, offset)
}

// HandleGetEpoch handles GET /v1/epochs/{n}.
func (h *Handlers) HandleGetEpoch(w http.ResponseWriter, r *http.Request) {
	n, err := parseEpochNumber(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	detail, err := reports.EpochDetail(r.Context(), h.store, n)
	if err != nil {
		h.writeStoreError(w, r, "get epoch", err)
		return
	}
	writeJSON(w, r, http.StatusOK, detail)
}

// HandleVerifyAnchor handles GET /v1/epochs/{n}/anchor. Concurrent requests
// for the same epoch share one recomputation.
func (h *Handlers) HandleVerifyAnchor(w http.ResponseWriter, r *http.Request) {
	n, err := parseEpochNumber(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	v, err, _ := h.verifyGroup.Do(strconv.Itoa(n), func() (any, error) {
		// Detached so one caller hanging up does not fail the others.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 30*time.Second)
		defer cancel()
		return h.engine.VerifyEpoch(ctx, n)
	})
	if err != nil {
		h.writeStoreError(w, r, "verify anchor", err)
		return
	}
	writeJSON(w, r, http.StatusOK, v.(model.AnchorVerification))
}

// HandleAnchorEpoch handles POST /v1/epochs/{n}/anchor (admin). It attaches
// a missing anchor; an anchored epoch returns its stored hash.
func (h *Handlers) HandleAnchorEpoch(w http.ResponseWriter, r *http.Request) {
	n, err := parseEpochNumber(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	hash, err := h.engine.AnchorEpoch(r.Context(), n)
	if err != nil {
		h.writeStoreError(w, r, "anchor epoch", err)
		return
	}
	anchor := model.EpochAnchor{Epoch: n, AnchorHash: hash}
	if h.broker != nil {
		h.broker.PublishAnchor(anchor)
	}
	writeJSON(w, r, http.StatusOK, anchor)
}

// HandleRunEpoch handles POST /v1/epochs/run (admin). Exactly one epoch is
// run; 409 if one is already in progress.
func (h *Handlers) HandleRunEpoch(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), runTimeout)
	defer cancel()

	summary, err := h.engine.RunEpoch(ctx)
	if err != nil {
		h.writeStoreError(w, r, "run epoch", err)
		return
	}
	if h.broker != nil {
		h.broker.Publish(summary)
	}
	h.logger.Info("epoch run via api",
		"epoch", summary.Epoch.Number,
		"request_id", RequestIDFromContext(r.Context()))
	writeJSON(w, r, http.StatusCreated, model.RunEpochResponse{Summary: summary})
}

// HandleLedgerRoot handles GET /v1/ledger/root.
func (h *Handlers) HandleLedgerRoot(w http.ResponseWriter, r *http.Request) {
	root, err := h.engine.LedgerRoot(r.Context())
	if err != nil {
		h.writeStoreError(w, r, "ledger root", err)
		return
	}
	writeJSON(w, r, http.StatusOK, root)
}
