package epoch

import (
	"context"
	"fmt"

	"github.com/ashita-ai/ichiba/internal/integrity"
	"github.com/ashita-ai/ichiba/internal/model"
)

// anchorInput rebuilds the anchor input of a committed epoch from the store.
func (e *Engine) anchorInput(ctx context.Context, rec model.Epoch) (integrity.AnchorInput, error) {
	txs, err := e.store.ListEpochTransactions(ctx, rec.Number)
	if err != nil {
		return integrity.AnchorInput{}, fmt.Errorf("epoch: load transactions of %d: %w", rec.Number, err)
	}
	snaps, err := e.store.ListEpochSnapshots(ctx, rec.Number)
	if err != nil {
		return integrity.AnchorInput{}, fmt.Errorf("epoch: load snapshot of %d: %w", rec.Number, err)
	}
	return integrity.AnchorInput{
		Epoch:        rec.Number,
		EventType:    rec.EventType,
		Timestamp:    rec.CreatedAt,
		Transactions: txs,
		Roster:       snaps,
	}, nil
}

// AnchorEpoch computes and attaches the anchor of a committed epoch. An
// already anchored epoch returns its stored hash unchanged. Anchoring only
// reads committed state, so it is safe to call at any time.
func (e *Engine) AnchorEpoch(ctx context.Context, number int) (string, error) {
	rec, err := e.store.GetEpoch(ctx, number)
	if err != nil {
		return "", fmt.Errorf("epoch: anchor %d: %w", number, err)
	}
	if rec.Anchored() {
		return *rec.AnchorHash, nil
	}
	in, err := e.anchorInput(ctx, rec)
	if err != nil {
		return "", err
	}
	hash, err := integrity.ComputeAnchor(in)
	if err != nil {
		return "", fmt.Errorf("epoch: anchor %d: %w", number, err)
	}
	if err := e.store.SetEpochAnchor(ctx, number, hash); err != nil {
		return "", fmt.Errorf("epoch: anchor %d: %w", number, err)
	}
	e.logger.Info("epoch anchored", "epoch", number, "anchor_hash", hash)
	return hash, nil
}

// VerifyEpoch recomputes an epoch's anchor from committed data and compares
// it with the stored hash.
func (e *Engine) VerifyEpoch(ctx context.Context, number int) (model.AnchorVerification, error) {
	rec, err := e.store.GetEpoch(ctx, number)
	if err != nil {
		return model.AnchorVerification{}, fmt.Errorf("epoch: verify %d: %w", number, err)
	}
	in, err := e.anchorInput(ctx, rec)
	if err != nil {
		return model.AnchorVerification{}, err
	}
	stored := ""
	if rec.Anchored() {
		stored = *rec.AnchorHash
	}
	valid, recomputed, err := integrity.VerifyAnchor(stored, in)
	if err != nil {
		return model.AnchorVerification{}, fmt.Errorf("epoch: verify %d: %w", number, err)
	}
	return model.AnchorVerification{
		Epoch:          rec.Number,
		Anchored:       rec.Anchored(),
		AnchorHash:     stored,
		RecomputedHash: recomputed,
		Valid:          valid,
		Event:          rec.EventType,
		TotalVolume:    rec.TotalVolume,
		ActiveAgents:   rec.ActiveAgents,
		Bankruptcies:   rec.Bankruptcies,
	}, nil
}

// BackfillAnchors anchors every committed epoch that lacks one and returns
// how many were anchored.
func (e *Engine) BackfillAnchors(ctx context.Context) (int, error) {
	pending, err := e.store.ListUnanchoredEpochs(ctx)
	if err != nil {
		return 0, fmt.Errorf("epoch: backfill: %w", err)
	}
	done := 0
	for _, n := range pending {
		if _, err := e.AnchorEpoch(ctx, n); err != nil {
			return done, err
		}
		done++
	}
	if done > 0 {
		e.logger.Info("anchors backfilled", "count", done)
	}
	return done, nil
}

// LedgerRoot folds every stored anchor, in epoch order, into one Merkle root
// that commits to the whole anchored history.
func (e *Engine) LedgerRoot(ctx context.Context) (model.LedgerRoot, error) {
	anchors, err := e.store.ListEpochAnchors(ctx)
	if err != nil {
		return model.LedgerRoot{}, fmt.Errorf("epoch: ledger root: %w", err)
	}
	root := model.LedgerRoot{Epochs: len(anchors), Unanchored: []int{}}
	leaves := make([]string, 0, len(anchors))
	for _, a := range anchors {
		if a.AnchorHash == "" {
			root.Unanchored = append(root.Unanchored, a.Epoch)
			continue
		}
		if root.FirstEpoch == 0 {
			root.FirstEpoch = a.Epoch
		}
		root.LastEpoch = a.Epoch
		leaves = append(leaves, a.AnchorHash)
	}
	root.Anchored = len(leaves)
	root.Root = integrity.BuildMerkleRoot(leaves)
	return root, nil
}
