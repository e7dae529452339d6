// Package epoch runs the economy one epoch at a time.
//
// An epoch draws a market event, collects decisions, matches trades,
// settles them on the ledger, retires insolvent agents, commits everything
// in one store transaction and finally anchors the committed state. Epochs
// never overlap: a second RunEpoch while one is in flight fails fast with
// ErrEpochInProgress.
package epoch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashita-ai/ichiba/internal/integrity"
	"github.com/ashita-ai/ichiba/internal/model"
	"github.com/ashita-ai/ichiba/internal/oracle"
	"github.com/ashita-ai/ichiba/internal/service/decisions"
	"github.com/ashita-ai/ichiba/internal/service/ledger"
	"github.com/ashita-ai/ichiba/internal/service/market"
	"github.com/ashita-ai/ichiba/internal/service/matching"
	"github.com/ashita-ai/ichiba/internal/service/solvency"
	"github.com/ashita-ai/ichiba/internal/telemetry"
)

var (
	// ErrEpochInProgress is returned when RunEpoch is called while another
	// epoch is running.
	ErrEpochInProgress = errors.New("epoch: an epoch is already in progress")

	// ErrNotEnoughAgents is returned when fewer than two agents are active.
	// No epoch number is consumed.
	ErrNotEnoughAgents = errors.New("epoch: fewer than two active agents")
)

// minActiveAgents is the smallest roster that can trade.
const minActiveAgents = 2

// anchorTimeout bounds the post-commit anchor write, which runs even if the
// caller's context was cancelled after the commit.
const anchorTimeout = 10 * time.Second

// Store is the persistence the engine needs.
type Store interface {
	ListActiveAgents(ctx context.Context) ([]model.Agent, error)
	LastEpochNumber(ctx context.Context) (int, error)
	CommitEpoch(ctx context.Context, c model.EpochCommit) error
	GetEpoch(ctx context.Context, number int) (model.Epoch, error)
	ListEpochTransactions(ctx context.Context, number int) ([]model.Transaction, error)
	ListEpochSnapshots(ctx context.Context, number int) ([]model.AgentSnapshot, error)
	SetEpochAnchor(ctx context.Context, number int, hash string) error
	ListUnanchoredEpochs(ctx context.Context) ([]int, error)
	ListEpochAnchors(ctx context.Context) ([]model.EpochAnchor, error)
}

// Config tunes the engine. Zero values select defaults.
type Config struct {
	// Rand drives event selection and supplementary matching. Defaults to a
	// time-seeded PCG.
	Rand *rand.Rand
	// Events overrides the market event catalog.
	Events []model.MarketEvent
	// Decisions configures the oracle fan-out.
	Decisions decisions.Config
	// Now overrides the clock.
	Now func() time.Time
}

// Engine is the epoch scheduler.
type Engine struct {
	store     Store
	selector  *market.Selector
	collector *decisions.Collector
	matcher   *matching.Matcher
	now       func() time.Time
	logger    *slog.Logger

	running sync.Mutex

	tracer trace.Tracer
	inst   telemetry.EngineInstruments
}

// New creates an Engine.
func New(store Store, o oracle.Oracle, cfg Config, logger *slog.Logger) *Engine {
	rng := cfg.Rand
	if rng == nil {
		seed := uint64(time.Now().UnixNano()) //nolint:gosec // simulation randomness
		rng = rand.New(rand.NewPCG(seed, seed>>1|1))
	}
	selector := market.NewSelector(rng)
	if len(cfg.Events) > 0 {
		selector = market.NewSelectorWithCatalog(rng, cfg.Events)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	inst, err := telemetry.NewEngineInstruments(telemetry.Meter("ichiba/epoch"))
	if err != nil {
		logger.Warn("epoch: instruments unavailable", "error", err)
	}
	return &Engine{
		store:     store,
		selector:  selector,
		collector: decisions.New(o, cfg.Decisions, logger),
		matcher:   matching.New(rng),
		now:       now,
		logger:    logger,
		tracer:    telemetry.Tracer("ichiba/epoch"),
		inst:      inst,
	}
}

// RunEpoch executes exactly one epoch. Nothing is persisted unless every
// phase succeeds; a failed or cancelled epoch leaves the store untouched and
// the next run reuses the same number.
func (e *Engine) RunEpoch(ctx context.Context) (model.EpochSummary, error) {
	if !e.running.TryLock() {
		return model.EpochSummary{}, ErrEpochInProgress
	}
	defer e.running.Unlock()

	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "epoch.run")
	defer span.End()

	summary, err := e.run(ctx, span)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return model.EpochSummary{}, err
	}
	e.inst.EpochDuration.Record(ctx, float64(time.Since(start).Milliseconds()))
	return summary, nil
}

func (e *Engine) run(ctx context.Context, span trace.Span) (model.EpochSummary, error) {
	roster, err := e.store.ListActiveAgents(ctx)
	if err != nil {
		return model.EpochSummary{}, fmt.Errorf("epoch: load roster: %w", err)
	}
	if len(roster) < minActiveAgents {
		return model.EpochSummary{}, fmt.Errorf("%w: %d active", ErrNotEnoughAgents, len(roster))
	}
	last, err := e.store.LastEpochNumber(ctx)
	if err != nil {
		return model.EpochSummary{}, fmt.Errorf("epoch: last epoch number: %w", err)
	}
	number := last + 1
	span.SetAttributes(attribute.Int("epoch", number), attribute.Int("roster", len(roster)))

	event := e.selector.Select()
	log := e.logger.With("epoch", number)
	log.Info("epoch started", "event", event.Type, "roster", len(roster))

	collectCtx, collectSpan := e.tracer.Start(ctx, "epoch.collect")
	collected, err := e.collector.Collect(collectCtx, number, roster, event)
	collectSpan.End()
	if err != nil {
		return model.EpochSummary{}, fmt.Errorf("epoch %d: %w", number, err)
	}

	_, matchSpan := e.tracer.Start(ctx, "epoch.match")
	transfers := e.matcher.Match(roster, collected.Decisions, event)
	matchSpan.End()

	now := e.now().UTC().Truncate(time.Microsecond)
	book := ledger.New(number, roster, now)
	txs, err := book.Apply(transfers)
	if err != nil {
		return model.EpochSummary{}, fmt.Errorf("epoch %d: settle: %w", number, err)
	}
	trades := len(txs)

	changes := solvency.Reclassify(book.Agents())
	retiring := solvency.Retiring(changes)
	for _, id := range retiring {
		tomb, err := book.Retire(id)
		if err != nil {
			return model.EpochSummary{}, fmt.Errorf("epoch %d: retire: %w", number, err)
		}
		txs = append(txs, tomb)
	}

	agents := book.Agents()
	leaderboard := Leaderboard(agents)
	record := model.Epoch{
		Number:           number,
		TotalVolume:      decimal.Zero,
		TotalFees:        decimal.Zero,
		TradeCount:       trades,
		Bankruptcies:     len(retiring),
		EventType:        event.Type,
		EventDescription: event.Description,
		CreatedAt:        now,
	}
	for _, tx := range txs {
		if tx.Kind == model.KindTrade {
			record.TotalVolume = record.TotalVolume.Add(tx.Amount)
			record.TotalFees = record.TotalFees.Add(tx.Fee)
		}
	}
	for _, a := range agents {
		if a.Active() {
			record.ActiveAgents++
		}
	}
	if len(leaderboard) > 0 {
		record.TopEarner = leaderboard[0].ID
	}

	snapshots := make([]model.AgentSnapshot, 0, len(agents))
	for _, a := range agents {
		snapshots = append(snapshots, a.Snapshot())
	}

	if err := ctx.Err(); err != nil {
		return model.EpochSummary{}, fmt.Errorf("epoch %d: aborted before commit: %w", number, err)
	}

	commitCtx, commitSpan := e.tracer.Start(ctx, "epoch.commit")
	err = e.store.CommitEpoch(commitCtx, model.EpochCommit{
		Epoch:        record,
		Transactions: txs,
		Agents:       agents,
		Snapshots:    snapshots,
	})
	commitSpan.End()
	if err != nil {
		return model.EpochSummary{}, fmt.Errorf("epoch %d: commit: %w", number, err)
	}
	e.recordCommitted(ctx, txs, len(retiring))

	summary := model.EpochSummary{
		Epoch:        record,
		Event:        event,
		Trades:       trades,
		Volume:       record.TotalVolume,
		Fees:         record.TotalFees,
		Bankruptcies: len(retiring),
		Fallbacks:    collected.Fallbacks,
		Advisories:   solvency.Advisories(changes),
		Leaderboard:  leaderboard,
	}

	hash, err := e.anchorCommitted(ctx, integrity.AnchorInput{
		Epoch:        number,
		EventType:    event.Type,
		Timestamp:    now,
		Transactions: txs,
		Roster:       snapshots,
	})
	if err != nil {
		// The epoch is committed; BackfillAnchors picks it up later.
		log.Warn("epoch left unanchored", "error", err)
		e.inst.AnchorFailures.Add(ctx, 1)
	} else {
		summary.AnchorHash = hash
		summary.Epoch.AnchorHash = &hash
	}

	log.Info("epoch committed",
		"event", event.Type,
		"trades", trades,
		"volume", model.FormatMoney(record.TotalVolume),
		"fees", model.FormatMoney(record.TotalFees),
		"bankruptcies", len(retiring),
		"oracle_fallbacks", collected.Fallbacks,
		"active", record.ActiveAgents,
		"anchored", summary.AnchorHash != "",
	)
	return summary, nil
}

func (e *Engine) anchorCommitted(ctx context.Context, in integrity.AnchorInput) (string, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), anchorTimeout)
	defer cancel()
	ctx, span := e.tracer.Start(ctx, "epoch.anchor")
	defer span.End()

	hash, err := integrity.ComputeAnchor(in)
	if err != nil {
		return "", err
	}
	if err := e.store.SetEpochAnchor(ctx, in.Epoch, hash); err != nil {
		return "", err
	}
	return hash, nil
}

// RunN runs up to n epochs back to back, sleeping delay between them. It
// stops at the first error and returns the summaries completed so far.
// onEpoch, if non-nil, is called after each successful epoch.
func (e *Engine) RunN(ctx context.Context, n int, delay time.Duration, onEpoch func(model.EpochSummary)) ([]model.EpochSummary, error) {
	out := make([]model.EpochSummary, 0, n)
	for i := range n {
		if i > 0 && delay > 0 {
			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return out, ctx.Err()
			case <-t.C:
			}
		}
		s, err := e.RunEpoch(ctx)
		if err != nil {
			return out, err
		}
		out = append(out, s)
		if onEpoch != nil {
			onEpoch(s)
		}
	}
	return out, nil
}

// Leaderboard orders agents by balance descending, then id.
func Leaderboard(agents []model.Agent) []model.Agent {
	out := make([]model.Agent, len(agents))
	copy(out, agents)
	sort.SliceStable(out, func(i, j int) bool {
		if c := out[i].Balance.Cmp(out[j].Balance); c != 0 {
			return c > 0
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (e *Engine) recordCommitted(ctx context.Context, txs []model.Transaction, bankruptcies int) {
	byPhase := map[model.Phase]int64{}
	volume := decimal.Zero
	for _, tx := range txs {
		if tx.Kind != model.KindTrade {
			continue
		}
		byPhase[tx.Phase]++
		volume = volume.Add(tx.Amount)
	}
	for phase, n := range byPhase {
		e.inst.Trades.Add(ctx, n, metric.WithAttributes(attribute.String("phase", string(phase))))
	}
	e.inst.Volume.Add(ctx, volume.InexactFloat64())
	e.inst.Bankruptcies.Add(ctx, int64(bankruptcies))
}
