// Package decisions collects one decision per active agent from the oracle.
//
// Every oracle failure is absorbed here: timeouts, transport errors, panics,
// unparsable replies, and schema violations all resolve to WAIT. The
// collector always returns a decision for every active agent.
package decisions

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/ichiba/internal/model"
	"github.com/ashita-ai/ichiba/internal/oracle"
	"github.com/ashita-ai/ichiba/internal/telemetry"
)

// Defaults used when a Config field is zero.
const (
	DefaultTimeout     = 15 * time.Second
	DefaultConcurrency = 4
)

// Config tunes the collector.
type Config struct {
	Timeout     time.Duration
	Concurrency int
}

// Collector fans decision requests out to the oracle with bounded parallelism.
type Collector struct {
	oracle      oracle.Oracle
	timeout     time.Duration
	concurrency int
	logger      *slog.Logger

	oracleDuration metric.Float64Histogram
	fallbacks      metric.Int64Counter
}

// New creates a Collector.
func New(o oracle.Oracle, cfg Config, logger *slog.Logger) *Collector {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	meter := telemetry.Meter("ichiba/decisions")
	dur, _ := meter.Float64Histogram("ichiba.oracle.duration",
		metric.WithDescription("Time spent waiting on the decision oracle (ms)"),
		metric.WithUnit("ms"),
	)
	fb, _ := meter.Int64Counter("ichiba.oracle.fallbacks",
		metric.WithDescription("Decisions replaced with WAIT"),
	)
	return &Collector{
		oracle:         o,
		timeout:        cfg.Timeout,
		concurrency:    cfg.Concurrency,
		logger:         logger,
		oracleDuration: dur,
		fallbacks:      fb,
	}
}

// Result is the outcome of one collection round.
type Result struct {
	Decisions map[string]model.Decision
	// Fallbacks counts agents whose decision was substituted with WAIT.
	Fallbacks int
}

// outcome is one agent's slot in the fan-out.
type outcome struct {
	decision model.Decision
	fallback string // empty when the oracle's decision was used
}

// Collect requests a decision for every active agent in roster. Inactive
// agents are skipped. The only error returned is ctx's, when the caller
// cancels before collection completes.
func (c *Collector) Collect(ctx context.Context, epoch int, roster []model.Agent, event model.MarketEvent) (Result, error) {
	active := make([]model.Agent, 0, len(roster))
	for _, a := range roster {
		if a.Active() {
			active = append(active, a)
		}
	}

	skills := model.Skills()
	outcomes := make([]outcome, len(active))

	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for i, agent := range active {
		req := oracle.Request{
			Epoch:  epoch,
			Agent:  agent,
			Peers:  peersOf(agent.ID, active),
			Event:  event,
			Skills: skills,
		}
		g.Go(func() error {
			outcomes[i] = c.decide(ctx, req)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("decisions: collect: %w", err)
	}

	res := Result{Decisions: make(map[string]model.Decision, len(active))}
	for i, agent := range active {
		o := outcomes[i]
		if o.fallback != "" {
			res.Fallbacks++
			c.fallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", o.fallback)))
		}
		res.Decisions[agent.ID] = o.decision
	}
	return res, nil
}

// decide runs one bounded oracle call and never fails.
func (c *Collector) decide(ctx context.Context, req oracle.Request) outcome {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	type reply struct {
		d   model.Decision
		err error
	}
	ch := make(chan reply, 1)
	start := time.Now()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- reply{err: fmt.Errorf("oracle panic: %v", r)}
			}
		}()
		d, err := c.oracle.Decide(callCtx, req)
		ch <- reply{d: d, err: err}
	}()

	var r reply
	select {
	case r = <-ch:
	case <-callCtx.Done():
		r = reply{err: callCtx.Err()}
	}
	c.oracleDuration.Record(ctx, float64(time.Since(start).Milliseconds()))

	if r.err != nil {
		reason := "error"
		if callCtx.Err() != nil {
			reason = "timeout"
		}
		c.logger.Warn("decisions: oracle failed, agent waits",
			"epoch", req.Epoch, "agent_id", req.Agent.ID, "reason", reason, "error", r.err)
		return outcome{decision: model.Wait(model.ReasonOracleError), fallback: reason}
	}

	d := model.Sanitize(r.d, req.Agent.Balance)
	if d.Action == model.ActionWait && r.d.Action != model.ActionWait {
		c.logger.Warn("decisions: invalid decision, agent waits",
			"epoch", req.Epoch, "agent_id", req.Agent.ID, "action", r.d.Action, "reason", d.Reason)
		return outcome{decision: d, fallback: "invalid"}
	}
	return outcome{decision: d}
}

// peersOf returns the redacted view of every active agent except self.
func peersOf(self string, active []model.Agent) []oracle.Peer {
	peers := make([]oracle.Peer, 0, len(active))
	for _, a := range active {
		if a.ID == self {
			continue
		}
		peers = append(peers, oracle.Peer{ID: a.ID, Name: a.Name, Balance: a.Balance})
	}
	return peers
}
