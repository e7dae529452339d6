// Package oracletest provides a scripted oracle for tests.
package oracletest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ashita-ai/ichiba/internal/model"
	"github.com/ashita-ai/ichiba/internal/oracle"
)

// ErrScripted is returned for agents scripted to fail.
var ErrScripted = errors.New("oracletest: scripted failure")

// Scripted returns fixed decisions per agent. Agents without a script WAIT.
// It is safe for concurrent use.
type Scripted struct {
	mu        sync.Mutex
	decisions map[string]model.Decision
	failures  map[string]error
	delays    map[string]time.Duration
	calls     []oracle.Request
}

// New creates an empty script.
func New() *Scripted {
	return &Scripted{
		decisions: map[string]model.Decision{},
		failures:  map[string]error{},
		delays:    map[string]time.Duration{},
	}
}

// On scripts the decision returned for agentID.
func (s *Scripted) On(agentID string, d model.Decision) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions[agentID] = d
	return s
}

// Fail scripts agentID's call to fail with err (ErrScripted if nil).
func (s *Scripted) Fail(agentID string, err error) *Scripted {
	if err == nil {
		err = ErrScripted
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[agentID] = err
	return s
}

// Delay makes agentID's call block for d or until its context is done.
func (s *Scripted) Delay(agentID string, d time.Duration) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays[agentID] = d
	return s
}

// Reset clears every script and recorded call.
func (s *Scripted) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions = map[string]model.Decision{}
	s.failures = map[string]error{}
	s.delays = map[string]time.Duration{}
	s.calls = nil
}

// Calls returns the requests received so far.
func (s *Scripted) Calls() []oracle.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]oracle.Request, len(s.calls))
	copy(out, s.calls)
	return out
}

// Decide implements oracle.Oracle.
func (s *Scripted) Decide(ctx context.Context, req oracle.Request) (model.Decision, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	d, scripted := s.decisions[req.Agent.ID]
	err := s.failures[req.Agent.ID]
	delay := s.delays[req.Agent.ID]
	s.mu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return model.Decision{}, ctx.Err()
		case <-t.C:
		}
	}
	if err != nil {
		return model.Decision{}, err
	}
	if !scripted {
		return model.Wait("scripted default"), nil
	}
	return d, nil
}
