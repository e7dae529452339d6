package ratelimit

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/ichiba/internal/telemetry"
)

// Eviction policy for idle client buckets.
const (
	staleAfter    = 10 * time.Minute
	sweepInterval = time.Minute
)

// bucket is one client's token bucket.
type bucket struct {
	tokens   float64
	lastSeen time.Time
}

// MemoryLimiter is an in-process token bucket per client key. Budgets are
// not shared between processes.
type MemoryLimiter struct {
	rate  float64 // tokens refilled per second
	burst float64 // bucket capacity
	now   func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket

	rejected metric.Int64Counter

	stopOnce sync.Once
	done     chan struct{}
}

// NewMemoryLimiter allows rate requests per second per key with bursts of
// up to burst. A background sweep drops keys idle for ten minutes; Close
// stops it.
func NewMemoryLimiter(rate float64, burst int) *MemoryLimiter {
	return newMemoryLimiter(rate, burst, time.Now, true)
}

func newMemoryLimiter(rate float64, burst int, now func() time.Time, sweep bool) *MemoryLimiter {
	m := &MemoryLimiter{
		rate:    rate,
		burst:   float64(burst),
		now:     now,
		buckets: make(map[string]*bucket),
		done:    make(chan struct{}),
	}
	m.registerMetrics()
	if sweep {
		go m.sweep()
	}
	return m
}

func (m *MemoryLimiter) registerMetrics() {
	meter := telemetry.Meter("ichiba/ratelimit")

	m.rejected, _ = meter.Int64Counter("ichiba.ratelimit.rejected",
		metric.WithDescription("Requests refused by the API rate limiter"))

	_, _ = meter.Int64ObservableGauge("ichiba.ratelimit.clients",
		metric.WithDescription("Client keys currently tracked by the rate limiter"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(m.Len()))
			return nil
		}),
	)
}

// Allow takes one token from key's bucket, reporting false when it is empty.
func (m *MemoryLimiter) Allow(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	now := m.now()
	b, ok := m.buckets[key]
	if !ok {
		// New clients start with a full bucket.
		b = &bucket{tokens: m.burst, lastSeen: now}
		m.buckets[key] = b
	} else {
		b.tokens = min(m.burst, b.tokens+now.Sub(b.lastSeen).Seconds()*m.rate)
		b.lastSeen = now
	}
	allowed := b.tokens >= 1
	if allowed {
		b.tokens--
	}
	m.mu.Unlock()

	if !allowed && m.rejected != nil {
		m.rejected.Add(ctx, 1)
	}
	return allowed, nil
}

// Len is the number of tracked client keys.
func (m *MemoryLimiter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buckets)
}

// Close stops the sweep goroutine. Safe to call more than once.
func (m *MemoryLimiter) Close() error {
	m.stopOnce.Do(func() { close(m.done) })
	return nil
}

func (m *MemoryLimiter) sweep() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.evictIdle()
		}
	}
}

// evictIdle drops buckets not touched within staleAfter. A dropped client
// simply starts over with a full bucket.
func (m *MemoryLimiter) evictIdle() {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-staleAfter)
	for key, b := range m.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(m.buckets, key)
		}
	}
}
