package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/BaSui01/callflow/types"
	"go.uber.org/zap"
)

// PoolConfig tunes health transitions.
type PoolConfig struct {
	// UnhealthyAfter consecutive failures move an adapter to Unhealthy.
	UnhealthyAfter int
	// FatalCooldown keeps a fatally failed adapter out of the all-Unhealthy
	// reset until it elapses.
	FatalCooldown time.Duration
}

// DefaultPoolConfig returns 3 consecutive failures and a 30s fatal cool-down.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{UnhealthyAfter: 3, FatalCooldown: 30 * time.Second}
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithObserver attaches a metrics observer.
func WithObserver(o Observer) PoolOption {
	return func(p *Pool) { p.observer = o }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) PoolOption {
	return func(p *Pool) { p.now = now }
}

// MemberStatus is a snapshot of one adapter in a pool.
type MemberStatus struct {
	Name                string    `json:"name"`
	Priority            int       `json:"priority"`
	Health              string    `json:"health"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastFailure         time.Time `json:"last_failure,omitempty"`
	ActiveLeases        int       `json:"active_leases"`
}

type member struct {
	adapter  Adapter
	priority int

	mu          sync.Mutex
	health      Health
	consecutive int
	lastFailure time.Time
	lastFatal   bool
	leases      int
}

// Pool ranks the adapters of one capability and tracks their health.
// Health counters are updated under a per-adapter lock; the member list is
// fixed once the pool is in use.
type Pool struct {
	capability Capability
	cfg        PoolConfig
	logger     *zap.Logger
	observer   Observer
	now        func() time.Time

	mu      sync.RWMutex
	members []*member
}

// NewPool creates an empty pool for capability.
func NewPool(capability Capability, cfg PoolConfig, logger *zap.Logger, opts ...PoolOption) *Pool {
	if cfg.UnhealthyAfter <= 0 {
		cfg.UnhealthyAfter = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pool{
		capability: capability,
		cfg:        cfg,
		logger:     logger.With(zap.String("component", "provider_pool"), zap.String("capability", string(capability))),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Add registers an adapter. Lower priority values are tried first; ties keep
// registration order.
func (p *Pool) Add(adapter Adapter, priority int) error {
	if adapter.Capability() != p.capability {
		return fmt.Errorf("adapter %s has capability %s, pool wants %s",
			adapter.Name(), adapter.Capability(), p.capability)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range p.members {
		if m.adapter.Name() == adapter.Name() {
			return fmt.Errorf("adapter %s already registered", adapter.Name())
		}
	}
	p.members = append(p.members, &member{adapter: adapter, priority: priority})
	sort.SliceStable(p.members, func(i, j int) bool {
		return p.members[i].priority < p.members[j].priority
	})
	if p.observer != nil {
		p.observer.SetProviderHealth(string(p.capability), adapter.Name(), int(Healthy))
	}
	return nil
}

// Capability returns the pool's capability.
func (p *Pool) Capability() Capability { return p.capability }

// Len returns the number of registered adapters.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.members)
}

func (p *Pool) snapshotMembers() []*member {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*member, len(p.members))
	copy(out, p.members)
	return out
}

// Acquire leases the best available adapter using a fresh Attempt.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	return p.NewAttempt().Acquire(ctx)
}

// NewAttempt starts an acquisition scope. A caller failing over within one
// turn keeps using the same Attempt so the all-Unhealthy reset happens at
// most once.
func (p *Pool) NewAttempt() *Attempt {
	return &Attempt{pool: p, tried: make(map[*member]bool)}
}

// Report records the outcome of using adapter.
func (p *Pool) Report(adapter Adapter, outcome Outcome) {
	for _, m := range p.snapshotMembers() {
		if m.adapter == adapter || m.adapter.Name() == adapter.Name() {
			p.report(m, outcome)
			return
		}
	}
	p.logger.Warn("outcome reported for unknown adapter", zap.String("provider", adapter.Name()))
}

func (p *Pool) report(m *member, outcome Outcome) {
	m.mu.Lock()
	before := m.health
	switch outcome {
	case OutcomeSuccess:
		m.health = Healthy
		m.consecutive = 0
	case OutcomeTransientFailure:
		m.consecutive++
		m.lastFailure = p.now()
		m.lastFatal = false
		if m.consecutive >= p.cfg.UnhealthyAfter {
			m.health = Unhealthy
		} else {
			m.health = Degraded
		}
	case OutcomeFatalFailure:
		m.consecutive++
		m.lastFailure = p.now()
		m.lastFatal = true
		m.health = Unhealthy
	}
	after, consecutive := m.health, m.consecutive
	m.mu.Unlock()

	name := m.adapter.Name()
	if p.observer != nil {
		p.observer.ObserveProviderOutcome(string(p.capability), name, outcome.String())
		p.observer.SetProviderHealth(string(p.capability), name, int(after))
	}
	if before != after {
		p.logger.Info("provider health changed",
			zap.String("provider", name),
			zap.String("from", before.String()),
			zap.String("to", after.String()),
			zap.Int("consecutive_failures", consecutive),
		)
	}
}

// Health returns the current health of the named adapter.
func (p *Pool) Health(name string) (Health, bool) {
	for _, m := range p.snapshotMembers() {
		if m.adapter.Name() == name {
			m.mu.Lock()
			defer m.mu.Unlock()
			return m.health, true
		}
	}
	return Unhealthy, false
}

// Available reports whether at least one adapter is not Unhealthy.
func (p *Pool) Available() bool {
	for _, m := range p.snapshotMembers() {
		m.mu.Lock()
		ok := m.health != Unhealthy
		m.mu.Unlock()
		if ok {
			return true
		}
	}
	return false
}

// Snapshot returns the status of every adapter in priority order.
func (p *Pool) Snapshot() []MemberStatus {
	members := p.snapshotMembers()
	out := make([]MemberStatus, 0, len(members))
	for _, m := range members {
		m.mu.Lock()
		out = append(out, MemberStatus{
			Name:                m.adapter.Name(),
			Priority:            m.priority,
			Health:              m.health.String(),
			ConsecutiveFailures: m.consecutive,
			LastFailure:         m.lastFailure,
			ActiveLeases:        m.leases,
		})
		m.mu.Unlock()
	}
	return out
}

// CheckHealth runs HealthCheck on every adapter that supports it and reports the
// result.
func (p *Pool) CheckHealth(ctx context.Context) {
	for _, m := range p.snapshotMembers() {
		hc, ok := m.adapter.(HealthChecker)
		if !ok {
			continue
		}
		err := hc.HealthCheck(ctx)
		if outcome, count := OutcomeFromError(err); count {
			if err != nil {
				p.logger.Warn("provider health check failed", zap.String("provider", m.adapter.Name()), zap.Error(err))
			}
			p.report(m, outcome)
		}
	}
}

// resetCandidate picks the least-recently-failed Unhealthy adapter that may be
// given another chance: its last failure was transient, or its fatal
// cool-down has elapsed.
func (p *Pool) resetCandidate(members []*member) *member {
	now := p.now()
	var best *member
	var bestAt time.Time
	for _, m := range members {
		m.mu.Lock()
		eligible := m.health == Unhealthy &&
			(!m.lastFatal || now.Sub(m.lastFailure) >= p.cfg.FatalCooldown)
		at := m.lastFailure
		m.mu.Unlock()
		if eligible && (best == nil || at.Before(bestAt)) {
			best, bestAt = m, at
		}
	}
	return best
}

// Attempt is one acquisition scope; see Pool.NewAttempt.
type Attempt struct {
	pool      *Pool
	tried     map[*member]bool
	resetUsed bool
}

// Acquire selects an adapter:
//  1. the highest-priority adapter not yet tried in this attempt that is not Unhealthy;
//  2. otherwise the highest-priority adapter that is not Unhealthy;
//  3. otherwise, once per attempt, the least-recently-failed Unhealthy adapter
//     is reset to Degraded and retried.
//
// When none of these apply it fails with NoProviderAvailable.
func (a *Attempt) Acquire(ctx context.Context) (*Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := a.pool
	members := p.snapshotMembers()

	pick := func(skipTried bool) *member {
		for _, m := range members {
			if skipTried && a.tried[m] {
				continue
			}
			m.mu.Lock()
			ok := m.health != Unhealthy
			m.mu.Unlock()
			if ok {
				return m
			}
		}
		return nil
	}

	m := pick(true)
	if m == nil {
		m = pick(false)
	}
	if m == nil && !a.resetUsed {
		a.resetUsed = true
		if m = p.resetCandidate(members); m != nil {
			m.mu.Lock()
			m.health = Degraded
			if m.consecutive >= p.cfg.UnhealthyAfter {
				m.consecutive = p.cfg.UnhealthyAfter - 1
			}
			m.mu.Unlock()
			if p.observer != nil {
				p.observer.SetProviderHealth(string(p.capability), m.adapter.Name(), int(Degraded))
			}
			p.logger.Info("all providers unhealthy, retrying least recently failed",
				zap.String("provider", m.adapter.Name()))
		}
	}
	if m == nil {
		return nil, types.NewNoProviderAvailable(string(p.capability))
	}

	a.tried[m] = true
	m.mu.Lock()
	m.leases++
	m.mu.Unlock()
	return &Lease{pool: p, member: m, acquiredAt: p.now()}, nil
}
