package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Registry holds one Pool per capability. It is built once at process start
// and shared read-only by every orchestrator.
type Registry struct {
	logger *zap.Logger

	mu    sync.RWMutex
	pools map[Capability]*Pool
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		logger: logger.With(zap.String("component", "provider_registry")),
		pools:  make(map[Capability]*Pool),
	}
}

// Register adds a pool; one pool per capability.
func (r *Registry) Register(pool *Pool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.pools[pool.Capability()]; exists {
		return fmt.Errorf("pool for %s already registered", pool.Capability())
	}
	r.pools[pool.Capability()] = pool
	return nil
}

// Pool returns the pool for capability.
func (r *Registry) Pool(capability Capability) (*Pool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pools[capability]
	return p, ok
}

// Acquire leases an adapter of the given capability.
func (r *Registry) Acquire(ctx context.Context, capability Capability) (*Lease, error) {
	p, ok := r.Pool(capability)
	if !ok {
		return nil, fmt.Errorf("no pool registered for %s", capability)
	}
	return p.Acquire(ctx)
}

// Ready reports whether each of the required capabilities has an adapter
// that is not Unhealthy.
func (r *Registry) Ready(required ...Capability) bool {
	for _, c := range required {
		p, ok := r.Pool(c)
		if !ok || !p.Available() {
			return false
		}
	}
	return true
}

// Snapshot returns the status of every pool.
func (r *Registry) Snapshot() map[Capability][]MemberStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[Capability][]MemberStatus, len(r.pools))
	for c, p := range r.pools {
		out[c] = p.Snapshot()
	}
	return out
}

// StartHealthChecks checks every pool each interval until ctx is done.
func (r *Registry) StartHealthChecks(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.mu.RLock()
				pools := make([]*Pool, 0, len(r.pools))
				for _, p := range r.pools {
					pools = append(pools, p)
				}
				r.mu.RUnlock()

				for _, p := range pools {
					checkCtx, cancel := context.WithTimeout(ctx, interval)
					p.CheckHealth(checkCtx)
					cancel()
				}
			}
		}
	}()
}
