package provider

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Lease binds one session to one pooled adapter until released.
type Lease struct {
	pool       *Pool
	member     *member
	acquiredAt time.Time

	once sync.Once
}

// Adapter returns the leased adapter.
func (l *Lease) Adapter() Adapter { return l.member.adapter }

// Name returns the leased adapter's name.
func (l *Lease) Name() string { return l.member.adapter.Name() }

// Capability returns the pool capability.
func (l *Lease) Capability() Capability { return l.pool.capability }

// Report forwards an outcome for the leased adapter to its pool.
func (l *Lease) Report(outcome Outcome) {
	l.pool.report(l.member, outcome)
}

// ReportError classifies err and reports it. Cancellation is not reported.
func (l *Lease) ReportError(err error) {
	if outcome, count := OutcomeFromError(err); count {
		l.Report(outcome)
	}
}

// Release returns the lease. Calling it more than once is a no-op.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.member.mu.Lock()
		l.member.leases--
		l.member.mu.Unlock()
	})
}

// ForceRelease returns a lease whose holder did not stop in time and records
// a transient failure against the adapter.
func (l *Lease) ForceRelease() {
	released := false
	l.once.Do(func() {
		l.member.mu.Lock()
		l.member.leases--
		l.member.mu.Unlock()
		released = true
	})
	if !released {
		return
	}
	l.pool.logger.Warn("force-released hung provider lease",
		zap.String("provider", l.Name()),
		zap.Duration("held", l.pool.now().Sub(l.acquiredAt)),
	)
	l.Report(OutcomeTransientFailure)
}
