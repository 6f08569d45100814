package provider

import (
	"context"
	"errors"

	"github.com/BaSui01/callflow/types"
)

// Health is the pool's view of an adapter.
type Health int

const (
	Healthy Health = iota
	Degraded
	Unhealthy
)

func (h Health) String() string {
	switch h {
	case Healthy:
		return "healthy"
	case Degraded:
		return "degraded"
	case Unhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// Outcome is what a caller reports after using an adapter.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeTransientFailure
	OutcomeFatalFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeTransientFailure:
		return "transient_failure"
	case OutcomeFatalFailure:
		return "fatal_failure"
	default:
		return "unknown"
	}
}

// OutcomeFromError classifies an adapter error. Unknown errors and deadline
// overruns count as transient; only explicit fatal provider errors are fatal.
// Cancellation by the session itself is not the adapter's fault.
func OutcomeFromError(err error) (Outcome, bool) {
	switch {
	case err == nil:
		return OutcomeSuccess, true
	case types.IsFatal(err):
		return OutcomeFatalFailure, true
	case errors.Is(err, context.Canceled):
		return OutcomeSuccess, false
	default:
		return OutcomeTransientFailure, true
	}
}

// Observer receives pool events; internal/metrics implements it.
type Observer interface {
	ObserveProviderOutcome(capability, provider, outcome string)
	SetProviderHealth(capability, provider string, health int)
}
