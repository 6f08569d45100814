package orchestrator

import (
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/BaSui01/callflow/agent"
	"github.com/BaSui01/callflow/persistence"
)

// Recorder receives session-level measurements; internal/metrics.Collector
// implements it.
type Recorder interface {
	SessionStarted()
	SessionEnded(reason string, duration time.Duration)
	TurnFinished(state string, latency time.Duration)
	StateTransition(from, to string)
	BufferDropped(buffer, reason string, n int)
	ReasoningTimeout()
}

type nopRecorder struct{}

func (nopRecorder) SessionStarted() {}
func (nopRecorder) SessionEnded(string, time.Duration) {}
func (nopRecorder) TurnFinished(string, time.Duration) {}
func (nopRecorder) StateTransition(string, string) {}
func (nopRecorder) BufferDropped(string, string, int) {}
func (nopRecorder) ReasoningTimeout() {}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithTools sets the tools offered to the agent on every turn.
func WithTools(tools []agent.Tool) Option {
	return func(o *Orchestrator) { o.tools = tools }
}

// WithPublisher sets the persistence collaborator for turn and session events.
func WithPublisher(p persistence.Publisher) Option {
	return func(o *Orchestrator) {
		if p != nil {
			o.publisher = p
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.recorder = r
		}
	}
}

// WithTracer sets the tracer used for session and turn spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithIDGenerator replaces the session id generator.
func WithIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.newID = fn
		}
	}
}

func defaultID() string { return uuid.NewString() }
