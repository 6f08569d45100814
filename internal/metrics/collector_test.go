package metrics

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/callflow/orchestrator"
	"github.com/BaSui01/callflow/persistence"
	"github.com/BaSui01/callflow/provider"
)

var (
	_ orchestrator.Recorder = (*Collector)(nil)
	_ provider.Observer     = (*Collector)(nil)
	_ persistence.Observer  = (*Collector)(nil)
)

var collectorNamespaceSeq uint64

func nextTestNamespace() string {
	seq := atomic.AddUint64(&collectorNamespaceSeq, 1)
	return fmt.Sprintf("test_%d", seq)
}

func newTestCollector() *Collector {
	return NewCollectorWithRegistry(nextTestNamespace(), prometheus.NewRegistry(), zap.NewNop())
}

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func TestNewCollector(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	assert.NotNil(t, collector)
	assert.NotNil(t, collector.httpRequestsTotal)
	assert.NotNil(t, collector.sessionsActive)
	assert.NotNil(t, collector.providerOutcomesTotal)
	assert.NotNil(t, collector.persistenceEventsTotal)
}

func TestCollector_RecordHTTPRequest(t *testing.T) {
	collector := newTestCollector()

	collector.RecordHTTPRequest("GET", "/test", 200, 100*time.Millisecond, 1024, 2048)
	collector.RecordHTTPRequest("GET", "/test", 200, 50*time.Millisecond, 512, 1024)
	collector.RecordHTTPRequest("GET", "/test", 503, 5*time.Millisecond, 0, 64)

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("GET", "/test", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("GET", "/test", "5xx")))
}

func TestCollector_SessionLifecycle(t *testing.T) {
	collector := newTestCollector()

	collector.SessionStarted()
	collector.SessionStarted()
	assert.Equal(t, 2.0, testutil.ToFloat64(collector.sessionsActive))

	collector.SessionEnded("caller_hangup", 90*time.Second)
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.sessionsActive))
	assert.Equal(t, 2.0, testutil.ToFloat64(collector.sessionsStartedTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.sessionsEndedTotal.WithLabelValues("caller_hangup")))

	collector.StateTransition("listening", "transcribing")
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.stateTransitionsTotal.WithLabelValues("listening", "transcribing")))
}

func TestCollector_Turns(t *testing.T) {
	collector := newTestCollector()

	collector.TurnFinished("completed", 800*time.Millisecond)
	collector.TurnFinished("aborted", 2*time.Second)
	collector.ReasoningTimeout()
	collector.BufferDropped("outbound", "interrupted", 12)
	collector.BufferDropped("outbound", "interrupted", 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.turnsTotal.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.reasoningTimeoutsTotal))
	assert.Equal(t, 12.0, testutil.ToFloat64(collector.bufferDropsTotal.WithLabelValues("outbound", "interrupted")))
	assert.Equal(t, 2, testutil.CollectAndCount(collector.turnLatency))
}

func TestCollector_Providers(t *testing.T) {
	collector := newTestCollector()

	collector.ObserveProviderOutcome("stt", "deepgram", "transient_failure")
	collector.SetProviderHealth("stt", "deepgram", int(provider.Degraded))

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.providerOutcomesTotal.WithLabelValues("stt", "deepgram", "transient_failure")))
	assert.Equal(t, float64(provider.Degraded), testutil.ToFloat64(collector.providerHealth.WithLabelValues("stt", "deepgram")))
}

func TestCollector_Persistence(t *testing.T) {
	collector := newTestCollector()

	collector.EventDelivered("redis", persistence.EventTurnCompleted, 3*time.Millisecond)
	collector.EventFailed("redis", persistence.EventSessionEnded)
	collector.EventDropped(persistence.DropSpoolFull)
	collector.SpoolDepth(7)

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.persistenceEventsTotal.WithLabelValues("redis", "turn_completed", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.persistenceEventsTotal.WithLabelValues("redis", "session_ended", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.persistenceDropsTotal.WithLabelValues("spool_full")))
	assert.Equal(t, 7.0, testutil.ToFloat64(collector.persistenceSpoolDepth))
}

func TestCollector_UpdateConnectionPool(t *testing.T) {
	collector := newTestCollector()

	collector.RecordDBConnections("postgres", 10, 5)

	assert.Equal(t, 10.0, testutil.ToFloat64(collector.dbConnectionsOpen.WithLabelValues("postgres")))
	assert.Equal(t, 5.0, testutil.ToFloat64(collector.dbConnectionsIdle.WithLabelValues("postgres")))
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	collector := newTestCollector()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			collector.RecordHTTPRequest("GET", "/test", 200, 100*time.Millisecond, 1024, 2048)
			collector.SessionStarted()
			collector.ObserveProviderOutcome("tts", "elevenlabs", "success")
		}()
	}
	wg.Wait()

	assert.Equal(t, 10.0, testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("GET", "/test", "2xx")))
	assert.Equal(t, 10.0, testutil.ToFloat64(collector.sessionsActive))
	assert.Equal(t, 10.0, testutil.ToFloat64(collector.providerOutcomesTotal.WithLabelValues("tts", "elevenlabs", "success")))
}

func TestCollector_CustomRegistry(t *testing.T) {
	registry := prometheus.NewRegistry()
	ns := nextTestNamespace()
	collector := NewCollectorWithRegistry(ns, registry, zap.NewNop())

	collector.SessionStarted()

	expected := fmt.Sprintf(`
# HELP %[1]s_sessions_started_total Total number of call sessions created
# TYPE %[1]s_sessions_started_total counter
%[1]s_sessions_started_total 1
`, ns)
	require.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected), ns+"_sessions_started_total"))

	// 同一 Registry 重复注册会 panic
	assert.Panics(t, func() { NewCollectorWithRegistry(ns, registry, zap.NewNop()) })
}

func TestStatusCode(t *testing.T) {
	tests := map[int]string{200: "2xx", 302: "3xx", 404: "4xx", 500: "5xx", 101: "unknown"}
	for code, want := range tests {
		assert.Equal(t, want, statusCode(code), "code %d", code)
	}
}
