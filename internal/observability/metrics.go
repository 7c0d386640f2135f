package observability

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/jonathan/shorts-agent/internal/types"
)

// Metrics tracks job and extraction counters. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	JobsCreated   atomic.Int64
	JobsCompleted atomic.Int64
	JobsFailed    atomic.Int64
	JobsRunning   atomic.Int64
	Segments      atomic.Int64

	mu       sync.Mutex
	attempts map[types.Outcome]int64
	failures map[types.FailureKind]int64
}

// NewMetrics creates a zeroed Metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		attempts: make(map[types.Outcome]int64),
		failures: make(map[types.FailureKind]int64),
	}
}

// RecordAttempts counts extraction attempts by outcome.
func (m *Metrics) RecordAttempts(attempts []types.ExtractionAttempt) {
	if m == nil || len(attempts) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range attempts {
		m.attempts[a.Outcome]++
	}
}

// RecordFailure counts a failed job by kind.
func (m *Metrics) RecordFailure(kind types.FailureKind) {
	if m == nil {
		return
	}
	m.JobsFailed.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[kind]++
}

// RecordSuccess counts a completed job and its segments.
func (m *Metrics) RecordSuccess(segments int) {
	if m == nil {
		return
	}
	m.JobsCompleted.Add(1)
	m.Segments.Add(int64(segments))
}

// Snapshot returns all counters by name.
func (m *Metrics) Snapshot() map[string]int64 {
	out := map[string]int64{}
	if m == nil {
		return out
	}
	out["jobs_created"] = m.JobsCreated.Load()
	out["jobs_completed"] = m.JobsCompleted.Load()
	out["jobs_failed"] = m.JobsFailed.Load()
	out["jobs_running"] = m.JobsRunning.Load()
	out["segments_produced"] = m.Segments.Load()

	m.mu.Lock()
	defer m.mu.Unlock()
	for outcome, n := range m.attempts {
		out["extraction_attempts_"+string(outcome)] = n
	}
	for kind, n := range m.failures {
		out["jobs_failed_"+string(kind)] = n
	}
	return out
}

// FormatMetrics renders counters as "name value" lines sorted by name, for
// the plain-text metrics endpoint. extra is merged over the snapshot.
func (m *Metrics) FormatMetrics(extra map[string]int64) string {
	snap := m.Snapshot()
	for k, v := range extra {
		snap[k] = v
	}
	keys := make([]string, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&sb, "%s %d\n", k, snap[k])
	}
	return sb.String()
}
