package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot captures current in-memory counters.
type Snapshot struct {
	AccountsProvisionedLazy     uint64
	AccountsProvisionedExplicit uint64
	KeysCreated                 uint64
	KeysDeleted                 uint64
	UpstreamCalls               map[string]uint64
	CleanupRuns                 map[string]uint64
	CleanupDeleted              uint64
	CleanupBatchesFailed        uint64
}

// InMemoryRecorder stores metrics in memory for tests.
type InMemoryRecorder struct {
	accountsLazy     uint64
	accountsExplicit uint64
	keysCreated      uint64
	keysDeleted      uint64
	cleanupDeleted   uint64
	batchesFailed    uint64

	mu            sync.Mutex
	upstreamCalls map[string]uint64
	cleanupRuns   map[string]uint64
}

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{
		upstreamCalls: make(map[string]uint64),
		cleanupRuns:   make(map[string]uint64),
	}
}

// Snapshot returns a copy of the counters.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	m.mu.Lock()
	calls := make(map[string]uint64, len(m.upstreamCalls))
	for k, v := range m.upstreamCalls {
		calls[k] = v
	}
	runs := make(map[string]uint64, len(m.cleanupRuns))
	for k, v := range m.cleanupRuns {
		runs[k] = v
	}
	m.mu.Unlock()

	return Snapshot{
		AccountsProvisionedLazy:     atomic.LoadUint64(&m.accountsLazy),
		AccountsProvisionedExplicit: atomic.LoadUint64(&m.accountsExplicit),
		KeysCreated:                 atomic.LoadUint64(&m.keysCreated),
		KeysDeleted:                 atomic.LoadUint64(&m.keysDeleted),
		UpstreamCalls:               calls,
		CleanupRuns:                 runs,
		CleanupDeleted:              atomic.LoadUint64(&m.cleanupDeleted),
		CleanupBatchesFailed:        atomic.LoadUint64(&m.batchesFailed),
	}
}

// IncAccountProvisioned increments the provisioned counter for source.
func (m *InMemoryRecorder) IncAccountProvisioned(source string) {
	if source == SourceLazy {
		atomic.AddUint64(&m.accountsLazy, 1)
		return
	}
	atomic.AddUint64(&m.accountsExplicit, 1)
}

// IncKeyCreated increments key created counter.
func (m *InMemoryRecorder) IncKeyCreated() {
	atomic.AddUint64(&m.keysCreated, 1)
}

// IncKeyDeleted increments key deleted counter.
func (m *InMemoryRecorder) IncKeyDeleted() {
	atomic.AddUint64(&m.keysDeleted, 1)
}

// ObserveUpstreamCall counts calls keyed by "op:status".
func (m *InMemoryRecorder) ObserveUpstreamCall(op, status string, duration time.Duration) {
	m.mu.Lock()
	m.upstreamCalls[op+":"+status]++
	m.mu.Unlock()
}

// IncCleanupRun counts runs by status.
func (m *InMemoryRecorder) IncCleanupRun(status string) {
	m.mu.Lock()
	m.cleanupRuns[status]++
	m.mu.Unlock()
}

// AddCleanupDeleted adds to the deleted accounts counter.
func (m *InMemoryRecorder) AddCleanupDeleted(n int) {
	if n > 0 {
		atomic.AddUint64(&m.cleanupDeleted, uint64(n))
	}
}

// IncCleanupBatchFailed increments the failed batch counter.
func (m *InMemoryRecorder) IncCleanupBatchFailed() {
	atomic.AddUint64(&m.batchesFailed, 1)
}
