package metrics

import "time"

// NoopRecorder implements Recorder with no-op methods.
type NoopRecorder struct{}

// NewNoop returns a Recorder that discards all metrics.
func NewNoop() Recorder {
	return &NoopRecorder{}
}

// IncAccountProvisioned is a no-op.
func (n *NoopRecorder) IncAccountProvisioned(source string) {}

// IncKeyCreated is a no-op.
func (n *NoopRecorder) IncKeyCreated() {}

// IncKeyDeleted is a no-op.
func (n *NoopRecorder) IncKeyDeleted() {}

// ObserveUpstreamCall is a no-op.
func (n *NoopRecorder) ObserveUpstreamCall(op, status string, duration time.Duration) {}

// IncCleanupRun is a no-op.
func (n *NoopRecorder) IncCleanupRun(status string) {}

// AddCleanupDeleted is a no-op.
func (n *NoopRecorder) AddCleanupDeleted(count int) {}

// IncCleanupBatchFailed is a no-op.
func (n *NoopRecorder) IncCleanupBatchFailed() {}
