// Package metrics provides lightweight hooks for instrumentation.
package metrics

import "time"

// Provisioning sources for IncAccountProvisioned.
const (
	SourceLazy     = "lazy"
	SourceExplicit = "explicit"
)

// Recorder captures metric events for the application.
// Implementations can expose these to Prometheus or keep them in memory for tests.
type Recorder interface {
	// Account and key lifecycle
	IncAccountProvisioned(source string)
	IncKeyCreated()
	IncKeyDeleted()

	// Upstream gateway calls; status is the HTTP status or "error"
	ObserveUpstreamCall(op, status string, duration time.Duration)

	// Cleanup runs
	IncCleanupRun(status string)
	AddCleanupDeleted(n int)
	IncCleanupBatchFailed()
}
