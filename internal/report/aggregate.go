// Package report maintains the daily fleet aggregate and renders it into
// the daily report.
package report

import (
	"sync"

	"logwarden/internal/fleet"
)

// Aggregate is the server-wide device→task matrix for the current daily
// cycle, keyed by wire identity. Connection handlers run on their own
// goroutines, so access is mutex-guarded; updates for different devices are
// independent and commute.
type Aggregate struct {
	mu       sync.Mutex
	statuses map[string]fleet.DeviceStatus
}

// NewAggregate creates an empty aggregate.
func NewAggregate() *Aggregate {
	return &Aggregate{statuses: make(map[string]fleet.DeviceStatus)}
}

// SetReports stores a device's scan results for the current cycle.
func (a *Aggregate) SetReports(identity string, tasks map[string]fleet.TaskReport) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.statuses[identity] = fleet.DeviceStatus{Tasks: tasks}
}

// HasReport reports whether the device already reported this cycle.
func (a *Aggregate) HasReport(identity string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.statuses[identity]
	return ok
}

// Reset clears all statuses at the start of a new cycle.
func (a *Aggregate) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.statuses = make(map[string]fleet.DeviceStatus)
}

// Snapshot returns a copy of the current statuses for rendering.
func (a *Aggregate) Snapshot() map[string]fleet.DeviceStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]fleet.DeviceStatus, len(a.statuses))
	for k, v := range a.statuses {
		out[k] = v
	}
	return out
}
