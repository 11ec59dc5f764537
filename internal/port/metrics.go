package port

import "time"

// Metrics receives ledger outcomes. Implementations must be safe for concurrent use.
type Metrics interface {
	ItemApplied(status string)
	CloseConflict()
	TransitionDuration(d time.Duration)
	SnapshotDuration(d time.Duration)
}

type NopMetrics struct{}

func (NopMetrics) ItemApplied(string)               {}
func (NopMetrics) CloseConflict()                   {}
func (NopMetrics) TransitionDuration(time.Duration) {}
func (NopMetrics) SnapshotDuration(time.Duration)   {}
