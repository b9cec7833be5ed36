package catalog

import "time"

// Status represents the lifecycle status of a test entity.
type Status string

const (
	StatusUnknown Status = "unknown"
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
	StatusAborted Status = "aborted"
)

// IsTerminal returns true if the status is a final run outcome.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusPassed, StatusFailed, StatusSkipped, StatusAborted:
		return true
	}
	return false
}

// Diff is an expected/actual text pair extracted from an assertion failure.
type Diff struct {
	Expected string
	Actual   string
}

// Record is the catalog entry for one canonical identifier.
type Record struct {
	Status             Status
	LastFailureMessage string
	LastDuration       time.Duration
	HasDuration        bool
	LastDiff           *Diff
}
