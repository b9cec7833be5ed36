package history

import (
	"time"

	"github.com/unitwatch/unitwatch/internal/catalog"
)

// TestRunRecord is one test outcome inside a session.
type TestRunRecord struct {
	// Canonical identifier of the test
	CanonicalID string `json:"canonical_id"`
	// Final status for this run
	Status catalog.Status `json:"status"`
	// Measured duration in milliseconds; zero when not measured
	DurationMs int64 `json:"duration_ms"`
	// Failure message, when failed
	ErrorMessage string `json:"error_message,omitempty"`
	// When the outcome was recorded
	Timestamp time.Time `json:"timestamp"`
}

// Session is one completed (or open) run of the suite or a subset of it.
type Session struct {
	// Unique session id; ULIDs sort chronologically
	ID string `json:"id"`
	// Target identifier the run was scoped to; empty means everything
	Target string `json:"target,omitempty"`
	// Profile name active for the run
	Profile string `json:"profile,omitempty"`
	// Timestamps
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	// Aggregate counts
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
	Total   int `json:"total"`
	// Individual outcomes in recording order
	Records []TestRunRecord `json:"records"`
}

// DurationMs returns the sealed session duration in milliseconds.
func (s *Session) DurationMs() int64 {
	if s.EndTime.IsZero() {
		return 0
	}
	return s.EndTime.Sub(s.StartTime).Milliseconds()
}

// SlowTest is one row of the slowest-tests report.
type SlowTest struct {
	CanonicalID string  `json:"canonical_id"`
	MeanMs      float64 `json:"mean_ms"`
	Runs        int     `json:"runs"`
}

// FailingTest is one row of the most-failing report.
type FailingTest struct {
	CanonicalID string  `json:"canonical_id"`
	FailureRate float64 `json:"failure_rate"`
	Failures    int     `json:"failures"`
	Runs        int     `json:"runs"`
}

// FlakyTest is one row of the flakiness report.
type FlakyTest struct {
	CanonicalID string  `json:"canonical_id"`
	Score       float64 `json:"score"`
	Runs        int     `json:"runs"`
}
