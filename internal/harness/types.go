package harness

import (
	"fmt"
	"strings"
)

// TraceEvent is one automation outcome observed while replaying a step.
type TraceEvent struct {
	Step       int    `json:"step"`     // 1-based step index
	Kind       string `json:"kind"`     // envelope kind of the step
	EventID    string `json:"event_id"` // record id of the trigger event
	Automation string `json:"automation"`
	Status     string `json:"status"`
	Reason     string `json:"reason,omitempty"`
}

func (e TraceEvent) String() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s %s (%s)", e.Automation, e.Status, e.Reason)
	}
	return fmt.Sprintf("%s %s", e.Automation, e.Status)
}

// StepRecord notes which record a step addressed.
type StepRecord struct {
	Kind     string `json:"kind"`
	RecordID string `json:"record_id"`
	Err      string `json:"error,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every step behaved as expected and all assertions hold.
	Pass bool `json:"pass"`

	// Steps records each applied step in order.
	Steps []StepRecord `json:"steps"`

	// Trace contains every automation outcome in step order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Snapshot is the deterministic text rendering of the trace and the
	// final memberships and rollups, compared against golden files.
	Snapshot string `json:"-"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Steps:  []StepRecord{},
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Outcomes returns the trace events of one trigger event.
func (r *Result) Outcomes(eventID string) []TraceEvent {
	var out []TraceEvent
	for _, e := range r.Trace {
		if e.EventID == eventID {
			out = append(out, e)
		}
	}
	return out
}

// Summary renders the errors for test failure messages.
func (r *Result) Summary() string {
	if r.Pass {
		return "pass"
	}
	return "fail:\n  " + strings.Join(r.Errors, "\n  ")
}
