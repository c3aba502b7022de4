package model

import "time"

// SyntheticResult is the aggregate verdict of one synthetic check run.
// Individual probe failures never surface as errors; they fold into a
// Failed verdict with the failing probes listed.
type SyntheticResult struct {
	Passed   bool     `json:"passed"`
	Probes   int      `json:"probes"`
	Failures []string `json:"failures,omitempty"`
}

// ValidationOutcome is produced by the validation monitor at the end of (or
// part-way into) the rollback window. A failure carries the elapsed time at
// which it was detected so the short-circuit is observable; rollback behavior
// does not depend on it.
type ValidationOutcome struct {
	Passed  bool          `json:"passed"`
	Reason  string        `json:"reason,omitempty"`
	Elapsed time.Duration `json:"elapsed"`
}
