package engine

import (
	"errors"
	"slices"

	"github.com/roach88/wavefront/internal/state"
)

// Report summarizes a finished run.
type Report struct {
	RunID       string
	Graph       string
	Fingerprint string
	// Completed lists the nodes that finished successfully at least once,
	// sorted by name.
	Completed []string
	// Counts is the number of times each node or router body was invoked.
	Counts map[string]int
	// Failures are ordered by Seq.
	Failures []*NodeExecutionError
	// Exceeded lists executions refused by the step quota, ordered by node name.
	Exceeded []*StepsExceededError
	// Steps is the number of executions the quota admitted.
	Steps int
	// State is the run's final state.
	State *state.State
}

// Ran returns how many times name was invoked.
func (r *Report) Ran(name string) int {
	return r.Counts[name]
}

// Failed reports whether name failed at least once.
func (r *Report) Failed(name string) bool {
	return slices.ContainsFunc(r.Failures, func(f *NodeExecutionError) bool {
		return f.Node == name
	})
}

// Err joins every failure and quota refusal, or returns nil for a clean
// run. Run itself never fails because of node failures; callers that want
// a failing run opt in here.
func (r *Report) Err() error {
	errs := make([]error, 0, len(r.Failures)+len(r.Exceeded))
	for _, f := range r.Failures {
		errs = append(errs, f)
	}
	for _, e := range r.Exceeded {
		errs = append(errs, e)
	}
	return errors.Join(errs...)
}
