package engine

import (
	"errors"
	"fmt"
	"sync"
)

// QuotaEnforcer counts node executions in one run and rejects those past
// the limit. A limit of zero or less disables the quota.
//
// Unlike the graph validation done at Build, the quota is the only guard
// against listener cycles (A -> B -> A), which are legal and otherwise run
// forever.
//
// Thread-safety: Check may be called from concurrent wave goroutines.
type QuotaEnforcer struct {
	mu       sync.Mutex
	maxSteps int
	current  int
}

// NewQuotaEnforcer creates an enforcer with the given limit.
func NewQuotaEnforcer(maxSteps int) *QuotaEnforcer {
	return &QuotaEnforcer{maxSteps: maxSteps}
}

// Check counts one execution of node and returns a StepsExceededError if
// it would go past the limit. Rejected executions are not counted.
func (q *QuotaEnforcer) Check(runID, node string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.maxSteps > 0 && q.current >= q.maxSteps {
		return &StepsExceededError{
			RunID: runID,
			Node:  node,
			Steps: q.current + 1,
			Limit: q.maxSteps,
		}
	}
	q.current++
	return nil
}

// Current returns the number of executions admitted so far.
func (q *QuotaEnforcer) Current() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.current
}

// MaxSteps returns the limit.
func (q *QuotaEnforcer) MaxSteps() int {
	return q.maxSteps
}

// StepsExceededError records a node execution refused by the quota. The
// node does not run and does not propagate; the rest of the run continues
// and is refused in the same way.
type StepsExceededError struct {
	RunID string
	Node  string
	Steps int
	Limit int
}

// Error implements the error interface.
func (e *StepsExceededError) Error() string {
	return fmt.Sprintf("run %s exceeded max steps quota at node %q: %d steps > %d limit",
		e.RunID, e.Node, e.Steps, e.Limit)
}

// IsStepsExceededError reports whether err wraps a StepsExceededError.
func IsStepsExceededError(err error) bool {
	var se *StepsExceededError
	return errors.As(err, &se)
}
