package engine

import (
	"errors"
	"fmt"
)

// ErrUndeclaredPath is wrapped by the NodeExecutionError of a router that
// returned a path it did not declare.
var ErrUndeclaredPath = errors.New("router returned undeclared path")

// NoEntryNodeError is returned by Run when the graph has no entry node.
// Nothing is executed.
type NoEntryNodeError struct {
	Graph string
}

// Error implements the error interface.
func (e *NoEntryNodeError) Error() string {
	return fmt.Sprintf("graph %q has no entry node", e.Graph)
}

// NodeExecutionError records a node body or router that returned an error
// or panicked. It is logged and attached to the run report; it never
// aborts the run.
type NodeExecutionError struct {
	RunID string
	Node  string
	// Router is true when the failing body was a router.
	Router bool
	// Panicked is true when Err was built from a recovered panic.
	Panicked bool
	Err      error
	// Stack is the goroutine stack captured when the failure was detected.
	Stack string
	// Seq orders failures within a run.
	Seq int64
}

// Error implements the error interface.
func (e *NodeExecutionError) Error() string {
	kind := "node"
	if e.Router {
		kind = "router"
	}
	return fmt.Sprintf("%s %q failed: %v", kind, e.Node, e.Err)
}

// Unwrap returns the underlying error.
func (e *NodeExecutionError) Unwrap() error {
	return e.Err
}

// IsNoEntryNode reports whether err wraps a NoEntryNodeError.
func IsNoEntryNode(err error) bool {
	var ne *NoEntryNodeError
	return errors.As(err, &ne)
}

// IsNodeExecutionError reports whether err wraps a NodeExecutionError.
func IsNodeExecutionError(err error) bool {
	var ne *NodeExecutionError
	return errors.As(err, &ne)
}
