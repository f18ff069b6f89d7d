package graph

import (
	"context"

	"github.com/roach88/wavefront/internal/state"
	"github.com/roach88/wavefront/internal/trigger"
)

// Handler is the uniform node body signature. in carries the upstream
// result only for nodes registered with FuncWithInput; otherwise it is nil.
type Handler func(ctx context.Context, st *state.State, in any) (any, error)

// RouterFunc chooses the path name that replaces its source node's identity
// for one propagation step.
type RouterFunc func(ctx context.Context, st *state.State) (string, error)

// Body pairs a Handler with its arity, fixed at registration.
type Body struct {
	fn         Handler
	takesInput bool
}

// Func wraps a body that ignores the upstream result.
func Func(fn func(ctx context.Context, st *state.State) (any, error)) Body {
	if fn == nil {
		return Body{}
	}
	return Body{fn: func(ctx context.Context, st *state.State, _ any) (any, error) {
		return fn(ctx, st)
	}}
}

// FuncWithInput wraps a body that receives the upstream result.
func FuncWithInput(fn Handler) Body {
	return Body{fn: fn, takesInput: true}
}

// Node is a registered unit of work. Nodes are immutable once the graph is
// built.
type Node struct {
	name       string
	body       Body
	entry      bool
	conditions []trigger.Condition

	router    bool
	routerFor string
	routerFn  RouterFunc
	paths     []string
}

// Name returns the node's unique name.
func (n *Node) Name() string { return n.name }

// TakesInput reports whether the body receives the upstream result.
func (n *Node) TakesInput() bool { return n.body.takesInput }

// IsEntry reports whether the node runs unconditionally at run start.
func (n *Node) IsEntry() bool { return n.entry }

// IsRouter reports whether the node is a router.
func (n *Node) IsRouter() bool { return n.router }

// RouterFor returns the source node a router overrides.
func (n *Node) RouterFor() string { return n.routerFor }

// Paths returns the path names a router declared.
func (n *Node) Paths() []string { return append([]string(nil), n.paths...) }

// Conditions returns the trigger conditions the node listens on.
func (n *Node) Conditions() []trigger.Condition {
	return append([]trigger.Condition(nil), n.conditions...)
}

// Invoke runs the body, passing in only when the node's arity accepts it.
func (n *Node) Invoke(ctx context.Context, st *state.State, in any) (any, error) {
	if !n.body.takesInput {
		in = nil
	}
	return n.body.fn(ctx, st, in)
}

// Route runs a router body.
func (n *Node) Route(ctx context.Context, st *state.State) (string, error) {
	return n.routerFn(ctx, st)
}

// AllowsPath reports whether a router may return path. Routers that
// declared no paths accept any name.
func (n *Node) AllowsPath(path string) bool {
	if len(n.paths) == 0 {
		return true
	}
	for _, p := range n.paths {
		if p == path {
			return true
		}
	}
	return false
}

// Listener is one (node, condition) row of the listener table. A node with
// several conditions has several rows, each evaluated independently.
type Listener struct {
	Node      string
	Condition trigger.Condition
	// Index is the row's position in Graph.Listeners.
	Index int
}
