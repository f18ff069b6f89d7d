package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/roach88/wavefront/internal/graph"
	"github.com/roach88/wavefront/internal/state"
	"github.com/roach88/wavefront/internal/trigger"
)

// run is the state of one Run call. It is discarded when Run returns.
type run struct {
	e     *Engine
	id    string
	st    *state.State
	clock *Clock
	quota *QuotaEnforcer

	// mu guards the bookkeeping below. It is never held while a body runs.
	mu        sync.Mutex
	completed map[string]bool
	counts    map[string]int
	// pending maps a listener row (graph.Listener.Index) to the AND
	// members signalled since the row last fired.
	pending  map[int]map[string]bool
	failures []*NodeExecutionError
	exceeded []*StepsExceededError

	// emitMu keeps observer delivery in Seq order.
	emitMu sync.Mutex
	// serial is held around body execution under WithSerializedNodes.
	serial sync.Mutex
}

func newRun(e *Engine) *run {
	return &run{
		e:         e,
		id:        e.runIDs.Generate(),
		st:        e.graph.StateShape().New(),
		clock:     NewClock(),
		quota:     NewQuotaEnforcer(e.maxSteps),
		completed: make(map[string]bool),
		counts:    make(map[string]int),
		pending:   make(map[int]map[string]bool),
	}
}

// execute runs one node and, on success, its propagation. It returns only
// after every listener it transitively triggered has finished.
func (r *run) execute(ctx context.Context, n *graph.Node, in any) {
	if !r.admit(n.Name()) {
		return
	}

	r.emit(Event{Kind: EventStarted, Node: n.Name()})
	r.e.logger.Debug("executing node", "run_id", r.id, "node", n.Name())

	out, err := r.invoke(func() (any, error) {
		return n.Invoke(ctx, r.st, in)
	})
	if err != nil {
		r.fail(n.Name(), false, err)
		return
	}

	r.mu.Lock()
	r.completed[n.Name()] = true
	r.mu.Unlock()
	r.emit(Event{Kind: EventCompleted, Node: n.Name()})

	r.completion(ctx, n.Name(), out)
}

// completion propagates one completed node. A router registered for the
// node replaces its identity with the chosen path; then every listener
// row whose condition is satisfied is started in its own goroutine, and
// completion waits for all of them.
func (r *run) completion(ctx context.Context, name string, result any) {
	ident := name
	if router, ok := r.e.graph.RouterFor(name); ok {
		path, ok := r.route(ctx, router)
		if !ok {
			return
		}
		ident = path
	}

	ready := r.evaluate(ident)
	if len(ready) == 0 {
		return
	}
	r.e.logger.Debug("wave scheduled",
		"run_id", r.id,
		"trigger", ident,
		"listeners", len(ready))

	var wg sync.WaitGroup
	for _, n := range ready {
		wg.Add(1)
		go func(n *graph.Node) {
			defer wg.Done()
			r.execute(ctx, n, result)
		}(n)
	}
	wg.Wait()
}

// route runs a router and validates its path. It reports false when the
// propagation must stop.
func (r *run) route(ctx context.Context, router *graph.Node) (string, bool) {
	if !r.admit(router.Name()) {
		return "", false
	}

	r.emit(Event{Kind: EventStarted, Node: router.Name()})
	out, err := r.invoke(func() (any, error) {
		path, err := router.Route(ctx, r.st)
		return path, err
	})
	if err != nil {
		r.fail(router.Name(), true, err)
		return "", false
	}

	path, _ := out.(string)
	if !router.AllowsPath(path) {
		r.fail(router.Name(), true, fmt.Errorf("%w %q (declared: %v)", ErrUndeclaredPath, path, router.Paths()))
		return "", false
	}

	r.emit(Event{Kind: EventRouted, Node: router.Name(), Path: path})
	r.e.logger.Debug("router chose path",
		"run_id", r.id,
		"router", router.Name(),
		"source", router.RouterFor(),
		"path", path)
	return path, true
}

// evaluate walks the listener table for ident and returns the nodes to
// start, in table order. A trigger that is not a member of an AND
// condition is ignored and never enters its pending set.
func (r *run) evaluate(ident string) []*graph.Node {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ready []*graph.Node
	for _, l := range r.e.graph.Listeners() {
		if !l.Condition.Has(ident) {
			continue
		}
		if l.Condition.Kind == trigger.KindAnd {
			seen := r.pending[l.Index]
			if seen == nil {
				seen = make(map[string]bool, len(l.Condition.Methods))
				r.pending[l.Index] = seen
			}
			seen[ident] = true
			if len(seen) < len(l.Condition.Methods) {
				continue
			}
			delete(r.pending, l.Index)
		}
		n, _ := r.e.graph.Node(l.Node)
		ready = append(ready, n)
	}
	return ready
}

// admit counts one execution against the quota.
func (r *run) admit(name string) bool {
	if err := r.quota.Check(r.id, name); err != nil {
		se := err.(*StepsExceededError)
		r.mu.Lock()
		r.exceeded = append(r.exceeded, se)
		r.mu.Unlock()
		r.emit(Event{Kind: EventSkipped, Node: name, Err: err})
		r.e.logger.Warn("node skipped",
			"run_id", r.id,
			"node", name,
			"error", err)
		return false
	}

	r.mu.Lock()
	r.counts[name]++
	r.mu.Unlock()
	return true
}

// invoke calls fn, converting a panic into an error carrying the panic
// stack.
func (r *run) invoke(fn func() (any, error)) (out any, err error) {
	if r.e.serialize {
		r.serial.Lock()
		defer r.serial.Unlock()
	}
	defer func() {
		if p := recover(); p != nil {
			err = &panicError{value: p, stack: string(debug.Stack())}
		}
	}()
	return fn()
}

type panicError struct {
	value any
	stack string
}

func (p *panicError) Error() string {
	return fmt.Sprintf("panic: %v", p.value)
}

func (r *run) fail(name string, router bool, err error) {
	ne := &NodeExecutionError{
		RunID:  r.id,
		Node:   name,
		Router: router,
		Err:    err,
	}
	if pe, ok := err.(*panicError); ok {
		ne.Panicked = true
		ne.Stack = pe.stack
	} else {
		ne.Stack = string(debug.Stack())
	}

	ne.Seq = r.emit(Event{Kind: EventFailed, Node: name, Err: err})

	r.mu.Lock()
	r.failures = append(r.failures, ne)
	r.mu.Unlock()

	r.e.logger.Error("node failed",
		"run_id", r.id,
		"node", name,
		"router", router,
		"error", err,
		"stack", ne.Stack)
}

// emit stamps ev with the next clock value and delivers it. It returns the
// stamped Seq.
func (r *run) emit(ev Event) int64 {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()

	ev.Seq = r.clock.Next()
	ev.RunID = r.id
	if r.e.observer != nil {
		r.e.observer.Observe(ev)
	}
	return ev.Seq
}
