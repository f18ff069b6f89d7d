package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/roach88/wavefront/internal/compiler"
	"github.com/roach88/wavefront/internal/engine"
	"github.com/roach88/wavefront/internal/graph"
	"github.com/roach88/wavefront/internal/state"
	"github.com/roach88/wavefront/internal/testutil"
)

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expectation held.
	Pass bool
	// Errors holds one message per failed expectation.
	Errors []string
	// Report is the engine's run report.
	Report *engine.Report
	// Received maps input-taking nodes to the inputs they were invoked with,
	// in invocation order.
	Received map[string][]any
	// Trace is every engine event in Seq order.
	Trace []engine.Event
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Run executes a scenario with logging discarded.
func Run(scenario *Scenario) (*Result, error) {
	return RunWithLogger(context.Background(), scenario, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// RunWithLogger executes a scenario and checks its expectations.
//
// The returned error covers setup problems (bad CUE, unknown behavior
// names, graph build errors). Failed expectations are reported through
// Result.Pass and Result.Errors.
func RunWithLogger(ctx context.Context, scenario *Scenario, logger *slog.Logger) (*Result, error) {
	g, rec, err := build(scenario)
	if err != nil {
		return nil, err
	}

	trace := &engine.Recorder{}
	eng := engine.New(g,
		engine.WithLogger(logger),
		engine.WithRunIDGenerator(testutil.NewFixedRunIDGenerator(scenario.RunID)),
		engine.WithMaxSteps(scenario.MaxSteps),
		engine.WithObserver(trace),
	)

	report, err := eng.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
	}

	result := &Result{
		Pass:     true,
		Errors:   []string{},
		Report:   report,
		Received: rec.snapshot(),
		Trace:    trace.Events(),
	}
	for _, msg := range Check(scenario.Expect, result) {
		result.AddError(msg)
	}
	return result, nil
}

// build compiles the scenario flow and binds the scripted behaviors.
func build(sc *Scenario) (*graph.Graph, *recorder, error) {
	flows, err := compiler.CompileSource(sc.Name+".cue", sc.Flow)
	if err != nil {
		return nil, nil, fmt.Errorf("scenario %s: %w", sc.Name, err)
	}

	spec := flows[0]
	if sc.FlowName != "" {
		spec = nil
		for _, f := range flows {
			if f.Name == sc.FlowName {
				spec = f
				break
			}
		}
		if spec == nil {
			return nil, nil, fmt.Errorf("scenario %s: flow %q not found", sc.Name, sc.FlowName)
		}
	}
	if spec.State != compiler.StateUntyped {
		return nil, nil, fmt.Errorf("scenario %s: flow %s must use untyped state, got %q", sc.Name, spec.Name, spec.State)
	}

	rec := &recorder{received: make(map[string][]any), runs: make(map[string]int)}
	cat := compiler.Catalog{
		Bodies:  make(map[string]graph.Body),
		Routers: make(map[string]graph.RouterFunc),
	}

	declared := make(map[string]bool)
	for _, n := range spec.Nodes {
		declared[n.Name] = true
		cat.Bodies[n.Name] = nodeBody(n, sc.Nodes[n.Name], rec)
	}
	for _, name := range sortedNames(sc.Nodes) {
		if !declared[name] {
			return nil, nil, fmt.Errorf("scenario %s: nodes.%s is not a node of flow %s", sc.Name, name, spec.Name)
		}
	}

	routers := make(map[string]bool)
	for _, r := range spec.Routers {
		routers[r.Name] = true
		if b, ok := sc.Routers[r.Name]; ok {
			cat.Routers[r.Name] = routerFunc(b)
		}
	}
	for _, name := range sortedNames(sc.Routers) {
		if !routers[name] {
			return nil, nil, fmt.Errorf("scenario %s: routers.%s is not a router of flow %s", sc.Name, name, spec.Name)
		}
	}

	b, err := spec.Bind(cat, compiler.DryRun())
	if err != nil {
		return nil, nil, fmt.Errorf("scenario %s: %w", sc.Name, err)
	}
	g, err := b.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("scenario %s: %w", sc.Name, err)
	}
	return g, rec, nil
}

// recorder tracks per-node inputs and invocation counts across the
// goroutines of one run.
type recorder struct {
	mu       sync.Mutex
	received map[string][]any
	runs     map[string]int
}

func (r *recorder) invoked(name string, in any, takesInput bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if takesInput {
		r.received[name] = append(r.received[name], in)
	}
	r.runs[name]++
	return r.runs[name]
}

func (r *recorder) snapshot() map[string][]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string][]any, len(r.received))
	for k, v := range r.received {
		out[k] = append([]any(nil), v...)
	}
	return out
}

func nodeBody(n compiler.NodeSpec, b NodeBehavior, rec *recorder) graph.Body {
	name := n.Name
	handler := func(_ context.Context, st *state.State, in any) (any, error) {
		count := rec.invoked(name, in, n.Input)
		out, err := b.apply(name, in, n.Input, count)
		if err != nil {
			return nil, err
		}
		st.Map().Set(name, out)
		return out, nil
	}
	if n.Input {
		return graph.FuncWithInput(handler)
	}
	return graph.Func(func(ctx context.Context, st *state.State) (any, error) {
		return handler(ctx, st, nil)
	})
}

func (b NodeBehavior) apply(name string, in any, takesInput bool, count int) (any, error) {
	switch {
	case b.Fail != "":
		return nil, errors.New(b.Fail)
	case b.Panic != "":
		panic(b.Panic)
	case b.Returns != nil:
		return b.Returns, nil
	case b.Echo:
		return in, nil
	case b.Multiply != 0:
		i, ok := toInt(in)
		if !ok {
			return nil, fmt.Errorf("multiply: input %v (%T) is not an integer", in, in)
		}
		return i * b.Multiply, nil
	case b.Counter:
		return count, nil
	case takesInput:
		return in, nil
	default:
		return name, nil
	}
}

func routerFunc(b RouterBehavior) graph.RouterFunc {
	return func(_ context.Context, st *state.State) (string, error) {
		if b.Fail != "" {
			return "", errors.New(b.Fail)
		}
		v, ok := st.Map().Get(b.Route.Of)
		if !ok {
			if b.Default != "" {
				return b.Default, nil
			}
			return "", fmt.Errorf("route: %q has no output", b.Route.Of)
		}
		if b.Route.Mod > 0 {
			i, ok := toInt(v)
			if !ok {
				return "", fmt.Errorf("route: output of %q is %v (%T), not an integer", b.Route.Of, v, v)
			}
			v = i % b.Route.Mod
		}
		key := fmt.Sprint(v)
		if path, ok := b.Cases[key]; ok {
			return path, nil
		}
		if b.Default != "" {
			return b.Default, nil
		}
		return "", fmt.Errorf("route: no case for %q", key)
	}
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case int32:
		return int(n), true
	default:
		return 0, false
	}
}
