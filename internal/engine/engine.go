package engine

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"sort"

	"github.com/roach88/wavefront/internal/graph"
)

// Engine executes runs of one Graph. An Engine holds no per-run state, so
// Run may be called any number of times, concurrently.
type Engine struct {
	graph     *graph.Graph
	logger    *slog.Logger
	runIDs    RunIDGenerator
	maxSteps  int
	serialize bool
	observer  Observer
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithRunIDGenerator sets the run ID source. Default: UUIDv7Generator.
func WithRunIDGenerator(gen RunIDGenerator) Option {
	return func(e *Engine) {
		if gen != nil {
			e.runIDs = gen
		}
	}
}

// WithMaxSteps caps node and router executions per run. Zero, the
// default, means unlimited.
func WithMaxSteps(n int) Option {
	return func(e *Engine) {
		e.maxSteps = n
	}
}

// WithSerializedNodes runs at most one body of a run at a time. Waves are
// still scheduled the same way; only body execution is serialized. Use it
// when listeners mutate typed state without their own locking.
func WithSerializedNodes() Option {
	return func(e *Engine) {
		e.serialize = true
	}
}

// WithObserver receives every event of every run.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		e.observer = o
	}
}

// New creates an engine for g.
func New(g *graph.Graph, opts ...Option) *Engine {
	e := &Engine{
		graph:  g,
		logger: slog.Default(),
		runIDs: UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Graph returns the graph the engine executes.
func (e *Engine) Graph() *graph.Graph { return e.graph }

// Run executes the graph once and returns when every reachable node has
// finished.
//
// Entry nodes run in declaration order; each entry's propagation settles
// before the next entry starts. Node failures are contained: they are
// logged, recorded in the Report and stop only their own propagation. The
// only error Run returns is NoEntryNodeError.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	entries := e.graph.Entries()
	if len(entries) == 0 {
		return nil, &NoEntryNodeError{Graph: e.graph.Name()}
	}

	r := newRun(e)
	e.logger.Info("run started",
		"run_id", r.id,
		"graph", e.graph.Name(),
		"entries", len(entries))

	for _, name := range entries {
		n, _ := e.graph.Node(name)
		r.execute(ctx, n, nil)
	}

	report := r.report()
	e.logger.Info("run finished",
		"run_id", r.id,
		"graph", e.graph.Name(),
		"steps", report.Steps,
		"failures", len(report.Failures))
	return report, nil
}

func (r *run) report() *Report {
	r.mu.Lock()
	defer r.mu.Unlock()

	completed := make([]string, 0, len(r.completed))
	for name := range r.completed {
		completed = append(completed, name)
	}
	sort.Strings(completed)

	failures := slices.Clone(r.failures)
	slices.SortFunc(failures, func(a, b *NodeExecutionError) int {
		return cmp.Compare(a.Seq, b.Seq)
	})
	exceeded := slices.Clone(r.exceeded)
	slices.SortStableFunc(exceeded, func(a, b *StepsExceededError) int {
		return cmp.Compare(a.Node, b.Node)
	})

	counts := make(map[string]int, len(r.counts))
	for k, v := range r.counts {
		counts[k] = v
	}

	return &Report{
		RunID:       r.id,
		Graph:       r.e.graph.Name(),
		Fingerprint: r.e.graph.Fingerprint(),
		Completed:   completed,
		Counts:      counts,
		Failures:    failures,
		Exceeded:    exceeded,
		Steps:       r.quota.Current(),
		State:       r.st,
	}
}
