package engine

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/wavefront/internal/graph"
	"github.com/roach88/wavefront/internal/state"
	"github.com/roach88/wavefront/internal/trigger"
)

func quiet() Option {
	return WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func returns(v any) graph.Body {
	return graph.Func(func(context.Context, *state.State) (any, error) { return v, nil })
}

func fails(msg string) graph.Body {
	return graph.Func(func(context.Context, *state.State) (any, error) { return nil, errors.New(msg) })
}

func mustBuild(t *testing.T, b *graph.Builder) *graph.Graph {
	t.Helper()
	g, err := b.Build()
	require.NoError(t, err)
	return g
}

func runGraph(t *testing.T, g *graph.Graph, opts ...Option) *Report {
	t.Helper()
	opts = append([]Option{quiet(), WithRunIDGenerator(NewFixedGenerator("run-1"))}, opts...)
	report, err := New(g, opts...).Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, report)
	return report
}

// received collects the inputs each listener was called with.
type received struct {
	mu   sync.Mutex
	seen map[string][]any
}

func newReceived() *received {
	return &received{seen: make(map[string][]any)}
}

func (r *received) body(name string, out func(in any) any) graph.Body {
	return graph.FuncWithInput(func(_ context.Context, _ *state.State, in any) (any, error) {
		r.mu.Lock()
		r.seen[name] = append(r.seen[name], in)
		r.mu.Unlock()
		if out == nil {
			return in, nil
		}
		return out(in), nil
	})
}

func (r *received) get(name string) []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]any(nil), r.seen[name]...)
}

func TestRun_SingleEntryRunsOnce(t *testing.T) {
	g := mustBuild(t, graph.NewBuilder("single").Start("a", returns(1)))

	report := runGraph(t, g)
	assert.Equal(t, "run-1", report.RunID)
	assert.Equal(t, "single", report.Graph)
	assert.Equal(t, g.Fingerprint(), report.Fingerprint)
	assert.Equal(t, map[string]int{"a": 1}, report.Counts)
	assert.Equal(t, []string{"a"}, report.Completed)
	assert.Equal(t, 1, report.Steps)
	assert.NoError(t, report.Err())
}

func TestRun_NoEntryNode(t *testing.T) {
	g := mustBuild(t, graph.NewBuilder("idle").Listen("b", "b", returns(nil)))

	report, err := New(g, quiet()).Run(context.Background())
	require.Error(t, err)
	assert.Nil(t, report)
	assert.True(t, IsNoEntryNode(err))
	assert.Equal(t, `graph "idle" has no entry node`, err.Error())
}

func TestRun_OrFiresOncePerMemberCompletion(t *testing.T) {
	rec := newReceived()
	g := mustBuild(t, graph.NewBuilder("or").
		Start("a", returns("from-a")).
		Start("b", returns("from-b")).
		Listen("l", trigger.MustOr("a", "b"), rec.body("l", nil)))

	report := runGraph(t, g)
	assert.Equal(t, 2, report.Ran("l"))
	assert.Equal(t, []any{"from-a", "from-b"}, rec.get("l"))
}

func TestRun_AndWaitsForEveryMember(t *testing.T) {
	g := mustBuild(t, graph.NewBuilder("and").
		Start("a", returns(1)).
		Start("z", fails("z is broken")).
		Listen("b", "z", returns(2)).
		Listen("c", trigger.MustAnd("a", "b"), returns(3)))

	report := runGraph(t, g)
	assert.Equal(t, 1, report.Ran("a"))
	assert.Equal(t, 0, report.Ran("b"))
	assert.Equal(t, 0, report.Ran("c"), "AND must not fire with only one member complete")
}

func TestRun_AndFiresOncePerCycle(t *testing.T) {
	rounds := 0
	g := mustBuild(t, graph.NewBuilder("cycles").
		Start("a", graph.Func(func(context.Context, *state.State) (any, error) {
			rounds++
			return rounds, nil
		}), graph.When("again")).
		Listen("b", "a", returns("b")).
		Listen("c", trigger.MustAnd("a", "b"), returns("c")).
		Router("loop", "c", func(context.Context, *state.State) (string, error) {
			if rounds < 2 {
				return "again", nil
			}
			return "done", nil
		}, "again", "done"))

	report := runGraph(t, g, WithSerializedNodes())
	assert.Equal(t, 2, report.Ran("a"))
	assert.Equal(t, 2, report.Ran("b"))
	assert.Equal(t, 2, report.Ran("c"), "each full cycle fires the AND listener exactly once")
	assert.Equal(t, 2, report.Ran("loop"))
	assert.Empty(t, report.Failures)
}

func TestRun_AndIgnoresNonMemberTriggers(t *testing.T) {
	g := mustBuild(t, graph.NewBuilder("and").
		Start("x", returns(nil)).
		Start("a", returns(nil)).
		Start("y", returns(nil)).
		Start("b", returns(nil)).
		Listen("c", trigger.MustAnd("a", "b"), returns(nil)))

	report := runGraph(t, g)
	assert.Equal(t, 1, report.Ran("c"), "completions outside the AND set must not count toward it")
}

func TestRun_ChainScenario(t *testing.T) {
	rec := newReceived()
	g := mustBuild(t, graph.NewBuilder("chain").
		Start("A", returns(1)).
		Listen("B", "A", rec.body("B", func(in any) any { return in.(int) * 2 })).
		Listen("C", trigger.MustAnd("A", "B"), rec.body("C", nil)))

	report := runGraph(t, g)
	assert.Equal(t, map[string]int{"A": 1, "B": 1, "C": 1}, report.Counts)
	assert.Equal(t, []any{1}, rec.get("B"))
	assert.Equal(t, []any{2}, rec.get("C"), "C receives the result of the trigger that completed its AND set")
	assert.Equal(t, []string{"A", "B", "C"}, report.Completed)
}

func TestRun_RouterSubstitution(t *testing.T) {
	g := mustBuild(t, graph.NewBuilder("route").
		Start("X", returns(nil)).
		Router("R", "X", func(context.Context, *state.State) (string, error) { return "P", nil }, "P").
		Listen("onP", "P", returns(nil)).
		Listen("onX", "X", returns(nil)))

	report := runGraph(t, g)
	assert.Equal(t, 1, report.Ran("onP"))
	assert.Equal(t, 0, report.Ran("onX"), "a routed node propagates under its path, not its own name")
	assert.Equal(t, 1, report.Ran("R"))
}

func TestRun_AndOverRoutedPath(t *testing.T) {
	g := mustBuild(t, graph.NewBuilder("route-and").
		Start("X", returns(nil)).
		Router("R", "X", func(context.Context, *state.State) (string, error) { return "P", nil }, "P").
		Listen("onP", "P", returns(nil)).
		Listen("joined", trigger.MustAnd("P", "onP"), returns(nil)).
		Listen("stale", trigger.MustAnd("X", "onP"), returns(nil)))

	report := runGraph(t, g)
	assert.Equal(t, 1, report.Ran("onP"))
	assert.Equal(t, 1, report.Ran("joined"))
	assert.Equal(t, 0, report.Ran("stale"), "the routed source never triggers under its own name")
}

func TestRun_EntryRefiresOnStartingCondition(t *testing.T) {
	g := mustBuild(t, graph.NewBuilder("refire").
		Start("a", returns(nil)).
		Start("b", returns(nil), graph.When("a")))

	report := runGraph(t, g)
	assert.Equal(t, 1, report.Ran("a"))
	assert.Equal(t, 2, report.Ran("b"), "once as a listener of a, once as an entry")
}

func TestRun_EvenOddRouter(t *testing.T) {
	build := func(n int) *graph.Graph {
		return mustBuild(t, graph.NewBuilder("branch").
			Start("A", graph.Func(func(_ context.Context, st *state.State) (any, error) {
				st.Map().Set("value", n)
				return n, nil
			})).
			Router("chooseBranch", "A", func(_ context.Context, st *state.State) (string, error) {
				v, _ := st.Map().Get("value")
				if v.(int)%2 == 0 {
					return "left", nil
				}
				return "right", nil
			}, "left", "right").
			Listen("onLeft", "left", returns(nil)).
			Listen("onRight", "right", returns(nil)))
	}

	even := runGraph(t, build(4))
	assert.Equal(t, 1, even.Ran("onLeft"))
	assert.Equal(t, 0, even.Ran("onRight"))

	odd := runGraph(t, build(7))
	assert.Equal(t, 0, odd.Ran("onLeft"))
	assert.Equal(t, 1, odd.Ran("onRight"))
}

func TestRun_FailureDoesNotStopSiblings(t *testing.T) {
	g := mustBuild(t, graph.NewBuilder("siblings").
		Start("a", returns(nil)).
		Listen("bad", "a", fails("boom")).
		Listen("panics", "a", graph.Func(func(context.Context, *state.State) (any, error) {
			panic("kaboom")
		})).
		Listen("good", "a", returns(nil)).
		Listen("after_bad", "bad", returns(nil)).
		Listen("after_good", "good", returns(nil)))

	report := runGraph(t, g)
	assert.Equal(t, 1, report.Ran("good"))
	assert.Equal(t, 1, report.Ran("after_good"))
	assert.Equal(t, 0, report.Ran("after_bad"), "a failed node must not propagate")
	assert.True(t, report.Failed("bad"))
	assert.True(t, report.Failed("panics"))
	assert.False(t, report.Failed("good"))
	assert.NotContains(t, report.Completed, "bad")

	require.Len(t, report.Failures, 2)
	byNode := map[string]*NodeExecutionError{}
	for _, f := range report.Failures {
		byNode[f.Node] = f
	}
	assert.EqualError(t, byNode["bad"], `node "bad" failed: boom`)
	assert.False(t, byNode["bad"].Panicked)
	assert.True(t, byNode["panics"].Panicked)
	assert.Contains(t, byNode["panics"].Error(), "panic: kaboom")
	assert.NotEmpty(t, byNode["panics"].Stack)
	assert.Equal(t, "run-1", byNode["bad"].RunID)

	err := report.Err()
	require.Error(t, err)
	assert.True(t, IsNodeExecutionError(err))
}

func TestRun_EntryFailureIsContained(t *testing.T) {
	g := mustBuild(t, graph.NewBuilder("entries").
		Start("first", fails("nope")).
		Start("second", returns(nil)).
		Listen("after_first", "first", returns(nil)))

	report := runGraph(t, g)
	assert.Equal(t, 1, report.Ran("second"))
	assert.Equal(t, 0, report.Ran("after_first"))
	assert.True(t, report.Failed("first"))
}

func TestRun_RouterFailures(t *testing.T) {
	tests := []struct {
		name     string
		fn       graph.RouterFunc
		paths    []string
		panicked bool
		undecl   bool
	}{
		{
			name:  "error",
			fn:    func(context.Context, *state.State) (string, error) { return "", errors.New("no route") },
			paths: []string{"p"},
		},
		{
			name:     "panic",
			fn:       func(context.Context, *state.State) (string, error) { panic("router panic") },
			paths:    []string{"p"},
			panicked: true,
		},
		{
			name:   "undeclared path",
			fn:     func(context.Context, *state.State) (string, error) { return "q", nil },
			paths:  []string{"p"},
			undecl: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := mustBuild(t, graph.NewBuilder("r").
				Start("src", returns(nil)).
				Router("pick", "src", tt.fn, tt.paths...).
				Listen("onP", "p", returns(nil)).
				Listen("onSrc", "src", returns(nil)).
				Start("next", returns(nil)))

			report := runGraph(t, g)
			assert.Equal(t, 0, report.Ran("onP"))
			assert.Equal(t, 0, report.Ran("onSrc"))
			assert.Equal(t, 1, report.Ran("next"), "router failures must not stop the run")
			assert.Contains(t, report.Completed, "src")

			require.Len(t, report.Failures, 1)
			f := report.Failures[0]
			assert.Equal(t, "pick", f.Node)
			assert.True(t, f.Router)
			assert.Equal(t, tt.panicked, f.Panicked)
			assert.Equal(t, tt.undecl, errors.Is(f, ErrUndeclaredPath))
			assert.Contains(t, f.Error(), `router "pick" failed`)
		})
	}
}

func TestRun_EntriesRunSequentially(t *testing.T) {
	var mu sync.Mutex
	var order []string
	log := func(name string, delay time.Duration) graph.Body {
		return graph.Func(func(context.Context, *state.State) (any, error) {
			time.Sleep(delay)
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil, nil
		})
	}

	g := mustBuild(t, graph.NewBuilder("entries").
		Start("e1", log("e1", 0)).
		Listen("slow", "e1", log("slow", 30*time.Millisecond)).
		Start("e2", log("e2", 0)))

	runGraph(t, g)
	assert.Equal(t, []string{"e1", "slow", "e2"}, order,
		"an entry's propagation must settle before the next entry starts")
}

func TestRun_WaveListenersRunConcurrently(t *testing.T) {
	var arrived sync.WaitGroup
	arrived.Add(2)
	rendezvous := func() graph.Body {
		return graph.Func(func(context.Context, *state.State) (any, error) {
			arrived.Done()
			done := make(chan struct{})
			go func() {
				arrived.Wait()
				close(done)
			}()
			select {
			case <-done:
				return nil, nil
			case <-time.After(2 * time.Second):
				return nil, errors.New("sibling never started")
			}
		})
	}

	g := mustBuild(t, graph.NewBuilder("wave").
		Start("a", returns(nil)).
		Listen("l1", "a", rendezvous()).
		Listen("l2", "a", rendezvous()))

	report := runGraph(t, g)
	assert.Empty(t, report.Failures)
	assert.Equal(t, 1, report.Ran("l1"))
	assert.Equal(t, 1, report.Ran("l2"))
}

func TestRun_SerializedNodes(t *testing.T) {
	var inFlight, peak atomic.Int32
	body := graph.Func(func(context.Context, *state.State) (any, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return nil, nil
	})

	b := graph.NewBuilder("serial").Start("a", returns(nil))
	for _, name := range []string{"l1", "l2", "l3", "l4"} {
		b.Listen(name, "a", body)
	}
	report := runGraph(t, mustBuild(t, b), WithSerializedNodes())

	assert.Equal(t, int32(1), peak.Load())
	assert.Equal(t, 5, report.Steps)
}

func TestRun_MaxStepsStopsCycles(t *testing.T) {
	g := mustBuild(t, graph.NewBuilder("loop").
		Start("a", returns(nil), graph.When("b")).
		Listen("b", "a", returns(nil)))

	report := runGraph(t, g, WithMaxSteps(5))
	assert.Equal(t, 5, report.Steps)
	assert.Equal(t, 3, report.Ran("a"))
	assert.Equal(t, 2, report.Ran("b"))
	require.Len(t, report.Exceeded, 1)
	assert.Equal(t, "b", report.Exceeded[0].Node)
	assert.True(t, IsStepsExceededError(report.Err()))
}

func TestRun_MultipleConditionsFireIndependently(t *testing.T) {
	g := mustBuild(t, graph.NewBuilder("multi").
		Start("a", returns(nil)).
		Start("b", returns(nil)).
		Listen("l", "a", returns(nil), graph.When(trigger.MustAnd("a", "b"))))

	report := runGraph(t, g)
	assert.Equal(t, 2, report.Ran("l"), "once for or(a), once for and(a, b)")
}

func TestRun_StatePerRun(t *testing.T) {
	type tally struct{ N int }
	g := mustBuild(t, graph.NewBuilder("typed").
		WithState(state.Typed[tally]()).
		Start("a", graph.Func(func(_ context.Context, st *state.State) (any, error) {
			tl, _ := state.As[tally](st)
			tl.N++
			return tl.N, nil
		})))

	e := New(g, quiet())
	for i := 0; i < 2; i++ {
		report, err := e.Run(context.Background())
		require.NoError(t, err)
		tl, ok := state.As[tally](report.State)
		require.True(t, ok)
		assert.Equal(t, 1, tl.N, "each run gets fresh typed state")
	}
}

func TestRun_UntypedStateSharedByWave(t *testing.T) {
	incr := graph.Func(func(_ context.Context, st *state.State) (any, error) {
		st.Map().Update("hits", func(old any, ok bool) any {
			if !ok {
				return 1
			}
			return old.(int) + 1
		})
		return nil, nil
	})

	b := graph.NewBuilder("untyped").Start("a", incr)
	for _, name := range []string{"l1", "l2", "l3", "l4", "l5"} {
		b.Listen(name, "a", incr)
	}
	report := runGraph(t, mustBuild(t, b))

	hits, ok := report.State.Map().Get("hits")
	require.True(t, ok)
	assert.Equal(t, 6, hits)
}

func TestRun_ContextReachesBodies(t *testing.T) {
	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "v")

	var got any
	g := mustBuild(t, graph.NewBuilder("ctx").
		Start("a", graph.Func(func(ctx context.Context, _ *state.State) (any, error) {
			got = ctx.Value(key{})
			return nil, nil
		})))

	_, err := New(g, quiet()).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, "v", got)
}

func TestRun_ObserverSeesOrderedTrace(t *testing.T) {
	rec := &Recorder{}
	g := mustBuild(t, graph.NewBuilder("trace").
		Start("a", returns(nil)).
		Router("r", "a", func(context.Context, *state.State) (string, error) { return "p", nil }, "p").
		Listen("b", "p", fails("bad")))

	runGraph(t, g, WithObserver(rec))

	assert.Equal(t, []string{
		"started:a",
		"completed:a",
		"started:r",
		"routed:r",
		"started:b",
		"failed:b",
	}, rec.Kinds())

	events := rec.Events()
	for i, ev := range events {
		assert.Equal(t, int64(i+1), ev.Seq)
		assert.Equal(t, "run-1", ev.RunID)
	}
	assert.Equal(t, "p", events[3].Path)
	assert.EqualError(t, events[5].Err, "bad")
}

func TestRun_LogsFailureWithStack(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	g := mustBuild(t, graph.NewBuilder("logs").
		Start("a", fails("disk full")))

	_, err := New(g, WithLogger(logger), WithRunIDGenerator(NewFixedGenerator("run-9"))).Run(context.Background())
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "node failed")
	assert.Contains(t, out, "run_id=run-9")
	assert.Contains(t, out, "node=a")
	assert.Contains(t, out, "disk full")
	assert.Contains(t, out, "stack=")
	assert.Contains(t, out, "run finished")
}

func TestRun_ConcurrentRunsShareGraph(t *testing.T) {
	g := mustBuild(t, graph.NewBuilder("shared").
		Start("a", returns(1)).
		Listen("b", "a", returns(2)).
		Listen("c", trigger.MustAnd("a", "b"), returns(3)))
	e := New(g, quiet())

	var wg sync.WaitGroup
	reports := make([]*Report, 20)
	for i := range reports {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := e.Run(context.Background())
			if err == nil {
				reports[i] = r
			}
		}(i)
	}
	wg.Wait()

	ids := map[string]bool{}
	for _, r := range reports {
		require.NotNil(t, r)
		assert.Equal(t, map[string]int{"a": 1, "b": 1, "c": 1}, r.Counts)
		ids[r.RunID] = true
	}
	assert.Len(t, ids, 20)
}
