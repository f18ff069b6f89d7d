package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/wavefront/internal/engine"
	"github.com/roach88/wavefront/internal/testutil"
)

func mustParse(t *testing.T, content string) *Scenario {
	t.Helper()
	sc, err := ParseScenario([]byte(content))
	require.NoError(t, err)
	return sc
}

func TestRun_Passes(t *testing.T) {
	sc := mustParse(t, `
name: pass
description: "chain"
run_id: pass-run
flow: |
  flow: P: {
    node: a: start: true
    node: b: { listen: "a", input: true }
  }
nodes:
  a: { returns: "hello" }
expect:
  counts: { a: 1, b: 1 }
  received: { b: ["hello"] }
`)

	res, err := Run(sc)
	require.NoError(t, err)
	assert.True(t, res.Pass, "errors: %v", res.Errors)
	assert.Empty(t, res.Errors)
	assert.Equal(t, "pass-run", res.Report.RunID)
	assert.Equal(t, []any{"hello"}, res.Received["b"])

	v, ok := res.Report.State.Map().Get("b")
	require.True(t, ok)
	assert.Equal(t, "hello", v, "outputs are stored in state under the node name")
}

func TestRun_ReportsFailedExpectations(t *testing.T) {
	sc := mustParse(t, `
name: mismatch
description: "every expectation wrong"
flow: |
  flow: M: {
    node: a: start: true
    node: b: { listen: "a", input: true }
  }
nodes:
  b: { fail: "nope" }
expect:
  counts: { a: 2 }
  received: { b: ["other"] }
  failed: []
  not_run: [b]
`)

	res, err := Run(sc)
	require.NoError(t, err)
	assert.False(t, res.Pass)
	require.Len(t, res.Errors, 4)
	assert.Contains(t, res.Errors[0], "Assertion failed: counts")
	assert.Contains(t, res.Errors[0], "2 invocations of a")
	assert.Contains(t, res.Errors[1], "Assertion failed: received")
	assert.Contains(t, res.Errors[1], `b received ["other"]`)
	assert.Contains(t, res.Errors[2], "Assertion failed: failed")
	assert.Contains(t, res.Errors[3], "Assertion failed: not_run")
}

func TestRun_DefaultRunID(t *testing.T) {
	res, err := Run(mustParse(t, minimalScenario))
	require.NoError(t, err)
	assert.True(t, res.Pass)
	assert.Equal(t, "test-run-default", res.Report.RunID)
}

func TestRun_Trace(t *testing.T) {
	sc := mustParse(t, `
name: trace
description: "router trace"
flow: |
  flow: T: {
    node: a: start: true
    router: r: { for: "a", paths: ["x", "y"], default: "y" }
    node: b: listen: "y"
  }
expect:
  counts: { a: 1, r: 1, b: 1 }
`)

	res, err := Run(sc)
	require.NoError(t, err)
	assert.True(t, res.Pass, "errors: %v", res.Errors)

	var kinds []string
	for _, ev := range res.Trace {
		kinds = append(kinds, string(ev.Kind)+":"+ev.Node)
	}
	assert.Equal(t, []string{
		"started:a",
		"completed:a",
		"started:r",
		"routed:r",
		"started:b",
		"completed:b",
	}, kinds)
	for i := 1; i < len(res.Trace); i++ {
		assert.Greater(t, res.Trace[i].Seq, res.Trace[i-1].Seq)
	}
}

func TestRun_RouterBehaviors(t *testing.T) {
	tests := []struct {
		name       string
		router     string
		wantPath   string
		wantFailed bool
	}{
		{name: "case match", router: `{ route: { of: a }, cases: { "7": x } }`, wantPath: "x"},
		{name: "mod", router: `{ route: { of: a, mod: 2 }, cases: { "1": y } }`, wantPath: "y"},
		{name: "default", router: `{ route: { of: a }, default: y }`, wantPath: "y"},
		{name: "no case", router: `{ route: { of: a } }`, wantFailed: true},
		{name: "missing source uses default", router: `{ route: { of: zz }, default: x }`, wantPath: "x"},
		{name: "missing source", router: `{ route: { of: zz } }`, wantFailed: true},
		{name: "fail", router: `{ fail: "broken" }`, wantFailed: true},
		{name: "undeclared path", router: `{ route: { of: a }, default: z }`, wantFailed: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := mustParse(t, `
name: routing
description: "router behavior"
flow: |
  flow: R: {
    node: a: start: true
    router: r: { for: "a", paths: ["x", "y"] }
    node: onX: listen: "x"
    node: onY: listen: "y"
  }
nodes:
  a: { returns: 7 }
routers:
  r: `+tt.router+`
expect:
  counts: { a: 1 }
`)
			res, err := Run(sc)
			require.NoError(t, err)
			assert.True(t, res.Pass, "errors: %v", res.Errors)

			if tt.wantFailed {
				require.Len(t, res.Report.Failures, 1)
				assert.True(t, res.Report.Failures[0].Router)
				assert.Zero(t, res.Report.Ran("onX")+res.Report.Ran("onY"))
				return
			}
			assert.Empty(t, res.Report.Failures)
			if tt.wantPath == "x" {
				assert.Equal(t, 1, res.Report.Ran("onX"))
				assert.Zero(t, res.Report.Ran("onY"))
			} else {
				assert.Equal(t, 1, res.Report.Ran("onY"))
				assert.Zero(t, res.Report.Ran("onX"))
			}
		})
	}
}

func TestRun_NodeBehaviors(t *testing.T) {
	sc := mustParse(t, `
name: behaviors
description: "node behaviors"
flow: |
  flow: B: {
    node: a: start: true
    node: named: listen: "a"
    node: counted: listen: "a"
    node: bad: { listen: "a", input: true }
    node: passthrough: { listen: "named", input: true }
  }
nodes:
  a: { returns: "text" }
  counted: { counter: true }
  bad: { multiply: 3 }
expect:
  failed: [bad]
  received: { bad: ["text"], passthrough: ["named"] }
`)

	res, err := Run(sc)
	require.NoError(t, err)
	assert.True(t, res.Pass, "errors: %v", res.Errors)

	require.Len(t, res.Report.Failures, 1)
	assert.Contains(t, res.Report.Failures[0].Error(), "multiply: input text (string) is not an integer")

	st := res.Report.State.Map()
	v, _ := st.Get("counted")
	assert.Equal(t, 1, v)
	v, _ = st.Get("passthrough")
	assert.Equal(t, "named", v)
}

func TestRun_SetupErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "bad cue",
			content: `
name: badcue
description: "x"
flow: "flow: F: node: {{"
expect: { counts: { a: 1 } }
`,
			wantErr: "scenario badcue",
		},
		{
			name: "unknown node behavior",
			content: `
name: unknown
description: "x"
flow: "flow: F: node: a: start: true"
nodes:
  ghost: { echo: true }
expect: { counts: { a: 1 } }
`,
			wantErr: "nodes.ghost is not a node of flow F",
		},
		{
			name: "unknown router behavior",
			content: `
name: unknown
description: "x"
flow: "flow: F: node: a: start: true"
routers:
  ghost: { route: { of: a } }
expect: { counts: { a: 1 } }
`,
			wantErr: "routers.ghost is not a router of flow F",
		},
		{
			name: "typed state",
			content: `
name: typed
description: "x"
flow: "flow: F: { state: \"Order\", node: a: start: true }"
expect: { counts: { a: 1 } }
`,
			wantErr: `must use untyped state, got "Order"`,
		},
		{
			name: "flow name not found",
			content: `
name: named
description: "x"
flow_name: Other
flow: "flow: F: node: a: start: true"
expect: { counts: { a: 1 } }
`,
			wantErr: `flow "Other" not found`,
		},
		{
			name: "unknown member",
			content: `
name: member
description: "x"
flow: "flow: F: { node: a: start: true, node: b: listen: \"nope\" }"
expect: { counts: { a: 1 } }
`,
			wantErr: `references unknown node "nope"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Run(mustParse(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRun_FlowName(t *testing.T) {
	sc := mustParse(t, `
name: pick
description: "select the second flow"
flow_name: Second
flow: |
  flow: First: node: a: start: true
  flow: Second: node: b: start: true
expect:
  counts: { b: 1 }
  not_run: [a]
`)
	res, err := Run(sc)
	require.NoError(t, err)
	assert.True(t, res.Pass, "errors: %v", res.Errors)
	assert.Equal(t, "Second", res.Report.Graph)
}

func TestRunWithLogger_LogsRun(t *testing.T) {
	res, err := RunWithLogger(context.Background(), mustParse(t, minimalScenario), testutil.NewLogger(t))
	require.NoError(t, err)
	assert.True(t, res.Pass)
	assert.Equal(t, engine.EventCompleted, res.Trace[len(res.Trace)-1].Kind)
}
