package harness

import (
	"cmp"
	"slices"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/wavefront/internal/canonical"
)

// Snapshot returns the canonical JSON of a run outcome. It holds only
// order-independent facts (counts, sorted names, inputs as multisets) so
// that concurrent waves produce identical bytes on every run.
func Snapshot(scenarioName string, res *Result) ([]byte, error) {
	rep := res.Report

	failed := make([]*failureView, 0, len(rep.Failures))
	for _, f := range rep.Failures {
		failed = append(failed, &failureView{node: f.Node, err: f.Err.Error(), router: f.Router, panicked: f.Panicked})
	}
	slices.SortStableFunc(failed, func(a, b *failureView) int {
		return cmp.Or(cmp.Compare(a.node, b.node), cmp.Compare(a.err, b.err))
	})
	failedList := make([]any, len(failed))
	for i, f := range failed {
		failedList[i] = map[string]any{
			"node":     f.node,
			"error":    f.err,
			"router":   f.router,
			"panicked": f.panicked,
		}
	}

	exceeded := make([]string, 0, len(rep.Exceeded))
	for _, e := range rep.Exceeded {
		exceeded = append(exceeded, e.Node)
	}

	received := make(map[string]any, len(res.Received))
	for name, vals := range res.Received {
		list := make([]any, len(vals))
		for i, v := range vals {
			list[i] = snapshotValue(v)
		}
		slices.SortFunc(list, func(a, b any) int {
			return cmp.Compare(valueKey(a), valueKey(b))
		})
		received[name] = list
	}

	return canonical.Marshal(map[string]any{
		"scenario":  scenarioName,
		"run_id":    rep.RunID,
		"completed": rep.Completed,
		"counts":    rep.Counts,
		"failed":    failedList,
		"exceeded":  exceeded,
		"received":  received,
		"steps":     rep.Steps,
	})
}

type failureView struct {
	node, err        string
	router, panicked bool
}

func snapshotValue(v any) any {
	if _, err := canonical.Marshal(v); err == nil {
		return v
	}
	return valueKey(v)
}

// RunWithGolden executes a scenario and compares its snapshot against a
// golden file at testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns the result so callers can inspect Pass and Errors; a snapshot
// mismatch fails t through goldie.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against a golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := Snapshot(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
