package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/wavefront/internal/canonical"
)

// AssertionError is returned when an expectation fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string // counts, received, failed, not_run or exceeded
	Expected string
	Actual   string
	Counts   map[string]int // full invocation counts for context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Counts) > 0 {
		fmt.Fprintf(&buf, "\nInvocation counts:\n")
		for _, name := range canonical.SortedKeys(e.Counts) {
			fmt.Fprintf(&buf, "  %s: %d\n", name, e.Counts[name])
		}
	}
	return buf.String()
}

// Check evaluates exp against a run result and returns one message per
// failed expectation, in a fixed order.
func Check(exp Expectations, res *Result) []string {
	var errs []string
	add := func(err error) {
		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	counts := res.Report.Counts
	for _, name := range canonical.SortedKeys(exp.Counts) {
		add(checkCount(name, exp.Counts[name], counts))
	}
	for _, name := range canonical.SortedKeys(exp.Received) {
		add(checkReceived(name, exp.Received[name], res.Received[name], counts))
	}
	if exp.Failed != nil {
		add(checkFailed(exp.Failed, res, counts))
	}
	for _, name := range exp.NotRun {
		if counts[name] > 0 {
			add(&AssertionError{
				Type:     "not_run",
				Expected: fmt.Sprintf("%s never invoked", name),
				Actual:   fmt.Sprintf("%d invocations", counts[name]),
				Counts:   counts,
			})
		}
	}
	if exp.Exceeded != nil {
		add(checkExceeded(exp.Exceeded, res, counts))
	}
	return errs
}

func checkCount(name string, want int, counts map[string]int) error {
	if got := counts[name]; got != want {
		return &AssertionError{
			Type:     "counts",
			Expected: fmt.Sprintf("%d invocations of %s", want, name),
			Actual:   fmt.Sprintf("%d invocations", got),
			Counts:   counts,
		}
	}
	return nil
}

// checkReceived compares inputs as multisets; concurrent waves do not fix
// the order in which a node's invocations start.
func checkReceived(name string, want, got []any, counts map[string]int) error {
	w, g := valueKeys(want), valueKeys(got)
	if !slices.Equal(w, g) {
		return &AssertionError{
			Type:     "received",
			Expected: fmt.Sprintf("%s received [%s]", name, strings.Join(w, ", ")),
			Actual:   fmt.Sprintf("[%s]", strings.Join(g, ", ")),
			Counts:   counts,
		}
	}
	return nil
}

func checkFailed(want []string, res *Result, counts map[string]int) error {
	var got []string
	for _, f := range res.Report.Failures {
		if !slices.Contains(got, f.Node) {
			got = append(got, f.Node)
		}
	}
	slices.Sort(got)
	w := slices.Clone(want)
	slices.Sort(w)
	if !slices.Equal(w, got) {
		return &AssertionError{
			Type:     "failed",
			Expected: fmt.Sprintf("failed nodes %v", w),
			Actual:   fmt.Sprintf("failed nodes %v", got),
			Counts:   counts,
		}
	}
	return nil
}

func checkExceeded(want []string, res *Result, counts map[string]int) error {
	var got []string
	for _, e := range res.Report.Exceeded {
		if !slices.Contains(got, e.Node) {
			got = append(got, e.Node)
		}
	}
	w := slices.Clone(want)
	slices.Sort(w)
	if !slices.Equal(w, got) {
		return &AssertionError{
			Type:     "exceeded",
			Expected: fmt.Sprintf("refused nodes %v", w),
			Actual:   fmt.Sprintf("refused nodes %v", got),
			Counts:   counts,
		}
	}
	return nil
}

// valueKeys renders values as sorted canonical JSON strings. Values the
// canonical encoder rejects fall back to their fmt form.
func valueKeys(vals []any) []string {
	keys := make([]string, len(vals))
	for i, v := range vals {
		keys[i] = valueKey(v)
	}
	slices.Sort(keys)
	return keys
}

func valueKey(v any) string {
	if data, err := canonical.Marshal(v); err == nil {
		return string(data)
	}
	return fmt.Sprint(v)
}
