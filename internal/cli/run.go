package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/wavefront/internal/engine"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	Flow     string
	MaxSteps int
	Trace    bool
}

// RunResult is the JSON payload of one flow's run.
type RunResult struct {
	Flow      string         `json:"flow"`
	RunID     string         `json:"run_id"`
	Steps     int            `json:"steps"`
	Completed []string       `json:"completed"`
	Counts    map[string]int `json:"counts"`
	Failures  []RunFailure   `json:"failures,omitempty"`
	Exceeded  []string       `json:"exceeded,omitempty"`
	Trace     []TraceEvent   `json:"trace,omitempty"`
}

// RunFailure is one failed node or router.
type RunFailure struct {
	Node     string `json:"node"`
	Error    string `json:"error"`
	Panicked bool   `json:"panicked,omitempty"`
}

// TraceEvent is one observer event.
type TraceEvent struct {
	Seq   int64  `json:"seq"`
	Kind  string `json:"kind"`
	Node  string `json:"node"`
	Path  string `json:"path,omitempty"`
	Error string `json:"error,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{}

	cmd := &cobra.Command{
		Use:   "run <flows-dir>",
		Short: "Dry-run flows with pass-through bodies",
		Long: `Run each flow once with pass-through bodies.

Input nodes echo the value they receive and other nodes return their own
name. Routers take their default path, or their first path when no default
is declared. The run shows which nodes fire, in which order and how often.

Exit codes:
  0 - every node completed
  1 - a node failed or the step quota refused an execution
  2 - command error (bad directory, unknown flow)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd.Context(), rootOpts, opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Flow, "flow", "", "only run this flow")
	cmd.Flags().IntVar(&opts.MaxSteps, "max-steps", 0, "step quota per run (0 = unlimited)")
	cmd.Flags().BoolVar(&opts.Trace, "trace", false, "include the event trace")
	return cmd
}

func runRun(ctx context.Context, rootOpts *RootOptions, opts *RunOptions, dir string, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := newFormatter(rootOpts, cmd)

	if opts.MaxSteps < 0 {
		return commandError(formatter, ErrCodeGeneric, "--max-steps must be non-negative")
	}

	loaded, err := LoadFlows(dir)
	if err != nil {
		return loadFailure(formatter, err)
	}
	specs, err := selectFlows(loaded.Flows, opts.Flow)
	if err != nil {
		return loadFailure(formatter, err)
	}

	logger := newLogger(rootOpts, formatter.GetErrWriter())
	results := make([]RunResult, 0, len(specs))
	failed := false

	for _, spec := range specs {
		g, err := buildDryRun(spec)
		if err != nil {
			return commandError(formatter, MapBuildErrorToCode(err), fmt.Sprintf("flow %s: %v", spec.Name, err))
		}

		rec := &engine.Recorder{}
		eng := engine.New(g,
			engine.WithLogger(logger),
			engine.WithMaxSteps(opts.MaxSteps),
			engine.WithObserver(rec),
		)
		report, err := eng.Run(ctx)
		if err != nil {
			return commandError(formatter, ErrCodeGeneric, err.Error())
		}

		res := toRunResult(spec.Name, report)
		if opts.Trace {
			for _, ev := range rec.Events() {
				te := TraceEvent{Seq: ev.Seq, Kind: string(ev.Kind), Node: ev.Node, Path: ev.Path}
				if ev.Err != nil {
					te.Error = ev.Err.Error()
				}
				res.Trace = append(res.Trace, te)
			}
		}
		if len(res.Failures) > 0 || len(res.Exceeded) > 0 {
			failed = true
		}
		results = append(results, res)
	}

	text := func(w io.Writer) {
		for i, res := range results {
			if i > 0 {
				fmt.Fprintln(w)
			}
			writeRunResult(w, res)
		}
	}

	if failed {
		_ = formatter.Failure(ErrCodeNodeFailed, "run finished with failures", results, text)
		return NewExitError(ExitFailure, "run finished with failures")
	}
	return formatter.Success(results, text)
}

func toRunResult(flow string, report *engine.Report) RunResult {
	res := RunResult{
		Flow:      flow,
		RunID:     report.RunID,
		Steps:     report.Steps,
		Completed: report.Completed,
		Counts:    report.Counts,
	}
	for _, f := range report.Failures {
		res.Failures = append(res.Failures, RunFailure{Node: f.Node, Error: f.Err.Error(), Panicked: f.Panicked})
	}
	for _, e := range report.Exceeded {
		res.Exceeded = append(res.Exceeded, e.Node)
	}
	return res
}

func writeRunResult(w io.Writer, res RunResult) {
	status := "✓"
	if len(res.Failures) > 0 || len(res.Exceeded) > 0 {
		status = "✗"
	}
	fmt.Fprintf(w, "%s flow %s (run %s, %d steps)\n", status, res.Flow, res.RunID, res.Steps)
	fmt.Fprintf(w, "  completed: %s\n", strings.Join(res.Completed, ", "))

	names := make([]string, 0, len(res.Counts))
	for name := range res.Counts {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-16s %d\n", name, res.Counts[name])
	}

	for _, f := range res.Failures {
		fmt.Fprintf(w, "  FAILED %s: %s\n", f.Node, f.Error)
	}
	if len(res.Exceeded) > 0 {
		fmt.Fprintf(w, "  step quota refused: %s\n", strings.Join(res.Exceeded, ", "))
	}
	for _, ev := range res.Trace {
		line := fmt.Sprintf("  [%d] %s %s", ev.Seq, ev.Kind, ev.Node)
		if ev.Path != "" {
			line += " -> " + ev.Path
		}
		if ev.Error != "" {
			line += ": " + ev.Error
		}
		fmt.Fprintln(w, line)
	}
}
