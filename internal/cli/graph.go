package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/wavefront/internal/graph"
)

// GraphOptions holds flags for the graph command.
type GraphOptions struct {
	Flow string
}

// GraphResult is the JSON payload of the graph command.
type GraphResult struct {
	Flows []graph.Topology `json:"flows"`
}

// NewGraphCommand creates the graph command.
func NewGraphCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GraphOptions{}

	cmd := &cobra.Command{
		Use:   "graph <flows-dir>",
		Short: "Print the topology of compiled flows",
		Long: `Print each flow's entries, listeners and routers.

The fingerprint identifies the topology: it changes when a node, condition
or router path changes, and stays the same when only node bodies change.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGraph(rootOpts, opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Flow, "flow", "", "only print this flow")
	return cmd
}

func runGraph(rootOpts *RootOptions, opts *GraphOptions, dir string, cmd *cobra.Command) error {
	formatter := newFormatter(rootOpts, cmd)

	result, err := LoadFlows(dir)
	if err != nil {
		return loadFailure(formatter, err)
	}
	specs, err := selectFlows(result.Flows, opts.Flow)
	if err != nil {
		return loadFailure(formatter, err)
	}

	out := GraphResult{Flows: make([]graph.Topology, 0, len(specs))}
	for _, spec := range specs {
		g, err := buildDryRun(spec)
		if err != nil {
			return commandError(formatter, MapBuildErrorToCode(err), fmt.Sprintf("flow %s: %v", spec.Name, err))
		}
		topo := g.Describe()
		topo.State = spec.State
		out.Flows = append(out.Flows, topo)
	}

	return formatter.Success(out, func(w io.Writer) {
		for i, topo := range out.Flows {
			if i > 0 {
				fmt.Fprintln(w)
			}
			writeTopology(w, topo)
		}
	})
}

func writeTopology(w io.Writer, topo graph.Topology) {
	fmt.Fprintf(w, "flow %s (state: %s)\n", topo.Name, topo.State)
	fmt.Fprintf(w, "  fingerprint: %s\n", topo.Fingerprint)
	fmt.Fprintf(w, "  entries: %s\n", strings.Join(topo.Entries, ", "))
	for _, n := range topo.Nodes {
		switch {
		case n.RouterFor != "":
			fmt.Fprintf(w, "  router %s for %s -> [%s]\n", n.Name, n.RouterFor, strings.Join(n.Paths, ", "))
		case n.Entry && len(n.Conditions) == 0:
			fmt.Fprintf(w, "  start  %s\n", n.Name)
		default:
			kind := "node  "
			if n.Entry {
				kind = "start "
			}
			fmt.Fprintf(w, "  %s %s <- %s\n", kind, n.Name, strings.Join(n.Conditions, " | "))
		}
	}
}

// loadFailure prints a load or selection error as a command error.
func loadFailure(formatter *OutputFormatter, err error) error {
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		msg := loadErr.Message
		if loadErr.Pos.IsValid() {
			msg = fmt.Sprintf("%s:%d: %s", loadErr.Pos.Filename(), loadErr.Pos.Line(), msg)
		}
		return commandError(formatter, loadErr.Code, msg)
	}
	return commandError(formatter, ErrCodeGeneric, err.Error())
}
