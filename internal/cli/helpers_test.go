package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

const demoFlows = `
package flows

flow: Pipeline: {
	node: fetch: start: true
	node: double: { listen: "fetch", input: true }
	node: report: listen: and: ["fetch", "double"]
}

flow: Branch: {
	node: seed: start: true
	router: pick: { for: "seed", paths: ["left", "right"], default: "right" }
	node: onLeft: listen: "left"
	node: onRight: listen: "right"
}
`

// writeFlowsDir writes a flows directory with one file per entry.
func writeFlowsDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}
	return dir
}

// execute runs cmd with args and returns stdout, stderr and the error.
func execute(cmd *cobra.Command, args ...string) (string, string, error) {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}
