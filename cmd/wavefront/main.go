// Command wavefront compiles, inspects and runs declarative event flows.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/wavefront/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		// Commands print their own output; only errors cobra raised itself
		// (bad flags, wrong arg count) still need printing.
		var exitErr *cli.ExitError
		if !errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(cli.ExitCommandError)
		}
		os.Exit(exitErr.Code)
	}
}
