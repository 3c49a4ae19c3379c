// Command tidemark plans incremental reads and tracks their high-water marks.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/tidemark/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		if !cli.Reported(err) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(cli.GetExitCode(err))
	}
}
