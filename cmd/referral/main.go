// Command referral evaluates affiliate program automations and maintains
// commission rollups.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/referral/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		// Commands print their own formatted errors; cobra errors (bad
		// flags, unknown commands) still need reporting.
		if !cmd.SilenceErrors {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(cli.GetExitCode(err))
	}
}
