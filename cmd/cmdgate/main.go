// Command cmdgate authorizes shell commands against a rule policy, a risk
// oracle and admin approvals.
package main

import (
	"os"

	"github.com/Dicklesworthstone/cmdgate/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(cli.ReportError(err))
	}
}
