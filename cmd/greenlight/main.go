package main

import (
	"errors"
	"os"

	"github.com/greenlight-sh/greenlight/internal/deploy"
)

// exitCode classifies a command error. A failed rollback leaves the service
// in a mixed state; exit 2 so pipelines can page instead of retrying.
func exitCode(err error) int {
	if errors.Is(err, deploy.ErrRollbackFailed) {
		return 2
	}
	return 1
}

func main() {
	rootCmd := newRoot().Command()

	if cmd, err := rootCmd.ExecuteC(); err != nil {
		var uerr usageError
		if errors.As(err, &uerr) {
			cmd.Println("")
			cmd.Println(cmd.UsageString())
		}
		os.Exit(exitCode(err))
	}
}
