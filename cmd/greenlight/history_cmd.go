package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

type historyOpts struct {
	*rootOpts
}

func newHistory(parent *rootOpts) *historyOpts {
	return &historyOpts{rootOpts: parent}
}

func (opts *historyOpts) Command() *cobra.Command {
	return &cobra.Command{
		Use:   "history <deployment-id>",
		Short: "Show the phase-by-phase audit trail of a deployment.",
		Example: makeExample(
			"greenlight history 2f9a1d4e-...-8c1b",
		),
		RunE: opts.RunE,
	}
}

func (opts *historyOpts) RunE(_ *cobra.Command, args []string) error {
	if len(args) != 1 {
		return newUsageError("expected a single deployment ID argument")
	}
	deploymentID := args[0]

	led, err := buildLedger(opts.config)
	if err != nil {
		return err
	}

	entries, err := led.History(cmdContext(), deploymentID)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return fmt.Errorf("no ledger entries for deployment %s", deploymentID)
	}

	w := newTabwriter()
	fmt.Fprintln(w, "TIMESTAMP\tPHASE\tDETAIL")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\n", e.Timestamp.Format(time.RFC3339), e.Phase, e.Detail)
	}
	return w.Flush()
}
