package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Veraticus/spice-rules/internal/cli"
	"github.com/Veraticus/spice-rules/internal/common"
	"github.com/Veraticus/spice-rules/internal/engine"
	"github.com/Veraticus/spice-rules/internal/model"
	"github.com/Veraticus/spice-rules/internal/service"
)

func reapplyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reapply",
		Short: "Re-run the active rules over stored transactions",
		Long: `Reclassify every transaction without a manual override and store results that
changed. A pass is safe to interrupt and rerun.

Examples:
  spice-rules reapply
  spice-rules reapply --from 2024-01-01 --to 2024-03-31 --state open,conflicted`,
		RunE: runReapply,
	}

	addFilterFlags(cmd)
	cmd.Flags().Bool("no-progress", false, "Disable the progress bar")
	cmd.Flags().Bool("json", false, "Print the summary as JSON")

	return cmd
}

func addFilterFlags(cmd *cobra.Command) {
	cmd.Flags().String("from", "", "Start date (YYYY-MM-DD)")
	cmd.Flags().String("to", "", "End date, inclusive (YYYY-MM-DD)")
	cmd.Flags().String("state", "", "Comma separated states (open, classified, conflicted)")
}

// filterFromFlags reads --from, --to and --state into a transaction filter.
func filterFromFlags(cmd *cobra.Command) (service.TransactionFilter, error) {
	var filter service.TransactionFilter
	from, _ := cmd.Flags().GetString("from")
	to, _ := cmd.Flags().GetString("to")
	states, _ := cmd.Flags().GetString("state")

	var err error
	if filter.StartDate, filter.EndDate, err = common.ParseDateRange(from, to); err != nil {
		return filter, err
	}
	if states == "" {
		return filter, nil
	}
	for _, s := range strings.Split(states, ",") {
		state := model.ClassificationState(strings.ToUpper(strings.TrimSpace(s)))
		switch state {
		case model.StateOpen, model.StateClassified, model.StateConflicted:
			filter.States = append(filter.States, state)
		default:
			return filter, fmt.Errorf("unknown state %q", s)
		}
	}
	return filter, nil
}

func runReapply(cmd *cobra.Command, _ []string) error {
	noProgress, _ := cmd.Flags().GetBool("no-progress")
	asJSON, _ := cmd.Flags().GetBool("json")

	filter, err := filterFromFlags(cmd)
	if err != nil {
		return err
	}

	interruptHandler := cli.NewInterruptHandler(nil)
	ctx, stop := interruptHandler.HandleInterrupts(cmd.Context(), "Rows written so far are kept. Rerun reapply to finish the pass.")
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	opts := engine.ReapplyOptions{Filter: filter}
	var progress *cli.Progress
	if !noProgress && !asJSON {
		progress = cli.NewProgress(nil, "Reapplying rules...")
		opts.Progress = progress.Update
	}

	summary, err := a.orchestrator.ReapplyAll(ctx, opts)
	if progress != nil {
		progress.Finish()
	}
	if err != nil {
		if interruptHandler.WasInterrupted() {
			return nil
		}
		return fmt.Errorf("reapplication failed: %w", err)
	}

	if asJSON {
		return printJSON(summary)
	}
	printSummary(summary)
	return nil
}
