package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Veraticus/spice-rules/internal/cli"
	"github.com/Veraticus/spice-rules/internal/common"
	"github.com/Veraticus/spice-rules/internal/engine"
	"github.com/Veraticus/spice-rules/internal/model"
)

func conflictsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "Inspect and resolve conflicted transactions",
		Long: `A transaction is conflicted when equally ranked rules for different leaves match it.
Resolve it manually, which freezes the chosen leaf on that transaction, or refine the rules'
keywords so the conflict disappears for every similar transaction.`,
	}

	cmd.AddCommand(conflictsListCmd())
	cmd.AddCommand(conflictsResolveCmd())
	cmd.AddCommand(conflictsAdviseCmd())
	cmd.AddCommand(conflictsPreviewCmd())
	cmd.AddCommand(conflictsApplyCmd())
	cmd.AddCommand(conflictsReviewCmd())

	return cmd
}

func conflictsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List conflicted transactions with their competing rules",
		RunE: func(cmd *cobra.Command, _ []string) error {
			asJSON, _ := cmd.Flags().GetBool("json")
			filter, err := filterFromFlags(cmd)
			if err != nil {
				return err
			}

			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			conflicts, err := a.conflicts.ListConflicts(cmd.Context(), engine.ConflictFilter{TransactionFilter: filter})
			if err != nil {
				return fmt.Errorf("failed to list conflicts: %w", err)
			}
			if asJSON {
				return printJSON(conflicts)
			}
			if len(conflicts) == 0 {
				fmt.Println(cli.FormatSuccess("No conflicts")) //nolint:forbidigo // User-facing output
				return nil
			}
			return printTransactions(conflicts)
		},
	}
	cmd.Flags().String("from", "", "Start date (YYYY-MM-DD)")
	cmd.Flags().String("to", "", "End date, inclusive (YYYY-MM-DD)")
	cmd.Flags().Bool("json", false, "Print as JSON")
	return cmd
}

func conflictsResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <transaction-id> <leaf>",
		Short: "Classify a conflicted transaction as one of its candidate leaves",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			txn, err := a.conflicts.ResolveManually(cmd.Context(), args[0], args[1])
			if err != nil {
				return fmt.Errorf("failed to resolve conflict: %w", err)
			}
			fmt.Println(cli.FormatSuccess(fmt.Sprintf("%s classified as %s (manual override)", txn.ID, txn.TargetLeaf))) //nolint:forbidigo // User-facing output
			return nil
		},
	}
}

func conflictsAdviseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "advise <transaction-id>",
		Short: "Ask the advisor for keyword refinements that resolve a conflict",
		Long: `Request keyword additions for the competing rules from the configured language model
and show their projected effect. Nothing is changed unless --apply is given.

Use --save to keep the suggestion for a later 'conflicts apply --file'.`,
		Args: cobra.ExactArgs(1),
		RunE: runConflictsAdvise,
	}
	cmd.Flags().Bool("apply", false, "Apply the suggestion after showing it")
	cmd.Flags().String("save", "", "Write the suggestion as JSON to this file")
	return cmd
}

func runConflictsAdvise(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	apply, _ := cmd.Flags().GetBool("apply")
	save, _ := cmd.Flags().GetString("save")

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	suggestion, err := a.conflicts.RequestAdvisory(ctx, args[0])
	if err != nil {
		return fmt.Errorf("advisory request failed: %w", err)
	}
	fmt.Println(cli.FormatSuggestion(*suggestion)) //nolint:forbidigo // User-facing output

	if save != "" {
		data, err := json.MarshalIndent(suggestion, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode suggestion: %w", err)
		}
		if err := os.WriteFile(filepath.Clean(save), data, 0o600); err != nil {
			return fmt.Errorf("failed to save suggestion: %w", err)
		}
	}

	preview, err := a.conflicts.PreviewSuggestion(ctx, args[0], *suggestion)
	if err != nil {
		return fmt.Errorf("failed to preview suggestion: %w", err)
	}
	printPreview(preview)

	if !apply {
		return nil
	}
	return applySuggestion(ctx, a, args[0], *suggestion)
}

func conflictsPreviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "preview <transaction-id>",
		Short: "Show what a saved suggestion would change without applying it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			suggestion, err := readSuggestion(cmd)
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			preview, err := a.conflicts.PreviewSuggestion(cmd.Context(), args[0], suggestion)
			if err != nil {
				return fmt.Errorf("failed to preview suggestion: %w", err)
			}
			printPreview(preview)
			return nil
		},
	}
	cmd.Flags().String("file", "-", "Suggestion JSON file, - for stdin")
	return cmd
}

func conflictsApplyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apply <transaction-id>",
		Short: "Apply a suggestion's keyword additions and reapply the rules",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			suggestion, err := readSuggestion(cmd)
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			return applySuggestion(cmd.Context(), a, args[0], suggestion)
		},
	}
	cmd.Flags().String("file", "-", "Suggestion JSON file, - for stdin")
	return cmd
}

func conflictsReviewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "review",
		Short: "Walk through conflicts interactively",
		RunE:  runConflictsReview,
	}
}

func runConflictsReview(cmd *cobra.Command, _ []string) error {
	interruptHandler := cli.NewInterruptHandler(nil)
	ctx, stop := interruptHandler.HandleInterrupts(cmd.Context(), "Resolutions made so far are saved.")
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	conflicts, err := a.conflicts.ListConflicts(ctx, engine.ConflictFilter{})
	if err != nil {
		return fmt.Errorf("failed to list conflicts: %w", err)
	}
	if len(conflicts) == 0 {
		fmt.Println(cli.FormatSuccess("No conflicts")) //nolint:forbidigo // User-facing output
		return nil
	}

	prompter := cli.NewPrompter(os.Stdin, os.Stdout, a.advisor != nil)
	prompter.SetTotal(len(conflicts))
	defer prompter.ShowCompletion()

	for _, txn := range conflicts {
		// An earlier keyword refinement may already have resolved this one.
		current, err := a.db.GetTransaction(ctx, a.cfg.User.ID, txn.ID)
		if err != nil {
			return err
		}
		if current.Classification != model.StateConflicted || current.ManualOverride {
			prompter.Record(cli.ActionSkip)
			continue
		}

		action, err := reviewOne(ctx, a, prompter, *current)
		if err != nil {
			if interruptHandler.WasInterrupted() || errors.Is(err, cli.ErrInputCancelled) {
				return nil
			}
			return err
		}
		if action == cli.ActionQuit {
			return nil
		}
		prompter.Record(action)
	}
	return nil
}

func reviewOne(ctx context.Context, a *app, prompter *cli.Prompter, txn model.Transaction) (cli.Action, error) {
	for {
		decision, err := prompter.ChooseResolution(ctx, txn)
		if err != nil {
			return "", err
		}

		switch decision.Action {
		case cli.ActionResolve:
			if _, err := a.conflicts.ResolveManually(ctx, txn.ID, decision.Leaf); err != nil {
				return "", fmt.Errorf("failed to resolve conflict: %w", err)
			}
			return cli.ActionResolve, nil
		case cli.ActionAdvise:
			suggestion, err := a.conflicts.RequestAdvisory(ctx, txn.ID)
			if err != nil {
				fmt.Println(cli.FormatError(err.Error())) //nolint:forbidigo // User-facing output
				continue
			}
			preview, err := a.conflicts.PreviewSuggestion(ctx, txn.ID, *suggestion)
			if err != nil {
				return "", fmt.Errorf("failed to preview suggestion: %w", err)
			}
			ok, err := prompter.ConfirmSuggestion(ctx, *suggestion, preview.Resolves, len(preview.Affected))
			if err != nil {
				return "", err
			}
			if !ok {
				continue
			}
			if err := applySuggestion(ctx, a, txn.ID, *suggestion); err != nil {
				return "", err
			}
			return cli.ActionAdvise, nil
		default:
			return decision.Action, nil
		}
	}
}

func applySuggestion(ctx context.Context, a *app, transactionID string, suggestion model.AdvisorySuggestion) error {
	outcome, err := a.conflicts.ApplyAdvisorySuggestion(ctx, transactionID, suggestion)
	if err != nil {
		return fmt.Errorf("failed to apply suggestion: %w", err)
	}
	for _, r := range outcome.UpdatedRules {
		fmt.Println(cli.FormatSuccess(fmt.Sprintf("Updated rule #%d %s", r.ID, r.Name))) //nolint:forbidigo // User-facing output
	}
	if outcome.Reapply != nil {
		printSummary(outcome.Reapply)
	}
	if outcome.Transaction != nil {
		fmt.Printf("%s is now %s %s\n", transactionID, //nolint:forbidigo // User-facing output
			cli.FormatState(outcome.Transaction.Classification), outcome.Transaction.TargetLeaf)
	}
	return nil
}

func printPreview(preview *engine.SuggestionPreview) {
	if preview.Resolves {
		fmt.Println(cli.FormatSuccess("Resolves the conflict as " + preview.Result.TargetLeaf)) //nolint:forbidigo // User-facing output
	} else {
		fmt.Println(cli.FormatWarning("Would leave the transaction " + string(preview.Result.State))) //nolint:forbidigo // User-facing output
	}
	if len(preview.Affected) > 0 {
		fmt.Println(cli.FormatInfo(fmt.Sprintf("Also reclassifies %d transaction(s)", len(preview.Affected)))) //nolint:forbidigo // User-facing output
	}
}

func readSuggestion(cmd *cobra.Command) (model.AdvisorySuggestion, error) {
	var suggestion model.AdvisorySuggestion
	path, _ := cmd.Flags().GetString("file")

	var in io.Reader = cmd.InOrStdin()
	if path != "-" {
		f, err := os.Open(filepath.Clean(path))
		if err != nil {
			return suggestion, fmt.Errorf("failed to open suggestion: %w", err)
		}
		defer func() { _ = f.Close() }()
		in = f
	}
	if err := json.NewDecoder(in).Decode(&suggestion); err != nil {
		return suggestion, common.NewUserError("invalid suggestion JSON", err)
	}
	return suggestion, nil
}
