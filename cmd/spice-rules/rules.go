package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Veraticus/spice-rules/internal/cli"
	"github.com/Veraticus/spice-rules/internal/common"
	"github.com/Veraticus/spice-rules/internal/engine"
	"github.com/Veraticus/spice-rules/internal/model"
	"github.com/Veraticus/spice-rules/internal/rules"
)

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage keyword rules",
		Long: `Rules map positive keywords to a taxonomy leaf. A leaf has at most one active rule;
adding keywords for a leaf that already has one merges them into it.

Every change reapplies the rules to stored transactions unless --no-reapply is given.`,
	}

	cmd.PersistentFlags().Bool("no-reapply", false, "Do not reapply rules after the change")

	cmd.AddCommand(rulesListCmd())
	cmd.AddCommand(rulesShowCmd())
	cmd.AddCommand(rulesAddCmd())
	cmd.AddCommand(rulesDeltaCmd())
	cmd.AddCommand(rulesRemoveKeywordsCmd())
	cmd.AddCommand(rulesRankCmd())
	cmd.AddCommand(rulesActivateCmd())
	cmd.AddCommand(rulesDeactivateCmd())
	cmd.AddCommand(rulesDeleteCmd())
	cmd.AddCommand(rulesSeedCmd())

	return cmd
}

func rulesListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List rules",
		RunE: func(cmd *cobra.Command, _ []string) error {
			active, _ := cmd.Flags().GetBool("active")
			asJSON, _ := cmd.Flags().GetBool("json")

			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			list, err := a.store.List(cmd.Context(), active)
			if err != nil {
				return fmt.Errorf("failed to list rules: %w", err)
			}
			if asJSON {
				return printJSON(list)
			}
			if len(list) == 0 {
				fmt.Println(cli.InfoStyle.Render("No rules found. Use 'spice-rules rules add' to create one.")) //nolint:forbidigo // User-facing output
				return nil
			}
			return printRules(list)
		},
	}
	cmd.Flags().Bool("active", false, "Only active rules")
	cmd.Flags().Bool("json", false, "Print as JSON")
	return cmd
}

func rulesShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <rule-id>",
		Short: "Show one rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseRuleID(args[0])
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			rule, err := a.store.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			printRule(rule)
			return nil
		},
	}
}

func rulesAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a rule, or merge keywords into the leaf's active rule",
		Long: `Examples:
  spice-rules rules add --leaf groceries --positive rewe,edeka,aldi
  spice-rules rules add --leaf dining --positive "uber eats" --priority 50 --strict`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			leaf, _ := cmd.Flags().GetString("leaf")
			name, _ := cmd.Flags().GetString("name")
			positive, _ := cmd.Flags().GetStringSlice("positive")
			negative, _ := cmd.Flags().GetStringSlice("negative")
			priority, _ := cmd.Flags().GetInt("priority")
			strict, _ := cmd.Flags().GetBool("strict")

			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.store.Create(cmd.Context(), rules.NewRule{
				Name:       name,
				TargetLeaf: leaf,
				Positive:   positive,
				Negative:   negative,
				Priority:   priority,
				Strict:     strict,
			})
			if err != nil {
				return fmt.Errorf("failed to create rule: %w", err)
			}
			if res.Merged {
				fmt.Println(cli.FormatInfo(fmt.Sprintf("Merged into existing rule #%d for %s", res.Rule.ID, leaf))) //nolint:forbidigo // User-facing output
			} else {
				fmt.Println(cli.FormatSuccess(fmt.Sprintf("Created rule #%d", res.Rule.ID))) //nolint:forbidigo // User-facing output
			}
			printRule(res.Rule)
			return reapplyAfterEdit(cmd, a)
		},
	}
	cmd.Flags().String("leaf", "", "Target taxonomy leaf")
	cmd.Flags().String("name", "", "Rule name (default: the leaf)")
	cmd.Flags().StringSlice("positive", nil, "Positive keywords")
	cmd.Flags().StringSlice("negative", nil, "Negative keywords")
	cmd.Flags().Int("priority", rules.DefaultSeedPriority, "Priority, lower wins")
	cmd.Flags().Bool("strict", false, "Strict rules win ties at equal priority")
	_ = cmd.MarkFlagRequired("leaf")
	_ = cmd.MarkFlagRequired("positive")
	return cmd
}

func rulesDeltaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delta <rule-id>",
		Short: "Add positive and negative keywords to a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return editKeywords(cmd, args[0], func(ctx context.Context, a *app, id int64, pos, neg []string) (*model.Rule, error) {
				return a.store.ApplyDelta(ctx, id, model.NewKeywordDelta(pos, neg))
			})
		},
	}
	keywordFlags(cmd)
	return cmd
}

func rulesRemoveKeywordsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove-keywords <rule-id>",
		Short: "Remove keywords from a user rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return editKeywords(cmd, args[0], func(ctx context.Context, a *app, id int64, pos, neg []string) (*model.Rule, error) {
				return a.store.RemoveKeywords(ctx, id, pos, neg)
			})
		},
	}
	keywordFlags(cmd)
	return cmd
}

func keywordFlags(cmd *cobra.Command) {
	cmd.Flags().StringSlice("positive", nil, "Positive keywords")
	cmd.Flags().StringSlice("negative", nil, "Negative keywords")
}

type keywordEdit func(ctx context.Context, a *app, id int64, positive, negative []string) (*model.Rule, error)

func editKeywords(cmd *cobra.Command, rawID string, edit keywordEdit) error {
	id, err := parseRuleID(rawID)
	if err != nil {
		return err
	}
	positive, _ := cmd.Flags().GetStringSlice("positive")
	negative, _ := cmd.Flags().GetStringSlice("negative")
	if len(positive) == 0 && len(negative) == 0 {
		return fmt.Errorf("at least one of --positive or --negative is required")
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	rule, err := edit(cmd.Context(), a, id, positive, negative)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}
	printRule(rule)
	return reapplyAfterEdit(cmd, a)
}

func rulesRankCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rank <rule-id>",
		Short: "Change a rule's priority or strictness",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseRuleID(args[0])
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			rule, err := a.store.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			rank := rule.Rank()
			if cmd.Flags().Changed("priority") {
				rank.Priority, _ = cmd.Flags().GetInt("priority")
			}
			if cmd.Flags().Changed("strict") {
				rank.Strict, _ = cmd.Flags().GetBool("strict")
			}
			if err := a.store.SetRank(cmd.Context(), id, rank); err != nil {
				return fmt.Errorf("failed to update rank: %w", err)
			}
			fmt.Println(cli.FormatSuccess(fmt.Sprintf("Rule #%d is now %s", id, rank))) //nolint:forbidigo // User-facing output
			return reapplyAfterEdit(cmd, a)
		},
	}
	cmd.Flags().Int("priority", rules.DefaultSeedPriority, "Priority, lower wins")
	cmd.Flags().Bool("strict", false, "Strict rules win ties at equal priority")
	return cmd
}

func rulesActivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "activate <rule-id>",
		Short: "Activate a rule; merges into the leaf's active rule if there is one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseRuleID(args[0])
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			rule, err := a.store.Activate(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("failed to activate rule: %w", err)
			}
			if rule.ID != id {
				fmt.Println(cli.FormatInfo(fmt.Sprintf("Keywords merged into active rule #%d", rule.ID))) //nolint:forbidigo // User-facing output
			}
			printRule(rule)
			return reapplyAfterEdit(cmd, a)
		},
	}
}

func rulesDeactivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate <rule-id>",
		Short: "Deactivate a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return simpleRuleEdit(cmd, args[0], "Deactivated", func(ctx context.Context, a *app, id int64) error {
				return a.store.Deactivate(ctx, id)
			})
		},
	}
}

func rulesDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <rule-id>",
		Short: "Delete a user rule; system rules can only be deactivated",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return simpleRuleEdit(cmd, args[0], "Deleted", func(ctx context.Context, a *app, id int64) error {
				return a.store.Delete(ctx, id)
			})
		},
	}
}

func simpleRuleEdit(cmd *cobra.Command, rawID, verb string, edit func(context.Context, *app, int64) error) error {
	id, err := parseRuleID(rawID)
	if err != nil {
		return err
	}
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	if err := edit(cmd.Context(), a, id); err != nil {
		if errors.Is(err, common.ErrSystemRule) {
			return fmt.Errorf("rule #%d is a system rule; deactivate it instead", id)
		}
		return err
	}
	fmt.Println(cli.FormatSuccess(fmt.Sprintf("%s rule #%d", verb, id))) //nolint:forbidigo // User-facing output
	return reapplyAfterEdit(cmd, a)
}

func rulesSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed <file.yaml>",
		Short: "Install system rules from a seed file",
		Long: `Seed files list rules under a top-level "rules" key:

  rules:
    - name: Groceries
      leaf: groceries
      positive: [rewe, edeka, aldi]
      negative: [rewe markt tankstelle]

Seeding is idempotent: seeds for a leaf that already has an active rule are merged into it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seeds, err := rules.LoadSeedFile(args[0])
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.store.SeedSystemRules(cmd.Context(), seeds)
			if err != nil {
				return err
			}
			fmt.Println(cli.FormatSuccess(fmt.Sprintf("Seeded %d rule(s), merged %d", res.Created, res.Merged))) //nolint:forbidigo // User-facing output
			return reapplyAfterEdit(cmd, a)
		},
	}
}

// reapplyAfterEdit runs a reapplication pass unless --no-reapply was given. A pass already
// in progress is reported, not treated as a failure.
func reapplyAfterEdit(cmd *cobra.Command, a *app) error {
	if skip, _ := cmd.Flags().GetBool("no-reapply"); skip {
		return nil
	}
	summary, err := a.orchestrator.ReapplyAll(cmd.Context(), engine.ReapplyOptions{})
	if err != nil {
		if errors.Is(err, common.ErrReapplyInProgress) {
			fmt.Println(cli.FormatWarning("A reapplication is already running; rerun 'spice-rules reapply' afterwards")) //nolint:forbidigo // User-facing output
			return nil
		}
		return fmt.Errorf("reapplication failed: %w", err)
	}
	printSummary(summary)
	return nil
}

func parseRuleID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid rule id %q", raw)
	}
	return id, nil
}
