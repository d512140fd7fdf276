package main

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/Veraticus/spice-rules/internal/cli"
	"github.com/Veraticus/spice-rules/internal/common"
	"github.com/Veraticus/spice-rules/internal/discovery"
	"github.com/Veraticus/spice-rules/internal/rules"
)

func discoverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Propose rules from recurring unmatched transactions",
		Long: `Group OPEN transactions by description signature (numbers and reference codes
removed) and list the groups that recur, with a suggested keyword for each.

Examples:
  spice-rules discover --sort amount
  spice-rules discover --from 2024-01-01 --min-amount 10
  spice-rules discover accept "netflix.com" --leaf subscriptions`,
		RunE: runDiscover,
	}

	cmd.Flags().String("from", "", "Start date (YYYY-MM-DD)")
	cmd.Flags().String("to", "", "End date, inclusive (YYYY-MM-DD)")
	cmd.Flags().String("min-amount", "", "Minimum absolute amount per transaction")
	cmd.Flags().String("max-amount", "", "Maximum absolute amount per transaction")
	cmd.Flags().String("sort", string(discovery.SortByCount), "Sort by count, amount or recency")
	cmd.Flags().String("direction", string(discovery.Descending), "Sort direction (asc, desc)")
	cmd.Flags().Int("min-occurrences", 0, "Minimum group size (default from config)")
	cmd.Flags().Int("limit", 0, "Maximum proposals (default from config)")
	cmd.Flags().Bool("json", false, "Print as JSON")

	cmd.AddCommand(discoverAcceptCmd())

	return cmd
}

func runDiscover(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	asJSON, _ := cmd.Flags().GetBool("json")

	filter, err := discoveryFilterFromFlags(cmd)
	if err != nil {
		return err
	}

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	candidates, err := a.miner.Discover(ctx, filter)
	if err != nil {
		return fmt.Errorf("discovery failed: %w", err)
	}
	if asJSON {
		return printJSON(candidates)
	}
	if len(candidates) == 0 {
		fmt.Println(cli.FormatInfo("No recurring unmatched transactions")) //nolint:forbidigo // User-facing output
		return nil
	}

	w := newTable()
	defer flushTable(w)
	if err := writeHeader(w, "Signature", "Count", "Total", "Last Seen", "Keyword", "Sample"); err != nil {
		return err
	}
	for _, c := range candidates {
		if _, err := fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\n",
			c.DescriptionSignature,
			c.OccurrenceCount,
			c.TotalAbsoluteAmount.StringFixed(2),
			c.LastSeenDate.Format("2006-01-02"),
			c.SuggestedKeyword,
			c.SampleDescription); err != nil {
			return fmt.Errorf("failed to write candidate row: %w", err)
		}
	}
	return nil
}

func discoveryFilterFromFlags(cmd *cobra.Command) (discovery.Filter, error) {
	from, _ := cmd.Flags().GetString("from")
	to, _ := cmd.Flags().GetString("to")
	minAmount, _ := cmd.Flags().GetString("min-amount")
	maxAmount, _ := cmd.Flags().GetString("max-amount")
	sortBy, _ := cmd.Flags().GetString("sort")
	direction, _ := cmd.Flags().GetString("direction")
	minOccurrences, _ := cmd.Flags().GetInt("min-occurrences")
	limit, _ := cmd.Flags().GetInt("limit")

	filter := discovery.Filter{
		SortBy:         discovery.SortKey(sortBy),
		Direction:      discovery.Direction(direction),
		MinOccurrences: minOccurrences,
		Limit:          limit,
	}

	var err error
	if filter.StartDate, err = common.ParseDate(from, false); err != nil {
		return filter, err
	}
	if filter.EndDate, err = common.ParseDate(to, true); err != nil {
		return filter, err
	}
	if filter.MinAbsAmount, err = parseAmountFlag(minAmount); err != nil {
		return filter, err
	}
	if filter.MaxAbsAmount, err = parseAmountFlag(maxAmount); err != nil {
		return filter, err
	}
	return filter, filter.Validate()
}

func parseAmountFlag(raw string) (*decimal.Decimal, error) {
	if raw == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	return &d, nil
}

func discoverAcceptCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accept <signature>",
		Short: "Turn a proposal into a rule and reapply",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			leaf, _ := cmd.Flags().GetString("leaf")
			keyword, _ := cmd.Flags().GetString("keyword")
			name, _ := cmd.Flags().GetString("name")
			priority, _ := cmd.Flags().GetInt("priority")
			strict, _ := cmd.Flags().GetBool("strict")

			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.miner.AcceptCandidate(cmd.Context(), discovery.AcceptRequest{
				Signature: args[0],
				Keyword:   keyword,
				Leaf:      leaf,
				Name:      name,
				Priority:  priority,
				Strict:    strict,
			})
			if err != nil {
				return fmt.Errorf("failed to accept proposal: %w", err)
			}
			printRule(res.Rule)
			return reapplyAfterEdit(cmd, a)
		},
	}
	cmd.Flags().String("leaf", "", "Target taxonomy leaf")
	cmd.Flags().String("keyword", "", "Keyword to use (default: the signature)")
	cmd.Flags().String("name", "", "Rule name")
	cmd.Flags().Int("priority", rules.DefaultSeedPriority, "Priority, lower wins")
	cmd.Flags().Bool("strict", false, "Strict rules win ties at equal priority")
	cmd.Flags().Bool("no-reapply", false, "Do not reapply rules after the change")
	_ = cmd.MarkFlagRequired("leaf")
	return cmd
}
