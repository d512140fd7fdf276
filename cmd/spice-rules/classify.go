package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Veraticus/spice-rules/internal/cli"
	"github.com/Veraticus/spice-rules/internal/matcher"
	"github.com/Veraticus/spice-rules/internal/model"
)

func classifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "classify <description>",
		Short: "Classify a description against the active rules without storing anything",
		Long: `Run the matching engine on one description and print the result.

With --explain every active rule is listed with whether it matched, was vetoed by a
negative keyword, or missed.

Examples:
  spice-rules classify "REWE SAGT DANKE 4711"
  spice-rules classify --explain "UBER EATS BERLIN"`,
		Args: cobra.MinimumNArgs(1),
		RunE: runClassify,
	}

	cmd.Flags().Bool("explain", false, "Show every rule's verdict")
	cmd.Flags().Bool("json", false, "Print the result as JSON")

	return cmd
}

func runClassify(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	explain, _ := cmd.Flags().GetBool("explain")
	asJSON, _ := cmd.Flags().GetBool("json")

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	description := model.NormalizeText(strings.Join(args, " "))
	if description == "" {
		return fmt.Errorf("description is required")
	}

	m, err := a.orchestrator.Matcher(ctx)
	if err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}
	res := m.Classify(description)

	var verdicts []matcher.Verdict
	if explain {
		verdicts = m.Explain(description)
	}

	if asJSON {
		return printJSON(struct {
			Result      model.ClassificationResult `json:"result"`
			Description string                     `json:"description"`
			Verdicts    []matcher.Verdict          `json:"verdicts,omitempty"`
		}{Description: description, Result: res, Verdicts: verdicts})
	}

	fmt.Println(cli.FormatTitle(description)) //nolint:forbidigo // User-facing output
	switch res.State {
	case model.StateClassified:
		fmt.Println(cli.FormatSuccess(fmt.Sprintf("%s via %q (confidence %.2f)", res.TargetLeaf, res.MatchedKeyword, res.Confidence))) //nolint:forbidigo // User-facing output
	case model.StateConflicted:
		fmt.Println(cli.FormatWarning("Conflict between equally ranked rules:")) //nolint:forbidigo // User-facing output
		for _, c := range res.Candidates {
			fmt.Println("  " + cli.FormatCandidate(c)) //nolint:forbidigo // User-facing output
		}
	default:
		fmt.Println(cli.FormatInfo("No rule matches")) //nolint:forbidigo // User-facing output
	}

	if !explain {
		return nil
	}

	fmt.Println() //nolint:forbidigo // User-facing output
	w := newTable()
	defer flushTable(w)
	if err := writeHeader(w, "Rule", "Leaf", "Rank", "Verdict", "Keyword"); err != nil {
		return err
	}
	for _, v := range verdicts {
		keyword := v.MatchedKeyword
		if v.VetoKeyword != "" {
			keyword = "-" + v.VetoKeyword
		}
		if _, err := fmt.Fprintf(w, "#%d %s\t%s\t%s\t%s\t%s\n",
			v.RuleID, v.RuleName, v.TargetLeaf, v.Rank, v.Outcome, keyword); err != nil {
			return fmt.Errorf("failed to write verdict row: %w", err)
		}
	}
	return nil
}
