package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/Veraticus/spice-rules/internal/cli"
	"github.com/Veraticus/spice-rules/internal/model"
	"github.com/Veraticus/spice-rules/internal/service"
)

var headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))

func newTable() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
}

func flushTable(w *tabwriter.Writer) {
	if err := w.Flush(); err != nil {
		slog.Error("failed to flush table writer", "error", err)
	}
}

func writeHeader(w *tabwriter.Writer, columns ...string) error {
	styled := make([]string, len(columns))
	rule := make([]string, len(columns))
	for i, c := range columns {
		styled[i] = headerStyle.Render(c)
		rule[i] = strings.Repeat("─", max(len(c), 4))
	}
	if _, err := fmt.Fprintln(w, strings.Join(styled, "\t")); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	if _, err := fmt.Fprintln(w, strings.Join(rule, "\t")); err != nil {
		return fmt.Errorf("failed to write separator: %w", err)
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}

func printTransactions(txns []model.Transaction) error {
	w := newTable()
	defer flushTable(w)

	if err := writeHeader(w, "ID", "Date", "Amount", "State", "Leaf", "Description"); err != nil {
		return err
	}
	for _, t := range txns {
		leaf := t.TargetLeaf
		if t.Classification == model.StateConflicted {
			leaves := make([]string, len(t.Candidates))
			for i, c := range t.Candidates {
				leaves[i] = c.TargetLeaf
			}
			leaf = strings.Join(leaves, " | ")
		}
		if t.ManualOverride {
			leaf += " (manual)"
		}
		if _, err := fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			t.ID,
			t.Date.Format("2006-01-02"),
			t.Amount.StringFixed(2),
			cli.FormatState(t.Result().State),
			leaf,
			t.NormalizedDescription); err != nil {
			return fmt.Errorf("failed to write transaction row: %w", err)
		}
	}
	return nil
}

func printRules(list []model.Rule) error {
	w := newTable()
	defer flushTable(w)

	if err := writeHeader(w, "ID", "Name", "Leaf", "Rank", "Active", "Positive", "Negative"); err != nil {
		return err
	}
	for _, r := range list {
		name := r.Name
		if r.IsSystem {
			name += " " + cli.SubtleStyle.Render("(system)")
		}
		if _, err := fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%t\t%s\t%s\n",
			r.ID,
			name,
			r.TargetLeaf,
			r.Rank(),
			r.Active,
			strings.Join(r.PositiveKeywords, ", "),
			strings.Join(r.NegativeKeywords, ", ")); err != nil {
			return fmt.Errorf("failed to write rule row: %w", err)
		}
	}
	return nil
}

func printRule(r *model.Rule) {
	content := fmt.Sprintf("Leaf: %s\nRank: %s\nActive: %t\nPositive: %s\nNegative: %s",
		r.TargetLeaf, r.Rank(), r.Active,
		strings.Join(r.PositiveKeywords, ", "),
		strings.Join(r.NegativeKeywords, ", "))
	fmt.Println(cli.RenderBox(fmt.Sprintf("Rule #%d %s", r.ID, r.Name), content)) //nolint:forbidigo // User-facing output
}

func printSummary(summary *service.ReapplySummary) {
	content := fmt.Sprintf("Classified: %d\nConflicted: %d\nOpened: %d\nUnchanged: %d\nSkipped (manual): %d\nFailed: %d\nDuration: %s",
		summary.Classified, summary.Conflicted, summary.Opened,
		summary.Unchanged, summary.Skipped, summary.Failed, summary.Duration.Round(time.Millisecond))
	fmt.Println(cli.RenderBox("Reapplication "+summary.RunID, content)) //nolint:forbidigo // User-facing output
	for _, f := range summary.Failures {
		fmt.Println(cli.FormatError(f.TransactionID + ": " + f.Error)) //nolint:forbidigo // User-facing output
	}
}
