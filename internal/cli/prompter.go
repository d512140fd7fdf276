package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Veraticus/spice-rules/internal/model"
)

// Action is what the user chose to do with a conflicted transaction.
type Action string

// Prompt actions.
const (
	ActionResolve Action = "resolve"
	ActionAdvise  Action = "advise"
	ActionSkip    Action = "skip"
	ActionQuit    Action = "quit"
)

// Decision is the answer to one conflict prompt. Leaf is set for ActionResolve.
type Decision struct {
	Action Action
	Leaf   string
}

// SessionStats summarizes an interactive conflict review.
type SessionStats struct {
	Duration time.Duration
	Reviewed int
	Resolved int
	Advised  int
	Skipped  int
}

// Prompter walks the user through CONFLICTED transactions one at a time.
type Prompter struct {
	startTime time.Time
	writer    io.Writer
	reader    *LineReader
	stats     SessionStats
	total     int
	position  int
	advisory  bool
	mu        sync.Mutex
}

// NewPrompter creates a prompter. advisory enables the "ask the advisor" option.
func NewPrompter(reader io.Reader, writer io.Writer, advisory bool) *Prompter {
	if reader == nil {
		reader = os.Stdin
	}
	if writer == nil {
		writer = os.Stdout
	}
	return &Prompter{
		reader:    NewLineReader(reader),
		writer:    writer,
		advisory:  advisory,
		startTime: time.Now(),
	}
}

// SetTotal sets how many conflicts the session will show.
func (p *Prompter) SetTotal(total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.total = total
}

// ChooseResolution shows a conflict and asks which candidate leaf wins.
func (p *Prompter) ChooseResolution(ctx context.Context, txn model.Transaction) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}

	p.mu.Lock()
	p.position++
	header := fmt.Sprintf("Conflict %d of %d", p.position, p.total)
	p.mu.Unlock()

	if _, err := fmt.Fprintln(p.writer, RenderBox(ConflictIcon+" "+header, formatConflict(txn))); err != nil {
		return Decision{}, fmt.Errorf("failed to write conflict box: %w", err)
	}

	options := []string{"  [1-" + strconv.Itoa(len(txn.Candidates)) + "] Classify as that leaf (manual override)"}
	choices := make([]string, 0, len(txn.Candidates)+3)
	for i := range txn.Candidates {
		choices = append(choices, strconv.Itoa(i+1))
	}
	if p.advisory {
		options = append(options, "  [A] Ask the advisor for keyword refinements")
		choices = append(choices, "a")
	}
	options = append(options, "  [S] Skip this transaction", "  [Q] Quit")
	choices = append(choices, "s", "q")

	if _, err := fmt.Fprintln(p.writer, FormatPrompt("Options:")+"\n"+strings.Join(options, "\n")+"\n"); err != nil {
		return Decision{}, fmt.Errorf("failed to write options: %w", err)
	}

	choice, err := p.promptChoice(ctx, "Choice", choices)
	if err != nil {
		return Decision{}, err
	}

	switch choice {
	case "a":
		return Decision{Action: ActionAdvise}, nil
	case "s":
		return Decision{Action: ActionSkip}, nil
	case "q":
		return Decision{Action: ActionQuit}, nil
	}
	n, _ := strconv.Atoi(choice)
	return Decision{Action: ActionResolve, Leaf: txn.Candidates[n-1].TargetLeaf}, nil
}

// ConfirmSuggestion shows an advisory suggestion with its projected effect and asks
// whether to apply it.
func (p *Prompter) ConfirmSuggestion(ctx context.Context, suggestion model.AdvisorySuggestion, resolves bool, affected int) (bool, error) {
	content := FormatSuggestion(suggestion) + "\n\n"
	if resolves {
		content += FormatSuccess("Resolves this conflict")
	} else {
		content += FormatWarning("Does not resolve this conflict")
	}
	if affected > 0 {
		content += "\n" + FormatInfo(fmt.Sprintf("Reclassifies %d other transaction(s)", affected))
	}
	if _, err := fmt.Fprintln(p.writer, RenderBox(RobotIcon+" Advisory suggestion", content)); err != nil {
		return false, fmt.Errorf("failed to write suggestion box: %w", err)
	}

	choice, err := p.promptChoice(ctx, "Apply? [y/n]", []string{"y", "n"})
	if err != nil {
		return false, err
	}
	return choice == "y", nil
}

// Record counts the final action taken for one transaction.
func (p *Prompter) Record(action Action) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch action {
	case ActionResolve:
		p.stats.Resolved++
	case ActionAdvise:
		p.stats.Advised++
	case ActionSkip:
		p.stats.Skipped++
	default:
		return
	}
	p.stats.Reviewed++
}

// Stats returns the session statistics so far.
func (p *Prompter) Stats() SessionStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	stats := p.stats
	stats.Duration = time.Since(p.startTime)
	return stats
}

// ShowCompletion displays the session summary.
func (p *Prompter) ShowCompletion() {
	stats := p.Stats()
	summary := fmt.Sprintf("  • Reviewed: %d\n", stats.Reviewed) +
		fmt.Sprintf("  • Resolved manually: %d\n", stats.Resolved) +
		fmt.Sprintf("  • Refined by advisor: %d\n", stats.Advised) +
		fmt.Sprintf("  • Skipped: %d\n", stats.Skipped) +
		fmt.Sprintf("  • Time taken: %s", stats.Duration.Round(time.Second))

	if _, err := fmt.Fprintln(p.writer, RenderBox(SpiceIcon+" Review complete", summary)); err != nil {
		slog.Warn("Failed to write completion box", "error", err)
	}
}

func (p *Prompter) promptChoice(ctx context.Context, prompt string, validChoices []string) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		if _, err := fmt.Fprintf(p.writer, "%s: ", FormatPrompt(prompt)); err != nil {
			return "", fmt.Errorf("failed to write prompt: %w", err)
		}

		input, err := p.reader.ReadLine(ctx)
		if err != nil {
			return "", err
		}

		choice := strings.ToLower(input)
		for _, valid := range validChoices {
			if choice == valid {
				return choice, nil
			}
		}

		if _, err := fmt.Fprintln(p.writer, FormatError("Invalid choice. Please try again.")); err != nil {
			slog.Warn("Failed to write error message", "error", err)
		}
	}
}

func formatConflict(txn model.Transaction) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s Details:\n", InfoIcon)
	fmt.Fprintf(&b, "  ID: %s\n", txn.ID)
	fmt.Fprintf(&b, "  Date: %s\n", txn.Date.Format("Jan 2, 2006"))
	fmt.Fprintf(&b, "  Amount: %s\n", txn.Amount.StringFixed(2))
	fmt.Fprintf(&b, "  Description: %s\n\n", BoldStyle.Render(txn.NormalizedDescription))
	b.WriteString("Competing rules:\n")
	for i, c := range txn.Candidates {
		fmt.Fprintf(&b, "  [%d] %s\n", i+1, FormatCandidate(c))
	}
	return strings.TrimRight(b.String(), "\n")
}
