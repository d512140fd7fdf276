// Package cli provides styled terminal output and interactive prompts for the rules CLI.
package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/Veraticus/spice-rules/internal/model"
)

var (
	// PrimaryColor is the main theme color.
	PrimaryColor = lipgloss.Color("#FF6B6B")
	// SuccessColor indicates successful operations and CLASSIFIED rows.
	SuccessColor = lipgloss.Color("#4ECDC4")
	// WarningColor indicates warnings and CONFLICTED rows.
	WarningColor = lipgloss.Color("#FFE66D")
	// ErrorColor indicates errors.
	ErrorColor = lipgloss.Color("#FF6B6B")
	// InfoColor indicates informational messages.
	InfoColor = lipgloss.Color("#95E1D3")
	// SubtleColor indicates less prominent UI elements and OPEN rows.
	SubtleColor = lipgloss.Color("#666666")

	// TitleStyle is used for section titles.
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(PrimaryColor).
			MarginBottom(1)

	// SuccessStyle formats success messages.
	SuccessStyle = lipgloss.NewStyle().Foreground(SuccessColor)

	// WarningStyle formats warning messages.
	WarningStyle = lipgloss.NewStyle().Foreground(WarningColor)

	// ErrorStyle formats error messages.
	ErrorStyle = lipgloss.NewStyle().Foreground(ErrorColor)

	// InfoStyle formats informational messages.
	InfoStyle = lipgloss.NewStyle().Foreground(InfoColor)

	// SubtleStyle formats less prominent text.
	SubtleStyle = lipgloss.NewStyle().Foreground(SubtleColor)

	// BoldStyle makes text bold.
	BoldStyle = lipgloss.NewStyle().Bold(true)

	// BoxStyle is used for bordered content boxes.
	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#333")).
			Padding(1, 2)

	// PromptStyle is used for user prompts.
	PromptStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(PrimaryColor)
)

// Icons.
const (
	SuccessIcon  = "✓"
	ErrorIcon    = "✗"
	WarningIcon  = "⚠️"
	InfoIcon     = "ℹ️"
	SpiceIcon    = "🌶️"
	RobotIcon    = "🤖"
	ConflictIcon = "⚔️"
)

// FormatSuccess formats a success message with icon.
func FormatSuccess(message string) string {
	return SuccessStyle.Render(SuccessIcon + " " + message)
}

// FormatError formats an error message with icon.
func FormatError(message string) string {
	return ErrorStyle.Render(ErrorIcon + " " + message)
}

// FormatWarning formats a warning message with icon.
func FormatWarning(message string) string {
	return WarningStyle.Render(WarningIcon + " " + message)
}

// FormatInfo formats an info message with icon.
func FormatInfo(message string) string {
	return InfoStyle.Render(InfoIcon + " " + message)
}

// FormatTitle formats a title with the spice icon.
func FormatTitle(title string) string {
	return TitleStyle.Render(SpiceIcon + " " + title)
}

// FormatPrompt formats a prompt message.
func FormatPrompt(prompt string) string {
	return PromptStyle.Render(prompt + " → ")
}

// FormatState renders a classification state in its color.
func FormatState(state model.ClassificationState) string {
	switch state {
	case model.StateClassified:
		return SuccessStyle.Render(string(state))
	case model.StateConflicted:
		return WarningStyle.Render(string(state))
	default:
		return SubtleStyle.Render(string(state))
	}
}

// FormatCandidate renders one competing rule, e.g. "groceries  rule #3 p100/flexible via \"rewe\"".
func FormatCandidate(c model.Candidate) string {
	return fmt.Sprintf("%s  %s %s via %q",
		BoldStyle.Render(c.TargetLeaf),
		SubtleStyle.Render(fmt.Sprintf("rule #%d", c.RuleID)),
		c.Rank(),
		c.MatchedKeyword)
}

// FormatSuggestion renders the keyword changes of an advisory suggestion, one line per rule.
func FormatSuggestion(s model.AdvisorySuggestion) string {
	var b strings.Builder
	if s.Rationale != "" {
		b.WriteString(InfoStyle.Render(RobotIcon+" "+s.Rationale) + "\n")
	}
	for _, rs := range s.Suggestions {
		fmt.Fprintf(&b, "  rule #%d", rs.RuleID)
		if len(rs.AddPositiveKeywords) > 0 {
			fmt.Fprintf(&b, "  %s", SuccessStyle.Render("+"+strings.Join(rs.AddPositiveKeywords, ", +")))
		}
		if len(rs.AddNegativeKeywords) > 0 {
			fmt.Fprintf(&b, "  %s", ErrorStyle.Render("-"+strings.Join(rs.AddNegativeKeywords, ", -")))
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// RenderBox renders content in a styled box.
func RenderBox(title, content string) string {
	boxTitle := TitleStyle.
		UnsetMargins().
		Render(title)

	boxContent := lipgloss.JoinVertical(
		lipgloss.Left,
		boxTitle,
		content,
	)

	return BoxStyle.Render(boxContent)
}
