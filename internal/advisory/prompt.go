package advisory

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Veraticus/spice-rules/internal/model"
)

const systemPrompt = "You refine keyword rules for a personal finance categorizer. " +
	"You MUST respond with ONLY a valid JSON object. Do not include explanatory text or markdown before or after the JSON."

// promptCandidate is the shape each conflicting rule takes inside the prompt.
type promptCandidate struct {
	Category         string   `json:"category"`
	PositiveKeywords []string `json:"positiveKeywords"`
	NegativeKeywords []string `json:"negativeKeywords"`
	RuleID           int64    `json:"ruleId"`
	Priority         int      `json:"priority"`
	Strict           bool     `json:"strict"`
}

// buildPrompt renders a conflicted transaction and its candidate rules.
func buildPrompt(req model.AdvisoryRequest) (string, error) {
	candidates := make([]promptCandidate, 0, len(req.Candidates))
	for _, c := range req.Candidates {
		category := c.CategoryPath
		if category == "" {
			category = c.TargetLeaf
		}
		candidates = append(candidates, promptCandidate{
			RuleID:           c.RuleID,
			Category:         category,
			PositiveKeywords: nonNil(c.PositiveKeywords.Strings()),
			NegativeKeywords: nonNil(c.NegativeKeywords.Strings()),
			Priority:         c.Priority,
			Strict:           c.Strict,
		})
	}

	encoded, err := json.MarshalIndent(candidates, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode candidates: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("A bank transaction matched more than one categorization rule with equal precedence.\n\n")
	fmt.Fprintf(&sb, "Transaction description: %q\n\n", req.Description)
	sb.WriteString("Matching rules (a rule matches when any positive keyword is a substring of the description and no negative keyword is):\n")
	sb.Write(encoded)
	sb.WriteString("\n\n")
	sb.WriteString(`Suggest keyword additions so that exactly one rule matches this description.
Rules:
- Only reference the ruleId values listed above.
- You may only ADD keywords. Existing keywords cannot be removed.
- Prefer adding a negative keyword to the rules that should not match.
- Keep keywords short, lowercase, and specific to this merchant so other transactions are unaffected.

Respond with this exact JSON structure:
{
  "rationale": "one or two sentences explaining which category is correct and why",
  "suggestions": [
    {"ruleId": 1, "addPositiveKeywords": [], "addNegativeKeywords": ["keyword"]}
  ]
}`)

	return sb.String(), nil
}

// fingerprint identifies a conflict by its description and the exact candidate rule state.
func fingerprint(req model.AdvisoryRequest) string {
	h := sha256.New()
	_, _ = h.Write([]byte(model.NormalizeText(req.Description)))
	for _, c := range req.Candidates {
		fmt.Fprintf(h, "\x00%d|%s|%d|%t|%s|%s",
			c.RuleID, c.TargetLeaf, c.Priority, c.Strict,
			strings.Join(c.PositiveKeywords.Strings(), ";"),
			strings.Join(c.NegativeKeywords.Strings(), ";"))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// wireSuggestion is the JSON structure the model is asked to produce.
type wireSuggestion struct {
	Rationale   string `json:"rationale"`
	Suggestions []struct {
		AddPositiveKeywords []string `json:"addPositiveKeywords"`
		AddNegativeKeywords []string `json:"addNegativeKeywords"`
		RuleID              int64    `json:"ruleId"`
	} `json:"suggestions"`
}

// parseSuggestion extracts an advisory suggestion from raw model output.
func parseSuggestion(content string) (model.AdvisorySuggestion, error) {
	content = extractJSONObject(cleanMarkdownWrapper(content))

	var wire wireSuggestion
	if err := json.Unmarshal([]byte(content), &wire); err != nil {
		return model.AdvisorySuggestion{}, fmt.Errorf("failed to parse JSON response: %w", err)
	}
	if len(wire.Suggestions) == 0 {
		return model.AdvisorySuggestion{}, fmt.Errorf("no suggestions found in response")
	}

	out := model.AdvisorySuggestion{
		Rationale:   strings.TrimSpace(wire.Rationale),
		Suggestions: make([]model.RuleSuggestion, 0, len(wire.Suggestions)),
	}
	for _, s := range wire.Suggestions {
		out.Suggestions = append(out.Suggestions, model.RuleSuggestion{
			RuleID:              s.RuleID,
			AddPositiveKeywords: s.AddPositiveKeywords,
			AddNegativeKeywords: s.AddNegativeKeywords,
		})
	}
	return out, nil
}

// cleanMarkdownWrapper strips a ```json fence around a response.
func cleanMarkdownWrapper(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	content = strings.TrimPrefix(content, "```")
	if nl := strings.IndexByte(content, '\n'); nl >= 0 {
		content = content[nl+1:]
	}
	content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	return strings.TrimSpace(content)
}

// extractJSONObject trims prose around the outermost JSON object, if any.
func extractJSONObject(content string) string {
	start := strings.IndexByte(content, '{')
	end := strings.LastIndexByte(content, '}')
	if start < 0 || end < start {
		return content
	}
	return content[start : end+1]
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
