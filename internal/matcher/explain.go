package matcher

import "github.com/Veraticus/spice-rules/internal/model"

// Outcome is the per-rule verdict of an explanation.
type Outcome string

// Explanation outcomes.
const (
	OutcomeMatched Outcome = "matched"
	OutcomeVetoed  Outcome = "vetoed"
	OutcomeNoMatch Outcome = "no_match"
)

// Verdict explains how one rule reacted to a description.
type Verdict struct {
	RuleName       string          `json:"rule_name"`
	TargetLeaf     string          `json:"target_leaf"`
	Outcome        Outcome         `json:"outcome"`
	MatchedKeyword string          `json:"matched_keyword,omitempty"`
	VetoKeyword    string          `json:"veto_keyword,omitempty"`
	Rank           model.MatchRank `json:"rank"`
	RuleID         int64           `json:"rule_id"`
}

// Explain returns a verdict for every active rule, in evaluation order.
func (m *Matcher) Explain(description string) []Verdict {
	text := model.NormalizeText(description)

	verdicts := make([]Verdict, 0, len(m.rules))
	for _, rule := range m.rules {
		v := Verdict{
			RuleID:     rule.ID,
			RuleName:   rule.Name,
			TargetLeaf: rule.TargetLeaf,
			Rank:       rule.Rank(),
			Outcome:    OutcomeNoMatch,
		}
		if keyword, ok := rule.PositiveKeywords.FirstIn(text); ok {
			v.MatchedKeyword = keyword
			v.Outcome = OutcomeMatched
			if veto, vetoed := rule.NegativeKeywords.FirstIn(text); vetoed {
				v.VetoKeyword = veto
				v.Outcome = OutcomeVetoed
			}
		}
		verdicts = append(verdicts, v)
	}
	return verdicts
}
