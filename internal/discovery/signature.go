package discovery

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/Veraticus/spice-rules/internal/model"
)

// MinKeywordLength is the shortest token considered as a suggested keyword.
const MinKeywordLength = 3

var stopwords = map[string]bool{
	"and": true, "the": true, "for": true, "von": true, "und": true,
	"der": true, "die": true, "das": true, "gmbh": true, "inc": true,
	"llc": true, "ltd": true, "pos": true, "card": true, "debit": true,
	"credit": true, "payment": true, "purchase": true, "sepa": true,
	"lastschrift": true, "ref": true,
}

// Signature reduces a description to the text shared by recurring charges: normalized,
// with numeric noise tokens (dates, reference numbers, amounts) removed and optionally
// truncated to length runes.
func Signature(description string, length int) string {
	fields := strings.Fields(model.NormalizeText(description))
	kept := fields[:0]
	for _, f := range fields {
		if !isNumericNoise(f) {
			kept = append(kept, f)
		}
	}

	sig := strings.Join(kept, " ")
	if length > 0 && utf8.RuneCountInString(sig) > length {
		sig = strings.TrimSpace(string([]rune(sig)[:length]))
	}
	return sig
}

// isNumericNoise reports whether a token is mostly digits, like "03/14", "#4711" or "ref8823a1".
func isNumericNoise(token string) bool {
	var digits, letters int
	for _, r := range token {
		switch {
		case unicode.IsDigit(r):
			digits++
		case unicode.IsLetter(r):
			letters++
		}
	}
	if digits == 0 {
		return false
	}
	return digits >= letters
}

// keywordTokens returns the tokens of a signature eligible as a suggested keyword.
func keywordTokens(signature string) []string {
	var tokens []string
	seen := make(map[string]bool)
	for _, t := range strings.Fields(signature) {
		if seen[t] || utf8.RuneCountInString(t) < MinKeywordLength || stopwords[t] || isAllDigits(t) {
			continue
		}
		seen[t] = true
		tokens = append(tokens, t)
	}
	return tokens
}

func isAllDigits(token string) bool {
	for _, r := range token {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// suggestKeyword picks the signature token found in the fewest distinct signatures.
// Ties go to the longer token, then the lexically smaller one. Signatures without an
// eligible token suggest themselves.
func suggestKeyword(signature string, frequency map[string]int) string {
	best := ""
	for _, t := range keywordTokens(signature) {
		if best == "" || betterKeyword(t, best, frequency) {
			best = t
		}
	}
	if best == "" {
		return signature
	}
	return best
}

func betterKeyword(a, b string, frequency map[string]int) bool {
	if frequency[a] != frequency[b] {
		return frequency[a] < frequency[b]
	}
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	if la != lb {
		return la > lb
	}
	return a < b
}
