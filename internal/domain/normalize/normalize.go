// Package normalize canonicalizes vendor and description strings so that the
// same business recorded two different ways ("Shell Canada Products Ltd." on a
// bank statement, "SHELL GAS" on a receipt) compares equal enough to match.
//
// Every function in this package is pure and total: any input, including the
// empty string, yields a defined result and never panics.
package normalize

import (
	"strings"
	"unicode"
)

// corporateSuffixes are legal-entity suffixes that carry no matching signal.
// Stripped only when they appear as a trailing token.
var corporateSuffixes = map[string]bool{
	"ltd":     true,
	"inc":     true,
	"corp":    true,
	"llc":     true,
	"limited": true,
	"company": true,
	"co":      true,
}

// minTokenLen filters out short noise tokens ("the", "gas", "of") that
// produce spurious vendor overlap.
const minTokenLen = 4

// Normalizer canonicalizes labels using an optional alias table mapping a
// normalized prefix to a canonical vendor name.
type Normalizer struct {
	aliases []aliasRule
}

type aliasRule struct {
	prefix    string
	canonical string
}

// New creates a Normalizer. Alias keys are themselves normalized, so config
// entries may be written in any case or punctuation style.
func New(aliases map[string]string) *Normalizer {
	n := &Normalizer{}
	for prefix, canonical := range aliases {
		p := basicNormalize(prefix)
		if p == "" {
			continue
		}
		n.aliases = append(n.aliases, aliasRule{prefix: p, canonical: basicNormalize(canonical)})
	}
	// Longest prefix wins when rules overlap ("scotia visa" before "scotia").
	sortRulesByPrefixLen(n.aliases)
	return n
}

func sortRulesByPrefixLen(rules []aliasRule) {
	for i := 1; i < len(rules); i++ {
		for j := i; j > 0 && len(rules[j].prefix) > len(rules[j-1].prefix); j-- {
			rules[j], rules[j-1] = rules[j-1], rules[j]
		}
	}
}

// Label returns the canonical form of a vendor or description string:
// lowercased, punctuation stripped, whitespace collapsed, trailing corporate
// suffixes removed, alias table applied.
func (n *Normalizer) Label(text string) string {
	s := basicNormalize(text)
	if s == "" {
		return ""
	}

	s = stripSuffixes(s)

	for _, rule := range n.aliases {
		if s == rule.prefix || strings.HasPrefix(s, rule.prefix+" ") {
			return rule.canonical
		}
	}

	return s
}

// Tokens returns the set of lowercase alphanumeric tokens of length >= 4 in
// text, after the same canonicalization as Label. Used for vendor overlap
// scoring.
func (n *Normalizer) Tokens(text string) map[string]bool {
	tokens := make(map[string]bool)
	for _, tok := range strings.Fields(n.Label(text)) {
		if len(tok) >= minTokenLen {
			tokens[tok] = true
		}
	}
	return tokens
}

// basicNormalize lowercases, replaces punctuation with spaces, and collapses
// internal whitespace.
func basicNormalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	lastSpace := true
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastSpace = false
			continue
		}
		// Punctuation and whitespace both become a single separator.
		if !lastSpace {
			b.WriteByte(' ')
			lastSpace = true
		}
	}

	return strings.TrimSpace(b.String())
}

// stripSuffixes removes trailing corporate suffix tokens. Repeats so that
// "acme holdings co ltd" reduces to "acme holdings".
func stripSuffixes(s string) string {
	for {
		idx := strings.LastIndexByte(s, ' ')
		if idx < 0 {
			return s
		}
		if !corporateSuffixes[s[idx+1:]] {
			return s
		}
		s = s[:idx]
	}
}
