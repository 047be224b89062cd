package retrieval

import (
	"strings"
	"unicode"
)

// Morphological expansion for Hebrew query tokens. Deliberately
// pattern-based; there is no Hebrew NLP runtime behind this, only prefix and
// suffix stripping that matches how the fulltext index tokenizes.

var hebrewPrefixes = []rune{'ה', 'ב', 'ל', 'מ', 'ש', 'כ', 'ו'}

var verbSuffixes = []string{"תי", "נו", "תם", "תן", "ת", "ה"}

var hitpaelSuffixes = []string{"תי", "נו", "תם", "תן", "ת", "ה", "ו", "י"}

var nounSuffixes = []string{"ושין", "ושים", "ין", "ים", "ות", "ה"}

func isHebrewRune(r rune) bool { return r >= 0x0590 && r <= 0x05FF }

func containsHebrew(s string) bool {
	for _, r := range s {
		if isHebrewRune(r) {
			return true
		}
	}
	return false
}

// TokenizeQuery splits a query into search tokens: unicode words of length
// >= 3, de-duplicated case-insensitively, order preserved.
func TokenizeQuery(query string) []string {
	var tokens []string
	seen := make(map[string]bool)
	var current []rune
	flush := func() {
		if len(current) >= 3 {
			tok := string(current)
			key := strings.ToLower(tok)
			if !seen[key] {
				seen[key] = true
				tokens = append(tokens, tok)
			}
		}
		current = current[:0]
	}
	for _, r := range query {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			current = append(current, r)
		} else {
			flush()
		}
	}
	flush()
	return tokens
}

// ExpandHebrewToken generates morphological variants of a Hebrew token so
// that an inflected query form still hits the lexical index. The original
// token is always first. Non-Hebrew tokens pass through unchanged.
func ExpandHebrewToken(token string) []string {
	if !containsHebrew(token) {
		return []string{token}
	}

	variants := []string{token}
	seen := map[string]bool{strings.ToLower(token): true}
	add := func(v string) {
		if len([]rune(v)) < 2 {
			return
		}
		key := strings.ToLower(v)
		if !seen[key] {
			seen[key] = true
			variants = append(variants, v)
		}
	}

	runes := []rune(token)

	// Strip up to two attached prefix letters while the remainder stays a
	// plausible word.
	stems := []string{token}
	stripped := runes
	for i := 0; i < 2; i++ {
		if len(stripped) <= 3 || !isPrefixLetter(stripped[0]) {
			break
		}
		stripped = stripped[1:]
		add(string(stripped))
		stems = append(stems, string(stripped))
	}

	// Hitpael: strip the הת prefix, then a verb suffix, to reach the root.
	// Checked against every stem since the pattern may sit behind an
	// attached ש or ו.
	for _, stem := range stems {
		if !strings.HasPrefix(stem, "הת") || len([]rune(stem)) < 5 {
			continue
		}
		withoutHitpael := string([]rune(stem)[2:])
		add(withoutHitpael)
		for _, suffix := range hitpaelSuffixes {
			if strings.HasSuffix(withoutHitpael, suffix) {
				add(strings.TrimSuffix(withoutHitpael, suffix))
			}
		}
	}

	// Noun suffixes on the original token cover Piel/Pual nominal forms
	// with a י or ו infix.
	for _, suffix := range nounSuffixes {
		if strings.HasSuffix(token, suffix) {
			add(strings.TrimSuffix(token, suffix))
		}
	}

	// Plain verb suffixes on the original.
	for _, suffix := range verbSuffixes {
		if strings.HasSuffix(token, suffix) {
			add(strings.TrimSuffix(token, suffix))
		}
	}

	return variants
}

// ExpandTokens applies Hebrew expansion across a token list, preserving
// order and de-duplicating case-insensitively.
func ExpandTokens(tokens []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, tok := range tokens {
		for _, variant := range ExpandHebrewToken(tok) {
			key := strings.ToLower(variant)
			if !seen[key] {
				seen[key] = true
				out = append(out, variant)
			}
		}
	}
	return out
}

func isPrefixLetter(r rune) bool {
	for _, p := range hebrewPrefixes {
		if r == p {
			return true
		}
	}
	return false
}
