package retrieval

import (
	"strings"
	"testing"
)

func TestTokenizeQuery(t *testing.T) {
	got := TokenizeQuery("What is Kobi's last name? Kobi again")
	want := []string{"What", "Kobi", "last", "name", "again"}
	if len(got) != len(want) {
		t.Fatalf("tokens = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestTokenizeQueryDropsShortWords(t *testing.T) {
	got := TokenizeQuery("go is ok but retrieval works")
	for _, tok := range got {
		if len([]rune(tok)) < 3 {
			t.Errorf("short token %q survived", tok)
		}
	}
}

func TestExpandHebrewTokenDivorce(t *testing.T) {
	got := ExpandHebrewToken("שהתגרשתי")
	for _, want := range []string{"התגרשתי", "תגרשתי", "גרש"} {
		if !containsToken(got, want) {
			t.Errorf("expansion of שהתגרשתי missing %q, got %v", want, got)
		}
	}
	if got[0] != "שהתגרשתי" {
		t.Errorf("original token must come first, got %q", got[0])
	}
}

func TestExpandHebrewTokenNounSuffix(t *testing.T) {
	got := ExpandHebrewToken("גירושין")
	if !containsToken(got, "גיר") {
		t.Errorf("noun suffix ושין not stripped: %v", got)
	}
}

func TestExpandHebrewTokenLatinPassthrough(t *testing.T) {
	got := ExpandHebrewToken("meeting")
	if len(got) != 1 || got[0] != "meeting" {
		t.Errorf("latin token should pass through unchanged, got %v", got)
	}
}

func TestExpandTokensDedup(t *testing.T) {
	got := ExpandTokens([]string{"שירן", "שירן"})
	seen := make(map[string]bool)
	for _, tok := range got {
		key := strings.ToLower(tok)
		if seen[key] {
			t.Errorf("duplicate variant %q", tok)
		}
		seen[key] = true
	}
}

func containsToken(tokens []string, want string) bool {
	for _, tok := range tokens {
		if tok == want {
			return true
		}
	}
	return false
}
