package identity

import (
	"strings"
	"unicode"

	"github.com/lifelogd/lifelog-backend/internal/types"
)

// DetectScript classifies a name by the scripts of its letters. Hebrew is
// the U+0590..U+05FF block.
func DetectScript(s string) types.Script {
	hasHebrew := false
	hasLatin := false
	hasLetter := false
	hasDigit := false
	for _, r := range s {
		switch {
		case r >= 0x0590 && r <= 0x05FF:
			hasHebrew = true
			hasLetter = true
		case (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z'):
			hasLatin = true
			hasLetter = true
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	switch {
	case hasHebrew && hasLatin:
		return types.ScriptMixed
	case hasHebrew:
		return types.ScriptHebrew
	case hasLatin:
		return types.ScriptLatin
	case !hasLetter && hasDigit:
		return types.ScriptNumeric
	default:
		return types.ScriptUnknown
	}
}

var phoneStripper = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", "\t", "")

// NormalizePhone strips formatting and the leading + or 0 so that
// "+972 50-123-4567", "0501234567" and "972501234567" compare equal.
func NormalizePhone(phone string) string {
	p := phoneStripper.Replace(strings.TrimSpace(phone))
	p = strings.TrimPrefix(p, "+")
	p = strings.TrimLeft(p, "0")
	return p
}

// linked-id suffix some chat platforms attach to non-phone identifiers
const lidSuffix = "@lid"

// IsLinkedIDImpostor reports whether phone is just the digits of a linked
// identifier, which is not a dialable number.
func IsLinkedIDImpostor(whatsappID, phone string) bool {
	if whatsappID == "" || phone == "" {
		return false
	}
	if !strings.HasSuffix(whatsappID, lidSuffix) {
		return false
	}
	digits := strings.TrimSuffix(whatsappID, lidSuffix)
	return NormalizePhone(phone) == NormalizePhone(digits)
}

// IsValidName is the garbage filter for canonical names. Rejects pure
// punctuation, pure digits, single characters, names wrapped in parens,
// pure emoji and star-prefixed short codes. A valid name contains at least
// one letter.
func IsValidName(name string) bool {
	n := strings.TrimSpace(name)
	if n == "" {
		return false
	}
	if len([]rune(n)) <= 1 {
		return false
	}
	if strings.HasPrefix(n, "(") && strings.HasSuffix(n, ")") {
		return false
	}
	if strings.HasPrefix(n, "*") && len([]rune(n)) <= 6 {
		return false
	}
	hasLetter := false
	allDigits := true
	for _, r := range n {
		if unicode.IsLetter(r) {
			hasLetter = true
		}
		if !unicode.IsDigit(r) && !unicode.IsSpace(r) && r != '+' && r != '-' {
			allDigits = false
		}
	}
	if allDigits {
		return false
	}
	return hasLetter
}

// nameTokens splits on whitespace, dropping empties.
func nameTokens(name string) []string {
	return strings.Fields(name)
}

// firstToken returns the first whitespace token of a name, empty when the
// name has none.
func firstToken(name string) string {
	tokens := nameTokens(name)
	if len(tokens) == 0 {
		return ""
	}
	return tokens[0]
}
