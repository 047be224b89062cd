package identity

import (
	"github.com/lifelogd/lifelog-backend/internal/types"
)

// SynthesizeDisplayName builds the bilingual "<latin> / <hebrew>" form when
// the person's names span both scripts. A mixed-script canonical name is
// already bilingual and is kept as is. Returns "" when no synthesis applies.
func SynthesizeDisplayName(canonicalName string, aliases []*types.PersonAlias) string {
	if DetectScript(canonicalName) == types.ScriptMixed {
		return canonicalName
	}

	longestHebrew := ""
	longestLatin := ""
	consider := func(text string) {
		switch DetectScript(text) {
		case types.ScriptHebrew:
			if len([]rune(text)) > len([]rune(longestHebrew)) {
				longestHebrew = text
			}
		case types.ScriptLatin:
			if len([]rune(text)) > len([]rune(longestLatin)) {
				longestLatin = text
			}
		}
	}
	consider(canonicalName)
	for _, a := range aliases {
		if a.Script == types.ScriptNumeric {
			continue
		}
		consider(a.Alias)
	}

	if longestHebrew == "" || longestLatin == "" {
		return ""
	}
	return longestLatin + " / " + longestHebrew
}
