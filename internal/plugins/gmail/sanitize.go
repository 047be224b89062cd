package gmail

import (
	"html"
	"regexp"
	"strings"
	"unicode"
)

// MaxQuoteDepth keeps one level of quoted context and drops deeper nesting;
// long reply chains otherwise dominate the embedding.
const MaxQuoteDepth = 1

var (
	scriptRe = regexp.MustCompile(`(?is)<(script|style|head)[^>]*>.*?</(script|style|head)>`)
	breakRe  = regexp.MustCompile(`(?i)<(br|/p|/div|/tr|/li|/h[1-6])[^>]*>`)
	tagRe    = regexp.MustCompile(`(?s)<[^>]*>`)
	blankRe  = regexp.MustCompile(`\n{3,}`)

	// "On Mon, Jan 2, 2006 at 3:04 PM Alice <a@b.c> wrote:" and the Hebrew
	// client equivalent both introduce a fully quoted reply.
	replyIntroRe = regexp.MustCompile(`(?mi)^On .{5,100} wrote:\s*$|^בתאריך .{5,100} כתב/?ה?:?\s*$`)

	signatureMarkers = []string{
		"-- \n",
		"--\n",
		"Sent from my iPhone",
		"Sent from my Android",
		"Get Outlook for",
	}
)

// HTMLToText flattens an HTML body to plain text: block closers become
// newlines, tags drop, entities decode.
func HTMLToText(raw string) string {
	out := scriptRe.ReplaceAllString(raw, "")
	out = breakRe.ReplaceAllString(out, "\n")
	out = tagRe.ReplaceAllString(out, "")
	out = html.UnescapeString(out)

	lines := strings.Split(out, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	out = strings.Join(lines, "\n")
	out = blankRe.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}

// StripQuotedReplies removes reply-intro lines and quoted lines nested past
// MaxQuoteDepth.
func StripQuotedReplies(text string) string {
	var kept []string
	skipRest := false
	for _, line := range strings.Split(text, "\n") {
		if skipRest {
			continue
		}
		if replyIntroRe.MatchString(line) {
			skipRest = true
			continue
		}
		if quoteDepth(line) > MaxQuoteDepth {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

func quoteDepth(line string) int {
	depth := 0
	for _, r := range line {
		switch r {
		case '>':
			depth++
		case ' ', '\t':
		default:
			return depth
		}
	}
	return depth
}

// StripSignature cuts the body at the first signature marker.
func StripSignature(text string) string {
	cut := len(text)
	for _, marker := range signatureMarkers {
		if idx := strings.Index(text, marker); idx >= 0 && idx < cut {
			cut = idx
		}
	}
	return strings.TrimSpace(text[:cut])
}

// StripControl drops non-printing runes. Newlines and tabs stay; zero-width
// marks and stray control bytes from broken MIME parts go.
func StripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if !unicode.IsGraphic(r) {
			return -1
		}
		return r
	}, s)
}

// SanitizeBody turns a raw mail body into indexable text, preferring the
// plain part over HTML.
func SanitizeBody(plain, htmlBody string) string {
	text := plain
	if strings.TrimSpace(text) == "" {
		text = HTMLToText(htmlBody)
	}
	text = StripControl(text)
	text = StripQuotedReplies(text)
	return StripSignature(text)
}

var addressRe = regexp.MustCompile(`^\s*"?([^"<]*)"?\s*<([^>]+)>\s*$`)

// ParseAddress splits "Alice Cohen <alice@example.com>" into name and email.
// A bare address yields an empty name.
func ParseAddress(raw string) (name, email string) {
	if m := addressRe.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1]), strings.ToLower(strings.TrimSpace(m[2]))
	}
	raw = strings.TrimSpace(raw)
	if strings.Contains(raw, "@") {
		return "", strings.ToLower(raw)
	}
	return raw, ""
}
