package retrieval

import "strings"

const (
	// DefaultMaxChunkChars keeps chunks well under embedding token limits
	// even for base64-heavy content.
	DefaultMaxChunkChars = 6000
	DefaultChunkOverlap  = 200
	// MinContentChars is the quality floor: shorter chunks carry no
	// retrievable signal.
	MinContentChars = 10
)

// SplitText splits t into chunks of at most maxChars, preferring a paragraph
// boundary inside the window, then a sentence boundary, then a hard cut.
// Overlap is applied only on hard cuts. Chunks below MinContentChars are
// dropped.
func SplitText(t string, maxChars, overlap int) []string {
	if maxChars <= 0 {
		maxChars = DefaultMaxChunkChars
	}
	if overlap < 0 || overlap >= maxChars {
		overlap = DefaultChunkOverlap
	}

	runes := []rune(t)
	if len(runes) <= maxChars {
		if qualityOK(t) {
			return []string{t}
		}
		return nil
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + maxChars
		if end >= len(runes) {
			appendChunk(&chunks, string(runes[start:]))
			break
		}

		window := string(runes[start:end])
		cut, hard := boundaryCut(window)
		appendChunk(&chunks, string(runes[start:start+cut]))

		next := start + cut
		if hard {
			next -= overlap
		}
		if next <= start {
			next = start + cut
		}
		start = next
	}
	return chunks
}

// boundaryCut finds where to cut the window: paragraph break, sentence
// break, or the full window (hard). The cut index is in runes.
func boundaryCut(window string) (cut int, hard bool) {
	if idx := strings.LastIndex(window, "\n\n"); idx > 0 {
		return len([]rune(window[:idx+2])), false
	}
	if idx := strings.LastIndex(window, ". "); idx > 0 {
		return len([]rune(window[:idx+2])), false
	}
	return len([]rune(window)), true
}

func appendChunk(chunks *[]string, chunk string) {
	if qualityOK(chunk) {
		*chunks = append(*chunks, chunk)
	}
}

func qualityOK(chunk string) bool {
	return len([]rune(strings.TrimSpace(chunk))) >= MinContentChars
}
