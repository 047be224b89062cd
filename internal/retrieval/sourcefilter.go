package retrieval

// FilterSourcesForDisplay limits which retrieved nodes surface as citations:
// drop nodes under minScore, keep at most maxCount. Orthogonal to what the
// answerer sees; the full set still feeds the prompt.
func FilterSourcesForDisplay(nodes []Node, minScore float64, maxCount int) []Node {
	out := make([]Node, 0, len(nodes))
	for _, n := range nodes {
		if n.Origin == "placeholder" {
			continue
		}
		if n.Score < minScore {
			continue
		}
		out = append(out, n)
		if maxCount > 0 && len(out) >= maxCount {
			break
		}
	}
	return out
}
