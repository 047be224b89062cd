package retrieval

import "sort"

// RRFK is the reciprocal rank fusion constant. 60 keeps the tail of each
// list contributing without letting a single list dominate.
const RRFK = 60

// Node is one retrieval result.
type Node struct {
	ID      string         `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
	// Origin tags how the node entered the result set: semantic, lexical,
	// metadata, recency, context or placeholder.
	Origin string `json:"origin"`
}

// FuseRRF merges ranked lists by reciprocal rank: each list contributes
// 1/(k+rank) per node, summed across lists. Payloads come from whichever
// list saw the node first. Output is sorted by fused score descending.
func FuseRRF(k int, lists ...[]Node) []Node {
	if k <= 0 {
		k = RRFK
	}
	scores := make(map[string]float64)
	nodes := make(map[string]Node)
	var order []string

	for _, list := range lists {
		for rank, node := range list {
			scores[node.ID] += 1.0 / float64(k+rank+1)
			if _, ok := nodes[node.ID]; !ok {
				nodes[node.ID] = node
				order = append(order, node.ID)
			}
		}
	}

	out := make([]Node, 0, len(order))
	for _, id := range order {
		n := nodes[id]
		n.Score = scores[id]
		out = append(out, n)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}
