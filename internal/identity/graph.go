package identity

import (
	"context"
	"fmt"
	"strings"

	"github.com/lifelogd/lifelog-backend/internal/platform/ctxutil"
)

// Graph is the read-only projection served to the visualization UI.
type Graph struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

type GraphNode struct {
	ID          string           `json:"id"`
	Kind        string           `json:"kind"`
	Label       string           `json:"label"`
	IsGroup     bool             `json:"is_group,omitempty"`
	AssetCounts map[string]int64 `json:"asset_counts,omitempty"`
	AssetType   string           `json:"asset_type,omitempty"`
}

type GraphEdge struct {
	Source     string  `json:"source"`
	Target     string  `json:"target"`
	Category   string  `json:"category"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

// PersonGraph projects persons and their relationship edges, annotating each
// node with asset counts by type.
func (s *service) PersonGraph(ctx context.Context) (*Graph, error) {
	ctx = ctxutil.Default(ctx)

	persons, err := s.persons.ListAll(ctx, nil)
	if err != nil {
		return nil, err
	}
	graph := &Graph{}
	for _, p := range persons {
		counts := make(map[string]int64)
		links, err := s.graph.ListPersonAssets(ctx, nil, p.ID)
		if err != nil {
			return nil, err
		}
		for _, link := range links {
			counts[link.AssetType]++
		}
		label := p.DisplayName
		if label == "" {
			label = p.CanonicalName
		}
		graph.Nodes = append(graph.Nodes, GraphNode{
			ID:          personNodeID(p.ID),
			Kind:        "person",
			Label:       label,
			IsGroup:     p.IsGroup,
			AssetCounts: counts,
		})
	}

	seenEdge := make(map[string]bool)
	for _, p := range persons {
		rels, err := s.graph.ListRelationships(ctx, nil, p.ID)
		if err != nil {
			return nil, err
		}
		for _, rel := range rels {
			key := fmt.Sprintf("%d|%d|%s", rel.PersonID, rel.RelatedPersonID, rel.RelType)
			if seenEdge[key] {
				continue
			}
			seenEdge[key] = true
			graph.Edges = append(graph.Edges, GraphEdge{
				Source:     personNodeID(rel.PersonID),
				Target:     personNodeID(rel.RelatedPersonID),
				Category:   "identity_identity",
				Type:       rel.RelType,
				Confidence: rel.Confidence,
			})
		}
	}
	return graph, nil
}

// FullGraph adds asset nodes and the identity-to-asset and asset-to-asset
// edge layers on top of the person graph.
func (s *service) FullGraph(ctx context.Context) (*Graph, error) {
	ctx = ctxutil.Default(ctx)

	graph, err := s.PersonGraph(ctx)
	if err != nil {
		return nil, err
	}

	assetNodes := make(map[string]bool)
	ensureAsset := func(assetRef, assetType string) {
		if assetNodes[assetRef] {
			return
		}
		assetNodes[assetRef] = true
		graph.Nodes = append(graph.Nodes, GraphNode{
			ID:        assetNodeID(assetRef),
			Kind:      "asset",
			Label:     assetLabel(assetRef),
			AssetType: assetType,
		})
	}

	persons, err := s.persons.ListAll(ctx, nil)
	if err != nil {
		return nil, err
	}
	for _, p := range persons {
		links, err := s.graph.ListPersonAssets(ctx, nil, p.ID)
		if err != nil {
			return nil, err
		}
		for _, link := range links {
			ensureAsset(link.AssetRef, link.AssetType)
			graph.Edges = append(graph.Edges, GraphEdge{
				Source:     personNodeID(link.PersonID),
				Target:     assetNodeID(link.AssetRef),
				Category:   "identity_asset",
				Type:       link.Role,
				Confidence: link.Confidence,
			})
		}
	}

	refs := make([]string, 0, len(assetNodes))
	for assetRef := range assetNodes {
		refs = append(refs, assetRef)
	}
	for _, assetRef := range refs {
		edges, err := s.graph.ListAssetEdgesFrom(ctx, nil, assetRef)
		if err != nil {
			return nil, err
		}
		for _, edge := range edges {
			ensureAsset(edge.DstAssetRef, "")
			graph.Edges = append(graph.Edges, GraphEdge{
				Source:     assetNodeID(edge.SrcAssetRef),
				Target:     assetNodeID(edge.DstAssetRef),
				Category:   "asset_asset",
				Type:       edge.RelationType,
				Confidence: edge.Confidence,
			})
		}
	}
	return graph, nil
}

func personNodeID(id int64) string { return fmt.Sprintf("person:%d", id) }

func assetNodeID(assetRef string) string { return "asset:" + assetRef }

// assetLabel derives a short label from the tail of the asset ref.
func assetLabel(assetRef string) string {
	parts := strings.Split(assetRef, ":")
	return parts[len(parts)-1]
}
