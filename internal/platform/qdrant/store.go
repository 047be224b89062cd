package qdrant

import "context"

// Point is a vector plus its payload, upserted under a caller-assigned
// deterministic id.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// ScoredPoint is a retrieved point. Score is the cosine similarity for
// vector queries and 0 for scroll results.
type ScoredPoint struct {
	ID      string
	Score   float64
	Payload map[string]any
}

type OrderDirection string

const (
	OrderAsc  OrderDirection = "asc"
	OrderDesc OrderDirection = "desc"
)

// OrderBy orders a scroll by an integer-indexed payload field.
type OrderBy struct {
	Key       string
	Direction OrderDirection
}

type ScrollRequest struct {
	Filter      *Filter
	Limit       int
	WithPayload bool
	WithVectors bool
	Offset      any
	OrderBy     *OrderBy
}

// Store is the typed facade over the vector database consumed by the
// retrieval engine and the sync pipelines.
type Store interface {
	EnsureCollection(ctx context.Context) error
	Reset(ctx context.Context) error
	Upsert(ctx context.Context, points []Point) error
	Query(ctx context.Context, vector []float32, filter *Filter, limit int) ([]ScoredPoint, error)
	Scroll(ctx context.Context, req ScrollRequest) ([]ScoredPoint, any, error)
	Count(ctx context.Context, filter *Filter) (int, error)
	Delete(ctx context.Context, filter *Filter) error
	PointExists(ctx context.Context, sourceID string) (bool, error)
}
