package retrieval

import (
	"context"
	"fmt"

	"github.com/lifelogd/lifelog-backend/internal/platform/ctxutil"
	"github.com/lifelogd/lifelog-backend/internal/platform/envutil"
	"github.com/lifelogd/lifelog-backend/internal/platform/logger"
	"github.com/lifelogd/lifelog-backend/internal/platform/openai"
	"github.com/lifelogd/lifelog-backend/internal/platform/qdrant"
	"github.com/lifelogd/lifelog-backend/internal/types"
)

// PersonLink asks the ingestor to link the stored point to a person.
type PersonLink struct {
	PersonID   int64
	Role       string
	Confidence float64
}

// EntityLinker is the slice of the identity store the ingestor writes to.
type EntityLinker interface {
	LinkPersonAsset(ctx context.Context, personID int64, assetType, assetRef, role string, confidence float64) error
	LinkAssets(ctx context.Context, srcAssetRef, dstAssetRef, relationType string, confidence float64, provenance string) error
}

// IngestOutcome tells the pipeline what happened to one document.
type IngestOutcome string

const (
	OutcomeInserted IngestOutcome = "inserted"
	OutcomeSkipped  IngestOutcome = "skipped"
	OutcomeTooShort IngestOutcome = "too_short"
)

// Ingestor turns documents into vector points: dedup, chunk, embed, upsert,
// entity-link.
type Ingestor struct {
	store  qdrant.Store
	ai     openai.Client
	linker EntityLinker
	log    *logger.Logger

	maxChunkChars     int
	chunkOverlap      int
	embeddingMaxChars int
}

func NewIngestor(store qdrant.Store, ai openai.Client, linker EntityLinker, baseLog *logger.Logger) *Ingestor {
	return &Ingestor{
		store:             store,
		ai:                ai,
		linker:            linker,
		log:               baseLog.With("service", "Ingestor"),
		maxChunkChars:     envutil.GetEnvAsInt("MAX_CHUNK_CHARS", DefaultMaxChunkChars, baseLog),
		chunkOverlap:      envutil.GetEnvAsInt("CHUNK_OVERLAP", DefaultChunkOverlap, baseLog),
		embeddingMaxChars: envutil.GetEnvAsInt("EMBEDDING_MAX_CHARS", 7000, baseLog),
	}
}

// Ingest indexes one document. With force false, an existing source_id is a
// skip, not an error. Links apply to every chunk of the document.
func (ing *Ingestor) Ingest(ctx context.Context, doc Document, links []PersonLink, force bool) (IngestOutcome, error) {
	ctx = ctxutil.Default(ctx)
	if err := doc.Validate(); err != nil {
		return "", err
	}

	if !force {
		exists, err := ing.store.PointExists(ctx, doc.Common.SourceID)
		if err != nil {
			return "", fmt.Errorf("dedup check: %w", err)
		}
		if exists {
			return OutcomeSkipped, nil
		}
	}

	chunks := SplitText(doc.Body.Text(), ing.maxChunkChars, ing.chunkOverlap)
	if len(chunks) == 0 {
		return OutcomeTooShort, nil
	}

	header := doc.Body.EmbeddingHeader()
	embedTexts := make([]string, len(chunks))
	for i, chunk := range chunks {
		embedTexts[i] = header + chunk
	}
	vectors, err := ing.embedWithRetry(ctx, embedTexts)
	if err != nil {
		return "", err
	}

	points := make([]qdrant.Point, len(chunks))
	chunkIDs := make([]string, len(chunks))
	for i, chunk := range chunks {
		chunkSourceID := ChunkSourceID(doc.Common.SourceID, i)
		chunkIDs[i] = chunkSourceID
		points[i] = qdrant.Point{
			ID:      NodeID(doc.Common.Source, doc.Common.SourceID, i),
			Vector:  vectors[i],
			Payload: doc.payload(chunkSourceID, chunk),
		}
	}
	if err := ing.store.Upsert(ctx, points); err != nil {
		return "", fmt.Errorf("upsert: %w", err)
	}

	ing.linkEntities(ctx, doc, chunkIDs, links)
	return OutcomeInserted, nil
}

// embedWithRetry applies the context-length safeguard: on a context-length
// error, truncate every over-long text once and retry. The stored payload
// keeps the full text either way.
func (ing *Ingestor) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := ing.ai.EmbedDocuments(ctx, texts)
	if err == nil {
		return vectors, nil
	}
	if !openai.IsContextLengthError(err) {
		return nil, fmt.Errorf("embed documents: %w", err)
	}

	ing.log.Warn("embedding hit context length, truncating and retrying", "texts", len(texts))
	truncated := make([]string, len(texts))
	for i, t := range texts {
		runes := []rune(t)
		if len(runes) > ing.embeddingMaxChars {
			runes = runes[:ing.embeddingMaxChars]
		}
		truncated[i] = string(runes)
	}
	vectors, err = ing.ai.EmbedDocuments(ctx, truncated)
	if err != nil {
		return nil, fmt.Errorf("embed documents after truncation: %w", err)
	}
	return vectors, nil
}

// linkEntities records person links and chunk_of edges. Linking failures
// never fail the ingest; the point is already stored and retrievable.
func (ing *Ingestor) linkEntities(ctx context.Context, doc Document, chunkIDs []string, links []PersonLink) {
	if ing.linker == nil {
		return
	}
	for _, link := range links {
		confidence := link.Confidence
		if confidence == 0 {
			confidence = 1
		}
		err := ing.linker.LinkPersonAsset(ctx, link.PersonID, doc.Common.Source, doc.Common.SourceID, link.Role, confidence)
		if err != nil {
			ing.log.Warn("person asset link failed", "person_id", link.PersonID, "error", err)
		}
	}
	for _, chunkID := range chunkIDs[1:] {
		err := ing.linker.LinkAssets(ctx, chunkID, doc.Common.SourceID, types.EdgeChunkOf, 1, "chunker")
		if err != nil {
			ing.log.Warn("chunk edge link failed", "error", err)
		}
	}
}
