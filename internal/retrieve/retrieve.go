package retrieve

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/askrepo/askrepo/internal/ai"
	"github.com/askrepo/askrepo/internal/store"
	"github.com/askrepo/askrepo/pkg/models"
)

// defaultTopK is how many neighbors a query pulls when the caller does not
// say otherwise.
const defaultTopK = 20

// Retriever answers natural-language queries with the most similar code
// chunks of one project.
type Retriever struct {
	embedder ai.Embedder
	chunks   store.ChunkStore
}

// New creates a Retriever.
func New(embedder ai.Embedder, chunks store.ChunkStore) *Retriever {
	return &Retriever{embedder: embedder, chunks: chunks}
}

// Query embeds the query text and returns up to topK chunks ranked by
// similarity, best first. topK <= 0 selects the default. Results are
// deduplicated by file path and start line so re-indexed leftovers cannot
// surface the same chunk twice.
func (r *Retriever) Query(ctx context.Context, projectID, query string, topK int) ([]models.RankedChunk, error) {
	if query == "" {
		return nil, errors.New("query must not be empty")
	}
	if topK <= 0 {
		topK = defaultTopK
	}

	vec, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	ranked, err := r.chunks.NearestNeighbors(ctx, projectID, vec, topK)
	if err != nil {
		return nil, fmt.Errorf("nearest neighbors: %w", err)
	}

	type key struct {
		path string
		line int
	}
	seen := make(map[key]struct{}, len(ranked))
	out := ranked[:0]
	for _, rc := range ranked {
		k := key{rc.Chunk.FilePath, rc.Chunk.StartLine}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, rc)
	}

	log.Debug().Str("project_id", projectID).Int("top_k", topK).
		Int("results", len(out)).Msg("retrieved chunks")
	return out, nil
}
