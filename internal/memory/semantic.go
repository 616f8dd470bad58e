package memory

import (
	"context"
	"fmt"

	"github.com/loomworks/loom/internal/embedding"
	"github.com/loomworks/loom/internal/events"
	"github.com/loomworks/loom/internal/vectorstore"
	"go.uber.org/zap"
)

// Knowledge base names the semantic tier will serve. Anything else is
// rejected before the backend is touched.
var knowledgeBases = map[string]bool{
	"kb_core":   true,
	"kb_skills": true,
	"kb_1":      true,
	"kb_2":      true,
	"kb_3":      true,
	"kb_4":      true,
	"kb_5":      true,
	"kb_6":      true,
}

// Search limit clamp bounds.
const (
	minSearchLimit = 1
	maxSearchLimit = 100
)

// Hit is one semantic search result.
type Hit struct {
	DocumentID     string  `json:"document_id"`
	Score          float32 `json:"score"`
	ContentSnippet string  `json:"content_snippet"`
}

// Document is one unit of content to index into a knowledge base.
type Document struct {
	ID      string
	Content string
	Vector  []float32
}

// Semantic is the L4 tier: named knowledge bases over the vector store.
// The store may be nil, in which case every operation degrades to an
// explicit error rather than panicking.
type Semantic struct {
	store    *vectorstore.Client
	embedder embedding.Provider
	hub      *events.Hub
	logger   *zap.Logger
}

// NewSemantic creates the L4 tier. embedder may be nil if callers always
// supply query vectors themselves.
func NewSemantic(store *vectorstore.Client, embedder embedding.Provider, hub *events.Hub, logger *zap.Logger) *Semantic {
	return &Semantic{store: store, embedder: embedder, hub: hub, logger: logger}
}

// KnownBase reports whether name is one of the served knowledge bases.
func KnownBase(name string) bool {
	return knowledgeBases[name]
}

// ClampLimit bounds a requested result count to the served range.
func ClampLimit(limit int) int {
	if limit < minSearchLimit {
		return minSearchLimit
	}
	if limit > maxSearchLimit {
		return maxSearchLimit
	}
	return limit
}

// Search runs a top-k query against one knowledge base. If queryVector is
// nil the configured embedder produces one from the query text.
func (s *Semantic) Search(ctx context.Context, query, kbName string, limit int, queryVector []float32) ([]Hit, error) {
	if !KnownBase(kbName) {
		return nil, fmt.Errorf("unknown knowledge base %q", kbName)
	}
	if s.store == nil {
		return nil, fmt.Errorf("semantic tier unavailable")
	}
	limit = ClampLimit(limit)

	if queryVector == nil {
		if s.embedder == nil {
			return nil, fmt.Errorf("no query vector and no embedder configured")
		}
		vecs, err := s.embedder.Embed(ctx, []string{query})
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
		if len(vecs) == 0 {
			return nil, fmt.Errorf("embedder returned no vector")
		}
		queryVector = vecs[0]
	}

	s.hub.Emit(events.SearchIssued, "", "", map[string]any{
		"kb": kbName, "query": query, "limit": limit,
	})

	results, err := s.store.Search(ctx, kbName, queryVector, uint64(limit))
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", kbName, err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, Hit{
			DocumentID:     r.ID,
			Score:          r.Score,
			ContentSnippet: r.Payload["content"],
		})
	}

	s.hub.Emit(events.SearchResult, "", "", map[string]any{
		"kb": kbName, "hits": len(hits),
	})
	return hits, nil
}

// Upsert indexes documents into one knowledge base, embedding any that
// arrive without a vector. Returns the number of points written.
func (s *Semantic) Upsert(ctx context.Context, kbName string, docs []Document) (int, error) {
	if !KnownBase(kbName) {
		return 0, fmt.Errorf("unknown knowledge base %q", kbName)
	}
	if s.store == nil {
		return 0, fmt.Errorf("semantic tier unavailable")
	}
	if len(docs) == 0 {
		return 0, nil
	}

	var pending []int
	var texts []string
	for i, d := range docs {
		if d.Vector == nil {
			pending = append(pending, i)
			texts = append(texts, d.Content)
		}
	}
	if len(pending) > 0 {
		if s.embedder == nil {
			return 0, fmt.Errorf("documents missing vectors and no embedder configured")
		}
		vecs, err := s.embedder.Embed(ctx, texts)
		if err != nil {
			return 0, fmt.Errorf("embed documents: %w", err)
		}
		if len(vecs) != len(pending) {
			return 0, fmt.Errorf("embedder returned %d vectors for %d documents", len(vecs), len(pending))
		}
		for j, idx := range pending {
			docs[idx].Vector = vecs[j]
		}
	}

	points := make([]vectorstore.Point, 0, len(docs))
	for _, d := range docs {
		points = append(points, vectorstore.Point{
			ID:      d.ID,
			Vector:  d.Vector,
			Payload: map[string]string{"content": d.Content},
		})
	}

	n, err := s.store.Upsert(ctx, kbName, points)
	if err != nil {
		return 0, fmt.Errorf("upsert %s: %w", kbName, err)
	}
	s.hub.Emit(events.MemoryWritten, "", "", map[string]any{
		"layer": 4, "kb": kbName, "points": n,
	})
	return n, nil
}
