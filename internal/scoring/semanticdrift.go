package scoring

import (
	"context"
	"fmt"
	"math"

	"github.com/Tangerg/ragguard/internal/docmodel"
)

// Embedder is the narrow capability SemanticDriftScorer needs. It is
// satisfied by internal/embed.DeterministicHash or any real embedding
// collaborator without this package importing internal/retrieval.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// SemanticDriftScorer compares a document against a fixed golden corpus
// embedded once at construction, returning the maximum cosine similarity
// linearly mapped from [-1,1] to [0,1].
type SemanticDriftScorer struct {
	embedder Embedder
	golden   [][]float32
}

// NewSemanticDriftScorer embeds every golden document once up front. An empty
// golden corpus is valid: Score then always returns the neutral 0.5.
func NewSemanticDriftScorer(ctx context.Context, embedder Embedder, goldenDocs []string) (*SemanticDriftScorer, error) {
	vectors := make([][]float32, 0, len(goldenDocs))
	for i, text := range goldenDocs {
		v, err := embedder.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("scoring: embed golden document %d: %w", i, err)
		}
		vectors = append(vectors, v)
	}
	return &SemanticDriftScorer{embedder: embedder, golden: vectors}, nil
}

// Score implements Scorer.
func (s *SemanticDriftScorer) Score(ctx context.Context, doc *docmodel.Document, _ []*docmodel.Document) (float64, error) {
	if len(s.golden) == 0 {
		return 0.5, nil
	}

	vector, err := s.embedder.Embed(ctx, doc.Content)
	if err != nil {
		return 0, fmt.Errorf("scoring: embed document %s: %w", doc.ID, err)
	}

	maxCosine := -1.0
	for _, g := range s.golden {
		if c := cosine(vector, g); c > maxCosine {
			maxCosine = c
		}
	}

	return clip01((maxCosine + 1) / 2), nil
}

func cosine(a, b []float32) float64 {
	var dot, normA, normB float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
