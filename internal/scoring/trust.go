package scoring

import (
	"context"
	"strings"

	"github.com/Tangerg/ragguard/internal/docmodel"
)

// TrustScorer looks doc.Metadata.Source up in a configured prefix table.
// Longest matching prefix wins; an unrecognized source is neutral.
type TrustScorer struct {
	table map[string]float64
}

// NewTrustScorer builds a TrustScorer from a mapping of known-good/known-bad
// source prefixes to a score in [0,1].
func NewTrustScorer(table map[string]float64) *TrustScorer {
	return &TrustScorer{table: table}
}

// Score implements Scorer.
func (t *TrustScorer) Score(_ context.Context, doc *docmodel.Document, _ []*docmodel.Document) (float64, error) {
	return t.lookup(doc.Metadata.Source), nil
}

func (t *TrustScorer) lookup(source string) float64 {
	bestLen := -1
	best := 0.5
	for prefix, score := range t.table {
		if strings.HasPrefix(source, prefix) && len(prefix) > bestLen {
			bestLen = len(prefix)
			best = score
		}
	}
	return best
}
