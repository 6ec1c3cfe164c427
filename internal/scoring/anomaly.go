package scoring

import (
	"context"
	"math"

	"github.com/Tangerg/ragguard/internal/docmodel"
)

// AnomalyScorer looks at the shape of the whole retrieved set rather than any
// single document: a set dominated by one source, or containing one outlier
// far less trusted than the rest, is itself a signal. It reuses a TrustScorer
// internally to rate siblings by source — this is composition of a pure
// sub-function, not an observation of another scorer's output.
type AnomalyScorer struct {
	trust *TrustScorer
}

// NewAnomalyScorer builds an AnomalyScorer using trustTable for the
// per-sibling trust lookup.
func NewAnomalyScorer(trustTable map[string]float64) *AnomalyScorer {
	return &AnomalyScorer{trust: NewTrustScorer(trustTable)}
}

// Score implements Scorer. siblings is the full current retrieval result
// set, doc included.
func (a *AnomalyScorer) Score(_ context.Context, _ *docmodel.Document, siblings []*docmodel.Document) (float64, error) {
	if len(siblings) == 0 {
		return 0.5, nil
	}

	sources := make(map[string]struct{}, len(siblings))
	trustScores := make([]float64, len(siblings))
	for i, sib := range siblings {
		sources[sib.Metadata.Source] = struct{}{}
		trustScores[i] = a.trust.lookup(sib.Metadata.Source)
	}

	diversity := float64(len(sources)) / float64(len(siblings))
	var diversityScore float64
	switch {
	case diversity >= 0.7:
		diversityScore = 1.0
	case diversity >= 0.4:
		diversityScore = 0.7
	default:
		diversityScore = 0.5
	}

	return clip01(diversityScore - variancePenalty(trustScores)), nil
}

func variancePenalty(trustScores []float64) float64 {
	mean := 0.0
	min := trustScores[0]
	for _, v := range trustScores {
		mean += v
		if v < min {
			min = v
		}
	}
	mean /= float64(len(trustScores))

	var sumSquares float64
	for _, v := range trustScores {
		d := v - mean
		sumSquares += d * d
	}
	std := math.Sqrt(sumSquares / float64(len(trustScores)))

	if std > 0 && math.Abs(min-mean)/std > 2.0 {
		return 0.3
	}
	return 0
}
