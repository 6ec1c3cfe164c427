package scoring

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tangerg/ragguard/internal/docmodel"
)

func mustDoc(t *testing.T, id, content, source string) *docmodel.Document {
	t.Helper()
	doc, err := docmodel.New(id, content, docmodel.Metadata{Source: source})
	require.NoError(t, err)
	return doc
}

func TestAnomalyScorerHighDiversityNoPenalty(t *testing.T) {
	scorer := NewAnomalyScorer(map[string]float64{
		"a.example": 0.9,
		"b.example": 0.8,
		"c.example": 0.85,
	})
	siblings := []*docmodel.Document{
		mustDoc(t, "1", "x", "a.example"),
		mustDoc(t, "2", "x", "b.example"),
		mustDoc(t, "3", "x", "c.example"),
	}

	score, err := scorer.Score(context.Background(), siblings[0], siblings)
	require.NoError(t, err)
	assert.Equal(t, 1.0, score)
}

func TestAnomalyScorerLowDiversityOneDominantSource(t *testing.T) {
	scorer := NewAnomalyScorer(map[string]float64{"a.example": 0.9})
	siblings := []*docmodel.Document{
		mustDoc(t, "1", "x", "a.example"),
		mustDoc(t, "2", "x", "a.example"),
		mustDoc(t, "3", "x", "a.example"),
	}

	score, err := scorer.Score(context.Background(), siblings[0], siblings)
	require.NoError(t, err)
	assert.Equal(t, 0.5, score)
}

func TestAnomalyScorerEmptySiblingsIsNeutral(t *testing.T) {
	scorer := NewAnomalyScorer(nil)
	doc := mustDoc(t, "1", "x", "a.example")

	score, err := scorer.Score(context.Background(), doc, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.5, score)
}

func TestAnomalyScorerOutlierTriggersVariancePenalty(t *testing.T) {
	trustTable := map[string]float64{
		"outlier.example": 0.0,
	}
	siblings := make([]*docmodel.Document, 0, 8)
	for i := 0; i < 7; i++ {
		source := "trusted-" + string(rune('a'+i)) + ".example"
		trustTable[source] = 1.0
		siblings = append(siblings, mustDoc(t, source, "x", source))
	}
	siblings = append(siblings, mustDoc(t, "outlier", "x", "outlier.example"))
	scorer := NewAnomalyScorer(trustTable)

	score, err := scorer.Score(context.Background(), siblings[0], siblings)
	require.NoError(t, err)
	// diversity = 8/8 = 1.0 -> 1.0, variance penalty applies -> 1.0 - 0.3
	assert.Equal(t, 0.7, score)
}
