package scoring

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tangerg/ragguard/internal/docmodel"
)

func TestTrustScorerExactMatch(t *testing.T) {
	scorer := NewTrustScorer(map[string]float64{
		"nvd.nist.gov":            1.0,
		"unknown-security-site.com": 0.0,
	})

	doc, err := docmodel.New("d1", "content", docmodel.Metadata{Source: "nvd.nist.gov"})
	require.NoError(t, err)

	score, err := scorer.Score(context.Background(), doc, nil)
	require.NoError(t, err)
	assert.Equal(t, 1.0, score)
}

func TestTrustScorerUnknownSourceIsNeutral(t *testing.T) {
	scorer := NewTrustScorer(map[string]float64{"nvd.nist.gov": 1.0})

	doc, err := docmodel.New("d1", "content", docmodel.Metadata{Source: "totally-unheard-of.example"})
	require.NoError(t, err)

	score, err := scorer.Score(context.Background(), doc, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.5, score)
}

func TestTrustScorerLongestPrefixWins(t *testing.T) {
	scorer := NewTrustScorer(map[string]float64{
		"nvd":          0.5,
		"nvd.nist.gov": 1.0,
	})

	doc, err := docmodel.New("d1", "content", docmodel.Metadata{Source: "nvd.nist.gov/cve/2024"})
	require.NoError(t, err)

	score, err := scorer.Score(context.Background(), doc, nil)
	require.NoError(t, err)
	assert.Equal(t, 1.0, score)
}
