package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Tangerg/ragguard/internal/docmodel"
)

func TestAggregateQuarantinesOnTwoLowSignals(t *testing.T) {
	cfg := DefaultAggregatorConfig()
	signals := docmodel.IntegritySignals{Trust: 0.0, RedFlag: 0.15, Anomaly: 0.7, SemanticDrift: 0.6}

	out := Aggregate(cfg, signals)
	assert.True(t, out.ShouldQuarantine)
}

func TestAggregateAllowsOneLowSignal(t *testing.T) {
	cfg := DefaultAggregatorConfig()
	signals := docmodel.IntegritySignals{Trust: 1.0, RedFlag: 1.0, Anomaly: 1.0, SemanticDrift: 0.4}

	out := Aggregate(cfg, signals)
	assert.False(t, out.ShouldQuarantine)
}

func TestAggregateIgnoresReservedWeights(t *testing.T) {
	cfg := DefaultAggregatorConfig()
	cfg.WeightRedFlag = 100 // reserved, must never influence the vote

	signals := docmodel.IntegritySignals{Trust: 1.0, RedFlag: 1.0, Anomaly: 1.0, SemanticDrift: 1.0}
	out := Aggregate(cfg, signals)
	assert.False(t, out.ShouldQuarantine)
}

func TestAggregateClipsOutOfRangeSignals(t *testing.T) {
	cfg := DefaultAggregatorConfig()
	signals := docmodel.IntegritySignals{Trust: 1.4, RedFlag: -0.2, Anomaly: 0.6, SemanticDrift: 0.6}

	out := Aggregate(cfg, signals)
	assert.Equal(t, 1.0, out.Trust)
	assert.Equal(t, 0.0, out.RedFlag)
}
