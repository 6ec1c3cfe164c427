package scoring

import "github.com/Tangerg/ragguard/internal/docmodel"

// AggregatorConfig parameterizes the 2-of-4 vote. WeightTrust..WeightSemanticDrift
// are reserved for a future weighted mode and are never read by Aggregate: the
// quarantine decision is a vote, not a weighted sum.
type AggregatorConfig struct {
	Theta float64
	Q     int

	WeightTrust         float64
	WeightRedFlag       float64
	WeightAnomaly       float64
	WeightSemanticDrift float64
}

// DefaultAggregatorConfig returns the normative Θ=0.5, Q=2 configuration.
func DefaultAggregatorConfig() AggregatorConfig {
	return AggregatorConfig{
		Theta: 0.5,
		Q:     2,

		WeightTrust:         0.25,
		WeightRedFlag:       0.35,
		WeightAnomaly:       0.15,
		WeightSemanticDrift: 0.25,
	}
}

// Aggregate derives ShouldQuarantine from the four signals: quarantine iff at
// least cfg.Q of them fall below cfg.Theta.
func Aggregate(cfg AggregatorConfig, signals docmodel.IntegritySignals) docmodel.IntegritySignals {
	signals = signals.Clip()

	below := 0
	for _, v := range []float64{signals.Trust, signals.RedFlag, signals.Anomaly, signals.SemanticDrift} {
		if v < cfg.Theta {
			below++
		}
	}
	signals.ShouldQuarantine = below >= cfg.Q
	return signals
}
