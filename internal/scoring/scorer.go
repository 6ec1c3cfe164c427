// Package scoring implements the four independent integrity signals and the
// unweighted vote that aggregates them into a quarantine decision.
package scoring

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/Tangerg/ragguard/internal/docmodel"
)

// Scorer computes one integrity signal for doc, given the sibling set of the
// current retrieval (the full result set, doc included, for scorers that
// reason about distribution across it). Implementations MUST NOT observe any
// other scorer's output.
type Scorer interface {
	Score(ctx context.Context, doc *docmodel.Document, siblings []*docmodel.Document) (float64, error)
}

// ScorerSet names the four concrete collaborators the aggregator fans out
// over. Each slot is independently swappable, mirroring the narrow-interface,
// no-inheritance collaborator shape used throughout this codebase. Evaluate
// does not check slots for nil: it calls all four, so a nil slot panics.
type ScorerSet struct {
	Trust         Scorer
	RedFlag       Scorer
	Anomaly       Scorer
	SemanticDrift Scorer
}

type namedScorer struct {
	signal string
	scorer Scorer
}

func (s ScorerSet) named() []namedScorer {
	return []namedScorer{
		{"trust", s.Trust},
		{"red_flag", s.RedFlag},
		{"anomaly", s.Anomaly},
		{"semantic_drift", s.SemanticDrift},
	}
}

// Evaluate runs all four scorers for doc concurrently and collects their
// output into an IntegritySignals. A scorer that returns an error degrades to
// the neutral value 0.5 rather than failing the whole evaluation; onFailure,
// if non-nil, is invoked once per failing signal so the caller can emit its
// own WARN event without this package importing the event bus.
func (s ScorerSet) Evaluate(ctx context.Context, doc *docmodel.Document, siblings []*docmodel.Document, onFailure func(signal string, err error)) docmodel.IntegritySignals {
	named := s.named()
	values := make([]float64, len(named))

	g, gctx := errgroup.WithContext(ctx)
	for i, n := range named {
		i, n := i, n
		g.Go(func() error {
			v, err := n.scorer.Score(gctx, doc, siblings)
			if err != nil {
				if onFailure != nil {
					onFailure(n.signal, err)
				}
				v = 0.5
			}
			values[i] = v
			return nil
		})
	}
	// Individual failures degrade to neutral above and never propagate, so
	// Wait cannot return an error here.
	_ = g.Wait()

	signals := docmodel.IntegritySignals{
		Trust:         values[0],
		RedFlag:       values[1],
		Anomaly:       values[2],
		SemanticDrift: values[3],
	}
	return signals.Clip()
}
