// Package generator provides Generator implementations used by the
// integrity pipeline's final stage. A concrete LLM provider is out of scope:
// the pipeline only depends on the narrow Generator capability below.
package generator

import (
	"context"

	"github.com/Tangerg/ragguard/internal/docmodel"
)

// Generator produces an answer to prompt, grounded in docs. Implementations
// MUST NOT mutate the documents they're given.
type Generator interface {
	Generate(ctx context.Context, prompt string, docs []*docmodel.Document) (string, error)
}
