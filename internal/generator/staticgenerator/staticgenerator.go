// Package staticgenerator implements a canned Generator used by tests and
// demo mode in place of a real LLM, following the no-network-call convention
// set by internal/embed's deterministic embedder.
package staticgenerator

import (
	"context"
	"fmt"
	"strings"

	"github.com/Tangerg/ragguard/internal/docmodel"
)

// Generator answers with a fixed template referencing the titles of the
// documents it was given, never the quarantined ones (the pipeline never
// passes those in, but Generator doesn't trust that and filters again).
type Generator struct{}

// New returns a ready-to-use Generator.
func New() *Generator {
	return &Generator{}
}

// Generate implements generator.Generator.
func (g *Generator) Generate(_ context.Context, prompt string, docs []*docmodel.Document) (string, error) {
	titles := make([]string, 0, len(docs))
	for _, doc := range docs {
		if doc.Metadata.IsQuarantined {
			continue
		}
		title := doc.Metadata.Title
		if title == "" {
			title = doc.ID
		}
		titles = append(titles, title)
	}

	if len(titles) == 0 {
		return fmt.Sprintf("No trustworthy sources were available to answer %q.", prompt), nil
	}

	return fmt.Sprintf("Based on %s, here is guidance for %q.", strings.Join(titles, ", "), prompt), nil
}
