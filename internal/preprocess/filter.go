package preprocess

import "github.com/Tangerg/ragguard/internal/docmodel"

// Filter is a metadata equality constraint, the scalar-only subset of a
// fluent vectorstore filter-expression builder that this domain actually
// needs: metadata storage preserves scalar values only, so every filter
// here is a single field == value constraint rather than a general
// AND/OR/comparison AST.
type Filter struct {
	Field string
	Value string
}

// NewIdentifierFilter builds the `identifiers == id` constraint used to
// narrow retrieval to documents naming a specific identifier.
func NewIdentifierFilter(id string) *Filter {
	return &Filter{Field: "identifiers", Value: id}
}

// Matches reports whether metadata satisfies the filter. A nil Filter always
// matches.
func (f *Filter) Matches(metadata docmodel.Metadata) bool {
	if f == nil {
		return true
	}
	switch f.Field {
	case "identifiers":
		for _, id := range metadata.Identifiers {
			if id == f.Value {
				return true
			}
		}
		return false
	default:
		return false
	}
}
