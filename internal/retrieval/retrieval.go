// Package retrieval is a thin adapter over a pluggable vector index,
// embedding collaborator, and the preprocessor's filter, built as a narrow
// capability interface rather than an inheritance-style base type.
package retrieval

import (
	"context"
	"fmt"
	"sort"

	"github.com/Tangerg/ragguard/internal/docmodel"
	"github.com/Tangerg/ragguard/internal/preprocess"
)

// overFetchFactor is the minimum over-fetch multiplier applied when
// exclude_quarantined is set.
const overFetchFactor = 3

// Embedder turns text into a vector. deterministichash backs tests and the
// demo mode; a real embedding model is just another implementation of this
// interface.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Index is the pluggable nearest-neighbor store. memindex and qdrantindex
// both satisfy this so the Adapter never branches on backend.
type Index interface {
	Upsert(ctx context.Context, doc *docmodel.Document, vector []float32) error
	Query(ctx context.Context, vector []float32, k int) ([]docmodel.Scored, error)
	// UpdateMetadata mutates only IsQuarantined/QuarantineID on the indexed
	// document for docID, leaving every other metadata field untouched —
	// the vault is the sole caller and only ever flips these two fields.
	UpdateMetadata(ctx context.Context, docID string, quarantined bool, quarantineID string) error
}

// ErrDocumentNotFound describes a docID that isn't indexed. Neither bundled
// Index returns it: memindex's UpdateMetadata returns its own not-found
// error, and the Qdrant index returns no error for an unknown docID.
type ErrDocumentNotFound struct{ DocID string }

func (e *ErrDocumentNotFound) Error() string {
	return fmt.Sprintf("retrieval: no indexed document %q", e.DocID)
}

// Adapter is the retrieval adapter: query embedding, index fan-out, and
// quarantine/filter-aware result trimming.
type Adapter struct {
	embedder  Embedder
	index     Index
	extractor *preprocess.Extractor
}

// NewAdapter builds an Adapter. extractor is used only by Ingest to place
// the first identifier into metadata; pass nil for the default CVE-only
// extractor.
func NewAdapter(embedder Embedder, index Index, extractor *preprocess.Extractor) *Adapter {
	if extractor == nil {
		extractor = preprocess.NewExtractor()
	}
	return &Adapter{embedder: embedder, index: index, extractor: extractor}
}

// Retrieve embeds text, queries the index, and applies the quarantine and
// metadata filters. It over-fetches when excludeQuarantined is set so that
// dropping quarantined/filter-violating candidates still leaves k survivors
// when possible, then returns the first k by ascending distance.
func (a *Adapter) Retrieve(ctx context.Context, text string, k int, excludeQuarantined bool, filter *preprocess.Filter) ([]docmodel.Scored, error) {
	vector, err := a.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("retrieval: embed query: %w", err)
	}

	fetchK := k
	if excludeQuarantined {
		fetchK = k * overFetchFactor
	}

	candidates, err := a.index.Query(ctx, vector, fetchK)
	if err != nil {
		return nil, fmt.Errorf("retrieval: query index: %w", err)
	}

	survivors := make([]docmodel.Scored, 0, len(candidates))
	for _, c := range candidates {
		if excludeQuarantined && c.Document.Metadata.IsQuarantined {
			continue
		}
		if filter != nil && !filter.Matches(c.Document.Metadata) {
			continue
		}
		survivors = append(survivors, c)
	}

	sort.SliceStable(survivors, func(i, j int) bool {
		return survivors[i].Distance < survivors[j].Distance
	})

	if len(survivors) > k {
		survivors = survivors[:k]
	}
	return survivors, nil
}

// Ingest stores a new document: before storing, it extracts identifiers from
// content and places the first one into metadata under the same key the
// preprocessor's filter uses, then embeds and upserts.
func (a *Adapter) Ingest(ctx context.Context, docID, content string, metadata docmodel.Metadata) error {
	ids := a.extractor.Extract(content)
	if len(ids) > 0 {
		// The filter key carries a single-element slice so
		// preprocess.Filter's membership check works against it. When no
		// identifier is extracted, the caller's Identifiers are stored as
		// given.
		metadata.Identifiers = []string{ids[0]}
	}

	doc, err := docmodel.New(docID, content, metadata)
	if err != nil {
		return fmt.Errorf("retrieval: build document: %w", err)
	}

	vector, err := a.embedder.Embed(ctx, content)
	if err != nil {
		return fmt.Errorf("retrieval: embed document: %w", err)
	}

	return a.index.Upsert(ctx, doc, vector)
}

// SetQuarantine implements vault.Adapter: the vault is the sole caller
// permitted to flip is_quarantined/quarantine_id on an indexed document.
func (a *Adapter) SetQuarantine(ctx context.Context, docID, quarantineID string, quarantined bool) error {
	return a.index.UpdateMetadata(ctx, docID, quarantined, quarantineID)
}
