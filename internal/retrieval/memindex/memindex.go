// Package memindex is an in-process, linear-scan Index implementation used
// by tests and the demo/reset path — no network calls, deterministic.
package memindex

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/Tangerg/ragguard/internal/docmodel"
)

type entry struct {
	doc    *docmodel.Document
	vector []float32
}

// Index is a thread-safe, in-memory vector store.
type Index struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// New returns an empty Index.
func New() *Index {
	return &Index{entries: make(map[string]*entry)}
}

// Upsert implements retrieval.Index.
func (idx *Index) Upsert(_ context.Context, doc *docmodel.Document, vector []float32) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.entries[doc.ID] = &entry{doc: doc.Clone(), vector: append([]float32(nil), vector...)}
	return nil
}

// Query implements retrieval.Index: a full linear scan ranked by ascending
// cosine distance (1 - cosine similarity).
func (idx *Index) Query(_ context.Context, vector []float32, k int) ([]docmodel.Scored, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	scored := make([]docmodel.Scored, 0, len(idx.entries))
	for _, e := range idx.entries {
		scored = append(scored, docmodel.Scored{
			Document: e.doc.Clone(),
			Distance: 1 - cosine(vector, e.vector),
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Distance < scored[j].Distance
	})

	if k > 0 && len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// UpdateMetadata implements retrieval.Index.
func (idx *Index) UpdateMetadata(_ context.Context, docID string, quarantined bool, quarantineID string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	e, ok := idx.entries[docID]
	if !ok {
		return &notFoundError{docID: docID}
	}
	e.doc.Metadata.IsQuarantined = quarantined
	e.doc.Metadata.QuarantineID = quarantineID
	return nil
}

// Reset clears every entry, backing POST /api/demo/reset.
func (idx *Index) Reset() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.entries = make(map[string]*entry)
}

// Size returns the number of indexed documents, for GET /api/status.
func (idx *Index) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

type notFoundError struct{ docID string }

func (e *notFoundError) Error() string {
	return "memindex: no document " + e.docID
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}
