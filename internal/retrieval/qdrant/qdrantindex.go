// Package qdrant is a retrieval.Index backed by a real vector database,
// using the same point/payload conversion idiom and collection bootstrap
// as a typical Qdrant store adapter, narrowed to this domain's Index
// capability interface instead of a general-purpose VectorStore interface.
package qdrant

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"

	"github.com/Tangerg/ragguard/internal/docmodel"
)

const (
	payloadDocID         = "doc_id"
	payloadContent       = "content"
	payloadSource        = "source"
	payloadCategory      = "category"
	payloadTitle         = "title"
	payloadIdentifier    = "identifier"
	payloadIsQuarantined = "is_quarantined"
	payloadQuarantineID  = "quarantine_id"
)

// Config configures Index.
type Config struct {
	Client           *qdrant.Client
	CollectionName   string
	Dimensions       int
	InitializeSchema bool
}

// Index is a retrieval.Index backed by Qdrant.
type Index struct {
	client     *qdrant.Client
	collection string
}

// New builds an Index, optionally creating the collection if it doesn't
// exist yet.
func New(ctx context.Context, cfg Config) (*Index, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("qdrant: client is required")
	}
	if cfg.CollectionName == "" {
		return nil, fmt.Errorf("qdrant: collection name is required")
	}

	idx := &Index{client: cfg.Client, collection: cfg.CollectionName}

	if cfg.InitializeSchema {
		exists, err := cfg.Client.CollectionExists(ctx, cfg.CollectionName)
		if err != nil {
			return nil, fmt.Errorf("qdrant: check collection existence: %w", err)
		}
		if !exists {
			err = cfg.Client.CreateCollection(ctx, &qdrant.CreateCollection{
				CollectionName: cfg.CollectionName,
				VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
					Size:     uint64(cfg.Dimensions),
					Distance: qdrant.Distance_Cosine,
				}),
			})
			if err != nil {
				return nil, fmt.Errorf("qdrant: create collection %s: %w", cfg.CollectionName, err)
			}
		}
	}

	return idx, nil
}

// Upsert implements retrieval.Index.
func (idx *Index) Upsert(ctx context.Context, doc *docmodel.Document, vector []float32) error {
	payload, err := qdrant.TryValueMap(metadataToMap(doc.ID, doc.Content, doc.Metadata))
	if err != nil {
		return fmt.Errorf("qdrant: build payload for %s: %w", doc.ID, err)
	}

	point := &qdrant.PointStruct{
		Id:      qdrant.NewID(doc.ID),
		Vectors: qdrant.NewVectors(vector...),
		Payload: payload,
	}

	_, err = idx.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: idx.collection,
		Points:         []*qdrant.PointStruct{point},
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert %s: %w", doc.ID, err)
	}
	return nil
}

// Query implements retrieval.Index.
func (idx *Index) Query(ctx context.Context, vector []float32, k int) ([]docmodel.Scored, error) {
	limit := uint64(k)
	points, err := idx.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: idx.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: query collection %s: %w", idx.collection, err)
	}

	out := make([]docmodel.Scored, 0, len(points))
	for _, p := range points {
		doc, err := payloadToDocument(p.GetPayload())
		if err != nil {
			continue
		}
		out = append(out, docmodel.Scored{
			Document: doc,
			Distance: float64(1 - p.GetScore()),
		})
	}
	return out, nil
}

// UpdateMetadata implements retrieval.Index. It sets payload on every point
// matching doc_id == docID rather than addressing the point ID selector
// directly, reusing the same filter-to-selector path a Delete operation
// would.
func (idx *Index) UpdateMetadata(ctx context.Context, docID string, quarantined bool, quarantineID string) error {
	quarantinedValue, err := qdrant.NewValue(quarantined)
	if err != nil {
		return fmt.Errorf("qdrant: build is_quarantined value: %w", err)
	}
	quarantineIDValue, err := qdrant.NewValue(quarantineID)
	if err != nil {
		return fmt.Errorf("qdrant: build quarantine_id value: %w", err)
	}

	selectorFilter := &qdrant.Filter{
		Must: []*qdrant.Condition{qdrant.NewMatchKeyword(payloadDocID, docID)},
	}

	_, err = idx.client.SetPayload(ctx, &qdrant.SetPayloadPoints{
		CollectionName: idx.collection,
		Payload: map[string]*qdrant.Value{
			payloadIsQuarantined: quarantinedValue,
			payloadQuarantineID:  quarantineIDValue,
		},
		PointsSelector: qdrant.NewPointsSelectorFilter(selectorFilter),
	})
	if err != nil {
		return fmt.Errorf("qdrant: update metadata for %s: %w", docID, err)
	}
	return nil
}

func metadataToMap(docID, content string, m docmodel.Metadata) map[string]any {
	out := map[string]any{
		payloadDocID:         docID,
		payloadContent:       content,
		payloadSource:        m.Source,
		payloadCategory:      m.Category,
		payloadTitle:         m.Title,
		payloadIsQuarantined: m.IsQuarantined,
		payloadQuarantineID:  m.QuarantineID,
	}
	// Storage preserves scalar values only: a multi-valued Identifiers list
	// is stored as its first element.
	if len(m.Identifiers) > 0 {
		out[payloadIdentifier] = m.Identifiers[0]
	}
	return out
}

func payloadToDocument(payload map[string]*qdrant.Value) (*docmodel.Document, error) {
	metadata := docmodel.Metadata{
		Source:        stringValue(payload[payloadSource]),
		Category:      stringValue(payload[payloadCategory]),
		Title:         stringValue(payload[payloadTitle]),
		IsQuarantined: boolValue(payload[payloadIsQuarantined]),
		QuarantineID:  stringValue(payload[payloadQuarantineID]),
	}
	if v, ok := payload[payloadIdentifier]; ok {
		metadata.Identifiers = []string{stringValue(v)}
	}

	return docmodel.New(stringValue(payload[payloadDocID]), stringValue(payload[payloadContent]), metadata)
}

func stringValue(v *qdrant.Value) string {
	if v == nil {
		return ""
	}
	return v.GetStringValue()
}

func boolValue(v *qdrant.Value) bool {
	if v == nil {
		return false
	}
	return v.GetBoolValue()
}
