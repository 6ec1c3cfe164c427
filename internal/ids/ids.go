// Package ids centralizes identifier generation for the pipeline: query IDs,
// quarantine IDs, and the monotonic event ID counter. Keeping generation in
// one place makes the uniqueness guarantees (event_id monotonically unique,
// quarantine_id unique) auditable from a single file.
package ids

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Generator produces an opaque unique identifier, a narrow capability
// interface so the rest of the pipeline never depends on a concrete
// generation strategy.
type Generator interface {
	Generate(ctx context.Context, objects ...any) (string, error)
}

var _ Generator = (*UUIDGenerator)(nil)

// UUIDGenerator produces RFC 4122 random UUIDs, used for query IDs.
type UUIDGenerator struct{}

// NewUUIDGenerator returns a Generator backed by google/uuid.
func NewUUIDGenerator() *UUIDGenerator {
	return &UUIDGenerator{}
}

// Generate ignores its arguments and returns a fresh random UUID string.
func (u *UUIDGenerator) Generate(_ context.Context, _ ...any) (string, error) {
	return uuid.NewString(), nil
}

// QuarantineID formats the quarantine vault's directory-derived record key:
// vault/Q-<timestamp>-<doc_id>/.
func QuarantineID(now time.Time, docID string) string {
	return fmt.Sprintf("Q-%d-%s", now.UnixNano(), docID)
}

// EventCounter hands out monotonically increasing event IDs for a single
// process lifetime, satisfying the Event type's "monotonically unique" field.
type EventCounter struct {
	next atomic.Uint64
}

// NewEventCounter returns a counter starting at 1.
func NewEventCounter() *EventCounter {
	return &EventCounter{}
}

// Next returns the next event ID in the sequence.
func (c *EventCounter) Next() uint64 {
	return c.next.Add(1)
}
