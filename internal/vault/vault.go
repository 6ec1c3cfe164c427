// Package vault is the quarantine vault. It is the sole owner of quarantine
// records and their on-disk layout, and the sole mutator of a document's
// is_quarantined/quarantine_id metadata fields, reached through an Adapter
// handle injected at construction rather than a back-reference into the
// retrieval adapter itself: the vault receives an adapter handle, it never
// calls back into the pipeline.
package vault

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Tangerg/ragguard/internal/docmodel"
	"github.com/Tangerg/ragguard/internal/eventbus"
	"github.com/Tangerg/ragguard/internal/ids"
)

var (
	// ErrActiveRecordExists is returned by Quarantine when doc_id already has
	// a non-RESTORED record: at most one active record may exist per document.
	ErrActiveRecordExists = errors.New("vault: an active quarantine record already exists for this document")
	// ErrInvalidState is returned by Confirm/Restore on an already-terminal
	// record; repeating a transition on a terminal record must not succeed.
	ErrInvalidState = errors.New("vault: record is not in a state that allows this transition")
	// ErrNotFound is returned when a quarantine_id has no record.
	ErrNotFound = errors.New("vault: no record for this quarantine_id")
)

// Adapter is the retrieval adapter's metadata-mutation surface, the only
// part of it the vault is allowed to touch: the vault is the sole mutator
// of those two fields.
type Adapter interface {
	SetQuarantine(ctx context.Context, docID, quarantineID string, quarantined bool) error
}

// EventPublisher is the subset of the event bus the vault needs to emit
// RAG-2001/2002/2003.
type EventPublisher interface {
	Publish(code eventbus.Code, level eventbus.Level, message, category, correlationID string, payload map[string]any) (uint64, error)
}

// Vault is the durable quarantine store.
type Vault struct {
	rootDir  string
	adapter  Adapter
	events   EventPublisher
	clock    func() time.Time
	idGen    func(now time.Time, docID string) string

	mu           sync.RWMutex
	records      map[string]*Record // quarantine_id -> record
	activeByDoc  map[string]string  // doc_id -> quarantine_id, only while non-RESTORED

	docLocks sync.Map // doc_id -> *sync.Mutex
}

// Open opens (or creates) the vault rooted at rootDir, replaying any
// existing per-record directories to rebuild the in-memory index.
func Open(rootDir string, adapter Adapter, events EventPublisher) (*Vault, error) {
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, fmt.Errorf("vault: create root dir: %w", err)
	}

	v := &Vault{
		rootDir:     rootDir,
		adapter:     adapter,
		events:      events,
		clock:       func() time.Time { return time.Now().UTC() },
		idGen:       ids.QuarantineID,
		records:     make(map[string]*Record),
		activeByDoc: make(map[string]string),
	}

	if err := v.rebuildIndex(); err != nil {
		return nil, fmt.Errorf("vault: rebuild index: %w", err)
	}

	return v, nil
}

func (v *Vault) rebuildIndex() error {
	entries, err := os.ReadDir(v.rootDir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		rec, err := v.readRecordFile(filepath.Join(v.rootDir, entry.Name()))
		if err != nil {
			continue
		}
		v.records[rec.QuarantineID] = rec
		// An "active" record is any state != RESTORED.
		if rec.State != StateRestored {
			v.activeByDoc[rec.DocID] = rec.QuarantineID
		}
	}
	return nil
}

func (v *Vault) lockDoc(docID string) func() {
	mu, _ := v.docLocks.LoadOrStore(docID, &sync.Mutex{})
	m := mu.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}

func (v *Vault) recordDir(quarantineID string) string {
	return filepath.Join(v.rootDir, quarantineID)
}

// Quarantine creates a new quarantine record for docID, flips the document's
// is_quarantined flag through the adapter, and emits RAG-2001. Preconditions:
// no active (non-RESTORED) record exists for docID.
func (v *Vault) Quarantine(ctx context.Context, docID, content string, metadata docmodel.Metadata, signals docmodel.IntegritySignals, reason string) (string, error) {
	unlock := v.lockDoc(docID)
	defer unlock()

	v.mu.RLock()
	_, exists := v.activeByDoc[docID]
	v.mu.RUnlock()
	if exists {
		return "", ErrActiveRecordExists
	}

	now := v.clock()
	quarantineID := v.idGen(now, docID)

	rec := &Record{
		QuarantineID:     quarantineID,
		DocID:            docID,
		ContentSnapshot:  content,
		OriginalMetadata: metadata,
		Signals:          signals,
		Reason:           reason,
		QuarantinedAt:    now,
		State:            StateQuarantined,
		StateHistory: []HistoryEntry{{
			Action:    "quarantine",
			Actor:     "system",
			Timestamp: now,
		}},
	}

	if err := v.writeRecordFiles(rec); err != nil {
		return "", fmt.Errorf("vault: persist record: %w", err)
	}

	if err := v.adapter.SetQuarantine(ctx, docID, quarantineID, true); err != nil {
		// The metadata flip failed: remove the just-written record and
		// surface an error rather than leaving a record with no matching
		// quarantine flag on the document.
		_ = os.RemoveAll(v.recordDir(quarantineID))
		if v.events != nil {
			_, _ = v.events.Publish(eventbus.CodeDocQuarantined, eventbus.LevelError,
				fmt.Sprintf("quarantine of %s failed: adapter metadata update error: %v", docID, err),
				"vault", "", map[string]any{"doc_id": docID})
		}
		return "", fmt.Errorf("vault: flip adapter metadata: %w", err)
	}

	v.mu.Lock()
	v.records[quarantineID] = rec
	v.activeByDoc[docID] = quarantineID
	v.mu.Unlock()

	if v.events != nil {
		_, _ = v.events.Publish(eventbus.CodeDocQuarantined, eventbus.LevelInfo,
			fmt.Sprintf("document %s quarantined as %s", docID, quarantineID),
			"vault", "", map[string]any{"doc_id": docID, "quarantine_id": quarantineID})
	}

	return quarantineID, nil
}

// Confirm transitions a record from QUARANTINED to CONFIRMED_MALICIOUS.
// Valid only from QUARANTINED, and never repeatable once terminal; the
// document stays excluded from retrieval.
func (v *Vault) Confirm(ctx context.Context, quarantineID, actor, notes string) error {
	return v.transition(ctx, quarantineID, actor, notes, "confirm", StateQuarantined, StateConfirmedMalicious,
		eventbus.CodeQuarantineConfirmed, false)
}

// Restore transitions a record from QUARANTINED to RESTORED, clears the
// document's is_quarantined flag, and re-enters it into the retrievable
// pool. A subsequent query rescores the document from scratch; nothing
// here caches the prior decision.
func (v *Vault) Restore(ctx context.Context, quarantineID, actor, notes string) error {
	return v.transition(ctx, quarantineID, actor, notes, "restore", StateQuarantined, StateRestored,
		eventbus.CodeQuarantineRestored, true)
}

func (v *Vault) transition(ctx context.Context, quarantineID, actor, notes, action string, from, to State, code eventbus.Code, clearsFlag bool) error {
	v.mu.RLock()
	rec, ok := v.records[quarantineID]
	v.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}

	unlock := v.lockDoc(rec.DocID)
	defer unlock()

	v.mu.Lock()
	rec, ok = v.records[quarantineID]
	if !ok {
		v.mu.Unlock()
		return ErrNotFound
	}
	if rec.State != from {
		v.mu.Unlock()
		return ErrInvalidState
	}

	updated := rec.clone()
	updated.State = to
	updated.StateHistory = append(updated.StateHistory, HistoryEntry{
		Action:    action,
		Actor:     actor,
		Notes:     notes,
		Timestamp: v.clock(),
	})
	v.mu.Unlock()

	if err := v.writeRecordFiles(updated); err != nil {
		return fmt.Errorf("vault: persist transition: %w", err)
	}

	if clearsFlag {
		if err := v.adapter.SetQuarantine(ctx, rec.DocID, "", false); err != nil {
			return fmt.Errorf("vault: flip adapter metadata: %w", err)
		}
	}

	v.mu.Lock()
	v.records[quarantineID] = updated
	if clearsFlag {
		delete(v.activeByDoc, rec.DocID)
	}
	v.mu.Unlock()

	if v.events != nil {
		_, _ = v.events.Publish(code, eventbus.LevelInfo,
			fmt.Sprintf("quarantine %s %sd by %s", quarantineID, action, actor),
			"vault", "", map[string]any{"quarantine_id": quarantineID, "doc_id": rec.DocID})
	}

	return nil
}

// Get returns the record for quarantineID.
func (v *Vault) Get(quarantineID string) (*Record, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	rec, ok := v.records[quarantineID]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.clone(), nil
}

// List returns every record whose state matches stateFilter, or every record
// if stateFilter is "". Order is unspecified; callers wanting only active
// records should filter RESTORED themselves.
func (v *Vault) List(stateFilter State) []*Record {
	v.mu.RLock()
	defer v.mu.RUnlock()

	out := make([]*Record, 0, len(v.records))
	for _, rec := range v.records {
		if stateFilter != "" && rec.State != stateFilter {
			continue
		}
		out = append(out, rec.clone())
	}
	return out
}

// IsQuarantined reports whether docID currently has an active (non-RESTORED)
// record, and its quarantine_id if so. This mirrors the adapter-side flag so
// tests and the HTTP status endpoint can check vault state directly.
func (v *Vault) IsQuarantined(docID string) (quarantineID string, ok bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	id, ok := v.activeByDoc[docID]
	return id, ok
}

// Size returns the number of records held, matching GET /api/status's
// vault_size field.
func (v *Vault) Size() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.records)
}

// Reset removes every persisted record directory and clears the in-memory
// index, backing POST /api/demo/reset. It does not touch the adapter's
// metadata: callers resetting the whole demo state are expected to rebuild
// the index (and therefore the documents' is_quarantined flags) separately.
func (v *Vault) Reset() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	entries, err := os.ReadDir(v.rootDir)
	if err != nil {
		return fmt.Errorf("vault: read root dir: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if err := os.RemoveAll(filepath.Join(v.rootDir, entry.Name())); err != nil {
			return fmt.Errorf("vault: remove record dir %s: %w", entry.Name(), err)
		}
	}

	v.records = make(map[string]*Record)
	v.activeByDoc = make(map[string]string)
	return nil
}

func (v *Vault) writeRecordFiles(rec *Record) error {
	dir := v.recordDir(rec.QuarantineID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	if err := os.WriteFile(filepath.Join(dir, "content"), []byte(rec.ContentSnapshot), 0o644); err != nil {
		return err
	}

	metaBytes, err := json.Marshal(rec.OriginalMetadata)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "metadata"), metaBytes, 0o644); err != nil {
		return err
	}

	recBytes, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "record"), recBytes, 0o644); err != nil {
		return err
	}

	return v.appendAudit(dir, rec.StateHistory[len(rec.StateHistory)-1])
}

func (v *Vault) appendAudit(dir string, entry HistoryEntry) error {
	f, err := os.OpenFile(filepath.Join(dir, "audit.jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if _, err := w.Write(append(line, '\n')); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return f.Sync()
}

func (v *Vault) readRecordFile(dir string) (*Record, error) {
	data, err := os.ReadFile(filepath.Join(dir, "record"))
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}
