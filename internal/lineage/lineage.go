// Package lineage is an append-only record of every query that reached
// retrieval, queried by doc_id over a time window rather than by event
// code — which is why it is a separate store from the event bus instead of
// another event category: a durable audit trail has different access
// patterns than a pub/sub feed.
package lineage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Action summarizes the outcome of a query's integrity check.
type Action string

const (
	ActionClean   Action = "clean"
	ActionPartial Action = "partial"
	ActionBlocked Action = "blocked"
)

// Record is a single append-only lineage entry.
type Record struct {
	QueryID           string    `json:"query_id"`
	QueryText         string    `json:"query_text"`
	UserID            string    `json:"user_id"`
	RetrievedDocIDs   []string  `json:"retrieved_doc_ids"`
	QuarantinedDocIDs []string  `json:"quarantined_doc_ids"`
	Timestamp         time.Time `json:"timestamp"`
	Action            Action    `json:"action"`
}

// Store is the durable, append-only lineage log.
type Store struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer

	// docIndex maps a doc_id to the byte offsets of lineage lines that
	// reference it in retrieved_doc_ids, letting ScanByDocID read only the
	// lines that mention a doc_id instead of re-parsing the whole file on
	// every blast-radius request (Scan itself always reads the whole file). A repeatedly-queried hot doc_id would
	// otherwise cost a full file scan each time, and blast-radius analysis
	// runs on demand rather than on a schedule.
	docIndex map[string][]int64
}

// Open creates or appends to the lineage log at path, replaying it once to
// build the in-memory doc_id index.
func Open(path string) (*Store, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("lineage: open log: %w", err)
	}

	s := &Store{
		file:     f,
		writer:   bufio.NewWriter(f),
		docIndex: make(map[string][]int64),
	}

	if err := s.rebuildIndex(); err != nil {
		f.Close()
		return nil, fmt.Errorf("lineage: rebuild index: %w", err)
	}

	return s, nil
}

func (s *Store) rebuildIndex() error {
	if _, err := s.file.Seek(0, 0); err != nil {
		return err
	}

	scanner := bufio.NewScanner(s.file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var offset int64
	for scanner.Scan() {
		line := scanner.Bytes()
		lineStart := offset
		offset += int64(len(line)) + 1 // + newline

		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		for _, id := range rec.RetrievedDocIDs {
			s.docIndex[id] = append(s.docIndex[id], lineStart)
		}
	}

	if _, err := s.file.Seek(0, 2); err != nil {
		return err
	}
	return scanner.Err()
}

// Append durably writes rec before returning. Lineage writes are expected to
// happen only after the integrity decision for a query is known, so Action
// is always populated by the caller.
func (s *Store) Append(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	offsetInfo, err := s.file.Seek(0, 1)
	if err != nil {
		return fmt.Errorf("lineage: seek: %w", err)
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("lineage: marshal record: %w", err)
	}
	line = append(line, '\n')

	if _, err := s.writer.Write(line); err != nil {
		return fmt.Errorf("lineage: write record: %w", err)
	}
	if err := s.writer.Flush(); err != nil {
		return fmt.Errorf("lineage: flush record: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("lineage: fsync record: %w", err)
	}

	for _, id := range rec.RetrievedDocIDs {
		s.docIndex[id] = append(s.docIndex[id], offsetInfo)
	}

	return nil
}

// Predicate filters Records during Scan; returning false excludes the
// record from the result.
type Predicate func(Record) bool

// Scan returns every durable Record with Timestamp in [since, until] that
// satisfies pred, in append order. A nil pred matches everything.
func (s *Store) Scan(pred Predicate, since, until time.Time) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.file.Seek(0, 0); err != nil {
		return nil, fmt.Errorf("lineage: seek: %w", err)
	}

	scanner := bufio.NewScanner(s.file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var out []Record
	for scanner.Scan() {
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		if rec.Timestamp.Before(since) || rec.Timestamp.After(until) {
			continue
		}
		if pred != nil && !pred(rec) {
			continue
		}
		out = append(out, rec)
	}

	if _, err := s.file.Seek(0, 2); err != nil {
		return nil, fmt.Errorf("lineage: reseek to tail: %w", err)
	}

	return out, scanner.Err()
}

// ScanByDocID returns every durable Record mentioning docID in
// RetrievedDocIDs with Timestamp in [since, until]. Unlike Scan, it reads
// only the byte offsets recorded in the in-memory doc_id index instead of
// the whole file, which is what makes on-demand blast-radius analysis cheap
// even against a large log.
func (s *Store) ScanByDocID(docID string, since, until time.Time) ([]Record, error) {
	s.mu.Lock()
	offsets := append([]int64(nil), s.docIndex[docID]...)
	s.mu.Unlock()

	out := make([]Record, 0, len(offsets))
	for _, off := range offsets {
		rec, ok, err := s.readRecordAt(off)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if rec.Timestamp.Before(since) || rec.Timestamp.After(until) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// readRecordAt reads and parses the single JSON line starting at byte
// offset off. ok is false if the line was unparseable.
func (s *Store) readRecordAt(off int64) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.file.Seek(off, 0); err != nil {
		return Record{}, false, fmt.Errorf("lineage: seek to offset %d: %w", off, err)
	}

	scanner := bufio.NewScanner(s.file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var rec Record
	ok := false
	if scanner.Scan() {
		if err := json.Unmarshal(scanner.Bytes(), &rec); err == nil {
			ok = true
		}
	}

	if _, err := s.file.Seek(0, 2); err != nil {
		return Record{}, false, fmt.Errorf("lineage: reseek to tail: %w", err)
	}

	return rec, ok, scanner.Err()
}

// Reset truncates the durable log and clears the in-memory doc_id index,
// backing POST /api/demo/reset.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writer.Flush(); err != nil {
		return fmt.Errorf("lineage: flush before reset: %w", err)
	}
	if err := s.file.Truncate(0); err != nil {
		return fmt.Errorf("lineage: truncate log: %w", err)
	}
	if _, err := s.file.Seek(0, 0); err != nil {
		return fmt.Errorf("lineage: seek after truncate: %w", err)
	}
	s.writer = bufio.NewWriter(s.file)
	s.docIndex = make(map[string][]int64)
	return nil
}

// Close flushes and closes the underlying file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writer.Flush(); err != nil {
		return err
	}
	return s.file.Close()
}
