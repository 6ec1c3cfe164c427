// Package blastradius is on-demand analysis of which queries and users were
// exposed to a document during a time window, scanning the lineage store
// the way an audit-service reads a ledger by aggregate
// (listAuditLogsByAggregate) and rolling the result into a
// severity-graded report.
package blastradius

import (
	"context"
	"fmt"
	"time"

	"github.com/Tangerg/ragguard/internal/eventbus"
	"github.com/Tangerg/ragguard/internal/lineage"
)

// defaultWindow is the default analysis window.
const defaultWindow = 24 * time.Hour

// Severity is the report's blast-radius grade.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// severityRank orders Severity for the "take the higher row" rule.
var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// recommendedActions maps each severity to the concrete guidance shown in
// Report.RecommendedActions.
var recommendedActions = map[Severity][]string{
	SeverityLow:      {"Monitor; no immediate action required."},
	SeverityMedium:   {"Notify the on-call analyst for review."},
	SeverityHigh:     {"Confirm or restore the quarantine record within 1 hour."},
	SeverityCritical: {"Page the on-call analyst.", "Consider a corpus-wide sweep for the same source."},
}

// QueryDetail is one lineage record contributing to a Report.
type QueryDetail struct {
	QueryID   string         `json:"query_id"`
	UserID    string         `json:"user_id"`
	Timestamp time.Time      `json:"timestamp"`
	Action    lineage.Action `json:"action"`
}

// Report is the output of analyzing a document over a time window.
type Report struct {
	DocID              string        `json:"doc_id"`
	AffectedQueryCount int           `json:"affected_query_count"`
	AffectedUsers      int           `json:"affected_users"`
	QueryDetails       []QueryDetail `json:"query_details"`
	TimeWindowStart    time.Time     `json:"time_window_start"`
	TimeWindowEnd      time.Time     `json:"time_window_end"`
	Severity           Severity      `json:"severity"`
	RecommendedActions []string      `json:"recommended_actions"`
}

// LineageScanner is the subset of the lineage store the analyzer depends on.
type LineageScanner interface {
	ScanByDocID(docID string, since, until time.Time) ([]lineage.Record, error)
}

// EventPublisher is the subset of the event bus the analyzer depends on.
type EventPublisher interface {
	Publish(code eventbus.Code, level eventbus.Level, message, category, correlationID string, payload map[string]any) (uint64, error)
}

// Analyzer computes blast-radius reports over the lineage store.
type Analyzer struct {
	lineage LineageScanner
	events  EventPublisher
	clock   func() time.Time
}

// New builds an Analyzer over store, publishing RAG-3001/RAG-3002 through
// events.
func New(store LineageScanner, events EventPublisher) *Analyzer {
	return &Analyzer{
		lineage: store,
		events:  events,
		clock:   func() time.Time { return time.Now().UTC() },
	}
}

// Analyze runs the analysis. window<=0 uses the default 24h window.
func (a *Analyzer) Analyze(_ context.Context, docID string, window time.Duration) (*Report, error) {
	if window <= 0 {
		window = defaultWindow
	}

	until := a.clock()
	since := until.Add(-window)

	a.publish(eventbus.CodeBlastRadiusRequest, eventbus.LevelInfo,
		fmt.Sprintf("blast-radius requested for %s", docID), docID, nil)

	records, err := a.lineage.ScanByDocID(docID, since, until)
	if err != nil {
		return nil, fmt.Errorf("blastradius: scan lineage for %s: %w", docID, err)
	}

	details := make([]QueryDetail, 0, len(records))
	users := make(map[string]struct{})
	for _, rec := range records {
		users[rec.UserID] = struct{}{}
		details = append(details, QueryDetail{
			QueryID:   rec.QueryID,
			UserID:    rec.UserID,
			Timestamp: rec.Timestamp,
			Action:    rec.Action,
		})
	}

	severity := severityFor(len(records), len(users))

	report := &Report{
		DocID:              docID,
		AffectedQueryCount: len(records),
		AffectedUsers:      len(users),
		QueryDetails:       details,
		TimeWindowStart:    since,
		TimeWindowEnd:      until,
		Severity:           severity,
		RecommendedActions: recommendedActions[severity],
	}

	if severity == SeverityHigh || severity == SeverityCritical {
		a.publish(eventbus.CodeBlastRadiusHigh, eventbus.LevelWarn,
			fmt.Sprintf("blast radius for %s is %s (%d queries, %d users)", docID, severity, len(records), len(users)),
			docID, map[string]any{"severity": string(severity), "queries": len(records), "users": len(users)})
	}

	return report, nil
}

// severityFor grades severity by query count and user count independently,
// taking the higher of the two when they disagree.
func severityFor(queries, users int) Severity {
	q := severityForQueries(queries)
	u := severityForUsers(users)
	if severityRank[u] > severityRank[q] {
		return u
	}
	return q
}

func severityForQueries(n int) Severity {
	switch {
	case n >= 11:
		return SeverityCritical
	case n >= 6:
		return SeverityHigh
	case n >= 3:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

func severityForUsers(n int) Severity {
	switch {
	case n >= 7:
		return SeverityCritical
	case n >= 4:
		return SeverityHigh
	case n >= 2:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

func (a *Analyzer) publish(code eventbus.Code, level eventbus.Level, message, correlationID string, payload map[string]any) {
	if a.events == nil {
		return
	}
	_, _ = a.events.Publish(code, level, message, "blastradius", correlationID, payload)
}
