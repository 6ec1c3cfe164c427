package blastradius_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tangerg/ragguard/internal/blastradius"
	"github.com/Tangerg/ragguard/internal/eventbus"
	"github.com/Tangerg/ragguard/internal/lineage"
)

type fakeScanner struct {
	records []lineage.Record
}

func (f *fakeScanner) ScanByDocID(_ string, _, _ time.Time) ([]lineage.Record, error) {
	return f.records, nil
}

type fakePublisher struct {
	published []eventbus.Code
}

func (f *fakePublisher) Publish(code eventbus.Code, _ eventbus.Level, _, _, _ string, _ map[string]any) (uint64, error) {
	f.published = append(f.published, code)
	return 1, nil
}

func recordsFor(queryCount, userCount int) []lineage.Record {
	records := make([]lineage.Record, queryCount)
	for i := 0; i < queryCount; i++ {
		records[i] = lineage.Record{
			QueryID: fmt.Sprintf("q-%d", i),
			UserID:  fmt.Sprintf("user-%d", i%userCount),
			Action:  lineage.ActionPartial,
		}
	}
	return records
}

func TestAnalyzeSeverityTable(t *testing.T) {
	cases := []struct {
		name       string
		queries    int
		users      int
		wantSeverity blastradius.Severity
	}{
		{"low", 2, 1, blastradius.SeverityLow},
		{"queries promote to medium", 3, 1, blastradius.SeverityMedium},
		{"users promote to medium", 2, 2, blastradius.SeverityMedium},
		// 3 queries across 3 users: both the query-count row and the
		// user-count row land on MEDIUM, so "take the higher row" stays
		// MEDIUM even though a reader might expect the combination to
		// escalate further.
		{"three queries three users stays medium", 3, 3, blastradius.SeverityMedium},
		{"queries promote to high", 6, 1, blastradius.SeverityHigh},
		{"users promote to high", 2, 4, blastradius.SeverityHigh},
		{"queries promote to critical", 11, 1, blastradius.SeverityCritical},
		{"users promote to critical", 2, 7, blastradius.SeverityCritical},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			scanner := &fakeScanner{records: recordsFor(tc.queries, tc.users)}
			pub := &fakePublisher{}
			analyzer := blastradius.New(scanner, pub)

			report, err := analyzer.Analyze(context.Background(), "CVE-2024-0001", time.Hour)
			require.NoError(t, err)

			assert.Equal(t, tc.wantSeverity, report.Severity)
			assert.Equal(t, tc.queries, report.AffectedQueryCount)
			assert.Equal(t, tc.users, report.AffectedUsers)
			assert.NotEmpty(t, report.RecommendedActions)
		})
	}
}

func TestAnalyzePublishesHighSeverityWarning(t *testing.T) {
	scanner := &fakeScanner{records: recordsFor(6, 1)}
	pub := &fakePublisher{}
	analyzer := blastradius.New(scanner, pub)

	_, err := analyzer.Analyze(context.Background(), "CVE-2024-0001", time.Hour)
	require.NoError(t, err)

	assert.Contains(t, pub.published, eventbus.CodeBlastRadiusRequest)
	assert.Contains(t, pub.published, eventbus.CodeBlastRadiusHigh)
}

func TestAnalyzeLowSeverityDoesNotPublishWarning(t *testing.T) {
	scanner := &fakeScanner{records: recordsFor(1, 1)}
	pub := &fakePublisher{}
	analyzer := blastradius.New(scanner, pub)

	_, err := analyzer.Analyze(context.Background(), "CVE-2024-0001", time.Hour)
	require.NoError(t, err)

	assert.Contains(t, pub.published, eventbus.CodeBlastRadiusRequest)
	assert.NotContains(t, pub.published, eventbus.CodeBlastRadiusHigh)
}

func TestAnalyzeDefaultsWindowWhenNonPositive(t *testing.T) {
	scanner := &fakeScanner{records: nil}
	analyzer := blastradius.New(scanner, &fakePublisher{})

	report, err := analyzer.Analyze(context.Background(), "CVE-2024-0001", 0)
	require.NoError(t, err)

	assert.WithinDuration(t, report.TimeWindowEnd, report.TimeWindowStart.Add(24*time.Hour), time.Second)
	assert.Equal(t, blastradius.SeverityLow, report.Severity)
}
