package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tangerg/ragguard/internal/blastradius"
	"github.com/Tangerg/ragguard/internal/config"
	"github.com/Tangerg/ragguard/internal/docmodel"
	"github.com/Tangerg/ragguard/internal/embed"
	"github.com/Tangerg/ragguard/internal/eventbus"
	"github.com/Tangerg/ragguard/internal/generator/staticgenerator"
	"github.com/Tangerg/ragguard/internal/httpapi"
	"github.com/Tangerg/ragguard/internal/ids"
	"github.com/Tangerg/ragguard/internal/lineage"
	"github.com/Tangerg/ragguard/internal/pipeline"
	"github.com/Tangerg/ragguard/internal/preprocess"
	"github.com/Tangerg/ragguard/internal/retrieval"
	"github.com/Tangerg/ragguard/internal/retrieval/memindex"
	"github.com/Tangerg/ragguard/internal/scoring"
	"github.com/Tangerg/ragguard/internal/vault"
)

var trustTable = map[string]float64{"nvd.nist.gov": 1.0, "unknown-security-site.com": 0.0}

var redFlagCategories = map[string][]string{
	"security-downgrade":   {"disable firewall", "disable antivirus"},
	"dangerous-permissions": {"chmod 777", "run as root"},
}

func newTestEcho(t *testing.T, unsafeEnabled, demoResetEnabled bool) (*echo.Echo, *vault.Vault, *retrieval.Adapter) {
	t.Helper()
	dir := t.TempDir()
	ctx := context.Background()

	events, err := eventbus.Open(filepath.Join(dir, "events.jsonl"), slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = events.Close() })

	lineageStore, err := lineage.Open(filepath.Join(dir, "lineage.jsonl"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = lineageStore.Close() })

	embedder := embed.NewDeterministicHash(16)
	index := memindex.New()
	adapter := retrieval.NewAdapter(embedder, index, preprocess.NewExtractor())

	v, err := vault.Open(filepath.Join(dir, "vault"), adapter, events)
	require.NoError(t, err)

	drift, err := scoring.NewSemanticDriftScorer(ctx, embedder, []string{"Apply the vendor patch and verify the checksum."})
	require.NoError(t, err)

	scorers := scoring.ScorerSet{
		Trust:         scoring.NewTrustScorer(trustTable),
		RedFlag:       scoring.NewRedFlagScorer(redFlagCategories),
		Anomaly:       scoring.NewAnomalyScorer(trustTable),
		SemanticDrift: drift,
	}

	p := pipeline.New(
		preprocess.NewProcessor(nil), adapter, scorers, v, events, lineageStore,
		staticgenerator.New(), ids.NewUUIDGenerator(), pipeline.Config{DefaultK: 5},
	)

	analyzer := blastradius.New(lineageStore, events)

	cfg := config.New(&config.Options{
		UnsafeEndpointEnabled: unsafeEnabled,
		DemoResetEnabled:      demoResetEnabled,
	})

	e := echo.New()
	httpapi.RegisterRoutes(e, httpapi.Dependencies{
		Pipeline:     p,
		Vault:        v,
		BlastRadius:  analyzer,
		Events:       events,
		Config:       cfg,
		StartedAt:    time.Now(),
		IndexSize:    index.Size,
		ResetIndex:   func() error { index.Reset(); return nil },
		ResetLineage: lineageStore.Reset,
	})
	return e, v, adapter
}

func doJSON(e *echo.Echo, method, path string, body any) *httptest.ResponseRecorder {
	var r *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		r = bytes.NewReader(b)
	} else {
		r = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	e, _, _ := newTestEcho(t, false, false)
	rec := doJSON(e, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestQueryEndpointRequiresQuery(t *testing.T) {
	e, _, _ := newTestEcho(t, false, false)
	rec := doJSON(e, http.MethodPost, "/api/query", map[string]string{"query": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueryEndpointReturnsAnswer(t *testing.T) {
	e, _, adapter := newTestEcho(t, false, false)
	require.NoError(t, adapter.Ingest(context.Background(), "CVE-2024-0001",
		"Apply the vendor-supplied patch for CVE-2024-0001 and verify the checksum.",
		docmodel.Metadata{Source: "nvd.nist.gov", Category: "advisory"}))

	rec := doJSON(e, http.MethodPost, "/api/query", map[string]any{"query": "Tell me about CVE-2024-0001"})
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body["answer"])
}

func TestUnsafeQueryEndpointDisabledByDefault(t *testing.T) {
	e, _, _ := newTestEcho(t, false, false)
	rec := doJSON(e, http.MethodPost, "/api/query/unsafe", map[string]any{"query": "anything"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnsafeQueryEndpointEnabled(t *testing.T) {
	e, _, adapter := newTestEcho(t, true, false)
	require.NoError(t, adapter.Ingest(context.Background(), "CVE-2024-0001",
		"Apply the vendor-supplied patch for CVE-2024-0001.",
		docmodel.Metadata{Source: "nvd.nist.gov", Category: "advisory"}))

	rec := doJSON(e, http.MethodPost, "/api/query/unsafe", map[string]any{"query": "Tell me about CVE-2024-0001"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestQuarantineLifecycle(t *testing.T) {
	e, v, adapter := newTestEcho(t, false, false)
	require.NoError(t, adapter.Ingest(context.Background(), "CVE-2024-0004-poisoned", "poisoned content",
		docmodel.Metadata{Source: "unknown-security-site.com"}))
	qid, err := v.Quarantine(context.Background(), "CVE-2024-0004-poisoned", "poisoned content",
		docmodel.Metadata{Source: "unknown-security-site.com"}, docmodel.IntegritySignals{}, "test quarantine")
	require.NoError(t, err)

	rec := doJSON(e, http.MethodGet, "/api/quarantine", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listBody map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listBody))
	assert.Len(t, listBody["quarantined"], 1)

	confirmRec := doJSON(e, http.MethodPost, "/api/quarantine/"+qid+"/confirm", map[string]string{"analyst": "alice"})
	assert.Equal(t, http.StatusNoContent, confirmRec.Code)

	againRec := doJSON(e, http.MethodPost, "/api/quarantine/"+qid+"/confirm", map[string]string{"analyst": "alice"})
	assert.Equal(t, http.StatusConflict, againRec.Code)
}

func TestQuarantineActionRequiresAnalyst(t *testing.T) {
	e, v, adapter := newTestEcho(t, false, false)
	require.NoError(t, adapter.Ingest(context.Background(), "CVE-2024-0004-poisoned", "poisoned content",
		docmodel.Metadata{}))
	qid, err := v.Quarantine(context.Background(), "CVE-2024-0004-poisoned", "poisoned content",
		docmodel.Metadata{}, docmodel.IntegritySignals{}, "test")
	require.NoError(t, err)

	rec := doJSON(e, http.MethodPost, "/api/quarantine/"+qid+"/confirm", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQuarantineActionUnknownID(t *testing.T) {
	e, _, _ := newTestEcho(t, false, false)
	rec := doJSON(e, http.MethodPost, "/api/quarantine/does-not-exist/confirm", map[string]string{"analyst": "alice"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDemoResetDisabledByDefault(t *testing.T) {
	e, _, _ := newTestEcho(t, false, false)
	rec := doJSON(e, http.MethodPost, "/api/demo/reset", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDemoResetEnabled(t *testing.T) {
	e, _, _ := newTestEcho(t, false, true)
	rec := doJSON(e, http.MethodPost, "/api/demo/reset", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestStatusEndpoint(t *testing.T) {
	e, _, _ := newTestEcho(t, false, false)
	rec := doJSON(e, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, config.Version, body["version"])
}

func TestBlastRadiusEndpoint(t *testing.T) {
	e, _, _ := newTestEcho(t, false, false)
	rec := doJSON(e, http.MethodGet, "/api/blast-radius/CVE-2024-0001", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "CVE-2024-0001", body["doc_id"])
	assert.Equal(t, "LOW", body["severity"])
}

func TestEventsEndpoint(t *testing.T) {
	e, _, _ := newTestEcho(t, false, false)
	rec := doJSON(e, http.MethodGet, "/api/events?limit=10", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
