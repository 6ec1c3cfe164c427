package httpapi

import (
	"github.com/Tangerg/ragguard/internal/docmodel"
	"github.com/Tangerg/ragguard/internal/pipeline"
	"github.com/Tangerg/ragguard/internal/vault"
)

// queryRequest is the POST /api/query and /api/query/unsafe request body.
type queryRequest struct {
	Query  string `json:"query"`
	UserID string `json:"user_id"`
	K      int    `json:"k,omitempty"`
}

// signalsDTO is the per-document entry of integrity_signals in the
// response, trimmed to the four published scores (ShouldQuarantine is an
// internal derived field, not part of the wire shape).
type signalsDTO struct {
	Trust         float64 `json:"trust_score"`
	RedFlag       float64 `json:"red_flag_score"`
	Anomaly       float64 `json:"anomaly_score"`
	SemanticDrift float64 `json:"semantic_drift_score"`
}

func toSignalsDTO(s docmodel.IntegritySignals) signalsDTO {
	return signalsDTO{
		Trust:         s.Trust,
		RedFlag:       s.RedFlag,
		Anomaly:       s.Anomaly,
		SemanticDrift: s.SemanticDrift,
	}
}

// queryResponse is the POST /api/query and /api/query/unsafe response.
type queryResponse struct {
	Answer           string                `json:"answer"`
	IntegritySignals map[string]signalsDTO `json:"integrity_signals"`
	RetrievedDocs    []string              `json:"retrieved_docs"`
	QuarantinedDocs  []string              `json:"quarantined_docs"`
	QueryID          string                `json:"query_id"`
}

func toQueryResponse(r *pipeline.Result) queryResponse {
	signals := make(map[string]signalsDTO, len(r.SignalsByDoc))
	for docID, s := range r.SignalsByDoc {
		signals[docID] = toSignalsDTO(s)
	}

	retrieved := r.RetrievedDocIDs
	if retrieved == nil {
		retrieved = []string{}
	}
	quarantined := r.QuarantinedDocIDs
	if quarantined == nil {
		quarantined = []string{}
	}

	return queryResponse{
		Answer:           r.Answer,
		IntegritySignals: signals,
		RetrievedDocs:    retrieved,
		QuarantinedDocs:  quarantined,
		QueryID:          r.QueryID,
	}
}

// quarantineActionRequest is the confirm/restore request body.
type quarantineActionRequest struct {
	Analyst string `json:"analyst"`
	Notes   string `json:"notes,omitempty"`
}

// quarantineListResponse is the GET /api/quarantine response.
type quarantineListResponse struct {
	Quarantined []*vault.Record `json:"quarantined"`
}

// statusResponse is the GET /api/status response.
type statusResponse struct {
	DocumentsIndexed int    `json:"documents_indexed"`
	VaultSize        int    `json:"vault_size"`
	UptimeSeconds    int64  `json:"uptime_seconds"`
	Version          string `json:"version"`
}
