// Package pipeline is the integrity pipeline that orchestrates
// preprocessing, retrieval, parallel scoring, quarantine, and generation for
// a single query, using the same stage-wrapped-error orchestration shape as
// a sequential RAG Execute method: each stage's error is wrapped with its
// own context before propagating.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Tangerg/ragguard/internal/docmodel"
	"github.com/Tangerg/ragguard/internal/eventbus"
	"github.com/Tangerg/ragguard/internal/generator"
	"github.com/Tangerg/ragguard/internal/ids"
	"github.com/Tangerg/ragguard/internal/lineage"
	"github.com/Tangerg/ragguard/internal/preprocess"
	"github.com/Tangerg/ragguard/internal/retrieval"
	"github.com/Tangerg/ragguard/internal/scoring"
	"github.com/Tangerg/ragguard/internal/vault"
)

// defaultDeadline is the default query budget, sized to leave generation
// (the slowest stage) comfortable room after retrieval and scoring.
const defaultDeadline = 30 * time.Second

// defaultK is the retrieval width used when a caller doesn't specify one.
const defaultK = 5

const (
	noDocsFallbackMessage   = "The requested identifier's document is unavailable (quarantined or absent)."
	allQuarantinedMessage   = "All retrieved material failed integrity checks; no answer can be safely generated."
	generationFailedMessage = "Generation failed; no answer is available for this query."
)

// EventPublisher is the subset of the event bus the pipeline depends on.
type EventPublisher interface {
	Publish(code eventbus.Code, level eventbus.Level, message, category, correlationID string, payload map[string]any) (uint64, error)
}

// LineageAppender is the subset of the lineage store the pipeline depends on.
type LineageAppender interface {
	Append(rec lineage.Record) error
}

// Result is the outcome of a single protected or unsafe query, matching the
// `POST /api/query` response shape.
type Result struct {
	Answer            string
	SignalsByDoc      map[string]docmodel.IntegritySignals
	RetrievedDocIDs   []string
	QuarantinedDocIDs []string
	QueryID           string
}

// Config parameterizes a Pipeline.
type Config struct {
	DefaultK         int
	Deadline         time.Duration
	AggregatorConfig scoring.AggregatorConfig
}

// DefaultConfig returns the normative defaults (k=5, 30s deadline, Θ=0.5/Q=2).
func DefaultConfig() Config {
	return Config{
		DefaultK:         defaultK,
		Deadline:         defaultDeadline,
		AggregatorConfig: scoring.DefaultAggregatorConfig(),
	}
}

// Pipeline orchestrates a query end to end. Every collaborator is injected
// as a narrow interface or concrete handle under a one-way-wiring rule: the
// pipeline holds a vault handle, never the reverse.
type Pipeline struct {
	processor *preprocess.Processor
	adapter   *retrieval.Adapter
	scorers   scoring.ScorerSet
	vault     *vault.Vault
	events    EventPublisher
	lineage   LineageAppender
	generator generator.Generator
	idGen     ids.Generator

	cfg Config
}

// New builds a Pipeline from its collaborators and cfg. A zero Config is
// replaced with DefaultConfig's values field by field.
func New(
	processor *preprocess.Processor,
	adapter *retrieval.Adapter,
	scorers scoring.ScorerSet,
	v *vault.Vault,
	events EventPublisher,
	lineageStore LineageAppender,
	gen generator.Generator,
	idGen ids.Generator,
	cfg Config,
) *Pipeline {
	if cfg.DefaultK <= 0 {
		cfg.DefaultK = defaultK
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = defaultDeadline
	}
	if cfg.AggregatorConfig == (scoring.AggregatorConfig{}) {
		cfg.AggregatorConfig = scoring.DefaultAggregatorConfig()
	}
	return &Pipeline{
		processor: processor,
		adapter:   adapter,
		scorers:   scorers,
		vault:     v,
		events:    events,
		lineage:   lineageStore,
		generator: gen,
		idGen:     idGen,
		cfg:       cfg,
	}
}

// Query runs the full protected path: preprocess, retrieve, score, quarantine
// anything that fails integrity checks, then generate from what survives.
func (p *Pipeline) Query(ctx context.Context, text, userID string, k int) (*Result, error) {
	if k <= 0 {
		k = p.cfg.DefaultK
	}

	queryID, err := p.idGen.Generate(ctx)
	if err != nil {
		return nil, fmt.Errorf("pipeline: generate query id: %w", err)
	}

	qctx, cancel := context.WithTimeout(ctx, p.cfg.Deadline)
	defer cancel()

	p.publish(eventbus.CodeQueryReceived, eventbus.LevelInfo,
		fmt.Sprintf("query %s received", queryID), "pipeline", queryID,
		map[string]any{"user_id": userID})

	proc := p.processor.Process(text)

	// Step 3: retrieve.
	retrieved, err := p.adapter.Retrieve(qctx, proc.AugmentedText, k, true, proc.Filter)
	if err != nil {
		if isDeadlineExceeded(qctx) {
			return nil, p.timeout(queryID, text, userID, nil, nil)
		}
		return nil, &Error{Kind: KindRetrieval, Err: err}
	}

	retrievedIDs := docIDs(retrieved)

	// Step 4: no-fallback short-circuit when an exact-identifier filter was
	// applied and nothing survived it.
	if proc.Filter != nil && len(retrieved) == 0 {
		p.publish(eventbus.CodeRetrievalFallback, eventbus.LevelWarn,
			fmt.Sprintf("query %s: filtered retrieval returned no documents", queryID),
			"pipeline", queryID, nil)

		if err := p.lineage.Append(lineage.Record{
			QueryID:           queryID,
			QueryText:         text,
			UserID:            userID,
			RetrievedDocIDs:   []string{},
			QuarantinedDocIDs: []string{},
			Action:            lineage.ActionBlocked,
		}); err != nil {
			p.publish(eventbus.CodeRetrievalFallback, eventbus.LevelCritical,
				fmt.Sprintf("query %s: lineage append failed: %v", queryID, err),
				"pipeline", queryID, nil)
		}

		return &Result{
			Answer:            noDocsFallbackMessage,
			SignalsByDoc:      map[string]docmodel.IntegritySignals{},
			RetrievedDocIDs:   retrievedIDs,
			QuarantinedDocIDs: []string{},
			QueryID:           queryID,
		}, nil
	}

	p.publish(eventbus.CodeRetrievalCompleted, eventbus.LevelInfo,
		fmt.Sprintf("query %s: retrieved %d documents", queryID, len(retrieved)),
		"pipeline", queryID, map[string]any{"count": len(retrieved)})

	// Step 5: score every retrieved document concurrently; max latency, not
	// sum, over documents.
	docs := make([]*docmodel.Document, len(retrieved))
	for i, s := range retrieved {
		docs[i] = s.Document
	}

	signalsByDoc, err := p.scoreAll(qctx, queryID, docs)
	if err != nil {
		return nil, err
	}
	if isDeadlineExceeded(qctx) {
		return nil, p.timeout(queryID, text, userID, retrievedIDs, nil)
	}

	// Step 6: quarantine every document whose aggregate vote fails.
	var quarantinedIDs []string
	for _, doc := range docs {
		signals := signalsByDoc[doc.ID]
		if !signals.ShouldQuarantine {
			p.publish(eventbus.CodeIntegrityPassed, eventbus.LevelInfo,
				fmt.Sprintf("query %s: %s passed integrity checks", queryID, doc.ID),
				"scoring", queryID, map[string]any{"doc_id": doc.ID})
			continue
		}

		reason := fmt.Sprintf(
			"integrity vote failed: trust=%.2f red_flag=%.2f anomaly=%.2f semantic_drift=%.2f",
			signals.Trust, signals.RedFlag, signals.Anomaly, signals.SemanticDrift)

		if _, err := p.vault.Quarantine(qctx, doc.ID, doc.Content, doc.Metadata, signals, reason); err != nil {
			// Write aborted: document remains retrievable, the vault itself
			// already emitted a CRITICAL event; the pipeline continues
			// treating doc as not-quarantined.
			continue
		}
		quarantinedIDs = append(quarantinedIDs, doc.ID)
	}
	if quarantinedIDs == nil {
		quarantinedIDs = []string{}
	}

	if isDeadlineExceeded(qctx) {
		return nil, p.timeout(queryID, text, userID, retrievedIDs, quarantinedIDs)
	}

	clean := cleanDocs(docs, quarantinedIDs)

	// Step 7: generate, or the all-quarantined safety message.
	answer := allQuarantinedMessage
	if len(clean) > 0 {
		generated, err := p.generator.Generate(qctx, text, clean)
		if err != nil {
			answer = generationFailedMessage
		} else {
			answer = generated
			p.publish(eventbus.CodeGenerationCompleted, eventbus.LevelInfo,
				fmt.Sprintf("query %s: generation completed", queryID),
				"pipeline", queryID, nil)
		}
	}

	// Step 8: lineage, action derived from how many docs were quarantined.
	action := lineage.ActionClean
	switch {
	case len(quarantinedIDs) == 0:
		action = lineage.ActionClean
	case len(quarantinedIDs) == len(docs):
		action = lineage.ActionBlocked
	default:
		action = lineage.ActionPartial
	}

	if err := p.lineage.Append(lineage.Record{
		QueryID:           queryID,
		QueryText:         text,
		UserID:            userID,
		RetrievedDocIDs:   retrievedIDs,
		QuarantinedDocIDs: quarantinedIDs,
		Action:            action,
	}); err != nil {
		p.publish(eventbus.CodeGenerationCompleted, eventbus.LevelCritical,
			fmt.Sprintf("query %s: lineage append failed: %v", queryID, err),
			"pipeline", queryID, nil)
	}

	return &Result{
		Answer:            answer,
		SignalsByDoc:      signalsByDoc,
		RetrievedDocIDs:   retrievedIDs,
		QuarantinedDocIDs: quarantinedIDs,
		QueryID:           queryID,
	}, nil
}

// QueryUnsafe is a demonstration-only unsafe path: identical preprocessing
// and retrieval, but scoring and quarantine are skipped entirely and the
// LLM is called on the raw retrieved set. It is a distinct exported method
// rather than a flag threaded through Query so it can never be reached by a
// mis-set boolean; the HTTP layer applies its own independent gate on top
// (UnsafeEndpointEnabled).
func (p *Pipeline) QueryUnsafe(ctx context.Context, text, userID string, k int) (*Result, error) {
	if k <= 0 {
		k = p.cfg.DefaultK
	}

	queryID, err := p.idGen.Generate(ctx)
	if err != nil {
		return nil, fmt.Errorf("pipeline: generate query id: %w", err)
	}

	qctx, cancel := context.WithTimeout(ctx, p.cfg.Deadline)
	defer cancel()

	p.publish(eventbus.CodeQueryReceived, eventbus.LevelInfo,
		fmt.Sprintf("unsafe query %s received", queryID), "pipeline", queryID,
		map[string]any{"user_id": userID})

	proc := p.processor.Process(text)

	retrieved, err := p.adapter.Retrieve(qctx, proc.AugmentedText, k, true, proc.Filter)
	if err != nil {
		if isDeadlineExceeded(qctx) {
			return nil, p.timeout(queryID, text, userID, nil, nil)
		}
		return nil, &Error{Kind: KindRetrieval, Err: err}
	}

	retrievedIDs := docIDs(retrieved)
	docs := make([]*docmodel.Document, len(retrieved))
	for i, s := range retrieved {
		docs[i] = s.Document
	}

	answer := allQuarantinedMessage
	if len(docs) > 0 {
		generated, err := p.generator.Generate(qctx, text, docs)
		if err != nil {
			answer = generationFailedMessage
		} else {
			answer = generated
			p.publish(eventbus.CodeGenerationCompleted, eventbus.LevelInfo,
				fmt.Sprintf("unsafe query %s: generation completed", queryID),
				"pipeline", queryID, nil)
		}
	}

	if err := p.lineage.Append(lineage.Record{
		QueryID:           queryID,
		QueryText:         text,
		UserID:            userID,
		RetrievedDocIDs:   retrievedIDs,
		QuarantinedDocIDs: []string{},
		Action:            lineage.ActionClean,
	}); err != nil {
		p.publish(eventbus.CodeGenerationCompleted, eventbus.LevelCritical,
			fmt.Sprintf("unsafe query %s: lineage append failed: %v", queryID, err),
			"pipeline", queryID, nil)
	}

	return &Result{
		Answer:            answer,
		SignalsByDoc:      map[string]docmodel.IntegritySignals{},
		RetrievedDocIDs:   retrievedIDs,
		QuarantinedDocIDs: []string{},
		QueryID:           queryID,
	}, nil
}

// scoreAll fans out the four-signal evaluation across docs concurrently,
// using the same errgroup+map-collection shape as a multi-query RAG
// retrieval fan-out.
func (p *Pipeline) scoreAll(ctx context.Context, queryID string, docs []*docmodel.Document) (map[string]docmodel.IntegritySignals, error) {
	slots := make([]docmodel.IntegritySignals, len(docs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(len(docs))

	for i, doc := range docs {
		i, doc := i, doc
		g.Go(func() error {
			signals := p.scorers.Evaluate(gctx, doc, docs, func(signal string, err error) {
				p.publish(eventbus.CodeScorerDegraded, eventbus.LevelWarn,
					fmt.Sprintf("query %s: %s scorer failed for %s, defaulting to 0.5: %v", queryID, signal, doc.ID, err),
					"scoring", queryID, map[string]any{"doc_id": doc.ID, "signal": signal})
			})
			slots[i] = scoring.Aggregate(p.cfg.AggregatorConfig, signals)
			return nil
		})
	}
	// Individual scorer faults degrade to 0.5 inside Evaluate and never
	// propagate, so Wait cannot return an error here.
	_ = g.Wait()

	results := make(map[string]docmodel.IntegritySignals, len(docs))
	for i, doc := range docs {
		results[doc.ID] = slots[i]
	}
	return results, nil
}

func (p *Pipeline) timeout(queryID, text, userID string, retrievedIDs, quarantinedIDs []string) error {
	p.publish(eventbus.CodeDeadlineExceeded, eventbus.LevelWarn,
		fmt.Sprintf("query %s exceeded its deadline", queryID), "pipeline", queryID, nil)

	// Best-effort partial lineage: only if some quarantine already happened.
	// Append takes no context, so the expired deadline does not abort it.
	if len(quarantinedIDs) > 0 {
		_ = p.lineage.Append(lineage.Record{
			QueryID:           queryID,
			QueryText:         text,
			UserID:            userID,
			RetrievedDocIDs:   retrievedIDs,
			QuarantinedDocIDs: quarantinedIDs,
			Action:            lineage.ActionPartial,
		})
	}

	return &Error{Kind: KindTimeout, Err: context.DeadlineExceeded}
}

func (p *Pipeline) publish(code eventbus.Code, level eventbus.Level, message, category, correlationID string, payload map[string]any) {
	if p.events == nil {
		return
	}
	_, _ = p.events.Publish(code, level, message, category, correlationID, payload)
}

func isDeadlineExceeded(ctx context.Context) bool {
	return errors.Is(ctx.Err(), context.DeadlineExceeded)
}

func docIDs(scored []docmodel.Scored) []string {
	ids := make([]string, len(scored))
	for i, s := range scored {
		ids[i] = s.Document.ID
	}
	return ids
}

func cleanDocs(docs []*docmodel.Document, quarantinedIDs []string) []*docmodel.Document {
	quarantined := make(map[string]struct{}, len(quarantinedIDs))
	for _, id := range quarantinedIDs {
		quarantined[id] = struct{}{}
	}

	clean := make([]*docmodel.Document, 0, len(docs))
	for _, doc := range docs {
		if _, ok := quarantined[doc.ID]; ok {
			continue
		}
		clean = append(clean, doc)
	}
	return clean
}
