// Package wiring is the single construction point for every ragguard
// collaborator. A cyclic-looking dependency graph (vault and pipeline both
// touch adapter metadata) is resolved by building each component once here
// and handing out one-way interface handles, rather than letting components
// reach for each other directly.
// The shape mirrors a build/start/wait/stop process lifecycle, tearing
// components down in the reverse of their build order.
package wiring

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"path/filepath"
	"strconv"

	"github.com/qdrant/go-client/qdrant"

	"github.com/Tangerg/ragguard/internal/blastradius"
	"github.com/Tangerg/ragguard/internal/config"
	"github.com/Tangerg/ragguard/internal/embed"
	"github.com/Tangerg/ragguard/internal/eventbus"
	"github.com/Tangerg/ragguard/internal/generator"
	"github.com/Tangerg/ragguard/internal/generator/httpgenerator"
	"github.com/Tangerg/ragguard/internal/generator/staticgenerator"
	"github.com/Tangerg/ragguard/internal/ids"
	"github.com/Tangerg/ragguard/internal/lineage"
	"github.com/Tangerg/ragguard/internal/pipeline"
	"github.com/Tangerg/ragguard/internal/preprocess"
	"github.com/Tangerg/ragguard/internal/retrieval"
	"github.com/Tangerg/ragguard/internal/retrieval/memindex"
	qdrantindex "github.com/Tangerg/ragguard/internal/retrieval/qdrant"
	"github.com/Tangerg/ragguard/internal/scoring"
	"github.com/Tangerg/ragguard/internal/vault"
)

const (
	eventsFileName  = "events.jsonl"
	lineageFileName = "query_lineage.jsonl"
	vaultDirName    = "vault"
)

// App is every long-lived collaborator Build constructed, plus enough of
// each component's own surface for cmd/ragguard to mount HTTP routes and
// shut down cleanly.
type App struct {
	Logger *slog.Logger

	Events      *eventbus.Bus
	Lineage     *lineage.Store
	Vault       *vault.Vault
	Pipeline    *pipeline.Pipeline
	BlastRadius *blastradius.Analyzer

	indexSize  func() int
	resetIndex func() error

	memIndex *memindex.Index // nil when Qdrant-backed
}

// IndexSize reports the current document count of the retrieval index.
func (a *App) IndexSize() int { return a.indexSize() }

// ResetIndex clears the retrieval index, when the configured backend
// supports it (the in-memory demo index always does; a Qdrant-backed
// deployment's collection reset is an operational concern, so
// ResetIndexSupported reports false there and ResetIndex is a no-op).
func (a *App) ResetIndex() error {
	if a.resetIndex == nil {
		return nil
	}
	return a.resetIndex()
}

// ResetIndexSupported reports whether ResetIndex actually does anything.
func (a *App) ResetIndexSupported() bool { return a.resetIndex != nil }

// Close tears down the stores that hold open files in the reverse of their
// build order: the lineage store first, then the event bus. The vault,
// adapter, scorers and pipeline hold no open files and are not closed.
func (a *App) Close() error {
	var errs []error
	if err := a.Lineage.Close(); err != nil {
		errs = append(errs, fmt.Errorf("wiring: close lineage store: %w", err))
	}
	if err := a.Events.Close(); err != nil {
		errs = append(errs, fmt.Errorf("wiring: close event bus: %w", err))
	}
	return joinErrors(errs)
}

// Build constructs every collaborator the service depends on and wires them
// into a runnable App, following a fixed init order: logger (event bus) →
// lineage → index and retrieval adapter → vault → scorers → generator →
// pipeline. The adapter is built before the vault because vault.Open takes
// the adapter handle. The HTTP surface is mounted afterwards by the caller
// via internal/httpapi.RegisterRoutes against the Dependencies this App
// exposes.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("ragguard: wiring starting", "data_dir", cfg.DataDir)

	events, err := eventbus.Open(filepath.Join(cfg.DataDir, eventsFileName), logger)
	if err != nil {
		return nil, fmt.Errorf("wiring: open event bus: %w", err)
	}

	lineageStore, err := lineage.Open(filepath.Join(cfg.DataDir, lineageFileName))
	if err != nil {
		events.Close()
		return nil, fmt.Errorf("wiring: open lineage store: %w", err)
	}

	embedder := embed.NewDeterministicHash(cfg.EmbeddingDimensions)

	index, indexSize, resetIndex, memIndex, err := buildIndex(ctx, cfg)
	if err != nil {
		events.Close()
		lineageStore.Close()
		return nil, err
	}

	adapter := retrieval.NewAdapter(embedder, index, preprocess.NewExtractor())

	v, err := vault.Open(filepath.Join(cfg.DataDir, vaultDirName), adapter, events)
	if err != nil {
		events.Close()
		lineageStore.Close()
		return nil, fmt.Errorf("wiring: open vault: %w", err)
	}

	scorers, err := buildScorers(ctx, embedder)
	if err != nil {
		events.Close()
		lineageStore.Close()
		return nil, err
	}

	gen, err := buildGenerator(cfg)
	if err != nil {
		events.Close()
		lineageStore.Close()
		return nil, err
	}

	p := pipeline.New(
		preprocess.NewProcessor(nil),
		adapter,
		scorers,
		v,
		events,
		lineageStore,
		gen,
		ids.NewUUIDGenerator(),
		pipeline.Config{
			DefaultK: cfg.DefaultK,
			Deadline: cfg.QueryDeadline,
		},
	)

	blastAnalyzer := blastradius.New(lineageStore, events)

	logger.Info("ragguard: wiring complete",
		"uses_qdrant", cfg.UsesQdrant(),
		"uses_openai", cfg.UsesOpenAI())

	return &App{
		Logger:      logger,
		Events:      events,
		Lineage:     lineageStore,
		Vault:       v,
		Pipeline:    p,
		BlastRadius: blastAnalyzer,
		indexSize:   indexSize,
		resetIndex:  resetIndex,
		memIndex:    memIndex,
	}, nil
}

// buildIndex constructs the configured retrieval.Index implementation: an
// in-memory index by default, or a Qdrant-backed one when cfg names a
// Qdrant address.
func buildIndex(ctx context.Context, cfg *config.Config) (idx retrieval.Index, size func() int, reset func() error, mem *memindex.Index, err error) {
	if !cfg.UsesQdrant() {
		m := memindex.New()
		return m, m.Size, func() error { m.Reset(); return nil }, m, nil
	}

	host, portStr, err := net.SplitHostPort(cfg.QdrantAddr)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("wiring: parse qdrant address %q: %w", cfg.QdrantAddr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("wiring: parse qdrant port %q: %w", portStr, err)
	}

	client, err := qdrant.NewClient(&qdrant.Config{Host: host, Port: port})
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("wiring: connect to qdrant: %w", err)
	}

	collection := cfg.QdrantCollection
	if collection == "" {
		collection = "ragguard"
	}

	qi, err := qdrantindex.New(ctx, qdrantindex.Config{
		Client:           client,
		CollectionName:   collection,
		Dimensions:       cfg.EmbeddingDimensions,
		InitializeSchema: true,
	})
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("wiring: build qdrant index: %w", err)
	}

	// Qdrant's own collection size and reset are operational concerns, so
	// GET /api/status reports 0 and demo reset is a no-op for this backend;
	// a real deployment observes index size through Qdrant's own tooling
	// instead.
	return qi, func() int { return 0 }, nil, nil, nil
}

func buildScorers(ctx context.Context, embedder *embed.DeterministicHash) (scoring.ScorerSet, error) {
	drift, err := scoring.NewSemanticDriftScorer(ctx, embedder, defaultGoldenDocs)
	if err != nil {
		return scoring.ScorerSet{}, fmt.Errorf("wiring: build semantic drift scorer: %w", err)
	}

	return scoring.ScorerSet{
		Trust:         scoring.NewTrustScorer(defaultTrustTable),
		RedFlag:       scoring.NewRedFlagScorer(defaultRedFlagCategories),
		Anomaly:       scoring.NewAnomalyScorer(defaultTrustTable),
		SemanticDrift: drift,
	}, nil
}

// buildGenerator returns the static canned generator by default, or a real
// httpgenerator when cfg carries an OpenAI API key.
func buildGenerator(cfg *config.Config) (generator.Generator, error) {
	if !cfg.UsesOpenAI() {
		return staticgenerator.New(), nil
	}

	gen, err := httpgenerator.New(httpgenerator.Config{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.OpenAIModel,
	})
	if err != nil {
		return nil, fmt.Errorf("wiring: build http generator: %w", err)
	}
	return gen, nil
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	msg := errs[0].Error()
	for _, e := range errs[1:] {
		msg += "; " + e.Error()
	}
	return fmt.Errorf("%s", msg)
}
