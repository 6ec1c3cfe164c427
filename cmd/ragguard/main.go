// Command ragguard runs the integrity-gated RAG security middleware as a
// standalone HTTP service, using a build/start/wait/stop process lifecycle
// and a graceful-shutdown-on-SIGTERM pattern.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/Tangerg/ragguard/internal/config"
	"github.com/Tangerg/ragguard/internal/httpapi"
	"github.com/Tangerg/ragguard/internal/wiring"
)

func main() {
	os.Exit(run())
}

func run() int {
	logger := slog.Default()

	opt := parseFlags()
	cfg := config.New(opt)
	if err := cfg.Validate(); err != nil {
		logger.Error("ragguard: invalid configuration", "error", err)
		return 2
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := wiring.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("ragguard: wiring failed", "error", err)
		return 1
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Error("ragguard: shutdown error", "error", err)
		}
	}()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			logger.Info("http request", "uri", v.URI, "status", v.Status)
			return nil
		},
	}))

	httpapi.RegisterRoutes(e, httpapi.Dependencies{
		Pipeline:     app.Pipeline,
		Vault:        app.Vault,
		BlastRadius:  app.BlastRadius,
		Events:       app.Events,
		Config:       cfg,
		StartedAt:    time.Now(),
		IndexSize:    app.IndexSize,
		ResetIndex:   app.ResetIndex,
		ResetLineage: app.Lineage.Reset,
	})

	go func() {
		logger.Info("ragguard: listening", "addr", cfg.ListenAddr)
		if err := e.Start(cfg.ListenAddr); err != nil && err != http.ErrServerClosed {
			logger.Error("ragguard: server failure", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	logger.Info("ragguard: shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("ragguard: http shutdown error", "error", err)
		return 1
	}

	return 0
}

func parseFlags() *config.Options {
	opt := &config.Options{}

	flag.StringVar(&opt.ListenAddr, "listen", ":8080", "HTTP listen address")
	flag.StringVar(&opt.DataDir, "data-dir", "./data", "directory for durable state (events, lineage, vault)")
	flag.BoolVar(&opt.UnsafeEndpointEnabled, "enable-unsafe-endpoint", false, "expose POST /api/query/unsafe (demonstration only)")
	flag.BoolVar(&opt.DemoResetEnabled, "enable-demo-reset", false, "expose POST /api/demo/reset (destructive)")
	flag.DurationVar(&opt.QueryDeadline, "query-deadline", 30*time.Second, "per-query deadline")
	flag.IntVar(&opt.DefaultK, "default-k", 5, "default retrieval width")
	flag.IntVar(&opt.EmbeddingDimensions, "embedding-dimensions", 32, "embedding vector width")
	flag.StringVar(&opt.QdrantAddr, "qdrant-addr", "", "host:port of a Qdrant instance (empty uses the in-memory index)")
	flag.StringVar(&opt.QdrantCollection, "qdrant-collection", "ragguard", "Qdrant collection name")
	flag.StringVar(&opt.OpenAIAPIKey, "openai-api-key", os.Getenv("OPENAI_API_KEY"), "OpenAI API key (empty uses the static demo generator)")
	flag.StringVar(&opt.OpenAIBaseURL, "openai-base-url", "", "override OpenAI-compatible API base URL")
	flag.StringVar(&opt.OpenAIModel, "openai-model", "gpt-4o-mini", "chat completion model name")
	flag.Parse()

	return opt
}
