// Package httpapi is the echo-based HTTP request router, wired the way an
// audit-service wires its handlers (a RegisterRoutes entry point taking an
// echo.Echo and a narrow dependency bundle, one handler func per route).
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cast"

	"github.com/Tangerg/ragguard/internal/blastradius"
	"github.com/Tangerg/ragguard/internal/config"
	"github.com/Tangerg/ragguard/internal/eventbus"
	"github.com/Tangerg/ragguard/internal/pipeline"
	"github.com/Tangerg/ragguard/internal/vault"
)

const (
	defaultEventsLimit = 100
	maxEventsLimit     = 1000

	defaultBlastRadiusWindow = 24 * time.Hour
)

// Dependencies bundles every collaborator the HTTP surface calls into,
// following the wiring design note that the HTTP layer never holds more than
// narrow handles on the components it fronts.
type Dependencies struct {
	Pipeline    *pipeline.Pipeline
	Vault       *vault.Vault
	BlastRadius *blastradius.Analyzer
	Events      *eventbus.Bus
	Config      *config.Config

	StartedAt time.Time

	// IndexSize reports how many documents the retrieval index currently
	// holds, for GET /api/status. Required.
	IndexSize func() int

	// ResetIndex and ResetLineage back POST /api/demo/reset's destructive
	// wipe of the remaining two durable stores (the vault and event bus
	// already expose their own Reset). ResetIndex is nil-checked so a
	// Qdrant-backed deployment (whose collection reset is a separate
	// operational concern) can simply not supply it.
	ResetIndex   func() error
	ResetLineage func() error
}

// RegisterRoutes mounts every HTTP endpoint on e.
func RegisterRoutes(e *echo.Echo, deps Dependencies) {
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	api := e.Group("/api")

	api.POST("/query", queryHandler(deps, false))
	api.POST("/query/unsafe", queryHandler(deps, true))

	api.GET("/quarantine", listQuarantineHandler(deps))
	api.POST("/quarantine/:id/confirm", confirmQuarantineHandler(deps))
	api.POST("/quarantine/:id/restore", restoreQuarantineHandler(deps))

	api.GET("/blast-radius/:doc_id", blastRadiusHandler(deps))

	api.GET("/events", listEventsHandler(deps))
	api.GET("/events/stream", streamEventsHandler(deps))

	api.POST("/demo/reset", demoResetHandler(deps))

	api.GET("/status", statusHandler(deps))
}

// queryHandler serves both POST /api/query and POST /api/query/unsafe; the
// unsafe variant is additionally gated on Config.UnsafeEndpointEnabled so a
// misconfigured deployment can't reach it even though the route is always
// registered.
func queryHandler(deps Dependencies, unsafe bool) echo.HandlerFunc {
	return func(c echo.Context) error {
		if unsafe && !deps.Config.UnsafeEndpointEnabled {
			return c.JSON(http.StatusNotFound, errResp("unsafe query endpoint is disabled"))
		}

		var req queryRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, errResp("invalid request body"))
		}
		if req.Query == "" {
			return c.JSON(http.StatusBadRequest, errResp("query is required"))
		}

		var (
			result *pipeline.Result
			err    error
		)
		if unsafe {
			result, err = deps.Pipeline.QueryUnsafe(c.Request().Context(), req.Query, req.UserID, req.K)
		} else {
			result, err = deps.Pipeline.Query(c.Request().Context(), req.Query, req.UserID, req.K)
		}
		if err != nil {
			return c.JSON(statusFor(err), errResp(err.Error()))
		}

		return c.JSON(http.StatusOK, toQueryResponse(result))
	}
}

// listQuarantineHandler serves GET /api/quarantine?include_restored=1. By
// default RESTORED records are hidden; the endpoint exists for analysts
// triaging open cases, not for a full audit trail (lineage covers that).
func listQuarantineHandler(deps Dependencies) echo.HandlerFunc {
	return func(c echo.Context) error {
		includeRestored := c.QueryParam("include_restored") != ""

		var records []*vault.Record
		if includeRestored {
			records = deps.Vault.List("")
		} else {
			for _, rec := range deps.Vault.List("") {
				if rec.State != vault.StateRestored {
					records = append(records, rec)
				}
			}
		}
		if records == nil {
			records = []*vault.Record{}
		}

		return c.JSON(http.StatusOK, quarantineListResponse{Quarantined: records})
	}
}

func confirmQuarantineHandler(deps Dependencies) echo.HandlerFunc {
	return func(c echo.Context) error {
		return quarantineActionHandler(c, deps, deps.Vault.Confirm)
	}
}

func restoreQuarantineHandler(deps Dependencies) echo.HandlerFunc {
	return func(c echo.Context) error {
		return quarantineActionHandler(c, deps, deps.Vault.Restore)
	}
}

func quarantineActionHandler(c echo.Context, deps Dependencies, action func(ctx context.Context, quarantineID, actor, notes string) error) error {
	quarantineID := c.Param("id")

	var req quarantineActionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errResp("invalid request body"))
	}
	if req.Analyst == "" {
		return c.JSON(http.StatusBadRequest, errResp("analyst is required"))
	}

	if err := action(c.Request().Context(), quarantineID, req.Analyst, req.Notes); err != nil {
		switch {
		case errors.Is(err, vault.ErrNotFound):
			return c.JSON(http.StatusNotFound, errResp(err.Error()))
		case errors.Is(err, vault.ErrInvalidState):
			return c.JSON(http.StatusConflict, errResp(err.Error()))
		default:
			return c.JSON(http.StatusInternalServerError, errResp(err.Error()))
		}
	}

	return c.NoContent(http.StatusNoContent)
}

// blastRadiusHandler serves GET /api/blast-radius/:doc_id?window_hours=24.
func blastRadiusHandler(deps Dependencies) echo.HandlerFunc {
	return func(c echo.Context) error {
		docID := c.Param("doc_id")

		window := defaultBlastRadiusWindow
		if v := c.QueryParam("window_hours"); v != "" {
			if hours, err := cast.ToIntE(v); err == nil && hours > 0 {
				window = time.Duration(hours) * time.Hour
			}
		}

		report, err := deps.BlastRadius.Analyze(c.Request().Context(), docID, window)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, errResp(err.Error()))
		}

		return c.JSON(http.StatusOK, report)
	}
}

// listEventsHandler serves GET /api/events?limit=N, the polling complement
// to the SSE stream.
func listEventsHandler(deps Dependencies) echo.HandlerFunc {
	return func(c echo.Context) error {
		limit := defaultEventsLimit
		if v := c.QueryParam("limit"); v != "" {
			if n, err := cast.ToIntE(v); err == nil && n > 0 {
				limit = n
			}
		}
		if limit > maxEventsLimit {
			limit = maxEventsLimit
		}

		return c.JSON(http.StatusOK, map[string]any{
			"events": deps.Events.Recent(limit),
		})
	}
}

// streamEventsHandler serves GET /api/events/stream, handing the response
// writer straight to the bus's SSE pump.
func streamEventsHandler(deps Dependencies) echo.HandlerFunc {
	return func(c echo.Context) error {
		return deps.Events.StreamHTTP(c.Request().Context(), c.Response())
	}
}

// demoResetHandler serves POST /api/demo/reset, wiping every durable store
// back to empty. Gated on Config.DemoResetEnabled: this is a destructive,
// demo-only operation and must never be reachable in a deployment that
// carries real data.
func demoResetHandler(deps Dependencies) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !deps.Config.DemoResetEnabled {
			return c.JSON(http.StatusNotFound, errResp("demo reset endpoint is disabled"))
		}

		if err := deps.Vault.Reset(); err != nil {
			return c.JSON(http.StatusInternalServerError, errResp("vault reset failed: "+err.Error()))
		}
		if err := deps.Events.Reset(); err != nil {
			return c.JSON(http.StatusInternalServerError, errResp("event log reset failed: "+err.Error()))
		}
		if deps.ResetLineage != nil {
			if err := deps.ResetLineage(); err != nil {
				return c.JSON(http.StatusInternalServerError, errResp("lineage reset failed: "+err.Error()))
			}
		}
		if deps.ResetIndex != nil {
			if err := deps.ResetIndex(); err != nil {
				return c.JSON(http.StatusInternalServerError, errResp("index reset failed: "+err.Error()))
			}
		}

		return c.NoContent(http.StatusNoContent)
	}
}

// statusHandler serves GET /api/status.
func statusHandler(deps Dependencies) echo.HandlerFunc {
	return func(c echo.Context) error {
		uptime := time.Since(deps.StartedAt)
		return c.JSON(http.StatusOK, statusResponse{
			DocumentsIndexed: deps.IndexSize(),
			VaultSize:        deps.Vault.Size(),
			UptimeSeconds:    int64(uptime.Seconds()),
			Version:          config.Version,
		})
	}
}

func errResp(msg string) map[string]string {
	return map[string]string{"error": msg}
}
