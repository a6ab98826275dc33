package server

import (
	"log"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vizquery/vizquery/internal/pipeline"
	"github.com/vizquery/vizquery/internal/stream"
	"github.com/vizquery/vizquery/internal/telemetry"
)

var analyzeTracer = otel.Tracer("vizquery/internal/server")

// AnalyzeHandler serves the streaming analysis endpoint and the operational
// side routes.
type AnalyzeHandler struct {
	Orch      *pipeline.Orchestrator
	Telemetry *telemetry.Telemetry
	Logger    *log.Logger
}

// Register mounts the routes. When secret is nil the group runs open, which
// only the debug configuration allows.
func (h *AnalyzeHandler) Register(g *echo.Group, secret []byte) {
	if len(secret) > 0 {
		g.Use(func(next echo.HandlerFunc) echo.HandlerFunc { return withAuth(next, secret) })
	}
	g.POST("/analyze", h.analyze)
	g.GET("/telemetry", h.snapshot)
	g.POST("/datasources/:id/invalidate", h.invalidate)
}

// analyze runs the pipeline for one question, streaming progress as
// Server-Sent Events. The response is always 200 once streaming starts;
// failures travel inside the event sequence.
func (h *AnalyzeHandler) analyze(c echo.Context) error {
	var req pipeline.Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Query) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query required")
	}
	req.UserID, _ = c.Get("user_id").(string)
	req.Role, _ = c.Get("role").(string)

	ctx, span := analyzeTracer.Start(c.Request().Context(), "AnalyzeHandler.analyze")
	defer span.End()
	span.SetAttributes(
		attribute.String("data_source.id", req.DataSourceID),
		attribute.String("analysis.mode", req.AnalysisMode),
	)

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set("Connection", "keep-alive")

	// flusher support is verified before the header is committed; a
	// non-streaming writer gets a real error status, not an empty 200
	em, ok := stream.NewSSEEmitter(ctx, resp.Writer, h.Logger)
	if !ok {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "streaming unsupported")
	}
	resp.WriteHeader(http.StatusOK)

	h.Orch.Run(ctx, req, em)
	return nil
}

// snapshot returns the in-process pipeline telemetry.
func (h *AnalyzeHandler) snapshot(c echo.Context) error {
	return c.JSON(http.StatusOK, h.Telemetry.GetSnapshot())
}

// invalidate drops the cached schema and query results for a data source.
func (h *AnalyzeHandler) invalidate(c echo.Context) error {
	id := c.Param("id")
	if strings.TrimSpace(id) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "data source id required")
	}
	h.Orch.InvalidateDataSource(c.Request().Context(), id)
	return c.NoContent(http.StatusNoContent)
}
