// Package server exposes the analysis pipeline over HTTP: a streaming analyze
// endpoint plus health, metrics and cache-administration routes.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vizquery/vizquery/config"
	"github.com/vizquery/vizquery/internal/cache"
	"github.com/vizquery/vizquery/internal/engine"
	"github.com/vizquery/vizquery/internal/llm"
	"github.com/vizquery/vizquery/internal/pipeline"
	"github.com/vizquery/vizquery/internal/telemetry"
)

// Run builds the full service from configuration and serves until the listener
// fails. addr overrides the configured listen address when non-empty.
func Run(addr, configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization", "Cookie"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	ctx := context.Background()
	schemaCache, queryCache, err := buildCaches(ctx, cfg)
	if err != nil {
		return err
	}

	engines, sources, err := BuildEngines(cfg)
	if err != nil {
		return err
	}

	provider, err := llm.NewProvider(cfg.LLM)
	if err != nil {
		return err
	}

	tele := telemetry.New()
	orchLogger := log.New(log.Writer(), "[PIPE] ", log.LstdFlags)
	orch, err := pipeline.NewOrchestrator(cfg, pipeline.Deps{
		Logger:      orchLogger,
		Telemetry:   tele,
		Provider:    provider,
		Engines:     engines,
		Sources:     sources,
		SchemaCache: schemaCache,
		QueryCache:  queryCache,
	})
	if err != nil {
		return err
	}

	var secret []byte
	if cfg.Server.JWTSecret != "" {
		secret = []byte(cfg.Server.JWTSecret)
	} else if !cfg.General.Debug {
		return fmt.Errorf("jwt secret not configured (server.jwt_secret)")
	}

	h := &AnalyzeHandler{
		Orch:      orch,
		Telemetry: tele,
		Logger:    baseLogger,
	}
	h.Register(e.Group("/api"), secret)

	if addr == "" {
		addr = cfg.Server.Address
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}

// buildCaches constructs the schema and query-result stores, shared Redis when
// enabled, per-process memory otherwise.
func buildCaches(ctx context.Context, cfg *config.Config) (cache.Store, cache.Store, error) {
	if cfg.Cache.Redis.Enabled {
		r := cfg.Cache.Redis
		schema, err := cache.NewRedisStore(ctx, r.Host, r.Port, r.Password, r.DB, r.Timeout, "schema", cfg.Cache.MaxPayloadBytes)
		if err != nil {
			return nil, nil, fmt.Errorf("schema cache: %w", err)
		}
		query, err := cache.NewRedisStore(ctx, r.Host, r.Port, r.Password, r.DB, r.Timeout, "query", cfg.Cache.MaxPayloadBytes)
		if err != nil {
			return nil, nil, fmt.Errorf("query cache: %w", err)
		}
		return schema, query, nil
	}
	schema := cache.NewMemoryStore(cfg.Cache.MaxEntries, cfg.Cache.MaxPayloadBytes)
	query := cache.NewMemoryStore(cfg.Cache.MaxEntries, cfg.Cache.MaxPayloadBytes)
	go sweepExpired(ctx, schema, query)
	return schema, query, nil
}

// sweepExpired periodically removes expired memory-cache entries so idle
// deployments do not accumulate dead payloads between reads.
func sweepExpired(ctx context.Context, stores ...cache.Store) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, s := range stores {
				s.CleanupExpired(ctx)
			}
		}
	}
}

// BuildEngines wires the engine registry and the data-source catalog from
// configuration. The stub engine is always registered; in debug mode it also
// gets a demo source so the service answers questions with no database
// attached.
func BuildEngines(cfg *config.Config) (*engine.Registry, engine.SourceProvider, error) {
	registry := engine.NewRegistry()
	registry.Register("postgres", engine.NewPostgresEngine(cfg.Pipeline.ExecutionTimeout))

	stub := engine.NewStubEngine()
	registry.Register("stub", stub)

	sources := &engine.StaticSourceProvider{Sources: make(map[string]engine.DataSource)}

	if dsn, err := cfg.Engines.Postgres.DSN(); err == nil {
		sources.Sources["postgres"] = engine.DataSource{
			ID:     "postgres",
			Name:   cfg.Engines.Postgres.DBName,
			Engine: "postgres",
			DSN:    dsn,
		}
	} else if !cfg.General.Debug {
		return nil, nil, err
	}

	if cfg.General.Debug {
		stub.SetSchema("demo", "TABLE sales (\n  month text NOT NULL\n  amount numeric NOT NULL\n)\n")
		stub.SetResult("demo", engine.Result{
			Columns: []string{"month", "amount"},
			Rows: []map[string]interface{}{
				{"month": "Jan", "amount": 1200.0},
				{"month": "Feb", "amount": 1750.0},
				{"month": "Mar", "amount": 980.0},
			},
		})
		sources.Sources["demo"] = engine.DataSource{ID: "demo", Name: "Demo sales", Engine: "stub"}
	}

	return registry, sources, nil
}
