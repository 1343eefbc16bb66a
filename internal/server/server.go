// Package server exposes a read-only HTTP API over a pipeline: its graph,
// manifest, stored record metadata, run history and plan.
package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"memopipe/internal/codec"
	"memopipe/internal/core"
	"memopipe/internal/dag"
	"memopipe/internal/history"
	"memopipe/internal/pipeline"
	"memopipe/internal/store"
)

// Config for the HTTP API handler.
type Config struct {
	Pipeline *pipeline.Pipeline

	// History is optional; without it /runs returns an empty list.
	History *history.Store

	// BasePath defaults to /v1.
	BasePath string
	Auth     AuthConfig
	Logger   zerolog.Logger
}

// New returns an HTTP handler for the inspection API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Pipeline == nil {
		return nil, errors.New("pipeline is required")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(requireToken(basePath, cfg.Auth, cfg.Logger))
	router.Use(requestLogger(cfg.Logger))

	hcfg := huma.DefaultConfig("memopipe API", "1.0.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerGraph(group, cfg.Pipeline)
	registerManifest(group, cfg.Pipeline)
	registerMetadata(group, cfg.Pipeline)
	registerPlan(group, cfg.Pipeline)
	registerRuns(group, cfg.History)
	return router, nil
}

func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			ev := logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start))
			if sub, ok := SubjectFromContext(r.Context()); ok {
				ev = ev.Str("subject", sub)
			}
			ev.Msg("request")
		})
	}
}

type errorBody struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

// writeError answers requests rejected before they reach huma.
func writeError(w http.ResponseWriter, status int, msg string) {
	b, err := codec.Marshal(errorBody{Status: status, Message: msg})
	if err != nil {
		http.Error(w, msg, status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(b)
}

func handleError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, os.ErrNotExist):
		return huma.Error404NotFound("not found")
	case errors.Is(err, core.ErrStoreIO):
		return huma.Error503ServiceUnavailable(err.Error())
	default:
		return huma.Error500InternalServerError(err.Error())
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

type graphBody struct {
	GraphHash string     `json:"graph_hash"`
	Tasks     []string   `json:"tasks"`
	Edges     []dag.Edge `json:"edges"`
}

func registerGraph(api huma.API, p *pipeline.Pipeline) {
	huma.Register(api, huma.Operation{
		OperationID: "graph",
		Method:      http.MethodGet,
		Path:        "/graph",
		Summary:     "Dependency graph",
	}, func(ctx context.Context, _ *struct{}) (*struct{ Body graphBody }, error) {
		g := p.Graph()
		body := graphBody{GraphHash: g.Hash().String(), Tasks: []string{}, Edges: p.Visualize()}
		for _, n := range g.Nodes() {
			body.Tasks = append(body.Tasks, n.Name)
		}
		return &struct{ Body graphBody }{Body: body}, nil
	})
}

func registerManifest(api huma.API, p *pipeline.Pipeline) {
	huma.Register(api, huma.Operation{
		OperationID: "manifest",
		Method:      http.MethodGet,
		Path:        "/manifest",
		Summary:     "Registered tasks",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]pipeline.ManifestEntry
	}, error) {
		return &struct {
			Body map[string]pipeline.ManifestEntry
		}{Body: p.Manifest()}, nil
	})
}

func registerMetadata(api huma.API, p *pipeline.Pipeline) {
	huma.Register(api, huma.Operation{
		OperationID: "metadata",
		Method:      http.MethodGet,
		Path:        "/metadata",
		Summary:     "Stored record metadata",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]store.RecordInfo
	}, error) {
		md, err := p.Metadata(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]store.RecordInfo
		}{Body: md}, nil
	})
}

func registerPlan(api huma.API, p *pipeline.Pipeline) {
	huma.Register(api, huma.Operation{
		OperationID: "plan",
		Method:      http.MethodGet,
		Path:        "/plan",
		Summary:     "Which tasks the next run would skip",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []pipeline.PlanEntry
	}, error) {
		plan, err := p.Plan(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []pipeline.PlanEntry
		}{Body: plan}, nil
	})
}

func registerRuns(api huma.API, h *history.Store) {
	huma.Register(api, huma.Operation{
		OperationID: "list-runs",
		Method:      http.MethodGet,
		Path:        "/runs",
		Summary:     "Run history, newest first",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" minimum:"0" doc:"maximum number of runs; 0 returns all"`
	}) (*struct{ Body []history.Run }, error) {
		runs := []history.Run{}
		if h != nil {
			all, err := h.List()
			if err != nil {
				return nil, handleError(err)
			}
			runs = append(runs, all...)
		}
		if input.Limit > 0 && len(runs) > input.Limit {
			runs = runs[:input.Limit]
		}
		return &struct{ Body []history.Run }{Body: runs}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-run",
		Method:      http.MethodGet,
		Path:        "/runs/{id}",
		Summary:     "One run",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{ Body history.Run }, error) {
		if h == nil {
			return nil, huma.Error404NotFound("run history is disabled")
		}
		run, err := h.Load(input.ID)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, huma.Error404NotFound("run not found")
			}
			return nil, huma.Error400BadRequest(err.Error())
		}
		return &struct{ Body history.Run }{Body: run}, nil
	})
}
