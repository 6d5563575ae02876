// Package server exposes the read-only status API over HTTP.
package server

import (
	_ "embed"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	oapimiddleware "github.com/oapi-codegen/nethttp-middleware"
	"go.uber.org/zap"
)

//go:embed openapi.yaml
var openapiSpec []byte

// NewRouter builds the status API router. Requests under /v1 are
// validated against the embedded OpenAPI document.
func NewRouter(server *Server, logger *zap.Logger) (http.Handler, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(openapiSpec)
	if err != nil {
		return nil, err
	}
	if err := doc.Validate(loader.Context); err != nil {
		return nil, err
	}
	doc.Servers = nil // Allow any host

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)
	r.Use(zapLoggerMiddleware(logger))

	// Non-validated routes
	r.Get("/openapi.yaml", openapiHandler)
	if server.broadcaster != nil {
		r.Get("/v1/sync", server.broadcaster.HandleSSE)
	}

	// API routes with OpenAPI validation
	r.Group(func(apiRouter chi.Router) {
		apiRouter.Use(oapimiddleware.OapiRequestValidator(doc))

		apiRouter.Get("/v1/status", server.handleStatus)
		apiRouter.Get("/v1/channels/{channel}", server.handleChannel)
		apiRouter.Get("/v1/channels/{channel}/entries/{key}", server.handleEntry)
	})

	return r, nil
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func zapLoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
			)
			next.ServeHTTP(w, r)
		})
	}
}

func openapiHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write(openapiSpec)
}
