package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/rs/cors"

	"github.com/pipeboard/pipeboard/internal/platform/auditlog"
	"github.com/pipeboard/pipeboard/internal/platform/auth"
	"github.com/pipeboard/pipeboard/internal/platform/httpserver"
	"github.com/pipeboard/pipeboard/internal/platform/metrics"
	"github.com/pipeboard/pipeboard/internal/platform/requestid"
	"github.com/pipeboard/pipeboard/internal/repo"
)

var publicPaths = []string{"/healthz", "/readyz", "/metrics"}

type handlerDeps struct {
	Logger        *slog.Logger
	API           *pipelineAPI
	Store         repo.Store
	Metrics       *metrics.Metrics
	Authenticator auth.Authenticator
	Validator     *requestValidator
	CORSOrigins   []string
	Readiness     []httpserver.ReadinessCheck
	ReadyTimeout  time.Duration
}

const defaultAuditTimeout = 750 * time.Millisecond

// buildHandler assembles the middleware chain:
// request id, logging and recovery, then CORS, auth, schema validation and
// finally the route mux.
func buildHandler(d handlerDeps) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", httpserver.Healthz(serviceName))
	mux.HandleFunc("GET /readyz", httpserver.ReadyzWithChecks(serviceName, d.ReadyTimeout, d.Readiness...))
	mux.Handle("GET /metrics", d.Metrics.Handler())
	d.API.register(mux)

	var handler http.Handler = mux
	if d.Validator != nil {
		handler = d.Validator.Wrap(handler)
	}
	handler = auth.Middleware{
		Logger:        d.Logger,
		Authenticator: d.Authenticator,
		Audit:         storeDenyAudit(d.Store),
		SkipPaths:     publicPaths,
	}.Wrap(handler)
	handler = cors.New(cors.Options{
		AllowedOrigins:   d.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", requestid.Header, auth.HeaderAgentKey},
		ExposedHeaders:   []string{requestid.Header, "Location"},
		AllowCredentials: true,
	}).Handler(handler)

	return httpserver.Wrap(d.Logger, d.Metrics.ObserveHTTP, handler)
}

func storeDenyAudit(store repo.Store) auth.AuditFunc {
	if store == nil {
		return nil
	}
	return func(ctx context.Context, event auth.DenyEvent) error {
		return auth.WithTimeout(defaultAuditTimeout, func(ctx context.Context) error {
			return store.WithTx(ctx, func(tx repo.Tx) error {
				return tx.AppendAudit(ctx, auditlog.FromAuthDeny(serviceName, event))
			})
		})(ctx)
	}
}
