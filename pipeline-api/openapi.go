package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/legacy"

	"github.com/pipeboard/pipeboard/internal/platform/requestid"
)

//go:embed openapi.yaml
var openAPIDocument []byte

func loadOpenAPI(ctx context.Context) (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(openAPIDocument)
	if err != nil {
		return nil, fmt.Errorf("load openapi: %w", err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("validate openapi: %w", err)
	}
	return doc, nil
}

// requestValidator rejects requests that do not match the OpenAPI document.
// Paths the document does not describe pass through untouched.
type requestValidator struct {
	logger *slog.Logger
	router routers.Router
}

func newRequestValidator(logger *slog.Logger, doc *openapi3.T) (*requestValidator, error) {
	router, err := legacy.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("openapi router: %w", err)
	}
	return &requestValidator{logger: logger, router: router}, nil
}

func (v *requestValidator) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route, params, err := v.router.FindRoute(r)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		input := &openapi3filter.RequestValidationInput{
			Request:    r,
			PathParams: params,
			Route:      route,
			Options: &openapi3filter.Options{
				AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
			},
		}
		if err := openapi3filter.ValidateRequest(r.Context(), input); err != nil {
			if v.logger != nil {
				v.logger.Info("request rejected by schema",
					"request_id", r.Header.Get(requestid.Header),
					"method", r.Method,
					"path", r.URL.Path,
					"error", err.Error(),
				)
			}
			writeValidationError(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeValidationError(w http.ResponseWriter, r *http.Request, err error) {
	api := &pipelineAPI{}
	api.writeErrorWithDetails(w, r, http.StatusBadRequest, "invalid_request", err.Error())
}
