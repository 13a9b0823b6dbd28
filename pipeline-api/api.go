package main

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/pipeboard/pipeboard/internal/domain"
	"github.com/pipeboard/pipeboard/internal/platform/auth"
	"github.com/pipeboard/pipeboard/internal/platform/requestid"
	"github.com/pipeboard/pipeboard/internal/service/attachments"
	"github.com/pipeboard/pipeboard/internal/service/lifecycle"
)

type pipelineAPI struct {
	logger *slog.Logger
	svc    *lifecycle.Service
	files  *attachments.Service
}

func newPipelineAPI(logger *slog.Logger, svc *lifecycle.Service, files *attachments.Service) *pipelineAPI {
	if logger == nil {
		logger = slog.Default()
	}
	return &pipelineAPI{logger: logger, svc: svc, files: files}
}

func (api *pipelineAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /jobs", api.handleListJobs)
	mux.HandleFunc("POST /jobs", api.handleCreateJob)
	mux.HandleFunc("GET /jobs/{id}", api.handleGetJob)
	mux.HandleFunc("PATCH /jobs/{id}", api.handleUpdateJob)
	mux.HandleFunc("POST /jobs/{id}/transform", api.handleTransform)

	mux.HandleFunc("GET /relationships", api.handleListRelationships)
	mux.HandleFunc("POST /relationships", api.handleCreateRelationship)
	mux.HandleFunc("GET /relationships/{id}", api.handleGetRelationship)
	mux.HandleFunc("PATCH /relationships/{id}", api.handleUpdateRelationship)

	for _, kind := range []domain.Kind{domain.KindJob, domain.KindRelationship} {
		base := "/" + kind.Collection() + "/{id}"
		mux.HandleFunc("DELETE "+base, api.handleDelete(kind))
		mux.HandleFunc("POST "+base+"/stage", api.handleRecordTransition(kind))
		mux.HandleFunc("GET "+base+"/history", api.handleHistory(kind))
		mux.HandleFunc("GET "+base+"/journey", api.handleJourney(kind))
		mux.HandleFunc("GET "+base+"/attachments", api.handleListAttachments(kind))
		mux.HandleFunc("POST "+base+"/attachments", api.handleUploadAttachment(kind))
		mux.HandleFunc("GET "+base+"/attachments/{attachment_id}/download", api.handleDownloadAttachment(kind))
		mux.HandleFunc("DELETE "+base+"/attachments/{attachment_id}", api.handleDeleteAttachment(kind))
	}

	mux.HandleFunc("GET /dashboard/summary", api.handleDashboard)
}

// caller returns the authenticated identity and the audit attribution for
// the request. It writes the error response itself when it returns false.
func (api *pipelineAPI) caller(w http.ResponseWriter, r *http.Request) (auth.Identity, domain.AuditInfo, bool) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || strings.TrimSpace(identity.Subject) == "" {
		api.writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return auth.Identity{}, domain.AuditInfo{}, false
	}
	if api.svc == nil {
		api.writeError(w, r, http.StatusInternalServerError, "service_unavailable")
		return auth.Identity{}, domain.AuditInfo{}, false
	}
	return identity, domain.AuditInfo{
		Actor:     strings.TrimSpace(identity.Subject),
		RequestID: r.Header.Get(requestid.Header),
		UserAgent: r.UserAgent(),
		IP:        requestIP(r.RemoteAddr),
	}, true
}

func pathID(r *http.Request, name string) string {
	return strings.TrimSpace(r.PathValue(name))
}

func (api *pipelineAPI) writeRepoError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *domain.ValidationError
	if domain.Retryable(err) {
		w.Header().Set("Retry-After", "1")
	}
	switch {
	case errors.Is(err, domain.ErrNotFound):
		api.writeError(w, r, http.StatusNotFound, "not_found")
	case errors.Is(err, domain.ErrInvalidStage):
		api.writeError(w, r, http.StatusBadRequest, "invalid_stage")
	case errors.Is(err, domain.ErrNoOpTransition):
		api.writeError(w, r, http.StatusConflict, "no_op_transition")
	case errors.Is(err, domain.ErrAlreadyTransformed):
		api.writeError(w, r, http.StatusBadRequest, "already_transformed")
	case errors.Is(err, domain.ErrLocked):
		api.writeError(w, r, http.StatusConflict, "entity_locked")
	case errors.Is(err, domain.ErrBusy):
		api.writeError(w, r, http.StatusConflict, "entity_busy")
	case errors.Is(err, domain.ErrConflict):
		api.writeError(w, r, http.StatusConflict, "conflict")
	case errors.As(err, &verr):
		api.writeErrorWithDetails(w, r, http.StatusBadRequest, "validation_failed", map[string]string{
			"field":  verr.Field,
			"reason": verr.Reason,
		})
	default:
		api.logger.Error("request failed",
			"request_id", r.Header.Get(requestid.Header),
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
	}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("multiple JSON values")
	}
	return nil
}

func (api *pipelineAPI) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(body)
}

func (api *pipelineAPI) writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	api.writeJSON(w, status, map[string]any{
		"error":      code,
		"request_id": r.Header.Get(requestid.Header),
	})
}

func (api *pipelineAPI) writeErrorWithDetails(w http.ResponseWriter, r *http.Request, status int, code string, details any) {
	api.writeJSON(w, status, map[string]any{
		"error":      code,
		"request_id": r.Header.Get(requestid.Header),
		"details":    details,
	})
}

func requestIP(remoteAddr string) net.IP {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return nil
	}
	return net.ParseIP(host)
}

func parseIntQuery(r *http.Request, key string, def int) int {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return parsed
}

func clampInt(v int, min int, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
