package main

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/pipeboard/pipeboard/internal/domain"
	"github.com/pipeboard/pipeboard/internal/repo"
	"github.com/pipeboard/pipeboard/internal/service/lifecycle"
)

const (
	defaultListLimit = 200
	maxListLimit     = 500
)

func (api *pipelineAPI) handleListJobs(w http.ResponseWriter, r *http.Request) {
	_, info, ok := api.caller(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	filter := repo.JobFilter{
		OwnerID: info.Actor,
		Limit:   clampInt(parseIntQuery(r, "limit", defaultListLimit), 1, maxListLimit),
	}
	if raw := strings.TrimSpace(q.Get("stage")); raw != "" {
		stage, err := domain.ParseStage(domain.KindJob, raw)
		if err != nil {
			api.writeRepoError(w, r, err)
			return
		}
		filter.Stage = stage
	}
	if raw := strings.TrimSpace(q.Get("origin")); raw != "" {
		origin := domain.Origin(strings.ToLower(raw))
		if !origin.Valid() {
			api.writeError(w, r, http.StatusBadRequest, "invalid_origin")
			return
		}
		filter.Origin = origin
	}
	if raw := strings.TrimSpace(q.Get("unseen")); raw != "" {
		unseen, err := strconv.ParseBool(raw)
		if err != nil {
			api.writeError(w, r, http.StatusBadRequest, "invalid_unseen")
			return
		}
		filter.Unseen = &unseen
	}

	jobs, err := api.svc.ListJobs(r.Context(), filter)
	if err != nil {
		api.writeRepoError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"jobs": toJobs(jobs)})
}

func (api *pipelineAPI) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	identity, info, ok := api.caller(w, r)
	if !ok {
		return
	}
	var req createJobRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	origin := domain.OriginHuman
	if identity.Agent {
		origin = domain.OriginAgent
	}
	created, err := api.svc.CreateJob(r.Context(), info, lifecycle.JobInput{
		Stage:        req.Stage,
		Origin:       origin,
		Rating:       req.Rating,
		Company:      req.Company,
		Position:     req.Position,
		Location:     req.Location,
		Salary:       req.Salary,
		ContactName:  req.ContactName,
		Organization: req.Organization,
		Notes:        req.Notes,
	})
	if err != nil {
		api.writeRepoError(w, r, err)
		return
	}
	w.Header().Set("Location", "/jobs/"+created.ID)
	api.writeJSON(w, http.StatusCreated, toJob(created))
}

func (api *pipelineAPI) handleGetJob(w http.ResponseWriter, r *http.Request) {
	_, info, ok := api.caller(w, r)
	if !ok {
		return
	}
	found, err := api.svc.GetJob(r.Context(), info.Actor, pathID(r, "id"))
	if err != nil {
		api.writeRepoError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, toJob(found))
}

func (api *pipelineAPI) handleUpdateJob(w http.ResponseWriter, r *http.Request) {
	_, info, ok := api.caller(w, r)
	if !ok {
		return
	}
	var req updateJobRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	updated, err := api.svc.UpdateJob(r.Context(), info, pathID(r, "id"), lifecycle.JobPatch{
		Stage:        req.Stage,
		Unseen:       req.Unseen,
		Rating:       req.Rating,
		Company:      req.Company,
		Position:     req.Position,
		Location:     req.Location,
		Salary:       req.Salary,
		ContactName:  req.ContactName,
		Organization: req.Organization,
		Notes:        req.Notes,
	})
	if err != nil {
		api.writeRepoError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, toJob(updated))
}

func (api *pipelineAPI) handleListRelationships(w http.ResponseWriter, r *http.Request) {
	_, info, ok := api.caller(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	filter := repo.RelationshipFilter{
		OwnerID: info.Actor,
		Limit:   clampInt(parseIntQuery(r, "limit", defaultListLimit), 1, maxListLimit),
	}
	if raw := strings.TrimSpace(q.Get("stage")); raw != "" {
		stage, err := domain.ParseStage(domain.KindRelationship, raw)
		if err != nil {
			api.writeRepoError(w, r, err)
			return
		}
		filter.Stage = stage
	}
	if raw := strings.TrimSpace(q.Get("type")); raw != "" {
		relType := domain.RelationshipType(strings.ToLower(raw))
		if !relType.Valid() {
			api.writeError(w, r, http.StatusBadRequest, "invalid_type")
			return
		}
		filter.Type = relType
	}

	rels, err := api.svc.ListRelationships(r.Context(), filter)
	if err != nil {
		api.writeRepoError(w, r, err)
		return
	}
	out := make([]relationship, 0, len(rels))
	for _, rel := range rels {
		out = append(out, toRelationship(rel))
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"relationships": out})
}

func (api *pipelineAPI) handleCreateRelationship(w http.ResponseWriter, r *http.Request) {
	identity, info, ok := api.caller(w, r)
	if !ok {
		return
	}
	var req createRelationshipRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	origin := domain.OriginHuman
	if identity.Agent {
		origin = domain.OriginAgent
	}
	created, err := api.svc.CreateRelationship(r.Context(), info, lifecycle.RelationshipInput{
		Stage:         req.Stage,
		Origin:        origin,
		Type:          req.Type,
		Name:          req.Name,
		ContactPerson: req.ContactPerson,
		Email:         req.Email,
		Website:       req.Website,
		Location:      req.Location,
		Notes:         req.Notes,
	})
	if err != nil {
		api.writeRepoError(w, r, err)
		return
	}
	w.Header().Set("Location", "/relationships/"+created.ID)
	api.writeJSON(w, http.StatusCreated, toRelationship(created))
}

func (api *pipelineAPI) handleGetRelationship(w http.ResponseWriter, r *http.Request) {
	_, info, ok := api.caller(w, r)
	if !ok {
		return
	}
	found, err := api.svc.GetRelationship(r.Context(), info.Actor, pathID(r, "id"))
	if err != nil {
		api.writeRepoError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, toRelationship(found))
}

func (api *pipelineAPI) handleUpdateRelationship(w http.ResponseWriter, r *http.Request) {
	_, info, ok := api.caller(w, r)
	if !ok {
		return
	}
	var req updateRelationshipRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	updated, err := api.svc.UpdateRelationship(r.Context(), info, pathID(r, "id"), lifecycle.RelationshipPatch{
		Stage:         req.Stage,
		Type:          req.Type,
		Name:          req.Name,
		ContactPerson: req.ContactPerson,
		Email:         req.Email,
		Website:       req.Website,
		Location:      req.Location,
		Notes:         req.Notes,
	})
	if err != nil {
		api.writeRepoError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, toRelationship(updated))
}

func (api *pipelineAPI) handleDelete(kind domain.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, info, ok := api.caller(w, r)
		if !ok {
			return
		}
		orphans, err := api.svc.Delete(r.Context(), info, kind, pathID(r, "id"))
		if err != nil {
			api.writeRepoError(w, r, err)
			return
		}
		if api.files != nil {
			api.files.RemoveObjects(r.Context(), orphans)
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (api *pipelineAPI) handleDashboard(w http.ResponseWriter, r *http.Request) {
	_, info, ok := api.caller(w, r)
	if !ok {
		return
	}
	summary, err := api.svc.Dashboard(r.Context(), info.Actor)
	if err != nil {
		api.writeRepoError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, toDashboard(summary))
}
