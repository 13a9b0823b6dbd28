package main

import (
	"net/http"

	"github.com/pipeboard/pipeboard/internal/domain"
)

func (api *pipelineAPI) handleRecordTransition(kind domain.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, info, ok := api.caller(w, r)
		if !ok {
			return
		}
		var req stageRequest
		if err := decodeJSON(r, &req); err != nil {
			api.writeError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}
		ev, err := api.svc.RecordTransition(r.Context(), info, kind, pathID(r, "id"), req.Stage)
		if err != nil {
			api.writeRepoError(w, r, err)
			return
		}
		api.writeJSON(w, http.StatusOK, toStageEvent(ev))
	}
}

func (api *pipelineAPI) handleHistory(kind domain.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, info, ok := api.caller(w, r)
		if !ok {
			return
		}
		events, err := api.svc.History(r.Context(), info.Actor, kind, pathID(r, "id"))
		if err != nil {
			api.writeRepoError(w, r, err)
			return
		}
		out := make([]stageEvent, 0, len(events))
		for _, ev := range events {
			out = append(out, toStageEvent(ev))
		}
		api.writeJSON(w, http.StatusOK, out)
	}
}

func (api *pipelineAPI) handleJourney(kind domain.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, info, ok := api.caller(w, r)
		if !ok {
			return
		}
		nodes, err := api.svc.Journey(r.Context(), info.Actor, kind, pathID(r, "id"))
		if err != nil {
			api.writeRepoError(w, r, err)
			return
		}
		out := make([]journeyNode, 0, len(nodes))
		for _, n := range nodes {
			out = append(out, journeyNode{
				Stage:     string(n.Stage),
				Timestamp: n.Timestamp,
				IsCurrent: n.IsCurrent,
				IsStart:   n.IsStart,
			})
		}
		api.writeJSON(w, http.StatusOK, out)
	}
}

func (api *pipelineAPI) handleTransform(w http.ResponseWriter, r *http.Request) {
	_, info, ok := api.caller(w, r)
	if !ok {
		return
	}
	jobID := pathID(r, "id")
	res, err := api.svc.Transform(r.Context(), info, jobID)
	if err != nil {
		api.writeRepoError(w, r, err)
		return
	}
	w.Header().Set("Location", "/relationships/"+res.RelationshipID)
	api.writeJSON(w, http.StatusCreated, map[string]any{
		"target_id":   res.RelationshipID,
		"source_id":   jobID,
		"attachments": res.Attachments,
	})
}
