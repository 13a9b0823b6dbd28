package main

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/pipeboard/pipeboard/internal/domain"
	"github.com/pipeboard/pipeboard/internal/service/attachments"
)

// Multipart framing on top of the file itself.
const multipartOverhead = 1 << 20

func (api *pipelineAPI) filesReady(w http.ResponseWriter, r *http.Request) bool {
	if api.files == nil {
		api.writeError(w, r, http.StatusInternalServerError, "service_unavailable")
		return false
	}
	return true
}

func (api *pipelineAPI) handleListAttachments(kind domain.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, info, ok := api.caller(w, r)
		if !ok || !api.filesReady(w, r) {
			return
		}
		list, err := api.files.List(r.Context(), info.Actor, kind, pathID(r, "id"))
		if err != nil {
			api.writeRepoError(w, r, err)
			return
		}
		out := make([]attachment, 0, len(list))
		for _, a := range list {
			out = append(out, toAttachment(a))
		}
		api.writeJSON(w, http.StatusOK, map[string]any{"attachments": out})
	}
}

func (api *pipelineAPI) handleUploadAttachment(kind domain.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, info, ok := api.caller(w, r)
		if !ok || !api.filesReady(w, r) {
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, attachments.MaxSize+multipartOverhead)
		if err := r.ParseMultipartForm(8 << 20); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				api.writeError(w, r, http.StatusRequestEntityTooLarge, "file_too_large")
				return
			}
			api.writeError(w, r, http.StatusBadRequest, "invalid_multipart")
			return
		}
		defer func() { _ = r.MultipartForm.RemoveAll() }()

		file, header, err := r.FormFile("file")
		if err != nil {
			api.writeError(w, r, http.StatusBadRequest, "file_required")
			return
		}
		defer file.Close()

		att, err := api.files.Upload(r.Context(), info, kind, pathID(r, "id"), attachments.Upload{
			Name:      header.Filename,
			MediaType: header.Header.Get("Content-Type"),
			Size:      header.Size,
			Body:      file,
		})
		if err != nil {
			api.writeRepoError(w, r, err)
			return
		}
		api.writeJSON(w, http.StatusCreated, toAttachment(att))
	}
}

func (api *pipelineAPI) handleDownloadAttachment(kind domain.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, info, ok := api.caller(w, r)
		if !ok || !api.filesReady(w, r) {
			return
		}
		att, body, err := api.files.Open(r.Context(), info.Actor, kind, pathID(r, "id"), pathID(r, "attachment_id"))
		if err != nil {
			api.writeRepoError(w, r, err)
			return
		}
		defer body.Close()

		w.Header().Set("Content-Type", att.MediaType)
		w.Header().Set("Content-Length", strconv.FormatInt(att.SizeBytes, 10))
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": att.OriginalName}))
		w.WriteHeader(http.StatusOK)
		if _, err := io.Copy(w, body); err != nil {
			api.logger.Warn("attachment download interrupted", "attachment_id", att.ID, "error", err)
		}
	}
}

func (api *pipelineAPI) handleDeleteAttachment(kind domain.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, info, ok := api.caller(w, r)
		if !ok || !api.filesReady(w, r) {
			return
		}
		if err := api.files.Delete(r.Context(), info, kind, pathID(r, "id"), pathID(r, "attachment_id")); err != nil {
			api.writeRepoError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
