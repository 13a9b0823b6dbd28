package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidStage       = errors.New("invalid stage")
	ErrNoOpTransition     = errors.New("no-op transition")
	ErrAlreadyTransformed = errors.New("already transformed")
	ErrLocked             = errors.New("entity locked")
	ErrBusy               = errors.New("entity busy")
)

var codeErrors = map[string]error{
	"not_found":           ErrNotFound,
	"invalid_stage":       ErrInvalidStage,
	"no_op_transition":    ErrNoOpTransition,
	"already_transformed": ErrAlreadyTransformed,
	"entity_locked":       ErrLocked,
	"entity_busy":         ErrBusy,
}

// APIError is a non-success response. It matches the package sentinels
// through errors.Is by its error code.
type APIError struct {
	StatusCode int
	Code       string
	RequestID  string
	Details    json.RawMessage
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("pipeline api error (status=%d", e.StatusCode)
	if e.Code != "" {
		msg += " code=" + e.Code
	}
	if e.RequestID != "" {
		msg += " request_id=" + e.RequestID
	}
	return msg + ")"
}

func (e *APIError) Is(target error) bool {
	sentinel, ok := codeErrors[e.Code]
	return ok && sentinel == target
}

// Retryable reports whether the same request may succeed if sent again.
func (e *APIError) Retryable() bool {
	switch {
	case e.Code == "entity_busy":
		return true
	case e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode >= 500:
		return true
	default:
		return false
	}
}

func decodeAPIError(resp *http.Response, raw []byte) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var body struct {
		Error     string          `json:"error"`
		RequestID string          `json:"request_id"`
		Details   json.RawMessage `json:"details"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		apiErr.Code = strings.TrimSpace(body.Error)
		apiErr.RequestID = body.RequestID
		apiErr.Details = body.Details
	}
	if apiErr.RequestID == "" {
		apiErr.RequestID = resp.Header.Get("X-Request-Id")
	}
	return apiErr
}

// IsRetryable reports whether err is a transport failure or a retryable API
// error. The caller still has to check its own context.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
