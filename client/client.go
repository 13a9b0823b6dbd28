// Package client is a Go client for the pipeline API. It covers the stage
// lifecycle surface: transitions, history, journeys and transforms.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Kind names a tracked record type.
type Kind string

const (
	KindJob          Kind = "job"
	KindRelationship Kind = "relationship"
)

func (k Kind) collection() (string, error) {
	switch k {
	case KindJob:
		return "jobs", nil
	case KindRelationship:
		return "relationships", nil
	default:
		return "", fmt.Errorf("unknown kind %q", string(k))
	}
}

// StageEvent is one recorded stage change.
type StageEvent struct {
	Seq           int64     `json:"seq"`
	PreviousStage *string   `json:"previous_stage"`
	NewStage      string    `json:"new_stage"`
	ChangedAt     time.Time `json:"changed_at"`
}

type JourneyNode struct {
	Stage     string    `json:"stage"`
	Timestamp time.Time `json:"timestamp"`
	IsCurrent bool      `json:"is_current"`
	IsStart   bool      `json:"is_start"`
}

type TransformResult struct {
	TargetID    string `json:"target_id"`
	SourceID    string `json:"source_id"`
	Attachments int    `json:"attachments"`
}

// Client talks to one pipeline API base URL.
type Client struct {
	baseURL    string
	token      string
	agentKey   string
	httpClient *http.Client
}

type Option func(*Client)

// WithBearerToken authenticates as a user with an OIDC access token.
func WithBearerToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithAgentKey authenticates as an agent through the X-Agent-Key header.
func WithAgentKey(key string) Option {
	return func(c *Client) { c.agentKey = key }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// New returns a client for baseURL, e.g. "http://localhost:8080".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// RecordTransition moves a record to stage.
func (c *Client) RecordTransition(ctx context.Context, kind Kind, id, stage string) (StageEvent, error) {
	path, err := recordPath(kind, id, "stage")
	if err != nil {
		return StageEvent{}, err
	}
	var ev StageEvent
	err = c.do(ctx, http.MethodPost, path, map[string]string{"stage": stage}, http.StatusOK, &ev)
	return ev, err
}

func (c *Client) History(ctx context.Context, kind Kind, id string) ([]StageEvent, error) {
	path, err := recordPath(kind, id, "history")
	if err != nil {
		return nil, err
	}
	events := []StageEvent{}
	err = c.do(ctx, http.MethodGet, path, nil, http.StatusOK, &events)
	return events, err
}

func (c *Client) Journey(ctx context.Context, kind Kind, id string) ([]JourneyNode, error) {
	path, err := recordPath(kind, id, "journey")
	if err != nil {
		return nil, err
	}
	var nodes []JourneyNode
	err = c.do(ctx, http.MethodGet, path, nil, http.StatusOK, &nodes)
	return nodes, err
}

// Transform converts a job into a relationship and locks the job.
func (c *Client) Transform(ctx context.Context, jobID string) (TransformResult, error) {
	path, err := recordPath(KindJob, jobID, "transform")
	if err != nil {
		return TransformResult{}, err
	}
	var res TransformResult
	err = c.do(ctx, http.MethodPost, path, nil, http.StatusCreated, &res)
	return res, err
}

func recordPath(kind Kind, id, action string) (string, error) {
	collection, err := kind.collection()
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(id) == "" {
		return "", errors.New("id is required")
	}
	return "/" + collection + "/" + url.PathEscape(id) + "/" + action, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, want int, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.agentKey != "" {
		req.Header.Set("X-Agent-Key", c.agentKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != want {
		return decodeAPIError(resp, raw)
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
