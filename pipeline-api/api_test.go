package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pipeboard/pipeboard/internal/platform/auth"
	"github.com/pipeboard/pipeboard/internal/platform/locker"
	"github.com/pipeboard/pipeboard/internal/platform/metrics"
	"github.com/pipeboard/pipeboard/internal/platform/objectstore"
	"github.com/pipeboard/pipeboard/internal/repo/memstore"
	"github.com/pipeboard/pipeboard/internal/service/attachments"
	"github.com/pipeboard/pipeboard/internal/service/lifecycle"
)

const agentKey = "agent-secret"

// subjectHeaderAuth picks the subject from a test header so one server can
// serve several owners.
type subjectHeaderAuth struct{}

func (subjectHeaderAuth) Authenticate(_ context.Context, r *http.Request) (auth.Identity, error) {
	subject := r.Header.Get("X-Test-Subject")
	if subject == "" {
		return auth.Identity{}, auth.ErrUnauthenticated
	}
	return auth.Identity{Subject: subject}, nil
}

type testEnv struct {
	server  *httptest.Server
	store   *memstore.Store
	objects *objectstore.MemoryStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := newTestLogger(t)
	store := memstore.New()
	objects := objectstore.NewMemoryStore()
	m := metrics.New()

	doc, err := loadOpenAPI(context.Background())
	if err != nil {
		t.Fatalf("load openapi: %v", err)
	}
	validator, err := newRequestValidator(logger, doc)
	if err != nil {
		t.Fatalf("validator: %v", err)
	}

	svc := lifecycle.New(store, lifecycle.Options{Locker: locker.NewLocal(time.Second), Metrics: m, Logger: logger})
	files := attachments.New(store, objects, attachments.Options{Logger: logger})
	authn := auth.NewAgentKeyAuthenticator(auth.Config{
		AgentKeys: map[string]string{auth.HashAgentKey(agentKey): "user-1"},
	}, subjectHeaderAuth{})

	handler := buildHandler(handlerDeps{
		Logger:        logger,
		API:           newPipelineAPI(logger, svc, files),
		Store:         store,
		Metrics:       m,
		Authenticator: authn,
		Validator:     validator,
		CORSOrigins:   []string{"http://localhost:3000"},
		ReadyTimeout:  time.Second,
	})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &testEnv{server: srv, store: store, objects: objects}
}

func (e *testEnv) do(t *testing.T, subject, method, path string, body any) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if subject != "" {
		req.Header.Set("X-Test-Subject", subject)
	}
	return send(t, req)
}

func send(t *testing.T, req *http.Request) (int, []byte) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return resp.StatusCode, out
}

func decode[T any](t *testing.T, raw []byte) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
	return out
}

func errorCode(t *testing.T, raw []byte) string {
	t.Helper()
	body := decode[map[string]any](t, raw)
	code, _ := body["error"].(string)
	return code
}

func (e *testEnv) createJob(t *testing.T, subject string, body map[string]any) job {
	t.Helper()
	status, raw := e.do(t, subject, http.MethodPost, "/jobs", body)
	if status != http.StatusCreated {
		t.Fatalf("create job: %d %s", status, raw)
	}
	return decode[job](t, raw)
}

func TestPublicEndpointsSkipAuth(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		status, _ := env.do(t, "", http.MethodGet, path, nil)
		if status != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, status)
		}
	}
}

func TestUnauthenticatedRequestIsAudited(t *testing.T) {
	env := newTestEnv(t)
	status, raw := env.do(t, "", http.MethodGet, "/jobs", nil)
	if status != http.StatusUnauthorized || errorCode(t, raw) != "unauthorized" {
		t.Fatalf("expected 401 unauthorized, got %d %s", status, raw)
	}
	var found bool
	for _, ev := range env.store.AuditEvents() {
		if ev.Action == "auth.unauthorized" && ev.Actor == "anonymous" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected auth deny audit event")
	}
}

func TestStageHistoryAndJourney(t *testing.T) {
	env := newTestEnv(t)
	created := env.createJob(t, "user-1", map[string]any{"company": "Acme"})
	if created.Stage != "interested" || created.Origin != "human" {
		t.Fatalf("unexpected created job: %+v", created)
	}

	status, raw := env.do(t, "user-1", http.MethodGet, "/jobs/"+created.ID+"/history", nil)
	if status != http.StatusOK || strings.TrimSpace(string(raw)) != "[]" {
		t.Fatalf("expected empty history array, got %d %s", status, raw)
	}

	for _, stage := range []string{"applied", "interview"} {
		status, raw = env.do(t, "user-1", http.MethodPost, "/jobs/"+created.ID+"/stage", map[string]string{"stage": stage})
		if status != http.StatusOK {
			t.Fatalf("stage %s: %d %s", stage, status, raw)
		}
	}

	status, raw = env.do(t, "user-1", http.MethodPost, "/jobs/"+created.ID+"/stage", map[string]string{"stage": "interview"})
	if status != http.StatusConflict || errorCode(t, raw) != "no_op_transition" {
		t.Fatalf("expected no-op conflict, got %d %s", status, raw)
	}
	status, raw = env.do(t, "user-1", http.MethodPost, "/jobs/"+created.ID+"/stage", map[string]string{"stage": "hired"})
	if status != http.StatusBadRequest || errorCode(t, raw) != "invalid_stage" {
		t.Fatalf("expected invalid stage, got %d %s", status, raw)
	}

	status, raw = env.do(t, "user-1", http.MethodGet, "/jobs/"+created.ID+"/history", nil)
	if status != http.StatusOK {
		t.Fatalf("history: %d %s", status, raw)
	}
	events := decode[[]stageEvent](t, raw)
	if len(events) != 2 || events[0].PreviousStage == nil || *events[0].PreviousStage != "interested" || events[1].NewStage != "interview" {
		t.Fatalf("unexpected history: %s", raw)
	}

	status, raw = env.do(t, "user-1", http.MethodGet, "/jobs/"+created.ID+"/journey", nil)
	if status != http.StatusOK {
		t.Fatalf("journey: %d %s", status, raw)
	}
	nodes := decode[[]journeyNode](t, raw)
	if len(nodes) != 3 || !nodes[0].IsStart || !nodes[2].IsCurrent || nodes[2].Stage != "interview" {
		t.Fatalf("unexpected journey: %s", raw)
	}
}

func TestOwnershipIsolation(t *testing.T) {
	env := newTestEnv(t)
	created := env.createJob(t, "user-1", map[string]any{"company": "Acme"})

	paths := []struct {
		method string
		path   string
		body   any
	}{
		{http.MethodGet, "/jobs/" + created.ID, nil},
		{http.MethodGet, "/jobs/" + created.ID + "/history", nil},
		{http.MethodGet, "/jobs/" + created.ID + "/journey", nil},
		{http.MethodPost, "/jobs/" + created.ID + "/stage", map[string]string{"stage": "applied"}},
		{http.MethodPost, "/jobs/" + created.ID + "/transform", nil},
		{http.MethodDelete, "/jobs/" + created.ID, nil},
	}
	for _, p := range paths {
		status, raw := env.do(t, "user-2", p.method, p.path, p.body)
		if status != http.StatusNotFound || errorCode(t, raw) != "not_found" {
			t.Fatalf("%s %s: expected 404, got %d %s", p.method, p.path, status, raw)
		}
	}
	status, _ := env.do(t, "user-1", http.MethodGet, "/jobs/"+created.ID, nil)
	if status != http.StatusOK {
		t.Fatalf("owner should still see the job, got %d", status)
	}
}

func TestTransformFlow(t *testing.T) {
	env := newTestEnv(t)
	created := env.createJob(t, "user-1", map[string]any{"company": "Acme", "contact_name": "Dana", "notes": "warm intro"})

	status, raw := env.do(t, "user-1", http.MethodPost, "/jobs/"+created.ID+"/transform", nil)
	if status != http.StatusCreated {
		t.Fatalf("transform: %d %s", status, raw)
	}
	body := decode[map[string]any](t, raw)
	targetID, _ := body["target_id"].(string)
	if targetID == "" {
		t.Fatalf("expected target_id, got %s", raw)
	}

	status, raw = env.do(t, "user-1", http.MethodGet, "/relationships/"+targetID, nil)
	if status != http.StatusOK {
		t.Fatalf("get relationship: %d %s", status, raw)
	}
	rel := decode[relationship](t, raw)
	if rel.Name != "Acme" || rel.SourceJobID != created.ID || rel.Stage != "researching" || !strings.Contains(rel.Notes, "warm intro") {
		t.Fatalf("unexpected relationship: %+v", rel)
	}

	status, raw = env.do(t, "user-1", http.MethodPost, "/jobs/"+created.ID+"/transform", nil)
	if status != http.StatusBadRequest || errorCode(t, raw) != "already_transformed" {
		t.Fatalf("expected already_transformed, got %d %s", status, raw)
	}
	status, raw = env.do(t, "user-1", http.MethodPost, "/jobs/"+created.ID+"/stage", map[string]string{"stage": "applied"})
	if status != http.StatusConflict || errorCode(t, raw) != "entity_locked" {
		t.Fatalf("expected entity_locked, got %d %s", status, raw)
	}
	status, raw = env.do(t, "user-1", http.MethodGet, "/jobs/"+created.ID, nil)
	if status != http.StatusOK || !decode[job](t, raw).Locked {
		t.Fatalf("expected locked job, got %d %s", status, raw)
	}
}

func TestConcurrentTransformOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	created := env.createJob(t, "user-1", map[string]any{"company": "Acme"})

	const callers = 6
	statuses := make([]int, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req, _ := http.NewRequest(http.MethodPost, env.server.URL+"/jobs/"+created.ID+"/transform", nil)
			req.Header.Set("X-Test-Subject", "user-1")
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return
			}
			resp.Body.Close()
			statuses[i] = resp.StatusCode
		}(i)
	}
	wg.Wait()

	created201 := 0
	for _, s := range statuses {
		switch s {
		case http.StatusCreated:
			created201++
		case http.StatusBadRequest, http.StatusConflict:
		default:
			t.Fatalf("unexpected status %d", s)
		}
	}
	if created201 != 1 {
		t.Fatalf("expected exactly one 201, got %d (%v)", created201, statuses)
	}
	status, raw := env.do(t, "user-1", http.MethodGet, "/relationships", nil)
	if status != http.StatusOK {
		t.Fatalf("list: %d %s", status, raw)
	}
	list := decode[map[string][]relationship](t, raw)
	if len(list["relationships"]) != 1 {
		t.Fatalf("expected one relationship, got %d", len(list["relationships"]))
	}
}

func TestPatchRoutesStageThroughHistory(t *testing.T) {
	env := newTestEnv(t)
	created := env.createJob(t, "user-1", map[string]any{"company": "Acme"})

	status, raw := env.do(t, "user-1", http.MethodPatch, "/jobs/"+created.ID, map[string]any{"stage": "offer", "rating": 4})
	if status != http.StatusOK {
		t.Fatalf("patch: %d %s", status, raw)
	}
	updated := decode[job](t, raw)
	if updated.Stage != "offer" || updated.Rating != 4 {
		t.Fatalf("unexpected patched job: %+v", updated)
	}
	status, raw = env.do(t, "user-1", http.MethodGet, "/jobs/"+created.ID+"/history", nil)
	if status != http.StatusOK || len(decode[[]stageEvent](t, raw)) != 1 {
		t.Fatalf("expected one history event, got %d %s", status, raw)
	}
}

func TestSchemaValidationRejectsBadBodies(t *testing.T) {
	env := newTestEnv(t)
	status, raw := env.do(t, "user-1", http.MethodPost, "/jobs", map[string]any{"rating": 11})
	if status != http.StatusBadRequest || errorCode(t, raw) != "invalid_request" {
		t.Fatalf("expected schema rejection, got %d %s", status, raw)
	}
	status, raw = env.do(t, "user-1", http.MethodPost, "/jobs", map[string]any{"company": "Acme", "bogus": true})
	if status != http.StatusBadRequest {
		t.Fatalf("expected unknown field rejection, got %d %s", status, raw)
	}
	status, raw = env.do(t, "user-1", http.MethodPost, "/relationships", map[string]any{"type": "vc"})
	if status != http.StatusBadRequest {
		t.Fatalf("expected missing name rejection, got %d %s", status, raw)
	}
}

func TestAgentKeyCreatesUnseenJob(t *testing.T) {
	env := newTestEnv(t)
	req, _ := http.NewRequest(http.MethodPost, env.server.URL+"/jobs", strings.NewReader(`{"company":"Scouted"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(auth.HeaderAgentKey, agentKey)
	status, raw := send(t, req)
	if status != http.StatusCreated {
		t.Fatalf("agent create: %d %s", status, raw)
	}
	created := decode[job](t, raw)
	if created.Origin != "agent" || !created.Unseen {
		t.Fatalf("expected unseen agent job, got %+v", created)
	}

	status, raw = env.do(t, "user-1", http.MethodGet, "/dashboard/summary", nil)
	if status != http.StatusOK {
		t.Fatalf("dashboard: %d %s", status, raw)
	}
	summary := decode[dashboardSummary](t, raw)
	if len(summary.UnseenAgentJobs) != 1 || summary.UnseenAgentJobs[0].ID != created.ID {
		t.Fatalf("expected agent job on dashboard, got %s", raw)
	}

	bad, _ := http.NewRequest(http.MethodGet, env.server.URL+"/jobs", nil)
	bad.Header.Set(auth.HeaderAgentKey, "wrong")
	status, raw = send(t, bad)
	if status != http.StatusUnauthorized || errorCode(t, raw) != "invalid_agent_key" {
		t.Fatalf("expected invalid_agent_key, got %d %s", status, raw)
	}
}

func uploadRequest(t *testing.T, url, filename, mediaType, content string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	header.Set("Content-Type", mediaType)
	part, err := mw.CreatePart(header)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	_, _ = part.Write([]byte(content))
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Test-Subject", "user-1")
	return req
}

func TestAttachmentLifecycleAcrossTransform(t *testing.T) {
	env := newTestEnv(t)
	created := env.createJob(t, "user-1", map[string]any{"company": "Acme"})
	base := env.server.URL + "/jobs/" + created.ID + "/attachments"

	status, raw := send(t, uploadRequest(t, base, "resume.pdf", "application/pdf", "%PDF-1.4 body"))
	if status != http.StatusCreated {
		t.Fatalf("upload: %d %s", status, raw)
	}
	att := decode[attachment](t, raw)

	status, raw = send(t, uploadRequest(t, base, "tool.exe", "application/x-msdownload", "MZ"))
	if status != http.StatusBadRequest || errorCode(t, raw) != "validation_failed" {
		t.Fatalf("expected media type rejection, got %d %s", status, raw)
	}

	status, raw = env.do(t, "user-1", http.MethodPost, "/jobs/"+created.ID+"/transform", nil)
	if status != http.StatusCreated {
		t.Fatalf("transform: %d %s", status, raw)
	}
	targetID := decode[map[string]any](t, raw)["target_id"].(string)

	status, raw = env.do(t, "user-1", http.MethodGet, "/relationships/"+targetID+"/attachments", nil)
	if status != http.StatusOK {
		t.Fatalf("list: %d %s", status, raw)
	}
	copied := decode[map[string][]attachment](t, raw)["attachments"]
	if len(copied) != 1 || copied[0].OriginalName != "resume.pdf" {
		t.Fatalf("unexpected copied attachments: %s", raw)
	}

	status, raw = env.do(t, "user-1", http.MethodGet, "/relationships/"+targetID+"/attachments/"+copied[0].ID+"/download", nil)
	if status != http.StatusOK || string(raw) != "%PDF-1.4 body" {
		t.Fatalf("download: %d %q", status, raw)
	}

	status, raw = env.do(t, "user-1", http.MethodDelete, "/jobs/"+created.ID+"/attachments/"+att.ID, nil)
	if status != http.StatusConflict || errorCode(t, raw) != "entity_locked" {
		t.Fatalf("expected locked source attachments, got %d %s", status, raw)
	}

	status, _ = env.do(t, "user-1", http.MethodDelete, "/jobs/"+created.ID, nil)
	if status != http.StatusNoContent {
		t.Fatalf("delete job: %d", status)
	}
	status, raw = env.do(t, "user-1", http.MethodGet, "/relationships/"+targetID+"/attachments/"+copied[0].ID+"/download", nil)
	if status != http.StatusOK {
		t.Fatalf("shared blob must survive source delete: %d %s", status, raw)
	}

	status, _ = env.do(t, "user-1", http.MethodDelete, "/relationships/"+targetID+"/attachments/"+copied[0].ID, nil)
	if status != http.StatusNoContent {
		t.Fatalf("delete attachment: %d", status)
	}
	status, raw = env.do(t, "user-1", http.MethodGet, "/relationships/"+targetID+"/attachments", nil)
	if status != http.StatusOK || len(decode[map[string][]attachment](t, raw)["attachments"]) != 0 {
		t.Fatalf("expected no attachments left, got %d %s", status, raw)
	}
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t)
	req, _ := http.NewRequest(http.MethodOptions, env.server.URL+"/jobs/abc/stage", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("expected allowed origin, got %q", got)
	}
}
