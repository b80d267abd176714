package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"tracker/internal/core"
	"tracker/internal/metrics"
	"tracker/internal/storage/sqlite"
)

type apiClient struct {
	t       *testing.T
	handler http.Handler
	actor   string
}

type envelope map[string]any

func newTestServer(t *testing.T, staticDir string) *apiClient {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "tracker.db"), logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	reg := prometheus.NewRegistry()
	svc := core.New(store, core.WithLogger(logger), core.WithMetrics(metrics.New(reg)))
	srv := New(svc, Config{Logger: logger, StaticDir: staticDir, Gatherer: reg, DB: store})
	return &apiClient{t: t, handler: srv.Engine()}
}

func (a *apiClient) do(method, path string, body any) (int, envelope) {
	a.t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			a.t.Fatalf("encode body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if a.actor != "" {
		req.Header.Set(ActorHeader, a.actor)
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)

	var out envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			a.t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return rec.Code, out
}

// must performs a request that is expected to answer with status.
func (a *apiClient) must(status int, method, path string, body any) envelope {
	a.t.Helper()
	code, out := a.do(method, path, body)
	if code != status {
		a.t.Fatalf("%s %s = %d, want %d: %v", method, path, code, status, out)
	}
	return out
}

func field(t *testing.T, e envelope, key, name string) any {
	t.Helper()
	obj, ok := e[key].(map[string]any)
	if !ok {
		t.Fatalf("response has no %q object: %v", key, e)
	}
	return obj[name]
}

func TestHealth(t *testing.T) {
	api := newTestServer(t, "")
	out := api.must(http.StatusOK, http.MethodGet, "/api/healthz", nil)
	if out["success"] != true {
		t.Fatalf("unexpected body: %v", out)
	}
}

func TestTaskLifecycleOverHTTP(t *testing.T) {
	api := newTestServer(t, "")

	user := api.must(http.StatusCreated, http.MethodPost, "/api/users", map[string]any{"name": "Ada"})
	api.actor = field(t, user, "user", "id").(string)

	project := api.must(http.StatusCreated, http.MethodPost, "/api/projects", map[string]any{"key": "web", "name": "Website"})
	projectID := field(t, project, "project", "id").(string)
	if field(t, project, "project", "key") != "WEB" {
		t.Fatalf("unexpected project: %v", project)
	}

	epic := api.must(http.StatusCreated, http.MethodPost, "/api/projects/"+projectID+"/tasks",
		map[string]any{"name": "Launch", "type": "epic", "assignee_id": api.actor})
	epicID := field(t, epic, "task", "id").(string)

	task := api.must(http.StatusCreated, http.MethodPost, "/api/projects/"+projectID+"/tasks",
		map[string]any{"name": "Landing page", "type": "task", "assignee_id": api.actor, "parent_id": epicID})
	taskID := field(t, task, "task", "id").(string)
	if field(t, task, "task", "status") != "To Do" || field(t, task, "task", "story_points") != float64(2) {
		t.Fatalf("unexpected task: %v", task)
	}

	updated := api.must(http.StatusOK, http.MethodPut, "/api/tasks/"+taskID, map[string]any{"status": "Done"})
	if field(t, updated, "task", "completed_at") == nil {
		t.Fatalf("completed_at not set: %v", updated)
	}

	code, out := api.do(http.MethodPut, "/api/tasks/"+taskID, map[string]any{"status": "Someday"})
	if code != http.StatusUnprocessableEntity || out["success"] != false {
		t.Fatalf("unknown status = %d %v", code, out)
	}

	api.must(http.StatusConflict, http.MethodDelete, "/api/tasks/"+epicID, nil)

	activity := api.must(http.StatusOK, http.MethodGet, "/api/projects/"+projectID+"/activity?limit=10", nil)
	entries, _ := activity["activity"].([]any)
	if len(entries) != 3 {
		t.Fatalf("got %d activity entries, want 3: %v", len(entries), activity)
	}

	epics := api.must(http.StatusOK, http.MethodGet, "/api/projects/"+projectID+"/reports/epics", nil)
	list, _ := epics["epics"].([]any)
	if len(list) != 1 || list[0].(map[string]any)["completion_percentage"] != float64(100) {
		t.Fatalf("unexpected epic report: %v", epics)
	}

	api.must(http.StatusOK, http.MethodDelete, "/api/tasks/"+taskID, nil)
	api.must(http.StatusNotFound, http.MethodGet, "/api/tasks/"+taskID, nil)
}

func TestValidationErrors(t *testing.T) {
	api := newTestServer(t, "")

	code, out := api.do(http.MethodPost, "/api/projects", map[string]any{"name": "No key"})
	if code != http.StatusBadRequest {
		t.Fatalf("missing key = %d", code)
	}
	errs, _ := out["errors"].([]any)
	if len(errs) != 1 || errs[0].(map[string]any)["field"] != "key" {
		t.Fatalf("unexpected field errors: %v", out)
	}

	api.must(http.StatusBadRequest, http.MethodPost, "/api/projects", "{not json")
	api.must(http.StatusBadRequest, http.MethodGet, "/api/tasks/not-an-id", nil)
	api.must(http.StatusBadRequest, http.MethodGet, "/api/projects/3f1c2a7e-5b9d-4c1e-8a6f-0d2b4e6f8a10/activity?limit=x", nil)
	api.must(http.StatusNotFound, http.MethodGet, "/api/projects/3f1c2a7e-5b9d-4c1e-8a6f-0d2b4e6f8a10", nil)
}

func TestMutationsRequireActor(t *testing.T) {
	api := newTestServer(t, "")
	user := api.must(http.StatusCreated, http.MethodPost, "/api/users", map[string]any{"name": "Ada"})
	userID := field(t, user, "user", "id").(string)
	project := api.must(http.StatusCreated, http.MethodPost, "/api/projects", map[string]any{"key": "web", "name": "Website"})
	projectID := field(t, project, "project", "id").(string)

	code, out := api.do(http.MethodPost, "/api/projects/"+projectID+"/tasks",
		map[string]any{"name": "Anonymous", "type": "task", "assignee_id": userID})
	if code != http.StatusBadRequest {
		t.Fatalf("missing actor = %d %v", code, out)
	}
}

func TestSprintEndpoints(t *testing.T) {
	api := newTestServer(t, "")
	user := api.must(http.StatusCreated, http.MethodPost, "/api/users", map[string]any{"name": "Ada"})
	api.actor = field(t, user, "user", "id").(string)
	project := api.must(http.StatusCreated, http.MethodPost, "/api/projects", map[string]any{"key": "web", "name": "Website"})
	projectID := field(t, project, "project", "id").(string)
	other := api.must(http.StatusCreated, http.MethodPost, "/api/projects", map[string]any{"key": "ops", "name": "Ops"})
	otherID := field(t, other, "project", "id").(string)

	sprintBody := map[string]any{"name": "S1", "start_date": "2024-03-01T00:00:00Z", "end_date": "2024-03-15T00:00:00Z"}
	sprint := api.must(http.StatusCreated, http.MethodPost, "/api/projects/"+projectID+"/sprints", sprintBody)
	sprintID := field(t, sprint, "sprint", "id").(string)
	foreign := api.must(http.StatusCreated, http.MethodPost, "/api/projects/"+otherID+"/sprints", sprintBody)
	foreignID := field(t, foreign, "sprint", "id").(string)

	task := api.must(http.StatusCreated, http.MethodPost, "/api/projects/"+projectID+"/tasks",
		map[string]any{"name": "Work", "type": "task", "assignee_id": api.actor})
	taskID := field(t, task, "task", "id").(string)

	api.must(http.StatusOK, http.MethodPut, "/api/tasks/"+taskID+"/sprint", map[string]any{"sprint_id": sprintID})
	got := api.must(http.StatusOK, http.MethodGet, "/api/sprints/"+sprintID, nil)
	if field(t, got, "sprint", "total_tasks") != float64(1) {
		t.Fatalf("unexpected sprint: %v", got)
	}

	api.must(http.StatusUnprocessableEntity, http.MethodPut, "/api/tasks/"+taskID+"/sprint", map[string]any{"sprint_id": foreignID})

	api.must(http.StatusConflict, http.MethodPut, "/api/sprints/"+sprintID+"/status", map[string]any{"status": "completed"})
	active := api.must(http.StatusOK, http.MethodPut, "/api/sprints/"+sprintID+"/status", map[string]any{"status": "active"})
	if field(t, active, "sprint", "status") != "active" {
		t.Fatalf("unexpected sprint: %v", active)
	}

	api.must(http.StatusOK, http.MethodPut, "/api/tasks/"+taskID+"/sprint", map[string]any{"sprint_id": nil})
	got = api.must(http.StatusOK, http.MethodPost, "/api/sprints/"+sprintID+"/recompute", nil)
	if field(t, got, "sprint", "total_tasks") != float64(0) {
		t.Fatalf("unexpected sprint: %v", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	api := newTestServer(t, "")
	user := api.must(http.StatusCreated, http.MethodPost, "/api/users", map[string]any{"name": "Ada"})
	api.actor = field(t, user, "user", "id").(string)
	project := api.must(http.StatusCreated, http.MethodPost, "/api/projects", map[string]any{"key": "web", "name": "Website"})
	projectID := field(t, project, "project", "id").(string)
	api.must(http.StatusCreated, http.MethodPost, "/api/projects/"+projectID+"/tasks",
		map[string]any{"name": "Work", "type": "task", "assignee_id": api.actor})

	rec := httptest.NewRecorder()
	api.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `tracker_task_mutations_total{op="create"} 1`) {
		t.Fatalf("metrics output lacks the task counter:\n%s", rec.Body.String())
	}
}

func TestStaticFallback(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>board</html>"), 0o644); err != nil {
		t.Fatalf("write index: %v", err)
	}
	api := newTestServer(t, dir)

	rec := httptest.NewRecorder()
	api.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boards/web", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "board") {
		t.Fatalf("frontend route = %d %q", rec.Code, rec.Body.String())
	}

	code, out := api.do(http.MethodGet, "/api/nothing", nil)
	if code != http.StatusNotFound || out["success"] != false {
		t.Fatalf("unknown api path = %d %v", code, out)
	}
}

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{core.NotFoundError("task", "x"), http.StatusNotFound},
		{&core.Error{Kind: core.ErrInvalidInput}, http.StatusBadRequest},
		{&core.Error{Kind: core.ErrHierarchyViolation}, http.StatusUnprocessableEntity},
		{&core.Error{Kind: core.ErrUnknownStatus}, http.StatusUnprocessableEntity},
		{&core.Error{Kind: core.ErrCrossProject}, http.StatusUnprocessableEntity},
		{&core.Error{Kind: core.ErrInvalidOperation}, http.StatusConflict},
		{core.StorageError("op", io.ErrUnexpectedEOF), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Errorf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
