package core_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"tracker/internal/core"
	"tracker/internal/metrics"
	"tracker/internal/models"
	"tracker/internal/storage/sqlite"
)

// testClock is a settable clock shared by a service under test.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	svc     *core.Service
	store   *sqlite.Store
	clock   *testClock
	metrics *metrics.Collectors
	user    models.User
	project models.Project
}

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "tracker.db"), logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// newFixture opens a fresh store and seeds one user and one project with
// the default board.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithStore(t, nil)
}

// newFixtureWithStore lets a test wrap the sqlite store, e.g. to inject
// failures. wrap may be nil.
func newFixtureWithStore(t *testing.T, wrap func(core.Store) core.Store) *fixture {
	t.Helper()
	store := openStore(t)
	clock := &testClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	collectors := metrics.New(prometheus.NewRegistry())

	var backing core.Store = store
	if wrap != nil {
		backing = wrap(store)
	}
	svc := core.New(backing,
		core.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		core.WithClock(clock.Now),
		core.WithMetrics(collectors),
	)

	ctx := context.Background()
	user, err := svc.CreateUser(ctx, core.CreateUserInput{Name: "Ada", Email: "ada@example.com"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	project, err := svc.CreateProject(ctx, core.CreateProjectInput{Key: "trk", Name: "Tracker"})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	return &fixture{svc: svc, store: store, clock: clock, metrics: collectors, user: user, project: project}
}

func (f *fixture) newUser(t *testing.T, name string) models.User {
	t.Helper()
	u, err := f.svc.CreateUser(context.Background(), core.CreateUserInput{Name: name})
	if err != nil {
		t.Fatalf("create user %s: %v", name, err)
	}
	return u
}

func (f *fixture) newProject(t *testing.T, key string) models.Project {
	t.Helper()
	p, err := f.svc.CreateProject(context.Background(), core.CreateProjectInput{Key: key, Name: key})
	if err != nil {
		t.Fatalf("create project %s: %v", key, err)
	}
	return p
}

func (f *fixture) newTask(t *testing.T, typ models.TaskType, parentID *string) models.Task {
	t.Helper()
	return f.createTask(t, core.CreateTaskInput{Name: string(typ) + " work", Type: typ, ParentID: parentID})
}

// createTask fills in project and assignee when they are empty.
func (f *fixture) createTask(t *testing.T, in core.CreateTaskInput) models.Task {
	t.Helper()
	if in.ProjectID == "" {
		in.ProjectID = f.project.ID
	}
	if in.AssigneeID == "" {
		in.AssigneeID = f.user.ID
	}
	task, err := f.svc.CreateTask(context.Background(), f.user.ID, in)
	if err != nil {
		t.Fatalf("create %s: %v", in.Type, err)
	}
	return task
}

func (f *fixture) newSprint(t *testing.T, projectID string) models.Sprint {
	t.Helper()
	start := f.clock.Now()
	sp, err := f.svc.CreateSprint(context.Background(), core.CreateSprintInput{
		Name:      "Sprint",
		ProjectID: projectID,
		StartDate: start,
		EndDate:   start.AddDate(0, 0, 14),
	})
	if err != nil {
		t.Fatalf("create sprint: %v", err)
	}
	return sp
}

func (f *fixture) sprint(t *testing.T, id string) models.Sprint {
	t.Helper()
	sp, err := f.svc.GetSprint(context.Background(), id)
	if err != nil {
		t.Fatalf("get sprint: %v", err)
	}
	return sp
}

func (f *fixture) setStatus(t *testing.T, taskID, status string) models.Task {
	t.Helper()
	task, err := f.svc.UpdateTask(context.Background(), f.user.ID, taskID, core.TaskPatch{Status: &status})
	if err != nil {
		t.Fatalf("set status %q: %v", status, err)
	}
	return task
}

func (f *fixture) activity(t *testing.T, projectID string) []models.ActivityView {
	t.Helper()
	var out []models.ActivityView
	for e, err := range f.svc.Activity().ListForProject(context.Background(), projectID, 500) {
		if err != nil {
			t.Fatalf("list activity: %v", err)
		}
		out = append(out, e)
	}
	return out
}

func requireKind(t *testing.T, err, kind error) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %v error, got nil", kind)
	}
	if !errors.Is(err, kind) {
		t.Fatalf("expected %v error, got %v", kind, err)
	}
}

func ptr[T any](v T) *T { return &v }

// faultyStore fails selected operations of an otherwise working store.
type faultyStore struct {
	core.Store

	mu               sync.Mutex
	failActivity     bool
	failSprintCounts bool
	failRemoveTask   bool
	failFindSprints  bool
}

var errInjected = errors.New("injected failure")

func (s *faultyStore) set(fn func(*faultyStore)) {
	s.mu.Lock()
	fn(s)
	s.mu.Unlock()
}

func (s *faultyStore) fails(flag *bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *flag
}

func (s *faultyStore) CreateActivity(ctx context.Context, e models.ActivityEntry) (models.ActivityEntry, error) {
	if s.fails(&s.failActivity) {
		return models.ActivityEntry{}, core.StorageError("insert activity", errInjected)
	}
	return s.Store.CreateActivity(ctx, e)
}

func (s *faultyStore) SetSprintCounts(ctx context.Context, sprintID string, total, completed int, updatedAt time.Time) error {
	if s.fails(&s.failSprintCounts) {
		return core.StorageError("set sprint counts", errInjected)
	}
	return s.Store.SetSprintCounts(ctx, sprintID, total, completed, updatedAt)
}

func (s *faultyStore) RemoveSprintTask(ctx context.Context, sprintID, taskID string) error {
	if s.fails(&s.failRemoveTask) {
		return core.StorageError("remove sprint task", errInjected)
	}
	return s.Store.RemoveSprintTask(ctx, sprintID, taskID)
}

func (s *faultyStore) FindSprints(ctx context.Context, f core.SprintFilter) ([]models.Sprint, error) {
	if s.fails(&s.failFindSprints) {
		return nil, core.StorageError("find sprints", errInjected)
	}
	return s.Store.FindSprints(ctx, f)
}
