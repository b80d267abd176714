package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"tracker/internal/core"
	"tracker/internal/ids"
	"tracker/internal/models"
)

var epoch = time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "data", "tracker.db"), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedProject(t *testing.T, s *Store, key string) models.Project {
	t.Helper()
	p, err := s.CreateProject(context.Background(), models.Project{
		ID:   ids.New(),
		Key:  key,
		Name: key,
		Columns: []models.BoardColumn{
			{ID: ids.New(), Name: "To Do", Order: 0},
			{ID: ids.New(), Name: "Done", Order: 1},
		},
		CreatedAt: epoch,
		UpdatedAt: epoch,
	})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	return p
}

func seedTask(t *testing.T, s *Store, projectID string, mutate func(*models.Task)) models.Task {
	t.Helper()
	task := models.Task{
		ID:          ids.New(),
		Name:        "Task",
		Type:        models.TypeTask,
		Status:      "To Do",
		Priority:    models.PriorityMedium,
		ProjectID:   projectID,
		AssigneeID:  ids.New(),
		StoryPoints: 2,
		CreatedAt:   epoch,
		UpdatedAt:   epoch,
	}
	if mutate != nil {
		mutate(&task)
	}
	created, err := s.CreateTask(context.Background(), task)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return created
}

func TestOpenIsRepeatable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tracker.db")
	for i := 0; i < 2; i++ {
		s, err := Open(path, nil)
		if err != nil {
			t.Fatalf("open %d: %v", i, err)
		}
		if err := s.Ping(context.Background()); err != nil {
			t.Fatalf("ping: %v", err)
		}
		if err := s.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	}
	if _, err := Open("", nil); err == nil {
		t.Fatalf("empty path must be rejected")
	}
}

func TestUsers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u, err := s.CreateUser(ctx, models.User{ID: ids.New(), Name: "Ada", CreatedAt: epoch})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	got, err := s.GetUser(ctx, u.ID)
	if err != nil || got.Name != "Ada" {
		t.Fatalf("get user: %+v, %v", got, err)
	}
	if _, err := s.GetUser(ctx, ids.New()); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestProjectRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := seedProject(t, s, "ABC")

	if len(p.Columns) != 2 || p.Columns[0].Name != "To Do" || p.Columns[1].Order != 1 {
		t.Fatalf("unexpected columns: %+v", p.Columns)
	}
	byKey, err := s.GetProjectByKey(ctx, "abc")
	if err != nil || byKey.ID != p.ID {
		t.Fatalf("get by key: %+v, %v", byKey, err)
	}

	_, err = s.CreateProject(ctx, models.Project{ID: ids.New(), Key: "ABC", Name: "dup", CreatedAt: epoch, UpdatedAt: epoch})
	if !errors.Is(err, core.ErrInvalidInput) {
		t.Fatalf("duplicate key: expected invalid input, got %v", err)
	}

	later := epoch.Add(time.Hour)
	cols := []models.BoardColumn{{ID: ids.New(), Name: "Backlog", Order: 0}}
	if err := s.SaveColumns(ctx, p.ID, cols, later); err != nil {
		t.Fatalf("save columns: %v", err)
	}
	got, _ := s.GetProject(ctx, p.ID)
	if len(got.Columns) != 1 || got.Columns[0].Name != "Backlog" || !got.UpdatedAt.Equal(later) {
		t.Fatalf("unexpected project after save: %+v", got)
	}

	if err := s.SaveColumns(ctx, ids.New(), cols, later); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("save columns of missing project: %v", err)
	}

	all, err := s.ListProjects(ctx)
	if err != nil || len(all) != 1 || len(all[0].Columns) != 1 {
		t.Fatalf("list projects: %+v, %v", all, err)
	}
}

func TestFindTasksFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := seedProject(t, s, "ABC")
	epic := seedTask(t, s, p.ID, func(t *models.Task) { t.Type = models.TypeEpic })
	child := seedTask(t, s, p.ID, func(t *models.Task) { t.ParentID = &epic.ID; t.Status = "Done" })
	other := seedProject(t, s, "XYZ")
	seedTask(t, s, other.ID, nil)

	cases := []struct {
		name   string
		filter core.TaskFilter
		want   int
	}{
		{"by project", core.TaskFilter{ProjectID: p.ID}, 2},
		{"by status", core.TaskFilter{ProjectID: p.ID, Status: "Done"}, 1},
		{"by parent", core.TaskFilter{ParentID: epic.ID}, 1},
		{"by parents", core.TaskFilter{ParentIDs: []string{epic.ID, child.ID}}, 1},
		{"by ids", core.TaskFilter{IDs: []string{epic.ID, child.ID}}, 2},
		{"by type", core.TaskFilter{Types: []models.TaskType{models.TypeEpic}}, 1},
		{"empty id set", core.TaskFilter{IDs: []string{}}, 0},
		{"everything", core.TaskFilter{}, 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := s.FindTasks(ctx, tc.filter)
			if err != nil {
				t.Fatalf("find: %v", err)
			}
			if len(got) != tc.want {
				t.Fatalf("got %d tasks, want %d", len(got), tc.want)
			}
		})
	}
}

func TestTaskWatchersAndUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := seedProject(t, s, "ABC")
	w := ids.New()
	task := seedTask(t, s, p.ID, func(t *models.Task) { t.Watchers = []string{w} })

	if err := s.AddWatcher(ctx, task.ID, w); err != nil {
		t.Fatalf("add watcher twice: %v", err)
	}
	got, _ := s.GetTask(ctx, task.ID)
	if len(got.Watchers) != 1 {
		t.Fatalf("watchers = %v", got.Watchers)
	}

	done := epoch.Add(2 * time.Hour)
	got.Status = "Done"
	got.CompletedAt = &done
	got.UpdatedAt = done
	updated, err := s.UpdateTask(ctx, got)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.CompletedAt == nil || !updated.CompletedAt.Equal(done) || len(updated.Watchers) != 1 {
		t.Fatalf("unexpected task: %+v", updated)
	}

	got.ID = ids.New()
	if _, err := s.UpdateTask(ctx, got); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("update of missing task: %v", err)
	}
}

func TestSprintSetsAndCascade(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := seedProject(t, s, "ABC")
	member := ids.New()
	sp, err := s.CreateSprint(ctx, models.Sprint{
		ID: ids.New(), Name: "S1", ProjectID: p.ID, Status: models.SprintPlanning,
		StartDate: epoch, EndDate: epoch.AddDate(0, 0, 7), Members: []string{member},
		CreatedAt: epoch, UpdatedAt: epoch,
	})
	if err != nil {
		t.Fatalf("create sprint: %v", err)
	}
	task := seedTask(t, s, p.ID, func(t *models.Task) { t.SprintID = &sp.ID })

	for i := 0; i < 2; i++ {
		if err := s.AddSprintTask(ctx, sp.ID, task.ID); err != nil {
			t.Fatalf("add sprint task: %v", err)
		}
	}
	if err := s.SetSprintCounts(ctx, sp.ID, 1, 0, epoch); err != nil {
		t.Fatalf("set counts: %v", err)
	}
	got, _ := s.GetSprint(ctx, sp.ID)
	if len(got.TaskIDs) != 1 || got.TotalTasks != 1 || len(got.Members) != 1 {
		t.Fatalf("unexpected sprint: %+v", got)
	}

	containing, err := s.FindSprints(ctx, core.SprintFilter{ContainsTask: task.ID})
	if err != nil || len(containing) != 1 {
		t.Fatalf("find containing: %v, %v", containing, err)
	}

	if err := s.DeleteTask(ctx, task.ID); err != nil {
		t.Fatalf("delete task: %v", err)
	}
	got, _ = s.GetSprint(ctx, sp.ID)
	if len(got.TaskIDs) != 0 {
		t.Fatalf("sprint membership must cascade with the task")
	}

	if err := s.SetSprintCounts(ctx, ids.New(), 0, 0, epoch); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("counts on missing sprint: %v", err)
	}
}

func TestActivityValuesRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := seedProject(t, s, "ABC")
	task := seedTask(t, s, p.ID, nil)

	entries := []models.ActivityEntry{
		{ID: ids.New(), ActorID: ids.New(), Action: models.ActionCreated, TaskID: task.ID, ProjectID: p.ID, Timestamp: epoch},
		{ID: ids.New(), ActorID: ids.New(), Action: models.ActionUpdated, TaskID: task.ID, ProjectID: p.ID,
			FieldChanged: "story_points", OldValue: 2, NewValue: 5, Timestamp: epoch.Add(time.Minute)},
		{ID: ids.New(), ActorID: ids.New(), Action: models.ActionUpdated, TaskID: task.ID, ProjectID: p.ID,
			FieldChanged: "parent_id", OldValue: "x", NewValue: nil, Timestamp: epoch.Add(time.Minute)},
	}
	for _, e := range entries {
		if _, err := s.CreateActivity(ctx, e); err != nil {
			t.Fatalf("create activity: %v", err)
		}
	}

	var got []models.ActivityView
	for v, err := range s.ActivityForProject(ctx, p.ID, 10) {
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		got = append(got, v)
	}
	if len(got) != 3 {
		t.Fatalf("got %d entries", len(got))
	}
	if got[0].FieldChanged != "parent_id" || got[0].OldValue != "x" || got[0].NewValue != nil {
		t.Fatalf("unexpected newest entry: %+v", got[0])
	}
	if got[1].OldValue != float64(2) || got[1].NewValue != float64(5) {
		t.Fatalf("numbers decode as JSON numbers: %+v", got[1])
	}
	if got[2].TaskName != "Task" || got[2].ActorName != "" {
		t.Fatalf("unexpected display fields: %+v", got[2])
	}

	if err := s.DeleteProject(ctx, p.ID); err != nil {
		t.Fatalf("delete project: %v", err)
	}
	rest, err := s.ActivityForTask(ctx, task.ID, 10)
	if err != nil || len(rest) != 0 {
		t.Fatalf("activity must cascade with the project: %v, %v", rest, err)
	}
}

func TestPlaceholders(t *testing.T) {
	cases := map[int]string{0: "", 1: "?", 3: "?, ?, ?"}
	for n, want := range cases {
		if got := placeholders(n); got != want {
			t.Errorf("placeholders(%d) = %q, want %q", n, got, want)
		}
	}
}
