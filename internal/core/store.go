package core

import (
	"context"
	"iter"
	"time"

	"tracker/internal/models"
)

// TaskFilter selects tasks by equality on reference fields and by set
// membership on IDs, Types and ParentIDs. Zero fields are ignored.
type TaskFilter struct {
	ProjectID  string
	SprintID   string
	ParentID   string
	AssigneeID string
	Status     string
	IDs        []string
	Types      []models.TaskType
	ParentIDs  []string
}

// SprintFilter selects sprints by project and by task membership.
type SprintFilter struct {
	ProjectID    string
	ContainsTask string
}

// Store is the entity store the core is built on. Lookups of absent rows
// return an error of kind ErrNotFound; driver failures return ErrStorage.
type Store interface {
	CreateUser(ctx context.Context, u models.User) (models.User, error)
	GetUser(ctx context.Context, id string) (models.User, error)

	CreateProject(ctx context.Context, p models.Project) (models.Project, error)
	GetProject(ctx context.Context, id string) (models.Project, error)
	GetProjectByKey(ctx context.Context, key string) (models.Project, error)
	ListProjects(ctx context.Context) ([]models.Project, error)
	UpdateProject(ctx context.Context, p models.Project) (models.Project, error)
	SaveColumns(ctx context.Context, projectID string, cols []models.BoardColumn, updatedAt time.Time) error
	DeleteProject(ctx context.Context, id string) error

	CreateTask(ctx context.Context, t models.Task) (models.Task, error)
	GetTask(ctx context.Context, id string) (models.Task, error)
	FindTasks(ctx context.Context, f TaskFilter) ([]models.Task, error)
	UpdateTask(ctx context.Context, t models.Task) (models.Task, error)
	DeleteTask(ctx context.Context, id string) error
	AddWatcher(ctx context.Context, taskID, userID string) error

	CreateSprint(ctx context.Context, s models.Sprint) (models.Sprint, error)
	GetSprint(ctx context.Context, id string) (models.Sprint, error)
	FindSprints(ctx context.Context, f SprintFilter) ([]models.Sprint, error)
	UpdateSprint(ctx context.Context, s models.Sprint) (models.Sprint, error)
	DeleteSprint(ctx context.Context, id string) error
	AddSprintTask(ctx context.Context, sprintID, taskID string) error
	RemoveSprintTask(ctx context.Context, sprintID, taskID string) error
	SetSprintCounts(ctx context.Context, sprintID string, total, completed int, updatedAt time.Time) error
	AddSprintMember(ctx context.Context, sprintID, userID string) error
	RemoveSprintMember(ctx context.Context, sprintID, userID string) error

	CreateActivity(ctx context.Context, e models.ActivityEntry) (models.ActivityEntry, error)
	// ActivityForProject yields entries newest first. The sequence holds a
	// database cursor until it is exhausted or the consumer stops, so the
	// consumer must not issue other store calls while ranging over it.
	ActivityForProject(ctx context.Context, projectID string, limit int) iter.Seq2[models.ActivityView, error]
	ActivityForTask(ctx context.Context, taskID string, limit int) ([]models.ActivityView, error)
}
