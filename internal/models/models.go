package models

import "time"

// TaskType tags a task's level in the epic/task/subtask hierarchy.
type TaskType string

const (
	TypeEpic    TaskType = "epic"
	TypeTask    TaskType = "task"
	TypeSubtask TaskType = "subtask"
	TypeStory   TaskType = "story"
	TypeBug     TaskType = "bug"
)

// TaskTypes lists every valid task type.
var TaskTypes = []TaskType{TypeEpic, TypeTask, TypeSubtask, TypeStory, TypeBug}

// Valid reports whether t is a known task type.
func (t TaskType) Valid() bool {
	for _, known := range TaskTypes {
		if t == known {
			return true
		}
	}
	return false
}

// DefaultStoryPoints returns the points assigned to a task whose estimate is unset.
func (t TaskType) DefaultStoryPoints() int {
	switch t {
	case TypeEpic:
		return 3
	case TypeTask:
		return 2
	case TypeSubtask:
		return 1
	case TypeStory:
		return 4
	case TypeBug:
		return 5
	default:
		return 0
	}
}

// Priority is the urgency of a task.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Priorities lists every valid priority, lowest first.
var Priorities = []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical}

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	for _, known := range Priorities {
		if p == known {
			return true
		}
	}
	return false
}

// TerminalStatuses are the column names that count a task as complete.
// Matching is exact and case-sensitive.
var TerminalStatuses = map[string]struct{}{
	"Done":      {},
	"Completed": {},
}

// IsTerminalStatus reports whether status marks a task as complete.
func IsTerminalStatus(status string) bool {
	_, ok := TerminalStatuses[status]
	return ok
}

// FallbackStatus is used when a project has no board columns.
const FallbackStatus = "To Do"

// DefaultColumnNames seed a project created without explicit columns.
var DefaultColumnNames = []string{"To Do", "In Progress", "In Review", "Done"}

// User is the minimal record needed to resolve and display references.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// BoardColumn is one named workflow stage of a project.
type BoardColumn struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Order int    `json:"order"`
}

// Project groups tasks and sprints and owns the workflow columns.
type Project struct {
	ID          string        `json:"id"`
	Key         string        `json:"key"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Columns     []BoardColumn `json:"columns"`
	StartDate   *time.Time    `json:"start_date,omitempty"`
	EndDate     *time.Time    `json:"end_date,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// ColumnNames returns the column names in board order.
func (p *Project) ColumnNames() []string {
	names := make([]string, len(p.Columns))
	for i, c := range p.Columns {
		names[i] = c.Name
	}
	return names
}

// Task is a single work item on a project board.
type Task struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Type        TaskType   `json:"type"`
	Status      string     `json:"status"`
	Priority    Priority   `json:"priority"`
	ProjectID   string     `json:"project_id"`
	SprintID    *string    `json:"sprint_id,omitempty"`
	ParentID    *string    `json:"parent_id,omitempty"`
	AssigneeID  string     `json:"assignee_id"`
	ReporterID  *string    `json:"reporter_id,omitempty"`
	StoryPoints int        `json:"story_points"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Watchers    []string   `json:"watchers"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// SprintStatus is a stage of the forward-only sprint lifecycle.
type SprintStatus string

const (
	SprintPlanning  SprintStatus = "planning"
	SprintActive    SprintStatus = "active"
	SprintCompleted SprintStatus = "completed"
	SprintCancelled SprintStatus = "cancelled"
)

// Sprint is a time-boxed set of tasks. TotalTasks and CompletedTasks are
// derived from the task set and never written by callers.
type Sprint struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	ProjectID      string       `json:"project_id"`
	StartDate      time.Time    `json:"start_date"`
	EndDate        time.Time    `json:"end_date"`
	Status         SprintStatus `json:"status"`
	Goal           string       `json:"goal"`
	TaskIDs        []string     `json:"tasks"`
	Members        []string     `json:"team_members"`
	TotalTasks     int          `json:"total_tasks"`
	CompletedTasks int          `json:"completed_tasks"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// Action names the kind of change an activity entry records.
type Action string

const (
	ActionCreated       Action = "created"
	ActionUpdated       Action = "updated"
	ActionDeleted       Action = "deleted"
	ActionCommented     Action = "commented"
	ActionAssigned      Action = "assigned"
	ActionStatusChanged Action = "changed status"
	ActionAttached      Action = "attached"
	ActionWatcherAdded  Action = "added watcher"
)

// ActivityEntry is an immutable audit record of one change to a task.
type ActivityEntry struct {
	ID           string    `json:"id"`
	ActorID      string    `json:"actor_id"`
	Action       Action    `json:"action"`
	TaskID       string    `json:"task_id"`
	ProjectID    string    `json:"project_id"`
	Details      string    `json:"details,omitempty"`
	FieldChanged string    `json:"field_changed,omitempty"`
	OldValue     any       `json:"old_value,omitempty"`
	NewValue     any       `json:"new_value,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// ActivityView is an activity entry joined with display fields.
type ActivityView struct {
	ActivityEntry
	ActorName string `json:"actor_name"`
	TaskName  string `json:"task_name"`
}
