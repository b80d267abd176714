package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"tracker/internal/ids"
	"tracker/internal/metrics"
	"tracker/internal/models"
)

// Optional is a nullable patch field. Set reports whether the field was
// present at all; a present field with a nil Value clears the reference.
type Optional[T any] struct {
	Set   bool
	Value *T
}

// Some returns a present Optional holding v.
func Some[T any](v T) Optional[T] {
	return Optional[T]{Set: true, Value: &v}
}

// Null returns a present Optional that clears the field.
func Null[T any]() Optional[T] {
	return Optional[T]{Set: true}
}

// UnmarshalJSON marks the field present; JSON null clears it.
func (o *Optional[T]) UnmarshalJSON(b []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		o.Value = nil
		return nil
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	o.Value = &v
	return nil
}

// CreateTaskInput is the payload of CreateTask. An empty or unknown status
// is replaced with the project's first column; unset story points default
// by type.
type CreateTaskInput struct {
	Name        string          `json:"name" validate:"required,max=500"`
	Description string          `json:"description" validate:"max=20000"`
	Type        models.TaskType `json:"type" validate:"required,oneof=epic task subtask story bug"`
	Status      string          `json:"status"`
	Priority    models.Priority `json:"priority" validate:"omitempty,oneof=low medium high critical"`
	ProjectID   string          `json:"project_id" validate:"required,id"`
	SprintID    *string         `json:"sprint_id" validate:"omitempty,id"`
	ParentID    *string         `json:"parent_id" validate:"omitempty,id"`
	AssigneeID  string          `json:"assignee_id" validate:"required,id"`
	ReporterID  *string         `json:"reporter_id" validate:"omitempty,id"`
	StoryPoints *int            `json:"story_points" validate:"omitempty,gte=0"`
	DueDate     *time.Time      `json:"due_date"`
	Watchers    []string        `json:"watchers" validate:"dive,id"`
}

// TaskPatch is a field-level task update. Nil pointers and unset Optionals
// leave the field unchanged.
type TaskPatch struct {
	Name        *string             `json:"name" validate:"omitempty,max=500"`
	Description *string             `json:"description" validate:"omitempty,max=20000"`
	Type        *models.TaskType    `json:"type" validate:"omitempty,oneof=epic task subtask story bug"`
	Status      *string             `json:"status"`
	Priority    *models.Priority    `json:"priority" validate:"omitempty,oneof=low medium high critical"`
	ParentID    Optional[string]    `json:"parent_id"`
	SprintID    Optional[string]    `json:"sprint_id"`
	AssigneeID  *string             `json:"assignee_id" validate:"omitempty,id"`
	ReporterID  Optional[string]    `json:"reporter_id"`
	StoryPoints *int                `json:"story_points" validate:"omitempty,gt=0"`
	DueDate     Optional[time.Time] `json:"due_date"`
}

// TaskQuery narrows ListTasks.
type TaskQuery struct {
	ProjectID  string
	SprintID   string
	AssigneeID string
	Status     string
	Type       models.TaskType
}

type fieldChange struct {
	field    string
	old, new any
}

// CreateTask validates and persists a new task, then adds it to its sprint
// and records the creation.
func (s *Service) CreateTask(ctx context.Context, actorID string, in CreateTaskInput) (models.Task, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Status = strings.TrimSpace(in.Status)
	in.Priority = models.Priority(strings.ToLower(strings.TrimSpace(string(in.Priority))))
	if in.SprintID != nil && *in.SprintID == "" {
		in.SprintID = nil
	}
	if in.ReporterID != nil && *in.ReporterID == "" {
		in.ReporterID = nil
	}
	if in.ParentID != nil && *in.ParentID == "" {
		in.ParentID = nil
	}
	if err := checkActor(actorID); err != nil {
		return models.Task{}, err
	}
	if err := validateStruct(in); err != nil {
		return models.Task{}, err
	}

	unlock := s.projectLocks.Lock(in.ProjectID)
	defer unlock()

	project, err := s.store.GetProject(ctx, in.ProjectID)
	if err != nil {
		return models.Task{}, err
	}
	if len(project.Columns) == 0 {
		return models.Task{}, newError(ErrInvalidOperation, "project %s has no board columns", project.Key)
	}
	if err := s.checkUsers(ctx, append([]string{in.AssigneeID}, in.Watchers...)...); err != nil {
		return models.Task{}, err
	}
	if in.ReporterID != nil {
		if err := s.checkUsers(ctx, *in.ReporterID); err != nil {
			return models.Task{}, err
		}
	}

	parentID, err := s.ValidateHierarchy(ctx, project.ID, in.Type, in.ParentID, "")
	if err != nil {
		return models.Task{}, err
	}

	status := in.Status
	if status == "" || ValidateStatus(project.Columns, status) != nil {
		status = DefaultStatus(project.Columns)
	}

	if in.SprintID != nil {
		if err := s.checkSprintTarget(ctx, project.ID, *in.SprintID); err != nil {
			return models.Task{}, err
		}
	}

	points := in.Type.DefaultStoryPoints()
	if in.StoryPoints != nil && *in.StoryPoints > 0 {
		points = *in.StoryPoints
	}
	priority := in.Priority
	if priority == "" {
		priority = models.PriorityMedium
	}

	now := s.clock()
	task := models.Task{
		ID:          ids.New(),
		Name:        in.Name,
		Description: in.Description,
		Type:        in.Type,
		Status:      status,
		Priority:    priority,
		ProjectID:   project.ID,
		SprintID:    in.SprintID,
		ParentID:    parentID,
		AssigneeID:  in.AssigneeID,
		ReporterID:  in.ReporterID,
		StoryPoints: points,
		DueDate:     utcPtr(in.DueDate),
		Watchers:    dedupe(in.Watchers),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	applyCompletion(&task, now)

	created, err := s.store.CreateTask(ctx, task)
	if err != nil {
		return models.Task{}, err
	}
	s.metrics.TaskMutation("create")

	if created.SprintID != nil {
		if err := s.moveTaskSprint(ctx, created.ID, *created.SprintID); err != nil {
			s.secondaryFailed(ctx, metrics.OpSprintRecompute, err,
				slog.String("task_id", created.ID), slog.String("sprint_id", *created.SprintID))
		}
	}

	s.recordActivity(ctx, RecordInput{
		ActorID:   actorID,
		Action:    models.ActionCreated,
		TaskID:    created.ID,
		ProjectID: created.ProjectID,
		Details:   fmt.Sprintf("created %s %q", created.Type, created.Name),
	})
	if created.AssigneeID != actorID {
		s.notify(ctx, created.AssigneeID, "Task assigned", fmt.Sprintf("%s: %s", project.Key, created.Name))
	}
	return created, nil
}

// GetTask returns a task by id.
func (s *Service) GetTask(ctx context.Context, taskID string) (models.Task, error) {
	if !ids.Valid(taskID) {
		return models.Task{}, invalidf("malformed task id %q", taskID)
	}
	return s.store.GetTask(ctx, taskID)
}

// ListTasks returns the tasks of a project matching q.
func (s *Service) ListTasks(ctx context.Context, q TaskQuery) ([]models.Task, error) {
	if !ids.Valid(q.ProjectID) {
		return nil, invalidf("malformed project id %q", q.ProjectID)
	}
	if _, err := s.store.GetProject(ctx, q.ProjectID); err != nil {
		return nil, err
	}
	f := TaskFilter{ProjectID: q.ProjectID, SprintID: q.SprintID, AssigneeID: q.AssigneeID, Status: q.Status}
	if q.Type != "" {
		f.Types = []models.TaskType{q.Type}
	}
	return s.store.FindTasks(ctx, f)
}

// UpdateTask applies a field-level patch. Hierarchy is re-validated only
// when type or parent change and status only when it changes; an unknown
// status is rejected rather than substituted.
func (s *Service) UpdateTask(ctx context.Context, actorID, taskID string, patch TaskPatch) (models.Task, error) {
	if !ids.Valid(taskID) {
		return models.Task{}, invalidf("malformed task id %q", taskID)
	}
	if err := checkActor(actorID); err != nil {
		return models.Task{}, err
	}
	if patch.Priority != nil {
		p := models.Priority(strings.ToLower(strings.TrimSpace(string(*patch.Priority))))
		patch.Priority = &p
	}
	if err := validateStruct(patch); err != nil {
		return models.Task{}, err
	}
	if err := validateOptionalIDs(map[string]Optional[string]{
		"parent_id":   patch.ParentID,
		"sprint_id":   patch.SprintID,
		"reporter_id": patch.ReporterID,
	}); err != nil {
		return models.Task{}, err
	}

	current, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return models.Task{}, err
	}
	unlock := s.projectLocks.Lock(current.ProjectID)
	defer unlock()
	if current, err = s.store.GetTask(ctx, taskID); err != nil {
		return models.Task{}, err
	}

	next := current
	var changes []fieldChange

	// Hierarchy.
	typeChanged := patch.Type != nil && *patch.Type != current.Type
	if typeChanged || patch.ParentID.Set {
		if typeChanged {
			next.Type = *patch.Type
			if err := s.validateChildren(ctx, current.ID, next.Type); err != nil {
				return models.Task{}, err
			}
		}
		proposed := current.ParentID
		if patch.ParentID.Set {
			proposed = patch.ParentID.Value
		}
		parentID, err := s.ValidateHierarchy(ctx, current.ProjectID, next.Type, proposed, current.ID)
		if err != nil {
			return models.Task{}, err
		}
		next.ParentID = parentID
		if typeChanged {
			changes = append(changes, fieldChange{"type", string(current.Type), string(next.Type)})
		}
		if deref(current.ParentID) != deref(next.ParentID) {
			changes = append(changes, fieldChange{"parent_id", nullable(current.ParentID), nullable(next.ParentID)})
		}
	}

	// Status.
	statusChanged := patch.Status != nil && strings.TrimSpace(*patch.Status) != current.Status
	if statusChanged {
		project, err := s.store.GetProject(ctx, current.ProjectID)
		if err != nil {
			return models.Task{}, err
		}
		next.Status = strings.TrimSpace(*patch.Status)
		if err := ValidateStatus(project.Columns, next.Status); err != nil {
			return models.Task{}, err
		}
		changes = append(changes, fieldChange{"status", current.Status, next.Status})
	}

	// Sprint.
	sprintChanged := patch.SprintID.Set && deref(patch.SprintID.Value) != deref(current.SprintID)
	if sprintChanged {
		next.SprintID = normalizeRef(patch.SprintID.Value)
		if next.SprintID != nil {
			if err := s.checkSprintTarget(ctx, current.ProjectID, *next.SprintID); err != nil {
				return models.Task{}, err
			}
		}
		changes = append(changes, fieldChange{"sprint_id", nullable(current.SprintID), nullable(next.SprintID)})
	}

	// Plain fields.
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return models.Task{}, &Error{Kind: ErrInvalidInput, Message: "validation failed",
				Fields: []FieldError{{Field: "name", Message: "name is required"}}}
		}
		if name != current.Name {
			next.Name = name
			changes = append(changes, fieldChange{"name", current.Name, name})
		}
	}
	if patch.Description != nil && *patch.Description != current.Description {
		next.Description = *patch.Description
		changes = append(changes, fieldChange{"description", current.Description, next.Description})
	}
	if patch.Priority != nil && *patch.Priority != current.Priority {
		next.Priority = *patch.Priority
		changes = append(changes, fieldChange{"priority", string(current.Priority), string(next.Priority)})
	}
	if patch.AssigneeID != nil && *patch.AssigneeID != current.AssigneeID {
		if err := s.checkUsers(ctx, *patch.AssigneeID); err != nil {
			return models.Task{}, err
		}
		next.AssigneeID = *patch.AssigneeID
		changes = append(changes, fieldChange{"assignee_id", current.AssigneeID, next.AssigneeID})
	}
	if patch.ReporterID.Set && deref(patch.ReporterID.Value) != deref(current.ReporterID) {
		next.ReporterID = normalizeRef(patch.ReporterID.Value)
		if next.ReporterID != nil {
			if err := s.checkUsers(ctx, *next.ReporterID); err != nil {
				return models.Task{}, err
			}
		}
		changes = append(changes, fieldChange{"reporter_id", nullable(current.ReporterID), nullable(next.ReporterID)})
	}
	if patch.StoryPoints != nil && *patch.StoryPoints != current.StoryPoints {
		next.StoryPoints = *patch.StoryPoints
		changes = append(changes, fieldChange{"story_points", current.StoryPoints, next.StoryPoints})
	}
	if patch.DueDate.Set && !sameTime(patch.DueDate.Value, current.DueDate) {
		next.DueDate = utcPtr(patch.DueDate.Value)
		changes = append(changes, fieldChange{"due_date", timeValue(current.DueDate), timeValue(next.DueDate)})
	}

	if len(changes) == 0 {
		return current, nil
	}

	now := s.clock()
	applyCompletion(&next, now)
	next.UpdatedAt = now
	updated, err := s.store.UpdateTask(ctx, next)
	if err != nil {
		return models.Task{}, err
	}
	s.metrics.TaskMutation("update")

	switch {
	case sprintChanged:
		if err := s.moveTaskSprint(ctx, updated.ID, deref(updated.SprintID)); err != nil {
			s.secondaryFailed(ctx, metrics.OpSprintRecompute, err, slog.String("task_id", updated.ID))
		}
	case statusChanged && updated.SprintID != nil:
		s.recomputeBestEffort(ctx, *updated.SprintID)
	}

	for _, c := range changes {
		action := models.ActionUpdated
		switch c.field {
		case "status":
			action = models.ActionStatusChanged
		case "assignee_id":
			action = models.ActionAssigned
		}
		s.recordActivity(ctx, RecordInput{
			ActorID:      actorID,
			Action:       action,
			TaskID:       updated.ID,
			ProjectID:    updated.ProjectID,
			FieldChanged: c.field,
			OldValue:     c.old,
			NewValue:     c.new,
		})
	}

	if updated.AssigneeID != current.AssigneeID && updated.AssigneeID != actorID {
		s.notify(ctx, updated.AssigneeID, "Task assigned", updated.Name)
	}
	if statusChanged {
		for _, w := range updated.Watchers {
			if w != actorID {
				s.notify(ctx, w, "Status changed", fmt.Sprintf("%s: %s -> %s", updated.Name, current.Status, updated.Status))
			}
		}
	}
	return updated, nil
}

// DeleteTask removes a childless task, then pulls it from every sprint and
// records the deletion. The cleanup is best-effort.
func (s *Service) DeleteTask(ctx context.Context, actorID, taskID string) error {
	if !ids.Valid(taskID) {
		return invalidf("malformed task id %q", taskID)
	}
	if err := checkActor(actorID); err != nil {
		return err
	}
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	unlock := s.projectLocks.Lock(task.ProjectID)
	defer unlock()

	children, err := s.store.FindTasks(ctx, TaskFilter{ParentID: taskID})
	if err != nil {
		return err
	}
	if len(children) > 0 {
		return newError(ErrInvalidOperation, "task %s is the parent of %d task(s)", taskID, len(children))
	}

	var sprintIDs []string
	if sprints, err := s.store.FindSprints(ctx, SprintFilter{ContainsTask: taskID}); err != nil {
		s.secondaryFailed(ctx, metrics.OpSprintCleanup, err, slog.String("task_id", taskID))
	} else {
		for _, sp := range sprints {
			sprintIDs = append(sprintIDs, sp.ID)
		}
	}
	if task.SprintID != nil && !contains(sprintIDs, *task.SprintID) {
		sprintIDs = append(sprintIDs, *task.SprintID)
	}

	if err := s.store.DeleteTask(ctx, taskID); err != nil {
		return err
	}
	s.metrics.TaskMutation("delete")

	s.cleanupDeletedTask(ctx, taskID, sprintIDs)
	s.recordActivity(ctx, RecordInput{
		ActorID:   actorID,
		Action:    models.ActionDeleted,
		TaskID:    taskID,
		ProjectID: task.ProjectID,
		Details:   fmt.Sprintf("deleted %s %q", task.Type, task.Name),
	})
	return nil
}

// AddComment records a comment on a task. The comment is the activity
// entry itself, so a failed write is returned to the caller.
func (s *Service) AddComment(ctx context.Context, actorID, taskID, text string) (models.ActivityEntry, error) {
	return s.taskEvent(ctx, actorID, taskID, models.ActionCommented, text, "text")
}

// AddAttachment records that a file was attached to a task. File storage
// itself lives outside the core.
func (s *Service) AddAttachment(ctx context.Context, actorID, taskID, name string) (models.ActivityEntry, error) {
	return s.taskEvent(ctx, actorID, taskID, models.ActionAttached, name, "name")
}

func (s *Service) taskEvent(ctx context.Context, actorID, taskID string, action models.Action, details, field string) (models.ActivityEntry, error) {
	if !ids.Valid(taskID) {
		return models.ActivityEntry{}, invalidf("malformed task id %q", taskID)
	}
	if err := checkActor(actorID); err != nil {
		return models.ActivityEntry{}, err
	}
	details = strings.TrimSpace(details)
	if details == "" {
		return models.ActivityEntry{}, &Error{Kind: ErrInvalidInput, Message: "validation failed",
			Fields: []FieldError{{Field: field, Message: field + " is required"}}}
	}
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return models.ActivityEntry{}, err
	}
	entry, err := s.activity.Record(ctx, RecordInput{
		ActorID:   actorID,
		Action:    action,
		TaskID:    task.ID,
		ProjectID: task.ProjectID,
		Details:   details,
	})
	if err != nil {
		return models.ActivityEntry{}, err
	}
	s.metrics.ActivityRecorded()
	return entry, nil
}

// AddWatcher adds a user to the task's watchers.
func (s *Service) AddWatcher(ctx context.Context, actorID, taskID, userID string) (models.Task, error) {
	if !ids.Valid(taskID) {
		return models.Task{}, invalidf("malformed task id %q", taskID)
	}
	if !ids.Valid(userID) {
		return models.Task{}, invalidf("malformed user id %q", userID)
	}
	if err := checkActor(actorID); err != nil {
		return models.Task{}, err
	}
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return models.Task{}, err
	}
	unlock := s.projectLocks.Lock(task.ProjectID)
	defer unlock()
	if task, err = s.store.GetTask(ctx, taskID); err != nil {
		return models.Task{}, err
	}
	if err := s.checkUsers(ctx, userID); err != nil {
		return models.Task{}, err
	}
	if contains(task.Watchers, userID) {
		return task, nil
	}
	if err := s.store.AddWatcher(ctx, taskID, userID); err != nil {
		return models.Task{}, err
	}
	task.UpdatedAt = s.clock()
	updated, err := s.store.UpdateTask(ctx, task)
	if err != nil {
		return models.Task{}, err
	}
	s.metrics.TaskMutation("update")
	s.recordActivity(ctx, RecordInput{
		ActorID:      actorID,
		Action:       models.ActionWatcherAdded,
		TaskID:       task.ID,
		ProjectID:    task.ProjectID,
		FieldChanged: "watchers",
		NewValue:     userID,
	})
	return updated, nil
}

func (s *Service) checkUsers(ctx context.Context, userIDs ...string) error {
	_, err := s.existingUsers(ctx, userIDs)
	return err
}

func checkActor(actorID string) error {
	if !ids.Valid(actorID) {
		return &Error{Kind: ErrInvalidInput, Message: "a valid actor id is required",
			Fields: []FieldError{{Field: "actor", Message: "actor must be a valid identifier"}}}
	}
	return nil
}

func validateOptionalIDs(fields map[string]Optional[string]) error {
	var errs []FieldError
	for _, name := range []string{"parent_id", "sprint_id", "reporter_id"} {
		o, ok := fields[name]
		if !ok || !o.Set || o.Value == nil || *o.Value == "" {
			continue
		}
		if !ids.Valid(*o.Value) {
			errs = append(errs, FieldError{Field: name, Message: name + " must be a valid identifier"})
		}
	}
	if len(errs) > 0 {
		return &Error{Kind: ErrInvalidInput, Message: "validation failed", Fields: errs}
	}
	return nil
}

// normalizeRef treats an empty string reference as cleared.
func normalizeRef(p *string) *string {
	if p == nil || *p == "" {
		return nil
	}
	v := *p
	return &v
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func timeValue(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func dedupe(vs []string) []string {
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		if !contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}

func contains(vs []string, v string) bool {
	for _, x := range vs {
		if x == v {
			return true
		}
	}
	return false
}
