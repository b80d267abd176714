package core

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"tracker/internal/ids"
	"tracker/internal/metrics"
	"tracker/internal/models"
)

// sprintTransitions is the forward-only sprint lifecycle.
var sprintTransitions = map[models.SprintStatus][]models.SprintStatus{
	models.SprintPlanning: {models.SprintActive, models.SprintCancelled},
	models.SprintActive:   {models.SprintCompleted, models.SprintCancelled},
}

// CanTransition reports whether a sprint may move from one status to another.
func CanTransition(from, to models.SprintStatus) bool {
	for _, next := range sprintTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CreateSprintInput is the payload of CreateSprint.
type CreateSprintInput struct {
	Name      string    `json:"name" validate:"required,max=200"`
	ProjectID string    `json:"project_id" validate:"required,id"`
	StartDate time.Time `json:"start_date" validate:"required"`
	EndDate   time.Time `json:"end_date" validate:"required"`
	Goal      string    `json:"goal" validate:"max=2000"`
	Members   []string  `json:"team_members" validate:"dive,id"`
}

// SprintPatch holds the sprint fields a caller may change. Counters and the
// task set are not among them.
type SprintPatch struct {
	Name      *string    `json:"name" validate:"omitempty,max=200"`
	Goal      *string    `json:"goal" validate:"omitempty,max=2000"`
	StartDate *time.Time `json:"start_date"`
	EndDate   *time.Time `json:"end_date"`
}

// CreateSprint creates a sprint in the planning state.
func (s *Service) CreateSprint(ctx context.Context, in CreateSprintInput) (models.Sprint, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := validateStruct(in); err != nil {
		return models.Sprint{}, err
	}
	if !in.StartDate.Before(in.EndDate) {
		return models.Sprint{}, &Error{Kind: ErrInvalidInput, Message: "start date must be before end date",
			Fields: []FieldError{{Field: "end_date", Message: "end_date must be after start_date"}}}
	}
	if _, err := s.store.GetProject(ctx, in.ProjectID); err != nil {
		return models.Sprint{}, err
	}
	members, err := s.existingUsers(ctx, in.Members)
	if err != nil {
		return models.Sprint{}, err
	}

	now := s.clock()
	return s.store.CreateSprint(ctx, models.Sprint{
		ID:        ids.New(),
		Name:      in.Name,
		ProjectID: in.ProjectID,
		StartDate: in.StartDate.UTC(),
		EndDate:   in.EndDate.UTC(),
		Status:    models.SprintPlanning,
		Goal:      in.Goal,
		Members:   members,
		CreatedAt: now,
		UpdatedAt: now,
	})
}

// GetSprint returns a sprint by id.
func (s *Service) GetSprint(ctx context.Context, sprintID string) (models.Sprint, error) {
	if !ids.Valid(sprintID) {
		return models.Sprint{}, invalidf("malformed sprint id %q", sprintID)
	}
	return s.store.GetSprint(ctx, sprintID)
}

// ListSprints returns the sprints of a project.
func (s *Service) ListSprints(ctx context.Context, projectID string) ([]models.Sprint, error) {
	if !ids.Valid(projectID) {
		return nil, invalidf("malformed project id %q", projectID)
	}
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return s.store.FindSprints(ctx, SprintFilter{ProjectID: projectID})
}

// UpdateSprint changes descriptive fields and dates of a sprint.
func (s *Service) UpdateSprint(ctx context.Context, sprintID string, patch SprintPatch) (models.Sprint, error) {
	if !ids.Valid(sprintID) {
		return models.Sprint{}, invalidf("malformed sprint id %q", sprintID)
	}
	if err := validateStruct(patch); err != nil {
		return models.Sprint{}, err
	}
	unlock := s.sprintLocks.Lock(sprintID)
	defer unlock()

	sp, err := s.store.GetSprint(ctx, sprintID)
	if err != nil {
		return models.Sprint{}, err
	}
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return models.Sprint{}, &Error{Kind: ErrInvalidInput, Message: "validation failed",
				Fields: []FieldError{{Field: "name", Message: "name is required"}}}
		}
		sp.Name = name
	}
	if patch.Goal != nil {
		sp.Goal = *patch.Goal
	}
	if patch.StartDate != nil {
		sp.StartDate = patch.StartDate.UTC()
	}
	if patch.EndDate != nil {
		sp.EndDate = patch.EndDate.UTC()
	}
	if !sp.StartDate.Before(sp.EndDate) {
		return models.Sprint{}, invalidf("start date must be before end date")
	}
	sp.UpdatedAt = s.clock()
	return s.store.UpdateSprint(ctx, sp)
}

// TransitionSprint moves a sprint forward through its lifecycle.
func (s *Service) TransitionSprint(ctx context.Context, sprintID string, to models.SprintStatus) (models.Sprint, error) {
	if !ids.Valid(sprintID) {
		return models.Sprint{}, invalidf("malformed sprint id %q", sprintID)
	}
	unlock := s.sprintLocks.Lock(sprintID)
	defer unlock()

	sp, err := s.store.GetSprint(ctx, sprintID)
	if err != nil {
		return models.Sprint{}, err
	}
	if !CanTransition(sp.Status, to) {
		return models.Sprint{}, newError(ErrInvalidOperation, "sprint cannot move from %s to %s", sp.Status, to)
	}
	sp.Status = to
	sp.UpdatedAt = s.clock()
	return s.store.UpdateSprint(ctx, sp)
}

// DeleteSprint removes a sprint; its member tasks lose their sprint reference.
func (s *Service) DeleteSprint(ctx context.Context, sprintID string) error {
	if !ids.Valid(sprintID) {
		return invalidf("malformed sprint id %q", sprintID)
	}
	sp, err := s.store.GetSprint(ctx, sprintID)
	if err != nil {
		return err
	}
	unlockProject := s.projectLocks.Lock(sp.ProjectID)
	defer unlockProject()
	unlock := s.sprintLocks.Lock(sprintID)
	defer unlock()
	return s.store.DeleteSprint(ctx, sprintID)
}

// AddSprintMember adds a user to the sprint team.
func (s *Service) AddSprintMember(ctx context.Context, sprintID, userID string) (models.Sprint, error) {
	return s.changeMembers(ctx, sprintID, userID, s.store.AddSprintMember)
}

// RemoveSprintMember removes a user from the sprint team.
func (s *Service) RemoveSprintMember(ctx context.Context, sprintID, userID string) (models.Sprint, error) {
	return s.changeMembers(ctx, sprintID, userID, s.store.RemoveSprintMember)
}

func (s *Service) changeMembers(ctx context.Context, sprintID, userID string, op func(context.Context, string, string) error) (models.Sprint, error) {
	if !ids.Valid(sprintID) {
		return models.Sprint{}, invalidf("malformed sprint id %q", sprintID)
	}
	if !ids.Valid(userID) {
		return models.Sprint{}, invalidf("malformed user id %q", userID)
	}
	unlock := s.sprintLocks.Lock(sprintID)
	defer unlock()

	if _, err := s.store.GetSprint(ctx, sprintID); err != nil {
		return models.Sprint{}, err
	}
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return models.Sprint{}, err
	}
	if err := op(ctx, sprintID, userID); err != nil {
		return models.Sprint{}, err
	}
	return s.store.GetSprint(ctx, sprintID)
}

// AssignTaskToSprint moves a task into the sprint, or out of every sprint
// when sprintID is nil. A rejected assignment leaves task and sprint untouched.
// Once the task is written, sprint set and counter failures are only logged.
func (s *Service) AssignTaskToSprint(ctx context.Context, actorID, taskID string, sprintID *string) (models.Task, error) {
	if !ids.Valid(taskID) {
		return models.Task{}, invalidf("malformed task id %q", taskID)
	}
	if sprintID != nil && *sprintID == "" {
		sprintID = nil
	}
	if sprintID != nil && !ids.Valid(*sprintID) {
		return models.Task{}, invalidf("malformed sprint id %q", *sprintID)
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
	if sprintID != nil {
		if err := s.checkSprintTarget(ctx, task.ProjectID, *sprintID); err != nil {
			return models.Task{}, err
		}
	}

	old := task.SprintID
	task.SprintID = sprintID
	task.UpdatedAt = s.clock()
	updated, err := s.store.UpdateTask(ctx, task)
	if err != nil {
		return models.Task{}, err
	}
	s.metrics.TaskMutation("assign_sprint")
	if err := s.moveTaskSprint(ctx, updated.ID, deref(sprintID)); err != nil {
		s.secondaryFailed(ctx, metrics.OpSprintRecompute, err,
			slog.String("task_id", updated.ID), slog.String("sprint_id", deref(sprintID)))
	}

	if deref(old) != deref(sprintID) {
		s.recordActivity(ctx, RecordInput{
			ActorID:      actorID,
			Action:       models.ActionUpdated,
			TaskID:       updated.ID,
			ProjectID:    updated.ProjectID,
			FieldChanged: "sprint_id",
			OldValue:     nullable(old),
			NewValue:     nullable(sprintID),
		})
	}
	return updated, nil
}

// checkSprintTarget validates that a task of projectID may join sprintID.
func (s *Service) checkSprintTarget(ctx context.Context, projectID, sprintID string) error {
	sp, err := s.store.GetSprint(ctx, sprintID)
	if err != nil {
		return err
	}
	if sp.ProjectID != projectID {
		return newError(ErrCrossProject, "sprint %s belongs to project %s, not %s", sp.ID, sp.ProjectID, projectID)
	}
	return nil
}

// moveTaskSprint makes target the only sprint whose set holds taskID and
// recomputes every sprint whose set changed. An empty target removes the
// task from all sprints.
func (s *Service) moveTaskSprint(ctx context.Context, taskID, target string) error {
	current, err := s.store.FindSprints(ctx, SprintFilter{ContainsTask: taskID})
	if err != nil {
		return err
	}
	for _, sp := range current {
		if sp.ID == target {
			continue
		}
		if err := s.withSprint(ctx, sp.ID, func() error {
			return s.store.RemoveSprintTask(ctx, sp.ID, taskID)
		}); err != nil {
			return err
		}
	}
	if target == "" {
		return nil
	}
	return s.withSprint(ctx, target, func() error {
		return s.store.AddSprintTask(ctx, target, taskID)
	})
}

// withSprint runs fn and a recomputation of the sprint under its lock.
func (s *Service) withSprint(ctx context.Context, sprintID string, fn func() error) error {
	unlock := s.sprintLocks.Lock(sprintID)
	defer unlock()
	if err := fn(); err != nil {
		return err
	}
	_, err := s.recomputeLocked(ctx, sprintID)
	return err
}

// Recompute rewrites a sprint's task counters from its current task set.
// It is idempotent and writes nothing but the two counters.
func (s *Service) Recompute(ctx context.Context, sprintID string) (models.Sprint, error) {
	if !ids.Valid(sprintID) {
		return models.Sprint{}, invalidf("malformed sprint id %q", sprintID)
	}
	unlock := s.sprintLocks.Lock(sprintID)
	defer unlock()
	return s.recomputeLocked(ctx, sprintID)
}

func (s *Service) recomputeLocked(ctx context.Context, sprintID string) (models.Sprint, error) {
	sp, err := s.store.GetSprint(ctx, sprintID)
	if err != nil {
		return models.Sprint{}, err
	}
	var tasks []models.Task
	if len(sp.TaskIDs) > 0 {
		if tasks, err = s.store.FindTasks(ctx, TaskFilter{IDs: sp.TaskIDs}); err != nil {
			return models.Sprint{}, err
		}
	}
	completed := 0
	for _, t := range tasks {
		if models.IsTerminalStatus(t.Status) {
			completed++
		}
	}
	sp.TotalTasks = len(sp.TaskIDs)
	sp.CompletedTasks = completed
	sp.UpdatedAt = s.clock()
	if err := s.store.SetSprintCounts(ctx, sp.ID, sp.TotalTasks, sp.CompletedTasks, sp.UpdatedAt); err != nil {
		return models.Sprint{}, err
	}
	s.metrics.SprintRecomputed()
	return sp, nil
}

// recomputeBestEffort recomputes and only logs a failure.
func (s *Service) recomputeBestEffort(ctx context.Context, sprintID string) {
	if _, err := s.Recompute(ctx, sprintID); err != nil {
		s.secondaryFailed(ctx, metrics.OpSprintRecompute, err, slog.String("sprint_id", sprintID))
	}
}

// cleanupDeletedTask removes a deleted task from every sprint in sprintIDs
// and recomputes them. Failures are logged and do not stop the cleanup.
func (s *Service) cleanupDeletedTask(ctx context.Context, taskID string, sprintIDs []string) {
	for _, id := range sprintIDs {
		err := s.withSprint(ctx, id, func() error {
			return s.store.RemoveSprintTask(ctx, id, taskID)
		})
		if err != nil {
			s.secondaryFailed(ctx, metrics.OpSprintCleanup, err,
				slog.String("sprint_id", id), slog.String("task_id", taskID))
		}
	}
}

// applyCompletion keeps CompletedAt in step with entering or leaving a
// terminal status.
func applyCompletion(t *models.Task, now time.Time) {
	if models.IsTerminalStatus(t.Status) {
		if t.CompletedAt == nil {
			t.CompletedAt = &now
		}
		return
	}
	t.CompletedAt = nil
}

func (s *Service) existingUsers(ctx context.Context, userIDs []string) ([]string, error) {
	seen := make(map[string]bool, len(userIDs))
	out := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		if _, err := s.store.GetUser(ctx, id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// nullable turns a nil reference into an untyped nil for activity payloads.
func nullable(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}
