package core

import (
	"context"
	"errors"

	"tracker/internal/ids"
	"tracker/internal/models"
)

// allowedParent returns the parent type a task of type t may have, and
// whether a parent is required. Epics take no parent at all.
func allowedParent(t models.TaskType) (parent models.TaskType, required bool) {
	switch t {
	case models.TypeSubtask:
		return models.TypeTask, true
	case models.TypeTask, models.TypeStory, models.TypeBug:
		return models.TypeEpic, false
	default:
		return "", false
	}
}

// ValidateHierarchy checks a (type, parent) pair for a task in projectID and
// returns the parent to persist. Epics have their parent force-cleared
// rather than rejected. selfID is the id of the task being updated, or
// empty on create.
func (s *Service) ValidateHierarchy(ctx context.Context, projectID string, t models.TaskType, parentID *string, selfID string) (*string, error) {
	if !t.Valid() {
		return nil, invalidf("unknown task type %q", t)
	}
	if t == models.TypeEpic {
		return nil, nil
	}

	want, required := allowedParent(t)
	if parentID == nil || *parentID == "" {
		if required {
			return nil, hierarchyf("a %s requires a parent %s", t, want)
		}
		return nil, nil
	}
	if !ids.Valid(*parentID) {
		return nil, invalidf("malformed parent id %q", *parentID)
	}
	if *parentID == selfID {
		return nil, hierarchyf("a task cannot be its own parent")
	}

	parent, err := s.store.GetTask(ctx, *parentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, hierarchyf("parent task %s does not exist", *parentID)
		}
		return nil, err
	}
	if parent.ProjectID != projectID {
		return nil, hierarchyf("parent task %s belongs to another project", parent.ID)
	}
	if parent.Type != want {
		return nil, hierarchyf("a %s can only have a %s as parent, got %s", t, want, parent.Type)
	}
	id := parent.ID
	return &id, nil
}

// validateChildren rejects a type change of taskID that would leave any
// existing child with a parent of the wrong type.
func (s *Service) validateChildren(ctx context.Context, taskID string, newType models.TaskType) error {
	children, err := s.store.FindTasks(ctx, TaskFilter{ParentID: taskID})
	if err != nil {
		return err
	}
	for _, c := range children {
		want, _ := allowedParent(c.Type)
		if want != newType {
			return hierarchyf("task has a %s child %s that requires a %s parent", c.Type, c.ID, want)
		}
	}
	return nil
}

// ValidateStatus reports ErrUnknownStatus unless status names a column.
func ValidateStatus(cols []models.BoardColumn, status string) error {
	if hasColumnNamed(cols, status) {
		return nil
	}
	return newError(ErrUnknownStatus, "status %q is not a board column", status)
}

// DefaultStatus is the status substituted on create when none or an
// unknown one is given: the first column, or FallbackStatus without columns.
func DefaultStatus(cols []models.BoardColumn) string {
	if len(cols) == 0 {
		return models.FallbackStatus
	}
	first := cols[0]
	for _, c := range cols[1:] {
		if c.Order < first.Order {
			first = c
		}
	}
	return first.Name
}
