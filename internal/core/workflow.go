package core

import (
	"context"
	"strings"

	"tracker/internal/ids"
	"tracker/internal/models"
)

// Direction moves a column toward the start (Up) or end (Down) of the board.
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

// buildColumns creates columns whose order is their list index.
func buildColumns(names []string) []models.BoardColumn {
	cols := make([]models.BoardColumn, len(names))
	for i, name := range names {
		cols[i] = models.BoardColumn{ID: ids.New(), Name: name, Order: i}
	}
	return cols
}

// renumber rewrites Order to a contiguous 0-based sequence in slice order.
func renumber(cols []models.BoardColumn) []models.BoardColumn {
	for i := range cols {
		cols[i].Order = i
	}
	return cols
}

func columnIndex(cols []models.BoardColumn, id string) int {
	for i, c := range cols {
		if c.ID == id {
			return i
		}
	}
	return -1
}

// appendColumn adds a column at the next order index.
func appendColumn(cols []models.BoardColumn, name string) ([]models.BoardColumn, models.BoardColumn) {
	col := models.BoardColumn{ID: ids.New(), Name: name, Order: len(cols)}
	out := append(append([]models.BoardColumn(nil), cols...), col)
	return renumber(out), col
}

// removeColumn drops the column with id and renumbers the rest.
func removeColumn(cols []models.BoardColumn, id string) ([]models.BoardColumn, models.BoardColumn, error) {
	i := columnIndex(cols, id)
	if i < 0 {
		return cols, models.BoardColumn{}, notFound("column", id)
	}
	removed := cols[i]
	out := make([]models.BoardColumn, 0, len(cols)-1)
	out = append(out, cols[:i]...)
	out = append(out, cols[i+1:]...)
	return renumber(out), removed, nil
}

// moveColumn swaps the column with its neighbor in direction dir.
func moveColumn(cols []models.BoardColumn, id string, dir Direction) ([]models.BoardColumn, error) {
	i := columnIndex(cols, id)
	if i < 0 {
		return cols, notFound("column", id)
	}
	var j int
	switch dir {
	case Up:
		if i == 0 {
			return cols, newError(ErrInvalidOperation, "column %q is already first", cols[i].Name)
		}
		j = i - 1
	case Down:
		if i == len(cols)-1 {
			return cols, newError(ErrInvalidOperation, "column %q is already last", cols[i].Name)
		}
		j = i + 1
	default:
		return cols, invalidf("direction must be %q or %q", Up, Down)
	}
	out := append([]models.BoardColumn(nil), cols...)
	out[i], out[j] = out[j], out[i]
	return renumber(out), nil
}

func hasColumnNamed(cols []models.BoardColumn, name string) bool {
	for _, c := range cols {
		if c.Name == name {
			return true
		}
	}
	return false
}

// AddColumn appends a column to the project's board.
func (s *Service) AddColumn(ctx context.Context, projectID, name string) (models.BoardColumn, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.BoardColumn{}, &Error{Kind: ErrInvalidInput, Message: "column name is required",
			Fields: []FieldError{{Field: "name", Message: "name is required"}}}
	}
	var col models.BoardColumn
	err := s.mutateColumns(ctx, projectID, func(p models.Project) ([]models.BoardColumn, error) {
		var cols []models.BoardColumn
		cols, col = appendColumn(p.Columns, name)
		return cols, nil
	})
	return col, err
}

// RemoveColumn deletes a column and renumbers the remaining ones. A column
// whose name is the status of any task is kept, unless another column with
// the same name remains.
func (s *Service) RemoveColumn(ctx context.Context, projectID, columnID string) error {
	if !ids.Valid(columnID) {
		return invalidf("malformed column id %q", columnID)
	}
	return s.mutateColumns(ctx, projectID, func(p models.Project) ([]models.BoardColumn, error) {
		cols, removed, err := removeColumn(p.Columns, columnID)
		if err != nil {
			return nil, err
		}
		if !hasColumnNamed(cols, removed.Name) {
			if err := s.ensureStatusUnused(ctx, p.ID, removed.Name); err != nil {
				return nil, err
			}
		}
		return cols, nil
	})
}

// ReorderColumn moves a column one step up or down.
func (s *Service) ReorderColumn(ctx context.Context, projectID, columnID string, dir Direction) ([]models.BoardColumn, error) {
	if !ids.Valid(columnID) {
		return nil, invalidf("malformed column id %q", columnID)
	}
	var out []models.BoardColumn
	err := s.mutateColumns(ctx, projectID, func(p models.Project) ([]models.BoardColumn, error) {
		var err error
		out, err = moveColumn(p.Columns, columnID, dir)
		return out, err
	})
	return out, err
}

// ReplaceColumns sets the whole board. Duplicate names are allowed and the
// order is the list index. Dropping a name that tasks still use is rejected.
func (s *Service) ReplaceColumns(ctx context.Context, projectID string, names []string) ([]models.BoardColumn, error) {
	trimmed := make([]string, len(names))
	for i, n := range names {
		trimmed[i] = strings.TrimSpace(n)
		if trimmed[i] == "" {
			return nil, &Error{Kind: ErrInvalidInput, Message: "validation failed",
				Fields: []FieldError{{Field: "columns", Message: "column names must not be empty"}}}
		}
	}

	var out []models.BoardColumn
	err := s.mutateColumns(ctx, projectID, func(p models.Project) ([]models.BoardColumn, error) {
		out = buildColumns(trimmed)
		for _, c := range p.Columns {
			if hasColumnNamed(out, c.Name) {
				continue
			}
			if err := s.ensureStatusUnused(ctx, p.ID, c.Name); err != nil {
				return nil, err
			}
		}
		return out, nil
	})
	return out, err
}

// mutateColumns loads the project under its lock, applies fn and persists
// the result with a fresh updated timestamp.
func (s *Service) mutateColumns(ctx context.Context, projectID string, fn func(models.Project) ([]models.BoardColumn, error)) error {
	if !ids.Valid(projectID) {
		return invalidf("malformed project id %q", projectID)
	}
	unlock := s.projectLocks.Lock(projectID)
	defer unlock()

	p, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	cols, err := fn(p)
	if err != nil {
		return err
	}
	return s.store.SaveColumns(ctx, projectID, cols, s.clock())
}

func (s *Service) ensureStatusUnused(ctx context.Context, projectID, status string) error {
	tasks, err := s.store.FindTasks(ctx, TaskFilter{ProjectID: projectID, Status: status})
	if err != nil {
		return err
	}
	if len(tasks) > 0 {
		return newError(ErrInvalidOperation, "column %q is the status of %d task(s)", status, len(tasks))
	}
	return nil
}
