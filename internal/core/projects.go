package core

import (
	"context"
	"errors"
	"strings"
	"time"

	"tracker/internal/ids"
	"tracker/internal/models"
)

// CreateUserInput is the payload of CreateUser.
type CreateUserInput struct {
	Name  string `json:"name" validate:"required,max=200"`
	Email string `json:"email" validate:"omitempty,email"`
}

// CreateUser registers a user that tasks and activity can reference.
func (s *Service) CreateUser(ctx context.Context, in CreateUserInput) (models.User, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := validateStruct(in); err != nil {
		return models.User{}, err
	}
	return s.store.CreateUser(ctx, models.User{
		ID:        ids.New(),
		Name:      in.Name,
		Email:     strings.TrimSpace(in.Email),
		CreatedAt: s.clock(),
	})
}

// CreateProjectInput is the payload of CreateProject. Columns default to
// the standard four-column board when empty.
type CreateProjectInput struct {
	Key         string     `json:"key" validate:"required,alphanum,max=10"`
	Name        string     `json:"name" validate:"required,max=200"`
	Description string     `json:"description" validate:"max=5000"`
	Columns     []string   `json:"columns" validate:"dive,required"`
	StartDate   *time.Time `json:"start_date"`
	EndDate     *time.Time `json:"end_date"`
}

// ProjectPatch holds the project fields a caller may change.
type ProjectPatch struct {
	Name        *string    `json:"name" validate:"omitempty,max=200"`
	Description *string    `json:"description" validate:"omitempty,max=5000"`
	StartDate   *time.Time `json:"start_date"`
	EndDate     *time.Time `json:"end_date"`
}

// CreateProject creates a project with an uppercase unique key.
func (s *Service) CreateProject(ctx context.Context, in CreateProjectInput) (models.Project, error) {
	in.Key = strings.ToUpper(strings.TrimSpace(in.Key))
	in.Name = strings.TrimSpace(in.Name)
	for i := range in.Columns {
		in.Columns[i] = strings.TrimSpace(in.Columns[i])
	}
	if err := validateStruct(in); err != nil {
		return models.Project{}, err
	}
	if err := checkDates(in.StartDate, in.EndDate); err != nil {
		return models.Project{}, err
	}

	if _, err := s.store.GetProjectByKey(ctx, in.Key); err == nil {
		return models.Project{}, &Error{Kind: ErrInvalidInput, Message: "project key " + in.Key + " already exists",
			Fields: []FieldError{{Field: "key", Message: "key must be unique"}}}
	} else if !errors.Is(err, ErrNotFound) {
		return models.Project{}, err
	}

	names := in.Columns
	if len(names) == 0 {
		names = models.DefaultColumnNames
	}
	now := s.clock()
	return s.store.CreateProject(ctx, models.Project{
		ID:          ids.New(),
		Key:         in.Key,
		Name:        in.Name,
		Description: in.Description,
		Columns:     buildColumns(names),
		StartDate:   utcPtr(in.StartDate),
		EndDate:     utcPtr(in.EndDate),
		CreatedAt:   now,
		UpdatedAt:   now,
	})
}

// GetProject returns a project with its columns.
func (s *Service) GetProject(ctx context.Context, projectID string) (models.Project, error) {
	if !ids.Valid(projectID) {
		return models.Project{}, invalidf("malformed project id %q", projectID)
	}
	return s.store.GetProject(ctx, projectID)
}

// ListProjects returns every project.
func (s *Service) ListProjects(ctx context.Context) ([]models.Project, error) {
	return s.store.ListProjects(ctx)
}

// UpdateProject changes the descriptive fields and dates of a project.
func (s *Service) UpdateProject(ctx context.Context, projectID string, patch ProjectPatch) (models.Project, error) {
	if !ids.Valid(projectID) {
		return models.Project{}, invalidf("malformed project id %q", projectID)
	}
	if err := validateStruct(patch); err != nil {
		return models.Project{}, err
	}
	unlock := s.projectLocks.Lock(projectID)
	defer unlock()

	p, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return models.Project{}, err
	}
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return models.Project{}, &Error{Kind: ErrInvalidInput, Message: "validation failed",
				Fields: []FieldError{{Field: "name", Message: "name is required"}}}
		}
		p.Name = name
	}
	if patch.Description != nil {
		p.Description = *patch.Description
	}
	if patch.StartDate != nil {
		p.StartDate = utcPtr(patch.StartDate)
	}
	if patch.EndDate != nil {
		p.EndDate = utcPtr(patch.EndDate)
	}
	if err := checkDates(p.StartDate, p.EndDate); err != nil {
		return models.Project{}, err
	}
	p.UpdatedAt = s.clock()
	return s.store.UpdateProject(ctx, p)
}

// DeleteProject removes a project together with its tasks, sprints and activity.
func (s *Service) DeleteProject(ctx context.Context, projectID string) error {
	if !ids.Valid(projectID) {
		return invalidf("malformed project id %q", projectID)
	}
	unlock := s.projectLocks.Lock(projectID)
	defer unlock()
	return s.store.DeleteProject(ctx, projectID)
}

func checkDates(start, end *time.Time) error {
	if start != nil && end != nil && end.Before(*start) {
		return &Error{Kind: ErrInvalidInput, Message: "end date must not be before start date",
			Fields: []FieldError{{Field: "end_date", Message: "end_date must not be before start_date"}}}
	}
	return nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
