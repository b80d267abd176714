package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"tracker/internal/core"
	"tracker/internal/models"
)

// CreateUser persists a user record.
func (s *Store) CreateUser(ctx context.Context, u models.User) (models.User, error) {
	u.CreatedAt = u.CreatedAt.UTC()
	_, err := s.db.ExecContext(ctx, `INSERT INTO users(id, name, email, created_at) VALUES(?, ?, ?, ?)`,
		u.ID, u.Name, u.Email, u.CreatedAt)
	if err != nil {
		return models.User{}, core.StorageError("insert user", err)
	}
	return u, nil
}

// GetUser fetches a single user by id.
func (s *Store) GetUser(ctx context.Context, id string) (models.User, error) {
	var u models.User
	err := s.db.QueryRowContext(ctx, `SELECT id, name, email, created_at FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Name, &u.Email, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, core.NotFoundError("user", id)
	}
	if err != nil {
		return models.User{}, core.StorageError("get user", err)
	}
	return u, nil
}

// CreateProject inserts a project together with its board columns.
func (s *Store) CreateProject(ctx context.Context, p models.Project) (models.Project, error) {
	err := s.transaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO projects(id, key, name, description, start_date, end_date, created_at, updated_at)
            VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.Key, p.Name, p.Description, nullTime(p.StartDate), nullTime(p.EndDate), p.CreatedAt.UTC(), p.UpdatedAt.UTC())
		if err != nil {
			if isUniqueViolation(err) {
				return &core.Error{Kind: core.ErrInvalidInput, Message: "project key " + p.Key + " already exists"}
			}
			return err
		}
		return insertColumns(ctx, tx, p.ID, p.Columns)
	})
	if err != nil {
		return models.Project{}, core.StorageError("insert project", err)
	}
	return s.GetProject(ctx, p.ID)
}

// GetProject fetches a project and its columns in board order.
func (s *Store) GetProject(ctx context.Context, id string) (models.Project, error) {
	p, err := scanProject(s.db.QueryRowContext(ctx, `SELECT id, key, name, description, start_date, end_date, created_at, updated_at
        FROM projects WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Project{}, core.NotFoundError("project", id)
	}
	if err != nil {
		return models.Project{}, core.StorageError("get project", err)
	}
	if p.Columns, err = s.columns(ctx, p.ID); err != nil {
		return models.Project{}, err
	}
	return p, nil
}

// GetProjectByKey fetches a project by its unique key.
func (s *Store) GetProjectByKey(ctx context.Context, key string) (models.Project, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM projects WHERE key = ?`, strings.ToUpper(key)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Project{}, core.NotFoundError("project", key)
	}
	if err != nil {
		return models.Project{}, core.StorageError("get project by key", err)
	}
	return s.GetProject(ctx, id)
}

// ListProjects retrieves all projects ordered by creation date.
func (s *Store) ListProjects(ctx context.Context) ([]models.Project, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, key, name, description, start_date, end_date, created_at, updated_at
        FROM projects ORDER BY created_at ASC, key ASC`)
	if err != nil {
		return nil, core.StorageError("list projects", err)
	}

	var projects []models.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			rows.Close()
			return nil, core.StorageError("scan project", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, core.StorageError("list projects", err)
	}
	rows.Close()

	// Columns are loaded after the cursor is closed; the pool has one connection.
	for i := range projects {
		if projects[i].Columns, err = s.columns(ctx, projects[i].ID); err != nil {
			return nil, err
		}
	}
	return projects, nil
}

// UpdateProject writes the descriptive fields of a project. Columns are
// written separately through SaveColumns.
func (s *Store) UpdateProject(ctx context.Context, p models.Project) (models.Project, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE projects SET name = ?, description = ?, start_date = ?, end_date = ?, updated_at = ? WHERE id = ?`,
		p.Name, p.Description, nullTime(p.StartDate), nullTime(p.EndDate), p.UpdatedAt.UTC(), p.ID)
	if err != nil {
		return models.Project{}, core.StorageError("update project", err)
	}
	if err := requireAffected(res, "project", p.ID); err != nil {
		return models.Project{}, err
	}
	return s.GetProject(ctx, p.ID)
}

// SaveColumns replaces the column set of a project and stamps updated_at.
func (s *Store) SaveColumns(ctx context.Context, projectID string, cols []models.BoardColumn, updatedAt time.Time) error {
	err := s.transaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE projects SET updated_at = ? WHERE id = ?`, updatedAt.UTC(), projectID)
		if err != nil {
			return err
		}
		if err := requireAffected(res, "project", projectID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM board_columns WHERE project_id = ?`, projectID); err != nil {
			return err
		}
		return insertColumns(ctx, tx, projectID, cols)
	})
	return core.StorageError("save columns", err)
}

// DeleteProject removes a project; tasks, sprints, columns and activity cascade.
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return core.StorageError("delete project", err)
	}
	return requireAffected(res, "project", id)
}

func (s *Store) columns(ctx context.Context, projectID string) ([]models.BoardColumn, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, position FROM board_columns WHERE project_id = ? ORDER BY position, rowid`, projectID)
	if err != nil {
		return nil, core.StorageError("list columns", err)
	}
	defer rows.Close()

	cols := []models.BoardColumn{}
	for rows.Next() {
		var c models.BoardColumn
		if err := rows.Scan(&c.ID, &c.Name, &c.Order); err != nil {
			return nil, core.StorageError("scan column", err)
		}
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return nil, core.StorageError("list columns", err)
	}
	return cols, nil
}

func insertColumns(ctx context.Context, ex execer, projectID string, cols []models.BoardColumn) error {
	for _, c := range cols {
		if _, err := ex.ExecContext(ctx, `INSERT INTO board_columns(id, project_id, name, position) VALUES(?, ?, ?, ?)`,
			c.ID, projectID, c.Name, c.Order); err != nil {
			return err
		}
	}
	return nil
}

func scanProject(row scanner) (models.Project, error) {
	var p models.Project
	var start, end sql.NullTime
	if err := row.Scan(&p.ID, &p.Key, &p.Name, &p.Description, &start, &end, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return models.Project{}, err
	}
	p.StartDate = timePtr(start)
	p.EndDate = timePtr(end)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique || sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
