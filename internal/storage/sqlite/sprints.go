package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"tracker/internal/core"
	"tracker/internal/models"
)

const sprintColumns = `id, project_id, name, goal, status, start_date, end_date, total_tasks, completed_tasks, created_at, updated_at`

// CreateSprint inserts a sprint with its initial task and member sets.
func (s *Store) CreateSprint(ctx context.Context, sp models.Sprint) (models.Sprint, error) {
	err := s.transaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO sprints(`+sprintColumns+`) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sp.ID, sp.ProjectID, sp.Name, sp.Goal, string(sp.Status), sp.StartDate.UTC(), sp.EndDate.UTC(),
			sp.TotalTasks, sp.CompletedTasks, sp.CreatedAt.UTC(), sp.UpdatedAt.UTC())
		if err != nil {
			return err
		}
		for _, m := range sp.Members {
			if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO sprint_members(sprint_id, user_id) VALUES(?, ?)`, sp.ID, m); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return models.Sprint{}, core.StorageError("insert sprint", err)
	}
	return s.GetSprint(ctx, sp.ID)
}

// GetSprint fetches a sprint with its task and member sets.
func (s *Store) GetSprint(ctx context.Context, id string) (models.Sprint, error) {
	sp, err := scanSprint(s.db.QueryRowContext(ctx, `SELECT `+sprintColumns+` FROM sprints WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Sprint{}, core.NotFoundError("sprint", id)
	}
	if err != nil {
		return models.Sprint{}, core.StorageError("get sprint", err)
	}
	if err := s.loadSprintSets(ctx, &sp); err != nil {
		return models.Sprint{}, err
	}
	return sp, nil
}

// FindSprints returns sprints matching f ordered by start date.
func (s *Store) FindSprints(ctx context.Context, f core.SprintFilter) ([]models.Sprint, error) {
	var (
		where []string
		args  []any
	)
	if f.ProjectID != "" {
		where = append(where, "project_id = ?")
		args = append(args, f.ProjectID)
	}
	if f.ContainsTask != "" {
		where = append(where, "id IN (SELECT sprint_id FROM sprint_tasks WHERE task_id = ?)")
		args = append(args, f.ContainsTask)
	}
	query := `SELECT ` + sprintColumns + ` FROM sprints`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY start_date, rowid"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, core.StorageError("find sprints", err)
	}
	sprints := []models.Sprint{}
	for rows.Next() {
		sp, err := scanSprint(rows)
		if err != nil {
			rows.Close()
			return nil, core.StorageError("scan sprint", err)
		}
		sprints = append(sprints, sp)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, core.StorageError("find sprints", err)
	}
	rows.Close()

	for i := range sprints {
		if err := s.loadSprintSets(ctx, &sprints[i]); err != nil {
			return nil, err
		}
	}
	return sprints, nil
}

// UpdateSprint writes name, goal, status and dates. Counters and sets are
// written by their dedicated methods only.
func (s *Store) UpdateSprint(ctx context.Context, sp models.Sprint) (models.Sprint, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE sprints SET name = ?, goal = ?, status = ?, start_date = ?, end_date = ?, updated_at = ? WHERE id = ?`,
		sp.Name, sp.Goal, string(sp.Status), sp.StartDate.UTC(), sp.EndDate.UTC(), sp.UpdatedAt.UTC(), sp.ID)
	if err != nil {
		return models.Sprint{}, core.StorageError("update sprint", err)
	}
	if err := requireAffected(res, "sprint", sp.ID); err != nil {
		return models.Sprint{}, err
	}
	return s.GetSprint(ctx, sp.ID)
}

// DeleteSprint removes a sprint. Member tasks keep existing with sprint_id cleared.
func (s *Store) DeleteSprint(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sprints WHERE id = ?`, id)
	if err != nil {
		return core.StorageError("delete sprint", err)
	}
	return requireAffected(res, "sprint", id)
}

// AddSprintTask adds taskID to the sprint's task set. Adding twice is a no-op.
func (s *Store) AddSprintTask(ctx context.Context, sprintID, taskID string) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO sprint_tasks(sprint_id, task_id, added_at) VALUES(?, ?, ?)`,
		sprintID, taskID, time.Now().UTC())
	return core.StorageError("add sprint task", err)
}

// RemoveSprintTask removes taskID from the sprint's task set if present.
func (s *Store) RemoveSprintTask(ctx context.Context, sprintID, taskID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sprint_tasks WHERE sprint_id = ? AND task_id = ?`, sprintID, taskID)
	return core.StorageError("remove sprint task", err)
}

// SetSprintCounts writes the derived counters.
func (s *Store) SetSprintCounts(ctx context.Context, sprintID string, total, completed int, updatedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sprints SET total_tasks = ?, completed_tasks = ?, updated_at = ? WHERE id = ?`,
		total, completed, updatedAt.UTC(), sprintID)
	if err != nil {
		return core.StorageError("set sprint counts", err)
	}
	return requireAffected(res, "sprint", sprintID)
}

// AddSprintMember adds userID to the sprint team. Adding twice is a no-op.
func (s *Store) AddSprintMember(ctx context.Context, sprintID, userID string) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO sprint_members(sprint_id, user_id) VALUES(?, ?)`, sprintID, userID)
	return core.StorageError("add sprint member", err)
}

// RemoveSprintMember removes userID from the sprint team if present.
func (s *Store) RemoveSprintMember(ctx context.Context, sprintID, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sprint_members WHERE sprint_id = ? AND user_id = ?`, sprintID, userID)
	return core.StorageError("remove sprint member", err)
}

func (s *Store) loadSprintSets(ctx context.Context, sp *models.Sprint) error {
	var err error
	if sp.TaskIDs, err = s.stringSet(ctx, `SELECT task_id FROM sprint_tasks WHERE sprint_id = ? ORDER BY added_at, rowid`, sp.ID); err != nil {
		return err
	}
	if sp.Members, err = s.stringSet(ctx, `SELECT user_id FROM sprint_members WHERE sprint_id = ? ORDER BY rowid`, sp.ID); err != nil {
		return err
	}
	return nil
}

func scanSprint(row scanner) (models.Sprint, error) {
	var sp models.Sprint
	var status string
	err := row.Scan(&sp.ID, &sp.ProjectID, &sp.Name, &sp.Goal, &status, &sp.StartDate, &sp.EndDate,
		&sp.TotalTasks, &sp.CompletedTasks, &sp.CreatedAt, &sp.UpdatedAt)
	if err != nil {
		return models.Sprint{}, err
	}
	sp.Status = models.SprintStatus(status)
	sp.StartDate = sp.StartDate.UTC()
	sp.EndDate = sp.EndDate.UTC()
	sp.CreatedAt = sp.CreatedAt.UTC()
	sp.UpdatedAt = sp.UpdatedAt.UTC()
	return sp, nil
}
