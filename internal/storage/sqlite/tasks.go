package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"tracker/internal/core"
	"tracker/internal/models"
)

const taskColumns = `id, name, description, type, status, priority, project_id, sprint_id, parent_id,
       assignee_id, reporter_id, story_points, due_date, completed_at, created_at, updated_at`

// CreateTask inserts a task and its watcher set.
func (s *Store) CreateTask(ctx context.Context, t models.Task) (models.Task, error) {
	err := s.transaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`)
            VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.Name, t.Description, string(t.Type), t.Status, string(t.Priority), t.ProjectID,
			nullString(t.SprintID), nullString(t.ParentID), t.AssigneeID, nullString(t.ReporterID),
			t.StoryPoints, nullTime(t.DueDate), nullTime(t.CompletedAt), t.CreatedAt.UTC(), t.UpdatedAt.UTC())
		if err != nil {
			return err
		}
		for _, w := range t.Watchers {
			if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO task_watchers(task_id, user_id) VALUES(?, ?)`, t.ID, w); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return models.Task{}, core.StorageError("insert task", err)
	}
	return s.GetTask(ctx, t.ID)
}

// GetTask retrieves a task by id.
func (s *Store) GetTask(ctx context.Context, id string) (models.Task, error) {
	t, err := scanTask(s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Task{}, core.NotFoundError("task", id)
	}
	if err != nil {
		return models.Task{}, core.StorageError("get task", err)
	}
	if t.Watchers, err = s.watchers(ctx, t.ID); err != nil {
		return models.Task{}, err
	}
	return t, nil
}

// FindTasks returns the tasks matching f ordered by creation time.
func (s *Store) FindTasks(ctx context.Context, f core.TaskFilter) ([]models.Task, error) {
	var (
		where []string
		args  []any
	)
	eq := func(col, v string) {
		if v != "" {
			where = append(where, col+" = ?")
			args = append(args, v)
		}
	}
	in := func(col string, vs []string) {
		if vs == nil {
			return
		}
		if len(vs) == 0 {
			where = append(where, "0")
			return
		}
		where = append(where, col+" IN ("+placeholders(len(vs))+")")
		for _, v := range vs {
			args = append(args, v)
		}
	}

	eq("project_id", f.ProjectID)
	eq("sprint_id", f.SprintID)
	eq("parent_id", f.ParentID)
	eq("assignee_id", f.AssigneeID)
	eq("status", f.Status)
	in("id", f.IDs)
	in("parent_id", f.ParentIDs)
	if f.Types != nil {
		types := make([]string, len(f.Types))
		for i, t := range f.Types {
			types[i] = string(t)
		}
		in("type", types)
	}

	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, rowid"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, core.StorageError("find tasks", err)
	}

	tasks := []models.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			rows.Close()
			return nil, core.StorageError("scan task", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, core.StorageError("find tasks", err)
	}
	rows.Close()

	if err := s.attachWatchers(ctx, tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// UpdateTask writes every mutable field of t. The watcher set is left alone.
func (s *Store) UpdateTask(ctx context.Context, t models.Task) (models.Task, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET name = ?, description = ?, type = ?, status = ?, priority = ?,
            sprint_id = ?, parent_id = ?, assignee_id = ?, reporter_id = ?, story_points = ?, due_date = ?,
            completed_at = ?, updated_at = ?
        WHERE id = ?`,
		t.Name, t.Description, string(t.Type), t.Status, string(t.Priority),
		nullString(t.SprintID), nullString(t.ParentID), t.AssigneeID, nullString(t.ReporterID), t.StoryPoints,
		nullTime(t.DueDate), nullTime(t.CompletedAt), t.UpdatedAt.UTC(), t.ID)
	if err != nil {
		return models.Task{}, core.StorageError("update task", err)
	}
	if err := requireAffected(res, "task", t.ID); err != nil {
		return models.Task{}, err
	}
	return s.GetTask(ctx, t.ID)
}

// DeleteTask removes a task by id. Sprint membership and watchers cascade.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return core.StorageError("delete task", err)
	}
	return requireAffected(res, "task", id)
}

// AddWatcher adds userID to the task's watcher set. Adding twice is a no-op.
func (s *Store) AddWatcher(ctx context.Context, taskID, userID string) error {
	if _, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO task_watchers(task_id, user_id) VALUES(?, ?)`, taskID, userID); err != nil {
		return core.StorageError("add watcher", err)
	}
	return nil
}

func (s *Store) watchers(ctx context.Context, taskID string) ([]string, error) {
	return s.stringSet(ctx, `SELECT user_id FROM task_watchers WHERE task_id = ? ORDER BY rowid`, taskID)
}

func (s *Store) attachWatchers(ctx context.Context, tasks []models.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	taskIDs := make([]any, len(tasks))
	index := make(map[string]int, len(tasks))
	for i, t := range tasks {
		taskIDs[i] = t.ID
		index[t.ID] = i
	}
	rows, err := s.db.QueryContext(ctx, `SELECT task_id, user_id FROM task_watchers WHERE task_id IN (`+placeholders(len(tasks))+`) ORDER BY rowid`, taskIDs...)
	if err != nil {
		return core.StorageError("list watchers", err)
	}
	defer rows.Close()
	for rows.Next() {
		var taskID, userID string
		if err := rows.Scan(&taskID, &userID); err != nil {
			return core.StorageError("scan watcher", err)
		}
		i := index[taskID]
		tasks[i].Watchers = append(tasks[i].Watchers, userID)
	}
	return core.StorageError("list watchers", rows.Err())
}

func (s *Store) stringSet(ctx context.Context, query string, arg string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, core.StorageError("list set", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, core.StorageError("scan set", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, core.StorageError("list set", err)
	}
	return out, nil
}

func scanTask(row scanner) (models.Task, error) {
	var (
		t                    models.Task
		typ, priority        string
		sprintID, parentID   sql.NullString
		reporterID           sql.NullString
		dueDate, completedAt sql.NullTime
	)
	err := row.Scan(&t.ID, &t.Name, &t.Description, &typ, &t.Status, &priority, &t.ProjectID, &sprintID, &parentID,
		&t.AssigneeID, &reporterID, &t.StoryPoints, &dueDate, &completedAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return models.Task{}, err
	}
	t.Type = models.TaskType(typ)
	t.Priority = models.Priority(priority)
	t.SprintID = stringPtr(sprintID)
	t.ParentID = stringPtr(parentID)
	t.ReporterID = stringPtr(reporterID)
	t.DueDate = timePtr(dueDate)
	t.CompletedAt = timePtr(completedAt)
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	t.Watchers = []string{}
	return t, nil
}
