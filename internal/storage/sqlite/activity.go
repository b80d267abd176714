package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"iter"

	"tracker/internal/core"
	"tracker/internal/models"
)

const activitySelect = `SELECT a.id, a.actor_id, a.action, a.task_id, a.project_id, a.details, a.field_changed,
       a.old_value, a.new_value, a.timestamp, COALESCE(u.name, ''), COALESCE(t.name, '')
    FROM activity a
    LEFT JOIN users u ON u.id = a.actor_id
    LEFT JOIN tasks t ON t.id = a.task_id`

// CreateActivity appends an activity entry. Entries are never updated.
func (s *Store) CreateActivity(ctx context.Context, e models.ActivityEntry) (models.ActivityEntry, error) {
	oldValue, err := encodeValue(e.OldValue)
	if err != nil {
		return models.ActivityEntry{}, core.StorageError("encode old value", err)
	}
	newValue, err := encodeValue(e.NewValue)
	if err != nil {
		return models.ActivityEntry{}, core.StorageError("encode new value", err)
	}

	e.Timestamp = e.Timestamp.UTC()
	_, err = s.db.ExecContext(ctx, `INSERT INTO activity(id, actor_id, action, task_id, project_id, details, field_changed, old_value, new_value, timestamp)
        VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ActorID, string(e.Action), e.TaskID, e.ProjectID, e.Details, e.FieldChanged, oldValue, newValue, e.Timestamp)
	if err != nil {
		return models.ActivityEntry{}, core.StorageError("insert activity", err)
	}
	return e, nil
}

// ActivityForProject streams the newest entries of a project.
func (s *Store) ActivityForProject(ctx context.Context, projectID string, limit int) iter.Seq2[models.ActivityView, error] {
	return func(yield func(models.ActivityView, error) bool) {
		rows, err := s.db.QueryContext(ctx, activitySelect+`
            WHERE a.project_id = ? ORDER BY a.timestamp DESC, a.rowid DESC LIMIT ?`, projectID, limit)
		if err != nil {
			yield(models.ActivityView{}, core.StorageError("list activity", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			v, err := scanActivity(rows)
			if err != nil {
				yield(models.ActivityView{}, core.StorageError("scan activity", err))
				return
			}
			if !yield(v, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(models.ActivityView{}, core.StorageError("list activity", err))
		}
	}
}

// ActivityForTask returns the newest entries recorded against a task.
func (s *Store) ActivityForTask(ctx context.Context, taskID string, limit int) ([]models.ActivityView, error) {
	rows, err := s.db.QueryContext(ctx, activitySelect+`
        WHERE a.task_id = ? ORDER BY a.timestamp DESC, a.rowid DESC LIMIT ?`, taskID, limit)
	if err != nil {
		return nil, core.StorageError("list task activity", err)
	}
	defer rows.Close()

	views := []models.ActivityView{}
	for rows.Next() {
		v, err := scanActivity(rows)
		if err != nil {
			return nil, core.StorageError("scan activity", err)
		}
		views = append(views, v)
	}
	if err := rows.Err(); err != nil {
		return nil, core.StorageError("list task activity", err)
	}
	return views, nil
}

func scanActivity(row scanner) (models.ActivityView, error) {
	var (
		v                  models.ActivityView
		action             string
		oldValue, newValue sql.NullString
	)
	err := row.Scan(&v.ID, &v.ActorID, &action, &v.TaskID, &v.ProjectID, &v.Details, &v.FieldChanged,
		&oldValue, &newValue, &v.Timestamp, &v.ActorName, &v.TaskName)
	if err != nil {
		return models.ActivityView{}, err
	}
	v.Action = models.Action(action)
	v.Timestamp = v.Timestamp.UTC()
	if v.OldValue, err = decodeValue(oldValue); err != nil {
		return models.ActivityView{}, err
	}
	if v.NewValue, err = decodeValue(newValue); err != nil {
		return models.ActivityView{}, err
	}
	return v, nil
}

// Old and new values are opaque payloads stored as JSON text.
func encodeValue(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func decodeValue(ns sql.NullString) (any, error) {
	if !ns.Valid {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal([]byte(ns.String), &v); err != nil {
		return nil, err
	}
	return v, nil
}
