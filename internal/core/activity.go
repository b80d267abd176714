package core

import (
	"context"
	"iter"
	"log/slog"
	"time"

	"tracker/internal/ids"
	"tracker/internal/metrics"
	"tracker/internal/models"
)

const (
	defaultActivityLimit = 50
	maxActivityLimit     = 500
)

// RecordInput describes one activity entry. The timestamp is not part of
// the input; the log stamps entries itself.
type RecordInput struct {
	ActorID      string
	Action       models.Action
	TaskID       string
	ProjectID    string
	Details      string
	FieldChanged string
	OldValue     any
	NewValue     any
}

// ActivityLog is the append-only audit trail of task changes.
type ActivityLog struct {
	store Store
	now   func() time.Time
}

// NewActivityLog creates a log over store stamping entries with now.
func NewActivityLog(store Store, now func() time.Time) *ActivityLog {
	if now == nil {
		now = time.Now
	}
	return &ActivityLog{store: store, now: now}
}

// Record appends an entry stamped with the current time.
func (l *ActivityLog) Record(ctx context.Context, in RecordInput) (models.ActivityEntry, error) {
	return l.store.CreateActivity(ctx, models.ActivityEntry{
		ID:           ids.New(),
		ActorID:      in.ActorID,
		Action:       in.Action,
		TaskID:       in.TaskID,
		ProjectID:    in.ProjectID,
		Details:      in.Details,
		FieldChanged: in.FieldChanged,
		OldValue:     in.OldValue,
		NewValue:     in.NewValue,
		Timestamp:    l.now().UTC(),
	})
}

// ListForProject yields at most limit entries of a project, newest first.
// The sequence is single-use; callers page by re-querying.
func (l *ActivityLog) ListForProject(ctx context.Context, projectID string, limit int) iter.Seq2[models.ActivityView, error] {
	if !ids.Valid(projectID) {
		return func(yield func(models.ActivityView, error) bool) {
			yield(models.ActivityView{}, invalidf("malformed project id %q", projectID))
		}
	}
	return l.store.ActivityForProject(ctx, projectID, clampLimit(limit))
}

// ListForTask returns at most limit entries of a task, newest first.
func (l *ActivityLog) ListForTask(ctx context.Context, taskID string, limit int) ([]models.ActivityView, error) {
	if !ids.Valid(taskID) {
		return nil, invalidf("malformed task id %q", taskID)
	}
	return l.store.ActivityForTask(ctx, taskID, clampLimit(limit))
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultActivityLimit
	}
	if limit > maxActivityLimit {
		return maxActivityLimit
	}
	return limit
}

// recordActivity writes an entry and reports whether it succeeded. A
// failure is logged and counted but never returned to the caller.
func (s *Service) recordActivity(ctx context.Context, in RecordInput) bool {
	if _, err := s.activity.Record(ctx, in); err != nil {
		s.secondaryFailed(ctx, metrics.OpActivity, err,
			slog.String("task_id", in.TaskID), slog.String("action", string(in.Action)))
		return false
	}
	s.metrics.ActivityRecorded()
	return true
}
