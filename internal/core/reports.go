package core

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"
	"time"

	"tracker/internal/ids"
	"tracker/internal/models"
)

// WorkloadStatuses seed every assignee's status breakdown.
var WorkloadStatuses = []string{"To Do", "In Progress", "Testing", "Done"}

// Workload is the task load of one assignee.
type Workload struct {
	AssigneeID   string         `json:"assignee_id"`
	AssigneeName string         `json:"assignee_name"`
	TaskCount    int            `json:"task_count"`
	ByStatus     map[string]int `json:"by_status"`
}

// EpicProgress summarizes the direct children of an epic.
type EpicProgress struct {
	EpicID               string         `json:"epic_id"`
	Name                 string         `json:"name"`
	TotalTasks           int            `json:"total_tasks"`
	DoneCount            int            `json:"done_count"`
	ByStatus             map[string]int `json:"by_status"`
	CompletionPercentage int            `json:"completion_percentage"`
}

// BurndownPoint is the remaining story points at the end of one day.
type BurndownPoint struct {
	Date      time.Time `json:"date"`
	Remaining int       `json:"remaining_points"`
}

// StatusBreakdown counts a project's tasks per status.
func (s *Service) StatusBreakdown(ctx context.Context, projectID string) (map[string]int, error) {
	tasks, err := s.projectTasks(ctx, projectID)
	if err != nil {
		return nil, err
	}
	out := map[string]int{}
	for _, t := range tasks {
		out[t.Status]++
	}
	return out, nil
}

// PriorityBreakdown counts a project's tasks per priority. Stored values
// are matched case-insensitively; values matching no priority are dropped.
func (s *Service) PriorityBreakdown(ctx context.Context, projectID string) (map[string]int, error) {
	tasks, err := s.projectTasks(ctx, projectID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(models.Priorities))
	for _, p := range models.Priorities {
		out[string(p)] = 0
	}
	for _, t := range tasks {
		if p, ok := matchPriority(string(t.Priority)); ok {
			out[string(p)]++
		}
	}
	return out, nil
}

func matchPriority(v string) (models.Priority, bool) {
	v = strings.TrimSpace(v)
	for _, p := range models.Priorities {
		if strings.EqualFold(v, string(p)) {
			return p, true
		}
	}
	return "", false
}

// TypeBreakdown counts a project's tasks per type.
func (s *Service) TypeBreakdown(ctx context.Context, projectID string) (map[string]int, error) {
	tasks, err := s.projectTasks(ctx, projectID)
	if err != nil {
		return nil, err
	}
	out := map[string]int{}
	for _, t := range tasks {
		out[string(t.Type)]++
	}
	return out, nil
}

// TeamWorkload groups a project's tasks by assignee, busiest first.
func (s *Service) TeamWorkload(ctx context.Context, projectID string) ([]Workload, error) {
	tasks, err := s.projectTasks(ctx, projectID)
	if err != nil {
		return nil, err
	}
	byAssignee := map[string]*Workload{}
	for _, t := range tasks {
		w, ok := byAssignee[t.AssigneeID]
		if !ok {
			w = &Workload{AssigneeID: t.AssigneeID, ByStatus: seededCounts(WorkloadStatuses)}
			byAssignee[t.AssigneeID] = w
		}
		w.TaskCount++
		w.ByStatus[t.Status]++
	}

	out := make([]Workload, 0, len(byAssignee))
	for id, w := range byAssignee {
		u, err := s.store.GetUser(ctx, id)
		switch {
		case err == nil:
			w.AssigneeName = u.Name
		case !errors.Is(err, ErrNotFound):
			return nil, err
		}
		out = append(out, *w)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TaskCount != out[j].TaskCount {
			return out[i].TaskCount > out[j].TaskCount
		}
		return out[i].AssigneeID < out[j].AssigneeID
	})
	return out, nil
}

// EpicProgress reports completion of every epic in a project from its
// direct children. An epic without children is 0% complete.
func (s *Service) EpicProgress(ctx context.Context, projectID string) ([]EpicProgress, error) {
	if err := s.requireProject(ctx, projectID); err != nil {
		return nil, err
	}
	epics, err := s.store.FindTasks(ctx, TaskFilter{ProjectID: projectID, Types: []models.TaskType{models.TypeEpic}})
	if err != nil {
		return nil, err
	}
	if len(epics) == 0 {
		return []EpicProgress{}, nil
	}
	epicIDs := make([]string, len(epics))
	for i, e := range epics {
		epicIDs[i] = e.ID
	}
	children, err := s.store.FindTasks(ctx, TaskFilter{ParentIDs: epicIDs})
	if err != nil {
		return nil, err
	}
	byParent := map[string][]models.Task{}
	for _, c := range children {
		byParent[deref(c.ParentID)] = append(byParent[deref(c.ParentID)], c)
	}

	out := make([]EpicProgress, 0, len(epics))
	for _, e := range epics {
		p := EpicProgress{EpicID: e.ID, Name: e.Name, ByStatus: map[string]int{}}
		for _, c := range byParent[e.ID] {
			p.TotalTasks++
			p.ByStatus[c.Status]++
			if models.IsTerminalStatus(c.Status) {
				p.DoneCount++
			}
		}
		p.CompletionPercentage = completionPercentage(p.DoneCount, p.TotalTasks)
		out = append(out, p)
	}
	return out, nil
}

func completionPercentage(done, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(done) / float64(total) * 100))
}

// Burndown returns the remaining story points for each day from the
// project's start date to its end date inclusive. Points of tasks completed
// on a day are subtracted on that day; the series is not clamped at zero.
func (s *Service) Burndown(ctx context.Context, projectID string) ([]BurndownPoint, error) {
	if !ids.Valid(projectID) {
		return nil, invalidf("malformed project id %q", projectID)
	}
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if project.StartDate == nil || project.EndDate == nil {
		return nil, invalidf("project %s needs start and end dates for a burndown", project.Key)
	}
	start, end := day(*project.StartDate), day(*project.EndDate)
	if end.Before(start) {
		return nil, invalidf("project %s ends before it starts", project.Key)
	}

	tasks, err := s.store.FindTasks(ctx, TaskFilter{ProjectID: projectID})
	if err != nil {
		return nil, err
	}
	return burndown(tasks, start, end), nil
}

func burndown(tasks []models.Task, start, end time.Time) []BurndownPoint {
	remaining := 0
	completedOn := map[time.Time]int{}
	for _, t := range tasks {
		remaining += t.StoryPoints
		if t.CompletedAt != nil {
			completedOn[day(*t.CompletedAt)] += t.StoryPoints
		}
	}

	var series []BurndownPoint
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		remaining -= completedOn[d]
		series = append(series, BurndownPoint{Date: d, Remaining: remaining})
	}
	return series
}

// day truncates t to midnight UTC.
func day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func seededCounts(keys []string) map[string]int {
	out := make(map[string]int, len(keys))
	for _, k := range keys {
		out[k] = 0
	}
	return out
}

func (s *Service) requireProject(ctx context.Context, projectID string) error {
	if !ids.Valid(projectID) {
		return invalidf("malformed project id %q", projectID)
	}
	_, err := s.store.GetProject(ctx, projectID)
	return err
}

func (s *Service) projectTasks(ctx context.Context, projectID string) ([]models.Task, error) {
	if err := s.requireProject(ctx, projectID); err != nil {
		return nil, err
	}
	return s.store.FindTasks(ctx, TaskFilter{ProjectID: projectID})
}
