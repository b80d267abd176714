package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tracker/internal/core"
	"tracker/internal/models"
)

type sprintAssignRequest struct {
	SprintID *string `json:"sprint_id"`
}

type commentRequest struct {
	Text string `json:"text"`
}

type attachmentRequest struct {
	Name string `json:"name"`
}

type watcherRequest struct {
	UserID string `json:"user_id"`
}

// handleListTasks fetches the tasks of a project, optionally filtered.
func (s *Server) handleListTasks(c *gin.Context) {
	tasks, err := s.svc.ListTasks(c.Request.Context(), core.TaskQuery{
		ProjectID:  c.Param("id"),
		SprintID:   c.Query("sprint_id"),
		AssigneeID: c.Query("assignee_id"),
		Status:     c.Query("status"),
		Type:       models.TaskType(c.Query("type")),
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"tasks": tasks})
}

// handleCreateTask inserts a new task into a project.
func (s *Server) handleCreateTask(c *gin.Context) {
	var req core.CreateTaskInput
	if !s.bind(c, &req) {
		return
	}
	req.ProjectID = c.Param("id")

	task, err := s.svc.CreateTask(c.Request.Context(), actor(c), req)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusCreated, gin.H{"task": task})
}

func (s *Server) handleGetTask(c *gin.Context) {
	task, err := s.svc.GetTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"task": task})
}

// handleUpdateTask applies a partial update; absent fields stay unchanged.
func (s *Server) handleUpdateTask(c *gin.Context) {
	var req core.TaskPatch
	if !s.bind(c, &req) {
		return
	}
	task, err := s.svc.UpdateTask(c.Request.Context(), actor(c), c.Param("id"), req)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"task": task})
}

// handleDeleteTask removes a task.
func (s *Server) handleDeleteTask(c *gin.Context) {
	if err := s.svc.DeleteTask(c.Request.Context(), actor(c), c.Param("id")); err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"status": "deleted"})
}

// handleAssignSprint moves a task into a sprint; a null sprint_id removes it.
func (s *Server) handleAssignSprint(c *gin.Context) {
	var req sprintAssignRequest
	if !s.bind(c, &req) {
		return
	}
	task, err := s.svc.AssignTaskToSprint(c.Request.Context(), actor(c), c.Param("id"), req.SprintID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"task": task})
}

func (s *Server) handleAddComment(c *gin.Context) {
	var req commentRequest
	if !s.bind(c, &req) {
		return
	}
	entry, err := s.svc.AddComment(c.Request.Context(), actor(c), c.Param("id"), req.Text)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusCreated, gin.H{"activity": entry})
}

func (s *Server) handleAddAttachment(c *gin.Context) {
	var req attachmentRequest
	if !s.bind(c, &req) {
		return
	}
	entry, err := s.svc.AddAttachment(c.Request.Context(), actor(c), c.Param("id"), req.Name)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusCreated, gin.H{"activity": entry})
}

func (s *Server) handleAddWatcher(c *gin.Context) {
	var req watcherRequest
	if !s.bind(c, &req) {
		return
	}
	task, err := s.svc.AddWatcher(c.Request.Context(), actor(c), c.Param("id"), req.UserID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"task": task})
}

func (s *Server) handleTaskActivity(c *gin.Context) {
	limit, ok := s.queryLimit(c)
	if !ok {
		return
	}
	entries, err := s.svc.Activity().ListForTask(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"activity": entries})
}
