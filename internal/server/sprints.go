package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tracker/internal/core"
	"tracker/internal/models"
)

type transitionRequest struct {
	Status models.SprintStatus `json:"status"`
}

type memberRequest struct {
	UserID string `json:"user_id"`
}

func (s *Server) handleListSprints(c *gin.Context) {
	sprints, err := s.svc.ListSprints(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"sprints": sprints})
}

// handleCreateSprint creates a sprint in the project named by the path.
func (s *Server) handleCreateSprint(c *gin.Context) {
	var req core.CreateSprintInput
	if !s.bind(c, &req) {
		return
	}
	req.ProjectID = c.Param("id")

	sprint, err := s.svc.CreateSprint(c.Request.Context(), req)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusCreated, gin.H{"sprint": sprint})
}

func (s *Server) handleGetSprint(c *gin.Context) {
	sprint, err := s.svc.GetSprint(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"sprint": sprint})
}

func (s *Server) handleUpdateSprint(c *gin.Context) {
	var req core.SprintPatch
	if !s.bind(c, &req) {
		return
	}
	sprint, err := s.svc.UpdateSprint(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"sprint": sprint})
}

func (s *Server) handleDeleteSprint(c *gin.Context) {
	if err := s.svc.DeleteSprint(c.Request.Context(), c.Param("id")); err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"status": "deleted"})
}

func (s *Server) handleTransitionSprint(c *gin.Context) {
	var req transitionRequest
	if !s.bind(c, &req) {
		return
	}
	sprint, err := s.svc.TransitionSprint(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"sprint": sprint})
}

// handleRecomputeSprint rewrites the sprint counters from its task set.
func (s *Server) handleRecomputeSprint(c *gin.Context) {
	sprint, err := s.svc.Recompute(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"sprint": sprint})
}

func (s *Server) handleAddSprintMember(c *gin.Context) {
	var req memberRequest
	if !s.bind(c, &req) {
		return
	}
	sprint, err := s.svc.AddSprintMember(c.Request.Context(), c.Param("id"), req.UserID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"sprint": sprint})
}

func (s *Server) handleRemoveSprintMember(c *gin.Context) {
	sprint, err := s.svc.RemoveSprintMember(c.Request.Context(), c.Param("id"), c.Param("userId"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"sprint": sprint})
}
