package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tracker/internal/core"
	"tracker/internal/models"
)

type columnRequest struct {
	Name string `json:"name"`
}

type columnsRequest struct {
	Columns []string `json:"columns"`
}

type moveRequest struct {
	Direction core.Direction `json:"direction"`
}

// handleListProjects returns all available projects.
func (s *Server) handleListProjects(c *gin.Context) {
	projects, err := s.svc.ListProjects(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	if projects == nil {
		projects = []models.Project{}
	}
	respondSuccess(c, http.StatusOK, gin.H{"projects": projects})
}

// handleCreateProject creates a project with its board.
func (s *Server) handleCreateProject(c *gin.Context) {
	var req core.CreateProjectInput
	if !s.bind(c, &req) {
		return
	}
	project, err := s.svc.CreateProject(c.Request.Context(), req)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusCreated, gin.H{"project": project})
}

func (s *Server) handleGetProject(c *gin.Context) {
	project, err := s.svc.GetProject(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"project": project})
}

// handleUpdateProject renames or re-dates an existing project.
func (s *Server) handleUpdateProject(c *gin.Context) {
	var req core.ProjectPatch
	if !s.bind(c, &req) {
		return
	}
	project, err := s.svc.UpdateProject(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"project": project})
}

// handleDeleteProject removes a project and everything in it.
func (s *Server) handleDeleteProject(c *gin.Context) {
	if err := s.svc.DeleteProject(c.Request.Context(), c.Param("id")); err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"status": "deleted"})
}

func (s *Server) handleAddColumn(c *gin.Context) {
	var req columnRequest
	if !s.bind(c, &req) {
		return
	}
	col, err := s.svc.AddColumn(c.Request.Context(), c.Param("id"), req.Name)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusCreated, gin.H{"column": col})
}

func (s *Server) handleReplaceColumns(c *gin.Context) {
	var req columnsRequest
	if !s.bind(c, &req) {
		return
	}
	if req.Columns == nil {
		req.Columns = []string{}
	}
	cols, err := s.svc.ReplaceColumns(c.Request.Context(), c.Param("id"), req.Columns)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"columns": cols})
}

func (s *Server) handleRemoveColumn(c *gin.Context) {
	if err := s.svc.RemoveColumn(c.Request.Context(), c.Param("id"), c.Param("columnId")); err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"status": "deleted"})
}

func (s *Server) handleMoveColumn(c *gin.Context) {
	var req moveRequest
	if !s.bind(c, &req) {
		return
	}
	cols, err := s.svc.ReorderColumn(c.Request.Context(), c.Param("id"), c.Param("columnId"), req.Direction)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"columns": cols})
}

// handleProjectActivity returns the newest activity of a project.
func (s *Server) handleProjectActivity(c *gin.Context) {
	limit, ok := s.queryLimit(c)
	if !ok {
		return
	}
	entries := []models.ActivityView{}
	for e, err := range s.svc.Activity().ListForProject(c.Request.Context(), c.Param("id"), limit) {
		if err != nil {
			s.respondError(c, err)
			return
		}
		entries = append(entries, e)
	}
	respondSuccess(c, http.StatusOK, gin.H{"activity": entries})
}

func (s *Server) handleStatusReport(c *gin.Context) {
	report, err := s.svc.StatusBreakdown(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"by_status": report})
}

func (s *Server) handlePriorityReport(c *gin.Context) {
	report, err := s.svc.PriorityBreakdown(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"by_priority": report})
}

func (s *Server) handleTypeReport(c *gin.Context) {
	report, err := s.svc.TypeBreakdown(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"by_type": report})
}

func (s *Server) handleWorkloadReport(c *gin.Context) {
	report, err := s.svc.TeamWorkload(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"workload": report})
}

func (s *Server) handleEpicReport(c *gin.Context) {
	report, err := s.svc.EpicProgress(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"epics": report})
}

func (s *Server) handleBurndownReport(c *gin.Context) {
	report, err := s.svc.Burndown(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"burndown": report})
}
