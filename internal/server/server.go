package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tracker/internal/core"
)

// ActorHeader carries the id of the user performing a mutation.
const ActorHeader = "X-User-ID"

// Pinger reports whether the backing database is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds the optional collaborators of the HTTP server.
type Config struct {
	Logger    *slog.Logger
	StaticDir string
	// Gatherer is served at /metrics when set.
	Gatherer prometheus.Gatherer
	DB       Pinger
}

// Server provides HTTP handlers for the tracker API.
type Server struct {
	engine    *gin.Engine
	svc       *core.Service
	logger    *slog.Logger
	staticDir string
	gatherer  prometheus.Gatherer
	db        Pinger
}

// New constructs the HTTP server with routes and middleware configured.
func New(svc *core.Service, cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(gin.LoggerWithWriter(gin.DefaultWriter, "/api/healthz", "/metrics"))

	srv := &Server{
		engine:    router,
		svc:       svc,
		logger:    logger,
		staticDir: cfg.StaticDir,
		gatherer:  cfg.Gatherer,
		db:        cfg.DB,
	}

	srv.registerRoutes()
	return srv
}

// Engine exposes the underlying Gin engine.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// registerRoutes wires all API, metrics and static handlers together.
func (s *Server) registerRoutes() {
	api := s.engine.Group("/api")
	{
		api.GET("/healthz", s.handleHealth)
		api.POST("/users", s.handleCreateUser)

		projects := api.Group("/projects")
		{
			projects.GET("", s.handleListProjects)
			projects.POST("", s.handleCreateProject)
			projects.GET(":id", s.handleGetProject)
			projects.PUT(":id", s.handleUpdateProject)
			projects.DELETE(":id", s.handleDeleteProject)

			projects.POST(":id/columns", s.handleAddColumn)
			projects.PUT(":id/columns", s.handleReplaceColumns)
			projects.DELETE(":id/columns/:columnId", s.handleRemoveColumn)
			projects.POST(":id/columns/:columnId/move", s.handleMoveColumn)

			projects.GET(":id/tasks", s.handleListTasks)
			projects.POST(":id/tasks", s.handleCreateTask)
			projects.GET(":id/sprints", s.handleListSprints)
			projects.POST(":id/sprints", s.handleCreateSprint)
			projects.GET(":id/activity", s.handleProjectActivity)

			reports := projects.Group(":id/reports")
			{
				reports.GET("/status", s.handleStatusReport)
				reports.GET("/priority", s.handlePriorityReport)
				reports.GET("/type", s.handleTypeReport)
				reports.GET("/workload", s.handleWorkloadReport)
				reports.GET("/epics", s.handleEpicReport)
				reports.GET("/burndown", s.handleBurndownReport)
			}
		}

		tasks := api.Group("/tasks")
		{
			tasks.GET(":id", s.handleGetTask)
			tasks.PUT(":id", s.handleUpdateTask)
			tasks.DELETE(":id", s.handleDeleteTask)
			tasks.PUT(":id/sprint", s.handleAssignSprint)
			tasks.POST(":id/comments", s.handleAddComment)
			tasks.POST(":id/attachments", s.handleAddAttachment)
			tasks.POST(":id/watchers", s.handleAddWatcher)
			tasks.GET(":id/activity", s.handleTaskActivity)
		}

		sprints := api.Group("/sprints")
		{
			sprints.GET(":id", s.handleGetSprint)
			sprints.PUT(":id", s.handleUpdateSprint)
			sprints.DELETE(":id", s.handleDeleteSprint)
			sprints.PUT(":id/status", s.handleTransitionSprint)
			sprints.POST(":id/recompute", s.handleRecomputeSprint)
			sprints.POST(":id/members", s.handleAddSprintMember)
			sprints.DELETE(":id/members/:userId", s.handleRemoveSprintMember)
		}
	}

	if s.gatherer != nil {
		s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	s.mountStatic()
}

// handleHealth provides a basic readiness endpoint.
func (s *Server) handleHealth(c *gin.Context) {
	if s.db != nil {
		if err := s.db.Ping(c.Request.Context()); err != nil {
			s.logger.Error("health check failed", slog.String("error", err.Error()))
			c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "message": "database unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "status": "ok"})
}

func (s *Server) handleCreateUser(c *gin.Context) {
	var req core.CreateUserInput
	if !s.bind(c, &req) {
		return
	}
	user, err := s.svc.CreateUser(c.Request.Context(), req)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusCreated, gin.H{"user": user})
}

// actor returns the acting user from the request header.
func actor(c *gin.Context) string {
	return c.GetHeader(ActorHeader)
}
