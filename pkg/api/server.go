// Package api exposes the governance engine over HTTP.
package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/psmp-io/psmp/pkg/audit"
	"github.com/psmp-io/psmp/pkg/llm"
	"github.com/psmp-io/psmp/pkg/metrics"
	"github.com/psmp-io/psmp/pkg/secure"
	"github.com/psmp-io/psmp/pkg/services"
)

// Server wires the service layer into HTTP handlers.
type Server struct {
	state   *services.StateManager
	engine  *services.Engine
	secure  *secure.Gateway
	llm     *llm.Gateway
	auditor *audit.Auditor
	log     *slog.Logger
}

// NewServer creates a new API server.
func NewServer(state *services.StateManager, engine *services.Engine, secureGateway *secure.Gateway, llmGateway *llm.Gateway, auditor *audit.Auditor) *Server {
	return &Server{
		state:   state,
		engine:  engine,
		secure:  secureGateway,
		llm:     llmGateway,
		auditor: auditor,
		log:     slog.With("component", "api"),
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), securityHeaders(), requestMetrics())

	r.GET("/health", s.healthHandler)
	r.GET("/healthz", s.healthHandler)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := r.Group("/api/v1")
	{
		v1.POST("/projects", s.createProjectHandler)
		v1.GET("/projects", s.listProjectsHandler)
		v1.GET("/projects/:id", s.getProjectHandler)
		v1.POST("/projects/:id/transition", s.transitionProjectHandler)
		v1.GET("/projects/:id/events", s.listEventsHandler)

		v1.POST("/projects/:id/tasks", s.createTaskHandler)
		v1.GET("/projects/:id/tasks", s.listTasksHandler)
		v1.POST("/tasks/:id/transition", s.transitionTaskHandler)

		v1.POST("/projects/:id/artifacts", s.declareArtifactHandler)
		v1.GET("/projects/:id/artifacts", s.listArtifactsHandler)
		v1.GET("/artifacts/:id", s.getArtifactHandler)
		v1.POST("/artifacts/:id/revoke", s.revokeArtifactHandler)

		v1.GET("/projects/:id/conflicts", s.listConflictsHandler)
		v1.POST("/projects/:id/conflicts/resolve", s.resolveConflictHandler)
		v1.GET("/projects/:id/blocking-report", s.blockingReportHandler)
		v1.GET("/projects/:id/manifest", s.manifestHandler)

		v1.POST("/projects/:id/checkpoints", s.createCheckpointHandler)
		v1.GET("/projects/:id/checkpoints", s.listCheckpointsHandler)
		v1.POST("/checkpoints/:id/restore", s.restoreCheckpointHandler)

		v1.POST("/secure/execute", s.secureExecuteHandler)
		v1.POST("/secure/classify", s.secureClassifyHandler)

		v1.GET("/audit/entries", s.auditEntriesHandler)
		v1.GET("/audit/summary", s.auditSummaryHandler)
		v1.GET("/audit/verify", s.auditVerifyHandler)
	}

	return r
}
