package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/psmp-io/psmp/pkg/models"
	"github.com/psmp-io/psmp/pkg/services"
)

// RevokeArtifactRequest is the request body for POST /api/v1/artifacts/:id/revoke.
type RevokeArtifactRequest struct {
	Actor string `json:"actor" binding:"required"`
}

// ResolveConflictRequest is the request body for POST /api/v1/projects/:id/conflicts/resolve.
type ResolveConflictRequest struct {
	Library          string `json:"library" binding:"required"`
	ChosenConstraint string `json:"chosen_constraint" binding:"required"`
	Actor            string `json:"actor" binding:"required"`
}

// DeclareArtifactResponse is returned by POST /api/v1/projects/:id/artifacts.
type DeclareArtifactResponse struct {
	Artifact  *models.Artifact            `json:"artifact"`
	Conflicts []models.DependencyConflict `json:"conflicts"`
}

// declareArtifactHandler handles POST /api/v1/projects/:id/artifacts.
func (s *Server) declareArtifactHandler(c *gin.Context) {
	var req models.DeclareArtifactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.ProjectID = c.Param("id")

	artifact, conflicts, err := s.engine.DeclareArtifact(c.Request.Context(), req)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, DeclareArtifactResponse{
		Artifact:  artifact,
		Conflicts: conflicts,
	})
}

// listArtifactsHandler handles GET /api/v1/projects/:id/artifacts.
func (s *Server) listArtifactsHandler(c *gin.Context) {
	artifacts, err := s.engine.ListArtifacts(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"artifacts": artifacts, "count": len(artifacts)})
}

// getArtifactHandler handles GET /api/v1/artifacts/:id.
func (s *Server) getArtifactHandler(c *gin.Context) {
	artifact, err := s.engine.GetArtifact(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, artifact)
}

// revokeArtifactHandler handles POST /api/v1/artifacts/:id/revoke.
func (s *Server) revokeArtifactHandler(c *gin.Context) {
	var req RevokeArtifactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	artifact, err := s.engine.RevokeArtifact(c.Request.Context(), c.Param("id"), req.Actor)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, artifact)
}

// listConflictsHandler handles GET /api/v1/projects/:id/conflicts.
func (s *Server) listConflictsHandler(c *gin.Context) {
	conflicts, err := s.engine.Conflicts(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conflicts": conflicts, "count": len(conflicts)})
}

// resolveConflictHandler handles POST /api/v1/projects/:id/conflicts/resolve.
func (s *Server) resolveConflictHandler(c *gin.Context) {
	var req ResolveConflictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resolution, err := s.engine.ResolveConflict(c.Request.Context(), c.Param("id"),
		req.Library, req.ChosenConstraint, req.Actor)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, resolution)
}

// blockingReportHandler handles GET /api/v1/projects/:id/blocking-report.
func (s *Server) blockingReportHandler(c *gin.Context) {
	report, err := s.engine.BlockingReport(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// manifestHandler handles GET /api/v1/projects/:id/manifest.
// With ?format=text the manifest is rendered in requirements format.
func (s *Server) manifestHandler(c *gin.Context) {
	entries, err := s.engine.GenerateManifest(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeServiceError(c, err)
		return
	}

	if c.Query("format") == "text" {
		c.String(http.StatusOK, services.RenderManifest(entries))
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}
