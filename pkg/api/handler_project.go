package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/psmp-io/psmp/pkg/models"
)

// TransitionProjectRequest is the request body for POST /api/v1/projects/:id/transition.
type TransitionProjectRequest struct {
	Status models.ProjectStatus `json:"status" binding:"required"`
	Actor  string               `json:"actor" binding:"required"`
	Reason string               `json:"reason,omitempty"`
}

// createProjectHandler handles POST /api/v1/projects.
func (s *Server) createProjectHandler(c *gin.Context) {
	var req models.CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	project, err := s.state.CreateProject(c.Request.Context(), req)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, project)
}

// listProjectsHandler handles GET /api/v1/projects.
func (s *Server) listProjectsHandler(c *gin.Context) {
	var filters models.ProjectFilters
	if v := c.Query("status"); v != "" {
		status := models.ProjectStatus(v)
		if !status.IsValid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status: " + v})
			return
		}
		filters.Status = status
	}
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filters.Limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filters.Offset = n
		}
	}

	projects, err := s.state.ListProjects(c.Request.Context(), filters)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"projects": projects, "count": len(projects)})
}

// getProjectHandler handles GET /api/v1/projects/:id.
func (s *Server) getProjectHandler(c *gin.Context) {
	project, err := s.state.GetProject(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, project)
}

// transitionProjectHandler handles POST /api/v1/projects/:id/transition.
func (s *Server) transitionProjectHandler(c *gin.Context) {
	var req TransitionProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	project, err := s.state.TransitionProject(c.Request.Context(), c.Param("id"), req.Status, req.Actor, req.Reason)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, project)
}

// listEventsHandler handles GET /api/v1/projects/:id/events.
func (s *Server) listEventsHandler(c *gin.Context) {
	events, err := s.state.Events(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}
