package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/psmp-io/psmp/pkg/models"
)

// CreateCheckpointRequest is the request body for POST /api/v1/projects/:id/checkpoints.
type CreateCheckpointRequest struct {
	Description string `json:"description,omitempty"`
}

// RestoreCheckpointRequest is the request body for POST /api/v1/checkpoints/:id/restore.
type RestoreCheckpointRequest struct {
	Actor string `json:"actor"`
}

// createCheckpointHandler handles POST /api/v1/projects/:id/checkpoints.
func (s *Server) createCheckpointHandler(c *gin.Context) {
	var req CreateCheckpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	checkpoint, err := s.state.CreateCheckpoint(c.Request.Context(), c.Param("id"), req.Description)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, checkpoint)
}

// listCheckpointsHandler handles GET /api/v1/projects/:id/checkpoints.
func (s *Server) listCheckpointsHandler(c *gin.Context) {
	checkpoints, err := s.state.ListCheckpoints(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"checkpoints": checkpoints, "count": len(checkpoints)})
}

// restoreCheckpointHandler handles POST /api/v1/checkpoints/:id/restore.
func (s *Server) restoreCheckpointHandler(c *gin.Context) {
	var req RestoreCheckpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	actor := req.Actor
	if actor == "" {
		actor = models.ActorSystem
	}

	project, err := s.state.RestoreCheckpoint(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, project)
}
