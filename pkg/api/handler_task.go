package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/psmp-io/psmp/pkg/models"
)

// CreateTaskBody is the request body for POST /api/v1/projects/:id/tasks.
type CreateTaskBody struct {
	models.CreateTaskRequest
	Actor string `json:"actor"`
}

// TransitionTaskRequest is the request body for POST /api/v1/tasks/:id/transition.
type TransitionTaskRequest struct {
	Status models.TaskStatus `json:"status" binding:"required"`
	Actor  string            `json:"actor" binding:"required"`
}

// createTaskHandler handles POST /api/v1/projects/:id/tasks.
func (s *Server) createTaskHandler(c *gin.Context) {
	var body CreateTaskBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	actor := body.Actor
	if actor == "" {
		actor = models.ActorSystem
	}

	task, err := s.state.CreateTask(c.Request.Context(), c.Param("id"), body.CreateTaskRequest, actor)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, task)
}

// listTasksHandler handles GET /api/v1/projects/:id/tasks.
func (s *Server) listTasksHandler(c *gin.Context) {
	filters := models.TaskFilters{
		Milestone: c.Query("milestone"),
		AgentType: c.Query("agent_type"),
	}
	if v := c.Query("status"); v != "" {
		status := models.TaskStatus(v)
		if !status.IsValid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status: " + v})
			return
		}
		filters.Status = status
	}

	tasks, err := s.state.ListTasks(c.Request.Context(), c.Param("id"), filters)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks, "count": len(tasks)})
}

// transitionTaskHandler handles POST /api/v1/tasks/:id/transition.
func (s *Server) transitionTaskHandler(c *gin.Context) {
	var req TransitionTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	task, err := s.state.TransitionTask(c.Request.Context(), c.Param("id"), req.Status, req.Actor)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}
