package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/psmp-io/psmp/pkg/secure"
)

// secureExecuteHandler handles POST /api/v1/secure/execute. The request is
// classified, routed under the active policy, and audited; the response
// carries the provider that actually served it.
func (s *Server) secureExecuteHandler(c *gin.Context) {
	var req secure.TaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.TaskType == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "task_type is required"})
		return
	}
	if req.Model == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "model is required"})
		return
	}

	resp, err := s.secure.Execute(c.Request.Context(), req)
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// secureClassifyHandler handles POST /api/v1/secure/classify. It returns the
// sensitivity and permitted providers without dispatching anything; the
// classification still lands on the audit trail.
func (s *Server) secureClassifyHandler(c *gin.Context) {
	var req secure.TaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.TaskType == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "task_type is required"})
		return
	}

	sensitivity, allowed, err := s.secure.Inspect(req)
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sensitivity":         sensitivity,
		"permitted_providers": allowed,
	})
}
