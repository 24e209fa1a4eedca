package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/psmp-io/psmp/pkg/version"
)

const (
	healthStatusHealthy  = "healthy"
	healthStatusDegraded = "degraded"
)

// HealthCheck is one named component check in the health response.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string                 `json:"status"`
	Version string                 `json:"version"`
	Checks  map[string]HealthCheck `json:"checks"`
}

// healthHandler handles GET /health. LLM providers only degrade the status:
// the engine itself keeps serving governance operations when a provider is
// down, so an orchestrator must not restart it for that.
func (s *Server) healthHandler(c *gin.Context) {
	checks := make(map[string]HealthCheck)
	status := healthStatusHealthy

	for _, p := range s.llm.Providers() {
		name := "provider:" + p.Name()
		if s.llm.IsAvailable(p.Name()) {
			checks[name] = HealthCheck{Status: healthStatusHealthy}
		} else {
			status = healthStatusDegraded
			checks[name] = HealthCheck{Status: healthStatusDegraded, Message: "failing health probes"}
		}
	}

	c.JSON(http.StatusOK, &HealthResponse{
		Status:  status,
		Version: version.GitCommit,
		Checks:  checks,
	})
}
