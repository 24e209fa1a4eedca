package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/psmp-io/psmp/pkg/models"
)

// auditEntriesHandler handles GET /api/v1/audit/entries.
func (s *Server) auditEntriesHandler(c *gin.Context) {
	org := c.Query("org")
	if org == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "org is required"})
		return
	}

	filters := models.AuditFilters{
		Agent:      c.Query("agent"),
		Provider:   c.Query("provider"),
		PolicyName: c.Query("policy"),
	}
	if v := c.Query("sensitivity"); v != "" {
		sensitivity := models.Sensitivity(v)
		if !sensitivity.IsValid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid sensitivity: " + v})
			return
		}
		filters.Sensitivity = sensitivity
	}

	window, err := parseWindow(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	entries, err := s.auditor.Query(org, filters, window)
	if err != nil {
		s.log.Error("Audit query failed", "org", org, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "audit query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

// auditSummaryHandler handles GET /api/v1/audit/summary.
func (s *Server) auditSummaryHandler(c *gin.Context) {
	org := c.Query("org")
	if org == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "org is required"})
		return
	}

	window, err := parseWindow(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	summary, err := s.auditor.Summarize(org, window)
	if err != nil {
		s.log.Error("Audit summary failed", "org", org, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "audit summary failed"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// auditVerifyHandler handles GET /api/v1/audit/verify. It recomputes the hash
// chain of the organization's log and reports the first break, if any.
func (s *Server) auditVerifyHandler(c *gin.Context) {
	org := c.Query("org")
	if org == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "org is required"})
		return
	}

	if err := s.auditor.Verify(org); err != nil {
		c.JSON(http.StatusConflict, gin.H{"org": org, "intact": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"org": org, "intact": true})
}

func parseWindow(c *gin.Context) (models.AuditWindow, error) {
	var window models.AuditWindow
	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return window, errors.New("invalid from: must be RFC3339")
		}
		window.From = t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return window, errors.New("invalid to: must be RFC3339")
		}
		window.To = t
	}
	return window, nil
}
