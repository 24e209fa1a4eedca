// Package secure implements the policy-routing gateway in front of the LLM
// layer: every request is classified, routed to a policy-permitted provider,
// and audited before the response is returned.
package secure

import (
	"strings"

	"github.com/psmp-io/psmp/pkg/models"
)

// TaskRequest is one LLM-bound task entering the secure gateway.
type TaskRequest struct {
	AgentName string `json:"agent_name"`
	TaskType  string `json:"task_type"`
	Model     string `json:"model"`
	Prompt    string `json:"prompt"`

	SystemPrompt string  `json:"system_prompt,omitempty"`
	Temperature  float64 `json:"temperature,omitempty"`
	MaxTokens    int     `json:"max_tokens,omitempty"`

	// SecurityTask marks security-context work explicitly, independent of
	// task type naming.
	SecurityTask bool `json:"is_security_task,omitempty"`
	// DataClasses label the data the task touches, e.g. "private",
	// "sensitive", "public".
	DataClasses []string       `json:"data_classes,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// DefaultSecurityReviewers is the agent set treated as security context when
// the configuration names none.
var DefaultSecurityReviewers = []string{"security-reviewer"}

// Task types that always rank INTERNAL: planning and design work that sees
// project structure but no governed data.
var internalTaskTypes = map[string]bool{
	"planning":            true,
	"idea_validation":     true,
	"data_science_design": true,
	"mlops_planning":      true,
	"devops_planning":     true,
	"conflict_resolution": true,
}

// Task types that rank SENSITIVE: they see produced code or data content.
var sensitiveTaskTypes = map[string]bool{
	"code_validation":     true,
	"test_critique":       true,
	"notebook_generation": true,
}

// Classifier derives sensitivities with a configurable set of security
// reviewer agents.
type Classifier struct {
	reviewers map[string]bool
}

// NewClassifier builds a classifier. An empty reviewer list falls back to
// DefaultSecurityReviewers.
func NewClassifier(reviewers []string) *Classifier {
	if len(reviewers) == 0 {
		reviewers = DefaultSecurityReviewers
	}
	set := make(map[string]bool, len(reviewers))
	for _, r := range reviewers {
		set[r] = true
	}
	return &Classifier{reviewers: set}
}

// Classify derives the sensitivity of a request. The rules are deterministic
// and ordered from most to least restrictive; the first match wins.
func (c *Classifier) Classify(req TaskRequest) models.Sensitivity {
	if hasDataClass(req, "private") || hasDataClass(req, "pii") {
		return models.SensitivityCritical
	}
	if req.SecurityTask || strings.Contains(req.TaskType, "security") || c.reviewers[req.AgentName] {
		return models.SensitivityCritical
	}
	if hasDataClass(req, "sensitive") || sensitiveTaskTypes[req.TaskType] {
		return models.SensitivitySensitive
	}
	if internalTaskTypes[req.TaskType] {
		return models.SensitivityInternal
	}
	return models.SensitivityPublic
}

var defaultClassifier = NewClassifier(nil)

// Classify derives the sensitivity of a request under the default security
// reviewer set.
func Classify(req TaskRequest) models.Sensitivity {
	return defaultClassifier.Classify(req)
}

func hasDataClass(req TaskRequest, class string) bool {
	for _, c := range req.DataClasses {
		if strings.EqualFold(c, class) {
			return true
		}
	}
	return false
}
