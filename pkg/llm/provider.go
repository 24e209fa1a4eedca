// Package llm implements the provider registry, health monitoring and
// dispatch logic of the LLM gateway. Providers are declared in
// llm-providers.yaml; the secure gateway decides which of them a request may
// use, this package decides which of those actually serves it.
package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/psmp-io/psmp/pkg/config"
	"github.com/psmp-io/psmp/pkg/models"
)

// FailureCategory classifies dispatch failures for callers and audit.
type FailureCategory string

const (
	FailureUnavailableProvider FailureCategory = "unavailable_provider"
	FailureModelUnknown        FailureCategory = "model_unknown"
	FailureTimeout             FailureCategory = "timeout"
	FailureProviderError       FailureCategory = "provider_error"
	FailurePolicyViolation     FailureCategory = "policy_violation"
)

// ErrNoProvider indicates no healthy, permitted provider could serve the
// request.
var ErrNoProvider = errors.New("no available provider")

// DispatchError carries the failure category alongside the underlying error.
type DispatchError struct {
	Category FailureCategory
	Provider string
	Err      error
}

func (e *DispatchError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s (provider %s): %v", e.Category, e.Provider, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Category, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// Request is one generation request entering the gateway. Temperature and
// MaxTokens are passed through when positive; providers apply their own
// defaults otherwise.
type Request struct {
	Model        string  `json:"model"`
	Prompt       string  `json:"prompt"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
	Temperature  float64 `json:"temperature,omitempty"`
	MaxTokens    int     `json:"max_tokens,omitempty"`

	AgentName string         `json:"agent_name"`
	TaskType  string         `json:"task_type"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Usage reports token accounting for one generation.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a completed generation, annotated with the routing decisions
// that produced it.
type Response struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Content  string `json:"content"`
	Usage    *Usage `json:"usage,omitempty"`

	// RequestedModel and ModelSubstituted record default-model substitution
	// so callers can see when they did not get what they asked for.
	RequestedModel   string `json:"requested_model,omitempty"`
	ModelSubstituted bool   `json:"model_substituted,omitempty"`
}

// Provider is one configured LLM endpoint.
type Provider interface {
	Name() string
	Kind() config.ProviderKind
	Priority() int
	Residency() models.DataResidency
	Models() []string

	// Probe checks liveness; used by the health monitor only.
	Probe(ctx context.Context) error
	Generate(ctx context.Context, req Request) (*Response, error)
}

// serves reports whether the provider lists the model.
func serves(p Provider, model string) bool {
	for _, m := range p.Models() {
		if m == model {
			return true
		}
	}
	return false
}
