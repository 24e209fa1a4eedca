package secure

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/psmp-io/psmp/pkg/audit"
	"github.com/psmp-io/psmp/pkg/config"
	"github.com/psmp-io/psmp/pkg/llm"
	"github.com/psmp-io/psmp/pkg/metrics"
	"github.com/psmp-io/psmp/pkg/models"
)

// Gateway routes classified requests through the LLM gateway under the
// configured policy. Every decision, allowed or denied, is audited before
// the caller sees the result.
type Gateway struct {
	cfg        config.GovernanceConfig
	classifier *Classifier
	llm        *llm.Gateway
	auditor    *audit.Auditor
	log        *slog.Logger
}

// NewGateway wires the secure gateway.
func NewGateway(cfg config.GovernanceConfig, llmGateway *llm.Gateway, auditor *audit.Auditor) *Gateway {
	return &Gateway{
		cfg:        cfg,
		classifier: NewClassifier(cfg.SecurityReviewers),
		llm:        llmGateway,
		auditor:    auditor,
		log:        slog.With("component", "secure-gateway"),
	}
}

// Execute classifies the request, selects policy-permitted providers,
// dispatches, and audits. The audit entry is recorded before returning in
// every path.
func (g *Gateway) Execute(ctx context.Context, req TaskRequest) (*llm.Response, error) {
	sensitivity := g.classifier.Classify(req)
	allowed, residency := g.permittedProviders(sensitivity)

	entry := models.AuditEntry{
		Timestamp:     time.Now().UTC(),
		AgentName:     req.AgentName,
		TaskType:      req.TaskType,
		Sensitivity:   sensitivity,
		PolicyName:    string(g.cfg.Policy),
		Organization:  g.cfg.Organization,
		DataResidency: residency,
		Metadata:      req.Metadata,
	}

	if len(allowed) == 0 {
		entry.PolicyDecision = audit.DecisionDenied
		if err := g.record(entry); err != nil {
			return nil, err
		}
		metrics.PolicyViolations.WithLabelValues(string(g.cfg.Policy)).Inc()
		violation := &PolicyViolationError{Policy: g.cfg.Policy, Sensitivity: sensitivity}
		return nil, &llm.DispatchError{Category: llm.FailurePolicyViolation, Err: violation}
	}

	resp, err := g.llm.Dispatch(ctx, llm.Request{
		Model:        req.Model,
		Prompt:       req.Prompt,
		SystemPrompt: req.SystemPrompt,
		Temperature:  req.Temperature,
		MaxTokens:    req.MaxTokens,
		AgentName:    req.AgentName,
		TaskType:     req.TaskType,
		Metadata:     req.Metadata,
	}, allowed)
	if err != nil {
		entry.PolicyDecision = audit.DecisionAllowed
		if entry.Metadata == nil {
			entry.Metadata = map[string]any{}
		}
		var dErr *llm.DispatchError
		if errors.As(err, &dErr) {
			entry.Metadata["failure_category"] = string(dErr.Category)
		}
		if rErr := g.record(entry); rErr != nil {
			return nil, rErr
		}
		return nil, err
	}

	entry.PolicyDecision = audit.DecisionAllowed
	entry.SelectedProvider = resp.Provider
	if p, ok := g.llm.Provider(resp.Provider); ok {
		entry.DataResidency = p.Residency()
	}
	if err := g.record(entry); err != nil {
		return nil, err
	}

	g.log.Debug("Request routed",
		"agent", req.AgentName,
		"sensitivity", sensitivity,
		"provider", resp.Provider,
		"model", resp.Model)
	return resp, nil
}

// Inspect classifies a request without dispatching it and returns the
// sensitivity plus the providers the active policy would permit. Like every
// gateway decision the classification is audited before returning.
func (g *Gateway) Inspect(req TaskRequest) (models.Sensitivity, []string, error) {
	sensitivity := g.classifier.Classify(req)
	allowed, residency := g.permittedProviders(sensitivity)

	entry := models.AuditEntry{
		Timestamp:     time.Now().UTC(),
		AgentName:     req.AgentName,
		TaskType:      req.TaskType,
		Sensitivity:   sensitivity,
		PolicyName:    string(g.cfg.Policy),
		Organization:  g.cfg.Organization,
		DataResidency: residency,
		Metadata:      req.Metadata,
	}
	if len(allowed) == 0 {
		entry.PolicyDecision = audit.DecisionDenied
	} else {
		entry.PolicyDecision = audit.DecisionAllowed
	}
	if err := g.record(entry); err != nil {
		return sensitivity, nil, err
	}
	return sensitivity, allowed, nil
}

// record writes the audit entry. Under strict audit a failed write escalates
// to a policy violation instead of letting the request proceed unaudited.
func (g *Gateway) record(entry models.AuditEntry) error {
	err := g.auditor.Record(entry)
	if err == nil {
		return nil
	}
	if g.cfg.StrictAudit {
		metrics.PolicyViolations.WithLabelValues(string(g.cfg.Policy)).Inc()
		return &llm.DispatchError{
			Category: llm.FailurePolicyViolation,
			Err:      fmt.Errorf("audit write failed under strict audit: %w", err),
		}
	}
	g.log.Warn("Audit write failed, continuing", "agent", entry.AgentName, "error", err)
	return nil
}

// permittedProviders returns the provider names the policy allows for the
// sensitivity, intersected with the health monitor's current view, and the
// broadest residency those providers may have.
func (g *Gateway) permittedProviders(sensitivity models.Sensitivity) ([]string, models.DataResidency) {
	cloudOK := allowsCloud(g.cfg.Policy, sensitivity, g.cfg.Offline)

	var names []string
	for _, p := range g.llm.Providers() {
		if p.Residency() == models.ResidencyCloud && !cloudOK {
			continue
		}
		if !g.llm.IsAvailable(p.Name()) {
			continue
		}
		names = append(names, p.Name())
	}

	residency := models.ResidencyLocal
	if cloudOK {
		residency = models.ResidencyCloud
	}
	return names, residency
}
