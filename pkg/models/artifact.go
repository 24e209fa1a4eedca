package models

import "time"

// MaxSummaryLength bounds the artifact content summary.
const MaxSummaryLength = 200

// ArtifactType classifies agent-produced artifacts.
type ArtifactType string

const (
	ArtifactTypeCode     ArtifactType = "code"
	ArtifactTypeConfig   ArtifactType = "config"
	ArtifactTypeModel    ArtifactType = "model"
	ArtifactTypeData     ArtifactType = "data"
	ArtifactTypePlan     ArtifactType = "plan"
	ArtifactTypeAnalysis ArtifactType = "analysis"
	ArtifactTypeTest     ArtifactType = "test"
	ArtifactTypeDocs     ArtifactType = "docs"
)

// IsValid checks if the artifact type is valid.
func (t ArtifactType) IsValid() bool {
	switch t {
	case ArtifactTypeCode, ArtifactTypeConfig, ArtifactTypeModel,
		ArtifactTypeData, ArtifactTypePlan, ArtifactTypeAnalysis,
		ArtifactTypeTest, ArtifactTypeDocs:
		return true
	default:
		return false
	}
}

// DependencyScope classifies where a declared dependency applies.
type DependencyScope string

const (
	ScopeRuntime DependencyScope = "runtime"
	ScopeDev     DependencyScope = "dev"
	ScopeBuild   DependencyScope = "build"
)

// IsValid checks if the dependency scope is valid.
func (s DependencyScope) IsValid() bool {
	return s == ScopeRuntime || s == ScopeDev || s == ScopeBuild
}

// DependencySpec is a single typed dependency declaration carried by an
// artifact. The version constraint must parse under the PEP 440-style
// constraint grammar or the whole declaration is rejected.
type DependencySpec struct {
	Name              string          `json:"name"`
	VersionConstraint string          `json:"version_constraint"`
	Scope             DependencyScope `json:"scope"`
	DeclaredByAgent   string          `json:"declared_by_agent"`
	Purpose           string          `json:"purpose"`
}

// Artifact is a durable agent-produced output governed by the PSMP engine.
// Immutable once declared; new versions create new artifacts.
type Artifact struct {
	ID             string           `json:"id"`
	ProjectID      string           `json:"project_id"`
	AgentID        string           `json:"agent_id"`
	Type           ArtifactType     `json:"artifact_type"`
	ContentSummary string           `json:"content_summary"`
	Dependencies   []DependencySpec `json:"dependencies,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	Metadata       map[string]any   `json:"metadata,omitempty"`

	// Revoked artifacts no longer count as live for conflict detection.
	Revoked bool `json:"revoked,omitempty"`
}

// DeclareArtifactRequest carries an agent's artifact declaration.
type DeclareArtifactRequest struct {
	ArtifactID   string           `json:"artifact_id,omitempty"` // optional; generated when empty
	ProjectID    string           `json:"project_id"`
	AgentID      string           `json:"agent_id"`
	Type         ArtifactType     `json:"artifact_type"`
	Summary      string           `json:"summary"`
	Dependencies []DependencySpec `json:"dependencies,omitempty"`
	Metadata     map[string]any   `json:"metadata,omitempty"`
}
