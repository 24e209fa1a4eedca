package config

// GovernanceMode controls how strictly the engine reacts to dependency
// conflicts.
type GovernanceMode string

const (
	// GovernanceModeStrict blocks projects on critical conflicts and
	// escalates warnings to critical.
	GovernanceModeStrict GovernanceMode = "strict"
	// GovernanceModeAdaptive blocks on critical conflicts only.
	GovernanceModeAdaptive GovernanceMode = "adaptive"
	// GovernanceModePlayground records conflicts but never blocks.
	GovernanceModePlayground GovernanceMode = "playground"
)

// IsValid checks if the governance mode is valid.
func (m GovernanceMode) IsValid() bool {
	switch m {
	case GovernanceModeStrict, GovernanceModeAdaptive, GovernanceModePlayground:
		return true
	default:
		return false
	}
}

// PolicyName identifies a provider routing policy.
type PolicyName string

const (
	// PolicyDefaultLocalFirst prefers local providers, allows cloud for
	// lower sensitivities.
	PolicyDefaultLocalFirst PolicyName = "default_local_first"
	// PolicyEnterpriseResidency keeps SENSITIVE and above on providers with
	// local data residency.
	PolicyEnterpriseResidency PolicyName = "enterprise_residency"
	// PolicyComplianceLocalOnly never routes outside local providers.
	PolicyComplianceLocalOnly PolicyName = "compliance_local_only"
)

// IsValid checks if the policy name is valid.
func (p PolicyName) IsValid() bool {
	switch p {
	case PolicyDefaultLocalFirst, PolicyEnterpriseResidency, PolicyComplianceLocalOnly:
		return true
	default:
		return false
	}
}

// ProviderKind classifies configured LLM providers.
type ProviderKind string

const (
	// ProviderKindLocalRuntime is an on-host inference runtime.
	ProviderKindLocalRuntime ProviderKind = "local_runtime"
	// ProviderKindCloudAggregator is a hosted multi-model API.
	ProviderKindCloudAggregator ProviderKind = "cloud_aggregator"
)

// IsValid checks if the provider kind is valid.
func (k ProviderKind) IsValid() bool {
	return k == ProviderKindLocalRuntime || k == ProviderKindCloudAggregator
}

// StorageBackend selects the persistence implementation.
type StorageBackend string

const (
	StorageBackendBolt     StorageBackend = "bolt"
	StorageBackendPostgres StorageBackend = "postgres"
)

// IsValid checks if the storage backend is valid.
func (b StorageBackend) IsValid() bool {
	return b == StorageBackendBolt || b == StorageBackendPostgres
}
