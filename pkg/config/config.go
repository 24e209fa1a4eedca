// Package config loads and validates psmp.yaml and llm-providers.yaml.
package config

import (
	"time"

	"github.com/psmp-io/psmp/pkg/models"
)

// Config is the fully resolved runtime configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Governance GovernanceConfig `yaml:"governance"`
	Audit      AuditConfig      `yaml:"audit"`
	LLM        LLMConfig        `yaml:"llm"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	Backend StorageBackend `yaml:"backend"`
	DataDir string         `yaml:"data_dir"`

	Postgres PostgresConfig `yaml:"postgres"`
}

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
}

// GovernanceConfig controls conflict handling and provider routing policy.
type GovernanceConfig struct {
	Mode         GovernanceMode `yaml:"mode"`
	Policy       PolicyName     `yaml:"policy"`
	Organization string         `yaml:"organization"`
	// Offline forbids all cloud providers regardless of policy.
	Offline bool `yaml:"offline"`
	// StrictAudit escalates audit write failures to request failures.
	StrictAudit bool `yaml:"strict_audit"`
	// SecurityReviewers lists agent names whose work always classifies
	// CRITICAL. Empty means the built-in default set.
	SecurityReviewers []string `yaml:"security_reviewers"`
}

// AuditConfig holds compliance audit log settings.
type AuditConfig struct {
	Dir       string `yaml:"dir"`
	QueueSize int    `yaml:"queue_size"`
	HashChain bool   `yaml:"hash_chain"`
}

// LLMConfig holds provider registry and dispatch settings.
type LLMConfig struct {
	Providers     map[string]ProviderConfig `yaml:"-"` // loaded from llm-providers.yaml
	ModelMappings map[string]string         `yaml:"model_mappings"`
	DefaultModel  string                    `yaml:"default_model"`

	HealthInterval   time.Duration `yaml:"health_interval"`
	ProbeTimeout     time.Duration `yaml:"probe_timeout"`
	FailureThreshold int           `yaml:"failure_threshold"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	MaxRetries       int           `yaml:"max_retries"`
}

// ProviderConfig declares one LLM provider endpoint.
type ProviderConfig struct {
	Kind      ProviderKind         `yaml:"kind"`
	BaseURL   string               `yaml:"base_url"`
	APIKeyEnv string               `yaml:"api_key_env,omitempty"`
	Priority  int                  `yaml:"priority"`
	Models    []string             `yaml:"models"`
	Residency models.DataResidency `yaml:"residency"`
}

// DefaultConfig returns the built-in defaults, overridden by YAML and then
// by environment variables.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8090,
		},
		Storage: StorageConfig{
			Backend: StorageBackendBolt,
			DataDir: "./data",
			Postgres: PostgresConfig{
				Host:     "localhost",
				Port:     5432,
				User:     "psmp",
				Database: "psmp",
				SSLMode:  "disable",
				MaxConns: 10,
			},
		},
		Governance: GovernanceConfig{
			Mode:         GovernanceModeAdaptive,
			Policy:       PolicyDefaultLocalFirst,
			Organization: "default",
		},
		Audit: AuditConfig{
			Dir:       "./data/audit",
			QueueSize: 10000,
			HashChain: true,
		},
		LLM: LLMConfig{
			HealthInterval:   60 * time.Second,
			ProbeTimeout:     500 * time.Millisecond,
			FailureThreshold: 3,
			RequestTimeout:   30 * time.Second,
			MaxRetries:       2,
		},
	}
}
