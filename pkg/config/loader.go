package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// psmpYAMLConfig mirrors the psmp.yaml file structure.
type psmpYAMLConfig struct {
	Server     *ServerConfig     `yaml:"server"`
	Storage    *StorageConfig    `yaml:"storage"`
	Governance *GovernanceConfig `yaml:"governance"`
	Audit      *AuditConfig      `yaml:"audit"`
	LLM        *LLMConfig        `yaml:"llm"`
}

// providersYAMLConfig mirrors the llm-providers.yaml file structure.
type providersYAMLConfig struct {
	LLMProviders map[string]ProviderConfig `yaml:"llm_providers"`
}

// Initialize loads, merges, and validates configuration from configDir.
//
// Resolution order, later wins:
//  1. Built-in defaults
//  2. psmp.yaml / llm-providers.yaml (with {{.VAR}} env expansion)
//  3. PSMP_* environment variable overrides
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("Configuration initialized successfully",
		"mode", cfg.Governance.Mode,
		"policy", cfg.Governance.Policy,
		"backend", cfg.Storage.Backend,
		"llm_providers", len(cfg.LLM.Providers))

	return cfg, nil
}

func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{configDir: configDir}

	fileCfg, err := loader.loadPSMPYAML()
	if err != nil {
		return nil, NewLoadError("psmp.yaml", err)
	}

	providers, err := loader.loadProvidersYAML()
	if err != nil {
		return nil, NewLoadError("llm-providers.yaml", err)
	}

	cfg := DefaultConfig()

	// Merge YAML sections over defaults; non-zero YAML values win.
	if fileCfg.Server != nil {
		if err := mergo.Merge(&cfg.Server, fileCfg.Server, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge server config: %w", err)
		}
	}
	if fileCfg.Storage != nil {
		if err := mergo.Merge(&cfg.Storage, fileCfg.Storage, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge storage config: %w", err)
		}
	}
	if fileCfg.Governance != nil {
		if err := mergo.Merge(&cfg.Governance, fileCfg.Governance, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge governance config: %w", err)
		}
	}
	if fileCfg.Audit != nil {
		if err := mergo.Merge(&cfg.Audit, fileCfg.Audit, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge audit config: %w", err)
		}
	}
	if fileCfg.LLM != nil {
		if err := mergo.Merge(&cfg.LLM, fileCfg.LLM, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge llm config: %w", err)
		}
	}

	cfg.LLM.Providers = providers
	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyEnvOverrides applies PSMP_* environment variables on top of the
// merged configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PSMP_GOVERNANCE_MODE"); v != "" {
		cfg.Governance.Mode = GovernanceMode(v)
	}
	if v := os.Getenv("PSMP_POLICY"); v != "" {
		cfg.Governance.Policy = PolicyName(v)
	}
	if v := os.Getenv("PSMP_ORG"); v != "" {
		cfg.Governance.Organization = v
	}
	if v := os.Getenv("PSMP_OFFLINE"); v != "" {
		if offline, err := strconv.ParseBool(v); err == nil {
			cfg.Governance.Offline = offline
		} else {
			slog.Warn("Invalid PSMP_OFFLINE value, ignoring", "value", v)
		}
	}
}

func validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return NewValidationError("server", "http", "port", ErrInvalidValue)
	}
	if !cfg.Storage.Backend.IsValid() {
		return NewValidationError("storage", string(cfg.Storage.Backend), "backend", ErrInvalidValue)
	}
	if cfg.Storage.Backend == StorageBackendBolt && cfg.Storage.DataDir == "" {
		return NewValidationError("storage", "bolt", "data_dir", ErrMissingRequiredField)
	}
	if !cfg.Governance.Mode.IsValid() {
		return NewValidationError("governance", string(cfg.Governance.Mode), "mode", ErrInvalidValue)
	}
	if !cfg.Governance.Policy.IsValid() {
		return NewValidationError("governance", string(cfg.Governance.Policy), "policy", ErrInvalidValue)
	}
	if cfg.Audit.QueueSize <= 0 {
		return NewValidationError("audit", "queue", "queue_size", ErrInvalidValue)
	}

	for name, provider := range cfg.LLM.Providers {
		if !provider.Kind.IsValid() {
			return NewValidationError("provider", name, "kind", ErrInvalidValue)
		}
		if provider.BaseURL == "" {
			return NewValidationError("provider", name, "base_url", ErrMissingRequiredField)
		}
		if len(provider.Models) == 0 {
			return NewValidationError("provider", name, "models", ErrMissingRequiredField)
		}
		if !provider.Residency.IsValid() {
			return NewValidationError("provider", name, "residency", ErrInvalidValue)
		}
		if provider.Kind == ProviderKindCloudAggregator && provider.APIKeyEnv == "" {
			return NewValidationError("provider", name, "api_key_env", ErrMissingRequiredField)
		}
	}

	// Model mappings must target a model some provider serves.
	for alias, target := range cfg.LLM.ModelMappings {
		if !modelServed(cfg.LLM.Providers, target) {
			return NewValidationError("model_mapping", alias, "target", ErrInvalidValue)
		}
	}
	if cfg.LLM.DefaultModel != "" && !modelServed(cfg.LLM.Providers, cfg.LLM.DefaultModel) {
		return NewValidationError("llm", "default_model", "default_model", ErrInvalidValue)
	}

	return nil
}

func modelServed(providers map[string]ProviderConfig, model string) bool {
	for _, provider := range providers {
		for _, m := range provider.Models {
			if m == model {
				return true
			}
		}
	}
	return false
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return nil
}

func (l *configLoader) loadPSMPYAML() (*psmpYAMLConfig, error) {
	var cfg psmpYAMLConfig
	if err := l.loadYAML("psmp.yaml", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadProvidersYAML loads llm-providers.yaml. A missing file is not an
// error; the gateway starts with an empty registry and every dispatch fails
// with unavailable_provider.
func (l *configLoader) loadProvidersYAML() (map[string]ProviderConfig, error) {
	cfg := providersYAMLConfig{
		LLMProviders: make(map[string]ProviderConfig),
	}
	if err := l.loadYAML("llm-providers.yaml", &cfg); err != nil {
		if errors.Is(err, ErrConfigNotFound) {
			return cfg.LLMProviders, nil
		}
		return nil, err
	}
	return cfg.LLMProviders, nil
}
