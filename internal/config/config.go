// Package config defines the typed configuration schema of spec.md §6: TOML
// keys under service/models/agents/tools/logging, loaded via
// github.com/BurntSushi/toml, with environment variables overriding TOML for
// matching keys and API keys read only from the environment.
package config

import (
	"os"

	"github.com/BurntSushi/toml"
)

// ServiceConfig mirrors service.* keys.
type ServiceConfig struct {
	Host               string `toml:"host"`
	Port               int    `toml:"port"`
	Version            string `toml:"version"`
	DeepSearchAgentMode string `toml:"deepsearch_agent_mode"`
}

// ModelsConfig mirrors models.* keys.
type ModelsConfig struct {
	OrchestratorID string `toml:"orchestrator_id"`
	SearchID       string `toml:"search_id"`
	RerankerType   string `toml:"reranker_type"`
}

// AgentsCommonConfig mirrors agents.common.* keys.
type AgentsCommonConfig struct {
	VerboseToolCallbacks bool `toml:"verbose_tool_callbacks"`
}

// AgentsReActConfig mirrors agents.react.* keys.
type AgentsReActConfig struct {
	MaxSteps         int `toml:"max_steps"`
	PlanningInterval int `toml:"planning_interval"`
	MaxToolThreads   int `toml:"max_tool_threads"`
}

// AgentsCodeActConfig mirrors agents.codact.* keys.
type AgentsCodeActConfig struct {
	MaxSteps                  int            `toml:"max_steps"`
	VerbosityLevel            int            `toml:"verbosity_level"`
	PlanningInterval          int            `toml:"planning_interval"`
	ExecutorType              string         `toml:"executor_type"`
	AdditionalAuthorizedImports []string     `toml:"additional_authorized_imports"`
	ExecutorKwargs            map[string]any `toml:"executor_kwargs"`
	UseStructuredOutputs      bool           `toml:"use_structured_outputs"`
}

// AgentsManagerConfig mirrors agents.manager.* keys.
type AgentsManagerConfig struct {
	Enabled             bool     `toml:"enabled"`
	MaxDelegationDepth  int      `toml:"max_delegation_depth"`
	DefaultManagedAgents []string `toml:"default_managed_agents"`
}

// AgentsConfig groups the agents.* sub-tables.
type AgentsConfig struct {
	Common  AgentsCommonConfig  `toml:"common"`
	React   AgentsReActConfig   `toml:"react"`
	CodeAct AgentsCodeActConfig `toml:"codact"`
	Manager AgentsManagerConfig `toml:"manager"`
}

// ToolsConfig mirrors tools.* keys.
type ToolsConfig struct {
	HubCollections   []string       `toml:"hub_collections"`
	TrustRemoteCode  bool           `toml:"trust_remote_code"`
	MCPServers       []string       `toml:"mcp_servers"`
	Specific         map[string]any `toml:"specific"`
}

// LoggingConfig mirrors logging.* keys.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Config is the root configuration value, matching spec.md §6 exactly.
type Config struct {
	Service ServiceConfig `toml:"service"`
	Models  ModelsConfig  `toml:"models"`
	Agents  AgentsConfig  `toml:"agents"`
	Tools   ToolsConfig   `toml:"tools"`
	Logging LoggingConfig `toml:"logging"`

	// APIKeys are populated only from the environment, never from TOML.
	APIKeys APIKeys `toml:"-"`
}

// APIKeys holds provider credentials; these are never read from TOML.
type APIKeys struct {
	LiteLLMMasterKey string
	LiteLLMBaseURL   string
	SerperAPIKey     string
	JinaAPIKey       string
	XAIAPIKey        string
	WolframAlphaAppID string
	HFToken          string
}

// Default returns the spec.md-documented defaults.
func Default() Config {
	return Config{
		Service: ServiceConfig{Host: "0.0.0.0", Port: 8000, Version: "v1", DeepSearchAgentMode: "react"},
		Models:  ModelsConfig{OrchestratorID: "anthropic/claude-opus", SearchID: "anthropic/claude-haiku"},
		Agents: AgentsConfig{
			React:   AgentsReActConfig{MaxSteps: 25, PlanningInterval: 0, MaxToolThreads: 4},
			CodeAct: AgentsCodeActConfig{MaxSteps: 25, ExecutorType: "local"},
			Manager: AgentsManagerConfig{Enabled: false, MaxDelegationDepth: 3},
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads a TOML file at path into a Config seeded with Default(), then
// applies environment variable overrides and API keys.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DEEPSEARCH_AGENT_MODE"); v != "" {
		cfg.Service.DeepSearchAgentMode = v
	}
	if v := os.Getenv("DEEPSEARCH_ORCHESTRATOR_ID"); v != "" {
		cfg.Models.OrchestratorID = v
	}
	if v := os.Getenv("DEEPSEARCH_SEARCH_ID"); v != "" {
		cfg.Models.SearchID = v
	}
	cfg.APIKeys = APIKeys{
		LiteLLMMasterKey:  os.Getenv("LITELLM_MASTER_KEY"),
		LiteLLMBaseURL:    os.Getenv("LITELLM_BASE_URL"),
		SerperAPIKey:      os.Getenv("SERPER_API_KEY"),
		JinaAPIKey:        os.Getenv("JINA_API_KEY"),
		XAIAPIKey:         os.Getenv("XAI_API_KEY"),
		WolframAlphaAppID: os.Getenv("WOLFRAM_ALPHA_APP_ID"),
		HFToken:           os.Getenv("HF_TOKEN"),
	}
}

// MandatoryToolKeys returns the {toolName: envVar} mapping that
// ValidateAPIKeys and the CLI use to decide which tools can be registered
// (spec.md §4.9's API-key gating).
func MandatoryToolKeys() map[string]string {
	return map[string]string{
		"search_links": "SERPER_API_KEY",
		"read_url":     "JINA_API_KEY",
		"wolfram":      "WOLFRAM_ALPHA_APP_ID",
	}
}

// ValidateAPIKeys reports, for each mandatory tool, whether its required
// environment variable was set, and an overall valid_api_keys flag that is
// true only if every mandatory key is present.
func ValidateAPIKeys() (perTool map[string]bool, valid bool) {
	perTool = map[string]bool{}
	valid = true
	for tool, env := range MandatoryToolKeys() {
		ok := os.Getenv(env) != ""
		perTool[tool] = ok
		if !ok {
			valid = false
		}
	}
	return perTool, valid
}
