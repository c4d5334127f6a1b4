// Package config loads the options enumerated in the pipeline's operational
// surface: graph endpoint, provider order, per-stream sizing, and the handful
// of tunables the gatekeeper/thinker/coordinator/assembler stages expose.
//
// Full environment/secrets management is an external collaborator (see
// spec §1) — this package intentionally does not grow into a generic config
// framework; it loads exactly the table in spec §6.
package config

import (
	"fmt"
	"time"
)

// GraphConfig addresses the Redis-wire graph engine and names the two
// logical graphs the pipeline writes to.
type GraphConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	Password        string `yaml:"password,omitempty"`
	PrimaryName     string `yaml:"primary_name"`
	ThoughtLogName  string `yaml:"thoughtlog_name"`
	DialTimeoutSecs int    `yaml:"dial_timeout_seconds"`
}

func (g GraphConfig) Addr() string {
	return fmt.Sprintf("%s:%d", g.Host, g.Port)
}

// AnthropicConfig configures the Anthropic Switchboard provider.
type AnthropicConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url,omitempty"`
}

// OpenAIConfig configures the OpenAI-compatible HTTP Switchboard provider.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url,omitempty"`
}

// GoogleConfig configures the Gemini Switchboard provider.
type GoogleConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url,omitempty"`
	Timeout int    `yaml:"timeout_seconds,omitempty"`
}

// CLIProviderConfig configures the subprocess-spawning Switchboard provider.
type CLIProviderConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

// ProvidersConfig is the Switchboard's ordered routing table.
type ProvidersConfig struct {
	Order            []string          `yaml:"order"`
	CooldownSeconds  int               `yaml:"cooldown_seconds"`
	Anthropic        AnthropicConfig   `yaml:"anthropic"`
	OpenAI           OpenAIConfig      `yaml:"openai"`
	Google           GoogleConfig      `yaml:"google"`
	CLI              CLIProviderConfig `yaml:"cli"`
}

func (p ProvidersConfig) Cooldown() time.Duration {
	if p.CooldownSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(p.CooldownSeconds) * time.Second
}

// StreamConfig sizes a single stage's worker pool and inbound queue.
type StreamConfig struct {
	Workers       int `yaml:"workers"`
	QueueCapacity int `yaml:"queue_capacity"`
}

// StreamsConfig holds the per-stage sizing table, one entry per named stream.
type StreamsConfig struct {
	Scribe      StreamConfig `yaml:"scribe"`
	Gatekeeper  StreamConfig `yaml:"gatekeeper"`
	Thinker     StreamConfig `yaml:"thinker"`
	Analyst     StreamConfig `yaml:"analyst"`
	Coordinator StreamConfig `yaml:"coordinator"`
	Responder   StreamConfig `yaml:"responder"`
}

// GatekeeperConfig tunes the triage classifier.
type GatekeeperConfig struct {
	Model string `yaml:"model"`
}

// ThinkerConfig tunes the semantic-enrichment stage.
type ThinkerConfig struct {
	HistoryK int `yaml:"history_k"`
}

// CoordinatorConfig tunes plan execution.
type CoordinatorConfig struct {
	TaskTimeoutSeconds int `yaml:"task_timeout_seconds"`
	MaxWorkersPerChat  int `yaml:"max_workers_per_chat"`
}

func (c CoordinatorConfig) TaskTimeout() time.Duration {
	if c.TaskTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TaskTimeoutSeconds) * time.Second
}

// PromptConfig tunes the prompt assembler's cache.
type PromptConfig struct {
	CacheTTLSeconds int `yaml:"cache_ttl_seconds"`
}

func (p PromptConfig) CacheTTL() time.Duration {
	if p.CacheTTLSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(p.CacheTTLSeconds) * time.Second
}

// ObsConfig addresses the optional OTLP collector used for distributed
// tracing and metrics export. observability.InitOTel takes these settings and
// rejects an empty OTLP; the cogstream commands do not call InitOTel, so they
// run on the process-global default OTel providers (no export). LogLevel is
// the one field the commands read.
type ObsConfig struct {
	OTLP           string `yaml:"otlp_endpoint,omitempty"`
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	Environment    string `yaml:"environment"`
	LogLevel       string `yaml:"log_level"`
}

// AgentIdentityConfig is the process-wide Agent identity.
type AgentIdentityConfig struct {
	TelegramID int64  `yaml:"telegram_id"`
	Name       string `yaml:"name"`
}

// AuditConfig addresses the optional Postgres unpersisted-message ledger.
type AuditConfig struct {
	Enabled          bool   `yaml:"enabled"`
	PostgresDSN      string `yaml:"postgres_dsn,omitempty"`
}

// MCPServerConfig launches one MCP server subprocess over stdio and names
// the tool on it to call — the same shape as the teacher's mcpServers table
// (internal/mcp/servers.go), minus the shared manager since Coordinator only
// ever dispatches one tool per action.
type MCPServerConfig struct {
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`
	Tool    string            `yaml:"tool"`
}

// Empty reports whether no server is configured for this action, in which
// case tools.New leaves the action unbound and its Invoke returns an error
// for it (Coordinator then records that task with an empty output).
func (m MCPServerConfig) Empty() bool { return m.Command == "" }

// ToolsConfig maps Coordinator's out-of-graph actions (spec §4.6) to the MCP
// server that serves them.
type ToolsConfig struct {
	SearchWeb        MCPServerConfig `yaml:"search_web"`
	FetchUserProfile MCPServerConfig `yaml:"fetch_user_profile"`
}

// BusConfig names the Stream Bus backing implementation.
type BusConfig struct {
	// Backend is "memory" (default, in-process channels) or "kafka". The
	// loader fills it in, but pipeline.New does not consult it: it always
	// builds the in-process ChannelBus. The Kafka-backed bus in
	// internal/bus/kafka.go (enterprise build tag) is not selected here.
	Backend      string   `yaml:"backend"`
	KafkaBrokers []string `yaml:"kafka_brokers,omitempty"`
}

// Config is the root configuration object, populated by Load.
type Config struct {
	Graph       GraphConfig         `yaml:"graph"`
	Providers   ProvidersConfig     `yaml:"providers"`
	Streams     StreamsConfig       `yaml:"streams"`
	Gatekeeper  GatekeeperConfig    `yaml:"gatekeeper"`
	Thinker     ThinkerConfig       `yaml:"thinker"`
	Coordinator CoordinatorConfig   `yaml:"coordinator"`
	Prompt      PromptConfig        `yaml:"prompt"`
	Agent       AgentIdentityConfig `yaml:"agent"`
	Audit       AuditConfig         `yaml:"audit"`
	Bus         BusConfig           `yaml:"bus"`
	Obs         ObsConfig           `yaml:"observability"`
	Tools       ToolsConfig         `yaml:"tools"`
}

// Default returns a Config with the defaults named throughout spec §4-§6.
func Default() Config {
	return Config{
		Graph: GraphConfig{
			Host:            "localhost",
			Port:            6379,
			PrimaryName:     "PrimaryMemory",
			ThoughtLogName:  "ThoughtLog",
			DialTimeoutSecs: 3,
		},
		Providers: ProvidersConfig{
			Order:           []string{"cli_gemini", "openai_compatible"},
			CooldownSeconds: 30,
		},
		Streams: StreamsConfig{
			Scribe:      StreamConfig{Workers: 1, QueueCapacity: 256},
			Gatekeeper:  StreamConfig{Workers: 2, QueueCapacity: 256},
			Thinker:     StreamConfig{Workers: 2, QueueCapacity: 256},
			Analyst:     StreamConfig{Workers: 2, QueueCapacity: 256},
			Coordinator: StreamConfig{Workers: 8, QueueCapacity: 256},
			Responder:   StreamConfig{Workers: 2, QueueCapacity: 256},
		},
		Thinker:     ThinkerConfig{HistoryK: 10},
		Coordinator: CoordinatorConfig{TaskTimeoutSeconds: 30, MaxWorkersPerChat: 8},
		Prompt:      PromptConfig{CacheTTLSeconds: 60},
		Bus:         BusConfig{Backend: "memory"},
		Obs:         ObsConfig{ServiceName: "cogstream", ServiceVersion: "dev", Environment: "development", LogLevel: "info"},
	}
}

// Validate enforces the configuration invariants that must hold before the
// pipeline can start (spec §7: configuration errors are fatal).
func (c Config) Validate() error {
	if c.Graph.Host == "" || c.Graph.Port == 0 {
		return fmt.Errorf("config: graph.host and graph.port are required")
	}
	if c.Graph.PrimaryName == "" || c.Graph.ThoughtLogName == "" {
		return fmt.Errorf("config: graph.primary_name and graph.thoughtlog_name are required")
	}
	if len(c.Providers.Order) == 0 {
		return fmt.Errorf("config: providers.order must list at least one provider")
	}
	if c.Agent.TelegramID == 0 || c.Agent.Name == "" {
		return fmt.Errorf("config: agent.telegram_id and agent.name are required")
	}
	return nil
}
