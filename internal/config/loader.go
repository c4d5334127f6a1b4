package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load builds a Config by starting from Default, layering a YAML file (when
// present), and finally applying environment variable overrides — the same
// precedence order the teacher's loader uses: file first, env wins.
//
// path may be empty, in which case only defaults and environment overrides
// apply. A local .env file, if present, is loaded into the process
// environment before reading variables (godotenv never overrides variables
// already set in the environment).
func Load(path string) (Config, error) {
	_ = godotenv.Load() // best-effort; absence of .env is not an error

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// no file at path: defaults + env only
		default:
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("GRAPH_HOST")); v != "" {
		cfg.Graph.Host = v
	}
	if v := envInt("GRAPH_PORT"); v != 0 {
		cfg.Graph.Port = v
	}
	if v := strings.TrimSpace(os.Getenv("GRAPH_PASSWORD")); v != "" {
		cfg.Graph.Password = v
	}
	if v := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")); v != "" {
		cfg.Providers.Anthropic.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("ANTHROPIC_MODEL")); v != "" {
		cfg.Providers.Anthropic.Model = v
	}
	if v := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); v != "" {
		cfg.Providers.OpenAI.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")); v != "" {
		cfg.Providers.OpenAI.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("GOOGLE_API_KEY")); v != "" {
		cfg.Providers.Google.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("PROVIDERS_ORDER")); v != "" {
		cfg.Providers.Order = strings.Split(v, ",")
		for i := range cfg.Providers.Order {
			cfg.Providers.Order[i] = strings.TrimSpace(cfg.Providers.Order[i])
		}
	}
	if v := envInt("AGENT_TELEGRAM_ID"); v != 0 {
		cfg.Agent.TelegramID = int64(v)
	}
	if v := strings.TrimSpace(os.Getenv("AGENT_NAME")); v != "" {
		cfg.Agent.Name = v
	}
	if v := strings.TrimSpace(os.Getenv("AUDIT_POSTGRES_DSN")); v != "" {
		cfg.Audit.PostgresDSN = v
		cfg.Audit.Enabled = true
	}
	if v := strings.TrimSpace(os.Getenv("BUS_BACKEND")); v != "" {
		cfg.Bus.Backend = v
	}
}

func envInt(key string) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}
