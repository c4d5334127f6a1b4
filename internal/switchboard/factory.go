package switchboard

import (
	"fmt"
	"net/http"

	"github.com/llitpux/cogstream/internal/config"
	"github.com/llitpux/cogstream/internal/llm"
	"github.com/llitpux/cogstream/internal/llm/providers/anthropic"
	"github.com/llitpux/cogstream/internal/llm/providers/cli"
	"github.com/llitpux/cogstream/internal/llm/providers/google"
	"github.com/llitpux/cogstream/internal/llm/providers/openai"
)

// defaultOrder matches spec §4.8's default Switchboard routing table.
var defaultOrder = []string{"cli_gemini", "openai_compatible"}

// Build constructs a Switchboard from the providers table, wiring one
// instance per concrete provider type that carries credentials, plus one
// CLI-backed provider per name in cfg.Order that doesn't match a configured
// provider's own Name() and whose subprocess command is set. This lets
// operators name the subprocess provider anything ("cli_gemini",
// "cli_claude", ...) while only carrying one exec.Command configuration, and
// keeps an unconfigured provider (empty API key, empty command) out of the
// routing table entirely rather than registering one that would only fail
// at call time.
func Build(cfg config.ProvidersConfig, httpClient *http.Client) (*Switchboard, error) {
	providers := make(map[string]llm.Provider)

	if cfg.Anthropic.APIKey != "" {
		an := anthropic.New(cfg.Anthropic, httpClient)
		providers[an.Name()] = an
	}
	if cfg.OpenAI.APIKey != "" {
		oa := openai.New(cfg.OpenAI, httpClient)
		providers[oa.Name()] = oa
	}
	if cfg.Google.APIKey != "" {
		gg, err := google.New(cfg.Google, httpClient)
		if err != nil {
			return nil, fmt.Errorf("switchboard: build google provider: %w", err)
		}
		providers[gg.Name()] = gg
	}

	order := cfg.Order
	if len(order) == 0 {
		order = defaultOrder
	}

	if cfg.CLI.Command != "" {
		for _, name := range order {
			if _, ok := providers[name]; ok {
				continue
			}
			providers[name] = cli.New(name, cfg.CLI)
		}
	}

	if len(providers) == 0 {
		return nil, fmt.Errorf("switchboard: no providers configured")
	}

	return New(order, providers, cfg.Cooldown()), nil
}
