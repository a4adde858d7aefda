package llmclient

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/tarsy-chain/tarsy/pkg/config"
)

// Router dispatches Generate calls across one *AnthropicClient per
// configured Anthropic provider entry, selecting by GenerateOptions.Provider
// (falling back to a configured default when unset) — the wiring-edge
// counterpart to pkg/agentconfig.Resolved.LLMProviderName, which is where
// that provider name comes from in the first place.
type Router struct {
	clients         map[string]Client
	defaultProvider string
}

// NewRouter builds one Client per registry entry whose Type is
// LLMProviderTypeAnthropic — the only backend spec.md §6 wires an SDK for —
// resolving each entry's API key from its APIKeyEnv, per pkg/config's
// convention of never reading the environment itself. A provider entry of
// any other type is skipped with a logged warning rather than failing
// startup: an operator may define provider entries for a type this build
// doesn't implement yet without blocking every other provider.
func NewRouter(registry *config.LLMProviderRegistry, defaultProvider string, log *slog.Logger) (*Router, error) {
	if log == nil {
		log = slog.Default()
	}
	clients := make(map[string]Client)
	for name, cfg := range registry.GetAll() {
		if cfg.Type != config.LLMProviderTypeAnthropic {
			log.Warn("llm provider type not wired in this build, skipping", "provider", name, "type", cfg.Type)
			continue
		}
		apiKey := ""
		if cfg.APIKeyEnv != "" {
			apiKey = os.Getenv(cfg.APIKeyEnv)
		}
		if apiKey == "" {
			log.Warn("llm provider has no API key set, skipping", "provider", name, "api_key_env", cfg.APIKeyEnv)
			continue
		}
		clients[name] = NewAnthropicClient(apiKey, cfg.Model, 0)
	}
	if defaultProvider != "" {
		if _, ok := clients[defaultProvider]; !ok {
			return nil, fmt.Errorf("llmclient: default provider %q has no usable client (missing or unwired)", defaultProvider)
		}
	}
	return &Router{clients: clients, defaultProvider: defaultProvider}, nil
}

// Generate routes to the client named by opts.Provider, or the router's
// default when unset.
func (r *Router) Generate(ctx context.Context, messages []Message, opts GenerateOptions) (*Response, error) {
	name := opts.Provider
	if name == "" {
		name = r.defaultProvider
	}
	client, ok := r.clients[name]
	if !ok {
		return nil, fmt.Errorf("llmclient: no client wired for provider %q", name)
	}
	return client.Generate(ctx, messages, opts)
}

var _ Client = (*Router)(nil)
