package llm

import (
	"fmt"
	"os"
	"time"

	"github.com/normanking/notionqa/internal/config"
)

var constructors = map[string]func(*ProviderConfig) Provider{
	"openai": func(c *ProviderConfig) Provider { return NewOpenAIProvider(c) },
	"ollama": func(c *ProviderConfig) Provider { return NewOllamaProvider(c) },
}

// keyEnv names the environment variable consulted when a provider has no
// api_key in the config file.
var keyEnv = map[string]string{
	"openai": "OPENAI_API_KEY",
}

// NewProvider builds cfg.LLM.DefaultProvider, "openai" when unset.
func NewProvider(cfg *config.Config) (Provider, error) {
	name := cfg.LLM.DefaultProvider
	if name == "" {
		name = "openai"
	}
	pc, ok := cfg.LLM.Providers[name]
	if !ok {
		return nil, fmt.Errorf("llm provider %q is not configured", name)
	}

	key := pc.APIKey
	if key == "" && keyEnv[name] != "" {
		key = os.Getenv(keyEnv[name])
	}

	return NewProviderByName(name, &ProviderConfig{
		Endpoint:    pc.Endpoint,
		APIKey:      key,
		Model:       pc.Model,
		Temperature: pc.Temperature,
		MaxTokens:   pc.MaxTokens,
		Timeout:     time.Duration(pc.TimeoutSec) * time.Second,
	})
}

func NewProviderByName(name string, cfg *ProviderConfig) (Provider, error) {
	build, ok := constructors[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
	return build(cfg), nil
}
