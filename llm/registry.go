package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
)

var (
	ErrUnknownProvider = errors.New("unknown model provider")
	ErrUnknownModel    = errors.New("model not allowed for provider")
)

// NewProvider builds a provider client for a provider kind.
func NewProvider(ctx context.Context, kind, apiKey string) (Provider, error) {
	switch kind {
	case "anthropic":
		return NewAnthropicProvider(apiKey), nil
	case "openai":
		return NewOpenAIProvider(apiKey), nil
	case "gemini":
		return NewGeminiProvider(ctx, apiKey)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, kind)
}

// ModelInfo describes one model a Registry can resolve.
type ModelInfo struct {
	Provider string
	Key      string
	APIName  string
}

type registryEntry struct {
	provider Provider
	models   map[string]string
}

// Registry resolves (provider name, model key) pairs to a client and the API
// model name to send.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registryEntry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]registryEntry)}
}

// Register adds a provider under name. models maps model keys to API names;
// an empty map accepts any model name as-is.
func (r *Registry) Register(name string, p Provider, models map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = registryEntry{provider: p, models: models}
}

// Resolve returns the provider registered under name and the API name of
// model, which may be given as a key or as an API name.
func (r *Registry) Resolve(name, model string) (Provider, string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	if len(e.models) == 0 {
		return e.provider, model, nil
	}
	if api, ok := e.models[model]; ok {
		return e.provider, api, nil
	}
	for _, api := range e.models {
		if api == model {
			return e.provider, api, nil
		}
	}
	return nil, "", fmt.Errorf("%w: %s.%s", ErrUnknownModel, name, model)
}

// Models lists every resolvable model, sorted by provider then key.
func (r *Registry) Models() []ModelInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []ModelInfo
	for name, e := range r.entries {
		for key, api := range e.models {
			out = append(out, ModelInfo{Provider: name, Key: key, APIName: api})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Provider != out[j].Provider {
			return out[i].Provider < out[j].Provider
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// Close releases providers that hold connections.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for _, e := range r.entries {
		if c, ok := e.provider.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}
