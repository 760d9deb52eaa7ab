// Package secrets provides a thread-safe secret vault with hot reload support.
// Backend API keys live here so adapters pick up rotated keys without a restart.
package secrets

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Well-known backend credential keys.
const (
	OpenAIKey     = "OPENAI_API_KEY"
	AnthropicKey  = "ANTHROPIC_API_KEY"
	GoogleKey     = "GOOGLE_API_KEY"
	OpenRouterKey = "OPENROUTER_API_KEY"
	LiteLLMKey    = "LITELLM_MASTER_KEY"
)

// ProviderKeys lists every credential the gateway reads.
var ProviderKeys = []string{OpenAIKey, AnthropicKey, GoogleKey, OpenRouterKey, LiteLLMKey}

// Loader retrieves secrets from a source (env vars, file, remote vault, etc.).
type Loader func() (map[string]string, error)

// Vault holds secret values in memory and supports atomic reloading.
type Vault struct {
	mu       sync.RWMutex
	values   map[string]string
	loader   Loader
	onReload []func()
}

// NewVault creates a Vault, calling the loader once to populate initial values.
func NewVault(loader Loader) (*Vault, error) {
	vals, err := loader()
	if err != nil {
		return nil, fmt.Errorf("initial secret load: %w", err)
	}
	return &Vault{
		values: vals,
		loader: loader,
	}, nil
}

// Get returns the secret for key, or an empty string if not found.
func (v *Vault) Get(key string) string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.values[key]
}

// Getter returns a closure reading key on every call.
func (v *Vault) Getter(key string) func() string {
	return func() string { return v.Get(key) }
}

// Keys returns the names of all loaded secrets, sorted.
func (v *Vault) Keys() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	keys := make([]string, 0, len(v.values))
	for k := range v.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Redacted returns a masked form of the secret suitable for logs: the first
// two characters followed by ****, or **** for secrets of four characters
// or fewer. Missing keys yield "".
func (v *Vault) Redacted(key string) string {
	return redact(v.Get(key))
}

// RedactString replaces every secret value occurring in s with its masked form.
// Secrets shorter than four characters are left alone.
func (v *Vault) RedactString(s string) string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	for _, val := range v.values {
		if len(val) < 4 {
			continue
		}
		s = strings.ReplaceAll(s, val, redact(val))
	}
	return s
}

func redact(val string) string {
	switch {
	case val == "":
		return ""
	case len(val) <= 4:
		return "****"
	default:
		return val[:2] + "****"
	}
}

// OnReload registers fn to run after every successful reload.
func (v *Vault) OnReload(fn func()) {
	v.mu.Lock()
	v.onReload = append(v.onReload, fn)
	v.mu.Unlock()
}

// Reload calls the loader and swaps in the new values atomically.
// If the loader returns an error, existing values are preserved.
func (v *Vault) Reload() error {
	newVals, err := v.loader()
	if err != nil {
		return fmt.Errorf("reload secrets: %w", err)
	}
	v.mu.Lock()
	v.values = newVals
	hooks := append([]func(){}, v.onReload...)
	v.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
	return nil
}
