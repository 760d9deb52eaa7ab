package notifier

import (
	"fmt"
	"maps"
	"slices"
	"sync"
)

// Settings configures an alert channel.
type Settings struct {
	WebhookURL string
}

// Factory builds a Notifier from settings.
type Factory func(Settings) (Notifier, error)

var registry = struct {
	sync.RWMutex
	byName map[string]Factory
}{byName: make(map[string]Factory)}

// Register adds an alert channel under name. Adapters call it from init;
// registering a name twice panics.
func Register(name string, f Factory) {
	registry.Lock()
	defer registry.Unlock()
	if _, dup := registry.byName[name]; dup {
		panic(fmt.Sprintf("notifier: %q registered twice", name))
	}
	registry.byName[name] = f
}

// New builds the channel registered as name.
func New(name string, s Settings) (Notifier, error) {
	registry.RLock()
	f, ok := registry.byName[name]
	registry.RUnlock()
	if !ok {
		return nil, fmt.Errorf("notifier: no channel named %q (have %v)", name, Available())
	}
	return f(s)
}

// Available lists registered channel names in order.
func Available() []string {
	registry.RLock()
	defer registry.RUnlock()
	return slices.Sorted(maps.Keys(registry.byName))
}
