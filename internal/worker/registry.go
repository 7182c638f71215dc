package worker

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var ErrUnknownRuntime = errors.New("unknown runtime provider")

// Factory builds a Runtime from provider-specific settings.
type Factory func(config map[string]string) (Runtime, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// RegisterRuntime makes a runtime factory available by provider name.
// It is typically called from an init() function in the provider package.
func RegisterRuntime(provider string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()

	if _, exists := factories[provider]; exists {
		panic(fmt.Sprintf("worker: duplicate runtime registration for %q", provider))
	}
	factories[provider] = factory
}

func NewRuntime(provider string, config map[string]string) (Runtime, error) {
	mu.RLock()
	factory, ok := factories[provider]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownRuntime, provider)
	}
	return factory(config)
}

// Providers returns the registered provider names, sorted.
func Providers() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
