package generator

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Constructor builds a backend from its settings. It must fail with
// ErrMisconfiguredBackend, without touching the network, when a credential is missing.
type Constructor func(LLMSettings) (Backend, error)

// Registry maps backend names to constructors.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
	aliases      map[string]string
}

// NewRegistry returns a registry with every built-in backend registered.
func NewRegistry() *Registry {
	r := &Registry{
		constructors: make(map[string]Constructor),
		aliases:      make(map[string]string),
	}
	r.Register("openai", func(s LLMSettings) (Backend, error) { return NewOpenAILLMFromConfig(s) })
	r.Register("deepseek", func(s LLMSettings) (Backend, error) { return NewDeepSeekLLMFromConfig(s) })
	r.Register("gemini", func(s LLMSettings) (Backend, error) { return NewGeminiLLMFromConfig(s) }, "google")
	r.Register("qwen", func(s LLMSettings) (Backend, error) { return NewQwenLLMFromConfig(s) }, "qwen-vl")
	r.Register("claude", func(s LLMSettings) (Backend, error) { return NewClaudeLLMFromConfig(s) }, "anthropic")
	r.Register("ollama", func(s LLMSettings) (Backend, error) { return NewOllamaLLMFromConfig(s) })
	r.Register("mock", func(s LLMSettings) (Backend, error) { return NewMockLLMFromConfig(s) })
	return r
}

// Register adds or replaces a constructor under name and optional aliases.
func (r *Registry) Register(name string, c Constructor, aliases ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := strings.ToLower(strings.TrimSpace(name))
	r.constructors[key] = c
	for _, a := range aliases {
		r.aliases[strings.ToLower(strings.TrimSpace(a))] = key
	}
}

// Canonical resolves a possibly aliased, mixed-case name to its registered key.
func (r *Registry) Canonical(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	key := strings.ToLower(strings.TrimSpace(name))
	if target, ok := r.aliases[key]; ok {
		key = target
	}
	_, ok := r.constructors[key]
	return key, ok
}

// Select builds the backend registered under name (case-insensitive).
func (r *Registry) Select(name string, settings LLMSettings) (Backend, error) {
	key, ok := r.Canonical(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %s)", ErrUnsupportedBackend, name, strings.Join(r.Names(), ", "))
	}
	r.mu.RLock()
	construct := r.constructors[key]
	r.mu.RUnlock()

	settings.Provider = key
	return construct(settings)
}

// Names lists the registered backends, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.constructors))
	for name := range r.constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
