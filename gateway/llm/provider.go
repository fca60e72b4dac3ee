// Copyright 2026 TutorGate
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package llm

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Provider is the narrow port every LLM adapter implements.
// Implementations must be safe for concurrent use, honor context
// cancellation, and return only PortError values on failure.
type Provider interface {
	// Name returns the unique identifier for this provider instance.
	Name() string

	// Type returns the provider type ("mock", "anthropic", "bedrock").
	Type() ProviderType

	// Generate produces a completion for the ordered message list.
	// The context carries the deadline; on expiry the call returns a
	// PortError with KindTimeout or KindCancelled.
	Generate(ctx context.Context, messages []Message, opts Options) (*Response, error)

	// GenerateStream produces a streaming completion, invoking handler
	// for each chunk, and returns the aggregated final response.
	GenerateStream(ctx context.Context, messages []Message, opts Options, handler StreamHandler) (*Response, error)
}

// Factory creates a provider from its configuration.
type Factory func(cfg ProviderConfig) (Provider, error)

// ProviderConfig carries the environment-derived settings for one adapter.
type ProviderConfig struct {
	Name    string
	Type    ProviderType
	APIKey  string
	Model   string
	Region  string
	BaseURL string
}

// Registry maps provider types to factories and holds the instances built
// from them. Selection by enum value replaces subclass hierarchies.
type Registry struct {
	mu        sync.RWMutex
	factories map[ProviderType]Factory
	providers map[string]Provider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[ProviderType]Factory),
		providers: make(map[string]Provider),
	}
}

// RegisterFactory registers the factory for a provider type.
// Registering the same type twice replaces the previous factory.
func (r *Registry) RegisterFactory(t ProviderType, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[t] = f
}

// Create builds a provider from config and stores it under cfg.Name.
func (r *Registry) Create(cfg ProviderConfig) (Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.factories[cfg.Type]
	if !ok {
		return nil, fmt.Errorf("no factory registered for provider type %q", cfg.Type)
	}
	p, err := f(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating provider %q: %w", cfg.Name, err)
	}
	r.providers[cfg.Name] = p
	return p, nil
}

// Get returns a provider by instance name.
func (r *Registry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// Names returns the registered provider instance names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
