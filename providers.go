package mailflow

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-mailflow/core"
	"github.com/goliatone/go-mailflow/workflow"
)

// Providers are the remote clients used by one mailbox.
type Providers struct {
	Mailbox   workflow.Mailbox
	Ticketing workflow.Ticketing
}

type ProviderFactory func(ctx context.Context, mailbox core.MailboxConfig) (Providers, error)

// StaticProviders serves fixed clients keyed by mailbox name.
func StaticProviders(byMailbox map[string]Providers) ProviderFactory {
	copied := make(map[string]Providers, len(byMailbox))
	for name, providers := range byMailbox {
		copied[strings.TrimSpace(name)] = providers
	}
	return func(_ context.Context, mailbox core.MailboxConfig) (Providers, error) {
		providers, ok := copied[mailbox.Name]
		if !ok {
			return Providers{}, fmt.Errorf("mailflow: no providers for mailbox %q", mailbox.Name)
		}
		return providers, nil
	}
}

// ProviderRegistry holds named provider factories, e.g. "devkit".
type ProviderRegistry struct {
	mu        sync.RWMutex
	factories map[string]ProviderFactory
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{factories: map[string]ProviderFactory{}}
}

func (r *ProviderRegistry) Register(name string, factory ProviderFactory) error {
	if r == nil {
		return fmt.Errorf("mailflow: provider registry is nil")
	}
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return fmt.Errorf("mailflow: provider name is required")
	}
	if factory == nil {
		return fmt.Errorf("mailflow: provider %q factory is required", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("mailflow: provider %q already registered", name)
	}
	r.factories[name] = factory
	return nil
}

func (r *ProviderRegistry) Factory(name string) (ProviderFactory, error) {
	if r == nil {
		return nil, fmt.Errorf("mailflow: provider registry is nil")
	}
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("mailflow: unknown provider %q (registered: %s)", name, strings.Join(r.Names(), ", "))
	}
	return factory, nil
}

func (r *ProviderRegistry) Names() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
