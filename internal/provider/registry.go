package provider

import (
	"fmt"
	"strings"
	"sync"

	"github.com/kursadbilgin/workflow-engine/internal/domain"
)

// Registry maps a (channel, provider id) pair to an adapter factory. Lookup
// failure is a configuration error, never retried.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry returns a registry with every built-in adapter registered.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.MustRegister(domain.ChannelEmail, SendgridProviderID, NewSendgridAdapter)
	r.MustRegister(domain.ChannelSMS, TwilioProviderID, NewTwilioAdapter)
	r.MustRegister(domain.ChannelChat, MattermostProviderID, NewMattermostAdapter)
	r.MustRegister(domain.ChannelPush, FCMProviderID, NewFCMAdapter)
	r.MustRegister(domain.ChannelInApp, InAppProviderID, NewInAppAdapter)
	return r
}

func (r *Registry) Register(channel domain.Channel, providerID string, factory Factory) error {
	if !channel.IsValid() {
		return fmt.Errorf("%w: invalid channel %q", domain.ErrValidation, channel)
	}
	if strings.TrimSpace(providerID) == "" {
		return fmt.Errorf("%w: provider id is required", domain.ErrValidation)
	}
	if factory == nil {
		return fmt.Errorf("%w: factory is required", domain.ErrValidation)
	}

	key := registryKey(channel, providerID)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[key]; exists {
		return fmt.Errorf("%w: duplicate registration for %s", domain.ErrConflict, key)
	}
	r.factories[key] = factory
	return nil
}

func (r *Registry) MustRegister(channel domain.Channel, providerID string, factory Factory) {
	if err := r.Register(channel, providerID, factory); err != nil {
		panic(err)
	}
}

// Resolve returns the factory registered for the pair, or ErrHandlerNotFound.
func (r *Registry) Resolve(channel domain.Channel, providerID string) (Factory, error) {
	key := registryKey(channel, providerID)

	r.mu.RLock()
	factory, ok := r.factories[key]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: no handler registered for %s", domain.ErrHandlerNotFound, key)
	}
	return factory, nil
}

func registryKey(channel domain.Channel, providerID string) string {
	return strings.ToLower(channel.String()) + "/" + strings.ToLower(strings.TrimSpace(providerID))
}
