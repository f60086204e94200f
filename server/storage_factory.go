package server

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/a2akit/ark/server/config"
	"go.uber.org/zap"
)

// StorageBundle groups the storage backends created by one provider so task
// snapshots, message logs, and push configs share a single backing store
type StorageBundle struct {
	Tasks       TaskStorage
	Messages    MessageStorage
	PushConfigs PushNotificationConfigStorage
}

// StorageFactory defines the interface for creating storage instances
type StorageFactory interface {
	// CreateStorage creates the storage bundle for the given configuration
	CreateStorage(ctx context.Context, config config.StorageConfig, logger *zap.Logger) (*StorageBundle, error)

	// SupportedProvider returns the provider name this factory supports
	SupportedProvider() string

	// ValidateConfig validates the configuration for this provider
	ValidateConfig(config config.StorageConfig) error
}

// StorageFactoryRegistry manages registered storage providers
type StorageFactoryRegistry struct {
	mu        sync.RWMutex
	factories map[string]StorageFactory
}

// globalRegistry is the global storage factory registry
var globalRegistry = &StorageFactoryRegistry{
	factories: make(map[string]StorageFactory),
}

// RegisterStorageProvider registers a storage provider factory
func RegisterStorageProvider(provider string, factory StorageFactory) {
	globalRegistry.Register(provider, factory)
}

// GetStorageProvider retrieves a storage provider factory
func GetStorageProvider(provider string) (StorageFactory, error) {
	return globalRegistry.GetFactory(provider)
}

// GetSupportedProviders returns a list of all registered providers
func GetSupportedProviders() []string {
	return globalRegistry.GetProviders()
}

// CreateStorage creates a storage bundle using the registered factories
func CreateStorage(ctx context.Context, config config.StorageConfig, logger *zap.Logger) (*StorageBundle, error) {
	return globalRegistry.CreateStorage(ctx, config, logger)
}

// Register registers a factory for a provider
func (r *StorageFactoryRegistry) Register(provider string, factory StorageFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if factory.SupportedProvider() != provider {
		panic(fmt.Sprintf("factory provider mismatch: expected %s, got %s", provider, factory.SupportedProvider()))
	}

	r.factories[provider] = factory
}

// GetFactory retrieves a factory for a provider
func (r *StorageFactoryRegistry) GetFactory(provider string) (StorageFactory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, exists := r.factories[provider]
	if !exists {
		return nil, fmt.Errorf("unsupported storage provider: %s (supported: %v)", provider, r.getProviderNames())
	}

	return factory, nil
}

// GetProviders returns a list of all registered provider names
func (r *StorageFactoryRegistry) GetProviders() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.getProviderNames()
}

// getProviderNames returns provider names (must be called with read lock held)
func (r *StorageFactoryRegistry) getProviderNames() []string {
	providers := make([]string, 0, len(r.factories))
	for provider := range r.factories {
		providers = append(providers, provider)
	}
	return providers
}

// CreateStorage creates a storage bundle using the appropriate factory
func (r *StorageFactoryRegistry) CreateStorage(ctx context.Context, config config.StorageConfig, logger *zap.Logger) (*StorageBundle, error) {
	factory, err := r.GetFactory(config.Provider)
	if err != nil {
		return nil, err
	}

	if err := factory.ValidateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration for provider %s: %w", config.Provider, err)
	}

	return factory.CreateStorage(ctx, config, logger)
}

// InMemoryStorageFactory implements StorageFactory for in-memory storage
type InMemoryStorageFactory struct{}

// SupportedProvider returns the provider name
func (f *InMemoryStorageFactory) SupportedProvider() string {
	return "memory"
}

// ValidateConfig validates the configuration for in-memory storage
func (f *InMemoryStorageFactory) ValidateConfig(config config.StorageConfig) error {
	// In-memory storage doesn't require URL or credentials
	return nil
}

// CreateStorage creates an in-memory storage bundle
func (f *InMemoryStorageFactory) CreateStorage(ctx context.Context, config config.StorageConfig, logger *zap.Logger) (*StorageBundle, error) {
	maxPushConfigsPerTask := 0

	if maxStr, exists := config.Options["max_push_configs_per_task"]; exists {
		if max, err := strconv.Atoi(maxStr); err == nil && max > 0 {
			maxPushConfigsPerTask = max
		}
	}

	return &StorageBundle{
		Tasks:       NewInMemoryTaskStorage(logger),
		Messages:    NewInMemoryMessageStorage(logger),
		PushConfigs: NewInMemoryPushNotificationConfigStorage(logger, maxPushConfigsPerTask),
	}, nil
}

// init registers the default in-memory storage provider
func init() {
	RegisterStorageProvider("memory", &InMemoryStorageFactory{})
}
