package sqlstore

import (
	"fmt"

	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/goliatone/go-relay/core"
	"github.com/uptrace/bun"
)

type FactoryOption func(*RepositoryFactory)

// WithHealthPolicy sets the policy the registry store applies when a counting
// failure may disable a binding.
func WithHealthPolicy(policy core.HealthPolicy) FactoryOption {
	return func(f *RepositoryFactory) {
		f.policy = policy
	}
}

// WithLookupCache fronts lookup_active with the given cache service.
func WithLookupCache(cacheService repositorycache.CacheService) FactoryOption {
	return func(f *RepositoryFactory) {
		f.cacheService = cacheService
	}
}

type RepositoryFactory struct {
	db           *bun.DB
	policy       core.HealthPolicy
	cacheService repositorycache.CacheService

	registryStore *RegistryStore
	snapshotStore *SnapshotStore
	cachedStore   *CachedRegistryStore
}

func NewRepositoryFactory(opts ...FactoryOption) *RepositoryFactory {
	factory := &RepositoryFactory{policy: core.DefaultHealthPolicy()}
	for _, opt := range opts {
		if opt != nil {
			opt(factory)
		}
	}
	return factory
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client, opts ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(opts...)
	if _, err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB, opts ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(opts...)
	if _, err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

func (f *RepositoryFactory) BuildStores(persistenceClient any) (core.StoreProvider, error) {
	if f == nil {
		return nil, fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return nil, err
		}
		f.db = db
	}
	if f.registryStore != nil && f.snapshotStore != nil {
		return f, nil
	}
	if err := f.initStores(); err != nil {
		return nil, err
	}
	return f, nil
}

// RegistryStore returns the cached store when a lookup cache is configured.
func (f *RepositoryFactory) RegistryStore() core.RegistryStore {
	if f == nil {
		return nil
	}
	if f.cachedStore != nil {
		return f.cachedStore
	}
	if f.registryStore == nil {
		return nil
	}
	return f.registryStore
}

func (f *RepositoryFactory) SnapshotStore() core.SnapshotStore {
	if f == nil || f.snapshotStore == nil {
		return nil
	}
	if f.cachedStore != nil {
		return f.cachedStore.WrapSnapshotStore(f.snapshotStore)
	}
	return f.snapshotStore
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) initStores() error {
	registryStore, err := NewRegistryStore(f.db, f.policy)
	if err != nil {
		return err
	}
	snapshotStore, err := NewSnapshotStore(f.db)
	if err != nil {
		return err
	}
	f.registryStore = registryStore
	f.snapshotStore = snapshotStore

	if f.cacheService != nil {
		cached, err := NewCachedRegistryStore(registryStore, f.cacheService)
		if err != nil {
			return err
		}
		f.cachedStore = cached
	}
	return nil
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
