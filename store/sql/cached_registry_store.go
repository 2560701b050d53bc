package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"

	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/goliatone/go-relay/core"
)

const lookupActiveCacheKeyPrefix = "go-relay::lookup_active::v1"

// cachedLookup is the cached value for one channel. Found=false entries
// remember that the channel has no active binding.
type cachedLookup struct {
	Binding core.Binding
	Found   bool
}

// CachedRegistryStore serves lookup_active from a go-repository-cache service
// and invalidates the channel entry on every mutation of that channel.
//
// Entries are stored under a per-channel generation. Invalidation bumps the
// generation, so a fetch that started before a write can only populate a key
// no later lookup reads.
type CachedRegistryStore struct {
	base  core.RegistryStore
	cache repositorycache.CacheService

	mu          sync.Mutex
	generations map[string]uint64
	keys        map[string]struct{}
}

func NewCachedRegistryStore(base core.RegistryStore, cacheService repositorycache.CacheService) (*CachedRegistryStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base registry store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: lookup cache service is required")
	}
	return &CachedRegistryStore{
		base:        base,
		cache:       cacheService,
		generations: map[string]uint64{},
		keys:        map[string]struct{}{},
	}, nil
}

// LookupActiveCacheKey returns go-relay::lookup_active::v1::<channel_id> with
// the channel id URL-path escaped.
func LookupActiveCacheKey(channelID string) (string, error) {
	trimmed := strings.TrimSpace(channelID)
	if trimmed == "" {
		return "", fmt.Errorf("sqlstore: channel id is required")
	}
	return lookupActiveCacheKeyPrefix + "::" + url.PathEscape(trimmed), nil
}

func (s *CachedRegistryStore) LookupActive(ctx context.Context, channelID string) (core.Binding, bool, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.Binding{}, false, fmt.Errorf("sqlstore: cached registry store is not configured")
	}
	channelKey, err := LookupActiveCacheKey(channelID)
	if err != nil {
		return core.Binding{}, false, err
	}
	generation, key := s.entryKey(channelKey)

	value, err := repositorycache.GetOrFetch(ctx, s.cache, key, func(ctx context.Context) (cachedLookup, error) {
		binding, found, fetchErr := s.base.LookupActive(ctx, channelID)
		if fetchErr != nil {
			return cachedLookup{}, fetchErr
		}
		return cachedLookup{Binding: core.CloneBinding(binding), Found: found}, nil
	})
	if err != nil {
		return core.Binding{}, false, err
	}
	if s.currentGeneration(channelKey) != generation {
		// invalidated while fetching: the value may predate the write
		_ = s.cache.Delete(ctx, key)
		return s.base.LookupActive(ctx, channelID)
	}
	if !value.Found {
		return core.Binding{}, false, nil
	}
	return core.CloneBinding(value.Binding), true, nil
}

func (s *CachedRegistryStore) LookupAny(ctx context.Context, channelID string) (core.Binding, bool, error) {
	if s == nil || s.base == nil {
		return core.Binding{}, false, fmt.Errorf("sqlstore: cached registry store is not configured")
	}
	return s.base.LookupAny(ctx, channelID)
}

func (s *CachedRegistryStore) Bind(ctx context.Context, in core.BindInput) (core.BindResult, error) {
	if s == nil || s.base == nil {
		return core.BindResult{}, fmt.Errorf("sqlstore: cached registry store is not configured")
	}
	result, err := s.base.Bind(ctx, in)
	if err != nil {
		return core.BindResult{}, err
	}
	return result, s.invalidate(ctx, in.ChannelID)
}

func (s *CachedRegistryStore) Unbind(ctx context.Context, channelID string) (core.Binding, error) {
	if s == nil || s.base == nil {
		return core.Binding{}, fmt.Errorf("sqlstore: cached registry store is not configured")
	}
	removed, err := s.base.Unbind(ctx, channelID)
	if err != nil {
		return core.Binding{}, err
	}
	return removed, s.invalidate(ctx, channelID)
}

func (s *CachedRegistryStore) ListForServer(ctx context.Context, serverID string) ([]core.Binding, error) {
	if s == nil || s.base == nil {
		return nil, fmt.Errorf("sqlstore: cached registry store is not configured")
	}
	return s.base.ListForServer(ctx, serverID)
}

func (s *CachedRegistryStore) RecordSuccess(ctx context.Context, channelID string) error {
	if s == nil || s.base == nil {
		return fmt.Errorf("sqlstore: cached registry store is not configured")
	}
	if err := s.base.RecordSuccess(ctx, channelID); err != nil {
		return err
	}
	return s.invalidate(ctx, channelID)
}

func (s *CachedRegistryStore) RecordFailure(
	ctx context.Context,
	channelID string,
	reason string,
	countsTowardLimit bool,
) (core.FailureResult, error) {
	if s == nil || s.base == nil {
		return core.FailureResult{}, fmt.Errorf("sqlstore: cached registry store is not configured")
	}
	result, err := s.base.RecordFailure(ctx, channelID, reason, countsTowardLimit)
	if err != nil {
		return core.FailureResult{}, err
	}
	return result, s.invalidate(ctx, channelID)
}

func (s *CachedRegistryStore) ToggleAutomatedOrigin(ctx context.Context, channelID string) (core.ToggleResult, bool, error) {
	if s == nil || s.base == nil {
		return core.ToggleResult{}, false, fmt.Errorf("sqlstore: cached registry store is not configured")
	}
	result, found, err := s.base.ToggleAutomatedOrigin(ctx, channelID)
	if err != nil {
		return core.ToggleResult{}, false, err
	}
	if !found {
		return result, false, nil
	}
	return result, true, s.invalidate(ctx, channelID)
}

func (s *CachedRegistryStore) TouchAdministrator(ctx context.Context, identity core.AdminIdentity) (core.Administrator, error) {
	if s == nil || s.base == nil {
		return core.Administrator{}, fmt.Errorf("sqlstore: cached registry store is not configured")
	}
	return s.base.TouchAdministrator(ctx, identity)
}

func (s *CachedRegistryStore) Stats(ctx context.Context) (core.RegistryStats, error) {
	if s == nil || s.base == nil {
		return core.RegistryStats{}, fmt.Errorf("sqlstore: cached registry store is not configured")
	}
	return s.base.Stats(ctx)
}

// Purge drops every lookup entry this store has populated.
func (s *CachedRegistryStore) Purge(ctx context.Context) error {
	if s == nil || s.cache == nil {
		return nil
	}
	s.mu.Lock()
	for channelKey := range s.generations {
		s.generations[channelKey]++
	}
	keys := make([]string, 0, len(s.keys))
	for key := range s.keys {
		keys = append(keys, key)
	}
	s.keys = map[string]struct{}{}
	s.mu.Unlock()

	for _, key := range keys {
		if err := s.cache.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// WrapSnapshotStore returns a snapshot store that purges this cache after
// every import.
func (s *CachedRegistryStore) WrapSnapshotStore(base core.SnapshotStore) core.SnapshotStore {
	if base == nil {
		return nil
	}
	return &purgingSnapshotStore{SnapshotStore: base, cache: s}
}

func (s *CachedRegistryStore) invalidate(ctx context.Context, channelID string) error {
	channelKey, err := LookupActiveCacheKey(channelID)
	if err != nil {
		return nil
	}
	s.mu.Lock()
	stale := generationKey(channelKey, s.generations[channelKey])
	s.generations[channelKey]++
	delete(s.keys, stale)
	s.mu.Unlock()
	return s.cache.Delete(ctx, stale)
}

// entryKey returns the current generation of a channel and the cache key
// for it, and tracks the key for Purge.
func (s *CachedRegistryStore) entryKey(channelKey string) (uint64, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	generation := s.generations[channelKey]
	s.generations[channelKey] = generation
	key := generationKey(channelKey, generation)
	s.keys[key] = struct{}{}
	return generation, key
}

func (s *CachedRegistryStore) currentGeneration(channelKey string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generations[channelKey]
}

func generationKey(channelKey string, generation uint64) string {
	return channelKey + "::g" + strconv.FormatUint(generation, 10)
}

type purgingSnapshotStore struct {
	core.SnapshotStore
	cache *CachedRegistryStore
}

func (p *purgingSnapshotStore) ImportSnapshot(
	ctx context.Context,
	tables core.SnapshotTables,
	mode core.ImportMode,
) (core.ImportCounts, error) {
	counts, err := p.SnapshotStore.ImportSnapshot(ctx, tables, mode)
	if purgeErr := p.cache.Purge(ctx); purgeErr != nil && err == nil {
		err = purgeErr
	}
	return counts, err
}
