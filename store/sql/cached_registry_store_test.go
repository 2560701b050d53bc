package sqlstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/goliatone/go-relay/core"
)

type stubRegistryStore struct {
	mu          sync.Mutex
	bindings    map[string]core.Binding
	lookupCalls int
	lookupErr   error
}

func newStubRegistryStore(bindings ...core.Binding) *stubRegistryStore {
	store := &stubRegistryStore{bindings: map[string]core.Binding{}}
	for _, binding := range bindings {
		store.bindings[binding.ChannelID] = binding
	}
	return store
}

func (s *stubRegistryStore) Bind(_ context.Context, in core.BindInput) (core.BindResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	binding := core.Binding{ChannelID: in.ChannelID, EndpointURL: in.EndpointURL, ServerID: in.ServerID, IsActive: true}
	s.bindings[in.ChannelID] = binding
	return core.BindResult{Binding: binding, Server: core.Server{ServerID: in.ServerID}}, nil
}

func (s *stubRegistryStore) Unbind(_ context.Context, channelID string) (core.Binding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	binding, ok := s.bindings[channelID]
	if !ok {
		return core.Binding{}, core.ErrBindingNotFound
	}
	delete(s.bindings, channelID)
	return binding, nil
}

func (s *stubRegistryStore) LookupActive(_ context.Context, channelID string) (core.Binding, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookupCalls++
	if s.lookupErr != nil {
		return core.Binding{}, false, s.lookupErr
	}
	binding, ok := s.bindings[channelID]
	if !ok || !binding.IsActive {
		return core.Binding{}, false, nil
	}
	return binding, true, nil
}

func (s *stubRegistryStore) LookupAny(_ context.Context, channelID string) (core.Binding, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	binding, ok := s.bindings[channelID]
	return binding, ok, nil
}

func (s *stubRegistryStore) ListForServer(context.Context, string) ([]core.Binding, error) {
	return nil, nil
}

func (s *stubRegistryStore) RecordSuccess(_ context.Context, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	binding := s.bindings[channelID]
	binding.FailureCount = 0
	s.bindings[channelID] = binding
	return nil
}

func (s *stubRegistryStore) RecordFailure(_ context.Context, channelID string, reason string, counts bool) (core.FailureResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	binding := s.bindings[channelID]
	if counts {
		binding.FailureCount++
	}
	tripped := binding.IsActive && binding.FailureCount >= core.MaxConsecutiveFailures
	if tripped {
		binding.IsActive = false
		binding.DisabledReason = &reason
	}
	s.bindings[channelID] = binding
	return core.FailureResult{FailureCount: binding.FailureCount, Tripped: tripped}, nil
}

func (s *stubRegistryStore) ToggleAutomatedOrigin(_ context.Context, channelID string) (core.ToggleResult, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	binding, ok := s.bindings[channelID]
	if !ok {
		return core.ToggleResult{}, false, nil
	}
	binding.AcceptAutomatedOrigin = !binding.AcceptAutomatedOrigin
	s.bindings[channelID] = binding
	return core.ToggleResult{ChannelID: channelID, AcceptAutomatedOrigin: binding.AcceptAutomatedOrigin}, true, nil
}

func (s *stubRegistryStore) TouchAdministrator(_ context.Context, identity core.AdminIdentity) (core.Administrator, error) {
	return core.Administrator{UserID: identity.UserID, Username: identity.Username, InteractionCount: 1}, nil
}

func (s *stubRegistryStore) Stats(context.Context) (core.RegistryStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return core.RegistryStats{BindingCount: len(s.bindings)}, nil
}

func (s *stubRegistryStore) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookupCalls
}

type stubSnapshotStore struct {
	imports int
}

func (s *stubSnapshotStore) ListAdministrators(context.Context) ([]core.Administrator, error) {
	return nil, nil
}

func (s *stubSnapshotStore) ListServers(context.Context) ([]core.Server, error) {
	return nil, nil
}

func (s *stubSnapshotStore) ListBindings(context.Context) ([]core.Binding, error) {
	return nil, nil
}

func (s *stubSnapshotStore) ImportSnapshot(context.Context, core.SnapshotTables, core.ImportMode) (core.ImportCounts, error) {
	s.imports++
	return core.ImportCounts{Bindings: 1}, nil
}

func TestCachedRegistryStore_LookupActive_MissFetchThenHit(t *testing.T) {
	base := newStubRegistryStore(core.Binding{ChannelID: "C1", EndpointURL: "https://ok.example/hook", IsActive: true})
	store, err := NewCachedRegistryStore(base, newTestLookupCacheService(t))
	if err != nil {
		t.Fatalf("new cached registry store: %v", err)
	}

	for i := 0; i < 3; i++ {
		binding, found, err := store.LookupActive(context.Background(), "C1")
		if err != nil || !found {
			t.Fatalf("lookup %d: found=%v err=%v", i, found, err)
		}
		if binding.EndpointURL != "https://ok.example/hook" {
			t.Fatalf("unexpected binding %#v", binding)
		}
	}
	if base.calls() != 1 {
		t.Fatalf("expected a single base lookup, got %d", base.calls())
	}
}

func TestCachedRegistryStore_CachesMissingChannels(t *testing.T) {
	base := newStubRegistryStore()
	store, _ := NewCachedRegistryStore(base, newTestLookupCacheService(t))

	for i := 0; i < 2; i++ {
		if _, found, err := store.LookupActive(context.Background(), "C404"); err != nil || found {
			t.Fatalf("lookup %d: found=%v err=%v", i, found, err)
		}
	}
	if base.calls() != 1 {
		t.Fatalf("expected negative lookup to be cached, got %d base calls", base.calls())
	}

	if _, err := store.Bind(context.Background(), core.BindInput{ChannelID: "C404", EndpointURL: "https://ok.example/hook", ServerID: "S1"}); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if _, found, _ := store.LookupActive(context.Background(), "C404"); !found {
		t.Fatalf("expected bind to invalidate the cached miss")
	}
}

func TestCachedRegistryStore_TrippedFailureInvalidates(t *testing.T) {
	ctx := context.Background()
	base := newStubRegistryStore(core.Binding{ChannelID: "C1", EndpointURL: "https://ok.example/hook", IsActive: true})
	store, _ := NewCachedRegistryStore(base, newTestLookupCacheService(t))

	if _, found, _ := store.LookupActive(ctx, "C1"); !found {
		t.Fatalf("expected active binding")
	}
	for i := 0; i < core.MaxConsecutiveFailures; i++ {
		if _, err := store.RecordFailure(ctx, "C1", "HTTP 404: Not Found", true); err != nil {
			t.Fatalf("record failure: %v", err)
		}
	}
	if _, found, _ := store.LookupActive(ctx, "C1"); found {
		t.Fatalf("expected disabled binding to disappear from cached lookups")
	}
}

func TestCachedRegistryStore_UnbindAndToggleInvalidate(t *testing.T) {
	ctx := context.Background()
	base := newStubRegistryStore(core.Binding{ChannelID: "C1", EndpointURL: "https://ok.example/hook", IsActive: true})
	store, _ := NewCachedRegistryStore(base, newTestLookupCacheService(t))

	_, _, _ = store.LookupActive(ctx, "C1")
	if _, _, err := store.ToggleAutomatedOrigin(ctx, "C1"); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	binding, _, _ := store.LookupActive(ctx, "C1")
	if !binding.AcceptAutomatedOrigin {
		t.Fatalf("expected toggled flag after invalidation")
	}

	if _, err := store.Unbind(ctx, "C1"); err != nil {
		t.Fatalf("unbind: %v", err)
	}
	if _, found, _ := store.LookupActive(ctx, "C1"); found {
		t.Fatalf("expected unbound channel to miss")
	}
	if _, err := store.Unbind(ctx, "C1"); !errors.Is(err, core.ErrBindingNotFound) {
		t.Fatalf("expected not found propagation, got %v", err)
	}
}

func TestCachedRegistryStore_ImportPurgesEntries(t *testing.T) {
	ctx := context.Background()
	base := newStubRegistryStore(core.Binding{ChannelID: "C1", EndpointURL: "https://old.example/hook", IsActive: true})
	store, _ := NewCachedRegistryStore(base, newTestLookupCacheService(t))
	snapshots := &stubSnapshotStore{}
	wrapped := store.WrapSnapshotStore(snapshots)

	_, _, _ = store.LookupActive(ctx, "C1")
	base.mu.Lock()
	base.bindings["C1"] = core.Binding{ChannelID: "C1", EndpointURL: "https://new.example/hook", IsActive: true}
	base.mu.Unlock()

	if _, err := wrapped.ImportSnapshot(ctx, core.SnapshotTables{}, core.ImportModeReplace); err != nil {
		t.Fatalf("import: %v", err)
	}
	if snapshots.imports != 1 {
		t.Fatalf("expected base import to run")
	}
	binding, _, _ := store.LookupActive(ctx, "C1")
	if binding.EndpointURL != "https://new.example/hook" {
		t.Fatalf("expected purge to drop stale entry, got %q", binding.EndpointURL)
	}
}

// blockingLookupStore parks the first LookupActive after it has read the
// row, until release is closed.
type blockingLookupStore struct {
	*stubRegistryStore
	once    sync.Once
	reached chan struct{}
	release chan struct{}
}

func newBlockingLookupStore(base *stubRegistryStore) *blockingLookupStore {
	return &blockingLookupStore{
		stubRegistryStore: base,
		reached:           make(chan struct{}),
		release:           make(chan struct{}),
	}
}

func (s *blockingLookupStore) LookupActive(ctx context.Context, channelID string) (core.Binding, bool, error) {
	binding, found, err := s.stubRegistryStore.LookupActive(ctx, channelID)
	s.once.Do(func() {
		close(s.reached)
		<-s.release
	})
	return binding, found, err
}

func TestCachedRegistryStore_WriteDuringInFlightLookupIsNotCached(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(ctx context.Context, store *CachedRegistryStore) error
		wantFound bool
		wantURL   string
	}{
		{
			name: "unbind",
			mutate: func(ctx context.Context, store *CachedRegistryStore) error {
				_, err := store.Unbind(ctx, "C1")
				return err
			},
		},
		{
			name: "rebind",
			mutate: func(ctx context.Context, store *CachedRegistryStore) error {
				_, err := store.Bind(ctx, core.BindInput{ChannelID: "C1", EndpointURL: "https://new.example/hook", ServerID: "S1"})
				return err
			},
			wantFound: true,
			wantURL:   "https://new.example/hook",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			base := newStubRegistryStore(core.Binding{ChannelID: "C1", EndpointURL: "https://old.example/hook", IsActive: true})
			blocking := newBlockingLookupStore(base)
			store, err := NewCachedRegistryStore(blocking, newTestLookupCacheService(t))
			if err != nil {
				t.Fatalf("new cached store: %v", err)
			}

			type lookupResult struct {
				binding core.Binding
				found   bool
				err     error
			}
			inFlight := make(chan lookupResult, 1)
			go func() {
				binding, found, err := store.LookupActive(ctx, "C1")
				inFlight <- lookupResult{binding: binding, found: found, err: err}
			}()

			<-blocking.reached
			if err := tt.mutate(ctx, store); err != nil {
				t.Fatalf("mutate: %v", err)
			}
			close(blocking.release)

			first := <-inFlight
			if first.err != nil {
				t.Fatalf("in-flight lookup: %v", first.err)
			}
			if first.found != tt.wantFound || first.binding.EndpointURL != tt.wantURL {
				t.Fatalf("in-flight lookup returned stale row found=%v endpoint=%q", first.found, first.binding.EndpointURL)
			}

			binding, found, err := store.LookupActive(ctx, "C1")
			if err != nil {
				t.Fatalf("lookup after write: %v", err)
			}
			if found != tt.wantFound || binding.EndpointURL != tt.wantURL {
				t.Fatalf("cache kept stale row found=%v endpoint=%q", found, binding.EndpointURL)
			}
		})
	}
}

func TestCachedRegistryStore_PropagatesBaseErrors(t *testing.T) {
	boom := errors.New("database is locked")
	base := newStubRegistryStore()
	base.lookupErr = boom
	store, _ := NewCachedRegistryStore(base, newTestLookupCacheService(t))

	if _, _, err := store.LookupActive(context.Background(), "C1"); !errors.Is(err, boom) {
		t.Fatalf("expected base error propagation, got %v", err)
	}
}

func TestLookupActiveCacheKey(t *testing.T) {
	key, err := LookupActiveCacheKey(" chan/1 2 ")
	if err != nil {
		t.Fatalf("build cache key: %v", err)
	}
	const expected = "go-relay::lookup_active::v1::chan%2F1%202"
	if key != expected {
		t.Fatalf("unexpected cache key contract: got %q want %q", key, expected)
	}
	if _, err := LookupActiveCacheKey("  "); err == nil {
		t.Fatalf("expected empty channel id error")
	}
}

func newTestLookupCacheService(t *testing.T) repositorycache.CacheService {
	t.Helper()
	config := repositorycache.DefaultConfig()
	config.TTL = time.Minute
	service, err := repositorycache.NewCacheService(config)
	if err != nil {
		t.Fatalf("new cache service: %v", err)
	}
	return service
}
