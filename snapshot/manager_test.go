package snapshot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-relay/core"
)

type memorySnapshotStore struct {
	mu      sync.Mutex
	tables  core.SnapshotTables
	listErr error
}

func (s *memorySnapshotStore) ListAdministrators(context.Context) ([]core.Administrator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Administrator(nil), s.tables.Administrators...), s.listErr
}

func (s *memorySnapshotStore) ListServers(context.Context) ([]core.Server, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Server(nil), s.tables.Servers...), nil
}

func (s *memorySnapshotStore) ListBindings(context.Context) ([]core.Binding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Binding(nil), s.tables.Bindings...), nil
}

func (s *memorySnapshotStore) ImportSnapshot(_ context.Context, tables core.SnapshotTables, mode core.ImportMode) (core.ImportCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if mode == core.ImportModeReplace {
		s.tables = core.SnapshotTables{}
	}
	counts := core.ImportCounts{}
	admins := map[string]bool{}
	for _, row := range s.tables.Administrators {
		admins[row.UserID] = true
	}
	for _, row := range tables.Administrators {
		if !admins[row.UserID] {
			s.tables.Administrators = append(s.tables.Administrators, row)
			counts.Administrators++
		}
	}
	servers := map[string]bool{}
	for _, row := range s.tables.Servers {
		servers[row.ServerID] = true
	}
	for _, row := range tables.Servers {
		if !servers[row.ServerID] {
			s.tables.Servers = append(s.tables.Servers, row)
			counts.Servers++
		}
	}
	bindings := map[string]bool{}
	for _, row := range s.tables.Bindings {
		bindings[row.ChannelID] = true
	}
	for _, row := range tables.Bindings {
		if !bindings[row.ChannelID] {
			s.tables.Bindings = append(s.tables.Bindings, row)
			counts.Bindings++
		}
	}
	return counts, nil
}

type statsRegistry struct {
	core.RegistryStore
	stats core.RegistryStats
}

func (s statsRegistry) Stats(context.Context) (core.RegistryStats, error) {
	return s.stats, nil
}

type failingPublisher struct{}

func (failingPublisher) Name() string { return "github" }

func (failingPublisher) Publish(context.Context, Bundle) (string, error) {
	return "", errors.New("502 bad gateway")
}

type failingSource struct{ calls int }

func (s *failingSource) Name() string { return "github" }

func (s *failingSource) List(context.Context) ([]string, error) {
	s.calls++
	return nil, errors.New("dial tcp: connection refused")
}

func (s *failingSource) Fetch(context.Context, string) (Bundle, error) {
	return Bundle{}, errors.New("unreachable")
}

// hangingSource blocks until the request context is done.
type hangingSource struct{}

func (hangingSource) Name() string { return "github" }

func (hangingSource) List(ctx context.Context) ([]string, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (hangingSource) Fetch(ctx context.Context, _ string) (Bundle, error) {
	<-ctx.Done()
	return Bundle{}, ctx.Err()
}

func seededStore() *memorySnapshotStore {
	at := time.Date(2025, 1, 11, 3, 0, 0, 0, time.UTC)
	return &memorySnapshotStore{tables: core.SnapshotTables{
		Administrators: []core.Administrator{{UserID: "U1", Username: "alice", FirstSeen: at, LastSeen: at, InteractionCount: 2}},
		Servers:        []core.Server{{ServerID: "S1", Name: "Guild", CreatedAt: at, UpdatedAt: at}},
		Bindings: []core.Binding{
			{ID: "b-1", ChannelID: "C1", EndpointURL: "https://one.example/hook", ServerID: "S1", IsActive: true, CreatedAt: at, UpdatedAt: at},
			{ID: "b-2", ChannelID: "C2", EndpointURL: "https://two.example/hook", ServerID: "S1", CreatedAt: at, UpdatedAt: at},
		},
	}}
}

func newTestManager(t *testing.T, store core.SnapshotStore, mutate func(*Config)) *Manager {
	t.Helper()
	archive, err := NewLocalArchive(t.TempDir(), 3)
	if err != nil {
		t.Fatalf("new archive: %v", err)
	}
	clock := time.Date(2025, 1, 11, 3, 0, 0, 0, time.UTC)
	cfg := Config{
		Store:   store,
		Archive: archive,
		Clock: func() time.Time {
			clock = clock.Add(time.Hour)
			return clock
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	manager, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return manager
}

func TestManager_ExportWritesArchiveAndMetadata(t *testing.T) {
	manager := newTestManager(t, seededStore(), func(cfg *Config) {
		cfg.Publishers = []Publisher{failingPublisher{}}
	})

	result, err := manager.Export(context.Background())
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if result.Published {
		t.Fatalf("expected failed publisher to leave published=false")
	}
	if result.Metadata.BindingCount != 2 || result.Metadata.ServerCount != 1 || result.Metadata.AdminCount != 1 {
		t.Fatalf("unexpected metadata %#v", result.Metadata)
	}
	if result.Metadata.FormatVersion != core.SnapshotFormatVersion || result.Location == "" {
		t.Fatalf("unexpected result %#v", result)
	}

	for i := 0; i < 4; i++ {
		if _, err := manager.Export(context.Background()); err != nil {
			t.Fatalf("export %d: %v", i, err)
		}
	}
	names, _ := manager.Archive().List(context.Background())
	if len(names) != 3 {
		t.Fatalf("expected retention to keep three snapshots, got %v", names)
	}
}

func TestManager_ExportWithoutArchiveFailsWhenNothingPublished(t *testing.T) {
	manager, err := NewManager(Config{Store: seededStore(), Publishers: []Publisher{failingPublisher{}}})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if _, err := manager.Export(context.Background()); !core.IsSnapshotTransportError(err) {
		t.Fatalf("expected snapshot transport error, got %v", err)
	}
}

func TestManager_ExportSurfacesStorageErrors(t *testing.T) {
	store := seededStore()
	store.listErr = errors.New("database is locked")
	manager := newTestManager(t, store, nil)
	if _, err := manager.Export(context.Background()); !core.IsStorageError(err) {
		t.Fatalf("expected storage error, got %v", err)
	}
}

func TestManager_ConcurrentOperationsAreBusy(t *testing.T) {
	manager := newTestManager(t, seededStore(), nil)
	manager.mu.Lock()
	defer manager.mu.Unlock()

	if _, err := manager.Export(context.Background()); !errors.Is(err, core.ErrSnapshotBusy) {
		t.Fatalf("expected busy export, got %v", err)
	}
	if _, err := manager.Restore(context.Background(), core.RestoreRequest{}); !errors.Is(err, core.ErrSnapshotBusy) {
		t.Fatalf("expected busy restore, got %v", err)
	}
}

func TestManager_RestoreMergeAndReplace(t *testing.T) {
	ctx := context.Background()
	source := seededStore()
	exporter := newTestManager(t, source, nil)
	exported, err := exporter.Export(ctx)
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	target := &memorySnapshotStore{tables: core.SnapshotTables{
		Bindings: []core.Binding{{ChannelID: "C1", EndpointURL: "https://local.example/hook", ServerID: "S1", IsActive: true}},
	}}
	restorer, err := NewManager(Config{Store: target, Archive: exporter.Archive()})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	report, err := restorer.Restore(ctx, core.RestoreRequest{})
	if err != nil {
		t.Fatalf("merge restore: %v", err)
	}
	if report.Source != "local:"+exported.Name || report.Mode != core.ImportModeMerge {
		t.Fatalf("unexpected report %#v", report)
	}
	if report.Inserted.Bindings != 1 || report.Inserted.Servers != 1 || report.Inserted.Administrators != 1 {
		t.Fatalf("unexpected merge counts %#v", report.Inserted)
	}
	if target.tables.Bindings[0].EndpointURL != "https://local.example/hook" {
		t.Fatalf("expected merge to keep the local binding")
	}

	report, err = restorer.Restore(ctx, core.RestoreRequest{Name: exported.Name, Mode: core.ImportModeReplace})
	if err != nil {
		t.Fatalf("replace restore: %v", err)
	}
	if report.Inserted.Bindings != 2 {
		t.Fatalf("unexpected replace counts %#v", report.Inserted)
	}
	if target.tables.Bindings[0].EndpointURL != "https://one.example/hook" {
		t.Fatalf("expected replace to load snapshot rows, got %#v", target.tables.Bindings)
	}

	if _, err := restorer.Restore(ctx, core.RestoreRequest{Mode: "overwrite"}); err == nil {
		t.Fatalf("expected invalid mode error")
	}
	if _, err := restorer.Restore(ctx, core.RestoreRequest{Source: "ftp"}); err == nil {
		t.Fatalf("expected unknown source error")
	}
}

func TestManager_RestoreFallsBackAcrossSources(t *testing.T) {
	ctx := context.Background()
	exporter := newTestManager(t, seededStore(), nil)
	if _, err := exporter.Export(ctx); err != nil {
		t.Fatalf("export: %v", err)
	}

	remote := &failingSource{}
	target := &memorySnapshotStore{}
	manager, err := NewManager(Config{
		Store:   target,
		Archive: exporter.Archive(),
		Sources: []Source{remote, exporter.Archive()},
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	report, err := manager.Restore(ctx, core.RestoreRequest{})
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if remote.calls != 1 || len(target.tables.Bindings) != 2 || report.Inserted.Total() != 4 {
		t.Fatalf("expected fallback to local archive, report=%#v", report)
	}

	if _, err := manager.Restore(ctx, core.RestoreRequest{Source: "github"}); !core.IsSnapshotTransportError(err) {
		t.Fatalf("expected transport error from explicit remote, got %v", err)
	}
}

func TestManager_ColdStart(t *testing.T) {
	ctx := context.Background()
	exporter := newTestManager(t, seededStore(), nil)

	target := &memorySnapshotStore{}
	manager, _ := NewManager(Config{Store: target, Archive: exporter.Archive()})

	report, restored, err := manager.ColdStart(ctx, statsRegistry{})
	if err != nil || restored {
		t.Fatalf("expected empty archive to skip restore, restored=%v err=%v", restored, err)
	}

	if _, err := exporter.Export(ctx); err != nil {
		t.Fatalf("export: %v", err)
	}
	if _, restored, _ := manager.ColdStart(ctx, statsRegistry{stats: core.RegistryStats{ServerCount: 1}}); restored {
		t.Fatalf("expected populated registry to skip restore")
	}

	report, restored, err = manager.ColdStart(ctx, statsRegistry{})
	if err != nil || !restored {
		t.Fatalf("expected cold start restore, restored=%v err=%v", restored, err)
	}
	if report.Mode != core.ImportModeMerge || report.Inserted.Bindings != 2 {
		t.Fatalf("unexpected cold start report %#v", report)
	}
}

func TestManager_ColdStartGivesUpOnHangingRemote(t *testing.T) {
	target := &memorySnapshotStore{}
	manager := newTestManager(t, target, func(cfg *Config) {
		cfg.Sources = []Source{hangingSource{}}
		cfg.FetchTimeout = 50 * time.Millisecond
	})

	done := make(chan struct{})
	var (
		restored bool
		err      error
	)
	go func() {
		defer close(done)
		_, restored, err = manager.ColdStart(context.Background(), statsRegistry{})
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("cold start did not return while the remote hung")
	}
	if err != nil || restored {
		t.Fatalf("expected cold start to skip the hanging remote, restored=%v err=%v", restored, err)
	}
	if len(target.tables.Bindings) != 0 {
		t.Fatalf("expected registry to stay empty")
	}
}

func TestManager_RestoreFromHangingRemoteIsTransportError(t *testing.T) {
	manager := newTestManager(t, &memorySnapshotStore{}, func(cfg *Config) {
		cfg.Sources = []Source{hangingSource{}}
		cfg.FetchTimeout = 20 * time.Millisecond
	})
	_, err := manager.Restore(context.Background(), core.RestoreRequest{Mode: core.ImportModeMerge})
	if !core.IsSnapshotTransportError(err) {
		t.Fatalf("expected transport error after the fetch deadline, got %v", err)
	}
}
