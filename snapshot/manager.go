package snapshot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-relay/core"
	"golang.org/x/sync/errgroup"
)

const DefaultFetchTimeout = 2 * time.Minute

type Config struct {
	Store core.SnapshotStore
	// Archive is the primary destination of every export. Optional.
	Archive *LocalArchive
	// Publishers receive a copy after the archive write. Failures are logged.
	Publishers []Publisher
	// Sources are tried in order by Restore when the request names none.
	Sources []Source
	// FetchTimeout bounds listing and downloading a snapshot during Restore
	// and ColdStart. Zero uses DefaultFetchTimeout; negative disables it.
	FetchTimeout  time.Duration
	FormatVersion string
	Logger        core.Logger
	Metrics       core.MetricsRecorder
	Clock         func() time.Time
}

// Manager runs export and restore. At most one of them runs at a time; a
// concurrent call fails fast with ErrSnapshotBusy.
type Manager struct {
	store         core.SnapshotStore
	archive       *LocalArchive
	publishers    []Publisher
	sources       []Source
	fetchTimeout  time.Duration
	formatVersion string
	logger        core.Logger
	metrics       core.MetricsRecorder
	clock         func() time.Time

	mu sync.Mutex
}

func NewManager(cfg Config) (*Manager, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("snapshot: snapshot store is required")
	}
	if cfg.Archive == nil && len(cfg.Publishers) == 0 {
		return nil, fmt.Errorf("snapshot: an archive or at least one publisher is required")
	}
	_, logger := glog.Resolve("relay.snapshot", nil, cfg.Logger)
	formatVersion := strings.TrimSpace(cfg.FormatVersion)
	if formatVersion == "" {
		formatVersion = core.SnapshotFormatVersion
	}
	clock := cfg.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	sources := append([]Source(nil), cfg.Sources...)
	if len(sources) == 0 && cfg.Archive != nil {
		sources = append(sources, cfg.Archive)
	}
	fetchTimeout := cfg.FetchTimeout
	if fetchTimeout == 0 {
		fetchTimeout = DefaultFetchTimeout
	}
	return &Manager{
		store:         cfg.Store,
		archive:       cfg.Archive,
		publishers:    append([]Publisher(nil), cfg.Publishers...),
		sources:       sources,
		fetchTimeout:  fetchTimeout,
		formatVersion: formatVersion,
		logger:        glog.Ensure(logger),
		metrics:       cfg.Metrics,
		clock:         clock,
	}, nil
}

func (m *Manager) Archive() *LocalArchive {
	if m == nil {
		return nil
	}
	return m.archive
}

// Export reads the three tables without locking the store, writes the
// snapshot to the archive, prunes old archives and publishes copies.
func (m *Manager) Export(ctx context.Context) (result core.SnapshotExportResult, err error) {
	if m == nil {
		return core.SnapshotExportResult{}, fmt.Errorf("snapshot: manager is not configured")
	}
	if !m.mu.TryLock() {
		return core.SnapshotExportResult{}, core.ErrSnapshotBusy
	}
	defer m.mu.Unlock()

	startedAt := time.Now().UTC()
	fields := map[string]any{}
	defer func() {
		core.ObserveOperation(ctx, m.logger, m.metrics, startedAt, "snapshot_export", err, fields)
	}()

	tables, err := m.readTables(ctx)
	if err != nil {
		return core.SnapshotExportResult{}, err
	}
	exportedAt := m.clock().UTC()
	meta := core.SnapshotMetadata{
		ExportTimestamp: exportedAt,
		BindingCount:    len(tables.Bindings),
		ServerCount:     len(tables.Servers),
		AdminCount:      len(tables.Administrators),
		FormatVersion:   m.formatVersion,
	}
	bundle, err := Encode(BackupName(exportedAt), tables, meta)
	if err != nil {
		return core.SnapshotExportResult{}, err
	}
	result = core.SnapshotExportResult{Name: bundle.Name, Metadata: meta}
	fields["snapshot"] = bundle.Name
	fields["binding_count"] = meta.BindingCount

	if m.archive != nil {
		location, saveErr := m.archive.Save(ctx, bundle)
		if saveErr != nil {
			err = saveErr
			return core.SnapshotExportResult{}, err
		}
		result.Location = location
		if removed, pruneErr := m.archive.Prune(ctx); pruneErr != nil {
			core.LogWarn(ctx, m.logger, "snapshot prune failed", map[string]any{"error": pruneErr.Error()})
		} else if len(removed) > 0 {
			fields["pruned"] = len(removed)
		}
	}

	var publishErr error
	for _, publisher := range m.publishers {
		location, pubErr := publisher.Publish(ctx, bundle)
		if pubErr != nil {
			publishErr = core.SnapshotTransportError(pubErr, publisher.Name())
			core.LogWarn(ctx, m.logger, "snapshot publish failed", map[string]any{
				"snapshot":  bundle.Name,
				"publisher": publisher.Name(),
				"error":     pubErr.Error(),
			})
			continue
		}
		result.Published = true
		if result.Location == "" {
			result.Location = location
		}
	}
	fields["published"] = result.Published
	if m.archive == nil && !result.Published && publishErr != nil {
		err = publishErr
		return core.SnapshotExportResult{}, err
	}
	return result, nil
}

func (m *Manager) readTables(ctx context.Context) (core.SnapshotTables, error) {
	var tables core.SnapshotTables
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		rows, err := m.store.ListAdministrators(groupCtx)
		tables.Administrators = rows
		return wrapStorage(err, "list_administrators")
	})
	group.Go(func() error {
		rows, err := m.store.ListServers(groupCtx)
		tables.Servers = rows
		return wrapStorage(err, "list_servers")
	})
	group.Go(func() error {
		rows, err := m.store.ListBindings(groupCtx)
		tables.Bindings = rows
		return wrapStorage(err, "list_bindings")
	})
	if err := group.Wait(); err != nil {
		return core.SnapshotTables{}, err
	}
	return tables, nil
}

// Restore fetches a snapshot and imports it with the requested mode.
// Transport failures leave the registry untouched.
func (m *Manager) Restore(ctx context.Context, req core.RestoreRequest) (report core.ImportReport, err error) {
	if m == nil {
		return core.ImportReport{}, fmt.Errorf("snapshot: manager is not configured")
	}
	mode, err := core.ParseImportMode(string(req.Mode))
	if err != nil {
		return core.ImportReport{}, err
	}
	if !m.mu.TryLock() {
		return core.ImportReport{}, core.ErrSnapshotBusy
	}
	defer m.mu.Unlock()

	startedAt := time.Now().UTC()
	fields := map[string]any{"mode": string(mode)}
	defer func() {
		core.ObserveOperation(ctx, m.logger, m.metrics, startedAt, "snapshot_restore", err, fields)
	}()

	fetchCtx, cancel := ctx, context.CancelFunc(func() {})
	if m.fetchTimeout > 0 {
		fetchCtx, cancel = context.WithTimeout(ctx, m.fetchTimeout)
	}
	source, bundle, err := m.fetch(fetchCtx, req)
	cancel()
	if err != nil {
		return core.ImportReport{}, err
	}
	label := source.Name() + ":" + bundle.Name
	fields["snapshot"] = label

	decoded := Decode(bundle, m.clock())
	for _, issue := range decoded.Issues {
		core.LogWarn(ctx, m.logger, "snapshot row not loaded cleanly", map[string]any{
			"snapshot": label,
			"error":    issue.Error(),
		})
	}

	inserted, err := m.store.ImportSnapshot(ctx, decoded.Tables, mode)
	if err != nil {
		err = wrapStorage(err, "import_snapshot")
		return core.ImportReport{}, err
	}
	fields["inserted"] = inserted.Total()
	fields["skipped"] = decoded.Skipped.Total()
	return core.ImportReport{
		Source:   label,
		Mode:     mode,
		Inserted: inserted,
		Skipped:  decoded.Skipped,
	}, nil
}

func (m *Manager) fetch(ctx context.Context, req core.RestoreRequest) (Source, Bundle, error) {
	sources := m.sources
	if name := strings.TrimSpace(req.Source); name != "" {
		sources = nil
		for _, source := range m.sources {
			if source.Name() == name {
				sources = []Source{source}
				break
			}
		}
		if len(sources) == 0 {
			return nil, Bundle{}, fmt.Errorf("snapshot: unknown restore source %q", name)
		}
	}

	var lastErr error
	for _, source := range sources {
		bundle, err := m.fetchFrom(ctx, source, strings.TrimSpace(req.Name))
		if err == nil {
			return source, bundle, nil
		}
		if !errors.Is(err, ErrNoSnapshot) {
			core.LogWarn(ctx, m.logger, "snapshot source failed", map[string]any{
				"source": source.Name(),
				"error":  err.Error(),
			})
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = ErrNoSnapshot
	}
	return nil, Bundle{}, core.SnapshotTransportError(lastErr, "restore")
}

func (m *Manager) fetchFrom(ctx context.Context, source Source, name string) (Bundle, error) {
	if name == "" {
		names, err := source.List(ctx)
		if err != nil {
			return Bundle{}, err
		}
		if len(names) == 0 {
			return Bundle{}, fmt.Errorf("snapshot: %s: %w", source.Name(), ErrNoSnapshot)
		}
		name = names[0]
	}
	return source.Fetch(ctx, name)
}

// ColdStart merges the newest available snapshot into an empty registry.
// An unavailable snapshot is logged and the registry stays empty.
func (m *Manager) ColdStart(ctx context.Context, registry core.RegistryStore) (core.ImportReport, bool, error) {
	if m == nil || registry == nil {
		return core.ImportReport{}, false, fmt.Errorf("snapshot: cold start requires a manager and a registry store")
	}
	stats, err := registry.Stats(ctx)
	if err != nil {
		return core.ImportReport{}, false, wrapStorage(err, "stats")
	}
	if stats.BindingCount > 0 || stats.ServerCount > 0 {
		return core.ImportReport{}, false, nil
	}

	report, err := m.Restore(ctx, core.RestoreRequest{Mode: core.ImportModeMerge})
	if err != nil {
		if core.IsSnapshotTransportError(err) {
			core.LogWarn(ctx, m.logger, "cold start restore skipped", map[string]any{"error": err.Error()})
			return core.ImportReport{}, false, nil
		}
		return core.ImportReport{}, false, err
	}
	return report, true, nil
}

func wrapStorage(err error, operation string) error {
	if err == nil {
		return nil
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return err
	}
	return core.StorageError(err, operation)
}

var _ core.SnapshotService = (*Manager)(nil)
