package relay

import (
	"fmt"

	relaycommand "github.com/goliatone/go-relay/command"
	relayquery "github.com/goliatone/go-relay/query"
)

// CommandQueryService is the admin and delivery surface the facade wraps.
// *core.Service satisfies it.
type CommandQueryService interface {
	relaycommand.MutatingService
	relaycommand.EventDeliverer
	relayquery.BindingReader
}

type Commands struct {
	Bind                  *relaycommand.BindCommand
	Unbind                *relaycommand.UnbindCommand
	ToggleAutomatedOrigin *relaycommand.ToggleAutomatedOriginCommand
	DeliverEvent          *relaycommand.DeliverEventCommand
	ExportSnapshot        *relaycommand.ExportSnapshotCommand
	RestoreSnapshot       *relaycommand.RestoreSnapshotCommand
}

type Queries struct {
	GetBindingDetails  *relayquery.GetBindingDetailsQuery
	ListServerBindings *relayquery.ListServerBindingsQuery
	RegistryStats      *relayquery.RegistryStatsQuery
	ListSnapshots      *relayquery.ListSnapshotsQuery
	SnapshotDetails    *relayquery.SnapshotDetailsQuery
}

type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	snapshots SnapshotService
	sources   []relayquery.SnapshotLister
	inspector relayquery.SnapshotInspector
}

// WithSnapshotService enables the export and restore commands.
func WithSnapshotService(snapshots SnapshotService) FacadeOption {
	return func(options *facadeOptions) {
		options.snapshots = snapshots
	}
}

func WithSnapshotSources(sources ...relayquery.SnapshotLister) FacadeOption {
	return func(options *facadeOptions) {
		options.sources = append(options.sources, sources...)
	}
}

func WithSnapshotInspector(inspector relayquery.SnapshotInspector) FacadeOption {
	return func(options *facadeOptions) {
		options.inspector = inspector
	}
}

// NewFacade builds the relay commands and queries over service. Snapshot
// handlers are only wired when their dependency is supplied.
func NewFacade(service CommandQueryService, opts ...FacadeOption) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("relay: command/query service is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}
	if cfg.inspector == nil {
		cfg.inspector = resolveInspector(cfg.sources)
	}

	facade := &Facade{service: service}
	facade.commands = Commands{
		Bind:                  relaycommand.NewBindCommand(service),
		Unbind:                relaycommand.NewUnbindCommand(service),
		ToggleAutomatedOrigin: relaycommand.NewToggleAutomatedOriginCommand(service),
		DeliverEvent:          relaycommand.NewDeliverEventCommand(service),
	}
	if cfg.snapshots != nil {
		facade.commands.ExportSnapshot = relaycommand.NewExportSnapshotCommand(cfg.snapshots)
		facade.commands.RestoreSnapshot = relaycommand.NewRestoreSnapshotCommand(cfg.snapshots)
	}

	facade.queries = Queries{
		GetBindingDetails:  relayquery.NewGetBindingDetailsQuery(service),
		ListServerBindings: relayquery.NewListServerBindingsQuery(service),
		RegistryStats:      relayquery.NewRegistryStatsQuery(service),
	}
	if len(cfg.sources) > 0 {
		facade.queries.ListSnapshots = relayquery.NewListSnapshotsQuery(cfg.sources...)
	}
	if cfg.inspector != nil {
		facade.queries.SnapshotDetails = relayquery.NewSnapshotDetailsQuery(cfg.inspector)
	}
	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}

// resolveInspector picks the first listed source that can also describe a
// snapshot, usually the local archive.
func resolveInspector(sources []relayquery.SnapshotLister) relayquery.SnapshotInspector {
	for _, source := range sources {
		if source == nil {
			continue
		}
		if inspector, ok := source.(relayquery.SnapshotInspector); ok {
			return inspector
		}
	}
	return nil
}
