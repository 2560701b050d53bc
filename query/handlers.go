package query

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-relay/core"
	"github.com/goliatone/go-relay/snapshot"
)

type BindingReader interface {
	GetBindingDetails(ctx context.Context, channelID string) (core.Binding, error)
	ListForServer(ctx context.Context, serverID string) ([]core.Binding, error)
	Stats(ctx context.Context) (core.RegistryStats, error)
}

type SnapshotLister interface {
	Name() string
	List(ctx context.Context) ([]string, error)
}

type SnapshotInspector interface {
	Details(ctx context.Context, name string) (snapshot.Details, error)
}

// SnapshotListing holds backup names newest first.
type SnapshotListing struct {
	Source string
	Names  []string
	Latest string
}

type GetBindingDetailsQuery struct {
	reader BindingReader
}

func NewGetBindingDetailsQuery(reader BindingReader) *GetBindingDetailsQuery {
	return &GetBindingDetailsQuery{reader: reader}
}

func (q *GetBindingDetailsQuery) Query(ctx context.Context, msg GetBindingDetailsMessage) (core.Binding, error) {
	if q == nil || q.reader == nil {
		return core.Binding{}, queryDependencyError("query: binding reader is required")
	}
	return q.reader.GetBindingDetails(ctx, msg.ChannelID)
}

type ListServerBindingsQuery struct {
	reader BindingReader
}

func NewListServerBindingsQuery(reader BindingReader) *ListServerBindingsQuery {
	return &ListServerBindingsQuery{reader: reader}
}

func (q *ListServerBindingsQuery) Query(ctx context.Context, msg ListServerBindingsMessage) ([]core.Binding, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: binding reader is required")
	}
	return q.reader.ListForServer(ctx, msg.ServerID)
}

type RegistryStatsQuery struct {
	reader BindingReader
}

func NewRegistryStatsQuery(reader BindingReader) *RegistryStatsQuery {
	return &RegistryStatsQuery{reader: reader}
}

func (q *RegistryStatsQuery) Query(ctx context.Context, _ RegistryStatsMessage) (core.RegistryStats, error) {
	if q == nil || q.reader == nil {
		return core.RegistryStats{}, queryDependencyError("query: binding reader is required")
	}
	return q.reader.Stats(ctx)
}

type ListSnapshotsQuery struct {
	sources []SnapshotLister
}

func NewListSnapshotsQuery(sources ...SnapshotLister) *ListSnapshotsQuery {
	filtered := make([]SnapshotLister, 0, len(sources))
	for _, source := range sources {
		if source != nil {
			filtered = append(filtered, source)
		}
	}
	return &ListSnapshotsQuery{sources: filtered}
}

func (q *ListSnapshotsQuery) Query(ctx context.Context, msg ListSnapshotsMessage) (SnapshotListing, error) {
	if q == nil || len(q.sources) == 0 {
		return SnapshotListing{}, queryDependencyError("query: snapshot source is required")
	}
	source := q.sources[0]
	if name := strings.TrimSpace(msg.Source); name != "" {
		source = nil
		for _, candidate := range q.sources {
			if candidate.Name() == name {
				source = candidate
				break
			}
		}
		if source == nil {
			return SnapshotListing{}, queryInvalidInputError(fmt.Sprintf("query: unknown snapshot source %q", name))
		}
	}

	names, err := source.List(ctx)
	if err != nil {
		return SnapshotListing{}, core.SnapshotTransportError(err, source.Name())
	}
	listing := SnapshotListing{Source: source.Name(), Names: names}
	if len(names) > 0 {
		listing.Latest = names[0]
	}
	return listing, nil
}

type SnapshotDetailsQuery struct {
	inspector SnapshotInspector
}

func NewSnapshotDetailsQuery(inspector SnapshotInspector) *SnapshotDetailsQuery {
	return &SnapshotDetailsQuery{inspector: inspector}
}

func (q *SnapshotDetailsQuery) Query(ctx context.Context, msg SnapshotDetailsMessage) (snapshot.Details, error) {
	if q == nil || q.inspector == nil {
		return snapshot.Details{}, queryDependencyError("query: snapshot archive is required")
	}
	return q.inspector.Details(ctx, strings.TrimSpace(msg.Name))
}
