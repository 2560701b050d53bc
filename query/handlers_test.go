package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-relay/core"
	"github.com/goliatone/go-relay/snapshot"
)

type stubBindingReader struct {
	details func(context.Context, string) (core.Binding, error)
	list    func(context.Context, string) ([]core.Binding, error)
	stats   core.RegistryStats
}

func (s stubBindingReader) GetBindingDetails(ctx context.Context, channelID string) (core.Binding, error) {
	return s.details(ctx, channelID)
}

func (s stubBindingReader) ListForServer(ctx context.Context, serverID string) ([]core.Binding, error) {
	return s.list(ctx, serverID)
}

func (s stubBindingReader) Stats(context.Context) (core.RegistryStats, error) {
	return s.stats, nil
}

type stubLister struct {
	name  string
	names []string
	err   error
}

func (s stubLister) Name() string { return s.name }

func (s stubLister) List(context.Context) ([]string, error) { return s.names, s.err }

func TestBindingQueries_Delegate(t *testing.T) {
	reader := stubBindingReader{
		details: func(_ context.Context, channelID string) (core.Binding, error) {
			if channelID != "C1" {
				return core.Binding{}, core.NotFoundError(channelID)
			}
			return core.Binding{ChannelID: "C1", FailureCount: 2}, nil
		},
		list: func(_ context.Context, serverID string) ([]core.Binding, error) {
			if serverID != "S1" {
				t.Fatalf("unexpected server id %q", serverID)
			}
			return []core.Binding{{ChannelID: "C2"}, {ChannelID: "C1"}}, nil
		},
		stats: core.RegistryStats{BindingCount: 2, ServerCount: 1},
	}

	binding, err := NewGetBindingDetailsQuery(reader).Query(context.Background(), GetBindingDetailsMessage{ChannelID: "C1"})
	if err != nil || binding.FailureCount != 2 {
		t.Fatalf("unexpected details %#v err=%v", binding, err)
	}
	if _, err := NewGetBindingDetailsQuery(reader).Query(context.Background(), GetBindingDetailsMessage{ChannelID: "C9"}); !core.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}

	bindings, err := NewListServerBindingsQuery(reader).Query(context.Background(), ListServerBindingsMessage{ServerID: "S1"})
	if err != nil || len(bindings) != 2 || bindings[0].ChannelID != "C2" {
		t.Fatalf("unexpected bindings %#v err=%v", bindings, err)
	}

	stats, err := NewRegistryStatsQuery(reader).Query(context.Background(), RegistryStatsMessage{})
	if err != nil || stats.BindingCount != 2 || stats.ServerCount != 1 {
		t.Fatalf("unexpected stats %#v err=%v", stats, err)
	}
}

func TestListSnapshotsQuery_SelectsSource(t *testing.T) {
	local := stubLister{name: "local", names: []string{"backup-2025-01-11T04-00-00-000Z", "backup-2025-01-11T03-00-00-000Z"}}
	remote := stubLister{name: "github", err: errors.New("401 bad credentials")}
	q := NewListSnapshotsQuery(local, nil, remote)

	listing, err := q.Query(context.Background(), ListSnapshotsMessage{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if listing.Source != "local" || listing.Latest != local.names[0] || len(listing.Names) != 2 {
		t.Fatalf("unexpected listing %#v", listing)
	}

	if _, err := q.Query(context.Background(), ListSnapshotsMessage{Source: "github"}); !core.IsSnapshotTransportError(err) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if _, err := q.Query(context.Background(), ListSnapshotsMessage{Source: "ftp"}); err == nil {
		t.Fatalf("expected unknown source error")
	}
	if _, err := NewListSnapshotsQuery().Query(context.Background(), ListSnapshotsMessage{}); err == nil {
		t.Fatalf("expected dependency error")
	}
}

func TestSnapshotDetailsQuery_ReadsArchive(t *testing.T) {
	archive, err := snapshot.NewLocalArchive(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("new archive: %v", err)
	}
	name := snapshot.BackupName(time.Date(2025, 1, 11, 3, 0, 0, 0, time.UTC))
	bundle, err := snapshot.Encode(name, core.SnapshotTables{}, core.SnapshotMetadata{BindingCount: 7})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := archive.Save(context.Background(), bundle); err != nil {
		t.Fatalf("save: %v", err)
	}

	details, err := NewSnapshotDetailsQuery(archive).Query(context.Background(), SnapshotDetailsMessage{Name: name})
	if err != nil {
		t.Fatalf("details: %v", err)
	}
	if details.Name != name || details.Metadata == nil || details.Metadata.BindingCount != 7 {
		t.Fatalf("unexpected details %#v", details)
	}
}
