package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-relay/core"
	"github.com/goliatone/go-relay/snapshot"
)

var (
	_ gocmd.Querier[GetBindingDetailsMessage, core.Binding]    = (*GetBindingDetailsQuery)(nil)
	_ gocmd.Querier[ListServerBindingsMessage, []core.Binding] = (*ListServerBindingsQuery)(nil)
	_ gocmd.Querier[RegistryStatsMessage, core.RegistryStats]  = (*RegistryStatsQuery)(nil)
	_ gocmd.Querier[ListSnapshotsMessage, SnapshotListing]     = (*ListSnapshotsQuery)(nil)
	_ gocmd.Querier[SnapshotDetailsMessage, snapshot.Details]  = (*SnapshotDetailsQuery)(nil)

	_ SnapshotLister    = (*snapshot.LocalArchive)(nil)
	_ SnapshotLister    = (*snapshot.GitHubRemote)(nil)
	_ SnapshotInspector = (*snapshot.LocalArchive)(nil)
)
