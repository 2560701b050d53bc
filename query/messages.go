package query

import "strings"

const (
	TypeGetBindingDetails  = "relay.query.binding.details"
	TypeListServerBindings = "relay.query.binding.list_for_server"
	TypeRegistryStats      = "relay.query.registry.stats"
	TypeListSnapshots      = "relay.query.snapshot.list"
	TypeSnapshotDetails    = "relay.query.snapshot.details"
)

type GetBindingDetailsMessage struct {
	ChannelID string
}

func (GetBindingDetailsMessage) Type() string { return TypeGetBindingDetails }

func (m GetBindingDetailsMessage) Validate() error {
	if strings.TrimSpace(m.ChannelID) == "" {
		return queryValidationError("channel_id", "channel id is required")
	}
	return nil
}

type ListServerBindingsMessage struct {
	ServerID string
}

func (ListServerBindingsMessage) Type() string { return TypeListServerBindings }

func (m ListServerBindingsMessage) Validate() error {
	if strings.TrimSpace(m.ServerID) == "" {
		return queryValidationError("server_id", "server id is required")
	}
	return nil
}

type RegistryStatsMessage struct{}

func (RegistryStatsMessage) Type() string { return TypeRegistryStats }

func (RegistryStatsMessage) Validate() error { return nil }

// ListSnapshotsMessage lists backups of one source; an empty Source selects
// the first configured source.
type ListSnapshotsMessage struct {
	Source string
}

func (ListSnapshotsMessage) Type() string { return TypeListSnapshots }

func (ListSnapshotsMessage) Validate() error { return nil }

type SnapshotDetailsMessage struct {
	Name string
}

func (SnapshotDetailsMessage) Type() string { return TypeSnapshotDetails }

func (m SnapshotDetailsMessage) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return queryValidationError("name", "snapshot name is required")
	}
	return nil
}
