package command

import (
	"strings"

	"github.com/goliatone/go-relay/core"
)

const (
	TypeBind                  = "relay.command.binding.bind"
	TypeUnbind                = "relay.command.binding.unbind"
	TypeToggleAutomatedOrigin = "relay.command.binding.toggle_automated_origin"
	TypeDeliverEvent          = "relay.command.event.deliver"
	TypeExportSnapshot        = "relay.command.snapshot.export"
	TypeRestoreSnapshot       = "relay.command.snapshot.restore"
)

type BindMessage struct {
	Input core.BindInput
}

func (BindMessage) Type() string { return TypeBind }

func (m BindMessage) Validate() error {
	if err := m.Input.Validate(); err != nil {
		return commandWrapValidation(err, "command: invalid bind input")
	}
	return nil
}

type UnbindMessage struct {
	Request core.UnbindRequest
}

func (UnbindMessage) Type() string { return TypeUnbind }

func (m UnbindMessage) Validate() error {
	return requireChannel(m.Request.ChannelID)
}

type ToggleAutomatedOriginMessage struct {
	Request core.ToggleRequest
}

func (ToggleAutomatedOriginMessage) Type() string { return TypeToggleAutomatedOrigin }

func (m ToggleAutomatedOriginMessage) Validate() error {
	return requireChannel(m.Request.ChannelID)
}

// DeliverEventMessage runs one event through the delivery pipeline
// synchronously. The channel id defaults to the event's channel.
type DeliverEventMessage struct {
	ChannelID string
	Event     core.Event
}

func (DeliverEventMessage) Type() string { return TypeDeliverEvent }

func (m DeliverEventMessage) Validate() error {
	if err := m.Event.Validate(); err != nil {
		return commandWrapValidation(err, "command: invalid event")
	}
	return nil
}

func (m DeliverEventMessage) channelID() string {
	if channelID := strings.TrimSpace(m.ChannelID); channelID != "" {
		return channelID
	}
	return m.Event.ChannelID
}

type ExportSnapshotMessage struct{}

func (ExportSnapshotMessage) Type() string { return TypeExportSnapshot }

func (ExportSnapshotMessage) Validate() error { return nil }

type RestoreSnapshotMessage struct {
	Request core.RestoreRequest
}

func (RestoreSnapshotMessage) Type() string { return TypeRestoreSnapshot }

func (m RestoreSnapshotMessage) Validate() error {
	if m.Request.Mode == "" {
		return nil
	}
	if _, err := core.ParseImportMode(string(m.Request.Mode)); err != nil {
		return commandValidationError("mode", err.Error())
	}
	return nil
}

func requireChannel(channelID string) error {
	if strings.TrimSpace(channelID) == "" {
		return commandValidationError("channel_id", "channel id is required")
	}
	return nil
}
