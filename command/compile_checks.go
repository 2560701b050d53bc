package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[BindMessage]                  = (*BindCommand)(nil)
	_ gocmd.Commander[UnbindMessage]                = (*UnbindCommand)(nil)
	_ gocmd.Commander[ToggleAutomatedOriginMessage] = (*ToggleAutomatedOriginCommand)(nil)
	_ gocmd.Commander[DeliverEventMessage]          = (*DeliverEventCommand)(nil)
	_ gocmd.Commander[ExportSnapshotMessage]        = (*ExportSnapshotCommand)(nil)
	_ gocmd.Commander[RestoreSnapshotMessage]       = (*RestoreSnapshotCommand)(nil)
)
