package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-relay/core"
)

// MutatingService is the admin surface behind the binding commands.
// *core.Service satisfies it.
type MutatingService interface {
	Bind(ctx context.Context, in core.BindInput) (core.BindResult, error)
	Unbind(ctx context.Context, req core.UnbindRequest) (core.Binding, error)
	ToggleAutomatedOrigin(ctx context.Context, req core.ToggleRequest) (core.ToggleResult, error)
}

type EventDeliverer interface {
	Deliver(ctx context.Context, channelID string, event core.Event) core.DeliveryReport
}

type BindCommand struct {
	service MutatingService
}

func NewBindCommand(service MutatingService) *BindCommand {
	return &BindCommand{service: service}
}

func (c *BindCommand) Execute(ctx context.Context, msg BindMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: bind service is required")
	}
	out, err := c.service.Bind(ctx, msg.Input)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type UnbindCommand struct {
	service MutatingService
}

func NewUnbindCommand(service MutatingService) *UnbindCommand {
	return &UnbindCommand{service: service}
}

func (c *UnbindCommand) Execute(ctx context.Context, msg UnbindMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: unbind service is required")
	}
	out, err := c.service.Unbind(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type ToggleAutomatedOriginCommand struct {
	service MutatingService
}

func NewToggleAutomatedOriginCommand(service MutatingService) *ToggleAutomatedOriginCommand {
	return &ToggleAutomatedOriginCommand{service: service}
}

func (c *ToggleAutomatedOriginCommand) Execute(ctx context.Context, msg ToggleAutomatedOriginMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: toggle service is required")
	}
	out, err := c.service.ToggleAutomatedOrigin(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

// DeliverEventCommand stores the delivery report as its result. Delivery
// failures are absorbed into the report; only a report in the Errored state
// surfaces its error to the caller.
type DeliverEventCommand struct {
	deliverer EventDeliverer
}

func NewDeliverEventCommand(deliverer EventDeliverer) *DeliverEventCommand {
	return &DeliverEventCommand{deliverer: deliverer}
}

func (c *DeliverEventCommand) Execute(ctx context.Context, msg DeliverEventMessage) error {
	if c == nil || c.deliverer == nil {
		return commandDependencyError("command: event deliverer is required")
	}
	report := c.deliverer.Deliver(ctx, msg.channelID(), msg.Event)
	storeResult(ctx, report)
	if report.Status == core.DeliveryStatusErrored {
		return report.Err
	}
	return nil
}

type ExportSnapshotCommand struct {
	snapshots core.SnapshotService
}

func NewExportSnapshotCommand(snapshots core.SnapshotService) *ExportSnapshotCommand {
	return &ExportSnapshotCommand{snapshots: snapshots}
}

func (c *ExportSnapshotCommand) Execute(ctx context.Context, _ ExportSnapshotMessage) error {
	if c == nil || c.snapshots == nil {
		return commandDependencyError("command: snapshot service is required")
	}
	out, err := c.snapshots.Export(ctx)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RestoreSnapshotCommand struct {
	snapshots core.SnapshotService
}

func NewRestoreSnapshotCommand(snapshots core.SnapshotService) *RestoreSnapshotCommand {
	return &RestoreSnapshotCommand{snapshots: snapshots}
}

func (c *RestoreSnapshotCommand) Execute(ctx context.Context, msg RestoreSnapshotMessage) error {
	if c == nil || c.snapshots == nil {
		return commandDependencyError("command: snapshot service is required")
	}
	out, err := c.snapshots.Restore(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
