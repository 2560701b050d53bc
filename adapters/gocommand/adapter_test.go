package gocommand

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-command"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
	relaycommand "github.com/goliatone/go-relay/command"
	"github.com/goliatone/go-relay/core"
	relayquery "github.com/goliatone/go-relay/query"
)

type okMessage struct{}

func (okMessage) Type() string { return "relay.command.ok" }

type invalidMessage struct{}

func (invalidMessage) Type() string { return "" }

type failingMessage struct{}

func (failingMessage) Type() string { return "relay.command.fail" }

func (failingMessage) Validate() error { return errors.New("invalid payload") }

type queueMessage struct{}

func (queueMessage) Type() string { return "relay.command.queue" }

type stubRelayService struct {
	bindings map[string]core.Binding
	events   []string
}

func newStubRelayService() *stubRelayService {
	return &stubRelayService{bindings: map[string]core.Binding{}}
}

func (s *stubRelayService) Bind(_ context.Context, in core.BindInput) (core.BindResult, error) {
	binding := core.Binding{ID: "b-" + in.ChannelID, ChannelID: in.ChannelID, EndpointURL: in.EndpointURL, ServerID: in.ServerID, IsActive: true}
	s.bindings[in.ChannelID] = binding
	return core.BindResult{Binding: binding}, nil
}

func (s *stubRelayService) Unbind(_ context.Context, req core.UnbindRequest) (core.Binding, error) {
	binding, ok := s.bindings[req.ChannelID]
	if !ok {
		return core.Binding{}, core.NotFoundError(req.ChannelID)
	}
	delete(s.bindings, req.ChannelID)
	return binding, nil
}

func (s *stubRelayService) ToggleAutomatedOrigin(_ context.Context, req core.ToggleRequest) (core.ToggleResult, error) {
	binding, ok := s.bindings[req.ChannelID]
	if !ok {
		return core.ToggleResult{}, core.NotFoundError(req.ChannelID)
	}
	binding.AcceptAutomatedOrigin = !binding.AcceptAutomatedOrigin
	s.bindings[req.ChannelID] = binding
	return core.ToggleResult{ChannelID: req.ChannelID, AcceptAutomatedOrigin: binding.AcceptAutomatedOrigin}, nil
}

func (s *stubRelayService) Deliver(_ context.Context, channelID string, event core.Event) core.DeliveryReport {
	s.events = append(s.events, channelID)
	if _, ok := s.bindings[channelID]; !ok {
		return core.DeliveryReport{ChannelID: channelID, Status: core.DeliveryStatusSkippedUnbound}
	}
	return core.DeliveryReport{ChannelID: channelID, EventType: event.WireType(), Status: core.DeliveryStatusDelivered, Attempted: true}
}

func (s *stubRelayService) GetBindingDetails(_ context.Context, channelID string) (core.Binding, error) {
	binding, ok := s.bindings[channelID]
	if !ok {
		return core.Binding{}, core.NotFoundError(channelID)
	}
	return binding, nil
}

func (s *stubRelayService) ListForServer(_ context.Context, serverID string) ([]core.Binding, error) {
	out := []core.Binding{}
	for _, binding := range s.bindings {
		if binding.ServerID == serverID {
			out = append(out, binding)
		}
	}
	return out, nil
}

func (s *stubRelayService) Stats(context.Context) (core.RegistryStats, error) {
	return core.RegistryStats{BindingCount: len(s.bindings), ServerCount: 1}, nil
}

type stubSnapshots struct {
	restored []core.RestoreRequest
}

func (s *stubSnapshots) Export(context.Context) (core.SnapshotExportResult, error) {
	return core.SnapshotExportResult{Name: "backup-2025-01-11T03-00-00-000Z", Location: "data/backup-2025-01-11T03-00-00-000Z"}, nil
}

func (s *stubSnapshots) Restore(_ context.Context, req core.RestoreRequest) (core.ImportReport, error) {
	s.restored = append(s.restored, req)
	return core.ImportReport{Source: "local:backup-x", Mode: req.Mode}, nil
}

type stubLister struct{}

func (stubLister) Name() string { return "local" }

func (stubLister) List(context.Context) ([]string, error) {
	return []string{"backup-2025-01-11T03-00-00-000Z"}, nil
}

func TestValidateMessageContract(t *testing.T) {
	if err := ValidateMessageContract(okMessage{}); err != nil {
		t.Fatalf("expected valid message, got %v", err)
	}
	if err := ValidateMessageContract(invalidMessage{}); err == nil {
		t.Fatalf("expected empty type to fail contract validation")
	}
	if err := ValidateMessageContract(failingMessage{}); err == nil {
		t.Fatalf("expected Validate() failure to bubble")
	}
	if err := ValidateMessageContract(relaycommand.UnbindMessage{}); err == nil {
		t.Fatalf("expected relay message validation to bubble")
	}
}

func TestRegisterRelayHandlers_DispatchesCommandsAndQueries(t *testing.T) {
	ctx := context.Background()
	svc := newStubRelayService()
	snapshots := &stubSnapshots{}
	adapter := NewRegistryAdapter(command.NewRegistry())

	subs, err := RegisterRelayHandlers(adapter, RelayHandlers{
		Service:         svc,
		Snapshots:       snapshots,
		SnapshotSources: []relayquery.SnapshotLister{stubLister{}},
	})
	if err != nil {
		t.Fatalf("register relay handlers: %v", err)
	}
	defer subs.Unsubscribe()
	if len(subs) != 10 {
		t.Fatalf("expected ten subscriptions, got %d", len(subs))
	}
	if err := adapter.Initialize(); err != nil {
		t.Fatalf("initialize registry: %v", err)
	}

	bound, err := DispatchWithResult[relaycommand.BindMessage, core.BindResult](ctx, relaycommand.BindMessage{Input: core.BindInput{
		ChannelID:   "C1",
		EndpointURL: "https://ok.example/hook",
		ServerID:    "S1",
	}})
	if err != nil {
		t.Fatalf("dispatch bind: %v", err)
	}
	if bound.Binding.ID != "b-C1" {
		t.Fatalf("unexpected bind result %#v", bound)
	}

	toggled, err := DispatchWithResult[relaycommand.ToggleAutomatedOriginMessage, core.ToggleResult](ctx, relaycommand.ToggleAutomatedOriginMessage{
		Request: core.ToggleRequest{ChannelID: "C1"},
	})
	if err != nil || !toggled.AcceptAutomatedOrigin {
		t.Fatalf("unexpected toggle result %#v err=%v", toggled, err)
	}

	report, err := DispatchWithResult[relaycommand.DeliverEventMessage, core.DeliveryReport](ctx, relaycommand.DeliverEventMessage{Event: core.Event{
		Kind:       core.EventKindMessage,
		ChannelID:  "C1",
		OccurredAt: time.Now().UTC(),
		Payload:    core.MessagePayload{MessageID: "M1", Content: "hi"},
	}})
	if err != nil || report.Status != core.DeliveryStatusDelivered || report.EventType != "message_create" {
		t.Fatalf("unexpected delivery report %#v err=%v", report, err)
	}

	details, err := Query[relayquery.GetBindingDetailsMessage, core.Binding](ctx, relayquery.GetBindingDetailsMessage{ChannelID: "C1"})
	if err != nil || !details.AcceptAutomatedOrigin {
		t.Fatalf("unexpected details %#v err=%v", details, err)
	}
	stats, err := Query[relayquery.RegistryStatsMessage, core.RegistryStats](ctx, relayquery.RegistryStatsMessage{})
	if err != nil || stats.BindingCount != 1 {
		t.Fatalf("unexpected stats %#v err=%v", stats, err)
	}
	listing, err := Query[relayquery.ListSnapshotsMessage, relayquery.SnapshotListing](ctx, relayquery.ListSnapshotsMessage{})
	if err != nil || listing.Latest == "" {
		t.Fatalf("unexpected listing %#v err=%v", listing, err)
	}

	if _, err := DispatchWithResult[relaycommand.RestoreSnapshotMessage, core.ImportReport](ctx, relaycommand.RestoreSnapshotMessage{
		Request: core.RestoreRequest{Mode: core.ImportModeReplace},
	}); err != nil {
		t.Fatalf("dispatch restore: %v", err)
	}
	if len(snapshots.restored) != 1 || snapshots.restored[0].Mode != core.ImportModeReplace {
		t.Fatalf("expected replace restore, got %#v", snapshots.restored)
	}

	if err := Dispatch(ctx, relaycommand.UnbindMessage{Request: core.UnbindRequest{ChannelID: "C9"}}); !core.IsNotFound(err) {
		t.Fatalf("expected not found from unbind, got %v", err)
	}
}

func TestRegisterRelayHandlers_RequiresService(t *testing.T) {
	if _, err := RegisterRelayHandlers(NewRegistryAdapter(nil), RelayHandlers{}); err == nil {
		t.Fatalf("expected missing service error")
	}
}

func TestQueueResolverHookWiring(t *testing.T) {
	adapter := NewRegistryAdapter(command.NewRegistry())
	queueRegistry := jobqueuecommand.NewRegistry()

	cmd := command.CommandFunc[queueMessage](func(context.Context, queueMessage) error { return nil })

	if err := adapter.AddQueueResolver("queue", queueRegistry); err != nil {
		t.Fatalf("add queue resolver: %v", err)
	}
	if !adapter.HasResolver("queue") {
		t.Fatalf("expected queue resolver to be registered")
	}
	if err := adapter.RegisterCommand(cmd); err != nil {
		t.Fatalf("register command: %v", err)
	}
	if err := adapter.Initialize(); err != nil {
		t.Fatalf("initialize registry: %v", err)
	}

	if _, ok := queueRegistry.Get("relay.command.queue"); !ok {
		t.Fatalf("expected command to be mirrored into queue registry")
	}
}
