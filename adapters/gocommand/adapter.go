package gocommand

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
	relaycommand "github.com/goliatone/go-relay/command"
	"github.com/goliatone/go-relay/core"
	relayquery "github.com/goliatone/go-relay/query"
)

// ValidateMessageContract enforces Type() plus optional Validate() contract.
func ValidateMessageContract(msg any) error {
	if err := command.ValidateMessage(msg); err != nil {
		return err
	}
	m, ok := msg.(command.Message)
	if !ok {
		return fmt.Errorf("gocommand: message must implement Type() string")
	}
	if strings.TrimSpace(m.Type()) == "" {
		return fmt.Errorf("gocommand: message type is required")
	}
	return nil
}

type RegistryAdapter struct {
	registry *command.Registry
}

func NewRegistryAdapter(registry *command.Registry) *RegistryAdapter {
	if registry == nil {
		registry = command.NewRegistry()
	}
	return &RegistryAdapter{registry: registry}
}

func (a *RegistryAdapter) Registry() *command.Registry {
	if a == nil {
		return nil
	}
	return a.registry
}

func (a *RegistryAdapter) RegisterCommand(cmd any) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.RegisterCommand(cmd)
}

func (a *RegistryAdapter) AddResolver(key string, resolver command.Resolver) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.AddResolver(strings.TrimSpace(key), resolver)
}

// AddQueueResolver mirrors registered commands into a go-job queue registry
// so snapshot commands can also be executed by queue workers.
func (a *RegistryAdapter) AddQueueResolver(key string, queueRegistry *jobqueuecommand.Registry) error {
	if queueRegistry == nil {
		return fmt.Errorf("gocommand: queue registry is required")
	}
	return a.AddResolver(key, jobqueuecommand.QueueResolver(queueRegistry))
}

func (a *RegistryAdapter) HasResolver(key string) bool {
	if a == nil || a.registry == nil {
		return false
	}
	return a.registry.HasResolver(strings.TrimSpace(key))
}

func (a *RegistryAdapter) Initialize() error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.Initialize()
}

func Dispatch[T any](ctx context.Context, msg T) error {
	return commanddispatcher.Dispatch(ctx, msg)
}

// DispatchWithResult dispatches msg and returns the value the command stored
// in its result collector.
func DispatchWithResult[T any, R any](ctx context.Context, msg T) (R, error) {
	collector := command.NewResult[R]()
	var zero R
	if err := commanddispatcher.Dispatch(command.ContextWithResult(ctx, collector), msg); err != nil {
		return zero, err
	}
	out, ok := collector.Load()
	if !ok {
		return zero, nil
	}
	return out, nil
}

func Query[T any, R any](ctx context.Context, msg T) (R, error) {
	return commanddispatcher.Query[T, R](ctx, msg)
}

func RegisterAndSubscribe[T any](
	adapter *RegistryAdapter,
	cmd command.Commander[T],
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	if adapter == nil || adapter.registry == nil {
		return nil, fmt.Errorf("gocommand: registry is not configured")
	}
	if cmd == nil {
		return nil, fmt.Errorf("gocommand: command is required")
	}
	subscription := commanddispatcher.SubscribeCommand(cmd, runnerOpts...)
	if err := adapter.RegisterCommand(cmd); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return nil, err
	}
	return subscription, nil
}

func RegisterAndSubscribeQuery[T any, R any](
	adapter *RegistryAdapter,
	qry command.Querier[T, R],
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	if adapter == nil || adapter.registry == nil {
		return nil, fmt.Errorf("gocommand: registry is not configured")
	}
	if qry == nil {
		return nil, fmt.Errorf("gocommand: query is required")
	}
	subscription := commanddispatcher.SubscribeQuery(qry, runnerOpts...)
	if err := adapter.RegisterCommand(qry); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return nil, err
	}
	return subscription, nil
}

// RelayService is the admin and delivery surface of *core.Service.
type RelayService interface {
	relaycommand.MutatingService
	relaycommand.EventDeliverer
	relayquery.BindingReader
}

// RelayHandlers lists the collaborators behind the relay commands and
// queries. Snapshot handlers are only registered when Snapshots is set.
type RelayHandlers struct {
	Service         RelayService
	Snapshots       core.SnapshotService
	SnapshotSources []relayquery.SnapshotLister
	Archive         relayquery.SnapshotInspector
}

// Subscriptions is the set of dispatcher subscriptions created by
// RegisterRelayHandlers.
type Subscriptions []commanddispatcher.Subscription

func (s Subscriptions) Unsubscribe() {
	for _, subscription := range s {
		if subscription != nil {
			subscription.Unsubscribe()
		}
	}
}

// RegisterRelayHandlers registers and subscribes every relay command and
// query. On error the subscriptions created so far are released.
func RegisterRelayHandlers(adapter *RegistryAdapter, handlers RelayHandlers, runnerOpts ...runner.Option) (Subscriptions, error) {
	if handlers.Service == nil {
		return nil, errors.New("gocommand: relay service is required")
	}
	subs := Subscriptions{}
	track := func(sub commanddispatcher.Subscription, err error) error {
		if err != nil {
			return err
		}
		subs = append(subs, sub)
		return nil
	}

	svc := handlers.Service
	steps := []func() error{
		func() error {
			return track(RegisterAndSubscribe(adapter, relaycommand.NewBindCommand(svc), runnerOpts...))
		},
		func() error {
			return track(RegisterAndSubscribe(adapter, relaycommand.NewUnbindCommand(svc), runnerOpts...))
		},
		func() error {
			return track(RegisterAndSubscribe(adapter, relaycommand.NewToggleAutomatedOriginCommand(svc), runnerOpts...))
		},
		func() error {
			return track(RegisterAndSubscribe(adapter, relaycommand.NewDeliverEventCommand(svc), runnerOpts...))
		},
		func() error {
			return track(RegisterAndSubscribeQuery(adapter, relayquery.NewGetBindingDetailsQuery(svc), runnerOpts...))
		},
		func() error {
			return track(RegisterAndSubscribeQuery(adapter, relayquery.NewListServerBindingsQuery(svc), runnerOpts...))
		},
		func() error {
			return track(RegisterAndSubscribeQuery(adapter, relayquery.NewRegistryStatsQuery(svc), runnerOpts...))
		},
	}
	if handlers.Snapshots != nil {
		steps = append(steps,
			func() error {
				return track(RegisterAndSubscribe(adapter, relaycommand.NewExportSnapshotCommand(handlers.Snapshots), runnerOpts...))
			},
			func() error {
				return track(RegisterAndSubscribe(adapter, relaycommand.NewRestoreSnapshotCommand(handlers.Snapshots), runnerOpts...))
			},
		)
	}
	if len(handlers.SnapshotSources) > 0 {
		steps = append(steps, func() error {
			return track(RegisterAndSubscribeQuery(adapter, relayquery.NewListSnapshotsQuery(handlers.SnapshotSources...), runnerOpts...))
		})
	}
	if handlers.Archive != nil {
		steps = append(steps, func() error {
			return track(RegisterAndSubscribeQuery(adapter, relayquery.NewSnapshotDetailsQuery(handlers.Archive), runnerOpts...))
		})
	}

	for _, step := range steps {
		if err := step(); err != nil {
			subs.Unsubscribe()
			return nil, err
		}
	}
	return subs, nil
}
