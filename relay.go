package relay

import "github.com/goliatone/go-relay/core"

type Config = core.Config

type Option = core.Option

type Service = core.Service

type ServiceDependencies = core.ServiceDependencies
type RegistryStore = core.RegistryStore
type SnapshotStore = core.SnapshotStore
type WebhookPoster = core.WebhookPoster
type MetricsRecorder = core.MetricsRecorder
type EventFormatter = core.EventFormatter
type SnapshotService = core.SnapshotService

type Binding = core.Binding
type Server = core.Server
type Administrator = core.Administrator
type AdminIdentity = core.AdminIdentity

type BindInput = core.BindInput
type BindResult = core.BindResult
type UnbindRequest = core.UnbindRequest
type ToggleRequest = core.ToggleRequest
type ToggleResult = core.ToggleResult
type RegistryStats = core.RegistryStats

type Event = core.Event
type EventKind = core.EventKind
type DeliveryReport = core.DeliveryReport
type DeliveryStatus = core.DeliveryStatus
type ChannelDispatcher = core.ChannelDispatcher

type ImportMode = core.ImportMode
type RestoreRequest = core.RestoreRequest
type ImportReport = core.ImportReport
type SnapshotExportResult = core.SnapshotExportResult

const (
	ImportModeMerge   = core.ImportModeMerge
	ImportModeReplace = core.ImportModeReplace
)

var (
	WithLogger            = core.WithLogger
	WithLoggerProvider    = core.WithLoggerProvider
	WithMetricsRecorder   = core.WithMetricsRecorder
	WithErrorFactory      = core.WithErrorFactory
	WithErrorMapper       = core.WithErrorMapper
	WithPersistenceClient = core.WithPersistenceClient
	WithRepositoryFactory = core.WithRepositoryFactory
	WithConfigProvider    = core.WithConfigProvider
	WithOptionsResolver   = core.WithOptionsResolver
	WithRegistryStore     = core.WithRegistryStore
	WithSnapshotStore     = core.WithSnapshotStore
	WithWebhookPoster     = core.WithWebhookPoster
	WithEventFormatter    = core.WithEventFormatter
	WithClock             = core.WithClock
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return core.Setup(cfg, opts...)
}
