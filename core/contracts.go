package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// RegistryStore owns bindings, servers and administrators. Every mutation is
// atomic for the rows it touches.
type RegistryStore interface {
	Bind(ctx context.Context, in BindInput) (BindResult, error)
	Unbind(ctx context.Context, channelID string) (Binding, error)
	LookupActive(ctx context.Context, channelID string) (Binding, bool, error)
	LookupAny(ctx context.Context, channelID string) (Binding, bool, error)
	ListForServer(ctx context.Context, serverID string) ([]Binding, error)
	RecordSuccess(ctx context.Context, channelID string) error
	RecordFailure(ctx context.Context, channelID string, reason string, countsTowardLimit bool) (FailureResult, error)
	ToggleAutomatedOrigin(ctx context.Context, channelID string) (ToggleResult, bool, error)
	TouchAdministrator(ctx context.Context, admin AdminIdentity) (Administrator, error)
	Stats(ctx context.Context) (RegistryStats, error)
}

// SnapshotStore exposes table level reads and bulk loads used by the
// snapshot exporter and importer.
type SnapshotStore interface {
	ListAdministrators(ctx context.Context) ([]Administrator, error)
	ListServers(ctx context.Context) ([]Server, error)
	ListBindings(ctx context.Context) ([]Binding, error)
	ImportSnapshot(ctx context.Context, tables SnapshotTables, mode ImportMode) (ImportCounts, error)
}

type StoreProvider interface {
	RegistryStore() RegistryStore
	SnapshotStore() SnapshotStore
}

type RepositoryStoreFactory interface {
	BuildStores(persistenceClient any) (StoreProvider, error)
}

// WebhookPoster performs a single JSON POST and reports a typed outcome. It
// never returns an error; failures are described by the outcome.
type WebhookPoster interface {
	Post(ctx context.Context, endpointURL string, payload map[string]any, timeout time.Duration) DeliveryOutcome
}

type EventDeliverer interface {
	Deliver(ctx context.Context, channelID string, event Event) DeliveryReport
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

// SnapshotService is the export/restore surface driven by jobs, the CLI and
// the scheduler.
type SnapshotService interface {
	Export(ctx context.Context) (SnapshotExportResult, error)
	Restore(ctx context.Context, req RestoreRequest) (ImportReport, error)
}

type JobExecutionMessage struct {
	JobID          string
	ScriptPath     string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

type JobWorkerHook interface {
	OnStart(ctx context.Context, event JobWorkerEvent)
	OnSuccess(ctx context.Context, event JobWorkerEvent)
	OnFailure(ctx context.Context, event JobWorkerEvent)
	OnRetry(ctx context.Context, event JobWorkerEvent)
}

type JobWorkerEvent struct {
	Message   *JobExecutionMessage
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}
