package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	JobIDSnapshotExport  = "relay.snapshot.export"
	JobIDSnapshotRestore = "relay.snapshot.restore"

	defaultSnapshotRetryDelay = 30 * time.Second
	defaultJobIdlePoll        = time.Second
)

func NewSnapshotExportMessage(idempotencyKey string) *JobExecutionMessage {
	return &JobExecutionMessage{
		JobID:          JobIDSnapshotExport,
		Parameters:     map[string]any{},
		IdempotencyKey: strings.TrimSpace(idempotencyKey),
	}
}

func NewSnapshotRestoreMessage(req RestoreRequest) *JobExecutionMessage {
	mode := req.Mode
	if mode == "" {
		mode = ImportModeMerge
	}
	return &JobExecutionMessage{
		JobID: JobIDSnapshotRestore,
		Parameters: map[string]any{
			"source": strings.TrimSpace(req.Source),
			"name":   strings.TrimSpace(req.Name),
			"mode":   string(mode),
		},
	}
}

type SnapshotJobConfig struct {
	Snapshots  SnapshotService
	Hook       JobWorkerHook
	RetryDelay time.Duration
	// IdlePoll is how long Run waits after an empty dequeue or a failed
	// processing step.
	IdlePoll time.Duration
	Logger   Logger
	Metrics    MetricsRecorder
}

// SnapshotJobRunner executes snapshot export and restore job messages.
type SnapshotJobRunner struct {
	snapshots  SnapshotService
	hook       JobWorkerHook
	retryDelay time.Duration
	idlePoll   time.Duration
	observer
}

func NewSnapshotJobRunner(cfg SnapshotJobConfig) (*SnapshotJobRunner, error) {
	if cfg.Snapshots == nil {
		return nil, fmt.Errorf("core: snapshot job runner requires a snapshot service")
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = defaultSnapshotRetryDelay
	}
	idlePoll := cfg.IdlePoll
	if idlePoll <= 0 {
		idlePoll = defaultJobIdlePoll
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NopMetricsRecorder{}
	}
	return &SnapshotJobRunner{
		snapshots:  cfg.Snapshots,
		hook:       cfg.Hook,
		retryDelay: retryDelay,
		idlePoll:   idlePoll,
		observer:   observer{logger: cfg.Logger, metrics: metrics},
	}, nil
}

// Handle runs one job message to completion.
func (r *SnapshotJobRunner) Handle(ctx context.Context, msg *JobExecutionMessage) (err error) {
	if r == nil {
		return fmt.Errorf("core: snapshot job runner is not configured")
	}
	if msg == nil {
		return fmt.Errorf("core: job message is required")
	}
	startedAt := time.Now().UTC()
	jobID := strings.TrimSpace(msg.JobID)
	fields := map[string]any{"job_id": jobID}
	defer func() {
		r.observeOperation(ctx, startedAt, "snapshot_job", err, fields)
	}()

	switch jobID {
	case JobIDSnapshotExport:
		result, exportErr := r.snapshots.Export(ctx)
		if exportErr != nil {
			return exportErr
		}
		fields["snapshot"] = result.Name
		fields["published"] = result.Published
		return nil
	case JobIDSnapshotRestore:
		req, parseErr := restoreRequestFromParameters(msg.Parameters)
		if parseErr != nil {
			return parseErr
		}
		report, restoreErr := r.snapshots.Restore(ctx, req)
		if restoreErr != nil {
			return restoreErr
		}
		fields["snapshot"] = report.Source
		fields["mode"] = string(report.Mode)
		fields["inserted"] = report.Inserted.Total()
		return nil
	default:
		return fmt.Errorf("core: unsupported job id %q", msg.JobID)
	}
}

// ProcessNext dequeues and handles one delivery. Failures are nacked for a
// delayed retry unless the message itself is invalid.
func (r *SnapshotJobRunner) ProcessNext(ctx context.Context, dequeuer JobDequeuer) error {
	_, err := r.processNext(ctx, dequeuer)
	return err
}

func (r *SnapshotJobRunner) processNext(ctx context.Context, dequeuer JobDequeuer) (bool, error) {
	if r == nil {
		return false, fmt.Errorf("core: snapshot job runner is not configured")
	}
	if dequeuer == nil {
		return false, fmt.Errorf("core: job dequeuer is required")
	}
	delivery, err := dequeuer.Dequeue(ctx)
	if err != nil {
		return false, err
	}
	if delivery == nil {
		return false, nil
	}

	event := JobWorkerEvent{Message: delivery.Message(), Attempt: deliveryAttempt(delivery), StartedAt: time.Now().UTC()}
	r.emitHook(ctx, "start", event)

	handleErr := r.Handle(ctx, event.Message)
	event.Duration = time.Since(event.StartedAt)
	if handleErr == nil {
		r.emitHook(ctx, "success", event)
		return true, delivery.Ack(ctx)
	}

	event.Err = handleErr
	if !isRetryableJobError(handleErr) {
		r.emitHook(ctx, "failure", event)
		return true, delivery.Nack(ctx, JobNackOptions{DeadLetter: true, Reason: handleErr.Error()})
	}
	event.Delay = r.retryDelay
	r.emitHook(ctx, "retry", event)
	return true, delivery.Nack(ctx, JobNackOptions{
		Delay:   r.retryDelay,
		Requeue: true,
		Reason:  handleErr.Error(),
	})
}

// Run processes deliveries until ctx is cancelled, pausing for the idle poll
// interval whenever the queue is empty or a step fails.
func (r *SnapshotJobRunner) Run(ctx context.Context, dequeuer JobDequeuer) error {
	if r == nil {
		return fmt.Errorf("core: snapshot job runner is not configured")
	}
	timer := time.NewTimer(r.idlePoll)
	timer.Stop()
	defer timer.Stop()
	for {
		if ctx.Err() != nil {
			return nil
		}
		handled, err := r.processNext(ctx, dequeuer)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.logError(ctx, "snapshot job processing failed", map[string]any{"error": err.Error()})
		}
		if handled && err == nil {
			continue
		}
		timer.Reset(r.idlePoll)
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}
	}
}

// deliveryAttempt reads the 1-based attempt from deliveries that track it.
func deliveryAttempt(delivery JobDelivery) int {
	if counted, ok := delivery.(interface{ Attempt() int }); ok {
		if attempt := counted.Attempt(); attempt > 0 {
			return attempt
		}
	}
	return 1
}

func (r *SnapshotJobRunner) emitHook(ctx context.Context, phase string, event JobWorkerEvent) {
	if r.hook == nil {
		return
	}
	switch phase {
	case "start":
		r.hook.OnStart(ctx, event)
	case "success":
		r.hook.OnSuccess(ctx, event)
	case "retry":
		r.hook.OnRetry(ctx, event)
	default:
		r.hook.OnFailure(ctx, event)
	}
}

func isRetryableJobError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrSnapshotBusy) || hasTextCode(err, RelayErrorSnapshotBusy) {
		return true
	}
	return IsSnapshotTransportError(err) || IsStorageError(err)
}

func restoreRequestFromParameters(params map[string]any) (RestoreRequest, error) {
	req := RestoreRequest{}
	if source, ok := params["source"].(string); ok {
		req.Source = strings.TrimSpace(source)
	}
	if name, ok := params["name"].(string); ok {
		req.Name = strings.TrimSpace(name)
	}
	rawMode, _ := params["mode"].(string)
	mode, err := ParseImportMode(rawMode)
	if err != nil {
		return RestoreRequest{}, err
	}
	req.Mode = mode
	return req, nil
}
