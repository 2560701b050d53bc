package core

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type DeliveryStatus string

const (
	DeliveryStatusDelivered              DeliveryStatus = "success"
	DeliveryStatusSkippedUnbound         DeliveryStatus = "skipped_unbound"
	DeliveryStatusSkippedAutomatedOrigin DeliveryStatus = "skipped_automated_origin"
	DeliveryStatusFailed                 DeliveryStatus = "failure"
	DeliveryStatusTripped                DeliveryStatus = "tripped"
	// DeliveryStatusErrored covers lookup, formatting and health update
	// errors. The event is dropped.
	DeliveryStatusErrored DeliveryStatus = "error"
)

// DeliveryReport describes what happened to one event. Deliver never returns
// an error; everything lands here.
type DeliveryReport struct {
	ChannelID      string
	EventType      string
	Status         DeliveryStatus
	Attempted      bool
	Outcome        DeliveryOutcome
	Classification *Classification
	FailureCount   int
	Err            error
}

type PipelineConfig struct {
	Store     RegistryStore
	Poster    WebhookPoster
	Formatter EventFormatter
	Timeout   time.Duration
	Clock     func() time.Time
	Logger    Logger
	Metrics   MetricsRecorder
}

// DeliveryPipeline forwards one event to the binding of its channel and
// feeds the outcome into the binding health fields.
type DeliveryPipeline struct {
	store     RegistryStore
	poster    WebhookPoster
	formatter EventFormatter
	timeout   time.Duration
	clock     func() time.Time
	observer
}

func NewDeliveryPipeline(cfg PipelineConfig) (*DeliveryPipeline, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("core: delivery pipeline requires a registry store")
	}
	if cfg.Poster == nil {
		return nil, fmt.Errorf("core: delivery pipeline requires a webhook poster")
	}
	formatter := cfg.Formatter
	if formatter == nil {
		formatter = DefaultEventFormatter{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultConfig().Delivery.Timeout
	}
	clock := cfg.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NopMetricsRecorder{}
	}
	return &DeliveryPipeline{
		store:     cfg.Store,
		poster:    cfg.Poster,
		formatter: formatter,
		timeout:   timeout,
		clock:     clock,
		observer:  observer{logger: cfg.Logger, metrics: metrics},
	}, nil
}

func (p *DeliveryPipeline) Deliver(ctx context.Context, channelID string, event Event) (report DeliveryReport) {
	startedAt := time.Now()
	channelID = strings.TrimSpace(channelID)
	report = DeliveryReport{ChannelID: channelID}
	defer func() {
		if recovered := recover(); recovered != nil {
			report.Status = DeliveryStatusErrored
			report.Err = fmt.Errorf("core: delivery panicked: %v", recovered)
		}
		p.observeDelivery(ctx, startedAt, event, report)
	}()

	if channelID == "" {
		report.Status = DeliveryStatusErrored
		report.Err = fmt.Errorf("core: channel id is required")
		return report
	}

	binding, found, err := p.store.LookupActive(ctx, channelID)
	if err != nil {
		report.Status = DeliveryStatusErrored
		report.Err = StorageError(err, "lookup_active")
		return report
	}
	if !found {
		report.Status = DeliveryStatusSkippedUnbound
		return report
	}
	if event.FromAutomatedOrigin && !binding.AcceptAutomatedOrigin {
		report.Status = DeliveryStatusSkippedAutomatedOrigin
		return report
	}

	fields, err := p.formatter.Format(event)
	if err != nil {
		report.Status = DeliveryStatusErrored
		report.Err = err
		return report
	}
	report.EventType = event.WireType()
	payload := BuildPayload(report.EventType, fields, p.clock())

	report.Attempted = true
	report.Outcome = p.poster.Post(ctx, binding.EndpointURL, payload, p.timeout)

	classification, failed := Classify(report.Outcome)
	if !failed {
		report.Status = DeliveryStatusDelivered
		if err := p.store.RecordSuccess(ctx, channelID); err != nil {
			report.Status = DeliveryStatusErrored
			report.Err = StorageError(err, "record_success")
		}
		return report
	}

	report.Classification = &classification
	report.Status = DeliveryStatusFailed
	report.Err = DeliveryError(channelID, classification)
	result, err := p.store.RecordFailure(ctx, channelID, classification.ErrorText, classification.CountsTowardLimit)
	if err != nil {
		report.Status = DeliveryStatusErrored
		report.Err = StorageError(err, "record_failure")
		return report
	}
	report.FailureCount = result.FailureCount
	if result.Tripped {
		report.Status = DeliveryStatusTripped
	}
	return report
}

// BuildPayload assembles the outbound body. event_type and timestamp are
// written after the formatter fields and always win.
func BuildPayload(eventType string, fields map[string]any, at time.Time) map[string]any {
	payload := make(map[string]any, len(fields)+2)
	for key, value := range fields {
		payload[key] = value
	}
	payload["event_type"] = eventType
	payload["timestamp"] = at.UnixMilli()
	return payload
}

func (p *DeliveryPipeline) observeDelivery(ctx context.Context, startedAt time.Time, event Event, report DeliveryReport) {
	tags := map[string]string{
		"outcome": string(report.Status),
		"kind":    string(event.Kind),
	}
	if report.Classification != nil {
		tags["failure_kind"] = string(report.Classification.Kind)
	}
	p.recordCounter(ctx, MetricDeliveryTotal, 1, tags)
	if report.Attempted {
		p.recordHistogram(ctx, MetricDeliveryDuration, float64(time.Since(startedAt).Milliseconds()), tags)
	}

	fields := map[string]any{
		"channel_id": report.ChannelID,
		"kind":       string(event.Kind),
		"outcome":    string(report.Status),
	}
	if report.EventType != "" {
		fields["event_type"] = report.EventType
	}
	if report.Attempted {
		fields["status_code"] = report.Outcome.StatusCode
		fields["duration_ms"] = report.Outcome.Duration.Milliseconds()
	}
	if report.Classification != nil {
		fields["failure_kind"] = string(report.Classification.Kind)
		fields["counts_toward_limit"] = report.Classification.CountsTowardLimit
		fields["failure_count"] = report.FailureCount
	}
	if report.Err != nil {
		fields["error"] = report.Err.Error()
	}

	switch report.Status {
	case DeliveryStatusDelivered:
		p.logDebug(ctx, "webhook delivered", fields)
	case DeliveryStatusSkippedUnbound, DeliveryStatusSkippedAutomatedOrigin:
		p.logDebug(ctx, "webhook delivery skipped", fields)
	case DeliveryStatusFailed:
		p.logWarn(ctx, "webhook delivery failed", fields)
	case DeliveryStatusTripped:
		p.logError(ctx, "webhook disabled after consecutive failures", fields)
	default:
		p.logError(ctx, "webhook delivery error", fields)
	}
}
