package inbound

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-relay/core"
)

// IdempotencyHeader lets a gateway mark redelivered events. Events without
// it are never deduplicated.
const IdempotencyHeader = "Idempotency-Key"

// Request is one ingest call. Header names are matched case-insensitively.
type Request struct {
	Body    []byte
	Headers map[string]string
}

func (r Request) Header(name string) string {
	for existing, value := range r.Headers {
		if strings.EqualFold(strings.TrimSpace(existing), strings.TrimSpace(name)) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

type Result struct {
	Accepted   bool   `json:"accepted"`
	StatusCode int    `json:"-"`
	ChannelID  string `json:"channel_id,omitempty"`
	EventType  string `json:"event_type,omitempty"`
	Deduped    bool   `json:"deduped,omitempty"`
}

// Submitter queues an event for delivery. *core.ChannelDispatcher satisfies
// it.
type Submitter interface {
	Submit(ctx context.Context, event core.Event) error
}

type Receiver struct {
	submitter Submitter
	verifier  Verifier
	claims    ClaimStore
	claimTTL  time.Duration
	logger    core.Logger
	metrics   core.MetricsRecorder
}

type Option func(*Receiver)

func WithVerifier(verifier Verifier) Option {
	return func(r *Receiver) {
		r.verifier = verifier
	}
}

func WithClaimStore(store ClaimStore, ttl time.Duration) Option {
	return func(r *Receiver) {
		r.claims = store
		r.claimTTL = ttl
	}
}

func WithLogger(logger core.Logger) Option {
	return func(r *Receiver) {
		r.logger = logger
	}
}

func WithMetricsRecorder(recorder core.MetricsRecorder) Option {
	return func(r *Receiver) {
		if recorder != nil {
			r.metrics = recorder
		}
	}
}

func NewReceiver(submitter Submitter, opts ...Option) *Receiver {
	receiver := &Receiver{
		submitter: submitter,
		claimTTL:  defaultClaimTTL,
		metrics:   core.NopMetricsRecorder{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(receiver)
		}
	}
	_, logger := glog.Resolve("relay.inbound", nil, receiver.logger)
	receiver.logger = glog.Ensure(logger)
	return receiver
}

// Receive verifies and decodes req, then submits the event. Acceptance only
// means the event was queued on its channel lane.
func (r *Receiver) Receive(ctx context.Context, req Request) (Result, error) {
	if r == nil || r.submitter == nil {
		return Result{}, inboundInternal("inbound: receiver has no submitter", nil)
	}
	if r.verifier != nil {
		if err := r.verifier.Verify(ctx, req); err != nil {
			r.count(ctx, "rejected", "")
			return Result{StatusCode: http.StatusUnauthorized}, inboundWrapError(
				err,
				goerrors.CategoryAuth,
				"inbound: request verification failed",
				http.StatusUnauthorized,
				InboundErrorUnauthorized,
				nil,
			)
		}
	}

	var envelope core.EventEnvelope
	if err := json.Unmarshal(req.Body, &envelope); err != nil {
		r.count(ctx, "invalid", "")
		return Result{StatusCode: http.StatusBadRequest}, inboundBadInput(err, "inbound: event body is not valid JSON", nil)
	}
	event, err := envelope.ToEvent()
	if err != nil {
		r.count(ctx, "invalid", envelope.Kind)
		return Result{StatusCode: http.StatusBadRequest}, inboundBadInput(err, "inbound: invalid event", map[string]any{
			"kind":       envelope.Kind,
			"channel_id": envelope.ChannelID,
		})
	}
	result := Result{ChannelID: event.ChannelID, EventType: event.WireType()}

	claimID := ""
	if key := req.Header(IdempotencyHeader); key != "" && r.claims != nil {
		var accepted bool
		claimID, accepted, err = r.claims.Claim(ctx, event.ChannelID+":"+key, r.claimTTL)
		if err != nil {
			return Result{StatusCode: http.StatusInternalServerError}, inboundWrapError(
				err,
				goerrors.CategoryInternal,
				"inbound: idempotency claim failed",
				http.StatusInternalServerError,
				core.RelayErrorInternal,
				map[string]any{"idempotency_key": key},
			)
		}
		if !accepted {
			r.count(ctx, "deduped", string(event.Kind))
			result.Accepted = true
			result.Deduped = true
			result.StatusCode = http.StatusOK
			return result, nil
		}
	}

	if err := r.submitter.Submit(ctx, event); err != nil {
		if claimID != "" {
			if releaseErr := r.claims.Release(ctx, claimID); releaseErr != nil {
				core.LogWarn(ctx, r.logger, "idempotency claim release failed", map[string]any{
					"claim_id": claimID,
					"error":    releaseErr.Error(),
				})
			}
		}
		r.count(ctx, "dropped", string(event.Kind))
		return r.submitFailure(err, event)
	}
	if claimID != "" {
		if err := r.claims.Complete(ctx, claimID); err != nil {
			core.LogWarn(ctx, r.logger, "idempotency claim completion failed", map[string]any{
				"claim_id": claimID,
				"error":    err.Error(),
			})
		}
	}

	r.count(ctx, "accepted", string(event.Kind))
	result.Accepted = true
	result.StatusCode = http.StatusAccepted
	return result, nil
}

func (r *Receiver) submitFailure(err error, event core.Event) (Result, error) {
	metadata := map[string]any{"channel_id": event.ChannelID, "kind": string(event.Kind)}
	switch {
	case errors.Is(err, core.ErrChannelLaneFull):
		return Result{StatusCode: http.StatusTooManyRequests}, inboundWrapError(
			err,
			goerrors.CategoryRateLimit,
			"inbound: channel lane is full",
			http.StatusTooManyRequests,
			InboundErrorBackpressure,
			metadata,
		)
	case errors.Is(err, core.ErrDispatcherClosed):
		return Result{StatusCode: http.StatusServiceUnavailable}, inboundWrapError(
			err,
			goerrors.CategoryOperation,
			"inbound: dispatcher is shutting down",
			http.StatusServiceUnavailable,
			InboundErrorUnavailable,
			metadata,
		)
	default:
		return Result{StatusCode: http.StatusInternalServerError}, inboundWrapError(
			err,
			goerrors.CategoryInternal,
			"inbound: event submission failed",
			http.StatusInternalServerError,
			core.RelayErrorInternal,
			metadata,
		)
	}
}

func (r *Receiver) count(ctx context.Context, outcome string, kind string) {
	tags := map[string]string{"outcome": outcome}
	if kind != "" {
		tags["kind"] = kind
	}
	r.metrics.IncCounter(ctx, core.MetricInboundTotal, 1, tags)
}
