package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

var (
	ErrDispatcherClosed = errors.New("core: dispatcher is closed")
	ErrChannelLaneFull  = errors.New("core: channel lane is full")
)

type EventDelivererFunc func(ctx context.Context, channelID string, event Event) DeliveryReport

func (f EventDelivererFunc) Deliver(ctx context.Context, channelID string, event Event) DeliveryReport {
	return f(ctx, channelID, event)
}

type DispatcherConfig struct {
	Deliverer EventDeliverer
	// LaneCapacity bounds the events waiting per channel.
	LaneCapacity int
	OnReport     func(DeliveryReport)
	Logger       Logger
	Metrics      MetricsRecorder
}

type channelLane struct {
	pending []Event
	running bool
}

// ChannelDispatcher runs deliveries as independent tasks. Events for the same
// channel are attempted in submission order; different channels proceed in
// parallel.
type ChannelDispatcher struct {
	deliverer EventDeliverer
	capacity  int
	onReport  func(DeliveryReport)
	base      context.Context
	observer

	mu     sync.Mutex
	lanes  map[string]*channelLane
	closed bool
	wg     sync.WaitGroup
}

func NewChannelDispatcher(cfg DispatcherConfig) (*ChannelDispatcher, error) {
	if cfg.Deliverer == nil {
		return nil, fmt.Errorf("core: dispatcher requires a deliverer")
	}
	capacity := cfg.LaneCapacity
	if capacity <= 0 {
		capacity = DefaultConfig().Delivery.ChannelBuffer
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NopMetricsRecorder{}
	}
	return &ChannelDispatcher{
		deliverer: cfg.Deliverer,
		capacity:  capacity,
		onReport:  cfg.OnReport,
		base:      context.Background(),
		observer:  observer{logger: cfg.Logger, metrics: metrics},
		lanes:     map[string]*channelLane{},
	}, nil
}

// Submit queues the event on its channel lane and returns without waiting
// for the delivery.
func (d *ChannelDispatcher) Submit(ctx context.Context, event Event) error {
	if d == nil {
		return ErrDispatcherClosed
	}
	channelID := strings.TrimSpace(event.ChannelID)
	if channelID == "" {
		return fmt.Errorf("core: event channel id is required")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	lane := d.lanes[channelID]
	if lane == nil {
		lane = &channelLane{}
		d.lanes[channelID] = lane
	}
	if len(lane.pending) >= d.capacity {
		d.recordCounter(ctx, MetricDispatchDropped, 1, map[string]string{"kind": string(event.Kind)})
		d.logWarn(ctx, "channel lane full, event dropped", map[string]any{
			"channel_id": channelID,
			"kind":       string(event.Kind),
			"capacity":   d.capacity,
		})
		return fmt.Errorf("%w: channel %s", ErrChannelLaneFull, channelID)
	}
	lane.pending = append(lane.pending, event)
	if !lane.running {
		lane.running = true
		d.wg.Add(1)
		go d.drain(channelID, lane)
	}
	return nil
}

func (d *ChannelDispatcher) drain(channelID string, lane *channelLane) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		if len(lane.pending) == 0 {
			lane.running = false
			delete(d.lanes, channelID)
			d.mu.Unlock()
			return
		}
		event := lane.pending[0]
		lane.pending[0] = Event{}
		lane.pending = lane.pending[1:]
		d.mu.Unlock()

		report := d.deliverer.Deliver(d.base, channelID, event)
		if d.onReport != nil {
			d.onReport(report)
		}
	}
}

// Pending reports the number of queued events for a channel.
func (d *ChannelDispatcher) Pending(channelID string) int {
	if d == nil {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if lane := d.lanes[strings.TrimSpace(channelID)]; lane != nil {
		return len(lane.pending)
	}
	return 0
}

// Close stops accepting events and waits for queued deliveries to finish or
// for ctx to end.
func (d *ChannelDispatcher) Close(ctx context.Context) error {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
