package core

import (
	"context"
	"strings"
)

// Metric names emitted outside the per-operation counters.
const (
	MetricDeliveryTotal    = metricPrefix + "delivery.total"
	MetricDeliveryDuration = metricPrefix + "delivery.duration_ms"
	MetricDispatchDropped  = metricPrefix + "dispatch.dropped"
	MetricInboundTotal     = metricPrefix + "inbound.total"
)

// NopMetricsRecorder discards every sample.
type NopMetricsRecorder struct{}

func (NopMetricsRecorder) IncCounter(context.Context, string, int64, map[string]string) {}

func (NopMetricsRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

// cloneTags copies tags so recorders never alias caller maps. Blank keys
// are dropped.
func cloneTags(tags map[string]string) map[string]string {
	copied := make(map[string]string, len(tags))
	for key, value := range tags {
		if key = strings.TrimSpace(key); key == "" {
			continue
		}
		copied[key] = value
	}
	return copied
}
