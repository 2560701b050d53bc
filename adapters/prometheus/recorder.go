// Package prometheus exposes relay metrics through the Prometheus client.
//
// Metric names emitted by the core ("relay.delivery.total",
// "relay.bind.duration_ms") are mapped to Prometheus names by replacing
// every character outside [a-zA-Z0-9_] with an underscore. Label names are
// fixed by the first observation of a metric; later observations fill
// missing labels with "" and drop unknown ones.
package prometheus

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-relay/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// DurationBuckets covers webhook round trips from a few milliseconds up to
// the 10s delivery timeout.
var DurationBuckets = []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

type Recorder struct {
	registerer prom.Registerer
	buckets    []float64

	mu         sync.Mutex
	counters   map[string]*counterVec
	histograms map[string]*histogramVec
	onError    func(error)
}

type counterVec struct {
	labels []string
	vec    *prom.CounterVec
}

type histogramVec struct {
	labels []string
	vec    *prom.HistogramVec
}

type Option func(*Recorder)

func WithBuckets(buckets []float64) Option {
	return func(r *Recorder) {
		if len(buckets) > 0 {
			r.buckets = append([]float64(nil), buckets...)
		}
	}
}

// WithErrorHandler receives registration conflicts; they are dropped
// otherwise.
func WithErrorHandler(fn func(error)) Option {
	return func(r *Recorder) {
		r.onError = fn
	}
}

func NewRecorder(registerer prom.Registerer, opts ...Option) *Recorder {
	if registerer == nil {
		registerer = prom.DefaultRegisterer
	}
	r := &Recorder{
		registerer: registerer,
		buckets:    DurationBuckets,
		counters:   map[string]*counterVec{},
		histograms: map[string]*histogramVec{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

func (r *Recorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	if r == nil || value < 0 {
		return
	}
	vec := r.counter(name, tags)
	if vec == nil {
		return
	}
	vec.vec.WithLabelValues(labelValues(vec.labels, tags)...).Add(float64(value))
}

func (r *Recorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	if r == nil {
		return
	}
	vec := r.histogram(name, tags)
	if vec == nil {
		return
	}
	vec.vec.WithLabelValues(labelValues(vec.labels, tags)...).Observe(value)
}

func (r *Recorder) counter(name string, tags map[string]string) *counterVec {
	metricName := MetricName(name)
	if metricName == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.counters[metricName]; ok {
		return existing
	}
	labels := labelNames(tags)
	vec := prom.NewCounterVec(prom.CounterOpts{
		Name: metricName,
		Help: fmt.Sprintf("Relay counter %s.", strings.TrimSpace(name)),
	}, labels)
	registered, err := register(r.registerer, vec)
	if err != nil {
		r.reportError(err)
		return nil
	}
	entry := &counterVec{labels: labels, vec: registered.(*prom.CounterVec)}
	r.counters[metricName] = entry
	return entry
}

func (r *Recorder) histogram(name string, tags map[string]string) *histogramVec {
	metricName := MetricName(name)
	if metricName == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.histograms[metricName]; ok {
		return existing
	}
	labels := labelNames(tags)
	vec := prom.NewHistogramVec(prom.HistogramOpts{
		Name:    metricName,
		Help:    fmt.Sprintf("Relay histogram %s.", strings.TrimSpace(name)),
		Buckets: r.buckets,
	}, labels)
	registered, err := register(r.registerer, vec)
	if err != nil {
		r.reportError(err)
		return nil
	}
	entry := &histogramVec{labels: labels, vec: registered.(*prom.HistogramVec)}
	r.histograms[metricName] = entry
	return entry
}

func (r *Recorder) reportError(err error) {
	if r.onError != nil {
		r.onError(err)
	}
}

func register(registerer prom.Registerer, collector prom.Collector) (prom.Collector, error) {
	if err := registerer.Register(collector); err != nil {
		var already prom.AlreadyRegisteredError
		if errors.As(err, &already) {
			return already.ExistingCollector, nil
		}
		return nil, err
	}
	return collector, nil
}

// MetricName maps a dotted relay metric name to a Prometheus metric name.
func MetricName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	var b strings.Builder
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				b.WriteRune('_')
			}
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

func labelNames(tags map[string]string) []string {
	labels := make([]string, 0, len(tags))
	for key := range tags {
		if label := MetricName(key); label != "" {
			labels = append(labels, label)
		}
	}
	sort.Strings(labels)
	return labels
}

func labelValues(labels []string, tags map[string]string) []string {
	byLabel := make(map[string]string, len(tags))
	for key, value := range tags {
		byLabel[MetricName(key)] = value
	}
	values := make([]string, len(labels))
	for i, label := range labels {
		values[i] = byLabel[label]
	}
	return values
}

// StatsFunc reads the current registry size.
type StatsFunc func(ctx context.Context) (core.RegistryStats, error)

// RegistryCollector reports binding and server counts at scrape time.
type RegistryCollector struct {
	stats    StatsFunc
	timeout  time.Duration
	bindings *prom.Desc
	servers  *prom.Desc
}

func NewRegistryCollector(stats StatsFunc, timeout time.Duration) *RegistryCollector {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &RegistryCollector{
		stats:    stats,
		timeout:  timeout,
		bindings: prom.NewDesc("relay_registry_bindings", "Channel webhook bindings currently stored.", nil, nil),
		servers:  prom.NewDesc("relay_registry_servers", "Servers currently stored.", nil, nil),
	}
}

func (c *RegistryCollector) Describe(ch chan<- *prom.Desc) {
	ch <- c.bindings
	ch <- c.servers
}

func (c *RegistryCollector) Collect(ch chan<- prom.Metric) {
	if c.stats == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	stats, err := c.stats(ctx)
	if err != nil {
		ch <- prom.NewInvalidMetric(c.bindings, err)
		return
	}
	ch <- prom.MustNewConstMetric(c.bindings, prom.GaugeValue, float64(stats.BindingCount))
	ch <- prom.MustNewConstMetric(c.servers, prom.GaugeValue, float64(stats.ServerCount))
}

var (
	_ core.MetricsRecorder = (*Recorder)(nil)
	_ prom.Collector       = (*RegistryCollector)(nil)
)
