package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"
)

type ErrorFactory func(message string, category ...goerrors.Category) *goerrors.Error

type ErrorMapper func(err error) *goerrors.Error

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type serviceBuilder struct {
	runtimeConfig     Config
	logger            Logger
	loggerProvider    LoggerProvider
	metricsRecorder   MetricsRecorder
	errorFactory      ErrorFactory
	errorMapper       ErrorMapper
	persistenceClient any
	repositoryFactory any
	configProvider    ConfigProvider
	optionsResolver   OptionsResolver
	registryStore     RegistryStore
	snapshotStore     SnapshotStore
	webhookPoster     WebhookPoster
	eventFormatter    EventFormatter
	clock             func() time.Time
}

type Option func(*serviceBuilder)

func WithLogger(logger Logger) Option {
	return func(b *serviceBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *serviceBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *serviceBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithErrorFactory(factory ErrorFactory) Option {
	return func(b *serviceBuilder) {
		b.errorFactory = factory
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *serviceBuilder) {
		b.errorMapper = mapper
	}
}

func WithPersistenceClient(client any) Option {
	return func(b *serviceBuilder) {
		b.persistenceClient = client
	}
}

// WithRepositoryFactory accepts a RepositoryStoreFactory or a StoreProvider.
func WithRepositoryFactory(factory any) Option {
	return func(b *serviceBuilder) {
		b.repositoryFactory = factory
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *serviceBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *serviceBuilder) {
		b.optionsResolver = resolver
	}
}

func WithRegistryStore(store RegistryStore) Option {
	return func(b *serviceBuilder) {
		b.registryStore = store
	}
}

func WithSnapshotStore(store SnapshotStore) Option {
	return func(b *serviceBuilder) {
		b.snapshotStore = store
	}
}

func WithWebhookPoster(poster WebhookPoster) Option {
	return func(b *serviceBuilder) {
		b.webhookPoster = poster
	}
}

func WithEventFormatter(formatter EventFormatter) Option {
	return func(b *serviceBuilder) {
		b.eventFormatter = formatter
	}
}

func WithClock(clock func() time.Time) Option {
	return func(b *serviceBuilder) {
		b.clock = clock
	}
}

func defaultServiceBuilder(runtime Config) serviceBuilder {
	loggerProvider, logger := glog.Resolve("relay", nil, nil)
	return serviceBuilder{
		runtimeConfig:   runtime,
		loggerProvider:  loggerProvider,
		logger:          logger,
		metricsRecorder: NopMetricsRecorder{},
		errorFactory:    goerrors.New,
		errorMapper:     defaultErrorMapper,
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
		eventFormatter:  DefaultEventFormatter{},
		clock:           func() time.Time { return time.Now().UTC() },
	}
}

func defaultErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	return relayErrorMapper(err)
}

type staticRawConfigLoader struct {
	Values map[string]any
}

// NewStaticConfigLoader serves a fixed raw config map, typically produced by
// ConfigLayer from a config decoded elsewhere.
func NewStaticConfigLoader(values map[string]any) RawConfigLoader {
	return staticRawConfigLoader{Values: values}
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// GoOptionsResolver merges defaults < loaded config < runtime config. The
// loaded layer is complete because providers build it on top of defaults;
// the runtime layer only carries non-zero values.
type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	defaultLayer := configToLayerMap(defaults, true)
	loadedLayer := configToLayerMap(loaded, true)
	runtimeLayer := configToLayerMap(runtime, false)

	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			defaultLayer,
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			loadedLayer,
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			runtimeLayer,
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

// ConfigLayer renders every field of cfg as a nested raw map.
func ConfigLayer(cfg Config) map[string]any {
	return configToLayerMap(cfg, true)
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		layer["service_name"] = cfg.ServiceName
	}

	delivery := map[string]any{}
	if includeZero || cfg.Delivery.Timeout > 0 {
		delivery["timeout"] = cfg.Delivery.Timeout
	}
	if includeZero || cfg.Delivery.ValidationTimeout > 0 {
		delivery["validation_timeout"] = cfg.Delivery.ValidationTimeout
	}
	if includeZero || cfg.Delivery.MaxResponseBodyBytes > 0 {
		delivery["max_response_body_bytes"] = cfg.Delivery.MaxResponseBodyBytes
	}
	if includeZero || cfg.Delivery.ChannelBuffer > 0 {
		delivery["channel_buffer"] = cfg.Delivery.ChannelBuffer
	}
	if len(delivery) > 0 {
		layer["delivery"] = delivery
	}

	registry := map[string]any{}
	if includeZero || cfg.Registry.RequireHTTPS {
		registry["require_https"] = cfg.Registry.RequireHTTPS
	}
	if includeZero || cfg.Registry.MaxConsecutiveFailures > 0 {
		registry["max_consecutive_failures"] = cfg.Registry.MaxConsecutiveFailures
	}
	if len(registry) > 0 {
		layer["registry"] = registry
	}

	snapshot := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.Snapshot.Directory) != "" {
		snapshot["directory"] = cfg.Snapshot.Directory
	}
	if includeZero || cfg.Snapshot.Retain > 0 {
		snapshot["retain"] = cfg.Snapshot.Retain
	}
	if includeZero || strings.TrimSpace(cfg.Snapshot.Schedule) != "" {
		snapshot["schedule"] = cfg.Snapshot.Schedule
	}
	if includeZero || strings.TrimSpace(cfg.Snapshot.FormatVersion) != "" {
		snapshot["format_version"] = cfg.Snapshot.FormatVersion
	}
	if includeZero || cfg.Snapshot.ColdStartRestore {
		snapshot["cold_start_restore"] = cfg.Snapshot.ColdStartRestore
	}
	if len(snapshot) > 0 {
		layer["snapshot"] = snapshot
	}

	cache := map[string]any{}
	if includeZero || cfg.Cache.Enabled {
		cache["enabled"] = cfg.Cache.Enabled
	}
	if includeZero || cfg.Cache.LookupTTL > 0 {
		cache["lookup_ttl"] = cfg.Cache.LookupTTL
	}
	if len(cache) > 0 {
		layer["cache"] = cache
	}
	return layer
}
