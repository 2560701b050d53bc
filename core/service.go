package core

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
)

const validationMessage = "Webhook validation test from relay"

type Service struct {
	config            Config
	loggerProvider    LoggerProvider
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
	healthPolicy      HealthPolicy
	pipeline          *DeliveryPipeline
	clock             func() time.Time
	observer
}

type ServiceDependencies struct {
	Logger            Logger
	LoggerProvider    LoggerProvider
	MetricsRecorder   MetricsRecorder
	ErrorFactory      ErrorFactory
	ErrorMapper       ErrorMapper
	PersistenceClient any
	RepositoryFactory any
	ConfigProvider    ConfigProvider
	OptionsResolver   OptionsResolver
	RegistryStore     RegistryStore
	SnapshotStore     SnapshotStore
	WebhookPoster     WebhookPoster
	EventFormatter    EventFormatter
}

type UnbindRequest struct {
	ChannelID string
	Admin     *AdminIdentity
}

type ToggleRequest struct {
	ChannelID string
	Admin     *AdminIdentity
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("relay", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("relay"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.errorFactory == nil {
		builder.errorFactory = goerrors.New
	}
	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.eventFormatter == nil {
		builder.eventFormatter = DefaultEventFormatter{}
	}
	if builder.clock == nil {
		builder.clock = func() time.Time { return time.Now().UTC() }
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	if (builder.registryStore == nil || builder.snapshotStore == nil) && builder.repositoryFactory != nil {
		var stores StoreProvider
		if storeFactory, ok := builder.repositoryFactory.(RepositoryStoreFactory); ok {
			built, buildErr := storeFactory.BuildStores(builder.persistenceClient)
			if buildErr != nil {
				return nil, mapBuildError(builder.errorMapper, buildErr)
			}
			stores = built
		} else if provided, ok := builder.repositoryFactory.(StoreProvider); ok {
			stores = provided
		}
		if stores != nil {
			if builder.registryStore == nil {
				builder.registryStore = stores.RegistryStore()
			}
			if builder.snapshotStore == nil {
				builder.snapshotStore = stores.SnapshotStore()
			}
		}
	}

	svc := &Service{
		config:            finalConfig,
		loggerProvider:    provider,
		errorFactory:      builder.errorFactory,
		errorMapper:       builder.errorMapper,
		persistenceClient: builder.persistenceClient,
		repositoryFactory: builder.repositoryFactory,
		configProvider:    builder.configProvider,
		optionsResolver:   builder.optionsResolver,
		registryStore:     builder.registryStore,
		snapshotStore:     builder.snapshotStore,
		webhookPoster:     builder.webhookPoster,
		eventFormatter:    builder.eventFormatter,
		healthPolicy:      HealthPolicy{MaxConsecutiveFailures: finalConfig.Registry.MaxConsecutiveFailures},
		clock:             builder.clock,
		observer:          observer{logger: logger, metrics: builder.metricsRecorder},
	}

	if svc.registryStore != nil && svc.webhookPoster != nil {
		pipelineLogger := logger
		if provider != nil {
			pipelineLogger = glog.Ensure(provider.GetLogger("relay.delivery"))
		}
		pipeline, pipelineErr := NewDeliveryPipeline(PipelineConfig{
			Store:     svc.registryStore,
			Poster:    svc.webhookPoster,
			Formatter: svc.eventFormatter,
			Timeout:   finalConfig.Delivery.Timeout,
			Clock:     svc.clock,
			Logger:    pipelineLogger,
			Metrics:   builder.metricsRecorder,
		})
		if pipelineErr != nil {
			return nil, mapBuildError(builder.errorMapper, pipelineErr)
		}
		svc.pipeline = pipeline
	}
	return svc, nil
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return NewService(cfg, opts...)
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Dependencies() ServiceDependencies {
	if s == nil {
		return ServiceDependencies{}
	}
	return ServiceDependencies{
		Logger:            s.logger,
		LoggerProvider:    s.loggerProvider,
		MetricsRecorder:   s.metrics,
		ErrorFactory:      s.errorFactory,
		ErrorMapper:       s.errorMapper,
		PersistenceClient: s.persistenceClient,
		RepositoryFactory: s.repositoryFactory,
		ConfigProvider:    s.configProvider,
		OptionsResolver:   s.optionsResolver,
		RegistryStore:     s.registryStore,
		SnapshotStore:     s.snapshotStore,
		WebhookPoster:     s.webhookPoster,
		EventFormatter:    s.eventFormatter,
	}
}

// Pipeline returns the delivery pipeline, or nil when no poster or store is
// configured.
func (s *Service) Pipeline() *DeliveryPipeline {
	if s == nil {
		return nil
	}
	return s.pipeline
}

// NewDispatcher builds a channel dispatcher on top of the service pipeline.
func (s *Service) NewDispatcher(onReport func(DeliveryReport)) (*ChannelDispatcher, error) {
	if s == nil || s.pipeline == nil {
		return nil, s.mapError(fmt.Errorf("core: delivery pipeline is not configured"))
	}
	logger := s.logger
	if s.loggerProvider != nil {
		logger = glog.Ensure(s.loggerProvider.GetLogger("relay.dispatcher"))
	}
	dispatcher, err := NewChannelDispatcher(DispatcherConfig{
		Deliverer:    s.pipeline,
		LaneCapacity: s.config.Delivery.ChannelBuffer,
		OnReport:     onReport,
		Logger:       logger,
		Metrics:      s.metrics,
	})
	if err != nil {
		return nil, s.mapError(err)
	}
	return dispatcher, nil
}

// Deliver forwards one event synchronously. It never fails; the report
// carries the result.
func (s *Service) Deliver(ctx context.Context, channelID string, event Event) DeliveryReport {
	if s == nil || s.pipeline == nil {
		return DeliveryReport{
			ChannelID: channelID,
			Status:    DeliveryStatusErrored,
			Err:       fmt.Errorf("core: delivery pipeline is not configured"),
		}
	}
	return s.pipeline.Deliver(ctx, channelID, event)
}

func (s *Service) Bind(ctx context.Context, in BindInput) (result BindResult, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"channel_id": in.ChannelID,
		"server_id":  in.ServerID,
	}
	defer func() {
		if result.Administrator != nil {
			fields["admin_first_seen"] = result.Administrator.FirstSeenNow()
		}
		s.observeOperation(ctx, startedAt, "bind", err, fields)
	}()

	if err = s.requireStore(); err != nil {
		return BindResult{}, err
	}
	normalized := BindInput{
		ChannelID:   strings.TrimSpace(in.ChannelID),
		EndpointURL: strings.TrimSpace(in.EndpointURL),
		ServerID:    strings.TrimSpace(in.ServerID),
		ServerName:  strings.TrimSpace(in.ServerName),
		Admin:       in.Admin,
	}
	if err = normalized.Validate(); err != nil {
		err = s.mapError(err)
		return BindResult{}, err
	}
	if err = s.ValidateEndpoint(ctx, normalized.EndpointURL); err != nil {
		return BindResult{}, err
	}

	result, err = s.registryStore.Bind(ctx, normalized)
	if err != nil {
		err = s.storeError(err, "bind")
		return BindResult{}, err
	}
	return result, nil
}

// ValidateEndpoint checks the URL shape and sends a test event that must be
// answered with a 2xx status.
func (s *Service) ValidateEndpoint(ctx context.Context, endpointURL string) error {
	if err := s.checkEndpointURL(endpointURL); err != nil {
		return s.mapError(err)
	}
	if s.webhookPoster == nil {
		return s.mapError(fmt.Errorf("core: webhook poster is required for endpoint validation"))
	}
	payload := BuildPayload(WireTypeValidationTestEvent, map[string]any{
		"message": validationMessage,
	}, s.clock())
	outcome := s.webhookPoster.Post(ctx, endpointURL, payload, s.config.Delivery.ValidationTimeout)
	if classification, failed := Classify(outcome); failed {
		return EndpointUnreachableError(endpointURL, classification.ErrorText)
	}
	return nil
}

func (s *Service) checkEndpointURL(endpointURL string) error {
	parsed, err := url.Parse(strings.TrimSpace(endpointURL))
	if err != nil {
		return fmt.Errorf("core: endpoint url is invalid: %v", err)
	}
	if !parsed.IsAbs() || strings.TrimSpace(parsed.Host) == "" {
		return fmt.Errorf("core: endpoint url must be absolute")
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme == "https" {
		return nil
	}
	if scheme == "http" && !s.config.Registry.RequireHTTPS {
		return nil
	}
	return fmt.Errorf("core: endpoint url must use https")
}

func (s *Service) Unbind(ctx context.Context, req UnbindRequest) (binding Binding, err error) {
	startedAt := time.Now().UTC()
	channelID := strings.TrimSpace(req.ChannelID)
	fields := map[string]any{"channel_id": channelID}
	defer func() {
		if binding.ServerID != "" {
			fields["server_id"] = binding.ServerID
		}
		s.observeOperation(ctx, startedAt, "unbind", err, fields)
	}()

	if err = s.requireStore(); err != nil {
		return Binding{}, err
	}
	if channelID == "" {
		err = s.mapError(fmt.Errorf("core: channel id is required"))
		return Binding{}, err
	}
	if err = s.touchAdministrator(ctx, req.Admin); err != nil {
		return Binding{}, err
	}
	binding, err = s.registryStore.Unbind(ctx, channelID)
	if err != nil {
		err = s.storeError(err, "unbind")
		return Binding{}, err
	}
	return binding, nil
}

func (s *Service) GetBindingDetails(ctx context.Context, channelID string) (binding Binding, err error) {
	startedAt := time.Now().UTC()
	channelID = strings.TrimSpace(channelID)
	defer func() {
		s.observeOperation(ctx, startedAt, "get_binding_details", err, map[string]any{"channel_id": channelID})
	}()

	if err = s.requireStore(); err != nil {
		return Binding{}, err
	}
	if channelID == "" {
		err = s.mapError(fmt.Errorf("core: channel id is required"))
		return Binding{}, err
	}
	found, ok, lookupErr := s.registryStore.LookupAny(ctx, channelID)
	if lookupErr != nil {
		err = s.storeError(lookupErr, "lookup_any")
		return Binding{}, err
	}
	if !ok {
		err = NotFoundError(channelID)
		return Binding{}, err
	}
	return found, nil
}

func (s *Service) ListForServer(ctx context.Context, serverID string) (bindings []Binding, err error) {
	startedAt := time.Now().UTC()
	serverID = strings.TrimSpace(serverID)
	defer func() {
		s.observeOperation(ctx, startedAt, "list_for_server", err, map[string]any{
			"server_id": serverID,
			"count":     len(bindings),
		})
	}()

	if err = s.requireStore(); err != nil {
		return nil, err
	}
	if serverID == "" {
		err = s.mapError(fmt.Errorf("core: server id is required"))
		return nil, err
	}
	bindings, err = s.registryStore.ListForServer(ctx, serverID)
	if err != nil {
		err = s.storeError(err, "list_for_server")
		return nil, err
	}
	return bindings, nil
}

func (s *Service) ToggleAutomatedOrigin(ctx context.Context, req ToggleRequest) (result ToggleResult, err error) {
	startedAt := time.Now().UTC()
	channelID := strings.TrimSpace(req.ChannelID)
	fields := map[string]any{"channel_id": channelID}
	defer func() {
		fields["accept_automated_origin"] = result.AcceptAutomatedOrigin
		s.observeOperation(ctx, startedAt, "toggle_automated_origin", err, fields)
	}()

	if err = s.requireStore(); err != nil {
		return ToggleResult{}, err
	}
	if channelID == "" {
		err = s.mapError(fmt.Errorf("core: channel id is required"))
		return ToggleResult{}, err
	}
	if err = s.touchAdministrator(ctx, req.Admin); err != nil {
		return ToggleResult{}, err
	}
	toggled, ok, toggleErr := s.registryStore.ToggleAutomatedOrigin(ctx, channelID)
	if toggleErr != nil {
		err = s.storeError(toggleErr, "toggle_automated_origin")
		return ToggleResult{}, err
	}
	if !ok {
		err = NotFoundError(channelID)
		return ToggleResult{}, err
	}
	return toggled, nil
}

func (s *Service) Stats(ctx context.Context) (stats RegistryStats, err error) {
	startedAt := time.Now().UTC()
	defer func() {
		s.observeOperation(ctx, startedAt, "stats", err, map[string]any{
			"binding_count": stats.BindingCount,
			"server_count":  stats.ServerCount,
		})
	}()

	if err = s.requireStore(); err != nil {
		return RegistryStats{}, err
	}
	stats, err = s.registryStore.Stats(ctx)
	if err != nil {
		err = s.storeError(err, "stats")
		return RegistryStats{}, err
	}
	return stats, nil
}

func (s *Service) touchAdministrator(ctx context.Context, admin *AdminIdentity) error {
	if admin == nil || admin.IsZero() {
		return nil
	}
	if _, err := s.registryStore.TouchAdministrator(ctx, *admin); err != nil {
		return s.storeError(err, "touch_administrator")
	}
	return nil
}

func (s *Service) requireStore() error {
	if s == nil || s.registryStore == nil {
		return s.mapError(fmt.Errorf("core: registry store is required"))
	}
	return nil
}

func (s *Service) storeError(err error, operation string) error {
	if err == nil {
		return nil
	}
	if IsNotFound(err) {
		return s.mapError(err)
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return s.mapError(err)
	}
	return s.mapError(StorageError(err, operation))
}

func (s *Service) mapError(err error) error {
	if err == nil {
		return nil
	}
	if s == nil || s.errorMapper == nil {
		return err
	}
	mapped := s.errorMapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) observeOperation(ctx context.Context, startedAt time.Time, operation string, err error, fields map[string]any) {
	if s == nil {
		return
	}
	s.observer.observeOperation(ctx, startedAt, operation, err, fields)
}

func (s *Service) HealthPolicy() HealthPolicy {
	if s == nil {
		return DefaultHealthPolicy()
	}
	return s.healthPolicy
}
