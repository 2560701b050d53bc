package core

import glog "github.com/goliatone/go-logger/glog"

var (
	_ EventDeliverer  = (*DeliveryPipeline)(nil)
	_ EventFormatter  = DefaultEventFormatter{}
	_ EventFormatter  = EventFormatterFunc(nil)
	_ ConfigProvider  = (*CfgxConfigProvider)(nil)
	_ OptionsResolver = GoOptionsResolver{}
	_ MetricsRecorder = NopMetricsRecorder{}

	_ Logger         = glog.Nop()
	_ LoggerProvider = glog.ProviderFromLogger(glog.Nop())
)
