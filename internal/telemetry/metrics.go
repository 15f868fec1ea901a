package telemetry

import (
	"context"
	"log/slog"
	"os"

	"go.opentelemetry.io/contrib/detectors/aws/ecs"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/google/uuid"

	"github.com/IliaW/content-overlay/config"
)

var meter metric.Meter

type MetricsProvider struct {
	KafkaConsumerMetrics *KafkaConsumerMetrics
	KafkaProducerMetrics *KafkaProducerMetrics
	AppMetrics           *AppMetrics
	Close                func()
}

type KafkaConsumerMetrics struct {
	SuccessfullyReadMsgCnt func(count int64)
	FailedReadMsgCnt       func(count int64)
}

type KafkaProducerMetrics struct {
	SuccessfullySendMsgCnt func(count int64)
	FailedSendMsgCnt       func(count int64)
}

type AppMetrics struct {
	PollSucceededCnt      func(count int64)
	PollFailedCnt         func(count int64)
	TasksCreatedCnt       func(count int64)
	ReportsSubmittedCnt   func(count int64)
	NavigationChangesCnt  func(count int64)
	UnrecognizedUrlsCnt   func(count int64)
	FailedProcessedMsgCnt func(count int64)
}

// Discard returns a provider whose counters do nothing. Used when a command
// runs without telemetry and in tests.
func Discard() *MetricsProvider {
	noop := func(int64) {}
	return &MetricsProvider{
		KafkaConsumerMetrics: &KafkaConsumerMetrics{SuccessfullyReadMsgCnt: noop, FailedReadMsgCnt: noop},
		KafkaProducerMetrics: &KafkaProducerMetrics{SuccessfullySendMsgCnt: noop, FailedSendMsgCnt: noop},
		AppMetrics: &AppMetrics{
			PollSucceededCnt:      noop,
			PollFailedCnt:         noop,
			TasksCreatedCnt:       noop,
			ReportsSubmittedCnt:   noop,
			NavigationChangesCnt:  noop,
			UnrecognizedUrlsCnt:   noop,
			FailedProcessedMsgCnt: noop,
		},
		Close: func() {},
	}
}

// SetupMetrics registers every counter on the OTLP meter provider. With
// telemetry disabled it returns Discard().
func SetupMetrics(ctx context.Context, cfg *config.Config) *MetricsProvider {
	if !cfg.TelemetrySettings.Enabled {
		return Discard()
	}

	r, err := newResource(cfg)
	if err != nil {
		slog.Error("failed to get resource.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	exporter, err := newMetricExporter(ctx, cfg.TelemetrySettings)
	if err != nil {
		slog.Error("failed to get metric exporter.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	meterProvider := newMeterProvider(exporter, *r)
	otel.SetMeterProvider(meterProvider)
	meter = otel.Meter(cfg.ServiceName)

	var counters []func(int64)
	counter := func(name, description, unit string) func(int64) {
		c, err := meter.Int64Counter(name, metric.WithDescription(description), metric.WithUnit(unit))
		if err != nil {
			slog.Error("failed to create telemetry counter.", slog.String("name", name),
				slog.String("err", err.Error()))
			os.Exit(1)
		}
		add := func(count int64) { c.Add(ctx, count) }
		counters = append(counters, add)
		return add
	}

	provider := &MetricsProvider{
		KafkaConsumerMetrics: &KafkaConsumerMetrics{
			SuccessfullyReadMsgCnt: counter("overlay.kafka.read.success",
				"The number of messages that the kafka consumer successfully processed", "{messages}"),
			FailedReadMsgCnt: counter("overlay.kafka.read.fail",
				"The number of messages that the kafka consumer could not process", "{messages}"),
		},
		KafkaProducerMetrics: &KafkaProducerMetrics{
			SuccessfullySendMsgCnt: counter("overlay.kafka.send.success",
				"The number of overlay events written to kafka", "{messages}"),
			FailedSendMsgCnt: counter("overlay.kafka.send.fail",
				"The number of overlay events dropped or not written to kafka", "{messages}"),
		},
		AppMetrics: &AppMetrics{
			PollSucceededCnt: counter("overlay.poll.success",
				"The number of task status polls that returned a status", "{polls}"),
			PollFailedCnt: counter("overlay.poll.fail",
				"The number of task status polls that failed", "{polls}"),
			TasksCreatedCnt: counter("overlay.tasks.created",
				"The number of crawl tasks created", "{tasks}"),
			ReportsSubmittedCnt: counter("overlay.reports.submitted",
				"The number of aggregate analyze tasks submitted", "{reports}"),
			NavigationChangesCnt: counter("overlay.navigation.changes",
				"The number of distinct URL changes seen by the navigation watcher", "{changes}"),
			UnrecognizedUrlsCnt: counter("overlay.urls.unrecognized",
				"The number of enqueued URLs no extractor recognized. Send to DLQ.", "{messages}"),
			FailedProcessedMsgCnt: counter("overlay.messages.fail",
				"The number of enqueued URLs that could not be processed. Send to DLQ.", "{messages}"),
		},
		Close: func() {
			if err := meterProvider.Shutdown(context.Background()); err != nil {
				slog.Error("failed to shutdown metrics provider.", slog.String("err", err.Error()))
			}
		},
	}

	// initialize metrics in DataDog for setup UI
	for _, add := range counters {
		add(1)
	}

	return provider
}

func newResource(cfg *config.Config) (*resource.Resource, error) {
	ecsResourceDetector := ecs.NewResourceDetector()
	ecsResource, err := ecsResourceDetector.Detect(context.Background())
	if err != nil {
		slog.Error("ecs detection failed", slog.String("err", err.Error()))
	}
	mergedResource, err := resource.Merge(ecsResource, resource.Default())
	if err != nil {
		slog.Error("failed to merge resources", slog.String("err", err.Error()))
	}
	keyValue, found := ecsResource.Set().Value("container.id")
	var serviceId string
	if found {
		serviceId = keyValue.AsString()
	} else {
		serviceId = uuid.New().String()
	}
	return resource.Merge(mergedResource,
		resource.NewWithAttributes(semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.DeploymentEnvironment(cfg.Env),
			semconv.ServiceInstanceID(serviceId),
		))
}

func newMetricExporter(ctx context.Context, cfg *config.TelemetryConfig) (sdkmetric.Exporter, error) {
	return otlpmetrichttp.New(ctx,
		otlpmetrichttp.WithEndpoint(cfg.CollectorUrl),
		otlpmetrichttp.WithInsecure())
}

func newMeterProvider(meterExporter sdkmetric.Exporter, resource resource.Resource) *sdkmetric.MeterProvider {
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(meterExporter)),
		sdkmetric.WithResource(&resource),
	)
	return meterProvider
}
