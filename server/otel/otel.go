package otel

import (
	"context"
	"fmt"

	otel "go.opentelemetry.io/otel"
	attribute "go.opentelemetry.io/otel/attribute"
	prometheus "go.opentelemetry.io/otel/exporters/prometheus"
	metric "go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	resource "go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.32.0"
	zap "go.uber.org/zap"

	config "github.com/a2akit/ark/server/config"
)

// OpenTelemetry defines the operations for telemetry
type OpenTelemetry interface {
	// HTTP transport metrics
	RecordRequestCount(ctx context.Context, requestMethod string)
	RecordResponseStatus(ctx context.Context, requestMethod, requestPath string, statusCode int)
	RecordRequestDuration(ctx context.Context, requestMethod, requestPath string, durationMs float64)

	// Session and task lifecycle metrics
	RecordSessionStarted(ctx context.Context)
	RecordSessionOutcome(ctx context.Context, outcome string)
	RecordTaskTerminal(ctx context.Context, state string)
	RecordPushDelivery(ctx context.Context, success bool)

	// Shutdown the telemetry system
	ShutDown(ctx context.Context) error
}

type OpenTelemetryImpl struct {
	logger        *zap.Logger
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter

	// Metrics
	requestCounter           metric.Int64Counter
	responseStatusCounter    metric.Int64Counter
	requestDurationHistogram metric.Float64Histogram
	sessionStartedCounter    metric.Int64Counter
	sessionOutcomeCounter    metric.Int64Counter
	taskTerminalCounter      metric.Int64Counter
	pushDeliveryCounter      metric.Int64Counter
}

// NewOpenTelemetry creates a new OpenTelemetry implementation with proper dependency injection
func NewOpenTelemetry(cfg *config.Config, logger *zap.Logger) (OpenTelemetry, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	o := &OpenTelemetryImpl{
		logger: logger,
	}

	if err := o.initialize(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize opentelemetry: %w", err)
	}

	return o, nil
}

func (o *OpenTelemetryImpl) initialize(cfg *config.Config) error {
	o.logger.Info("initializing opentelemetry",
		zap.String("agent_name", cfg.AgentName),
		zap.String("version", cfg.AgentVersion))

	exporter, err := prometheus.New()
	if err != nil {
		o.logger.Error("failed to create prometheus exporter", zap.Error(err))
		return err
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.AgentName),
		semconv.ServiceVersion(cfg.AgentVersion),
	)

	histogramBoundaries := []float64{1, 5, 10, 25, 50, 75, 100, 250, 500, 750, 1000, 2500, 5000, 7500, 10000}

	latencyView := sdkmetric.NewView(
		sdkmetric.Instrument{
			Kind: sdkmetric.InstrumentKindHistogram,
		},
		sdkmetric.Stream{
			Aggregation: sdkmetric.AggregationExplicitBucketHistogram{
				Boundaries: histogramBoundaries,
			},
		},
	)

	o.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
		sdkmetric.WithView(latencyView),
	)
	otel.SetMeterProvider(o.meterProvider)

	o.meter = o.meterProvider.Meter(cfg.AgentName)

	if err := o.initializeMetrics(); err != nil {
		o.logger.Error("failed to initialize metrics", zap.Error(err))
		return err
	}

	o.logger.Info("opentelemetry initialized successfully")
	return nil
}

func (o *OpenTelemetryImpl) RecordRequestCount(ctx context.Context, requestMethod string) {
	o.requestCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("request_method", requestMethod),
	))
}

func (o *OpenTelemetryImpl) RecordResponseStatus(ctx context.Context, requestMethod, requestPath string, statusCode int) {
	o.responseStatusCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("request_method", requestMethod),
		attribute.String("request_path", requestPath),
		attribute.Int("status_code", statusCode),
	))
}

func (o *OpenTelemetryImpl) RecordRequestDuration(ctx context.Context, requestMethod, requestPath string, durationMs float64) {
	o.requestDurationHistogram.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("request_method", requestMethod),
		attribute.String("request_path", requestPath),
	))
}

func (o *OpenTelemetryImpl) RecordSessionStarted(ctx context.Context) {
	o.sessionStartedCounter.Add(ctx, 1)
}

func (o *OpenTelemetryImpl) RecordSessionOutcome(ctx context.Context, outcome string) {
	o.sessionOutcomeCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
	))
}

func (o *OpenTelemetryImpl) RecordTaskTerminal(ctx context.Context, state string) {
	o.taskTerminalCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("state", state),
	))
}

func (o *OpenTelemetryImpl) RecordPushDelivery(ctx context.Context, success bool) {
	o.pushDeliveryCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("success", success),
	))
}

func (o *OpenTelemetryImpl) ShutDown(ctx context.Context) error {
	return o.meterProvider.Shutdown(ctx)
}

// initializeMetrics initializes all the OpenTelemetry metrics
func (o *OpenTelemetryImpl) initializeMetrics() error {
	var err error

	o.requestCounter, err = o.meter.Int64Counter(
		"a2a.requests.total",
		metric.WithDescription("Total number of A2A requests processed"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return fmt.Errorf("failed to create request counter: %w", err)
	}

	o.responseStatusCounter, err = o.meter.Int64Counter(
		"a2a.response_status.total",
		metric.WithDescription("Total number of responses by status code"),
		metric.WithUnit("{response}"),
	)
	if err != nil {
		return fmt.Errorf("failed to create response status counter: %w", err)
	}

	o.requestDurationHistogram, err = o.meter.Float64Histogram(
		"a2a.request_duration",
		metric.WithDescription("Duration of A2A request processing"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return fmt.Errorf("failed to create request duration histogram: %w", err)
	}

	o.sessionStartedCounter, err = o.meter.Int64Counter(
		"a2a.sessions.started.total",
		metric.WithDescription("Total number of agent sessions started"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return fmt.Errorf("failed to create session started counter: %w", err)
	}

	o.sessionOutcomeCounter, err = o.meter.Int64Counter(
		"a2a.sessions.outcomes.total",
		metric.WithDescription("Total number of agent sessions by outcome"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return fmt.Errorf("failed to create session outcome counter: %w", err)
	}

	o.taskTerminalCounter, err = o.meter.Int64Counter(
		"a2a.tasks.terminal.total",
		metric.WithDescription("Total number of tasks reaching a terminal state"),
		metric.WithUnit("{task}"),
	)
	if err != nil {
		return fmt.Errorf("failed to create task terminal counter: %w", err)
	}

	o.pushDeliveryCounter, err = o.meter.Int64Counter(
		"a2a.push_deliveries.total",
		metric.WithDescription("Total number of push notification delivery attempts"),
		metric.WithUnit("{delivery}"),
	)
	if err != nil {
		return fmt.Errorf("failed to create push delivery counter: %w", err)
	}

	o.logger.Debug("all opentelemetry metrics initialized successfully")
	return nil
}
