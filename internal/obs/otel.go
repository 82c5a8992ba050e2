// Package obs configures OpenTelemetry metrics for the engine's optional
// stats logger and exposes the instruments it records against.
package obs

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	apimetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/coachpo/viewhub/internal/config"
)

// Instruments are the OTel counters and gauge the stats logger records
// against, one per spec §4.7 statistic plus active-view-count.
type Instruments struct {
	Refreshes    apimetric.Int64Counter
	Dropped      apimetric.Int64Counter
	Deduplicated apimetric.Int64Counter
	ActiveViews  apimetric.Int64Gauge
}

// Init configures an OTel meter provider per cfg. An empty OTLPEndpoint
// installs the no-op provider, matching the teacher's Init behavior when no
// exporter target is configured: metrics calls become free no-ops rather
// than an error.
func Init(ctx context.Context, cfg config.Telemetry) (apimetric.MeterProvider, Instruments, func(context.Context) error, error) {
	endpoint := strings.TrimSpace(cfg.OTLPEndpoint)
	service := strings.TrimSpace(cfg.ServiceName)
	if service == "" {
		service = "viewhub"
	}

	if endpoint == "" {
		mp := noop.NewMeterProvider()
		otel.SetMeterProvider(mp)
		instruments, err := newInstruments(mp)
		return mp, instruments, func(context.Context) error { return nil }, err
	}

	host, insecure, err := parseEndpoint(endpoint)
	if err != nil {
		return nil, Instruments{}, nil, err
	}

	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(host)}
	if insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}

	exp, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, Instruments{}, nil, fmt.Errorf("create otlp metric exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(service)))
	if err != nil {
		return nil, Instruments{}, nil, fmt.Errorf("create resource: %w", err)
	}

	reader := sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(15*time.Second))
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader), sdkmetric.WithResource(res))
	otel.SetMeterProvider(mp)

	instruments, err := newInstruments(mp)
	if err != nil {
		return nil, Instruments{}, nil, err
	}
	return mp, instruments, mp.Shutdown, nil
}

func newInstruments(mp apimetric.MeterProvider) (Instruments, error) {
	meter := mp.Meter("viewhub")

	refreshes, err := meter.Int64Counter("viewhub.refreshes")
	if err != nil {
		return Instruments{}, fmt.Errorf("create refreshes counter: %w", err)
	}
	dropped, err := meter.Int64Counter("viewhub.dropped")
	if err != nil {
		return Instruments{}, fmt.Errorf("create dropped counter: %w", err)
	}
	deduplicated, err := meter.Int64Counter("viewhub.deduplicated")
	if err != nil {
		return Instruments{}, fmt.Errorf("create deduplicated counter: %w", err)
	}
	activeViews, err := meter.Int64Gauge("viewhub.active_views")
	if err != nil {
		return Instruments{}, fmt.Errorf("create active_views gauge: %w", err)
	}
	return Instruments{
		Refreshes:    refreshes,
		Dropped:      dropped,
		Deduplicated: deduplicated,
		ActiveViews:  activeViews,
	}, nil
}

func parseEndpoint(raw string) (string, bool, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", false, fmt.Errorf("parse otlp endpoint: %w", err)
	}
	host := parsed.Host
	if host == "" {
		host = raw
	}
	insecure := parsed.Scheme != "https"
	return host, insecure, nil
}
