// Package otel builds the OpenTelemetry log pipeline behind the slog bridge.
package otel

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/uvtwin/telemetry-sim/internal/config"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ErrNoExporter is returned when OTel is enabled with nowhere to send records.
var ErrNoExporter = errors.New("otel enabled without log writer or endpoint")

// Provider wraps the SDK logger provider. A disabled Provider is a no-op.
type Provider struct {
	lp      *sdklog.LoggerProvider
	enabled bool
}

// New exports log records as JSON lines to logWriter and, when cfg.Endpoint
// is set, to an OTLP/HTTP collector. attrs are added to the resource next to
// the service name.
func New(ctx context.Context, cfg config.OTelConfig, logWriter io.Writer, attrs ...attribute.KeyValue) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{}, nil
	}

	exporters, err := buildExporters(ctx, cfg, logWriter)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(append([]attribute.KeyValue{semconv.ServiceName(cfg.ServiceName)}, attrs...)...),
	)
	if err != nil {
		return nil, fmt.Errorf("otel resource: %w", err)
	}

	opts := []sdklog.LoggerProviderOption{sdklog.WithResource(res)}
	for _, exp := range exporters {
		opts = append(opts, sdklog.WithProcessor(
			sdklog.NewBatchProcessor(exp, sdklog.WithExportTimeout(cfg.BatchTimeout)),
		))
	}
	return &Provider{lp: sdklog.NewLoggerProvider(opts...), enabled: true}, nil
}

func buildExporters(ctx context.Context, cfg config.OTelConfig, logWriter io.Writer) ([]sdklog.Exporter, error) {
	var out []sdklog.Exporter
	if logWriter != nil {
		exp, err := stdoutlog.New(stdoutlog.WithWriter(logWriter))
		if err != nil {
			return nil, fmt.Errorf("otel writer exporter: %w", err)
		}
		out = append(out, exp)
	}
	if cfg.Endpoint != "" {
		httpOpts := []otlploghttp.Option{otlploghttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			httpOpts = append(httpOpts, otlploghttp.WithInsecure())
		}
		exp, err := otlploghttp.New(ctx, httpOpts...)
		if err != nil {
			return nil, fmt.Errorf("otel otlp exporter: %w", err)
		}
		out = append(out, exp)
	}
	if len(out) == 0 {
		return nil, ErrNoExporter
	}
	return out, nil
}

// LoggerProvider is nil when disabled.
func (p *Provider) LoggerProvider() *sdklog.LoggerProvider {
	return p.lp
}

func (p *Provider) Enabled() bool {
	return p.enabled
}

func (p *Provider) Flush(ctx context.Context) error {
	if p.lp == nil {
		return nil
	}
	return p.lp.ForceFlush(ctx)
}

// Shutdown flushes pending records and stops the exporters.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.lp == nil {
		return nil
	}
	return p.lp.Shutdown(ctx)
}
