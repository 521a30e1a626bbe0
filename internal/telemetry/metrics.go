package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

// newMeterProvider returns nil when there is neither a local reader nor an
// exporter to feed.
func newMeterProvider(ctx context.Context, opts Options, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	mpOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}

	if opts.MetricReader != nil {
		mpOpts = append(mpOpts, sdkmetric.WithReader(opts.MetricReader))
	}

	if opts.Mode == ModeOTLP {
		exp, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(opts.Endpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("create otlp metric exporter for %s: %w", opts.Endpoint, err)
		}
		var readerOpts []sdkmetric.PeriodicReaderOption
		if opts.MetricInterval > 0 {
			readerOpts = append(readerOpts, sdkmetric.WithInterval(opts.MetricInterval))
		}
		mpOpts = append(mpOpts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, readerOpts...)))
	} else if opts.MetricReader == nil {
		return nil, nil
	}

	return sdkmetric.NewMeterProvider(mpOpts...), nil
}
