// Package metrics records lbwatch's OpenTelemetry instruments and renders
// what a metric reader collects as Prometheus text for GET /metrics.
package metrics

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// MeterName is the instrumentation scope of every lbwatch instrument.
const MeterName = "github.com/MrSnakeDoc/lbwatch"

// Instrument names.
const (
	FetchesTotal        = "lbwatch.fetches"
	CycleFailuresTotal  = "lbwatch.cycle_failures"
	SkippedEntriesTotal = "lbwatch.skipped_entries"
	PublishesTotal      = "lbwatch.publishes"
	FetchDuration       = "lbwatch.fetch.duration"
	ServicesPublished   = "lbwatch.services"
	ServersPublished    = "lbwatch.servers"
	SourceHealthy       = "lbwatch.source.healthy"
)

const sourceKey = attribute.Key("source")

var fetchBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// Registry holds the instruments. Gauges are observed from the last values
// set, when the reader collects.
type Registry struct {
	reader sdkmetric.Reader

	fetches   metric.Int64Counter
	failures  metric.Int64Counter
	skipped   metric.Int64Counter
	publishes metric.Int64Counter
	fetchDur  metric.Float64Histogram

	services atomic.Int64
	servers  atomic.Int64

	mu      sync.RWMutex
	healthy map[string]bool
}

// New creates the instruments on meter. reader is what GET /metrics
// collects from; it may be nil when metrics are only exported.
func New(meter metric.Meter, reader sdkmetric.Reader) (*Registry, error) {
	r := &Registry{
		reader:  reader,
		healthy: make(map[string]bool),
	}

	var err error
	if r.fetches, err = meter.Int64Counter(FetchesTotal,
		metric.WithDescription("Successful full registry reads")); err != nil {
		return nil, fmt.Errorf("failed to create counter %s: %w", FetchesTotal, err)
	}
	if r.failures, err = meter.Int64Counter(CycleFailuresTotal,
		metric.WithDescription("Watch cycles that ended with an error")); err != nil {
		return nil, fmt.Errorf("failed to create counter %s: %w", CycleFailuresTotal, err)
	}
	if r.skipped, err = meter.Int64Counter(SkippedEntriesTotal,
		metric.WithDescription("Registry entries skipped because they could not be parsed")); err != nil {
		return nil, fmt.Errorf("failed to create counter %s: %w", SkippedEntriesTotal, err)
	}
	if r.publishes, err = meter.Int64Counter(PublishesTotal,
		metric.WithDescription("Inventory publications")); err != nil {
		return nil, fmt.Errorf("failed to create counter %s: %w", PublishesTotal, err)
	}
	if r.fetchDur, err = meter.Float64Histogram(FetchDuration,
		metric.WithDescription("Duration of full registry reads"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(fetchBuckets...)); err != nil {
		return nil, fmt.Errorf("failed to create histogram %s: %w", FetchDuration, err)
	}

	services, err := meter.Int64ObservableGauge(ServicesPublished,
		metric.WithDescription("Services in the published inventory"))
	if err != nil {
		return nil, fmt.Errorf("failed to create gauge %s: %w", ServicesPublished, err)
	}
	servers, err := meter.Int64ObservableGauge(ServersPublished,
		metric.WithDescription("Servers in the published inventory"))
	if err != nil {
		return nil, fmt.Errorf("failed to create gauge %s: %w", ServersPublished, err)
	}
	healthy, err := meter.Int64ObservableGauge(SourceHealthy,
		metric.WithDescription("Whether a source has completed a read (1) or not (0)"))
	if err != nil {
		return nil, fmt.Errorf("failed to create gauge %s: %w", SourceHealthy, err)
	}

	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(services, r.services.Load())
		o.ObserveInt64(servers, r.servers.Load())

		r.mu.RLock()
		defer r.mu.RUnlock()
		for src, ok := range r.healthy {
			var v int64
			if ok {
				v = 1
			}
			o.ObserveInt64(healthy, v, metric.WithAttributes(sourceKey.String(src)))
		}
		return nil
	}, services, servers, healthy)
	if err != nil {
		return nil, fmt.Errorf("failed to register gauge callback: %w", err)
	}

	return r, nil
}

// NewRegistry builds a registry on the global meter provider, collected
// through reader.
func NewRegistry(reader sdkmetric.Reader) (*Registry, error) {
	return New(otel.Meter(MeterName), reader)
}

// NewStandalone builds a registry on its own provider and manual reader,
// independent of the global one.
func NewStandalone() *Registry {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	r, err := New(mp.Meter(MeterName), reader)
	if err != nil {
		panic(fmt.Sprintf("metrics: %v", err))
	}
	return r
}

func source(src string) metric.MeasurementOption {
	return metric.WithAttributes(sourceKey.String(src))
}

func (r *Registry) IncFetch(ctx context.Context, src string) {
	r.fetches.Add(ctx, 1, source(src))
}

func (r *Registry) IncCycleFailure(ctx context.Context, src string) {
	r.failures.Add(ctx, 1, source(src))
}

func (r *Registry) AddSkippedEntries(ctx context.Context, src string, n int) {
	if n <= 0 {
		return
	}
	r.skipped.Add(ctx, int64(n), source(src))
}

func (r *Registry) ObserveFetch(ctx context.Context, src string, d time.Duration) {
	r.fetchDur.Record(ctx, d.Seconds(), source(src))
}

func (r *Registry) IncPublish(ctx context.Context) { r.publishes.Add(ctx, 1) }

func (r *Registry) SetSourceHealthy(src string, healthy bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.healthy[src] = healthy
}

// SetInventory records the size of the published inventory.
func (r *Registry) SetInventory(services, servers int) {
	r.services.Store(int64(services))
	r.servers.Store(int64(servers))
}

// Collect reads the current state of every instrument from the reader.
func (r *Registry) Collect(ctx context.Context) (metricdata.ResourceMetrics, error) {
	var rm metricdata.ResourceMetrics
	if r.reader == nil {
		return rm, ErrNoReader
	}
	if err := r.reader.Collect(ctx, &rm); err != nil {
		return rm, fmt.Errorf("collect metrics: %w", err)
	}
	return rm, nil
}

// Counter returns the cumulative value of a counter for src, or of the
// unlabelled series when src is empty. It is 0 when nothing was recorded.
func (r *Registry) Counter(ctx context.Context, name, src string) int64 {
	rm, err := r.Collect(ctx)
	if err != nil {
		return 0
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				return 0
			}
			for _, dp := range sum.DataPoints {
				v, has := dp.Attributes.Value(sourceKey)
				if (src == "" && !has) || (has && v.AsString() == src) {
					return dp.Value
				}
			}
		}
	}
	return 0
}
