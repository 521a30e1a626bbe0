package metrics

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// ErrNoReader is returned when the registry has nothing to collect from.
var ErrNoReader = errors.New("metrics: no reader configured")

// WritePrometheus collects from the reader and writes the Prometheus text
// exposition of lbwatch's instruments.
func (r *Registry) WritePrometheus(ctx context.Context, w io.Writer) error {
	rm, err := r.Collect(ctx)
	if err != nil {
		return err
	}

	var all []metricdata.Metrics
	for _, sm := range rm.ScopeMetrics {
		if sm.Scope.Name == MeterName {
			all = append(all, sm.Metrics...)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })

	bw := bufio.NewWriter(w)
	for _, m := range all {
		writeMetric(bw, m)
	}
	return bw.Flush()
}

func writeMetric(w io.Writer, m metricdata.Metrics) {
	name := strings.ReplaceAll(m.Name, ".", "_")
	if m.Unit == "s" {
		name += "_seconds"
	}

	switch data := m.Data.(type) {
	case metricdata.Sum[int64]:
		kind := "gauge"
		if data.IsMonotonic {
			name += "_total"
			kind = "counter"
		}
		writeHeader(w, name, m.Description, kind)
		for _, dp := range sortPoints(data.DataPoints) {
			_, _ = fmt.Fprintf(w, "%s%s %d\n", name, labels(dp.Attributes), dp.Value)
		}
	case metricdata.Gauge[int64]:
		writeHeader(w, name, m.Description, "gauge")
		for _, dp := range sortPoints(data.DataPoints) {
			_, _ = fmt.Fprintf(w, "%s%s %d\n", name, labels(dp.Attributes), dp.Value)
		}
	case metricdata.Histogram[float64]:
		writeHeader(w, name, m.Description, "histogram")
		points := data.DataPoints
		sort.Slice(points, func(i, j int) bool {
			return labels(points[i].Attributes) < labels(points[j].Attributes)
		})
		for _, dp := range points {
			var cumulative uint64
			for i, bound := range dp.Bounds {
				cumulative += dp.BucketCounts[i]
				_, _ = fmt.Fprintf(w, "%s_bucket%s %d\n", name,
					labels(dp.Attributes, attribute.String("le", fmt.Sprintf("%g", bound))), cumulative)
			}
			_, _ = fmt.Fprintf(w, "%s_bucket%s %d\n", name,
				labels(dp.Attributes, attribute.String("le", "+Inf")), dp.Count)
			_, _ = fmt.Fprintf(w, "%s_sum%s %g\n", name, labels(dp.Attributes), dp.Sum)
			_, _ = fmt.Fprintf(w, "%s_count%s %d\n", name, labels(dp.Attributes), dp.Count)
		}
	}
}

func writeHeader(w io.Writer, name, help, kind string) {
	if help != "" {
		_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	}
	_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", name, kind)
}

func sortPoints(points []metricdata.DataPoint[int64]) []metricdata.DataPoint[int64] {
	sort.Slice(points, func(i, j int) bool {
		return labels(points[i].Attributes) < labels(points[j].Attributes)
	})
	return points
}

// labels renders set plus extra as {k="v",...}, or nothing when empty.
func labels(set attribute.Set, extra ...attribute.KeyValue) string {
	kvs := append(set.ToSlice(), extra...)
	if len(kvs) == 0 {
		return ""
	}
	parts := make([]string, len(kvs))
	for i, kv := range kvs {
		parts[i] = fmt.Sprintf("%s=%q", kv.Key, kv.Value.Emit())
	}
	return "{" + strings.Join(parts, ",") + "}"
}
