package remotewrite

import (
	"math"
	"sort"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/prometheus/prompb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func labelMap(ts prompb.TimeSeries) map[string]string {
	out := make(map[string]string, len(ts.Labels))
	for _, l := range ts.Labels {
		out[l.Name] = l.Value
	}

	return out
}

func labelNames(ts prompb.TimeSeries) []string {
	names := make([]string, 0, len(ts.Labels))
	for _, l := range ts.Labels {
		names = append(names, l.Name)
	}

	return names
}

func seriesByName(req *prompb.WriteRequest, name string) []prompb.TimeSeries {
	var out []prompb.TimeSeries

	for _, ts := range req.Timeseries {
		if labelMap(ts)["__name__"] == name {
			out = append(out, ts)
		}
	}

	return out
}

// latencyFamily is a histogram with buckets [(10,2),(50,5),(+Inf,5)].
func latencyFamily() *dto.MetricFamily {
	return &dto.MetricFamily{
		Name: ptr("latency_ms"),
		Help: ptr("Request latency."),
		Type: dto.MetricType_HISTOGRAM.Enum(),
		Metric: []*dto.Metric{{
			Histogram: &dto.Histogram{
				SampleCount: ptr(uint64(5)),
				SampleSum:   ptr(120.0),
				Bucket: []*dto.Bucket{
					{UpperBound: ptr(10.0), CumulativeCount: ptr(uint64(2))},
					{UpperBound: ptr(50.0), CumulativeCount: ptr(uint64(5))},
					{UpperBound: ptr(math.Inf(1)), CumulativeCount: ptr(uint64(5))},
				},
			},
		}},
	}
}

func TestEncode_CounterWithExternalLabels(t *testing.T) {
	reg := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "requests_total",
		Help: "Total requests.",
	}, []string{"route"})
	reg.MustRegister(requests)
	requests.WithLabelValues("/x").Add(5)

	families, err := reg.Gather()
	require.NoError(t, err)

	req := Encode(families, map[string]string{"env": "prod"}, testNow)

	require.Len(t, req.Timeseries, 1)
	ts := req.Timeseries[0]

	assert.Equal(t, []prompb.Label{
		{Name: "__name__", Value: "requests_total"},
		{Name: "env", Value: "prod"},
		{Name: "route", Value: "/x"},
	}, ts.Labels)
	assert.Equal(t, []prompb.Sample{{Value: 5, Timestamp: testNow.UnixMilli()}}, ts.Samples)

	require.Len(t, req.Metadata, 1)
	assert.Equal(t, prompb.MetricMetadata{
		Type:             prompb.MetricMetadata_COUNTER,
		MetricFamilyName: "requests_total",
		Help:             "Total requests.",
	}, req.Metadata[0])
}

func TestEncode_Gauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	temp := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "temperature",
		Help: "Current temperature.",
	})
	reg.MustRegister(temp)
	temp.Set(-3.5)

	families, err := reg.Gather()
	require.NoError(t, err)

	req := Encode(families, nil, testNow)

	require.Len(t, req.Timeseries, 1)
	assert.Equal(t, map[string]string{"__name__": "temperature"}, labelMap(req.Timeseries[0]))
	assert.Equal(t, -3.5, req.Timeseries[0].Samples[0].Value)
	assert.Equal(t, prompb.MetricMetadata_GAUGE, req.Metadata[0].Type)
}

func TestEncode_Histogram(t *testing.T) {
	req := Encode([]*dto.MetricFamily{latencyFamily()}, nil, testNow)

	require.Len(t, req.Timeseries, 5)

	buckets := seriesByName(req, "latency_ms_bucket")
	require.Len(t, buckets, 3)

	wantLE := []string{"10", "50", "+Inf"}
	wantCount := []float64{2, 5, 5}

	for i, ts := range buckets {
		assert.Equal(t, wantLE[i], labelMap(ts)["le"])
		assert.Equal(t, wantCount[i], ts.Samples[0].Value)
	}

	count := seriesByName(req, "latency_ms_count")
	require.Len(t, count, 1)
	assert.Equal(t, 5.0, count[0].Samples[0].Value)
	assert.NotContains(t, labelMap(count[0]), "le")

	sum := seriesByName(req, "latency_ms_sum")
	require.Len(t, sum, 1)
	assert.Equal(t, 120.0, sum[0].Samples[0].Value)
	assert.NotContains(t, labelMap(sum[0]), "le")

	require.Len(t, req.Metadata, 1)
	assert.Equal(t, prompb.MetricMetadata_HISTOGRAM, req.Metadata[0].Type)
	assert.Equal(t, "latency_ms", req.Metadata[0].MetricFamilyName)
}

func TestEncode_HistogramFromRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	hist := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "request_duration_seconds",
		Help:    "Request duration.",
		Buckets: []float64{0.1, 0.5, 1},
	}, []string{"method"})
	reg.MustRegister(hist)
	hist.WithLabelValues("GET").Observe(0.3)
	hist.WithLabelValues("GET").Observe(2)

	families, err := reg.Gather()
	require.NoError(t, err)

	req := Encode(families, map[string]string{"host": "demo"}, testNow)

	// The registry does not expose an explicit +Inf bucket and none is
	// synthesized: 3 buckets + _count + _sum.
	require.Len(t, req.Timeseries, 5)

	buckets := seriesByName(req, "request_duration_seconds_bucket")
	require.Len(t, buckets, 3)

	for _, ts := range buckets {
		labels := labelMap(ts)
		assert.Equal(t, "GET", labels["method"])
		assert.Equal(t, "demo", labels["host"])
		assert.NotEmpty(t, labels["le"])
	}

	assert.Equal(t, "0.1", labelMap(buckets[0])["le"])
	assert.Equal(t, 0.0, buckets[0].Samples[0].Value)
	assert.Equal(t, 1.0, buckets[1].Samples[0].Value)
	assert.Equal(t, 1.0, buckets[2].Samples[0].Value)
}

func TestEncode_LabelsSortedAndUnique(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "zeta_total",
		Help: "z",
	}, []string{"zone", "Alpha", "mid"})
	reg.MustRegister(c)
	c.WithLabelValues("a", "b", "c").Inc()

	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "size_bytes",
		Help:    "s",
		Buckets: []float64{1, 10},
	}, []string{"kind", "a"})
	reg.MustRegister(h)
	h.WithLabelValues("x", "y").Observe(4)

	families, err := reg.Gather()
	require.NoError(t, err)

	req := Encode(families, map[string]string{"region": "eu", "b": "1"}, testNow)
	require.NotEmpty(t, req.Timeseries)

	for _, ts := range req.Timeseries {
		names := labelNames(ts)
		assert.True(t, sort.StringsAreSorted(names), "labels not sorted: %v", names)
		assert.Len(t, labelMap(ts), len(names), "duplicate label names: %v", names)
	}
}

func TestEncode_ExternalLabelOverridesMetricLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_total",
		Help: "Jobs.",
	}, []string{"env"})
	reg.MustRegister(c)
	c.WithLabelValues("dev").Inc()

	families, err := reg.Gather()
	require.NoError(t, err)

	req := Encode(families, map[string]string{"env": "prod"}, testNow)

	require.Len(t, req.Timeseries, 1)
	assert.Equal(t, []prompb.Label{
		{Name: "__name__", Value: "jobs_total"},
		{Name: "env", Value: "prod"},
	}, req.Timeseries[0].Labels)
}

func TestEncode_SummaryAndUntypedSkipped(t *testing.T) {
	reg := prometheus.NewRegistry()
	summary := prometheus.NewSummary(prometheus.SummaryOpts{
		Name: "rpc_seconds",
		Help: "RPC latency.",
	})
	reg.MustRegister(summary)
	summary.Observe(1)

	untyped := prometheus.NewUntypedFunc(prometheus.UntypedOpts{
		Name: "legacy_value",
		Help: "Legacy.",
	}, func() float64 { return 7 })
	reg.MustRegister(untyped)

	families, err := reg.Gather()
	require.NoError(t, err)

	req := Encode(families, nil, testNow)

	assert.Empty(t, req.Timeseries)
	require.Len(t, req.Metadata, 2)

	types := map[string]prompb.MetricMetadata_MetricType{}
	for _, md := range req.Metadata {
		types[md.MetricFamilyName] = md.Type
	}

	assert.Equal(t, prompb.MetricMetadata_SUMMARY, types["rpc_seconds"])
	assert.Equal(t, prompb.MetricMetadata_UNKNOWN, types["legacy_value"])
}

func TestEncode_EmptyFamilyKeepsMetadata(t *testing.T) {
	mf := &dto.MetricFamily{
		Name: ptr("idle_total"),
		Help: ptr("Nothing yet."),
		Type: dto.MetricType_COUNTER.Enum(),
	}

	req := Encode([]*dto.MetricFamily{mf}, map[string]string{"env": "prod"}, testNow)

	assert.Empty(t, req.Timeseries)
	require.Len(t, req.Metadata, 1)
	assert.Equal(t, "idle_total", req.Metadata[0].MetricFamilyName)
	assert.Equal(t, "", req.Metadata[0].Unit)
}

func TestEncode_UnitCopied(t *testing.T) {
	mf := &dto.MetricFamily{
		Name: ptr("request_size_bytes"),
		Help: ptr("Request size."),
		Unit: ptr("bytes"),
		Type: dto.MetricType_GAUGE.Enum(),
		Metric: []*dto.Metric{{
			Gauge: &dto.Gauge{Value: ptr(512.0)},
		}},
	}

	req := Encode([]*dto.MetricFamily{mf}, nil, testNow)

	require.Len(t, req.Metadata, 1)
	assert.Equal(t, "bytes", req.Metadata[0].Unit)
}

func TestEncode_MissingValueSkipped(t *testing.T) {
	mf := &dto.MetricFamily{
		Name: ptr("broken_total"),
		Type: dto.MetricType_COUNTER.Enum(),
		Metric: []*dto.Metric{
			{Label: []*dto.LabelPair{{Name: ptr("a"), Value: ptr("b")}}},
			{Counter: &dto.Counter{Value: ptr(3.0)}},
		},
	}

	req := Encode([]*dto.MetricFamily{mf}, nil, testNow)

	require.Len(t, req.Timeseries, 1)
	assert.Equal(t, 3.0, req.Timeseries[0].Samples[0].Value)
}

func TestEncode_OnlyTimestampDiffers(t *testing.T) {
	families := []*dto.MetricFamily{latencyFamily()}
	external := map[string]string{"env": "prod", "host": "a"}

	first := Encode(families, external, testNow)
	second := Encode(families, external, testNow.Add(15*time.Second))

	require.Len(t, second.Timeseries, len(first.Timeseries))
	assert.Equal(t, first.Metadata, second.Metadata)

	for i := range first.Timeseries {
		assert.Equal(t, first.Timeseries[i].Labels, second.Timeseries[i].Labels)
		require.Len(t, second.Timeseries[i].Samples, 1)
		assert.Equal(t, first.Timeseries[i].Samples[0].Value, second.Timeseries[i].Samples[0].Value)
		assert.Equal(t,
			first.Timeseries[i].Samples[0].Timestamp+15000,
			second.Timeseries[i].Samples[0].Timestamp,
		)
	}
}

func TestMergeLabels(t *testing.T) {
	in := []prompb.Label{
		{Name: "__name__", Value: "up"},
		{Name: "env", Value: "dev"},
		{Name: "job", Value: "node"},
	}

	out := MergeLabels(in, map[string]string{"env": "prod", "cluster": "c1"})

	assert.Equal(t, []prompb.Label{
		{Name: "__name__", Value: "up"},
		{Name: "cluster", Value: "c1"},
		{Name: "env", Value: "prod"},
		{Name: "job", Value: "node"},
	}, out)

	assert.Equal(t, in, MergeLabels(in, nil))
}

func TestEncode_ReservedExternalLabelsIgnored(t *testing.T) {
	counter := &dto.MetricFamily{
		Name: ptr("requests_total"),
		Type: dto.MetricType_COUNTER.Enum(),
		Metric: []*dto.Metric{{
			Label:   []*dto.LabelPair{{Name: ptr("route"), Value: ptr("/x")}},
			Counter: &dto.Counter{Value: ptr(5.0)},
		}},
	}

	external := map[string]string{"__name__": "hijacked", "le": "1", "env": "prod"}

	req := Encode([]*dto.MetricFamily{counter, latencyFamily()}, external, testNow)

	require.Len(t, req.Timeseries, 6)
	assert.Equal(t, []prompb.Label{
		{Name: "__name__", Value: "requests_total"},
		{Name: "env", Value: "prod"},
		{Name: "route", Value: "/x"},
	}, req.Timeseries[0].Labels)

	buckets := seriesByName(req, "latency_ms_bucket")
	require.Len(t, buckets, 3)
	assert.Equal(t, []string{"__name__", "env", "le"}, labelNames(buckets[0]))
	assert.Equal(t, "10", labelMap(buckets[0])["le"])

	assert.Empty(t, seriesByName(req, "hijacked"))
}

func TestMergeLabels_ReservedIgnored(t *testing.T) {
	in := []prompb.Label{
		{Name: "__name__", Value: "up"},
		{Name: "job", Value: "node"},
	}

	out := MergeLabels(in, map[string]string{"__name__": "hijacked", "le": "1"})

	assert.Equal(t, in, out)
}

func TestFormatBound(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{in: 10, want: "10"},
		{in: 0.25, want: "0.25"},
		{in: 1e6, want: "1e+06"},
		{in: math.Inf(1), want: "+Inf"},
		{in: math.Inf(-1), want: "-Inf"},
		{in: math.NaN(), want: "NaN"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, formatBound(tt.in))
	}
}
