// Package remotewrite converts a registry snapshot into Prometheus
// remote-write requests and delivers them on a fixed interval.
package remotewrite

import (
	"math"
	"sort"
	"strconv"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/model"
	"github.com/prometheus/prometheus/prompb"
)

// Series name suffixes for decomposed histograms.
const (
	bucketSuffix = "_bucket"
	countSuffix  = "_count"
	sumSuffix    = "_sum"
)

// Encode converts metric families into a write request. Every sample is
// stamped with now. Summary and untyped families contribute metadata only.
//
// External labels override metric labels of the same name. External
// entries for __name__ or le are ignored.
func Encode(
	families []*dto.MetricFamily,
	external map[string]string,
	now time.Time,
) *prompb.WriteRequest {
	ts := now.UnixMilli()

	req := &prompb.WriteRequest{
		Timeseries: make([]prompb.TimeSeries, 0, len(families)),
		Metadata:   make([]prompb.MetricMetadata, 0, len(families)),
	}

	for _, mf := range families {
		if mf == nil {
			continue
		}

		name := mf.GetName()

		req.Metadata = append(req.Metadata, prompb.MetricMetadata{
			Type:             metadataType(mf.GetType()),
			MetricFamilyName: name,
			Help:             mf.GetHelp(),
			Unit:             mf.GetUnit(),
		})

		for _, m := range mf.GetMetric() {
			if m == nil {
				continue
			}

			base := baseLabels(name, m.GetLabel(), external)

			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				if m.GetCounter() == nil {
					continue
				}

				req.Timeseries = append(req.Timeseries,
					series(base, m.GetCounter().GetValue(), ts))
			case dto.MetricType_GAUGE:
				if m.GetGauge() == nil {
					continue
				}

				req.Timeseries = append(req.Timeseries,
					series(base, m.GetGauge().GetValue(), ts))
			case dto.MetricType_HISTOGRAM:
				if m.GetHistogram() == nil {
					continue
				}

				req.Timeseries = appendHistogram(
					req.Timeseries, name, base, m.GetHistogram(), ts,
				)
			default:
				// Summaries, untyped and gauge histograms are not sent.
			}
		}
	}

	return req
}

// metadataType maps a client_model type to the remote-write enumeration.
func metadataType(t dto.MetricType) prompb.MetricMetadata_MetricType {
	switch t {
	case dto.MetricType_COUNTER:
		return prompb.MetricMetadata_COUNTER
	case dto.MetricType_GAUGE:
		return prompb.MetricMetadata_GAUGE
	case dto.MetricType_HISTOGRAM:
		return prompb.MetricMetadata_HISTOGRAM
	case dto.MetricType_SUMMARY:
		return prompb.MetricMetadata_SUMMARY
	default:
		return prompb.MetricMetadata_UNKNOWN
	}
}

// baseLabels builds the sorted label set shared by every series of one
// metric.
func baseLabels(
	name string,
	pairs []*dto.LabelPair,
	external map[string]string,
) []prompb.Label {
	labels := make([]prompb.Label, 0, 1+len(pairs)+len(external))
	labels = append(labels, prompb.Label{Name: model.MetricNameLabel, Value: name})

	for _, lp := range pairs {
		if overrides(external, lp.GetName()) {
			continue
		}

		labels = append(labels, prompb.Label{Name: lp.GetName(), Value: lp.GetValue()})
	}

	labels = appendExternal(labels, external)

	sortLabels(labels)

	return labels
}

// MergeLabels applies external labels to an already encoded series,
// replacing labels of the same name. Reserved names in external are
// ignored. The result is sorted.
func MergeLabels(labels []prompb.Label, external map[string]string) []prompb.Label {
	if len(external) == 0 {
		return labels
	}

	out := make([]prompb.Label, 0, len(labels)+len(external))

	for _, l := range labels {
		if overrides(external, l.Name) {
			continue
		}

		out = append(out, l)
	}

	out = appendExternal(out, external)

	sortLabels(out)

	return out
}

// reservedLabel reports whether name is written by the encoder itself.
func reservedLabel(name string) bool {
	return name == model.MetricNameLabel || name == model.BucketLabel
}

func overrides(external map[string]string, name string) bool {
	if reservedLabel(name) {
		return false
	}

	_, ok := external[name]

	return ok
}

func appendExternal(labels []prompb.Label, external map[string]string) []prompb.Label {
	for k, v := range external {
		if reservedLabel(k) {
			continue
		}

		labels = append(labels, prompb.Label{Name: k, Value: v})
	}

	return labels
}

func sortLabels(labels []prompb.Label) {
	sort.Slice(labels, func(i, j int) bool {
		return labels[i].Name < labels[j].Name
	})
}

func series(labels []prompb.Label, value float64, ts int64) prompb.TimeSeries {
	return prompb.TimeSeries{
		Labels:  labels,
		Samples: []prompb.Sample{{Value: value, Timestamp: ts}},
	}
}

// appendHistogram emits one _bucket series per bucket followed by the
// _count and _sum series.
func appendHistogram(
	out []prompb.TimeSeries,
	name string,
	base []prompb.Label,
	h *dto.Histogram,
	ts int64,
) []prompb.TimeSeries {
	for _, b := range h.GetBucket() {
		labels := make([]prompb.Label, 0, len(base)+1)
		labels = append(labels, base...)
		labels = append(labels, prompb.Label{
			Name:  model.BucketLabel,
			Value: formatBound(b.GetUpperBound()),
		})
		sortLabels(labels)
		setName(labels, name+bucketSuffix)

		out = append(out, series(labels, bucketCount(b), ts))
	}

	out = append(out,
		series(renamed(base, name+countSuffix), sampleCount(h), ts),
		series(renamed(base, name+sumSuffix), h.GetSampleSum(), ts),
	)

	return out
}

// renamed returns a copy of labels with __name__ set to name.
func renamed(labels []prompb.Label, name string) []prompb.Label {
	out := make([]prompb.Label, len(labels))
	copy(out, labels)
	setName(out, name)

	return out
}

func setName(labels []prompb.Label, name string) {
	for i := range labels {
		if labels[i].Name == model.MetricNameLabel {
			labels[i].Value = name

			return
		}
	}
}

// bucketCount prefers the integer count and falls back to the float count
// used by float histograms.
func bucketCount(b *dto.Bucket) float64 {
	if b.CumulativeCount == nil && b.CumulativeCountFloat != nil {
		return b.GetCumulativeCountFloat()
	}

	return float64(b.GetCumulativeCount())
}

func sampleCount(h *dto.Histogram) float64 {
	if h.SampleCount == nil && h.SampleCountFloat != nil {
		return h.GetSampleCountFloat()
	}

	return float64(h.GetSampleCount())
}

// formatBound renders a bucket upper bound the way the text exposition
// format does, so "le" values match what a scrape would produce.
func formatBound(v float64) string {
	switch {
	case math.IsInf(v, +1):
		return "+Inf"
	case math.IsInf(v, -1):
		return "-Inf"
	case math.IsNaN(v):
		return "NaN"
	default:
		return strconv.FormatFloat(v, 'g', -1, 64)
	}
}
