package metrics

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SummaryQuantiles are the trend quantiles exported to Prometheus.
var SummaryQuantiles = []float64{0.5, 0.9, 0.95, 0.99}

// Collector exposes a Store as Prometheus metrics. Counters map to counters,
// rates to gauges and trends to summaries. The metric set grows while a run
// progresses, so the collector is unchecked: Describe sends nothing.
type Collector struct {
	store     *Store
	namespace string
	labels    prometheus.Labels
}

// NewCollector wraps store. constLabels are attached to every exported series.
func NewCollector(store *Store, namespace string, constLabels prometheus.Labels) *Collector {
	return &Collector{store: store, namespace: namespace, labels: constLabels}
}

func (c *Collector) Describe(chan<- *prometheus.Desc) {}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, name := range c.store.Names() {
		agg, ok := c.store.Snapshot(name)
		if !ok {
			continue
		}
		fq := prometheus.BuildFQName(c.namespace, "", sanitizeMetricName(name))
		switch agg.Kind {
		case KindCounter:
			desc := prometheus.NewDesc(fq, "Sum of counter metric "+name+".", nil, c.labels)
			ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, agg.Sum)
		case KindRate:
			desc := prometheus.NewDesc(fq, "Fraction of non-zero samples of rate metric "+name+".", nil, c.labels)
			ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, agg.Rate())
		case KindTrend:
			desc := prometheus.NewDesc(fq, "Distribution of trend metric "+name+".", nil, c.labels)
			quantiles := make(map[float64]float64, len(SummaryQuantiles))
			for _, q := range SummaryQuantiles {
				quantiles[q] = agg.Percentile(q * 100)
			}
			ch <- prometheus.MustNewConstSummary(desc, uint64(agg.Count), agg.Sum, quantiles)
		}
	}
}

// Handler serves the collector from a dedicated registry.
func (c *Collector) Handler() http.Handler {
	registry := prometheus.NewRegistry()
	registry.MustRegister(c)
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

func sanitizeMetricName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == ':':
			return r
		default:
			return '_'
		}
	}, name)
}
