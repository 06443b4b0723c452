package prometheus

import (
	"net/http"

	"github.com/MrEthical07/authgate"
	"github.com/MrEthical07/authgate/metrics/export/internaldefs"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metricsSource interface {
	MetricsSnapshot() authgate.MetricsSnapshot
	AuditDropped() uint64
}

type counterDesc struct {
	id   authgate.MetricID
	desc *prom.Desc
}

// Collector reads a fresh snapshot on every scrape. Counters missing from the
// snapshot (metrics disabled) are not emitted.
type Collector struct {
	source       metricsSource
	counters     []counterDesc
	histograms   []counterDesc
	auditDropped *prom.Desc
}

func NewCollector(source metricsSource) *Collector {
	c := &Collector{
		source:     source,
		counters:   make([]counterDesc, 0, len(internaldefs.CounterDefs)),
		histograms: make([]counterDesc, 0, len(internaldefs.HistogramDefs)),
		auditDropped: prom.NewDesc(
			"authgate_audit_dropped_total",
			"Audit events dropped because the dispatcher buffer was full.",
			nil, nil,
		),
	}
	for _, def := range internaldefs.CounterDefs {
		c.counters = append(c.counters, counterDesc{id: def.ID, desc: prom.NewDesc(def.Name, def.Help, nil, nil)})
	}
	for _, def := range internaldefs.HistogramDefs {
		c.histograms = append(c.histograms, counterDesc{id: def.ID, desc: prom.NewDesc(def.Name, def.Help, nil, nil)})
	}
	return c
}

func (c *Collector) Describe(ch chan<- *prom.Desc) {
	for _, d := range c.counters {
		ch <- d.desc
	}
	for _, d := range c.histograms {
		ch <- d.desc
	}
	ch <- c.auditDropped
}

func (c *Collector) Collect(ch chan<- prom.Metric) {
	if c.source == nil {
		return
	}

	snapshot := c.source.MetricsSnapshot()
	for _, d := range c.counters {
		v, ok := snapshot.Counters[d.id]
		if !ok {
			continue
		}
		ch <- prom.MustNewConstMetric(d.desc, prom.CounterValue, float64(v))
	}

	for _, d := range c.histograms {
		raw, ok := snapshot.Histograms[d.id]
		if !ok {
			continue
		}
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
		buckets := make(map[float64]uint64, len(internaldefs.HistogramUpperBounds))
		for i, bound := range internaldefs.HistogramUpperBounds {
			buckets[bound] = cumulative[i]
		}
		count := cumulative[len(cumulative)-1]
		ch <- prom.MustNewConstHistogram(d.desc, count, snapshot.HistogramSums[d.id].Seconds(), buckets)
	}

	ch <- prom.MustNewConstMetric(c.auditDropped, prom.CounterValue, float64(c.source.AuditDropped()))
}

// Option configures a PrometheusExporter.
type Option func(*PrometheusExporter)

// WithRuntimeMetrics also registers the Go runtime and process collectors.
func WithRuntimeMetrics() Option {
	return func(p *PrometheusExporter) {
		p.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
}

// PrometheusExporter owns a private registry holding a [Collector].
type PrometheusExporter struct {
	registry  *prom.Registry
	collector *Collector
}

// NewPrometheusExporter creates an exporter that reads from engine.
func NewPrometheusExporter(engine *authgate.Engine, opts ...Option) *PrometheusExporter {
	var source metricsSource
	if engine != nil {
		source = engine
	}
	return NewPrometheusExporterFromSource(source, opts...)
}

// NewPrometheusExporterFromSource creates an exporter over any snapshot provider.
func NewPrometheusExporterFromSource(source metricsSource, opts ...Option) *PrometheusExporter {
	p := &PrometheusExporter{
		registry:  prom.NewRegistry(),
		collector: NewCollector(source),
	}
	p.registry.MustRegister(p.collector)
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

func (p *PrometheusExporter) Registry() *prom.Registry {
	return p.registry
}

func (p *PrometheusExporter) Collector() *Collector {
	return p.collector
}

// Handler serves the private registry in the exposition format negotiated
// with the scraper.
func (p *PrometheusExporter) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{
		Registry:          p.registry,
		ErrorHandling:     promhttp.ContinueOnError,
		EnableOpenMetrics: true,
	})
}
