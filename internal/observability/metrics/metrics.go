package metrics

import "github.com/prometheus/client_golang/prometheus"

// PipelineMetrics exposes counters/histograms for the webhook pipeline.
type PipelineMetrics struct {
	inboundTotal   *prometheus.CounterVec
	outboundTotal  *prometheus.CounterVec
	mediaTotal     *prometheus.CounterVec
	webhookLatency *prometheus.HistogramVec
}

func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	m := &PipelineMetrics{
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wacrm",
			Subsystem: "webhook",
			Name:      "events_total",
			Help:      "Normalized webhook events by kind and outcome",
		}, []string{"kind", "status"}),
		outboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wacrm",
			Subsystem: "dispatch",
			Name:      "sends_total",
			Help:      "Outbound sends by outcome",
		}, []string{"status"}),
		mediaTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wacrm",
			Subsystem: "media",
			Name:      "archives_total",
			Help:      "Media archive attempts by outcome",
		}, []string{"status"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "wacrm",
			Subsystem: "webhook",
			Name:      "latency_seconds",
			Help:      "Time from webhook receipt to acknowledgement",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.inboundTotal, m.outboundTotal, m.mediaTotal, m.webhookLatency)
	return m
}

func (m *PipelineMetrics) ObserveEvent(kind, status string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(kind, status).Inc()
}

func (m *PipelineMetrics) ObserveSend(status string) {
	if m == nil {
		return
	}
	m.outboundTotal.WithLabelValues(status).Inc()
}

func (m *PipelineMetrics) ObserveMediaArchive(status string) {
	if m == nil {
		return
	}
	m.mediaTotal.WithLabelValues(status).Inc()
}

func (m *PipelineMetrics) ObserveWebhookLatency(kind string, seconds float64) {
	if m == nil {
		return
	}
	m.webhookLatency.WithLabelValues(kind).Observe(seconds)
}
