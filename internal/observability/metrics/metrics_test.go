package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestPipelineMetricsObserve(t *testing.T) {
	m := NewPipelineMetrics(prometheus.NewRegistry())
	m.ObserveEvent("inbound", "ok")
	m.ObserveSend("sent")
	m.ObserveMediaArchive("failed")
	m.ObserveWebhookLatency("inbound", 0.5)
}

func TestPipelineMetricsNilSafe(t *testing.T) {
	var m *PipelineMetrics
	m.ObserveEvent("inbound", "ok")
	m.ObserveSend("sent")
	m.ObserveMediaArchive("ok")
	m.ObserveWebhookLatency("inbound", 0.1)
}
