package sink

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/opscart/k8s-metrics-generator/pkg/models"
)

var workloadLabelNames = []string{"cluster", "namespace", "workload", "kind"}

var (
	cpuDesc = prometheus.NewDesc(
		"workload_cpu_usage_cores",
		"CPU usage of the latest generated sample, in cores.",
		workloadLabelNames, nil,
	)
	memoryDesc = prometheus.NewDesc(
		"workload_memory_usage_bytes",
		"Memory usage of the latest generated sample, in bytes.",
		workloadLabelNames, nil,
	)
	rxDesc = prometheus.NewDesc(
		"workload_network_rx_bytes",
		"Bytes received in the latest generated sample.",
		workloadLabelNames, nil,
	)
	txDesc = prometheus.NewDesc(
		"workload_network_tx_bytes",
		"Bytes sent in the latest generated sample.",
		workloadLabelNames, nil,
	)
)

type collector struct {
	s *Sink
}

// Collector exposes the latest sample of every workload as gauges together
// with the sink's counters. Collecting never blocks writers.
func (s *Sink) Collector() prometheus.Collector {
	return &collector{s: s}
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- cpuDesc
	ch <- memoryDesc
	ch <- rxDesc
	ch <- txDesc
	c.s.generated.Describe(ch)
	c.s.backfilled.Describe(ch)
	c.s.persisted.Describe(ch)
	c.s.dropped.Describe(ch)
	c.s.persistErrors.Describe(ch)
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	c.s.latest.Range(func(k, v interface{}) bool {
		m := v.(*models.MetricSample)
		l, ok := c.s.labels[m.WorkloadID]
		if !ok {
			l = workloadLabels{cluster: m.ClusterName, workload: m.WorkloadID}
		}
		values := []string{l.cluster, l.namespace, l.workload, l.kind}

		ch <- prometheus.MustNewConstMetric(cpuDesc, prometheus.GaugeValue, m.CPUCores, values...)
		ch <- prometheus.MustNewConstMetric(memoryDesc, prometheus.GaugeValue, float64(m.MemoryBytes), values...)
		ch <- prometheus.MustNewConstMetric(rxDesc, prometheus.GaugeValue, float64(m.NetworkRxBytes), values...)
		ch <- prometheus.MustNewConstMetric(txDesc, prometheus.GaugeValue, float64(m.NetworkTxBytes), values...)
		return true
	})
	c.s.generated.Collect(ch)
	c.s.backfilled.Collect(ch)
	c.s.persisted.Collect(ch)
	c.s.dropped.Collect(ch)
	c.s.persistErrors.Collect(ch)
}
