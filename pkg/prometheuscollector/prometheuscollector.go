// Package prometheuscollector allows to expose metrics for Prometheus.
//
// Using the provided collector, you can easily expose the metrics of a bridge
// in the Prometheus exposition format:
//
//	b, err := bridge.New(…)
//	collector := prometheuscollector.New(b.Metrics)
//	prometheus.MustRegister(collector)
package prometheuscollector

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tus/doctree/pkg/bridge"
)

var (
	operationsTotalDesc = prometheus.NewDesc(
		"doctree_operations_total",
		"Total number of invocations per bridge operation.",
		[]string{"operation"}, nil)
	errorsTotalDesc = prometheus.NewDesc(
		"doctree_errors_total",
		"Total number of errors per error code.",
		[]string{"code"}, nil)
	bytesWrittenDesc = prometheus.NewDesc(
		"doctree_bytes_written",
		"Number of bytes written to entries.",
		nil, nil)
	bytesReadDesc = prometheus.NewDesc(
		"doctree_bytes_read",
		"Number of bytes read from entries.",
		nil, nil)
	foldersGrantedDesc = prometheus.NewDesc(
		"doctree_folders_granted",
		"Number of folders granted through the picker.",
		nil, nil)
	entriesWrittenDesc = prometheus.NewDesc(
		"doctree_entries_written",
		"Number of written entries.",
		nil, nil)
	entriesDeletedDesc = prometheus.NewDesc(
		"doctree_entries_deleted",
		"Number of deleted entries.",
		nil, nil)
)

type Collector struct {
	metrics bridge.Metrics
}

// New creates a new collector which reads from the provided Metrics struct.
func New(metrics bridge.Metrics) Collector {
	return Collector{
		metrics: metrics,
	}
}

func (Collector) Describe(descs chan<- *prometheus.Desc) {
	descs <- operationsTotalDesc
	descs <- errorsTotalDesc
	descs <- bytesWrittenDesc
	descs <- bytesReadDesc
	descs <- foldersGrantedDesc
	descs <- entriesWrittenDesc
	descs <- entriesDeletedDesc
}

func (c Collector) Collect(metrics chan<- prometheus.Metric) {
	for operation, valuePtr := range c.metrics.OperationsTotal {
		metrics <- prometheus.MustNewConstMetric(
			operationsTotalDesc,
			prometheus.CounterValue,
			float64(atomic.LoadUint64(valuePtr)),
			operation,
		)
	}

	for code, valuePtr := range c.metrics.ErrorsTotal.Load() {
		metrics <- prometheus.MustNewConstMetric(
			errorsTotalDesc,
			prometheus.CounterValue,
			float64(atomic.LoadUint64(valuePtr)),
			code,
		)
	}

	counters := []struct {
		desc  *prometheus.Desc
		value *uint64
	}{
		{bytesWrittenDesc, c.metrics.BytesWritten},
		{bytesReadDesc, c.metrics.BytesRead},
		{foldersGrantedDesc, c.metrics.FoldersGranted},
		{entriesWrittenDesc, c.metrics.EntriesWritten},
		{entriesDeletedDesc, c.metrics.EntriesDeleted},
	}
	for _, counter := range counters {
		metrics <- prometheus.MustNewConstMetric(
			counter.desc,
			prometheus.CounterValue,
			float64(atomic.LoadUint64(counter.value)),
		)
	}
}
