package reporter

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/opscart/k8s-metrics-generator/pkg/models"
)

// GenerateCSV writes one row per workload summary
func GenerateCSV(report *Report, writer io.Writer) error {
	w := csv.NewWriter(writer)

	header := []string{
		"Cluster/Namespace/Workload",
		"Samples",
		"CPU Avg",
		"CPU P50",
		"CPU P95",
		"CPU P99",
		"CPU Peak",
		"Memory Avg (Mi)",
		"Memory Peak (Mi)",
		"CPU Growth (%/day)",
		"Memory Growth (%/day)",
		"Weekend Ratio",
		"Pattern",
		"Detected",
	}
	if err := w.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, s := range report.Summaries {
		row := []string{
			s.Workload,
			strconv.Itoa(s.Samples),
			fmt.Sprintf("%.4f", s.CPU.Average),
			fmt.Sprintf("%.4f", s.CPU.P50),
			fmt.Sprintf("%.4f", s.CPU.P95),
			fmt.Sprintf("%.4f", s.CPU.P99),
			fmt.Sprintf("%.4f", s.CPU.Peak),
			fmt.Sprintf("%.1f", s.Memory.Average/(1024*1024)),
			fmt.Sprintf("%.1f", s.Memory.Peak/(1024*1024)),
			fmt.Sprintf("%.4f", s.CPUGrowth.RatePerDay),
			fmt.Sprintf("%.4f", s.MemoryGrowth.RatePerDay),
			fmt.Sprintf("%.3f", s.WeekendRatio),
			string(s.Expected),
			string(s.Detected),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	w.Flush()
	return w.Error()
}

// SampleHeader is the column layout of WriteSamplesCSV
var SampleHeader = []string{
	"workload_id", "cluster", "namespace", "workload", "timestamp",
	"cpu_cores", "memory_bytes", "network_rx_bytes", "network_tx_bytes",
}

// SampleWriter streams raw samples as CSV
type SampleWriter struct {
	w         *csv.Writer
	workloads map[string]*models.Workload
	rows      int
}

// NewSampleWriter writes the header and returns a writer for sample rows.
// Workloads resolve the namespace and name columns.
func NewSampleWriter(out io.Writer, workloads []models.Workload) (*SampleWriter, error) {
	sw := &SampleWriter{
		w:         csv.NewWriter(out),
		workloads: make(map[string]*models.Workload, len(workloads)),
	}
	for i := range workloads {
		sw.workloads[workloads[i].ID] = &workloads[i]
	}
	if err := sw.w.Write(SampleHeader); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}
	return sw, nil
}

// WriteBatch appends samples. It satisfies the backfill writer contract, so
// a backfill can stream straight to a file.
func (sw *SampleWriter) WriteBatch(_ context.Context, samples []models.MetricSample) error {
	for i := range samples {
		s := &samples[i]
		var namespace, name string
		if w, ok := sw.workloads[s.WorkloadID]; ok {
			namespace, name = w.Namespace, w.Name
		}
		row := []string{
			s.WorkloadID,
			s.ClusterName,
			namespace,
			name,
			s.Timestamp.UTC().Format(time.RFC3339),
			strconv.FormatFloat(s.CPUCores, 'f', 6, 64),
			strconv.FormatInt(s.MemoryBytes, 10),
			strconv.FormatInt(s.NetworkRxBytes, 10),
			strconv.FormatInt(s.NetworkTxBytes, 10),
		}
		if err := sw.w.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
		sw.rows++
	}
	return nil
}

// Rows returns the number of sample rows written
func (sw *SampleWriter) Rows() int {
	return sw.rows
}

// Flush flushes buffered rows to the underlying writer
func (sw *SampleWriter) Flush() error {
	sw.w.Flush()
	return sw.w.Error()
}
