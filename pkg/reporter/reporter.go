package reporter

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/opscart/k8s-metrics-generator/pkg/analyzer"
)

// ReportFormat represents the output format
type ReportFormat string

const (
	FormatText ReportFormat = "text"
	FormatCSV  ReportFormat = "csv"
)

// ParseFormat validates a format name
func ParseFormat(s string) (ReportFormat, error) {
	switch f := ReportFormat(s); f {
	case FormatText, FormatCSV:
		return f, nil
	}
	return "", fmt.Errorf("unknown report format %q (want text or csv)", s)
}

// Report contains all data for a generated-window report
type Report struct {
	GeneratedAt  time.Time
	Start        time.Time
	End          time.Time
	Seed         int64
	Summaries    []*analyzer.SeriesSummary
	Matched      int
	ClusterStats map[string]*ClusterStats
}

// ClusterStats holds statistics per cluster
type ClusterStats struct {
	Cluster   string
	Workloads int
	Samples   int
	PeakCPU   float64 // sum of per-workload CPU peaks, cores
	AvgMemory float64 // sum of per-workload memory averages, bytes
	Matched   int
}

// Reporter renders analysis of generated series
type Reporter struct {
	format ReportFormat
}

// New creates a new reporter
func New(format ReportFormat) *Reporter {
	return &Reporter{
		format: format,
	}
}

// Generate builds a report from per-workload summaries
func (r *Reporter) Generate(summaries []*analyzer.SeriesSummary, seed int64, now time.Time) *Report {
	report := &Report{
		GeneratedAt:  now,
		Seed:         seed,
		Summaries:    summaries,
		ClusterStats: make(map[string]*ClusterStats),
	}
	r.calculateStats(report)
	return report
}

// calculateStats computes all statistics for the report
func (r *Reporter) calculateStats(report *Report) {
	for _, s := range report.Summaries {
		if report.Start.IsZero() || s.Start.Before(report.Start) {
			report.Start = s.Start
		}
		if s.End.After(report.End) {
			report.End = s.End
		}

		cluster := clusterOf(s.Workload)
		stats, ok := report.ClusterStats[cluster]
		if !ok {
			stats = &ClusterStats{Cluster: cluster}
			report.ClusterStats[cluster] = stats
		}
		stats.Workloads++
		stats.Samples += s.Samples
		stats.PeakCPU += s.CPU.Peak
		stats.AvgMemory += s.Memory.Average
		if s.Matches() {
			stats.Matched++
			report.Matched++
		}
	}
}

// Clusters returns the cluster statistics sorted by name
func (report *Report) Clusters() []*ClusterStats {
	out := make([]*ClusterStats, 0, len(report.ClusterStats))
	for _, s := range report.ClusterStats {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cluster < out[j].Cluster })
	return out
}

// Write renders the report in the reporter's format
func (r *Reporter) Write(report *Report, w io.Writer) error {
	switch r.format {
	case FormatCSV:
		return GenerateCSV(report, w)
	case FormatText:
		return GenerateText(report, w)
	}
	return fmt.Errorf("unsupported format: %s", r.format)
}

// clusterOf extracts the cluster from a cluster/namespace/name key
func clusterOf(key string) string {
	for i := 0; i < len(key); i++ {
		if key[i] == '/' {
			return key[:i]
		}
	}
	return key
}
