package reporter

import (
	"bytes"
	"context"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opscart/k8s-metrics-generator/pkg/analyzer"
	"github.com/opscart/k8s-metrics-generator/pkg/models"
)

var start = time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)

func summaries() []*analyzer.SeriesSummary {
	return []*analyzer.SeriesSummary{
		{
			Workload: "aws-cluster/production/frontend-web",
			Expected: models.PatternBusinessHours,
			Detected: models.PatternBusinessHours,
			Start:    start,
			End:      start.Add(7 * 24 * time.Hour),
			Samples:  336,
			CPU:      analyzer.Percentiles{Peak: 0.5, Average: 0.3},
			Memory:   analyzer.Percentiles{Average: 512 << 20},
		},
		{
			Workload: "aws-cluster/batch/report-builder",
			Expected: models.PatternNightly,
			Detected: models.PatternSteady,
			Start:    start.Add(time.Hour),
			End:      start.Add(24 * time.Hour),
			Samples:  48,
			CPU:      analyzer.Percentiles{Peak: 1.0},
			Memory:   analyzer.Percentiles{Average: 1 << 30},
		},
		{
			Workload: "gcp-cluster/cache/redis",
			Expected: models.PatternSteady,
			Start:    start,
			End:      start.Add(time.Hour),
			Samples:  2,
			CPU:      analyzer.Percentiles{Peak: 0.25},
		},
	}
}

func TestGenerateStats(t *testing.T) {
	report := New(FormatText).Generate(summaries(), 42, start)

	assert.Equal(t, 1, report.Matched)
	assert.Equal(t, start, report.Start)
	assert.Equal(t, start.Add(7*24*time.Hour), report.End)

	clusters := report.Clusters()
	require.Len(t, clusters, 2)
	assert.Equal(t, "aws-cluster", clusters[0].Cluster)
	assert.Equal(t, 2, clusters[0].Workloads)
	assert.Equal(t, 384, clusters[0].Samples)
	assert.InDelta(t, 1.5, clusters[0].PeakCPU, 1e-9)
	assert.Equal(t, 1, clusters[0].Matched)
	assert.Equal(t, "gcp-cluster", clusters[1].Cluster)
}

func TestGenerateText(t *testing.T) {
	r := New(FormatText)
	var buf bytes.Buffer
	require.NoError(t, r.Write(r.Generate(summaries(), 42, start), &buf))

	out := buf.String()
	assert.Contains(t, out, "seed 42")
	assert.Contains(t, out, "aws-cluster/batch/report-builder")
	assert.Contains(t, out, "steady (!)")
	assert.Contains(t, out, "Patterns recognised: 1/3")
}

func TestGenerateCSV(t *testing.T) {
	r := New(FormatCSV)
	var buf bytes.Buffer
	require.NoError(t, r.Write(r.Generate(summaries(), 1, start), &buf))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, "aws-cluster/production/frontend-web", rows[1][0])
	assert.Equal(t, "336", rows[1][1])
	assert.Equal(t, "512.0", rows[1][7])
	assert.Equal(t, "business-hours", rows[1][12])
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("csv")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, f)

	_, err = ParseFormat("html")
	assert.Error(t, err)
}

func TestSampleWriter(t *testing.T) {
	workloads := []models.Workload{{ID: "w1", Name: "frontend-web", Namespace: "production"}}
	var buf bytes.Buffer
	sw, err := NewSampleWriter(&buf, workloads)
	require.NoError(t, err)

	require.NoError(t, sw.WriteBatch(context.Background(), []models.MetricSample{
		{WorkloadID: "w1", ClusterName: "aws-cluster", Timestamp: start, CPUCores: 0.25, MemoryBytes: 1024, NetworkRxBytes: 10, NetworkTxBytes: 5},
		{WorkloadID: "unknown", ClusterName: "gcp-cluster", Timestamp: start.Add(30 * time.Minute)},
	}))
	require.NoError(t, sw.Flush())
	assert.Equal(t, 2, sw.Rows())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, strings.Join(SampleHeader, ","), lines[0])
	assert.Equal(t, "w1,aws-cluster,production,frontend-web,2024-06-03T00:00:00Z,0.250000,1024,10,5", lines[1])
	assert.True(t, strings.HasPrefix(lines[2], "unknown,gcp-cluster,,,2024-06-03T00:30:00Z"))
}
