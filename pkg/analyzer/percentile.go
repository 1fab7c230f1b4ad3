package analyzer

import (
	"fmt"
	"math"
	"sort"

	"github.com/opscart/k8s-metrics-generator/pkg/models"
)

// CPUSeries extracts CPU cores from samples
func CPUSeries(samples []models.MetricSample) []Point {
	out := make([]Point, len(samples))
	for i, m := range samples {
		out[i] = Point{Timestamp: m.Timestamp, Value: m.CPUCores}
	}
	return out
}

// MemorySeries extracts memory bytes from samples
func MemorySeries(samples []models.MetricSample) []Point {
	out := make([]Point, len(samples))
	for i, m := range samples {
		out[i] = Point{Timestamp: m.Timestamp, Value: float64(m.MemoryBytes)}
	}
	return out
}

func values(points []Point) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = p.Value
	}
	return out
}

// CalculatePercentiles computes P50, P90, P95, P99, and peak of a series
func CalculatePercentiles(points []Point) (*Percentiles, error) {
	if len(points) == 0 {
		return nil, fmt.Errorf("no points provided")
	}

	sorted := values(points)
	sort.Float64s(sorted)

	return &Percentiles{
		Average: mean(sorted),
		P50:     percentile(sorted, 50),
		P90:     percentile(sorted, 90),
		P95:     percentile(sorted, 95),
		P99:     percentile(sorted, 99),
		Peak:    sorted[len(sorted)-1],
		Min:     sorted[0],
	}, nil
}

// percentile interpolates linearly between closest ranks
func percentile(sorted []float64, p float64) float64 {
	switch len(sorted) {
	case 0:
		return 0
	case 1:
		return sorted[0]
	}

	rank := (p / 100.0) * float64(len(sorted)-1)
	lo, hi := int(math.Floor(rank)), int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + (sorted[hi]-sorted[lo])*(rank-float64(lo))
}

func mean(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}

// coefficientOfVariation is the population standard deviation over the mean
func coefficientOfVariation(vs []float64) float64 {
	if len(vs) < 2 {
		return 0
	}
	m := mean(vs)
	if m == 0 {
		return 0
	}
	sq := 0.0
	for _, v := range vs {
		sq += (v - m) * (v - m)
	}
	return math.Sqrt(sq/float64(len(vs))) / m
}

// AnalyzeVariation classifies how spread out a series is.
// High CV (>0.7) = highly variable, low CV (<0.15) = steady.
func AnalyzeVariation(points []Point) UsagePattern {
	if len(points) < 10 {
		return UsagePattern{Type: "unknown"}
	}

	cv := coefficientOfVariation(values(points))
	switch {
	case cv < 0.15:
		return UsagePattern{Type: "steady", Variation: cv, Confidence: 0.95}
	case cv < 0.35:
		return UsagePattern{Type: "moderate", Variation: cv, Confidence: 0.85}
	case cv < 0.70:
		return UsagePattern{Type: "spiky", Variation: cv, Confidence: 0.80}
	}
	return UsagePattern{Type: "highly-variable", Variation: cv, Confidence: 0.75}
}
