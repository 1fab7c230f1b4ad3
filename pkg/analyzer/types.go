package analyzer

import (
	"time"

	"github.com/opscart/k8s-metrics-generator/pkg/models"
)

// Point is a single value of a generated series
type Point struct {
	Timestamp time.Time
	Value     float64
}

// SeriesSummary describes a workload's generated window
type SeriesSummary struct {
	WorkloadID string
	Workload   string // cluster/namespace/name
	Expected   models.Pattern
	Start      time.Time
	End        time.Time
	Samples    int

	CPU    Percentiles
	Memory Percentiles

	CPUVariation UsagePattern
	CPUGrowth    GrowthTrend
	MemoryGrowth GrowthTrend

	// Detected is the pattern the CPU series looks like; empty when the
	// window is too short to tell
	Detected models.Pattern
	// WeekendRatio is weekend mean CPU over weekday mean CPU, 0 if either
	// is missing
	WeekendRatio float64
}

// Matches reports whether the detected pattern equals the configured one
func (s *SeriesSummary) Matches() bool {
	return s.Detected != "" && s.Detected == s.Expected
}

// Percentiles contains statistical percentiles
type Percentiles struct {
	Average float64
	P50     float64
	P90     float64
	P95     float64
	P99     float64
	Peak    float64
	Min     float64
}

// UsagePattern describes how variable a series is
type UsagePattern struct {
	Type       string  // "steady", "moderate", "spiky", "highly-variable"
	Variation  float64 // Coefficient of variation
	Confidence float64
}

// GrowthTrend describes growth over time
type GrowthTrend struct {
	RatePerDay      float64 // % growth per day
	RatePerMonth    float64 // % growth per month
	Confidence      float64 // R² of the fit
	Predicted3Month float64
	IsGrowing       bool
}
