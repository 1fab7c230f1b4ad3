package analyzer

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opscart/k8s-metrics-generator/pkg/models"
	"github.com/opscart/k8s-metrics-generator/pkg/pattern"
)

// 2024-06-03 is a Monday
var monday = time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)

func TestCalculateGrowthTrend(t *testing.T) {
	// 7 days at 30 minutes, growing 0.2% of the base per day
	points := make([]Point, 336)
	for i := range points {
		days := float64(i) / 48
		points[i] = Point{Timestamp: monday.Add(time.Duration(i) * 30 * time.Minute), Value: 100 * (1 + 0.002*days)}
	}

	trend, err := CalculateGrowthTrend(points)
	if err != nil {
		t.Fatalf("CalculateGrowthTrend failed: %v", err)
	}

	if math.Abs(trend.RatePerDay-0.2) > 0.005 {
		t.Errorf("Expected ~0.2%% growth per day, got %.4f%%", trend.RatePerDay)
	}
	if !trend.IsGrowing {
		t.Errorf("Expected IsGrowing=true, got false")
	}
	if trend.Confidence < 0.99 {
		t.Errorf("Expected a near perfect fit, got R²=%.3f", trend.Confidence)
	}
	if trend.Predicted3Month <= 100.0 {
		t.Errorf("Expected 3-month prediction > 100, got %.2f", trend.Predicted3Month)
	}
}

func TestCalculateGrowthTrend_Steady(t *testing.T) {
	points := make([]Point, 336)
	for i := range points {
		points[i] = Point{Timestamp: monday.Add(time.Duration(i) * 30 * time.Minute), Value: 100.0 + float64(i%10)}
	}

	trend, err := CalculateGrowthTrend(points)
	if err != nil {
		t.Fatalf("CalculateGrowthTrend failed: %v", err)
	}
	if math.Abs(trend.RatePerMonth) > 1.0 {
		t.Errorf("Expected ~0%% growth, got %.2f%%", trend.RatePerMonth)
	}
	if trend.IsGrowing {
		t.Errorf("Expected IsGrowing=false for steady series")
	}
}

func TestCalculateGrowthTrend_Insufficient(t *testing.T) {
	if _, err := CalculateGrowthTrend(make([]Point, 10)); err == nil {
		t.Error("Expected error for short series")
	}
}

// week samples a pattern multiplier every 30 minutes for 7 days
func week(t *testing.T, p models.Pattern) []Point {
	t.Helper()
	e, err := pattern.NewEngine(pattern.DefaultParams())
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(17))

	points := make([]Point, 336)
	for i := range points {
		ts := monday.Add(time.Duration(i) * 30 * time.Minute)
		points[i] = Point{Timestamp: ts, Value: e.Multiplier(p, ts, rng)}
	}
	return points
}

func TestDetectPatternRecognisesEveryPattern(t *testing.T) {
	for _, p := range []models.Pattern{
		models.PatternBusinessHours,
		models.PatternNightly,
		models.PatternHourly,
		models.PatternSporadic,
		models.PatternWeekendLow,
		models.PatternSteady,
	} {
		t.Run(string(p), func(t *testing.T) {
			got, err := DetectPattern(week(t, p), time.UTC)
			require.NoError(t, err)
			assert.Equal(t, p, got)
		})
	}
}

func TestDetectPatternNeedsADay(t *testing.T) {
	_, err := DetectPattern(week(t, models.PatternSteady)[:40], time.UTC)
	assert.Error(t, err)
}

func TestWeekendRatio(t *testing.T) {
	assert.InDelta(t, 0.7, WeekendRatio(week(t, models.PatternWeekendLow), time.UTC), 1e-9)
	assert.Equal(t, 0.0, WeekendRatio(week(t, models.PatternSteady)[:48], time.UTC))
}

func TestSummarize(t *testing.T) {
	w := &models.Workload{
		ID:          "w1",
		Name:        "frontend-web",
		ClusterName: "aws-cluster",
		Namespace:   "production",
		Pattern:     models.PatternBusinessHours,
	}
	var samples []models.MetricSample
	for _, p := range week(t, models.PatternBusinessHours) {
		samples = append(samples, models.MetricSample{
			WorkloadID:  w.ID,
			Timestamp:   p.Timestamp,
			CPUCores:    0.5 * p.Value,
			MemoryBytes: int64(float64(512<<20) * (1 - 0.3*(1-p.Value))),
		})
	}

	s, err := Summarize(w, samples, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, 336, s.Samples)
	assert.Equal(t, "aws-cluster/production/frontend-web", s.Workload)
	assert.True(t, s.Matches())
	assert.InDelta(t, 0.5, s.CPU.Peak, 1e-9)
	assert.InDelta(t, 0.07, s.CPU.Min, 1e-9)
	assert.Less(t, s.WeekendRatio, 1.0)

	_, err = Summarize(w, nil, time.UTC)
	assert.Error(t, err)
}
