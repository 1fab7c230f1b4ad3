package analyzer

import (
	"fmt"
	"time"

	"github.com/opscart/k8s-metrics-generator/pkg/models"
)

// minTrendPoints is one day at the default 30 minute backfill spacing
const minTrendPoints = 48

// CalculateGrowthTrend fits a line through the series and reports its
// slope relative to the series mean
func CalculateGrowthTrend(points []Point) (*GrowthTrend, error) {
	if len(points) < minTrendPoints {
		return &GrowthTrend{}, fmt.Errorf("insufficient data for trend analysis (need %d+ points, got %d)", minTrendPoints, len(points))
	}

	start := points[0].Timestamp
	x := make([]float64, len(points)) // hours since start
	y := values(points)
	for i, p := range points {
		x[i] = p.Timestamp.Sub(start).Hours()
	}

	slope, intercept, r2 := linearRegression(x, y)
	avg := mean(y)

	var perDay float64
	if avg > 0 {
		perDay = slope * 24 / avg * 100
	}

	predicted := slope*(x[len(x)-1]+24*90) + intercept
	if predicted < 0 {
		predicted = avg
	}

	return &GrowthTrend{
		RatePerDay:      perDay,
		RatePerMonth:    perDay * 30,
		Confidence:      r2,
		Predicted3Month: predicted,
		IsGrowing:       perDay*30 > 3.0,
	}, nil
}

// linearRegression returns slope, intercept and R² clamped to [0, 1]
func linearRegression(x, y []float64) (slope, intercept, r2 float64) {
	if len(x) == 0 {
		return 0, 0, 0
	}

	meanX, meanY := mean(x), mean(y)
	num, den := 0.0, 0.0
	for i := range x {
		num += (x[i] - meanX) * (y[i] - meanY)
		den += (x[i] - meanX) * (x[i] - meanX)
	}
	if den == 0 {
		return 0, meanY, 0
	}

	slope = num / den
	intercept = meanY - slope*meanX

	ssTotal, ssRes := 0.0, 0.0
	for i := range x {
		predicted := slope*x[i] + intercept
		ssRes += (y[i] - predicted) * (y[i] - predicted)
		ssTotal += (y[i] - meanY) * (y[i] - meanY)
	}
	if ssTotal == 0 {
		return slope, intercept, 0
	}

	r2 = 1.0 - ssRes/ssTotal
	if r2 < 0 {
		r2 = 0
	} else if r2 > 1 {
		r2 = 1
	}
	return slope, intercept, r2
}

// Thresholds for DetectPattern
const (
	windowContrast  = 1.5
	weekendContrast = 0.8
	burstContrast   = 1.25
	sporadicCV      = 0.3
)

// DetectPattern guesses which scaling pattern produced a series.
// Hours and weekdays are read in loc. It needs at least a full day of data.
func DetectPattern(points []Point, loc *time.Location) (models.Pattern, error) {
	if len(points) < minTrendPoints || points[len(points)-1].Timestamp.Sub(points[0].Timestamp) < 23*time.Hour {
		return "", fmt.Errorf("insufficient data for pattern detection")
	}
	if loc == nil {
		loc = time.UTC
	}

	var hourly [24][]float64
	var weekday, weekend, burst, rest []float64
	for _, p := range points {
		local := p.Timestamp.In(loc)
		switch local.Weekday() {
		case time.Saturday, time.Sunday:
			weekend = append(weekend, p.Value)
		default:
			weekday = append(weekday, p.Value)
			hourly[local.Hour()] = append(hourly[local.Hour()], p.Value)
		}
		if local.Minute() < 5 {
			burst = append(burst, p.Value)
		} else {
			rest = append(rest, p.Value)
		}
	}

	hours := func(from, to int) float64 {
		var vs []float64
		for h := from; h <= to; h++ {
			vs = append(vs, hourly[h]...)
		}
		return mean(vs)
	}

	office, small := hours(10, 15), hours(1, 4)
	switch {
	case small > 0 && office > small*windowContrast:
		return models.PatternBusinessHours, nil
	case office > 0 && small > office*windowContrast:
		return models.PatternNightly, nil
	}

	if len(weekday) > 0 && len(weekend) > 0 && mean(weekend) < mean(weekday)*weekendContrast {
		return models.PatternWeekendLow, nil
	}
	if len(burst) > 0 && len(rest) > 0 && mean(burst) > mean(rest)*burstContrast {
		return models.PatternHourly, nil
	}
	if coefficientOfVariation(values(points)) > sporadicCV {
		return models.PatternSporadic, nil
	}
	return models.PatternSteady, nil
}

// WeekendRatio is the weekend mean over the weekday mean, or 0 when the
// series does not cover both
func WeekendRatio(points []Point, loc *time.Location) float64 {
	if loc == nil {
		loc = time.UTC
	}
	var weekday, weekend []float64
	for _, p := range points {
		switch p.Timestamp.In(loc).Weekday() {
		case time.Saturday, time.Sunday:
			weekend = append(weekend, p.Value)
		default:
			weekday = append(weekday, p.Value)
		}
	}
	if len(weekday) == 0 || len(weekend) == 0 || mean(weekday) == 0 {
		return 0
	}
	return mean(weekend) / mean(weekday)
}
