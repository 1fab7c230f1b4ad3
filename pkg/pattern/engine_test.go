package pattern

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opscart/k8s-metrics-generator/pkg/models"
)

// 2024-06-05 is a Wednesday, 2024-06-08 a Saturday.
var wednesday = time.Date(2024, 6, 5, 0, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(DefaultParams())
	require.NoError(t, err)
	return e
}

func TestBusinessHoursInsideWindowDominatesOutside(t *testing.T) {
	e := newTestEngine(t)
	rng := rand.New(rand.NewSource(1))

	for day := 0; day < 7; day++ {
		base := wednesday.AddDate(0, 0, day)
		var minInside, maxOutside = 10.0, 0.0
		for m := 0; m < 24*60; m += 5 {
			ts := base.Add(time.Duration(m) * time.Minute)
			v := e.Multiplier(models.PatternBusinessHours, ts, rng)
			if ts.Hour() >= 9 && ts.Hour() < 17 {
				minInside = min(minInside, v)
			} else {
				maxOutside = max(maxOutside, v)
			}
		}
		assert.GreaterOrEqual(t, minInside, maxOutside, "day %s", base.Weekday())
	}
}

func TestBusinessHoursPeakAndFloor(t *testing.T) {
	e := newTestEngine(t)

	peak := e.Multiplier(models.PatternBusinessHours, wednesday.Add(13*time.Hour), nil)
	assert.InDelta(t, 1.0, peak, 1e-9)

	night := e.Multiplier(models.PatternBusinessHours, wednesday.Add(3*time.Hour), nil)
	assert.InDelta(t, 0.2, night, 1e-9)

	noon := e.Multiplier(models.PatternBusinessHours, wednesday.Add(12*time.Hour), nil)
	assert.InDelta(t, 1.0, noon, 0.1)
}

func TestWindowCurvesAreContinuous(t *testing.T) {
	e := newTestEngine(t)

	for _, p := range []models.Pattern{models.PatternBusinessHours, models.PatternNightly} {
		prev := e.Multiplier(p, wednesday, nil)
		for s := 1; s < 24*3600; s++ {
			ts := wednesday.Add(time.Duration(s) * time.Second)
			v := e.Multiplier(p, ts, nil)
			assert.InDelta(t, prev, v, 0.005, "%s jumps at %s", p, ts.Format("15:04:05"))
			prev = v
		}
	}
}

func TestNightlyMirrorsBusinessHours(t *testing.T) {
	e := newTestEngine(t)

	assert.InDelta(t, 1.0, e.Multiplier(models.PatternNightly, wednesday.Add(3*time.Hour), nil), 1e-9)
	assert.InDelta(t, 0.2, e.Multiplier(models.PatternNightly, wednesday.Add(13*time.Hour), nil), 1e-9)
	// shoulder before midnight rises towards the window
	assert.Greater(t,
		e.Multiplier(models.PatternNightly, wednesday.Add(23*time.Hour+30*time.Minute), nil),
		e.Multiplier(models.PatternNightly, wednesday.Add(22*time.Hour+30*time.Minute), nil))
}

func TestHourlyPlateau(t *testing.T) {
	e := newTestEngine(t)
	top := wednesday.Add(10 * time.Hour)

	assert.Equal(t, 1.5, e.Multiplier(models.PatternHourly, top, nil))
	assert.Equal(t, 1.5, e.Multiplier(models.PatternHourly, top.Add(4*time.Minute+59*time.Second), nil))
	assert.Equal(t, 1.0, e.Multiplier(models.PatternHourly, top.Add(5*time.Minute), nil))
	assert.Equal(t, 1.0, e.Multiplier(models.PatternHourly, top.Add(45*time.Minute), nil))
}

func TestWeekendLow(t *testing.T) {
	e := newTestEngine(t)
	saturdayNoon := time.Date(2024, 6, 8, 12, 0, 0, 0, time.UTC)
	wednesdayNoon := wednesday.Add(12 * time.Hour)

	sat := e.Multiplier(models.PatternWeekendLow, saturdayNoon, nil)
	wed := e.Multiplier(models.PatternWeekendLow, wednesdayNoon, nil)
	assert.InDelta(t, 0.7*wed, sat, 1e-9)
	assert.Equal(t, e.Multiplier(models.PatternSteady, wednesdayNoon, nil), wed)
}

func TestWeekendUsesCalendarDayOfLocation(t *testing.T) {
	params := DefaultParams()
	params.Location = time.FixedZone("JST", 9*3600)
	e, err := NewEngine(params)
	require.NoError(t, err)

	// Friday 20:00 UTC is already Saturday 05:00 in Tokyo
	fridayEvening := time.Date(2024, 6, 7, 20, 0, 0, 0, time.UTC)
	assert.Equal(t, 0.7, e.Multiplier(models.PatternWeekendLow, fridayEvening, nil))
}

func TestSporadicIsBoundedWithUnitMean(t *testing.T) {
	e := newTestEngine(t)
	rng := rand.New(rand.NewSource(7))

	sum := 0.0
	n := 20000
	for i := 0; i < n; i++ {
		v := e.Multiplier(models.PatternSporadic, wednesday, rng)
		require.GreaterOrEqual(t, v, 0.2)
		require.Less(t, v, 1.8)
		sum += v
	}
	assert.InDelta(t, 1.0, sum/float64(n), 0.02)
}

func TestGrowthIsMonotonicAndCapped(t *testing.T) {
	e := newTestEngine(t)

	assert.Equal(t, 1.0, e.Growth(0, 1))
	assert.Equal(t, 1.0, e.Growth(-time.Hour, 1))

	prev := 1.0
	for d := 1; d <= 1000; d++ {
		g := e.Growth(time.Duration(d)*24*time.Hour, 1)
		require.GreaterOrEqual(t, g, prev)
		prev = g
	}
	assert.InDelta(t, 1.01, e.Growth(10*24*time.Hour, 1), 1e-9)
	assert.Equal(t, 1.5, e.Growth(5000*24*time.Hour, 1))
	assert.InDelta(t, 1.005, e.Growth(10*24*time.Hour, 0.5), 1e-9)
}

func TestSpikeFrequencyConverges(t *testing.T) {
	e := newTestEngine(t)
	rng := rand.New(rand.NewSource(42))

	spikes := 0
	n := 10000
	for i := 0; i < n; i++ {
		m := e.Spike(rng)
		if m != 1.0 {
			spikes++
			require.GreaterOrEqual(t, m, 1.5)
			require.LessOrEqual(t, m, 3.0)
		}
	}
	rate := float64(spikes) / float64(n)
	assert.GreaterOrEqual(t, rate, 0.01)
	assert.LessOrEqual(t, rate, 0.03)
}

func TestSpikeIsReproducible(t *testing.T) {
	e := newTestEngine(t)
	a := rand.New(rand.NewSource(99))
	b := rand.New(rand.NewSource(99))

	for i := 0; i < 1000; i++ {
		require.Equal(t, e.Spike(a), e.Spike(b))
	}
}

func TestSpikeDisabled(t *testing.T) {
	params := DefaultParams()
	params.SpikeProbability = 0
	e, err := NewEngine(params)
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(1))

	for i := 0; i < 1000; i++ {
		require.Equal(t, 1.0, e.Spike(rng))
	}
}

func TestParamsValidation(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Params)
	}{
		{"floor above edge", func(p *Params) { p.Floor = 0.95 }},
		{"negative spike probability", func(p *Params) { p.SpikeProbability = -0.1 }},
		{"spike below one", func(p *Params) { p.SpikeMin = 0.5 }},
		{"inverted sporadic range", func(p *Params) { p.SporadicMax = 0.1 }},
		{"max growth below one", func(p *Params) { p.MaxGrowth = 0.9 }},
		{"burst longer than an hour", func(p *Params) { p.HourlyBurstLength = 2 * time.Hour }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParams()
			tt.modify(&p)
			_, err := NewEngine(p)
			assert.Error(t, err)
		})
	}
}
