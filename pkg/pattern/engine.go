package pattern

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/opscart/k8s-metrics-generator/pkg/models"
)

// Params holds the tunable constants of the usage model.
// Downstream consumers are sensitive to these, so none are hard-coded.
type Params struct {
	// Floor is the off-window multiplier for business-hours and nightly
	Floor float64
	// EdgeLevel is the multiplier at the window boundaries
	EdgeLevel float64
	// Shoulder is how long the curve takes to decay from EdgeLevel to Floor
	Shoulder time.Duration

	WeekendFactor float64

	HourlyBurst       float64
	HourlyBurstLength time.Duration

	SporadicMin float64
	SporadicMax float64

	SpikeProbability float64
	SpikeMin         float64
	SpikeMax         float64

	GrowthRatePerDay float64
	MaxGrowth        float64

	// Location is the time zone used for "local" hours and weekdays
	Location *time.Location
}

// DefaultParams returns the documented model constants
func DefaultParams() Params {
	return Params{
		Floor:             0.2,
		EdgeLevel:         0.9,
		Shoulder:          2 * time.Hour,
		WeekendFactor:     0.7,
		HourlyBurst:       1.5,
		HourlyBurstLength: 5 * time.Minute,
		SporadicMin:       0.2,
		SporadicMax:       1.8,
		SpikeProbability:  0.02,
		SpikeMin:          1.5,
		SpikeMax:          3.0,
		GrowthRatePerDay:  0.001,
		MaxGrowth:         1.5,
		Location:          time.UTC,
	}
}

// Validate checks that the parameters describe a bounded positive model
func (p Params) Validate() error {
	switch {
	case p.Floor <= 0 || p.Floor > p.EdgeLevel:
		return fmt.Errorf("floor must be in (0, edge level %.2f], got %.2f", p.EdgeLevel, p.Floor)
	case p.EdgeLevel > 1:
		return fmt.Errorf("edge level must be <= 1, got %.2f", p.EdgeLevel)
	case p.Shoulder < 0:
		return fmt.Errorf("shoulder must not be negative")
	case p.WeekendFactor <= 0:
		return fmt.Errorf("weekend factor must be positive, got %.2f", p.WeekendFactor)
	case p.HourlyBurst <= 0 || p.HourlyBurstLength < 0 || p.HourlyBurstLength > time.Hour:
		return fmt.Errorf("hourly burst must be positive and last at most an hour")
	case p.SporadicMin <= 0 || p.SporadicMax < p.SporadicMin:
		return fmt.Errorf("sporadic range [%.2f, %.2f] is invalid", p.SporadicMin, p.SporadicMax)
	case p.SpikeProbability < 0 || p.SpikeProbability > 1:
		return fmt.Errorf("spike probability must be in [0, 1], got %.3f", p.SpikeProbability)
	case p.SpikeMin < 1 || p.SpikeMax < p.SpikeMin:
		return fmt.Errorf("spike range [%.2f, %.2f] is invalid", p.SpikeMin, p.SpikeMax)
	case p.GrowthRatePerDay < 0:
		return fmt.Errorf("growth rate must not be negative")
	case p.MaxGrowth < 1:
		return fmt.Errorf("max growth must be >= 1, got %.2f", p.MaxGrowth)
	}
	return nil
}

// Engine turns a pattern and a timestamp into usage multipliers.
// It holds no mutable state; all randomness comes from the caller's rng.
type Engine struct {
	params Params
}

// NewEngine creates a pattern engine
func NewEngine(params Params) (*Engine, error) {
	if params.Location == nil {
		params.Location = time.UTC
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Engine{params: params}, nil
}

// Params returns the engine's model constants
func (e *Engine) Params() Params {
	return e.params
}

// Multiplier returns the cyclical usage multiplier for pattern p at ts.
// Only the sporadic pattern consumes randomness.
func (e *Engine) Multiplier(p models.Pattern, ts time.Time, rng *rand.Rand) float64 {
	local := ts.In(e.params.Location)

	switch p {
	case models.PatternBusinessHours:
		return e.window(local, 9, 17) * e.weekend(local)
	case models.PatternNightly:
		return e.window(local, 0, 6)
	case models.PatternHourly:
		sinceHour := time.Duration(local.Minute())*time.Minute +
			time.Duration(local.Second())*time.Second +
			time.Duration(local.Nanosecond())
		if sinceHour < e.params.HourlyBurstLength {
			return e.params.HourlyBurst
		}
		return 1.0
	case models.PatternSporadic:
		return e.params.SporadicMin + rng.Float64()*(e.params.SporadicMax-e.params.SporadicMin)
	case models.PatternWeekendLow:
		return e.weekend(local)
	case models.PatternSteady:
		return 1.0
	}
	panic(fmt.Sprintf("unhandled scaling pattern %q", p))
}

// window evaluates the daily curve for a peak window [startHour, endHour).
// Inside the window the curve is a sine bump from EdgeLevel up to 1.0;
// outside it decays along a raised cosine to Floor within Shoulder.
func (e *Engine) window(local time.Time, startHour, endHour float64) float64 {
	hour := float64(local.Hour()) + float64(local.Minute())/60 +
		(float64(local.Second())+float64(local.Nanosecond())/1e9)/3600
	length := math.Mod(endHour-startHour+24, 24)

	d := math.Mod(hour-startHour+24, 24)
	if d < length {
		x := d / length
		return e.params.EdgeLevel + (1-e.params.EdgeLevel)*math.Sin(math.Pi*x)
	}

	dist := math.Min(d-length, 24-d)
	shoulder := e.params.Shoulder.Hours()
	if dist >= shoulder {
		return e.params.Floor
	}
	ramp := (1 + math.Cos(math.Pi*dist/shoulder)) / 2
	return e.params.Floor + (e.params.EdgeLevel-e.params.Floor)*ramp
}

func (e *Engine) weekend(local time.Time) float64 {
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return e.params.WeekendFactor
	}
	return 1.0
}

// Growth returns the organic growth factor after elapsed time.
// weight scales the configured daily rate (profiles grow at different speeds).
// The result is non-decreasing in elapsed and capped at MaxGrowth.
func (e *Engine) Growth(elapsed time.Duration, weight float64) float64 {
	if elapsed <= 0 || weight <= 0 {
		return 1.0
	}
	days := elapsed.Hours() / 24
	return math.Min(1+days*e.params.GrowthRatePerDay*weight, e.params.MaxGrowth)
}

// Spike draws the anomaly multiplier for one sample: with SpikeProbability
// a value uniformly drawn from [SpikeMin, SpikeMax], otherwise 1.0.
func (e *Engine) Spike(rng *rand.Rand) float64 {
	if rng.Float64() >= e.params.SpikeProbability {
		return 1.0
	}
	return e.params.SpikeMin + rng.Float64()*(e.params.SpikeMax-e.params.SpikeMin)
}
