package simulator

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/opscart/k8s-metrics-generator/pkg/models"
	"github.com/opscart/k8s-metrics-generator/pkg/pattern"
)

const (
	// memoryDamping scales how strongly memory follows the load cycle
	memoryDamping = 0.3
	// limitHeadroom keeps steady-state usage just under the limit
	limitHeadroom = 0.95
)

// Traits weight each resource dimension and growth rate per profile
type Traits struct {
	CPUWeight    float64
	MemoryWeight float64
	CPUGrowth    float64
	MemoryGrowth float64
	// LeakPerDay is a linear memory drift on top of growth
	LeakPerDay float64
}

// TraitsFor returns the weighting of a resource profile
func TraitsFor(p models.Profile) Traits {
	switch p {
	case models.ProfileCPUIntensive:
		return Traits{CPUWeight: 1.3, MemoryWeight: 1.0, CPUGrowth: 1.0, MemoryGrowth: 0.5}
	case models.ProfileMemoryIntensive:
		return Traits{CPUWeight: 1.0, MemoryWeight: 1.45, CPUGrowth: 1.0, MemoryGrowth: 0.5, LeakPerDay: 0.002}
	case models.ProfileBalanced:
		return Traits{CPUWeight: 1.0, MemoryWeight: 1.0, CPUGrowth: 1.0, MemoryGrowth: 0.5}
	case models.ProfileLowUsage:
		return Traits{CPUWeight: 0.45, MemoryWeight: 0.55, CPUGrowth: 0.5, MemoryGrowth: 0.25}
	}
	panic(fmt.Sprintf("unhandled resource profile %q", p))
}

// Engine composes baselines with pattern, growth, spike and noise
type Engine struct {
	patterns      *pattern.Engine
	noiseFraction float64
}

// NewEngine creates a simulation engine. noiseFraction bounds the additive
// noise per dimension as a fraction of that dimension's baseline.
func NewEngine(patterns *pattern.Engine, noiseFraction float64) (*Engine, error) {
	if patterns == nil {
		return nil, fmt.Errorf("pattern engine is required")
	}
	if noiseFraction < 0 || noiseFraction >= 1 {
		return nil, fmt.Errorf("noise fraction must be in [0, 1), got %.3f", noiseFraction)
	}
	return &Engine{patterns: patterns, noiseFraction: noiseFraction}, nil
}

// GenerateSample produces the resource usage of w at ts.
//
// The result depends only on (w, ts) and the state of rng: the pattern draw,
// the spike draw and the four noise draws always happen in the same order,
// so replaying a seed replays the series exactly.
func (e *Engine) GenerateSample(w *models.Workload, ts time.Time, rng *rand.Rand) (models.MetricSample, error) {
	if ts.Before(w.Epoch) {
		return models.MetricSample{}, &InvalidTimestampError{
			WorkloadID: w.ID,
			Timestamp:  ts,
			Epoch:      w.Epoch,
		}
	}

	traits := TraitsFor(w.Profile)
	elapsed := ts.Sub(w.Epoch)

	cycle := e.patterns.Multiplier(w.Pattern, ts, rng)
	spike := e.patterns.Spike(rng)

	cpuGrowth := e.patterns.Growth(elapsed, traits.CPUGrowth)
	memGrowth := e.patterns.Growth(elapsed, traits.MemoryGrowth) * (1 + traits.LeakPerDay*elapsed.Hours()/24)
	memCycle := 1 - memoryDamping*(1-cycle)

	cpu := w.BaselineCPU*traits.CPUWeight*cycle*cpuGrowth*spike + e.noise(rng, w.BaselineCPU)
	mem := float64(w.BaselineMemory)*traits.MemoryWeight*memCycle*memGrowth*spike + e.noise(rng, float64(w.BaselineMemory))
	rx := float64(w.BaselineNetworkRx)*cycle*cpuGrowth*spike + e.noise(rng, float64(w.BaselineNetworkRx))
	tx := float64(w.BaselineNetworkTx)*cycle*cpuGrowth*spike + e.noise(rng, float64(w.BaselineNetworkTx))

	return models.MetricSample{
		WorkloadID:     w.ID,
		ClusterName:    w.ClusterName,
		Timestamp:      ts,
		CPUCores:       clamp(cpu, ceiling(w.CPULimit, spike)),
		MemoryBytes:    int64(math.Round(clamp(mem, ceiling(float64(w.MemoryLimit), spike)))),
		NetworkRxBytes: int64(math.Round(clamp(rx, 0))),
		NetworkTxBytes: int64(math.Round(clamp(tx, 0))),
	}, nil
}

// noise draws a bounded additive perturbation in ±noiseFraction·baseline
func (e *Engine) noise(rng *rand.Rand, baseline float64) float64 {
	return baseline * e.noiseFraction * (2*rng.Float64() - 1)
}

// ceiling is the upper bound for a dimension with the given limit; zero
// means unbounded. A spike may push usage up to the limit itself.
func ceiling(limit, spike float64) float64 {
	if limit <= 0 {
		return 0
	}
	if spike > 1 {
		return limit
	}
	return limit * limitHeadroom
}

func clamp(v, upper float64) float64 {
	if upper > 0 && v > upper {
		v = upper
	}
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	return v
}
