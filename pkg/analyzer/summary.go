package analyzer

import (
	"fmt"
	"time"

	"github.com/opscart/k8s-metrics-generator/pkg/models"
)

// Summarize analyses one workload's samples, which must be ordered by time
func Summarize(w *models.Workload, samples []models.MetricSample, loc *time.Location) (*SeriesSummary, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("no samples for %s", w.Key())
	}

	cpu, mem := CPUSeries(samples), MemorySeries(samples)
	s := &SeriesSummary{
		WorkloadID: w.ID,
		Workload:   w.Key(),
		Expected:   w.Pattern,
		Start:      samples[0].Timestamp,
		End:        samples[len(samples)-1].Timestamp,
		Samples:    len(samples),
	}

	cpuP, err := CalculatePercentiles(cpu)
	if err != nil {
		return nil, err
	}
	memP, err := CalculatePercentiles(mem)
	if err != nil {
		return nil, err
	}
	s.CPU, s.Memory = *cpuP, *memP
	s.CPUVariation = AnalyzeVariation(cpu)
	s.WeekendRatio = WeekendRatio(cpu, loc)

	// short windows still get percentiles
	if g, err := CalculateGrowthTrend(cpu); err == nil {
		s.CPUGrowth = *g
	}
	if g, err := CalculateGrowthTrend(mem); err == nil {
		s.MemoryGrowth = *g
	}
	if p, err := DetectPattern(cpu, loc); err == nil {
		s.Detected = p
	}
	return s, nil
}
