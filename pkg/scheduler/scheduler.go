package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/opscart/k8s-metrics-generator/pkg/models"
)

// Generator produces one sample for a workload at a timestamp
type Generator interface {
	GenerateSample(w *models.Workload, ts time.Time, rng *rand.Rand) (models.MetricSample, error)
}

// Sink receives live samples. RequestFlush must not wait on persistence.
type Sink interface {
	Submit(ctx context.Context, m models.MetricSample) error
	RequestFlush()
}

type Options struct {
	Interval time.Duration
	// Watermark is the first instant live samples may carry. Anything
	// earlier belongs to the backfilled history.
	Watermark time.Time
	Clock     clock.WithTicker
	Logger    logrus.FieldLogger
}

// TickResult summarises one generation round
type TickResult struct {
	Time      time.Time
	Submitted int
	Failed    int
	Skipped   bool
}

// Scheduler drives live generation: one sample per workload per tick
type Scheduler struct {
	workloads []models.Workload
	generator Generator
	sink      Sink
	rng       *rand.Rand
	interval  time.Duration
	watermark time.Time
	clock     clock.WithTicker
	log       logrus.FieldLogger
}

// New creates a live scheduler. rng is owned by the scheduler from now on.
func New(workloads []models.Workload, generator Generator, sink Sink, rng *rand.Rand, opts Options) (*Scheduler, error) {
	if opts.Interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %s", opts.Interval)
	}
	if generator == nil || sink == nil || rng == nil {
		return nil, fmt.Errorf("generator, sink and random source are required")
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Scheduler{
		workloads: workloads,
		generator: generator,
		sink:      sink,
		rng:       rng,
		interval:  opts.Interval,
		watermark: opts.Watermark,
		clock:     clk,
		log:       log.WithField("component", "scheduler"),
	}, nil
}

// Run generates immediately and then on every tick until ctx is done
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.WithFields(logrus.Fields{
		"workloads": len(s.workloads),
		"interval":  s.interval,
	}).Info("Starting live generation")

	s.Tick(ctx, s.clock.Now())
	for {
		select {
		case <-ctx.Done():
			s.log.Info("Live generation stopped")
			return nil
		case now := <-ticker.C():
			s.Tick(ctx, now)
		}
	}
}

// Tick generates and submits one sample per workload at now, then asks the
// sink to flush. Failures are logged and counted, never returned.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) TickResult {
	res := TickResult{Time: now}
	if now.Before(s.watermark) {
		res.Skipped = true
		s.log.WithField("time", now).Debug("Tick before watermark, skipping")
		return res
	}

	for i := range s.workloads {
		w := &s.workloads[i]
		m, err := s.generator.GenerateSample(w, now, s.rng)
		if err != nil {
			res.Failed++
			s.log.WithError(err).WithField("workload", w.Key()).Error("Generating sample failed")
			continue
		}
		if err := s.sink.Submit(ctx, m); err != nil {
			res.Failed++
			s.log.WithError(err).WithField("workload", w.Key()).Warn("Submitting sample failed")
			continue
		}
		res.Submitted++
	}

	s.sink.RequestFlush()

	s.log.WithFields(logrus.Fields{
		"submitted": res.Submitted,
		"failed":    res.Failed,
	}).Debug("Generated live samples")
	return res
}
