package backfill

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opscart/k8s-metrics-generator/pkg/models"
	"github.com/opscart/k8s-metrics-generator/pkg/simulator"
)

// Writer persists a batch of samples. A returned error means the batch was
// dropped; the job counts it and moves on. The batch slice is reused after
// WriteBatch returns.
type Writer interface {
	WriteBatch(ctx context.Context, batch []models.MetricSample) error
}

// Generator produces one sample for a workload at a timestamp
type Generator interface {
	GenerateSample(w *models.Workload, ts time.Time, rng *rand.Rand) (models.MetricSample, error)
}

type Options struct {
	// Window is how far back from the watermark to generate
	Window time.Duration
	// Interval is the spacing between samples of one workload
	Interval  time.Duration
	BatchSize int
	Logger    logrus.FieldLogger
}

// DefaultOptions generates 7 days at 30 minute spacing in batches of 1000
func DefaultOptions() Options {
	return Options{
		Window:    7 * 24 * time.Hour,
		Interval:  30 * time.Minute,
		BatchSize: 1000,
	}
}

// Result summarises a backfill run. Completed is false when the run was
// abandoned; LastWorkload then names the last workload fully generated.
type Result struct {
	Start          time.Time
	End            time.Time
	Workloads      int
	Generated      int
	Written        int
	DroppedBatches int
	InvalidSamples int
	Completed      bool
	LastWorkload   string
	Duration       time.Duration
}

// Job generates the historical series that precedes live generation
type Job struct {
	workloads []models.Workload
	generator Generator
	writer    Writer
	rng       *rand.Rand
	opts      Options
	log       logrus.FieldLogger
}

// NewJob creates a backfill job. rng must not be shared with any other
// producer.
func NewJob(workloads []models.Workload, generator Generator, writer Writer, rng *rand.Rand, opts Options) (*Job, error) {
	if opts.Window <= 0 || opts.Interval <= 0 {
		return nil, fmt.Errorf("window and interval must be positive")
	}
	if opts.Interval > opts.Window {
		return nil, fmt.Errorf("interval %s exceeds window %s", opts.Interval, opts.Window)
	}
	if opts.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", opts.BatchSize)
	}
	if rng == nil {
		return nil, fmt.Errorf("random source is required")
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Job{
		workloads: workloads,
		generator: generator,
		writer:    writer,
		rng:       rng,
		opts:      opts,
		log:       log.WithField("component", "backfill"),
	}, nil
}

// Window returns the half-open range [start, end) generated for a watermark.
// end is the watermark rounded down to the interval, so every timestamp is
// aligned and strictly before the first live sample.
func Window(watermark time.Time, window, interval time.Duration) (start, end time.Time) {
	end = watermark.Truncate(interval)
	return end.Add(-window), end
}

// Run generates and writes every workload's history up to watermark.
// Only cancellation of ctx makes it return an error, and the partial
// Result is still returned.
func (j *Job) Run(ctx context.Context, watermark time.Time) (Result, error) {
	began := time.Now()
	start, end := Window(watermark, j.opts.Window, j.opts.Interval)
	res := Result{Start: start, End: end}

	j.log.WithFields(logrus.Fields{
		"workloads": len(j.workloads),
		"start":     start.Format(time.RFC3339),
		"end":       end.Format(time.RFC3339),
		"interval":  j.opts.Interval,
	}).Info("Starting historical backfill")

	batch := make([]models.MetricSample, 0, j.opts.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := j.writer.WriteBatch(ctx, batch); err != nil {
			res.DroppedBatches++
			j.log.WithError(err).WithField("batch_size", len(batch)).Warn("Backfill batch lost")
		} else {
			res.Written += len(batch)
		}
		batch = batch[:0]
	}

	for i := range j.workloads {
		w := &j.workloads[i]
		for ts := start; ts.Before(end); ts = ts.Add(j.opts.Interval) {
			m, err := j.generator.GenerateSample(w, ts, j.rng)
			if err != nil {
				var ite *simulator.InvalidTimestampError
				if !errors.As(err, &ite) {
					return j.abandon(res, began, err)
				}
				res.InvalidSamples++
				j.log.WithError(err).WithField("workload", w.Key()).Debug("Skipping sample")
				continue
			}
			res.Generated++
			batch = append(batch, m)
			if len(batch) >= j.opts.BatchSize {
				flush()
				if err := ctx.Err(); err != nil {
					return j.abandon(res, began, err)
				}
			}
		}
		res.Workloads++
		res.LastWorkload = w.Key()
		if err := ctx.Err(); err != nil {
			return j.abandon(res, began, err)
		}
	}
	flush()

	res.Completed = true
	res.Duration = time.Since(began)
	j.log.WithFields(logrus.Fields{
		"generated":       res.Generated,
		"written":         res.Written,
		"dropped_batches": res.DroppedBatches,
		"duration":        res.Duration.Round(time.Millisecond),
	}).Info("Historical backfill complete")
	return res, nil
}

func (j *Job) abandon(res Result, began time.Time, err error) (Result, error) {
	res.Duration = time.Since(began)
	j.log.WithError(err).WithFields(logrus.Fields{
		"completed_workloads": res.Workloads,
		"total_workloads":     len(j.workloads),
		"last_workload":       res.LastWorkload,
		"written":             res.Written,
	}).Warn("Historical backfill abandoned before completion")
	return res, err
}
