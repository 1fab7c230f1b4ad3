package backfill

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opscart/k8s-metrics-generator/pkg/catalog"
	"github.com/opscart/k8s-metrics-generator/pkg/models"
	"github.com/opscart/k8s-metrics-generator/pkg/pattern"
	"github.com/opscart/k8s-metrics-generator/pkg/retry"
	"github.com/opscart/k8s-metrics-generator/pkg/simulator"
	"github.com/opscart/k8s-metrics-generator/pkg/sink"
	"github.com/opscart/k8s-metrics-generator/pkg/storage"
)

// watermark is deliberately not aligned to the interval
var watermark = time.Date(2024, 6, 10, 12, 7, 30, 0, time.UTC)

type fixture struct {
	workloads []models.Workload
	engine    *simulator.Engine
	store     *storage.MemoryStore
	sink      *sink.Sink
	logger    *logrus.Logger
	hook      *logtest.Hook
}

func newFixture(t *testing.T, n int, epoch time.Time) *fixture {
	t.Helper()
	c, err := catalog.Default(epoch)
	require.NoError(t, err)
	patterns, err := pattern.NewEngine(pattern.DefaultParams())
	require.NoError(t, err)
	engine, err := simulator.NewEngine(patterns, 0.05)
	require.NoError(t, err)

	logger, hook := logtest.NewNullLogger()
	store := storage.NewMemoryStore()
	workloads := c.AllWorkloads()[:n]
	s, err := sink.New(store, workloads, sink.Options{
		BatchSize: 1000,
		Retry:     retry.NewPolicy(1, 0, 0),
		Logger:    logger,
	})
	require.NoError(t, err)

	return &fixture{workloads: workloads, engine: engine, store: store, sink: s, logger: logger, hook: hook}
}

func (f *fixture) job(t *testing.T, w Writer, batchSize int) *Job {
	t.Helper()
	opts := DefaultOptions()
	opts.BatchSize = batchSize
	opts.Logger = f.logger
	j, err := NewJob(f.workloads, f.engine, w, simulator.NewRNG(42, simulator.SubsystemBackfill), opts)
	require.NoError(t, err)
	return j
}

func TestWindowAlignsToInterval(t *testing.T) {
	start, end := Window(watermark, 7*24*time.Hour, 30*time.Minute)
	assert.Equal(t, time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC), end)
	assert.Equal(t, time.Date(2024, 6, 3, 12, 0, 0, 0, time.UTC), start)
	assert.False(t, end.After(watermark))
}

func TestSevenDaysAtThirtyMinutesIs336Samples(t *testing.T) {
	start, _ := Window(watermark, 7*24*time.Hour, 30*time.Minute)
	f := newFixture(t, 1, start)

	res, err := f.job(t, f.sink, 1000).Run(context.Background(), watermark)
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.Equal(t, 336, res.Generated)
	assert.Equal(t, 336, res.Written)

	samples := f.store.Samples(f.workloads[0].ID)
	require.Len(t, samples, 336)
	assert.Equal(t, start, samples[0].Timestamp)
	for i := 1; i < len(samples); i++ {
		assert.Equal(t, 30*time.Minute, samples[i].Timestamp.Sub(samples[i-1].Timestamp))
	}
	assert.True(t, samples[len(samples)-1].Timestamp.Before(watermark))
}

func TestRerunIsIdempotent(t *testing.T) {
	start, _ := Window(watermark, 7*24*time.Hour, 30*time.Minute)
	f := newFixture(t, 3, start)

	_, err := f.job(t, f.sink, 250).Run(context.Background(), watermark)
	require.NoError(t, err)
	require.Equal(t, 3*336, f.store.Len())

	res, err := f.job(t, f.sink, 250).Run(context.Background(), watermark)
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.Equal(t, 3*336, f.store.Len())
}

func TestDroppedBatchIsNotFatal(t *testing.T) {
	start, _ := Window(watermark, 7*24*time.Hour, 30*time.Minute)
	f := newFixture(t, 2, start)
	f.store.FailNext(1, errors.New("connection refused"))

	res, err := f.job(t, f.sink, 100).Run(context.Background(), watermark)
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.Equal(t, 1, res.DroppedBatches)
	assert.Equal(t, 672, res.Generated)
	assert.Equal(t, 572, res.Written)
	assert.Equal(t, 572, f.store.Len())
}

type cancellingWriter struct {
	cancel  context.CancelFunc
	batches int
}

func (w *cancellingWriter) WriteBatch(ctx context.Context, batch []models.MetricSample) error {
	w.batches++
	w.cancel()
	return nil
}

func TestCancellationAbandonsWithMarker(t *testing.T) {
	start, _ := Window(watermark, 7*24*time.Hour, 30*time.Minute)
	f := newFixture(t, 5, start)
	ctx, cancel := context.WithCancel(context.Background())
	w := &cancellingWriter{cancel: cancel}

	res, err := f.job(t, w, 500).Run(ctx, watermark)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, res.Completed)
	assert.Equal(t, 1, w.batches)
	assert.Equal(t, 1, res.Workloads)
	assert.Equal(t, f.workloads[0].Key(), res.LastWorkload)
	assert.Equal(t, "Historical backfill abandoned before completion", f.hook.LastEntry().Message)
}

func TestSamplesBeforeEpochAreSkipped(t *testing.T) {
	start, _ := Window(watermark, 7*24*time.Hour, 30*time.Minute)
	f := newFixture(t, 1, start.Add(24*time.Hour))

	res, err := f.job(t, f.sink, 1000).Run(context.Background(), watermark)
	require.NoError(t, err)
	assert.Equal(t, 48, res.InvalidSamples)
	assert.Equal(t, 288, res.Generated)
}

func TestNewJobValidatesOptions(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	_, err := NewJob(nil, nil, nil, rng, Options{Window: time.Hour, Interval: 2 * time.Hour, BatchSize: 1})
	assert.Error(t, err)
	_, err = NewJob(nil, nil, nil, rng, Options{Window: time.Hour, Interval: time.Minute})
	assert.Error(t, err)
	_, err = NewJob(nil, nil, nil, nil, DefaultOptions())
	assert.Error(t, err)
}
