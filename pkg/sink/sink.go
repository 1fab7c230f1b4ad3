package sink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/opscart/k8s-metrics-generator/pkg/models"
	"github.com/opscart/k8s-metrics-generator/pkg/retry"
	"github.com/opscart/k8s-metrics-generator/pkg/storage"
)

// ErrClosed is returned by Submit after Close
var ErrClosed = errors.New("sink is closed")

// ErrRequeued is returned by Flush when its context ends mid-write. The
// batch is back in the buffer and goes out with the next flush or Close.
var ErrRequeued = errors.New("persistence interrupted, batch kept in buffer")

// maxPendingBatches bounds the buffer while the store lags behind. Past it
// the oldest batch is dropped.
const maxPendingBatches = 8

// PersistenceError reports a batch that could not be written after all
// retries. The batch has been dropped.
type PersistenceError struct {
	Samples int
	Err     error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("dropped batch of %d samples: %v", e.Samples, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Options configures a Sink
type Options struct {
	BatchSize int
	Retry     retry.Policy
	Logger    logrus.FieldLogger
}

// Sink is the single write path shared by the backfill job and the live
// scheduler. Writers are serialised; readers of the latest values never
// wait on them. Live samples are persisted by a background flusher so
// producers never wait on the store.
type Sink struct {
	store     storage.Store
	policy    retry.Policy
	batchSize int
	log       logrus.FieldLogger
	labels    map[string]workloadLabels

	// mu guards buffer and closed
	mu     sync.Mutex
	buffer []models.MetricSample
	closed bool

	// persistSem (capacity 1) serialises store writes so batches never
	// interleave
	persistSem chan struct{}

	kick        chan struct{}
	flusherCtx  context.Context
	stopFlusher context.CancelFunc
	flusherDone chan struct{}

	// latest maps workload ID to *models.MetricSample
	latest sync.Map

	generated     *prometheus.CounterVec
	backfilled    prometheus.Counter
	persisted     prometheus.Counter
	dropped       prometheus.Counter
	persistErrors prometheus.Counter
}

type workloadLabels struct {
	cluster, namespace, workload, kind string
}

// New creates a sink writing to store. workloads provide the labels used
// when the latest values are exposed.
func New(store storage.Store, workloads []models.Workload, opts Options) (*Sink, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if opts.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", opts.BatchSize)
	}
	if err := opts.Retry.Validate(); err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	labels := make(map[string]workloadLabels, len(workloads))
	for _, w := range workloads {
		labels[w.ID] = workloadLabels{
			cluster:   w.ClusterName,
			namespace: w.Namespace,
			workload:  w.Name,
			kind:      string(w.Kind),
		}
	}

	flusherCtx, stopFlusher := context.WithCancel(context.Background())
	s := &Sink{
		store:       store,
		policy:      opts.Retry,
		batchSize:   opts.BatchSize,
		log:         log.WithField("component", "sink"),
		labels:      labels,
		buffer:      make([]models.MetricSample, 0, opts.BatchSize),
		persistSem:  make(chan struct{}, 1),
		kick:        make(chan struct{}, 1),
		flusherCtx:  flusherCtx,
		stopFlusher: stopFlusher,
		flusherDone: make(chan struct{}),
		generated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "metrics_generated_total",
			Help: "Live samples generated, by cluster.",
		}, []string{"cluster"}),
		backfilled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "metrics_generator_backfilled_samples_total",
			Help: "Historical samples handed to the store.",
		}),
		persisted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "metrics_generator_persisted_samples_total",
			Help: "Samples newly inserted into the store.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "metrics_generator_dropped_batches_total",
			Help: "Batches dropped without being persisted.",
		}),
		persistErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "metrics_generator_persistence_errors_total",
			Help: "Failed persistence attempts, including retried ones.",
		}),
	}
	go s.flushLoop()
	return s, nil
}

// Submit records a live sample: it becomes the exposed latest value for its
// workload and is buffered for persistence. A full buffer is handed to the
// background flusher; Submit never waits on the store.
func (s *Sink) Submit(_ context.Context, m models.MetricSample) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.buffer = append(s.buffer, m)
	overflow := 0
	if len(s.buffer) > s.batchSize*maxPendingBatches {
		overflow = s.batchSize
		s.buffer = append(make([]models.MetricSample, 0, cap(s.buffer)), s.buffer[overflow:]...)
	}
	full := len(s.buffer) >= s.batchSize
	s.mu.Unlock()

	s.storeLatest(m)
	s.generated.WithLabelValues(m.ClusterName).Inc()

	if overflow > 0 {
		s.dropped.Inc()
		s.log.WithField("batch_size", overflow).Warn("Store is falling behind, dropped oldest buffered batch")
	}
	if full {
		s.RequestFlush()
	}
	return nil
}

// RequestFlush asks the background flusher to persist the buffer and
// returns at once. Requests made while a flush is pending are merged.
func (s *Sink) RequestFlush() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *Sink) flushLoop() {
	defer close(s.flusherDone)
	for {
		select {
		case <-s.flusherCtx.Done():
			return
		case <-s.kick:
			// failures are logged and counted by persist
			_ = s.Flush(s.flusherCtx)
		}
	}
}

// WriteBatch persists a pre-built batch, bypassing the buffer. Backfilled
// samples are not exposed as latest values. If ctx ends before the batch is
// written, a copy is kept in the buffer for Close and nil is returned.
func (s *Sink) WriteBatch(ctx context.Context, batch []models.MetricSample) error {
	if len(batch) == 0 {
		return nil
	}
	s.backfilled.Add(float64(len(batch)))
	if err := s.acquire(ctx); err != nil {
		s.requeue(batch)
		return nil
	}
	defer s.release()

	err := s.persist(ctx, batch)
	if errors.Is(err, ErrRequeued) {
		return nil
	}
	return err
}

// Flush persists everything buffered so far. It returns ErrRequeued when
// ctx ends first, and a *PersistenceError when the batch was dropped.
func (s *Sink) Flush(ctx context.Context) error {
	if err := s.acquire(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrRequeued, err)
	}
	defer s.release()

	s.mu.Lock()
	batch := s.buffer
	s.buffer = make([]models.MetricSample, 0, s.batchSize)
	s.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	return s.persist(ctx, batch)
}

// Buffered returns the number of samples waiting for the next flush
func (s *Sink) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffer)
}

// Close stops accepting samples and flushes what is left, bounded by ctx.
// A write the background flusher had in flight is interrupted and retried
// here. Samples that cannot be written in time are discarded.
func (s *Sink) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.stopFlusher()
	select {
	case <-s.flusherDone:
	case <-ctx.Done():
	}

	err := s.Flush(ctx)

	s.mu.Lock()
	discarded := len(s.buffer)
	s.buffer = nil
	s.mu.Unlock()

	var pe *PersistenceError
	if errors.As(err, &pe) {
		discarded += pe.Samples
	} else if discarded > 0 {
		s.dropped.Inc()
	}
	if err != nil || discarded > 0 {
		s.log.WithField("samples", discarded).Warn("Discarding unflushed samples on shutdown")
		if err == nil {
			err = fmt.Errorf("discarded %d samples on shutdown", discarded)
		}
		return err
	}
	return nil
}

func (s *Sink) acquire(ctx context.Context) error {
	select {
	case s.persistSem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sink) release() {
	<-s.persistSem
}

// requeue puts batch back at the head of the buffer so ordering per
// workload is kept. batch is copied.
func (s *Sink) requeue(batch []models.MetricSample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make([]models.MetricSample, 0, len(batch)+len(s.buffer))
	buf = append(buf, batch...)
	s.buffer = append(buf, s.buffer...)
}

// persist writes batch through the retry policy. Callers hold persistSem.
// A batch interrupted by ctx is requeued rather than dropped.
func (s *Sink) persist(ctx context.Context, batch []models.MetricSample) error {
	log := s.log.WithField("batch_size", len(batch))
	policy := s.policy
	policy.Notify = func(attempt int, err error, delay time.Duration) {
		log.WithError(err).WithFields(logrus.Fields{
			"attempt": attempt,
			"delay":   delay,
		}).Warn("Persisting batch failed, retrying")
	}

	err := policy.Do(ctx, func(ctx context.Context) error {
		n, err := s.store.InsertSamples(ctx, batch)
		if err != nil {
			s.persistErrors.Inc()
			return err
		}
		s.persisted.Add(float64(n))
		return nil
	})
	if err != nil && ctx.Err() != nil {
		s.requeue(batch)
		log.WithError(err).Info("Persisting batch interrupted, keeping it buffered")
		return fmt.Errorf("%w: %v", ErrRequeued, err)
	}
	if err != nil {
		s.dropped.Inc()
		log.WithError(err).Error("Dropped batch")
		return &PersistenceError{Samples: len(batch), Err: err}
	}
	return nil
}

// storeLatest publishes m unless a newer sample is already cached
func (s *Sink) storeLatest(m models.MetricSample) {
	next := &m
	for {
		cur, loaded := s.latest.LoadOrStore(m.WorkloadID, next)
		if !loaded {
			return
		}
		if m.Timestamp.Before(cur.(*models.MetricSample).Timestamp) {
			return
		}
		if s.latest.CompareAndSwap(m.WorkloadID, cur, next) {
			return
		}
	}
}

// Latest returns the most recent live sample of a workload
func (s *Sink) Latest(workloadID string) (models.MetricSample, bool) {
	v, ok := s.latest.Load(workloadID)
	if !ok {
		return models.MetricSample{}, false
	}
	return *v.(*models.MetricSample), true
}

// Snapshot returns the latest sample of every workload seen so far
func (s *Sink) Snapshot() map[string]models.MetricSample {
	out := make(map[string]models.MetricSample)
	s.latest.Range(func(k, v interface{}) bool {
		out[k.(string)] = *v.(*models.MetricSample)
		return true
	})
	return out
}
