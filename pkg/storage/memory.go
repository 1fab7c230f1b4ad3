package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/opscart/k8s-metrics-generator/pkg/models"
)

// ErrClosed is returned by a MemoryStore after Close
var ErrClosed = errors.New("store is closed")

// MemoryStore keeps everything in process memory. It backs dry runs and
// tests, and can be told to fail the next few writes.
type MemoryStore struct {
	mu        sync.RWMutex
	clusters  map[string]models.Cluster
	workloads map[string]models.Workload
	samples   map[models.SampleKey]models.MetricSample
	closed    bool

	failures int
	failErr  error
	writes   int
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		clusters:  make(map[string]models.Cluster),
		workloads: make(map[string]models.Workload),
		samples:   make(map[models.SampleKey]models.MetricSample),
	}
}

// FailNext makes the next n InsertSamples calls return err
func (s *MemoryStore) FailNext(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = n
	s.failErr = err
}

func (s *MemoryStore) UpsertClusters(ctx context.Context, clusters []models.Cluster) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	for _, c := range clusters {
		s.clusters[c.ID] = c
	}
	return nil
}

func (s *MemoryStore) UpsertWorkloads(ctx context.Context, workloads []models.Workload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	for _, w := range workloads {
		s.workloads[w.ID] = w
	}
	return nil
}

func (s *MemoryStore) InsertSamples(ctx context.Context, samples []models.MetricSample) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	s.writes++
	if s.failures > 0 {
		s.failures--
		return 0, s.failErr
	}

	inserted := 0
	for _, m := range samples {
		key := m.Key()
		if _, exists := s.samples[key]; exists {
			continue
		}
		s.samples[key] = m
		inserted++
	}
	return inserted, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Len returns the number of stored samples
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.samples)
}

// Writes returns how many InsertSamples calls reached the store
func (s *MemoryStore) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

// Samples returns the stored samples of one workload ordered by timestamp
func (s *MemoryStore) Samples(workloadID string) []models.MetricSample {
	s.mu.RLock()
	var out []models.MetricSample
	for k, m := range s.samples {
		if k.WorkloadID == workloadID {
			out = append(out, m)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// Clusters returns the stored cluster rows
func (s *MemoryStore) Clusters() []models.Cluster {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Cluster, 0, len(s.clusters))
	for _, c := range s.clusters {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Workloads returns the stored workload rows
func (s *MemoryStore) Workloads() []models.Workload {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Workload, 0, len(s.workloads))
	for _, w := range s.workloads {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
