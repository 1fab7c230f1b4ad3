package storage

import (
	"context"
	"fmt"

	"github.com/opscart/k8s-metrics-generator/pkg/models"
)

// Store persists catalog metadata and generated samples.
// Implementations must be safe for concurrent use.
type Store interface {
	// UpsertClusters inserts clusters or refreshes existing rows
	UpsertClusters(ctx context.Context, clusters []models.Cluster) error
	// UpsertWorkloads inserts workloads or refreshes existing rows
	UpsertWorkloads(ctx context.Context, workloads []models.Workload) error
	// InsertSamples writes samples, skipping any (workload, timestamp) that
	// already exists. It returns the number of rows actually inserted.
	InsertSamples(ctx context.Context, samples []models.MetricSample) (int, error)

	Ping(ctx context.Context) error
	Close() error
}

const (
	TypePostgres = "postgres"
	TypeMySQL    = "mysql"
	TypeMemory   = "memory"
)

type Config struct {
	Type string
	URL  string
}

// New opens the store selected by cfg.Type. It does not retry; callers wrap
// it in their connect policy.
func New(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Type {
	case TypePostgres:
		return NewPostgresStore(ctx, cfg.URL)
	case TypeMySQL:
		return NewMySQLStore(ctx, cfg.URL)
	case TypeMemory:
		return NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unsupported storage type %q", cfg.Type)
}

// metricColumns is the column order of the metrics table
var metricColumns = []string{
	"workload_id", "timestamp", "cpu_usage_cores",
	"memory_usage_bytes", "network_rx_bytes", "network_tx_bytes",
}
