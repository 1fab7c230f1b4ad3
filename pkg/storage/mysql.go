package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/opscart/k8s-metrics-generator/pkg/models"
)

type clusterRow struct {
	ID       string `gorm:"primaryKey;type:char(36)"`
	Name     string
	Provider string
}

func (clusterRow) TableName() string { return "clusters" }

type workloadRow struct {
	ID                     string `gorm:"primaryKey;type:char(36)"`
	ClusterID              string `gorm:"type:char(36)"`
	Namespace              string
	Name                   string
	Kind                   string
	Profile                string
	Pattern                string
	Replicas               int
	BaselineCPUCores       float64 `gorm:"column:baseline_cpu_cores"`
	BaselineMemoryBytes    int64
	BaselineNetworkRxBytes int64
	BaselineNetworkTxBytes int64
}

func (workloadRow) TableName() string { return "workloads" }

type metricRow struct {
	WorkloadID       string    `gorm:"primaryKey;type:char(36)"`
	Timestamp        time.Time `gorm:"primaryKey"`
	CPUUsageCores    float64   `gorm:"column:cpu_usage_cores"`
	MemoryUsageBytes int64
	NetworkRxBytes   int64
	NetworkTxBytes   int64
}

func (metricRow) TableName() string { return "metrics" }

// MySQLStore implements Store on MySQL through gorm. Like PostgresStore it
// expects the schema to exist already.
type MySQLStore struct {
	db *gorm.DB
}

// NewMySQLStore opens a gorm connection for a DSN such as
// user:pass@tcp(host:3306)/metrics?parseTime=true
func NewMySQLStore(ctx context.Context, dsn string) (*MySQLStore, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	s := &MySQLStore{db: db}
	if err := s.Ping(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// UpsertClusters inserts or refreshes cluster rows
func (s *MySQLStore) UpsertClusters(ctx context.Context, clusters []models.Cluster) error {
	if len(clusters) == 0 {
		return nil
	}
	rows := make([]clusterRow, len(clusters))
	for i, c := range clusters {
		rows[i] = clusterRow{ID: c.ID, Name: c.Name, Provider: string(c.Provider)}
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		DoUpdates: clause.AssignmentColumns([]string{"name", "provider"}),
	}).Create(&rows).Error
	return errors.Wrap(err, "upserting clusters")
}

// UpsertWorkloads inserts or refreshes workload rows
func (s *MySQLStore) UpsertWorkloads(ctx context.Context, workloads []models.Workload) error {
	if len(workloads) == 0 {
		return nil
	}
	rows := make([]workloadRow, len(workloads))
	for i, w := range workloads {
		rows[i] = workloadRow{
			ID:                     w.ID,
			ClusterID:              w.ClusterID,
			Namespace:              w.Namespace,
			Name:                   w.Name,
			Kind:                   string(w.Kind),
			Profile:                string(w.Profile),
			Pattern:                string(w.Pattern),
			Replicas:               w.Replicas,
			BaselineCPUCores:       w.BaselineCPU,
			BaselineMemoryBytes:    w.BaselineMemory,
			BaselineNetworkRxBytes: w.BaselineNetworkRx,
			BaselineNetworkTxBytes: w.BaselineNetworkTx,
		}
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		DoUpdates: clause.AssignmentColumns([]string{
			"cluster_id", "namespace", "name", "kind", "profile", "pattern", "replicas",
			"baseline_cpu_cores", "baseline_memory_bytes",
			"baseline_network_rx_bytes", "baseline_network_tx_bytes",
		}),
	}).Create(&rows).Error
	return errors.Wrap(err, "upserting workloads")
}

// skipDuplicates renders as ON DUPLICATE KEY UPDATE on the primary key, a
// no-op for rows that already exist. Unlike INSERT IGNORE it still reports
// conversion and constraint errors.
var skipDuplicates = clause.OnConflict{DoNothing: true}

func insertMetricRows(tx *gorm.DB, rows []metricRow) *gorm.DB {
	return tx.Clauses(skipDuplicates).Create(&rows)
}

// InsertSamples writes samples, skipping rows that already exist for
// (workload_id, timestamp)
func (s *MySQLStore) InsertSamples(ctx context.Context, samples []models.MetricSample) (int, error) {
	if len(samples) == 0 {
		return 0, nil
	}
	rows := make([]metricRow, len(samples))
	for i, m := range samples {
		rows[i] = metricRow{
			WorkloadID:       m.WorkloadID,
			Timestamp:        m.Timestamp.UTC(),
			CPUUsageCores:    m.CPUCores,
			MemoryUsageBytes: m.MemoryBytes,
			NetworkRxBytes:   m.NetworkRxBytes,
			NetworkTxBytes:   m.NetworkTxBytes,
		}
	}

	inserted := 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for start := 0; start < len(rows); start += rowsPerStatement {
			end := min(start+rowsPerStatement, len(rows))
			res := insertMetricRows(tx, rows[start:end])
			if res.Error != nil {
				return errors.Wrapf(res.Error, "inserting samples %d-%d", start, end)
			}
			inserted += int(res.RowsAffected)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// Ping checks database connectivity
func (s *MySQLStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return errors.Wrap(err, "failed to get connection pool")
	}
	return errors.Wrap(sqlDB.PingContext(ctx), "failed to ping database")
}

// Close closes the connection pool
func (s *MySQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
