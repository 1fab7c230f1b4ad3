package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/opscart/k8s-metrics-generator/pkg/models"
)

// rowsPerStatement keeps each insert well below the 65535 bind parameter limit
const rowsPerStatement = 1000

// PostgresStore implements Store using PostgreSQL. The schema is owned by
// the downstream consumers; this store never migrates it.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens and pings a PostgreSQL connection pool
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	// Configure connection pool
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to ping database")
	}

	return &PostgresStore{db: db}, nil
}

// UpsertClusters inserts or refreshes cluster rows
func (s *PostgresStore) UpsertClusters(ctx context.Context, clusters []models.Cluster) error {
	query := `
		INSERT INTO clusters (id, name, provider)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			provider = EXCLUDED.provider
	`

	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, c := range clusters {
			if _, err := stmt.ExecContext(ctx, c.ID, c.Name, string(c.Provider)); err != nil {
				return errors.Wrapf(err, "upserting cluster %s", c.Name)
			}
		}
		return nil
	})
}

// UpsertWorkloads inserts or refreshes workload rows
func (s *PostgresStore) UpsertWorkloads(ctx context.Context, workloads []models.Workload) error {
	query := `
		INSERT INTO workloads (
			id, cluster_id, namespace, name, kind, profile, pattern, replicas,
			baseline_cpu_cores, baseline_memory_bytes,
			baseline_network_rx_bytes, baseline_network_tx_bytes
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			cluster_id = EXCLUDED.cluster_id,
			namespace = EXCLUDED.namespace,
			name = EXCLUDED.name,
			kind = EXCLUDED.kind,
			profile = EXCLUDED.profile,
			pattern = EXCLUDED.pattern,
			replicas = EXCLUDED.replicas,
			baseline_cpu_cores = EXCLUDED.baseline_cpu_cores,
			baseline_memory_bytes = EXCLUDED.baseline_memory_bytes,
			baseline_network_rx_bytes = EXCLUDED.baseline_network_rx_bytes,
			baseline_network_tx_bytes = EXCLUDED.baseline_network_tx_bytes
	`

	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, w := range workloads {
			_, err := stmt.ExecContext(ctx,
				w.ID, w.ClusterID, w.Namespace, w.Name,
				string(w.Kind), string(w.Profile), string(w.Pattern), w.Replicas,
				w.BaselineCPU, w.BaselineMemory,
				w.BaselineNetworkRx, w.BaselineNetworkTx,
			)
			if err != nil {
				return errors.Wrapf(err, "upserting workload %s", w.Key())
			}
		}
		return nil
	})
}

// InsertSamples writes samples in multi-row statements inside one
// transaction. Existing (workload_id, timestamp) rows are left untouched.
func (s *PostgresStore) InsertSamples(ctx context.Context, samples []models.MetricSample) (int, error) {
	if len(samples) == 0 {
		return 0, nil
	}

	inserted := 0
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for start := 0; start < len(samples); start += rowsPerStatement {
			end := min(start+rowsPerStatement, len(samples))
			query, args := buildInsert(samples[start:end])

			res, err := tx.ExecContext(ctx, query, args...)
			if err != nil {
				return errors.Wrapf(err, "inserting samples %d-%d", start, end)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			inserted += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

func buildInsert(samples []models.MetricSample) (string, []interface{}) {
	var b strings.Builder
	args := make([]interface{}, 0, len(samples)*len(metricColumns))

	b.WriteString("INSERT INTO metrics (")
	b.WriteString(strings.Join(metricColumns, ", "))
	b.WriteString(") VALUES ")
	for i, m := range samples {
		if i > 0 {
			b.WriteString(", ")
		}
		n := i * len(metricColumns)
		fmt.Fprintf(&b, "($%d, $%d, $%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4, n+5, n+6)
		args = append(args,
			m.WorkloadID, m.Timestamp.UTC(), m.CPUCores,
			m.MemoryBytes, m.NetworkRxBytes, m.NetworkTxBytes,
		)
	}
	b.WriteString(" ON CONFLICT (workload_id, timestamp) DO NOTHING")
	return b.String(), args
}

func (s *PostgresStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "failed to commit")
}

// Ping checks database connectivity
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
