package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestMySQLInsertOnlySkipsDuplicateKeys(t *testing.T) {
	db, err := gorm.Open(mysql.New(mysql.Config{
		DSN:                       "metrics:metrics@tcp(127.0.0.1:3306)/metrics?parseTime=true",
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		DryRun:               true,
		DisableAutomaticPing: true,
		Logger:               logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	rows := []metricRow{
		{WorkloadID: "w-1", Timestamp: t0, CPUUsageCores: 0.5},
		{WorkloadID: "w-1", Timestamp: t0.Add(time.Minute), CPUUsageCores: 0.6},
	}
	res := insertMetricRows(db, rows)
	require.NoError(t, res.Error)
	stmt := res.Statement

	sql := stmt.SQL.String()
	assert.Contains(t, sql, "INSERT INTO `metrics`")
	assert.Contains(t, sql, "ON DUPLICATE KEY UPDATE `workload_id`=`workload_id`")
	assert.NotContains(t, sql, "IGNORE")
	assert.Len(t, stmt.Vars, 2*6)
}
