package models

import "time"

// MetricSample is one generated resource-usage observation for a workload
type MetricSample struct {
	WorkloadID     string
	ClusterName    string
	Timestamp      time.Time
	CPUCores       float64
	MemoryBytes    int64
	NetworkRxBytes int64
	NetworkTxBytes int64
}

// SampleKey identifies a persisted time-series row
type SampleKey struct {
	WorkloadID string
	Timestamp  int64 // unix nanoseconds
}

// Key returns the (workload, timestamp) identity of the sample
func (s *MetricSample) Key() SampleKey {
	return SampleKey{WorkloadID: s.WorkloadID, Timestamp: s.Timestamp.UnixNano()}
}
