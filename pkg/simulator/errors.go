package simulator

import (
	"fmt"
	"time"
)

// InvalidTimestampError reports a sample requested before the workload epoch.
// It signals a caller bug, never a transient condition.
type InvalidTimestampError struct {
	WorkloadID string
	Timestamp  time.Time
	Epoch      time.Time
}

func (e *InvalidTimestampError) Error() string {
	return fmt.Sprintf("timestamp %s precedes epoch %s of workload %s",
		e.Timestamp.Format(time.RFC3339), e.Epoch.Format(time.RFC3339), e.WorkloadID)
}
