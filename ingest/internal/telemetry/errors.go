package telemetry

import (
	"errors"
	"fmt"
)

// ErrBlocked is raised when the upstream answers 302: it is actively
// refusing the caller and the request must not be retried.
var ErrBlocked = errors.New("upstream blocked request")

// UpstreamError is any other non-2xx response from the telemetry API.
type UpstreamError struct {
	Endpoint string
	Status   int
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s returned status %d", e.Endpoint, e.Status)
}

// UnknownRobotError means a row referenced a robot UUID with no numeric
// mapping. It indicates a configuration gap and fails the whole sync
// rather than dropping the row.
type UnknownRobotError struct {
	RobotUUID string
}

func (e *UnknownRobotError) Error() string {
	return fmt.Sprintf("unknown robot_id: %s", e.RobotUUID)
}

// LoadError wraps a failed bulk insert, naming the destination table and
// how many rows were attempted.
type LoadError struct {
	Table string
	Rows  int
	Err   error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load into %s failed (%d rows): %v", e.Table, e.Rows, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }
