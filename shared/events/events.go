package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	TopicTelemetrySync = "telemetry.sync"
)

// SyncCompleted is published after a successful fleet-wide telemetry
// update so downstream consumers can react to freshly loaded ranges.
type SyncCompleted struct {
	EventID      uuid.UUID `json:"event_id"`
	OccurredAt   time.Time `json:"occurred_at"`
	FromTs       string    `json:"from_ts"`
	ToTs         string    `json:"to_ts"`
	RobotCount   int       `json:"robot_count"`
	RowsUpserted int       `json:"rows_upserted"`
	Source       string    `json:"source"`
}
