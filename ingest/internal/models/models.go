package models

import "time"

// MessageEnvelope is one entry of the upstream list response: a telemetry
// message type present for a robot in a time window, without its data.
type MessageEnvelope struct {
	MsgID   int    `json:"msgId"`
	MsgName string `json:"msgName"`
}

// UpdateHistory is one record of the append-only watermark ledger.
// Range bounds are kept in the upstream YYYYMMDDhhmmss form.
type UpdateHistory struct {
	LastFromTs   string    `json:"last_from_ts"`
	LastToTs     string    `json:"last_to_ts"`
	RowsUpserted int       `json:"rows_upserted"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// UpdateSummary is the result of one fleet-wide update run.
type UpdateSummary struct {
	FromTs       string `json:"from_ts"`
	ToTs         string `json:"to_ts"`
	RowsUpserted int    `json:"rows_upserted"`
}
