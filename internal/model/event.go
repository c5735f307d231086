package model

import "time"

// EventType is a step in the lifecycle of a staged conversion.
type EventType string

const (
	EventStaged    EventType = "staged"
	EventConverted EventType = "converted"
	EventFailed    EventType = "failed"
	EventDelivered EventType = "delivered"
	EventEvicted   EventType = "evicted"
)

// Event describes a lifecycle transition of a single token.
// Events are published to Kafka and written to the audit log.
type Event struct {
	Token  string    `json:"token"`
	Kind   Kind      `json:"kind"`
	Type   EventType `json:"type"`
	Detail string    `json:"detail,omitempty"` // failure detail, eviction reason
	At     time.Time `json:"at"`
}

// SweepRequest is the payload of a maintenance message.
// An empty Kind sweeps every store.
type SweepRequest struct {
	Kind Kind `json:"kind"`
}
