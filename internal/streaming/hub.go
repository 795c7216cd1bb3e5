package streaming

import (
	"context"
	"time"
)

// RunEvent is a real-time event emitted during a SOP run.
type RunEvent struct {
	RunID      string         `json:"run_id"`
	SessionID  string         `json:"session_id,omitempty"`
	StepNumber int            `json:"step_number,omitempty"`
	Type       string         `json:"type"`
	Payload    map[string]any `json:"payload,omitempty"`
	Time       time.Time      `json:"time"`
}

// EventFilter specifies which events a subscriber wants to receive.
type EventFilter struct {
	RunID     string   `json:"run_id,omitempty"`
	SessionID string   `json:"session_id,omitempty"`
	Types     []string `json:"types,omitempty"`
}

// EventHub provides pub/sub for real-time run events.
type EventHub interface {
	Publish(ctx context.Context, event RunEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan RunEvent, func(), error)
}
