// Package notify distributes structured progression events to sinks.
package notify

import (
	"context"
	"time"
)

// Event is one structured progression notification. Rendering and delivery
// beyond the configured sinks are the receiver's responsibility.
type Event struct {
	RunID       string    `json:"run_id"`
	Label       string    `json:"label,omitempty"`
	Phase       string    `json:"phase"`
	Repository  string    `json:"repository,omitempty"`
	Edge        string    `json:"edge,omitempty"`
	Environment string    `json:"environment,omitempty"`
	Status      string    `json:"status"`
	Reason      string    `json:"reason,omitempty"`
	Links       []string  `json:"links,omitempty"`
	Time        time.Time `json:"time"`
}

// Sink delivers one event.
type Sink interface {
	Notify(ctx context.Context, event *Event) error
}
