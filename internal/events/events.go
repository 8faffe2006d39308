// Package events publishes assembly notifications for downstream consumers.
package events

import (
	"context"
	"time"
)

type Type string

const (
	Assembled  Type = "assembled"
	RolledOver Type = "rolled_over"
	Removed    Type = "removed"
)

// Event describes one change to a master document.
type Event struct {
	Type      Type      `json:"type"`
	RunID     string    `json:"run_id,omitempty"`
	Category  string    `json:"category"`
	Master    string    `json:"master"`
	SourceRef string    `json:"source_ref,omitempty"`
	StartPage int       `json:"start_page"`
	EndPage   int       `json:"end_page"`
	At        time.Time `json:"at"`
}

// Publisher delivers events. Failures are reported to the caller, who
// decides whether they matter.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

type runIDKey struct{}

// WithRunID tags ctx so events published under it carry the run id.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunID returns the run id stored by WithRunID, if any.
func RunID(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}
