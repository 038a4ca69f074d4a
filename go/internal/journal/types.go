// Package journal ships session lifecycle records to durable sinks.
package journal

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/mcdev12/buzzer/go/internal/buzzer"
)

// Entry is a lifecycle record with a stable identity, as written to sinks.
type Entry struct {
	ID          uuid.UUID            `json:"id"`
	Kind        buzzer.RecordKind    `json:"kind"`
	SessionCode string               `json:"sessionCode"`
	At          time.Time            `json:"at"`
	Round       *buzzer.HistoryEntry `json:"round,omitempty"`
}

// NewEntry assigns an id to a record.
func NewEntry(rec buzzer.Record) Entry {
	return Entry{
		ID:          uuid.New(),
		Kind:        rec.Kind,
		SessionCode: rec.SessionCode,
		At:          rec.At,
		Round:       rec.Round,
	}
}

// Sink persists or forwards entries. Write may be retried with the same entry.
type Sink interface {
	Name() string
	Write(ctx context.Context, e Entry) error
}
