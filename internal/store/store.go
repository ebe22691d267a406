// ABOUTME: Local persistence types for resuming recent quote sessions.
// ABOUTME: Defines the Store interface, record shape and sentinel errors.

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record doesn't exist.
var ErrNotFound = errors.New("not found")

// SessionRecord is the locally persisted summary of one backend session.
// The backend owns the session itself; this record only exists so the client
// can offer resume across restarts and list recent quotes.
type SessionRecord struct {
	ID           string
	CreatedAt    time.Time
	LastActiveAt time.Time
	CurrentAgent string
	PlanName     string
	PolicyNumber string
	Completed    bool
}

// Store persists recent-session records. Implementations must be safe for
// concurrent use.
type Store interface {
	// SaveSession inserts or updates a record and bumps its last-active
	// time.
	SaveSession(ctx context.Context, rec *SessionRecord) error

	// GetSession returns one record by id, or ErrNotFound.
	GetSession(ctx context.Context, id string) (*SessionRecord, error)

	// ListRecent returns up to limit records, most recently active first.
	ListRecent(ctx context.Context, limit int) ([]*SessionRecord, error)

	// SetCurrent marks id as the session to resume on next start. It
	// replaces any previous current session outright.
	SetCurrent(ctx context.Context, id string) error

	// Current returns the record marked current, or ErrNotFound when
	// there is none.
	Current(ctx context.Context) (*SessionRecord, error)

	// ClearCurrent removes the current marker, e.g. after the backend
	// reports the session gone.
	ClearCurrent(ctx context.Context) error

	// DeleteSession removes a record; deleting the current session also
	// clears the marker.
	DeleteSession(ctx context.Context, id string) error

	// Close releases the underlying database.
	Close() error
}
