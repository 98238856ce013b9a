package store

import (
	"context"
	"time"
)

// SessionRecord is the settled usage of one completed transcription
// session.
type SessionRecord struct {
	StartedAt time.Time `json:"startedAt"`
	EndedAt   time.Time `json:"endedAt"`
	Seconds   int64     `json:"seconds"`
}

// Usage is a user's accumulated transcription balance.
type Usage struct {
	TotalMs     int64          `json:"totalMs"`
	LastSession *SessionRecord `json:"lastSession,omitempty"`
}

// Store persists per-user usage balances keyed by client ID.
type Store interface {
	// ResolveUser ensures a user row exists for the client, creating a
	// guest account on first contact.
	ResolveUser(ctx context.Context, clientID string) error

	// Usage returns the client's current balance.
	Usage(ctx context.Context, clientID string) (Usage, error)

	// AddUsage atomically credits one settled session against the
	// client's balance and returns the new totals.
	AddUsage(ctx context.Context, clientID string, session SessionRecord) (Usage, error)

	Close() error
}

// guestName derives the display name for a first-contact client.
func guestName(clientID string) string {
	prefix := clientID
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return "Guest-" + prefix
}
