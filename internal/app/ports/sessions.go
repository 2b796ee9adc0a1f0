package ports

import (
	"context"
	"encoding/json"
	"time"

	"econcore/internal/domain/session"
)

// SessionRegistry holds ephemeral negotiation and game state. At most one live
// entry exists per (participant, kind); entries become unreachable once their
// TTL elapses whether or not anything touches them.
type SessionRegistry interface {
	Create(ctx context.Context, in session.NewEntry) (session.Entry, error)
	Get(ctx context.Context, id string) (session.Entry, error)
	Update(ctx context.Context, id string, payload json.RawMessage) (session.Entry, error)
	Renew(ctx context.Context, id string, ttl time.Duration) (session.Entry, error)
	Delete(ctx context.Context, id string) error

	FindByParticipant(ctx context.Context, kind session.Kind, participant string) (session.Entry, error)
	// Take returns the entry and removes it in one step.
	Take(ctx context.Context, id string) (session.Entry, error)
	// Propose creates a two-party entry unless the same pair already holds one
	// of that kind. If mirror accepts the existing entry it is consumed and
	// returned with matched=true; otherwise the call fails with
	// ErrSessionConflict.
	Propose(ctx context.Context, in session.NewEntry, mirror func(existing session.Entry) bool) (entry session.Entry, matched bool, err error)
}
