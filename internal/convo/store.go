// Package convo manages conversation lifetimes for the HTTP facade: lookup
// and creation by conversation id, single-writer locking per conversation,
// and bounded retention (TTL plus LRU capacity).
//
// Two implementations exist: the default in-memory store, and a
// PostgreSQL-backed store selected once at startup when a DSN is configured.
// The facade never switches stores mid-flight.
package convo

import (
	"context"

	"github.com/hydrosense/hydrochat/internal/state"
)

// Stats is the retention view surfaced by the developer stats command.
type Stats struct {
	// Active is the number of conversations currently retained.
	Active int

	// Evictions counts conversations dropped by TTL expiry or capacity
	// pressure since the store was created.
	Evictions int64
}

// Store retains conversation state across turns.
//
// Acquire returns the conversation locked for exclusive use; the caller must
// Release the handle when the turn finishes. Implementations must be safe
// for concurrent use.
type Store interface {
	// Acquire locks and returns the conversation with the given id,
	// creating it when absent.
	Acquire(ctx context.Context, id string) (*Handle, error)

	// Stats reports retention counters. Expired conversations are evicted
	// before counting, so Active never includes dead entries.
	Stats(ctx context.Context) (Stats, error)

	// Close releases any resources held by the store.
	Close(ctx context.Context) error
}

// Handle is an exclusively-held conversation. State may be read and mutated
// freely until Release.
type Handle struct {
	ID    string
	State *state.ConversationState

	release func(ctx context.Context) error
}

// Release unlocks the conversation and, for persistent stores, writes the
// state back. The handle must not be used afterwards.
func (h *Handle) Release(ctx context.Context) error {
	if h.release == nil {
		return nil
	}
	release := h.release
	h.release = nil
	return release(ctx)
}
