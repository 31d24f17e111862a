package store

import (
	"context"

	"github.com/leottami/mindull-sub001/internal/domain"
)

// Store is the durable home of outbox items. It is the only component that
// touches persistence; read-modify-write is the processor's responsibility.
//
// All implementations surface I/O failures synchronously. The processor
// treats a failed Update as "outcome unknown, item stays pending"; it never
// drops an item because the store misbehaved.
//
// The file implementation is in file_store.go (on-device mode), the pgx
// implementation in pg_store.go (hosted mode). Tests use a hand-written
// mock (mock_store.go).
type Store interface {
	// Append persists a new item. The item's ID must be unique for the
	// lifetime of the store.
	Append(ctx context.Context, item *domain.Item) error

	// LoadPending returns all pending items ordered oldest-createdAt-first.
	LoadPending(ctx context.Context) ([]*domain.Item, error)

	// Update overwrites the stored item with the same ID in full.
	Update(ctx context.Context, item *domain.Item) error

	// Remove deletes the item. Called only when an item completes.
	Remove(ctx context.Context, id string) error

	// LoadAll returns every stored item regardless of status.
	LoadAll(ctx context.Context) ([]*domain.Item, error)

	// ResetInFlight moves every in_flight item back to pending and returns
	// how many were reset. Run once at startup: the in-flight guard lives
	// in process memory, so any persisted in_flight item is a leftover from
	// a crash mid-drain.
	ResetInFlight(ctx context.Context) (int, error)

	// Clear removes every item. Destructive; test and debug use only.
	Clear(ctx context.Context) error
}
