/*
store.go - Persistence interfaces for the points ledger

PURPOSE:
  Defines the contract between the ledger engine and the database.
  Implementations must enforce RefKey uniqueness at the storage layer
  (a UNIQUE constraint or equivalent atomic insert-if-absent) so that
  concurrent duplicate appends resolve to a single winner plus a
  detectable ErrDuplicateRefKey for the loser.

APPEND-ONLY CONTRACT:
  The entry table is append-only. No Update, no Delete - with one
  deliberate exception: ReassignEntry corrects the member attribution of
  an existing entry. This models the "fix historical misattribution"
  repair the business performs when an order was bound to the wrong
  member; callers must recompute BOTH affected balances afterwards.

IMPLEMENTATIONS:
  - store/sqlite: production store (members, orders, settings too)
  - ledger/store: in-memory store for tests
*/
package ledger

import "context"

// =============================================================================
// STORE - Entry persistence (append-only)
// =============================================================================

// Store persists ledger entries.
type Store interface {
	// Append inserts an entry. Returns ErrDuplicateRefKey if an entry with
	// the same RefKey already exists. This is the only regular write.
	Append(ctx context.Context, e Entry) error

	// ByMember returns every entry for a member, oldest first.
	ByMember(ctx context.Context, memberID string) ([]Entry, error)

	// Recent returns the newest entries for a member, newest first,
	// capped at limit (<=0 means no cap).
	Recent(ctx context.Context, memberID string, limit int) ([]Entry, error)

	// ByRefKey returns the entry holding the given idempotency key,
	// or nil if none exists.
	ByRefKey(ctx context.Context, refKey string) (*Entry, error)

	// ReassignEntry moves an existing entry to a different member.
	// Repair path only; see the package comment.
	ReassignEntry(ctx context.Context, entryID, newMemberID string) error
}

// =============================================================================
// BALANCE STORE - Materialized balance cache
// =============================================================================

// BalanceStore persists the derived per-member balance.
// The value stored here is a projection of the ledger, never authoritative.
type BalanceStore interface {
	// WriteBalance upserts the cached balance for a member.
	WriteBalance(ctx context.Context, memberID string, balance int64) error

	// ReadBalance returns the cached balance and whether a cache row exists.
	ReadBalance(ctx context.Context, memberID string) (int64, bool, error)
}

// =============================================================================
// MIRROR - Best-effort denormalized copy
// =============================================================================

// Mirror pushes the balance onto a secondary read model (the points field
// denormalized onto the member record). Mirror writes are fire-and-forget:
// the reconciler logs failures and never propagates them.
type Mirror interface {
	MirrorPoints(ctx context.Context, memberID string, balance int64) error
}
