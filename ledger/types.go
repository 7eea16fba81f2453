/*
Package ledger provides the core points ledger engine.

PURPOSE:
  This package contains the domain-agnostic pieces of the loyalty points
  system: the immutable ledger entry, the writer that appends entries with
  at-most-once semantics, and the reconciler that rebuilds member balances
  by summing the ledger.

KEY CONCEPTS IN THIS FILE (types.go):
  - Entry: An immutable ledger fact ("member X changed by delta D because R")
  - RefKey: A caller-supplied idempotency key naming one logical event

DESIGN PRINCIPLES:
  1. Immutability: Entries are never updated or deleted. The single
     exception is ReassignEntry, an administrative repair of a
     misattributed member id (see store.go).
  2. Single source of truth: Balance is always reproducible as the sum of
     all entry deltas. Cached balances are projections, never authoritative.
  3. At-most-once: The RefKey is unique across the entire ledger, enforced
     by the storage layer. A duplicate insert is a detectable no-op, not a
     racing read-then-write check.
  4. Integer points: Deltas are int64. No fractional points exist.

SEE ALSO:
  - writer.go: Append with idempotency
  - reconciler.go: Balance recomputation
  - store.go: Persistence interfaces
*/
package ledger

import "time"

// =============================================================================
// ENTRY - Atomic change to a member's point balance
// =============================================================================

// Entry is an immutable, append-only ledger fact.
// Positive Delta = earn, negative Delta = use/deduct.
type Entry struct {
	ID        string
	MemberID  string
	Delta     int64
	Reason    string
	OrderID   string // optional correlation to an order
	RefKey    string // idempotency key, unique across the ledger
	CreatedAt time.Time
}

// Sum adds up entry deltas. Missing entries contribute nothing; the zero
// value of int64 keeps the arithmetic 64-bit safe at any realistic scale.
func Sum(entries []Entry) int64 {
	var total int64
	for _, e := range entries {
		total += e.Delta
	}
	return total
}
