/*
writer.go - Append-only ledger writer with at-most-once semantics

PURPOSE:
  The Writer is the single entry point for recording balance changes.
  Every award, deduction and adjustment flows through Append.

IDEMPOTENCY:
  Append performs one atomic insert against the store's UNIQUE RefKey
  constraint. There is no prior existence check: the constraint violation
  IS the duplicate signal, so two concurrent calls with the same RefKey
  resolve to exactly one inserted entry. The losing call observes
  applied=false and nothing else happens.

ORDERING:
  Within one call, the insert happens-before the balance recompute, and
  the recompute runs only after a successful insert. Detected duplicates
  skip the recompute entirely - there is nothing new to reconcile.
*/
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Writer appends ledger entries and keeps the balance cache reconciled.
type Writer struct {
	Store      Store
	Reconciler *Reconciler
}

// NewWriter creates a Writer whose appends reconcile through rec.
func NewWriter(store Store, rec *Reconciler) *Writer {
	return &Writer{Store: store, Reconciler: rec}
}

// Append records a balance change. Returns applied=false when an entry with
// the same RefKey already exists (idempotent no-op). On success the member's
// balance is recomputed and persisted before Append returns.
func (w *Writer) Append(ctx context.Context, e Entry) (applied bool, err error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	if err := w.Store.Append(ctx, e); err != nil {
		if errors.Is(err, ErrDuplicateRefKey) {
			return false, nil
		}
		return false, &WriteError{RefKey: e.RefKey, Err: err}
	}

	if _, err := w.Reconciler.Recompute(ctx, e.MemberID); err != nil {
		// The entry is durable; only the cache refresh failed. Surface it so
		// the caller can decide, the ledger itself is already correct.
		return true, err
	}
	return true, nil
}
