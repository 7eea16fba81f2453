// Package store provides an in-memory ledger store for testing and dev.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/brightnest/loyalty-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu       sync.RWMutex
	entries  []ledger.Entry
	byRefKey map[string]int // index into entries
	balances map[string]int64
	mirrored map[string]int64
}

func NewMemory() *Memory {
	return &Memory{
		byRefKey: make(map[string]int),
		balances: make(map[string]int64),
		mirrored: make(map[string]int64),
	}
}

// Append adds a single entry. Duplicate RefKeys are rejected atomically
// under the lock, matching the UNIQUE constraint of the sqlite store.
func (m *Memory) Append(_ context.Context, e ledger.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e.RefKey != "" {
		if _, dup := m.byRefKey[e.RefKey]; dup {
			return ledger.ErrDuplicateRefKey
		}
		m.byRefKey[e.RefKey] = len(m.entries)
	}
	m.entries = append(m.entries, e)
	return nil
}

func (m *Memory) ByMember(_ context.Context, memberID string) ([]ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.Entry
	for _, e := range m.entries {
		if e.MemberID == memberID {
			result = append(result, e)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (m *Memory) Recent(ctx context.Context, memberID string, limit int) ([]ledger.Entry, error) {
	all, err := m.ByMember(ctx, memberID)
	if err != nil {
		return nil, err
	}
	// newest first
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (m *Memory) ByRefKey(_ context.Context, refKey string) (*ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	i, ok := m.byRefKey[refKey]
	if !ok {
		return nil, nil
	}
	e := m.entries[i]
	return &e, nil
}

func (m *Memory) ReassignEntry(_ context.Context, entryID, newMemberID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.entries {
		if m.entries[i].ID == entryID {
			m.entries[i].MemberID = newMemberID
			return nil
		}
	}
	return ledger.ErrLedgerWriteFailed
}

// =============================================================================
// BALANCE CACHE + MIRROR
// =============================================================================

func (m *Memory) WriteBalance(_ context.Context, memberID string, balance int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[memberID] = balance
	return nil
}

func (m *Memory) ReadBalance(_ context.Context, memberID string) (int64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.balances[memberID]
	return b, ok, nil
}

func (m *Memory) MirrorPoints(_ context.Context, memberID string, balance int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mirrored[memberID] = balance
	return nil
}

// MirroredPoints exposes the denormalized copy for assertions in tests.
func (m *Memory) MirroredPoints(memberID string) (int64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.mirrored[memberID]
	return b, ok
}

var (
	_ ledger.Store        = (*Memory)(nil)
	_ ledger.BalanceStore = (*Memory)(nil)
	_ ledger.Mirror       = (*Memory)(nil)
)
