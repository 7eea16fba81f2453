/*
awards.go - Award triggers for the points program

PURPOSE:
  The business rules that turn order/referral lifecycle events into ledger
  entries. Every trigger derives a deterministic ref key, appends through
  the ledger writer (which enforces at-most-once and reconciles the
  balance before returning), and reports duplicates as successful no-ops.

TRIGGERS:
  AwardOnOrderCompletion: floor(max(0, gross - deduct) / divisor) points
  UsePointsOnOrder:       negative delta at order creation, repair path for
                          misattributed historical entries
  AwardReferral:          fixed bonus, once per (code, referred member) pair
  Adjust:                 manual admin set-to / delta
  RecalculateAll:         idempotent full balance rebuild

OBSERVED BEHAVIOR KEPT ON PURPOSE:
  Usage deduction does not verify sufficient balance; a member with 30
  points using 50 ends at -20. Whether that is trust-based policy or a
  latent bug is a product question; the rule here preserves what the
  business actually runs.
*/
package loyalty

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/brightnest/loyalty-engine/ledger"
)

// =============================================================================
// RULES AND SERVICE
// =============================================================================

// Rules holds the fixed-rate parameters of the program.
type Rules struct {
	// RewardDivisor is the currency units per point on order completion.
	RewardDivisor int64
	// ReferralBonus is the fixed referral award.
	ReferralBonus int64
}

// DefaultRules is 1 point per 100 currency units, +100 per referral.
func DefaultRules() Rules {
	return Rules{RewardDivisor: 100, ReferralBonus: 100}
}

// Service wires the award triggers over the ledger engine and the stores.
// All dependencies are injected at construction; there is no ambient state.
type Service struct {
	Writer     *ledger.Writer
	Reconciler *ledger.Reconciler
	Entries    ledger.Store
	Resolver   *Resolver
	Members    MemberStore
	Orders     OrderStore
	Settings   SettingStore
	Rules      Rules

	// now is swappable for tests; defaults to time.Now.
	now func() time.Time
}

// NewService builds a Service with the given stores and rules.
func NewService(entries ledger.Store, balances ledger.BalanceStore, mirror ledger.Mirror,
	members MemberStore, orders OrderStore, settings SettingStore, rules Rules) *Service {

	rec := ledger.NewReconciler(entries, balances, mirror)
	return &Service{
		Writer:     ledger.NewWriter(entries, rec),
		Reconciler: rec,
		Entries:    entries,
		Resolver:   NewResolver(members),
		Members:    members,
		Orders:     orders,
		Settings:   settings,
		Rules:      rules,
		now:        time.Now,
	}
}

// =============================================================================
// ORDER COMPLETION REWARD
// =============================================================================

// CompletionResult reports the outcome of an order-completion award.
type CompletionResult struct {
	Points         int64
	FinalAmount    decimal.Decimal
	AlreadyAwarded bool
	Skipped        bool // no loyalty linkage on the order; soft-fail
}

// AwardOnOrderCompletion awards floor(net / RewardDivisor) points for the
// order identified by its order number or internal id. finalOverride, when
// non-nil, replaces the computed net amount.
//
// A missing member linkage (no bound member, no customer email) is a soft
// skip rather than an error, so the broader order workflow never blocks on
// the loyalty program.
func (s *Service) AwardOnOrderCompletion(ctx context.Context, orderRef string, finalOverride *decimal.Decimal) (CompletionResult, error) {
	if orderRef == "" {
		return CompletionResult{}, fmt.Errorf("%w: order reference required", ledger.ErrInvalidParams)
	}

	order, err := s.resolveOrder(ctx, orderRef)
	if err != nil {
		return CompletionResult{}, err
	}

	member, err := s.orderMember(ctx, order)
	if err != nil {
		return CompletionResult{}, err
	}
	if member == nil {
		return CompletionResult{Skipped: true}, nil
	}

	net := order.Net()
	if finalOverride != nil {
		net = *finalOverride
		if net.IsNegative() {
			net = decimal.Zero
		}
	}

	points := net.Div(decimal.NewFromInt(s.Rules.RewardDivisor)).Floor().IntPart()
	if points <= 0 {
		return CompletionResult{Points: 0, FinalAmount: net}, nil
	}

	applied, err := s.Writer.Append(ctx, ledger.Entry{
		MemberID: member.ID,
		Delta:    points,
		Reason:   ReasonOrderReward,
		OrderID:  order.ID,
		RefKey:   RewardRefKey(order.ID),
	})
	if err != nil {
		return CompletionResult{}, err
	}
	if !applied {
		return CompletionResult{AlreadyAwarded: true, FinalAmount: net}, nil
	}
	return CompletionResult{Points: points, FinalAmount: net}, nil
}

// resolveOrder fetches by order number first, then by internal id.
func (s *Service) resolveOrder(ctx context.Context, ref string) (*Order, error) {
	order, err := s.Orders.GetOrderByNo(ctx, ref)
	if err != nil {
		return nil, err
	}
	if order == nil {
		order, err = s.Orders.GetOrder(ctx, ref)
		if err != nil {
			return nil, err
		}
	}
	if order == nil {
		return nil, fmt.Errorf("%w: %s", ledger.ErrOrderNotFound, ref)
	}
	return order, nil
}

// orderMember returns the order's bound member, else looks up or lazily
// creates one from the customer email. Returns (nil, nil) when the order
// carries no loyalty linkage at all.
func (s *Service) orderMember(ctx context.Context, order *Order) (*Member, error) {
	if order.MemberID != "" {
		m, err := s.Members.Get(ctx, order.MemberID)
		if err != nil {
			return nil, err
		}
		if m != nil {
			return m, nil
		}
		// Bound id points nowhere; fall through to the email path.
	}
	if order.CustomerEmail == "" {
		return nil, nil
	}
	res, err := s.Resolver.ResolveOrCreate(ctx, Identifier{Email: order.CustomerEmail}, "")
	if err != nil {
		return nil, err
	}
	if res.Outcome == OutcomeNotFound {
		return nil, nil
	}
	return res.Member, nil
}

// =============================================================================
// POINTS USAGE AT ORDER CREATION
// =============================================================================

// UsageResult reports the outcome of a points-usage deduction.
type UsageResult struct {
	Applied  bool
	Repaired bool // an existing entry was reassigned to the correct member
}

// UsePointsOnOrder records the deduction when an order is created with
// points applied. If an entry for this order already exists but belongs to
// a different member, the entry is reassigned and both balances recomputed:
// this is the deliberate repair of a known upstream bug (wrong member bound
// to an order), not dead code.
//
// The deduction is written without checking available balance; negative
// balances are permitted.
func (s *Service) UsePointsOnOrder(ctx context.Context, ident Identifier, orderID string, points int64) (UsageResult, error) {
	if ident.Empty() || orderID == "" || points <= 0 {
		return UsageResult{}, fmt.Errorf("%w: member identifier, orderId and positive points required", ledger.ErrInvalidParams)
	}

	res, err := s.Resolver.Resolve(ctx, ident)
	if err != nil {
		return UsageResult{}, err
	}
	member, err := MustResolve(res)
	if err != nil {
		return UsageResult{}, err
	}

	refKey := UsageRefKey(orderID)
	existing, err := s.Entries.ByRefKey(ctx, refKey)
	if err != nil {
		return UsageResult{}, err
	}
	if existing != nil {
		if existing.MemberID == member.ID {
			return UsageResult{Applied: false}, nil // already_used
		}
		// Repair: move the historical entry to the member now resolved,
		// then recompute both sides.
		if err := s.Entries.ReassignEntry(ctx, existing.ID, member.ID); err != nil {
			return UsageResult{}, err
		}
		if _, err := s.Reconciler.Recompute(ctx, existing.MemberID); err != nil {
			return UsageResult{}, err
		}
		if _, err := s.Reconciler.Recompute(ctx, member.ID); err != nil {
			return UsageResult{}, err
		}
		return UsageResult{Applied: true, Repaired: true}, nil
	}

	applied, err := s.Writer.Append(ctx, ledger.Entry{
		MemberID: member.ID,
		Delta:    -points,
		Reason:   ReasonOrderUsage,
		OrderID:  orderID,
		RefKey:   refKey,
	})
	if err != nil {
		return UsageResult{}, err
	}
	return UsageResult{Applied: applied}, nil
}

// =============================================================================
// REFERRAL BONUS
// =============================================================================

// AwardReferral grants the fixed referral bonus to the referrer identified
// by memberID. The ref key referral_<code>_<member> lets the same referrer
// earn once per distinct referred member, never twice for the same pair.
func (s *Service) AwardReferral(ctx context.Context, refCode, memberID string) (bool, error) {
	if refCode == "" || memberID == "" {
		return false, fmt.Errorf("%w: refCode and memberId required", ledger.ErrInvalidParams)
	}
	member, err := s.Members.Get(ctx, memberID)
	if err != nil {
		return false, err
	}
	if member == nil {
		return false, fmt.Errorf("%w: %s", ledger.ErrMemberNotFound, memberID)
	}

	return s.Writer.Append(ctx, ledger.Entry{
		MemberID: member.ID,
		Delta:    s.Rules.ReferralBonus,
		Reason:   fmt.Sprintf("介紹碼 %s +%d", refCode, s.Rules.ReferralBonus),
		RefKey:   ReferralRefKey(refCode, member.ID),
	})
}

// =============================================================================
// MANUAL ADMIN ADJUSTMENT
// =============================================================================

// AdjustParams carries the admin adjustment request. Exactly one of SetTo
// (absolute target) or Delta (relative change) must be non-nil.
type AdjustParams struct {
	SetTo  *int64
	Delta  *int64
	Reason string
	Ref    string
}

// Adjust applies a manual balance correction and returns the resulting
// balance. SetTo computes its delta against the cached balance (read
// through to the ledger only when no cache row exists). A computed delta of
// zero is a no-op - there is nothing to record.
func (s *Service) Adjust(ctx context.Context, ident Identifier, p AdjustParams) (int64, error) {
	if (p.SetTo == nil) == (p.Delta == nil) {
		return 0, fmt.Errorf("%w: exactly one of setTo or delta", ledger.ErrInvalidParams)
	}
	if ident.Empty() {
		return 0, fmt.Errorf("%w: member identifier required", ledger.ErrInvalidParams)
	}

	res, err := s.Resolver.ResolveOrCreate(ctx, ident, "")
	if err != nil {
		return 0, err
	}
	member, err := MustResolve(res)
	if err != nil {
		return 0, err
	}

	current, err := s.Reconciler.CachedBalance(ctx, member.ID)
	if err != nil {
		return 0, err
	}

	var delta int64
	if p.SetTo != nil {
		delta = *p.SetTo - current
	} else {
		delta = *p.Delta
	}
	if delta == 0 {
		return current, nil
	}

	reason := p.Reason
	if reason == "" {
		reason = ReasonAdjust
	}

	// A repeated explicit ref is a no-op append; either way the standing
	// balance is the answer.
	if _, err := s.Writer.Append(ctx, ledger.Entry{
		MemberID: member.ID,
		Delta:    delta,
		Reason:   reason,
		RefKey:   AdjustRefKey(member.ID, p.Ref, s.now()),
	}); err != nil {
		return 0, err
	}
	return s.Reconciler.CachedBalance(ctx, member.ID)
}

// =============================================================================
// FULL REBUILD
// =============================================================================

// RecalculateAll recomputes every member's balance from the ledger.
// Running it twice with no ledger changes in between leaves every balance
// unchanged.
func (s *Service) RecalculateAll(ctx context.Context) (int, error) {
	members, err := s.Members.List(ctx)
	if err != nil {
		return 0, err
	}
	for _, m := range members {
		if _, err := s.Reconciler.Recompute(ctx, m.ID); err != nil {
			return 0, fmt.Errorf("recalculate member %s: %w", m.ID, err)
		}
	}
	return len(members), nil
}

// Balance returns the member's current balance through the cache.
func (s *Service) Balance(ctx context.Context, ident Identifier) (int64, error) {
	res, err := s.Resolver.Resolve(ctx, ident)
	if err != nil {
		return 0, err
	}
	member, err := MustResolve(res)
	if err != nil {
		return 0, err
	}
	return s.Reconciler.CachedBalance(ctx, member.ID)
}

// History returns the member's newest ledger entries, capped at limit.
func (s *Service) History(ctx context.Context, ident Identifier, limit int) ([]ledger.Entry, error) {
	res, err := s.Resolver.Resolve(ctx, ident)
	if err != nil {
		return nil, err
	}
	member, err := MustResolve(res)
	if err != nil {
		return nil, err
	}
	return s.Entries.Recent(ctx, member.ID, limit)
}
