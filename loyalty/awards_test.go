package loyalty_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightnest/loyalty-engine/loyalty"
	"github.com/brightnest/loyalty-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestService(t *testing.T) (*loyalty.Service, *sqlite.Store) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	svc := loyalty.NewService(store, store, store, store, store, store, loyalty.DefaultRules())
	return svc, store
}

func createMember(t *testing.T, svc *loyalty.Service, email string) *loyalty.Member {
	res, err := svc.Resolver.ResolveOrCreate(context.Background(),
		loyalty.Identifier{Email: email}, "")
	require.NoError(t, err)
	require.NotNil(t, res.Member)
	return res.Member
}

func createOrder(t *testing.T, store *sqlite.Store, orderNo, memberID string,
	itemPrice string, qty int64, deduct string) loyalty.Order {

	order := loyalty.Order{
		ID:       uuid.NewString(),
		OrderNo:  orderNo,
		MemberID: memberID,
		Status:   "completed",
		Items: []loyalty.OrderItem{
			{Name: "清潔服務", UnitPrice: decimal.RequireFromString(itemPrice), Quantity: qty},
		},
		PointsDeduct: decimal.RequireFromString(deduct),
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, store.CreateOrder(context.Background(), order))
	return order
}

// =============================================================================
// ORDER COMPLETION REWARD
// =============================================================================

func TestAwardOnOrderCompletion_FloorOfNetOverDivisor(t *testing.T) {
	// GIVEN: An order of 2 x 500 with 150 covered by points (net 850)
	// WHEN: The completion award runs
	// THEN: floor(850/100) = 8 points land on the member

	svc, store := newTestService(t)
	ctx := context.Background()

	member := createMember(t, svc, "alice@example.com")
	order := createOrder(t, store, "OD1001", member.ID, "500", 2, "150")

	result, err := svc.AwardOnOrderCompletion(ctx, order.OrderNo, nil)
	require.NoError(t, err)

	assert.Equal(t, int64(8), result.Points)
	assert.True(t, result.FinalAmount.Equal(decimal.RequireFromString("850")))

	balance, err := svc.Balance(ctx, loyalty.Identifier{ID: member.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(8), balance)
}

func TestAwardOnOrderCompletion_Idempotent(t *testing.T) {
	// GIVEN: The completion award already ran for an order
	// WHEN: The webhook retries (twice)
	// THEN: Repeats report alreadyAwarded and the balance stays put

	svc, store := newTestService(t)
	ctx := context.Background()

	member := createMember(t, svc, "alice@example.com")
	order := createOrder(t, store, "OD1001", member.ID, "500", 2, "150")

	first, err := svc.AwardOnOrderCompletion(ctx, order.OrderNo, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(8), first.Points)

	for i := 0; i < 2; i++ {
		again, err := svc.AwardOnOrderCompletion(ctx, order.OrderNo, nil)
		require.NoError(t, err)
		assert.True(t, again.AlreadyAwarded)
		assert.Zero(t, again.Points)
	}

	balance, err := svc.Balance(ctx, loyalty.Identifier{ID: member.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(8), balance)
}

func TestAwardOnOrderCompletion_FinalAmountOverride(t *testing.T) {
	// GIVEN: The caller supplies an explicit settled amount
	// WHEN: The award runs with the override
	// THEN: Points derive from the override, not the computed net

	svc, store := newTestService(t)
	ctx := context.Background()

	member := createMember(t, svc, "alice@example.com")
	order := createOrder(t, store, "OD1002", member.ID, "500", 2, "0")

	override := decimal.RequireFromString("350")
	result, err := svc.AwardOnOrderCompletion(ctx, order.OrderNo, &override)
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.Points)
}

func TestAwardOnOrderCompletion_BelowDivisor_NoEntry(t *testing.T) {
	// GIVEN: An order netting less than one divisor unit
	// WHEN: The award runs
	// THEN: Zero points, no ledger entry

	svc, store := newTestService(t)
	ctx := context.Background()

	member := createMember(t, svc, "alice@example.com")
	order := createOrder(t, store, "OD1003", member.ID, "99", 1, "0")

	result, err := svc.AwardOnOrderCompletion(ctx, order.OrderNo, nil)
	require.NoError(t, err)
	assert.Zero(t, result.Points)

	entries, err := store.ByMember(ctx, member.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAwardOnOrderCompletion_NoLinkage_Skipped(t *testing.T) {
	// GIVEN: An order bound to no member and carrying no customer email
	// WHEN: The award runs
	// THEN: Soft skip, no error, so the order workflow never blocks

	svc, store := newTestService(t)
	order := createOrder(t, store, "OD1004", "", "500", 1, "0")

	result, err := svc.AwardOnOrderCompletion(context.Background(), order.OrderNo, nil)
	require.NoError(t, err)
	assert.True(t, result.Skipped)
}

func TestAwardOnOrderCompletion_LazyProvisionFromEmail(t *testing.T) {
	// GIVEN: An unbound order whose customer email matches no member
	// WHEN: The award runs
	// THEN: A member is provisioned from the email and receives the points

	svc, store := newTestService(t)
	ctx := context.Background()

	order := loyalty.Order{
		ID:            uuid.NewString(),
		OrderNo:       "OD1005",
		CustomerEmail: "new@example.com",
		Status:        "completed",
		Items: []loyalty.OrderItem{
			{Name: "大掃除", UnitPrice: decimal.RequireFromString("1200"), Quantity: 1},
		},
		PointsDeduct: decimal.Zero,
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, store.CreateOrder(ctx, order))

	result, err := svc.AwardOnOrderCompletion(ctx, "OD1005", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(12), result.Points)

	m, err := store.GetByEmail(ctx, "new@example.com")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Regexp(t, `^M[O-Z]\d{4}$`, m.Code)

	balance, err := svc.Balance(ctx, loyalty.Identifier{Email: "new@example.com"})
	require.NoError(t, err)
	assert.Equal(t, int64(12), balance)
}

func TestAwardOnOrderCompletion_UnknownOrder(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.AwardOnOrderCompletion(context.Background(), "OD9999", nil)
	assert.Error(t, err)
}

// =============================================================================
// POINTS USAGE
// =============================================================================

func TestUsePointsOnOrder_NegativeBalanceAllowed(t *testing.T) {
	// GIVEN: A member holding 30 points
	// WHEN: 50 points are spent on an order
	// THEN: The deduction applies in full and the balance goes to -20

	svc, _ := newTestService(t)
	ctx := context.Background()

	member := createMember(t, svc, "alice@example.com")
	_, err := svc.Adjust(ctx, loyalty.Identifier{ID: member.ID}, loyalty.AdjustParams{
		Delta: int64Ptr(30), Ref: "seed",
	})
	require.NoError(t, err)

	result, err := svc.UsePointsOnOrder(ctx, loyalty.Identifier{ID: member.ID}, "order-1", 50)
	require.NoError(t, err)
	assert.True(t, result.Applied)

	balance, err := svc.Balance(ctx, loyalty.Identifier{ID: member.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(-20), balance)
}

func TestUsePointsOnOrder_SameMemberRepeat_NoOp(t *testing.T) {
	// GIVEN: The deduction for an order is already on the ledger
	// WHEN: The same member submits it again
	// THEN: Reported as already used; the balance does not move

	svc, _ := newTestService(t)
	ctx := context.Background()

	member := createMember(t, svc, "alice@example.com")
	ident := loyalty.Identifier{ID: member.ID}

	first, err := svc.UsePointsOnOrder(ctx, ident, "order-1", 40)
	require.NoError(t, err)
	assert.True(t, first.Applied)

	second, err := svc.UsePointsOnOrder(ctx, ident, "order-1", 40)
	require.NoError(t, err)
	assert.False(t, second.Applied)

	balance, err := svc.Balance(ctx, ident)
	require.NoError(t, err)
	assert.Equal(t, int64(-40), balance)
}

func TestUsePointsOnOrder_MisattributionRepair(t *testing.T) {
	// GIVEN: The deduction for an order sits on the wrong member
	// WHEN: The correctly resolved member submits the usage
	// THEN: The entry is reassigned and BOTH balances are recomputed

	svc, store := newTestService(t)
	ctx := context.Background()

	wrong := createMember(t, svc, "wrong@example.com")
	right := createMember(t, svc, "right@example.com")

	_, err := svc.UsePointsOnOrder(ctx, loyalty.Identifier{ID: wrong.ID}, "order-1", 25)
	require.NoError(t, err)

	result, err := svc.UsePointsOnOrder(ctx, loyalty.Identifier{ID: right.ID}, "order-1", 25)
	require.NoError(t, err)
	assert.True(t, result.Repaired)

	wrongBalance, err := svc.Balance(ctx, loyalty.Identifier{ID: wrong.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(0), wrongBalance)

	rightBalance, err := svc.Balance(ctx, loyalty.Identifier{ID: right.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(-25), rightBalance)

	// The entry itself moved; no second deduction was written.
	entries, err := store.ByMember(ctx, right.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(-25), entries[0].Delta)
}

func TestUsePointsOnOrder_Validation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.UsePointsOnOrder(ctx, loyalty.Identifier{}, "order-1", 10)
	assert.Error(t, err, "empty identifier")

	_, err = svc.UsePointsOnOrder(ctx, loyalty.Identifier{ID: "m"}, "", 10)
	assert.Error(t, err, "missing order id")

	_, err = svc.UsePointsOnOrder(ctx, loyalty.Identifier{ID: "m"}, "order-1", 0)
	assert.Error(t, err, "non-positive points")
}

// =============================================================================
// REFERRAL BONUS
// =============================================================================

func TestAwardReferral_OncePerPair(t *testing.T) {
	// GIVEN: A referrer credited for a referred member
	// WHEN: The same pair is submitted again
	// THEN: One entry, one +100; a different referred member earns again

	svc, store := newTestService(t)
	ctx := context.Background()

	referrer := createMember(t, svc, "referrer@example.com")

	awarded, err := svc.AwardReferral(ctx, "REF01", referrer.ID)
	require.NoError(t, err)
	assert.True(t, awarded)

	awarded, err = svc.AwardReferral(ctx, "REF01", referrer.ID)
	require.NoError(t, err)
	assert.False(t, awarded, "same pair must not pay twice")

	balance, err := svc.Balance(ctx, loyalty.Identifier{ID: referrer.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)

	entries, err := store.ByMember(ctx, referrer.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Contains(t, entries[0].Reason, "REF01")
}

func TestAwardReferral_UnknownMember(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.AwardReferral(context.Background(), "REF01", "nobody")
	assert.Error(t, err)
}

// =============================================================================
// MANUAL ADJUSTMENT
// =============================================================================

func TestAdjust_SetToComputesDeltaAgainstCachedBalance(t *testing.T) {
	// GIVEN: A member whose cached balance is 120
	// WHEN: An admin sets the balance to 200
	// THEN: A +80 entry lands and the balance reads 200

	svc, store := newTestService(t)
	ctx := context.Background()

	member := createMember(t, svc, "alice@example.com")
	ident := loyalty.Identifier{ID: member.ID}

	_, err := svc.Adjust(ctx, ident, loyalty.AdjustParams{Delta: int64Ptr(120), Ref: "seed"})
	require.NoError(t, err)

	balance, err := svc.Adjust(ctx, ident, loyalty.AdjustParams{SetTo: int64Ptr(200), Ref: "set-200"})
	require.NoError(t, err)
	assert.Equal(t, int64(200), balance)

	entries, err := store.ByMember(ctx, member.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(80), entries[1].Delta)
}

func TestAdjust_ZeroDeltaIsNoOp(t *testing.T) {
	// GIVEN: A member already at the target balance
	// WHEN: setTo names the same figure
	// THEN: Nothing is written

	svc, store := newTestService(t)
	ctx := context.Background()

	member := createMember(t, svc, "alice@example.com")
	ident := loyalty.Identifier{ID: member.ID}

	_, err := svc.Adjust(ctx, ident, loyalty.AdjustParams{Delta: int64Ptr(50), Ref: "seed"})
	require.NoError(t, err)

	balance, err := svc.Adjust(ctx, ident, loyalty.AdjustParams{SetTo: int64Ptr(50)})
	require.NoError(t, err)
	assert.Equal(t, int64(50), balance)

	entries, err := store.ByMember(ctx, member.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestAdjust_SetToAndDeltaAreMutuallyExclusive(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	ident := loyalty.Identifier{Email: "alice@example.com"}

	_, err := svc.Adjust(ctx, ident, loyalty.AdjustParams{})
	assert.Error(t, err, "neither given")

	_, err = svc.Adjust(ctx, ident, loyalty.AdjustParams{SetTo: int64Ptr(10), Delta: int64Ptr(5)})
	assert.Error(t, err, "both given")
}

func TestAdjust_RepeatedNoRefAdjustments_AllRecorded(t *testing.T) {
	// GIVEN: Two manual adjustments without an explicit ref, issued
	//        back to back within the same wall-clock second
	// WHEN: Both apply
	// THEN: Each is a distinct ledger event; nothing is deduplicated

	svc, store := newTestService(t)
	ctx := context.Background()

	member := createMember(t, svc, "alice@example.com")
	ident := loyalty.Identifier{ID: member.ID}

	balance, err := svc.Adjust(ctx, ident, loyalty.AdjustParams{Delta: int64Ptr(10)})
	require.NoError(t, err)
	assert.Equal(t, int64(10), balance)

	balance, err = svc.Adjust(ctx, ident, loyalty.AdjustParams{Delta: int64Ptr(5)})
	require.NoError(t, err)
	assert.Equal(t, int64(15), balance, "second adjustment must not be dropped")

	entries, err := store.ByMember(ctx, member.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.NotEqual(t, entries[0].RefKey, entries[1].RefKey)
}

func TestAdjust_ExplicitRefDedupes(t *testing.T) {
	// GIVEN: An adjustment with an explicit ref already applied
	// WHEN: The same ref is submitted again
	// THEN: No second entry; the standing balance is returned

	svc, store := newTestService(t)
	ctx := context.Background()

	member := createMember(t, svc, "alice@example.com")
	ident := loyalty.Identifier{ID: member.ID}

	_, err := svc.Adjust(ctx, ident, loyalty.AdjustParams{Delta: int64Ptr(60), Ref: "ticket-42"})
	require.NoError(t, err)

	balance, err := svc.Adjust(ctx, ident, loyalty.AdjustParams{Delta: int64Ptr(60), Ref: "ticket-42"})
	require.NoError(t, err)
	assert.Equal(t, int64(60), balance)

	entries, err := store.ByMember(ctx, member.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestAdjust_ProvisionsUnknownMember(t *testing.T) {
	// GIVEN: No member matches the email
	// WHEN: An adjustment addresses it
	// THEN: The member is provisioned and receives the delta

	svc, store := newTestService(t)
	ctx := context.Background()

	balance, err := svc.Adjust(ctx, loyalty.Identifier{Email: "fresh@example.com"},
		loyalty.AdjustParams{Delta: int64Ptr(15), Ref: "welcome"})
	require.NoError(t, err)
	assert.Equal(t, int64(15), balance)

	m, err := store.GetByEmail(ctx, "fresh@example.com")
	require.NoError(t, err)
	require.NotNil(t, m)
}

// =============================================================================
// FULL REBUILD
// =============================================================================

func TestRecalculateAll_ConvergesAndIsIdempotent(t *testing.T) {
	// GIVEN: Several members with ledger history and a corrupted cache
	// WHEN: RecalculateAll runs twice
	// THEN: Every balance equals its ledger sum both times

	svc, store := newTestService(t)
	ctx := context.Background()

	alice := createMember(t, svc, "alice@example.com")
	bob := createMember(t, svc, "bob@example.com")

	_, err := svc.Adjust(ctx, loyalty.Identifier{ID: alice.ID}, loyalty.AdjustParams{Delta: int64Ptr(80), Ref: "a"})
	require.NoError(t, err)
	_, err = svc.UsePointsOnOrder(ctx, loyalty.Identifier{ID: bob.ID}, "order-1", 30)
	require.NoError(t, err)

	// Corrupt the cache behind the reconciler's back.
	require.NoError(t, store.WriteBalance(ctx, alice.ID, 9999))

	for i := 0; i < 2; i++ {
		count, err := svc.RecalculateAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, count)

		aliceBalance, err := svc.Balance(ctx, loyalty.Identifier{ID: alice.ID})
		require.NoError(t, err)
		assert.Equal(t, int64(80), aliceBalance)

		bobBalance, err := svc.Balance(ctx, loyalty.Identifier{ID: bob.ID})
		require.NoError(t, err)
		assert.Equal(t, int64(-30), bobBalance)
	}
}

// =============================================================================
// MIRROR
// =============================================================================

func TestAward_MirrorsBalanceOntoMemberRow(t *testing.T) {
	// GIVEN: A member receiving an award
	// WHEN: The write reconciles
	// THEN: The denormalized points field on the member row follows

	svc, store := newTestService(t)
	ctx := context.Background()

	member := createMember(t, svc, "alice@example.com")
	_, err := svc.Adjust(ctx, loyalty.Identifier{ID: member.ID}, loyalty.AdjustParams{Delta: int64Ptr(70), Ref: "x"})
	require.NoError(t, err)

	reloaded, err := store.Get(ctx, member.ID)
	require.NoError(t, err)
	require.NotNil(t, reloaded)
	assert.Equal(t, int64(70), reloaded.Points)
}

func int64Ptr(v int64) *int64 { return &v }
