package payroll_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightnest/loyalty-engine/loyalty"
	"github.com/brightnest/loyalty-engine/payroll"
	"github.com/brightnest/loyalty-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestPayroll(t *testing.T, rate string) (*payroll.Service, *sqlite.Store) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	svc := payroll.NewService(store, store, decimal.RequireFromString(rate))
	return svc, store
}

func completedOrder(t *testing.T, store *sqlite.Store, staffID, price, deduct string, at time.Time) {
	order := loyalty.Order{
		ID:      uuid.NewString(),
		OrderNo: uuid.NewString()[:8],
		StaffID: staffID,
		Status:  "created",
		Items: []loyalty.OrderItem{
			{Name: "清潔服務", UnitPrice: decimal.RequireFromString(price), Quantity: 1},
		},
		PointsDeduct: decimal.RequireFromString(deduct),
		CreatedAt:    at.Add(-48 * time.Hour),
	}
	ctx := context.Background()
	require.NoError(t, store.CreateOrder(ctx, order))
	require.NoError(t, store.MarkOrderCompleted(ctx, order.ID, at))
}

// =============================================================================
// COMMISSION
// =============================================================================

func TestRecompute_CommissionFromCompletedOrders(t *testing.T) {
	// GIVEN: Two completed orders netting 1800 and 850 in August
	// WHEN: Payroll recomputes at a 10% rate
	// THEN: Commission is floor(2650 * 0.1) = 265 and net follows

	svc, store := newTestPayroll(t, "0.1")
	august := time.Date(2026, time.August, 15, 10, 0, 0, 0, time.UTC)

	completedOrder(t, store, "staff-amy", "1800", "0", august)
	completedOrder(t, store, "staff-amy", "900", "50", august.Add(24*time.Hour))

	rec, err := svc.Recompute(context.Background(), "staff-amy", "2026-08")
	require.NoError(t, err)

	assert.True(t, rec.Commission.Equal(decimal.NewFromInt(265)), "got %s", rec.Commission)
	assert.True(t, rec.Net.Equal(decimal.NewFromInt(265)))
}

func TestRecompute_FlooredToWholeUnits(t *testing.T) {
	// GIVEN: A basis that does not divide evenly
	// WHEN: The commission is computed
	// THEN: Fractions are dropped, never rounded up

	svc, store := newTestPayroll(t, "0.1")
	august := time.Date(2026, time.August, 15, 10, 0, 0, 0, time.UTC)

	completedOrder(t, store, "staff-amy", "1255", "0", august)

	rec, err := svc.Recompute(context.Background(), "staff-amy", "2026-08")
	require.NoError(t, err)
	assert.True(t, rec.Commission.Equal(decimal.NewFromInt(125)), "got %s", rec.Commission)
}

func TestRecompute_IgnoresOtherMonthsStaffAndIncomplete(t *testing.T) {
	// GIVEN: Orders outside the month, for other staff, or not completed
	// WHEN: Payroll recomputes
	// THEN: None of them contribute to the basis

	svc, store := newTestPayroll(t, "0.1")
	ctx := context.Background()
	august := time.Date(2026, time.August, 15, 10, 0, 0, 0, time.UTC)

	completedOrder(t, store, "staff-amy", "1000", "0", august)
	completedOrder(t, store, "staff-amy", "5000", "0", august.AddDate(0, -1, 0)) // July
	completedOrder(t, store, "staff-ben", "5000", "0", august)                   // other staff

	// Created but never completed.
	pending := loyalty.Order{
		ID:      uuid.NewString(),
		OrderNo: "pending-1",
		StaffID: "staff-amy",
		Status:  "created",
		Items: []loyalty.OrderItem{
			{Name: "清潔服務", UnitPrice: decimal.NewFromInt(5000), Quantity: 1},
		},
		PointsDeduct: decimal.Zero,
		CreatedAt:    august,
	}
	require.NoError(t, store.CreateOrder(ctx, pending))

	rec, err := svc.Recompute(ctx, "staff-amy", "2026-08")
	require.NoError(t, err)
	assert.True(t, rec.Commission.Equal(decimal.NewFromInt(100)), "got %s", rec.Commission)
}

// =============================================================================
// RECORD LIFECYCLE
// =============================================================================

func TestRecompute_PreservesManualComponents(t *testing.T) {
	// GIVEN: A record with base, allowance, bonus and deduction already set
	// WHEN: The commission is recomputed
	// THEN: Only commission and net move

	svc, store := newTestPayroll(t, "0.1")
	ctx := context.Background()
	august := time.Date(2026, time.August, 15, 10, 0, 0, 0, time.UTC)

	seed := payroll.Record{
		ID:        uuid.NewString(),
		StaffID:   "staff-amy",
		Month:     "2026-08",
		Base:      decimal.NewFromInt(32000),
		Allowance: decimal.NewFromInt(2000),
		Deduction: decimal.NewFromInt(500),
		Bonus:     decimal.NewFromInt(1000),
		UpdatedAt: august,
	}
	require.NoError(t, store.SaveRecord(ctx, seed))

	completedOrder(t, store, "staff-amy", "3000", "0", august)

	rec, err := svc.Recompute(ctx, "staff-amy", "2026-08")
	require.NoError(t, err)

	assert.True(t, rec.Base.Equal(decimal.NewFromInt(32000)))
	assert.True(t, rec.Commission.Equal(decimal.NewFromInt(300)))
	// 32000 + 2000 + 1000 + 300 - 500
	assert.True(t, rec.Net.Equal(decimal.NewFromInt(34800)), "got %s", rec.Net)
}

func TestRecompute_CreatesRecordWhenAbsent(t *testing.T) {
	// GIVEN: No record for the pair yet and no matched orders
	// WHEN: Recompute runs
	// THEN: A zeroed record is persisted (idempotent on repeat)

	svc, store := newTestPayroll(t, "0.1")
	ctx := context.Background()

	rec, err := svc.Recompute(ctx, "staff-new", "2026-08")
	require.NoError(t, err)
	assert.True(t, rec.Net.IsZero())

	stored, err := store.GetRecord(ctx, "staff-new", "2026-08")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, rec.ID, stored.ID)

	again, err := svc.Recompute(ctx, "staff-new", "2026-08")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, again.ID, "upsert keeps the same record")
}
