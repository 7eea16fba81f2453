/*
demo.go - Demo dataset loader for testing and demonstrations

PURPOSE:
  Populates the database with a realistic dataset: a handful of members,
  orders in various states, the review-bonus setting, and the award
  history that would have accumulated through normal operation. Used by
  local frontends and manual QA.

HOW THE LOAD WORKS:
 1. Reset database (clear all data)
 2. Create members (codes generated)
 3. Create orders, some completed, some with points usage
 4. Run the completion awards and a referral bonus
 5. Enable the review bonus setting

NOTE:
  The load resets the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: ResetDatabase handler
  - server.go: /api/demo routes
*/
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/brightnest/loyalty-engine/loyalty"
)

// LoadDemoData resets the database and loads the demo dataset.
func (h *Handler) LoadDemoData(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}

	members, orders, err := h.loadDemoDataset(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load demo data", err)
		return
	}
	writeJSON(w, http.StatusOK, DemoLoadResponse{OK: true, Members: members, Orders: orders})
}

func (h *Handler) loadDemoDataset(ctx context.Context) (int, int, error) {
	now := time.Now().UTC()
	month := now.Format("2006-01")

	type seedMember struct {
		email, phone, name string
	}
	seedMembers := []seedMember{
		{"alice@example.com", "0911000001", "Alice Chen"},
		{"bob@example.com", "0911000002", "Bob Lin"},
		{"carol@example.com", "0911000003", "Carol Wu"},
	}

	created := make([]*loyalty.Member, 0, len(seedMembers))
	for _, sm := range seedMembers {
		res, err := h.Loyalty.Resolver.ResolveOrCreate(ctx,
			loyalty.Identifier{Email: sm.email, Phone: sm.phone}, sm.name)
		if err != nil {
			return 0, 0, err
		}
		created = append(created, res.Member)
	}

	type seedOrder struct {
		no        string
		member    *loyalty.Member
		staffID   string
		items     []loyalty.OrderItem
		deduct    decimal.Decimal
		completed bool
	}
	price := func(s string) decimal.Decimal { return decimal.RequireFromString(s) }
	seedOrders := []seedOrder{
		{
			no: "OD" + month[:4] + "0001", member: created[0], staffID: "staff-amy",
			items: []loyalty.OrderItem{
				{Name: "深度清潔", UnitPrice: price("1800"), Quantity: 1},
				{Name: "冷氣保養", UnitPrice: price("1200"), Quantity: 2},
			},
			completed: true,
		},
		{
			no: "OD" + month[:4] + "0002", member: created[1], staffID: "staff-amy",
			items: []loyalty.OrderItem{
				{Name: "定期打掃", UnitPrice: price("900"), Quantity: 1},
			},
			deduct:    price("50"),
			completed: true,
		},
		{
			no: "OD" + month[:4] + "0003", member: created[2], staffID: "staff-ben",
			items: []loyalty.OrderItem{
				{Name: "搬家清潔", UnitPrice: price("3600"), Quantity: 1},
			},
			completed: false,
		},
	}

	for _, so := range seedOrders {
		order := loyalty.Order{
			ID:           uuid.NewString(),
			OrderNo:      so.no,
			MemberID:     so.member.ID,
			StaffID:      so.staffID,
			Status:       "created",
			Items:        so.items,
			PointsDeduct: so.deduct,
			CreatedAt:    now.Add(-72 * time.Hour),
		}
		if err := h.Store.CreateOrder(ctx, order); err != nil {
			return 0, 0, err
		}
		if !so.deduct.IsZero() {
			points := so.deduct.IntPart()
			if _, err := h.Loyalty.UsePointsOnOrder(ctx,
				loyalty.Identifier{ID: so.member.ID}, order.ID, points); err != nil {
				return 0, 0, err
			}
		}
		if so.completed {
			if err := h.Store.MarkOrderCompleted(ctx, order.ID, now.Add(-24*time.Hour)); err != nil {
				return 0, 0, err
			}
			if _, err := h.Loyalty.AwardOnOrderCompletion(ctx, order.ID, nil); err != nil {
				return 0, 0, err
			}
		}
	}

	// Alice referred Bob.
	if _, err := h.Loyalty.AwardReferral(ctx, created[0].Code, created[0].ID); err != nil {
		return 0, 0, err
	}

	// Enable the review bonus.
	bonus := strconv.FormatInt(20, 10)
	if err := h.Store.SetSetting(ctx, loyalty.SettingReviewBonusPoints, bonus); err != nil {
		return 0, 0, err
	}

	return len(created), len(seedOrders), nil
}
