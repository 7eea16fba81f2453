/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication, decoupled from the
  internal domain model.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

RESPONSE SHAPE:
  Success bodies carry "ok": true (the adjust endpoint uses "success" for
  compatibility with its original caller). Error bodies carry
  "ok": false plus an "error" string; validation detail goes in "details".

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.
*/
package api

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// COMMON
// =============================================================================

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// MemberRef is the multi-key member reference accepted wherever a member
// is addressed. Resolution priority: memberId > memberCode > phone > email.
type MemberRef struct {
	MemberID   string `json:"memberId,omitempty"`
	MemberCode string `json:"memberCode,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Email      string `json:"email,omitempty"`
}

// =============================================================================
// MEMBERS
// =============================================================================

// MemberDTO represents a member in API responses.
type MemberDTO struct {
	ID        string `json:"id"`
	Code      string `json:"code"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Name      string `json:"name,omitempty"`
	Points    int64  `json:"points"`
	CreatedAt string `json:"createdAt"`
}

// CreateMemberRequest creates a member explicitly (code is generated).
type CreateMemberRequest struct {
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
	Name  string `json:"name,omitempty"`
}

// =============================================================================
// ORDERS
// =============================================================================

// OrderItemDTO is one service line on an order.
type OrderItemDTO struct {
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Quantity  int64           `json:"quantity"`
}

// CreateOrderRequest creates an order, optionally spending points on it.
type CreateOrderRequest struct {
	OrderNo       string          `json:"orderNo"`
	MemberRef     MemberRef       `json:"member"`
	CustomerEmail string          `json:"customerEmail,omitempty"`
	StaffID       string          `json:"staffId,omitempty"`
	Items         []OrderItemDTO  `json:"items"`
	PointsUsed    int64           `json:"pointsUsed,omitempty"`
	PointsDeduct  decimal.Decimal `json:"pointsDeduct,omitempty"`
}

// OrderDTO represents an order in API responses.
type OrderDTO struct {
	ID            string          `json:"id"`
	OrderNo       string          `json:"orderNo"`
	MemberID      string          `json:"memberId,omitempty"`
	CustomerEmail string          `json:"customerEmail,omitempty"`
	StaffID       string          `json:"staffId,omitempty"`
	Status        string          `json:"status"`
	Items         []OrderItemDTO  `json:"items"`
	Gross         decimal.Decimal `json:"gross"`
	PointsDeduct  decimal.Decimal `json:"pointsDeduct"`
	Net           decimal.Decimal `json:"net"`
	CompletedAt   string          `json:"completedAt,omitempty"`
	CreatedAt     string          `json:"createdAt"`
}

// =============================================================================
// POINTS
// =============================================================================

// RewardResponse reports an order-completion award.
type RewardResponse struct {
	OK             bool            `json:"ok"`
	Points         int64           `json:"points"`
	FinalAmount    decimal.Decimal `json:"finalAmount"`
	AlreadyAwarded bool            `json:"alreadyAwarded,omitempty"`
	Skipped        bool            `json:"skipped,omitempty"`
}

// RewardRequest optionally overrides the computed final amount.
type RewardRequest struct {
	FinalAmount *decimal.Decimal `json:"finalAmount,omitempty"`
}

// UsePointsRequest records a points deduction against an order.
type UsePointsRequest struct {
	MemberRef
	OrderID string `json:"orderId"`
	Points  int64  `json:"points"`
}

// UsePointsResponse reports the deduction outcome.
type UsePointsResponse struct {
	OK       bool   `json:"ok"`
	Status   string `json:"status"` // applied | already_used | repaired
	Balance  int64  `json:"balance"`
	MemberID string `json:"memberId"`
}

// ReferralRequest awards the referral bonus to the code owner.
type ReferralRequest struct {
	RefCode  string `json:"refCode"`
	MemberID string `json:"memberId"`
}

// ReferralResponse reports whether the bonus was newly awarded.
type ReferralResponse struct {
	OK      bool  `json:"ok"`
	Awarded bool  `json:"awarded"`
	Points  int64 `json:"points"`
}

// AdjustRequest is the manual admin correction. Exactly one of SetTo or
// Delta must be present.
type AdjustRequest struct {
	MemberRef
	SetTo  *int64 `json:"setTo,omitempty"`
	Delta  *int64 `json:"delta,omitempty"`
	Reason string `json:"reason,omitempty"`
	Ref    string `json:"ref,omitempty"`
}

// AdjustResponse keeps the legacy "success" flag its callers expect.
type AdjustResponse struct {
	Success bool  `json:"success"`
	Balance int64 `json:"balance"`
}

// BalanceResponse returns the cached balance for a member.
type BalanceResponse struct {
	OK       bool   `json:"ok"`
	MemberID string `json:"memberId"`
	Code     string `json:"code"`
	Balance  int64  `json:"balance"`
}

// EntryDTO is one ledger line in API responses.
type EntryDTO struct {
	ID        string `json:"id"`
	Delta     int64  `json:"delta"`
	Reason    string `json:"reason,omitempty"`
	OrderID   string `json:"orderId,omitempty"`
	RefKey    string `json:"refKey"`
	CreatedAt string `json:"createdAt"`
}

// LedgerResponse returns a member's recent entries plus the balance.
type LedgerResponse struct {
	OK      bool       `json:"ok"`
	Balance int64      `json:"balance"`
	Entries []EntryDTO `json:"entries"`
}

// RecalculateResponse reports the full-rebuild outcome.
type RecalculateResponse struct {
	OK      bool `json:"ok"`
	Members int  `json:"members"`
}

// =============================================================================
// SETTINGS AND PAYROLL
// =============================================================================

// SettingRequest upserts one settings key.
type SettingRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// SettingResponse returns one settings key.
type SettingResponse struct {
	OK    bool   `json:"ok"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

// PayrollRecomputeRequest triggers a payroll recompute.
type PayrollRecomputeRequest struct {
	StaffID string `json:"staffId"`
	Month   string `json:"month"` // YYYY-MM
}

// PayrollRecordDTO represents a payroll record in API responses.
type PayrollRecordDTO struct {
	OK         bool            `json:"ok"`
	StaffID    string          `json:"staffId"`
	Month      string          `json:"month"`
	Base       decimal.Decimal `json:"base"`
	Allowance  decimal.Decimal `json:"allowance"`
	Deduction  decimal.Decimal `json:"deduction"`
	Bonus      decimal.Decimal `json:"bonus"`
	Commission decimal.Decimal `json:"commission"`
	Net        decimal.Decimal `json:"net"`
}

// DemoLoadResponse reports the demo dataset load.
type DemoLoadResponse struct {
	OK      bool `json:"ok"`
	Members int  `json:"members"`
	Orders  int  `json:"orders"`
}
