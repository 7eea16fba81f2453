/*
Package loyalty implements the award rules of the points program.

PURPOSE:
  Domain package on top of the core ledger engine. It decides WHEN and HOW
  MANY points to award or deduct, invoked from order-lifecycle events:

  - Order completion reward (1 point per 100 currency units of net spend)
  - Points usage at order creation (with misattribution repair)
  - Referral bonus (fixed amount per distinct referred member)
  - Manual admin adjustment (absolute set-to or relative delta)
  - Review-bonus claim (admin-configured amount, once per order/member/kind)

  It also owns member resolution: a ranked multi-key lookup
  (id > code > phone > email) with explicit, testable auto-provisioning.

KEY CONCEPTS IN THIS FILE (types.go):
  - Member, Order: the entities the rules operate on
  - Identifier: the multi-key member reference accepted by the API
  - Ref key builders: deterministic idempotency keys per logical event

SEE ALSO:
  - awards.go: the trigger implementations
  - resolver.go: ranked member resolution and code generation
  - review.go: review-bonus claim
*/
package loyalty

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MEMBER
// =============================================================================

// Member is a loyalty-program participant.
// Code is globally unique and immutable after creation; format M[A-Z][0-9]{4}.
// Points is a denormalized cache of the ledger sum - not authoritative.
type Member struct {
	ID        string
	Code      string
	Email     string // lowercase-normalized
	Phone     string
	Name      string
	Points    int64
	CreatedAt time.Time
}

// Identifier is the multi-key member reference accepted by the API.
// Resolution tries ID, then Code, then Phone, then Email; first match wins.
type Identifier struct {
	ID    string
	Code  string
	Phone string
	Email string
}

// Empty reports whether no lookup key was supplied at all.
func (id Identifier) Empty() bool {
	return id.ID == "" && id.Code == "" && id.Phone == "" && id.Email == ""
}

// =============================================================================
// ORDER
// =============================================================================

// OrderItem is one service line on an order.
type OrderItem struct {
	Name      string
	UnitPrice decimal.Decimal
	Quantity  int64
}

// Order is a cleaning-service order. MemberID is the loyalty binding and may
// be empty; CustomerEmail then drives lazy member provisioning.
type Order struct {
	ID            string
	OrderNo       string // human-facing order number
	MemberID      string
	CustomerEmail string
	StaffID       string // assigned technician, used by payroll commission
	Status        string
	Items         []OrderItem
	PointsDeduct  decimal.Decimal // currency amount covered by points
	CompletedAt   *time.Time
	CreatedAt     time.Time
}

// Gross returns the sum of unitPrice x quantity over all service items.
func (o Order) Gross() decimal.Decimal {
	gross := decimal.Zero
	for _, item := range o.Items {
		gross = gross.Add(item.UnitPrice.Mul(decimal.NewFromInt(item.Quantity)))
	}
	return gross
}

// Net returns max(0, gross - pointsDeduct).
func (o Order) Net() decimal.Decimal {
	net := o.Gross().Sub(o.PointsDeduct)
	if net.IsNegative() {
		return decimal.Zero
	}
	return net
}

// =============================================================================
// STORES
// =============================================================================

// MemberStore persists members. Lookups return (nil, nil) when not found.
type MemberStore interface {
	Create(ctx context.Context, m Member) error
	Get(ctx context.Context, id string) (*Member, error)
	GetByCode(ctx context.Context, code string) (*Member, error)
	GetByPhone(ctx context.Context, phone string) (*Member, error)
	GetByEmail(ctx context.Context, email string) (*Member, error)
	CodeExists(ctx context.Context, code string) (bool, error)
	List(ctx context.Context) ([]Member, error)
}

// OrderStore persists orders. Lookups return (nil, nil) when not found.
// Method names are order-qualified so one store can also satisfy MemberStore.
type OrderStore interface {
	CreateOrder(ctx context.Context, o Order) error
	GetOrder(ctx context.Context, id string) (*Order, error)
	GetOrderByNo(ctx context.Context, orderNo string) (*Order, error)
	MarkOrderCompleted(ctx context.Context, id string, at time.Time) error
}

// SettingStore holds admin-controlled global configuration values,
// e.g. the review bonus amount. Get returns ("", nil) for unset keys.
type SettingStore interface {
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
}

// =============================================================================
// REASONS AND REF KEYS
// =============================================================================

// Ledger reason classifications, kept in the operator-facing wording.
const (
	ReasonOrderReward = "訂單回饋"
	ReasonOrderUsage  = "訂單折抵"
	ReasonAdjust      = "管理員調整"
)

// ReviewKind names the feedback flavor of a review-bonus claim.
type ReviewKind string

const (
	ReviewGood    ReviewKind = "good"
	ReviewSuggest ReviewKind = "suggest"
)

// Valid reports whether the kind is one of the accepted values.
func (k ReviewKind) Valid() bool {
	return k == ReviewGood || k == ReviewSuggest
}

// Deterministic idempotency keys, one per logical event. Two calls naming
// the same event always derive the same key, which is what makes the
// ledger's UNIQUE constraint the de-duplication mechanism.

func RewardRefKey(orderID string) string {
	return "order_reward_" + orderID
}

func UsageRefKey(orderID string) string {
	return "order_points_used_" + orderID
}

func ReferralRefKey(refCode, memberID string) string {
	return fmt.Sprintf("referral_%s_%s", refCode, memberID)
}

// AdjustRefKey dedupes on the caller-supplied ref. Without a ref the key is
// derived from the nanosecond clock: repeated manual adjustments without an
// explicit ref are deliberately distinct events, even back to back.
func AdjustRefKey(memberID, ref string, now time.Time) string {
	if ref != "" {
		return "admin_adjust_" + ref
	}
	return fmt.Sprintf("admin_adjust_%s_%d", memberID, now.UnixNano())
}

func ReviewRefKey(orderID, memberID string, kind ReviewKind) string {
	return fmt.Sprintf("review_bonus_%s_%s_%s", orderID, memberID, kind)
}
