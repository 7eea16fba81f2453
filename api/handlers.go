/*
handlers.go - HTTP API handlers for the points ledger service

PURPOSE:
  Exposes the loyalty engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Members:
    GET    /api/members                List all members
    POST   /api/members                Create member (code generated)
    GET    /api/members/{id}           Get member details

  Orders:
    POST   /api/orders                 Create order (optionally spending points)
    GET    /api/orders/{ref}           Get order by order number or id
    POST   /api/orders/{ref}/complete  Mark completed and award points
    GET    /api/orders/{ref}/reward    Award completion points (idempotent)
    POST   /api/orders/{ref}/reward    Same, with optional finalAmount override

  Points:
    POST   /api/points/use             Deduct points used on an order
    POST   /api/points/adjust          Manual admin set-to / delta
    GET    /api/points/balance         Cached balance for a member
    GET    /api/points/ledger          Recent ledger entries

  Referrals:
    POST   /api/referrals/bonus        Referral bonus for the code owner

  Reviews:
    GET    /api/reviews/claim          Review-bonus claim (HTML page)

  Admin:
    POST   /api/admin/recalculate      Rebuild every balance from the ledger
    GET    /api/admin/settings/{key}   Read a settings value
    PUT    /api/admin/settings         Upsert a settings value

  Payroll:
    POST   /api/payroll/recompute      Recompute one staff/month record

ERROR HANDLING:
  Errors are returned as {"ok": false, "error": ...} with:
  - 400: Validation errors, invalid input
  - 404: Member or order not found
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - demo.go: Demo dataset loader
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/brightnest/loyalty-engine/ledger"
	"github.com/brightnest/loyalty-engine/loyalty"
	"github.com/brightnest/loyalty-engine/payroll"
	"github.com/brightnest/loyalty-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store   *sqlite.Store
	Loyalty *loyalty.Service
	Payroll *payroll.Service
}

// NewHandler creates a new handler over the store and domain services.
func NewHandler(store *sqlite.Store, loyaltySvc *loyalty.Service, payrollSvc *payroll.Service) *Handler {
	return &Handler{Store: store, Loyalty: loyaltySvc, Payroll: payrollSvc}
}

// =============================================================================
// MEMBER HANDLERS
// =============================================================================

// ListMembers returns all members.
func (h *Handler) ListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := h.Store.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list members", err)
		return
	}

	dtos := make([]MemberDTO, len(members))
	for i, m := range members {
		dtos[i] = toMemberDTO(m)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetMember returns a single member by id or code.
func (h *Handler) GetMember(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "id")

	res, err := h.Loyalty.Resolver.Resolve(r.Context(), loyalty.Identifier{ID: ref, Code: ref})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get member", err)
		return
	}
	if res.Outcome == loyalty.OutcomeNotFound {
		writeError(w, http.StatusNotFound, "Member not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toMemberDTO(*res.Member))
}

// CreateMember provisions a member explicitly. The member code is always
// generated server-side.
func (h *Handler) CreateMember(w http.ResponseWriter, r *http.Request) {
	var req CreateMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Email == "" && req.Phone == "" {
		writeError(w, http.StatusBadRequest, "email or phone required", nil)
		return
	}

	res, err := h.Loyalty.Resolver.ResolveOrCreate(r.Context(),
		loyalty.Identifier{Email: req.Email, Phone: req.Phone}, req.Name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create member", err)
		return
	}

	status := http.StatusCreated
	if res.Outcome == loyalty.OutcomeFound {
		status = http.StatusOK // already exists; return the existing member
	}
	writeJSON(w, status, toMemberDTO(*res.Member))
}

// =============================================================================
// ORDER HANDLERS
// =============================================================================

var orderNoPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// CreateOrder creates an order and, when pointsUsed is positive, records the
// deduction against the resolved member in the same call.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.OrderNo == "" || !orderNoPattern.MatchString(req.OrderNo) {
		writeError(w, http.StatusBadRequest, "orderNo required (alphanumeric)", nil)
		return
	}
	if len(req.Items) == 0 {
		writeError(w, http.StatusBadRequest, "at least one item required", nil)
		return
	}

	ctx := r.Context()

	// Bind the member if any reference resolves; orders without a loyalty
	// linkage are still valid.
	memberID := ""
	ident := req.MemberRef.toIdentifier()
	if !ident.Empty() {
		res, err := h.Loyalty.Resolver.ResolveOrCreate(ctx, ident, "")
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to resolve member", err)
			return
		}
		if res.Outcome != loyalty.OutcomeNotFound {
			memberID = res.Member.ID
		}
	}

	deduct := req.PointsDeduct
	if deduct.IsZero() && req.PointsUsed > 0 {
		// 1 point covers 1 currency unit.
		deduct = decimal.NewFromInt(req.PointsUsed)
	}

	order := loyalty.Order{
		ID:            uuid.NewString(),
		OrderNo:       req.OrderNo,
		MemberID:      memberID,
		CustomerEmail: loyalty.NormalizeEmail(req.CustomerEmail),
		StaffID:       req.StaffID,
		Status:        "created",
		Items:         fromItemDTOs(req.Items),
		PointsDeduct:  deduct,
		CreatedAt:     time.Now().UTC(),
	}
	if err := h.Store.CreateOrder(ctx, order); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create order", err)
		return
	}

	if req.PointsUsed > 0 {
		if _, err := h.Loyalty.UsePointsOnOrder(ctx, ident, order.ID, req.PointsUsed); err != nil {
			writeDomainError(w, "Failed to use points", err)
			return
		}
	}

	writeJSON(w, http.StatusCreated, toOrderDTO(order))
}

// GetOrder returns an order by order number or internal id.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.lookupOrder(r)
	if err != nil {
		writeDomainError(w, "Failed to get order", err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderDTO(*order))
}

// CompleteOrder stamps the order completed, then runs the completion award.
func (h *Handler) CompleteOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	order, err := h.lookupOrder(r)
	if err != nil {
		writeDomainError(w, "Failed to complete order", err)
		return
	}

	if order.CompletedAt == nil {
		if err := h.Store.MarkOrderCompleted(ctx, order.ID, time.Now().UTC()); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to complete order", err)
			return
		}
	}

	result, err := h.Loyalty.AwardOnOrderCompletion(ctx, order.ID, nil)
	if err != nil {
		writeDomainError(w, "Failed to award points", err)
		return
	}
	writeJSON(w, http.StatusOK, RewardResponse{
		OK:             true,
		Points:         result.Points,
		FinalAmount:    result.FinalAmount,
		AlreadyAwarded: result.AlreadyAwarded,
		Skipped:        result.Skipped,
	})
}

// AwardOrderReward awards completion points for an order. Safe to call any
// number of times; repeats report alreadyAwarded. POST may override the
// final amount; GET accepts ?finalAmount= for the legacy webhook caller.
func (h *Handler) AwardOrderReward(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")

	var override *decimal.Decimal
	if r.Method == http.MethodPost && r.Body != nil && r.ContentLength != 0 {
		var req RewardRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
		override = req.FinalAmount
	} else if raw := r.URL.Query().Get("finalAmount"); raw != "" {
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "finalAmount is not a number", err)
			return
		}
		override = &amount
	}

	result, err := h.Loyalty.AwardOnOrderCompletion(r.Context(), ref, override)
	if err != nil {
		writeDomainError(w, "Failed to award points", err)
		return
	}
	writeJSON(w, http.StatusOK, RewardResponse{
		OK:             true,
		Points:         result.Points,
		FinalAmount:    result.FinalAmount,
		AlreadyAwarded: result.AlreadyAwarded,
		Skipped:        result.Skipped,
	})
}

func (h *Handler) lookupOrder(r *http.Request) (*loyalty.Order, error) {
	ref := chi.URLParam(r, "ref")
	order, err := h.Store.GetOrderByNo(r.Context(), ref)
	if err != nil {
		return nil, err
	}
	if order == nil {
		order, err = h.Store.GetOrder(r.Context(), ref)
		if err != nil {
			return nil, err
		}
	}
	if order == nil {
		return nil, ledger.ErrOrderNotFound
	}
	return order, nil
}

// =============================================================================
// POINTS HANDLERS
// =============================================================================

// UsePoints records the points spent on an order.
func (h *Handler) UsePoints(w http.ResponseWriter, r *http.Request) {
	var req UsePointsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ident := req.toIdentifier()
	result, err := h.Loyalty.UsePointsOnOrder(r.Context(), ident, req.OrderID, req.Points)
	if err != nil {
		writeDomainError(w, "Failed to use points", err)
		return
	}

	res, err := h.Loyalty.Resolver.Resolve(r.Context(), ident)
	if err != nil || res.Outcome == loyalty.OutcomeNotFound {
		writeError(w, http.StatusInternalServerError, "Failed to reload member", err)
		return
	}
	balance, err := h.Loyalty.Reconciler.CachedBalance(r.Context(), res.Member.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read balance", err)
		return
	}

	status := "already_used"
	if result.Repaired {
		status = "repaired"
	} else if result.Applied {
		status = "applied"
	}
	writeJSON(w, http.StatusOK, UsePointsResponse{
		OK:       true,
		Status:   status,
		Balance:  balance,
		MemberID: res.Member.ID,
	})
}

// AdjustPoints applies a manual admin correction.
func (h *Handler) AdjustPoints(w http.ResponseWriter, r *http.Request) {
	var req AdjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	balance, err := h.Loyalty.Adjust(r.Context(), req.toIdentifier(), loyalty.AdjustParams{
		SetTo:  req.SetTo,
		Delta:  req.Delta,
		Reason: req.Reason,
		Ref:    req.Ref,
	})
	if err != nil {
		writeDomainError(w, "Failed to adjust points", err)
		return
	}
	writeJSON(w, http.StatusOK, AdjustResponse{Success: true, Balance: balance})
}

// GetBalance returns the cached balance for a member addressed by query
// parameters (memberId, memberCode, phone, email).
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	ident := identFromQuery(r)
	res, err := h.Loyalty.Resolver.Resolve(r.Context(), ident)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to resolve member", err)
		return
	}
	if res.Outcome == loyalty.OutcomeNotFound {
		writeError(w, http.StatusNotFound, "Member not found", nil)
		return
	}

	balance, err := h.Loyalty.Reconciler.CachedBalance(r.Context(), res.Member.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read balance", err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{
		OK:       true,
		MemberID: res.Member.ID,
		Code:     res.Member.Code,
		Balance:  balance,
	})
}

// GetLedger returns a member's recent ledger entries plus the balance.
// ?limit= caps the entry count (default 50).
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	ident := identFromQuery(r)
	res, err := h.Loyalty.Resolver.Resolve(r.Context(), ident)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to resolve member", err)
		return
	}
	if res.Outcome == loyalty.OutcomeNotFound {
		writeError(w, http.StatusNotFound, "Member not found", nil)
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	entries, err := h.Store.Recent(r.Context(), res.Member.ID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read ledger", err)
		return
	}
	balance, err := h.Loyalty.Reconciler.CachedBalance(r.Context(), res.Member.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read balance", err)
		return
	}

	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = EntryDTO{
			ID:        e.ID,
			Delta:     e.Delta,
			Reason:    e.Reason,
			OrderID:   e.OrderID,
			RefKey:    e.RefKey,
			CreatedAt: e.CreatedAt.Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusOK, LedgerResponse{OK: true, Balance: balance, Entries: dtos})
}

// =============================================================================
// REFERRAL HANDLER
// =============================================================================

// AwardReferralBonus grants the referral bonus to the referrer, once per
// (code, referred member) pair.
func (h *Handler) AwardReferralBonus(w http.ResponseWriter, r *http.Request) {
	var req ReferralRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	awarded, err := h.Loyalty.AwardReferral(r.Context(), req.RefCode, req.MemberID)
	if err != nil {
		writeDomainError(w, "Failed to award referral bonus", err)
		return
	}

	points := int64(0)
	if awarded {
		points = h.Loyalty.Rules.ReferralBonus
	}
	writeJSON(w, http.StatusOK, ReferralResponse{OK: true, Awarded: awarded, Points: points})
}

// =============================================================================
// REVIEW-BONUS CLAIM (HTML)
// =============================================================================

var claimPage = template.Must(template.New("claim").Parse(`<!DOCTYPE html>
<html lang="zh-Hant">
<head><meta charset="utf-8"><title>回饋點數</title></head>
<body style="font-family: system-ui; max-width: 480px; margin: 80px auto; padding: 20px; text-align: center;">
{{if .AlreadyClaimed}}
<h1>已領取過</h1>
<p>這筆訂單的回饋點數已經領取過了。</p>
{{else if .Claimed}}
<h1>感謝您的回饋！</h1>
<p>已發送 <strong>{{.Points}}</strong> 點至您的帳戶。</p>
{{else}}
<h1>無法領取</h1>
<p>{{.Message}}</p>
{{end}}
</body>
</html>`))

type claimPageData struct {
	Claimed        bool
	AlreadyClaimed bool
	Points         int64
	Message        string
}

// ClaimReviewBonus handles the claim link opened from the review email.
// Responds with an HTML page rather than JSON.
func (h *Handler) ClaimReviewBonus(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	orderID := q.Get("orderId")
	memberID := q.Get("memberId")
	kind := loyalty.ReviewKind(q.Get("kind"))

	result, err := h.Loyalty.ClaimReviewBonus(r.Context(), orderID, memberID, kind)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	switch {
	case err == nil && result.AlreadyClaimed:
		claimPage.Execute(w, claimPageData{AlreadyClaimed: true})
	case err == nil:
		claimPage.Execute(w, claimPageData{Claimed: true, Points: result.Points})
	case errors.Is(err, ledger.ErrBonusDisabled):
		w.WriteHeader(http.StatusForbidden)
		claimPage.Execute(w, claimPageData{Message: "回饋活動目前未開放。"})
	case ledger.IsNotFound(err) || ledger.IsClientError(err):
		w.WriteHeader(http.StatusBadRequest)
		claimPage.Execute(w, claimPageData{Message: "連結無效，請確認後再試。"})
	default:
		w.WriteHeader(http.StatusInternalServerError)
		claimPage.Execute(w, claimPageData{Message: "系統忙碌中，請稍後再試。"})
	}
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// RecalculateAll rebuilds every member's balance from the ledger.
func (h *Handler) RecalculateAll(w http.ResponseWriter, r *http.Request) {
	count, err := h.Loyalty.RecalculateAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to recalculate", err)
		return
	}
	writeJSON(w, http.StatusOK, RecalculateResponse{OK: true, Members: count})
}

// GetSetting reads one settings value.
func (h *Handler) GetSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	value, err := h.Store.GetSetting(r.Context(), key)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read setting", err)
		return
	}
	writeJSON(w, http.StatusOK, SettingResponse{OK: true, Key: key, Value: value})
}

// SetSetting upserts one settings value.
func (h *Handler) SetSetting(w http.ResponseWriter, r *http.Request) {
	var req SettingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Key == "" {
		writeError(w, http.StatusBadRequest, "key required", nil)
		return
	}
	if err := h.Store.SetSetting(r.Context(), req.Key, req.Value); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save setting", err)
		return
	}
	writeJSON(w, http.StatusOK, SettingResponse{OK: true, Key: req.Key, Value: req.Value})
}

// =============================================================================
// PAYROLL HANDLER
// =============================================================================

var monthPattern = regexp.MustCompile(`^\d{4}-\d{2}$`)

// RecomputePayroll refreshes one staff member's pay record for a month.
func (h *Handler) RecomputePayroll(w http.ResponseWriter, r *http.Request) {
	var req PayrollRecomputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.StaffID == "" || !monthPattern.MatchString(req.Month) {
		writeError(w, http.StatusBadRequest, "staffId and month (YYYY-MM) required", nil)
		return
	}

	rec, err := h.Payroll.Recompute(r.Context(), req.StaffID, req.Month)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to recompute payroll", err)
		return
	}
	writeJSON(w, http.StatusOK, PayrollRecordDTO{
		OK:         true,
		StaffID:    rec.StaffID,
		Month:      rec.Month,
		Base:       rec.Base,
		Allowance:  rec.Allowance,
		Deduction:  rec.Deduction,
		Bonus:      rec.Bonus,
		Commission: rec.Commission,
		Net:        rec.Net,
	})
}

// ResetDatabase clears all data (dev only).
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// =============================================================================
// HELPERS
// =============================================================================

func (ref MemberRef) toIdentifier() loyalty.Identifier {
	return loyalty.Identifier{
		ID:    ref.MemberID,
		Code:  ref.MemberCode,
		Phone: ref.Phone,
		Email: ref.Email,
	}
}

func identFromQuery(r *http.Request) loyalty.Identifier {
	q := r.URL.Query()
	return loyalty.Identifier{
		ID:    q.Get("memberId"),
		Code:  q.Get("memberCode"),
		Phone: q.Get("phone"),
		Email: q.Get("email"),
	}
}

func toMemberDTO(m loyalty.Member) MemberDTO {
	return MemberDTO{
		ID:        m.ID,
		Code:      m.Code,
		Email:     m.Email,
		Phone:     m.Phone,
		Name:      m.Name,
		Points:    m.Points,
		CreatedAt: m.CreatedAt.Format(time.RFC3339),
	}
}

func toOrderDTO(o loyalty.Order) OrderDTO {
	items := make([]OrderItemDTO, len(o.Items))
	for i, item := range o.Items {
		items[i] = OrderItemDTO{Name: item.Name, UnitPrice: item.UnitPrice, Quantity: item.Quantity}
	}
	dto := OrderDTO{
		ID:            o.ID,
		OrderNo:       o.OrderNo,
		MemberID:      o.MemberID,
		CustomerEmail: o.CustomerEmail,
		StaffID:       o.StaffID,
		Status:        o.Status,
		Items:         items,
		Gross:         o.Gross(),
		PointsDeduct:  o.PointsDeduct,
		Net:           o.Net(),
		CreatedAt:     o.CreatedAt.Format(time.RFC3339),
	}
	if o.CompletedAt != nil {
		dto.CompletedAt = o.CompletedAt.Format(time.RFC3339)
	}
	return dto
}

func fromItemDTOs(items []OrderItemDTO) []loyalty.OrderItem {
	out := make([]loyalty.OrderItem, len(items))
	for i, item := range items {
		out[i] = loyalty.OrderItem{Name: item.Name, UnitPrice: item.UnitPrice, Quantity: item.Quantity}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{OK: false, Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps domain sentinels onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case ledger.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
