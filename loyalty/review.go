/*
review.go - Review-bonus claim

The claim awards an admin-configured number of points once per
(order, member, feedback kind) triple. The bonus amount lives in the
global settings store so operations can tune or disable it without a
deploy; a non-positive value disables the claim entirely.
*/
package loyalty

import (
	"context"
	"fmt"
	"strconv"

	"github.com/brightnest/loyalty-engine/ledger"
)

// SettingReviewBonusPoints is the settings key holding the claim amount.
const SettingReviewBonusPoints = "review_bonus_points"

// Kind-dependent ledger reasons.
const (
	ReasonReviewGood    = "好評回饋"
	ReasonReviewSuggest = "意見回饋"
)

// ClaimResult reports the outcome of a review-bonus claim.
type ClaimResult struct {
	Points         int64
	AlreadyClaimed bool
}

// ClaimReviewBonus awards the configured bonus for a review on the given
// order. One claim per (order, member, kind); repeats report
// AlreadyClaimed without re-awarding.
func (s *Service) ClaimReviewBonus(ctx context.Context, orderID, memberID string, kind ReviewKind) (ClaimResult, error) {
	if orderID == "" || memberID == "" || !kind.Valid() {
		return ClaimResult{}, fmt.Errorf("%w: orderId, memberId and kind (good|suggest) required", ledger.ErrInvalidParams)
	}

	bonus, err := s.reviewBonusPoints(ctx)
	if err != nil {
		return ClaimResult{}, err
	}
	if bonus <= 0 {
		return ClaimResult{}, ledger.ErrBonusDisabled
	}

	member, err := s.Members.Get(ctx, memberID)
	if err != nil {
		return ClaimResult{}, err
	}
	if member == nil {
		return ClaimResult{}, fmt.Errorf("%w: %s", ledger.ErrMemberNotFound, memberID)
	}

	reason := ReasonReviewGood
	if kind == ReviewSuggest {
		reason = ReasonReviewSuggest
	}

	applied, err := s.Writer.Append(ctx, ledger.Entry{
		MemberID: member.ID,
		Delta:    bonus,
		Reason:   reason,
		OrderID:  orderID,
		RefKey:   ReviewRefKey(orderID, member.ID, kind),
	})
	if err != nil {
		return ClaimResult{}, err
	}
	if !applied {
		return ClaimResult{AlreadyClaimed: true}, nil
	}
	return ClaimResult{Points: bonus}, nil
}

func (s *Service) reviewBonusPoints(ctx context.Context) (int64, error) {
	raw, err := s.Settings.GetSetting(ctx, SettingReviewBonusPoints)
	if err != nil {
		return 0, err
	}
	if raw == "" {
		return 0, nil
	}
	bonus, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s is not an integer", ledger.ErrInvalidParams, SettingReviewBonusPoints)
	}
	return bonus, nil
}
