/*
resolver.go - Ranked member resolution with explicit auto-provisioning

PURPOSE:
  Resolves the multi-key member references the API accepts. The lookup is
  ranked - id, then code, then phone, then email - and the first match
  wins. Auto-creation is an explicit, tagged outcome rather than a silent
  side effect, so callers (and tests) can see exactly which path ran.

CODE GENERATION:
  New members get a code from the prefix pool MO..MZ plus four random
  digits, retried against a uniqueness check. After repeated collisions
  the digits fall back to a time-derived suffix.
*/
package loyalty

import (
	"context"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/brightnest/loyalty-engine/ledger"
)

// =============================================================================
// RESOLUTION OUTCOME
// =============================================================================

// Outcome tags how a resolution concluded.
type Outcome string

const (
	OutcomeFound    Outcome = "found"
	OutcomeCreated  Outcome = "created"
	OutcomeNotFound Outcome = "not_found"
)

// Resolution is the tagged result of a member lookup.
// Member is nil exactly when Outcome is OutcomeNotFound.
type Resolution struct {
	Outcome Outcome
	Member  *Member
}

// =============================================================================
// RESOLVER
// =============================================================================

// Resolver performs ranked member lookups over a MemberStore.
type Resolver struct {
	Members MemberStore
}

func NewResolver(members MemberStore) *Resolver {
	return &Resolver{Members: members}
}

// Resolve tries id, code, phone, email in that priority order.
// Returns OutcomeNotFound when nothing matches; never creates.
func (r *Resolver) Resolve(ctx context.Context, ident Identifier) (Resolution, error) {
	if ident.ID != "" {
		m, err := r.Members.Get(ctx, ident.ID)
		if err != nil {
			return Resolution{}, err
		}
		if m != nil {
			return Resolution{Outcome: OutcomeFound, Member: m}, nil
		}
	}
	if ident.Code != "" {
		m, err := r.Members.GetByCode(ctx, ident.Code)
		if err != nil {
			return Resolution{}, err
		}
		if m != nil {
			return Resolution{Outcome: OutcomeFound, Member: m}, nil
		}
	}
	if ident.Phone != "" {
		m, err := r.Members.GetByPhone(ctx, ident.Phone)
		if err != nil {
			return Resolution{}, err
		}
		if m != nil {
			return Resolution{Outcome: OutcomeFound, Member: m}, nil
		}
	}
	if ident.Email != "" {
		m, err := r.Members.GetByEmail(ctx, NormalizeEmail(ident.Email))
		if err != nil {
			return Resolution{}, err
		}
		if m != nil {
			return Resolution{Outcome: OutcomeFound, Member: m}, nil
		}
	}
	return Resolution{Outcome: OutcomeNotFound}, nil
}

// ResolveOrCreate resolves like Resolve, then lazily provisions a member
// when nothing matched and the identifier carries an email or phone (one of
// the two must be known at creation time). Without either, the result stays
// OutcomeNotFound.
func (r *Resolver) ResolveOrCreate(ctx context.Context, ident Identifier, name string) (Resolution, error) {
	res, err := r.Resolve(ctx, ident)
	if err != nil || res.Outcome == OutcomeFound {
		return res, err
	}

	email := NormalizeEmail(ident.Email)
	if email == "" && ident.Phone == "" {
		return Resolution{Outcome: OutcomeNotFound}, nil
	}

	code, err := r.GenerateCode(ctx)
	if err != nil {
		return Resolution{}, err
	}
	m := Member{
		ID:        uuid.NewString(),
		Code:      code,
		Email:     email,
		Phone:     ident.Phone,
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.Members.Create(ctx, m); err != nil {
		return Resolution{}, err
	}
	return Resolution{Outcome: OutcomeCreated, Member: &m}, nil
}

// =============================================================================
// CODE GENERATION
// =============================================================================

// codePrefixes is the second-letter pool: MO, MP, ..., MZ.
const codePrefixes = "OPQRSTUVWXYZ"

// codeAttempts bounds the random retries before the time-derived fallback.
const codeAttempts = 8

// GenerateCode produces a fresh member code of the form M[O-Z][0-9]{4},
// checked for uniqueness against the member store.
func (r *Resolver) GenerateCode(ctx context.Context) (string, error) {
	for attempt := 0; attempt < codeAttempts; attempt++ {
		code := formatCode(codePrefixes[rand.Intn(len(codePrefixes))], rand.Intn(10000))
		exists, err := r.Members.CodeExists(ctx, code)
		if err != nil {
			return "", err
		}
		if !exists {
			return code, nil
		}
	}
	// Collision storm: derive the digits from the clock instead.
	return formatCode(codePrefixes[rand.Intn(len(codePrefixes))], int(time.Now().UnixNano()%10000)), nil
}

func formatCode(prefix byte, digits int) string {
	var b strings.Builder
	b.WriteByte('M')
	b.WriteByte(prefix)
	for div := 1000; div >= 1; div /= 10 {
		b.WriteByte(byte('0' + (digits/div)%10))
	}
	return b.String()
}

// NormalizeEmail lowercases and trims an email for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// MustResolve adapts a Resolution into the (member, error) shape used by
// triggers that treat a miss as ledger.ErrMemberNotFound.
func MustResolve(res Resolution) (*Member, error) {
	if res.Outcome == OutcomeNotFound {
		return nil, ledger.ErrMemberNotFound
	}
	return res.Member, nil
}
