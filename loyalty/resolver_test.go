package loyalty_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightnest/loyalty-engine/loyalty"
	"github.com/brightnest/loyalty-engine/store/sqlite"
)

func newTestResolver(t *testing.T) (*loyalty.Resolver, *sqlite.Store) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return loyalty.NewResolver(store), store
}

func seedMember(t *testing.T, store *sqlite.Store, code, email, phone string) loyalty.Member {
	m := loyalty.Member{
		ID:        uuid.NewString(),
		Code:      code,
		Email:     email,
		Phone:     phone,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.Create(context.Background(), m))
	return m
}

// =============================================================================
// RANKED RESOLUTION
// =============================================================================

func TestResolve_PriorityOrder(t *testing.T) {
	// GIVEN: Two distinct members, one matching by id and one by email
	// WHEN: An identifier carries both keys
	// THEN: The id match wins; lower-ranked keys are never consulted

	resolver, store := newTestResolver(t)
	ctx := context.Background()

	byID := seedMember(t, store, "MO0001", "one@example.com", "")
	byEmail := seedMember(t, store, "MO0002", "two@example.com", "")

	res, err := resolver.Resolve(ctx, loyalty.Identifier{ID: byID.ID, Email: byEmail.Email})
	require.NoError(t, err)
	assert.Equal(t, loyalty.OutcomeFound, res.Outcome)
	assert.Equal(t, byID.ID, res.Member.ID)
}

func TestResolve_CodeBeatsPhoneBeatsEmail(t *testing.T) {
	resolver, store := newTestResolver(t)
	ctx := context.Background()

	byCode := seedMember(t, store, "MO0001", "", "")
	byPhone := seedMember(t, store, "MO0002", "", "0911222333")
	byEmail := seedMember(t, store, "MO0003", "mail@example.com", "")

	res, err := resolver.Resolve(ctx, loyalty.Identifier{
		Code: byCode.Code, Phone: byPhone.Phone, Email: byEmail.Email,
	})
	require.NoError(t, err)
	assert.Equal(t, byCode.ID, res.Member.ID)

	res, err = resolver.Resolve(ctx, loyalty.Identifier{
		Phone: byPhone.Phone, Email: byEmail.Email,
	})
	require.NoError(t, err)
	assert.Equal(t, byPhone.ID, res.Member.ID)
}

func TestResolve_NothingMatches(t *testing.T) {
	resolver, _ := newTestResolver(t)

	res, err := resolver.Resolve(context.Background(), loyalty.Identifier{Email: "ghost@example.com"})
	require.NoError(t, err)
	assert.Equal(t, loyalty.OutcomeNotFound, res.Outcome)
	assert.Nil(t, res.Member)
}

func TestResolve_EmailIsNormalized(t *testing.T) {
	// GIVEN: A member stored with a lowercase email
	// WHEN: Resolution receives a mixed-case, padded variant
	// THEN: The member is still found

	resolver, store := newTestResolver(t)
	m := seedMember(t, store, "MO0001", "alice@example.com", "")

	res, err := resolver.Resolve(context.Background(), loyalty.Identifier{Email: "  Alice@Example.COM "})
	require.NoError(t, err)
	assert.Equal(t, loyalty.OutcomeFound, res.Outcome)
	assert.Equal(t, m.ID, res.Member.ID)
}

// =============================================================================
// AUTO-PROVISIONING
// =============================================================================

func TestResolveOrCreate_ProvisionsWithGeneratedCode(t *testing.T) {
	// GIVEN: No member matches the email
	// WHEN: ResolveOrCreate runs
	// THEN: OutcomeCreated with a fresh M[O-Z]#### code

	resolver, store := newTestResolver(t)
	ctx := context.Background()

	res, err := resolver.ResolveOrCreate(ctx, loyalty.Identifier{Email: "New@Example.com"}, "New Member")
	require.NoError(t, err)
	assert.Equal(t, loyalty.OutcomeCreated, res.Outcome)
	assert.Regexp(t, `^M[O-Z]\d{4}$`, res.Member.Code)
	assert.Equal(t, "new@example.com", res.Member.Email, "stored normalized")

	// Durable, and a second call finds rather than re-creates.
	again, err := resolver.ResolveOrCreate(ctx, loyalty.Identifier{Email: "new@example.com"}, "")
	require.NoError(t, err)
	assert.Equal(t, loyalty.OutcomeFound, again.Outcome)
	assert.Equal(t, res.Member.ID, again.Member.ID)

	members, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, members, 1)
}

func TestResolveOrCreate_RequiresEmailOrPhone(t *testing.T) {
	// GIVEN: An identifier carrying only an id and a code
	// WHEN: Nothing matches
	// THEN: No member is invented out of thin air

	resolver, store := newTestResolver(t)
	ctx := context.Background()

	res, err := resolver.ResolveOrCreate(ctx, loyalty.Identifier{ID: "nope", Code: "MZ9999"}, "")
	require.NoError(t, err)
	assert.Equal(t, loyalty.OutcomeNotFound, res.Outcome)

	members, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestResolveOrCreate_PhoneOnlyIsEnough(t *testing.T) {
	resolver, _ := newTestResolver(t)

	res, err := resolver.ResolveOrCreate(context.Background(), loyalty.Identifier{Phone: "0911000111"}, "")
	require.NoError(t, err)
	assert.Equal(t, loyalty.OutcomeCreated, res.Outcome)
	assert.Equal(t, "0911000111", res.Member.Phone)
}

// =============================================================================
// CODE GENERATION
// =============================================================================

func TestGenerateCode_FormatAndUniqueness(t *testing.T) {
	resolver, _ := newTestResolver(t)
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		code, err := resolver.GenerateCode(ctx)
		require.NoError(t, err)
		assert.Regexp(t, `^M[O-Z]\d{4}$`, code)
		seen[code] = true
	}
	// 50 draws from a 120k space; collisions would point at a broken RNG.
	assert.Greater(t, len(seen), 45)
}
