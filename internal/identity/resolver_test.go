package identity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pumpwatch/promatrix/internal/domain"
)

var (
	t0 = time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	t1 = time.Date(2026, 2, 5, 10, 0, 0, 0, time.UTC)
	t2 = time.Date(2026, 2, 9, 10, 0, 0, 0, time.UTC)
)

func seedPromoter(id, platform, username string) *domain.Promoter {
	return &domain.Promoter{
		ID:          id,
		DisplayName: username,
		FirstSeen:   t0,
		LastSeen:    t1,
		IsActive:    true,
		Tier:        domain.TierLow,
		Identities: []domain.PromoterIdentity{{
			ID:         id + "-ident",
			PromoterID: id,
			Platform:   platform,
			Username:   username,
			FirstSeen:  t0,
			LastSeen:   t1,
		}},
	}
}

func TestResolve_UnknownHandleCreatesPromoter(t *testing.T) {
	r := NewResolver(nil, nil)

	res := r.Resolve(domain.IdentityObservation{
		Platform:   "twitter",
		Username:   "moonshot_mike",
		ObservedAt: t1,
	})

	assert.True(t, res.Created)
	assert.Equal(t, "moonshot_mike", res.Promoter.DisplayName)
	assert.Equal(t, res.Promoter.ID, res.Identity.PromoterID)
	assert.False(t, res.Identity.IsVerified)
}

func TestResolve_KnownHandleReused(t *testing.T) {
	p := seedPromoter("p1", "twitter", "moonshot_mike")
	r := NewResolver([]*domain.Promoter{p}, nil)

	res := r.Resolve(domain.IdentityObservation{
		Platform:   "Twitter", // case-insensitive handle match
		Username:   "Moonshot_Mike",
		ObservedAt: t2,
	})

	assert.False(t, res.Created)
	assert.Equal(t, "p1", res.Promoter.ID)

	final := r.Finalize(nil)
	require.Len(t, final, 1)
	assert.Equal(t, t2, final[0].LastSeen, "last seen widened to new observation")
	assert.Equal(t, t0, final[0].FirstSeen)
}

func TestResolve_VerifiedAttachesToExistingPromoter(t *testing.T) {
	p := seedPromoter("p1", "twitter", "moonshot_mike")
	r := NewResolver([]*domain.Promoter{p}, nil)

	target := "p1"
	res := r.Resolve(domain.IdentityObservation{
		Platform:           "discord",
		Username:           "mike#4411",
		ObservedAt:         t2,
		VerifiedPromoterID: &target,
	})

	assert.True(t, res.Attached)
	assert.False(t, res.Created)
	assert.Equal(t, "p1", res.Promoter.ID)
	assert.True(t, res.Identity.IsVerified)

	final := r.Finalize(nil)
	require.Len(t, final, 1)
	assert.Len(t, final[0].Identities, 2)
}

func TestResolve_EvidenceURLAttaches(t *testing.T) {
	p := seedPromoter("p1", "twitter", "moonshot_mike")
	links := []domain.PromoterStockLink{{
		ID:           "l1",
		PromoterID:   "p1",
		Ticker:       "ACME",
		EvidenceURLs: []string{"https://t.me/pumproom/812"},
	}}
	r := NewResolver([]*domain.Promoter{p}, links)

	res := r.Resolve(domain.IdentityObservation{
		Platform:     "telegram",
		Username:     "pump_mike",
		ObservedAt:   t2,
		EvidenceURLs: []string{"https://t.me/pumproom/812/"},
	})

	assert.True(t, res.Attached)
	assert.Equal(t, "p1", res.Promoter.ID)
}

func TestResolve_NoFuzzyMatching(t *testing.T) {
	p := seedPromoter("p1", "twitter", "moonshot_mike")
	r := NewResolver([]*domain.Promoter{p}, nil)

	// Near-identical username on another platform, but no verification and no
	// shared evidence: must become a separate promoter.
	res := r.Resolve(domain.IdentityObservation{
		Platform:   "stocktwits",
		Username:   "moonshot_mike1",
		ObservedAt: t2,
	})

	assert.True(t, res.Created)
	assert.NotEqual(t, "p1", res.Promoter.ID)
}

func TestResolve_ReattributionMovesOwnership(t *testing.T) {
	a := seedPromoter("pa", "twitter", "moonshot_mike")
	b := seedPromoter("pb", "discord", "mike#4411")
	r := NewResolver([]*domain.Promoter{a, b}, nil)

	target := "pb"
	res := r.Resolve(domain.IdentityObservation{
		Platform:           "twitter",
		Username:           "moonshot_mike",
		ObservedAt:         t2,
		VerifiedPromoterID: &target,
	})

	assert.Equal(t, "pb", res.Promoter.ID)

	final := r.Finalize(nil)
	byID := map[string]*domain.Promoter{}
	for _, p := range final {
		byID[p.ID] = p
	}
	assert.Empty(t, byID["pa"].Identities, "identity moved, not duplicated")
	assert.Len(t, byID["pb"].Identities, 2)
}

func TestRecomputeSeen_CoversLinks(t *testing.T) {
	p := seedPromoter("p1", "twitter", "moonshot_mike")
	late := t2.Add(48 * time.Hour)
	RecomputeSeen(p, domain.PromoterStockLink{
		PromoterID:      "p1",
		Ticker:          "ACME",
		FirstPromotedAt: t0.Add(-24 * time.Hour),
		LastPromotedAt:  late,
	})

	assert.Equal(t, t0.Add(-24*time.Hour), p.FirstSeen)
	assert.Equal(t, late, p.LastSeen)
}
