package network

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pumpwatch/promatrix/internal/domain"
)

var runAt = time.Date(2026, 4, 7, 6, 0, 0, 0, time.UTC)

func strongPair(a, b string, tickers []string) domain.CoPromotionPair {
	return domain.CoPromotionPair{
		PromoterA:         a,
		PromoterB:         b,
		SharedTickers:     tickers,
		DumpedTickers:     tickers,
		AvgTimingGapHours: 3,
		Platforms:         []string{"telegram", "twitter"},
		AllDumped:         true,
		ConfidenceScore:   95,
	}
}

func TestBuild_SingleComponent(t *testing.T) {
	b := NewBuilder(nil, nil)

	res := b.Build([]domain.CoPromotionPair{
		strongPair("pa", "pb", []string{"ACME"}),
		strongPair("pb", "pc", []string{"BXRT"}),
	}, nil, map[string]string{"pa": "MoonshotMike", "pb": "StonkQueen"}, runAt)

	require.Len(t, res.Networks, 1)
	n := res.Networks[0]
	assert.Equal(t, []string{"pa", "pb", "pc"}, n.MemberIDs)
	assert.Equal(t, 2, n.CoPromotionCount)
	assert.Equal(t, 2, n.TotalSchemes)
	assert.Equal(t, 2, n.ConfirmedDumps)
	assert.InDelta(t, 100.0, n.DumpRate, 1e-9)
	assert.True(t, n.IsActive)
	assert.Equal(t, runAt, n.FirstDetected)
	assert.Equal(t, "MoonshotMike / StonkQueen ring", n.Name)

	// Component confidence is recomputed over combined signals, not averaged:
	// 2 tickers (40) + tight gap (25) + 2 platforms (10) + all dumped (20).
	assert.Equal(t, 95, n.ConfidenceScore)

	assert.Equal(t, n.ID, res.Membership["pa"])
	assert.Equal(t, n.ID, res.Membership["pc"])
}

func TestBuild_BelowThresholdPairsIgnored(t *testing.T) {
	b := NewBuilder(nil, nil)

	weak := domain.CoPromotionPair{
		PromoterA:         "pa",
		PromoterB:         "pb",
		SharedTickers:     []string{"ACME"},
		AvgTimingGapHours: 72,
		Platforms:         []string{"twitter"},
		ConfidenceScore:   25,
	}
	res := b.Build([]domain.CoPromotionPair{weak}, nil, nil, runAt)

	assert.Empty(t, res.Networks)
	assert.Empty(t, res.Membership)
}

func TestBuild_UnchangedMembershipKeepsIdentity(t *testing.T) {
	b := NewBuilder(nil, nil)
	pairs := []domain.CoPromotionPair{strongPair("pa", "pb", []string{"ACME"})}

	first := b.Build(pairs, nil, nil, runAt)
	require.Len(t, first.Networks, 1)

	second := b.Build(pairs, first.Networks, nil, runAt.Add(24*time.Hour))
	require.Len(t, second.Networks, 1)

	assert.Equal(t, first.Networks[0].ID, second.Networks[0].ID)
	assert.Equal(t, first.Networks[0].Name, second.Networks[0].Name)
	assert.Equal(t, first.Networks[0].FirstDetected, second.Networks[0].FirstDetected)
	assert.Equal(t, runAt.Add(24*time.Hour), second.Networks[0].LastActive)
	assert.Empty(t, second.Deactivated)
}

func TestBuild_GainedMemberUpdatesInPlace(t *testing.T) {
	b := NewBuilder(nil, nil)

	first := b.Build([]domain.CoPromotionPair{strongPair("pa", "pb", []string{"ACME"})}, nil, nil, runAt)
	require.Len(t, first.Networks, 1)

	second := b.Build([]domain.CoPromotionPair{
		strongPair("pa", "pb", []string{"ACME"}),
		strongPair("pb", "pc", []string{"BXRT"}),
	}, first.Networks, nil, runAt.Add(time.Hour))

	require.Len(t, second.Networks, 1)
	assert.Equal(t, first.Networks[0].ID, second.Networks[0].ID)
	assert.Equal(t, []string{"pa", "pb", "pc"}, second.Networks[0].MemberIDs)
}

func TestBuild_VanishedComponentDeactivated(t *testing.T) {
	b := NewBuilder(nil, nil)

	first := b.Build([]domain.CoPromotionPair{strongPair("pa", "pb", []string{"ACME"})}, nil, nil, runAt)
	require.Len(t, first.Networks, 1)

	second := b.Build(nil, first.Networks, nil, runAt.Add(time.Hour))

	assert.Empty(t, second.Networks)
	require.Len(t, second.Deactivated, 1)
	assert.Equal(t, first.Networks[0].ID, second.Deactivated[0].ID)
	assert.False(t, second.Deactivated[0].IsActive)
}

func TestBuild_ComponentSpanningTwoNetworksIsViolation(t *testing.T) {
	b := NewBuilder(nil, nil)

	prior := []domain.PromoterNetwork{
		{ID: "n1", Name: "ring one", MemberIDs: []string{"pa", "pb"}, IsActive: true, FirstDetected: runAt},
		{ID: "n2", Name: "ring two", MemberIDs: []string{"pc", "pd"}, IsActive: true, FirstDetected: runAt},
	}

	// A bridge edge would merge n1 and n2 into one component.
	res := b.Build([]domain.CoPromotionPair{
		strongPair("pa", "pb", []string{"ACME"}),
		strongPair("pc", "pd", []string{"BXRT"}),
		strongPair("pb", "pc", []string{"CGLD"}),
	}, prior, nil, runAt.Add(time.Hour))

	require.Len(t, res.Violations, 1)
	assert.Empty(t, res.Networks, "violating component excluded from updates")
	for _, m := range []string{"pa", "pb", "pc", "pd"} {
		_, excluded := res.ExcludedPromoters[m]
		assert.True(t, excluded, "member %s excluded", m)
	}
	assert.Empty(t, res.Deactivated, "networks under review are not silently deactivated")
}

func TestBuild_SplitComponentKeepsOneIdentity(t *testing.T) {
	b := NewBuilder(nil, nil)

	prior := []domain.PromoterNetwork{{
		ID: "n1", Name: "ring one",
		MemberIDs: []string{"pa", "pb", "pc", "pd"},
		IsActive:  true, FirstDetected: runAt,
	}}

	res := b.Build([]domain.CoPromotionPair{
		strongPair("pa", "pb", []string{"ACME"}),
		strongPair("pc", "pd", []string{"BXRT"}),
	}, prior, nil, runAt.Add(time.Hour))

	require.Len(t, res.Networks, 2)
	assert.Equal(t, "n1", res.Membership["pa"], "canonical-first component keeps the prior id")
	assert.NotEqual(t, "n1", res.Membership["pc"])
	assert.Empty(t, res.Violations)
}
