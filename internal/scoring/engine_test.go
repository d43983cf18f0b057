package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pumpwatch/promatrix/internal/domain"
)

func floatPtr(f float64) *float64 { return &f }

func TestScore_SerialOffenderFullHouse(t *testing.T) {
	engine := NewEngine(nil)

	bd := engine.Score(Inputs{
		TotalStocksPromoted: 5,
		ConfirmedDumps:      4,
		AvgPromotionScore:   80,
		IsInNetwork:         true,
		AccountAgeMonths:    floatPtr(3),
	})

	assert.Equal(t, 32, bd.TrackRecordScore)
	assert.Equal(t, 40, bd.VolumeScore)
	assert.Equal(t, 24, bd.IntensityScore)
	assert.Equal(t, 10, bd.NetworkBonus)
	assert.Equal(t, 10, bd.NewAccountBonus)
	assert.Equal(t, 100, bd.TotalScore, "sum of 116 caps at 100")
	assert.Equal(t, domain.TierSerialOffender, bd.Tier)
}

func TestScore_SinglePromotionLowRisk(t *testing.T) {
	engine := NewEngine(nil)

	bd := engine.Score(Inputs{
		TotalStocksPromoted: 1,
		ConfirmedDumps:      0,
		AvgPromotionScore:   20,
		IsInNetwork:         false,
		AccountAgeMonths:    nil,
	})

	assert.Equal(t, 0, bd.TrackRecordScore)
	assert.Equal(t, 10, bd.VolumeScore)
	assert.Equal(t, 6, bd.IntensityScore)
	assert.Equal(t, 0, bd.NetworkBonus)
	assert.Equal(t, 0, bd.NewAccountBonus)
	assert.Equal(t, 16, bd.TotalScore)
	assert.Equal(t, domain.TierLow, bd.Tier)
}

func TestScore_ZeroPromotionsZeroTrackRecord(t *testing.T) {
	engine := NewEngine(nil)

	// Division guard: no promotions means no track-record contribution,
	// whatever the dump count claims.
	bd := engine.Score(Inputs{TotalStocksPromoted: 0, ConfirmedDumps: 0})
	assert.Equal(t, 0, bd.TrackRecordScore)
	assert.Equal(t, 0, bd.VolumeScore)
	assert.Equal(t, 0, bd.TotalScore)
	assert.Equal(t, domain.TierLow, bd.Tier)
}

func TestScore_BoundedForAllInputs(t *testing.T) {
	engine := NewEngine(nil)

	cases := []Inputs{
		{TotalStocksPromoted: 100, ConfirmedDumps: 100, AvgPromotionScore: 100, IsInNetwork: true, AccountAgeMonths: floatPtr(0)},
		{TotalStocksPromoted: 1, ConfirmedDumps: 1, AvgPromotionScore: 0},
		{TotalStocksPromoted: 3, ConfirmedDumps: 2, AvgPromotionScore: 55.5, IsInNetwork: true},
	}

	for _, in := range cases {
		bd := engine.Score(in)
		assert.GreaterOrEqual(t, bd.TotalScore, 0)
		assert.LessOrEqual(t, bd.TotalScore, 100)
	}
}

func TestTierFor_ExactBoundaries(t *testing.T) {
	engine := NewEngine(nil)

	cases := []struct {
		score int
		tier  domain.RiskTier
	}{
		{0, domain.TierLow},
		{25, domain.TierLow},
		{26, domain.TierMedium},
		{50, domain.TierMedium},
		{51, domain.TierHigh},
		{75, domain.TierHigh},
		{76, domain.TierSerialOffender},
		{100, domain.TierSerialOffender},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.tier, engine.TierFor(tc.score), "score %d", tc.score)
	}
}

func TestScore_NewAccountCutoff(t *testing.T) {
	engine := NewEngine(nil)

	under := engine.Score(Inputs{TotalStocksPromoted: 1, AccountAgeMonths: floatPtr(5.9)})
	atCutoff := engine.Score(Inputs{TotalStocksPromoted: 1, AccountAgeMonths: floatPtr(6.0)})

	assert.Equal(t, 10, under.NewAccountBonus)
	assert.Equal(t, 0, atCutoff.NewAccountBonus, "cutoff is strictly less-than")
}

func TestScore_ComponentRounding(t *testing.T) {
	engine := NewEngine(nil)

	// 1/3 of 40 = 13.33 rounds to 13; 47 * 0.3 = 14.1 rounds to 14.
	bd := engine.Score(Inputs{TotalStocksPromoted: 3, ConfirmedDumps: 1, AvgPromotionScore: 47})
	assert.Equal(t, 13, bd.TrackRecordScore)
	assert.Equal(t, 14, bd.IntensityScore)
}
