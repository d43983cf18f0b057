package network

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pumpwatch/promatrix/internal/domain"
)

func TestConfidence_TightCluster(t *testing.T) {
	s := NewConfidenceScorer(nil)

	// Ticker contribution capped from 60 to 40; tight timing band; two
	// platforms; everything dumped.
	score := s.Score(ConfidenceInputs{
		SharedTickerCount: 3,
		AvgTimingGapHours: 4,
		PlatformDiversity: 2,
		AllDumped:         true,
	})

	assert.Equal(t, 95, score)
}

func TestConfidence_WeakPairBelowThreshold(t *testing.T) {
	s := NewConfidenceScorer(nil)

	score := s.Score(ConfidenceInputs{
		SharedTickerCount: 1,
		AvgTimingGapHours: 72,
		PlatformDiversity: 1,
		AllDumped:         false,
	})

	assert.Equal(t, 25, score)
	assert.Less(t, score, DefaultBuilderConfig().DetectionThreshold)
}

func TestConfidence_TimingBands(t *testing.T) {
	s := NewConfidenceScorer(nil)

	cases := []struct {
		gap   float64
		bonus int
	}{
		{0, 25},
		{5.9, 25},
		{6, 15},
		{23.9, 15},
		{24, 10},
		{47.9, 10},
		{48, 0},
		{500, 0},
	}

	for _, tc := range cases {
		score := s.Score(ConfidenceInputs{AvgTimingGapHours: tc.gap})
		assert.Equal(t, tc.bonus, score, "gap %.1fh", tc.gap)
	}
}

func TestConfidence_MonotoneAndBounded(t *testing.T) {
	s := NewConfidenceScorer(nil)

	prev := -1
	for tickers := 0; tickers <= 6; tickers++ {
		score := s.Score(ConfidenceInputs{SharedTickerCount: tickers, AvgTimingGapHours: 100})
		assert.GreaterOrEqual(t, score, prev, "non-decreasing in shared tickers")
		prev = score
	}

	prev = -1
	for platforms := 0; platforms <= 6; platforms++ {
		score := s.Score(ConfidenceInputs{PlatformDiversity: platforms, AvgTimingGapHours: 100})
		assert.GreaterOrEqual(t, score, prev, "non-decreasing in platform diversity")
		prev = score
	}

	max := s.Score(ConfidenceInputs{
		SharedTickerCount: 100,
		AvgTimingGapHours: 0,
		PlatformDiversity: 100,
		AllDumped:         true,
	})
	assert.Equal(t, 100, max)
}

func TestScorePair_FillsConfidence(t *testing.T) {
	s := NewConfidenceScorer(nil)

	pair := domain.CoPromotionPair{
		PromoterA:         "pa",
		PromoterB:         "pb",
		SharedTickers:     []string{"ACME", "BXRT"},
		AvgTimingGapHours: 3,
		Platforms:         []string{"telegram", "twitter"},
		AllDumped:         true,
	}
	s.ScorePair(&pair)

	assert.Equal(t, 40+25+10+20, pair.ConfidenceScore)
}
