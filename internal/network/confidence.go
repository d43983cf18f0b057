package network

import (
	"math"

	"github.com/pumpwatch/promatrix/internal/domain"
)

// ConfidenceConfig contains the weights and bands for coordination confidence.
type ConfidenceConfig struct {
	// Ticker overlap (0-40 points)
	TickerWeight float64 `yaml:"ticker_weight"` // 20 pts per shared ticker
	TickerCap    float64 `yaml:"ticker_cap"`    // 40 pts

	// Timing bands, discrete not interpolated: a tighter gap is stronger
	// coordination evidence
	TightGapHours  float64 `yaml:"tight_gap_hours"`  // < 6h
	TightBonus     int     `yaml:"tight_bonus"`      // 25 pts
	MediumGapHours float64 `yaml:"medium_gap_hours"` // < 24h
	MediumBonus    int     `yaml:"medium_bonus"`     // 15 pts
	LooseGapHours  float64 `yaml:"loose_gap_hours"`  // < 48h
	LooseBonus     int     `yaml:"loose_bonus"`      // 10 pts

	// Platform diversity (0-15 points): cross-platform coordination beats
	// same-platform reposting
	PlatformWeight float64 `yaml:"platform_weight"` // 5 pts per platform
	PlatformCap    float64 `yaml:"platform_cap"`    // 15 pts

	AllDumpedBonus int `yaml:"all_dumped_bonus"` // 20 pts

	MaxScore int `yaml:"max_score"` // 100
}

// DefaultConfidenceConfig returns the production confidence configuration.
func DefaultConfidenceConfig() *ConfidenceConfig {
	return &ConfidenceConfig{
		TickerWeight:   20.0,
		TickerCap:      40.0,
		TightGapHours:  6.0,
		TightBonus:     25,
		MediumGapHours: 24.0,
		MediumBonus:    15,
		LooseGapHours:  48.0,
		LooseBonus:     10,
		PlatformWeight: 5.0,
		PlatformCap:    15.0,
		AllDumpedBonus: 20,
		MaxScore:       100,
	}
}

// ConfidenceScorer scores how likely a pair or cluster is coordinating.
type ConfidenceScorer struct {
	config *ConfidenceConfig
}

// NewConfidenceScorer creates a confidence scorer.
func NewConfidenceScorer(config *ConfidenceConfig) *ConfidenceScorer {
	if config == nil {
		config = DefaultConfidenceConfig()
	}
	return &ConfidenceScorer{config: config}
}

// ConfidenceInputs are the aggregate coordination signals for a pair or a
// whole component.
type ConfidenceInputs struct {
	SharedTickerCount int
	AvgTimingGapHours float64
	PlatformDiversity int
	AllDumped         bool
}

// Score computes the 0-100 confidence score. Pure and total, and
// monotonically non-decreasing in each input individually.
func (s *ConfidenceScorer) Score(in ConfidenceInputs) int {
	cfg := s.config

	score := int(math.Min(float64(in.SharedTickerCount)*cfg.TickerWeight, cfg.TickerCap))

	switch {
	case in.AvgTimingGapHours < cfg.TightGapHours:
		score += cfg.TightBonus
	case in.AvgTimingGapHours < cfg.MediumGapHours:
		score += cfg.MediumBonus
	case in.AvgTimingGapHours < cfg.LooseGapHours:
		score += cfg.LooseBonus
	}

	score += int(math.Min(float64(in.PlatformDiversity)*cfg.PlatformWeight, cfg.PlatformCap))

	if in.AllDumped {
		score += cfg.AllDumpedBonus
	}

	if score > cfg.MaxScore {
		score = cfg.MaxScore
	}
	return score
}

// ScorePair fills in the pair's confidence score from its own signals.
func (s *ConfidenceScorer) ScorePair(pair *domain.CoPromotionPair) {
	pair.ConfidenceScore = s.Score(ConfidenceInputs{
		SharedTickerCount: len(pair.SharedTickers),
		AvgTimingGapHours: pair.AvgTimingGapHours,
		PlatformDiversity: len(pair.Platforms),
		AllDumped:         pair.AllDumped,
	})
}
