package scoring

import (
	"math"

	"github.com/pumpwatch/promatrix/internal/domain"
)

// Engine implements the repeat-offender 100-point scoring system.
type Engine struct {
	config *Config
}

// NewEngine creates a repeat-offender scoring engine.
func NewEngine(config *Config) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	return &Engine{config: config}
}

// Config contains weights and thresholds for repeat-offender scoring.
type Config struct {
	// Track record (0-40 points): consistency of dump outcomes, not volume
	TrackRecordWeight float64 `yaml:"track_record_weight"` // 40 pts

	// Volume (0-40 points): capped so volume alone cannot max the score
	VolumePerStock float64 `yaml:"volume_per_stock"` // 10 pts per promoted stock
	VolumeCap      float64 `yaml:"volume_cap"`       // 40 pts

	// Intensity (0-30 points): how aggressively the promoter posts
	IntensityFactor float64 `yaml:"intensity_factor"` // 0.3 x avg promotion score

	// Bonuses
	NetworkBonus     int     `yaml:"network_bonus"`      // 10 pts when in a network
	NewAccountBonus  int     `yaml:"new_account_bonus"`  // 10 pts for throwaway-age accounts
	NewAccountMonths float64 `yaml:"new_account_months"` // account age cutoff, 6 months

	// Tier boundaries (inclusive lower bounds)
	SerialOffenderMin int `yaml:"serial_offender_min"` // 76
	HighMin           int `yaml:"high_min"`            // 51
	MediumMin         int `yaml:"medium_min"`          // 26

	MaxScore int `yaml:"max_score"` // 100
}

// DefaultConfig returns the production scoring configuration.
func DefaultConfig() *Config {
	return &Config{
		TrackRecordWeight: 40.0,
		VolumePerStock:    10.0,
		VolumeCap:         40.0,
		IntensityFactor:   0.3,
		NetworkBonus:      10,
		NewAccountBonus:   10,
		NewAccountMonths:  6.0,
		SerialOffenderMin: 76,
		HighMin:           51,
		MediumMin:         26,
		MaxScore:          100,
	}
}

// Inputs are the pre-validated aggregates a score is computed from.
// Callers clamp and validate before invoking: ConfirmedDumps never exceeds
// TotalStocksPromoted and AvgPromotionScore stays in [0, 100].
type Inputs struct {
	TotalStocksPromoted int
	ConfirmedDumps      int
	AvgPromotionScore   float64
	IsInNetwork         bool
	AccountAgeMonths    *float64
}

// Breakdown carries each rounded component for auditability alongside the
// capped total and resulting tier.
type Breakdown struct {
	TrackRecordScore int             `json:"track_record_score"`
	VolumeScore      int             `json:"volume_score"`
	IntensityScore   int             `json:"intensity_score"`
	NetworkBonus     int             `json:"network_bonus"`
	NewAccountBonus  int             `json:"new_account_bonus"`
	TotalScore       int             `json:"total_score"`
	Tier             domain.RiskTier `json:"tier"`
}

// Score computes the repeat-offender score breakdown. Pure and total: it never
// fails and has no side effects.
func (e *Engine) Score(in Inputs) Breakdown {
	cfg := e.config

	trackRecord := 0
	if in.TotalStocksPromoted > 0 {
		ratio := float64(in.ConfirmedDumps) / float64(in.TotalStocksPromoted)
		trackRecord = int(math.Round(ratio * cfg.TrackRecordWeight))
	}

	volume := int(math.Round(math.Min(float64(in.TotalStocksPromoted)*cfg.VolumePerStock, cfg.VolumeCap)))

	intensity := int(math.Round(in.AvgPromotionScore * cfg.IntensityFactor))

	network := 0
	if in.IsInNetwork {
		network = cfg.NetworkBonus
	}

	newAccount := 0
	if in.AccountAgeMonths != nil && *in.AccountAgeMonths < cfg.NewAccountMonths {
		newAccount = cfg.NewAccountBonus
	}

	total := trackRecord + volume + intensity + network + newAccount
	if total > cfg.MaxScore {
		total = cfg.MaxScore
	}

	return Breakdown{
		TrackRecordScore: trackRecord,
		VolumeScore:      volume,
		IntensityScore:   intensity,
		NetworkBonus:     network,
		NewAccountBonus:  newAccount,
		TotalScore:       total,
		Tier:             e.TierFor(total),
	}
}

// TierFor maps a total score onto its risk tier using inclusive lower bounds.
func (e *Engine) TierFor(score int) domain.RiskTier {
	switch {
	case score >= e.config.SerialOffenderMin:
		return domain.TierSerialOffender
	case score >= e.config.HighMin:
		return domain.TierHigh
	case score >= e.config.MediumMin:
		return domain.TierMedium
	default:
		return domain.TierLow
	}
}
