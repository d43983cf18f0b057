package domain

import (
	"time"
)

// RiskTier classifies a promoter's repeat-offender score into operator-facing bands.
type RiskTier string

const (
	TierLow            RiskTier = "LOW"
	TierMedium         RiskTier = "MEDIUM"
	TierHigh           RiskTier = "HIGH"
	TierSerialOffender RiskTier = "SERIAL_OFFENDER"
)

// Rank returns the ordinal position of the tier for transition comparisons.
func (t RiskTier) Rank() int {
	switch t {
	case TierSerialOffender:
		return 3
	case TierHigh:
		return 2
	case TierMedium:
		return 1
	default:
		return 0
	}
}

// AlertType identifies the transition that produced a PromoterAlert.
type AlertType string

const (
	AlertNewSerialOffender   AlertType = "NEW_SERIAL_OFFENDER"
	AlertRepeatOffenderActive AlertType = "REPEAT_OFFENDER_ACTIVE"
	AlertNetworkDetected     AlertType = "NETWORK_DETECTED"
	AlertNetworkActive       AlertType = "NETWORK_ACTIVE"
	AlertHighRiskPromoterNew AlertType = "HIGH_RISK_PROMOTER_NEW"
)

// Severity classifies alerts for downstream delivery policy.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Promoter is the consolidated identity aggregate across platform handles.
type Promoter struct {
	ID                  string     `json:"id" db:"id"`
	DisplayName         string     `json:"display_name" db:"display_name"`
	FirstSeen           time.Time  `json:"first_seen" db:"first_seen"`
	LastSeen            time.Time  `json:"last_seen" db:"last_seen"`
	Identities          []PromoterIdentity `json:"identities,omitempty" db:"-"`
	TotalStocksPromoted int        `json:"total_stocks_promoted" db:"total_stocks_promoted"`
	ConfirmedDumps      int        `json:"confirmed_dumps" db:"confirmed_dumps"`
	RepeatOffenderScore int        `json:"repeat_offender_score" db:"repeat_offender_score"`
	AvgVictimLoss       *float64   `json:"avg_victim_loss,omitempty" db:"avg_victim_loss"`
	NetworkID           *string    `json:"network_id,omitempty" db:"network_id"`
	IsActive            bool       `json:"is_active" db:"is_active"`
	Tier                RiskTier   `json:"tier" db:"tier"`
	Notes               string     `json:"notes,omitempty" db:"notes"`
	CreatedAt           time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at" db:"updated_at"`
}

// PromoterIdentity is a single platform handle owned by exactly one promoter.
type PromoterIdentity struct {
	ID              string     `json:"id" db:"id"`
	PromoterID      string     `json:"promoter_id" db:"promoter_id"`
	Platform        string     `json:"platform" db:"platform"`
	Username        string     `json:"username" db:"username"`
	ProfileURL      *string    `json:"profile_url,omitempty" db:"profile_url"`
	FirstSeen       time.Time  `json:"first_seen" db:"first_seen"`
	LastSeen        time.Time  `json:"last_seen" db:"last_seen"`
	IsVerified      bool       `json:"is_verified" db:"is_verified"`
	FollowerCount   *int       `json:"follower_count,omitempty" db:"follower_count"`
	AccountAgeMonths *float64  `json:"account_age_months,omitempty" db:"account_age_months"`
}

// LinkOutcome holds the resolved result of a promotion scheme. Nullable until
// the scheme resolves; immutable once set.
type LinkOutcome struct {
	PriceAtPromotion float64 `json:"price_at_promotion" db:"price_at_promotion"`
	PeakPrice        float64 `json:"peak_price" db:"peak_price"`
	PriceAfterDump   float64 `json:"price_after_dump" db:"price_after_dump"`
	PromoterGainPct  float64 `json:"promoter_gain_pct" db:"promoter_gain_pct"`
	VictimLossPct    float64 `json:"victim_loss_pct" db:"victim_loss_pct"`
}

// PromoterStockLink is evidence that a promoter pushed a ticker within a scheme.
type PromoterStockLink struct {
	ID                string       `json:"id" db:"id"`
	PromoterID        string       `json:"promoter_id" db:"promoter_id"`
	SchemeID          string       `json:"scheme_id" db:"scheme_id"`
	Ticker            string       `json:"ticker" db:"ticker"`
	FirstPromotedAt   time.Time    `json:"first_promoted_at" db:"first_promoted_at"`
	LastPromotedAt    time.Time    `json:"last_promoted_at" db:"last_promoted_at"`
	TotalPosts        int          `json:"total_posts" db:"total_posts"`
	Platforms         []string     `json:"platforms" db:"platforms"`
	AvgPromotionScore float64      `json:"avg_promotion_score" db:"avg_promotion_score"`
	EvidenceURLs      []string     `json:"evidence_urls" db:"evidence_urls"`
	Outcome           *LinkOutcome `json:"outcome,omitempty" db:"-"`
}

// Resolved reports whether the scheme behind this link has a recorded outcome.
func (l *PromoterStockLink) Resolved() bool { return l.Outcome != nil }

// PromoterNetwork is a detected cluster of coordinating promoters.
type PromoterNetwork struct {
	ID                string    `json:"id" db:"id"`
	Name              string    `json:"name" db:"name"`
	MemberIDs         []string  `json:"member_ids" db:"member_ids"`
	CoPromotionCount  int       `json:"co_promotion_count" db:"co_promotion_count"`
	AvgTimingGapHours float64   `json:"avg_timing_gap_hours" db:"avg_timing_gap_hours"`
	ConfidenceScore   int       `json:"confidence_score" db:"confidence_score"`
	TotalSchemes      int       `json:"total_schemes" db:"total_schemes"`
	ConfirmedDumps    int       `json:"confirmed_dumps" db:"confirmed_dumps"`
	DumpRate          float64   `json:"dump_rate" db:"dump_rate"`
	FirstDetected     time.Time `json:"first_detected" db:"first_detected"`
	LastActive        time.Time `json:"last_active" db:"last_active"`
	IsActive          bool      `json:"is_active" db:"is_active"`
}

// HasMember reports whether promoterID belongs to the network.
func (n *PromoterNetwork) HasMember(promoterID string) bool {
	for _, id := range n.MemberIDs {
		if id == promoterID {
			return true
		}
	}
	return false
}

// CoPromotionPair is a canonical unordered promoter pair sharing promoted tickers.
// PromoterA sorts lexically before PromoterB so (A,B) and (B,A) collapse to one record.
type CoPromotionPair struct {
	PromoterA         string   `json:"promoter_a"`
	PromoterB         string   `json:"promoter_b"`
	SharedTickers     []string `json:"shared_tickers"`
	DumpedTickers     []string `json:"dumped_tickers,omitempty"`
	AvgTimingGapHours float64  `json:"avg_timing_gap_hours"`
	Platforms         []string `json:"platforms"`
	AllDumped         bool     `json:"all_dumped"`
	ConfidenceScore   int      `json:"confidence_score"`
}

// Key returns the canonical pair key used for deduplication.
func (p *CoPromotionPair) Key() string { return p.PromoterA + "|" + p.PromoterB }

// PromoterAlert is an append-only, immutable alert event.
type PromoterAlert struct {
	ID             string    `json:"id" db:"id"`
	Type           AlertType `json:"type" db:"type"`
	Severity       Severity  `json:"severity" db:"severity"`
	Ticker         string    `json:"ticker,omitempty" db:"ticker"`
	Message        string    `json:"message" db:"message"`
	PromoterID     *string   `json:"promoter_id,omitempty" db:"promoter_id"`
	PromoterName   string    `json:"promoter_name,omitempty" db:"promoter_name"`
	NetworkID      *string   `json:"network_id,omitempty" db:"network_id"`
	NetworkName    string    `json:"network_name,omitempty" db:"network_name"`
	Score          *int      `json:"score,omitempty" db:"score"`
	PriorDumps     *int      `json:"prior_dumps,omitempty" db:"prior_dumps"`
	DedupeKey      string    `json:"dedupe_key" db:"dedupe_key"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// IdentityObservation is an upstream sighting of a platform handle, optionally
// carrying operator verification or evidence tying it to a known promoter.
type IdentityObservation struct {
	Platform         string    `json:"platform"`
	Username         string    `json:"username"`
	DisplayName      string    `json:"display_name,omitempty"`
	ProfileURL       *string   `json:"profile_url,omitempty"`
	ObservedAt       time.Time `json:"observed_at"`
	FollowerCount    *int      `json:"follower_count,omitempty"`
	AccountAgeMonths *float64  `json:"account_age_months,omitempty"`
	// VerifiedPromoterID is set when an operator has confirmed the handle
	// belongs to an existing promoter.
	VerifiedPromoterID *string  `json:"verified_promoter_id,omitempty"`
	EvidenceURLs       []string `json:"evidence_urls,omitempty"`
}
