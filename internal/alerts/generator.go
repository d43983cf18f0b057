package alerts

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pumpwatch/promatrix/internal/domain"
	"github.com/pumpwatch/promatrix/internal/scoring"
)

// Config contains alert generation thresholds.
type Config struct {
	// NewPromoterDays bounds how recently a promoter must have been first
	// seen to count as brand-new.
	NewPromoterDays int `yaml:"new_promoter_days"` // 30
	// NetworkThreshold is the minimum network confidence for network alerts.
	NetworkThreshold int `yaml:"network_threshold"` // 50
}

// DefaultConfig returns the production alert configuration.
func DefaultConfig() *Config {
	return &Config{
		NewPromoterDays:  30,
		NetworkThreshold: 50,
	}
}

// History answers whether an alert dedupe key was already emitted. Backed by
// the external alert store; the generator holds no state of its own.
type History interface {
	Seen(dedupeKey string) bool
}

// PromoterTransition is one promoter's prior vs current state for this run.
type PromoterTransition struct {
	Promoter       *domain.Promoter
	Breakdown      scoring.Breakdown
	PriorKnown     bool
	PriorTier      domain.RiskTier
	NewLinkTickers []string // tickers newly linked to the promoter this run
}

// NetworkTransition is one network's prior vs current state for this run.
type NetworkTransition struct {
	Network     domain.PromoterNetwork
	PriorKnown  bool
	PriorActive bool
}

// Generator diffs computed state against prior state and emits typed alerts.
type Generator struct {
	config *Config
}

// NewGenerator creates an alert generator.
func NewGenerator(config *Config) *Generator {
	if config == nil {
		config = DefaultConfig()
	}
	return &Generator{config: config}
}

// SeverityFor maps an alert type to its delivery severity. The switch is
// exhaustive over the closed alert type set.
func SeverityFor(t domain.AlertType) domain.Severity {
	switch t {
	case domain.AlertNewSerialOffender:
		return domain.SeverityCritical
	case domain.AlertRepeatOffenderActive:
		return domain.SeverityHigh
	case domain.AlertNetworkDetected:
		return domain.SeverityHigh
	case domain.AlertNetworkActive:
		return domain.SeverityMedium
	case domain.AlertHighRiskPromoterNew:
		return domain.SeverityMedium
	}
	return domain.SeverityLow
}

// Generate produces the alerts for one detection run. Emission is idempotent:
// keys already present in history are skipped, and re-running on unchanged
// state produces no transitions in the first place.
func (g *Generator) Generate(runAt time.Time, promoters []PromoterTransition, networks []NetworkTransition, history History) []domain.PromoterAlert {
	var out []domain.PromoterAlert

	emit := func(a domain.PromoterAlert) {
		if history != nil && history.Seen(a.DedupeKey) {
			return
		}
		a.ID = uuid.NewString()
		a.Severity = SeverityFor(a.Type)
		a.CreatedAt = runAt
		out = append(out, a)
	}

	for _, tr := range promoters {
		p := tr.Promoter
		score := tr.Breakdown.TotalScore
		dumps := p.ConfirmedDumps

		if tr.Breakdown.Tier == domain.TierSerialOffender && (!tr.PriorKnown || tr.PriorTier.Rank() < domain.TierSerialOffender.Rank()) {
			emit(domain.PromoterAlert{
				Type:         domain.AlertNewSerialOffender,
				Message:      fmt.Sprintf("%s crossed into serial-offender territory with score %d (%d confirmed dumps across %d stocks)", p.DisplayName, score, dumps, p.TotalStocksPromoted),
				PromoterID:   &p.ID,
				PromoterName: p.DisplayName,
				Score:        &score,
				PriorDumps:   &dumps,
				DedupeKey:    dedupeKey(domain.AlertNewSerialOffender, p.ID, ""),
			})
		}

		if tr.PriorKnown && tr.PriorTier.Rank() >= domain.TierHigh.Rank() {
			for _, ticker := range tr.NewLinkTickers {
				emit(domain.PromoterAlert{
					Type:         domain.AlertRepeatOffenderActive,
					Ticker:       ticker,
					Message:      fmt.Sprintf("%s (%s, score %d, %d prior dumps) is promoting %s", p.DisplayName, tr.PriorTier, score, dumps, ticker),
					PromoterID:   &p.ID,
					PromoterName: p.DisplayName,
					Score:        &score,
					PriorDumps:   &dumps,
					DedupeKey:    dedupeKey(domain.AlertRepeatOffenderActive, p.ID, ticker),
				})
			}
		}

		if !tr.PriorKnown &&
			tr.Breakdown.Tier.Rank() >= domain.TierMedium.Rank() &&
			runAt.Sub(p.FirstSeen) <= time.Duration(g.config.NewPromoterDays)*24*time.Hour {
			emit(domain.PromoterAlert{
				Type:         domain.AlertHighRiskPromoterNew,
				Message:      fmt.Sprintf("new promoter %s scored %d (%s) on first scoring, first seen %s", p.DisplayName, score, tr.Breakdown.Tier, p.FirstSeen.Format("2006-01-02")),
				PromoterID:   &p.ID,
				PromoterName: p.DisplayName,
				Score:        &score,
				DedupeKey:    dedupeKey(domain.AlertHighRiskPromoterNew, p.ID, ""),
			})
		}
	}

	for _, tr := range networks {
		n := tr.Network
		if !n.IsActive || n.ConfidenceScore < g.config.NetworkThreshold {
			continue
		}
		conf := n.ConfidenceScore
		dumps := n.ConfirmedDumps

		switch {
		case !tr.PriorKnown:
			emit(domain.PromoterAlert{
				Type:        domain.AlertNetworkDetected,
				Message:     fmt.Sprintf("network %q detected: %d members, confidence %d, %d of %d schemes dumped", n.Name, len(n.MemberIDs), conf, dumps, n.TotalSchemes),
				NetworkID:   &n.ID,
				NetworkName: n.Name,
				Score:       &conf,
				PriorDumps:  &dumps,
				DedupeKey:   dedupeKey(domain.AlertNetworkDetected, n.ID, ""),
			})
		case !tr.PriorActive:
			emit(domain.PromoterAlert{
				Type:        domain.AlertNetworkActive,
				Message:     fmt.Sprintf("network %q is active again: %d members, confidence %d", n.Name, len(n.MemberIDs), conf),
				NetworkID:   &n.ID,
				NetworkName: n.Name,
				Score:       &conf,
				PriorDumps:  &dumps,
				DedupeKey:   dedupeKey(domain.AlertNetworkActive, n.ID, fmt.Sprintf("run-%s", runAt.UTC().Format("20060102T150405"))),
			})
		}
	}

	return out
}

func dedupeKey(t domain.AlertType, subjectID, qualifier string) string {
	if qualifier == "" {
		return fmt.Sprintf("%s|%s", t, subjectID)
	}
	return fmt.Sprintf("%s|%s|%s", t, subjectID, qualifier)
}
