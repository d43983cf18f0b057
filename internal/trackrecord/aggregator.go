package trackrecord

import (
	"fmt"

	"github.com/pumpwatch/promatrix/internal/domain"
)

// Aggregator rolls a promoter's stock-link history up into the aggregates the
// scoring engine consumes. Recomputation is idempotent: the same link set
// always yields the same aggregates.
type Aggregator struct {
	dumpThreshold float64
}

// NewAggregator creates an aggregator with the given victim-loss dump
// threshold. A link counts as a confirmed dump when its resolved
// VictimLossPct is at or below the threshold (default -50).
func NewAggregator(dumpThreshold float64) *Aggregator {
	return &Aggregator{dumpThreshold: dumpThreshold}
}

// Aggregates is the recomputed track record for one promoter.
type Aggregates struct {
	TotalStocksPromoted int
	ConfirmedDumps      int
	AvgVictimLoss       *float64
	AvgPromotionScore   float64
}

// Recompute derives aggregates from the promoter's full link set.
// Unresolved outcomes are excluded from the loss average, not zeroed.
func (a *Aggregator) Recompute(links []domain.PromoterStockLink) Aggregates {
	tickers := make(map[string]struct{}, len(links))
	dumps := 0
	lossSum := 0.0
	lossN := 0
	promoSum := 0.0

	for i := range links {
		link := &links[i]
		tickers[link.Ticker] = struct{}{}
		promoSum += link.AvgPromotionScore
		if !link.Resolved() {
			continue
		}
		lossSum += link.Outcome.VictimLossPct
		lossN++
		if link.Outcome.VictimLossPct <= a.dumpThreshold {
			dumps++
		}
	}

	agg := Aggregates{
		TotalStocksPromoted: len(tickers),
		ConfirmedDumps:      dumps,
	}
	if lossN > 0 {
		avg := lossSum / float64(lossN)
		agg.AvgVictimLoss = &avg
	}
	if len(links) > 0 {
		agg.AvgPromotionScore = promoSum / float64(len(links))
	}
	return agg
}

// Check reports aggregate combinations that breach data consistency. Dumps
// count per resolved link while stocks count per distinct ticker, so repeated
// dumped schemes on one ticker can push dumps past the stock count; such a
// promoter needs operator review before its scores can be trusted.
func (a *Aggregator) Check(promoterID string, agg Aggregates) *domain.InvariantViolation {
	if agg.ConfirmedDumps > agg.TotalStocksPromoted {
		return &domain.InvariantViolation{
			Entity: "promoter",
			ID:     promoterID,
			Detail: fmt.Sprintf("confirmed dumps (%d) exceed promoted stocks (%d)", agg.ConfirmedDumps, agg.TotalStocksPromoted),
		}
	}
	return nil
}

// Apply writes the aggregates back onto the promoter entity.
func (a *Aggregator) Apply(p *domain.Promoter, agg Aggregates) {
	p.TotalStocksPromoted = agg.TotalStocksPromoted
	p.ConfirmedDumps = agg.ConfirmedDumps
	p.AvgVictimLoss = agg.AvgVictimLoss
}
