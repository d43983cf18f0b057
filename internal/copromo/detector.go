package copromo

import (
	"sort"
	"time"

	"github.com/pumpwatch/promatrix/internal/domain"
)

// Detector finds promoter pairs that pushed the same ticker inside a
// detection window. Candidate pairs are keyed by ticker first, so cost is the
// sum over tickers of (promoters on that ticker) squared rather than
// quadratic in the global promoter count.
type Detector struct {
	dumpThreshold float64
}

// NewDetector creates a detector. dumpThreshold is the victim-loss cutoff
// used to flag a shared ticker's scheme as a confirmed dump.
func NewDetector(dumpThreshold float64) *Detector {
	return &Detector{dumpThreshold: dumpThreshold}
}

// tickerEntry is one promoter's consolidated activity on a single ticker.
type tickerEntry struct {
	promoterID string
	firstAt    time.Time
	platforms  []string
	dumped     bool
}

// Contribution is one ticker's evidence toward a pair, produced per ticker
// partition and merged afterwards.
type Contribution struct {
	PromoterA string
	PromoterB string
	Ticker    string
	GapHours  float64
	Platforms []string
	Dumped    bool
}

// GroupByTicker buckets links by ticker so partitions can be processed
// independently. Keys are returned sorted for deterministic scheduling.
func GroupByTicker(links []domain.PromoterStockLink) (map[string][]domain.PromoterStockLink, []string) {
	groups := make(map[string][]domain.PromoterStockLink)
	for i := range links {
		groups[links[i].Ticker] = append(groups[links[i].Ticker], links[i])
	}
	tickers := make([]string, 0, len(groups))
	for t := range groups {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)
	return groups, tickers
}

// DetectTicker pairs promoters within one ticker group. Safe to run
// concurrently across tickers; groups share no state.
func (d *Detector) DetectTicker(ticker string, links []domain.PromoterStockLink) []Contribution {
	entries := d.consolidate(links)
	if len(entries) < 2 {
		return nil
	}

	var out []Contribution
	for i := 0; i < len(entries); i++ {
		for j := i + 1; j < len(entries); j++ {
			a, b := entries[i], entries[j]
			gap := a.firstAt.Sub(b.firstAt).Hours()
			if gap < 0 {
				gap = -gap
			}
			out = append(out, Contribution{
				PromoterA: a.promoterID,
				PromoterB: b.promoterID,
				Ticker:    ticker,
				GapHours:  gap,
				Platforms: unionStrings(a.platforms, b.platforms),
				Dumped:    a.dumped || b.dumped,
			})
		}
	}
	return out
}

// consolidate collapses a promoter's links on the ticker into one entry with
// the earliest first-promotion time, returned in canonical id order.
func (d *Detector) consolidate(links []domain.PromoterStockLink) []tickerEntry {
	byPromoter := make(map[string]*tickerEntry)
	for i := range links {
		link := &links[i]
		e, ok := byPromoter[link.PromoterID]
		if !ok {
			e = &tickerEntry{promoterID: link.PromoterID, firstAt: link.FirstPromotedAt}
			byPromoter[link.PromoterID] = e
		}
		if link.FirstPromotedAt.Before(e.firstAt) {
			e.firstAt = link.FirstPromotedAt
		}
		e.platforms = unionStrings(e.platforms, link.Platforms)
		if link.Resolved() && link.Outcome.VictimLossPct <= d.dumpThreshold {
			e.dumped = true
		}
	}

	entries := make([]tickerEntry, 0, len(byPromoter))
	for _, e := range byPromoter {
		entries = append(entries, *e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].promoterID < entries[j].promoterID })
	return entries
}

// Merge folds per-ticker contributions into canonical deduplicated pairs.
// Pair ids are ordered so (A,B) and (B,A) collapse, and results are sorted by
// pair key so downstream stages are order-independent.
func Merge(contributions []Contribution) []domain.CoPromotionPair {
	type acc struct {
		a, b      string
		tickers   map[string]struct{}
		dumped    map[string]struct{}
		gapSum    float64
		platforms map[string]struct{}
		allDumped bool
		count     int
	}

	pairs := make(map[string]*acc)
	for _, c := range contributions {
		a, b := c.PromoterA, c.PromoterB
		if b < a {
			a, b = b, a
		}
		key := a + "|" + b
		p, ok := pairs[key]
		if !ok {
			p = &acc{a: a, b: b, tickers: map[string]struct{}{}, dumped: map[string]struct{}{}, platforms: map[string]struct{}{}, allDumped: true}
			pairs[key] = p
		}
		p.tickers[c.Ticker] = struct{}{}
		p.gapSum += c.GapHours
		p.count++
		for _, pl := range c.Platforms {
			p.platforms[pl] = struct{}{}
		}
		if c.Dumped {
			p.dumped[c.Ticker] = struct{}{}
		} else {
			p.allDumped = false
		}
	}

	out := make([]domain.CoPromotionPair, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, domain.CoPromotionPair{
			PromoterA:         p.a,
			PromoterB:         p.b,
			SharedTickers:     sortedKeys(p.tickers),
			DumpedTickers:     sortedKeys(p.dumped),
			AvgTimingGapHours: p.gapSum / float64(p.count),
			Platforms:         sortedKeys(p.platforms),
			AllDumped:         p.allDumped,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// Detect runs the full single-threaded path: group, pair per ticker, merge.
func (d *Detector) Detect(links []domain.PromoterStockLink) []domain.CoPromotionPair {
	groups, tickers := GroupByTicker(links)
	var contributions []Contribution
	for _, t := range tickers {
		contributions = append(contributions, d.DetectTicker(t, groups[t])...)
	}
	return Merge(contributions)
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	var out []string
	for _, s := range a {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	for _, s := range b {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
