package network

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/pumpwatch/promatrix/internal/domain"
)

// BuilderConfig contains network construction thresholds.
type BuilderConfig struct {
	// DetectionThreshold is the minimum pair confidence for an edge to enter
	// the cluster graph.
	DetectionThreshold int `yaml:"detection_threshold"` // 50
}

// DefaultBuilderConfig returns the production builder configuration.
func DefaultBuilderConfig() *BuilderConfig {
	return &BuilderConfig{DetectionThreshold: 50}
}

// Builder clusters scored co-promotion pairs into promoter networks.
type Builder struct {
	config *BuilderConfig
	scorer *ConfidenceScorer
}

// NewBuilder creates a network builder using the given confidence scorer for
// component-level score recomputation.
func NewBuilder(config *BuilderConfig, scorer *ConfidenceScorer) *Builder {
	if config == nil {
		config = DefaultBuilderConfig()
	}
	if scorer == nil {
		scorer = NewConfidenceScorer(nil)
	}
	return &Builder{config: config, scorer: scorer}
}

// BuildResult is the outcome of one clustering pass.
type BuildResult struct {
	// Networks are the active networks after this pass: prior networks
	// updated in place plus newly detected ones.
	Networks []domain.PromoterNetwork
	// Deactivated are prior active networks whose component no longer exists.
	Deactivated []domain.PromoterNetwork
	// Membership maps promoter id to its active network id.
	Membership map[string]string
	// Violations are data-consistency errors needing operator review.
	Violations []*domain.InvariantViolation
	// ExcludedPromoters are members of violating components; they receive no
	// score or alert updates this run.
	ExcludedPromoters map[string]struct{}
}

// component is one connected cluster of qualifying edges.
type component struct {
	members map[string]struct{}
	edges   []domain.CoPromotionPair
}

// Build clusters qualifying pairs into connected components and reconciles
// them against the prior networks. Names is an optional promoter id to
// display-name lookup used when christening new networks.
func (b *Builder) Build(pairs []domain.CoPromotionPair, prior []domain.PromoterNetwork, names map[string]string, runAt time.Time) BuildResult {
	result := BuildResult{
		Membership:        make(map[string]string),
		ExcludedPromoters: make(map[string]struct{}),
	}

	components := b.cluster(pairs)

	priorByID := make(map[string]*domain.PromoterNetwork, len(prior))
	memberToPrior := make(map[string]string)
	for i := range prior {
		n := &prior[i]
		if !n.IsActive {
			continue
		}
		priorByID[n.ID] = n
		for _, m := range n.MemberIDs {
			memberToPrior[m] = n.ID
		}
	}

	claimed := make(map[string]bool)
	matched := make(map[string]bool)

	for _, comp := range components {
		members := sortedKeys(comp.members)

		priorIDs := make(map[string]int)
		for _, m := range members {
			if id, ok := memberToPrior[m]; ok {
				priorIDs[id]++
			}
		}

		if len(priorIDs) > 1 {
			// One component spanning two active networks means a promoter
			// would carry two network ids. Surface it, exclude the members.
			ids := make([]string, 0, len(priorIDs))
			for id := range priorIDs {
				ids = append(ids, id)
				matched[id] = true
			}
			sort.Strings(ids)
			v := &domain.InvariantViolation{
				Entity: "network",
				ID:     ids[0],
				Detail: fmt.Sprintf("component of %d promoters spans %d active networks %v", len(members), len(ids), ids),
			}
			result.Violations = append(result.Violations, v)
			for _, m := range members {
				result.ExcludedPromoters[m] = struct{}{}
			}
			log.Warn().Strs("networks", ids).Int("members", len(members)).Msg("network component spans multiple active networks")
			continue
		}

		net := b.aggregate(comp, members, runAt)

		var reuse *domain.PromoterNetwork
		for id := range priorIDs {
			if !claimed[id] {
				reuse = priorByID[id]
			}
			matched[id] = true
		}

		if reuse != nil {
			claimed[reuse.ID] = true
			net.ID = reuse.ID
			net.Name = reuse.Name
			net.FirstDetected = reuse.FirstDetected
		} else {
			net.ID = uuid.NewString()
			net.Name = networkName(members, names)
			net.FirstDetected = runAt
		}

		result.Networks = append(result.Networks, net)
		for _, m := range members {
			result.Membership[m] = net.ID
		}
	}

	for _, n := range prior {
		if !n.IsActive || matched[n.ID] {
			continue
		}
		inactive := n
		inactive.IsActive = false
		result.Deactivated = append(result.Deactivated, inactive)
	}

	sort.Slice(result.Networks, func(i, j int) bool { return result.Networks[i].ID < result.Networks[j].ID })
	return result
}

// cluster runs union-find over qualifying edges and returns components in
// canonical order (by smallest member id).
func (b *Builder) cluster(pairs []domain.CoPromotionPair) []component {
	var edges []domain.CoPromotionPair
	for _, p := range pairs {
		if p.ConfidenceScore >= b.config.DetectionThreshold {
			edges = append(edges, p)
		}
	}
	if len(edges) == 0 {
		return nil
	}

	index := make(map[string]int)
	var ids []string
	idx := func(id string) int {
		if i, ok := index[id]; ok {
			return i
		}
		i := len(ids)
		index[id] = i
		ids = append(ids, id)
		return i
	}

	for _, e := range edges {
		idx(e.PromoterA)
		idx(e.PromoterB)
	}

	uf := newUnionFind(len(ids))
	for _, e := range edges {
		uf.union(index[e.PromoterA], index[e.PromoterB])
	}

	byRoot := make(map[int]*component)
	for i, id := range ids {
		root := uf.find(i)
		c, ok := byRoot[root]
		if !ok {
			c = &component{members: make(map[string]struct{})}
			byRoot[root] = c
		}
		c.members[id] = struct{}{}
	}
	for _, e := range edges {
		root := uf.find(index[e.PromoterA])
		byRoot[root].edges = append(byRoot[root].edges, e)
	}

	components := make([]component, 0, len(byRoot))
	for _, c := range byRoot {
		components = append(components, *c)
	}
	sort.Slice(components, func(i, j int) bool {
		return minKey(components[i].members) < minKey(components[j].members)
	})
	return components
}

// aggregate derives network fields from the component's combined signals. The
// component confidence is recomputed through the full formula instead of
// averaging edge scores, so strong evidence is not diluted by weak edges.
func (b *Builder) aggregate(comp component, members []string, runAt time.Time) domain.PromoterNetwork {
	tickers := make(map[string]struct{})
	dumped := make(map[string]struct{})
	platforms := make(map[string]struct{})
	allDumped := true
	coPromotions := 0
	gapWeightedSum := 0.0
	gapWeight := 0.0

	for _, e := range comp.edges {
		for _, t := range e.SharedTickers {
			tickers[t] = struct{}{}
		}
		for _, t := range e.DumpedTickers {
			dumped[t] = struct{}{}
		}
		for _, p := range e.Platforms {
			platforms[p] = struct{}{}
		}
		if !e.AllDumped {
			allDumped = false
		}
		coPromotions += len(e.SharedTickers)
		w := float64(len(e.SharedTickers))
		gapWeightedSum += e.AvgTimingGapHours * w
		gapWeight += w
	}

	avgGap := 0.0
	if gapWeight > 0 {
		avgGap = gapWeightedSum / gapWeight
	}

	confidence := b.scorer.Score(ConfidenceInputs{
		SharedTickerCount: len(tickers),
		AvgTimingGapHours: avgGap,
		PlatformDiversity: len(platforms),
		AllDumped:         allDumped,
	})

	totalSchemes := len(tickers)
	dumpRate := 0.0
	if totalSchemes > 0 {
		dumpRate = float64(len(dumped)) / float64(totalSchemes) * 100.0
	}

	return domain.PromoterNetwork{
		MemberIDs:         members,
		CoPromotionCount:  coPromotions,
		AvgTimingGapHours: avgGap,
		ConfidenceScore:   confidence,
		TotalSchemes:      totalSchemes,
		ConfirmedDumps:    len(dumped),
		DumpRate:          dumpRate,
		LastActive:        runAt,
		IsActive:          true,
	}
}

func networkName(members []string, names map[string]string) string {
	label := func(id string) string {
		if n, ok := names[id]; ok && n != "" {
			return n
		}
		if len(id) > 8 {
			return id[:8]
		}
		return id
	}
	if len(members) >= 2 {
		return fmt.Sprintf("%s / %s ring", label(members[0]), label(members[1]))
	}
	return fmt.Sprintf("%s ring", label(members[0]))
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func minKey(m map[string]struct{}) string {
	min := ""
	for k := range m {
		if min == "" || k < min {
			min = k
		}
	}
	return min
}
