package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/pumpwatch/promatrix/internal/alerts"
	"github.com/pumpwatch/promatrix/internal/breakers"
	"github.com/pumpwatch/promatrix/internal/cache"
	"github.com/pumpwatch/promatrix/internal/config"
	"github.com/pumpwatch/promatrix/internal/copromo"
	"github.com/pumpwatch/promatrix/internal/domain"
	"github.com/pumpwatch/promatrix/internal/identity"
	"github.com/pumpwatch/promatrix/internal/ingest"
	"github.com/pumpwatch/promatrix/internal/metrics"
	"github.com/pumpwatch/promatrix/internal/network"
	"github.com/pumpwatch/promatrix/internal/persistence"
	"github.com/pumpwatch/promatrix/internal/runlock"
	"github.com/pumpwatch/promatrix/internal/scoring"
	"github.com/pumpwatch/promatrix/internal/trackrecord"
)

const statusCacheKey = "promatrix:lastrun"

// alertHistoryWindow bounds how far back previously emitted dedupe keys are
// loaded. Older alerts than this never collide with new keys in practice.
const alertHistoryWindow = 120 * 24 * time.Hour

// Pipeline runs one full detection pass: ingest, identity resolution, track
// records, scoring, pair detection, network clustering, alerting, and a single
// atomic save.
type Pipeline struct {
	cfg     *config.Config
	store   persistence.Store
	metrics *metrics.Registry
	lock    *runlock.Lock // nil disables run locking
	status  cache.Cache   // nil disables status caching

	engine     *scoring.Engine
	aggregator *trackrecord.Aggregator
	detector   *copromo.Detector
	builder    *network.Builder
	generator  *alerts.Generator

	storeBreaker *breakers.Breaker
}

// New wires a pipeline from configuration. Lock and status cache are optional.
func New(cfg *config.Config, store persistence.Store, reg *metrics.Registry, lock *runlock.Lock, status cache.Cache) *Pipeline {
	scorer := network.NewConfidenceScorer(&cfg.Confidence)
	return &Pipeline{
		cfg:          cfg,
		store:        store,
		metrics:      reg,
		lock:         lock,
		status:       status,
		engine:       scoring.NewEngine(&cfg.Scoring),
		aggregator:   trackrecord.NewAggregator(cfg.Detection.DumpThreshold),
		detector:     copromo.NewDetector(cfg.Detection.DumpThreshold),
		builder:      network.NewBuilder(&cfg.Networks, scorer),
		generator:    alerts.NewGenerator(&cfg.Alerts),
		storeBreaker: breakers.New("store"),
	}
}

// priorState is a promoter's persisted state before this run touches it.
type priorState struct {
	tier      domain.RiskTier
	score     int
	networkID *string
}

type storeHistory struct{ keys map[string]struct{} }

func (h storeHistory) Seen(key string) bool {
	_, ok := h.keys[key]
	return ok
}

// Run executes one detection pass over the batch and returns the persisted
// snapshot. The batch may be empty; prior links are still re-aggregated,
// re-scored, and re-clustered, which keeps runs idempotent.
func (p *Pipeline) Run(ctx context.Context, batch *ingest.Batch) (*persistence.RunSnapshot, error) {
	runAt := time.Now().UTC()
	if batch == nil {
		batch = &ingest.Batch{}
	}

	if p.lock != nil {
		release, err := p.lock.Acquire(ctx)
		if err != nil {
			if err == runlock.ErrHeld {
				return nil, err
			}
			return nil, fmt.Errorf("failed to acquire run lock: %w", err)
		}
		defer release()
	}

	snap, err := p.run(ctx, batch, runAt)
	if err != nil {
		p.metrics.RunsTotal.WithLabelValues("failure").Inc()
		return nil, err
	}
	p.metrics.RunsTotal.WithLabelValues("success").Inc()
	return snap, nil
}

func (p *Pipeline) run(ctx context.Context, batch *ingest.Batch, runAt time.Time) (*persistence.RunSnapshot, error) {
	runID := uuid.NewString()
	logger := log.With().Str("run_id", runID).Logger()
	logger.Info().Int("batch_links", len(batch.Links)).Int("batch_identities", len(batch.Identities)).Msg("detection run started")

	totalTimer := time.Now()

	// Load phase. All reads go through the circuit breaker so a failing
	// database trips fast instead of hammering it once per stage.
	loadTimer := time.Now()
	var (
		promoters []*domain.Promoter
		links     []domain.PromoterStockLink
		networks  []domain.PromoterNetwork
		seenKeys  map[string]struct{}
	)
	err := p.storeBreaker.Do(func() error {
		var err error
		if promoters, err = p.store.LoadPromoters(ctx); err != nil {
			return fmt.Errorf("load promoters: %w", err)
		}
		if links, err = p.store.LoadLinks(ctx, persistence.TimeRange{To: runAt}); err != nil {
			return fmt.Errorf("load links: %w", err)
		}
		if networks, err = p.store.LoadNetworks(ctx); err != nil {
			return fmt.Errorf("load networks: %w", err)
		}
		if seenKeys, err = p.store.LoadAlertKeys(ctx, runAt.Add(-alertHistoryWindow)); err != nil {
			return fmt.Errorf("load alert keys: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	p.metrics.RunDuration.WithLabelValues("load").Observe(time.Since(loadTimer).Seconds())

	prior := make(map[string]priorState, len(promoters))
	for _, pr := range promoters {
		prior[pr.ID] = priorState{tier: pr.Tier, score: pr.RepeatOffenderScore, networkID: pr.NetworkID}
	}
	priorMembership := activeMembership(networks)

	// Ingest phase: resolve identities, merge link evidence into the
	// working set. Invalid records are skipped and counted, never fatal.
	ingestTimer := time.Now()
	resolver := identity.NewResolver(promoters, links)
	skipped := 0

	for i := range batch.Identities {
		obs := batch.Identities[i]
		if verr := ingest.ValidateObservation(&obs); verr != nil {
			skipped++
			logger.Warn().Str("field", verr.Field).Str("reason", verr.Reason).Msg("skipping identity observation")
			continue
		}
		resolver.Resolve(obs)
	}

	linkIndex := make(map[string]int, len(links))
	for i := range links {
		linkIndex[links[i].ID] = i
	}
	newTickers := make(map[string]map[string]struct{}) // promoter id -> new tickers this run

	for i := range batch.Links {
		rec := batch.Links[i]
		if verr := ingest.ValidateLink(&rec); verr != nil {
			skipped++
			logger.Warn().Str("field", verr.Field).Str("reason", verr.Reason).Str("ticker", rec.Ticker).Msg("skipping link record")
			continue
		}
		res := resolver.Resolve(rec.Observation())
		id := ingest.LinkID(res.Promoter.ID, rec.SchemeID, rec.Ticker)

		if idx, ok := linkIndex[id]; ok {
			mergeLink(&links[idx], &rec)
			continue
		}
		links = append(links, domain.PromoterStockLink{
			ID:                id,
			PromoterID:        res.Promoter.ID,
			SchemeID:          rec.SchemeID,
			Ticker:            rec.Ticker,
			FirstPromotedAt:   rec.FirstPromotedAt,
			LastPromotedAt:    rec.LastPromotedAt,
			TotalPosts:        rec.TotalPosts,
			Platforms:         normalizePlatforms(&rec),
			AvgPromotionScore: rec.AvgPromotionScore,
			EvidenceURLs:      rec.EvidenceURLs,
			Outcome:           rec.Outcome,
		})
		linkIndex[id] = len(links) - 1
		if newTickers[res.Promoter.ID] == nil {
			newTickers[res.Promoter.ID] = make(map[string]struct{})
		}
		newTickers[res.Promoter.ID][rec.Ticker] = struct{}{}
	}

	promoters = resolver.Finalize(links)
	p.metrics.SkippedRecords.Add(float64(skipped))
	p.metrics.RunDuration.WithLabelValues("ingest").Observe(time.Since(ingestTimer).Seconds())

	linksByPromoter := make(map[string][]domain.PromoterStockLink)
	for i := range links {
		linksByPromoter[links[i].PromoterID] = append(linksByPromoter[links[i].PromoterID], links[i])
	}

	// Score phase: aggregates and repeat-offender scores, one promoter per
	// task. Network membership uses the prior run's clusters; promoters whose
	// membership changes are re-scored after clustering.
	scoreTimer := time.Now()
	breakdowns := make(map[string]scoring.Breakdown, len(promoters))
	dataExcluded := make(map[string]struct{})
	var violations []*domain.InvariantViolation
	var scoreMu sync.Mutex

	pool := pond.NewPool(p.cfg.Detection.ScoreWorkers, pond.WithContext(ctx))
	for _, pr := range promoters {
		pr := pr
		pool.Submit(func() {
			agg := p.aggregator.Recompute(linksByPromoter[pr.ID])
			if v := p.aggregator.Check(pr.ID, agg); v != nil {
				scoreMu.Lock()
				violations = append(violations, v)
				dataExcluded[pr.ID] = struct{}{}
				scoreMu.Unlock()
				return
			}
			p.aggregator.Apply(pr, agg)

			_, inNetwork := priorMembership[pr.ID]
			bd := p.engine.Score(scoring.Inputs{
				TotalStocksPromoted: agg.TotalStocksPromoted,
				ConfirmedDumps:      agg.ConfirmedDumps,
				AvgPromotionScore:   agg.AvgPromotionScore,
				IsInNetwork:         inNetwork,
				AccountAgeMonths:    youngestAccount(pr),
			})
			pr.RepeatOffenderScore = bd.TotalScore
			pr.Tier = bd.Tier
			pr.UpdatedAt = runAt

			scoreMu.Lock()
			breakdowns[pr.ID] = bd
			scoreMu.Unlock()
		})
	}
	pool.StopAndWait()
	p.metrics.RunDuration.WithLabelValues("score").Observe(time.Since(scoreTimer).Seconds())

	// Pair phase: ticker partitions pair independently and merge after, so
	// the quadratic cost stays local to each ticker.
	pairTimer := time.Now()
	windowStart := runAt.Add(-time.Duration(p.cfg.Detection.WindowDays) * 24 * time.Hour)
	groups, tickers := copromo.GroupByTicker(windowedLinks(links, windowStart, dataExcluded))

	contributions := make([][]copromo.Contribution, len(tickers))
	pairPool := pond.NewPool(p.cfg.Detection.PairWorkers, pond.WithContext(ctx))
	for i, ticker := range tickers {
		i, ticker := i, ticker
		pairPool.Submit(func() {
			contributions[i] = p.detector.DetectTicker(ticker, groups[ticker])
		})
	}
	pairPool.StopAndWait()

	var flat []copromo.Contribution
	for _, c := range contributions {
		flat = append(flat, c...)
	}
	pairs := copromo.Merge(flat)
	scorer := network.NewConfidenceScorer(&p.cfg.Confidence)
	for i := range pairs {
		scorer.ScorePair(&pairs[i])
	}
	p.metrics.PairsDetected.Set(float64(len(pairs)))
	p.metrics.RunDuration.WithLabelValues("pairs").Observe(time.Since(pairTimer).Seconds())

	// Cluster phase.
	clusterTimer := time.Now()
	names := make(map[string]string, len(promoters))
	for _, pr := range promoters {
		names[pr.ID] = pr.DisplayName
	}
	build := p.builder.Build(pairs, networks, names, runAt)
	violations = append(violations, build.Violations...)

	excluded := make(map[string]struct{}, len(dataExcluded)+len(build.ExcludedPromoters))
	for id := range dataExcluded {
		excluded[id] = struct{}{}
	}
	for id := range build.ExcludedPromoters {
		excluded[id] = struct{}{}
	}

	p.metrics.Violations.Add(float64(len(violations)))
	for _, v := range violations {
		logger.Error().Str("entity", v.Entity).Str("id", v.ID).Str("detail", v.Detail).Msg("invariant violation")
	}

	// Re-score promoters whose network membership changed, and write the
	// resulting membership onto each promoter.
	scored := 0
	for _, pr := range promoters {
		if _, skip := excluded[pr.ID]; skip {
			// Violating entities get no state updates this run. A promoter
			// first seen with violating evidence persists unscored rather
			// than carrying a score the run could not validate.
			if st, ok := prior[pr.ID]; ok {
				pr.Tier = st.tier
				pr.RepeatOffenderScore = st.score
				pr.NetworkID = st.networkID
			} else {
				pr.RepeatOffenderScore = 0
				pr.Tier = domain.TierLow
				pr.NetworkID = nil
			}
			continue
		}
		scored++

		nowID, nowIn := build.Membership[pr.ID]
		_, wasIn := priorMembership[pr.ID]
		if nowIn != wasIn {
			bd := p.engine.Score(scoring.Inputs{
				TotalStocksPromoted: pr.TotalStocksPromoted,
				ConfirmedDumps:      pr.ConfirmedDumps,
				AvgPromotionScore:   p.aggregator.Recompute(linksByPromoter[pr.ID]).AvgPromotionScore,
				IsInNetwork:         nowIn,
				AccountAgeMonths:    youngestAccount(pr),
			})
			pr.RepeatOffenderScore = bd.TotalScore
			pr.Tier = bd.Tier
			breakdowns[pr.ID] = bd
		}
		if nowIn {
			id := nowID
			pr.NetworkID = &id
		} else {
			pr.NetworkID = nil
		}
	}
	p.metrics.PromotersScored.Set(float64(scored))
	p.metrics.NetworksActive.Set(float64(countActive(build.Networks)))
	p.metrics.RunDuration.WithLabelValues("cluster").Observe(time.Since(clusterTimer).Seconds())

	// Alert phase.
	alertTimer := time.Now()
	var promoTransitions []alerts.PromoterTransition
	for _, pr := range promoters {
		if _, skip := excluded[pr.ID]; skip {
			continue
		}
		st, known := prior[pr.ID]
		promoTransitions = append(promoTransitions, alerts.PromoterTransition{
			Promoter:       pr,
			Breakdown:      breakdowns[pr.ID],
			PriorKnown:     known,
			PriorTier:      st.tier,
			NewLinkTickers: sortedSet(newTickers[pr.ID]),
		})
	}

	priorNets := make(map[string]domain.PromoterNetwork, len(networks))
	for _, n := range networks {
		priorNets[n.ID] = n
	}
	var netTransitions []alerts.NetworkTransition
	for _, n := range build.Networks {
		pn, known := priorNets[n.ID]
		netTransitions = append(netTransitions, alerts.NetworkTransition{
			Network:     n,
			PriorKnown:  known,
			PriorActive: known && pn.IsActive,
		})
	}

	emitted := p.generator.Generate(runAt, promoTransitions, netTransitions, storeHistory{keys: seenKeys})
	for i := range emitted {
		p.metrics.AlertsEmitted.WithLabelValues(string(emitted[i].Type)).Inc()
	}
	p.metrics.RunDuration.WithLabelValues("alerts").Observe(time.Since(alertTimer).Seconds())

	// Save phase: one snapshot, one transaction.
	saveTimer := time.Now()
	report := persistence.RunReport{
		RunID:               runID,
		StartedAt:           runAt,
		FinishedAt:          time.Now().UTC(),
		Status:              "success",
		PromotersScored:     scored,
		PromotersExcluded:   len(excluded),
		PairsDetected:       len(pairs),
		NetworksActive:      countActive(build.Networks),
		AlertsEmitted:       len(emitted),
		SkippedRecords:      skipped,
		InvariantViolations: len(violations),
	}
	for _, v := range violations {
		report.ViolationDetails = append(report.ViolationDetails, v.Error())
	}

	snap := &persistence.RunSnapshot{
		Report:    report,
		Promoters: promoters,
		Links:     links,
		Networks:  append(build.Networks, build.Deactivated...),
		Alerts:    emitted,
	}
	if err := p.storeBreaker.Do(func() error { return p.store.SaveRun(ctx, snap) }); err != nil {
		return nil, fmt.Errorf("save run: %w", err)
	}
	p.metrics.RunDuration.WithLabelValues("save").Observe(time.Since(saveTimer).Seconds())
	p.metrics.RunDuration.WithLabelValues("total").Observe(time.Since(totalTimer).Seconds())

	p.cacheReport(&report)

	logger.Info().
		Int("promoters_scored", scored).
		Int("pairs", len(pairs)).
		Int("networks_active", report.NetworksActive).
		Int("alerts", len(emitted)).
		Int("skipped", skipped).
		Int("violations", len(violations)).
		Dur("duration", time.Since(totalTimer)).
		Msg("detection run finished")
	return snap, nil
}

// StoreHealth reports the store circuit breaker state for health checks.
func (p *Pipeline) StoreHealth() string {
	return p.storeBreaker.State().String()
}

// LastRun serves the monitoring endpoint: cache first, store on miss.
func (p *Pipeline) LastRun(ctx context.Context) (*persistence.RunReport, error) {
	if p.status != nil {
		if raw, ok := p.status.Get(statusCacheKey); ok {
			var report persistence.RunReport
			if err := json.Unmarshal(raw, &report); err == nil {
				return &report, nil
			}
		}
	}
	var report *persistence.RunReport
	err := p.storeBreaker.Do(func() error {
		var err error
		report, err = p.store.LastRun(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	if report != nil {
		p.cacheReport(report)
	}
	return report, nil
}

func (p *Pipeline) cacheReport(report *persistence.RunReport) {
	if p.status == nil {
		return
	}
	if raw, err := json.Marshal(report); err == nil {
		p.status.Set(statusCacheKey, raw, p.cfg.Redis.StatusTTL)
	}
}

// mergeLink folds a replayed evidence record into the stored link. The
// promotion window widens, cumulative counters take the newer snapshot, and a
// recorded outcome is write-once.
func mergeLink(link *domain.PromoterStockLink, rec *ingest.LinkRecord) {
	if rec.FirstPromotedAt.Before(link.FirstPromotedAt) {
		link.FirstPromotedAt = rec.FirstPromotedAt
	}
	if rec.LastPromotedAt.After(link.LastPromotedAt) {
		link.LastPromotedAt = rec.LastPromotedAt
	}
	if rec.TotalPosts > link.TotalPosts {
		link.TotalPosts = rec.TotalPosts
	}
	if rec.AvgPromotionScore > 0 {
		link.AvgPromotionScore = rec.AvgPromotionScore
	}
	link.Platforms = unionSorted(link.Platforms, rec.Platforms)
	link.EvidenceURLs = unionSorted(link.EvidenceURLs, rec.EvidenceURLs)
	if link.Outcome == nil {
		link.Outcome = rec.Outcome
	}
}

func normalizePlatforms(rec *ingest.LinkRecord) []string {
	return unionSorted(rec.Platforms, []string{rec.Platform})
}

func unionSorted(a, b []string) []string {
	set := make(map[string]struct{}, len(a)+len(b))
	for _, s := range a {
		set[s] = struct{}{}
	}
	for _, s := range b {
		set[s] = struct{}{}
	}
	return sortedSet(set)
}

func sortedSet(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// windowedLinks keeps links active within the detection window, dropping
// those owned by promoters whose aggregates violated consistency checks so
// inconsistent evidence never drives clustering.
func windowedLinks(links []domain.PromoterStockLink, from time.Time, skip map[string]struct{}) []domain.PromoterStockLink {
	out := make([]domain.PromoterStockLink, 0, len(links))
	for i := range links {
		if _, drop := skip[links[i].PromoterID]; drop {
			continue
		}
		if !links[i].LastPromotedAt.Before(from) {
			out = append(out, links[i])
		}
	}
	return out
}

func activeMembership(networks []domain.PromoterNetwork) map[string]string {
	m := make(map[string]string)
	for i := range networks {
		if !networks[i].IsActive {
			continue
		}
		for _, id := range networks[i].MemberIDs {
			m[id] = networks[i].ID
		}
	}
	return m
}

// youngestAccount returns the smallest known account age across the
// promoter's identities. A single fresh throwaway is the signal even when
// older accounts exist.
func youngestAccount(p *domain.Promoter) *float64 {
	var youngest *float64
	for i := range p.Identities {
		age := p.Identities[i].AccountAgeMonths
		if age == nil {
			continue
		}
		if youngest == nil || *age < *youngest {
			youngest = age
		}
	}
	return youngest
}

func countActive(networks []domain.PromoterNetwork) int {
	n := 0
	for i := range networks {
		if networks[i].IsActive {
			n++
		}
	}
	return n
}
