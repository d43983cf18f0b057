package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pumpwatch/promatrix/internal/config"
	"github.com/pumpwatch/promatrix/internal/domain"
	"github.com/pumpwatch/promatrix/internal/ingest"
	"github.com/pumpwatch/promatrix/internal/metrics"
	"github.com/pumpwatch/promatrix/internal/persistence"
)

// memStore keeps run snapshots in memory and hands back copies, the way a
// fresh database read would.
type memStore struct {
	promoters []*domain.Promoter
	links     []domain.PromoterStockLink
	networks  []domain.PromoterNetwork
	alertKeys map[string]struct{}
	lastRun   *persistence.RunReport
	saves     int
}

func newMemStore() *memStore {
	return &memStore{alertKeys: make(map[string]struct{})}
}

func (m *memStore) LoadPromoters(ctx context.Context) ([]*domain.Promoter, error) {
	out := make([]*domain.Promoter, 0, len(m.promoters))
	for _, p := range m.promoters {
		cp := *p
		cp.Identities = append([]domain.PromoterIdentity(nil), p.Identities...)
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memStore) LoadLinks(ctx context.Context, window persistence.TimeRange) ([]domain.PromoterStockLink, error) {
	return append([]domain.PromoterStockLink(nil), m.links...), nil
}

func (m *memStore) LoadNetworks(ctx context.Context) ([]domain.PromoterNetwork, error) {
	return append([]domain.PromoterNetwork(nil), m.networks...), nil
}

func (m *memStore) LoadAlertKeys(ctx context.Context, since time.Time) (map[string]struct{}, error) {
	out := make(map[string]struct{}, len(m.alertKeys))
	for k := range m.alertKeys {
		out[k] = struct{}{}
	}
	return out, nil
}

func (m *memStore) LastRun(ctx context.Context) (*persistence.RunReport, error) {
	return m.lastRun, nil
}

func (m *memStore) SaveRun(ctx context.Context, snap *persistence.RunSnapshot) error {
	m.promoters = snap.Promoters
	m.links = snap.Links
	m.networks = snap.Networks
	for i := range snap.Alerts {
		m.alertKeys[snap.Alerts[i].DedupeKey] = struct{}{}
	}
	m.lastRun = &snap.Report
	m.saves++
	return nil
}

func (m *memStore) Close() error { return nil }

func dumpOutcome() *domain.LinkOutcome {
	return &domain.LinkOutcome{
		PriceAtPromotion: 1.0,
		PeakPrice:        3.2,
		PriceAfterDump:   0.4,
		PromoterGainPct:  220,
		VictimLossPct:    -60,
	}
}

// coordinatedBatch is two handles pumping three tickers two hours apart, all
// of which dumped. Strong enough to form a network on one pass.
func coordinatedBatch(base time.Time) *ingest.Batch {
	var links []ingest.LinkRecord
	for i, ticker := range []string{"AAAA", "BBBB", "CCCC"} {
		at := base.Add(time.Duration(i) * 72 * time.Hour)
		links = append(links,
			ingest.LinkRecord{
				Platform: "twitter", Username: "moonshot_mike",
				SchemeID: "s-" + ticker, Ticker: ticker,
				FirstPromotedAt: at, LastPromotedAt: at.Add(6 * time.Hour),
				TotalPosts: 12, AvgPromotionScore: 80,
				Outcome: dumpOutcome(),
			},
			ingest.LinkRecord{
				Platform: "reddit", Username: "stonk_queen",
				SchemeID: "s-" + ticker, Ticker: ticker,
				FirstPromotedAt: at.Add(2 * time.Hour), LastPromotedAt: at.Add(8 * time.Hour),
				TotalPosts: 9, AvgPromotionScore: 80,
				Outcome: dumpOutcome(),
			},
		)
	}
	return &ingest.Batch{Links: links}
}

func newTestPipeline(store *memStore) *Pipeline {
	cfg := config.Default()
	cfg.Detection.ScoreWorkers = 2
	cfg.Detection.PairWorkers = 2
	return New(cfg, store, metrics.NewRegistry(), nil, nil)
}

func TestRun_FullPass(t *testing.T) {
	store := newMemStore()
	p := newTestPipeline(store)
	base := time.Now().UTC().Add(-10 * 24 * time.Hour)

	snap, err := p.Run(context.Background(), coordinatedBatch(base))
	require.NoError(t, err)

	require.Len(t, snap.Promoters, 2)
	for _, pr := range snap.Promoters {
		// 40 track record + 30 volume + 24 intensity + 10 network, capped.
		assert.Equal(t, 100, pr.RepeatOffenderScore, pr.DisplayName)
		assert.Equal(t, domain.TierSerialOffender, pr.Tier)
		assert.Equal(t, 3, pr.TotalStocksPromoted)
		assert.Equal(t, 3, pr.ConfirmedDumps)
		require.NotNil(t, pr.NetworkID)
	}

	require.Len(t, snap.Networks, 1)
	net := snap.Networks[0]
	assert.True(t, net.IsActive)
	assert.Len(t, net.MemberIDs, 2)
	assert.GreaterOrEqual(t, net.ConfidenceScore, 90)
	assert.Equal(t, 3, net.TotalSchemes)
	assert.Equal(t, 3, net.ConfirmedDumps)

	types := make(map[domain.AlertType]int)
	for i := range snap.Alerts {
		types[snap.Alerts[i].Type]++
	}
	assert.Equal(t, 2, types[domain.AlertNewSerialOffender])
	assert.Equal(t, 2, types[domain.AlertHighRiskPromoterNew])
	assert.Equal(t, 1, types[domain.AlertNetworkDetected])

	assert.Equal(t, "success", snap.Report.Status)
	assert.Equal(t, 2, snap.Report.PromotersScored)
	assert.Equal(t, 1, snap.Report.PairsDetected)
	assert.Equal(t, 0, snap.Report.SkippedRecords)
}

func TestRun_ReplayIsIdempotent(t *testing.T) {
	store := newMemStore()
	p := newTestPipeline(store)
	base := time.Now().UTC().Add(-10 * 24 * time.Hour)

	first, err := p.Run(context.Background(), coordinatedBatch(base))
	require.NoError(t, err)

	second, err := p.Run(context.Background(), coordinatedBatch(base))
	require.NoError(t, err)

	// Same evidence replayed: no duplicate links, no new alerts, and the
	// network keeps its identity.
	assert.Len(t, second.Links, len(first.Links))
	assert.Empty(t, second.Alerts)
	require.Len(t, second.Networks, 1)
	assert.Equal(t, first.Networks[0].ID, second.Networks[0].ID)
	assert.Equal(t, first.Networks[0].FirstDetected, second.Networks[0].FirstDetected)

	for _, pr := range second.Promoters {
		assert.Equal(t, 100, pr.RepeatOffenderScore)
		assert.Equal(t, 3, pr.ConfirmedDumps)
	}
	assert.Equal(t, 2, store.saves)
}

func TestRun_InvalidRecordsSkippedNotFatal(t *testing.T) {
	store := newMemStore()
	p := newTestPipeline(store)
	base := time.Now().UTC().Add(-5 * 24 * time.Hour)

	batch := coordinatedBatch(base)
	batch.Links = append(batch.Links, ingest.LinkRecord{
		Platform: "twitter", Username: "broken",
		SchemeID: "s-x", // no ticker
		FirstPromotedAt: base, LastPromotedAt: base,
	})
	batch.Identities = append(batch.Identities, domain.IdentityObservation{
		Platform: "telegram", // no username
		ObservedAt: base,
	})

	snap, err := p.Run(context.Background(), batch)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Report.SkippedRecords)
	assert.Len(t, snap.Promoters, 2)
}

func TestRun_EmptyBatchRescoresExistingState(t *testing.T) {
	store := newMemStore()
	p := newTestPipeline(store)
	base := time.Now().UTC().Add(-10 * 24 * time.Hour)

	_, err := p.Run(context.Background(), coordinatedBatch(base))
	require.NoError(t, err)

	snap, err := p.Run(context.Background(), nil)
	require.NoError(t, err)

	require.Len(t, snap.Promoters, 2)
	for _, pr := range snap.Promoters {
		assert.Equal(t, 100, pr.RepeatOffenderScore)
	}
	require.Len(t, snap.Networks, 1)
	assert.True(t, snap.Networks[0].IsActive)
	assert.Empty(t, snap.Alerts)
}

func TestLastRun_FallsBackToStore(t *testing.T) {
	store := newMemStore()
	store.lastRun = &persistence.RunReport{RunID: "r-1", Status: "success"}
	p := newTestPipeline(store)

	report, err := p.LastRun(context.Background())
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Equal(t, "r-1", report.RunID)
}

func TestRun_InconsistentAggregatesExcluded(t *testing.T) {
	store := newMemStore()
	p := newTestPipeline(store)
	base := time.Now().UTC().Add(-10 * 24 * time.Hour)

	// Two dumped schemes on one ticker: confirmed dumps outnumber distinct
	// promoted stocks, which is a data-consistency breach, not a score.
	batch := &ingest.Batch{Links: []ingest.LinkRecord{
		{
			Platform: "twitter", Username: "double_dipper",
			SchemeID: "s1", Ticker: "ACME",
			FirstPromotedAt: base, LastPromotedAt: base.Add(6 * time.Hour),
			TotalPosts: 5, AvgPromotionScore: 90,
			Outcome: dumpOutcome(),
		},
		{
			Platform: "twitter", Username: "double_dipper",
			SchemeID: "s2", Ticker: "ACME",
			FirstPromotedAt: base.Add(48 * time.Hour), LastPromotedAt: base.Add(60 * time.Hour),
			TotalPosts: 7, AvgPromotionScore: 85,
			Outcome: dumpOutcome(),
		},
	}}

	snap, err := p.Run(context.Background(), batch)
	require.NoError(t, err)

	require.Len(t, snap.Promoters, 1)
	pr := snap.Promoters[0]
	// First seen with violating evidence: persisted unscored, no alerts.
	assert.Equal(t, 0, pr.RepeatOffenderScore)
	assert.Equal(t, domain.TierLow, pr.Tier)
	assert.Nil(t, pr.NetworkID)
	assert.Empty(t, snap.Alerts)

	assert.Equal(t, 1, snap.Report.InvariantViolations)
	assert.Equal(t, 1, snap.Report.PromotersExcluded)
	assert.Equal(t, 0, snap.Report.PromotersScored)
	require.Len(t, snap.Report.ViolationDetails, 1)
	assert.Contains(t, snap.Report.ViolationDetails[0], "confirmed dumps")

	// Replay: the promoter now has a prior record and rolls back to it.
	again, err := p.Run(context.Background(), batch)
	require.NoError(t, err)
	require.Len(t, again.Promoters, 1)
	assert.Equal(t, 0, again.Promoters[0].RepeatOffenderScore)
	assert.Equal(t, domain.TierLow, again.Promoters[0].Tier)
	assert.Equal(t, 1, again.Report.InvariantViolations)
	assert.Empty(t, again.Alerts)
}

func TestRun_InconsistentPromoterDoesNotPoisonOthers(t *testing.T) {
	store := newMemStore()
	p := newTestPipeline(store)
	base := time.Now().UTC().Add(-10 * 24 * time.Hour)

	batch := coordinatedBatch(base)
	batch.Links = append(batch.Links,
		ingest.LinkRecord{
			Platform: "twitter", Username: "double_dipper",
			SchemeID: "s1", Ticker: "ZZZZ",
			FirstPromotedAt: base, LastPromotedAt: base.Add(6 * time.Hour),
			TotalPosts: 5, AvgPromotionScore: 90,
			Outcome: dumpOutcome(),
		},
		ingest.LinkRecord{
			Platform: "twitter", Username: "double_dipper",
			SchemeID: "s2", Ticker: "ZZZZ",
			FirstPromotedAt: base.Add(48 * time.Hour), LastPromotedAt: base.Add(60 * time.Hour),
			TotalPosts: 7, AvgPromotionScore: 85,
			Outcome: dumpOutcome(),
		},
	)

	snap, err := p.Run(context.Background(), batch)
	require.NoError(t, err)

	// The coordinated ring is unaffected by the violating promoter.
	assert.Equal(t, 2, snap.Report.PromotersScored)
	assert.Equal(t, 1, snap.Report.PromotersExcluded)
	assert.Equal(t, 1, snap.Report.InvariantViolations)
	require.Len(t, snap.Networks, 1)
	assert.Len(t, snap.Networks[0].MemberIDs, 2)
}
