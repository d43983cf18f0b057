package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pumpwatch/promatrix/internal/config"
	"github.com/pumpwatch/promatrix/internal/domain"
	"github.com/pumpwatch/promatrix/internal/persistence"
	"github.com/pumpwatch/promatrix/internal/persistence/postgres"
	"github.com/pumpwatch/promatrix/internal/scoring"
	"github.com/pumpwatch/promatrix/internal/trackrecord"
)

func newScoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "score <promoter-id|platform/handle>",
		Short: "Print one promoter's score breakdown",
		Long: `Recompute and print the full repeat-offender score breakdown for a single
promoter, addressed by id or by platform/handle (e.g. twitter/moonshot_mike).
Read-only; nothing is persisted.`,
		Args: cobra.ExactArgs(1),
		RunE: runScore,
	}
}

func runScore(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}

	store, err := postgres.NewStore(cfg.Database)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	promoters, err := store.LoadPromoters(ctx)
	if err != nil {
		return err
	}

	target := findPromoter(promoters, args[0])
	if target == nil {
		return fmt.Errorf("no promoter matches %q", args[0])
	}
	return printBreakdown(ctx, cfg, store, target)
}

func findPromoter(promoters []*domain.Promoter, key string) *domain.Promoter {
	platform, handle, slash := strings.Cut(key, "/")
	for _, p := range promoters {
		if p.ID == key {
			return p
		}
		if !slash {
			continue
		}
		for i := range p.Identities {
			ident := &p.Identities[i]
			if strings.EqualFold(ident.Platform, platform) && strings.EqualFold(ident.Username, handle) {
				return p
			}
		}
	}
	return nil
}

func printBreakdown(ctx context.Context, cfg *config.Config, store *postgres.Store, target *domain.Promoter) error {
	links, err := store.LoadLinks(ctx, persistence.TimeRange{To: time.Now().UTC()})
	if err != nil {
		return err
	}
	var own []domain.PromoterStockLink
	for i := range links {
		if links[i].PromoterID == target.ID {
			own = append(own, links[i])
		}
	}

	aggregator := trackrecord.NewAggregator(cfg.Detection.DumpThreshold)
	agg := aggregator.Recompute(own)

	var youngest *float64
	for i := range target.Identities {
		age := target.Identities[i].AccountAgeMonths
		if age != nil && (youngest == nil || *age < *youngest) {
			youngest = age
		}
	}

	engine := scoring.NewEngine(&cfg.Scoring)
	breakdown := engine.Score(scoring.Inputs{
		TotalStocksPromoted: agg.TotalStocksPromoted,
		ConfirmedDumps:      agg.ConfirmedDumps,
		AvgPromotionScore:   agg.AvgPromotionScore,
		IsInNetwork:         target.NetworkID != nil,
		AccountAgeMonths:    youngest,
	})

	out := struct {
		ID          string            `json:"id"`
		DisplayName string            `json:"display_name"`
		NetworkID   *string           `json:"network_id,omitempty"`
		Breakdown   scoring.Breakdown `json:"breakdown"`
	}{target.ID, target.DisplayName, target.NetworkID, breakdown}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
