package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/pumpwatch/promatrix/internal/domain"
	"github.com/pumpwatch/promatrix/internal/persistence"
)

// LoadLinks returns stock links whose promotion span intersects the window.
func (s *Store) LoadLinks(ctx context.Context, window persistence.TimeRange) ([]domain.PromoterStockLink, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `
		SELECT id, promoter_id, scheme_id, ticker, first_promoted_at,
		       last_promoted_at, total_posts, platforms, avg_promotion_score,
		       evidence_urls, price_at_promotion, peak_price, price_after_dump,
		       promoter_gain_pct, victim_loss_pct
		FROM promoter_stock_links
		WHERE last_promoted_at >= $1 AND first_promoted_at <= $2
		ORDER BY id`

	rows, err := s.db.QueryxContext(ctx, query, window.From, window.To)
	if err != nil {
		return nil, fmt.Errorf("failed to query stock links: %w", err)
	}
	defer rows.Close()

	var links []domain.PromoterStockLink
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, *link)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stock links: %w", err)
	}
	return links, nil
}

func scanLink(rows *sqlx.Rows) (*domain.PromoterStockLink, error) {
	var link domain.PromoterStockLink
	var platforms, evidenceURLs pq.StringArray
	var priceAt, peak, after, gain, loss sql.NullFloat64

	err := rows.Scan(
		&link.ID, &link.PromoterID, &link.SchemeID, &link.Ticker,
		&link.FirstPromotedAt, &link.LastPromotedAt, &link.TotalPosts,
		&platforms, &link.AvgPromotionScore, &evidenceURLs,
		&priceAt, &peak, &after, &gain, &loss)
	if err != nil {
		return nil, fmt.Errorf("failed to scan stock link: %w", err)
	}

	link.Platforms = platforms
	link.EvidenceURLs = evidenceURLs
	if loss.Valid {
		link.Outcome = &domain.LinkOutcome{
			PriceAtPromotion: priceAt.Float64,
			PeakPrice:        peak.Float64,
			PriceAfterDump:   after.Float64,
			PromoterGainPct:  gain.Float64,
			VictimLossPct:    loss.Float64,
		}
	}
	return &link, nil
}

func upsertLink(ctx context.Context, tx *sqlx.Tx, link *domain.PromoterStockLink) error {
	var priceAt, peak, after, gain, loss *float64
	if link.Outcome != nil {
		o := link.Outcome
		priceAt, peak, after = &o.PriceAtPromotion, &o.PeakPrice, &o.PriceAfterDump
		gain, loss = &o.PromoterGainPct, &o.VictimLossPct
	}

	// Outcome columns are written only while unresolved: once set they are
	// historical fact and never rewritten.
	query := `
		INSERT INTO promoter_stock_links (id, promoter_id, scheme_id, ticker,
			first_promoted_at, last_promoted_at, total_posts, platforms,
			avg_promotion_score, evidence_urls, price_at_promotion, peak_price,
			price_after_dump, promoter_gain_pct, victim_loss_pct)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
			promoter_id = EXCLUDED.promoter_id,
			first_promoted_at = EXCLUDED.first_promoted_at,
			last_promoted_at = EXCLUDED.last_promoted_at,
			total_posts = EXCLUDED.total_posts,
			platforms = EXCLUDED.platforms,
			avg_promotion_score = EXCLUDED.avg_promotion_score,
			evidence_urls = EXCLUDED.evidence_urls,
			price_at_promotion = COALESCE(promoter_stock_links.price_at_promotion, EXCLUDED.price_at_promotion),
			peak_price = COALESCE(promoter_stock_links.peak_price, EXCLUDED.peak_price),
			price_after_dump = COALESCE(promoter_stock_links.price_after_dump, EXCLUDED.price_after_dump),
			promoter_gain_pct = COALESCE(promoter_stock_links.promoter_gain_pct, EXCLUDED.promoter_gain_pct),
			victim_loss_pct = COALESCE(promoter_stock_links.victim_loss_pct, EXCLUDED.victim_loss_pct)`

	_, err := tx.ExecContext(ctx, query,
		link.ID, link.PromoterID, link.SchemeID, link.Ticker,
		link.FirstPromotedAt, link.LastPromotedAt, link.TotalPosts,
		pq.Array(link.Platforms), link.AvgPromotionScore, pq.Array(link.EvidenceURLs),
		priceAt, peak, after, gain, loss)
	if err != nil {
		return fmt.Errorf("failed to upsert stock link %s: %w", link.ID, err)
	}
	return nil
}
