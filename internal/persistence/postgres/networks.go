package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/pumpwatch/promatrix/internal/domain"
)

// LoadNetworks returns every network, active and inactive.
func (s *Store) LoadNetworks(ctx context.Context) ([]domain.PromoterNetwork, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `
		SELECT id, name, member_ids, co_promotion_count, avg_timing_gap_hours,
		       confidence_score, total_schemes, confirmed_dumps, dump_rate,
		       first_detected, last_active, is_active
		FROM promoter_networks
		ORDER BY id`

	rows, err := s.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query networks: %w", err)
	}
	defer rows.Close()

	var networks []domain.PromoterNetwork
	for rows.Next() {
		var n domain.PromoterNetwork
		var members pq.StringArray
		err := rows.Scan(
			&n.ID, &n.Name, &members, &n.CoPromotionCount, &n.AvgTimingGapHours,
			&n.ConfidenceScore, &n.TotalSchemes, &n.ConfirmedDumps, &n.DumpRate,
			&n.FirstDetected, &n.LastActive, &n.IsActive)
		if err != nil {
			return nil, fmt.Errorf("failed to scan network: %w", err)
		}
		n.MemberIDs = members
		networks = append(networks, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating networks: %w", err)
	}
	return networks, nil
}

func upsertNetwork(ctx context.Context, tx *sqlx.Tx, n *domain.PromoterNetwork) error {
	query := `
		INSERT INTO promoter_networks (id, name, member_ids, co_promotion_count,
			avg_timing_gap_hours, confidence_score, total_schemes, confirmed_dumps,
			dump_rate, first_detected, last_active, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			member_ids = EXCLUDED.member_ids,
			co_promotion_count = EXCLUDED.co_promotion_count,
			avg_timing_gap_hours = EXCLUDED.avg_timing_gap_hours,
			confidence_score = EXCLUDED.confidence_score,
			total_schemes = EXCLUDED.total_schemes,
			confirmed_dumps = EXCLUDED.confirmed_dumps,
			dump_rate = EXCLUDED.dump_rate,
			last_active = EXCLUDED.last_active,
			is_active = EXCLUDED.is_active`

	_, err := tx.ExecContext(ctx, query,
		n.ID, n.Name, pq.Array(n.MemberIDs), n.CoPromotionCount,
		n.AvgTimingGapHours, n.ConfidenceScore, n.TotalSchemes, n.ConfirmedDumps,
		n.DumpRate, n.FirstDetected, n.LastActive, n.IsActive)
	if err != nil {
		return fmt.Errorf("failed to upsert network %s: %w", n.ID, err)
	}
	return nil
}
