package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/pumpwatch/promatrix/internal/domain"
)

// LoadPromoters returns every promoter with its identities attached.
func (s *Store) LoadPromoters(ctx context.Context) ([]*domain.Promoter, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `
		SELECT id, display_name, first_seen, last_seen, total_stocks_promoted,
		       confirmed_dumps, repeat_offender_score, avg_victim_loss,
		       network_id, is_active, tier, notes, created_at, updated_at
		FROM promoters
		ORDER BY id`

	var promoters []*domain.Promoter
	rows, err := s.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query promoters: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*domain.Promoter)
	for rows.Next() {
		var p domain.Promoter
		if err := rows.StructScan(&p); err != nil {
			return nil, fmt.Errorf("failed to scan promoter: %w", err)
		}
		promoters = append(promoters, &p)
		byID[p.ID] = &p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating promoters: %w", err)
	}

	if err := s.attachIdentities(ctx, byID); err != nil {
		return nil, err
	}
	return promoters, nil
}

func (s *Store) attachIdentities(ctx context.Context, byID map[string]*domain.Promoter) error {
	query := `
		SELECT id, promoter_id, platform, username, profile_url, first_seen,
		       last_seen, is_verified, follower_count, account_age_months
		FROM promoter_identities
		ORDER BY id`

	rows, err := s.db.QueryxContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to query identities: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ident domain.PromoterIdentity
		if err := rows.StructScan(&ident); err != nil {
			return fmt.Errorf("failed to scan identity: %w", err)
		}
		if p, ok := byID[ident.PromoterID]; ok {
			p.Identities = append(p.Identities, ident)
		}
	}
	return rows.Err()
}

func upsertPromoter(ctx context.Context, tx *sqlx.Tx, p *domain.Promoter) error {
	query := `
		INSERT INTO promoters (id, display_name, first_seen, last_seen,
			total_stocks_promoted, confirmed_dumps, repeat_offender_score,
			avg_victim_loss, network_id, is_active, tier, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			first_seen = EXCLUDED.first_seen,
			last_seen = EXCLUDED.last_seen,
			total_stocks_promoted = EXCLUDED.total_stocks_promoted,
			confirmed_dumps = EXCLUDED.confirmed_dumps,
			repeat_offender_score = EXCLUDED.repeat_offender_score,
			avg_victim_loss = EXCLUDED.avg_victim_loss,
			network_id = EXCLUDED.network_id,
			is_active = EXCLUDED.is_active,
			tier = EXCLUDED.tier,
			notes = EXCLUDED.notes,
			updated_at = EXCLUDED.updated_at`

	_, err := tx.ExecContext(ctx, query,
		p.ID, p.DisplayName, p.FirstSeen, p.LastSeen,
		p.TotalStocksPromoted, p.ConfirmedDumps, p.RepeatOffenderScore,
		p.AvgVictimLoss, p.NetworkID, p.IsActive, p.Tier, p.Notes,
		p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert promoter %s: %w", p.ID, err)
	}

	for i := range p.Identities {
		if err := upsertIdentity(ctx, tx, &p.Identities[i]); err != nil {
			return err
		}
	}
	return nil
}

func upsertIdentity(ctx context.Context, tx *sqlx.Tx, ident *domain.PromoterIdentity) error {
	query := `
		INSERT INTO promoter_identities (id, promoter_id, platform, username,
			profile_url, first_seen, last_seen, is_verified, follower_count, account_age_months)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			promoter_id = EXCLUDED.promoter_id,
			profile_url = EXCLUDED.profile_url,
			first_seen = EXCLUDED.first_seen,
			last_seen = EXCLUDED.last_seen,
			is_verified = EXCLUDED.is_verified,
			follower_count = EXCLUDED.follower_count,
			account_age_months = EXCLUDED.account_age_months`

	_, err := tx.ExecContext(ctx, query,
		ident.ID, ident.PromoterID, ident.Platform, ident.Username,
		ident.ProfileURL, ident.FirstSeen, ident.LastSeen, ident.IsVerified,
		ident.FollowerCount, ident.AccountAgeMonths)
	if err != nil {
		if isUniqueViolation(err) {
			// UNIQUE(platform, username): the handle row exists under a
			// different identity id, which only happens on divergent clients.
			return fmt.Errorf("handle %s/%s is already registered under another identity: %w", ident.Platform, ident.Username, err)
		}
		return fmt.Errorf("failed to upsert identity %s: %w", ident.ID, err)
	}
	return nil
}
