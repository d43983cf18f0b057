package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/pumpwatch/promatrix/internal/domain"
	"github.com/pumpwatch/promatrix/internal/persistence"
)

// LoadAlertKeys returns dedupe keys of alerts emitted since the cutoff,
// backing the generator's duplicate suppression.
func (s *Store) LoadAlertKeys(ctx context.Context, since time.Time) (map[string]struct{}, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `
		SELECT dedupe_key
		FROM promoter_alerts
		WHERE created_at >= $1`

	rows, err := s.db.QueryxContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query alert keys: %w", err)
	}
	defer rows.Close()

	keys := make(map[string]struct{})
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan alert key: %w", err)
		}
		keys[key] = struct{}{}
	}
	return keys, rows.Err()
}

func insertAlert(ctx context.Context, tx *sqlx.Tx, a *domain.PromoterAlert) error {
	// Alerts are append-only and immutable; the dedupe key makes concurrent
	// or replayed inserts a no-op instead of a duplicate.
	query := `
		INSERT INTO promoter_alerts (id, type, severity, ticker, message,
			promoter_id, promoter_name, network_id, network_name, score,
			prior_dumps, dedupe_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (dedupe_key) DO NOTHING`

	_, err := tx.ExecContext(ctx, query,
		a.ID, a.Type, a.Severity, a.Ticker, a.Message,
		a.PromoterID, a.PromoterName, a.NetworkID, a.NetworkName,
		a.Score, a.PriorDumps, a.DedupeKey, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert alert %s: %w", a.ID, err)
	}
	return nil
}

// LastRun returns the most recent run report, or nil when none exists.
func (s *Store) LastRun(ctx context.Context) (*persistence.RunReport, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `
		SELECT run_id, started_at, finished_at, status, promoters_scored,
		       promoters_excluded, pairs_detected, networks_active,
		       alerts_emitted, skipped_records, invariant_violations
		FROM detection_runs
		ORDER BY started_at DESC
		LIMIT 1`

	var report persistence.RunReport
	if err := s.db.GetContext(ctx, &report, query); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query last run: %w", err)
	}
	return &report, nil
}

func insertRunReport(ctx context.Context, tx *sqlx.Tx, r *persistence.RunReport) error {
	query := `
		INSERT INTO detection_runs (run_id, started_at, finished_at, status,
			promoters_scored, promoters_excluded, pairs_detected,
			networks_active, alerts_emitted, skipped_records, invariant_violations)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := tx.ExecContext(ctx, query,
		r.RunID, r.StartedAt, r.FinishedAt, r.Status,
		r.PromotersScored, r.PromotersExcluded, r.PairsDetected,
		r.NetworksActive, r.AlertsEmitted, r.SkippedRecords, r.InvariantViolations)
	if err != nil {
		return fmt.Errorf("failed to insert run report %s: %w", r.RunID, err)
	}
	return nil
}
