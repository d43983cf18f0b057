package persistence

import (
	"context"
	"time"

	"github.com/pumpwatch/promatrix/internal/domain"
)

// TimeRange bounds a detection window query.
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// RunReport summarizes one detection run for operators: skipped records and
// invariant violations are surfaced here, never silently dropped.
type RunReport struct {
	RunID               string    `json:"run_id" db:"run_id"`
	StartedAt           time.Time `json:"started_at" db:"started_at"`
	FinishedAt          time.Time `json:"finished_at" db:"finished_at"`
	Status              string    `json:"status" db:"status"`
	PromotersScored     int       `json:"promoters_scored" db:"promoters_scored"`
	PromotersExcluded   int       `json:"promoters_excluded" db:"promoters_excluded"`
	PairsDetected       int       `json:"pairs_detected" db:"pairs_detected"`
	NetworksActive      int       `json:"networks_active" db:"networks_active"`
	AlertsEmitted       int       `json:"alerts_emitted" db:"alerts_emitted"`
	SkippedRecords      int       `json:"skipped_records" db:"skipped_records"`
	InvariantViolations int       `json:"invariant_violations" db:"invariant_violations"`
	ViolationDetails    []string  `json:"violation_details,omitempty" db:"-"`
}

// RunSnapshot is the complete output of one detection run, persisted in a
// single transaction: either all of it lands or none of it does.
type RunSnapshot struct {
	Report    RunReport
	Promoters []*domain.Promoter
	Links     []domain.PromoterStockLink
	Networks  []domain.PromoterNetwork
	Alerts    []domain.PromoterAlert
}

// Store is the engine's boundary to persistent state. Reads happen at the
// start of a run, the write happens once at the end.
type Store interface {
	// LoadPromoters returns all promoters with their identities attached.
	LoadPromoters(ctx context.Context) ([]*domain.Promoter, error)

	// LoadLinks returns stock links whose promotion activity intersects the window.
	LoadLinks(ctx context.Context, window TimeRange) ([]domain.PromoterStockLink, error)

	// LoadNetworks returns all networks, active and inactive.
	LoadNetworks(ctx context.Context) ([]domain.PromoterNetwork, error)

	// LoadAlertKeys returns dedupe keys of alerts emitted since the cutoff.
	LoadAlertKeys(ctx context.Context, since time.Time) (map[string]struct{}, error)

	// LastRun returns the most recent run report, or nil when none exists.
	LastRun(ctx context.Context) (*RunReport, error)

	// SaveRun persists the snapshot atomically.
	SaveRun(ctx context.Context, snap *RunSnapshot) error

	// Close releases the underlying connections.
	Close() error
}
