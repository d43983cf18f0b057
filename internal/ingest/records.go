package ingest

import (
	"fmt"
	"time"

	"github.com/pumpwatch/promatrix/internal/domain"
)

// LinkRecord is the upstream evidence shape for one promoter-ticker
// promotion. Promoters are referenced by platform handle; the identity
// resolver maps handles onto Promoter entities.
type LinkRecord struct {
	Platform          string              `json:"platform"`
	Username          string              `json:"username"`
	SchemeID          string              `json:"scheme_id"`
	Ticker            string              `json:"ticker"`
	FirstPromotedAt   time.Time           `json:"first_promoted_at"`
	LastPromotedAt    time.Time           `json:"last_promoted_at"`
	TotalPosts        int                 `json:"total_posts"`
	Platforms         []string            `json:"platforms"`
	AvgPromotionScore float64             `json:"avg_promotion_score"`
	EvidenceURLs      []string            `json:"evidence_urls"`
	Outcome           *domain.LinkOutcome `json:"outcome,omitempty"`
}

// LinkID derives the stable link id so replayed evidence upserts instead of
// duplicating.
func LinkID(promoterID, schemeID, ticker string) string {
	return fmt.Sprintf("%s:%s:%s", promoterID, schemeID, ticker)
}

// Batch is one detection run's worth of upstream evidence.
type Batch struct {
	Identities []domain.IdentityObservation `json:"identities"`
	Links      []LinkRecord                 `json:"links"`
}

// Observation derives the identity observation implied by the link evidence
// itself: seeing a handle promote a ticker is also seeing the handle.
func (r *LinkRecord) Observation() domain.IdentityObservation {
	return domain.IdentityObservation{
		Platform:     r.Platform,
		Username:     r.Username,
		ObservedAt:   r.FirstPromotedAt,
		EvidenceURLs: r.EvidenceURLs,
	}
}
