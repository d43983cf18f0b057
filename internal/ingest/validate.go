package ingest

import (
	"github.com/pumpwatch/promatrix/internal/domain"
)

// ValidateLink rejects malformed link evidence. Invalid records are skipped
// and counted by the caller, never fatal to the run.
func ValidateLink(r *LinkRecord) *domain.ValidationError {
	switch {
	case r.Ticker == "":
		return &domain.ValidationError{Field: "ticker", Reason: "missing"}
	case r.Platform == "":
		return &domain.ValidationError{Field: "platform", Reason: "missing"}
	case r.Username == "":
		return &domain.ValidationError{Field: "username", Reason: "missing"}
	case r.SchemeID == "":
		return &domain.ValidationError{Field: "scheme_id", Reason: "missing"}
	case r.FirstPromotedAt.IsZero():
		return &domain.ValidationError{Field: "first_promoted_at", Reason: "missing"}
	case r.LastPromotedAt.Before(r.FirstPromotedAt):
		return &domain.ValidationError{Field: "last_promoted_at", Reason: "before first_promoted_at"}
	case r.TotalPosts < 0:
		return &domain.ValidationError{Field: "total_posts", Reason: "negative"}
	case r.AvgPromotionScore < 0 || r.AvgPromotionScore > 100:
		return &domain.ValidationError{Field: "avg_promotion_score", Reason: "outside [0, 100]"}
	}
	return nil
}

// ValidateObservation rejects malformed identity observations.
func ValidateObservation(o *domain.IdentityObservation) *domain.ValidationError {
	switch {
	case o.Platform == "":
		return &domain.ValidationError{Field: "platform", Reason: "missing"}
	case o.Username == "":
		return &domain.ValidationError{Field: "username", Reason: "missing"}
	case o.ObservedAt.IsZero():
		return &domain.ValidationError{Field: "observed_at", Reason: "missing"}
	case o.FollowerCount != nil && *o.FollowerCount < 0:
		return &domain.ValidationError{Field: "follower_count", Reason: "negative"}
	case o.AccountAgeMonths != nil && *o.AccountAgeMonths < 0:
		return &domain.ValidationError{Field: "account_age_months", Reason: "negative"}
	}
	return nil
}
