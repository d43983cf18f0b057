package identity

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/pumpwatch/promatrix/internal/domain"
)

// Resolver consolidates per-platform identity observations into Promoter
// entities. Attachment to an existing promoter happens only on operator
// verification or deterministic evidence-URL overlap; false merges inflate a
// promoter's track record, so no fuzzy name matching is performed.
type Resolver struct {
	promoters  map[string]*domain.Promoter
	byHandle   map[string]*domain.PromoterIdentity
	byEvidence map[string]string // evidence URL -> promoter id
}

// NewResolver builds a resolver over the run's working set of promoters and
// their stock links. Identity slices on the promoters are taken over by the
// resolver; call Finalize to materialize them back after resolution.
func NewResolver(promoters []*domain.Promoter, links []domain.PromoterStockLink) *Resolver {
	r := &Resolver{
		promoters:  make(map[string]*domain.Promoter, len(promoters)),
		byHandle:   make(map[string]*domain.PromoterIdentity),
		byEvidence: make(map[string]string),
	}
	for _, p := range promoters {
		r.promoters[p.ID] = p
		for i := range p.Identities {
			ident := p.Identities[i]
			r.byHandle[handleKey(ident.Platform, ident.Username)] = &ident
		}
	}
	for i := range links {
		for _, u := range links[i].EvidenceURLs {
			r.byEvidence[normalizeURL(u)] = links[i].PromoterID
		}
	}
	return r
}

func handleKey(platform, username string) string {
	return strings.ToLower(platform) + "|" + strings.ToLower(username)
}

func normalizeURL(u string) string {
	return strings.TrimRight(strings.ToLower(u), "/")
}

// Result reports what Resolve did with an observation.
type Result struct {
	Promoter *domain.Promoter
	Identity *domain.PromoterIdentity
	Created  bool // a new promoter was created for this observation
	Attached bool // the identity was attached to an existing promoter
}

// Resolve attaches the observation to an existing promoter or creates a new
// one, and returns the owning promoter. First/last-seen stamps on both the
// identity and the promoter are widened to cover the observation.
func (r *Resolver) Resolve(obs domain.IdentityObservation) Result {
	key := handleKey(obs.Platform, obs.Username)

	if ident, ok := r.byHandle[key]; ok {
		if obs.VerifiedPromoterID != nil && *obs.VerifiedPromoterID != ident.PromoterID {
			// Operator re-attribution: ownership moves, the identity is
			// never duplicated.
			if target, ok := r.promoters[*obs.VerifiedPromoterID]; ok {
				ident.PromoterID = target.ID
				ident.IsVerified = true
				log.Info().
					Str("platform", obs.Platform).
					Str("username", obs.Username).
					Str("promoter_id", target.ID).
					Msg("identity re-attributed on operator verification")
			}
		}
		owner := r.promoters[ident.PromoterID]
		r.touch(ident, obs)
		return Result{Promoter: owner, Identity: ident}
	}

	if owner := r.matchExisting(obs); owner != nil {
		ident := r.newIdentity(owner.ID, obs)
		r.byHandle[key] = ident
		r.touch(ident, obs)
		return Result{Promoter: owner, Identity: ident, Attached: true}
	}

	promoter := r.newPromoter(obs)
	r.promoters[promoter.ID] = promoter
	ident := r.newIdentity(promoter.ID, obs)
	r.byHandle[key] = ident
	return Result{Promoter: promoter, Identity: ident, Created: true}
}

// matchExisting applies the two deterministic attachment policies: explicit
// operator verification, then evidence-URL overlap with a known stock link.
func (r *Resolver) matchExisting(obs domain.IdentityObservation) *domain.Promoter {
	if obs.VerifiedPromoterID != nil {
		if p, ok := r.promoters[*obs.VerifiedPromoterID]; ok {
			return p
		}
		log.Warn().
			Str("promoter_id", *obs.VerifiedPromoterID).
			Str("username", obs.Username).
			Msg("verified promoter id not found, creating new promoter")
		return nil
	}
	for _, u := range obs.EvidenceURLs {
		if pid, ok := r.byEvidence[normalizeURL(u)]; ok {
			return r.promoters[pid]
		}
	}
	return nil
}

func (r *Resolver) newIdentity(promoterID string, obs domain.IdentityObservation) *domain.PromoterIdentity {
	return &domain.PromoterIdentity{
		ID:               uuid.NewString(),
		PromoterID:       promoterID,
		Platform:         obs.Platform,
		Username:         obs.Username,
		ProfileURL:       obs.ProfileURL,
		FirstSeen:        obs.ObservedAt,
		LastSeen:         obs.ObservedAt,
		IsVerified:       obs.VerifiedPromoterID != nil,
		FollowerCount:    obs.FollowerCount,
		AccountAgeMonths: obs.AccountAgeMonths,
	}
}

func (r *Resolver) newPromoter(obs domain.IdentityObservation) *domain.Promoter {
	name := obs.DisplayName
	if name == "" {
		name = obs.Username
	}
	return &domain.Promoter{
		ID:          uuid.NewString(),
		DisplayName: name,
		FirstSeen:   obs.ObservedAt,
		LastSeen:    obs.ObservedAt,
		IsActive:    true,
		Tier:        domain.TierLow,
		CreatedAt:   obs.ObservedAt,
		UpdatedAt:   obs.ObservedAt,
	}
}

func (r *Resolver) touch(ident *domain.PromoterIdentity, obs domain.IdentityObservation) {
	if obs.ObservedAt.Before(ident.FirstSeen) {
		ident.FirstSeen = obs.ObservedAt
	}
	if obs.ObservedAt.After(ident.LastSeen) {
		ident.LastSeen = obs.ObservedAt
	}
	if obs.FollowerCount != nil {
		ident.FollowerCount = obs.FollowerCount
	}
	if obs.AccountAgeMonths != nil {
		ident.AccountAgeMonths = obs.AccountAgeMonths
	}
}

// Finalize writes the resolved identity sets back onto their owning promoters
// and recomputes each promoter's first/last-seen window from identities and
// the supplied links. Returns the full working set, new promoters included,
// sorted by id for deterministic downstream processing.
func (r *Resolver) Finalize(links []domain.PromoterStockLink) []*domain.Promoter {
	byOwner := make(map[string][]domain.PromoterIdentity)
	for _, ident := range r.byHandle {
		byOwner[ident.PromoterID] = append(byOwner[ident.PromoterID], *ident)
	}
	linksByOwner := make(map[string][]domain.PromoterStockLink)
	for i := range links {
		linksByOwner[links[i].PromoterID] = append(linksByOwner[links[i].PromoterID], links[i])
	}

	out := make([]*domain.Promoter, 0, len(r.promoters))
	for _, p := range r.promoters {
		idents := byOwner[p.ID]
		sort.Slice(idents, func(i, j int) bool { return idents[i].ID < idents[j].ID })
		p.Identities = idents
		RecomputeSeen(p, linksByOwner[p.ID]...)
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RecomputeSeen sets the promoter's first/last-seen to the min/max across all
// owned identities and promotion links.
func RecomputeSeen(p *domain.Promoter, links ...domain.PromoterStockLink) {
	var first, last time.Time
	widen := func(from, to time.Time) {
		if first.IsZero() || from.Before(first) {
			first = from
		}
		if to.After(last) {
			last = to
		}
	}
	for i := range p.Identities {
		widen(p.Identities[i].FirstSeen, p.Identities[i].LastSeen)
	}
	for i := range links {
		widen(links[i].FirstPromotedAt, links[i].LastPromotedAt)
	}
	if !first.IsZero() {
		p.FirstSeen = first
		p.LastSeen = last
	}
}
