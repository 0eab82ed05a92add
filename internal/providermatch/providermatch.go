// Package providermatch implements the hard-filter qualifier, the
// composite ranking, and the matching pipeline that produces a job's
// broadcast candidate list.
package providermatch

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/fielddispatch/gateway/internal/domain"
	"github.com/fielddispatch/gateway/internal/geo"
)

// level4MinInsuranceCents is the $2M insurance floor required for
// Level-4 (emergency) providers.
const level4MinInsuranceCents = 200_000_000

// Store is the persistence seam the qualifier reads through.
type Store interface {
	QualifiedCandidates(ctx context.Context, taskID domain.ID, excludeUserID domain.ID) ([]domain.Provider, error)
	Credentials(ctx context.Context, providerID domain.ID) ([]domain.Credential, error)
	InsurancePolicies(ctx context.Context, providerID domain.ID) ([]domain.InsurancePolicy, error)
	ActiveOnCallShift(ctx context.Context, providerID domain.ID, asOf time.Time) (*domain.OnCallShift, error)
	ResponseTimeAvgMin(ctx context.Context, providerID domain.ID) (*float64, error)
}

// Qualifier applies the hard filters of §4.D.
type Qualifier struct {
	store Store
	now   func() time.Time
}

// New builds a Qualifier.
func New(store Store) *Qualifier {
	return &Qualifier{store: store, now: time.Now}
}

// Candidate is a provider that survived every hard filter, enriched with
// the facts the ranking stage needs.
type Candidate struct {
	Provider      domain.Provider
	DistanceKm    float64
	HasLicense    bool
	HasInsurance  bool
	OnCallActive  bool
	ResponseAvgMin *float64
}

// Qualify returns the providers eligible to be offered a job of the given
// required level at the given coordinates, with a self-declared radius cap
// of radiusKm (0 means unrestricted, bounded only by each provider's own
// service radius).
func (q *Qualifier) Qualify(ctx context.Context, requiredLevel domain.ProviderLevel, taskID, customerID domain.ID, lat, lng, radiusKm float64) ([]Candidate, error) {
	pool, err := q.store.QualifiedCandidates(ctx, taskID, customerID)
	if err != nil {
		return nil, err
	}

	asOf := q.now()
	var geoCandidates []geo.Candidate
	byID := make(map[string]domain.Provider, len(pool))

	for _, p := range pool {
		if !statusEligible(p.Status, requiredLevel) {
			continue
		}
		if !p.HasHomeCoordinates() {
			continue
		}
		if int(p.Level) < int(requiredLevel) {
			continue
		}
		key := p.ID.String()
		byID[key] = p
		geoCandidates = append(geoCandidates, geo.Candidate{
			ID:    key,
			Point: geo.Point{Lat: *p.HomeLat, Lng: *p.HomeLng},
		})
	}

	effectiveRadius := radiusKm
	if effectiveRadius <= 0 {
		effectiveRadius = math.Inf(1)
	}
	ranked := geo.FilterByRadius(geo.Point{Lat: lat, Lng: lng}, geoCandidates, maxFloat(effectiveRadius, 0))
	// filter_by_radius additionally bounds by each provider's own service
	// radius; geo.FilterByRadius only applies the caller's radius, so
	// re-check per-candidate here.
	out := make([]Candidate, 0, len(ranked))
	for _, r := range ranked {
		p := byID[r.ID]
		limit := p.ServiceRadiusKm
		if radiusKm > 0 && radiusKm < limit {
			limit = radiusKm
		}
		if r.DistanceKm > limit {
			continue
		}

		if requiredLevel >= domain.Level3 {
			if !p.BackgroundCheck.Valid(asOf) {
				continue
			}
		}

		hasLicense := false
		if requiredLevel >= domain.Level3 {
			creds, cerr := q.store.Credentials(ctx, p.ID)
			if cerr != nil {
				return nil, cerr
			}
			for _, c := range creds {
				if c.Type == domain.CredentialLicense && c.Valid(asOf) {
					hasLicense = true
					break
				}
			}
			if !hasLicense {
				continue
			}
		}

		hasInsurance := false
		policies, perr := q.store.InsurancePolicies(ctx, p.ID)
		if perr != nil {
			return nil, perr
		}
		if requiredLevel >= domain.Level3 {
			for _, ins := range policies {
				if !ins.Valid(asOf) {
					continue
				}
				if requiredLevel == domain.Level4 && ins.CoverageCents < level4MinInsuranceCents {
					continue
				}
				hasInsurance = true
				break
			}
			if !hasInsurance {
				continue
			}
		}

		onCallActive := false
		if requiredLevel == domain.Level4 {
			shift, serr := q.store.ActiveOnCallShift(ctx, p.ID, asOf)
			if serr != nil {
				return nil, serr
			}
			if shift == nil || !shift.CoversNow(asOf) {
				continue
			}
			onCallActive = true
		}

		avg, aerr := q.store.ResponseTimeAvgMin(ctx, p.ID)
		if aerr != nil {
			return nil, aerr
		}

		out = append(out, Candidate{
			Provider:       p,
			DistanceKm:     r.DistanceKm,
			HasLicense:     hasLicense,
			HasInsurance:   hasInsurance,
			OnCallActive:   onCallActive,
			ResponseAvgMin: avg,
		})
	}

	return out, nil
}

func statusEligible(status domain.ProviderStatus, level domain.ProviderLevel) bool {
	switch status {
	case domain.ProviderSuspended, domain.ProviderInactive:
		return false
	}
	if level >= domain.Level3 {
		return status == domain.ProviderActive
	}
	switch status {
	case domain.ProviderOnboarding, domain.ProviderPendingReview, domain.ProviderActive:
		return true
	default:
		return false
	}
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// Ranked is a Candidate annotated with its composite score.
type Ranked struct {
	Candidate
	Score float64
}

// Rank computes the §4.E composite score for each candidate and returns
// them sorted descending, ties broken by lower distance then lower id.
func Rank(candidates []Candidate) []Ranked {
	out := make([]Ranked, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, Ranked{Candidate: c, Score: compositeScore(c)})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.DistanceKm != b.DistanceKm {
			return a.DistanceKm < b.DistanceKm
		}
		return a.Provider.ID.String() < b.Provider.ID.String()
	})
	return out
}

func compositeScore(c Candidate) float64 {
	internal := clamp(c.Provider.InternalScore, 0, 100) / 100

	distanceScore := 1 - c.DistanceKm/50
	if distanceScore < 0 {
		distanceScore = 0
	}

	responseScore := 0.5
	if c.ResponseAvgMin != nil {
		responseScore = 1 - clamp(*c.ResponseAvgMin, 0, 30)/30
	}

	composite := 0.6*internal + 0.3*distanceScore + 0.1*responseScore
	return roundTo2(composite)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func roundTo2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}

// FindMatchingProviders runs the full A→D→E pipeline and returns the top
// maxResults ranked candidates — the broadcast candidate list.
func FindMatchingProviders(ctx context.Context, q *Qualifier, requiredLevel domain.ProviderLevel, taskID, customerID domain.ID, lat, lng, radiusKm float64, maxResults int) ([]Ranked, error) {
	candidates, err := q.Qualify(ctx, requiredLevel, taskID, customerID, lat, lng, radiusKm)
	if err != nil {
		return nil, err
	}
	ranked := Rank(candidates)
	if maxResults > 0 && len(ranked) > maxResults {
		ranked = ranked[:maxResults]
	}
	return ranked, nil
}
