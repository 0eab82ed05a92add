package providermatch_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fielddispatch/gateway/internal/domain"
	"github.com/fielddispatch/gateway/internal/providermatch"
)

type fakeStore struct {
	pool        []domain.Provider
	credentials map[string][]domain.Credential
	insurance   map[string][]domain.InsurancePolicy
	onCall      map[string]*domain.OnCallShift
}

func (s *fakeStore) QualifiedCandidates(ctx context.Context, taskID domain.ID, excludeUserID domain.ID) ([]domain.Provider, error) {
	return s.pool, nil
}

func (s *fakeStore) Credentials(ctx context.Context, providerID domain.ID) ([]domain.Credential, error) {
	return s.credentials[providerID.String()], nil
}

func (s *fakeStore) InsurancePolicies(ctx context.Context, providerID domain.ID) ([]domain.InsurancePolicy, error) {
	return s.insurance[providerID.String()], nil
}

func (s *fakeStore) ActiveOnCallShift(ctx context.Context, providerID domain.ID, asOf time.Time) (*domain.OnCallShift, error) {
	return s.onCall[providerID.String()], nil
}

func (s *fakeStore) ResponseTimeAvgMin(ctx context.Context, providerID domain.ID) (*float64, error) {
	return nil, nil
}

func floatPtr(f float64) *float64 { return &f }

func TestQualify_DropsSuspendedAndInactive(t *testing.T) {
	suspended := domain.Provider{ID: domain.NewID(), Level: domain.Level2, Status: domain.ProviderSuspended, HomeLat: floatPtr(1), HomeLng: floatPtr(1), ServiceRadiusKm: 50}
	inactive := domain.Provider{ID: domain.NewID(), Level: domain.Level2, Status: domain.ProviderInactive, HomeLat: floatPtr(1), HomeLng: floatPtr(1), ServiceRadiusKm: 50}
	active := domain.Provider{ID: domain.NewID(), Level: domain.Level2, Status: domain.ProviderActive, HomeLat: floatPtr(1), HomeLng: floatPtr(1), ServiceRadiusKm: 50}

	store := &fakeStore{pool: []domain.Provider{suspended, inactive, active}}
	q := providermatch.New(store)

	out, err := q.Qualify(context.Background(), domain.Level2, domain.NewID(), domain.NewID(), 1, 1, 50)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, active.ID, out[0].Provider.ID)
}

func TestQualify_Level4RequiresInsuranceFloorAndOnCall(t *testing.T) {
	p := domain.Provider{ID: domain.NewID(), Level: domain.Level4, Status: domain.ProviderActive, HomeLat: floatPtr(1), HomeLng: floatPtr(1), ServiceRadiusKm: 50,
		BackgroundCheck: domain.BackgroundCheck{Status: domain.BackgroundCleared}}

	store := &fakeStore{
		pool: []domain.Provider{p},
		credentials: map[string][]domain.Credential{
			p.ID.String(): {{Type: domain.CredentialLicense, Status: domain.CredentialVerified}},
		},
		insurance: map[string][]domain.InsurancePolicy{
			p.ID.String(): {{
				Status:        domain.InsuranceVerified,
				CoverageCents: 100_000_000, // below the $2M floor
				EffectiveDate: time.Now().Add(-time.Hour),
				ExpiryDate:    time.Now().Add(time.Hour),
			}},
		},
		onCall: map[string]*domain.OnCallShift{
			p.ID.String(): {Status: domain.OnCallActive, ShiftStart: time.Now().Add(-time.Hour), ShiftEnd: time.Now().Add(time.Hour)},
		},
	}
	q := providermatch.New(store)

	out, err := q.Qualify(context.Background(), domain.Level4, domain.NewID(), domain.NewID(), 1, 1, 50)
	require.NoError(t, err)
	assert.Empty(t, out, "insurance below the $2M floor must be rejected for level 4")

	store.insurance[p.ID.String()][0].CoverageCents = 250_000_000
	out, err = q.Qualify(context.Background(), domain.Level4, domain.NewID(), domain.NewID(), 1, 1, 50)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.True(t, out[0].OnCallActive)
}

func TestRank_OrdersByCompositeScore(t *testing.T) {
	a := providermatch.Candidate{Provider: domain.Provider{ID: domain.NewID(), InternalScore: 90}, DistanceKm: 10}
	b := providermatch.Candidate{Provider: domain.Provider{ID: domain.NewID(), InternalScore: 50}, DistanceKm: 2}

	ranked := providermatch.Rank([]providermatch.Candidate{b, a})
	require.Len(t, ranked, 2)
	assert.Equal(t, a.Provider.ID, ranked[0].Provider.ID, "higher internal score should outrank closer-but-lower-scored candidate")
}
