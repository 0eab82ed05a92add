package scoring_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fielddispatch/gateway/internal/domain"
	"github.com/fielddispatch/gateway/internal/eventbus"
	"github.com/fielddispatch/gateway/internal/scoring"
)

type fakeStore struct {
	providers map[string]*domain.Provider
	records   []domain.PenaltyRecord
}

func newFakeStore(p *domain.Provider) *fakeStore {
	return &fakeStore{providers: map[string]*domain.Provider{p.ID.String(): p}}
}

func (s *fakeStore) LoadProviderForUpdate(ctx context.Context, providerID domain.ID) (*domain.Provider, error) {
	return s.providers[providerID.String()], nil
}

func (s *fakeStore) SaveProvider(ctx context.Context, provider *domain.Provider) error {
	s.providers[provider.ID.String()] = provider
	return nil
}

func (s *fakeStore) AppendPenaltyRecord(ctx context.Context, rec domain.PenaltyRecord) error {
	s.records = append(s.records, rec)
	return nil
}

func (s *fakeStore) ProvidersEligibleForRecovery(ctx context.Context, asOf time.Time) ([]domain.ID, error) {
	var ids []domain.ID
	for _, p := range s.providers {
		ids = append(ids, p.ID)
	}
	return ids, nil
}

func (s *fakeStore) RecentPenaltyCount(ctx context.Context, providerID domain.ID, since time.Time) (int, error) {
	count := 0
	for _, r := range s.records {
		if r.ProviderID == providerID && r.CreatedAt.After(since) {
			count++
		}
	}
	return count, nil
}

func TestApplyPenalty_Level4NoShowZeroesScoreAndSuspends(t *testing.T) {
	p := &domain.Provider{ID: domain.NewID(), Level: domain.Level4, InternalScore: 90, Status: domain.ProviderActive}
	store := newFakeStore(p)
	ledger := scoring.New(store, eventbus.New(zerolog.Nop()))

	updated, err := ledger.ApplyPenalty(context.Background(), p.ID, nil, scoring.InfractionNoShow, "missed emergency dispatch")
	require.NoError(t, err)
	assert.Equal(t, 0.0, updated.InternalScore)
	assert.Equal(t, domain.ProviderSuspended, updated.Status)
}

func TestApplyPenalty_ClampAtLevelMinimumSuspends(t *testing.T) {
	p := &domain.Provider{ID: domain.NewID(), Level: domain.Level1, InternalScore: 41, Status: domain.ProviderActive}
	store := newFakeStore(p)
	ledger := scoring.New(store, eventbus.New(zerolog.Nop()))

	updated, err := ledger.ApplyPenalty(context.Background(), p.ID, nil, scoring.InfractionCancellation, "cancelled after accept")
	require.NoError(t, err)
	assert.Equal(t, 40.0, updated.InternalScore)
	assert.Equal(t, domain.ProviderSuspended, updated.Status)
}

func TestRunWeeklyRecovery_SkipsProvidersWithRecentPenalties(t *testing.T) {
	p := &domain.Provider{ID: domain.NewID(), Level: domain.Level2, InternalScore: 60, Status: domain.ProviderActive}
	store := newFakeStore(p)
	store.records = append(store.records, domain.PenaltyRecord{
		ProviderID: p.ID, CreatedAt: time.Now().Add(-2 * 24 * time.Hour),
	})
	ledger := scoring.New(store, eventbus.New(zerolog.Nop()))

	require.NoError(t, ledger.RunWeeklyRecovery(context.Background()))
	assert.Equal(t, 60.0, store.providers[p.ID.String()].InternalScore)
}

func TestRunWeeklyRecovery_RestoresUpToFivePointsCappedAtBase(t *testing.T) {
	p := &domain.Provider{ID: domain.NewID(), Level: domain.Level2, InternalScore: 73, Status: domain.ProviderActive}
	store := newFakeStore(p)
	ledger := scoring.New(store, eventbus.New(zerolog.Nop()))

	require.NoError(t, ledger.RunWeeklyRecovery(context.Background()))
	assert.Equal(t, 75.0, store.providers[p.ID.String()].InternalScore, "should recover only to base (75), not beyond")
}
