package pricing_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fielddispatch/gateway/internal/domain"
	"github.com/fielddispatch/gateway/internal/pricing"
)

type fakeStore struct {
	task        *domain.Task
	surgeRules  []pricing.SurgeRule
	commission  *pricing.CommissionSchedule
}

func (s *fakeStore) GetTask(ctx context.Context, id domain.ID) (*domain.Task, error) {
	return s.task, nil
}

func (s *fakeStore) ActiveSurgeRules(ctx context.Context, taskID domain.ID, level domain.ProviderLevel, country string) ([]pricing.SurgeRule, error) {
	return s.surgeRules, nil
}

func (s *fakeStore) ActiveCommissionSchedule(ctx context.Context, level domain.ProviderLevel, country string) (*pricing.CommissionSchedule, error) {
	return s.commission, nil
}

func (s *fakeStore) GetJob(ctx context.Context, jobID domain.ID) (*domain.Job, error) {
	return nil, nil
}

func (s *fakeStore) LatestPricingEvent(ctx context.Context, jobID domain.ID) (*domain.PricingEvent, error) {
	return nil, nil
}

type fakeWeather struct {
	extreme bool
	err     error
}

func (w *fakeWeather) GetConditions(ctx context.Context, lat, lng float64) (bool, string, error) {
	if w.err != nil {
		return false, "", w.err
	}
	return w.extreme, "", nil
}

func baseTask() *domain.Task {
	min, max := int64(10000), int64(15000)
	return &domain.Task{
		ID:                domain.NewID(),
		RequiredLevel:     domain.Level2,
		BasePriceMinCents: &min,
		BasePriceMaxCents: &max,
	}
}

func TestEstimate_NonEmergencyNeverAppliesMultipliers(t *testing.T) {
	store := &fakeStore{task: baseTask()}
	eng := pricing.New(store, nil, 0)

	est, err := eng.Estimate(context.Background(), pricing.Input{
		TaskID:      store.task.ID,
		RequestedAt: time.Date(2026, 12, 25, 23, 0, 0, 0, time.UTC), // night + holiday
		IsEmergency: false,
		Country:     "US",
	})
	require.NoError(t, err)
	assert.Equal(t, 1.0, est.DynamicMultiplier)
	assert.Equal(t, int64(10000), est.FinalMinCents)
	assert.Equal(t, int64(15000), est.FinalMaxCents)
	assert.Empty(t, est.MultiplierDetails)
}

func TestEstimate_EmergencyStacksNightAndHoliday(t *testing.T) {
	store := &fakeStore{task: baseTask()}
	eng := pricing.New(store, nil, 0)

	est, err := eng.Estimate(context.Background(), pricing.Input{
		TaskID:      store.task.ID,
		RequestedAt: time.Date(2026, 12, 25, 23, 0, 0, 0, time.UTC),
		IsEmergency: true,
		Country:     "US",
	})
	require.NoError(t, err)
	assert.InDelta(t, 1.5*2.5, est.DynamicMultiplier, 1e-9)
}

func TestEstimate_WeatherTimeoutTreatedAsNonExtreme(t *testing.T) {
	store := &fakeStore{task: baseTask()}
	eng := pricing.New(store, &fakeWeather{err: context.DeadlineExceeded}, 0)

	est, err := eng.Estimate(context.Background(), pricing.Input{
		TaskID:      store.task.ID,
		RequestedAt: time.Date(2026, 8, 10, 12, 0, 0, 0, time.UTC), // non-holiday daytime
		IsEmergency: true,
		Country:     "US",
	})
	require.NoError(t, err)
	assert.Equal(t, 1.0, est.DynamicMultiplier)
}

func TestEstimate_MultiplierCeilingClamps(t *testing.T) {
	store := &fakeStore{
		task: baseTask(),
		surgeRules: []pricing.SurgeRule{
			{RuleType: "demand_surge", MultiplierMax: 4.0},
		},
	}
	eng := pricing.New(store, &fakeWeather{extreme: true}, 3.0)

	est, err := eng.Estimate(context.Background(), pricing.Input{
		TaskID:      store.task.ID,
		RequestedAt: time.Date(2026, 12, 25, 23, 0, 0, 0, time.UTC),
		IsEmergency: true,
		Country:     "US",
	})
	require.NoError(t, err)
	assert.Equal(t, 3.0, est.DynamicMultiplier)
}

func TestEstimate_MissingBasePriceFailsPricingUnavailable(t *testing.T) {
	task := baseTask()
	task.BasePriceMinCents = nil
	store := &fakeStore{task: task}
	eng := pricing.New(store, nil, 0)

	_, err := eng.Estimate(context.Background(), pricing.Input{TaskID: task.ID, Country: "US"})
	require.Error(t, err)
}

func TestEstimate_CommissionFallsBackToLevelDefaults(t *testing.T) {
	store := &fakeStore{task: baseTask(), commission: nil}
	eng := pricing.New(store, nil, 0)

	est, err := eng.Estimate(context.Background(), pricing.Input{
		TaskID:        store.task.ID,
		Country:       "US",
		ProviderLevel: domain.Level2,
	})
	require.NoError(t, err)
	assert.Equal(t, 0.12, est.CommissionMin)
	assert.Equal(t, 0.18, est.CommissionMax)
}
