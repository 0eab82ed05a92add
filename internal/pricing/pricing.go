// Package pricing computes dynamic price estimates and definitive pricing
// events for jobs. Multipliers stack only for emergency requests; standard
// requests always price at the task's base range.
package pricing

import (
	"context"
	"math"
	"time"

	"github.com/fielddispatch/gateway/internal/apperr"
	"github.com/fielddispatch/gateway/internal/domain"
)

const (
	nightMultiplier          = 1.5
	extremeWeatherMultiplier = 2.0
	holidayExactMultiplier   = 2.5
	holidayAdjacentMultiplier = 1.5
	weekendMultiplier        = 1.25
	regularMultiplier        = 1.0
	defaultMultiplierCeiling = 5.0
)

var nightStart = 22 * 60 // minutes since midnight
var nightEnd = 6 * 60

// holidays lists fixed (month, day) calendar dates observed for the
// holiday/peak surcharge, independent of year.
var holidays = []struct{ Month, Day int }{
	{1, 1},   // New Year's Day
	{7, 4},   // Independence Day
	{11, 11}, // Veterans Day
	{12, 25}, // Christmas
	{12, 31}, // New Year's Eve
}

// levelCommissionDefaults is the static fallback commission range per
// provider level, used when no CommissionSchedule row is active.
var levelCommissionDefaults = map[domain.ProviderLevel]struct{ Min, Max, Default float64 }{
	domain.Level1: {0.15, 0.20, 0.20},
	domain.Level2: {0.12, 0.18, 0.18},
	domain.Level3: {0.10, 0.15, 0.15},
	domain.Level4: {0.05, 0.10, 0.10},
}

// WeatherOracle reports current conditions for a coordinate pair. A timeout
// or error is treated as non-extreme per spec.
type WeatherOracle interface {
	GetConditions(ctx context.Context, lat, lng float64) (isExtreme bool, description string, err error)
}

// SurgeRule is a configured pricing rule scoped to a task/level/country
// combination.
type SurgeRule struct {
	RuleType     string // demand_surge | level_premium | distance_adjustment
	MultiplierMax float64
}

// CommissionSchedule is the active commission configuration for a level and
// country, if one has been configured.
type CommissionSchedule struct {
	MinRate     float64
	MaxRate     float64
	DefaultRate float64
}

// Store is the persistence seam for pricing lookups.
type Store interface {
	GetTask(ctx context.Context, id domain.ID) (*domain.Task, error)
	ActiveSurgeRules(ctx context.Context, taskID domain.ID, level domain.ProviderLevel, country string) ([]SurgeRule, error)
	ActiveCommissionSchedule(ctx context.Context, level domain.ProviderLevel, country string) (*CommissionSchedule, error)
	GetJob(ctx context.Context, jobID domain.ID) (*domain.Job, error)
	LatestPricingEvent(ctx context.Context, jobID domain.ID) (*domain.PricingEvent, error)
}

// Engine computes price estimates and definitive pricing events.
type Engine struct {
	store             Store
	weather           WeatherOracle
	multiplierCeiling float64
}

// New builds a pricing Engine. ceiling is the configurable dynamic
// multiplier cap (spec default 5.0); pass 0 to use the default.
func New(store Store, weather WeatherOracle, ceiling float64) *Engine {
	if ceiling <= 0 {
		ceiling = defaultMultiplierCeiling
	}
	return &Engine{store: store, weather: weather, multiplierCeiling: ceiling}
}

// MultiplierDetail records one applied multiplier for audit/display.
type MultiplierDetail struct {
	Kind       string
	Multiplier float64
}

// Estimate is the output of a pricing computation.
type Estimate struct {
	BaseMinCents      int64
	BaseMaxCents      int64
	DynamicMultiplier float64
	MultiplierDetails []MultiplierDetail
	FinalMinCents     int64
	FinalMaxCents     int64
	CommissionMin     float64
	CommissionMax     float64
	CommissionDefault float64
	PayoutMinCents    int64
	PayoutMaxCents    int64
	Currency          string
}

// Input bundles the parameters needed to price a job.
type Input struct {
	TaskID        domain.ID
	Lat, Lng      float64
	RequestedAt   time.Time
	IsEmergency   bool
	Country       string
	ProviderLevel domain.ProviderLevel
}

// Estimate computes a PriceEstimate for the given input.
func (e *Engine) Estimate(ctx context.Context, in Input) (*Estimate, error) {
	task, err := e.store.GetTask(ctx, in.TaskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, apperr.New(apperr.KindNotFound, "task not found")
	}
	if !task.HasBasePrice() {
		return nil, apperr.New(apperr.KindPricingUnavailable, "task has no base price range")
	}

	combined := 1.0
	var details []MultiplierDetail

	if in.IsEmergency {
		if m := nightSurcharge(in.RequestedAt); m > 1.0 {
			combined *= m
			details = append(details, MultiplierDetail{"night", m})
		}

		if e.weather != nil {
			isExtreme, _, werr := e.weather.GetConditions(ctx, in.Lat, in.Lng)
			if werr == nil && isExtreme {
				combined *= extremeWeatherMultiplier
				details = append(details, MultiplierDetail{"extreme_weather", extremeWeatherMultiplier})
			}
			// werr != nil (including context deadline) is treated as non-extreme.
		}

		if m := holidayMultiplier(in.RequestedAt); m > 1.0 {
			combined *= m
			details = append(details, MultiplierDetail{"holiday", m})
		}

		rules, rerr := e.store.ActiveSurgeRules(ctx, in.TaskID, in.ProviderLevel, in.Country)
		if rerr == nil {
			for _, r := range rules {
				switch r.RuleType {
				case "demand_surge", "level_premium", "distance_adjustment":
					combined *= r.MultiplierMax
					details = append(details, MultiplierDetail{r.RuleType, r.MultiplierMax})
				}
			}
		}
	}

	if combined > e.multiplierCeiling {
		combined = e.multiplierCeiling
	}

	baseMin := *task.BasePriceMinCents
	baseMax := *task.BasePriceMaxCents

	finalMin := roundBankers(float64(baseMin) * combined)
	finalMax := roundBankers(float64(baseMax) * combined)

	sched, cerr := e.store.ActiveCommissionSchedule(ctx, in.ProviderLevel, in.Country)
	var commission struct{ Min, Max, Default float64 }
	if cerr == nil && sched != nil {
		commission.Min, commission.Max, commission.Default = sched.MinRate, sched.MaxRate, sched.DefaultRate
	} else {
		commission = levelCommissionDefaults[in.ProviderLevel]
	}

	payoutMin := roundBankers(float64(finalMin) * (1 - commission.Max))
	payoutMax := roundBankers(float64(finalMax) * (1 - commission.Min))

	return &Estimate{
		BaseMinCents:      baseMin,
		BaseMaxCents:      baseMax,
		DynamicMultiplier: combined,
		MultiplierDetails: details,
		FinalMinCents:     finalMin,
		FinalMaxCents:     finalMax,
		CommissionMin:     commission.Min,
		CommissionMax:     commission.Max,
		CommissionDefault: commission.Default,
		PayoutMinCents:    payoutMin,
		PayoutMaxCents:    payoutMax,
		Currency:          "USD",
	}, nil
}

// CapturePricingEvent re-invokes Estimate and derives the definitive event
// recorded on job creation: final price is the midpoint of the range and
// commission uses the schedule default rather than min/max.
func (e *Engine) CapturePricingEvent(ctx context.Context, jobID domain.ID, in Input) (*domain.PricingEvent, error) {
	est, err := e.Estimate(ctx, in)
	if err != nil {
		return nil, err
	}

	finalPrice := roundBankers(float64(est.FinalMinCents+est.FinalMaxCents) / 2)

	// Commission is banker's-rounded independently; payout is the exact
	// residual so commission_cents + payout_cents == final_price_cents
	// always holds, with no penny lost to rounding.
	commissionCents := roundBankers(float64(finalPrice) * est.CommissionDefault)
	payoutCents := finalPrice - commissionCents

	var night, weather, holiday, demand float64 = 1.0, 1.0, 1.0, 1.0
	for _, d := range est.MultiplierDetails {
		switch d.Kind {
		case "night":
			night = d.Multiplier
		case "extreme_weather":
			weather = d.Multiplier
		case "holiday":
			holiday = d.Multiplier
		default:
			demand *= d.Multiplier
		}
	}

	return &domain.PricingEvent{
		ID:                domain.NewID(),
		JobID:             jobID,
		TaskID:            in.TaskID,
		BasePriceMinCents: est.BaseMinCents,
		BasePriceMaxCents: est.BaseMaxCents,
		NightMultiplier:   night,
		WeatherMultiplier: weather,
		HolidayMultiplier: holiday,
		DemandMultiplier:  demand,
		FinalMinCents:     est.FinalMinCents,
		FinalMaxCents:     est.FinalMaxCents,
		FinalPriceCents:   finalPrice,
		CommissionRate:    est.CommissionDefault,
		CommissionCents:   commissionCents,
		PayoutCents:       payoutCents,
		ComputedAt:        time.Now().UTC(),
	}, nil
}

// Breakdown is the reconstructed pricing rationale for a job: what base
// range, what multipliers, and what commission/payout split produced its
// price. It favors the most recent PricingEvent and falls back to the
// job's own persisted fields when no event was ever recorded.
type Breakdown struct {
	JobID             domain.ID
	BasePriceMinCents int64
	BasePriceMaxCents int64
	NightMultiplier   float64
	WeatherMultiplier float64
	HolidayMultiplier float64
	DemandMultiplier  float64
	FinalPriceCents   int64
	CommissionRate    float64
	CommissionCents   int64
	PayoutCents       int64
	ComputedAt        time.Time
}

// Breakdown reconstructs a job's pricing rationale on demand: the most
// recent PricingEvent if one was recorded, otherwise the job's own
// persisted pricing fields with a neutral (1.0) multiplier set, since a
// job with no event never had surge or holiday pricing applied.
func (e *Engine) Breakdown(ctx context.Context, jobID domain.ID) (*Breakdown, error) {
	ev, err := e.store.LatestPricingEvent(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if ev != nil {
		return &Breakdown{
			JobID:             jobID,
			BasePriceMinCents: ev.BasePriceMinCents,
			BasePriceMaxCents: ev.BasePriceMaxCents,
			NightMultiplier:   ev.NightMultiplier,
			WeatherMultiplier: ev.WeatherMultiplier,
			HolidayMultiplier: ev.HolidayMultiplier,
			DemandMultiplier:  ev.DemandMultiplier,
			FinalPriceCents:   ev.FinalPriceCents,
			CommissionRate:    ev.CommissionRate,
			CommissionCents:   ev.CommissionCents,
			PayoutCents:       ev.PayoutCents,
			ComputedAt:        ev.ComputedAt,
		}, nil
	}

	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, apperr.New(apperr.KindNotFound, "job not found")
	}

	b := &Breakdown{
		JobID:             jobID,
		BasePriceMinCents: deref(job.PriceMinCents),
		BasePriceMaxCents: deref(job.PriceMaxCents),
		NightMultiplier:   1.0,
		WeatherMultiplier: 1.0,
		HolidayMultiplier: 1.0,
		DemandMultiplier:  1.0,
		FinalPriceCents:   deref(job.FinalPriceCents),
		CommissionRate:    deref(job.CommissionRate),
		CommissionCents:   deref(job.CommissionCents),
		PayoutCents:       deref(job.PayoutCents),
		ComputedAt:        job.CreatedAt,
	}
	return b, nil
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

func nightSurcharge(t time.Time) float64 {
	minutes := t.Hour()*60 + t.Minute()
	if minutes >= nightStart || minutes < nightEnd {
		return nightMultiplier
	}
	return 1.0
}

// holidayMultiplier applies exact precedence: an exact listed holiday beats
// its adjacent days, which beat a plain weekend, which beats a regular day.
func holidayMultiplier(t time.Time) float64 {
	if isHoliday(t) {
		return holidayExactMultiplier
	}
	if isHoliday(t.AddDate(0, 0, -1)) || isHoliday(t.AddDate(0, 0, 1)) {
		return holidayAdjacentMultiplier
	}
	if wd := t.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return weekendMultiplier
	}
	return regularMultiplier
}

func isHoliday(t time.Time) bool {
	for _, h := range holidays {
		if int(t.Month()) == h.Month && t.Day() == h.Day {
			return true
		}
	}
	return false
}

// roundBankers rounds v to the nearest integer using round-half-to-even,
// matching the spec's commission/price rounding requirement.
func roundBankers(v float64) int64 {
	floor := math.Floor(v)
	diff := v - floor
	switch {
	case diff < 0.5:
		return int64(floor)
	case diff > 0.5:
		return int64(floor) + 1
	default:
		if int64(floor)%2 == 0 {
			return int64(floor)
		}
		return int64(floor) + 1
	}
}
