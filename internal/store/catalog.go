package store

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/fielddispatch/gateway/internal/domain"
	"github.com/fielddispatch/gateway/internal/pricing"
)

// GetTask implements catalog.Store and pricing.Store.
func (s *Store) GetTask(ctx context.Context, id domain.ID) (*domain.Task, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, category_id, slug, name, required_level, regulated, license_required,
			hazardous, structural, emergency_eligible, base_price_min_cents, base_price_max_cents,
			estimated_duration_min, escalation_keywords, active
		FROM tasks WHERE id = $1`, id)

	var t domain.Task
	err := row.Scan(
		&t.ID, &t.CategoryID, &t.Slug, &t.Name, &t.RequiredLevel, &t.Regulated, &t.LicenseRequired,
		&t.Hazardous, &t.Structural, &t.EmergencyEligible, &t.BasePriceMinCents, &t.BasePriceMaxCents,
		&t.EstimatedDurationMin, &t.EscalationKeywords, &t.Active,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ActiveSLAProfiles implements catalog.Store: every active profile scoped
// to the given level and country, left for the caller to narrow by task
// and region.
func (s *Store) ActiveSLAProfiles(ctx context.Context, level domain.ProviderLevel, country string) ([]domain.SLAProfile, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, level, region_type, region_value, country, task_id,
			response_time_min, arrival_time_min, completion_time_min,
			penalty_enabled, penalty_per_min_cents, penalty_cap_cents,
			effective_from, effective_until, priority_order, active
		FROM sla_profiles
		WHERE level = $1 AND country = $2 AND active = true
		  AND effective_from <= now() AND (effective_until IS NULL OR effective_until >= now())`,
		level, country)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.SLAProfile
	for rows.Next() {
		var p domain.SLAProfile
		if err := rows.Scan(
			&p.ID, &p.Level, &p.RegionType, &p.RegionValue, &p.Country, &p.TaskID,
			&p.ResponseTimeMin, &p.ArrivalTimeMin, &p.CompletionTimeMin,
			&p.PenaltyEnabled, &p.PenaltyPerMinCents, &p.PenaltyCapCents,
			&p.EffectiveFrom, &p.EffectiveUntil, &p.PriorityOrder, &p.Active,
		); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ActiveSurgeRules implements pricing.Store.
func (s *Store) ActiveSurgeRules(ctx context.Context, taskID domain.ID, level domain.ProviderLevel, country string) ([]pricing.SurgeRule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT rule_type, multiplier_max FROM surge_rules
		WHERE (task_id IS NULL OR task_id = $1) AND level = $2 AND country = $3 AND active = true`,
		taskID, level, country)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []pricing.SurgeRule
	for rows.Next() {
		var r pricing.SurgeRule
		if err := rows.Scan(&r.RuleType, &r.MultiplierMax); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ActiveCommissionSchedule implements pricing.Store.
func (s *Store) ActiveCommissionSchedule(ctx context.Context, level domain.ProviderLevel, country string) (*pricing.CommissionSchedule, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT min_rate, max_rate, default_rate FROM commission_schedules
		WHERE level = $1 AND country = $2 AND active = true
		ORDER BY effective_from DESC LIMIT 1`, level, country)

	var c pricing.CommissionSchedule
	err := row.Scan(&c.MinRate, &c.MaxRate, &c.DefaultRate)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
