package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fielddispatch/gateway/internal/domain"
	"github.com/fielddispatch/gateway/internal/sla"
)

const jobColumns = `
	id, reference, customer_id, task_id, priority, status, description, lat, lng, address, notes, requested_at,
	assigned_provider_id, required_level,
	sla_profile_id, sla_response_time_min, sla_arrival_time_min, sla_completion_time_min,
	sla_penalty_enabled, sla_penalty_per_min_cents, sla_penalty_cap_cents, sla_captured_at,
	price_min_cents, price_max_cents, final_price_cents, commission_rate, commission_cents, payout_cents,
	created_at, offered_at, scheduled_at, en_route_at, arrived_at, started_at, completed_at, cancelled_at,
	cancel_reason, version`

func scanJob(row pgx.Row) (*domain.Job, error) {
	var j domain.Job
	var slaProfileID *domain.ID
	var slaResponse, slaArrival, slaCompletion *int
	var slaPenaltyEnabled *bool
	var slaPenaltyPerMin, slaPenaltyCap *int64
	var slaCapturedAt *time.Time

	err := row.Scan(
		&j.ID, &j.Reference, &j.CustomerID, &j.TaskID, &j.Priority, &j.Status, &j.Description, &j.Lat, &j.Lng, &j.Address, &j.Notes, &j.RequestedAt,
		&j.AssignedProviderID, &j.RequiredLevel,
		&slaProfileID, &slaResponse, &slaArrival, &slaCompletion,
		&slaPenaltyEnabled, &slaPenaltyPerMin, &slaPenaltyCap, &slaCapturedAt,
		&j.PriceMinCents, &j.PriceMaxCents, &j.FinalPriceCents, &j.CommissionRate, &j.CommissionCents, &j.PayoutCents,
		&j.CreatedAt, &j.OfferedAt, &j.ScheduledAt, &j.EnRouteAt, &j.ArrivedAt, &j.StartedAt, &j.CompletedAt, &j.CancelledAt,
		&j.CancelReason, &j.Version,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if slaProfileID != nil {
		j.SLASnapshot = &domain.SLASnapshot{
			SLAProfileID:       *slaProfileID,
			ResponseTimeMin:    deref(slaResponse),
			ArrivalTimeMin:     slaArrival,
			CompletionTimeMin:  slaCompletion,
			PenaltyEnabled:     slaPenaltyEnabled != nil && *slaPenaltyEnabled,
			PenaltyPerMinCents: slaPenaltyPerMin,
			PenaltyCapCents:    slaPenaltyCap,
			CapturedAt:         deref(slaCapturedAt),
		}
	}
	return &j, nil
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

// LoadJobForUpdate implements lifecycle.Store. It opens a transaction keyed
// by the job id, issues a SELECT ... FOR UPDATE on it, and parks the
// transaction for the matching SaveJob to commit.
func (s *Store) LoadJobForUpdate(ctx context.Context, jobID domain.ID) (*domain.Job, error) {
	key := "job:" + jobID.String()
	tx, err := s.beginFor(ctx, key)
	if err != nil {
		return nil, err
	}
	row := tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1 FOR UPDATE`, jobID)
	job, err := scanJob(row)
	if err != nil || job == nil {
		s.abortFor(ctx, key, tx)
		return nil, err
	}
	return job, nil
}

// SaveJob implements lifecycle.Store, committing the transaction opened by
// the matching LoadJobForUpdate.
func (s *Store) SaveJob(ctx context.Context, job *domain.Job) error {
	key := "job:" + job.ID.String()
	tx := s.takeFor(key)
	if tx == nil {
		return errNoOpenTransaction(key)
	}

	var slaProfileID *domain.ID
	var slaResponse, slaArrival, slaCompletion *int
	var slaPenaltyEnabled *bool
	var slaPenaltyPerMin, slaPenaltyCap *int64
	var slaCapturedAt *time.Time
	if job.SLASnapshot != nil {
		snap := job.SLASnapshot
		slaProfileID = &snap.SLAProfileID
		slaResponse = &snap.ResponseTimeMin
		slaArrival = snap.ArrivalTimeMin
		slaCompletion = snap.CompletionTimeMin
		slaPenaltyEnabled = &snap.PenaltyEnabled
		slaPenaltyPerMin = snap.PenaltyPerMinCents
		slaPenaltyCap = snap.PenaltyCapCents
		slaCapturedAt = &snap.CapturedAt
	}

	_, err := tx.Exec(ctx, `
		UPDATE jobs SET
			customer_id = $2, task_id = $3, priority = $4, status = $5, description = $6,
			lat = $7, lng = $8, address = $9, assigned_provider_id = $10, required_level = $11,
			sla_profile_id = $12, sla_response_time_min = $13, sla_arrival_time_min = $14, sla_completion_time_min = $15,
			sla_penalty_enabled = $16, sla_penalty_per_min_cents = $17, sla_penalty_cap_cents = $18, sla_captured_at = $19,
			price_min_cents = $20, price_max_cents = $21, final_price_cents = $22, commission_rate = $23, commission_cents = $24, payout_cents = $25,
			offered_at = $26, scheduled_at = $27, en_route_at = $28, arrived_at = $29, started_at = $30,
			completed_at = $31, cancelled_at = $32, cancel_reason = $33, version = $34
		WHERE id = $1`,
		job.ID, job.CustomerID, job.TaskID, job.Priority, job.Status, job.Description,
		job.Lat, job.Lng, job.Address, job.AssignedProviderID, job.RequiredLevel,
		slaProfileID, slaResponse, slaArrival, slaCompletion,
		slaPenaltyEnabled, slaPenaltyPerMin, slaPenaltyCap, slaCapturedAt,
		job.PriceMinCents, job.PriceMaxCents, job.FinalPriceCents, job.CommissionRate, job.CommissionCents, job.PayoutCents,
		job.OfferedAt, job.ScheduledAt, job.EnRouteAt, job.ArrivedAt, job.StartedAt,
		job.CompletedAt, job.CancelledAt, job.CancelReason, job.Version,
	)
	if err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// InsertJob creates a new job row in draft status, used by the create_job
// operation ahead of any lifecycle transition.
func (s *Store) InsertJob(ctx context.Context, job *domain.Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO jobs (
			id, reference, customer_id, task_id, priority, status, description, lat, lng, address, notes, requested_at, required_level,
			price_min_cents, price_max_cents, final_price_cents, commission_rate, commission_cents, payout_cents,
			created_at, version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)`,
		job.ID, job.Reference, job.CustomerID, job.TaskID, job.Priority, job.Status, job.Description,
		job.Lat, job.Lng, job.Address, job.Notes, job.RequestedAt, job.RequiredLevel,
		job.PriceMinCents, job.PriceMaxCents, job.FinalPriceCents, job.CommissionRate, job.CommissionCents, job.PayoutCents,
		job.CreatedAt, job.Version,
	)
	return err
}

// GetJob fetches a job without locking, for read-only handler operations.
func (s *Store) GetJob(ctx context.Context, jobID domain.ID) (*domain.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, jobID)
	return scanJob(row)
}

// ListActiveJobsForCustomer implements the list_active_jobs operation:
// every job belonging to the customer that has not reached a terminal
// status.
func (s *Store) ListActiveJobsForCustomer(ctx context.Context, customerID domain.ID) ([]domain.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE customer_id = $1
		  AND status NOT IN ('completed', 'cancelled_by_customer', 'cancelled_by_provider', 'cancelled_by_system', 'refunded')
		ORDER BY created_at DESC`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

// ReferenceExists implements refgen.Exists against the jobs table.
func (s *Store) ReferenceExists(ctx context.Context, ref string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT exists(SELECT 1 FROM jobs WHERE reference = $1)`, ref).Scan(&exists)
	return exists, err
}

// InsertPricingEvent persists the append-only pricing audit record
// produced at job creation.
func (s *Store) InsertPricingEvent(ctx context.Context, ev *domain.PricingEvent) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO pricing_events (
			id, job_id, task_id, base_price_min_cents, base_price_max_cents,
			night_multiplier, weather_multiplier, holiday_multiplier, demand_multiplier,
			final_min_cents, final_max_cents, final_price_cents, commission_rate, commission_cents, payout_cents, computed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		ev.ID, ev.JobID, ev.TaskID, ev.BasePriceMinCents, ev.BasePriceMaxCents,
		ev.NightMultiplier, ev.WeatherMultiplier, ev.HolidayMultiplier, ev.DemandMultiplier,
		ev.FinalMinCents, ev.FinalMaxCents, ev.FinalPriceCents, ev.CommissionRate, ev.CommissionCents, ev.PayoutCents, ev.ComputedAt)
	return err
}

const pricingEventColumns = `
	id, job_id, task_id, base_price_min_cents, base_price_max_cents,
	night_multiplier, weather_multiplier, holiday_multiplier, demand_multiplier,
	final_min_cents, final_max_cents, final_price_cents, commission_rate, commission_cents, payout_cents, computed_at`

// LatestPricingEvent implements pricing.Store: the most recent pricing
// audit record for a job, or nil if none was ever captured.
func (s *Store) LatestPricingEvent(ctx context.Context, jobID domain.ID) (*domain.PricingEvent, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+pricingEventColumns+` FROM pricing_events
		WHERE job_id = $1 ORDER BY computed_at DESC LIMIT 1`, jobID)

	var ev domain.PricingEvent
	err := row.Scan(
		&ev.ID, &ev.JobID, &ev.TaskID, &ev.BasePriceMinCents, &ev.BasePriceMaxCents,
		&ev.NightMultiplier, &ev.WeatherMultiplier, &ev.HolidayMultiplier, &ev.DemandMultiplier,
		&ev.FinalMinCents, &ev.FinalMaxCents, &ev.FinalPriceCents, &ev.CommissionRate, &ev.CommissionCents, &ev.PayoutCents, &ev.ComputedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

// InsertRating persists the append-only star rating a customer leaves on a
// completed job.
func (s *Store) InsertRating(ctx context.Context, r *domain.Rating) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO job_ratings (id, job_id, provider_id, customer_id, stars, feedback, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		r.ID, r.JobID, r.ProviderID, r.CustomerID, r.Stars, r.Feedback, r.CreatedAt)
	return err
}

// ListPendingOffersForProvider implements the list_pending_offers
// operation.
func (s *Store) ListPendingOffersForProvider(ctx context.Context, providerID domain.ID) ([]domain.Assignment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+assignmentColumns+` FROM assignments
		WHERE provider_id = $1 AND status = 'offered' ORDER BY offered_at DESC`, providerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

const assignmentColumns = `
	id, job_id, provider_id, status, offered_at, responded_at, expires_at, decline_reason, is_reassignment,
	match_score, sla_response_deadline, sla_arrival_deadline, sla_completion_deadline,
	sla_response_met, sla_arrival_met, sla_completion_met,
	en_route_at, arrived_at, started_work_at, completed_at`

func scanAssignment(row pgx.Row) (*domain.Assignment, error) {
	var a domain.Assignment
	err := row.Scan(
		&a.ID, &a.JobID, &a.ProviderID, &a.Status, &a.OfferedAt, &a.RespondedAt, &a.ExpiresAt, &a.DeclineReason, &a.IsReassignment,
		&a.MatchScore, &a.SLAResponseDeadline, &a.SLAArrivalDeadline, &a.SLACompletionDeadline,
		&a.SLAResponseMet, &a.SLAArrivalMet, &a.SLACompletionMet,
		&a.EnRouteAt, &a.ArrivedAt, &a.StartedWorkAt, &a.CompletedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// InsertOffers implements assignment.Store.
func (s *Store) InsertOffers(ctx context.Context, offers []domain.Assignment) error {
	if len(offers) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, o := range offers {
		batch.Queue(`
			INSERT INTO assignments (id, job_id, provider_id, status, offered_at, expires_at, is_reassignment, match_score, sla_response_deadline)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			o.ID, o.JobID, o.ProviderID, o.Status, o.OfferedAt, o.ExpiresAt, o.IsReassignment, o.MatchScore, o.SLAResponseDeadline)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range offers {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// LoadOffer implements assignment.Store.
func (s *Store) LoadOffer(ctx context.Context, jobID, providerID domain.ID) (*domain.Assignment, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+assignmentColumns+` FROM assignments WHERE job_id = $1 AND provider_id = $2 ORDER BY offered_at DESC LIMIT 1`, jobID, providerID)
	return scanAssignment(row)
}

// AcceptOffer implements assignment.Store as a single conditional update:
// the WHERE clause guards on status = 'offered' and on the job still being
// matched or pending_match, so concurrent callers on different connections
// race the UPDATE itself rather than a load/modify/save window, and
// exactly one can ever affect a row.
func (s *Store) AcceptOffer(ctx context.Context, assignmentID, jobID domain.ID, respondedAt time.Time, responseMet bool) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE assignments SET status = 'accepted', responded_at = $3, sla_response_met = $4
		WHERE id = $1 AND job_id = $2 AND status = 'offered'
		  AND EXISTS (SELECT 1 FROM jobs WHERE id = $2 AND status IN ('matched', 'pending_match'))`,
		assignmentID, jobID, respondedAt, responseMet)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// SetAssignmentArrivalDeadline implements assignment.Store. Called once
// acceptance has already won the exclusivity race, so a plain update
// suffices.
func (s *Store) SetAssignmentArrivalDeadline(ctx context.Context, assignmentID domain.ID, deadline *time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE assignments SET sla_arrival_deadline = $2 WHERE id = $1`, assignmentID, deadline)
	return err
}

// SetAssignmentEnRoute implements assignment.Store.
func (s *Store) SetAssignmentEnRoute(ctx context.Context, assignmentID domain.ID, enRouteAt time.Time, completionDeadline *time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE assignments SET en_route_at = $2, sla_completion_deadline = $3 WHERE id = $1`,
		assignmentID, enRouteAt, completionDeadline)
	return err
}

// SetAssignmentArrival implements assignment.Store.
func (s *Store) SetAssignmentArrival(ctx context.Context, assignmentID domain.ID, arrivedAt time.Time, met bool) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE assignments SET arrived_at = $2, sla_arrival_met = $3 WHERE id = $1`,
		assignmentID, arrivedAt, met)
	return err
}

// SetAssignmentStarted implements assignment.Store.
func (s *Store) SetAssignmentStarted(ctx context.Context, assignmentID domain.ID, startedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE assignments SET started_work_at = $2 WHERE id = $1`, assignmentID, startedAt)
	return err
}

// SetAssignmentCompleted implements assignment.Store.
func (s *Store) SetAssignmentCompleted(ctx context.Context, assignmentID domain.ID, completedAt time.Time, met bool) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE assignments SET completed_at = $2, sla_completion_met = $3 WHERE id = $1`,
		assignmentID, completedAt, met)
	return err
}

// DeclineOtherOffers implements assignment.Store.
func (s *Store) DeclineOtherOffers(ctx context.Context, jobID, acceptedAssignmentID domain.ID, respondedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE assignments SET status = 'revoked', responded_at = $3
		WHERE job_id = $1 AND id != $2 AND status = 'offered'`,
		jobID, acceptedAssignmentID, respondedAt)
	return err
}

// DeclineOffer implements assignment.Store.
func (s *Store) DeclineOffer(ctx context.Context, assignmentID domain.ID, reason *string, respondedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE assignments SET status = 'declined', decline_reason = $2, responded_at = $3
		WHERE id = $1 AND status = 'offered'`,
		assignmentID, reason, respondedAt)
	return err
}

// OutstandingOfferCount implements assignment.Store.
func (s *Store) OutstandingOfferCount(ctx context.Context, jobID domain.ID) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM assignments WHERE job_id = $1 AND status = 'offered'`, jobID).Scan(&n)
	return n, err
}

// ExpireOffers implements assignment.Store: flips every offer whose
// expires_at has passed to expired and returns the affected rows so the
// caller can resolve which jobs need to fall back to pending_match.
func (s *Store) ExpireOffers(ctx context.Context, asOf time.Time) ([]domain.Assignment, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE assignments SET status = 'expired'
		WHERE status = 'offered' AND expires_at <= $1
		RETURNING `+assignmentColumns, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// CancelActiveOffers implements assignment.Store.
func (s *Store) CancelActiveOffers(ctx context.Context, jobID domain.ID, reason *string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE assignments SET status = 'revoked', decline_reason = $2
		WHERE job_id = $1 AND status IN ('offered', 'accepted')`,
		jobID, reason)
	return err
}

// PendingDeadlines implements sla.Store, scanning every active job's SLA
// snapshot for the next unmet deadline.
func (s *Store) PendingDeadlines(ctx context.Context) ([]sla.PendingDeadline, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, status, offered_at, en_route_at,
			sla_response_time_min, sla_arrival_time_min, sla_completion_time_min
		FROM jobs
		WHERE status IN ('matched', 'pending_approval', 'provider_accepted', 'provider_en_route', 'in_progress')
		  AND sla_profile_id IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []sla.PendingDeadline
	for rows.Next() {
		var jobID domain.ID
		var status domain.JobStatus
		var offeredAt, enRouteAt *time.Time
		var responseMin int
		var arrivalMin, completionMin *int
		if err := rows.Scan(&jobID, &status, &offeredAt, &enRouteAt, &responseMin, &arrivalMin, &completionMin); err != nil {
			return nil, err
		}

		snap := &domain.SLASnapshot{ResponseTimeMin: responseMin, ArrivalTimeMin: arrivalMin, CompletionTimeMin: completionMin}
		switch status {
		case domain.JobMatched:
			out = append(out, sla.PendingDeadline{JobID: jobID, Kind: sla.DeadlineResponse, Deadline: sla.ResponseDeadline(snap, deref(offeredAt))})
		case domain.JobProviderAccepted, domain.JobPendingApproval:
			if d := sla.ArrivalDeadline(snap, deref(offeredAt)); d != nil {
				out = append(out, sla.PendingDeadline{JobID: jobID, Kind: sla.DeadlineArrival, Deadline: *d})
			}
		case domain.JobProviderEnRoute, domain.JobInProgress:
			if enRouteAt != nil {
				if d := sla.CompletionDeadline(snap, *enRouteAt); d != nil {
					out = append(out, sla.PendingDeadline{JobID: jobID, Kind: sla.DeadlineCompletion, Deadline: *d})
				}
			}
		}
	}
	return out, rows.Err()
}

type errNoOpenTransaction string

func (e errNoOpenTransaction) Error() string {
	return "store: no open transaction for " + string(e)
}
