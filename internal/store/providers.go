package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fielddispatch/gateway/internal/domain"
)

const providerColumns = `
	id, user_id, level, status,
	background_check_status, background_check_date, background_check_expiry,
	internal_score, service_radius_km, home_lat, home_lng,
	max_concurrent_jobs, available_for_emergency, is_online`

func scanProvider(row pgx.Row) (*domain.Provider, error) {
	var p domain.Provider
	err := row.Scan(
		&p.ID, &p.UserID, &p.Level, &p.Status,
		&p.BackgroundCheck.Status, &p.BackgroundCheck.Date, &p.BackgroundCheck.Expiry,
		&p.InternalScore, &p.ServiceRadiusKm, &p.HomeLat, &p.HomeLng,
		&p.MaxConcurrentJobs, &p.AvailableForEmergency, &p.IsOnline,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// QualifiedCandidates implements providermatch.Store: every provider who
// holds an explicit or auto-granted qualification for taskID, excluding the
// job's own customer (a provider account cannot serve its own request).
func (s *Store) QualifiedCandidates(ctx context.Context, taskID, excludeUserID domain.ID) ([]domain.Provider, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+providerColumns+`
		FROM providers p
		JOIN task_qualifications q ON q.provider_id = p.id
		WHERE q.task_id = $1 AND q.qualified = true AND p.user_id != $2`,
		taskID, excludeUserID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

const credentialColumns = `
	id, provider_id, task_id, type, name, status, file_ref,
	issued_date, expiry_date, jurisdiction, submitted_at, decided_at, reject_reason`

func scanCredential(row pgx.Row) (*domain.Credential, error) {
	var c domain.Credential
	err := row.Scan(
		&c.ID, &c.ProviderID, &c.TaskID, &c.Type, &c.Name, &c.Status, &c.FileRef,
		&c.IssuedDate, &c.ExpiryDate, &c.Jurisdiction, &c.SubmittedAt, &c.DecidedAt, &c.RejectReason,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Credentials implements providermatch.Store.
func (s *Store) Credentials(ctx context.Context, providerID domain.ID) ([]domain.Credential, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+credentialColumns+` FROM credentials WHERE provider_id = $1`, providerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// GetCredential fetches a single credential by id.
func (s *Store) GetCredential(ctx context.Context, id domain.ID) (*domain.Credential, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+credentialColumns+` FROM credentials WHERE id = $1`, id)
	return scanCredential(row)
}

// InsertCredential records a provider's submitted verification document.
func (s *Store) InsertCredential(ctx context.Context, c *domain.Credential) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO credentials (id, provider_id, task_id, type, name, status, file_ref, submitted_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		c.ID, c.ProviderID, c.TaskID, c.Type, c.Name, c.Status, c.FileRef, c.SubmittedAt)
	return err
}

// DecideCredential flips a pending_review credential to verified or
// rejected, guarded on the current status so a stale double-decision is a
// no-op rather than a silent overwrite.
func (s *Store) DecideCredential(ctx context.Context, id domain.ID, status domain.CredentialStatus, reason *string, decidedAt time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE credentials SET status = $2, reject_reason = $3, decided_at = $4
		WHERE id = $1 AND status = 'pending_review'`,
		id, status, reason, decidedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// InsurancePolicies implements providermatch.Store.
func (s *Store) InsurancePolicies(ctx context.Context, providerID domain.ID) ([]domain.InsurancePolicy, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, provider_id, policy_type, coverage_cents, effective_date, expiry_date, status
		FROM insurance_policies WHERE provider_id = $1`, providerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.InsurancePolicy
	for rows.Next() {
		var p domain.InsurancePolicy
		if err := rows.Scan(&p.ID, &p.ProviderID, &p.PolicyType, &p.CoverageCents, &p.EffectiveDate, &p.ExpiryDate, &p.Status); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ActiveOnCallShift implements providermatch.Store.
func (s *Store) ActiveOnCallShift(ctx context.Context, providerID domain.ID, asOf time.Time) (*domain.OnCallShift, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, provider_id, shift_start, shift_end, region_type, region_value, status
		FROM on_call_shifts
		WHERE provider_id = $1 AND status = 'active' AND shift_start <= $2 AND shift_end > $2
		LIMIT 1`, providerID, asOf)

	var sh domain.OnCallShift
	err := row.Scan(&sh.ID, &sh.ProviderID, &sh.ShiftStart, &sh.ShiftEnd, &sh.RegionType, &sh.RegionValue, &sh.Status)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sh, nil
}

// ResponseTimeAvgMin implements providermatch.Store, averaging the minutes
// between offer and acceptance over the provider's accepted assignments.
func (s *Store) ResponseTimeAvgMin(ctx context.Context, providerID domain.ID) (*float64, error) {
	var avg *float64
	err := s.pool.QueryRow(ctx, `
		SELECT avg(extract(epoch FROM (responded_at - offered_at)) / 60.0)
		FROM assignments
		WHERE provider_id = $1 AND status = 'accepted' AND responded_at IS NOT NULL`,
		providerID).Scan(&avg)
	if err != nil {
		return nil, err
	}
	return avg, nil
}

// GetProvider fetches a provider profile without locking, for read-only
// handler operations.
func (s *Store) GetProvider(ctx context.Context, id domain.ID) (*domain.Provider, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+providerColumns+` FROM providers WHERE id = $1`, id)
	return scanProvider(row)
}

// GetProviderByUserID resolves the provider profile owned by an
// authenticated user id.
func (s *Store) GetProviderByUserID(ctx context.Context, userID domain.ID) (*domain.Provider, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+providerColumns+` FROM providers WHERE user_id = $1`, userID)
	return scanProvider(row)
}

// SetProviderOnline implements the set_online operation as a direct
// column flip; it does not need the row-lock ceremony LoadProviderForUpdate
// provides because it only ever writes this one field.
func (s *Store) SetProviderOnline(ctx context.Context, providerID domain.ID, online bool) error {
	_, err := s.pool.Exec(ctx, `UPDATE providers SET is_online = $2 WHERE id = $1`, providerID, online)
	return err
}

// LoadProviderForUpdate implements scoring.Store, holding the row lock
// until the matching SaveProvider commits.
func (s *Store) LoadProviderForUpdate(ctx context.Context, providerID domain.ID) (*domain.Provider, error) {
	key := "provider:" + providerID.String()
	tx, err := s.beginFor(ctx, key)
	if err != nil {
		return nil, err
	}
	row := tx.QueryRow(ctx, `SELECT `+providerColumns+` FROM providers WHERE id = $1 FOR UPDATE`, providerID)
	p, err := scanProvider(row)
	if err != nil || p == nil {
		s.abortFor(ctx, key, tx)
		return nil, err
	}
	return p, nil
}

// SaveProvider implements scoring.Store, committing the transaction opened
// by the matching LoadProviderForUpdate.
func (s *Store) SaveProvider(ctx context.Context, p *domain.Provider) error {
	key := "provider:" + p.ID.String()
	tx := s.takeFor(key)
	if tx == nil {
		return errNoOpenTransaction(key)
	}
	_, err := tx.Exec(ctx, `
		UPDATE providers SET
			level = $2, status = $3,
			background_check_status = $4, background_check_date = $5, background_check_expiry = $6,
			internal_score = $7, service_radius_km = $8, home_lat = $9, home_lng = $10,
			max_concurrent_jobs = $11, available_for_emergency = $12, is_online = $13
		WHERE id = $1`,
		p.ID, p.Level, p.Status,
		p.BackgroundCheck.Status, p.BackgroundCheck.Date, p.BackgroundCheck.Expiry,
		p.InternalScore, p.ServiceRadiusKm, p.HomeLat, p.HomeLng,
		p.MaxConcurrentJobs, p.AvailableForEmergency, p.IsOnline,
	)
	if err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// AppendPenaltyRecord implements scoring.Store.
func (s *Store) AppendPenaltyRecord(ctx context.Context, rec domain.PenaltyRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO penalty_records (id, provider_id, job_id, kind, delta_points, reason, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		rec.ID, rec.ProviderID, rec.JobID, rec.Kind, rec.DeltaPoints, rec.Reason, rec.CreatedAt)
	return err
}

// ProvidersEligibleForRecovery implements scoring.Store: every active or
// suspended provider, since a suspended provider below their floor is
// exactly who weekly recovery exists to rehabilitate.
func (s *Store) ProvidersEligibleForRecovery(ctx context.Context, asOf time.Time) ([]domain.ID, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM providers WHERE status IN ('active', 'suspended')`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ID
	for rows.Next() {
		var id domain.ID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// RecentPenaltyCount implements scoring.Store.
func (s *Store) RecentPenaltyCount(ctx context.Context, providerID domain.ID, since time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM penalty_records
		WHERE provider_id = $1 AND created_at > $2 AND kind != 'weekly_recovery' AND kind != 'admin_adjustment'`,
		providerID, since).Scan(&n)
	return n, err
}
