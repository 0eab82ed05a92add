package eventbus

import (
	"time"

	"github.com/fielddispatch/gateway/internal/domain"
)

// JobCreated is published when a new job enters the draft/pending_match
// pipeline.
type JobCreated struct {
	JobID      domain.ID
	CustomerID domain.ID
	TaskID     domain.ID
	At         time.Time
}

func (JobCreated) eventKind() string { return "job_created" }

// SlaSnapshotCaptured is published when a job's SLA snapshot is copied
// from the catalog at creation time.
type SlaSnapshotCaptured struct {
	JobID      domain.ID
	SLAProfileID *domain.ID
	At         time.Time
}

func (SlaSnapshotCaptured) eventKind() string { return "sla_snapshot_captured" }

// JobStatusChanged is published on every successful lifecycle transition.
type JobStatusChanged struct {
	JobID domain.ID
	Old   domain.JobStatus
	New   domain.JobStatus
	Actor string
	At    time.Time
}

func (JobStatusChanged) eventKind() string { return "job_status_changed" }

// JobCompleted is published when a job enters the completed state.
type JobCompleted struct {
	JobID domain.ID
	At    time.Time
}

func (JobCompleted) eventKind() string { return "job_completed" }

// JobCancelled is published when a job enters any cancelled_* state.
type JobCancelled struct {
	JobID domain.ID
	By    string
	At    time.Time
}

func (JobCancelled) eventKind() string { return "job_cancelled" }

// ProviderAssigned is published when an assignment reaches accepted.
type ProviderAssigned struct {
	JobID      domain.ID
	ProviderID domain.ID
	At         time.Time
}

func (ProviderAssigned) eventKind() string { return "provider_assigned" }

// ProviderReassigned is published when an admin reassigns a job to a new
// provider.
type ProviderReassigned struct {
	JobID         domain.ID
	OldProviderID *domain.ID
	NewProviderID domain.ID
	Reason        string
	At            time.Time
}

func (ProviderReassigned) eventKind() string { return "provider_reassigned" }

// SlaWarning is published by the deadline scanner when a commitment is
// close to breach.
type SlaWarning struct {
	JobID            domain.ID
	Kind             string
	MinutesRemaining int
	At               time.Time
}

func (SlaWarning) eventKind() string { return "sla_warning" }

// PenaltyApplied is published whenever the scoring ledger deducts points.
type PenaltyApplied struct {
	ProviderID  domain.ID
	JobID       *domain.ID
	Kind        string
	DeltaPoints float64
	NewScore    float64
	At          time.Time
}

func (PenaltyApplied) eventKind() string { return "penalty_applied" }

// ScoreRecovered is published by the weekly normalization pass.
type ScoreRecovered struct {
	ProviderID  domain.ID
	DeltaPoints float64
	NewScore    float64
	At          time.Time
}

func (ScoreRecovered) eventKind() string { return "score_recovered" }
