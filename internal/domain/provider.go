package domain

import "time"

// ProviderStatus is the lifecycle state of a provider profile.
type ProviderStatus string

const (
	ProviderOnboarding    ProviderStatus = "onboarding"
	ProviderPendingReview ProviderStatus = "pending_review"
	ProviderActive        ProviderStatus = "active"
	ProviderSuspended     ProviderStatus = "suspended"
	ProviderInactive      ProviderStatus = "inactive"
)

// BackgroundCheckStatus is the state of a provider's background check.
type BackgroundCheckStatus string

const (
	BackgroundNotSubmitted BackgroundCheckStatus = "not_submitted"
	BackgroundPending      BackgroundCheckStatus = "pending"
	BackgroundCleared      BackgroundCheckStatus = "cleared"
	BackgroundFlagged      BackgroundCheckStatus = "flagged"
	BackgroundExpired      BackgroundCheckStatus = "expired"
	BackgroundRejected     BackgroundCheckStatus = "rejected"
)

// BackgroundCheck is the embedded background-check state on a provider profile.
type BackgroundCheck struct {
	Status BackgroundCheckStatus
	Date   *time.Time
	Expiry *time.Time
}

// Valid reports whether the background check is currently cleared and, if it
// carries an expiry, that the expiry has not passed as of `asOf`.
func (b BackgroundCheck) Valid(asOf time.Time) bool {
	if b.Status != BackgroundCleared {
		return false
	}
	if b.Expiry != nil && b.Expiry.Before(asOf) {
		return false
	}
	return true
}

// Provider is a field-service provider profile. InternalScore is
// authoritative and mutated only by the scoring ledger (internal/scoring).
type Provider struct {
	ID                  ID
	UserID              ID
	Level               ProviderLevel
	Status              ProviderStatus
	BackgroundCheck     BackgroundCheck
	InternalScore       float64
	ServiceRadiusKm     float64
	HomeLat             *float64
	HomeLng             *float64
	MaxConcurrentJobs   int
	AvailableForEmergency bool
	IsOnline            bool
}

// HasHomeCoordinates reports whether the provider can be geo-filtered.
func (p *Provider) HasHomeCoordinates() bool {
	return p.HomeLat != nil && p.HomeLng != nil
}

// CredentialType enumerates the kinds of verification documents a provider
// can hold.
type CredentialType string

const (
	CredentialLicense         CredentialType = "license"
	CredentialCertification   CredentialType = "certification"
	CredentialPermit          CredentialType = "permit"
	CredentialTraining        CredentialType = "training"
	CredentialBackgroundCheck CredentialType = "background_check"
	CredentialPortfolio       CredentialType = "portfolio"
)

// CredentialStatus is the verification state of a credential.
type CredentialStatus string

const (
	CredentialPendingReview CredentialStatus = "pending_review"
	CredentialVerified      CredentialStatus = "verified"
	CredentialRejected      CredentialStatus = "rejected"
	CredentialExpired       CredentialStatus = "expired"
	CredentialRevoked       CredentialStatus = "revoked"
)

// Credential is a verification document attached to a provider. FileRef
// is an opaque pointer into whatever external document store holds the
// uploaded file; the core never reads or stores the bytes themselves.
type Credential struct {
	ID           ID
	ProviderID   ID
	TaskID       *ID
	Type         CredentialType
	Name         string
	Status       CredentialStatus
	FileRef      string
	IssuedDate   *time.Time
	ExpiryDate   *time.Time
	Jurisdiction *string
	SubmittedAt  time.Time
	DecidedAt    *time.Time
	RejectReason *string
}

// Valid reports whether the credential is verified and not expired as of asOf.
func (c *Credential) Valid(asOf time.Time) bool {
	if c.Status != CredentialVerified {
		return false
	}
	if c.ExpiryDate != nil && c.ExpiryDate.Before(asOf) {
		return false
	}
	return true
}

// InsuranceStatus is the verification state of an insurance policy.
type InsuranceStatus string

const (
	InsurancePendingReview InsuranceStatus = "pending_review"
	InsuranceVerified      InsuranceStatus = "verified"
	InsuranceExpired       InsuranceStatus = "expired"
	InsuranceCancelled     InsuranceStatus = "cancelled"
	InsuranceRejected      InsuranceStatus = "rejected"
)

// InsurancePolicy covers a provider for liability during service calls.
type InsurancePolicy struct {
	ID             ID
	ProviderID     ID
	PolicyType     string
	CoverageCents  int64
	EffectiveDate  time.Time
	ExpiryDate     time.Time
	Status         InsuranceStatus
}

// Valid reports whether the policy is verified and currently in its
// effective window.
func (p *InsurancePolicy) Valid(asOf time.Time) bool {
	if p.Status != InsuranceVerified {
		return false
	}
	return !p.EffectiveDate.After(asOf) && asOf.Before(p.ExpiryDate)
}

// OnCallStatus is the state of a scheduled emergency shift.
type OnCallStatus string

const (
	OnCallScheduled OnCallStatus = "scheduled"
	OnCallActive    OnCallStatus = "active"
	OnCallCompleted OnCallStatus = "completed"
	OnCallCancelled OnCallStatus = "cancelled"
	OnCallNoShow    OnCallStatus = "no_show"
)

// OnCallShift is a scheduled window during which a Level-4 provider commits
// to emergency dispatch eligibility.
type OnCallShift struct {
	ID          ID
	ProviderID  ID
	ShiftStart  time.Time
	ShiftEnd    time.Time
	RegionType  RegionType
	RegionValue string
	Status      OnCallStatus
}

// CoversNow reports whether the shift is active and covers the instant asOf.
func (s *OnCallShift) CoversNow(asOf time.Time) bool {
	return s.Status == OnCallActive && !s.ShiftStart.After(asOf) && asOf.Before(s.ShiftEnd)
}

// TaskQualification records whether a provider may accept a given task.
type TaskQualification struct {
	ProviderID  ID
	TaskID      ID
	Qualified   bool
	QualifiedAt *time.Time
	AutoGranted bool
}
