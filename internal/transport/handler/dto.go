package handler

import "time"

// CreateJobRequest is the create_job payload. Country and ServiceRegion
// steer SLA and surge-rule resolution; in the absence of a geocoding
// collaborator they are supplied by the client alongside the coordinates
// rather than derived from them.
type CreateJobRequest struct {
	TaskID        string     `json:"task_id" validate:"required,uuid"`
	Lat           float64    `json:"lat" validate:"gte=-90,lte=90"`
	Lng           float64    `json:"lng" validate:"gte=-180,lte=180"`
	Address       *string    `json:"address,omitempty"`
	Country       string     `json:"country" validate:"required,len=2"`
	ServiceRegion string     `json:"service_region"`
	Schedule      *time.Time `json:"schedule,omitempty"`
	Priority      string     `json:"priority" validate:"required,oneof=standard urgent emergency"`
	IsEmergency   bool       `json:"is_emergency"`
	Notes         []string   `json:"notes,omitempty" validate:"max=20,dive,max=1000"`
}

// JobResponse is the representation returned for a single job.
type JobResponse struct {
	ID                 string     `json:"id"`
	Reference          string     `json:"reference"`
	Status             string     `json:"status"`
	TaskID             string     `json:"task_id"`
	Priority           string     `json:"priority"`
	Lat                float64    `json:"lat"`
	Lng                float64    `json:"lng"`
	Address            *string    `json:"address,omitempty"`
	AssignedProviderID *string    `json:"assigned_provider_id,omitempty"`
	PriceMinCents      *int64     `json:"price_min_cents,omitempty"`
	PriceMaxCents      *int64     `json:"price_max_cents,omitempty"`
	FinalPriceCents    *int64     `json:"final_price_cents,omitempty"`
	CommissionCents    *int64     `json:"commission_cents,omitempty"`
	PayoutCents        *int64     `json:"payout_cents,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	ScheduledAt        *time.Time `json:"scheduled_at,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
}

// CancelJobRequest is the cancel_job payload.
type CancelJobRequest struct {
	Reason string `json:"reason" validate:"required,max=1000"`
}

// RateJobRequest is the rate_job payload. The core records this data; the
// compose/review experience around it is a client concern.
type RateJobRequest struct {
	Stars    int     `json:"stars" validate:"required,gte=1,lte=5"`
	Feedback *string `json:"feedback,omitempty" validate:"omitempty,max=1000"`
}

// DeclineOfferRequest is the decline_offer payload.
type DeclineOfferRequest struct {
	Reason *string `json:"reason,omitempty" validate:"omitempty,max=1000"`
}

// MarkEnRouteRequest is the mark_en_route payload.
type MarkEnRouteRequest struct {
	Lat float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lng float64 `json:"lng" validate:"gte=-180,lte=180"`
}

// UpdateLocationRequest is the update_location payload.
type UpdateLocationRequest struct {
	Lat      float64  `json:"lat" validate:"gte=-90,lte=90"`
	Lng      float64  `json:"lng" validate:"gte=-180,lte=180"`
	Heading  *float64 `json:"heading,omitempty" validate:"omitempty,gte=0,lte=360"`
	Speed    *float64 `json:"speed,omitempty" validate:"omitempty,gte=0"`
	Accuracy *float64 `json:"accuracy,omitempty" validate:"omitempty,gte=0"`
}

// SetOnlineRequest is the set_online payload.
type SetOnlineRequest struct {
	Flag bool `json:"flag"`
}

// UploadCredentialRequest is the upload_credential payload. FileRef is an
// opaque pointer into an external document store; the core never reads or
// persists the bytes it names.
type UploadCredentialRequest struct {
	Type    string  `json:"type" validate:"required,oneof=license certification permit training background_check portfolio"`
	FileRef string  `json:"file_ref" validate:"required,max=2048"`
	TaskID  *string `json:"task_id,omitempty" validate:"omitempty,uuid"`
}

// AssignmentResponse is the representation returned for a single offer.
type AssignmentResponse struct {
	ID         string    `json:"id"`
	JobID      string    `json:"job_id"`
	ProviderID string    `json:"provider_id"`
	Status     string    `json:"status"`
	OfferedAt  time.Time `json:"offered_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	MatchScore float64   `json:"match_score"`

	SLAResponseDeadline   time.Time  `json:"sla_response_deadline"`
	SLAArrivalDeadline    *time.Time `json:"sla_arrival_deadline,omitempty"`
	SLACompletionDeadline *time.Time `json:"sla_completion_deadline,omitempty"`
	SLAResponseMet        *bool      `json:"sla_response_met,omitempty"`
	SLAArrivalMet         *bool      `json:"sla_arrival_met,omitempty"`
	SLACompletionMet      *bool      `json:"sla_completion_met,omitempty"`

	EnRouteAt     *time.Time `json:"en_route_at,omitempty"`
	ArrivedAt     *time.Time `json:"arrived_at,omitempty"`
	StartedWorkAt *time.Time `json:"started_work_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// PriceBreakdownResponse is the representation returned for price_breakdown.
type PriceBreakdownResponse struct {
	JobID             string    `json:"job_id"`
	BasePriceMinCents int64     `json:"base_price_min_cents"`
	BasePriceMaxCents int64     `json:"base_price_max_cents"`
	NightMultiplier   float64   `json:"night_multiplier"`
	WeatherMultiplier float64   `json:"weather_multiplier"`
	HolidayMultiplier float64   `json:"holiday_multiplier"`
	DemandMultiplier  float64   `json:"demand_multiplier"`
	FinalPriceCents   int64     `json:"final_price_cents"`
	CommissionRate    float64   `json:"commission_rate"`
	CommissionCents   int64     `json:"commission_cents"`
	PayoutCents       int64     `json:"payout_cents"`
	ComputedAt        time.Time `json:"computed_at"`
}

// RejectCredentialRequest is the reject_credential payload.
type RejectCredentialRequest struct {
	Reason string `json:"reason" validate:"required,max=1000"`
}

// AdjustScoreRequest is the adjust_score payload.
type AdjustScoreRequest struct {
	Delta  float64 `json:"delta"`
	Reason string  `json:"reason" validate:"required,max=1000"`
}

// ReassignRequest is the reassign payload.
type ReassignRequest struct {
	NewProviderID string `json:"new_provider_id" validate:"required,uuid"`
	Reason        string `json:"reason" validate:"required,max=1000"`
}
