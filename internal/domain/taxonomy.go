package domain

// ProviderLevel is the provider tier, 1-4. Level 4 is on-call emergency.
type ProviderLevel int

const (
	Level1 ProviderLevel = 1
	Level2 ProviderLevel = 2
	Level3 ProviderLevel = 3
	Level4 ProviderLevel = 4
)

// Valid reports whether l is one of the four defined levels.
func (l ProviderLevel) Valid() bool {
	return l >= Level1 && l <= Level4
}

// Task is an entry in the closed service-task catalog. Immutable within a
// job's lifetime.
type Task struct {
	ID                  ID
	CategoryID          ID
	Slug                string
	Name                string
	RequiredLevel       ProviderLevel
	Regulated           bool
	LicenseRequired     bool
	Hazardous           bool
	Structural          bool
	EmergencyEligible   bool
	BasePriceMinCents   *int64
	BasePriceMaxCents   *int64
	EstimatedDurationMin *int
	EscalationKeywords  []string
	Active              bool
}

// HasBasePrice reports whether the task carries a usable base price range.
func (t *Task) HasBasePrice() bool {
	return t.BasePriceMinCents != nil && t.BasePriceMaxCents != nil
}

// RegionType names the kind of region an SLA profile is scoped to. Its
// specificity order comes from Specificity(), not from the constant value;
// RegionCustomZone ranks lowest there (0).
type RegionType int

const (
	RegionCountry RegionType = iota
	RegionProvince
	RegionCity
	RegionPostalPrefix
	RegionCustomZone
)

// Specificity returns a rank used to break SLA resolution ties: more
// specific region types outrank less specific ones.
func (r RegionType) Specificity() int {
	switch r {
	case RegionPostalPrefix:
		return 4
	case RegionCity:
		return 3
	case RegionProvince:
		return 2
	case RegionCountry:
		return 1
	default:
		return 0
	}
}

// SLAProfile is a region-scoped set of response/arrival/completion targets.
type SLAProfile struct {
	ID                  ID
	Level               ProviderLevel
	RegionType          RegionType
	RegionValue         string
	Country             string
	TaskID              *ID
	ResponseTimeMin     int
	ArrivalTimeMin      *int
	CompletionTimeMin   *int
	PenaltyEnabled      bool
	PenaltyPerMinCents  *int64
	PenaltyCapCents     *int64
	EffectiveFrom       Date
	EffectiveUntil      *Date
	PriorityOrder       int
	Active              bool
}
