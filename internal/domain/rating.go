package domain

import "time"

// Rating is the star score and optional free-text feedback a customer
// leaves on a completed job. The compose/review workflow beyond this
// record lives outside the dispatch core.
type Rating struct {
	ID         ID
	JobID      ID
	ProviderID ID
	CustomerID ID
	Stars      int
	Feedback   *string
	CreatedAt  time.Time
}
