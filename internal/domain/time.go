package domain

import "time"

// Date is a calendar date (no time-of-day component), always interpreted in
// UTC. Using time.Time keeps comparisons and storage simple while the Date
// alias documents intent at call sites.
type Date = time.Time
