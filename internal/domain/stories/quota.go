package stories

import "time"

// QuotaSnapshot is the owner's monthly creation allowance at a point in time.
// Limit and Remaining are nil for unlimited owners.
type QuotaSnapshot struct {
	StoriesCreatedThisMonth int       `json:"stories_created_this_month"`
	Limit                   *int      `json:"limit"`
	Remaining               *int      `json:"remaining"`
	ResetDate               time.Time `json:"reset_date"`
	IsUnlimited             bool      `json:"is_unlimited"`
	CanCreate               bool      `json:"can_create"`
}

// NewQuotaSnapshot derives Remaining and CanCreate from usage and limit.
func NewQuotaSnapshot(created int, limit *int, reset time.Time) QuotaSnapshot {
	q := QuotaSnapshot{
		StoriesCreatedThisMonth: created,
		ResetDate:               reset,
	}
	if limit == nil {
		q.IsUnlimited = true
		q.CanCreate = true
		return q
	}
	l := *limit
	rem := l - created
	if rem < 0 {
		rem = 0
	}
	q.Limit = &l
	q.Remaining = &rem
	q.CanCreate = rem > 0
	return q
}

// MonthWindow returns the first instant of now's month and of the next one (UTC).
func MonthWindow(now time.Time) (start, reset time.Time) {
	now = now.UTC()
	start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}
