package domain

import "time"

// Status is the last-known ping state of an endpoint
type Status string

// endpoint statuses, pending is the only legal initial value
const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// interval bounds in minutes, enforced at the entry boundary
const (
	MinIntervalMinutes = 1
	MaxIntervalMinutes = 600
)

// Endpoint represents a user-registered URL checked on its own interval.
// URL keeps the user's original input, normalization happens at ping time.
type Endpoint struct {
	ID              int64
	URL             string
	IntervalMinutes int
	LastPingTime    *time.Time
	Status          Status
	FailCount       int // consecutive failures since the last success
	LastError       string
	EmailEnabled    bool
	EmailAddress    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Due reports whether the endpoint should be pinged at the given moment,
// i.e. it was never pinged or its interval has elapsed since the last attempt.
func (e *Endpoint) Due(now time.Time) bool {
	if e.LastPingTime == nil {
		return true
	}
	return !now.Before(e.LastPingTime.Add(time.Duration(e.IntervalMinutes) * time.Minute))
}
