package appointments

import (
	"fmt"
	"strings"
	"time"

	"clinic-booking/internal/domain/apperr"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusRefused  Status = "refused"
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusPending, StatusAccepted, StatusRefused:
		return st, nil
	default:
		return "", fmt.Errorf("%w: unknown appointment status %q", apperr.ErrInvalid, s)
	}
}

// Policy decides which status changes SetStatus accepts.
type Policy string

const (
	// PolicyStrict follows the lifecycle: pending -> accepted | refused, then terminal.
	PolicyStrict Policy = "strict"
	// PolicyLenient accepts any status at any time, so staff can correct mistakes.
	PolicyLenient Policy = "lenient"
)

var transitions = map[Status][]Status{
	StatusPending: {StatusAccepted, StatusRefused},
}

func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicyStrict, nil
	case PolicyStrict, PolicyLenient:
		return p, nil
	default:
		return "", fmt.Errorf("unknown appointment status policy %q", s)
	}
}

// Allows reports whether from -> to is a legal change. Re-setting the current
// status is always allowed.
func (p Policy) Allows(from, to Status) bool {
	if p == PolicyLenient || from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

var datetimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// ParseDatetime reads an ISO-8601 date-time. Values without a zone are UTC.
func ParseDatetime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: appointment_datetime is required", apperr.ErrInvalid)
	}
	for _, layout := range datetimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: appointment_datetime %q is not an ISO-8601 date-time", apperr.ErrInvalid, s)
}
