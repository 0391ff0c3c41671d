package enums

import "fmt"

// RefreshJobState tracks a queue job through its claim lifecycle.
type RefreshJobState string

const (
	RefreshJobStatePending RefreshJobState = "pending"
	RefreshJobStateLocked  RefreshJobState = "locked"
	RefreshJobStateDone    RefreshJobState = "done"
	// RefreshJobStateDead marks jobs whose attempts exceeded the ceiling.
	// They are never claimed again unless an operator requeues them.
	RefreshJobStateDead RefreshJobState = "dead"
)

var validRefreshJobStates = []RefreshJobState{
	RefreshJobStatePending,
	RefreshJobStateLocked,
	RefreshJobStateDone,
	RefreshJobStateDead,
}

// String implements fmt.Stringer.
func (s RefreshJobState) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s RefreshJobState) IsValid() bool {
	for _, candidate := range validRefreshJobStates {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseRefreshJobState converts raw input into a RefreshJobState.
func ParseRefreshJobState(value string) (RefreshJobState, error) {
	for _, candidate := range validRefreshJobStates {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid refresh job state %q", value)
}
