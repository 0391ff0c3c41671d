package enums

import "fmt"

// ProfileStatus is the normalized lifecycle state of a recurring billing
// profile, independent of which backend protocol reported it.
type ProfileStatus string

const (
	ProfileStatusActive    ProfileStatus = "Active"
	ProfileStatusSuspended ProfileStatus = "Suspended"
	ProfileStatusCancelled ProfileStatus = "Cancelled"
	ProfileStatusExpired   ProfileStatus = "Expired"
	ProfileStatusPending   ProfileStatus = "Pending"
	ProfileStatusUnknown   ProfileStatus = "Unknown"
)

var validProfileStatuses = []ProfileStatus{
	ProfileStatusActive,
	ProfileStatusSuspended,
	ProfileStatusCancelled,
	ProfileStatusExpired,
	ProfileStatusPending,
	ProfileStatusUnknown,
}

// String implements fmt.Stringer.
func (s ProfileStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s ProfileStatus) IsValid() bool {
	for _, candidate := range validProfileStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the profile can no longer transition.
func (s ProfileStatus) IsTerminal() bool {
	return s == ProfileStatusCancelled || s == ProfileStatusExpired
}

// ParseProfileStatus converts raw input into a ProfileStatus.
func ParseProfileStatus(value string) (ProfileStatus, error) {
	for _, candidate := range validProfileStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid profile status %q", value)
}
