package enums

import "fmt"

// GatewayKind identifies which backend protocol owns a billing profile.
type GatewayKind string

const (
	// GatewayKindLegacy is the NVP-style recurring-payments-profile API.
	GatewayKindLegacy GatewayKind = "legacy"
	// GatewayKindREST is the modern REST subscriptions API.
	GatewayKindREST GatewayKind = "rest"
)

var validGatewayKinds = []GatewayKind{
	GatewayKindLegacy,
	GatewayKindREST,
}

// String implements fmt.Stringer.
func (k GatewayKind) String() string {
	return string(k)
}

// IsValid reports whether the value is known.
func (k GatewayKind) IsValid() bool {
	for _, candidate := range validGatewayKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// ParseGatewayKind converts raw input into a GatewayKind.
func ParseGatewayKind(value string) (GatewayKind, error) {
	for _, candidate := range validGatewayKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid gateway kind %q", value)
}
