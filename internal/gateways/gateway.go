package gateways

import (
	"context"
	"strings"
	"time"

	"github.com/storefrontlabs/billing-sync/pkg/db/models"
	"github.com/storefrontlabs/billing-sync/pkg/enums"
)

// Result is the normalized envelope every gateway operation returns. Callers
// never see backend-specific response shapes; each adapter translates its
// protocol's native fields into this one.
type Result struct {
	Success bool
	Status  enums.ProfileStatus
	// Profile is the raw backend snapshot, flattened for storage.
	Profile map[string]any
	Message string
	// Retryable marks failures worth requeueing (timeouts, 5xx, rate
	// limits). Credential and not-found failures are not retryable.
	Retryable bool
	// RetryAfter optionally overrides the caller's default backoff.
	RetryAfter time.Duration
	Source     enums.GatewayKind
}

// PaymentSource identifies the funding instrument to attach to a profile.
type PaymentSource struct {
	Token string `json:"token"`
	Type  string `json:"type,omitempty"`
}

// ProfileGateway is the uniform capability set over one backend protocol.
type ProfileGateway interface {
	Kind() enums.GatewayKind
	CancelProfile(ctx context.Context, sub *models.Subscription, note string) Result
	SuspendProfile(ctx context.Context, sub *models.Subscription, note string) Result
	ReactivateProfile(ctx context.Context, sub *models.Subscription, note string) Result
	GetProfileStatus(ctx context.Context, sub *models.Subscription) Result
	UpdateBillingCycles(ctx context.Context, sub *models.Subscription, billingCycles int) Result
	UpdatePaymentSource(ctx context.Context, sub *models.Subscription, source PaymentSource) Result
}

func failure(kind enums.GatewayKind, message string, retryable bool) Result {
	return Result{
		Success:   false,
		Status:    enums.ProfileStatusUnknown,
		Message:   message,
		Retryable: retryable,
		Source:    kind,
	}
}

// statusAliases maps both backends' raw status vocabulary onto the shared
// enumeration. Legacy reports mixed-case words, REST screams in snake case.
var statusAliases = map[string]enums.ProfileStatus{
	"ACTIVE":           enums.ProfileStatusActive,
	"ACTIVEPROFILE":    enums.ProfileStatusActive,
	"SUSPENDED":        enums.ProfileStatusSuspended,
	"SUSPENDEDPROFILE": enums.ProfileStatusSuspended,
	"CANCELLED":        enums.ProfileStatusCancelled,
	"CANCELED":         enums.ProfileStatusCancelled,
	"EXPIRED":          enums.ProfileStatusExpired,
	"PENDING":          enums.ProfileStatusPending,
	"PENDINGPROFILE":   enums.ProfileStatusPending,
	"APPROVAL_PENDING": enums.ProfileStatusPending,
	"APPROVED":         enums.ProfileStatusPending,
}

// NormalizeStatus maps a backend status string onto the shared enumeration,
// returning Unknown for anything unrecognized.
func NormalizeStatus(raw string) enums.ProfileStatus {
	normalized := strings.ToUpper(strings.TrimSpace(raw))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	normalized = strings.ReplaceAll(normalized, " ", "_")
	if normalized == "" {
		return enums.ProfileStatusUnknown
	}
	if mapped, ok := statusAliases[normalized]; ok {
		return mapped
	}
	return enums.ProfileStatusUnknown
}
