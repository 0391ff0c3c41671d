package paypal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	paypalsdk "github.com/plutov/paypal/v4"

	"github.com/storefrontlabs/billing-sync/pkg/config"
)

var errRESTCredentialsRequired = errors.New("paypal rest credentials are required")

// RestSubscription is the slice of the REST subscription resource the sync
// engine needs. The raw payload travels alongside it so callers can persist
// an unmodified snapshot.
type RestSubscription struct {
	ID          string          `json:"id"`
	PlanID      string          `json:"plan_id"`
	Status      string          `json:"status"`
	StartTime   string          `json:"start_time"`
	BillingInfo RestBillingInfo `json:"billing_info"`
}

type RestBillingInfo struct {
	NextBillingTime     string               `json:"next_billing_time"`
	FailedPaymentsCount int                  `json:"failed_payments_count"`
	CycleExecutions     []RestCycleExecution `json:"cycle_executions"`
}

type RestCycleExecution struct {
	TenureType      string `json:"tenure_type"`
	CyclesCompleted int    `json:"cycles_completed"`
	TotalCycles     int    `json:"total_cycles"`
}

// PatchOp is one JSON-patch operation against a subscription resource.
type PatchOp struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value,omitempty"`
}

// RestClient wraps the vendor SDK for the REST subscriptions API. Lifecycle
// verbs go through the SDK directly; reads and patches use the SDK's
// authenticated transport against the raw endpoints so the response shape
// stays under our control.
type RestClient struct {
	sdk *paypalsdk.Client
}

// NewRestClient validates credentials, builds the SDK client and primes an
// access token.
func NewRestClient(ctx context.Context, cfg config.PayPalConfig) (*RestClient, error) {
	env := strings.ToLower(strings.TrimSpace(cfg.Environment))
	apiBase := paypalsdk.APIBaseSandBox
	switch env {
	case sandboxEnv:
		apiBase = paypalsdk.APIBaseSandBox
	case productionEnv:
		apiBase = paypalsdk.APIBaseLive
	default:
		return nil, errInvalidEnvironment
	}
	if !cfg.HasREST() {
		return nil, errRESTCredentialsRequired
	}

	sdk, err := paypalsdk.NewClient(cfg.RESTClientID, cfg.RESTSecret, apiBase)
	if err != nil {
		return nil, fmt.Errorf("build paypal rest client: %w", err)
	}
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	sdk.Client = &http.Client{Timeout: timeout}

	if _, err := sdk.GetAccessToken(ctx); err != nil {
		return nil, fmt.Errorf("paypal rest access token: %w", err)
	}
	return &RestClient{sdk: sdk}, nil
}

// GetSubscription fetches the current subscription resource.
func (c *RestClient) GetSubscription(ctx context.Context, subscriptionID string) (*RestSubscription, error) {
	req, err := c.sdk.NewRequest(ctx, http.MethodGet, c.subscriptionURL(subscriptionID), nil)
	if err != nil {
		return nil, fmt.Errorf("build subscription request: %w", err)
	}
	var out RestSubscription
	if err := c.sdk.SendWithAuth(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SuspendSubscription pauses billing on an active subscription.
func (c *RestClient) SuspendSubscription(ctx context.Context, subscriptionID, reason string) error {
	return c.sdk.SuspendSubscription(ctx, subscriptionID, reason)
}

// ActivateSubscription resumes billing on a suspended subscription.
func (c *RestClient) ActivateSubscription(ctx context.Context, subscriptionID, reason string) error {
	return c.sdk.ActivateSubscription(ctx, subscriptionID, reason)
}

// CancelSubscription permanently cancels a subscription.
func (c *RestClient) CancelSubscription(ctx context.Context, subscriptionID, reason string) error {
	return c.sdk.CancelSubscription(ctx, subscriptionID, reason)
}

// PatchSubscription applies JSON-patch operations to a subscription. The
// endpoint returns no body on success.
func (c *RestClient) PatchSubscription(ctx context.Context, subscriptionID string, ops []PatchOp) error {
	if len(ops) == 0 {
		return errors.New("at least one patch op is required")
	}
	req, err := c.sdk.NewRequest(ctx, http.MethodPatch, c.subscriptionURL(subscriptionID), ops)
	if err != nil {
		return fmt.Errorf("build subscription patch: %w", err)
	}
	return c.sdk.SendWithAuth(req, nil)
}

func (c *RestClient) subscriptionURL(subscriptionID string) string {
	return fmt.Sprintf("%s/v1/billing/subscriptions/%s", c.sdk.APIBase, subscriptionID)
}
