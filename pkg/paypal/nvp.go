package paypal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/storefrontlabs/billing-sync/pkg/config"
)

// The NVP ("name-value pair") API is PayPal's legacy merchant protocol:
// flat form-encoded requests and responses over HTTPS. No maintained Go SDK
// exists for it, so this package carries its own thin transport, mirroring
// how the REST side leans on its vendor SDK.

const (
	nvpVersion = "204.0"

	sandboxEnv    = "sandbox"
	productionEnv = "production"
)

var nvpEndpoints = map[string]string{
	sandboxEnv:    "https://api-3t.sandbox.paypal.com/nvp",
	productionEnv: "https://api-3t.paypal.com/nvp",
}

var (
	errNVPCredentialsRequired = errors.New("paypal nvp credentials are required")
	errInvalidEnvironment     = fmt.Errorf("paypal environment must be %q or %q", sandboxEnv, productionEnv)
)

// NVPResponse is the decoded name-value response body.
type NVPResponse url.Values

// Get returns the first value for the given field.
func (r NVPResponse) Get(field string) string {
	return url.Values(r).Get(field)
}

// Ack returns the normalized ACK field.
func (r NVPResponse) Ack() string {
	return strings.ToLower(r.Get("ACK"))
}

// OK reports whether the call succeeded (Success or SuccessWithWarning).
func (r NVPResponse) OK() bool {
	return strings.HasPrefix(r.Ack(), "success")
}

// ErrorMessage returns the first error long message, falling back to the
// short message and error code.
func (r NVPResponse) ErrorMessage() string {
	if msg := r.Get("L_LONGMESSAGE0"); msg != "" {
		return msg
	}
	if msg := r.Get("L_SHORTMESSAGE0"); msg != "" {
		return msg
	}
	return r.Get("L_ERRORCODE0")
}

// ErrorCode returns the first NVP error code, empty on success.
func (r NVPResponse) ErrorCode() string {
	return r.Get("L_ERRORCODE0")
}

// NVPClient speaks the legacy recurring-payments-profile API.
type NVPClient struct {
	httpClient *http.Client
	endpoint   string
	user       string
	password   string
	signature  string
}

// NewNVPClient validates credentials and builds a legacy API client.
func NewNVPClient(cfg config.PayPalConfig) (*NVPClient, error) {
	env := strings.ToLower(strings.TrimSpace(cfg.Environment))
	endpoint, ok := nvpEndpoints[env]
	if !ok {
		return nil, errInvalidEnvironment
	}
	if !cfg.HasNVP() {
		return nil, errNVPCredentialsRequired
	}
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &NVPClient{
		httpClient: &http.Client{Timeout: timeout},
		endpoint:   endpoint,
		user:       cfg.NVPUser,
		password:   cfg.NVPPassword,
		signature:  cfg.NVPSignature,
	}, nil
}

// Call issues one NVP method with the given parameters. Transport and decode
// failures come back as errors; API-level failures are in the response's ACK.
func (c *NVPClient) Call(ctx context.Context, method string, params url.Values) (NVPResponse, error) {
	if method == "" {
		return nil, errors.New("nvp method is required")
	}
	form := url.Values{}
	for key, values := range params {
		for _, v := range values {
			form.Add(key, v)
		}
	}
	form.Set("METHOD", method)
	form.Set("VERSION", nvpVersion)
	form.Set("USER", c.user)
	form.Set("PWD", c.password)
	form.Set("SIGNATURE", c.signature)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build nvp request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("nvp %s: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read nvp response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("nvp %s: unexpected status %d", method, resp.StatusCode)
	}

	decoded, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("decode nvp response: %w", err)
	}
	return NVPResponse(decoded), nil
}

// GetProfileDetails fetches the current state of a recurring profile.
func (c *NVPClient) GetProfileDetails(ctx context.Context, profileID string) (NVPResponse, error) {
	params := url.Values{}
	params.Set("PROFILEID", profileID)
	return c.Call(ctx, "GetRecurringPaymentsProfileDetails", params)
}

// ManageProfileStatus issues a lifecycle action (Cancel, Suspend or
// Reactivate) against a recurring profile.
func (c *NVPClient) ManageProfileStatus(ctx context.Context, profileID, action, note string) (NVPResponse, error) {
	params := url.Values{}
	params.Set("PROFILEID", profileID)
	params.Set("ACTION", action)
	if note != "" {
		params.Set("NOTE", note)
	}
	return c.Call(ctx, "ManageRecurringPaymentsProfileStatus", params)
}

// UpdateProfile mutates fields on a recurring profile.
func (c *NVPClient) UpdateProfile(ctx context.Context, profileID string, fields url.Values) (NVPResponse, error) {
	params := url.Values{}
	for key, values := range fields {
		for _, v := range values {
			params.Add(key, v)
		}
	}
	params.Set("PROFILEID", profileID)
	return c.Call(ctx, "UpdateRecurringPaymentsProfile", params)
}
