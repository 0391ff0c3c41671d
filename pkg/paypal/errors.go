package paypal

import (
	"errors"
	"net/http"

	paypalsdk "github.com/plutov/paypal/v4"
)

// IsNotFound reports whether a REST error means the resource does not exist.
func IsNotFound(err error) bool {
	var apiErr *paypalsdk.ErrorResponse
	if errors.As(err, &apiErr) && apiErr.Response != nil {
		return apiErr.Response.StatusCode == http.StatusNotFound
	}
	return false
}

// IsRetryable classifies a REST error as transient. Transport-level failures
// (no HTTP response at all) count as retryable; API rejections only when the
// backend itself was at fault or throttling.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *paypalsdk.ErrorResponse
	if errors.As(err, &apiErr) {
		if apiErr.Response == nil {
			return true
		}
		code := apiErr.Response.StatusCode
		return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
	}
	return true
}
