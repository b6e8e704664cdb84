package studio

import (
	"errors"
	"fmt"
)

// Error codes produced locally by the gateway. Remote error codes pass
// through verbatim.
const (
	CodeMissingAuth          = "missing_auth"
	CodeRequestFailed        = "request_failed"
	CodeTimeout              = "timeout"
	CodeNetworkError         = "network_error"
	CodeRetryExhausted       = "retry_exhausted"
	CodeConfirmationRequired = "spend_confirmation_required"
	CodeInsufficientCredits  = "insufficient_credits_precheck"
)

// APIError is the structured failure shape for every gateway operation. It
// carries a machine-readable code, an HTTP-equivalent status, and optional
// structured details for the calling agent.
type APIError struct {
	Code    string `json:"code"`
	Status  int    `json:"status"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%s)", e.Message, e.Code)
}

// NewAPIError builds an APIError without details.
func NewAPIError(message, code string, status int) *APIError {
	return &APIError{Code: code, Status: status, Message: message}
}

// NewAPIErrorWithDetails builds an APIError carrying structured details.
func NewAPIErrorWithDetails(message, code string, status int, details any) *APIError {
	return &APIError{Code: code, Status: status, Message: message, Details: details}
}

// AsAPIError unwraps err into an *APIError when possible.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
