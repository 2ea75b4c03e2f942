package predictor

import (
	"errors"
	"fmt"
	"time"
)

// ErrMissingAPIKey is wrapped by the AuthError returned when no API key was configured.
var ErrMissingAPIKey = errors.New("IBM API key is missing (set IBM_API_KEY)")

// APIError represents a non-2xx answer from the identity or deployment endpoint.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Raw        map[string]any
	RequestID  string
}

func (e *APIError) Error() string {
	s := fmt.Sprintf("api error: status=%d", e.StatusCode)
	if e.Code != "" {
		s += " code=" + e.Code
	}
	if e.RequestID != "" {
		s += " request_id=" + e.RequestID
	}
	if e.Message != "" {
		s += " message=" + e.Message
	}
	return s
}

// AuthError indicates the token exchange failed or the deployment rejected the token (401/403).
type AuthError struct {
	*APIError
	Err error
}

func (e *AuthError) Error() string {
	if e.APIError == nil {
		if e.Err == nil {
			return "authentication failed"
		}
		return fmt.Sprintf("authentication failed: %v", e.Err)
	}
	return fmt.Sprintf("authentication failed: %s", e.APIError.Error())
}

func (e *AuthError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	if e.APIError != nil {
		return e.APIError
	}
	return nil
}

// RateLimitError indicates 429 responses and may include a Retry-After.
type RateLimitError struct {
	*APIError
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited: wait about %ds before retrying: %s", int(e.RetryAfter.Seconds()), e.APIError.Error())
	}
	return fmt.Sprintf("rate limited: %s", e.APIError.Error())
}

func (e *RateLimitError) Unwrap() error { return e.APIError }

// DeploymentNotFoundError indicates the deployment URL does not name a live deployment.
type DeploymentNotFoundError struct{ *APIError }

func (e *DeploymentNotFoundError) Error() string {
	return fmt.Sprintf("deployment not found: %s", e.APIError.Error())
}

func (e *DeploymentNotFoundError) Unwrap() error { return e.APIError }

// BadRequestError indicates the deployment refused the payload (400/422).
type BadRequestError struct{ *APIError }

func (e *BadRequestError) Error() string { return fmt.Sprintf("bad request: %s", e.APIError.Error()) }

func (e *BadRequestError) Unwrap() error { return e.APIError }

// ServerError indicates 5xx errors from the hosted service.
type ServerError struct{ *APIError }

func (e *ServerError) Error() string { return fmt.Sprintf("provider error: %s", e.APIError.Error()) }

func (e *ServerError) Unwrap() error { return e.APIError }

// ResponseError indicates a 2xx answer whose body does not have the expected shape.
type ResponseError struct {
	Stage string
	Msg   string
	Err   error
}

func (e *ResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unexpected %s response: %s: %v", e.Stage, e.Msg, e.Err)
	}
	return fmt.Sprintf("unexpected %s response: %s", e.Stage, e.Msg)
}

func (e *ResponseError) Unwrap() error { return e.Err }

// UnreachableError indicates the endpoint could not be contacted at all.
type UnreachableError struct {
	Host string
	Err  error
}

func (e *UnreachableError) Error() string {
	if e == nil {
		return "unreachable"
	}
	if e.Host != "" {
		return fmt.Sprintf("endpoint unreachable at %s: %v", e.Host, e.Err)
	}
	return fmt.Sprintf("endpoint unreachable: %v", e.Err)
}

func (e *UnreachableError) Unwrap() error { return e.Err }
