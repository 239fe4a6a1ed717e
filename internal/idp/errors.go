// errors.go defines the failure types of the identity provider gateway. A ProviderError
// means the provider answered (or could not be reached) for an admin call; an
// AuthenticationError means no access token could be obtained in the first place.
package idp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"golang.org/x/oauth2"
)

// ProviderError is a failed admin API call. StatusCode is 0 when no response arrived.
// Resent is set when an earlier attempt of the same call got no response, so the
// provider may already have applied the request.
type ProviderError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
	Resent     bool
}

func (e *ProviderError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("identity provider %s failed: %v", e.Op, e.Err)
	}
	if e.Body != "" {
		return fmt.Sprintf("identity provider %s failed with status %d: %s", e.Op, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("identity provider %s failed with status %d", e.Op, e.StatusCode)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Transient reports whether the call may succeed if repeated: 5xx, 429 and transport
// failures. Cancellation is never transient.
func (e *ProviderError) Transient() bool {
	if e.StatusCode == 0 {
		return isNetworkError(e.Err)
	}
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Conflict reports a 409 from the provider (the org or user already exists)
func (e *ProviderError) Conflict() bool {
	return e.StatusCode == http.StatusConflict
}

// AuthenticationError is a failure to obtain a service token from the token endpoint.
type AuthenticationError struct {
	StatusCode int
	Err        error
}

func (e *AuthenticationError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("could not authenticate to identity provider (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("could not authenticate to identity provider: %v", e.Err)
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// Transient reports whether the token endpoint itself was unavailable, as opposed to
// rejecting the client credentials.
func (e *AuthenticationError) Transient() bool {
	if e.StatusCode == 0 {
		return isNetworkError(e.Err)
	}
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

func newAuthenticationError(err error) *AuthenticationError {
	ae := &AuthenticationError{Err: err}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		ae.StatusCode = re.Response.StatusCode
	}
	return ae
}

// IsTransient reports whether err is a gateway error worth retrying
func IsTransient(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Transient()
	}
	var ae *AuthenticationError
	if errors.As(err, &ae) {
		return ae.Transient()
	}
	return false
}

// MayHaveApplied reports whether a failed call could still have taken effect on the
// provider: the request went out and no definitive rejection came back. Token failures
// never reach the admin API.
func MayHaveApplied(err error) bool {
	var ae *AuthenticationError
	if errors.As(err, &ae) {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Resent || pe.StatusCode == 0 || pe.StatusCode < 400 || pe.StatusCode >= 500
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func isNetworkError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		// Per-attempt timeout; the caller's own deadline is checked by the retry loop.
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
