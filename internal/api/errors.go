package api

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	ErrAuth  = errors.New("poschodech authentication failed")
	ErrFetch = errors.New("poschodech data fetch failed")
)

// AuthError is returned when either step of the login exchange fails.
type AuthError struct {
	Step       string // "login" or "changeunit"
	StatusCode int    // 0 when no response was received
	Body       string
	Err        error
}

func (e *AuthError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", ErrAuth, e.Step, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: %s: HTTP %d %s", ErrAuth, e.Step, e.StatusCode, e.Body)
	default:
		return fmt.Sprintf("%s: %s", ErrAuth, e.Step)
	}
}

func (e *AuthError) Unwrap() error { return e.Err }

func (e *AuthError) Is(target error) bool { return target == ErrAuth }

// FetchError is returned when the daily readings request fails.
type FetchError struct {
	StatusCode int // 0 when no response was received
	Body       string
	Err        error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", ErrFetch, e.Err)
	}
	return fmt.Sprintf("%s: HTTP %d %s", ErrFetch, e.StatusCode, e.Body)
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) Is(target error) bool { return target == ErrFetch }

// Failure reasons reported by Classify
const (
	ReasonInvalidAuth    = "invalid_auth"
	ReasonCannotConnect  = "cannot_connect"
	ReasonUnexpectedData = "unexpected_data"
	ReasonUnknown        = "unknown"
)

var ErrUnexpectedData = errors.New("unexpected response payload")

// Classify maps an error from the client to a coarse reason suitable for
// showing to whoever configured the credentials.
func Classify(err error) string {
	if err == nil {
		return ""
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) {
		return ReasonCannotConnect
	}

	var authErr *AuthError
	if errors.As(err, &authErr) {
		if authErr.Err != nil {
			return ReasonUnexpectedData
		}
		return ReasonInvalidAuth
	}

	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		if fetchErr.StatusCode == 401 || fetchErr.StatusCode == 403 {
			return ReasonInvalidAuth
		}
		if fetchErr.StatusCode >= 500 {
			return ReasonCannotConnect
		}
		return ReasonUnexpectedData
	}

	if errors.Is(err, ErrUnexpectedData) {
		return ReasonUnexpectedData
	}

	return ReasonUnknown
}
