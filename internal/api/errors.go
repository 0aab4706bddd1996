package api

import "fmt"

// AuthError is returned by the auth endpoints when the server rejects
// credentials. Its message is server-supplied and safe to display.
type AuthError struct {
	StatusCode int
	Message    string
}

func (e *AuthError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("authentication failed (status %d)", e.StatusCode)
}

// APIError is any other non-2xx response. Callers log it and keep their
// last known-good state; it is never surfaced to the user.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("api: %s (status %d)", e.Detail, e.StatusCode)
	}
	return fmt.Sprintf("api: unexpected status code: %d", e.StatusCode)
}
