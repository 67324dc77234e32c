package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrNetwork indicates a transport failure reaching a collaborator service.
	ErrNetwork = errors.New("network failure")
	// ErrUnauthenticated indicates the session is missing or expired.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrPermissionDenied indicates the actor lacks the required capability.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrCSRFTokenMissing occurs when CSRF token missing.
	ErrCSRFTokenMissing = errors.New("csrf token missing")
	// ErrCSRFTokenMismatch occurs when CSRF tokens do not match.
	ErrCSRFTokenMismatch = errors.New("csrf token mismatch")
)
