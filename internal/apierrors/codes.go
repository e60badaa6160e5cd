// Package apierrors defines the closed set of machine-readable error codes returned by the HTTP API. Route handlers
// pair each code with one HTTP status; the application's fallback error handler maps Fiber's own errors to the closest
// code, so VALIDATION_ERROR and INTERNAL_ERROR can also accompany other 4xx and 5xx statuses.
package apierrors

// Code is a machine-readable error identifier included in every error response body.
type Code string

const (
	ValidationError    Code = "VALIDATION_ERROR"
	Unauthorised       Code = "UNAUTHORISED"
	AccountSuspended   Code = "ACCOUNT_SUSPENDED"
	MissingPermissions Code = "MISSING_PERMISSIONS"
	NotFound           Code = "NOT_FOUND"
	Conflict           Code = "CONFLICT"
	RateLimited        Code = "RATE_LIMITED"
	ServiceUnavailable Code = "SERVICE_UNAVAILABLE"
	InternalError      Code = "INTERNAL_ERROR"
)
