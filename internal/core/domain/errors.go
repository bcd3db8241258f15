package domain

import "errors"

// Cloud transport error taxonomy. Adapters map HTTP/GraphQL failures onto
// these so the core can classify without knowing the backend.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
	ErrRateLimited  = errors.New("rate limited")
	ErrTransient    = errors.New("transient backend error")
	ErrMalformed    = errors.New("malformed backend response")
)

// Fatal startup errors. These abort the process; nothing retries them.
var (
	ErrConfiguration   = errors.New("configuration error")
	ErrDeviceNotFound  = errors.New("no sauna device found")
	ErrDeviceAmbiguous = errors.New("more than one sauna device found")
)

// Command failure reasons surfaced to the accessory layer.
var (
	ErrInvalidValue   = errors.New("value outside attribute range")
	ErrUnavailable    = errors.New("device unavailable")
	ErrSuperseded     = errors.New("superseded by a newer command")
	ErrCommandTimeout = errors.New("no confirmation before timeout")
	ErrShuttingDown   = errors.New("shutting down")
)

// Retryable reports whether an error is worth another attempt. Invalid
// credentials and malformed payloads are not.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrRateLimited)
}

// AuthSuspect reports whether a failure smells like an expired or rejected
// token, in which case the session should be refreshed before retrying.
func AuthSuspect(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}
