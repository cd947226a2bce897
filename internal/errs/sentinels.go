// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across token/session layers.
var (
	// ErrTokenInvalid indicates a malformed, premature, or expired bearer token.
	// Sessions treat it as "no identity yet", never as a client-visible error.
	ErrTokenInvalid = errors.New("token invalid")
)
