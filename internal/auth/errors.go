// Package auth verifies bearer tokens and resolves the caller's identity.
package auth

import "errors"

var (
	// ErrUnauthorized is returned when no token is presented.
	ErrUnauthorized = errors.New("access token required")

	// ErrInvalidToken is returned when a token fails verification or has expired.
	ErrInvalidToken = errors.New("invalid or expired token")

	// ErrNotRegistered is returned when a verified external token belongs to
	// nobody known to the identity provider's database.
	ErrNotRegistered = errors.New("user not registered")

	// ErrUnsupportedAlgorithm is returned for tokens signed with anything but RS256 or HS256.
	ErrUnsupportedAlgorithm = errors.New("unsupported JWT algorithm")

	// ErrStoreUnavailable is returned when the local identity tables cannot be read.
	ErrStoreUnavailable = errors.New("identity store unavailable")

	// ErrNoKeys is returned when no JWKS candidate yields a usable key set.
	ErrNoKeys = errors.New("no reachable JWKS endpoint")

	// ErrKeyNotFound is returned when the token's kid is not in the key set.
	ErrKeyNotFound = errors.New("no matching JWK")
)
