package auth

import "errors"

// Recipient token failures.
var (
	ErrUnauthorized = errors.New("auth: unauthorized")
	ErrForbidden    = errors.New("auth: forbidden")
	ErrInvalidToken = errors.New("auth: invalid token")
)

// Streaming worker callback failures. All map to 401.
var (
	ErrIngestNotConfigured = errors.New("auth: ingest secret not configured")
	ErrIngestUnsigned      = errors.New("auth: missing ingest signature")
	ErrIngestExpired       = errors.New("auth: ingest signature outside allowed skew")
	ErrIngestSignature     = errors.New("auth: invalid ingest signature")
)
