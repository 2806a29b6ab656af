package notifications

import "errors"

var (
	// ErrContentNotFound indicates no content is seeded for an incident type.
	ErrContentNotFound = errors.New("notification: content not found")
	// ErrRecipientNotFound indicates a missing recipient.
	ErrRecipientNotFound = errors.New("notification: recipient not found")
	// ErrInvalidDeviceToken indicates an empty device token registration.
	ErrInvalidDeviceToken = errors.New("notification: invalid device token")

	// ErrGatewayFailed means the push gateway call failed before any record was written.
	ErrGatewayFailed = errors.New("notification: push gateway failed")
	// ErrGatewayResultMismatch means the gateway returned a result slice of the wrong length.
	ErrGatewayResultMismatch = errors.New("notification: gateway result count mismatch")
	// ErrDispatchUnrecorded means pushes were handed to the gateway but delivery
	// records could not be committed. Callers must reconcile, not resend.
	ErrDispatchUnrecorded = errors.New("notification: dispatched but not recorded")
	// ErrAlreadyDispatched means a fan-out for the incident was already claimed.
	ErrAlreadyDispatched = errors.New("notification: incident already dispatched")
	// ErrRedispatchUnavailable means no dispatch claim could be taken, so a
	// retried fan-out cannot be told apart from a duplicate.
	ErrRedispatchUnavailable = errors.New("notification: redispatch unavailable without dispatch claims")
)
