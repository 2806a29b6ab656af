package incidents

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates a missing incident record.
	ErrNotFound = errors.New("incident: not found")
	// ErrStreamNotFound indicates the referenced stream does not exist.
	ErrStreamNotFound = errors.New("incident: stream not found")

	// ErrInvalidInput is wrapped by every validation failure.
	ErrInvalidInput = errors.New("incident: invalid input")

	ErrInvalidType      = fmt.Errorf("%w: unknown incident type", ErrInvalidInput)
	ErrInvalidDate      = fmt.Errorf("%w: date must be YYYY-MM-DD", ErrInvalidInput)
	ErrInvalidEnd       = fmt.Errorf("%w: end before start", ErrInvalidInput)
	ErrInvalidStreamKey = fmt.Errorf("%w: stream key must be a uuid", ErrInvalidInput)
	ErrInvalidID        = fmt.Errorf("%w: incident id must be positive", ErrInvalidInput)
)
