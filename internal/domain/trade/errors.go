package trade

import "errors"

var (
	// ErrNotFound is returned when no trade session exists for an id.
	ErrNotFound = errors.New("trade session not found")
	// ErrUnauthorized is returned when the caller is neither vendor nor customer.
	ErrUnauthorized = errors.New("caller is not a party to this trade")
	// ErrForbidden is returned when a party acts outside its role.
	ErrForbidden = errors.New("operation not permitted for this role")
	// ErrInvalidTransition is returned when a stage change is not reachable
	// from the current stage.
	ErrInvalidTransition = errors.New("invalid stage transition")
	// ErrStaleState is returned by compare-and-set when the stored stage no
	// longer matches the expected one.
	ErrStaleState = errors.New("trade session changed concurrently")
	// ErrDeadlineExceeded marks system cancellations caused by an elapsed
	// stage time box.
	ErrDeadlineExceeded = errors.New("stage deadline exceeded")
	// ErrInvalidInput is returned for malformed requests.
	ErrInvalidInput = errors.New("invalid input")
)
