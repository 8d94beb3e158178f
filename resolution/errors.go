package resolution

import "errors"

var (
	// ErrNotFound is returned when no backend holds the resolution.
	ErrNotFound = errors.New("resolution: not found")
	// ErrAlreadySigned signals the seat carries a signature; it is never overwritten.
	ErrAlreadySigned = errors.New("resolution: signatory already signed")
	// ErrUnknownSignatory signals the signatory is not on the resolution's panel.
	ErrUnknownSignatory = errors.New("resolution: unknown signatory")
	// ErrResolutionNotSignable signals the resolution is not awaiting signatures.
	ErrResolutionNotSignable = errors.New("resolution: not awaiting signatures")
	// ErrStatusConflict signals a compare-and-set status write lost its precondition.
	ErrStatusConflict = errors.New("resolution: status changed concurrently")
	// ErrInvalidTransition signals the state machine forbids the requested move.
	ErrInvalidTransition = errors.New("resolution: invalid status transition")
	// ErrDeadlineNotReached is returned when expiry is requested before the deadline.
	ErrDeadlineNotReached = errors.New("resolution: deadline not reached")
	// ErrSignaturesOutstanding is returned by Finalize when the all-signed policy is on.
	ErrSignaturesOutstanding = errors.New("resolution: signatures outstanding")
	// ErrInvalidOTP is returned when a configured OTP verifier rejects the code.
	ErrInvalidOTP = errors.New("resolution: invalid one-time password")
	// ErrInvalidRequest wraps caller input validation failures.
	ErrInvalidRequest = errors.New("resolution: invalid request")
	// ErrBackendUnavailable is returned only when every backend in the chain failed.
	ErrBackendUnavailable = errors.New("resolution: all storage backends unavailable")
)

// authoritative reports whether a backend error is a domain answer that must
// stop the fallback chain instead of moving on to the next tier.
func authoritative(err error) bool {
	return errors.Is(err, ErrAlreadySigned) ||
		errors.Is(err, ErrUnknownSignatory) ||
		errors.Is(err, ErrResolutionNotSignable) ||
		errors.Is(err, ErrStatusConflict)
}
