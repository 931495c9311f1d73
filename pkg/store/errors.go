package store

import "github.com/pkg/errors"

// Error taxonomy shared by store implementations and the cache. Implementations
// wrap these sentinels with context (errors.Wrapf) so callers can match with
// errors.Is while logs still carry the specifics.
var (
	// ErrBackendUnavailable covers failed or timed out round trips.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrNotFound is returned when an operation references a topic or
	// message id that is no longer present.
	ErrNotFound = errors.New("not found")

	// ErrValidationFailed covers rejected inputs, e.g. an empty topic name.
	ErrValidationFailed = errors.New("validation failed")

	// ErrInconsistentState flags a mutation that succeeded on the backend
	// while its expected in-memory anchor is missing. This is a bug surface
	// and is logged loudly wherever it is raised.
	ErrInconsistentState = errors.New("inconsistent state")

	// ErrNotImplemented marks explicit extension points.
	ErrNotImplemented = errors.New("not implemented")
)

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
