package calibration

import "github.com/pkg/errors"

var (
	// ErrInconsistentReference is returned by Fuse when the two pairwise
	// calibrations disagree about the shared left camera beyond tolerance.
	ErrInconsistentReference = errors.New("pairwise calibrations do not share a consistent left camera")

	// ErrNoObservations is returned when a calibration step runs on a store
	// that has not accumulated any captures.
	ErrNoObservations = errors.New("no corner observations accumulated")

	// ErrWrongPhase is returned when a session operation is called out of order.
	ErrWrongPhase = errors.New("operation not allowed in current session phase")
)
