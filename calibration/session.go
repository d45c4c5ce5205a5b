package calibration

import (
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
)

// Phase tracks a calibration session's progress. A session only ever moves
// forward; starting over means creating a new session.
type Phase int

const (
	// PhaseAccumulating is the only mutable phase: captures may be added.
	PhaseAccumulating Phase = iota
	// PhaseCalibrated means both pairwise calibrations are computed.
	PhaseCalibrated
	// PhaseFused means the three-way calibration is built.
	PhaseFused
	// PhaseValidated means the epipolar error has been measured.
	PhaseValidated
	// PhasePersisted means the calibration has been written to storage.
	PhasePersisted
)

func (p Phase) String() string {
	switch p {
	case PhaseAccumulating:
		return "accumulating"
	case PhaseCalibrated:
		return "calibrated"
	case PhaseFused:
		return "fused"
	case PhaseValidated:
		return "validated"
	case PhasePersisted:
		return "persisted"
	}
	return "unknown"
}

// Session drives one full calibration of a trinocular rig from capture
// accumulation through persistence. Every step past accumulation operates on
// immutable snapshots, so the phase ordering is the only synchronization the
// pipeline needs.
type Session struct {
	cfg    Config
	logger golog.Logger

	store      *ObservationStore
	calibrator *PairwiseCalibrator
	rectifier  *CollinearRectifier

	phase      Phase
	leftCenter *PairwiseCalibration
	leftRight  *PairwiseCalibration
	fused      *CollinearCalibration
	avgError   float64
}

// NewSession creates a session in the accumulating phase.
func NewSession(cfg Config, finder CornerFinder, logger golog.Logger) (*Session, error) {
	store, err := NewObservationStore(cfg, finder)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = golog.NewLogger("calibration")
	}
	return &Session{
		cfg:        cfg,
		logger:     logger,
		store:      store,
		calibrator: NewPairwiseCalibrator(cfg, logger),
		rectifier:  NewCollinearRectifier(cfg, logger),
		phase:      PhaseAccumulating,
	}, nil
}

// Phase returns the session's current phase.
func (s *Session) Phase() Phase {
	return s.phase
}

// Store exposes the observation store, primarily for the quality report.
func (s *Session) Store() *ObservationStore {
	return s.store
}

// AddCapture accumulates one chessboard capture. Allowed only while the
// session is still accumulating. A detection failure leaves the store
// untouched and the session accumulating; the caller may simply retry with a
// new capture.
func (s *Session) AddCapture(t *Triple, show ShowFunc) error {
	if s.phase != PhaseAccumulating {
		return errors.Wrapf(ErrWrongPhase, "cannot add captures while %s", s.phase)
	}
	if err := s.store.AddObservation(t, show); err != nil {
		return err
	}
	s.logger.Debugw("capture accumulated", "captures", s.store.Captures())
	return nil
}

// Calibrate computes the left-center and left-right pairwise calibrations and
// closes the store for further captures.
func (s *Session) Calibrate() error {
	if s.phase != PhaseAccumulating {
		return errors.Wrapf(ErrWrongPhase, "cannot calibrate while %s", s.phase)
	}
	if s.store.Captures() == 0 {
		return ErrNoObservations
	}
	obj := s.store.ObjectPoints()
	lc, err := s.calibrator.CalibratePair(obj, s.store.ImagePoints(Left), s.store.ImagePoints(Center))
	if err != nil {
		return errors.Wrap(err, "left-center pair")
	}
	lr, err := s.calibrator.CalibratePair(obj, s.store.ImagePoints(Left), s.store.ImagePoints(Right))
	if err != nil {
		return errors.Wrap(err, "left-right pair")
	}
	s.leftCenter, s.leftRight = lc, lr
	s.phase = PhaseCalibrated
	s.logger.Infow("pairwise calibrations computed", "captures", s.store.Captures())
	return nil
}

// Fuse builds the collinear three-way calibration from the two pairwise
// results. Fails with ErrInconsistentReference when the pairs disagree about
// the shared left camera.
func (s *Session) Fuse() error {
	if s.phase != PhaseCalibrated {
		return errors.Wrapf(ErrWrongPhase, "cannot fuse while %s", s.phase)
	}
	fused, err := s.rectifier.Fuse(
		s.leftCenter, s.leftRight,
		s.store.ImagePoints(Left), s.store.ImagePoints(Right),
	)
	if err != nil {
		return err
	}
	s.fused = fused
	s.phase = PhaseFused
	return nil
}

// Validate computes the average epipolar error of the fused calibration.
// Interpretation of the value is up to the caller; the session records it
// without enforcing a threshold.
func (s *Session) Validate() (float64, error) {
	if s.phase != PhaseFused {
		return 0, errors.Wrapf(ErrWrongPhase, "cannot validate while %s", s.phase)
	}
	avg, err := AverageEpipolarError(s.fused, s.store)
	if err != nil {
		return 0, err
	}
	s.avgError = avg
	s.phase = PhaseValidated
	s.logger.Infow("calibration validated", "avg_epipolar_error", avg)
	return avg, nil
}

// Export persists the fused calibration to dir. Allowed once validated.
func (s *Session) Export(dir string) error {
	if s.phase != PhaseValidated {
		return errors.Wrapf(ErrWrongPhase, "cannot export while %s", s.phase)
	}
	if err := Export(s.fused, dir); err != nil {
		return err
	}
	s.phase = PhasePersisted
	s.logger.Infow("calibration exported", "dir", dir)
	return nil
}

// Calibration returns the fused calibration, or nil before fusion.
func (s *Session) Calibration() *CollinearCalibration {
	return s.fused
}

// AverageError returns the validation error, meaningful once validated.
func (s *Session) AverageError() float64 {
	return s.avgError
}

// PairwiseCalibrations returns the two source calibrations, meaningful once
// the session is past the calibrating step.
func (s *Session) PairwiseCalibrations() (leftCenter, leftRight *PairwiseCalibration) {
	return s.leftCenter, s.leftRight
}
