package calibration

import (
	"image"
	"image/color"
	"testing"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"
)

// queueFinder replays precomputed corner sets, one per FindCorners call, in the
// left, center, right order AddObservation uses.
type queueFinder struct {
	queue [][]r2.Point
}

func (f *queueFinder) FindCorners(image.Image) ([]r2.Point, error) {
	if len(f.queue) == 0 {
		return nil, errors.New("no more detections queued")
	}
	pts := f.queue[0]
	f.queue = f.queue[1:]
	return pts, nil
}

func synthFinder(cfg Config) (*queueFinder, int) {
	board := make([]r3.Vector, 0, cfg.CornerCount())
	for row := 0; row < cfg.Rows; row++ {
		for col := 0; col < cfg.Columns; col++ {
			board = append(board, r3.Vector{X: float64(col) * cfg.SquareSize, Y: float64(row) * cfg.SquareSize})
		}
	}
	k := rigCameraMatrix()
	poses := rigBoardPoses()
	f := &queueFinder{}
	for _, pose := range poses {
		f.queue = append(f.queue,
			projectBoard(k, pose, r3.Vector{}, board),
			projectBoard(k, pose, rigCenterTrans, board),
			projectBoard(k, pose, rigRightTrans, board),
		)
	}
	return f, len(poses)
}

func TestSessionPipeline(t *testing.T) {
	logger := golog.NewTestLogger(t)
	finder, captures := synthFinder(testConfig)
	session, err := NewSession(testConfig, finder, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, session.Phase(), test.ShouldEqual, PhaseAccumulating)

	for i := 0; i < captures; i++ {
		test.That(t, session.AddCapture(testTriple(), nil), test.ShouldBeNil)
	}
	test.That(t, session.Store().Captures(), test.ShouldEqual, captures)

	test.That(t, session.Calibrate(), test.ShouldBeNil)
	test.That(t, session.Phase(), test.ShouldEqual, PhaseCalibrated)
	lc, lr := session.PairwiseCalibrations()
	test.That(t, lc.Trans.At(0, 0), test.ShouldAlmostEqual, -6, 1e-3)
	test.That(t, lr.Trans.At(0, 0), test.ShouldAlmostEqual, -12, 1e-3)

	test.That(t, session.Fuse(), test.ShouldBeNil)
	test.That(t, session.Phase(), test.ShouldEqual, PhaseFused)
	test.That(t, session.Calibration(), test.ShouldNotBeNil)

	avg, err := session.Validate()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, avg, test.ShouldBeGreaterThanOrEqualTo, 0)
	test.That(t, session.AverageError(), test.ShouldEqual, avg)
	test.That(t, session.Phase(), test.ShouldEqual, PhaseValidated)

	dir := t.TempDir()
	test.That(t, session.Export(dir), test.ShouldBeNil)
	test.That(t, session.Phase(), test.ShouldEqual, PhasePersisted)
	loaded, err := Load(dir)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, loaded.DispToDepth, test.ShouldNotBeNil)
}

func TestSessionPhaseOrdering(t *testing.T) {
	logger := golog.NewTestLogger(t)
	finder, captures := synthFinder(testConfig)
	session, err := NewSession(testConfig, finder, logger)
	test.That(t, err, test.ShouldBeNil)

	// nothing past accumulation is reachable yet
	test.That(t, errors.Is(session.Fuse(), ErrWrongPhase), test.ShouldBeTrue)
	_, err = session.Validate()
	test.That(t, errors.Is(err, ErrWrongPhase), test.ShouldBeTrue)
	test.That(t, errors.Is(session.Export(t.TempDir()), ErrWrongPhase), test.ShouldBeTrue)
	test.That(t, errors.Is(session.Calibrate(), ErrNoObservations), test.ShouldBeTrue)

	for i := 0; i < captures; i++ {
		test.That(t, session.AddCapture(testTriple(), nil), test.ShouldBeNil)
	}
	test.That(t, session.Calibrate(), test.ShouldBeNil)

	// the store is closed once calibrated
	err = session.AddCapture(testTriple(), nil)
	test.That(t, errors.Is(err, ErrWrongPhase), test.ShouldBeTrue)
	test.That(t, errors.Is(session.Calibrate(), ErrWrongPhase), test.ShouldBeTrue)
}

func TestCalibrationRectify(t *testing.T) {
	store, err := synthObservations(testConfig)
	test.That(t, err, test.ShouldBeNil)
	rect := NewCollinearRectifier(testConfig, nil)
	fused, err := rect.Fuse(idealPairwise(-6), idealPairwise(-12),
		store.ImagePoints(Left), store.ImagePoints(Right))
	test.That(t, err, test.ShouldBeNil)

	left := image.NewNRGBA(image.Rect(0, 0, 640, 480))
	left.SetNRGBA(320, 240, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
	triple := &Triple{
		Left:   left,
		Center: image.NewNRGBA(image.Rect(0, 0, 640, 480)),
		Right:  image.NewNRGBA(image.Rect(0, 0, 640, 480)),
	}
	out, err := fused.Rectify(triple)
	test.That(t, err, test.ShouldBeNil)
	for _, s := range Sides {
		b := out.Side(s).Bounds()
		test.That(t, b.Dx(), test.ShouldEqual, 640)
		test.That(t, b.Dy(), test.ShouldEqual, 480)
	}
	// the identity rig maps the principal point onto itself
	got := out.Left.(*image.NRGBA).NRGBAAt(320, 240)
	test.That(t, got.R, test.ShouldEqual, 255)

	// rectifying the same capture twice gives identical output
	again, err := fused.Rectify(triple)
	test.That(t, err, test.ShouldBeNil)
	for _, s := range Sides {
		test.That(t, again.Side(s), test.ShouldResemble, out.Side(s))
	}

	_, err = fused.Rectify(nil)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = (&CollinearCalibration{}).Rectify(triple)
	test.That(t, err, test.ShouldNotBeNil)
}
