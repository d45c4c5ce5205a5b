package calibration

import (
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"github.com/sdlouhy/Tricam/transform"
)

// qualityCalibration wraps a fundamental matrix with undistorted rig intrinsics
// so AverageEpipolarError sees pixel coordinates unchanged.
func qualityCalibration(f *mat.Dense) *CollinearCalibration {
	return &CollinearCalibration{
		Left:        CameraRectification{CamMat: rigCameraMatrix()},
		Center:      CameraRectification{CamMat: rigCameraMatrix()},
		Right:       CameraRectification{CamMat: rigCameraMatrix()},
		Fundamental: f,
	}
}

func TestAverageEpipolarErrorDegenerateZero(t *testing.T) {
	// With a symmetric fundamental matrix every side sees the same epipolar
	// line, and for a point at the principal point the blended error is
	// algebraically zero when f33 balances the first two terms.
	f := mat.NewDense(3, 3, []float64{
		0, 0, 1,
		0, 0, 1,
		1, 1, -1680,
	})
	store, err := NewObservationStore(testConfig, &gridFinder{cfg: testConfig})
	test.That(t, err, test.ShouldBeNil)
	pts := make([]r2.Point, testConfig.CornerCount())
	for i := range pts {
		pts[i] = r2.Point{X: 320, Y: 240}
	}
	test.That(t, store.AddCorners(pts, pts, pts), test.ShouldBeNil)

	avg, err := AverageEpipolarError(qualityCalibration(f), store)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, avg, test.ShouldAlmostEqual, 0, 1e-9)
}

func TestAverageEpipolarErrorSyntheticRig(t *testing.T) {
	store, err := synthObservations(testConfig)
	test.That(t, err, test.ShouldBeNil)

	rect := NewCollinearRectifier(testConfig, nil)
	fused, err := rect.Fuse(idealPairwise(-6), idealPairwise(-12),
		store.ImagePoints(Left), store.ImagePoints(Right))
	test.That(t, err, test.ShouldBeNil)

	avg, err := AverageEpipolarError(fused, store)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, avg, test.ShouldBeGreaterThanOrEqualTo, 0)
}

func TestAverageEpipolarErrorSideRotation(t *testing.T) {
	// Pin the blended error against an inline computation with the frozen side
	// assignment: (left, center, right) on the first pass, then
	// (center, right, left) on the remaining two.
	cfg := Config{Rows: 2, Columns: 2, SquareSize: 1, Width: 640, Height: 480}
	store, err := NewObservationStore(cfg, &gridFinder{cfg: cfg})
	test.That(t, err, test.ShouldBeNil)
	side := func(x0, y0 float64) []r2.Point {
		return []r2.Point{{X: x0, Y: y0}, {X: x0 + 7, Y: y0}, {X: x0, Y: y0 + 7}, {X: x0 + 7, Y: y0 + 7}}
	}
	left, center, right := side(300, 200), side(310, 210), side(320, 220)
	test.That(t, store.AddCorners(left, center, right), test.ShouldBeNil)

	f := mat.NewDense(3, 3, []float64{1, 2, 3, 4, 5, 6, 7, 8, 10})
	avg, err := AverageEpipolarError(qualityCalibration(f), store)
	test.That(t, err, test.ShouldBeNil)

	lineL, err := transform.ComputeEpipolarLines(left, 1, f)
	test.That(t, err, test.ShouldBeNil)
	lineC, err := transform.ComputeEpipolarLines(center, 2, f)
	test.That(t, err, test.ShouldBeNil)
	lineR, err := transform.ComputeEpipolarLines(right, 3, f)
	test.That(t, err, test.ShouldBeNil)

	blend := func(u r2.Point, lo, ls [3]float64) float64 {
		return math.Abs(u.X*((lo[0]+ls[0])/(lo[0]*ls[0])) +
			u.Y*((lo[1]+ls[1])/(lo[1]*ls[1])) +
			(lo[2]+ls[2])/lo[2]*ls[2])
	}
	want := 0.0
	for i := range left {
		want += blend(left[i], lineR[i], lineC[i])
		want += 2 * blend(center[i], lineL[i], lineR[i])
	}
	want /= 4
	test.That(t, avg, test.ShouldAlmostEqual, want, 1e-12)
}

func TestAverageEpipolarErrorBadInput(t *testing.T) {
	store, err := NewObservationStore(testConfig, &gridFinder{cfg: testConfig})
	test.That(t, err, test.ShouldBeNil)

	_, err = AverageEpipolarError(nil, store)
	test.That(t, err, test.ShouldNotBeNil)

	f := mat.NewDense(3, 3, []float64{1, 2, 3, 4, 5, 6, 7, 8, 10})
	_, err = AverageEpipolarError(qualityCalibration(f), store)
	test.That(t, errors.Is(err, ErrNoObservations), test.ShouldBeTrue)
}
