package transform

import (
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
)

// testCameraMatrix is a 640x480 pinhole with an 800px focal length.
func testCameraMatrix() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		800, 0, 320,
		0, 800, 240,
		0, 0, 1,
	})
}

// testScenePoints spreads 3D points over varied depths so the two-view
// geometry is well conditioned.
func testScenePoints() []r3.Vector {
	pts := make([]r3.Vector, 0, 27)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 3; k++ {
				pts = append(pts, r3.Vector{
					X: -6 + 6*float64(i),
					Y: -4 + 4*float64(j) + 0.5*float64(i),
					Z: 45 + 10*float64(k) + 2*float64(j),
				})
			}
		}
	}
	return pts
}

func projectThrough(k, rot *mat.Dense, trans r3.Vector, pts []r3.Vector) []r2.Point {
	out := make([]r2.Point, len(pts))
	for i, p := range pts {
		cam := r3.Vector{
			X: rot.At(0, 0)*p.X + rot.At(0, 1)*p.Y + rot.At(0, 2)*p.Z + trans.X,
			Y: rot.At(1, 0)*p.X + rot.At(1, 1)*p.Y + rot.At(1, 2)*p.Z + trans.Y,
			Z: rot.At(2, 0)*p.X + rot.At(2, 1)*p.Y + rot.At(2, 2)*p.Z + trans.Z,
		}
		out[i] = r2.Point{
			X: k.At(0, 0)*cam.X/cam.Z + k.At(0, 2),
			Y: k.At(1, 1)*cam.Y/cam.Z + k.At(1, 2),
		}
	}
	return out
}

func epipolarResidual(f *mat.Dense, p1, p2 r2.Point) float64 {
	a := f.At(0, 0)*p1.X + f.At(0, 1)*p1.Y + f.At(0, 2)
	b := f.At(1, 0)*p1.X + f.At(1, 1)*p1.Y + f.At(1, 2)
	c := f.At(2, 0)*p1.X + f.At(2, 1)*p1.Y + f.At(2, 2)
	return p2.X*a + p2.Y*b + c
}

func TestFundamentalMatrixAllPoints(t *testing.T) {
	k := testCameraMatrix()
	rot := RotationMatrixFromVector(r3.Vector{X: 0.03, Y: 0.1, Z: 0.02})
	trans := r3.Vector{X: -6, Y: 0.5, Z: 0.2}
	scene := testScenePoints()
	pts1 := projectThrough(k, eye(3), r3.Vector{}, scene)
	pts2 := projectThrough(k, rot, trans, scene)

	f, err := ComputeFundamentalMatrixAllPoints(pts1, pts2, true)
	test.That(t, err, test.ShouldBeNil)
	for i := range pts1 {
		test.That(t, epipolarResidual(f, pts1[i], pts2[i]), test.ShouldAlmostEqual, 0, 1e-6)
	}
}

func TestFundamentalFromEssential(t *testing.T) {
	k := testCameraMatrix()
	rot := RotationMatrixFromVector(r3.Vector{X: 0.03, Y: 0.1, Z: 0.02})
	trans := r3.Vector{X: -6, Y: 0.5, Z: 0.2}
	ess := GetEssentialMatrixFromPose(rot, mat.NewDense(3, 1, []float64{trans.X, trans.Y, trans.Z}))
	f, err := GetFundamentalMatrixFromEssential(k, k, ess)
	test.That(t, err, test.ShouldBeNil)

	scene := testScenePoints()
	pts1 := projectThrough(k, eye(3), r3.Vector{}, scene)
	pts2 := projectThrough(k, rot, trans, scene)
	for i := range pts1 {
		test.That(t, epipolarResidual(f, pts1[i], pts2[i]), test.ShouldAlmostEqual, 0, 1e-6)
	}
}

func TestDecomposeEssentialMatrix(t *testing.T) {
	rot := RotationMatrixFromVector(r3.Vector{X: 0.05, Y: -0.12, Z: 0.04})
	trans := r3.Vector{X: -6, Y: 0.5, Z: 0.2}
	ess := GetEssentialMatrixFromPose(rot, mat.NewDense(3, 1, []float64{trans.X, trans.Y, trans.Z}))

	r1, r2m, tHat, err := DecomposeEssentialMatrix(ess)
	test.That(t, err, test.ShouldBeNil)

	frob := func(a, b *mat.Dense) float64 {
		var diff mat.Dense
		diff.Sub(a, b)
		return mat.Norm(&diff, 2)
	}
	// one of the two rotations must match the true one
	best := math.Min(frob(r1, rot), frob(r2m, rot))
	test.That(t, best, test.ShouldAlmostEqual, 0, 1e-8)

	// translation is recovered up to scale and sign
	tNorm := trans.Normalize()
	got := r3.Vector{X: tHat.At(0, 0), Y: tHat.At(1, 0), Z: tHat.At(2, 0)}.Normalize()
	dot := math.Abs(tNorm.Dot(got))
	test.That(t, dot, test.ShouldAlmostEqual, 1, 1e-8)
}

func TestComputeEpipolarLines(t *testing.T) {
	k := testCameraMatrix()
	rot := RotationMatrixFromVector(r3.Vector{X: 0.03, Y: 0.1, Z: 0.02})
	trans := r3.Vector{X: -6, Y: 0.5, Z: 0.2}
	ess := GetEssentialMatrixFromPose(rot, mat.NewDense(3, 1, []float64{trans.X, trans.Y, trans.Z}))
	f, err := GetFundamentalMatrixFromEssential(k, k, ess)
	test.That(t, err, test.ShouldBeNil)

	scene := testScenePoints()
	pts1 := projectThrough(k, eye(3), r3.Vector{}, scene)
	pts2 := projectThrough(k, rot, trans, scene)

	// lines of first-view points must contain the matching second-view points
	lines, err := ComputeEpipolarLines(pts1, 1, f)
	test.That(t, err, test.ShouldBeNil)
	for i, l := range lines {
		test.That(t, math.Hypot(l[0], l[1]), test.ShouldAlmostEqual, 1, 1e-12)
		dist := l[0]*pts2[i].X + l[1]*pts2[i].Y + l[2]
		test.That(t, dist, test.ShouldAlmostEqual, 0, 1e-6)
	}
	// and the transposed mapping goes the other way
	lines, err = ComputeEpipolarLines(pts2, 2, f)
	test.That(t, err, test.ShouldBeNil)
	for i, l := range lines {
		dist := l[0]*pts1[i].X + l[1]*pts1[i].Y + l[2]
		test.That(t, dist, test.ShouldAlmostEqual, 0, 1e-6)
	}

	_, err = ComputeEpipolarLines(pts1, 1, nil)
	test.That(t, err, test.ShouldNotBeNil)
}
