package chessboard

import (
	"testing"

	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
)

// checkerQuadrants builds an image whose four quadrants alternate black and
// white, giving one strong saddle point at the center.
func checkerQuadrants(size int) *mat.Dense {
	m := mat.NewDense(size, size, nil)
	half := size / 2
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			if (x < half) != (y < half) {
				m.Set(y, x, 255)
			}
		}
	}
	return m
}

func TestSumPositive(t *testing.T) {
	m := mat.NewDense(2, 2, []float64{1, -3, 0, 42})
	counts := mat.NewDense(2, 2, nil)
	counts.Apply(SumPositive, m)
	test.That(t, mat.Sum(counts), test.ShouldEqual, 2)
}

func TestHessianDeterminantAtSaddle(t *testing.T) {
	img := checkerQuadrants(80)
	hessian, err := computePixelWiseHessianDeterminant(img)
	test.That(t, err, test.ShouldBeNil)
	// the determinant of the Hessian is strongly negative at the saddle
	test.That(t, hessian.At(40, 40), test.ShouldBeLessThan, 0)
	// and near zero in a flat region
	test.That(t, hessian.At(10, 10), test.ShouldAlmostEqual, 0, 1e-9)
}

func TestGetSaddleMapPoints(t *testing.T) {
	img := checkerQuadrants(80)
	nms, pts, err := GetSaddleMapPoints(img, &DefaultSaddleConf)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(pts), test.ShouldBeGreaterThanOrEqualTo, 1)
	// the strongest detection sits at the quadrant crossing
	best, bestScore := pts[0], 0.0
	for _, p := range pts {
		if s := nms.At(p.Y, p.X); s > bestScore {
			best, bestScore = p, s
		}
	}
	test.That(t, best.X, test.ShouldAlmostEqual, 40, 2)
	test.That(t, best.Y, test.ShouldAlmostEqual, 40, 2)
	test.That(t, bestScore, test.ShouldBeGreaterThanOrEqualTo, DefaultSaddleConf.ScoreThresholdMax)
}

func TestNonMaxSuppression(t *testing.T) {
	m := mat.NewDense(20, 20, nil)
	m.Set(10, 10, 100)
	m.Set(10, 12, 60)
	sup := NonMaxSuppression(m, 5)
	// only the stronger of the two close peaks survives
	test.That(t, sup.At(10, 10), test.ShouldBeGreaterThan, 0)
	test.That(t, sup.At(10, 12), test.ShouldEqual, 0)
}
