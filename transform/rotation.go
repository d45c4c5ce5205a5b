package transform

import (
	"errors"
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// RotationMatrixFromVector converts an axis-angle rotation vector to a 3x3 rotation
// matrix with the Rodrigues formula. The vector's direction is the rotation axis and
// its norm the angle in radians.
func RotationMatrixFromVector(v r3.Vector) *mat.Dense {
	theta := v.Norm()
	if theta < 1e-12 {
		return eye(3)
	}
	axis := v.Mul(1 / theta)
	k := skewSymmetricMat(axis)
	var k2 mat.Dense
	k2.Mul(k, k)
	r := eye(3)
	var term mat.Dense
	term.Scale(math.Sin(theta), k)
	r.Add(r, &term)
	term.Scale(1-math.Cos(theta), &k2)
	r.Add(r, &term)
	return r
}

// RotationVectorFromMatrix is the inverse Rodrigues transform, recovering the
// axis-angle vector of a rotation matrix.
func RotationVectorFromMatrix(r *mat.Dense) r3.Vector {
	trace := r.At(0, 0) + r.At(1, 1) + r.At(2, 2)
	cosTheta := math.Max(-1, math.Min(1, (trace-1)/2))
	theta := math.Acos(cosTheta)
	if theta < 1e-12 {
		return r3.Vector{}
	}
	if math.Pi-theta < 1e-6 {
		// near pi the off-diagonal difference vanishes, recover the axis from R + I
		var b mat.Dense
		b.Add(r, eye(3))
		// the largest column of R + I is parallel to the axis
		best, bestNorm := 0, 0.0
		for j := 0; j < 3; j++ {
			n := math.Hypot(math.Hypot(b.At(0, j), b.At(1, j)), b.At(2, j))
			if n > bestNorm {
				best, bestNorm = j, n
			}
		}
		axis := r3.Vector{X: b.At(0, best), Y: b.At(1, best), Z: b.At(2, best)}.Normalize()
		return axis.Mul(theta)
	}
	s := 2 * math.Sin(theta)
	axis := r3.Vector{
		X: (r.At(2, 1) - r.At(1, 2)) / s,
		Y: (r.At(0, 2) - r.At(2, 0)) / s,
		Z: (r.At(1, 0) - r.At(0, 1)) / s,
	}
	return axis.Mul(theta)
}

// AverageRotations returns the rotation matrix closest in the Frobenius sense to the
// mean of the inputs, by projecting the element-wise mean back onto SO(3).
func AverageRotations(rots []*mat.Dense) (*mat.Dense, error) {
	if len(rots) == 0 {
		return nil, errors.New("no rotations to average")
	}
	sum := mat.NewDense(3, 3, nil)
	for _, r := range rots {
		sum.Add(sum, r)
	}
	mats := performSVD(sum)
	if mats == nil {
		return nil, errors.New("failed to factorize rotation mean")
	}
	var r mat.Dense
	r.Mul(mats.U, mats.VT)
	// keep det(R) = +1
	if mat.Det(&r) < 0 {
		d := eye(3)
		d.Set(2, 2, -1)
		r.Mul(mats.U, d)
		r.Mul(&r, mats.VT)
	}
	return mat.DenseCopyOf(&r), nil
}

// OrthonormalizeRotation projects an approximate rotation matrix onto the closest
// true rotation (polar decomposition via SVD).
func OrthonormalizeRotation(r *mat.Dense) (*mat.Dense, error) {
	return AverageRotations([]*mat.Dense{r})
}
