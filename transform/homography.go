package transform

import (
	"errors"
	"math"

	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/mat"
)

// EstimateHomography estimates the 3x3 homography H mapping pts1[i] to pts2[i] with
// the normalized direct linear transform. At least 4 correspondences are required.
// The result is scaled so that H[2][2] = 1.
func EstimateHomography(pts1, pts2 []r2.Point) (*mat.Dense, error) {
	if len(pts1) != len(pts2) {
		return nil, errors.New("sets of points pts1 and pts2 must have the same number of elements")
	}
	if len(pts1) < 4 {
		return nil, errors.New("sets of points must have at least 4 elements")
	}
	nPoints := len(pts1)

	points1, T1 := normalizePoints(pts1)
	points2, T2 := normalizePoints(pts2)

	// each correspondence contributes 2 rows to A*h = 0
	m := mat.NewDense(2*nPoints, 9, nil)
	for i := range points1 {
		X, Y := points1[i].X, points1[i].Y
		x, y := points2[i].X, points2[i].Y
		m.SetRow(2*i, []float64{X, Y, 1, 0, 0, 0, -x * X, -x * Y, -x})
		m.SetRow(2*i+1, []float64{0, 0, 0, X, Y, 1, -y * X, -y * Y, -y})
	}

	mats := performSVD(m)
	if mats == nil {
		return nil, errors.New("failed to factorize homography system")
	}
	lastColV := mats.V.ColView(8)
	hData := make([]float64, 9)
	for i := range hData {
		hData[i] = lastColV.AtVec(i)
	}
	H := mat.NewDense(3, 3, hData)

	// denormalize: H = T2^-1 @ Hn @ T1
	var T2Inv mat.Dense
	if err := T2Inv.Inverse(T2); err != nil {
		return nil, err
	}
	H.Mul(&T2Inv, H)
	H.Mul(H, T1)

	s := H.At(2, 2)
	if math.Abs(s) < 1e-12 {
		return nil, errors.New("degenerate homography")
	}
	H.Scale(1/s, H)
	return H, nil
}

// ApplyHomography maps every point through the homography H.
func ApplyHomography(h *mat.Dense, pts []r2.Point) []r2.Point {
	out := make([]r2.Point, len(pts))
	for i, pt := range pts {
		w := h.At(2, 0)*pt.X + h.At(2, 1)*pt.Y + h.At(2, 2)
		out[i] = r2.Point{
			X: (h.At(0, 0)*pt.X + h.At(0, 1)*pt.Y + h.At(0, 2)) / w,
			Y: (h.At(1, 0)*pt.X + h.At(1, 1)*pt.Y + h.At(1, 2)) / w,
		}
	}
	return out
}
