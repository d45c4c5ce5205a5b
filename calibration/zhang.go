package calibration

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/sdlouhy/Tricam/transform"
)

// planarHomographies estimates, for every capture, the homography mapping the
// board plane (X, Y of the reference pattern) to the detected image corners.
func planarHomographies(objectPts [][]r3.Vector, imagePts [][]r2.Point) ([]*mat.Dense, error) {
	if len(objectPts) != len(imagePts) {
		return nil, errors.Errorf("have %d object point sets but %d image point sets", len(objectPts), len(imagePts))
	}
	hs := make([]*mat.Dense, len(objectPts))
	for i := range objectPts {
		board := make([]r2.Point, len(objectPts[i]))
		for j, p := range objectPts[i] {
			board[j] = r2.Point{X: p.X, Y: p.Y}
		}
		h, err := transform.EstimateHomography(board, imagePts[i])
		if err != nil {
			return nil, errors.Wrapf(err, "capture %d", i)
		}
		hs[i] = h
	}
	return hs, nil
}

// vij builds the Zhang constraint vector for columns i and j of a homography.
func vij(h *mat.Dense, i, j int) []float64 {
	return []float64{
		h.At(0, i) * h.At(0, j),
		h.At(0, i)*h.At(1, j) + h.At(1, i)*h.At(0, j),
		h.At(1, i) * h.At(1, j),
		h.At(2, i)*h.At(0, j) + h.At(0, i)*h.At(2, j),
		h.At(2, i)*h.At(1, j) + h.At(1, i)*h.At(2, j),
		h.At(2, i) * h.At(2, j),
	}
}

// intrinsicsFromHomographies recovers the camera matrix from plane homographies
// with Zhang's closed form. Skew is constrained to zero; at least two
// homographies from distinct board orientations are required.
func intrinsicsFromHomographies(hs []*mat.Dense) (*mat.Dense, error) {
	if len(hs) < 2 {
		return nil, errors.Errorf("need at least 2 homographies to solve intrinsics, got %d", len(hs))
	}
	v := mat.NewDense(2*len(hs)+1, 6, nil)
	for i, h := range hs {
		v01 := vij(h, 0, 1)
		v00 := vij(h, 0, 0)
		v11 := vij(h, 1, 1)
		v.SetRow(2*i, v01)
		diff := make([]float64, 6)
		for k := range diff {
			diff[k] = v00[k] - v11[k]
		}
		v.SetRow(2*i+1, diff)
	}
	// zero skew constraint, B12 = 0
	v.SetRow(2*len(hs), []float64{0, 1, 0, 0, 0, 0})

	var svd mat.SVD
	if ok := svd.Factorize(v, mat.SVDThin); !ok {
		return nil, errors.New("failed to factorize intrinsic constraint system")
	}
	var vm mat.Dense
	svd.VTo(&vm)
	b := make([]float64, 6)
	for i := range b {
		b[i] = vm.At(i, 5)
	}
	k, err := cameraMatrixFromB(b)
	if err != nil {
		// the null vector's sign is arbitrary
		for i := range b {
			b[i] = -b[i]
		}
		k, err = cameraMatrixFromB(b)
	}
	return k, err
}

// cameraMatrixFromB extracts (fx, fy, cx, cy) from the absolute conic vector
// b = (B11, B12, B22, B13, B23, B33).
func cameraMatrixFromB(b []float64) (*mat.Dense, error) {
	b11, b12, b22, b13, b23, b33 := b[0], b[1], b[2], b[3], b[4], b[5]
	den := b11*b22 - b12*b12
	if b11 == 0 || den == 0 {
		return nil, errors.New("degenerate conic, intrinsics not recoverable")
	}
	cy := (b12*b13 - b11*b23) / den
	lambda := b33 - (b13*b13+cy*(b12*b13-b11*b23))/b11
	if lambda/b11 <= 0 || lambda*b11/den <= 0 {
		return nil, errors.New("conic is not positive definite")
	}
	fx := math.Sqrt(lambda / b11)
	fy := math.Sqrt(lambda * b11 / den)
	cx := -b13 * fx * fx / lambda
	return mat.NewDense(3, 3, []float64{
		fx, 0, cx,
		0, fy, cy,
		0, 0, 1,
	}), nil
}

// boardPose is the rigid transform of the board plane in one camera's frame
// for a single capture.
type boardPose struct {
	r *mat.Dense
	t r3.Vector
}

// poseFromHomography recovers the board pose from its plane homography and the
// camera matrix. The rotation is orthonormalized and the board is placed in
// front of the camera.
func poseFromHomography(h, k *mat.Dense) (*boardPose, error) {
	var kInv mat.Dense
	if err := kInv.Inverse(k); err != nil {
		return nil, errors.Wrap(err, "camera matrix is singular")
	}
	col := func(m *mat.Dense, j int) r3.Vector {
		return r3.Vector{X: m.At(0, j), Y: m.At(1, j), Z: m.At(2, j)}
	}
	mulVec := func(m *mat.Dense, v r3.Vector) r3.Vector {
		return r3.Vector{
			X: m.At(0, 0)*v.X + m.At(0, 1)*v.Y + m.At(0, 2)*v.Z,
			Y: m.At(1, 0)*v.X + m.At(1, 1)*v.Y + m.At(1, 2)*v.Z,
			Z: m.At(2, 0)*v.X + m.At(2, 1)*v.Y + m.At(2, 2)*v.Z,
		}
	}
	h1 := mulVec(&kInv, col(h, 0))
	h2 := mulVec(&kInv, col(h, 1))
	h3 := mulVec(&kInv, col(h, 2))
	n := h1.Norm()
	if n == 0 {
		return nil, errors.New("degenerate homography, zero first column")
	}
	lambda := 1 / n
	r1 := h1.Mul(lambda)
	r2c := h2.Mul(lambda)
	t := h3.Mul(lambda)
	if t.Z < 0 {
		r1 = r1.Mul(-1)
		r2c = r2c.Mul(-1)
		t = t.Mul(-1)
	}
	r3c := r1.Cross(r2c)
	r := mat.NewDense(3, 3, []float64{
		r1.X, r2c.X, r3c.X,
		r1.Y, r2c.Y, r3c.Y,
		r1.Z, r2c.Z, r3c.Z,
	})
	rOrtho, err := transform.OrthonormalizeRotation(r)
	if err != nil {
		return nil, err
	}
	return &boardPose{r: rOrtho, t: t}, nil
}

// rotatePoint applies a 3x3 rotation to a vector.
func rotatePoint(r *mat.Dense, v r3.Vector) r3.Vector {
	return r3.Vector{
		X: r.At(0, 0)*v.X + r.At(0, 1)*v.Y + r.At(0, 2)*v.Z,
		Y: r.At(1, 0)*v.X + r.At(1, 1)*v.Y + r.At(1, 2)*v.Z,
		Z: r.At(2, 0)*v.X + r.At(2, 1)*v.Y + r.At(2, 2)*v.Z,
	}
}

// projectPoint maps a 3D point in camera coordinates into pixel space through
// the camera matrix and a Brown-Conrady distortion (which may be nil).
func projectPoint(k *mat.Dense, dist *transform.BrownConrady, p r3.Vector) r2.Point {
	x, y := p.X/p.Z, p.Y/p.Z
	if dist != nil {
		x, y = dist.Transform(x, y)
	}
	return r2.Point{
		X: k.At(0, 0)*x + k.At(0, 2),
		Y: k.At(1, 1)*y + k.At(1, 2),
	}
}

// estimateRadialDistortion solves the two radial coefficients (k1, k2) by
// linear least squares from the residuals between observed and ideally
// projected corners, given the camera matrix and per-capture board poses.
// Tangential terms are held at zero.
func estimateRadialDistortion(
	objectPts [][]r3.Vector,
	imagePts [][]r2.Point,
	k *mat.Dense,
	poses []*boardPose,
) (*transform.BrownConrady, error) {
	total := 0
	for _, pts := range imagePts {
		total += len(pts)
	}
	if total == 0 {
		return nil, ErrNoObservations
	}
	fx, fy := k.At(0, 0), k.At(1, 1)
	cx, cy := k.At(0, 2), k.At(1, 2)
	d := mat.NewDense(2*total, 2, nil)
	res := mat.NewVecDense(2*total, nil)
	row := 0
	for i := range objectPts {
		pose := poses[i]
		for j, obj := range objectPts[i] {
			cam := rotatePoint(pose.r, obj).Add(pose.t)
			x, y := cam.X/cam.Z, cam.Y/cam.Z
			radius2 := x*x + y*y
			u := fx*x + cx
			v := fy*y + cy
			d.Set(row, 0, (u-cx)*radius2)
			d.Set(row, 1, (u-cx)*radius2*radius2)
			res.SetVec(row, imagePts[i][j].X-u)
			row++
			d.Set(row, 0, (v-cy)*radius2)
			d.Set(row, 1, (v-cy)*radius2*radius2)
			res.SetVec(row, imagePts[i][j].Y-v)
			row++
		}
	}
	var sol mat.VecDense
	if err := sol.SolveVec(d, res); err != nil {
		return nil, errors.Wrap(err, "radial distortion system is rank deficient")
	}
	return transform.NewBrownConrady([]float64{sol.AtVec(0), sol.AtVec(1)})
}
