package calibration

import (
	"math"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/sdlouhy/Tricam/transform"
)

// CameraRectification holds every per-camera field of a fused three-way
// calibration: the intrinsics carried over from the pairwise step, the
// rectifying rotation and projection, the valid-pixel box, and the remap
// tables ready for direct application to raw frames.
type CameraRectification struct {
	CamMat     *mat.Dense
	DistCoeffs *transform.BrownConrady
	// RectTrans is the 3x3 rectifying rotation, ProjMat the 3x4 projection
	// in the rectified frame.
	RectTrans *mat.Dense
	ProjMat   *mat.Dense
	// ValidBox is a 1x4 (x, y, width, height) row of valid rectified pixels.
	// It is nil for the center camera, which has no disparity pairing of its
	// own.
	ValidBox *mat.Dense
	// UndistortionMap and RectificationMap are the source x and y coordinate
	// tables, one entry per destination pixel.
	UndistortionMap  *mat.Dense
	RectificationMap *mat.Dense
}

// CollinearCalibration is the fused calibration of the full trinocular rig.
// It is constructed once by fusing the two pairwise calibrations and is
// immutable afterwards; re-fusion builds a new value.
type CollinearCalibration struct {
	Left   CameraRectification
	Center CameraRectification
	Right  CameraRectification
	// Rot and Trans describe the left-right pair, the baseline the disparity
	// search runs over. Fundamental is recomputed from the raw left-right
	// correspondences after rectification changes the effective geometry, and
	// Essential is derived from that recomputed matrix so the two stay
	// consistent. DispToDepth is the 4x4 Q matrix.
	Rot         *mat.Dense
	Trans       *mat.Dense
	Essential   *mat.Dense
	Fundamental *mat.Dense
	DispToDepth *mat.Dense
}

// Side returns the per-camera fields of one side of the rig.
func (c *CollinearCalibration) Side(s Side) *CameraRectification {
	switch s {
	case Left:
		return &c.Left
	case Center:
		return &c.Center
	case Right:
		return &c.Right
	}
	return nil
}

// CollinearRectifier fuses two pairwise calibrations sharing the left camera
// into a single three-way rectification. Alpha controls cropping of the
// rectified views: 0 crops to the common valid region, 1 keeps all source
// pixels.
type CollinearRectifier struct {
	cfg    Config
	logger golog.Logger

	Alpha float64
	// ReferenceTolerance is the maximum relative disagreement allowed between
	// the two pairwise calibrations' left camera matrices. The shared focal
	// constraint is solved per pair, so the two left intrinsics are never
	// bit-identical.
	ReferenceTolerance float64
}

// NewCollinearRectifier returns a rectifier that crops to the common field of
// view (alpha 0) and allows 5% disagreement on the shared left camera.
func NewCollinearRectifier(cfg Config, logger golog.Logger) *CollinearRectifier {
	return &CollinearRectifier{
		cfg:                cfg,
		logger:             logger,
		Alpha:              0,
		ReferenceTolerance: 0.05,
	}
}

// Fuse combines the left-center and left-right pairwise calibrations into one
// CollinearCalibration. Both inputs must describe the same physical left
// camera; a disagreement beyond ReferenceTolerance fails with
// ErrInconsistentReference. imagePtsLeft and imagePtsRight are the accumulated
// per-capture detections used to recompute the fundamental matrix of the fused
// geometry.
func (c *CollinearRectifier) Fuse(
	leftCenter, leftRight *PairwiseCalibration,
	imagePtsLeft, imagePtsRight [][]r2.Point,
) (*CollinearCalibration, error) {
	if leftCenter == nil || leftRight == nil {
		return nil, errors.New("both pairwise calibrations are required")
	}
	if err := c.checkSharedReference(leftCenter, leftRight); err != nil {
		return nil, err
	}

	fused := &CollinearCalibration{
		Left: CameraRectification{
			CamMat:     leftCenter.CamMatA,
			DistCoeffs: leftCenter.DistA,
		},
		Center: CameraRectification{
			CamMat:     leftCenter.CamMatB,
			DistCoeffs: leftCenter.DistB,
		},
		Right: CameraRectification{
			CamMat:     leftRight.CamMatB,
			DistCoeffs: leftRight.DistB,
		},
		Rot:   leftRight.Rot,
		Trans: leftRight.Trans,
	}

	// rectify the outer (left, right) pair first
	rect, err := c.stereoRectify(
		fused.Left.CamMat, fused.Left.DistCoeffs,
		fused.Right.CamMat, fused.Right.DistCoeffs,
		leftRight.Rot, leftRight.Trans,
	)
	if err != nil {
		return nil, errors.Wrap(err, "left-right rectification")
	}
	fused.Left.RectTrans = rect.r1
	fused.Left.ProjMat = rect.p1
	fused.Left.ValidBox = rect.roi1
	fused.Right.RectTrans = rect.r2
	fused.Right.ProjMat = rect.p2
	fused.Right.ValidBox = rect.roi2
	fused.DispToDepth = rect.q

	// rotate the center camera into the same rectified frame: a ray in center
	// coordinates maps to left coordinates through Rot^T, then through the
	// left rectifying rotation
	var rCenter mat.Dense
	rCenter.Mul(rect.r1, leftCenter.Rot.T())
	fused.Center.RectTrans = mat.DenseCopyOf(&rCenter)
	// the center projection reuses the rectified intrinsics; its baseline term
	// is the center camera's offset along the rectified stereo axis
	tC := rotatePoint(&rCenter, r3.Vector{
		X: leftCenter.Trans.At(0, 0),
		Y: leftCenter.Trans.At(1, 0),
		Z: leftCenter.Trans.At(2, 0),
	})
	pCenter := mat.DenseCopyOf(rect.p1)
	tIdx := tC.X
	if rect.idx == 1 {
		tIdx = tC.Y
	}
	pCenter.Set(rect.idx, 3, tIdx*rect.fNew)
	fused.Center.ProjMat = pCenter

	// the joint rectification changes the effective geometry, recompute F
	// directly from the raw left-right correspondences
	flatL := flattenPoints(imagePtsLeft)
	flatR := flattenPoints(imagePtsRight)
	fund, err := transform.ComputeFundamentalMatrixAllPoints(flatL, flatR, true)
	if err != nil {
		return nil, errors.Wrap(err, "fused fundamental matrix")
	}
	fused.Fundamental = fund
	ess, err := transform.GetEssentialMatrixFromFundamental(
		fused.Left.CamMat, fused.Right.CamMat, fund)
	if err != nil {
		return nil, errors.Wrap(err, "fused essential matrix")
	}
	fused.Essential = ess

	for _, s := range Sides {
		cam := fused.Side(s)
		mapX, mapY, err := buildUndistortRectifyMap(
			cam.CamMat, cam.DistCoeffs, cam.RectTrans, cam.ProjMat,
			c.cfg.Width, c.cfg.Height,
		)
		if err != nil {
			return nil, errors.Wrapf(err, "%s remap tables", s)
		}
		cam.UndistortionMap = mapX
		cam.RectificationMap = mapY
	}
	if c.logger != nil {
		c.logger.Debugw("fused collinear calibration",
			"rectified_focal", rect.fNew, "stereo_axis", rect.idx)
	}
	return fused, nil
}

// checkSharedReference verifies that both pairwise calibrations agree on the
// left camera within ReferenceTolerance.
func (c *CollinearRectifier) checkSharedReference(a, b *PairwiseCalibration) error {
	for _, pos := range [][2]int{{0, 0}, {1, 1}, {0, 2}, {1, 2}} {
		va, vb := a.CamMatA.At(pos[0], pos[1]), b.CamMatA.At(pos[0], pos[1])
		scale := math.Max(math.Abs(va), math.Abs(vb))
		if scale == 0 {
			continue
		}
		if math.Abs(va-vb)/scale > c.ReferenceTolerance {
			return errors.Wrapf(ErrInconsistentReference,
				"camera matrix entry (%d,%d): %f vs %f", pos[0], pos[1], va, vb)
		}
	}
	pa, pb := a.DistA.Parameters(), b.DistA.Parameters()
	for i := range pa {
		if math.Abs(pa[i]-pb[i]) > c.ReferenceTolerance {
			return errors.Wrapf(ErrInconsistentReference,
				"distortion coefficient %d: %f vs %f", i, pa[i], pb[i])
		}
	}
	return nil
}

func flattenPoints(pts [][]r2.Point) []r2.Point {
	flat := make([]r2.Point, 0)
	for _, capture := range pts {
		flat = append(flat, capture...)
	}
	return flat
}

// stereoRectification is the output of the Bouguet rectification of one pair.
type stereoRectification struct {
	r1, r2 *mat.Dense // 3x3 rectifying rotations
	p1, p2 *mat.Dense // 3x4 projections
	q      *mat.Dense // 4x4 disparity-to-depth
	roi1   *mat.Dense // 1x4 valid boxes
	roi2   *mat.Dense
	idx    int     // 0 horizontal stereo, 1 vertical
	fNew   float64 // common rectified focal length
}

// stereoRectify computes the rectification of one stereo pair with Bouguet's
// method: both cameras are rotated halfway toward each other, then a shared
// rotation brings the baseline onto the dominant image axis. The rectified
// focal length is scaled per alpha so the valid region fills the output.
func (c *CollinearRectifier) stereoRectify(
	k1 *mat.Dense, d1 *transform.BrownConrady,
	k2 *mat.Dense, d2 *transform.BrownConrady,
	rot, trans *mat.Dense,
) (*stereoRectification, error) {
	w, h := c.cfg.Width, c.cfg.Height
	tVec := r3.Vector{X: trans.At(0, 0), Y: trans.At(1, 0), Z: trans.At(2, 0)}

	om := transform.RotationVectorFromMatrix(rot)
	rHalf := transform.RotationMatrixFromVector(om.Mul(-0.5))
	t := rotatePoint(rHalf, tVec)

	idx := 0
	if math.Abs(t.X) <= math.Abs(t.Y) {
		idx = 1
	}
	axis := func(v r3.Vector) float64 {
		if idx == 0 {
			return v.X
		}
		return v.Y
	}
	cVal := axis(t)
	nt := t.Norm()
	if nt == 0 {
		return nil, errors.New("zero baseline, cameras are coincident")
	}
	var uu r3.Vector
	sign := 1.0
	if cVal < 0 {
		sign = -1
	}
	if idx == 0 {
		uu = r3.Vector{X: sign}
	} else {
		uu = r3.Vector{Y: sign}
	}
	// global rotation bringing the baseline onto the chosen axis
	ww := t.Cross(uu)
	if nw := ww.Norm(); nw > 0 {
		ww = ww.Mul(math.Acos(math.Abs(cVal)/nt) / nw)
	}
	wR := transform.RotationMatrixFromVector(ww)

	var r1, r2m mat.Dense
	r1.Mul(wR, rHalf.T())
	r2m.Mul(wR, rHalf)
	tNew := rotatePoint(&r2m, tVec)

	// common focal from the axis orthogonal to the baseline
	fNew := (k1.At(1-idx, 1-idx) + k2.At(1-idx, 1-idx)) / 2

	// principal points that center the undistorted image corners
	ccX := [2]float64{}
	ccY := [2]float64{}
	corners := []r2.Point{
		{X: 0, Y: 0}, {X: float64(w - 1), Y: 0},
		{X: 0, Y: float64(h - 1)}, {X: float64(w - 1), Y: float64(h - 1)},
	}
	for k, camRect := range []struct {
		k *mat.Dense
		d *transform.BrownConrady
		r *mat.Dense
	}{{k1, d1, &r1}, {k2, d2, &r2m}} {
		norm, err := transform.UndistortPoints(corners, camRect.k, camRect.d, eye3Normalized())
		if err != nil {
			return nil, err
		}
		var sumX, sumY float64
		for _, pt := range norm {
			p := rotatePoint(camRect.r, r3.Vector{X: pt.X, Y: pt.Y, Z: 1})
			sumX += fNew * p.X / p.Z
			sumY += fNew * p.Y / p.Z
		}
		ccX[k] = float64(w-1)/2 - sumX/4
		ccY[k] = float64(h-1)/2 - sumY/4
	}
	// keep the epipolar constraint: equalize the off-axis principal coordinate
	if idx == 0 {
		mean := (ccY[0] + ccY[1]) / 2
		ccY[0], ccY[1] = mean, mean
	} else {
		mean := (ccX[0] + ccX[1]) / 2
		ccX[0], ccX[1] = mean, mean
	}

	makeP := func(cx, cy float64, f float64) *mat.Dense {
		return mat.NewDense(3, 4, []float64{
			f, 0, cx, 0,
			0, f, cy, 0,
			0, 0, 1, 0,
		})
	}
	p1 := makeP(ccX[0], ccY[0], fNew)
	p2 := makeP(ccX[1], ccY[1], fNew)
	p2.Set(idx, 3, axis(tNew)*fNew)

	bounds1, err := rectifyRectangles(k1, d1, &r1, p1, w, h)
	if err != nil {
		return nil, err
	}
	bounds2, err := rectifyRectangles(k2, d2, &r2m, p2, w, h)
	if err != nil {
		return nil, err
	}

	// scale the focal so the inner (alpha 0) or outer (alpha 1) rectangle
	// fills the output
	alpha := math.Min(c.Alpha, 1)
	s0 := math.Max(
		math.Max(scaleTerm(ccX[0], ccX[0]-bounds1.inX0, float64(w)-ccX[0], bounds1.inX1-ccX[0]),
			scaleTerm(ccY[0], ccY[0]-bounds1.inY0, float64(h)-ccY[0], bounds1.inY1-ccY[0])),
		math.Max(scaleTerm(ccX[1], ccX[1]-bounds2.inX0, float64(w)-ccX[1], bounds2.inX1-ccX[1]),
			scaleTerm(ccY[1], ccY[1]-bounds2.inY0, float64(h)-ccY[1], bounds2.inY1-ccY[1])),
	)
	s1 := math.Min(
		math.Min(shrinkTerm(ccX[0], ccX[0]-bounds1.outX0, float64(w)-ccX[0], bounds1.outX1-ccX[0]),
			shrinkTerm(ccY[0], ccY[0]-bounds1.outY0, float64(h)-ccY[0], bounds1.outY1-ccY[0])),
		math.Min(shrinkTerm(ccX[1], ccX[1]-bounds2.outX0, float64(w)-ccX[1], bounds2.outX1-ccX[1]),
			shrinkTerm(ccY[1], ccY[1]-bounds2.outY0, float64(h)-ccY[1], bounds2.outY1-ccY[1])),
	)
	s := s0*(1-alpha) + s1*alpha
	fScaled := fNew * s

	p1 = makeP(ccX[0], ccY[0], fScaled)
	p2 = makeP(ccX[1], ccY[1], fScaled)
	p2.Set(idx, 3, axis(tNew)*fScaled)

	roi1 := scaledValidBox(bounds1, ccX[0], ccY[0], s, w, h)
	roi2 := scaledValidBox(bounds2, ccX[1], ccY[1], s, w, h)

	disparityShift := ccX[0] - ccX[1]
	if idx == 1 {
		disparityShift = ccY[0] - ccY[1]
	}
	q := mat.NewDense(4, 4, []float64{
		1, 0, 0, -ccX[0],
		0, 1, 0, -ccY[0],
		0, 0, 0, fScaled,
		0, 0, -1 / axis(tNew), disparityShift / axis(tNew),
	})

	return &stereoRectification{
		r1:   mat.DenseCopyOf(&r1),
		r2:   mat.DenseCopyOf(&r2m),
		p1:   p1,
		p2:   p2,
		q:    q,
		roi1: roi1,
		roi2: roi2,
		idx:  idx,
		fNew: fScaled,
	}, nil
}

// eye3Normalized is the identity projection used to keep undistorted points in
// normalized coordinates.
func eye3Normalized() *mat.Dense {
	return mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
}

// scaleTerm and shrinkTerm pick the binding constraint among the four distances
// from the principal point to the rectangle edges.
func scaleTerm(c0, dLow, c1, dHigh float64) float64 {
	return math.Max(c0/dLow, c1/dHigh)
}

func shrinkTerm(c0, dLow, c1, dHigh float64) float64 {
	return math.Min(c0/dLow, c1/dHigh)
}

// rectifyBounds holds the inner (fully valid) and outer (bounding) rectangles
// of a rectified view, in rectified pixel coordinates.
type rectifyBounds struct {
	inX0, inY0, inX1, inY1     float64
	outX0, outY0, outX1, outY1 float64
}

// rectifyRectangles samples a grid over the source image, maps it through
// undistortion and rectification, and measures the inner and outer rectangles
// of the mapped region.
func rectifyRectangles(
	k *mat.Dense, d *transform.BrownConrady, r, p *mat.Dense, w, h int,
) (*rectifyBounds, error) {
	const n = 9
	pts := make([]r2.Point, 0, n*n)
	for j := 0; j < n; j++ {
		for i := 0; i < n; i++ {
			pts = append(pts, r2.Point{
				X: float64(i) * float64(w-1) / (n - 1),
				Y: float64(j) * float64(h-1) / (n - 1),
			})
		}
	}
	mapped, err := transform.UndistortRectifyPoints(pts, k, d, r, p)
	if err != nil {
		return nil, err
	}
	b := &rectifyBounds{
		inX0: math.Inf(-1), inY0: math.Inf(-1), inX1: math.Inf(1), inY1: math.Inf(1),
		outX0: math.Inf(1), outY0: math.Inf(1), outX1: math.Inf(-1), outY1: math.Inf(-1),
	}
	for idx, pt := range mapped {
		i, j := idx%n, idx/n
		b.outX0 = math.Min(b.outX0, pt.X)
		b.outY0 = math.Min(b.outY0, pt.Y)
		b.outX1 = math.Max(b.outX1, pt.X)
		b.outY1 = math.Max(b.outY1, pt.Y)
		if i == 0 {
			b.inX0 = math.Max(b.inX0, pt.X)
		}
		if i == n-1 {
			b.inX1 = math.Min(b.inX1, pt.X)
		}
		if j == 0 {
			b.inY0 = math.Max(b.inY0, pt.Y)
		}
		if j == n-1 {
			b.inY1 = math.Min(b.inY1, pt.Y)
		}
	}
	return b, nil
}

// scaledValidBox converts an inner rectangle to the final valid-pixel box after
// the focal scaling, clipped to the image.
func scaledValidBox(b *rectifyBounds, cx, cy, s float64, w, h int) *mat.Dense {
	x0 := math.Ceil((b.inX0-cx)*s + cx)
	y0 := math.Ceil((b.inY0-cy)*s + cy)
	bw := math.Floor((b.inX1 - b.inX0) * s)
	bh := math.Floor((b.inY1 - b.inY0) * s)
	x0 = math.Max(x0, 0)
	y0 = math.Max(y0, 0)
	bw = math.Min(bw, float64(w)-x0)
	bh = math.Min(bh, float64(h)-y0)
	return mat.NewDense(1, 4, []float64{x0, y0, bw, bh})
}

// buildUndistortRectifyMap computes, for every destination pixel of the
// rectified view, the source pixel it should sample, combining undistortion and
// rectification in a single backward map. The two returned tables are the
// source x and y coordinates.
func buildUndistortRectifyMap(
	k *mat.Dense, d *transform.BrownConrady, r, p *mat.Dense, w, h int,
) (*mat.Dense, *mat.Dense, error) {
	if k == nil || r == nil || p == nil {
		return nil, nil, errors.New("camera matrix, rectification and projection are all required")
	}
	// iR maps rectified pixels back to rays in the camera frame
	pr := mat.NewDense(3, 3, nil)
	p3 := p.Slice(0, 3, 0, 3)
	pr.Mul(p3, r)
	var iR mat.Dense
	if err := iR.Inverse(pr); err != nil {
		return nil, nil, errors.Wrap(err, "projection-rotation product is singular")
	}
	fx, fy := k.At(0, 0), k.At(1, 1)
	cx, cy := k.At(0, 2), k.At(1, 2)
	model := &transform.PinholeCameraModel{
		PinholeCameraIntrinsics: transform.IntrinsicsFromCameraMatrix(k, w, h),
		Distortion:              d,
	}
	distort := model.DistortionMap()
	mapX := mat.NewDense(h, w, nil)
	mapY := mat.NewDense(h, w, nil)
	for v := 0; v < h; v++ {
		for u := 0; u < w; u++ {
			x := iR.At(0, 0)*float64(u) + iR.At(0, 1)*float64(v) + iR.At(0, 2)
			y := iR.At(1, 0)*float64(u) + iR.At(1, 1)*float64(v) + iR.At(1, 2)
			z := iR.At(2, 0)*float64(u) + iR.At(2, 1)*float64(v) + iR.At(2, 2)
			xd, yd := distort(fx*x/z+cx, fy*y/z+cy)
			mapX.Set(v, u, xd)
			mapY.Set(v, u, yd)
		}
	}
	return mapX, mapY, nil
}
