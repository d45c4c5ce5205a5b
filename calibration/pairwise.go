package calibration

import (
	"github.com/edaniels/golog"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/sdlouhy/Tricam/transform"
)

// PairwiseCalibration is the calibration of one stereo pair. Rot and Trans give
// the pose of camera B relative to camera A (Xb = Rot*Xa + Trans). All fields
// are populated when returned by CalibratePair; the struct is immutable after
// creation.
type PairwiseCalibration struct {
	CamMatA *mat.Dense
	CamMatB *mat.Dense
	DistA   *transform.BrownConrady
	DistB   *transform.BrownConrady
	// Rot is 3x3, Trans is 3x1, Essential and Fundamental are 3x3.
	Rot         *mat.Dense
	Trans       *mat.Dense
	Essential   *mat.Dense
	Fundamental *mat.Dense
}

// PairwiseCalibrator computes the calibration of a camera pair from accumulated
// chessboard observations. The modeling constraints suit a rigidly mounted rig
// with near-identical optics: a single focal length is shared across both
// cameras and within each camera (fixed aspect ratio), and tangential
// distortion is held at zero.
type PairwiseCalibrator struct {
	cfg    Config
	logger golog.Logger

	// MaxIterations and Epsilon bound the pose refinement.
	MaxIterations int
	Epsilon       float64
}

// NewPairwiseCalibrator returns a calibrator with the usual solver tolerances,
// capping refinement at 100 iterations with a 1e-5 convergence epsilon.
func NewPairwiseCalibrator(cfg Config, logger golog.Logger) *PairwiseCalibrator {
	return &PairwiseCalibrator{
		cfg:           cfg,
		logger:        logger,
		MaxIterations: 100,
		Epsilon:       1e-5,
	}
}

// CalibratePair calibrates a camera pair from per-capture object points and the
// matching detections in both cameras. Every capture must carry the full
// rows x columns corner count in both views. Numerical failures of the
// underlying solvers are returned as-is, never retried or masked.
func (c *PairwiseCalibrator) CalibratePair(
	objectPts [][]r3.Vector,
	imagePtsA, imagePtsB [][]r2.Point,
) (*PairwiseCalibration, error) {
	if len(objectPts) == 0 {
		return nil, ErrNoObservations
	}
	if len(imagePtsA) != len(objectPts) || len(imagePtsB) != len(objectPts) {
		return nil, errors.Errorf(
			"capture counts disagree: %d object point sets, %d and %d image point sets",
			len(objectPts), len(imagePtsA), len(imagePtsB))
	}
	n := c.cfg.CornerCount()
	for i := range objectPts {
		if len(objectPts[i]) != n || len(imagePtsA[i]) != n || len(imagePtsB[i]) != n {
			return nil, errors.Errorf("capture %d does not carry %d corners on all sides", i, n)
		}
	}

	hA, err := planarHomographies(objectPts, imagePtsA)
	if err != nil {
		return nil, errors.Wrap(err, "camera A homographies")
	}
	hB, err := planarHomographies(objectPts, imagePtsB)
	if err != nil {
		return nil, errors.Wrap(err, "camera B homographies")
	}
	kA, err := intrinsicsFromHomographies(hA)
	if err != nil {
		return nil, errors.Wrap(err, "camera A intrinsics")
	}
	kB, err := intrinsicsFromHomographies(hB)
	if err != nil {
		return nil, errors.Wrap(err, "camera B intrinsics")
	}
	// one focal length for the whole pair
	f := (kA.At(0, 0) + kA.At(1, 1) + kB.At(0, 0) + kB.At(1, 1)) / 4
	for _, k := range []*mat.Dense{kA, kB} {
		k.Set(0, 0, f)
		k.Set(1, 1, f)
	}

	posesA := make([]*boardPose, len(objectPts))
	posesB := make([]*boardPose, len(objectPts))
	for i := range objectPts {
		if posesA[i], err = poseFromHomography(hA[i], kA); err != nil {
			return nil, errors.Wrapf(err, "camera A pose, capture %d", i)
		}
		if posesB[i], err = poseFromHomography(hB[i], kB); err != nil {
			return nil, errors.Wrapf(err, "camera B pose, capture %d", i)
		}
	}
	distA, err := estimateRadialDistortion(objectPts, imagePtsA, kA, posesA)
	if err != nil {
		return nil, errors.Wrap(err, "camera A distortion")
	}
	distB, err := estimateRadialDistortion(objectPts, imagePtsB, kB, posesB)
	if err != nil {
		return nil, errors.Wrap(err, "camera B distortion")
	}

	rot, trans, err := c.relativePose(objectPts, imagePtsB, kB, distB, posesA, posesB)
	if err != nil {
		return nil, err
	}
	ess := transform.GetEssentialMatrixFromPose(rot, trans)
	fund, err := transform.GetFundamentalMatrixFromEssential(kA, kB, ess)
	if err != nil {
		return nil, errors.Wrap(err, "fundamental matrix")
	}
	return &PairwiseCalibration{
		CamMatA:     kA,
		CamMatB:     kB,
		DistA:       distA,
		DistB:       distB,
		Rot:         rot,
		Trans:       trans,
		Essential:   ess,
		Fundamental: fund,
	}, nil
}

// relativePose averages the per-capture relative poses of camera B with respect
// to camera A and refines the result by minimizing the reprojection error of
// the board corners into camera B.
func (c *PairwiseCalibrator) relativePose(
	objectPts [][]r3.Vector,
	imagePtsB [][]r2.Point,
	kB *mat.Dense,
	distB *transform.BrownConrady,
	posesA, posesB []*boardPose,
) (*mat.Dense, *mat.Dense, error) {
	rots := make([]*mat.Dense, len(posesA))
	var tSum r3.Vector
	for i := range posesA {
		var r mat.Dense
		r.Mul(posesB[i].r, posesA[i].r.T())
		rots[i] = mat.DenseCopyOf(&r)
		tSum = tSum.Add(posesB[i].t.Sub(rotatePoint(rots[i], posesA[i].t)))
	}
	rot, err := transform.AverageRotations(rots)
	if err != nil {
		return nil, nil, errors.Wrap(err, "relative rotation")
	}
	t := tSum.Mul(1 / float64(len(posesA)))

	cost := func(x []float64) float64 {
		r := transform.RotationMatrixFromVector(r3.Vector{X: x[0], Y: x[1], Z: x[2]})
		tv := r3.Vector{X: x[3], Y: x[4], Z: x[5]}
		sum, count := 0.0, 0
		for i := range objectPts {
			for j, obj := range objectPts[i] {
				camA := rotatePoint(posesA[i].r, obj).Add(posesA[i].t)
				camB := rotatePoint(r, camA).Add(tv)
				if camB.Z <= 0 {
					return 1e12
				}
				pt := projectPoint(kB, distB, camB)
				d := pt.Sub(imagePtsB[i][j])
				sum += d.X*d.X + d.Y*d.Y
				count++
			}
		}
		return sum / float64(count)
	}
	rv := transform.RotationVectorFromMatrix(rot)
	x0 := []float64{rv.X, rv.Y, rv.Z, t.X, t.Y, t.Z}
	initial := cost(x0)
	problem := optimize.Problem{Func: cost}
	settings := &optimize.Settings{
		MajorIterations: c.MaxIterations,
		Converger: &optimize.FunctionConverge{
			Absolute:   c.Epsilon,
			Iterations: 20,
		},
	}
	result, err := optimize.Minimize(problem, x0, settings, &optimize.NelderMead{})
	if err == nil && result != nil && result.F < initial {
		rot = transform.RotationMatrixFromVector(r3.Vector{X: result.X[0], Y: result.X[1], Z: result.X[2]})
		t = r3.Vector{X: result.X[3], Y: result.X[4], Z: result.X[5]}
		if c.logger != nil {
			c.logger.Debugw("refined relative pose", "initial_cost", initial, "final_cost", result.F)
		}
	} else if err != nil && c.logger != nil {
		c.logger.Debugw("pose refinement did not converge, keeping averaged pose", "error", err)
	}
	return rot, mat.NewDense(3, 1, []float64{t.X, t.Y, t.Z}), nil
}
