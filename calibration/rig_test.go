package calibration

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"github.com/sdlouhy/Tricam/transform"
)

// The test rig is three identical pinhole cameras on the x axis: left at the
// origin, center 6 units to its right, right 12 units, all looking down +Z with
// no distortion. Points in the left frame map to the other frames by a pure
// translation, Xc = Xl + (-6, 0, 0) and Xr = Xl + (-12, 0, 0).

var (
	rigCenterTrans = r3.Vector{X: -6, Y: 0, Z: 0}
	rigRightTrans  = r3.Vector{X: -12, Y: 0, Z: 0}
)

func rigCameraMatrix() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		800, 0, 320,
		0, 800, 240,
		0, 0, 1,
	})
}

// rigBoardPoses returns varied chessboard poses in the left camera frame. Zhang
// calibration needs non-parallel board planes.
func rigBoardPoses() []*boardPose {
	rvecs := []r3.Vector{
		{X: 0.1, Y: -0.2, Z: 0.05},
		{X: -0.25, Y: 0.15, Z: -0.1},
		{X: 0.2, Y: 0.25, Z: 0.1},
		{X: -0.1, Y: -0.15, Z: 0.2},
		{X: 0.3, Y: 0.05, Z: -0.15},
	}
	ts := []r3.Vector{
		{X: -5, Y: -4, Z: 60},
		{X: -7, Y: -3, Z: 55},
		{X: -3, Y: -5, Z: 65},
		{X: -6, Y: -4.5, Z: 58},
		{X: -4, Y: -3.5, Z: 62},
	}
	poses := make([]*boardPose, len(rvecs))
	for i := range rvecs {
		poses[i] = &boardPose{r: transform.RotationMatrixFromVector(rvecs[i]), t: ts[i]}
	}
	return poses
}

// projectBoard projects the board corners seen from the left camera frame,
// shifted into a camera offset by shift, through an ideal pinhole k.
func projectBoard(k *mat.Dense, pose *boardPose, shift r3.Vector, board []r3.Vector) []r2.Point {
	pts := make([]r2.Point, len(board))
	for i, obj := range board {
		cam := rotatePoint(pose.r, obj).Add(pose.t).Add(shift)
		pts[i] = projectPoint(k, nil, cam)
	}
	return pts
}

// synthObservations fills a store with perfect corner projections for every
// board pose on all three cameras.
func synthObservations(cfg Config) (*ObservationStore, error) {
	store, err := NewObservationStore(cfg, &gridFinder{cfg: cfg})
	if err != nil {
		return nil, err
	}
	k := rigCameraMatrix()
	board := store.ReferencePattern()
	for _, pose := range rigBoardPoses() {
		left := projectBoard(k, pose, r3.Vector{}, board)
		center := projectBoard(k, pose, rigCenterTrans, board)
		right := projectBoard(k, pose, rigRightTrans, board)
		if err := store.AddCorners(left, center, right); err != nil {
			return nil, err
		}
	}
	return store, nil
}
