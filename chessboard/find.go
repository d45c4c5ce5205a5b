// Package chessboard finds chessboard inside-corners in calibration images.
// Detection works on a luminance matrix: saddle points of the intensity surface
// are located with the determinant of the Hessian, pruned, non-maximum
// suppressed, ordered into a row-major grid and refined to subpixel precision.
package chessboard

import (
	"image"
	"sort"

	"github.com/disintegration/imaging"
	"github.com/golang/geo/r2"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrChessboardNotFound is returned when an image does not contain a detectable
// chessboard of the configured pattern size.
var ErrChessboardNotFound = errors.New("no chessboard could be found")

// Detector finds the inside corners of a chessboard calibration target.
// Rows and Columns are the number of inside corners per board row and column;
// corners are returned row-major, Columns corners per row.
type Detector struct {
	Rows    int                 `json:"rows"`
	Columns int                 `json:"columns"`
	Saddle  SaddleConfiguration `json:"saddle"`
	// Subpixel refinement parameters, following the usual (11,11) window with
	// 30 iterations and 0.01 pixel convergence.
	RefineWindow  int     `json:"refine-window"`
	RefineMaxIter int     `json:"refine-max-iter"`
	RefineEpsilon float64 `json:"refine-epsilon"`
}

// NewDetector returns a Detector for a rows x columns inside-corner pattern with
// default saddle and refinement parameters.
func NewDetector(rows, columns int) *Detector {
	return &Detector{
		Rows:          rows,
		Columns:       columns,
		Saddle:        DefaultSaddleConf,
		RefineWindow:  11,
		RefineMaxIter: 30,
		RefineEpsilon: 0.01,
	}
}

// ConvertImageToLuminanceFloat converts an image into a gray level *mat.Dense of
// luminance values in [0, 255].
func ConvertImageToLuminanceFloat(img image.Image) *mat.Dense {
	gray := imaging.Grayscale(img)
	b := gray.Bounds()
	h, w := b.Dy(), b.Dx()
	m := mat.NewDense(h, w, nil)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			// grayscale image, any channel is the luminance
			m.Set(y, x, float64(gray.NRGBAAt(b.Min.X+x, b.Min.Y+y).R))
		}
	}
	return m
}

// FindCorners locates the chessboard inside-corners in img. The corners are
// returned in row-major order with subpixel precision. ErrChessboardNotFound is
// returned when fewer corners than rows x columns are detected or when the
// detections cannot be ordered into a consistent grid.
func (d *Detector) FindCorners(img image.Image) ([]r2.Point, error) {
	need := d.Rows * d.Columns
	if need <= 0 {
		return nil, errors.New("pattern size must be positive")
	}
	m := ConvertImageToLuminanceFloat(img)
	scoreMap, saddlePoints, err := GetSaddleMapPoints(m, &d.Saddle)
	if err != nil {
		return nil, err
	}
	if len(saddlePoints) < need {
		return nil, errors.Wrapf(ErrChessboardNotFound, "found %d of %d saddle points", len(saddlePoints), need)
	}
	// keep the strongest rows x columns saddle points
	sort.SliceStable(saddlePoints, func(i, j int) bool {
		return scoreMap.At(saddlePoints[i].Y, saddlePoints[i].X) > scoreMap.At(saddlePoints[j].Y, saddlePoints[j].X)
	})
	// a symmetric corner yields a plateau of equal-score saddle pixels that all
	// survive suppression; keep one detection per neighborhood
	minSep := d.Saddle.NMSWindowSize * d.Saddle.NMSWindowSize
	deduped := make([]image.Point, 0, len(saddlePoints))
	for _, pt := range saddlePoints {
		keep := true
		for _, acc := range deduped {
			dx, dy := pt.X-acc.X, pt.Y-acc.Y
			if dx*dx+dy*dy <= minSep {
				keep = false
				break
			}
		}
		if keep {
			deduped = append(deduped, pt)
		}
	}
	if len(deduped) < need {
		return nil, errors.Wrapf(ErrChessboardNotFound, "found %d of %d distinct corners", len(deduped), need)
	}
	strongest := deduped[:need]

	grid, err := orderGridCorners(strongest, d.Rows, d.Columns)
	if err != nil {
		return nil, err
	}
	return d.refineCorners(m, grid)
}

// orderGridCorners sorts detected corner points into row-major order: points are
// clustered into rows by their y coordinate, each row sorted by x. The clustering
// assumes a roughly upright board, which the calibration capture protocol
// guarantees; a board tilted so far that rows overlap vertically is rejected.
func orderGridCorners(pts []image.Point, rows, columns int) ([]r2.Point, error) {
	if len(pts) != rows*columns {
		return nil, errors.Wrapf(ErrChessboardNotFound, "expected %d corners, got %d", rows*columns, len(pts))
	}
	sorted := make([]image.Point, len(pts))
	copy(sorted, pts)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Y < sorted[j].Y })

	out := make([]r2.Point, 0, len(pts))
	rowMeans := make([]float64, 0, rows)
	for r := 0; r < rows; r++ {
		row := sorted[r*columns : (r+1)*columns]
		if r+1 < rows && row[columns-1].Y >= sorted[(r+1)*columns].Y {
			return nil, errors.Wrap(ErrChessboardNotFound, "corner rows overlap, board too tilted to order")
		}
		sort.SliceStable(row, func(i, j int) bool { return row[i].X < row[j].X })
		ys := make([]float64, columns)
		for i, pt := range row {
			out = append(out, r2.Point{X: float64(pt.X), Y: float64(pt.Y)})
			ys[i] = float64(pt.Y)
		}
		mean, err := stats.Mean(ys)
		if err != nil {
			return nil, err
		}
		rowMeans = append(rowMeans, mean)
	}
	// row spacing should be near uniform for a planar board
	if rows > 2 {
		gaps := make([]float64, rows-1)
		for i := 1; i < rows; i++ {
			gaps[i-1] = rowMeans[i] - rowMeans[i-1]
		}
		meanGap, err := stats.Mean(gaps)
		if err != nil {
			return nil, err
		}
		sdGap, err := stats.StandardDeviation(gaps)
		if err != nil {
			return nil, err
		}
		if meanGap <= 0 || sdGap > meanGap {
			return nil, errors.Wrap(ErrChessboardNotFound, "detected grid rows are not evenly spaced")
		}
	}
	return out, nil
}

// refineCorners moves each corner to the subpixel saddle location by iteratively
// solving the gradient orthogonality system sum(g g^T)(q - p) = 0 over a window.
func (d *Detector) refineCorners(m *mat.Dense, corners []r2.Point) ([]r2.Point, error) {
	sobelX := GetSobelX()
	sobelY := GetSobelY()
	gX, err := ConvolveGrayFloat64(m, &sobelX)
	if err != nil {
		return nil, err
	}
	gY, err := ConvolveGrayFloat64(m, &sobelY)
	if err != nil {
		return nil, err
	}
	h, w := m.Dims()
	half := d.RefineWindow / 2
	out := make([]r2.Point, len(corners))
	for i, c := range corners {
		cur := c
		for iter := 0; iter < d.RefineMaxIter; iter++ {
			cx, cy := int(cur.X+0.5), int(cur.Y+0.5)
			x0, x1 := maxInt(cx-half, 1), minInt(cx+half, w-2)
			y0, y1 := maxInt(cy-half, 1), minInt(cy+half, h-2)
			var a11, a12, a22, b1, b2 float64
			for y := y0; y <= y1; y++ {
				for x := x0; x <= x1; x++ {
					gx, gy := gX.At(y, x), gY.At(y, x)
					a11 += gx * gx
					a12 += gx * gy
					a22 += gy * gy
					b1 += gx*gx*float64(x) + gx*gy*float64(y)
					b2 += gx*gy*float64(x) + gy*gy*float64(y)
				}
			}
			det := a11*a22 - a12*a12
			if det == 0 {
				break
			}
			next := r2.Point{
				X: (a22*b1 - a12*b2) / det,
				Y: (a11*b2 - a12*b1) / det,
			}
			moved := next.Sub(cur).Norm()
			cur = next
			if moved < d.RefineEpsilon {
				break
			}
		}
		// do not let refinement wander to a neighboring saddle
		if cur.Sub(c).Norm() > float64(d.RefineWindow) {
			cur = c
		}
		out[i] = cur
	}
	return out, nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
