package blockmatch

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// StereoBM is a plain block matcher: for every pixel of the left rectified
// view it finds the horizontal shift minimizing the sum of absolute
// differences over a square window. Construct with NewStereoBM; the setters
// enforce the valid parameter ranges.
type StereoBM struct {
	searchRange int
	windowSize  int
}

// NewStereoBM validates the parameters and returns a matcher. searchRange is
// the number of disparities scanned (a multiple of 16, 0 meaning the default
// of 64) and windowSize the SAD window edge (odd, 5 to 255).
func NewStereoBM(searchRange, windowSize int) (*StereoBM, error) {
	m := &StereoBM{}
	if err := m.SetSearchRange(searchRange); err != nil {
		return nil, err
	}
	if err := m.SetWindowSize(windowSize); err != nil {
		return nil, err
	}
	return m, nil
}

// SetSearchRange sets the number of disparities scanned.
func (m *StereoBM) SetSearchRange(v int) error {
	if v < 0 || v%16 != 0 {
		return errors.Wrapf(ErrInvalidSearchRange, "got %d", v)
	}
	if v == 0 {
		v = 64
	}
	m.searchRange = v
	return nil
}

// SetWindowSize sets the SAD window edge length.
func (m *StereoBM) SetWindowSize(v int) error {
	if v < 5 || v > 255 || v%2 == 0 {
		return errors.Wrapf(ErrInvalidWindowSize, "got %d", v)
	}
	m.windowSize = v
	return nil
}

// SearchRange returns the configured number of disparities.
func (m *StereoBM) SearchRange() int { return m.searchRange }

// WindowSize returns the configured SAD window edge.
func (m *StereoBM) WindowSize() int { return m.windowSize }

// Disparity computes the disparity map of a rectified pair. The output has one
// row per image row; pixels without a valid match (too close to the border or
// out of search range) hold -1.
func (m *StereoBM) Disparity(left, right image.Image) (*mat.Dense, error) {
	l, r, w, h, err := grayPair(left, right)
	if err != nil {
		return nil, err
	}
	half := m.windowSize / 2
	disp := mat.NewDense(h, w, nil)
	fill(disp, -1)
	for y := half; y < h-half; y++ {
		for x := half; x < w-half; x++ {
			bestD, bestCost := -1, math.Inf(1)
			maxD := m.searchRange
			if x-half-maxD < 0 {
				maxD = x - half
			}
			for d := 0; d <= maxD; d++ {
				cost := sadWindow(l, r, x, y, d, half, w)
				if cost < bestCost {
					bestCost, bestD = cost, d
				}
			}
			disp.Set(y, x, float64(bestD))
		}
	}
	return disp, nil
}

// grayPair converts both images to luminance rows and checks they agree in size.
func grayPair(left, right image.Image) (l, r []float64, w, h int, err error) {
	if left == nil || right == nil {
		return nil, nil, 0, 0, errors.New("both images of the pair are required")
	}
	lb, rb := left.Bounds(), right.Bounds()
	if lb.Dx() != rb.Dx() || lb.Dy() != rb.Dy() {
		return nil, nil, 0, 0, errors.Errorf("image sizes disagree: %dx%d vs %dx%d",
			lb.Dx(), lb.Dy(), rb.Dx(), rb.Dy())
	}
	w, h = lb.Dx(), lb.Dy()
	l = grayValues(imaging.Grayscale(left))
	r = grayValues(imaging.Grayscale(right))
	return l, r, w, h, nil
}

func grayValues(img *image.NRGBA) []float64 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	vals := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			vals[y*w+x] = float64(img.NRGBAAt(b.Min.X+x, b.Min.Y+y).R)
		}
	}
	return vals
}

// sadWindow sums absolute differences between a left window at (x, y) and the
// right window shifted d pixels left.
func sadWindow(l, r []float64, x, y, d, half, w int) float64 {
	sum := 0.0
	for dy := -half; dy <= half; dy++ {
		row := (y + dy) * w
		for dx := -half; dx <= half; dx++ {
			sum += math.Abs(l[row+x+dx] - r[row+x+dx-d])
		}
	}
	return sum
}

func fill(m *mat.Dense, v float64) {
	rows, cols := m.Dims()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			m.Set(i, j, v)
		}
	}
}
