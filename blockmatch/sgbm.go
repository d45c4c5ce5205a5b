package blockmatch

import (
	"image"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// StereoSGBM is a semi-global block matcher: per-pixel SAD costs are smoothed
// by scanline aggregation with two disparity-change penalties before the best
// disparity is picked, then filtered by uniqueness ratio and speckle removal.
// Construct with NewStereoSGBM; every setter validates its range.
type StereoSGBM struct {
	minDisparity      int
	numDisparities    int
	sadWindowSize     int
	firstPenalty      int
	secondPenalty     int
	uniquenessRatio   int
	speckleWindowSize int
	speckleRange      int
}

// SGBMConfig carries the full parameter set of a StereoSGBM.
type SGBMConfig struct {
	MinDisparity      int `json:"min-disparity"`
	NumDisparities    int `json:"num-disparities"`
	SADWindowSize     int `json:"sad-window-size"`
	FirstPenalty      int `json:"p1"`
	SecondPenalty     int `json:"p2"`
	UniquenessRatio   int `json:"uniqueness-ratio"`
	SpeckleWindowSize int `json:"speckle-window-size"`
	SpeckleRange      int `json:"speckle-range"`
}

// NewStereoSGBM validates every parameter of cfg and returns the matcher.
func NewStereoSGBM(cfg SGBMConfig) (*StereoSGBM, error) {
	m := &StereoSGBM{minDisparity: cfg.MinDisparity}
	if err := m.SetNumDisparities(cfg.NumDisparities); err != nil {
		return nil, err
	}
	if err := m.SetSADWindowSize(cfg.SADWindowSize); err != nil {
		return nil, err
	}
	if err := m.SetPenalties(cfg.FirstPenalty, cfg.SecondPenalty); err != nil {
		return nil, err
	}
	if err := m.SetUniquenessRatio(cfg.UniquenessRatio); err != nil {
		return nil, err
	}
	if err := m.SetSpeckleWindowSize(cfg.SpeckleWindowSize); err != nil {
		return nil, err
	}
	if err := m.SetSpeckleRange(cfg.SpeckleRange); err != nil {
		return nil, err
	}
	return m, nil
}

// SetNumDisparities sets the disparity search span.
func (m *StereoSGBM) SetNumDisparities(v int) error {
	if v <= 0 || v%16 != 0 {
		return errors.Wrapf(ErrInvalidNumDisparities, "got %d", v)
	}
	m.numDisparities = v
	return nil
}

// SetSADWindowSize sets the matched block edge length.
func (m *StereoSGBM) SetSADWindowSize(v int) error {
	if v < 1 || v > 11 || v%2 == 0 {
		return errors.Wrapf(ErrInvalidSADWindowSize, "got %d", v)
	}
	m.sadWindowSize = v
	return nil
}

// SetPenalties sets the small and large disparity-change penalties together,
// since their contract is relative.
func (m *StereoSGBM) SetPenalties(p1, p2 int) error {
	if p1 <= 0 {
		return errors.Wrapf(ErrInvalidFirstDisparityChangePenalty, "got p1=%d", p1)
	}
	if p2 <= p1 {
		return errors.Wrapf(ErrInvalidSecondDisparityChangePenalty, "got p1=%d, p2=%d", p1, p2)
	}
	m.firstPenalty, m.secondPenalty = p1, p2
	return nil
}

// SetUniquenessRatio sets the margin (in percent) by which the best match must
// beat the runner-up.
func (m *StereoSGBM) SetUniquenessRatio(v int) error {
	if v < 5 || v > 15 {
		return errors.Wrapf(ErrInvalidUniquenessRatio, "got %d", v)
	}
	m.uniquenessRatio = v
	return nil
}

// SetSpeckleWindowSize sets the maximum size of disparity blobs that get
// removed as noise, 0 disabling the filter.
func (m *StereoSGBM) SetSpeckleWindowSize(v int) error {
	if v != 0 && (v < 50 || v > 200) {
		return errors.Wrapf(ErrInvalidSpeckleWindowSize, "got %d", v)
	}
	m.speckleWindowSize = v
	return nil
}

// SetSpeckleRange sets the disparity variation tolerated inside one blob.
func (m *StereoSGBM) SetSpeckleRange(v int) error {
	if v < 0 {
		return errors.Wrapf(ErrInvalidSpeckleRange, "got %d", v)
	}
	m.speckleRange = v
	return nil
}

// Disparity computes a filtered disparity map of a rectified pair. Pixels with
// no accepted match hold minDisparity - 1.
func (m *StereoSGBM) Disparity(left, right image.Image) (*mat.Dense, error) {
	l, r, w, h, err := grayPair(left, right)
	if err != nil {
		return nil, err
	}
	half := m.sadWindowSize / 2
	invalid := float64(m.minDisparity - 1)
	disp := mat.NewDense(h, w, nil)
	fill(disp, invalid)

	nd := m.numDisparities
	cost := make([]float64, nd)
	agg := make([]float64, nd)
	prev := make([]float64, nd)

	for y := half; y < h-half; y++ {
		for i := range prev {
			prev[i] = 0
		}
		for x := half; x < w-half; x++ {
			minPrev := math.Inf(1)
			for _, c := range prev {
				if c < minPrev {
					minPrev = c
				}
			}
			if math.IsInf(minPrev, 1) {
				minPrev = 0
			}
			for d := 0; d < nd; d++ {
				sx := x - (m.minDisparity + d)
				if sx-half < 0 || sx+half >= w {
					cost[d] = math.Inf(1)
					agg[d] = math.Inf(1)
					continue
				}
				cost[d] = sadWindow(l, r, x, y, m.minDisparity+d, half, w)
				// scanline aggregation with the two change penalties
				best := prev[d]
				if d > 0 {
					best = math.Min(best, prev[d-1]+float64(m.firstPenalty))
				}
				if d < nd-1 {
					best = math.Min(best, prev[d+1]+float64(m.firstPenalty))
				}
				best = math.Min(best, minPrev+float64(m.secondPenalty))
				agg[d] = cost[d] + best - minPrev
			}
			bestD, bestCost, secondCost := -1, math.Inf(1), math.Inf(1)
			for d := 0; d < nd; d++ {
				if agg[d] < bestCost {
					secondCost = bestCost
					bestCost, bestD = agg[d], d
				} else if agg[d] < secondCost {
					secondCost = agg[d]
				}
			}
			copy(prev, agg)
			if bestD < 0 {
				continue
			}
			// uniqueness check: the winner must beat the runner-up by the
			// configured margin
			if !math.IsInf(secondCost, 1) &&
				bestCost*(100+float64(m.uniquenessRatio)) > secondCost*100 {
				continue
			}
			disp.Set(y, x, float64(m.minDisparity+bestD))
		}
	}
	if m.speckleWindowSize > 0 {
		m.filterSpeckles(disp, invalid)
	}
	return disp, nil
}

// filterSpeckles removes connected disparity blobs smaller than the speckle
// window whose internal variation stays within the speckle range; such blobs
// are noise, not structure.
func (m *StereoSGBM) filterSpeckles(disp *mat.Dense, invalid float64) {
	h, w := disp.Dims()
	visited := make([]bool, h*w)
	blob := make([]int, 0, m.speckleWindowSize+1)
	stack := make([]int, 0, m.speckleWindowSize+1)
	for start := 0; start < h*w; start++ {
		if visited[start] || disp.At(start/w, start%w) == invalid {
			continue
		}
		blob = blob[:0]
		stack = append(stack[:0], start)
		visited[start] = true
		for len(stack) > 0 {
			idx := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			blob = append(blob, idx)
			cy, cx := idx/w, idx%w
			v := disp.At(cy, cx)
			for _, n := range [4]int{idx - 1, idx + 1, idx - w, idx + w} {
				if n < 0 || n >= h*w || visited[n] {
					continue
				}
				ny, nx := n/w, n%w
				if (n == idx-1 && nx == w-1) || (n == idx+1 && nx == 0) {
					continue // row wrap
				}
				nv := disp.At(ny, nx)
				if nv == invalid || math.Abs(nv-v) > float64(m.speckleRange) {
					continue
				}
				visited[n] = true
				stack = append(stack, n)
			}
		}
		if len(blob) <= m.speckleWindowSize {
			for _, idx := range blob {
				disp.Set(idx/w, idx%w, invalid)
			}
		}
	}
}
