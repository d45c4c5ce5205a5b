package blockmatch

import (
	"image"

	"github.com/disintegration/imaging"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/sdlouhy/Tricam/pointcloud"
)

// ReprojectTo3D lifts a disparity map to a colored point cloud through the 4x4
// disparity-to-depth matrix Q of a fused calibration. colors supplies each
// point's color from the rectified reference view; disparities at or below
// minValid are skipped.
func ReprojectTo3D(disp *mat.Dense, q *mat.Dense, colors image.Image, minValid float64) (*pointcloud.PointCloud, error) {
	if disp == nil || q == nil {
		return nil, errors.New("disparity map and Q matrix are required")
	}
	if qr, qc := q.Dims(); qr != 4 || qc != 4 {
		return nil, errors.Errorf("Q must be 4x4, got %dx%d", qr, qc)
	}
	h, w := disp.Dims()
	var src *image.NRGBA
	if colors != nil {
		src = imaging.Clone(colors)
		b := src.Bounds()
		if b.Dx() != w || b.Dy() != h {
			return nil, errors.Errorf("color image %dx%d does not match disparity %dx%d",
				b.Dx(), b.Dy(), w, h)
		}
	}
	pc := pointcloud.New()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			d := disp.At(y, x)
			if d <= minValid {
				continue
			}
			hx := float64(x)
			hy := float64(y)
			px := q.At(0, 0)*hx + q.At(0, 1)*hy + q.At(0, 2)*d + q.At(0, 3)
			py := q.At(1, 0)*hx + q.At(1, 1)*hy + q.At(1, 2)*d + q.At(1, 3)
			pz := q.At(2, 0)*hx + q.At(2, 1)*hy + q.At(2, 2)*d + q.At(2, 3)
			pw := q.At(3, 0)*hx + q.At(3, 1)*hy + q.At(3, 2)*d + q.At(3, 3)
			if pw == 0 {
				continue
			}
			pt := pointcloud.Point{
				Position: r3.Vector{X: px / pw, Y: py / pw, Z: pz / pw},
			}
			if src != nil {
				pt.Color = src.NRGBAAt(x, y)
			}
			pc.Add(pt)
		}
	}
	return pc, nil
}
