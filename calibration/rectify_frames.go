package calibration

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Rectify applies the calibration's precomputed remap tables to a fresh
// capture, returning the rectified triple in the same (left, center, right)
// order. Resampling is nearest neighbor for speed; pixels mapping outside the
// source image come out black.
func (c *CollinearCalibration) Rectify(t *Triple) (*Triple, error) {
	if t == nil || t.Left == nil || t.Center == nil || t.Right == nil {
		return nil, errors.New("capture triple must have all three images")
	}
	out := &Triple{}
	for _, s := range Sides {
		cam := c.Side(s)
		if cam.UndistortionMap == nil || cam.RectificationMap == nil {
			return nil, errors.Errorf("%s camera has no remap tables", s)
		}
		rectified, err := remapNearest(t.Side(s), cam.UndistortionMap, cam.RectificationMap)
		if err != nil {
			return nil, errors.Wrapf(err, "%s camera", s)
		}
		switch s {
		case Left:
			out.Left = rectified
		case Center:
			out.Center = rectified
		case Right:
			out.Right = rectified
		}
	}
	return out, nil
}

// remapNearest samples src at the coordinates given by the two map tables,
// rounding to the nearest source pixel.
func remapNearest(src image.Image, mapX, mapY *mat.Dense) (image.Image, error) {
	h, w := mapX.Dims()
	if h2, w2 := mapY.Dims(); h2 != h || w2 != w {
		return nil, errors.Errorf("map tables disagree on size: %dx%d vs %dx%d", w, h, w2, h2)
	}
	// NRGBA gives cheap random pixel access
	nrgba := imaging.Clone(src)
	sb := nrgba.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sx := int(math.Round(mapX.At(y, x)))
			sy := int(math.Round(mapY.At(y, x)))
			if sx < 0 || sx >= sb.Dx() || sy < 0 || sy >= sb.Dy() {
				dst.SetNRGBA(x, y, color.NRGBA{A: 255})
				continue
			}
			dst.SetNRGBA(x, y, nrgba.NRGBAAt(sx, sy))
		}
	}
	return dst, nil
}
