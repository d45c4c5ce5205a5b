package chessboard

import (
	"image"
	"strconv"

	"github.com/fogleman/gg"
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
)

// DrawCornersOnImage overlays detected corners on img and saves the result at
// outFile. Corners are drawn as filled circles with their row-major index next
// to each, to make ordering mistakes visible at a glance.
func DrawCornersOnImage(img image.Image, corners []r2.Point, outFile string) error {
	if img == nil {
		return errors.New("no image to draw corners on")
	}
	dc := gg.NewContextForImage(img)
	dc.SetRGBA(0, 1, 0, 0.75)
	for i, c := range corners {
		dc.DrawCircle(c.X, c.Y, 4)
		dc.Fill()
		dc.DrawStringAnchored(strconv.Itoa(i), c.X+6, c.Y-6, 0, 0.5)
	}
	if err := dc.SavePNG(outFile); err != nil {
		return errors.Wrapf(err, "cannot save corner overlay to %s", outFile)
	}
	return nil
}
