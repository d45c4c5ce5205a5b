package calibration

import (
	"image"
	"image/color"
	"testing"

	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
)

func TestRemapNearestRounding(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	src.SetNRGBA(0, 0, color.NRGBA{R: 10, A: 255})
	src.SetNRGBA(1, 0, color.NRGBA{R: 20, A: 255})

	mapX := mat.NewDense(1, 3, []float64{-0.6, 0.4, 0.6})
	mapY := mat.NewDense(1, 3, nil)
	out, err := remapNearest(src, mapX, mapY)
	test.That(t, err, test.ShouldBeNil)
	dst := out.(*image.NRGBA)
	// -0.6 rounds to -1, outside the source, not to column 0
	test.That(t, dst.NRGBAAt(0, 0), test.ShouldResemble, color.NRGBA{A: 255})
	test.That(t, dst.NRGBAAt(1, 0).R, test.ShouldEqual, uint8(10))
	test.That(t, dst.NRGBAAt(2, 0).R, test.ShouldEqual, uint8(20))

	_, err = remapNearest(src, mapX, mat.NewDense(2, 2, nil))
	test.That(t, err, test.ShouldNotBeNil)
}
