package chessboard

import (
	"image"
	"image/color"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"
)

// drawCheckerboard renders a chessboard with square squares of the given size in
// pixels, squaresX x squaresY squares, so (squaresX-1) x (squaresY-1) inside corners.
func drawCheckerboard(squaresX, squaresY, squareSize int) image.Image {
	img := image.NewGray(image.Rect(0, 0, squaresX*squareSize, squaresY*squareSize))
	for y := 0; y < squaresY*squareSize; y++ {
		for x := 0; x < squaresX*squareSize; x++ {
			if (x/squareSize+y/squareSize)%2 == 0 {
				img.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return img
}

func TestFindCorners(t *testing.T) {
	const squareSize = 60
	img := drawCheckerboard(10, 7, squareSize)
	d := NewDetector(6, 9)

	corners, err := d.FindCorners(img)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(corners), test.ShouldEqual, 54)

	// corners come back row-major, top-left first
	for r := 0; r < 6; r++ {
		for c := 0; c < 9; c++ {
			got := corners[r*9+c]
			test.That(t, got.X, test.ShouldAlmostEqual, float64((c+1)*squareSize), 2)
			test.That(t, got.Y, test.ShouldAlmostEqual, float64((r+1)*squareSize), 2)
		}
	}
}

func TestFindCornersNotFound(t *testing.T) {
	flat := image.NewGray(image.Rect(0, 0, 200, 150))
	d := NewDetector(6, 9)
	_, err := d.FindCorners(flat)
	test.That(t, errors.Is(err, ErrChessboardNotFound), test.ShouldBeTrue)
}

func TestFindCornersBadPattern(t *testing.T) {
	d := NewDetector(0, 9)
	_, err := d.FindCorners(image.NewGray(image.Rect(0, 0, 10, 10)))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestConvertImageToLuminanceFloat(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 4, 3))
	img.SetGray(2, 1, color.Gray{Y: 200})
	m := ConvertImageToLuminanceFloat(img)
	h, w := m.Dims()
	test.That(t, h, test.ShouldEqual, 3)
	test.That(t, w, test.ShouldEqual, 4)
	test.That(t, m.At(1, 2), test.ShouldEqual, 200)
	test.That(t, m.At(0, 0), test.ShouldEqual, 0)
}
