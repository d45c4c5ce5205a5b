package blockmatch

import (
	"image"
	"image/color"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"
)

// texture gives every pixel a pseudo-random luminance so SAD matches are
// unambiguous.
func texture(x, y int) uint8 {
	return uint8((x*73 + y*131 + x*y) % 251)
}

// shiftedPair builds a rectified pair where every left pixel matches the right
// pixel shift columns to its left, a constant disparity scene.
func shiftedPair(w, h, shift int) (left, right image.Image) {
	l := image.NewGray(image.Rect(0, 0, w, h))
	r := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			l.SetGray(x, y, color.Gray{Y: texture(x, y)})
			r.SetGray(x, y, color.Gray{Y: texture(x+shift, y)})
		}
	}
	return l, r
}

func TestNewStereoBM(t *testing.T) {
	m, err := NewStereoBM(0, 9)
	test.That(t, err, test.ShouldBeNil)
	// zero search range means the default
	test.That(t, m.SearchRange(), test.ShouldEqual, 64)
	test.That(t, m.WindowSize(), test.ShouldEqual, 9)

	for _, v := range []int{-16, 3, 17} {
		err := m.SetSearchRange(v)
		test.That(t, errors.Is(err, ErrInvalidSearchRange), test.ShouldBeTrue)
		test.That(t, errors.Is(err, ErrBadBlockMatcherArgument), test.ShouldBeTrue)
	}
	for _, v := range []int{3, 6, 257} {
		err := m.SetWindowSize(v)
		test.That(t, errors.Is(err, ErrInvalidWindowSize), test.ShouldBeTrue)
		test.That(t, errors.Is(err, ErrBadBlockMatcherArgument), test.ShouldBeTrue)
	}
}

func TestStereoBMDisparity(t *testing.T) {
	const shift = 8
	left, right := shiftedPair(80, 40, shift)
	m, err := NewStereoBM(16, 5)
	test.That(t, err, test.ShouldBeNil)

	disp, err := m.Disparity(left, right)
	test.That(t, err, test.ShouldBeNil)
	rows, cols := disp.Dims()
	test.That(t, rows, test.ShouldEqual, 40)
	test.That(t, cols, test.ShouldEqual, 80)
	// away from the borders the constant shift is recovered exactly
	for y := 5; y < 35; y++ {
		for x := 12; x < 70; x++ {
			test.That(t, disp.At(y, x), test.ShouldEqual, shift)
		}
	}
	// border pixels carry the invalid marker
	test.That(t, disp.At(0, 0), test.ShouldEqual, -1)
}

func TestStereoBMDisparityBadInput(t *testing.T) {
	m, err := NewStereoBM(16, 5)
	test.That(t, err, test.ShouldBeNil)
	_, err = m.Disparity(nil, nil)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = m.Disparity(
		image.NewGray(image.Rect(0, 0, 10, 10)),
		image.NewGray(image.Rect(0, 0, 20, 10)),
	)
	test.That(t, err, test.ShouldNotBeNil)
}
