package chessboard

import (
	"errors"

	"gonum.org/v1/gonum/mat"
)

// Kernel is a 2 dimensional matrix of weights used for convolutions.
type Kernel struct {
	Content [][]float64
	Width   int
	Height  int
}

// At returns the kernel weight at (x, y).
func (k *Kernel) At(x, y int) float64 {
	return k.Content[y][x]
}

// GetSobelX returns the Kernel corresponding to the Sobel kernel in the x direction
func GetSobelX() Kernel {
	return Kernel{[][]float64{
		{-1, 0, 1},
		{-2, 0, 2},
		{-1, 0, 1},
	},
		3,
		3,
	}
}

// GetSobelY returns the Kernel corresponding to the Sobel kernel in the y direction
func GetSobelY() Kernel {
	return Kernel{[][]float64{
		{-1, -2, -1},
		{0, 0, 0},
		{1, 2, 1},
	},
		3,
		3,
	}
}

// GetBlur3 returns a normalized 3x3 blur kernel
func GetBlur3() Kernel {
	return Kernel{[][]float64{
		{1. / 16, 2. / 16, 1. / 16},
		{2. / 16, 4. / 16, 2. / 16},
		{1. / 16, 2. / 16, 1. / 16},
	},
		3,
		3,
	}
}

// paddingFloat64 pads a float64 matrix with zeros on every side, enough to convolve
// with a kernel of the given size anchored at its center.
func paddingFloat64(m *mat.Dense, kernelWidth, kernelHeight int) (*mat.Dense, error) {
	if kernelWidth <= 0 || kernelHeight <= 0 {
		return nil, errors.New("kernel dimensions must be positive")
	}
	h, w := m.Dims()
	padX := kernelWidth / 2
	padY := kernelHeight / 2
	padded := mat.NewDense(h+2*padY, w+2*padX, nil)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			padded.Set(y+padY, x+padX, m.At(y, x))
		}
	}
	return padded, nil
}

// ConvolveGrayFloat64 implements a gray float64 image convolution with the Kernel filter
// There is no clamping in this case
func ConvolveGrayFloat64(m *mat.Dense, filter *Kernel) (*mat.Dense, error) {
	h, w := m.Dims()
	result := mat.NewDense(h, w, nil)
	padded, err := paddingFloat64(m, filter.Width, filter.Height)
	if err != nil {
		return nil, err
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sum := float64(0)
			for ky := 0; ky < filter.Height; ky++ {
				for kx := 0; kx < filter.Width; kx++ {
					sum += padded.At(y+ky, x+kx) * filter.At(kx, ky)
				}
			}
			result.Set(y, x, sum)
		}
	}
	return result, nil
}
