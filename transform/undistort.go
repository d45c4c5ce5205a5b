package transform

import (
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// invertBrownConrady computes the undistorted normalized coordinates that the forward
// Brown-Conrady model maps to (xd, yd), using an iterative Newton-Raphson method.
func invertBrownConrady(bc *BrownConrady, xd, yd float64) (float64, float64) {
	if bc == nil {
		return xd, yd
	}

	// Start with the distorted point as initial guess
	xu, yu := xd, yd

	const maxIterations = 20
	const tolerance = 1e-10

	for i := 0; i < maxIterations; i++ {
		r2 := xu*xu + yu*yu
		r4 := r2 * r2

		// Compute forward distortion at current estimate
		xdEst, ydEst := bc.Transform(xu, yu)
		errX := xdEst - xd
		errY := ydEst - yd
		if errX*errX+errY*errY < tolerance*tolerance {
			break
		}

		// Jacobian of the forward distortion function
		// J = [[dxd/dxu, dxd/dyu], [dyd/dxu, dyd/dyu]]
		radDist := 1.0 + bc.RadialK1*r2 + bc.RadialK2*r4 + bc.RadialK3*r4*r2
		dRadDistDxu := 2.0 * xu * (bc.RadialK1 + 2.0*bc.RadialK2*r2 + 3.0*bc.RadialK3*r4)
		dRadDistDyu := 2.0 * yu * (bc.RadialK1 + 2.0*bc.RadialK2*r2 + 3.0*bc.RadialK3*r4)

		dxdDxu := radDist + xu*dRadDistDxu + 2.0*bc.TangentialP1*yu + bc.TangentialP2*(2.0*xu+4.0*xu)
		dxdDyu := xu*dRadDistDyu + 2.0*bc.TangentialP1*xu + bc.TangentialP2*2.0*yu
		dydDxu := yu*dRadDistDxu + 2.0*bc.TangentialP2*yu + bc.TangentialP1*2.0*xu
		dydDyu := radDist + yu*dRadDistDyu + 2.0*bc.TangentialP2*xu + bc.TangentialP1*(2.0*yu+4.0*yu)

		det := dxdDxu*dydDyu - dxdDyu*dydDxu
		if det == 0 {
			break
		}

		// Update: [xu, yu] -= J^-1 * [errX, errY]
		xu -= (dydDyu*errX - dxdDyu*errY) / det
		yu -= (-dydDxu*errX + dxdDxu*errY) / det
	}

	return xu, yu
}

// UndistortRectifyPoints removes lens distortion and applies a rectification
// rotation before re-projecting. Points are normalized with k, the distortion is
// inverted, the ray is rotated by r, and the result is projected through the
// 3x3 intrinsic block of p (which may be 3x4). r == nil skips the rotation.
func UndistortRectifyPoints(pts []r2.Point, k *mat.Dense, dist *BrownConrady, r, p *mat.Dense) ([]r2.Point, error) {
	if k == nil {
		return nil, errors.New("camera matrix is nil")
	}
	if p == nil {
		p = k
	}
	fx, fy := k.At(0, 0), k.At(1, 1)
	cx, cy := k.At(0, 2), k.At(1, 2)
	if fx == 0 || fy == 0 {
		return nil, errors.New("camera matrix has zero focal length")
	}
	out := make([]r2.Point, len(pts))
	for i, pt := range pts {
		x := (pt.X - cx) / fx
		y := (pt.Y - cy) / fy
		xu, yu := invertBrownConrady(dist, x, y)
		xr, yr, w := xu, yu, 1.0
		if r != nil {
			xr = r.At(0, 0)*xu + r.At(0, 1)*yu + r.At(0, 2)
			yr = r.At(1, 0)*xu + r.At(1, 1)*yu + r.At(1, 2)
			w = r.At(2, 0)*xu + r.At(2, 1)*yu + r.At(2, 2)
		}
		xr, yr = xr/w, yr/w
		out[i] = r2.Point{
			X: p.At(0, 0)*xr + p.At(0, 1)*yr + p.At(0, 2),
			Y: p.At(1, 0)*xr + p.At(1, 1)*yr + p.At(1, 2),
		}
	}
	return out, nil
}

// UndistortPoints removes the lens distortion from pixel coordinates. Points are
// normalized with the camera matrix k, the distortion model is inverted, and the
// result is re-projected through p. Passing p == k undistorts while keeping the
// original intrinsic scale, so the output stays in pixel units.
func UndistortPoints(pts []r2.Point, k *mat.Dense, dist *BrownConrady, p *mat.Dense) ([]r2.Point, error) {
	if k == nil {
		return nil, errors.New("camera matrix is nil")
	}
	if p == nil {
		p = k
	}
	fx, fy := k.At(0, 0), k.At(1, 1)
	cx, cy := k.At(0, 2), k.At(1, 2)
	if fx == 0 || fy == 0 {
		return nil, errors.New("camera matrix has zero focal length")
	}
	out := make([]r2.Point, len(pts))
	for i, pt := range pts {
		x := (pt.X - cx) / fx
		y := (pt.Y - cy) / fy
		xu, yu := invertBrownConrady(dist, x, y)
		out[i] = r2.Point{
			X: p.At(0, 0)*xu + p.At(0, 2),
			Y: p.At(1, 1)*yu + p.At(1, 2),
		}
	}
	return out, nil
}
