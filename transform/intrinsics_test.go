package transform

import (
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"
)

func TestIntrinsicsCheckValid(t *testing.T) {
	good := &PinholeCameraIntrinsics{Width: 640, Height: 480, Fx: 800, Fy: 800, Ppx: 320, Ppy: 240}
	test.That(t, good.CheckValid(), test.ShouldBeNil)

	var nilParams *PinholeCameraIntrinsics
	test.That(t, nilParams.CheckValid(), test.ShouldNotBeNil)
	bad := &PinholeCameraIntrinsics{Width: 640, Height: 480, Fx: -1, Fy: 800}
	test.That(t, bad.CheckValid(), test.ShouldNotBeNil)
}

func TestCameraMatrixRoundTrip(t *testing.T) {
	params := &PinholeCameraIntrinsics{Width: 640, Height: 480, Fx: 800, Fy: 810, Ppx: 320, Ppy: 240}
	k := params.GetCameraMatrix()
	test.That(t, k.At(0, 0), test.ShouldEqual, 800)
	test.That(t, k.At(1, 1), test.ShouldEqual, 810)
	test.That(t, k.At(2, 2), test.ShouldEqual, 1)

	back := IntrinsicsFromCameraMatrix(k, 640, 480)
	test.That(t, *back, test.ShouldResemble, *params)
}

func TestNewPinholeCameraIntrinsicsFromJSONFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "intrinsics.json")
	blob := []byte(`{"width_px": 640, "height_px": 480, "fx": 800, "fy": 810, "ppx": 320, "ppy": 240}`)
	test.That(t, os.WriteFile(path, blob, 0o644), test.ShouldBeNil)

	params, err := NewPinholeCameraIntrinsicsFromJSONFile(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, *params, test.ShouldResemble,
		PinholeCameraIntrinsics{Width: 640, Height: 480, Fx: 800, Fy: 810, Ppx: 320, Ppy: 240})
	test.That(t, params.CheckValid(), test.ShouldBeNil)

	_, err = NewPinholeCameraIntrinsicsFromJSONFile(filepath.Join(dir, "missing.json"))
	test.That(t, err, test.ShouldNotBeNil)

	bad := filepath.Join(dir, "bad.json")
	test.That(t, os.WriteFile(bad, []byte("{"), 0o644), test.ShouldBeNil)
	_, err = NewPinholeCameraIntrinsicsFromJSONFile(bad)
	test.That(t, err, test.ShouldNotBeNil)
}
