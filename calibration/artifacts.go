package calibration

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"
	"gonum.org/v1/gonum/mat"

	"github.com/sdlouhy/Tricam/transform"
)

// Artifact file names. Per-side fields are stored as one blob per
// (field, side) pair named {field}_{side}.bin, scalar fields as {field}.bin.
const (
	fieldCamMats          = "cam_mats"
	fieldDistCoefs        = "dist_coefs"
	fieldRectTrans        = "rect_trans"
	fieldProjMats         = "proj_mats"
	fieldValidBoxes       = "valid_boxes"
	fieldUndistortionMap  = "undistortion_map"
	fieldRectificationMap = "rectification_map"
	fieldRotMat           = "rot_mat"
	fieldTransVec         = "trans_vec"
	fieldEssentialMat     = "e_mat"
	fieldFundamentalMat   = "f_mat"
	fieldDispToDepthMat   = "disp_to_depth_mat"

	artifactExt = ".bin"
)

// Export writes every populated numeric field of the calibration into dir as
// one binary array blob per field, creating the directory if absent. Unset
// fields write no file, so a partial calibration stays distinguishable from a
// full one after a round trip.
func Export(calib *CollinearCalibration, dir string) error {
	if calib == nil {
		return errors.New("no calibration to export")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "cannot create artifact directory %s", dir)
	}
	for _, s := range Sides {
		cam := calib.Side(s)
		sideFields := []struct {
			name string
			m    *mat.Dense
		}{
			{fieldCamMats, cam.CamMat},
			{fieldDistCoefs, distToDense(cam.DistCoeffs)},
			{fieldRectTrans, cam.RectTrans},
			{fieldProjMats, cam.ProjMat},
			{fieldValidBoxes, cam.ValidBox},
			{fieldUndistortionMap, cam.UndistortionMap},
			{fieldRectificationMap, cam.RectificationMap},
		}
		for _, f := range sideFields {
			if err := writeDense(sidePath(dir, f.name, s), f.m); err != nil {
				return errors.Wrapf(err, "exporting %s_%s", f.name, s)
			}
		}
	}
	scalarFields := []struct {
		name string
		m    *mat.Dense
	}{
		{fieldRotMat, calib.Rot},
		{fieldTransVec, calib.Trans},
		{fieldEssentialMat, calib.Essential},
		{fieldFundamentalMat, calib.Fundamental},
		{fieldDispToDepthMat, calib.DispToDepth},
	}
	for _, f := range scalarFields {
		if err := writeDense(scalarPath(dir, f.name), f.m); err != nil {
			return errors.Wrapf(err, "exporting %s", f.name)
		}
	}
	return nil
}

// Load reconstructs a calibration from a directory written by Export. Fields
// whose blob is absent load as nil; nothing is fabricated for them.
func Load(dir string) (*CollinearCalibration, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read artifact directory %s", dir)
	}
	if !info.IsDir() {
		return nil, errors.Errorf("%s is not a directory", dir)
	}
	calib := &CollinearCalibration{}
	for _, s := range Sides {
		cam := calib.Side(s)
		if cam.CamMat, err = readDense(sidePath(dir, fieldCamMats, s)); err != nil {
			return nil, errors.Wrapf(err, "loading %s_%s", fieldCamMats, s)
		}
		distM, err := readDense(sidePath(dir, fieldDistCoefs, s))
		if err != nil {
			return nil, errors.Wrapf(err, "loading %s_%s", fieldDistCoefs, s)
		}
		if cam.DistCoeffs, err = distFromDense(distM); err != nil {
			return nil, errors.Wrapf(err, "loading %s_%s", fieldDistCoefs, s)
		}
		if cam.RectTrans, err = readDense(sidePath(dir, fieldRectTrans, s)); err != nil {
			return nil, errors.Wrapf(err, "loading %s_%s", fieldRectTrans, s)
		}
		if cam.ProjMat, err = readDense(sidePath(dir, fieldProjMats, s)); err != nil {
			return nil, errors.Wrapf(err, "loading %s_%s", fieldProjMats, s)
		}
		if cam.ValidBox, err = readDense(sidePath(dir, fieldValidBoxes, s)); err != nil {
			return nil, errors.Wrapf(err, "loading %s_%s", fieldValidBoxes, s)
		}
		if cam.UndistortionMap, err = readDense(sidePath(dir, fieldUndistortionMap, s)); err != nil {
			return nil, errors.Wrapf(err, "loading %s_%s", fieldUndistortionMap, s)
		}
		if cam.RectificationMap, err = readDense(sidePath(dir, fieldRectificationMap, s)); err != nil {
			return nil, errors.Wrapf(err, "loading %s_%s", fieldRectificationMap, s)
		}
	}
	if calib.Rot, err = readDense(scalarPath(dir, fieldRotMat)); err != nil {
		return nil, errors.Wrapf(err, "loading %s", fieldRotMat)
	}
	if calib.Trans, err = readDense(scalarPath(dir, fieldTransVec)); err != nil {
		return nil, errors.Wrapf(err, "loading %s", fieldTransVec)
	}
	if calib.Essential, err = readDense(scalarPath(dir, fieldEssentialMat)); err != nil {
		return nil, errors.Wrapf(err, "loading %s", fieldEssentialMat)
	}
	if calib.Fundamental, err = readDense(scalarPath(dir, fieldFundamentalMat)); err != nil {
		return nil, errors.Wrapf(err, "loading %s", fieldFundamentalMat)
	}
	if calib.DispToDepth, err = readDense(scalarPath(dir, fieldDispToDepthMat)); err != nil {
		return nil, errors.Wrapf(err, "loading %s", fieldDispToDepthMat)
	}
	return calib, nil
}

func sidePath(dir, field string, s Side) string {
	return filepath.Join(dir, field+"_"+s.String()+artifactExt)
}

func scalarPath(dir, field string) string {
	return filepath.Join(dir, field+artifactExt)
}

// distToDense flattens a distortion model to a 1x5 row for storage.
func distToDense(d *transform.BrownConrady) *mat.Dense {
	if d == nil {
		return nil
	}
	return mat.NewDense(1, 5, d.Parameters())
}

func distFromDense(m *mat.Dense) (*transform.BrownConrady, error) {
	if m == nil {
		return nil, nil
	}
	_, c := m.Dims()
	params := make([]float64, c)
	for i := range params {
		params[i] = m.At(0, i)
	}
	return transform.NewBrownConrady(params)
}

// writeDense stores one matrix as a binary blob. A nil matrix writes nothing.
func writeDense(path string, m *mat.Dense) (err error) {
	if m == nil {
		return nil
	}
	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	_, err = m.MarshalBinaryTo(f)
	return err
}

// readDense loads one matrix blob. A missing file reads as nil without error.
func readDense(path string) (*mat.Dense, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer goutils.UncheckedErrorFunc(f.Close)
	var m mat.Dense
	if _, err := m.UnmarshalBinaryFrom(f); err != nil {
		return nil, err
	}
	return &m, nil
}
