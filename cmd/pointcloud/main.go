// Produces a 3D point cloud from one raw capture triple and a stored
// calibration: the frames are rectified, a disparity map is matched on the
// outer pair, and the disparities are reprojected through the calibration's
// disparity-to-depth matrix.
package main

import (
	"flag"
	"os"

	"github.com/disintegration/imaging"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"github.com/sdlouhy/Tricam/blockmatch"
	"github.com/sdlouhy/Tricam/calibration"
)

var logger = golog.NewDevelopmentLogger("pointcloud")

func main() {
	if err := realMain(os.Args[1:]); err != nil {
		logger.Fatal(err)
	}
}

func realMain(args []string) error {
	flagSet := flag.NewFlagSet("pointcloud", flag.ExitOnError)
	calibDir := flagSet.String("calibration", "", "directory of calibration artifacts")
	leftPath := flagSet.String("left", "", "left camera image")
	centerPath := flagSet.String("center", "", "center camera image")
	rightPath := flagSet.String("right", "", "right camera image")
	outPath := flagSet.String("out", "cloud.ply", "output PLY file")
	numDisparities := flagSet.Int("num-disparities", 64, "disparity search span, multiple of 16")
	sadWindow := flagSet.Int("sad-window", 5, "SAD window size, odd, 1 to 11")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if *calibDir == "" || *leftPath == "" || *centerPath == "" || *rightPath == "" {
		return errors.New("-calibration, -left, -center and -right are all required")
	}

	calib, err := calibration.Load(*calibDir)
	if err != nil {
		return err
	}
	if calib.DispToDepth == nil {
		return errors.New("calibration has no disparity-to-depth matrix")
	}
	triple := &calibration.Triple{}
	if triple.Left, err = imaging.Open(*leftPath); err != nil {
		return err
	}
	if triple.Center, err = imaging.Open(*centerPath); err != nil {
		return err
	}
	if triple.Right, err = imaging.Open(*rightPath); err != nil {
		return err
	}
	rectified, err := calib.Rectify(triple)
	if err != nil {
		return err
	}

	matcher, err := blockmatch.NewStereoSGBM(blockmatch.SGBMConfig{
		MinDisparity:      0,
		NumDisparities:    *numDisparities,
		SADWindowSize:     *sadWindow,
		FirstPenalty:      8 * *sadWindow * *sadWindow,
		SecondPenalty:     32 * *sadWindow * *sadWindow,
		UniquenessRatio:   10,
		SpeckleWindowSize: 100,
		SpeckleRange:      32,
	})
	if err != nil {
		return err
	}
	disp, err := matcher.Disparity(rectified.Left, rectified.Right)
	if err != nil {
		return err
	}
	cloud, err := blockmatch.ReprojectTo3D(disp, calib.DispToDepth, rectified.Left, 0)
	if err != nil {
		return err
	}
	logger.Infow("point cloud computed", "points", cloud.Size())
	return cloud.WritePLY(*outPath)
}
