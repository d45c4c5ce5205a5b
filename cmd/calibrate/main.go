// Calibrates a trinocular rig from a directory of chessboard captures and
// writes the calibration artifacts out.
//
// Captures are discovered by file name: left_<name>, center_<name> and
// right_<name> with the same <name> form one triple.
package main

import (
	"flag"
	"fmt"
	"image"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/edaniels/golog"
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"

	"github.com/sdlouhy/Tricam/calibration"
	"github.com/sdlouhy/Tricam/chessboard"
	"github.com/sdlouhy/Tricam/transform"
)

var logger = golog.NewDevelopmentLogger("calibrate")

func main() {
	if err := realMain(os.Args[1:]); err != nil {
		logger.Fatal(err)
	}
}

func realMain(args []string) error {
	flagSet := flag.NewFlagSet("calibrate", flag.ExitOnError)
	imageDir := flagSet.String("images", "", "directory of capture triples (left_*, center_*, right_*)")
	outDir := flagSet.String("out", "calibration_out", "directory to write calibration artifacts to")
	rows := flagSet.Int("rows", 6, "inside corners per chessboard row")
	columns := flagSet.Int("columns", 9, "inside corners per chessboard column")
	squareSize := flagSet.Float64("square-size", 2.5, "chessboard square edge length")
	cornersDir := flagSet.String("corners-dir", "", "when set, write corner overlay images here for visual confirmation")
	nominalPath := flagSet.String("intrinsics", "", "optional JSON file of nominal left camera intrinsics to check the result against")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if *imageDir == "" {
		return errors.New("an -images directory is required")
	}

	var nominal *transform.PinholeCameraIntrinsics
	if *nominalPath != "" {
		var err error
		nominal, err = transform.NewPinholeCameraIntrinsicsFromJSONFile(*nominalPath)
		if err != nil {
			return err
		}
		if err := nominal.CheckValid(); err != nil {
			return err
		}
	}

	triples, err := discoverTriples(*imageDir)
	if err != nil {
		return err
	}
	if len(triples) == 0 {
		return errors.Errorf("no capture triples found in %s", *imageDir)
	}
	first, err := imaging.Open(triples[0].left)
	if err != nil {
		return err
	}
	cfg := calibration.Config{
		Rows:       *rows,
		Columns:    *columns,
		SquareSize: *squareSize,
		Width:      first.Bounds().Dx(),
		Height:     first.Bounds().Dy(),
	}
	session, err := calibration.NewSession(cfg, chessboard.NewDetector(*rows, *columns), logger)
	if err != nil {
		return err
	}

	var currentName string
	var show calibration.ShowFunc
	if *cornersDir != "" {
		if err := os.MkdirAll(*cornersDir, 0o755); err != nil {
			return err
		}
		show = func(side calibration.Side, img image.Image, corners []r2.Point) {
			out := filepath.Join(*cornersDir, fmt.Sprintf("%s_%s.png", side, currentName))
			if err := chessboard.DrawCornersOnImage(img, corners, out); err != nil {
				logger.Warnw("could not write corner overlay", "file", out, "error", err)
			}
		}
	}

	accepted := 0
	for _, tp := range triples {
		currentName = tp.name
		triple, err := loadTriple(tp)
		if err != nil {
			return err
		}
		if err := session.AddCapture(triple, show); err != nil {
			if errors.Is(err, chessboard.ErrChessboardNotFound) {
				logger.Warnw("skipping capture, chessboard not found", "capture", tp.name, "error", err)
				continue
			}
			return err
		}
		accepted++
	}
	logger.Infow("captures accumulated", "accepted", accepted, "total", len(triples))

	if err := session.Calibrate(); err != nil {
		return err
	}
	if nominal != nil {
		reportIntrinsicsDrift(nominal, session)
	}
	if err := session.Fuse(); err != nil {
		return err
	}
	avgErr, err := session.Validate()
	if err != nil {
		return err
	}
	fmt.Printf("average epipolar error: %f pixels\n", avgErr)
	return session.Export(*outDir)
}

// reportIntrinsicsDrift compares the calibrated left camera against nominal
// intrinsics and flags entries drifting more than 5%.
func reportIntrinsicsDrift(nominal *transform.PinholeCameraIntrinsics, session *calibration.Session) {
	lc, _ := session.PairwiseCalibrations()
	got := transform.IntrinsicsFromCameraMatrix(lc.CamMatA, nominal.Width, nominal.Height)
	entries := []struct {
		name         string
		nominal, got float64
	}{
		{"fx", nominal.Fx, got.Fx},
		{"fy", nominal.Fy, got.Fy},
		{"ppx", nominal.Ppx, got.Ppx},
		{"ppy", nominal.Ppy, got.Ppy},
	}
	for _, e := range entries {
		if e.nominal == 0 {
			continue
		}
		if drift := math.Abs(e.got-e.nominal) / math.Abs(e.nominal); drift > 0.05 {
			logger.Warnw("calibrated intrinsics drift from nominal",
				"entry", e.name, "nominal", e.nominal, "calibrated", e.got)
		}
	}
}

type triplePaths struct {
	name  string
	left  string
	cent  string
	right string
}

// discoverTriples pairs up left_/center_/right_ files sharing the same suffix.
func discoverTriples(dir string) ([]triplePaths, error) {
	lefts, err := filepath.Glob(filepath.Join(dir, "left_*"))
	if err != nil {
		return nil, err
	}
	triples := make([]triplePaths, 0, len(lefts))
	for _, left := range lefts {
		name := strings.TrimPrefix(filepath.Base(left), "left_")
		cent := filepath.Join(dir, "center_"+name)
		right := filepath.Join(dir, "right_"+name)
		if _, err := os.Stat(cent); err != nil {
			logger.Warnw("left capture has no center image, skipping", "name", name)
			continue
		}
		if _, err := os.Stat(right); err != nil {
			logger.Warnw("left capture has no right image, skipping", "name", name)
			continue
		}
		triples = append(triples, triplePaths{name: name, left: left, cent: cent, right: right})
	}
	return triples, nil
}

func loadTriple(tp triplePaths) (*calibration.Triple, error) {
	left, err := imaging.Open(tp.left)
	if err != nil {
		return nil, err
	}
	cent, err := imaging.Open(tp.cent)
	if err != nil {
		return nil, err
	}
	right, err := imaging.Open(tp.right)
	if err != nil {
		return nil, err
	}
	return &calibration.Triple{Left: left, Center: cent, Right: right}, nil
}
