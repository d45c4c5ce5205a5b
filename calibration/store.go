// Package calibration implements calibration of a trinocular collinear stereo
// rig from chessboard captures: corner observation accumulation, pairwise
// stereo calibration, fusion into a single three-way rectification, epipolar
// quality checking and persistence of the resulting numeric artifacts.
package calibration

import (
	"image"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// Side labels one camera of the rig. The left camera is the reference shared by
// both stereo pairs.
type Side int

const (
	// Left is the reference camera of the rig.
	Left Side = iota
	// Center is the middle camera.
	Center
	// Right is the far camera.
	Right
)

// Sides lists the rig's cameras in canonical (left, center, right) order.
var Sides = [3]Side{Left, Center, Right}

func (s Side) String() string {
	switch s {
	case Left:
		return "left"
	case Center:
		return "center"
	case Right:
		return "right"
	}
	return "unknown"
}

// Config holds the chessboard and image geometry of a calibration session.
// Rows and Columns count inside corners, SquareSize is the physical edge length
// of one chessboard square, in whatever unit the calibration should be in.
type Config struct {
	Rows       int     `json:"rows"`
	Columns    int     `json:"columns"`
	SquareSize float64 `json:"square-size"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
}

// CheckValid checks that the configuration describes a usable chessboard target.
func (c *Config) CheckValid() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.Rows < 2 || c.Columns < 2 {
		return errors.Errorf("pattern size (%d, %d) must be at least 2x2 inside corners", c.Rows, c.Columns)
	}
	if c.SquareSize <= 0 {
		return errors.Errorf("square size %f must be positive", c.SquareSize)
	}
	if c.Width <= 0 || c.Height <= 0 {
		return errors.Errorf("image size (%d, %d) must be positive", c.Width, c.Height)
	}
	return nil
}

// CornerCount returns the number of inside corners per capture.
func (c *Config) CornerCount() int {
	return c.Rows * c.Columns
}

// Triple is one synchronized capture from the three cameras.
type Triple struct {
	Left   image.Image
	Center image.Image
	Right  image.Image
}

// Side returns the image of one side of the triple.
func (t *Triple) Side(s Side) image.Image {
	switch s {
	case Left:
		return t.Left
	case Center:
		return t.Center
	case Right:
		return t.Right
	}
	return nil
}

// CornerFinder locates chessboard inside-corners in a single image, returning
// them in row-major order with subpixel precision.
type CornerFinder interface {
	FindCorners(img image.Image) ([]r2.Point, error)
}

// ShowFunc receives the image and corners of a successful detection, for visual
// confirmation during accumulation. It is a presentation hook only.
type ShowFunc func(side Side, img image.Image, corners []r2.Point)

// ObservationStore accumulates chessboard corner detections for the three
// cameras together with the matching synthetic 3D reference pattern. Each
// accepted capture contributes exactly one observation per side; a detection
// failure on any side discards the whole capture.
type ObservationStore struct {
	cfg    Config
	finder CornerFinder

	refPattern  []r3.Vector
	objectPts   [][]r3.Vector
	imagePoints [3][][]r2.Point
	captures    int
}

// NewObservationStore returns an empty store for the given board geometry.
// The reference pattern is generated once: corners on the Z=0 plane, row-major,
// scaled by the physical square size.
func NewObservationStore(cfg Config, finder CornerFinder) (*ObservationStore, error) {
	if err := cfg.CheckValid(); err != nil {
		return nil, err
	}
	if finder == nil {
		return nil, errors.New("corner finder is nil")
	}
	ref := make([]r3.Vector, 0, cfg.CornerCount())
	for row := 0; row < cfg.Rows; row++ {
		for col := 0; col < cfg.Columns; col++ {
			ref = append(ref, r3.Vector{
				X: float64(col) * cfg.SquareSize,
				Y: float64(row) * cfg.SquareSize,
				Z: 0,
			})
		}
	}
	return &ObservationStore{cfg: cfg, finder: finder, refPattern: ref}, nil
}

// Config returns the board geometry the store was created with.
func (o *ObservationStore) Config() Config {
	return o.cfg
}

// ReferencePattern returns the synthetic 3D chessboard corners shared by every
// capture.
func (o *ObservationStore) ReferencePattern() []r3.Vector {
	return o.refPattern
}

// Captures returns the number of accepted captures.
func (o *ObservationStore) Captures() int {
	return o.captures
}

// ObjectPoints returns the accumulated reference pattern list, one entry per
// accepted capture.
func (o *ObservationStore) ObjectPoints() [][]r3.Vector {
	return o.objectPts
}

// ImagePoints returns the accumulated corner detections of one side, one entry
// per accepted capture.
func (o *ObservationStore) ImagePoints(s Side) [][]r2.Point {
	return o.imagePoints[s]
}

// FlatImagePoints returns all of one side's detected corners concatenated
// across captures, in capture then row-major corner order.
func (o *ObservationStore) FlatImagePoints(s Side) []r2.Point {
	flat := make([]r2.Point, 0, o.captures*o.cfg.CornerCount())
	for _, pts := range o.imagePoints[s] {
		flat = append(flat, pts...)
	}
	return flat
}

// AddObservation locates the chessboard in all three images of a capture and
// records the detections. The append across the three sides and the reference
// pattern is atomic: if detection fails on any side, no state changes and the
// error wraps chessboard.ErrChessboardNotFound. show, when non-nil, is called
// with each side's detection for visual confirmation.
func (o *ObservationStore) AddObservation(t *Triple, show ShowFunc) error {
	if t == nil || t.Left == nil || t.Center == nil || t.Right == nil {
		return errors.New("capture triple must have all three images")
	}
	var detected [3][]r2.Point
	for _, s := range Sides {
		corners, err := o.finder.FindCorners(t.Side(s))
		if err != nil {
			return errors.Wrapf(err, "%s camera", s)
		}
		if len(corners) != o.cfg.CornerCount() {
			return errors.Errorf("%s camera: got %d corners, want %d", s, len(corners), o.cfg.CornerCount())
		}
		detected[s] = corners
	}
	// all three sides succeeded, commit the capture
	o.objectPts = append(o.objectPts, o.refPattern)
	for _, s := range Sides {
		o.imagePoints[s] = append(o.imagePoints[s], detected[s])
		if show != nil {
			show(s, t.Side(s), detected[s])
		}
	}
	o.captures++
	return nil
}

// AddCorners records pre-detected corners for one capture, bypassing detection.
// All three sides must carry the full corner count.
func (o *ObservationStore) AddCorners(left, center, right []r2.Point) error {
	n := o.cfg.CornerCount()
	for s, pts := range [][]r2.Point{left, center, right} {
		if len(pts) != n {
			return errors.Errorf("%s camera: got %d corners, want %d", Sides[s], len(pts), n)
		}
	}
	o.objectPts = append(o.objectPts, o.refPattern)
	o.imagePoints[Left] = append(o.imagePoints[Left], left)
	o.imagePoints[Center] = append(o.imagePoints[Center], center)
	o.imagePoints[Right] = append(o.imagePoints[Right], right)
	o.captures++
	return nil
}
