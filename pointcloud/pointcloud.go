// Package pointcloud holds colored 3D points and writes them out as ASCII PLY.
package pointcloud

import (
	"bufio"
	"fmt"
	"image/color"
	"io"
	"os"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// Point is one colored 3D sample.
type Point struct {
	Position r3.Vector
	Color    color.NRGBA
}

// PointCloud is an ordered collection of colored points.
type PointCloud struct {
	points []Point
}

// New returns an empty point cloud.
func New() *PointCloud {
	return &PointCloud{}
}

// Add appends one point.
func (pc *PointCloud) Add(p Point) {
	pc.points = append(pc.points, p)
}

// Size returns the number of points.
func (pc *PointCloud) Size() int {
	return len(pc.points)
}

// Points returns the underlying points.
func (pc *PointCloud) Points() []Point {
	return pc.points
}

// WriteTo streams the cloud as an ASCII PLY document.
func (pc *PointCloud) WriteTo(w io.Writer) error {
	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintf(bw,
		"ply\nformat ascii 1.0\nelement vertex %d\n"+
			"property float x\nproperty float y\nproperty float z\n"+
			"property uchar red\nproperty uchar green\nproperty uchar blue\n"+
			"end_header\n", len(pc.points)); err != nil {
		return err
	}
	for _, p := range pc.points {
		if _, err := fmt.Fprintf(bw, "%f %f %f %d %d %d\n",
			p.Position.X, p.Position.Y, p.Position.Z,
			p.Color.R, p.Color.G, p.Color.B); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WritePLY writes the cloud to a file at path.
func (pc *PointCloud) WritePLY(path string) (err error) {
	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "cannot create %s", path)
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	return pc.WriteTo(f)
}
