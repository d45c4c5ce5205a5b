package pointcloud

import (
	"bytes"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func TestWriteTo(t *testing.T) {
	pc := New()
	pc.Add(Point{Position: r3.Vector{X: 1, Y: 2, Z: 3}, Color: color.NRGBA{R: 10, G: 20, B: 30, A: 255}})
	pc.Add(Point{Position: r3.Vector{X: -0.5, Y: 0, Z: 42}})
	test.That(t, pc.Size(), test.ShouldEqual, 2)

	var buf bytes.Buffer
	test.That(t, pc.WriteTo(&buf), test.ShouldBeNil)
	out := buf.String()
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	test.That(t, lines[0], test.ShouldEqual, "ply")
	test.That(t, lines[1], test.ShouldEqual, "format ascii 1.0")
	test.That(t, lines[2], test.ShouldEqual, "element vertex 2")
	test.That(t, lines[len(lines)-2], test.ShouldEqual, "1.000000 2.000000 3.000000 10 20 30")
	test.That(t, lines[len(lines)-1], test.ShouldEqual, "-0.500000 0.000000 42.000000 0 0 0")
}

func TestWritePLY(t *testing.T) {
	pc := New()
	pc.Add(Point{Position: r3.Vector{Z: 1}})
	path := filepath.Join(t.TempDir(), "cloud.ply")
	test.That(t, pc.WritePLY(path), test.ShouldBeNil)

	data, err := os.ReadFile(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, strings.HasPrefix(string(data), "ply\n"), test.ShouldBeTrue)
	test.That(t, strings.Contains(string(data), "element vertex 1"), test.ShouldBeTrue)
}
