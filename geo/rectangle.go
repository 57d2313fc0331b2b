package geo

import (
	"fmt"

	"github.com/twpayne/go-geom"
)

// Rectangle is an axis-aligned longitude/latitude box.
type Rectangle struct {
	bounds *geom.Bounds
}

// NewRectangle builds the box spanned by two opposite corners given in any order.
func NewRectangle(a, b Point) Rectangle {
	return Rectangle{
		bounds: geom.NewBounds(geom.XY).Set(
			min(a.X, b.X), min(a.Y, b.Y),
			max(a.X, b.X), max(a.Y, b.Y),
		),
	}
}

func (r Rectangle) MinX() float64 { return r.bounds.Min(0) }
func (r Rectangle) MinY() float64 { return r.bounds.Min(1) }
func (r Rectangle) MaxX() float64 { return r.bounds.Max(0) }
func (r Rectangle) MaxY() float64 { return r.bounds.Max(1) }

// Contains uses strict inequalities: points on the boundary are outside.
func (r Rectangle) Contains(x, y float64) bool {
	return r.MinX() < x && x < r.MaxX() &&
		r.MinY() < y && y < r.MaxY()
}

func (r Rectangle) String() string {
	return fmt.Sprintf("[%g,%g]x[%g,%g]", r.MinX(), r.MinY(), r.MaxX(), r.MaxY())
}
