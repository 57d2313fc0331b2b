package geo

import (
	"fmt"
	"strings"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkt"
)

// Point is a planar coordinate pair together with the WKT text it was parsed
// from. X is easting or longitude, Y is northing or latitude.
type Point struct {
	X   float64
	Y   float64
	Raw string
}

// ParsePoint parses a WKT POINT such as "POINT (674130 6579686)".
func ParsePoint(text string) (Point, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Point{}, fmt.Errorf("empty point")
	}
	g, err := wkt.Unmarshal(text)
	if err != nil {
		return Point{}, fmt.Errorf("parse point %q: %w", text, err)
	}
	p, ok := g.(*geom.Point)
	if !ok {
		return Point{}, fmt.Errorf("parse point %q: got %T, want point", text, g)
	}
	if p.Empty() {
		return Point{}, fmt.Errorf("parse point %q: empty geometry", text)
	}
	return Point{X: p.X(), Y: p.Y(), Raw: text}, nil
}

// Same reports whether both points were parsed from identical text.
func (p Point) Same(other Point) bool {
	return p.Raw == other.Raw
}

func (p Point) String() string {
	if p.Raw != "" {
		return p.Raw
	}
	return fmt.Sprintf("POINT (%g %g)", p.X, p.Y)
}
