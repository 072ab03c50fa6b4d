package gridsampler

import (
	"math"

	"github.com/paulmach/orb"
)

// Within reports whether point lies strictly inside poly. Points exactly
// on a ring, exterior or hole, are not inside. This is intentionally
// stricter than planar containment, which accepts the boundary.
func Within(point orb.Point, poly orb.Polygon) bool {
	x, y := point[0], point[1]

	inside := false
	for _, r := range poly {
		if len(r) == 0 {
			continue
		}
		for i, length, j := 0, len(r), len(r)-1; i < length; i, j = i+1, i {
			a := r[i]
			b := r[j]

			if onSegment(x, y, a, b) {
				return false
			}
			if ((a[1] > y) != (b[1] > y)) &&
				(x < (b[0]-a[0])*(y-a[1])/(b[1]-a[1])+a[0]) {
				inside = !inside
			}
		}
	}
	return inside
}

// WithinMulti reports whether point lies strictly inside any member of mp.
func WithinMulti(point orb.Point, mp orb.MultiPolygon) bool {
	for _, poly := range mp {
		if Within(point, poly) {
			return true
		}
	}
	return false
}

// onSegment tests exact collinear membership of (x, y) on the segment ab.
func onSegment(x, y float64, a, b orb.Point) bool {
	cross := (b[0]-a[0])*(y-a[1]) - (b[1]-a[1])*(x-a[0])
	if cross != 0 {
		return false
	}
	return math.Min(a[0], b[0]) <= x && x <= math.Max(a[0], b[0]) &&
		math.Min(a[1], b[1]) <= y && y <= math.Max(a[1], b[1])
}
