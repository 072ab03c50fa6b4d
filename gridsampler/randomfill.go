package gridsampler

import (
	"github.com/fogleman/poissondisc"
	"github.com/paulmach/orb"
)

// RandomFill returns blue-noise verification points inside poly, at
// least minDistance apart. Candidates come from a Poisson disc sample
// over the bounding box and pass the same strict containment rule as
// grid points.
func RandomFill(poly orb.MultiPolygon, minDistance float64) []orb.Point {
	bound := poly.Bound()
	candidates := poissondisc.Sample(bound.Min.X(), bound.Min.Y(), bound.Max.X(), bound.Max.Y(), minDistance, 10, nil)

	points := make([]orb.Point, 0, len(candidates))
	for _, c := range candidates {
		point := orb.Point{c.X, c.Y}
		if WithinMulti(point, poly) {
			points = append(points, point)
		}
	}
	return points
}
