package gridsampler_test

import (
	"math"
	"testing"

	"github.com/paulmach/orb"

	"github.com/joekbullard/PeatlandSpatial/gridsampler"
)

func TestRandomFill(t *testing.T) {
	poly := orb.MultiPolygon{squarePolygon(0, 0, 1000, 1000)}
	const minDistance = 75.0

	points := gridsampler.RandomFill(poly, minDistance)

	if len(points) == 0 {
		t.Fatalf("expected points inside a 1 km square")
	}
	for _, p := range points {
		if !gridsampler.WithinMulti(p, poly) {
			t.Fatalf("point %v outside the polygon", p)
		}
	}
	for i := range points {
		for j := i + 1; j < len(points); j++ {
			dx := points[i][0] - points[j][0]
			dy := points[i][1] - points[j][1]
			if d := math.Hypot(dx, dy); d < minDistance {
				t.Fatalf("points %v and %v only %.1f m apart", points[i], points[j], d)
			}
		}
	}
}

func TestRandomFillTinyPolygon(t *testing.T) {
	// Too small to hold any point at the requested distance without
	// touching the boundary region is still a valid, possibly empty,
	// result.
	poly := orb.MultiPolygon{squarePolygon(0, 0, 1, 1)}
	points := gridsampler.RandomFill(poly, 75)
	for _, p := range points {
		if !gridsampler.WithinMulti(p, poly) {
			t.Fatalf("point %v outside the polygon", p)
		}
	}
}
