// Package pointindex answers nearest-record queries over a sampled
// survey layer. Records are packed into a flat kd tree so a surveyor's
// position resolves to the closest sample without scanning the run.
package pointindex

import (
	"math"

	"github.com/paulmach/orb"

	"github.com/joekbullard/PeatlandSpatial/layerio"
	"github.com/joekbullard/PeatlandSpatial/peatmodel"
)

// DefaultSearchRadius bounds a lookup to a few grid cells around the
// queried position, in metres.
const DefaultSearchRadius = 250.0

// nodeSize is the leaf width of the tree. Larger leaves build faster,
// smaller ones scan fewer coordinates per query.
const nodeSize = 64

// Index is an immutable nearest-neighbour index over survey records.
type Index struct {
	points []peatmodel.SamplePoint

	idxs   []int
	coords []float64
}

// New indexes records by their grid coordinates.
func New(points []peatmodel.SamplePoint) *Index {
	ix := &Index{
		points: points,
		idxs:   make([]int, len(points)),
		coords: make([]float64, 2*len(points)),
	}
	for i, p := range points {
		ix.idxs[i] = i
		ix.coords[2*i] = float64(p.Easting)
		ix.coords[2*i+1] = float64(p.Northing)
	}
	sortTree(ix.idxs, ix.coords, 0, len(ix.idxs)-1, 0)
	return ix
}

// FromLayer indexes the point features of a layer. The layer must
// already be on the national grid; non-point features are skipped and
// records missing coordinate attributes take them from the geometry.
func FromLayer(layer *layerio.Layer) *Index {
	points := make([]peatmodel.SamplePoint, 0, layer.Len())
	for _, f := range layer.Features {
		pt, ok := f.Geometry.(orb.Point)
		if !ok {
			continue
		}
		rec := peatmodel.FromProperties(f.Properties)
		if rec.Easting == 0 && rec.Northing == 0 {
			rec.Easting = int(math.Round(pt.X()))
			rec.Northing = int(math.Round(pt.Y()))
		}
		points = append(points, rec)
	}
	return New(points)
}

func (ix *Index) Len() int { return len(ix.points) }

// Nearest returns the record closest to the queried position, within
// radius metres of it.
func (ix *Index) Nearest(easting, northing, radius float64) (peatmodel.SamplePoint, bool) {
	best := -1
	bestDist := math.Inf(1)
	ix.within(easting, northing, radius, func(pos int) bool {
		d := sqDist(ix.coords[2*pos], ix.coords[2*pos+1], easting, northing)
		if d < bestDist {
			best = pos
			bestDist = d
		}
		return true
	})
	if best < 0 {
		return peatmodel.SamplePoint{}, false
	}
	return ix.points[ix.idxs[best]], true
}

// within walks the tree calling fn with the sorted position of every
// record inside the search circle. Returning false stops the walk.
func (ix *Index) within(qx, qy, radius float64, fn func(pos int) bool) {
	stack := []int{0, len(ix.idxs) - 1, 0}
	r2 := radius * radius

	for len(stack) > 0 {
		axis := stack[len(stack)-1]
		right := stack[len(stack)-2]
		left := stack[len(stack)-3]
		stack = stack[:len(stack)-3]

		if right-left <= nodeSize {
			for i := left; i <= right; i++ {
				if sqDist(ix.coords[2*i], ix.coords[2*i+1], qx, qy) <= r2 && !fn(i) {
					return
				}
			}
			continue
		}

		m := (left + right) / 2
		x := ix.coords[2*m]
		y := ix.coords[2*m+1]

		if sqDist(x, y, qx, qy) <= r2 && !fn(m) {
			return
		}

		nextAxis := (axis + 1) % 2
		if (axis == 0 && qx-radius <= x) || (axis == 1 && qy-radius <= y) {
			stack = append(stack, left, m-1, nextAxis)
		}
		if (axis == 0 && qx+radius >= x) || (axis == 1 && qy+radius >= y) {
			stack = append(stack, m+1, right, nextAxis)
		}
	}
}

func sortTree(idxs []int, coords []float64, left, right, axis int) {
	if right-left <= nodeSize {
		return
	}

	m := (left + right) / 2
	quickSelect(idxs, coords, m, left, right, axis)

	sortTree(idxs, coords, left, m-1, (axis+1)%2)
	sortTree(idxs, coords, m+1, right, (axis+1)%2)
}

// quickSelect partitions so the k-th element along axis sits in its
// sorted position. The Floyd-Rivest window bound keeps partitions
// near k on large inputs.
func quickSelect(idxs []int, coords []float64, k, left, right, axis int) {
	for right > left {
		if right-left > 600 {
			n := float64(right - left + 1)
			m := float64(k - left + 1)
			z := math.Log(n)
			s := 0.5 * math.Exp(2*z/3)
			sd := 0.5 * math.Sqrt(z*s*(n-s)/n)
			if m < n/2 {
				sd = -sd
			}
			newLeft := max(left, int(math.Floor(float64(k)-m*s/n+sd)))
			newRight := min(right, int(math.Floor(float64(k)+(n-m)*s/n+sd)))
			quickSelect(idxs, coords, k, newLeft, newRight, axis)
		}

		t := coords[2*k+axis]
		i := left
		j := right

		swapItem(idxs, coords, left, k)
		if coords[2*right+axis] > t {
			swapItem(idxs, coords, left, right)
		}

		for i < j {
			swapItem(idxs, coords, i, j)
			i++
			j--
			for coords[2*i+axis] < t {
				i++
			}
			for coords[2*j+axis] > t {
				j--
			}
		}

		if coords[2*left+axis] == t {
			swapItem(idxs, coords, left, j)
		} else {
			j++
			swapItem(idxs, coords, j, right)
		}

		if j <= k {
			left = j + 1
		}
		if k <= j {
			right = j - 1
		}
	}
}

func swapItem(idxs []int, coords []float64, i, j int) {
	idxs[i], idxs[j] = idxs[j], idxs[i]
	coords[2*i], coords[2*j] = coords[2*j], coords[2*i]
	coords[2*i+1], coords[2*j+1] = coords[2*j+1], coords[2*i+1]
}

func sqDist(ax, ay, bx, by float64) float64 {
	dx := ax - bx
	dy := ay - by
	return dx*dx + dy*dy
}
