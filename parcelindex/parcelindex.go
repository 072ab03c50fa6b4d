// Package parcelindex answers point-in-parcel lookups over the survey
// estate. Parcels are indexed by bounding box in a quadtree and the
// exact polygon test only runs on the candidates.
package parcelindex

import (
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/tidwall/qtree"

	"github.com/joekbullard/PeatlandSpatial/layerio"
)

// Parcel is the record returned for a point lookup. Centroid is the
// area-weighted point used to place the parcel label on field maps.
type Parcel struct {
	ID       int       `json:"id"`
	Name     string    `json:"name"`
	AreaM2   float64   `json:"area_m2"`
	Centroid orb.Point `json:"centroid"`
}

type record[D any] struct {
	data    D
	polygon orb.MultiPolygon
}

// Index maps planar points to the parcel covering them.
type Index[D any] struct {
	mu      sync.RWMutex
	nextID  uint64
	records []record[D]
	qt      qtree.QTree
}

func New[D any]() *Index[D] {
	return &Index[D]{}
}

func (ix *Index[D]) Add(data D, polygon orb.MultiPolygon) {
	bound := polygon.Bound()

	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.records = append(ix.records, record[D]{data: data, polygon: polygon})
	ix.qt.Insert(bound.Min, bound.Max, ix.nextID)
	ix.nextID++
}

func (ix *Index[D]) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.records)
}

// Locate returns the parcel covering point, boundary included. When
// parcels overlap the first indexed match wins.
func (ix *Index[D]) Locate(point orb.Point) (D, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var out D
	found := false

	ix.qt.Search(point, point, func(_, _ [2]float64, data interface{}) bool {
		id := data.(uint64)

		if planar.MultiPolygonContains(ix.records[id].polygon, point) {
			out = ix.records[id].data
			found = true
			return false
		}

		return true
	})

	return out, found
}

// FromLayer builds a parcel index out of a polygon layer. Feature order
// assigns ids from 1; the name attribute is carried when present.
func FromLayer(layer *layerio.Layer) *Index[Parcel] {
	ix := New[Parcel]()
	for i, f := range layer.Features {
		mp, ok := coerceMultiPolygon(f.Geometry)
		if !ok {
			continue
		}
		centroid, _ := planar.CentroidArea(mp)
		ix.Add(Parcel{
			ID:       i + 1,
			Name:     f.Properties.MustString("name", ""),
			AreaM2:   planar.Area(mp),
			Centroid: centroid,
		}, mp)
	}
	return ix
}

func coerceMultiPolygon(g orb.Geometry) (orb.MultiPolygon, bool) {
	switch g := g.(type) {
	case orb.Polygon:
		return orb.MultiPolygon{g}, true
	case orb.MultiPolygon:
		return g, true
	}
	return nil, false
}
