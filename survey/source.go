package survey

import (
	"fmt"

	"github.com/paulmach/orb"

	"github.com/joekbullard/PeatlandSpatial/layerio"
)

// LayerSource adapts a read layer file into a run source, admitting
// polygonal features only.
type LayerSource struct {
	layer *layerio.Layer
}

func NewLayerSource(layer *layerio.Layer) *LayerSource {
	return &LayerSource{layer: layer}
}

func (s *LayerSource) Name() string { return s.layer.Name }
func (s *LayerSource) EPSG() int    { return s.layer.EPSG }

func (s *LayerSource) Features() ([]orb.Geometry, error) {
	geoms := make([]orb.Geometry, 0, s.layer.Len())
	for i, f := range s.layer.Features {
		switch f.Geometry.(type) {
		case orb.Polygon, orb.MultiPolygon:
			geoms = append(geoms, f.Geometry)
		default:
			return nil, fmt.Errorf("%w: feature %d of layer %s is %T, expected a polygon",
				ErrSourceUnavailable, i, s.layer.Name, f.Geometry)
		}
	}
	return geoms, nil
}

// GeometrySource wraps already-built geometry, used when sampling a
// derived assessment base instead of a layer file.
type GeometrySource struct {
	LayerName  string
	CRS        int
	Geometries []orb.Geometry
}

func (s *GeometrySource) Name() string { return s.LayerName }
func (s *GeometrySource) EPSG() int    { return s.CRS }

func (s *GeometrySource) Features() ([]orb.Geometry, error) {
	return s.Geometries, nil
}
