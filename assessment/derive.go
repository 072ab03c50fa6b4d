// Package assessment derives the net assessable area for a survey site:
// the site boundary minus non-peatland land cover minus a buffered
// watercourse corridor, everything in the national grid frame.
package assessment

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/paulmach/orb"
	"github.com/sourcegraph/conc/pool"

	"github.com/joekbullard/PeatlandSpatial/bng"
)

// WatercourseBufferWidth is the exclusion corridor around watercourses,
// metres each side, per the field protocol.
const WatercourseBufferWidth = 30.0

// Layer is one contributing input, already read from its file.
type Layer struct {
	Name       string
	EPSG       int
	Geometries []orb.Geometry
}

// Result is the derived assessment base.
type Result struct {
	NetArea orb.MultiPolygon

	SiteAreaM2 float64
	NetAreaM2  float64
}

// Deriver runs the net-area workflow. Reprojection is shared with the
// sampling workflow rather than duplicated here.
type Deriver struct {
	repro  *bng.Reprojector
	engine *Engine
	log    *slog.Logger
}

func NewDeriver(repro *bng.Reprojector, engine *Engine, log *slog.Logger) *Deriver {
	if log == nil {
		log = slog.Default()
	}
	return &Deriver{repro: repro, engine: engine, log: log}
}

// Derive computes site minus merged non-peatland cover minus the
// watercourse corridor. Each layer reprojects independently, so one
// broken layer aborts the run without touching the others' results.
func (d *Deriver) Derive(ctx context.Context, site Layer, nonPeatland []Layer, watercourse *Layer) (*Result, error) {
	layers := append([]Layer{site}, nonPeatland...)
	if watercourse != nil {
		layers = append(layers, *watercourse)
	}

	reprojected := make([][]orb.Geometry, len(layers))
	errs := make([]error, len(layers))

	p := pool.New().WithMaxGoroutines(4)
	for i, layer := range layers {
		p.Go(func() {
			reprojected[i], errs[i] = d.reprojectLayer(layer)
		})
	}
	p.Wait()
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	siteArea, err := d.engine.Union(reprojected[0]...)
	if err != nil {
		return nil, fmt.Errorf("merge site boundary: %w", err)
	}

	net := siteArea
	if len(nonPeatland) > 0 {
		var cover []orb.Geometry
		for _, geoms := range reprojected[1 : 1+len(nonPeatland)] {
			cover = append(cover, geoms...)
		}
		merged, err := d.engine.Union(cover...)
		if err != nil {
			return nil, fmt.Errorf("merge non-peatland cover: %w", err)
		}
		net, err = d.engine.Difference(net, merged)
		if err != nil {
			return nil, fmt.Errorf("subtract non-peatland cover: %w", err)
		}
	}

	if watercourse != nil {
		corridor, err := d.engine.BufferDissolve(WatercourseBufferWidth, reprojected[len(layers)-1]...)
		if err != nil {
			return nil, fmt.Errorf("buffer watercourses: %w", err)
		}
		net, err = d.engine.Difference(net, corridor)
		if err != nil {
			return nil, fmt.Errorf("subtract watercourse corridor: %w", err)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &Result{NetArea: toMultiPolygon(net)}
	if result.SiteAreaM2, err = d.engine.Area(siteArea); err != nil {
		return nil, err
	}
	if result.NetAreaM2, err = d.engine.Area(net); err != nil {
		return nil, err
	}

	d.log.Info("derived assessment base",
		"site_m2", result.SiteAreaM2,
		"net_m2", result.NetAreaM2,
		"non_peatland_layers", len(nonPeatland),
		"watercourse", watercourse != nil,
	)
	return result, nil
}

func (d *Deriver) reprojectLayer(layer Layer) ([]orb.Geometry, error) {
	out := make([]orb.Geometry, len(layer.Geometries))
	for i, g := range layer.Geometries {
		tg, err := d.repro.Transform(layer.EPSG, g)
		if err != nil {
			return nil, fmt.Errorf("layer %s: %w", layer.Name, err)
		}
		out[i] = tg
	}
	return out, nil
}

func toMultiPolygon(g orb.Geometry) orb.MultiPolygon {
	switch g := g.(type) {
	case orb.Polygon:
		if len(g) == 0 {
			return orb.MultiPolygon{}
		}
		return orb.MultiPolygon{g}
	case orb.MultiPolygon:
		return g
	case orb.Collection:
		var mp orb.MultiPolygon
		for _, sub := range g {
			mp = append(mp, toMultiPolygon(sub)...)
		}
		return mp
	default:
		return orb.MultiPolygon{}
	}
}
