package assessment

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	geos "github.com/twpayne/go-geos"
)

// bufferSegments approximates each quarter circle of a buffer arc.
const bufferSegments = 5

var errNoGeometry = errors.New("no geometry")

// Engine wraps the GEOS geometry engine for the polygon set algebra the
// net-area workflow needs: union, fixed-width buffer, difference.
// Geometries cross the boundary as WKB. GEOS reports internal failures
// by panicking; the exported methods convert that back into errors.
type Engine struct {
	ctx *geos.Context
}

func NewEngine() *Engine {
	return &Engine{ctx: geos.NewContext()}
}

// Union merges the geometries into one, folding pairwise.
func (e *Engine) Union(geoms ...orb.Geometry) (orb.Geometry, error) {
	return e.run("union", func() (*geos.Geom, error) {
		var acc *geos.Geom
		for _, g := range geoms {
			gg, err := e.toGeos(g)
			if err != nil {
				return nil, err
			}
			if acc == nil {
				acc = gg
			} else {
				acc = acc.Union(gg)
			}
		}
		if acc == nil {
			return nil, errNoGeometry
		}
		return acc, nil
	})
}

// BufferDissolve buffers every geometry by width and merges the result
// into one dissolved area. Buffering the union is equivalent to
// dissolving individual buffers and needs a single offset pass.
func (e *Engine) BufferDissolve(width float64, geoms ...orb.Geometry) (orb.Geometry, error) {
	return e.run("buffer", func() (*geos.Geom, error) {
		var acc *geos.Geom
		for _, g := range geoms {
			gg, err := e.toGeos(g)
			if err != nil {
				return nil, err
			}
			if acc == nil {
				acc = gg
			} else {
				acc = acc.Union(gg)
			}
		}
		if acc == nil {
			return nil, errNoGeometry
		}
		return acc.Buffer(width, bufferSegments), nil
	})
}

// Difference returns a minus b.
func (e *Engine) Difference(a, b orb.Geometry) (orb.Geometry, error) {
	return e.run("difference", func() (*geos.Geom, error) {
		ga, err := e.toGeos(a)
		if err != nil {
			return nil, err
		}
		gb, err := e.toGeos(b)
		if err != nil {
			return nil, err
		}
		return ga.Difference(gb), nil
	})
}

// Area is the planar area of g in square map units.
func (e *Engine) Area(g orb.Geometry) (area float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("area: %v", r)
		}
	}()
	gg, err := e.toGeos(g)
	if err != nil {
		return 0, fmt.Errorf("area: %w", err)
	}
	return gg.Area(), nil
}

func (e *Engine) run(op string, f func() (*geos.Geom, error)) (out orb.Geometry, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("%s: %v", op, r)
		}
	}()
	g, err := f()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	out, err = e.toOrb(g)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

func (e *Engine) toGeos(g orb.Geometry) (*geos.Geom, error) {
	data, err := wkb.Marshal(g)
	if err != nil {
		return nil, err
	}
	return e.ctx.NewGeomFromWKB(data)
}

func (e *Engine) toOrb(g *geos.Geom) (orb.Geometry, error) {
	return wkb.Unmarshal(g.ToWKB())
}
