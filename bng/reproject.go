package bng

import (
	"fmt"
	"sync"

	"github.com/ctessum/geom/proj"
	"github.com/paulmach/orb"
)

// ReprojectionError reports a layer that could not be brought into the
// target frame. It is terminal for that layer and does not affect other
// layers of the same run.
type ReprojectionError struct {
	SourceEPSG int
	TargetEPSG int
	Err        error
}

func (e *ReprojectionError) Error() string {
	return fmt.Sprintf("reproject EPSG:%d to EPSG:%d: %v", e.SourceEPSG, e.TargetEPSG, e.Err)
}

func (e *ReprojectionError) Unwrap() error { return e.Err }

// Reprojector brings whole layers into one fixed target frame. Transforms
// are parsed and built once per source system and reused across layers;
// geometry already in the target frame passes through untouched.
type Reprojector struct {
	target   int
	targetSR *proj.SR

	mu         sync.Mutex
	transforms map[int]proj.Transformer
}

func NewReprojector(targetEPSG int) (*Reprojector, error) {
	def, err := ProjDef(targetEPSG)
	if err != nil {
		return nil, err
	}
	sr, err := proj.Parse(def)
	if err != nil {
		return nil, fmt.Errorf("parse target EPSG:%d: %w", targetEPSG, err)
	}
	return &Reprojector{
		target:     targetEPSG,
		targetSR:   sr,
		transforms: map[int]proj.Transformer{},
	}, nil
}

// NewBNGReprojector targets the British National Grid, the frame every
// survey workflow samples and reports in.
func NewBNGReprojector() (*Reprojector, error) {
	return NewReprojector(EPSGBritishNationalGrid)
}

func (r *Reprojector) Target() int { return r.target }

// Transform returns g expressed in the target frame. The input geometry
// is never mutated; the identity case returns it as is.
func (r *Reprojector) Transform(sourceEPSG int, g orb.Geometry) (orb.Geometry, error) {
	if sourceEPSG == r.target {
		return g, nil
	}
	t, err := r.transformer(sourceEPSG)
	if err != nil {
		return nil, &ReprojectionError{SourceEPSG: sourceEPSG, TargetEPSG: r.target, Err: err}
	}
	out, err := transformGeometry(t, g)
	if err != nil {
		return nil, &ReprojectionError{SourceEPSG: sourceEPSG, TargetEPSG: r.target, Err: err}
	}
	return out, nil
}

// TransformPoint is the single-coordinate form of Transform.
func (r *Reprojector) TransformPoint(sourceEPSG int, p orb.Point) (orb.Point, error) {
	g, err := r.Transform(sourceEPSG, p)
	if err != nil {
		return orb.Point{}, err
	}
	return g.(orb.Point), nil
}

func (r *Reprojector) transformer(sourceEPSG int) (proj.Transformer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.transforms[sourceEPSG]; ok {
		return t, nil
	}
	def, err := ProjDef(sourceEPSG)
	if err != nil {
		return nil, err
	}
	sr, err := proj.Parse(def)
	if err != nil {
		return nil, fmt.Errorf("parse source EPSG:%d: %w", sourceEPSG, err)
	}
	t, err := sr.NewTransform(r.targetSR)
	if err != nil {
		return nil, fmt.Errorf("build transform: %w", err)
	}
	r.transforms[sourceEPSG] = t
	return t, nil
}

func transformGeometry(t proj.Transformer, g orb.Geometry) (orb.Geometry, error) {
	switch g := g.(type) {
	case orb.Point:
		return transformPoint(t, g)
	case orb.MultiPoint:
		out := make(orb.MultiPoint, len(g))
		for i, p := range g {
			tp, err := transformPoint(t, p)
			if err != nil {
				return nil, err
			}
			out[i] = tp
		}
		return out, nil
	case orb.LineString:
		out, err := transformLine(t, g)
		if err != nil {
			return nil, err
		}
		return out, nil
	case orb.MultiLineString:
		out := make(orb.MultiLineString, len(g))
		for i, ls := range g {
			tl, err := transformLine(t, ls)
			if err != nil {
				return nil, err
			}
			out[i] = tl
		}
		return out, nil
	case orb.Ring:
		out, err := transformLine(t, orb.LineString(g))
		if err != nil {
			return nil, err
		}
		return orb.Ring(out), nil
	case orb.Polygon:
		return transformPolygon(t, g)
	case orb.MultiPolygon:
		out := make(orb.MultiPolygon, len(g))
		for i, poly := range g {
			tp, err := transformPolygon(t, poly)
			if err != nil {
				return nil, err
			}
			out[i] = tp
		}
		return out, nil
	case orb.Collection:
		out := make(orb.Collection, len(g))
		for i, sub := range g {
			tg, err := transformGeometry(t, sub)
			if err != nil {
				return nil, err
			}
			out[i] = tg
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported geometry type %T", g)
	}
}

func transformPoint(t proj.Transformer, p orb.Point) (orb.Point, error) {
	x, y, err := t(p[0], p[1])
	if err != nil {
		return orb.Point{}, err
	}
	return orb.Point{x, y}, nil
}

func transformLine(t proj.Transformer, ls orb.LineString) (orb.LineString, error) {
	out := make(orb.LineString, len(ls))
	for i, p := range ls {
		tp, err := transformPoint(t, p)
		if err != nil {
			return nil, err
		}
		out[i] = tp
	}
	return out, nil
}

func transformPolygon(t proj.Transformer, poly orb.Polygon) (orb.Polygon, error) {
	out := make(orb.Polygon, len(poly))
	for i, ring := range poly {
		tr, err := transformLine(t, orb.LineString(ring))
		if err != nil {
			return nil, err
		}
		out[i] = orb.Ring(tr)
	}
	return out, nil
}
