package assessment_test

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joekbullard/PeatlandSpatial/assessment"
	"github.com/joekbullard/PeatlandSpatial/bng"
)

func square(minX, minY, maxX, maxY float64) orb.Polygon {
	return orb.Polygon{orb.Ring{
		{minX, minY}, {maxX, minY}, {maxX, maxY}, {minX, maxY}, {minX, minY},
	}}
}

func newDeriver(t *testing.T) *assessment.Deriver {
	t.Helper()
	repro, err := bng.NewBNGReprojector()
	require.NoError(t, err)
	return assessment.NewDeriver(repro, assessment.NewEngine(), nil)
}

func gridLayer(name string, geoms ...orb.Geometry) assessment.Layer {
	return assessment.Layer{Name: name, EPSG: bng.EPSGBritishNationalGrid, Geometries: geoms}
}

func TestDeriveSiteOnly(t *testing.T) {
	d := newDeriver(t)

	site := gridLayer("site", square(0, 0, 1000, 1000))
	result, err := d.Derive(context.Background(), site, nil, nil)
	require.NoError(t, err)

	assert.InEpsilon(t, 1_000_000.0, result.SiteAreaM2, 1e-9)
	assert.InEpsilon(t, 1_000_000.0, result.NetAreaM2, 1e-9)
	require.Len(t, result.NetArea, 1)
}

func TestDeriveSubtractsCover(t *testing.T) {
	d := newDeriver(t)

	site := gridLayer("site", square(0, 0, 1000, 1000))
	rock := gridLayer("rock", square(0, 0, 200, 200))
	scree := gridLayer("scree", square(100, 100, 300, 300))

	result, err := d.Derive(context.Background(), site, []assessment.Layer{rock, scree}, nil)
	require.NoError(t, err)

	// Overlapping cover squares merge before subtraction: union area is
	// 2*40000 - 10000.
	wantNet := 1_000_000.0 - 70_000.0
	assert.InEpsilon(t, wantNet, result.NetAreaM2, 1e-9)
}

func TestDeriveSubtractsWatercourseCorridor(t *testing.T) {
	d := newDeriver(t)

	site := gridLayer("site", square(0, 0, 1000, 1000))
	// A straight stream through the site; the corridor clips to a
	// 60 m band, the round end caps fall outside the boundary.
	stream := assessment.Layer{
		Name: "stream",
		EPSG: bng.EPSGBritishNationalGrid,
		Geometries: []orb.Geometry{
			orb.LineString{{500, -100}, {500, 1100}},
		},
	}

	result, err := d.Derive(context.Background(), site, nil, &stream)
	require.NoError(t, err)

	wantNet := 1_000_000.0 - 60.0*1000.0
	assert.InEpsilon(t, wantNet, result.NetAreaM2, 1e-6)
	assert.Len(t, result.NetArea, 2)
}

func TestDeriveFullWorkflow(t *testing.T) {
	d := newDeriver(t)

	site := gridLayer("site", square(0, 0, 1000, 1000))
	rock := gridLayer("rock", square(0, 0, 200, 200))
	stream := gridLayer("stream", orb.LineString{{500, -100}, {500, 1100}})

	result, err := d.Derive(context.Background(), site, []assessment.Layer{rock}, &stream)
	require.NoError(t, err)

	wantNet := 1_000_000.0 - 40_000.0 - 60_000.0
	assert.InEpsilon(t, wantNet, result.NetAreaM2, 1e-6)
	assert.InEpsilon(t, 1_000_000.0, result.SiteAreaM2, 1e-9)
}

func TestDeriveCoverOutsideSite(t *testing.T) {
	d := newDeriver(t)

	site := gridLayer("site", square(0, 0, 1000, 1000))
	distant := gridLayer("distant", square(5000, 5000, 6000, 6000))

	result, err := d.Derive(context.Background(), site, []assessment.Layer{distant}, nil)
	require.NoError(t, err)
	assert.InEpsilon(t, 1_000_000.0, result.NetAreaM2, 1e-9)
}

func TestDeriveReprojectsLayers(t *testing.T) {
	d := newDeriver(t)

	// The same square metre grid site, but the cover layer declared in
	// WGS 84 somewhere over the North Sea maps far outside it.
	site := gridLayer("site", square(651000, 313000, 651500, 313500))
	cover := assessment.Layer{
		Name:       "cover",
		EPSG:       bng.EPSGWGS84,
		Geometries: []orb.Geometry{square(1.70, 52.60, 1.71, 52.61)},
	}

	result, err := d.Derive(context.Background(), site, []assessment.Layer{cover}, nil)
	require.NoError(t, err)
	// The reprojected cover lands south-west of the site, so the net
	// area must be strictly smaller than the site only if they overlap;
	// here they do not.
	assert.InEpsilon(t, result.SiteAreaM2, result.NetAreaM2, 1e-9)
}

func TestDeriveUnknownLayerCRS(t *testing.T) {
	d := newDeriver(t)

	site := gridLayer("site", square(0, 0, 1000, 1000))
	bad := assessment.Layer{Name: "bad", EPSG: 99999, Geometries: []orb.Geometry{square(0, 0, 1, 1)}}

	_, err := d.Derive(context.Background(), site, []assessment.Layer{bad}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, bng.ErrUnknownCRS)
	assert.ErrorContains(t, err, "layer bad")
}

func TestDeriveEmptySite(t *testing.T) {
	d := newDeriver(t)

	_, err := d.Derive(context.Background(), assessment.Layer{Name: "site"}, nil, nil)
	require.Error(t, err)
}

func TestDeriveNetAreaFeedsSampling(t *testing.T) {
	d := newDeriver(t)

	site := gridLayer("site", square(0, 0, 300, 300))
	hole := gridLayer("hole", square(100, 100, 200, 200))

	result, err := d.Derive(context.Background(), site, []assessment.Layer{hole}, nil)
	require.NoError(t, err)

	// The subtraction leaves a ring-shaped area: one outer shell with
	// one interior ring.
	require.Len(t, result.NetArea, 1)
	assert.Len(t, result.NetArea[0], 2)
	assert.False(t, math.Signbit(result.NetAreaM2))
	assert.InEpsilon(t, 80_000.0, result.NetAreaM2, 1e-9)
}

func TestDeriveCancelled(t *testing.T) {
	d := newDeriver(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Derive(ctx, gridLayer("site", square(0, 0, 10, 10)), nil, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}
