package survey_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thejerf/slogassert"

	"github.com/joekbullard/PeatlandSpatial/bng"
	"github.com/joekbullard/PeatlandSpatial/gridsampler"
	"github.com/joekbullard/PeatlandSpatial/layerio"
	"github.com/joekbullard/PeatlandSpatial/peatmodel"
	"github.com/joekbullard/PeatlandSpatial/survey"
)

type memSink struct {
	points    []peatmodel.SamplePoint
	committed bool
	discarded bool
	addErr    error
	commitErr error
}

func (s *memSink) Add(p peatmodel.SamplePoint) error {
	if s.addErr != nil {
		return s.addErr
	}
	s.points = append(s.points, p)
	return nil
}

func (s *memSink) Commit() error {
	if s.commitErr != nil {
		return s.commitErr
	}
	s.committed = true
	return nil
}

func (s *memSink) Discard() error {
	s.discarded = true
	return nil
}

func square(minX, minY, maxX, maxY float64) orb.Polygon {
	return orb.Polygon{orb.Ring{
		{minX, minY}, {maxX, minY}, {maxX, maxY}, {minX, maxY}, {minX, minY},
	}}
}

func quietRunner(t *testing.T) *survey.Runner {
	t.Helper()
	repro, err := bng.NewBNGReprojector()
	require.NoError(t, err)
	return survey.NewRunner(repro, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func gridSource(geoms ...orb.Geometry) *survey.GeometrySource {
	return &survey.GeometrySource{
		LayerName:  "test",
		CRS:        bng.EPSGBritishNationalGrid,
		Geometries: geoms,
	}
}

func TestRunSamplesAcrossFeatures(t *testing.T) {
	r := quietRunner(t)
	sink := &memSink{}

	var progress [][2]int
	r.Progress = func(done, total int) { progress = append(progress, [2]int{done, total}) }

	src := gridSource(square(0, 0, 150, 150), square(1000, 1000, 1150, 1150))
	result, err := r.Run(context.Background(), src, gridsampler.Config{}, sink)
	require.NoError(t, err)

	assert.True(t, sink.committed)
	assert.False(t, sink.discarded)
	assert.Equal(t, 2, result.Features)
	assert.Equal(t, 2, result.Points)
	assert.Equal(t, 100, result.Spacing)
	assert.False(t, result.Cancelled)
	assert.NotEqual(t, result.RunID.String(), "00000000-0000-0000-0000-000000000000")

	require.Len(t, sink.points, 2)
	assert.Equal(t, peatmodel.SamplePoint{RecordID: 1, Easting: 100, Northing: 100, Spacing: 100}, sink.points[0])
	assert.Equal(t, peatmodel.SamplePoint{RecordID: 2, Easting: 1100, Northing: 1100, Spacing: 100}, sink.points[1])
	assert.Equal(t, [][2]int{{1, 2}, {2, 2}}, progress)
}

func TestRunReprojectsSource(t *testing.T) {
	r := quietRunner(t)
	sink := &memSink{}

	src := &survey.GeometrySource{
		LayerName:  "wgs84",
		CRS:        bng.EPSGWGS84,
		Geometries: []orb.Geometry{square(1.70, 52.64, 1.72, 52.66)},
	}
	result, err := r.Run(context.Background(), src, gridsampler.Config{}, sink)
	require.NoError(t, err)

	assert.Greater(t, result.Points, 0)
	for _, p := range sink.points {
		assert.Zero(t, p.Easting%100)
		assert.Zero(t, p.Northing%100)
		// Roughly the Caister area of the national grid.
		assert.InDelta(t, 651_000, p.Easting, 5_000)
		assert.InDelta(t, 313_000, p.Northing, 5_000)
	}
}

func TestRunLayerSource(t *testing.T) {
	r := quietRunner(t)
	sink := &memSink{}

	layer := &layerio.Layer{
		Name: "site",
		EPSG: bng.EPSGBritishNationalGrid,
		Features: []layerio.Feature{
			{Geometry: square(0, 0, 150, 150)},
		},
	}
	result, err := r.Run(context.Background(), survey.NewLayerSource(layer), gridsampler.Config{Include50m: true}, sink)
	require.NoError(t, err)
	assert.Equal(t, 4, result.Points)
	assert.Equal(t, 50, result.Spacing)
}

func TestRunRejectsNonPolygonFeatures(t *testing.T) {
	r := quietRunner(t)
	sink := &memSink{}

	layer := &layerio.Layer{
		Name: "mixed",
		EPSG: bng.EPSGBritishNationalGrid,
		Features: []layerio.Feature{
			{Geometry: square(0, 0, 150, 150)},
			{Geometry: orb.LineString{{0, 0}, {1, 1}}},
		},
	}
	_, err := r.Run(context.Background(), survey.NewLayerSource(layer), gridsampler.Config{}, sink)
	require.Error(t, err)
	assert.ErrorIs(t, err, survey.ErrSourceUnavailable)
	assert.True(t, sink.discarded)
	assert.False(t, sink.committed)
}

func TestRunReprojectionFailureDiscards(t *testing.T) {
	r := quietRunner(t)
	sink := &memSink{}

	src := &survey.GeometrySource{LayerName: "bad", CRS: 99999, Geometries: []orb.Geometry{square(0, 0, 1, 1)}}
	_, err := r.Run(context.Background(), src, gridsampler.Config{}, sink)
	require.Error(t, err)
	assert.ErrorIs(t, err, bng.ErrUnknownCRS)
	assert.True(t, sink.discarded)
	assert.Empty(t, sink.points)
}

func TestRunSinkErrorDiscards(t *testing.T) {
	r := quietRunner(t)
	sink := &memSink{addErr: errors.New("disk full")}

	_, err := r.Run(context.Background(), gridSource(square(0, 0, 150, 150)), gridsampler.Config{}, sink)
	require.Error(t, err)
	assert.ErrorIs(t, err, survey.ErrSinkUnavailable)
	assert.True(t, sink.discarded)
}

func TestRunCommitError(t *testing.T) {
	r := quietRunner(t)
	sink := &memSink{commitErr: errors.New("device gone")}

	_, err := r.Run(context.Background(), gridSource(square(0, 0, 150, 150)), gridsampler.Config{}, sink)
	require.Error(t, err)
	assert.ErrorIs(t, err, survey.ErrSinkUnavailable)
}

func TestRunCancelledBeforeStart(t *testing.T) {
	r := quietRunner(t)
	sink := &memSink{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := r.Run(ctx, gridSource(square(0, 0, 150, 150)), gridsampler.Config{}, sink)
	require.NoError(t, err)
	assert.True(t, result.Cancelled)
	assert.Zero(t, result.Points)
	assert.True(t, sink.committed, "cancellation keeps emitted points committed")
}

func TestRunCancelledBetweenFeatures(t *testing.T) {
	r := quietRunner(t)
	sink := &memSink{}

	ctx, cancel := context.WithCancel(context.Background())
	r.Progress = func(done, total int) {
		if done == 1 {
			cancel()
		}
	}

	src := gridSource(square(0, 0, 150, 150), square(1000, 1000, 1150, 1150))
	result, err := r.Run(ctx, src, gridsampler.Config{}, sink)
	require.NoError(t, err)

	assert.True(t, result.Cancelled)
	assert.Equal(t, 1, result.Features)
	assert.Equal(t, 1, result.Points)
	assert.True(t, sink.committed)
	require.Len(t, sink.points, 1)
	assert.Equal(t, 1, sink.points[0].RecordID)
}

func TestRunLogsLifecycle(t *testing.T) {
	handler := slogassert.New(t, slog.LevelInfo, nil)
	repro, err := bng.NewBNGReprojector()
	require.NoError(t, err)
	r := survey.NewRunner(repro, slog.New(handler))

	_, err = r.Run(context.Background(), gridSource(square(0, 0, 150, 150)), gridsampler.Config{}, &memSink{})
	require.NoError(t, err)

	handler.AssertMessage("run started")
	handler.AssertMessage("run finished")
	handler.AssertEmpty()
}
