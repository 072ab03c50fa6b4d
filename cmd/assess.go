package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/paulmach/orb"
	"github.com/urfave/cli/v3"

	"github.com/joekbullard/PeatlandSpatial/assessment"
	"github.com/joekbullard/PeatlandSpatial/bng"
	"github.com/joekbullard/PeatlandSpatial/gridsampler"
	"github.com/joekbullard/PeatlandSpatial/layerio"
	"github.com/joekbullard/PeatlandSpatial/osmwater"
	"github.com/joekbullard/PeatlandSpatial/survey"
)

func assess(ctx *cli.Context) error {
	log := slog.Default()

	cleanup, err := initRunTelemetry(ctx, log)
	if err != nil {
		return err
	}
	defer cleanup()

	collector, err := startStats(ctx.String("stats-out"))
	if err != nil {
		return err
	}

	site, err := readAssessLayer(ctx.String("site"))
	if err != nil {
		return err
	}

	nonPeatland := make([]assessment.Layer, 0, len(ctx.StringSlice("non-peatland")))
	for _, path := range ctx.StringSlice("non-peatland") {
		layer, err := readAssessLayer(path)
		if err != nil {
			return err
		}
		nonPeatland = append(nonPeatland, layer)
	}

	var watercourse *assessment.Layer
	if path := ctx.String("watercourse"); path != "" {
		layer, err := readAssessLayer(path)
		if err != nil {
			return err
		}
		watercourse = &layer
	}

	repro, err := bng.NewBNGReprojector()
	if err != nil {
		return err
	}

	runCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	deriver := assessment.NewDeriver(repro, assessment.NewEngine(), log)
	result, err := deriver.Derive(runCtx, site, nonPeatland, watercourse)
	if err != nil {
		return err
	}

	err = layerio.WriteLayer(ctx.String("output"), &layerio.Layer{
		Name: "net_assessable_area",
		EPSG: bng.EPSGBritishNationalGrid,
		Features: []layerio.Feature{{
			Geometry: result.NetArea,
			Properties: map[string]interface{}{
				"site_area_m2": result.SiteAreaM2,
				"net_area_m2":  result.NetAreaM2,
			},
		}},
	})
	if err != nil {
		return err
	}

	fmt.Printf("Site area %.2f ha, net assessable area %.2f ha\n",
		result.SiteAreaM2/10000, result.NetAreaM2/10000)
	fmt.Printf("Saved to %s\n", ctx.String("output"))

	if points := ctx.String("points"); points != "" {
		if err := samplePoints(ctx, runCtx, repro, result, points); err != nil {
			return err
		}
	}

	saveStats(collector, ctx.String("stats-out"), log)

	return nil
}

// samplePoints chains the derived net area straight into a sampling
// run, the usual desk-study flow before a field visit.
func samplePoints(ctx *cli.Context, runCtx context.Context, repro *bng.Reprojector, result *assessment.Result, output string) error {
	sink, err := openSink(output)
	if err != nil {
		return err
	}

	source := &survey.GeometrySource{
		LayerName: "net_assessable_area",
		CRS:       bng.EPSGBritishNationalGrid,
		Geometries: []orb.Geometry{
			result.NetArea,
		},
	}

	runner := survey.NewRunner(repro, slog.Default())
	cfg := gridsampler.Config{Include50m: ctx.Bool("include-50m")}
	res, err := runner.Run(runCtx, source, cfg, sink)
	if err != nil {
		return err
	}

	fmt.Printf("Sampled %s points at %d m spacing in %s\n",
		humanize.Comma(int64(res.Points)), res.Spacing, res.Elapsed.Round(time.Millisecond))
	fmt.Printf("Saved to %s\n", output)
	return nil
}

func readAssessLayer(path string) (assessment.Layer, error) {
	layer, err := layerio.ReadLayer(path)
	if err != nil {
		return assessment.Layer{}, err
	}
	geoms := make([]orb.Geometry, 0, layer.Len())
	for _, f := range layer.Features {
		geoms = append(geoms, f.Geometry)
	}
	return assessment.Layer{Name: layer.Name, EPSG: layer.EPSG, Geometries: geoms}, nil
}

func waterways(ctx *cli.Context) error {
	log := slog.Default()

	threads := ctx.Int("threads")
	if threads == 0 {
		threads = runtime.GOMAXPROCS(0)
	}

	var clip *orb.Bound
	if clipPath := ctx.String("clip"); clipPath != "" {
		bound, err := geographicBound(clipPath)
		if err != nil {
			return err
		}
		clip = bound
	}

	extractor := osmwater.NewExtractor(threads, log)
	layer, err := extractor.Extract(ctx.Context, ctx.String("input"), clip)
	if err != nil {
		return err
	}

	if err := layerio.WriteLayer(ctx.String("output"), layer); err != nil {
		return err
	}

	fmt.Printf("Extracted %s watercourse features\n", humanize.Comma(int64(layer.Len())))
	fmt.Printf("Saved to %s\n", ctx.String("output"))
	return nil
}

// geographicBound reads a layer and returns its bound in WGS 84, the
// frame OSM data lives in.
func geographicBound(path string) (*orb.Bound, error) {
	layer, err := layerio.ReadLayer(path)
	if err != nil {
		return nil, err
	}
	if layer.Len() == 0 {
		return nil, fmt.Errorf("clip layer %s has no features", path)
	}

	repro, err := bng.NewReprojector(bng.EPSGWGS84)
	if err != nil {
		return nil, err
	}

	var bound orb.Bound
	for i, f := range layer.Features {
		g, err := repro.Transform(layer.EPSG, f.Geometry)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			bound = g.Bound()
		} else {
			bound = bound.Union(g.Bound())
		}
	}
	return &bound, nil
}

func qaPoints(ctx *cli.Context) error {
	layer, err := layerio.ReadLayer(ctx.String("input"))
	if err != nil {
		return err
	}

	repro, err := bng.NewBNGReprojector()
	if err != nil {
		return err
	}

	var merged orb.MultiPolygon
	for _, f := range layer.Features {
		g, err := repro.Transform(layer.EPSG, f.Geometry)
		if err != nil {
			return err
		}
		switch g := g.(type) {
		case orb.Polygon:
			merged = append(merged, g)
		case orb.MultiPolygon:
			merged = append(merged, g...)
		}
	}
	if len(merged) == 0 {
		return fmt.Errorf("layer %s has no polygonal features", ctx.String("input"))
	}

	points := gridsampler.RandomFill(merged, ctx.Float64("min-distance"))

	geoms := make([]orb.Geometry, 0, len(points))
	for _, p := range points {
		geoms = append(geoms, p)
	}
	err = layerio.WriteGeometryLayer(ctx.String("output"), "qa_points", bng.EPSGBritishNationalGrid, geoms...)
	if err != nil {
		return err
	}

	fmt.Printf("Placed %s verification points at least %.0f m apart\n",
		humanize.Comma(int64(len(points))), ctx.Float64("min-distance"))
	fmt.Printf("Saved to %s\n", ctx.String("output"))
	return nil
}
