package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime/pprof"
	"strings"
	"syscall"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"

	"github.com/joekbullard/PeatlandSpatial/bng"
	"github.com/joekbullard/PeatlandSpatial/gpkg"
	"github.com/joekbullard/PeatlandSpatial/gridsampler"
	"github.com/joekbullard/PeatlandSpatial/internal/stats"
	"github.com/joekbullard/PeatlandSpatial/internal/telemetry"
	"github.com/joekbullard/PeatlandSpatial/layerio"
	"github.com/joekbullard/PeatlandSpatial/survey"

	_ "net/http/pprof"

	_ "github.com/KimMachineGun/automemlimit"
	_ "go.uber.org/automaxprocs"
)

func main() {
	_ = godotenv.Load()

	app := &cli.App{
		Name:        "peatland-spatial",
		Description: "Grid sampling and assessment area toolkit for peatland condition surveys",
		Commands: []*cli.Command{
			{
				Name:  "sample",
				Usage: "generate peat depth sampling points for a site layer",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:      "input",
						Aliases:   []string{"i"},
						Required:  true,
						TakesFile: true,
						Usage:     "site polygon layer (GeoJSON, optionally .zst)",
					},
					&cli.StringFlag{
						Name:      "output",
						Aliases:   []string{"o"},
						Required:  true,
						TakesFile: true,
						Usage:     "point layer output (.geojson or .gpkg)",
					},
					&cli.BoolFlag{
						Name:  "include-50m",
						Value: true,
						Usage: "emit the 50 m infill grid alongside the 100 m grid",
					},
					&cli.IntFlag{
						Name:  "source-epsg",
						Usage: "override the layer's declared reference system",
					},
					&cli.StringFlag{
						Name:  "otel-endpoint",
						Value: envOr("PEATLAND_OTEL_ENDPOINT", ""),
					},
					&cli.StringFlag{
						Name:  "stats-out",
						Usage: "write a resource usage report after the run",
					},
					&cli.StringFlag{
						Name:        "pprof.listen",
						DefaultText: "",
					},
					&cli.BoolFlag{
						Name:        "pprof.profile",
						DefaultText: "",
					},
				},
				Action: sample,
			},
			{
				Name:  "assess",
				Usage: "derive the net assessable area for a site",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:      "site",
						Required:  true,
						TakesFile: true,
					},
					&cli.StringSliceFlag{
						Name:      "non-peatland",
						TakesFile: true,
						Usage:     "land cover layers excluded from assessment, repeatable",
					},
					&cli.StringFlag{
						Name:      "watercourse",
						TakesFile: true,
						Usage:     "watercourse lines buffered into an exclusion corridor",
					},
					&cli.StringFlag{
						Name:      "output",
						Aliases:   []string{"o"},
						Required:  true,
						TakesFile: true,
					},
					&cli.StringFlag{
						Name:      "points",
						TakesFile: true,
						Usage:     "also sample the net area into this point layer",
					},
					&cli.BoolFlag{
						Name:  "include-50m",
						Value: true,
					},
					&cli.StringFlag{
						Name:  "otel-endpoint",
						Value: envOr("PEATLAND_OTEL_ENDPOINT", ""),
					},
					&cli.StringFlag{
						Name:  "stats-out",
						Usage: "write a resource usage report after the run",
					},
				},
				Action: assess,
			},
			{
				Name:  "waterways",
				Usage: "extract a watercourse layer from an OSM PBF extract",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:      "input",
						Aliases:   []string{"i"},
						Required:  true,
						TakesFile: true,
					},
					&cli.StringFlag{
						Name:      "output",
						Aliases:   []string{"o"},
						Required:  true,
						TakesFile: true,
					},
					&cli.StringFlag{
						Name:      "clip",
						TakesFile: true,
						Usage:     "keep only waterways touching this layer's bound",
					},
					&cli.IntFlag{
						Name:        "threads",
						Aliases:     []string{"t"},
						DefaultText: "max",
					},
				},
				Action: waterways,
			},
			{
				Name:  "qa-points",
				Usage: "place random verification points inside a site layer",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:      "input",
						Aliases:   []string{"i"},
						Required:  true,
						TakesFile: true,
					},
					&cli.StringFlag{
						Name:      "output",
						Aliases:   []string{"o"},
						Required:  true,
						TakesFile: true,
					},
					&cli.Float64Flag{
						Name:  "min-distance",
						Value: 75,
						Usage: "minimum spacing between points, metres",
					},
				},
				Action: qaPoints,
			},
			{
				Name:  "serve",
				Usage: "serve the sampling and assessment API",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "listen",
						Value: envOr("PEATLAND_LISTEN", ":8080"),
					},
					&cli.StringFlag{
						Name:      "sites",
						TakesFile: true,
						Usage:     "polygon layer preloaded into the parcel lookup index",
					},
					&cli.StringFlag{
						Name:      "points",
						TakesFile: true,
						Usage:     "sampled point layer preloaded into the nearest-record index",
					},
				},
				Action: serve,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func sample(ctx *cli.Context) error {
	log := slog.Default()

	cleanup, err := initRunTelemetry(ctx, log)
	if err != nil {
		return err
	}
	defer cleanup()

	stopProfiling, err := startProfiling(ctx, log)
	if err != nil {
		return err
	}
	defer stopProfiling()

	collector, err := startStats(ctx.String("stats-out"))
	if err != nil {
		return err
	}

	layer, err := layerio.ReadLayer(ctx.String("input"))
	if err != nil {
		return err
	}
	if epsg := ctx.Int("source-epsg"); epsg != 0 {
		layer.EPSG = epsg
	}
	log.Info("input layer read", "features", layer.Len(), "crs", bng.CRSName(layer.EPSG))

	repro, err := bng.NewBNGReprojector()
	if err != nil {
		return err
	}

	runner := survey.NewRunner(repro, log)
	var bar *pb.ProgressBar
	runner.Progress = func(done, total int) {
		if bar == nil {
			bar = pb.StartNew(total)
		}
		bar.SetCurrent(int64(done))
	}

	sink, err := openSink(ctx.String("output"))
	if err != nil {
		return err
	}

	runCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := gridsampler.Config{Include50m: ctx.Bool("include-50m")}
	result, err := runner.Run(runCtx, survey.NewLayerSource(layer), cfg, sink)
	if bar != nil {
		bar.Finish()
	}
	if err != nil {
		return err
	}

	saveStats(collector, ctx.String("stats-out"), log)

	if result.Cancelled {
		fmt.Printf("Run %s cancelled, %s points committed\n",
			result.RunID, humanize.Comma(int64(result.Points)))
		return nil
	}
	fmt.Printf("Sampled %s points across %s features at %d m spacing in %s\n",
		humanize.Comma(int64(result.Points)), humanize.Comma(int64(result.Features)),
		result.Spacing, result.Elapsed.Round(time.Millisecond))
	fmt.Printf("Saved to %s\n", ctx.String("output"))

	return nil
}

// openSink picks the output format off the file extension.
func openSink(path string) (survey.Sink, error) {
	if strings.HasSuffix(path, ".gpkg") {
		return gpkg.Create(path)
	}
	return layerio.NewPointSink(path), nil
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func initRunTelemetry(ctx *cli.Context, log *slog.Logger) (func(), error) {
	tel, err := telemetry.Init(ctx.Context, "peatland-spatial", ctx.String("otel-endpoint"))
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	cleanup := func() {
		if tel == nil {
			return
		}
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Flush(flushCtx); err != nil {
			log.Error("flushing telemetry", "error", err)
		}
		tel.Close(flushCtx)
	}
	return cleanup, nil
}

// startProfiling serves the pprof handlers and optionally records a
// CPU profile into the working directory.
func startProfiling(ctx *cli.Context, log *slog.Logger) (func(), error) {
	if addr := ctx.String("pprof.listen"); addr != "" {
		go func() {
			log.Info("pprof server listening", "address", addr)
			if err := http.ListenAndServe(addr, nil); err != nil {
				log.Error("pprof server failed", "error", err)
			}
		}()
	}

	if !ctx.Bool("pprof.profile") {
		return func() {}, nil
	}
	f, err := os.OpenFile("profile.cpu.pprof", os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("error creating pprof file: %w", err)
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("error starting pprof: %w", err)
	}
	return func() {
		pprof.StopCPUProfile()
		f.Close()
	}, nil
}

func startStats(path string) (*stats.Collector, error) {
	if path == "" {
		return nil, nil
	}
	collector, err := stats.NewCollector(5 * time.Second)
	if err != nil {
		return nil, err
	}
	collector.Start()
	return collector, nil
}

func saveStats(collector *stats.Collector, path string, log *slog.Logger) {
	if collector == nil {
		return
	}
	if err := collector.Stop().SaveToFile(path); err != nil {
		log.Error("writing stats report", "error", err)
	}
}
