package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/joekbullard/PeatlandSpatial/bng"
	"github.com/joekbullard/PeatlandSpatial/layerio"
	"github.com/joekbullard/PeatlandSpatial/parcelindex"
	"github.com/joekbullard/PeatlandSpatial/pointindex"
	"github.com/joekbullard/PeatlandSpatial/server"
)

func serve(ctx *cli.Context) error {
	parcels := parcelindex.New[parcelindex.Parcel]()
	records := pointindex.New(nil)

	// Lookups take national grid coordinates, so the indexes must too.
	if sites := ctx.String("sites"); sites != "" {
		layer, err := loadGridLayer(sites)
		if err != nil {
			return err
		}
		parcels = parcelindex.FromLayer(layer)
		slog.Info("parcel index loaded", "layer", layer.Name, "parcels", parcels.Len())
	}

	if points := ctx.String("points"); points != "" {
		layer, err := loadGridLayer(points)
		if err != nil {
			return err
		}
		records = pointindex.FromLayer(layer)
		slog.Info("point index loaded", "layer", layer.Name, "records", records.Len())
	}

	runCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return server.Run(runCtx, ctx.String("listen"), parcels, records)
}

// loadGridLayer reads a layer and puts it on the national grid.
func loadGridLayer(path string) (*layerio.Layer, error) {
	layer, err := layerio.ReadLayer(path)
	if err != nil {
		return nil, err
	}

	if layer.EPSG != bng.EPSGBritishNationalGrid {
		repro, err := bng.NewBNGReprojector()
		if err != nil {
			return nil, err
		}
		for i, f := range layer.Features {
			g, err := repro.Transform(layer.EPSG, f.Geometry)
			if err != nil {
				return nil, err
			}
			layer.Features[i].Geometry = g
		}
		layer.EPSG = bng.EPSGBritishNationalGrid
	}

	return layer, nil
}
