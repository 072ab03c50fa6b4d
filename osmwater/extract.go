// Package osmwater builds a watercourse layer for the assessment
// workflow out of an OSM extract, so sites without supplied hydrology
// data still get their buffer corridors.
package osmwater

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/cheggaaa/pb/v3/termutil"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/osm"
	"github.com/paulmach/osm/osmpbf"

	"github.com/joekbullard/PeatlandSpatial/bng"
	"github.com/joekbullard/PeatlandSpatial/layerio"
)

// waterwayValues are the channel types that carry an exclusion
// corridor under the field protocol.
var waterwayValues = map[string]bool{
	"river":  true,
	"stream": true,
	"drain":  true,
	"ditch":  true,
	"canal":  true,
}

type Extractor struct {
	Threads int
	Log     *slog.Logger
}

func NewExtractor(threads int, log *slog.Logger) *Extractor {
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Extractor{Threads: threads, Log: log}
}

// Extract scans the PBF twice, ways first to learn which nodes matter,
// then nodes for their locations, and assembles the waterway lines that
// touch the clip bound. The result layer is geographic; the assessment
// workflow reprojects it with everything else.
func (e *Extractor) Extract(ctx context.Context, path string, clip *orb.Bound) (*layerio.Layer, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open extract: %w", err)
	}
	defer file.Close()
	stat, err := file.Stat()
	if err != nil {
		return nil, err
	}

	var ways []*osm.Way
	needed := map[osm.NodeID]struct{}{}

	scanner := osmpbf.New(ctx, file, e.Threads)
	scanner.SkipNodes = true
	scanner.SkipRelations = true
	err = scanWithProgress(scanner, stat.Size(), "1/2 scanning waterways", func(o osm.Object) bool {
		way, ok := o.(*osm.Way)
		if !ok {
			return true
		}
		if !waterwayValues[way.Tags.Find("waterway")] {
			return true
		}
		ways = append(ways, way)
		for _, n := range way.Nodes {
			needed[n.ID] = struct{}{}
		}
		return true
	})
	scanner.Close()
	if err != nil {
		return nil, fmt.Errorf("scan ways: %w", err)
	}

	e.Log.Info("waterway ways found", "ways", len(ways), "nodes", len(needed))

	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	coords := make(map[osm.NodeID]orb.Point, len(needed))

	scanner = osmpbf.New(ctx, file, e.Threads)
	scanner.SkipWays = true
	scanner.SkipRelations = true
	err = scanWithProgress(scanner, stat.Size(), "2/2 resolving locations", func(o osm.Object) bool {
		node, ok := o.(*osm.Node)
		if !ok {
			return true
		}
		if _, ok := needed[node.ID]; ok {
			coords[node.ID] = orb.Point{node.Lon, node.Lat}
		}
		return true
	})
	scanner.Close()
	if err != nil {
		return nil, fmt.Errorf("scan nodes: %w", err)
	}

	layer := assembleLines(ways, coords, clip)
	e.Log.Info("watercourse layer assembled", "features", layer.Len())
	return layer, nil
}

func assembleLines(ways []*osm.Way, coords map[osm.NodeID]orb.Point, clip *orb.Bound) *layerio.Layer {
	layer := &layerio.Layer{Name: "watercourses", EPSG: bng.EPSGWGS84}
	for _, way := range ways {
		line := make(orb.LineString, 0, len(way.Nodes))
		for _, n := range way.Nodes {
			if p, ok := coords[n.ID]; ok {
				line = append(line, p)
			}
		}
		if len(line) < 2 {
			continue
		}
		if clip != nil && !clip.Intersects(line.Bound()) {
			continue
		}

		props := geojson.Properties{"waterway": way.Tags.Find("waterway")}
		if name := way.Tags.Find("name"); name != "" {
			props["name"] = name
		}
		layer.Features = append(layer.Features, layerio.Feature{
			Geometry:   line,
			Properties: props,
		})
	}
	return layer
}

func scanWithProgress(scanner *osmpbf.Scanner, size int64, name string, it func(osm.Object) bool) error {
	bar := pb.Start64(size)
	bar.Set("prefix", name)
	bar.Set(pb.Bytes, true)
	bar.SetRefreshRate(time.Second * 5)
	if w, err := termutil.TerminalWidth(); w == 0 || err != nil {
		bar.SetTemplateString(`{{with string . "prefix"}}{{.}} {{end}}{{counters . }} {{bar . }} {{percent . }} {{speed . }} {{rtime . "ETA %s"}}{{with string . "suffix"}} {{.}}{{end}}` + "\n")
	}

	for scanner.Scan() {
		bar.SetCurrent(scanner.FullyScannedBytes())
		it(scanner.Object())
	}
	bar.Finish()

	return scanner.Err()
}
