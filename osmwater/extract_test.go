package osmwater

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
)

func testWay(id osm.WayID, waterway, name string, nodes ...osm.NodeID) *osm.Way {
	way := &osm.Way{ID: id}
	way.Tags = osm.Tags([]osm.Tag{{Key: "waterway", Value: waterway}})
	if name != "" {
		way.Tags = append(way.Tags, osm.Tag{Key: "name", Value: name})
	}
	for _, n := range nodes {
		way.Nodes = append(way.Nodes, osm.WayNode{ID: n})
	}
	return way
}

func TestAssembleLines(t *testing.T) {
	coords := map[osm.NodeID]orb.Point{
		1: {-2.10, 53.50},
		2: {-2.11, 53.51},
		3: {-2.12, 53.52},
		5: {-2.20, 53.60},
	}
	ways := []*osm.Way{
		testWay(10, "stream", "Black Brook", 1, 2, 3),
		testWay(11, "drain", "", 2, 3),
		testWay(12, "ditch", "", 4, 5), // node 4 never resolved
	}

	layer := assembleLines(ways, coords, nil)

	if layer.EPSG != 4326 {
		t.Fatalf("expected layer in EPSG:4326, got %d", layer.EPSG)
	}
	if layer.Len() != 2 {
		t.Fatalf("expected 2 lines, got %d", layer.Len())
	}

	brook := layer.Features[0]
	line, ok := brook.Geometry.(orb.LineString)
	if !ok {
		t.Fatalf("expected orb.LineString, got %T", brook.Geometry)
	}
	if len(line) != 3 {
		t.Fatalf("expected 3 vertices, got %d", len(line))
	}
	if line[0] != (orb.Point{-2.10, 53.50}) {
		t.Fatalf("unexpected first vertex %v", line[0])
	}
	if got := brook.Properties.MustString("waterway"); got != "stream" {
		t.Fatalf("expected waterway=stream, got %q", got)
	}
	if got := brook.Properties.MustString("name"); got != "Black Brook" {
		t.Fatalf("expected name=Black Brook, got %q", got)
	}

	drain := layer.Features[1]
	if got := drain.Properties.MustString("waterway"); got != "drain" {
		t.Fatalf("expected waterway=drain, got %q", got)
	}
	if _, ok := drain.Properties["name"]; ok {
		t.Fatalf("unnamed way should not carry a name property")
	}
}

func TestAssembleLinesClip(t *testing.T) {
	coords := map[osm.NodeID]orb.Point{
		1: {-2.10, 53.50},
		2: {-2.11, 53.51},
		3: {-3.50, 54.20},
		4: {-3.51, 54.21},
	}
	ways := []*osm.Way{
		testWay(10, "river", "Inside", 1, 2),
		testWay(11, "river", "Outside", 3, 4),
	}
	clip := orb.Bound{Min: orb.Point{-2.2, 53.4}, Max: orb.Point{-2.0, 53.6}}

	layer := assembleLines(ways, coords, &clip)

	if layer.Len() != 1 {
		t.Fatalf("expected 1 clipped line, got %d", layer.Len())
	}
	if got := layer.Features[0].Properties.MustString("name"); got != "Inside" {
		t.Fatalf("expected the inside river to survive, got %q", got)
	}
}

func TestWaterwayValues(t *testing.T) {
	for _, keep := range []string{"river", "stream", "drain", "ditch", "canal"} {
		if !waterwayValues[keep] {
			t.Fatalf("expected waterway=%s to be kept", keep)
		}
	}
	for _, drop := range []string{"dam", "weir", "riverbank", ""} {
		if waterwayValues[drop] {
			t.Fatalf("expected waterway=%q to be dropped", drop)
		}
	}
}
