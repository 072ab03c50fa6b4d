package layerio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"

	"github.com/joekbullard/PeatlandSpatial/bng"
	"github.com/joekbullard/PeatlandSpatial/peatmodel"
)

func TestParseCRSName(t *testing.T) {
	cases := []struct {
		name string
		want int
		ok   bool
	}{
		{"", 4326, true},
		{"urn:ogc:def:crs:OGC:1.3:CRS84", 4326, true},
		{"urn:ogc:def:crs:EPSG::27700", 27700, true},
		{"EPSG:27700", 27700, true},
		{"EPSG:4326", 4326, true},
		{"urn:ogc:def:crs:EPSG::3857", 3857, true},
		{"WGS84", 0, false},
		{"EPSG:abc", 0, false},
	}
	for _, c := range cases {
		got, err := parseCRSName(c.name)
		if c.ok && err != nil {
			t.Fatalf("parseCRSName(%q): %v", c.name, err)
		}
		if !c.ok && err == nil {
			t.Fatalf("parseCRSName(%q): expected error", c.name)
		}
		if c.ok && got != c.want {
			t.Fatalf("parseCRSName(%q) = %d, want %d", c.name, got, c.want)
		}
	}
}

func TestPointLayerRoundTrip(t *testing.T) {
	notes := "edge of bog"
	points := []peatmodel.SamplePoint{
		{RecordID: 1, Easting: 100, Northing: 100, Spacing: 100},
		{RecordID: 2, Easting: 150, Northing: 100, Spacing: 50, Notes: &notes},
	}

	path := filepath.Join(t.TempDir(), "points.geojson")
	if err := WritePointLayer(path, points); err != nil {
		t.Fatalf("write: %v", err)
	}

	layer, err := ReadLayer(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	if layer.EPSG != bng.EPSGBritishNationalGrid {
		t.Fatalf("expected EPSG 27700, got %d", layer.EPSG)
	}
	if layer.Name != peatmodel.LayerName {
		t.Fatalf("expected layer name %q, got %q", peatmodel.LayerName, layer.Name)
	}
	if layer.Len() != len(points) {
		t.Fatalf("expected %d features, got %d", len(points), layer.Len())
	}

	first := layer.Features[0]
	if p, ok := first.Geometry.(orb.Point); !ok || p != (orb.Point{100, 100}) {
		t.Fatalf("unexpected geometry %v", first.Geometry)
	}
	if got := first.Properties.MustInt("record_id"); got != 1 {
		t.Fatalf("expected record_id 1, got %d", got)
	}
	if v, ok := first.Properties["peat_depth"]; !ok || v != nil {
		t.Fatalf("expected explicit null peat_depth, got %v (present=%v)", v, ok)
	}
	if got, _ := layer.Features[1].Properties["notes"].(string); got != notes {
		t.Fatalf("expected notes %q, got %q", notes, got)
	}
}

func TestReadLayerDefaultCRS(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.geojson")
	doc := `{"type":"FeatureCollection","features":[
		{"type":"Feature","geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,1],[0,0]]]},"properties":{"name":"site"}}
	]}`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	layer, err := ReadLayer(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if layer.EPSG != bng.EPSGWGS84 {
		t.Fatalf("expected default EPSG 4326, got %d", layer.EPSG)
	}
	if layer.Len() != 1 {
		t.Fatalf("expected one feature, got %d", layer.Len())
	}
	if _, ok := layer.Features[0].Geometry.(orb.Polygon); !ok {
		t.Fatalf("expected polygon, got %T", layer.Features[0].Geometry)
	}
}

func TestGeometryLayerZstRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "area.geojson.zst")
	area := orb.MultiPolygon{{{{0, 0}, {100, 0}, {100, 100}, {0, 100}, {0, 0}}}}

	if err := WriteGeometryLayer(path, "net_area", bng.EPSGBritishNationalGrid, area); err != nil {
		t.Fatalf("write: %v", err)
	}

	layer, err := ReadLayer(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if layer.EPSG != bng.EPSGBritishNationalGrid {
		t.Fatalf("expected EPSG 27700, got %d", layer.EPSG)
	}
	if layer.Name != "net_area" {
		t.Fatalf("expected name net_area, got %q", layer.Name)
	}
	got, ok := layer.Features[0].Geometry.(orb.MultiPolygon)
	if !ok {
		t.Fatalf("expected multipolygon, got %T", layer.Features[0].Geometry)
	}
	if !got.Equal(area) {
		t.Fatalf("geometry changed in round trip: %v", got)
	}
}

func TestReadLayerMissingFile(t *testing.T) {
	if _, err := ReadLayer(filepath.Join(t.TempDir(), "absent.geojson")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
