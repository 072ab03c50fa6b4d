package layerio

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/paulmach/orb/geojson"
)

// ReadLayer reads a GeoJSON feature collection, resolving the layer's
// reference system from its crs member (WGS 84 when absent, per RFC
// 7946). Files with a .zst suffix are decompressed transparently.
func ReadLayer(path string) (*Layer, error) {
	reader, err := openReader(path)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	fallback := strings.TrimSuffix(strings.TrimSuffix(filepath.Base(path), ".zst"), ".geojson")
	layer, err := ParseLayer(data, fallback)
	if err != nil {
		return nil, fmt.Errorf("layer %s: %w", path, err)
	}
	return layer, nil
}

// ParseLayer parses a GeoJSON feature collection document.
// fallbackName is used when the document carries no name member.
func ParseLayer(data []byte, fallbackName string) (*Layer, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("parse feature collection: %w", err)
	}

	// The crs and name members are foreign to the feature collection, so
	// they are picked out of the raw document separately.
	var head struct {
		Name string     `json:"name"`
		CRS  *crsMember `json:"crs"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("parse document head: %w", err)
	}

	crsName := ""
	if head.CRS != nil {
		crsName = head.CRS.Properties.Name
	}
	epsg, err := parseCRSName(crsName)
	if err != nil {
		return nil, err
	}

	name := head.Name
	if name == "" {
		name = fallbackName
	}

	layer := &Layer{
		Name:     name,
		EPSG:     epsg,
		Features: make([]Feature, 0, len(fc.Features)),
	}
	for _, f := range fc.Features {
		if f == nil || f.Geometry == nil {
			continue
		}
		layer.Features = append(layer.Features, Feature{
			Geometry:   f.Geometry,
			Properties: f.Properties,
		})
	}
	return layer, nil
}

func openReader(name string) (io.ReadCloser, error) {
	file, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open layer: %w", err)
	}

	if strings.HasSuffix(name, ".zst") {
		dec, err := zstd.NewReader(file)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("create zstd reader: %w", err)
		}
		return dec.IOReadCloser(), nil
	}

	return file, nil
}
