package layerio

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joekbullard/PeatlandSpatial/bng"
	"github.com/joekbullard/PeatlandSpatial/peatmodel"
)

type featureCollectionDoc struct {
	Type     string             `json:"type"`
	Name     string             `json:"name,omitempty"`
	CRS      *crsMember         `json:"crs,omitempty"`
	Features []*geojson.Feature `json:"features"`
}

// MarshalPointLayer renders sample points as a GeoJSON layer in the
// national grid frame, nulls written out for the unfilled survey fields.
func MarshalPointLayer(points []peatmodel.SamplePoint) ([]byte, error) {
	features := make([]*geojson.Feature, 0, len(points))
	for _, p := range points {
		f := geojson.NewFeature(p.Geometry())
		f.Properties = geojson.Properties(p.Properties())
		features = append(features, f)
	}
	return json.Marshal(featureCollectionDoc{
		Type:     "FeatureCollection",
		Name:     peatmodel.LayerName,
		CRS:      newCRSMember(bng.EPSGBritishNationalGrid),
		Features: features,
	})
}

// WritePointLayer writes sample points as a GeoJSON layer file.
func WritePointLayer(path string, points []peatmodel.SamplePoint) error {
	data, err := MarshalPointLayer(points)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	return writeBytes(path, data)
}

// MarshalGeometryLayer renders a layer of bare geometries, used for
// derived area outputs.
func MarshalGeometryLayer(name string, epsg int, geoms ...orb.Geometry) ([]byte, error) {
	features := make([]*geojson.Feature, 0, len(geoms))
	for _, g := range geoms {
		features = append(features, geojson.NewFeature(g))
	}
	return json.Marshal(featureCollectionDoc{
		Type:     "FeatureCollection",
		Name:     name,
		CRS:      newCRSMember(epsg),
		Features: features,
	})
}

// WriteGeometryLayer writes a layer of bare geometries to a file.
func WriteGeometryLayer(path, name string, epsg int, geoms ...orb.Geometry) error {
	data, err := MarshalGeometryLayer(name, epsg, geoms...)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	return writeBytes(path, data)
}

// MarshalLayer renders a layer with its features' attributes.
func MarshalLayer(layer *Layer) ([]byte, error) {
	features := make([]*geojson.Feature, 0, layer.Len())
	for _, f := range layer.Features {
		gf := geojson.NewFeature(f.Geometry)
		gf.Properties = f.Properties
		features = append(features, gf)
	}
	return json.Marshal(featureCollectionDoc{
		Type:     "FeatureCollection",
		Name:     layer.Name,
		CRS:      newCRSMember(layer.EPSG),
		Features: features,
	})
}

// WriteLayer writes a layer back out with its features' attributes.
func WriteLayer(path string, layer *Layer) error {
	data, err := MarshalLayer(layer)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	return writeBytes(path, data)
}

func writeBytes(path string, data []byte) error {
	writer, err := openWriter(path)
	if err != nil {
		return err
	}
	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return writer.Close()
}

// PointSink buffers sample points and writes them as one GeoJSON layer
// on Commit. Discard leaves the filesystem untouched.
type PointSink struct {
	path   string
	points []peatmodel.SamplePoint
}

func NewPointSink(path string) *PointSink {
	return &PointSink{path: path}
}

func (s *PointSink) Add(p peatmodel.SamplePoint) error {
	s.points = append(s.points, p)
	return nil
}

func (s *PointSink) Count() int { return len(s.points) }

func (s *PointSink) Commit() error {
	return WritePointLayer(s.path, s.points)
}

func (s *PointSink) Discard() error { return nil }

func openWriter(name string) (io.WriteCloser, error) {
	file, err := os.Create(name)
	if err != nil {
		return nil, fmt.Errorf("create layer: %w", err)
	}

	if strings.HasSuffix(name, ".zst") {
		enc, err := zstd.NewWriter(file)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("create zstd writer: %w", err)
		}
		return &zstFileWriter{enc: enc, file: file}, nil
	}

	return file, nil
}

type zstFileWriter struct {
	enc  *zstd.Encoder
	file *os.File
}

func (w *zstFileWriter) Write(p []byte) (int, error) { return w.enc.Write(p) }

func (w *zstFileWriter) Close() error {
	if err := w.enc.Close(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}
