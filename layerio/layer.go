package layerio

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joekbullard/PeatlandSpatial/bng"
)

// Feature is one geometry with its attributes, as read from a layer file.
type Feature struct {
	Geometry   orb.Geometry
	Properties geojson.Properties
}

// Layer is an ordered set of features sharing one reference system.
type Layer struct {
	Name     string
	EPSG     int
	Features []Feature
}

func (l *Layer) Len() int { return len(l.Features) }

// crsMember is the legacy GeoJSON crs object. RFC 7946 dropped it, but
// desktop GIS exports still carry it and it is the only way a plain
// GeoJSON file can declare a projected system like the national grid.
type crsMember struct {
	Type       string `json:"type"`
	Properties struct {
		Name string `json:"name"`
	} `json:"properties"`
}

func newCRSMember(epsg int) *crsMember {
	m := &crsMember{Type: "name"}
	m.Properties.Name = fmt.Sprintf("urn:ogc:def:crs:EPSG::%d", epsg)
	return m
}

func parseCRSName(name string) (int, error) {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return bng.EPSGWGS84, nil
	case strings.EqualFold(name, "urn:ogc:def:crs:OGC:1.3:CRS84"),
		strings.EqualFold(name, "CRS84"):
		return bng.EPSGWGS84, nil
	}

	// "EPSG:27700" or "urn:ogc:def:crs:EPSG::27700" forms.
	idx := strings.LastIndexAny(name, ":")
	if idx < 0 || !strings.Contains(strings.ToUpper(name), "EPSG") {
		return 0, fmt.Errorf("unrecognized crs %q", name)
	}
	code, err := strconv.Atoi(name[idx+1:])
	if err != nil {
		return 0, fmt.Errorf("unrecognized crs %q", name)
	}
	return code, nil
}
