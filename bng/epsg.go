package bng

import (
	"errors"
	"fmt"
	"sort"
)

const (
	// EPSGBritishNationalGrid is the fixed sampling and output frame.
	// All survey geometry is expressed in it, metres on OSGB36.
	EPSGBritishNationalGrid = 27700

	EPSGWGS84       = 4326
	EPSGETRS89      = 4258
	EPSGWebMercator = 3857
	EPSGUTMZone30N  = 32630
)

var ErrUnknownCRS = errors.New("unknown coordinate reference system")

// proj4 definitions for the reference systems survey layers arrive in.
// The 27700 entry carries the OSTN-free Helmert shift, good to a few
// metres nationally, which is well inside one grid cell.
var projDefs = map[int]string{
	EPSGBritishNationalGrid: "+proj=tmerc +lat_0=49 +lon_0=-2 +k=0.9996012717 +x_0=400000 +y_0=-100000 +ellps=airy +towgs84=446.448,-125.157,542.060,0.15,0.247,0.842,-20.489 +units=m +no_defs",
	EPSGWGS84:               "+proj=longlat +datum=WGS84 +no_defs",
	EPSGETRS89:              "+proj=longlat +ellps=GRS80 +no_defs",
	EPSGWebMercator:         "+proj=merc +a=6378137 +b=6378137 +lat_ts=0 +lon_0=0 +x_0=0 +y_0=0 +k=1 +units=m +nadgrids=@null +no_defs",
	EPSGUTMZone30N:          "+proj=utm +zone=30 +datum=WGS84 +units=m +no_defs",
}

var crsNames = map[int]string{
	EPSGBritishNationalGrid: "OSGB36 / British National Grid",
	EPSGWGS84:               "WGS 84",
	EPSGETRS89:              "ETRS89",
	EPSGWebMercator:         "WGS 84 / Pseudo-Mercator",
	EPSGUTMZone30N:          "WGS 84 / UTM zone 30N",
}

// ProjDef returns the proj4 definition string for an EPSG code.
func ProjDef(code int) (string, error) {
	def, ok := projDefs[code]
	if !ok {
		return "", fmt.Errorf("EPSG:%d: %w", code, ErrUnknownCRS)
	}
	return def, nil
}

func CRSName(code int) string {
	if name, ok := crsNames[code]; ok {
		return name
	}
	return fmt.Sprintf("EPSG:%d", code)
}

// SupportedCodes lists the registered EPSG codes in ascending order.
func SupportedCodes() []int {
	codes := make([]int, 0, len(projDefs))
	for code := range projDefs {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	return codes
}
