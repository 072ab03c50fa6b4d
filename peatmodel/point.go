package peatmodel

import (
	"time"

	"github.com/paulmach/orb"

	"github.com/joekbullard/PeatlandSpatial/gridsampler"
)

// LayerName is the point layer written by every sink.
const LayerName = "peat_depth_points"

// Columns is the fixed sink attribute schema, in declaration order.
var Columns = []string{
	"record_id", "easting", "northing", "date", "spacing",
	"peat_depth", "main_con", "sub_con", "notes", "photo",
}

// SamplePoint is one survey sample location. Generation fills the id,
// coordinates and spacing class; the remaining attributes stay null
// until surveyors record depths on site.
type SamplePoint struct {
	RecordID  int        `json:"record_id"`
	Easting   int        `json:"easting"`
	Northing  int        `json:"northing"`
	Date      *time.Time `json:"date"`
	Spacing   int        `json:"spacing"`
	PeatDepth *int       `json:"peat_depth"`
	MainCon   *string    `json:"main_con"`
	SubCon    *string    `json:"sub_con"`
	Notes     *string    `json:"notes"`
	Photo     *string    `json:"photo"`
}

// FromGrid builds the sink record for one emitted lattice point.
func FromGrid(p gridsampler.Point) SamplePoint {
	return SamplePoint{
		RecordID: p.RecordID,
		Easting:  p.Easting,
		Northing: p.Northing,
		Spacing:  p.Spacing,
	}
}

// Geometry is the point location on the national grid.
func (p SamplePoint) Geometry() orb.Point {
	return orb.Point{float64(p.Easting), float64(p.Northing)}
}

// Properties is the attribute map for feature encodings, nulls included.
func (p SamplePoint) Properties() map[string]any {
	var date any
	if p.Date != nil {
		date = p.Date.Format(time.DateOnly)
	}
	return map[string]any{
		"record_id":  p.RecordID,
		"easting":    p.Easting,
		"northing":   p.Northing,
		"date":       date,
		"spacing":    p.Spacing,
		"peat_depth": nullable(p.PeatDepth),
		"main_con":   nullable(p.MainCon),
		"sub_con":    nullable(p.SubCon),
		"notes":      nullable(p.Notes),
		"photo":      nullable(p.Photo),
	}
}

func nullable[T any](v *T) any {
	if v == nil {
		return nil
	}
	return *v
}

// FromProperties rebuilds a record from feature attributes. Numbers
// arrive as float64 after a json round trip, so values are coerced.
func FromProperties(props map[string]any) SamplePoint {
	p := SamplePoint{
		RecordID: asInt(props["record_id"]),
		Easting:  asInt(props["easting"]),
		Northing: asInt(props["northing"]),
		Spacing:  asInt(props["spacing"]),
	}
	if s, ok := props["date"].(string); ok {
		if t, err := time.Parse(time.DateOnly, s); err == nil {
			p.Date = &t
		}
	}
	if d, ok := optInt(props["peat_depth"]); ok {
		p.PeatDepth = &d
	}
	p.MainCon = optString(props["main_con"])
	p.SubCon = optString(props["sub_con"])
	p.Notes = optString(props["notes"])
	p.Photo = optString(props["photo"])
	return p
}

func asInt(v any) int {
	i, _ := optInt(v)
	return i
}

func optInt(v any) (int, bool) {
	switch v := v.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

func optString(v any) *string {
	if s, ok := v.(string); ok {
		return &s
	}
	return nil
}
