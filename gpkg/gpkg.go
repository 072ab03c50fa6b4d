// Package gpkg writes sample points into a GeoPackage, the delivery
// format field teams load onto their survey tablets.
package gpkg

import (
	"database/sql"
	_ "embed"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"

	_ "modernc.org/sqlite"

	"github.com/joekbullard/PeatlandSpatial/bng"
	"github.com/joekbullard/PeatlandSpatial/peatmodel"
)

//go:embed schema.sql
var schemaSQL string

// Sink is a transactional GeoPackage point writer. Points accumulate in
// one transaction; Commit makes them durable, Discard removes the file
// so a failed run leaves nothing behind.
type Sink struct {
	path string
	db   *sql.DB
	tx   *sql.Tx

	count                  int
	minX, minY, maxX, maxY float64
}

// Create replaces any existing file at path with a fresh GeoPackage
// holding the peat_depth_points layer.
func Create(path string) (*Sink, error) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("replace geopackage: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open geopackage: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize geopackage schema: %w", err)
	}
	tx, err := db.Begin()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("begin geopackage transaction: %w", err)
	}
	return &Sink{path: path, db: db, tx: tx}, nil
}

func (s *Sink) Add(p peatmodel.SamplePoint) error {
	blob, err := pointBlob(p.Geometry())
	if err != nil {
		return fmt.Errorf("encode point geometry: %w", err)
	}

	_, err = s.tx.Exec(
		`INSERT INTO peat_depth_points
		   (geom, record_id, easting, northing, date, spacing, peat_depth, main_con, sub_con, notes, photo)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		blob, p.RecordID, p.Easting, p.Northing, dateValue(p.Date), p.Spacing,
		p.PeatDepth, p.MainCon, p.SubCon, p.Notes, p.Photo,
	)
	if err != nil {
		return fmt.Errorf("insert point %d: %w", p.RecordID, err)
	}

	x, y := float64(p.Easting), float64(p.Northing)
	if s.count == 0 {
		s.minX, s.minY, s.maxX, s.maxY = x, y, x, y
	} else {
		s.minX, s.minY = min(s.minX, x), min(s.minY, y)
		s.maxX, s.maxY = max(s.maxX, x), max(s.maxY, y)
	}
	s.count++
	return nil
}

// Count is the number of points added so far.
func (s *Sink) Count() int { return s.count }

// Commit finalizes the layer, recording its extent in gpkg_contents.
func (s *Sink) Commit() error {
	if s.count > 0 {
		_, err := s.tx.Exec(
			`UPDATE gpkg_contents SET min_x = ?, min_y = ?, max_x = ?, max_y = ? WHERE table_name = 'peat_depth_points'`,
			s.minX, s.minY, s.maxX, s.maxY,
		)
		if err != nil {
			s.tx.Rollback()
			s.db.Close()
			return fmt.Errorf("record layer extent: %w", err)
		}
	}
	if err := s.tx.Commit(); err != nil {
		s.db.Close()
		return fmt.Errorf("commit geopackage: %w", err)
	}
	return s.db.Close()
}

// Discard rolls the run back and deletes the file.
func (s *Sink) Discard() error {
	s.tx.Rollback()
	s.db.Close()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove geopackage: %w", err)
	}
	return nil
}

// pointBlob encodes the GeoPackage geometry blob: "GP" magic, version 0,
// little-endian flags with no envelope, the srs id, then standard WKB.
func pointBlob(p orb.Point) ([]byte, error) {
	data, err := wkb.Marshal(p)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 0, 8+len(data))
	buf = append(buf, 'G', 'P', 0, 0x01)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(bng.EPSGBritishNationalGrid))
	return append(buf, data...), nil
}

func dateValue(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.DateOnly)
}
