package server

import (
	"fmt"
	"slices"
	"strconv"
)

// pairCursor walks a JSON byte buffer by hand. Batch lookups arrive
// with thousands of [easting, northing] pairs per request, so the
// reflective decoder shows up in profiles.
type pairCursor struct {
	buf []byte
	pos int
}

func (c *pairCursor) eof() bool { return c.pos >= len(c.buf) }

func (c *pairCursor) skipSpace() {
	for !c.eof() {
		switch c.buf[c.pos] {
		case ' ', '\n', '\t', '\r':
			c.pos++
		default:
			return
		}
	}
}

// accept consumes ch if it is next, reporting whether it did.
func (c *pairCursor) accept(ch byte) bool {
	if c.eof() || c.buf[c.pos] != ch {
		return false
	}
	c.pos++
	return true
}

func isNumberByte(b byte) bool {
	return (b >= '0' && b <= '9') || b == '-' || b == '.' || b == 'e' || b == 'E'
}

// number scans a float literal. An empty literal reads as zero; the
// caller's delimiter checks reject anything else in its place.
func (c *pairCursor) number() (float64, error) {
	start := c.pos
	for !c.eof() && isNumberByte(c.buf[c.pos]) {
		c.pos++
	}
	if c.pos == start {
		return 0, nil
	}
	v, err := strconv.ParseFloat(string(c.buf[start:c.pos]), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number: %v", err)
	}
	return v, nil
}

// pair reads one [x, y] element. Elements past the second are
// discarded up to the closing bracket.
func (c *pairCursor) pair() ([2]float64, error) {
	var p [2]float64
	if !c.accept('[') {
		return p, fmt.Errorf("invalid format: expected '[' for point")
	}
	for j := range p {
		c.skipSpace()
		v, err := c.number()
		if err != nil {
			return p, err
		}
		p[j] = v
		c.skipSpace()
		if j == 0 && !c.accept(',') {
			return p, fmt.Errorf("invalid format: expected ',' between coordinates")
		}
	}
	for !c.eof() && c.buf[c.pos] != ']' {
		c.pos++
	}
	if !c.accept(']') {
		return p, fmt.Errorf("invalid format: expected ']' at end of point")
	}
	return p, nil
}

// unmarshalPointPairs parses a JSON array of [easting, northing]
// pairs without reflection.
func unmarshalPointPairs(data []byte, result *[][2]float64) error {
	c := pairCursor{buf: data}

	*result = slices.Grow(*result, len(data)/16) // rough bytes-per-pair guess

	c.skipSpace()
	if !c.accept('[') {
		return fmt.Errorf("invalid format: expected '['")
	}

	for !c.eof() {
		c.skipSpace()
		if c.accept(']') {
			break
		}

		p, err := c.pair()
		if err != nil {
			return err
		}
		*result = append(*result, p)

		c.skipSpace()
		if c.accept(',') {
			continue
		}
		if c.accept(']') {
			break
		}
	}

	return nil
}
