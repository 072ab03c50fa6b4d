// Package survey orchestrates one sampling run: reproject the source
// layer into the national grid, walk every feature through the grid
// sampler, forward points to the sink, and commit.
package survey

import (
	"errors"

	"github.com/paulmach/orb"

	"github.com/joekbullard/PeatlandSpatial/peatmodel"
)

var (
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrSinkUnavailable   = errors.New("sink unavailable")
)

// Source supplies the ordered polygon features of one input layer.
type Source interface {
	Name() string
	EPSG() int
	Features() ([]orb.Geometry, error)
}

// Sink receives each point as it is emitted. Commit finalizes the
// output; Discard must leave nothing committed. Exactly one of the two
// is called per run.
type Sink interface {
	Add(peatmodel.SamplePoint) error
	Commit() error
	Discard() error
}
