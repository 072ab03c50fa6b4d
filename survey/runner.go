package survey

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"

	"github.com/joekbullard/PeatlandSpatial/bng"
	"github.com/joekbullard/PeatlandSpatial/gridsampler"
	"github.com/joekbullard/PeatlandSpatial/peatmodel"
)

// Result summarizes one run.
type Result struct {
	RunID     uuid.UUID
	Features  int
	Points    int
	Spacing   int
	Cancelled bool
	Elapsed   time.Duration
}

// Runner drives sampling runs. One Runner can serve many runs; each run
// gets its own sampler session and record id sequence.
type Runner struct {
	Reprojector *bng.Reprojector
	Log         *slog.Logger

	// Progress, when set, is called after each feature completes.
	Progress func(done, total int)
}

func NewRunner(repro *bng.Reprojector, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{Reprojector: repro, Log: log}
}

// Run samples every feature of src into sink. A fatal error discards
// the sink, so a failed run commits nothing. Cooperative cancellation
// is not an error: the points emitted so far are committed and the
// result reports the early stop.
func (r *Runner) Run(ctx context.Context, src Source, cfg gridsampler.Config, sink Sink) (*Result, error) {
	session := gridsampler.NewSession(cfg)
	result := &Result{RunID: uuid.New(), Spacing: session.Spacing()}
	started := time.Now()

	log := r.Log.With("run_id", result.RunID, "layer", src.Name())
	log.Info("run started", "spacing", result.Spacing, "source_epsg", src.EPSG())

	features, err := src.Features()
	if err != nil {
		sink.Discard()
		if !errors.Is(err, ErrSourceUnavailable) {
			err = fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
		}
		return nil, err
	}

	// One reprojection pass for the whole layer, never per point.
	reprojected := make([]orb.Geometry, len(features))
	for i, g := range features {
		tg, err := r.Reprojector.Transform(src.EPSG(), g)
		if err != nil {
			sink.Discard()
			return nil, fmt.Errorf("layer %s: %w", src.Name(), err)
		}
		reprojected[i] = tg
	}

	for i, g := range reprojected {
		if ctx.Err() != nil {
			return r.finish(log, result, started, sink, session, true)
		}
		err := session.Sample(ctx, g, func(p gridsampler.Point) error {
			return sink.Add(peatmodel.FromGrid(p))
		})
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return r.finish(log, result, started, sink, session, true)
		}
		if err != nil {
			sink.Discard()
			return nil, fmt.Errorf("%w: %w", ErrSinkUnavailable, err)
		}
		result.Features++
		if r.Progress != nil {
			r.Progress(i+1, len(reprojected))
		}
	}
	return r.finish(log, result, started, sink, session, false)
}

func (r *Runner) finish(log *slog.Logger, result *Result, started time.Time, sink Sink, session *gridsampler.Session, cancelled bool) (*Result, error) {
	result.Points = session.Emitted()
	result.Cancelled = cancelled
	result.Elapsed = time.Since(started)
	if err := sink.Commit(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSinkUnavailable, err)
	}
	log.Info("run finished",
		"features", result.Features,
		"points", result.Points,
		"cancelled", result.Cancelled,
		"elapsed", result.Elapsed,
	)
	return result, nil
}
