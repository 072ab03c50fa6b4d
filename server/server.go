// Package server exposes the sampling and assessment workflows over
// HTTP for the field-data ingestion pipeline.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	stdlog "log"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/fasthttp/router"
	"github.com/paulmach/orb"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/joekbullard/PeatlandSpatial/assessment"
	"github.com/joekbullard/PeatlandSpatial/bng"
	"github.com/joekbullard/PeatlandSpatial/gridsampler"
	"github.com/joekbullard/PeatlandSpatial/layerio"
	"github.com/joekbullard/PeatlandSpatial/parcelindex"
	"github.com/joekbullard/PeatlandSpatial/peatmodel"
	"github.com/joekbullard/PeatlandSpatial/pointindex"
	"github.com/joekbullard/PeatlandSpatial/survey"
)

const MaxBodySize = 32 * 1000 * 1000 // 32MB

var meter = otel.Meter("github.com/joekbullard/PeatlandSpatial/server")

// Run serves the API on address until ctx is cancelled. parcels backs
// the parcel lookup endpoints and records the nearest-sample lookups;
// either may be empty.
func Run(ctx context.Context, address string, parcels *parcelindex.Index[parcelindex.Parcel], records *pointindex.Index) error {
	if err := setupTelemetry(ctx); err != nil {
		return fmt.Errorf("failed to initialize otel metrics: %w", err)
	}

	log := slog.Default()

	s, err := newServer(parcels, records)
	if err != nil {
		return err
	}

	r := router.New()
	r.POST("/v1/peatpoints", s.PeatPointsHandler)
	r.POST("/v1/assessment", s.AssessmentHandler)
	r.GET("/v1/parcel/{easting}/{northing}", s.ParcelHandler)
	r.POST("/v1/parcels", s.ParcelsBatchHandler)
	r.GET("/v1/nearest/{easting}/{northing}", s.NearestHandler)
	r.GET("/healthz", s.HealthHandler)
	r.Handle(http.MethodGet, "/metrics", fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler()))

	server := &fasthttp.Server{
		ReadTimeout:        30 * time.Second,
		MaxRequestBodySize: MaxBodySize,
		Handler:            r.Handler,
	}

	go func() {
		log.Info("Server listening", "address", address)
		if err := server.ListenAndServe(address); err != http.ErrServerClosed {
			stdlog.Fatalf("ListenAndServe(): %v", err)
		}
	}()
	log.Info("Server started")

	// wait cancel
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return server.ShutdownWithContext(shutdownCtx)
}

type server struct {
	parcels *parcelindex.Index[parcelindex.Parcel]
	records *pointindex.Index
	repro   *bng.Reprojector

	metricSampleCallCount     metric.Int64Counter
	metricAssessmentCallCount metric.Int64Counter
	metricParcelCallCount     metric.Int64Counter
	metricNearestCallCount    metric.Int64Counter
	metricPointsSampled       metric.Int64Counter
}

func newServer(parcels *parcelindex.Index[parcelindex.Parcel], records *pointindex.Index) (*server, error) {
	repro, err := bng.NewBNGReprojector()
	if err != nil {
		return nil, err
	}

	metricSampleCallCount, err := meter.Int64Counter("http_sample_call_total")
	if err != nil {
		return nil, err
	}
	metricAssessmentCallCount, err := meter.Int64Counter("http_assessment_call_total")
	if err != nil {
		return nil, err
	}
	metricParcelCallCount, err := meter.Int64Counter("http_parcel_call_total")
	if err != nil {
		return nil, err
	}
	metricNearestCallCount, err := meter.Int64Counter("http_nearest_call_total")
	if err != nil {
		return nil, err
	}
	metricPointsSampled, err := meter.Int64Counter("points_sampled_total")
	if err != nil {
		return nil, err
	}

	if parcels == nil {
		parcels = parcelindex.New[parcelindex.Parcel]()
	}
	if records == nil {
		records = pointindex.New(nil)
	}

	return &server{
		parcels: parcels,
		records: records,
		repro:   repro,

		metricSampleCallCount:     metricSampleCallCount,
		metricAssessmentCallCount: metricAssessmentCallCount,
		metricParcelCallCount:     metricParcelCallCount,
		metricNearestCallCount:    metricNearestCallCount,
		metricPointsSampled:       metricPointsSampled,
	}, nil
}

var reqPointsPool = sync.Pool{
	New: func() any {
		return [][2]float64{}
	},
}

// collectSink keeps a run's points in memory for the response body.
type collectSink struct {
	points []peatmodel.SamplePoint
}

func (s *collectSink) Add(p peatmodel.SamplePoint) error {
	s.points = append(s.points, p)
	return nil
}
func (s *collectSink) Commit() error  { return nil }
func (s *collectSink) Discard() error { return nil }

// PeatPointsHandler samples a posted polygon layer and responds with
// the peat depth point layer. The include_50m_points query arg narrows
// the run to the 100 m grid when false.
func (s *server) PeatPointsHandler(ctx *fasthttp.RequestCtx) {
	s.metricSampleCallCount.Add(ctx, 1)

	layer, err := layerio.ParseLayer(ctx.Request.Body(), "upload")
	if err != nil {
		ctx.Response.SetStatusCode(http.StatusBadRequest)
		ctx.Response.SetBodyString("failed to parse layer: " + err.Error())
		return
	}

	cfg := gridsampler.Config{Include50m: true}
	if args := ctx.QueryArgs(); args.Has("include_50m_points") {
		cfg.Include50m = args.GetBool("include_50m_points")
	}

	runner := survey.NewRunner(s.repro, slog.Default())
	sink := &collectSink{}
	result, err := runner.Run(ctx, survey.NewLayerSource(layer), cfg, sink)
	if err != nil {
		writeRunError(ctx, err)
		return
	}
	s.metricPointsSampled.Add(ctx, int64(result.Points))

	out, err := layerio.MarshalPointLayer(sink.points)
	if err != nil {
		ctx.Response.SetStatusCode(http.StatusInternalServerError)
		ctx.Response.SetBodyString("failed to marshal response")
		return
	}

	ctx.Response.Header.SetContentType("application/json")
	ctx.Response.SetStatusCode(http.StatusOK)
	ctx.Response.SetBody(out)
}

type assessmentRequest struct {
	Site        json.RawMessage   `json:"site"`
	NonPeatland []json.RawMessage `json:"non_peatland"`
	Watercourse json.RawMessage   `json:"watercourse"`
}

// AssessmentHandler derives the net assessable area from posted site,
// non-peatland and watercourse layers.
func (s *server) AssessmentHandler(ctx *fasthttp.RequestCtx) {
	s.metricAssessmentCallCount.Add(ctx, 1)

	var req assessmentRequest
	if err := json.Unmarshal(ctx.Request.Body(), &req); err != nil {
		ctx.Response.SetStatusCode(http.StatusBadRequest)
		ctx.Response.SetBodyString("failed to parse request: " + err.Error())
		return
	}
	if len(req.Site) == 0 {
		ctx.Response.SetStatusCode(http.StatusBadRequest)
		ctx.Response.SetBodyString("site layer is required")
		return
	}

	site, err := parseAssessLayer(req.Site, "site")
	if err != nil {
		ctx.Response.SetStatusCode(http.StatusBadRequest)
		ctx.Response.SetBodyString(err.Error())
		return
	}

	nonPeatland := make([]assessment.Layer, 0, len(req.NonPeatland))
	for i, raw := range req.NonPeatland {
		l, err := parseAssessLayer(raw, fmt.Sprintf("non_peatland_%d", i+1))
		if err != nil {
			ctx.Response.SetStatusCode(http.StatusBadRequest)
			ctx.Response.SetBodyString(err.Error())
			return
		}
		nonPeatland = append(nonPeatland, l)
	}

	var watercourse *assessment.Layer
	if len(req.Watercourse) > 0 {
		l, err := parseAssessLayer(req.Watercourse, "watercourse")
		if err != nil {
			ctx.Response.SetStatusCode(http.StatusBadRequest)
			ctx.Response.SetBodyString(err.Error())
			return
		}
		watercourse = &l
	}

	deriver := assessment.NewDeriver(s.repro, assessment.NewEngine(), slog.Default())
	result, err := deriver.Derive(ctx, site, nonPeatland, watercourse)
	if err != nil {
		writeRunError(ctx, err)
		return
	}

	out, err := layerio.MarshalLayer(&layerio.Layer{
		Name: "net_assessable_area",
		EPSG: bng.EPSGBritishNationalGrid,
		Features: []layerio.Feature{{
			Geometry: result.NetArea,
			Properties: map[string]interface{}{
				"site_area_m2": result.SiteAreaM2,
				"net_area_m2":  result.NetAreaM2,
			},
		}},
	})
	if err != nil {
		ctx.Response.SetStatusCode(http.StatusInternalServerError)
		ctx.Response.SetBodyString("failed to marshal response")
		return
	}

	ctx.Response.Header.SetContentType("application/json")
	ctx.Response.SetStatusCode(http.StatusOK)
	ctx.Response.SetBody(out)
}

// pathCoordinates reads the easting and northing path segments.
func pathCoordinates(ctx *fasthttp.RequestCtx) (easting, northing float64, err error) {
	easting, err = strconv.ParseFloat(ctx.UserValue("easting").(string), 64)
	if err != nil {
		return 0, 0, err
	}
	northing, err = strconv.ParseFloat(ctx.UserValue("northing").(string), 64)
	if err != nil {
		return 0, 0, err
	}
	return easting, northing, nil
}

// ParcelHandler resolves a single national grid coordinate to the
// assessment parcel covering it.
func (s *server) ParcelHandler(ctx *fasthttp.RequestCtx) {
	s.metricParcelCallCount.Add(ctx, 1)

	easting, northing, err := pathCoordinates(ctx)
	if err != nil {
		ctx.Response.SetStatusCode(http.StatusBadRequest)
		return
	}

	p, ok := s.parcels.Locate(orb.Point{easting, northing})
	if !ok {
		ctx.Response.SetStatusCode(http.StatusNoContent)
		return
	}

	out, err := json.Marshal(p)
	if err != nil {
		ctx.Response.SetStatusCode(http.StatusInternalServerError)
		ctx.Response.SetBodyString("failed to marshal response")
		return
	}

	ctx.Response.Header.SetContentType("application/json")
	ctx.Response.SetStatusCode(http.StatusOK)
	ctx.Response.SetBody(out)
}

// NearestHandler resolves a surveyor's position to the closest sampled
// record. The radius query arg widens or narrows the search in metres.
func (s *server) NearestHandler(ctx *fasthttp.RequestCtx) {
	s.metricNearestCallCount.Add(ctx, 1)

	easting, northing, err := pathCoordinates(ctx)
	if err != nil {
		ctx.Response.SetStatusCode(http.StatusBadRequest)
		return
	}

	radius := pointindex.DefaultSearchRadius
	if args := ctx.QueryArgs(); args.Has("radius") {
		radius, err = strconv.ParseFloat(string(args.Peek("radius")), 64)
		if err != nil || radius <= 0 {
			ctx.Response.SetStatusCode(http.StatusBadRequest)
			ctx.Response.SetBodyString("radius must be a positive number")
			return
		}
	}

	rec, ok := s.records.Nearest(easting, northing, radius)
	if !ok {
		ctx.Response.SetStatusCode(http.StatusNoContent)
		return
	}

	out, err := json.Marshal(rec)
	if err != nil {
		ctx.Response.SetStatusCode(http.StatusInternalServerError)
		ctx.Response.SetBodyString("failed to marshal response")
		return
	}

	ctx.Response.Header.SetContentType("application/json")
	ctx.Response.SetStatusCode(http.StatusOK)
	ctx.Response.SetBody(out)
}

// ParcelsBatchHandler resolves a posted list of [easting, northing]
// pairs. The response carries one entry per input, null where no
// parcel covers the point.
func (s *server) ParcelsBatchHandler(ctx *fasthttp.RequestCtx) {
	req := reqPointsPool.Get().([][2]float64)
	req = req[:0]
	defer reqPointsPool.Put(req)

	err := unmarshalPointPairs(ctx.Request.Body(), &req)
	if err != nil {
		ctx.Response.SetStatusCode(http.StatusBadRequest)
		ctx.Response.SetBodyString("failed to parse request: " + err.Error())
		return
	}

	s.metricParcelCallCount.Add(ctx, int64(len(req)))

	res := make([]*parcelindex.Parcel, 0, len(req))
	for _, p := range req {
		if parcel, ok := s.parcels.Locate(orb.Point{p[0], p[1]}); ok {
			res = append(res, &parcel)
		} else {
			res = append(res, nil)
		}
	}

	data, err := json.Marshal(res)
	if err != nil {
		ctx.Response.SetStatusCode(http.StatusInternalServerError)
		return
	}

	ctx.Response.Header.SetContentType("application/json")
	ctx.Response.SetStatusCode(http.StatusOK)
	ctx.Response.SetBody(data)
}

func (s *server) HealthHandler(ctx *fasthttp.RequestCtx) {
	ctx.Response.SetStatusCode(http.StatusOK)
	ctx.Response.SetBodyString("ok")
}

func parseAssessLayer(raw json.RawMessage, role string) (assessment.Layer, error) {
	l, err := layerio.ParseLayer(raw, role)
	if err != nil {
		return assessment.Layer{}, fmt.Errorf("%s: %w", role, err)
	}
	geoms := make([]orb.Geometry, 0, l.Len())
	for _, f := range l.Features {
		geoms = append(geoms, f.Geometry)
	}
	return assessment.Layer{Name: l.Name, EPSG: l.EPSG, Geometries: geoms}, nil
}

// writeRunError maps workflow failures onto status codes: bad inputs
// are the caller's fault, everything else is ours.
func writeRunError(ctx *fasthttp.RequestCtx, err error) {
	switch {
	case errors.Is(err, survey.ErrSourceUnavailable) || errors.Is(err, bng.ErrUnknownCRS):
		ctx.Response.SetStatusCode(http.StatusBadRequest)
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		ctx.Response.SetStatusCode(http.StatusRequestTimeout)
	default:
		ctx.Response.SetStatusCode(http.StatusInternalServerError)
	}
	ctx.Response.SetBodyString(err.Error())
}
