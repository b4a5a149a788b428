package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"git.fiblab.net/sim/routematch/config"
	"git.fiblab.net/sim/routematch/elevation"
	"git.fiblab.net/sim/routematch/errs"
	"git.fiblab.net/sim/routematch/geo"
	"git.fiblab.net/sim/routematch/matcher"
	"git.fiblab.net/sim/routematch/scheduler"
	"git.fiblab.net/sim/routematch/slope"
	"git.fiblab.net/sim/routematch/storage"
	"github.com/bluele/gcache"
	"github.com/samber/lo"
)

const (
	SERVICE_NAME = "routematch.v1.RouteMatchService"

	GET_MATCH_RESULTS_PROCEDURE = "/" + SERVICE_NAME + "/GetMatchResults"
	CALCULATE_SLOPE_PROCEDURE   = "/" + SERVICE_NAME + "/CalculateSlope"
	MATCH_TRACE_PROCEDURE       = "/" + SERVICE_NAME + "/MatchTrace"
	RUN_MATCHING_PROCEDURE      = "/" + SERVICE_NAME + "/RunMatching"
)

type ElevationSource interface {
	PointsInBBox(ctx context.Context, city string, bbox elevation.BBox) ([]elevation.Point, error)
}

type ResultStore interface {
	MatchResults(ctx context.Context, city string, q storage.ResultQuery) ([]matcher.MatchResult, error)
	FindVehicles(ctx context.Context, city, field, value string) ([]storage.Vehicle, error)
}

type PolylineSource interface {
	Polyline(ctx context.Context, city, name string) ([]geo.LngLat, error)
}

type CityRunner interface {
	RunCity(ctx context.Context, city config.City, day time.Time) (scheduler.Report, error)
}

type GetMatchResultsRequest struct {
	City       string `json:"city"`
	Date       string `json:"date,omitempty"`        // YYYY-MM-DD，为空不过滤
	QueryType  string `json:"query_type,omitempty"`  // vin/order/model，为空返回全部结果
	QueryValue string `json:"query_value,omitempty"` // query_type对应的值
}

// MatchRecord 车辆信息与匹配结果，车辆没有结果时结果字段为空
type MatchRecord struct {
	storage.Vehicle
	Date       string   `json:"date,omitempty"`
	Route      string   `json:"matched_route,omitempty"`
	MatchRate  *float64 `json:"match_rate"`
	CoverageKm *float64 `json:"route_coverage"`
}

type GetMatchResultsResponse struct {
	Results []MatchRecord `json:"results"`
}

type CalculateSlopeRequest struct {
	City      string `json:"city"`
	RouteName string `json:"route_name"`
}

type CalculateSlopeResponse struct {
	City      string               `json:"city"`
	RouteName string               `json:"route_name"`
	Segments  []slope.SlopeSegment `json:"segments"`
}

type MatchTraceRequest struct {
	City   string       `json:"city"`
	Points []geo.LngLat `json:"points"`
}

type MatchTraceResponse struct {
	Found          bool               `json:"found"`
	RouteName      string             `json:"route_name,omitempty"`
	MatchRate      float64            `json:"match_rate"`
	CoverageKm     float64            `json:"coverage_km"`
	HighConfidence bool               `json:"high_confidence"`
	Rates          map[string]float64 `json:"rates,omitempty"`
}

type RunMatchingRequest struct {
	City string `json:"city"`
	Date string `json:"date,omitempty"` // 业务日期，为空表示前一天
}

type RunMatchingResponse struct {
	Report scheduler.Report `json:"report"`
}

type MatchServer struct {
	cfg        *config.Config
	registry   *IndexRegistry
	elevations ElevationSource
	results    ResultStore
	geometry   PolylineSource
	runner     CityRunner
	matcher    *matcher.Matcher
	profiler   *slope.Profiler

	// (city, route) -> []slope.SlopeSegment
	slopes gcache.Cache
}

func NewMatchServer(
	cfg *config.Config,
	registry *IndexRegistry,
	elevations ElevationSource,
	results ResultStore,
	geometry PolylineSource,
	runner CityRunner,
) *MatchServer {
	return &MatchServer{
		cfg:        cfg,
		registry:   registry,
		elevations: elevations,
		results:    results,
		geometry:   geometry,
		runner:     runner,
		matcher:    matcher.New(cfg.MatcherOptions()),
		profiler:   slope.NewProfiler(cfg.SlopeOptions()),
		slopes:     gcache.New(cfg.Slope.CacheSize).LRU().Expiration(cfg.Slope.CacheTTL).Build(),
	}
}

// Handler 注册全部接口
func (s *MatchServer) Handler() (string, http.Handler) {
	opts := []connect.HandlerOption{connect.WithCodec(jsonCodec{})}
	mux := http.NewServeMux()
	mux.Handle(GET_MATCH_RESULTS_PROCEDURE, connect.NewUnaryHandler(GET_MATCH_RESULTS_PROCEDURE, s.GetMatchResults, opts...))
	mux.Handle(CALCULATE_SLOPE_PROCEDURE, connect.NewUnaryHandler(CALCULATE_SLOPE_PROCEDURE, s.CalculateSlope, opts...))
	mux.Handle(MATCH_TRACE_PROCEDURE, connect.NewUnaryHandler(MATCH_TRACE_PROCEDURE, s.MatchTrace, opts...))
	mux.Handle(RUN_MATCHING_PROCEDURE, connect.NewUnaryHandler(RUN_MATCHING_PROCEDURE, s.RunMatching, opts...))
	return "/" + SERVICE_NAME + "/", mux
}

// 检查城市是否已配置
func (s *MatchServer) city(name string) (config.City, error) {
	if name == "" {
		return config.City{}, connect.NewError(connect.CodeInvalidArgument, errors.New("city is required"))
	}
	city, ok := s.cfg.FindCity(name)
	if !ok {
		return config.City{}, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("unknown city: %s", name))
	}
	return city, nil
}

func (s *MatchServer) GetMatchResults(
	ctx context.Context,
	req *connect.Request[GetMatchResultsRequest],
) (*connect.Response[GetMatchResultsResponse], error) {
	in := req.Msg
	if _, err := s.city(in.City); err != nil {
		return nil, err
	}
	var q storage.ResultQuery
	if in.Date != "" {
		day, err := time.ParseInLocation(storage.DATE_LAYOUT, in.Date, time.Local)
		if err != nil {
			return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("invalid date: %s", in.Date))
		}
		q.Date = &day
	}
	if in.QueryType == "" {
		results, err := s.results.MatchResults(ctx, in.City, q)
		if err != nil {
			return nil, toConnectError(err)
		}
		records := lo.Map(results, func(r matcher.MatchResult, _ int) MatchRecord {
			return newMatchRecord(storage.Vehicle{VIN: r.VIN}, r)
		})
		return connect.NewResponse(&GetMatchResultsResponse{Results: records}), nil
	}

	if in.QueryValue == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("query_value is required"))
	}
	vehicles, err := s.results.FindVehicles(ctx, in.City, in.QueryType, in.QueryValue)
	if err != nil {
		return nil, toConnectError(err)
	}
	// 按vin查询且车辆清单中没有该车时，仍返回结果
	if in.QueryType == "vin" && len(vehicles) == 0 {
		vehicles = []storage.Vehicle{{VIN: in.QueryValue}}
	}
	records := make([]MatchRecord, 0, len(vehicles))
	if len(vehicles) > 0 {
		q.VINs = lo.Map(vehicles, func(v storage.Vehicle, _ int) string { return v.VIN })
		results, err := s.results.MatchResults(ctx, in.City, q)
		if err != nil {
			return nil, toConnectError(err)
		}
		byVIN := lo.GroupBy(results, func(r matcher.MatchResult) string { return r.VIN })
		for _, v := range vehicles {
			rs, ok := byVIN[v.VIN]
			if !ok {
				records = append(records, MatchRecord{Vehicle: v})
				continue
			}
			for _, r := range rs {
				records = append(records, newMatchRecord(v, r))
			}
		}
	}
	return connect.NewResponse(&GetMatchResultsResponse{Results: records}), nil
}

func newMatchRecord(v storage.Vehicle, r matcher.MatchResult) MatchRecord {
	return MatchRecord{
		Vehicle:    v,
		Date:       r.Date.Format(storage.DATE_LAYOUT),
		Route:      r.Route,
		MatchRate:  r.MatchRate,
		CoverageKm: r.CoverageKm,
	}
}

func (s *MatchServer) CalculateSlope(
	ctx context.Context,
	req *connect.Request[CalculateSlopeRequest],
) (*connect.Response[CalculateSlopeResponse], error) {
	in := req.Msg
	city, err := s.city(in.City)
	if err != nil {
		return nil, err
	}
	if !city.Elevation {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("city %s has no elevation data", in.City))
	}
	if in.RouteName == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("route_name is required"))
	}
	key := in.City + "/" + in.RouteName
	if v, err := s.slopes.Get(key); err == nil {
		return connect.NewResponse(&CalculateSlopeResponse{
			City: in.City, RouteName: in.RouteName, Segments: v.([]slope.SlopeSegment),
		}), nil
	}

	segments, err := s.calculateSlope(ctx, in.City, in.RouteName)
	if err != nil {
		log.WithField("city", in.City).WithField("route", in.RouteName).Warnf("calculate slope: %v", err)
		return nil, toConnectError(err)
	}
	if err := s.slopes.Set(key, segments); err != nil {
		log.Warnf("cache slope of %s: %v", key, err)
	}
	return connect.NewResponse(&CalculateSlopeResponse{
		City: in.City, RouteName: in.RouteName, Segments: segments,
	}), nil
}

// 线路折线 -> 范围内高程点 -> 坡度段
func (s *MatchServer) calculateSlope(ctx context.Context, city, route string) ([]slope.SlopeSegment, error) {
	polyline, err := s.geometry.Polyline(ctx, city, route)
	if err != nil {
		return nil, err
	}
	if len(polyline) < 2 {
		return nil, fmt.Errorf("%w: route %q has %d geometry points", errs.ErrInsufficientData, route, len(polyline))
	}
	bbox := elevation.BBoxOf(polyline).Expand(s.cfg.Slope.BBoxMargin)
	points, err := s.elevations.PointsInBBox(ctx, city, bbox)
	if err != nil {
		return nil, err
	}
	lookup, err := elevation.NewLookup(points, &bbox)
	if err != nil {
		return nil, err
	}
	segments, err := s.profiler.ProcessRoute(polyline, lookup)
	if err != nil {
		return nil, err
	}
	if segments == nil {
		segments = []slope.SlopeSegment{}
	}
	return segments, nil
}

func (s *MatchServer) MatchTrace(
	ctx context.Context,
	req *connect.Request[MatchTraceRequest],
) (*connect.Response[MatchTraceResponse], error) {
	in := req.Msg
	city, err := s.city(in.City)
	if err != nil {
		return nil, err
	}
	transform, err := geo.TransformFor(city.Datum)
	if err != nil {
		return nil, toConnectError(fmt.Errorf("%w: %v", errs.ErrData, err))
	}
	idx, err := s.registry.Get(ctx, city.Name)
	if err != nil {
		return nil, toConnectError(err)
	}
	trace := matcher.DedupTrace(matcher.CleanTrace(in.Points), s.cfg.Matching.DedupPrecision)
	outcome := s.matcher.Match(trace, idx, transform)
	return connect.NewResponse(&MatchTraceResponse{
		Found:          outcome.Found,
		RouteName:      outcome.Route,
		MatchRate:      outcome.MatchRate,
		CoverageKm:     outcome.CoverageKm,
		HighConfidence: outcome.HighConfidence,
		Rates:          outcome.Rates,
	}), nil
}

func (s *MatchServer) RunMatching(
	ctx context.Context,
	req *connect.Request[RunMatchingRequest],
) (*connect.Response[RunMatchingResponse], error) {
	in := req.Msg
	city, err := s.city(in.City)
	if err != nil {
		return nil, err
	}
	day := config.Midnight(time.Now().AddDate(0, 0, -1))
	if in.Date != "" {
		day, err = time.ParseInLocation(storage.DATE_LAYOUT, in.Date, time.Local)
		if err != nil {
			return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("invalid date: %s", in.Date))
		}
	}
	report, err := s.runner.RunCity(ctx, city, day)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&RunMatchingResponse{Report: report}), nil
}

// 错误分类 -> connect错误码
func toConnectError(err error) error {
	var connectErr *connect.Error
	switch {
	case errors.As(err, &connectErr):
		return err
	case errors.Is(err, errs.ErrData):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, errs.ErrNotFound):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, errs.ErrInsufficientData):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case errors.Is(err, errs.ErrUpstream):
		return connect.NewError(connect.CodeUnavailable, err)
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	default:
		return connect.NewError(connect.CodeInternal, err)
	}
}
