package upstream

import (
	"context"
	"fmt"

	"git.fiblab.net/sim/routematch/errs"
	"git.fiblab.net/sim/routematch/geo"
	"git.fiblab.net/sim/routematch/matcher"
	"github.com/samber/lo"
)

// RouteFinder 按城市与线路名读取线路
type RouteFinder interface {
	FindRoute(ctx context.Context, city, name string) (matcher.RouteRecord, error)
}

// RoadRouter 获取途经点之间的道路几何
type RoadRouter interface {
	Route(ctx context.Context, waypoints []geo.LngLat) ([]geo.LngLat, error)
}

// GeometrySource 线路折线：优先使用道路几何，不可用时退化为站点序列
type GeometrySource struct {
	routes RouteFinder
	road   RoadRouter // 可为nil
}

func NewGeometrySource(routes RouteFinder, road RoadRouter) *GeometrySource {
	return &GeometrySource{routes: routes, road: road}
}

// Polyline 返回线路的有序折线，坐标缺失或为(0,0)的站点被丢弃
func (g *GeometrySource) Polyline(ctx context.Context, city, name string) ([]geo.LngLat, error) {
	record, err := g.routes.FindRoute(ctx, city, name)
	if err != nil {
		return nil, err
	}
	stations := StationPolyline(record)
	if len(stations) < 2 {
		return nil, fmt.Errorf("%w: route %q has %d usable stations", errs.ErrInsufficientData, name, len(stations))
	}
	if g.road == nil {
		return stations, nil
	}
	line, err := g.road.Route(ctx, stations)
	if err != nil || len(line) < 2 {
		log.WithField("route", name).Warnf("road geometry unavailable, using stations: %v", err)
		return stations, nil
	}
	return line, nil
}

// StationPolyline 站点序列折线
func StationPolyline(record matcher.RouteRecord) []geo.LngLat {
	return lo.FilterMap(record.Stations, func(s matcher.StationRecord, _ int) (geo.LngLat, bool) {
		if s.Longitude == nil || s.Latitude == nil {
			return geo.LngLat{}, false
		}
		p := geo.LngLat{Lng: *s.Longitude, Lat: *s.Latitude}
		return p, p.IsValid() && p.Lng != 0 && p.Lat != 0
	})
}
