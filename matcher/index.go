package matcher

import (
	"fmt"
	"math"
	"sort"

	"git.fiblab.net/sim/routematch/errs"
	"git.fiblab.net/sim/routematch/geo"
	"github.com/samber/lo"
	"github.com/tidwall/rtree"
)

// RouteIndex 一个城市在一个匹配周期内的线路/站点快照
// 只在BuildRouteIndex中单线程构建，之后由各worker并发只读
type RouteIndex struct {
	stations      map[string]*StationEntry
	stationNames  []string // 插入顺序，保证遍历确定
	routes        map[string]*Route
	routeNames    []string
	stationCounts map[string]int
	coverages     map[string]float64

	// 站点位置的空间索引，只用于候选站点预筛选
	tree rtree.RTree
}

// BuildRouteIndex 由线路记录构建索引
// 字段缺失或站点少于2个的线路被跳过并记录告警，对应错误随索引一并返回
func BuildRouteIndex(records []RouteRecord) (*RouteIndex, []error) {
	idx := &RouteIndex{
		stations:      make(map[string]*StationEntry),
		routes:        make(map[string]*Route),
		stationCounts: make(map[string]int),
		coverages:     make(map[string]float64),
	}
	var skipped []error
	for _, record := range records {
		route, err := parseRoute(record)
		if err == nil {
			if _, ok := idx.routes[route.Name]; ok {
				err = fmt.Errorf("%w: duplicate route %q", errs.ErrData, route.Name)
			}
		}
		if err != nil {
			log.WithField("route", record.Name).Warnf("skip route: %v", err)
			skipped = append(skipped, err)
			continue
		}
		idx.addRoute(route)
	}
	return idx, skipped
}

// 校验并解析单条线路，整条线路校验通过后才会写入索引
func parseRoute(record RouteRecord) (*Route, error) {
	if record.Name == "" {
		return nil, fmt.Errorf("%w: route without name", errs.ErrData)
	}
	if len(record.Stations) < 2 {
		return nil, fmt.Errorf("%w: route %q has %d stations, at least 2 required",
			errs.ErrData, record.Name, len(record.Stations))
	}
	stations := make([]Station, 0, len(record.Stations))
	for i, s := range record.Stations {
		if s.Name == "" {
			return nil, fmt.Errorf("%w: route %q station #%d without name", errs.ErrData, record.Name, i)
		}
		if s.Longitude == nil || s.Latitude == nil {
			return nil, fmt.Errorf("%w: route %q station %q missing longitude/latitude",
				errs.ErrData, record.Name, s.Name)
		}
		p := geo.LngLat{Lng: *s.Longitude, Lat: *s.Latitude}
		if !p.IsValid() {
			return nil, fmt.Errorf("%w: route %q station %q has invalid position %v",
				errs.ErrData, record.Name, s.Name, p)
		}
		stations = append(stations, Station{Name: s.Name, Position: p})
	}
	return NewRoute(record.Name, stations), nil
}

// NewRoute 构造线路并计算路径覆盖度
func NewRoute(name string, stations []Station) *Route {
	r := &Route{Name: name}
	r.SetStations(stations)
	return r
}

// SetStations 更新站点序列并重新计算路径覆盖度
func (r *Route) SetStations(stations []Station) {
	r.Stations = stations
	r.CoverageKm = geo.PolylineLength(lo.Map(stations, func(s Station, _ int) geo.LngLat {
		return s.Position
	}))
}

func (idx *RouteIndex) addRoute(route *Route) {
	idx.routes[route.Name] = route
	idx.routeNames = append(idx.routeNames, route.Name)
	idx.coverages[route.Name] = route.CoverageKm
	// 站点数包含重复站点
	idx.stationCounts[route.Name] = len(route.Stations)
	for _, s := range route.Stations {
		entry, ok := idx.stations[s.Name]
		if !ok {
			entry = &StationEntry{
				Name:     s.Name,
				Position: s.Position,
				Routes:   make(map[string]struct{}),
			}
			idx.stations[s.Name] = entry
			idx.stationNames = append(idx.stationNames, s.Name)
			p := [2]float64{s.Position.Lng, s.Position.Lat}
			idx.tree.Insert(p, p, entry)
		}
		entry.Routes[route.Name] = struct{}{}
	}
}

// getter

func (idx *RouteIndex) RouteCount() int {
	return len(idx.routes)
}

func (idx *RouteIndex) StationCount() int {
	return len(idx.stations)
}

// RouteNames 按插入顺序返回所有线路名
func (idx *RouteIndex) RouteNames() []string {
	return append([]string(nil), idx.routeNames...)
}

func (idx *RouteIndex) Route(name string) (*Route, bool) {
	r, ok := idx.routes[name]
	return r, ok
}

// RouteStationCount 线路总站点数
func (idx *RouteIndex) RouteStationCount(name string) (int, bool) {
	n, ok := idx.stationCounts[name]
	return n, ok
}

// Coverage 线路路径覆盖度（单位：千米）
func (idx *RouteIndex) Coverage(name string) (float64, bool) {
	c, ok := idx.coverages[name]
	return c, ok
}

func (idx *RouteIndex) Station(name string) (*StationEntry, bool) {
	s, ok := idx.stations[name]
	return s, ok
}

// StationRoutes 经过指定站点的线路，按名称排序
func (idx *RouteIndex) StationRoutes(name string) []string {
	s, ok := idx.stations[name]
	if !ok {
		return nil
	}
	routes := lo.Keys(s.Routes)
	sort.Strings(routes)
	return routes
}

// Nearby 遍历与p在经纬度上均严格小于eps的站点
func (idx *RouteIndex) Nearby(p geo.LngLat, eps float64, fn func(*StationEntry)) {
	// 检索框略大于eps，避免浮点误差漏掉边界附近的站点，严格判断在回调中完成
	r := eps * (1 + 1e-9)
	min := [2]float64{p.Lng - r, p.Lat - r}
	max := [2]float64{p.Lng + r, p.Lat + r}
	idx.tree.Search(min, max, func(_, _ [2]float64, data interface{}) bool {
		entry := data.(*StationEntry)
		if math.Abs(p.Lng-entry.Position.Lng) < eps && math.Abs(p.Lat-entry.Position.Lat) < eps {
			fn(entry)
		}
		return true
	})
}
