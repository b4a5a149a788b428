package matcher_test

import (
	"errors"
	"testing"

	"git.fiblab.net/sim/routematch/errs"
	"git.fiblab.net/sim/routematch/geo"
	"git.fiblab.net/sim/routematch/matcher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func station(name string, lng, lat float64) matcher.StationRecord {
	return matcher.StationRecord{Name: name, Longitude: &lng, Latitude: &lat}
}

func route(name string, stations ...matcher.StationRecord) matcher.RouteRecord {
	return matcher.RouteRecord{Name: name, Stations: stations}
}

func TestBuildRouteIndex(t *testing.T) {
	s1 := station("文昌阁", 119.430, 32.394)
	s2 := station("四望亭", 119.420, 32.400)
	s3 := station("大学城", 119.410, 32.420)
	records := []matcher.RouteRecord{
		route("1路", s1, s2, s3),
		route("2路", s3, s2, s2), // 重复站点
	}
	idx, skipped := matcher.BuildRouteIndex(records)
	assert.Empty(t, skipped)
	assert.Equal(t, 2, idx.RouteCount())
	assert.Equal(t, 3, idx.StationCount())
	assert.Equal(t, []string{"1路", "2路"}, idx.RouteNames())

	// 站点数包含重复站点
	n, ok := idx.RouteStationCount("2路")
	assert.True(t, ok)
	assert.Equal(t, 3, n)

	// 线路集合去重
	assert.Equal(t, []string{"1路", "2路"}, idx.StationRoutes("四望亭"))
	assert.Equal(t, []string{"1路"}, idx.StationRoutes("文昌阁"))
	assert.Nil(t, idx.StationRoutes("不存在"))

	// 覆盖度等于相邻站点球面距离之和，重复站点贡献0
	p1 := geo.LngLat{Lng: 119.430, Lat: 32.394}
	p2 := geo.LngLat{Lng: 119.420, Lat: 32.400}
	p3 := geo.LngLat{Lng: 119.410, Lat: 32.420}
	c1, _ := idx.Coverage("1路")
	assert.Equal(t, geo.Haversine(p1, p2)+geo.Haversine(p2, p3), c1)
	c2, _ := idx.Coverage("2路")
	assert.Equal(t, geo.Haversine(p3, p2)+0, c2)
	assert.GreaterOrEqual(t, c2, 0.0)

	_, ok = idx.Coverage("3路")
	assert.False(t, ok)
}

func TestCoverageOrder(t *testing.T) {
	a := station("A", 119.40, 32.39)
	b := station("B", 119.45, 32.39)
	c := station("C", 119.42, 32.45)
	idx, _ := matcher.BuildRouteIndex([]matcher.RouteRecord{
		route("forward", a, b, c),
		route("reversed", c, b, a),
		route("permuted", a, c, b),
	})
	forward, _ := idx.Coverage("forward")
	reversed, _ := idx.Coverage("reversed")
	permuted, _ := idx.Coverage("permuted")
	assert.InDelta(t, forward, reversed, 1e-12)
	assert.NotEqual(t, forward, permuted)
}

func TestBuildRouteIndexIdempotent(t *testing.T) {
	records := []matcher.RouteRecord{
		route("1路", station("A", 119.40, 32.39), station("B", 119.41, 32.395), station("C", 119.43, 32.40)),
		route("2路", station("C", 119.43, 32.40), station("D", 119.44, 32.41)),
	}
	idx1, _ := matcher.BuildRouteIndex(records)
	idx2, _ := matcher.BuildRouteIndex(records)
	for _, name := range idx1.RouteNames() {
		c1, _ := idx1.Coverage(name)
		c2, _ := idx2.Coverage(name)
		assert.Equal(t, c1, c2)
		n1, _ := idx1.RouteStationCount(name)
		n2, _ := idx2.RouteStationCount(name)
		assert.Equal(t, n1, n2)
	}
}

func TestBuildRouteIndexSkipsMalformed(t *testing.T) {
	lng := 119.5
	records := []matcher.RouteRecord{
		route("ok", station("A", 119.40, 32.39), station("B", 119.41, 32.39)),
		route("single", station("X", 119.50, 32.50)),
		route("missing", station("Y", 119.60, 32.60), matcher.StationRecord{Name: "Z", Longitude: &lng}),
		route("ok", station("A", 119.40, 32.39), station("C", 119.42, 32.39)),
		route("", station("A", 119.40, 32.39), station("B", 119.41, 32.39)),
	}
	idx, skipped := matcher.BuildRouteIndex(records)
	require.Len(t, skipped, 4)
	for _, err := range skipped {
		assert.True(t, errors.Is(err, errs.ErrData))
	}
	assert.Equal(t, 1, idx.RouteCount())
	// 被跳过线路的站点不会进入索引
	_, ok := idx.Station("Y")
	assert.False(t, ok)
	_, ok = idx.Station("C")
	assert.False(t, ok)
	assert.Equal(t, 2, idx.StationCount())
}

func TestNearby(t *testing.T) {
	idx, _ := matcher.BuildRouteIndex([]matcher.RouteRecord{
		route("1路", station("A", 119.40, 32.39), station("B", 119.45, 32.39)),
	})
	var hits []string
	idx.Nearby(geo.LngLat{Lng: 119.405, Lat: 32.392}, 0.01, func(s *matcher.StationEntry) {
		hits = append(hits, s.Name)
	})
	assert.Equal(t, []string{"A"}, hits)

	// 超出阈值
	hits = nil
	idx.Nearby(geo.LngLat{Lng: 119.425, Lat: 32.39}, 0.02, func(s *matcher.StationEntry) {
		hits = append(hits, s.Name)
	})
	assert.Empty(t, hits)
}

func TestRouteSetStations(t *testing.T) {
	r := matcher.NewRoute("1路", nil)
	assert.Equal(t, 0.0, r.CoverageKm)
	r.SetStations([]matcher.Station{
		{Name: "A", Position: geo.LngLat{Lng: 119.40, Lat: 32.39}},
		{Name: "B", Position: geo.LngLat{Lng: 119.40, Lat: 32.40}},
	})
	assert.InDelta(t, 1.112, r.CoverageKm, 0.001)
}
