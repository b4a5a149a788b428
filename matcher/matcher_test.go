package matcher_test

import (
	"math"
	"testing"
	"time"

	"git.fiblab.net/sim/routematch/geo"
	"git.fiblab.net/sim/routematch/matcher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDay = time.Date(2024, 1, 10, 0, 0, 0, 0, time.Local)

func at(lng, lat float64) geo.LngLat {
	return geo.LngLat{Lng: lng, Lat: lat}
}

func TestMatchPrefersLongerCoverageOnTie(t *testing.T) {
	s1 := station("S1", 119.0, 32.000)
	s2 := station("S2", 119.0, 32.090)
	s3 := station("S3", 119.0, 32.135)
	idx, _ := matcher.BuildRouteIndex([]matcher.RouteRecord{
		route("short", s1, s2),     // 约10km
		route("long", s1, s2, s3), // 约15km
	})
	short, _ := idx.Coverage("short")
	long, _ := idx.Coverage("long")
	assert.InDelta(t, 10.0, short, 0.1)
	assert.InDelta(t, 15.0, long, 0.1)

	m := matcher.New(matcher.DefaultOptions())
	out := m.Match([]geo.LngLat{at(119.0, 32.0), at(119.0, 32.09), at(119.0, 32.135)}, idx, nil)
	require.True(t, out.Found)
	assert.Equal(t, 1.0, out.Rates["short"])
	assert.Equal(t, 1.0, out.Rates["long"])
	assert.Equal(t, "long", out.Route)
	assert.Equal(t, long, out.CoverageKm)
	assert.True(t, out.HighConfidence)
}

func TestMatchBestEffortBelowThreshold(t *testing.T) {
	idx, _ := matcher.BuildRouteIndex([]matcher.RouteRecord{
		route("1路",
			station("A", 119.40, 32.30),
			station("B", 119.40, 32.35),
			station("C", 119.40, 32.40),
			station("D", 119.40, 32.45),
			station("E", 119.40, 32.50),
		),
		route("2路", station("X", 118.00, 31.00), station("Y", 118.10, 31.00)),
	})
	m := matcher.New(matcher.DefaultOptions())
	out := m.Match([]geo.LngLat{at(119.40, 32.30), at(119.40, 32.35), at(119.40, 32.40), at(119.40, 32.45)}, idx, nil)
	require.True(t, out.Found)
	assert.Equal(t, "1路", out.Route)
	assert.InDelta(t, 0.8, out.MatchRate, 1e-12)
	assert.False(t, out.HighConfidence)
	assert.NotContains(t, out.Rates, "2路")
}

func TestMatchThresholdCandidatesUseCoverage(t *testing.T) {
	// 两条线路都达到阈值时，不再要求匹配率相同，覆盖度大者胜出
	idx, _ := matcher.BuildRouteIndex([]matcher.RouteRecord{
		route("full", station("A", 119.40, 32.30), station("B", 119.40, 32.35)),
		route("partial", station("A", 119.40, 32.30), station("B", 119.40, 32.35), station("C", 119.40, 32.60)),
	})
	m := matcher.New(matcher.Options{HighConfidenceRate: 0.6})
	out := m.Match([]geo.LngLat{at(119.40, 32.30), at(119.40, 32.35)}, idx, nil)
	require.True(t, out.Found)
	assert.Equal(t, 1.0, out.Rates["full"])
	assert.InDelta(t, 2.0/3.0, out.Rates["partial"], 1e-12)
	assert.Equal(t, "partial", out.Route)
	assert.True(t, out.HighConfidence)

	// 默认阈值下只有full达到阈值
	out = matcher.New(matcher.DefaultOptions()).Match([]geo.LngLat{at(119.40, 32.30), at(119.40, 32.35)}, idx, nil)
	assert.Equal(t, "full", out.Route)
}

func TestMatchRepeatedHitsCountOnce(t *testing.T) {
	idx, _ := matcher.BuildRouteIndex([]matcher.RouteRecord{
		route("1路", station("A", 119.40, 32.30), station("B", 119.40, 32.40)),
	})
	trace := []geo.LngLat{at(119.40, 32.30), at(119.401, 32.301), at(119.40, 32.30), at(119.399, 32.299)}
	out := matcher.New(matcher.DefaultOptions()).Match(trace, idx, nil)
	require.True(t, out.Found)
	assert.Equal(t, 0.5, out.MatchRate)
}

func TestMatchNoRoute(t *testing.T) {
	idx, _ := matcher.BuildRouteIndex([]matcher.RouteRecord{
		route("1路", station("A", 119.40, 32.30), station("B", 119.40, 32.40)),
	})
	m := matcher.New(matcher.DefaultOptions())

	assert.False(t, m.Match(nil, idx, nil).Found)
	assert.False(t, m.Match([]geo.LngLat{at(100, 20)}, idx, nil).Found)
	assert.False(t, m.Match([]geo.LngLat{at(119.40, 32.30)}, nil, nil).Found)

	empty, _ := matcher.BuildRouteIndex(nil)
	assert.False(t, m.Match([]geo.LngLat{at(119.40, 32.30)}, empty, nil).Found)
}

func TestMatchTransformUsesTighterEpsilon(t *testing.T) {
	idx, _ := matcher.BuildRouteIndex([]matcher.RouteRecord{
		route("1路", station("A", 119.40, 32.30), station("B", 119.40, 32.40)),
	})
	m := matcher.New(matcher.DefaultOptions())
	identity := func(p geo.LngLat) geo.LngLat { return p }
	shift := func(p geo.LngLat) geo.LngLat { return geo.LngLat{Lng: p.Lng + 0.007, Lat: p.Lat} }

	trace := []geo.LngLat{at(119.408, 32.30)}
	// 未转换：0.008 < 0.01 命中
	assert.True(t, m.Match(trace, idx, nil).Found)
	// 转换后阈值收紧为0.005：0.008不命中
	assert.False(t, m.Match(trace, idx, identity).Found)

	// 转换把点移到站点附近
	out := m.Match([]geo.LngLat{at(119.393, 32.30)}, idx, shift)
	assert.True(t, out.Found)
	assert.Equal(t, 0.5, out.MatchRate)
}

func TestMatchSkipsInvalidPoints(t *testing.T) {
	idx, _ := matcher.BuildRouteIndex([]matcher.RouteRecord{
		route("1路", station("A", 119.40, 32.30), station("B", 119.40, 32.40)),
	})
	nan := geo.LngLat{Lng: 119.40, Lat: math.NaN()}
	out := matcher.New(matcher.DefaultOptions()).Match([]geo.LngLat{nan, at(119.40, 32.40)}, idx, nil)
	assert.True(t, out.Found)
	assert.Equal(t, 0.5, out.MatchRate)
}

func TestNewMatchResult(t *testing.T) {
	r := matcher.NewMatchResult("VIN1", "yangzhou", matcher.MatchOutcome{}, testDay)
	assert.False(t, r.Matched())
	assert.Nil(t, r.MatchRate)

	r = matcher.NewMatchResult("VIN1", "yangzhou", matcher.MatchOutcome{Found: true, Route: "1路", MatchRate: 1, CoverageKm: 12.5}, testDay)
	assert.True(t, r.Matched())
	assert.Equal(t, 1.0, *r.MatchRate)
	assert.Equal(t, 12.5, *r.CoverageKm)
	assert.Equal(t, testDay, r.Date)
}

func TestDedupTrace(t *testing.T) {
	trace := []geo.LngLat{at(119.401, 32.301), at(119.404, 32.302), at(119.41, 32.31), at(119.401, 32.299)}
	out := matcher.DedupTrace(trace, 2)
	assert.Equal(t, []geo.LngLat{at(119.40, 32.30), at(119.41, 32.31)}, out)
	assert.Equal(t, trace, matcher.DedupTrace(trace, 0))
}

func FuzzMatch(f *testing.F) {
	idx, _ := matcher.BuildRouteIndex([]matcher.RouteRecord{
		route("1路", station("A", 119.40, 32.30), station("B", 119.40, 32.35), station("C", 119.45, 32.35)),
		route("2路", station("B", 119.40, 32.35), station("D", 119.42, 32.38)),
	})
	m := matcher.New(matcher.DefaultOptions())
	f.Add(119.40, 32.30, 119.40, 32.35, false)
	f.Add(119.42, 32.38, 0.0, 0.0, true)
	f.Fuzz(func(t *testing.T, lng1, lat1, lng2, lat2 float64, transformed bool) {
		var transform geo.Transform
		if transformed {
			transform = geo.WGS84ToGCJ02
		}
		out := m.Match([]geo.LngLat{at(lng1, lat1), at(lng2, lat2), at(lng1, lat1)}, idx, transform)
		for _, rate := range out.Rates {
			assert.GreaterOrEqual(t, rate, 0.0)
			assert.LessOrEqual(t, rate, 1.0)
		}
		if out.Found {
			assert.Contains(t, out.Rates, out.Route)
			assert.Equal(t, out.MatchRate >= matcher.HIGH_CONFIDENCE_RATE, out.HighConfidence)
		}
	})
}
