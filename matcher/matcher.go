package matcher

import (
	"git.fiblab.net/sim/routematch/geo"
)

type Options struct {
	Epsilon            float64 // 未转换坐标的命中阈值（度）
	TransformedEpsilon float64 // 转换后坐标的命中阈值（度）
	HighConfidenceRate float64 // 高置信匹配率阈值
}

func DefaultOptions() Options {
	return Options{
		Epsilon:            EPSILON,
		TransformedEpsilon: TRANSFORMED_EPSILON,
		HighConfidenceRate: HIGH_CONFIDENCE_RATE,
	}
}

// Matcher 无状态，可被多个worker并发使用
type Matcher struct {
	opts Options
}

func New(opts Options) *Matcher {
	def := DefaultOptions()
	if opts.Epsilon <= 0 {
		opts.Epsilon = def.Epsilon
	}
	if opts.TransformedEpsilon <= 0 {
		opts.TransformedEpsilon = def.TransformedEpsilon
	}
	if opts.HighConfidenceRate <= 0 {
		opts.HighConfidenceRate = def.HighConfidenceRate
	}
	return &Matcher{opts: opts}
}

func (m *Matcher) Options() Options {
	return m.opts
}

// Match 计算轨迹对各线路的匹配率并选出最佳线路
// 空轨迹或没有命中任何站点时返回Found=false
func (m *Matcher) Match(trace []geo.LngLat, index *RouteIndex, transform geo.Transform) MatchOutcome {
	if len(trace) == 0 || index == nil || index.RouteCount() == 0 {
		return MatchOutcome{}
	}
	eps := m.opts.Epsilon
	if transform != nil {
		eps = m.opts.TransformedEpsilon
	}
	// 线路 -> 已匹配站点集合，同一站点对同一线路只计一次
	matched := make(map[string]map[string]struct{})
	for _, p := range trace {
		if !p.IsValid() {
			continue
		}
		if transform != nil {
			p = transform(p)
		}
		index.Nearby(p, eps, func(station *StationEntry) {
			for route := range station.Routes {
				stations, ok := matched[route]
				if !ok {
					stations = make(map[string]struct{})
					matched[route] = stations
				}
				stations[station.Name] = struct{}{}
			}
		})
	}
	if len(matched) == 0 {
		return MatchOutcome{}
	}
	rates := make(map[string]float64, len(matched))
	for route, stations := range matched {
		total, _ := index.RouteStationCount(route)
		rates[route] = float64(len(stations)) / float64(total)
	}
	winner := selectWinner(rates, index, m.opts.HighConfidenceRate)
	coverage, _ := index.Coverage(winner)
	return MatchOutcome{
		Found:          true,
		Route:          winner,
		MatchRate:      rates[winner],
		CoverageKm:     coverage,
		HighConfidence: rates[winner] >= m.opts.HighConfidenceRate,
		Rates:          rates,
	}
}

// 候选集：匹配率达到高置信阈值的线路；若没有，则取匹配率最高的线路
// 候选集中路径覆盖度最大者胜出，覆盖度相同时取名称字典序最小者
func selectWinner(rates map[string]float64, index *RouteIndex, threshold float64) string {
	best := 0.0
	for _, rate := range rates {
		if rate > best {
			best = rate
		}
	}
	candidates := make([]string, 0)
	for route, rate := range rates {
		if rate >= threshold {
			candidates = append(candidates, route)
		}
	}
	if len(candidates) == 0 {
		for route, rate := range rates {
			if rate == best {
				candidates = append(candidates, route)
			}
		}
	}
	winner := ""
	winnerCoverage := -1.0
	for _, route := range candidates {
		coverage, _ := index.Coverage(route)
		if coverage > winnerCoverage || (coverage == winnerCoverage && route < winner) {
			winner, winnerCoverage = route, coverage
		}
	}
	return winner
}
