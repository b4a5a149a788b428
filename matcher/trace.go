package matcher

import (
	"math"

	"git.fiblab.net/sim/routematch/geo"
	"github.com/samber/lo"
)

// CleanTrace 丢弃非数值坐标点
func CleanTrace(points []geo.LngLat) []geo.LngLat {
	return lo.Filter(points, func(p geo.LngLat, _ int) bool {
		return p.IsValid()
	})
}

// DedupTrace 将坐标四舍五入到precision位小数后去重，保持原有顺序
// precision<=0时不做处理
func DedupTrace(points []geo.LngLat, precision int) []geo.LngLat {
	if precision <= 0 {
		return points
	}
	scale := math.Pow10(precision)
	round := func(v float64) float64 {
		return math.Round(v*scale) / scale
	}
	seen := make(map[geo.LngLat]struct{}, len(points))
	out := make([]geo.LngLat, 0, len(points))
	for _, p := range points {
		q := geo.LngLat{Lng: round(p.Lng), Lat: round(p.Lat)}
		if _, ok := seen[q]; ok {
			continue
		}
		seen[q] = struct{}{}
		out = append(out, q)
	}
	return out
}
