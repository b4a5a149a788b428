package slope

import (
	"fmt"
	"math"

	"git.fiblab.net/general/common/v2/geometry"
	"git.fiblab.net/sim/routematch/errs"
	"git.fiblab.net/sim/routematch/geo"
	"github.com/samber/lo"
)

type Profiler struct {
	opts Options
}

func NewProfiler(opts Options) *Profiler {
	def := DefaultOptions()
	if opts.StepKm <= 0 {
		opts.StepKm = def.StepKm
	}
	if opts.WindowM <= 0 {
		opts.WindowM = def.WindowM
	}
	if opts.MinPoints <= 0 {
		opts.MinPoints = def.MinPoints
	}
	if opts.GradeThreshold <= 0 {
		opts.GradeThreshold = def.GradeThreshold
	}
	return &Profiler{opts: opts}
}

func (p *Profiler) Options() Options {
	return p.opts
}

// ProcessRoute 重采样 -> 高程匹配 -> 分段拟合 -> 提取坡度事件
func (p *Profiler) ProcessRoute(polyline []geo.LngLat, lookup ElevationLookup) ([]SlopeSegment, error) {
	if len(polyline) < 2 {
		return nil, fmt.Errorf("%w: route polyline has %d points, at least 2 required",
			errs.ErrInsufficientData, len(polyline))
	}
	points := Resample(polyline, p.opts.StepKm)
	samples := AttachElevation(points, lookup)
	grades := FitSegments(samples, p.opts.WindowM, p.opts.MinPoints)
	log.Debugf("resampled %d -> %d points, %d grade samples", len(polyline), len(points), len(grades))
	return ExtractGradeEvents(grades, p.opts.GradeThreshold), nil
}

// Resample 按stepKm对折线重采样
// 长于stepKm的线段在经纬度平面上线性插值floor(d/stepKm)个点（含线段起点），
// 短于stepKm的非零线段保留起点，零长度线段跳过，最后追加终点
func Resample(polyline []geo.LngLat, stepKm float64) []geo.LngLat {
	if len(polyline) < 2 {
		return append([]geo.LngLat(nil), polyline...)
	}
	out := make([]geo.LngLat, 0, len(polyline))
	for i := 0; i < len(polyline)-1; i++ {
		a, b := polyline[i], polyline[i+1]
		d := geo.Haversine(a, b)
		if d > stepKm {
			n := int(d / stepKm)
			pa := geometry.Point{X: a.Lng, Y: a.Lat}
			pb := geometry.Point{X: b.Lng, Y: b.Lat}
			for k := 0; k < n; k++ {
				q := geometry.Blend(pa, pb, float64(k)/float64(n))
				out = append(out, geo.LngLat{Lng: q.X, Lat: q.Y})
			}
		} else if d != 0 {
			out = append(out, a)
		}
	}
	return append(out, polyline[len(polyline)-1])
}

// AttachElevation 每个点查询一次最近高程
func AttachElevation(points []geo.LngLat, lookup ElevationLookup) []Sample {
	return lo.Map(points, func(p geo.LngLat, _ int) Sample {
		return Sample{Position: p, Elevation: lookup.Nearest(p)}
	})
}

// FitSegments 按累计距离分窗，累计距离超过windowM且样本数不少于minPoints时，
// 对窗口内的（累计距离，高程）做最小二乘拟合得到一个坡度，然后清空窗口
func FitSegments(samples []Sample, windowM float64, minPoints int) []GradeSample {
	grades := make([]GradeSample, 0)
	cumKm, windowSum := 0.0, 0.0
	x, y := make([]float64, 0), make([]float64, 0)
	for i := 0; i < len(samples)-1; i++ {
		next := samples[i+1]
		d := geo.Haversine(samples[i].Position, next.Position)
		cumKm += d
		windowSum += d * 1000
		x = append(x, cumKm*1000)
		y = append(y, next.Elevation)
		if windowSum > windowM && len(x) >= minPoints {
			grades = append(grades, GradeSample{
				Grade:        geo.LeastSquaresSlope(x, y),
				CumulativeKm: cumKm,
				Anchor:       next.Position,
			})
			x, y = x[:0], y[:0]
			windowSum = 0
		}
	}
	return grades
}

// ExtractGradeEvents 坡度符号翻转时结束当前段，段内最大绝对坡度达到阈值则输出
// 最后一段没有翻转，不输出
func ExtractGradeEvents(grades []GradeSample, threshold float64) []SlopeSegment {
	segments := make([]SlopeSegment, 0)
	runStartKm := 0.0
	runMax := -1 // 当前段内绝对坡度最大的样本下标
	for i, g := range grades {
		if i > 0 && g.Grade*grades[i-1].Grade < 0 {
			if runMax >= 0 && math.Abs(grades[runMax].Grade) >= threshold {
				segments = append(segments, SlopeSegment{
					Grade:     grades[runMax].Grade,
					DistanceM: (grades[i-1].CumulativeKm - runStartKm) * 1000,
					Anchor:    grades[runMax].Anchor,
				})
			}
			runStartKm = grades[i-1].CumulativeKm
			runMax = -1
		}
		if runMax < 0 || math.Abs(g.Grade) > math.Abs(grades[runMax].Grade) {
			runMax = i
		}
	}
	return segments
}
