package slope

import "git.fiblab.net/sim/routematch/geo"

const (
	// 重采样间距（单位：千米）
	STEP_KM = 0.05
	// 每累计超过该距离拟合一次坡度（单位：米）
	WINDOW_M = 100
	// 单次拟合最少样本数
	MIN_POINTS = 4
	// 输出坡度事件的阈值
	GRADE_THRESHOLD = 0.03
)

// ElevationLookup 按位置查询高程
type ElevationLookup interface {
	Nearest(geo.LngLat) float64
}

// Sample 带高程的重采样点
type Sample struct {
	Position  geo.LngLat
	Elevation float64
}

// GradeSample 一个拟合窗口的局部坡度
type GradeSample struct {
	Grade        float64
	CumulativeKm float64    // 窗口末端距起点的累计距离
	Anchor       geo.LngLat // 窗口末端位置
}

// SlopeSegment 一段持续爬坡或下坡
type SlopeSegment struct {
	Grade     float64    `json:"grade"`      // 段内绝对值最大的坡度（带符号）
	DistanceM float64    `json:"distance_m"` // 持续距离（单位：米）
	Anchor    geo.LngLat `json:"anchor_position"`
}

type Options struct {
	StepKm         float64
	WindowM        float64
	MinPoints      int
	GradeThreshold float64
}

func DefaultOptions() Options {
	return Options{
		StepKm:         STEP_KM,
		WindowM:        WINDOW_M,
		MinPoints:      MIN_POINTS,
		GradeThreshold: GRADE_THRESHOLD,
	}
}
