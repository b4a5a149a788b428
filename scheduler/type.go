package scheduler

import (
	"context"
	"time"

	"git.fiblab.net/sim/routematch/geo"
	"git.fiblab.net/sim/routematch/matcher"
)

const (
	// 默认worker数量
	DEFAULT_WORKERS = 5
	// 轨迹原样保存的匹配率阈值
	DEFAULT_TRACE_THRESHOLD = 0.90
)

// TraceSource 获取车辆历史轨迹，非数值的点应在上游丢弃
type TraceSource interface {
	FetchHistory(ctx context.Context, vin string, start, end time.Time) ([]geo.LngLat, error)
}

// ResultSink 保存匹配结果，同一(vin, date)重复写入应幂等
type ResultSink interface {
	Persist(ctx context.Context, result matcher.MatchResult) error
}

// TraceSink 保存匹配率较高的车辆轨迹
type TraceSink interface {
	PersistTrace(ctx context.Context, city, vin, route string, trace []geo.LngLat, day time.Time) error
}

type Config struct {
	Workers          int           // worker数量
	QueueSize        int           // 任务队列容量，入队方在队列满时阻塞
	UnitTimeout      time.Duration // 单辆车获取+匹配的超时，0表示不限制
	TraceThreshold   float64       // 匹配率达到该值时保存轨迹
	PersistUnmatched bool          // 是否保存未匹配到线路的车辆
	DedupPrecision   int           // 匹配前坐标取整去重的小数位数，<=0不去重
}

// Batch 一个城市一个匹配周期的任务
type Batch struct {
	City      string
	VINs      []string
	Start     time.Time
	End       time.Time
	SaveDay   time.Time // 所有结果共用的业务日期
	Index     *matcher.RouteIndex
	Transform geo.Transform
}

// Report 批次统计
type Report struct {
	RunID         string `json:"run_id"`
	City          string `json:"city"`
	Submitted     int    `json:"submitted"` // 入队车辆数
	Skipped       int    `json:"skipped"`   // 取消后未处理的车辆数
	Failed        int    `json:"failed"`    // 获取轨迹失败或匹配异常
	Unmatched     int    `json:"unmatched"`
	Matched       int    `json:"matched"`
	Persisted     int    `json:"persisted"`
	PersistFailed int    `json:"persist_failed"`
}

// State 批次状态
type State int32

const (
	IDLE State = iota
	DISPATCHING
	DRAINING
)

func (s State) String() string {
	switch s {
	case IDLE:
		return "idle"
	case DISPATCHING:
		return "dispatching"
	case DRAINING:
		return "draining"
	default:
		return "unknown"
	}
}
