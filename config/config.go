package config

import (
	"fmt"
	"os"
	"time"

	"git.fiblab.net/sim/routematch/matcher"
	"git.fiblab.net/sim/routematch/scheduler"
	"git.fiblab.net/sim/routematch/slope"
	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

const (
	DEFAULT_DATABASE     = "routematch"
	DEFAULT_RUN_AT       = "02:00"
	DEFAULT_WINDOW_START = "10:00"
	DEFAULT_WINDOW_END   = "22:00"
	DEFAULT_BBOX_MARGIN  = 0.01 // 高程点预筛选范围外扩（单位：度）
	DEFAULT_CACHE_SIZE   = 128
	DEFAULT_CACHE_TTL    = time.Hour
	DEFAULT_PARALLEL     = 2
	CLOCK_LAYOUT         = "15:04"
)

type Config struct {
	Mongo    MongoConfig    `yaml:"mongo"`
	SDK      SDKConfig      `yaml:"sdk"`
	OSRM     OSRMConfig     `yaml:"osrm"`
	Matching MatchingConfig `yaml:"matching"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Slope    SlopeConfig    `yaml:"slope"`
	Cities   []City         `yaml:"cities" validate:"required,min=1,unique=Name,dive"`
}

type MongoConfig struct {
	URI      string `yaml:"uri" validate:"required"`
	Database string `yaml:"database" validate:"required"`
}

type SDKConfig struct {
	LoginURL   string        `yaml:"login_url" validate:"omitempty,url"`
	HistoryURL string        `yaml:"history_url" validate:"omitempty,url"`
	Username   string        `yaml:"username"`
	Password   string        `yaml:"password"`
	Timeout    time.Duration `yaml:"timeout" validate:"gte=0"`
}

// OSRMConfig URL为空时线路折线直接使用站点序列
type OSRMConfig struct {
	URL     string        `yaml:"url" validate:"omitempty,url"`
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
}

type MatchingConfig struct {
	Epsilon            float64       `yaml:"epsilon" validate:"gte=0"`
	TransformedEpsilon float64       `yaml:"transformed_epsilon" validate:"gte=0"`
	HighConfidenceRate float64       `yaml:"high_confidence_rate" validate:"gte=0,lte=1"`
	TraceThreshold     float64       `yaml:"trace_threshold" validate:"gte=0,lte=1"`
	Workers            int           `yaml:"workers" validate:"gte=0"`
	QueueSize          int           `yaml:"queue_size" validate:"gte=0"`
	UnitTimeout        time.Duration `yaml:"unit_timeout" validate:"gte=0"`
	PersistUnmatched   bool          `yaml:"persist_unmatched"`
	DedupPrecision     int           `yaml:"dedup_precision" validate:"gte=0,lte=8"`
}

type ScheduleConfig struct {
	RunAt             string `yaml:"run_at" validate:"datetime=15:04"`
	WindowStart       string `yaml:"window_start" validate:"datetime=15:04"`
	WindowEnd         string `yaml:"window_end" validate:"datetime=15:04"`
	MaxParallelCities int    `yaml:"max_parallel_cities" validate:"gte=0"`
}

type SlopeConfig struct {
	StepKm         float64       `yaml:"step_km" validate:"gte=0"`
	WindowM        float64       `yaml:"window_m" validate:"gte=0"`
	MinPoints      int           `yaml:"min_points" validate:"gte=0"`
	GradeThreshold float64       `yaml:"grade_threshold" validate:"gte=0"`
	BBoxMargin     float64       `yaml:"bbox_margin" validate:"gte=0"`
	CacheSize      int           `yaml:"cache_size" validate:"gte=0"`
	CacheTTL       time.Duration `yaml:"cache_ttl" validate:"gte=0"`
}

type City struct {
	Name string `yaml:"name" validate:"required"`
	// 线路站点坐标系，轨迹为WGS84，站点为GCJ-02时匹配前转换轨迹
	Datum string `yaml:"datum" validate:"omitempty,oneof=wgs84 gcj02"`
	// 是否已录入高程库
	Elevation bool `yaml:"elevation"`
	// 车辆清单，为空时读取vehicles集合
	VINs []string `yaml:"vins"`
	// 集合覆盖 kind -> {db}.{col}
	Collections map[string]string `yaml:"collections"`
}

// Load 读取并校验配置文件，零值字段使用默认值
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if end, start := cfg.Schedule.windowEnd(), cfg.Schedule.windowStart(); end <= start {
		return nil, fmt.Errorf("invalid config: window_end %s is not after window_start %s",
			cfg.Schedule.WindowEnd, cfg.Schedule.WindowStart)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Mongo.Database == "" {
		c.Mongo.Database = DEFAULT_DATABASE
	}
	m := matcher.DefaultOptions()
	if c.Matching.Epsilon == 0 {
		c.Matching.Epsilon = m.Epsilon
	}
	if c.Matching.TransformedEpsilon == 0 {
		c.Matching.TransformedEpsilon = m.TransformedEpsilon
	}
	if c.Matching.HighConfidenceRate == 0 {
		c.Matching.HighConfidenceRate = m.HighConfidenceRate
	}
	if c.Matching.TraceThreshold == 0 {
		c.Matching.TraceThreshold = scheduler.DEFAULT_TRACE_THRESHOLD
	}
	if c.Matching.Workers == 0 {
		c.Matching.Workers = scheduler.DEFAULT_WORKERS
	}
	if c.Schedule.RunAt == "" {
		c.Schedule.RunAt = DEFAULT_RUN_AT
	}
	if c.Schedule.WindowStart == "" {
		c.Schedule.WindowStart = DEFAULT_WINDOW_START
	}
	if c.Schedule.WindowEnd == "" {
		c.Schedule.WindowEnd = DEFAULT_WINDOW_END
	}
	if c.Schedule.MaxParallelCities == 0 {
		c.Schedule.MaxParallelCities = DEFAULT_PARALLEL
	}
	s := slope.DefaultOptions()
	if c.Slope.StepKm == 0 {
		c.Slope.StepKm = s.StepKm
	}
	if c.Slope.WindowM == 0 {
		c.Slope.WindowM = s.WindowM
	}
	if c.Slope.MinPoints == 0 {
		c.Slope.MinPoints = s.MinPoints
	}
	if c.Slope.GradeThreshold == 0 {
		c.Slope.GradeThreshold = s.GradeThreshold
	}
	if c.Slope.BBoxMargin == 0 {
		c.Slope.BBoxMargin = DEFAULT_BBOX_MARGIN
	}
	if c.Slope.CacheSize == 0 {
		c.Slope.CacheSize = DEFAULT_CACHE_SIZE
	}
	if c.Slope.CacheTTL == 0 {
		c.Slope.CacheTTL = DEFAULT_CACHE_TTL
	}
}

// FindCity 按名称查找城市
func (c *Config) FindCity(name string) (City, bool) {
	return lo.Find(c.Cities, func(city City) bool { return city.Name == name })
}

func (c *Config) MatcherOptions() matcher.Options {
	return matcher.Options{
		Epsilon:            c.Matching.Epsilon,
		TransformedEpsilon: c.Matching.TransformedEpsilon,
		HighConfidenceRate: c.Matching.HighConfidenceRate,
	}
}

func (c *Config) SchedulerConfig() scheduler.Config {
	return scheduler.Config{
		Workers:          c.Matching.Workers,
		QueueSize:        c.Matching.QueueSize,
		UnitTimeout:      c.Matching.UnitTimeout,
		TraceThreshold:   c.Matching.TraceThreshold,
		PersistUnmatched: c.Matching.PersistUnmatched,
		DedupPrecision:   c.Matching.DedupPrecision,
	}
}

func (c *Config) SlopeOptions() slope.Options {
	return slope.Options{
		StepKm:         c.Slope.StepKm,
		WindowM:        c.Slope.WindowM,
		MinPoints:      c.Slope.MinPoints,
		GradeThreshold: c.Slope.GradeThreshold,
	}
}

// 一天内的时刻 -> 距0点的时长，格式已由校验保证
func clock(s string) time.Duration {
	t, _ := time.Parse(CLOCK_LAYOUT, s)
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute
}

func (s ScheduleConfig) windowStart() time.Duration { return clock(s.WindowStart) }
func (s ScheduleConfig) windowEnd() time.Duration   { return clock(s.WindowEnd) }

// Window 业务日期day对应的数据采集时间段
func (s ScheduleConfig) Window(day time.Time) (time.Time, time.Time) {
	d := Midnight(day)
	return d.Add(s.windowStart()), d.Add(s.windowEnd())
}

// NextRun now之后的下一次运行时刻
func (s ScheduleConfig) NextRun(now time.Time) time.Time {
	next := Midnight(now).Add(clock(s.RunAt))
	if !next.After(now) {
		next = Midnight(now.AddDate(0, 0, 1)).Add(clock(s.RunAt))
	}
	return next
}

// Midnight 当天0点
func Midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
