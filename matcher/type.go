package matcher

import (
	"time"

	"git.fiblab.net/sim/routematch/geo"
)

const (
	// 未转换坐标时的站点命中阈值（单位：度）
	EPSILON = 0.01
	// 坐标转换后的站点命中阈值（单位：度）
	TRANSFORMED_EPSILON = 0.005
	// 高置信匹配率阈值
	HIGH_CONFIDENCE_RATE = 0.95
)

// StationRecord 存储中读出的站点，经纬度缺失时为nil
type StationRecord struct {
	Name      string
	Longitude *float64
	Latitude  *float64
}

// RouteRecord 存储中读出的线路及其有序途经站点
type RouteRecord struct {
	Name     string
	Stations []StationRecord
}

type Station struct {
	Name     string
	Position geo.LngLat
}

type Route struct {
	Name       string
	Stations   []Station
	CoverageKm float64 // 相邻站点球面距离之和
}

// StationEntry 站点 -> 途经线路集合
type StationEntry struct {
	Name     string
	Position geo.LngLat
	Routes   map[string]struct{}
}

// MatchOutcome 单条轨迹的匹配结果
type MatchOutcome struct {
	Found          bool               // 是否匹配到任意线路
	Route          string             // 胜出线路
	MatchRate      float64            // 胜出线路匹配率
	CoverageKm     float64            // 胜出线路路径覆盖度
	HighConfidence bool               // 胜出线路匹配率是否达到高置信阈值
	Rates          map[string]float64 // 所有命中过的线路的匹配率
}

// MatchResult 一辆车在一个匹配周期内的结果，交给持久化一次
type MatchResult struct {
	VIN        string    `json:"vin"`
	City       string    `json:"city"`
	Route      string    `json:"route_name,omitempty"` // 空表示未匹配到线路
	MatchRate  *float64  `json:"match_rate,omitempty"`
	CoverageKm *float64  `json:"coverage_km,omitempty"`
	Date       time.Time `json:"-"`
}

func (r MatchResult) Matched() bool {
	return r.Route != ""
}

// NewMatchResult 由匹配结果构造持久化记录
func NewMatchResult(vin, city string, outcome MatchOutcome, day time.Time) MatchResult {
	result := MatchResult{VIN: vin, City: city, Date: day}
	if outcome.Found {
		rate, coverage := outcome.MatchRate, outcome.CoverageKm
		result.Route = outcome.Route
		result.MatchRate = &rate
		result.CoverageKm = &coverage
	}
	return result
}
