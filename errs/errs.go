// Package errs 定义匹配与坡度计算的错误分类，调用方使用errors.Is判断
package errs

import "errors"

var (
	// 线路或站点字段缺失、格式错误：跳过该线路，城市内其余线路继续
	ErrData = errors.New("data error")
	// 高程点云为空，或没有匹配到任何线路
	ErrNotFound = errors.New("not found")
	// 坡度计算的几何点少于2个
	ErrInsufficientData = errors.New("insufficient data")
	// 轨迹获取或结果写入失败：记录日志，丢弃该车辆，批次继续
	ErrUpstream = errors.New("upstream failure")
)
