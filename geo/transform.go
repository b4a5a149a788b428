package geo

import (
	"fmt"
	"math"
	"strings"
)

// 坐标系
const (
	DATUM_WGS84 = "wgs84"
	DATUM_GCJ02 = "gcj02"
)

// Krasovsky 1940椭球参数
const (
	krasovskyA  = 6378245.0
	krasovskyEE = 0.00669342162296594323
)

// Transform 将原始GPS坐标转换到站点数据所用的坐标系
type Transform func(LngLat) LngLat

// TransformFor 根据城市站点数据所用坐标系返回对应的转换，WGS84无需转换返回nil
func TransformFor(datum string) (Transform, error) {
	switch strings.ToLower(strings.TrimSpace(datum)) {
	case "", DATUM_WGS84:
		return nil, nil
	case DATUM_GCJ02:
		return WGS84ToGCJ02, nil
	default:
		return nil, fmt.Errorf("unknown datum: %s", datum)
	}
}

// 国内范围之外不做偏移
func outOfChina(p LngLat) bool {
	return p.Lng < 72.004 || p.Lng > 137.8347 || p.Lat < 0.8293 || p.Lat > 55.8271
}

// WGS84ToGCJ02 WGS-84坐标加偏为GCJ-02坐标
func WGS84ToGCJ02(p LngLat) LngLat {
	if outOfChina(p) {
		return p
	}
	dLat := transformLat(p.Lng-105.0, p.Lat-35.0)
	dLng := transformLng(p.Lng-105.0, p.Lat-35.0)
	radLat := Rad(p.Lat)
	magic := math.Sin(radLat)
	magic = 1 - krasovskyEE*magic*magic
	sqrtMagic := math.Sqrt(magic)
	dLat = (dLat * 180.0) / ((krasovskyA * (1 - krasovskyEE)) / (magic * sqrtMagic) * math.Pi)
	dLng = (dLng * 180.0) / (krasovskyA / sqrtMagic * math.Cos(radLat) * math.Pi)
	return LngLat{Lng: p.Lng + dLng, Lat: p.Lat + dLat}
}

func transformLat(x, y float64) float64 {
	ret := -100.0 + 2.0*x + 3.0*y + 0.2*y*y + 0.1*x*y + 0.2*math.Sqrt(math.Abs(x))
	ret += (20.0*math.Sin(6.0*x*math.Pi) + 20.0*math.Sin(2.0*x*math.Pi)) * 2.0 / 3.0
	ret += (20.0*math.Sin(y*math.Pi) + 40.0*math.Sin(y/3.0*math.Pi)) * 2.0 / 3.0
	ret += (160.0*math.Sin(y/12.0*math.Pi) + 320*math.Sin(y*math.Pi/30.0)) * 2.0 / 3.0
	return ret
}

func transformLng(x, y float64) float64 {
	ret := 300.0 + x + 2.0*y + 0.1*x*x + 0.1*x*y + 0.1*math.Sqrt(math.Abs(x))
	ret += (20.0*math.Sin(6.0*x*math.Pi) + 20.0*math.Sin(2.0*x*math.Pi)) * 2.0 / 3.0
	ret += (20.0*math.Sin(x*math.Pi) + 40.0*math.Sin(x/3.0*math.Pi)) * 2.0 / 3.0
	ret += (150.0*math.Sin(x/12.0*math.Pi) + 300.0*math.Sin(x/30.0*math.Pi)) * 2.0 / 3.0
	return ret
}
