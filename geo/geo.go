package geo

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

const (
	// 地球平均半径（单位：千米）
	EARTH_RADIUS_KM = 6371.0
)

// LngLat 经纬度坐标（单位：度）
type LngLat struct {
	Lng float64 `json:"lng" bson:"lng"`
	Lat float64 `json:"lat" bson:"lat"`
}

func (p LngLat) IsValid() bool {
	return !math.IsNaN(p.Lng) && !math.IsNaN(p.Lat) &&
		!math.IsInf(p.Lng, 0) && !math.IsInf(p.Lat, 0)
}

// 角度转弧度
func Rad(d float64) float64 {
	return d * math.Pi / 180.0
}

// 弧度转角度
func Deg(r float64) float64 {
	return r * 180.0 / math.Pi
}

// Haversine 返回两点间的球面距离（单位：千米）
func Haversine(a, b LngLat) float64 {
	lng1, lat1, lng2, lat2 := Rad(a.Lng), Rad(a.Lat), Rad(b.Lng), Rad(b.Lat)
	dLng := lng2 - lng1
	dLat := lat2 - lat1
	h := math.Pow(math.Sin(dLat/2), 2) + math.Cos(lat1)*math.Cos(lat2)*math.Pow(math.Sin(dLng/2), 2)
	return 2 * math.Asin(math.Sqrt(h)) * EARTH_RADIUS_KM
}

// PolylineLength 折线各段球面距离之和（单位：千米），相同坐标的相邻点贡献0
func PolylineLength(points []LngLat) float64 {
	total := 0.0
	for i := 1; i < len(points); i++ {
		total += Haversine(points[i-1], points[i])
	}
	return total
}

// Lerp 在[a, b)之间等分出n个值，包含a不包含b
func Lerp(a, b float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	values := make([]float64, n)
	d := (b - a) / float64(n)
	for i := 0; i < n; i++ {
		values[i] = a + d*float64(i)
	}
	return values
}

// LeastSquaresSlope 最小二乘拟合y=a+bx，返回b = cov(x,y)/var(x)
// 样本不足或x无变化时返回0
func LeastSquaresSlope(x, y []float64) float64 {
	if len(x) != len(y) || len(x) < 2 {
		return 0
	}
	variance := stat.Variance(x, nil)
	if variance == 0 || math.IsNaN(variance) {
		return 0
	}
	return stat.Covariance(x, y, nil) / variance
}
