package geo_test

import (
	"math"
	"testing"

	"git.fiblab.net/sim/routematch/geo"
	"github.com/stretchr/testify/assert"
)

func TestHaversine(t *testing.T) {
	a := geo.LngLat{Lng: 119.4, Lat: 32.39}
	assert.Equal(t, 0.0, geo.Haversine(a, a))

	// 经线方向1度约111.19km
	b := geo.LngLat{Lng: 119.4, Lat: 33.39}
	assert.InDelta(t, 111.19, geo.Haversine(a, b), 0.01)
	// 对称
	assert.Equal(t, geo.Haversine(a, b), geo.Haversine(b, a))
}

func TestPolylineLength(t *testing.T) {
	points := []geo.LngLat{
		{Lng: 119.40, Lat: 32.39},
		{Lng: 119.41, Lat: 32.39},
		{Lng: 119.41, Lat: 32.39}, // 重复点贡献0
		{Lng: 119.41, Lat: 32.40},
	}
	expected := geo.Haversine(points[0], points[1]) + geo.Haversine(points[2], points[3])
	assert.InDelta(t, expected, geo.PolylineLength(points), 1e-12)
	assert.Equal(t, 0.0, geo.PolylineLength(points[:1]))
	assert.Equal(t, 0.0, geo.PolylineLength(nil))
}

func TestRadDeg(t *testing.T) {
	assert.InDelta(t, math.Pi, geo.Rad(180), 1e-15)
	assert.InDelta(t, 90.0, geo.Deg(math.Pi/2), 1e-12)
}

func TestLerp(t *testing.T) {
	assert.Equal(t, []float64{0, 2.5, 5, 7.5}, geo.Lerp(0, 10, 4))
	assert.Nil(t, geo.Lerp(0, 10, 0))
}

func TestLeastSquaresSlope(t *testing.T) {
	x := []float64{0, 100, 200, 300}
	y := []float64{10, 15, 20, 25}
	assert.InDelta(t, 0.05, geo.LeastSquaresSlope(x, y), 1e-12)

	// x无变化
	assert.Equal(t, 0.0, geo.LeastSquaresSlope([]float64{1, 1, 1}, []float64{1, 2, 3}))
	// 样本不足
	assert.Equal(t, 0.0, geo.LeastSquaresSlope([]float64{1}, []float64{1}))
	// 长度不一致
	assert.Equal(t, 0.0, geo.LeastSquaresSlope([]float64{1, 2}, []float64{1}))
}

func TestTransformFor(t *testing.T) {
	tr, err := geo.TransformFor("WGS84")
	assert.NoError(t, err)
	assert.Nil(t, tr)

	tr, err = geo.TransformFor("gcj02")
	assert.NoError(t, err)
	assert.NotNil(t, tr)

	_, err = geo.TransformFor("bd09")
	assert.Error(t, err)
}

func TestWGS84ToGCJ02(t *testing.T) {
	// 国内坐标偏移量在几百米以内
	p := geo.LngLat{Lng: 119.4129, Lat: 32.3942}
	q := geo.WGS84ToGCJ02(p)
	assert.NotEqual(t, p, q)
	assert.Less(t, geo.Haversine(p, q), 1.0)
	assert.Greater(t, geo.Haversine(p, q), 0.1)

	// 国外坐标不偏移
	outside := geo.LngLat{Lng: 2.35, Lat: 48.85}
	assert.Equal(t, outside, geo.WGS84ToGCJ02(outside))
}
