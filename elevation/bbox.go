package elevation

import (
	"math"

	"git.fiblab.net/sim/routematch/geo"
)

// BBox 经纬度矩形范围，边界包含在内
type BBox struct {
	MinLng float64 `json:"min_lng"`
	MinLat float64 `json:"min_lat"`
	MaxLng float64 `json:"max_lng"`
	MaxLat float64 `json:"max_lat"`
}

// BBoxOf 返回包含所有点的最小矩形
func BBoxOf(points []geo.LngLat) BBox {
	b := BBox{
		MinLng: math.Inf(1), MinLat: math.Inf(1),
		MaxLng: math.Inf(-1), MaxLat: math.Inf(-1),
	}
	for _, p := range points {
		b.MinLng = math.Min(b.MinLng, p.Lng)
		b.MinLat = math.Min(b.MinLat, p.Lat)
		b.MaxLng = math.Max(b.MaxLng, p.Lng)
		b.MaxLat = math.Max(b.MaxLat, p.Lat)
	}
	return b
}

// Expand 四周各外扩margin度
func (b BBox) Expand(margin float64) BBox {
	return BBox{
		MinLng: b.MinLng - margin, MinLat: b.MinLat - margin,
		MaxLng: b.MaxLng + margin, MaxLat: b.MaxLat + margin,
	}
}

func (b BBox) Contains(lng, lat float64) bool {
	return lng >= b.MinLng && lng <= b.MaxLng && lat >= b.MinLat && lat <= b.MaxLat
}

func (b BBox) IsEmpty() bool {
	return !(b.MinLng <= b.MaxLng && b.MinLat <= b.MaxLat)
}
