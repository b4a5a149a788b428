package elevation

import (
	"fmt"

	"git.fiblab.net/sim/routematch/errs"
	"git.fiblab.net/sim/routematch/geo"
	"gonum.org/v1/gonum/spatial/kdtree"
)

// Point 高程点
type Point struct {
	Lng       float64 `json:"lng" bson:"lng"`
	Lat       float64 `json:"lat" bson:"lat"`
	Elevation float64 `json:"elevation" bson:"elevation"`
}

// Lookup 高程点云上的最近邻查询，构建后只读，可并发使用
type Lookup struct {
	tree *kdtree.Tree
	size int
}

// NewLookup 由点云构建k-d树，bbox非nil时只保留范围内的点
// 过滤后点云为空时返回ErrNotFound
func NewLookup(points []Point, bbox *BBox) (*Lookup, error) {
	kept := make(elevationPoints, 0, len(points))
	for _, p := range points {
		if bbox != nil && !bbox.Contains(p.Lng, p.Lat) {
			continue
		}
		kept = append(kept, p)
	}
	if len(kept) == 0 {
		return nil, fmt.Errorf("%w: empty elevation point cloud", errs.ErrNotFound)
	}
	// kdtree.New会重排切片，kept已是副本
	return &Lookup{tree: kdtree.New(kept, false), size: len(kept)}, nil
}

func (l *Lookup) Len() int {
	return l.size
}

// Nearest 返回经纬度平面上欧氏距离最近的点的高程
func (l *Lookup) Nearest(p geo.LngLat) float64 {
	nearest, _ := l.tree.Nearest(Point{Lng: p.Lng, Lat: p.Lat})
	return nearest.(Point).Elevation
}

// kdtree接口实现

func (p Point) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(Point)
	switch d {
	case 0:
		return p.Lng - q.Lng
	case 1:
		return p.Lat - q.Lat
	default:
		panic("illegal dimension")
	}
}

func (p Point) Dims() int {
	return 2
}

// Distance 平方欧氏距离
func (p Point) Distance(c kdtree.Comparable) float64 {
	q := c.(Point)
	dLng, dLat := p.Lng-q.Lng, p.Lat-q.Lat
	return dLng*dLng + dLat*dLat
}

type elevationPoints []Point

func (p elevationPoints) Index(i int) kdtree.Comparable {
	return p[i]
}

func (p elevationPoints) Len() int {
	return len(p)
}

func (p elevationPoints) Pivot(d kdtree.Dim) int {
	return plane{elevationPoints: p, Dim: d}.Pivot()
}

func (p elevationPoints) Slice(start, end int) kdtree.Interface {
	return p[start:end]
}

// plane 按某一维排序的视图
type plane struct {
	kdtree.Dim
	elevationPoints
}

func (p plane) Less(i, j int) bool {
	return p.elevationPoints[i].Compare(p.elevationPoints[j], p.Dim) < 0
}

func (p plane) Pivot() int {
	return kdtree.Partition(p, kdtree.MedianOfMedians(p))
}

func (p plane) Slice(start, end int) kdtree.SortSlicer {
	p.elevationPoints = p.elevationPoints[start:end]
	return p
}

func (p plane) Swap(i, j int) {
	p.elevationPoints[i], p.elevationPoints[j] = p.elevationPoints[j], p.elevationPoints[i]
}
