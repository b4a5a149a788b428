package main

import (
	"context"
	"fmt"

	"git.fiblab.net/sim/routematch/errs"
	"git.fiblab.net/sim/routematch/matcher"
	"github.com/puzpuzpuz/xsync/v3"
)

type RouteSource interface {
	ListRoutes(ctx context.Context, city string) ([]matcher.RouteRecord, error)
}

// IndexRegistry 城市 -> RouteIndex快照
// 快照构建后只读，每个匹配周期整体替换，查询方持有的旧快照不受影响
type IndexRegistry struct {
	routes  RouteSource
	indexes *xsync.MapOf[string, *matcher.RouteIndex]
}

func NewIndexRegistry(routes RouteSource) *IndexRegistry {
	return &IndexRegistry{
		routes:  routes,
		indexes: xsync.NewMapOf[string, *matcher.RouteIndex](),
	}
}

// Get 返回城市当前的快照，不存在时构建
func (r *IndexRegistry) Get(ctx context.Context, city string) (*matcher.RouteIndex, error) {
	if idx, ok := r.indexes.Load(city); ok {
		return idx, nil
	}
	return r.Rebuild(ctx, city)
}

// Rebuild 从存储重新构建城市的快照并替换
func (r *IndexRegistry) Rebuild(ctx context.Context, city string) (*matcher.RouteIndex, error) {
	records, err := r.routes.ListRoutes(ctx, city)
	if err != nil {
		return nil, err
	}
	idx, skipped := matcher.BuildRouteIndex(records)
	if len(skipped) > 0 {
		log.WithField("city", city).Warnf("%d routes skipped while building index", len(skipped))
	}
	if idx.RouteCount() == 0 {
		return nil, fmt.Errorf("%w: no usable route for city %s", errs.ErrNotFound, city)
	}
	log.WithField("city", city).Infof("route index built: %d routes, %d stations", idx.RouteCount(), idx.StationCount())
	r.indexes.Store(city, idx)
	return idx, nil
}

// Put 直接设置快照
func (r *IndexRegistry) Put(city string, idx *matcher.RouteIndex) {
	r.indexes.Store(city, idx)
}
