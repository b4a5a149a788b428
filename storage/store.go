package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"git.fiblab.net/general/common/v2/mongoutil"
	"git.fiblab.net/sim/routematch/elevation"
	"git.fiblab.net/sim/routematch/errs"
	"git.fiblab.net/sim/routematch/geo"
	"git.fiblab.net/sim/routematch/matcher"
	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Store 基于mongo的线路、高程、车辆、匹配结果与轨迹存储
// 实现scheduler.ResultSink与scheduler.TraceSink
type Store struct {
	client   *mongo.Client
	resolver *Resolver
	loc      *time.Location
}

func New(mongoURI string, resolver *Resolver) *Store {
	return NewWithClient(mongoutil.NewClient(mongoURI), resolver)
}

func NewWithClient(client *mongo.Client, resolver *Resolver) *Store {
	return &Store{client: client, resolver: resolver, loc: time.Local}
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *Store) coll(city, kind string) (*mongo.Collection, error) {
	path, err := s.resolver.Resolve(city, kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrData, err)
	}
	return mongoutil.GetMongoColl(s.client, path), nil
}

// ListRoutes 读取城市全部线路，无法解析的文档跳过并记录
func (s *Store) ListRoutes(ctx context.Context, city string) ([]matcher.RouteRecord, error) {
	coll, err := s.coll(city, KIND_ROUTES)
	if err != nil {
		return nil, err
	}
	cursor, err := coll.Find(ctx, bson.M{}, options.Find().SetProjection(bson.M{"route_name": 1, "via_stations": 1}))
	if err != nil {
		return nil, fmt.Errorf("%w: list routes of %s: %v", errs.ErrUpstream, city, err)
	}
	defer cursor.Close(ctx)
	records := make([]matcher.RouteRecord, 0)
	for cursor.Next(ctx) {
		var raw bson.M
		if err := cursor.Decode(&raw); err != nil {
			log.WithField("city", city).Warnf("%v: decode route: %v", errs.ErrData, err)
			continue
		}
		record, err := decodeRoute(raw)
		if err != nil {
			log.WithField("city", city).Warn(err)
			continue
		}
		records = append(records, record)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("%w: list routes of %s: %v", errs.ErrUpstream, city, err)
	}
	return records, nil
}

// FindRoute 按线路名读取单条线路
func (s *Store) FindRoute(ctx context.Context, city, name string) (matcher.RouteRecord, error) {
	coll, err := s.coll(city, KIND_ROUTES)
	if err != nil {
		return matcher.RouteRecord{}, err
	}
	var raw bson.M
	if err := coll.FindOne(ctx, bson.M{"route_name": name}).Decode(&raw); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return matcher.RouteRecord{}, fmt.Errorf("%w: route %q of %s", errs.ErrNotFound, name, city)
		}
		return matcher.RouteRecord{}, fmt.Errorf("%w: find route %q: %v", errs.ErrUpstream, name, err)
	}
	return decodeRoute(raw)
}

// PointsInBBox 读取范围内的高程点，缺字段的行丢弃
func (s *Store) PointsInBBox(ctx context.Context, city string, bbox elevation.BBox) ([]elevation.Point, error) {
	coll, err := s.coll(city, KIND_ELEVATION)
	if err != nil {
		return nil, err
	}
	cursor, err := coll.Find(ctx, bboxFilter(bbox))
	if err != nil {
		return nil, fmt.Errorf("%w: query elevation of %s: %v", errs.ErrUpstream, city, err)
	}
	defer cursor.Close(ctx)
	points := make([]elevation.Point, 0)
	dropped := 0
	for cursor.Next(ctx) {
		var raw bson.M
		if err := cursor.Decode(&raw); err != nil {
			dropped++
			continue
		}
		if p, ok := decodeElevationPoint(raw); ok {
			points = append(points, p)
		} else {
			dropped++
		}
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("%w: query elevation of %s: %v", errs.ErrUpstream, city, err)
	}
	if dropped > 0 {
		log.WithField("city", city).Warnf("%v: dropped %d malformed elevation points", errs.ErrData, dropped)
	}
	return points, nil
}

// Persist 以(vin, date)为键覆盖写入匹配结果
func (s *Store) Persist(ctx context.Context, result matcher.MatchResult) error {
	coll, err := s.coll(result.City, KIND_RESULTS)
	if err != nil {
		return err
	}
	_, err = coll.ReplaceOne(ctx,
		resultKey(result.VIN, result.Date),
		newResultDoc(result, time.Now()),
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("%w: persist result of %s: %v", errs.ErrUpstream, result.VIN, err)
	}
	return nil
}

// PersistTrace 以(vin, date)为键覆盖写入高匹配率车辆的轨迹
func (s *Store) PersistTrace(ctx context.Context, city, vin, route string, trace []geo.LngLat, day time.Time) error {
	coll, err := s.coll(city, KIND_TRACES)
	if err != nil {
		return err
	}
	doc := traceDoc{
		VIN:       vin,
		City:      city,
		Route:     route,
		Date:      day.Format(DATE_LAYOUT),
		Points:    trace,
		UpdatedAt: time.Now(),
	}
	if _, err := coll.ReplaceOne(ctx, resultKey(vin, day), doc, options.Replace().SetUpsert(true)); err != nil {
		return fmt.Errorf("%w: persist trace of %s: %v", errs.ErrUpstream, vin, err)
	}
	return nil
}

// MatchResults 查询匹配结果，按日期、VIN排序
func (s *Store) MatchResults(ctx context.Context, city string, q ResultQuery) ([]matcher.MatchResult, error) {
	coll, err := s.coll(city, KIND_RESULTS)
	if err != nil {
		return nil, err
	}
	cursor, err := coll.Find(ctx, q.filter(), options.Find().SetSort(bson.D{{Key: "date", Value: 1}, {Key: "vin", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("%w: query results of %s: %v", errs.ErrUpstream, city, err)
	}
	defer cursor.Close(ctx)
	results := make([]matcher.MatchResult, 0)
	for cursor.Next(ctx) {
		var doc resultDoc
		if err := cursor.Decode(&doc); err != nil {
			log.WithField("city", city).Warnf("%v: decode result: %v", errs.ErrData, err)
			continue
		}
		r, err := doc.toResult(s.loc)
		if err != nil {
			log.WithField("city", city).Warn(err)
			continue
		}
		results = append(results, r)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("%w: query results of %s: %v", errs.ErrUpstream, city, err)
	}
	return results, nil
}

// FindVehicles 按vin/order/model检索车辆清单，value为空时返回全部
func (s *Store) FindVehicles(ctx context.Context, city, field, value string) ([]Vehicle, error) {
	filter := bson.M{}
	if value != "" {
		key, ok := VEHICLE_FIELDS[field]
		if !ok {
			return nil, fmt.Errorf("%w: unknown vehicle field %q", errs.ErrData, field)
		}
		filter[key] = value
	}
	coll, err := s.coll(city, KIND_VEHICLES)
	if err != nil {
		return nil, err
	}
	cursor, err := coll.Find(ctx, filter, options.Find().SetSort(bson.M{"vin": 1}))
	if err != nil {
		return nil, fmt.Errorf("%w: query vehicles of %s: %v", errs.ErrUpstream, city, err)
	}
	vehicles := make([]Vehicle, 0)
	if err := cursor.All(ctx, &vehicles); err != nil {
		return nil, fmt.Errorf("%w: query vehicles of %s: %v", errs.ErrUpstream, city, err)
	}
	return vehicles, nil
}

// ListVINs 城市车辆清单中全部VIN
func (s *Store) ListVINs(ctx context.Context, city string) ([]string, error) {
	vehicles, err := s.FindVehicles(ctx, city, "", "")
	if err != nil {
		return nil, err
	}
	return lo.FilterMap(vehicles, func(v Vehicle, _ int) (string, bool) {
		return v.VIN, v.VIN != ""
	}), nil
}

func (s *Store) Client() *mongo.Client {
	return s.client
}
