package storage

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"git.fiblab.net/sim/routematch/elevation"
	"git.fiblab.net/sim/routematch/errs"
	"git.fiblab.net/sim/routematch/geo"
	"git.fiblab.net/sim/routematch/matcher"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// 结果记录中的业务日期格式
const DATE_LAYOUT = "2006-01-02"

type resultDoc struct {
	VIN        string    `bson:"vin"`
	City       string    `bson:"city"`
	Route      *string   `bson:"matched_route"`
	MatchRate  *float64  `bson:"match_rate"`
	CoverageKm *float64  `bson:"route_coverage"`
	Date       string    `bson:"date"`
	UpdatedAt  time.Time `bson:"updated_at"`
}

type traceDoc struct {
	VIN       string       `bson:"vin"`
	City      string       `bson:"city"`
	Route     string       `bson:"matched_route"`
	Date      string       `bson:"date"`
	Points    []geo.LngLat `bson:"points"`
	UpdatedAt time.Time    `bson:"updated_at"`
}

// Vehicle 车辆清单中的一行
type Vehicle struct {
	VIN      string `json:"vin" bson:"vin"`
	Plate    string `json:"plate,omitempty" bson:"plate"`
	Order    string `json:"order,omitempty" bson:"order"`
	Model    string `json:"model,omitempty" bson:"model"`
	Customer string `json:"customer,omitempty" bson:"customer"`
	Region   string `json:"region,omitempty" bson:"region"`
}

// 车辆清单可检索的字段
var VEHICLE_FIELDS = map[string]string{
	"vin":   "vin",
	"order": "order",
	"model": "model",
}

func newResultDoc(r matcher.MatchResult, now time.Time) resultDoc {
	doc := resultDoc{
		VIN:        r.VIN,
		City:       r.City,
		MatchRate:  r.MatchRate,
		CoverageKm: r.CoverageKm,
		Date:       r.Date.Format(DATE_LAYOUT),
		UpdatedAt:  now,
	}
	if r.Matched() {
		route := r.Route
		doc.Route = &route
	}
	return doc
}

func (d resultDoc) toResult(loc *time.Location) (matcher.MatchResult, error) {
	day, err := time.ParseInLocation(DATE_LAYOUT, d.Date, loc)
	if err != nil {
		return matcher.MatchResult{}, fmt.Errorf("%w: bad date %q of vin %s", errs.ErrData, d.Date, d.VIN)
	}
	r := matcher.MatchResult{
		VIN:        d.VIN,
		City:       d.City,
		MatchRate:  d.MatchRate,
		CoverageKm: d.CoverageKm,
		Date:       day,
	}
	if d.Route != nil {
		r.Route = *d.Route
	}
	return r, nil
}

// (vin, date)唯一
func resultKey(vin string, day time.Time) bson.M {
	return bson.M{"vin": vin, "date": day.Format(DATE_LAYOUT)}
}

// 数值字段可能以各种数值类型或字符串存储
func toFloat64(x interface{}) (float64, bool) {
	switch x := x.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case int:
		return float64(x), true
	case string:
		v, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return v, err == nil
	default:
		return 0, false
	}
}

func optionalFloat(x interface{}) *float64 {
	if v, ok := toFloat64(x); ok {
		return &v
	}
	return nil
}

// decodeRoute bus_routes文档 -> RouteRecord
// via_stations可能是数组或JSON字符串，坐标不可解析时置nil，交由BuildRouteIndex判定
func decodeRoute(raw bson.M) (matcher.RouteRecord, error) {
	name, _ := raw["route_name"].(string)
	record := matcher.RouteRecord{Name: name}
	var stations []interface{}
	switch v := raw["via_stations"].(type) {
	case primitive.A:
		stations = v
	case []interface{}:
		stations = v
	case string:
		var arr []bson.M
		if err := json.Unmarshal([]byte(v), &arr); err != nil {
			return record, fmt.Errorf("%w: route %q: bad via_stations: %v", errs.ErrData, name, err)
		}
		for _, m := range arr {
			stations = append(stations, m)
		}
	default:
		return record, fmt.Errorf("%w: route %q: missing via_stations", errs.ErrData, name)
	}
	for i, s := range stations {
		var m bson.M
		switch s := s.(type) {
		case bson.M:
			m = s
		case bson.D:
			m = s.Map()
		default:
			return record, fmt.Errorf("%w: route %q: station %d is not a document", errs.ErrData, name, i)
		}
		stationName, _ := m["name"].(string)
		record.Stations = append(record.Stations, matcher.StationRecord{
			Name:      stationName,
			Longitude: optionalFloat(m["longitude"]),
			Latitude:  optionalFloat(m["latitude"]),
		})
	}
	return record, nil
}

func decodeElevationPoint(raw bson.M) (elevation.Point, bool) {
	lng, ok1 := toFloat64(raw["lng"])
	lat, ok2 := toFloat64(raw["lat"])
	h, ok3 := toFloat64(raw["elevation"])
	if !ok1 || !ok2 || !ok3 {
		return elevation.Point{}, false
	}
	return elevation.Point{Lng: lng, Lat: lat, Elevation: h}, true
}

func bboxFilter(b elevation.BBox) bson.M {
	return bson.M{
		"lng": bson.M{"$gte": b.MinLng, "$lte": b.MaxLng},
		"lat": bson.M{"$gte": b.MinLat, "$lte": b.MaxLat},
	}
}

// ResultQuery 匹配结果查询条件，零值字段不参与过滤
type ResultQuery struct {
	Date *time.Time
	VINs []string
}

func (q ResultQuery) filter() bson.M {
	f := bson.M{}
	if q.Date != nil {
		f["date"] = q.Date.Format(DATE_LAYOUT)
	}
	if len(q.VINs) > 0 {
		f["vin"] = bson.M{"$in": q.VINs}
	}
	return f
}
