package storage

import (
	"fmt"
	"strings"

	"github.com/samber/lo"
)

// 集合类别
const (
	KIND_ROUTES    = "bus_routes"
	KIND_ELEVATION = "elevation"
	KIND_RESULTS   = "match_results"
	KIND_TRACES    = "match_line_gps"
	KIND_VEHICLES  = "vehicles"
)

var KINDS = []string{KIND_ROUTES, KIND_ELEVATION, KIND_RESULTS, KIND_TRACES, KIND_VEHICLES}

// Path mongo数据库与集合，实现mongoutil.GetMongoColl需要的GetDb/GetColl
type Path struct {
	DB   string
	Coll string
}

// NewPath 解析{db}.{col}，空字符串返回nil
func NewPath(dbDotColl string) (*Path, error) {
	dbDotColl = strings.TrimSpace(dbDotColl)
	if dbDotColl == "" {
		return nil, nil
	}
	splitted := strings.Split(dbDotColl, ".")
	if len(splitted) != 2 || splitted[0] == "" || splitted[1] == "" {
		return nil, fmt.Errorf("dbDotColl is invalid: %s", dbDotColl)
	}
	return &Path{
		DB:   splitted[0],
		Coll: splitted[1],
	}, nil
}

func (p *Path) GetDb() string {
	return p.DB
}

func (p *Path) GetColl() string {
	return p.Coll
}

func (p *Path) String() string {
	return p.DB + "." + p.Coll
}

// Resolver (城市, 类别) -> 集合
// 默认集合名为{city}_{kind}，可按城市覆盖为{db}.{col}
type Resolver struct {
	DB        string
	Overrides map[string]map[string]string // city -> kind -> {db}.{col}
}

func (r *Resolver) Resolve(city, kind string) (*Path, error) {
	if city == "" {
		return nil, fmt.Errorf("empty city")
	}
	if !lo.Contains(KINDS, kind) {
		return nil, fmt.Errorf("unknown collection kind: %s", kind)
	}
	if r.Overrides != nil {
		if s, ok := r.Overrides[city][kind]; ok {
			p, err := NewPath(s)
			if err != nil {
				return nil, fmt.Errorf("city %s kind %s: %w", city, kind, err)
			}
			if p != nil {
				return p, nil
			}
		}
	}
	return &Path{DB: r.DB, Coll: city + "_" + kind}, nil
}
