package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"connectrpc.com/connect"
	"git.fiblab.net/sim/routematch/config"
	"git.fiblab.net/sim/routematch/geo"
	"git.fiblab.net/sim/routematch/matcher"
	"github.com/sirupsen/logrus"
)

const BENCHMARK_CITY = "benchmark"

var (
	benchmarkCount    = flag.Int("benchmark.count", 1000, "the random trace count for benchmark")
	benchmarkRoutes   = flag.Int("benchmark.routes", 200, "the synthetic route count for benchmark")
	benchmarkStations = flag.Int("benchmark.stations", 30, "the station count of each synthetic route")
	benchmarkSeed     = flag.Int64("benchmark.seed", 0, "the seed for benchmark")
	benchmarkCPU      = flag.Int("benchmark.cpu", 1, "the cpu count for benchmark")
)

// 在(119.3, 32.3)附近随机生成线路，每条线路是一段随机方向的折线
func syntheticRoutes(e *rand.Rand, routes, stations int) []matcher.RouteRecord {
	records := make([]matcher.RouteRecord, routes)
	for i := range records {
		lng, lat := 119.3+e.Float64()*0.3, 32.3+e.Float64()*0.3
		dLng, dLat := (e.Float64()-0.5)*0.01, (e.Float64()-0.5)*0.01
		record := matcher.RouteRecord{Name: fmt.Sprintf("%d路", i+1)}
		for j := 0; j < stations; j++ {
			x, y := lng+dLng*float64(j), lat+dLat*float64(j)
			record.Stations = append(record.Stations, matcher.StationRecord{
				Name: fmt.Sprintf("S%d-%d", i, j), Longitude: &x, Latitude: &y,
			})
		}
		records[i] = record
	}
	return records
}

// 沿一条线路的站点加噪声生成轨迹
func syntheticTrace(e *rand.Rand, record matcher.RouteRecord) []geo.LngLat {
	trace := make([]geo.LngLat, 0, len(record.Stations)*4)
	for _, s := range record.Stations {
		for k := 0; k < 4; k++ {
			trace = append(trace, geo.LngLat{
				Lng: *s.Longitude + (e.Float64()-0.5)*0.004,
				Lat: *s.Latitude + (e.Float64()-0.5)*0.004,
			})
		}
	}
	return trace
}

func runBenchmark() {
	log.Logger.SetLevel(logrus.WarnLevel)
	// 设置随机种子
	e := rand.New(rand.NewSource(*benchmarkSeed))
	records := syntheticRoutes(e, *benchmarkRoutes, *benchmarkStations)
	idx, _ := matcher.BuildRouteIndex(records)
	cfg, err := config.Parse([]byte("mongo:\n  uri: mongodb://localhost\ncities:\n  - name: " + BENCHMARK_CITY + "\n"))
	if err != nil {
		log.Fatalf("benchmark config: %v", err)
	}
	registry := NewIndexRegistry(nil)
	registry.Put(BENCHMARK_CITY, idx)
	server := NewMatchServer(cfg, registry, nil, nil, nil, nil)

	// 随机生成benchmarkCount条轨迹，每条轨迹沿一条随机线路
	reqs := make([]*connect.Request[MatchTraceRequest], *benchmarkCount)
	for i := range reqs {
		record := records[e.Intn(len(records))]
		reqs[i] = connect.NewRequest(&MatchTraceRequest{
			City:   BENCHMARK_CITY,
			Points: syntheticTrace(e, record),
		})
	}

	// 开始benchmark
	start := time.Now()
	var success atomic.Int32
	do := func(req *connect.Request[MatchTraceRequest]) {
		res, err := server.MatchTrace(context.Background(), req)
		if err != nil {
			log.Error("benchmark failed, err:", err)
			return
		}
		if res.Msg.HighConfidence {
			success.Add(1)
		}
	}
	if *benchmarkCPU == 1 {
		for _, req := range reqs {
			do(req)
		}
	} else {
		// 设置cpu数量
		runtime.GOMAXPROCS(*benchmarkCPU)
		var wg sync.WaitGroup
		wg.Add(*benchmarkCount)
		for _, req := range reqs {
			go func(req *connect.Request[MatchTraceRequest]) {
				defer wg.Done()
				do(req)
			}(req)
		}
		wg.Wait()
	}
	timeCost := time.Since(start) * time.Duration(*benchmarkCPU)
	log.Error(
		"benchmark finished", "\n",
		"count:", *benchmarkCount, "\n",
		"routes:", idx.RouteCount(), " stations:", idx.StationCount(), "\n",
		"time:", timeCost, "\n",
		"avg:", timeCost/time.Duration(*benchmarkCount), "\n",
		"high confidence:", success.Load(), "\n",
	)
}
