package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"git.fiblab.net/sim/routematch/config"
	"git.fiblab.net/sim/routematch/matcher"
	"git.fiblab.net/sim/routematch/scheduler"
	"git.fiblab.net/sim/routematch/storage"
	"git.fiblab.net/sim/routematch/upstream"
	easy "git.fiblab.net/utils/logrus-easy-formatter"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

var (
	// 配置信息
	configPath   = flag.String("config", "config.yml", "config file path")
	grpcEndpoint = flag.String("listen", "localhost:52201", "connect listening address")
	logLevel     = flag.String("log-level", "info", "log level [debug, info, warn, error, fatal, panic]")

	// 单次运行
	runOnce = flag.Bool("run-once", false, "run one matching cycle for all cities and exit")
	runDate = flag.String("date", "", "business date of -run-once [format: YYYY-MM-DD], empty means yesterday")

	// 性能测试
	benchmark = flag.Bool("benchmark", false, "benchmark mode")
	pprofAddr = flag.String("pprof", "localhost:52202", "pprof listening address")

	LOG_LEVELS = map[string]logrus.Level{
		"debug": logrus.DebugLevel,
		"info":  logrus.InfoLevel,
		"warn":  logrus.WarnLevel,
		"error": logrus.ErrorLevel,
		"fatal": logrus.FatalLevel,
		"panic": logrus.PanicLevel,
	}
)

// 按城市配置生成集合解析规则
func newResolver(cfg *config.Config) *storage.Resolver {
	r := &storage.Resolver{DB: cfg.Mongo.Database, Overrides: map[string]map[string]string{}}
	for _, city := range cfg.Cities {
		if len(city.Collections) > 0 {
			r.Overrides[city.Name] = city.Collections
		}
	}
	return r
}

func main() {
	logrus.SetFormatter(&easy.Formatter{
		TimestampFormat: "2006-01-02 15:04:05.0000",
		LogFormat:       "[%module%] [%time%] [%lvl%] %msg%\n",
	})
	flag.Parse()
	if level, ok := LOG_LEVELS[*logLevel]; ok {
		logrus.SetLevel(level)
	} else {
		logrus.Fatalf("invalid log level: %s", *logLevel)
	}

	if *pprofAddr != "" {
		// 启动pprof
		startHTTPDebugger(*pprofAddr)
	}

	if *benchmark {
		// 性能测试
		runBenchmark()
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config %s: %v", *configPath, err)
	}
	for _, city := range cfg.Cities {
		for kind, coll := range city.Collections {
			if _, err := storage.NewPath(coll); err != nil {
				log.Fatalf("invalid collection of city %s kind %s: %v", city.Name, kind, err)
			}
		}
	}

	store := storage.New(cfg.Mongo.URI, newResolver(cfg))
	sdk := upstream.NewSDKClient(upstream.SDKConfig{
		LoginURL:   cfg.SDK.LoginURL,
		HistoryURL: cfg.SDK.HistoryURL,
		Username:   cfg.SDK.Username,
		Password:   cfg.SDK.Password,
		Timeout:    cfg.SDK.Timeout,
	})
	var road upstream.RoadRouter
	if cfg.OSRM.URL != "" {
		road = upstream.NewOSRMClient(cfg.OSRM.URL, cfg.OSRM.Timeout)
	}
	registry := NewIndexRegistry(store)
	sched := scheduler.New(
		cfg.SchedulerConfig(), matcher.New(cfg.MatcherOptions()),
		sdk, store,
		scheduler.WithTraceSink(store),
	)
	cycle := NewCycle(cfg, registry, store, sched)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *runOnce {
		day := config.Midnight(time.Now()).AddDate(0, 0, -1)
		if *runDate != "" {
			if day, err = time.ParseInLocation(storage.DATE_LAYOUT, *runDate, time.Local); err != nil {
				log.Fatalf("invalid date: %s", *runDate)
			}
		}
		err := cycle.RunAll(ctx, day)
		store.Close(context.Background())
		if err != nil {
			log.Fatalf("matching cycle failed: %v", err)
		}
		return
	}

	// 启动匹配服务
	server := NewMatchServer(cfg, registry, store, store, upstream.NewGeometrySource(store, road), cycle)
	go cycle.Loop(ctx)

	// 启动tcp监听和初始化connect服务端
	mux := http.NewServeMux()
	mux.Handle(server.Handler())

	addr := *grpcEndpoint
	// 使用HTTP/2 w.o. TLS
	s := &http.Server{
		Addr:    addr,
		Handler: h2c.NewHandler(mux, &http2.Server{}),
	}

	// 优雅退出
	// 创建监听退出chan
	signalCh := make(chan os.Signal, 1)
	//监听指定信号 ctrl+c kill
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signalCh
		log.Info("stopping...")
		go func() {
			<-signalCh
			os.Exit(1) // 强制结束
		}()
		// 停止匹配周期，已完成的匹配结果会先落库
		cancel()
		// 退出connect-go
		s.Close()
	}()

	// 启动connect server
	log.Infof("server listening at %v", s.Addr)
	if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("failed to serve: %v", err)
	}
	time.Sleep(1 * time.Second) // 延迟等待"优雅退出"
	store.Close(context.Background())
	log.Info("routematch closes")
}
