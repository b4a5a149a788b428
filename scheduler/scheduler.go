package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"git.fiblab.net/sim/routematch/errs"
	"git.fiblab.net/sim/routematch/matcher"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Scheduler 以固定大小的worker池并行完成一批车辆的轨迹获取、线路匹配与结果保存
// 不同城市的批次可以并发运行，各自持有独立的RouteIndex
type Scheduler struct {
	cfg     Config
	source  TraceSource
	sink    ResultSink
	traces  TraceSink
	matcher *matcher.Matcher

	onState func(city string, from, to State)
}

type Option func(*Scheduler)

// WithTraceSink 匹配率达到TraceThreshold时保存轨迹
func WithTraceSink(sink TraceSink) Option {
	return func(s *Scheduler) { s.traces = sink }
}

// WithStateHook 状态切换回调
func WithStateHook(fn func(city string, from, to State)) Option {
	return func(s *Scheduler) { s.onState = fn }
}

func New(cfg Config, m *matcher.Matcher, source TraceSource, sink ResultSink, opts ...Option) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = DEFAULT_WORKERS
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.Workers * 2
	}
	if cfg.TraceThreshold <= 0 {
		cfg.TraceThreshold = DEFAULT_TRACE_THRESHOLD
	}
	s := &Scheduler{cfg: cfg, source: source, sink: sink, matcher: m}
	for _, o := range opts {
		o(s)
	}
	return s
}

type counters struct {
	skipped, failed, unmatched, matched atomic.Int32
}

type batchRun struct {
	*Scheduler
	batch  Batch
	log    *logrus.Entry
	state  State
	counts counters
}

func (r *batchRun) transition(to State) {
	from := r.state
	r.state = to
	r.log.Debugf("state %v -> %v", from, to)
	if r.onState != nil {
		r.onState(r.batch.City, from, to)
	}
}

// Run 执行一个批次，阻塞直到所有worker退出且结果全部保存
// ctx取消后停止入队，worker跳过剩余任务，已得到的结果仍会保存，返回ctx.Err()
func (s *Scheduler) Run(ctx context.Context, batch Batch) (Report, error) {
	r := &batchRun{
		Scheduler: s,
		batch:     batch,
		state:     IDLE,
	}
	report := Report{RunID: uuid.NewString(), City: batch.City}
	r.log = log.WithFields(logrus.Fields{"run": report.RunID, "city": batch.City})
	if batch.Index == nil {
		return report, fmt.Errorf("%w: no route index for city %s", errs.ErrData, batch.City)
	}

	r.transition(DISPATCHING)
	queue := make(chan string, s.cfg.QueueSize)
	// 每辆车至多一个结果，容量足够时worker不会在发送时阻塞
	results := make(chan matcher.MatchResult, len(batch.VINs))
	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for vin := range queue {
				if ctx.Err() != nil {
					r.counts.skipped.Add(1)
					continue
				}
				if result, ok := r.process(ctx, vin); ok {
					results <- result
				}
			}
		}()
	}

enqueue:
	for _, vin := range batch.VINs {
		select {
		case queue <- vin:
			report.Submitted++
		case <-ctx.Done():
			break enqueue
		}
	}
	close(queue)

	r.transition(DRAINING)
	wg.Wait()
	close(results)
	// 取消时已完成的匹配仍然落库
	persistCtx := context.WithoutCancel(ctx)
	for result := range results {
		if err := s.sink.Persist(persistCtx, result); err != nil {
			report.PersistFailed++
			r.log.WithField("vin", result.VIN).Errorf("%v: persist result: %v", errs.ErrUpstream, err)
			continue
		}
		report.Persisted++
	}
	r.transition(IDLE)

	// 取消后未入队的车辆同样计为跳过
	report.Skipped = int(r.counts.skipped.Load()) + len(batch.VINs) - report.Submitted
	report.Failed = int(r.counts.failed.Load())
	report.Unmatched = int(r.counts.unmatched.Load())
	report.Matched = int(r.counts.matched.Load())
	r.log.Infof("batch finished: submitted=%d matched=%d unmatched=%d failed=%d persisted=%d persist_failed=%d skipped=%d",
		report.Submitted, report.Matched, report.Unmatched, report.Failed,
		report.Persisted, report.PersistFailed, report.Skipped)
	return report, ctx.Err()
}

// 单辆车：获取轨迹 -> 匹配 -> 产出结果，任何失败只影响该车辆
func (r *batchRun) process(ctx context.Context, vin string) (result matcher.MatchResult, ok bool) {
	logger := r.log.WithField("vin", vin)
	defer func() {
		if e := recover(); e != nil {
			logger.Errorf("panic while matching: %v", e)
			r.counts.failed.Add(1)
			ok = false
		}
	}()
	if r.cfg.UnitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.UnitTimeout)
		defer cancel()
	}

	trace, err := r.source.FetchHistory(ctx, vin, r.batch.Start, r.batch.End)
	if err != nil {
		logger.Warnf("%v: fetch history: %v", errs.ErrUpstream, err)
		r.counts.failed.Add(1)
		return result, false
	}
	// 保存的轨迹为清洗后的原始点，去重只用于匹配
	trace = matcher.CleanTrace(trace)
	outcome := r.matcher.Match(matcher.DedupTrace(trace, r.cfg.DedupPrecision), r.batch.Index, r.batch.Transform)
	if !outcome.Found {
		logger.Infof("no route matched (%d points)", len(trace))
		r.counts.unmatched.Add(1)
		if r.cfg.PersistUnmatched {
			return matcher.NewMatchResult(vin, r.batch.City, outcome, r.batch.SaveDay), true
		}
		return result, false
	}

	r.counts.matched.Add(1)
	if outcome.HighConfidence {
		logger.Infof("best route: %s, match rate: %.2f%%, coverage: %.2fkm",
			outcome.Route, outcome.MatchRate*100, outcome.CoverageKm)
	} else {
		logger.Infof("no full match, closest route: %s, match rate: %.2f%%, coverage: %.2fkm",
			outcome.Route, outcome.MatchRate*100, outcome.CoverageKm)
	}
	if r.traces != nil && outcome.MatchRate >= r.cfg.TraceThreshold {
		if err := r.traces.PersistTrace(ctx, r.batch.City, vin, outcome.Route, trace, r.batch.SaveDay); err != nil {
			logger.Warnf("%v: persist trace: %v", errs.ErrUpstream, err)
		}
	}
	return matcher.NewMatchResult(vin, r.batch.City, outcome, r.batch.SaveDay), true
}
