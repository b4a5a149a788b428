package main

import (
	"context"
	"fmt"
	"time"

	"git.fiblab.net/sim/routematch/config"
	"git.fiblab.net/sim/routematch/errs"
	"git.fiblab.net/sim/routematch/geo"
	"git.fiblab.net/sim/routematch/scheduler"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type VINSource interface {
	ListVINs(ctx context.Context, city string) ([]string, error)
}

type BatchRunner interface {
	Run(ctx context.Context, batch scheduler.Batch) (scheduler.Report, error)
}

// Cycle 每日匹配周期：对每个城市重建线路索引并匹配前一天的车辆轨迹
type Cycle struct {
	cfg      *config.Config
	registry *IndexRegistry
	vins     VINSource
	runner   BatchRunner
}

func NewCycle(cfg *config.Config, registry *IndexRegistry, vins VINSource, runner BatchRunner) *Cycle {
	return &Cycle{cfg: cfg, registry: registry, vins: vins, runner: runner}
}

// RunCity 匹配一个城市在业务日期day的车辆
func (c *Cycle) RunCity(ctx context.Context, city config.City, day time.Time) (scheduler.Report, error) {
	day = config.Midnight(day)
	logger := log.WithFields(logrus.Fields{"city": city.Name, "day": day.Format("2006-01-02")})
	transform, err := geo.TransformFor(city.Datum)
	if err != nil {
		return scheduler.Report{City: city.Name}, fmt.Errorf("%w: %v", errs.ErrData, err)
	}
	idx, err := c.registry.Rebuild(ctx, city.Name)
	if err != nil {
		return scheduler.Report{City: city.Name}, err
	}
	vins := city.VINs
	if len(vins) == 0 {
		if vins, err = c.vins.ListVINs(ctx, city.Name); err != nil {
			return scheduler.Report{City: city.Name}, err
		}
	}
	start, end := c.cfg.Schedule.Window(day)
	logger.Infof("matching %d vehicles in [%s, %s)", len(vins), start.Format(time.DateTime), end.Format(time.DateTime))
	return c.runner.Run(ctx, scheduler.Batch{
		City:      city.Name,
		VINs:      vins,
		Start:     start,
		End:       end,
		SaveDay:   day,
		Index:     idx,
		Transform: transform,
	})
}

// RunAll 并发匹配所有城市，单个城市失败不影响其他城市，返回第一个错误
func (c *Cycle) RunAll(ctx context.Context, day time.Time) error {
	var g errgroup.Group
	g.SetLimit(c.cfg.Schedule.MaxParallelCities)
	for _, city := range c.cfg.Cities {
		city := city
		g.Go(func() error {
			if _, err := c.RunCity(ctx, city, day); err != nil {
				log.WithField("city", city.Name).Errorf("matching cycle failed: %v", err)
				return fmt.Errorf("city %s: %w", city.Name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Loop 每天在run_at时刻匹配前一天的数据，直到ctx取消
func (c *Cycle) Loop(ctx context.Context) {
	for {
		next := c.cfg.Schedule.NextRun(time.Now())
		log.Infof("next matching cycle at %s", next.Format(time.DateTime))
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		day := config.Midnight(time.Now()).AddDate(0, 0, -1)
		start := time.Now()
		if err := c.RunAll(ctx, day); err != nil {
			log.Warnf("matching cycle of %s finished with error: %v", day.Format("2006-01-02"), err)
		} else {
			log.Infof("matching cycle of %s finished in %v", day.Format("2006-01-02"), time.Since(start))
		}
	}
}
