package app

import (
	"context"
	"fmt"
	"time"

	"github.com/fiffu/regwatch/config"
	"github.com/fiffu/regwatch/lib/dispatch"
	"github.com/fiffu/regwatch/lib/snapshotter"
	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Scheduler owns the three periodic jobs: the poll cycle, the retry sweep and
// the batch flush sweep. One cron, started and drained via the fx lifecycle.
type Scheduler struct {
	cfg        *config.Config
	log        *zap.Logger
	c          *cron.Cron
	snaps      *snapshotter.Snapshotter
	dispatcher *dispatch.Dispatcher
	batcher    *dispatch.Batcher
}

func NewScheduler(
	lc fx.Lifecycle,
	cfg *config.Config,
	log *zap.Logger,
	snaps *snapshotter.Snapshotter,
	dispatcher *dispatch.Dispatcher,
	batcher *dispatch.Batcher,
) (*Scheduler, error) {
	s := &Scheduler{
		cfg:        cfg,
		log:        log,
		c:          cron.New(),
		snaps:      snaps,
		dispatcher: dispatcher,
		batcher:    batcher,
	}
	if err := s.schedule(); err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStart: s.start,
		OnStop:  s.stop,
	})
	return s, nil
}

func (s *Scheduler) schedule() error {
	// A cycle that outlives the interval must not be joined by the next
	// one; the skipped tick is logged by cron.
	skipOverlap := cron.SkipIfStillRunning(cron.PrintfLogger(cronLogger{s.log.Sugar()}))

	jobs := []struct {
		spec string
		job  cron.Job
	}{
		{every(s.cfg.Poll.Interval), skipOverlap(cron.FuncJob(s.runPollCycle))},
		{every(s.cfg.Dispatch.RetrySweepInterval), cron.FuncJob(s.runRetrySweep)},
		{every(s.cfg.Dispatch.FlushInterval), cron.FuncJob(s.runFlushSweep)},
	}
	for _, j := range jobs {
		if _, err := s.c.AddJob(j.spec, j.job); err != nil {
			return fmt.Errorf("schedule %q: %w", j.spec, err)
		}
	}
	return nil
}

func (s *Scheduler) start(ctx context.Context) error {
	if err := s.dispatcher.ReseedRetryQueue(ctx); err != nil {
		return fmt.Errorf("reseed retry queue: %w", err)
	}

	// Capture a snapshot promptly rather than one full interval after boot.
	go s.runPollCycle()

	s.c.Start()
	s.log.Sugar().Infof("Scheduler started, polling every %s", s.cfg.Poll.Interval)
	return nil
}

func (s *Scheduler) stop(ctx context.Context) error {
	<-s.c.Stop().Done()
	s.batcher.Flush(ctx)
	s.log.Info("Scheduler stopped")
	return nil
}

func (s *Scheduler) runPollCycle() {
	if err := s.snaps.RunCycle(context.Background()); err != nil {
		s.log.Sugar().Errorf("poll cycle error: %+v", err)
	}
}

func (s *Scheduler) runRetrySweep() {
	s.dispatcher.ProcessRetryQueue(context.Background())
}

func (s *Scheduler) runFlushSweep() {
	s.batcher.FlushOld(context.Background())
}

func every(d time.Duration) string {
	return "@every " + d.String()
}

type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Printf(format string, args ...any) {
	l.log.Infof(format, args...)
}
