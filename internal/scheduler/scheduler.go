package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	authdomain "github.com/smallbiznis/portal/internal/auth/domain"
	"github.com/smallbiznis/portal/internal/clock"
	invoicedomain "github.com/smallbiznis/portal/internal/invoice/domain"
	"github.com/smallbiznis/portal/internal/lock"
	obscontext "github.com/smallbiznis/portal/internal/observability/context"
	obslogger "github.com/smallbiznis/portal/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/portal/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const systemSubject = "system:scheduler"

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	Log        *zap.Logger
	InvoiceSvc invoicedomain.Service
	GenID      *snowflake.Node
	Clock      clock.Clock
	Locker     *lock.Locker      `optional:"true"`
	Config     Config            `optional:"true"`
	MetricsCfg obsmetrics.Config `optional:"true"`
}

// Scheduler runs background jobs on a fixed interval. The only job today
// re-applies billing provider outcomes that were not persisted locally.
type Scheduler struct {
	log        *zap.Logger
	cfg        Config
	genID      *snowflake.Node
	clock      clock.Clock
	invoiceSvc invoicedomain.Service
	locker     *lock.Locker
	metrics    *obsmetrics.SchedulerMetrics
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.InvoiceSvc == nil || p.GenID == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:        p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:        p.Config.withDefaults(),
		genID:      p.GenID,
		clock:      p.Clock,
		invoiceSvc: p.InvoiceSvc,
		locker:     p.Locker,
		metrics:    obsmetrics.SchedulerWithConfig(p.MetricsCfg),
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) (int, error),
) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	release, ok, err := s.locker.SchedulerJob(ctx, name, timeout)
	if err != nil {
		s.metrics.IncJobError(name, err)
		return fmt.Errorf("%s: claim: %w", name, err)
	}
	if !ok {
		s.metrics.IncJobSkip(name, obsmetrics.SchedulerJobReasonLockBusy)
		s.log.Debug("scheduler.job.skipped", zap.String("job", name), zap.String("reason", obsmetrics.SchedulerJobReasonLockBusy))
		return nil
	}
	defer func() {
		if err := release(context.Background()); err != nil {
			s.log.Warn("scheduler.job.release_failed", zap.String("job", name), zap.Error(err))
		}
	}()

	run := s.startRun(name)
	ctx = withSystemActor(ctx)
	log := obslogger.WithContext(ctx, s.log).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	log.Info("scheduler.job.start")
	s.metrics.IncJobRun(name)

	processed, err := fn(ctx)
	run.processed = processed
	s.metrics.AddProcessed(name, processed)
	s.metrics.ObserveJobDuration(name, s.clock.Now().Sub(run.startedAt))
	s.logFinish(log, run, err)
	if err == nil {
		return nil
	}

	s.metrics.IncJobError(name, err)
	// A deadline is a soft timeout; the next tick picks up what is left.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.metrics.IncJobTimeout(name)
		log.Warn("job timed out", zap.Duration("timeout", timeout), zap.Error(err))
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name string
		Run  func(context.Context) (int, error)
	}{
		{JobReconcileInvoices, s.ReconcileInvoicesJob},
	}

	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, s.cfg.JobTimeout, job.Run))
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if lag := s.clock.Now().Sub(nextRun); lag > 0 {
			s.metrics.ObserveRunLoopLag(lag)
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)
	}
}

// ReconcileInvoicesJob applies provider outcomes recorded as pending after a
// failed local write.
func (s *Scheduler) ReconcileInvoicesJob(ctx context.Context) (int, error) {
	return s.invoiceSvc.ReconcilePending(ctx)
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(strings.TrimSpace(enabled), jobName) {
			return true
		}
	}
	return false
}

type jobRun struct {
	job       string
	runID     string
	startedAt time.Time
	processed int
}

func (s *Scheduler) startRun(job string) *jobRun {
	return &jobRun{
		job:       job,
		runID:     s.genID.Generate().String(),
		startedAt: s.clock.Now(),
	}
}

func (s *Scheduler) logFinish(log *zap.Logger, run *jobRun, err error) {
	fields := []zap.Field{
		zap.Int64("duration_ms", s.clock.Now().Sub(run.startedAt).Milliseconds()),
		zap.Int("processed_count", run.processed),
	}
	if err != nil {
		log.Warn("scheduler.job.finish", append(fields, zap.Error(err))...)
		return
	}
	log.Info("scheduler.job.finish", fields...)
}

// withSystemActor lets jobs pass the same authorization checks as an admin
// caller.
func withSystemActor(ctx context.Context) context.Context {
	ctx = authdomain.WithIdentity(ctx, &authdomain.Identity{
		Subject: systemSubject,
		Roles:   []string{authdomain.RoleAdmin},
	})
	return obscontext.WithActor(ctx, authdomain.RoleAdmin, systemSubject)
}
