package jobs

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/fursona/pkg/async"
	"github.com/platinummonkey/fursona/pkg/observability"
)

// Job names
const (
	PruneEventsJob = "prune-billing-events"
	PoolStatsJob   = "db-pool-stats"
)

const defaultJobTimeout = 5 * time.Minute

// EventPruner deletes ledger rows processed before cutoff
type EventPruner interface {
	PruneEvents(ctx context.Context, cutoff time.Time) (int64, error)
}

// StatsSource reports connection pool statistics, like *sql.DB
type StatsSource interface {
	Stats() sql.DBStats
}

type job struct {
	name    string
	timeout time.Duration
	run     func(ctx context.Context) error
}

// Scheduler owns the cron runner and the registered jobs
type Scheduler struct {
	cron    *cron.Cron
	logger  *observability.Logger
	metrics *observability.Metrics
	now     func() time.Time

	mu   sync.Mutex
	jobs map[string]job
	ctx  context.Context
}

// NewScheduler creates a scheduler running in UTC. A job still running when
// its next tick arrives skips that tick. metrics may be nil.
func NewScheduler(logger *observability.Logger, metrics *observability.Metrics) *Scheduler {
	cl := cronLogger{logger: logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
		jobs:    make(map[string]job),
		ctx:     context.Background(),
	}
}

// add registers j under schedule. An empty schedule disables the job.
func (s *Scheduler) add(schedule string, j job) error {
	s.mu.Lock()
	s.jobs[j.name] = j
	s.mu.Unlock()

	if schedule == "" {
		s.logger.WithField("job", j.name).Info("job disabled")
		return nil
	}
	if _, err := s.cron.AddFunc(schedule, func() { s.execute(j) }); err != nil {
		return fmt.Errorf("failed to schedule %s: %w", j.name, err)
	}
	s.logger.WithFields(map[string]interface{}{
		"job":      j.name,
		"schedule": schedule,
	}).Info("job scheduled")
	return nil
}

// execute runs j synchronously on the cron goroutine
func (s *Scheduler) execute(j job) {
	s.mu.Lock()
	parent := s.ctx
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(parent, j.timeout)
	defer cancel()

	start := s.now()
	logger := s.logger.WithField("job", j.name)
	if err := j.run(ctx); err != nil {
		logger.WithError(err).Warn("job failed")
		return
	}
	logger.WithField("duration_ms", s.now().Sub(start).Milliseconds()).Debug("job finished")
}

// PruneEvents schedules deletion of ledger rows older than retention. Redelivery
// of an event older than retention would be applied again, so retention must
// exceed the provider's retry window.
func (s *Scheduler) PruneEvents(schedule string, store EventPruner, retention time.Duration) error {
	if retention <= 0 {
		return fmt.Errorf("event retention must be positive, got %s", retention)
	}
	return s.add(schedule, job{
		name:    PruneEventsJob,
		timeout: defaultJobTimeout,
		run: func(ctx context.Context) error {
			cutoff := s.now().Add(-retention)
			n, err := store.PruneEvents(ctx, cutoff)
			if err != nil {
				return err
			}
			if s.metrics != nil {
				s.metrics.BillingEventsPruned.Add(float64(n))
			}
			if n > 0 {
				s.logger.WithFields(map[string]interface{}{
					"job":    PruneEventsJob,
					"pruned": n,
					"cutoff": cutoff.Format(time.RFC3339),
				}).Info("pruned billing events")
			}
			return nil
		},
	})
}

// PoolStats schedules publishing db's pool statistics as gauges
func (s *Scheduler) PoolStats(schedule string, db StatsSource) error {
	if s.metrics == nil {
		return nil
	}
	return s.add(schedule, job{
		name:    PoolStatsJob,
		timeout: 10 * time.Second,
		run: func(ctx context.Context) error {
			s.metrics.RecordDBStats(db.Stats())
			return nil
		},
	})
}

// Trigger runs a registered job once in the background, outside its schedule
func (s *Scheduler) Trigger(name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	parent := s.ctx
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown job %q", name)
	}

	async.SafeGo(parent, s.logger, j.timeout, j.name, j.run)
	return nil
}

// Start begins running scheduled jobs. Jobs see ctx as their parent context.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	s.cron.Start()
}

// Stop stops the scheduler and waits for running jobs until ctx is done
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("jobs still running at shutdown: %w", ctx.Err())
	}
}

// cronLogger adapts the structured logger to cron.Logger
type cronLogger struct {
	logger *observability.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(kv(keysAndValues)).Debug("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(kv(keysAndValues)).WithError(err).Error("cron: " + msg)
}

func kv(keysAndValues []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}
