package background

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/go-co-op/gocron/v2"
	"github.com/sirupsen/logrus"

	"stockledger/internal/caching"
	"stockledger/internal/jobs"
	"stockledger/internal/services"
)

const (
	JobReservationSweep = "reservation-sweep"
	JobIdempotencySweep = "idempotency-sweep"
	JobReorderAlerts    = "reorder-alerts"

	lockPrefix = "stockledger:lock:"
)

// Intervals configures how often each job runs. Zero values take defaults.
type Intervals struct {
	ReservationSweep time.Duration
	IdempotencySweep time.Duration
	ReorderAlerts    time.Duration
}

func (iv Intervals) withDefaults() Intervals {
	if iv.ReservationSweep <= 0 {
		iv.ReservationSweep = time.Minute
	}
	if iv.IdempotencySweep <= 0 {
		iv.IdempotencySweep = 5 * time.Minute
	}
	if iv.ReorderAlerts <= 0 {
		iv.ReorderAlerts = 30 * time.Minute
	}
	return iv
}

// JobScheduler runs the periodic maintenance jobs. With a locker, a job runs
// on at most one replica per tick.
type JobScheduler struct {
	scheduler    gocron.Scheduler
	reservations services.ReservationService
	idempotency  caching.IdempotencyStore
	alerts       *jobs.InventoryAlertService
	locker       *redislock.Client
	intervals    Intervals
	logger       logrus.FieldLogger

	ctx    context.Context
	cancel context.CancelFunc

	jobJobs map[string]gocron.Job
	mu      sync.RWMutex
}

// NewJobScheduler creates a new job scheduler. locker may be nil.
func NewJobScheduler(reservations services.ReservationService, idempotency caching.IdempotencyStore,
	alerts *jobs.InventoryAlertService, locker *redislock.Client, intervals Intervals, logger logrus.FieldLogger) (*JobScheduler, error) {

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	js := &JobScheduler{
		scheduler:    scheduler,
		reservations: reservations,
		idempotency:  idempotency,
		alerts:       alerts,
		locker:       locker,
		intervals:    intervals.withDefaults(),
		logger:       logger,
		ctx:          ctx,
		cancel:       cancel,
		jobJobs:      make(map[string]gocron.Job),
	}

	if err := js.registerJobs(); err != nil {
		cancel()
		_ = scheduler.Shutdown()
		return nil, err
	}
	return js, nil
}

func (js *JobScheduler) Start() {
	js.logger.WithField("jobs", js.JobNames()).Info("starting background job scheduler")
	js.scheduler.Start()
}

// Stop cancels running jobs and waits for them to return.
func (js *JobScheduler) Stop() error {
	js.logger.Info("stopping background job scheduler")
	js.cancel()
	return js.scheduler.Shutdown()
}

// JobNames lists the registered jobs.
func (js *JobScheduler) JobNames() []string {
	js.mu.RLock()
	defer js.mu.RUnlock()
	names := make([]string, 0, len(js.jobJobs))
	for name := range js.jobJobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (js *JobScheduler) registerJobs() error {
	defs := []struct {
		name     string
		interval time.Duration
		run      func(context.Context) error
	}{
		{JobReservationSweep, js.intervals.ReservationSweep, js.RunReservationSweep},
		{JobIdempotencySweep, js.intervals.IdempotencySweep, js.RunIdempotencySweep},
		{JobReorderAlerts, js.intervals.ReorderAlerts, js.alerts.ScheduledLowStockCheck},
	}

	js.mu.Lock()
	defer js.mu.Unlock()
	for _, def := range defs {
		name, run, ttl := def.name, def.run, def.interval
		job, err := js.scheduler.NewJob(
			gocron.DurationJob(def.interval),
			gocron.NewTask(func(ctx context.Context) {
				if err := js.locked(ctx, name, ttl, run); err != nil {
					js.logger.WithError(err).WithField("job", name).Error("background job failed")
				}
			}, js.ctx),
			gocron.WithName(name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return fmt.Errorf("register %s: %w", name, err)
		}
		js.jobJobs[name] = job
	}
	return nil
}

// locked runs fn under a Redis lock named after the job. A lock held elsewhere
// skips this tick; an unreachable Redis runs fn anyway since every job is idempotent.
func (js *JobScheduler) locked(ctx context.Context, name string, ttl time.Duration, fn func(context.Context) error) error {
	if js.locker == nil {
		return fn(ctx)
	}

	lock, err := js.locker.Obtain(ctx, lockPrefix+name, ttl, nil)
	switch {
	case errors.Is(err, redislock.ErrNotObtained):
		js.logger.WithField("job", name).Debug("job lock held by another replica; skipping")
		return nil
	case err != nil:
		js.logger.WithError(err).WithField("job", name).Warn("error obtaining job lock; running without it")
		return fn(ctx)
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			js.logger.WithError(err).WithField("job", name).Warn("failed to release job lock")
		}
	}()
	return fn(ctx)
}

// RunReservationSweep releases every expired reservation.
func (js *JobScheduler) RunReservationSweep(ctx context.Context) error {
	_, err := js.reservations.ReleaseExpiredReservations(ctx)
	return err
}

// RunIdempotencySweep drops expired idempotency records.
func (js *JobScheduler) RunIdempotencySweep(ctx context.Context) error {
	removed, err := js.idempotency.Sweep(ctx)
	if err != nil {
		return err
	}
	if removed > 0 {
		js.logger.WithField("removed", removed).Debug("swept idempotency records")
	}
	return nil
}
