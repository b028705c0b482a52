package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/seat-booking-core/internal/models"
)

// Job names accepted by RunJob
const (
	JobMaterialize = "materialize"
	JobArchive     = "archive"
	JobSweep       = "sweep"
)

const jobTimeout = 5 * time.Minute

// InventoryJobs is the trip inventory maintenance the scheduler drives
type InventoryJobs interface {
	MaterializeUpcoming(ctx context.Context, days int) (int, error)
	ArchiveDeparted(ctx context.Context, retention time.Duration) (int64, time.Time, error)
}

// DepartedEvicter drops in-memory seat tables of departed trips
type DepartedEvicter interface {
	EvictDeparted(cutoff time.Time) int
}

// Sweeper runs one hold expiration cycle
type Sweeper interface {
	RunOnce(ctx context.Context) (SweepResult, error)
}

// CronSchedule holds the job settings taken from the booking config
type CronSchedule struct {
	MaterializeDaysAhead int
	RetentionDays        int
	Location             *time.Location
}

// JobRun is the outcome of one job execution
type JobRun struct {
	Job      string        `json:"job"`
	Trigger  string        `json:"trigger"`
	StartAt  time.Time     `json:"started_at"`
	Duration time.Duration `json:"duration_ns"`
	Affected int64         `json:"affected"`
	Error    string        `json:"error,omitempty"`
}

// CronService manages scheduled background jobs
type CronService struct {
	cron      *cron.Cron
	inventory InventoryJobs
	ledger    DepartedEvicter
	sweeper   Sweeper
	schedule  CronSchedule
	logger    *logrus.Logger

	mu      sync.Mutex
	lastRun map[string]JobRun
	entries map[string]cron.EntryID
}

// NewCronService creates a new CronService
func NewCronService(
	inventory InventoryJobs,
	ledger DepartedEvicter,
	sweeper Sweeper,
	schedule CronSchedule,
	logger *logrus.Logger,
) *CronService {
	if schedule.Location == nil {
		schedule.Location = time.UTC
	}
	if schedule.MaterializeDaysAhead <= 0 {
		schedule.MaterializeDaysAhead = 7
	}
	if schedule.RetentionDays <= 0 {
		schedule.RetentionDays = 30
	}

	// Create cron with seconds precision in the trip timezone
	c := cron.New(cron.WithSeconds(), cron.WithLocation(schedule.Location))

	return &CronService{
		cron:      c,
		inventory: inventory,
		ledger:    ledger,
		sweeper:   sweeper,
		schedule:  schedule,
		logger:    logger,
		lastRun:   make(map[string]JobRun),
		entries:   make(map[string]cron.EntryID),
	}
}

// Start starts all cron jobs
func (s *CronService) Start() error {
	s.logger.Info("Starting cron service")

	// Cron format: second minute hour day month weekday
	jobs := []struct {
		name string
		spec string
	}{
		// Job 1: Materialize upcoming trip inventories daily at 2 AM
		{JobMaterialize, "0 0 2 * * *"},
		// Job 2: Archive departed trip inventories daily at 3 AM
		{JobArchive, "0 0 3 * * *"},
	}

	for _, job := range jobs {
		name := job.name
		id, err := s.cron.AddFunc(job.spec, func() { s.runScheduled(name) })
		if err != nil {
			return fmt.Errorf("failed to schedule %s job: %w", name, err)
		}
		s.mu.Lock()
		s.entries[name] = id
		s.mu.Unlock()
		s.logger.WithFields(logrus.Fields{"job": name, "spec": job.spec}).Info("Scheduled cron job")
	}

	s.cron.Start()
	s.logger.Info("Cron service started")
	return nil
}

// Stop stops all cron jobs and waits for running ones
func (s *CronService) Stop() {
	s.logger.Info("Stopping cron service")
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Cron service stopped")
}

func (s *CronService) runScheduled(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	_, _ = s.run(ctx, name, "schedule")
}

// RunJob runs a job immediately (admin trigger)
func (s *CronService) RunJob(ctx context.Context, name string) (JobRun, error) {
	switch name {
	case JobMaterialize, JobArchive, JobSweep:
	default:
		return JobRun{}, models.NewBookingError(models.KindInvalidRequest, nil, "unknown job %q", name)
	}
	return s.run(ctx, name, "manual")
}

func (s *CronService) run(ctx context.Context, name, trigger string) (JobRun, error) {
	run := JobRun{Job: name, Trigger: trigger, StartAt: time.Now()}
	log := s.logger.WithFields(logrus.Fields{"job": name, "trigger": trigger})
	log.Info("[CRON] Starting job")

	var err error
	switch name {
	case JobMaterialize:
		var n int
		n, err = s.inventory.MaterializeUpcoming(ctx, s.schedule.MaterializeDaysAhead)
		run.Affected = int64(n)

	case JobArchive:
		var cutoff time.Time
		run.Affected, cutoff, err = s.inventory.ArchiveDeparted(ctx, time.Duration(s.schedule.RetentionDays)*24*time.Hour)
		if err == nil && s.ledger != nil {
			evicted := s.ledger.EvictDeparted(cutoff)
			log.WithField("evicted", evicted).Debug("Evicted departed seat tables")
		}

	case JobSweep:
		if s.sweeper == nil {
			err = fmt.Errorf("no sweeper configured")
			break
		}
		var res SweepResult
		res, err = s.sweeper.RunOnce(ctx)
		run.Affected = int64(res.Expired)
	}

	run.Duration = time.Since(run.StartAt)
	if err != nil {
		run.Error = err.Error()
		log.WithError(err).Error("[CRON ERROR] Job failed")
	} else {
		log.WithFields(logrus.Fields{
			"affected": run.Affected,
			"duration": run.Duration.String(),
		}).Info("[CRON] Job completed")
	}

	s.mu.Lock()
	s.lastRun[name] = run
	s.mu.Unlock()
	return run, err
}

// GetJobStatus returns the status of scheduled jobs
func (s *CronService) GetJobStatus() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := []string{JobMaterialize, JobArchive, JobSweep}
	sort.Strings(names)

	jobs := make([]map[string]interface{}, 0, len(names))
	for _, name := range names {
		job := map[string]interface{}{"job": name}
		if id, ok := s.entries[name]; ok {
			entry := s.cron.Entry(id)
			job["next_run"] = entry.Next
			job["prev_run"] = entry.Prev
		}
		if run, ok := s.lastRun[name]; ok {
			job["last_run"] = run
		}
		jobs = append(jobs, job)
	}

	return map[string]interface{}{
		"running":   len(s.entries) > 0,
		"job_count": len(s.entries),
		"jobs":      jobs,
	}
}
