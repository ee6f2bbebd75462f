package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// ErrSweepRunning is returned when a reconciliation pass is already in progress
var ErrSweepRunning = errors.New("reconciliation sweep already running")

const sweepTimeout = 5 * time.Minute

// Sweeper runs one reconciliation pass
type Sweeper interface {
	Sweep(ctx context.Context) (*SweepReport, error)
}

// Cleaner prunes expired rows and reports how many were removed
type Cleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

type cleanupJob struct {
	name     string
	schedule string
	cleaner  Cleaner
}

// CronService manages scheduled background jobs
type CronService struct {
	cron     *cron.Cron
	sweeper  Sweeper
	schedule string
	cleanups []cleanupJob
	logger   *logrus.Logger

	mu         sync.Mutex
	running    bool
	lastReport *SweepReport
	lastError  string
	lastRunAt  time.Time
}

// NewCronService creates a new CronService. schedule is a cron spec with seconds.
func NewCronService(sweeper Sweeper, schedule string, logger *logrus.Logger) *CronService {
	return &CronService{
		cron:     cron.New(cron.WithSeconds()),
		sweeper:  sweeper,
		schedule: schedule,
		logger:   logger,
	}
}

// AddCleanup registers a housekeeping job. Must be called before Start.
func (s *CronService) AddCleanup(name, schedule string, cleaner Cleaner) {
	s.cleanups = append(s.cleanups, cleanupJob{name: name, schedule: schedule, cleaner: cleaner})
}

// Start schedules the reconciliation sweep and starts the scheduler
func (s *CronService) Start() error {
	// "0 */10 * * * *" = every 10 minutes
	if _, err := s.cron.AddFunc(s.schedule, s.reconcileJob); err != nil {
		return fmt.Errorf("failed to schedule reconciliation job: %w", err)
	}
	for _, job := range s.cleanups {
		job := job
		if _, err := s.cron.AddFunc(job.schedule, func() { s.runCleanup(job) }); err != nil {
			return fmt.Errorf("failed to schedule %s cleanup: %w", job.name, err)
		}
	}
	s.cron.Start()
	s.logger.WithField("schedule", s.schedule).Info("Cron service started")
	return nil
}

// Stop stops the scheduler and waits for a running job to finish
func (s *CronService) Stop() {
	s.logger.Info("Stopping cron service...")
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Cron service stopped")
}

func (s *CronService) reconcileJob() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	if _, err := s.RunReconcileNow(ctx); err != nil && !errors.Is(err, ErrSweepRunning) {
		s.logger.WithError(err).Error("[CRON] Reconciliation sweep failed")
	}
}

func (s *CronService) runCleanup(job cleanupJob) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	removed, err := job.cleaner.CleanupExpired(ctx)
	if err != nil {
		s.logger.WithError(err).WithField("job", job.name).Error("[CRON] Cleanup failed")
		return
	}
	s.logger.WithFields(logrus.Fields{"job": job.name, "removed": removed}).Info("[CRON] Cleanup finished")
}

// RunReconcileNow runs a sweep immediately unless one is already running
func (s *CronService) RunReconcileNow(ctx context.Context) (*SweepReport, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, ErrSweepRunning
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info("[CRON] Starting reconciliation sweep")
	report, err := s.sweeper.Sweep(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.lastRunAt = time.Now()
	if err != nil {
		s.lastError = err.Error()
		return nil, err
	}
	s.lastError = ""
	s.lastReport = report
	return report, nil
}

// GetJobStatus returns the scheduler state and the last sweep outcome
func (s *CronService) GetJobStatus() map[string]interface{} {
	entries := s.cron.Entries()

	jobs := make([]map[string]interface{}, 0, len(entries))
	for _, entry := range entries {
		jobs = append(jobs, map[string]interface{}{
			"id":       entry.ID,
			"next_run": entry.Next,
			"prev_run": entry.Prev,
		})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	status := map[string]interface{}{
		"schedule":      s.schedule,
		"scheduled":     len(entries) > 0,
		"sweep_running": s.running,
		"job_count":     len(entries),
		"jobs":          jobs,
		"last_report":   s.lastReport,
	}
	if !s.lastRunAt.IsZero() {
		status["last_run_at"] = s.lastRunAt
	}
	if s.lastError != "" {
		status["last_error"] = s.lastError
	}
	return status
}
