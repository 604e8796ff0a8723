// Package worker runs the auto-pull scheduler: a small pool of workers that
// periodically executes import runs for data sources with auto_pull enabled.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/exef-io/exef/common"
	"github.com/exef-io/exef/model"
	"github.com/exef-io/exef/router"
)

// SystemActor is the triggered-by identity of scheduler-initiated runs.
const SystemActor = "auto-pull"

// ImportRunner executes one import run; satisfied by the flow engine.
type ImportRunner interface {
	RunImport(ctx context.Context, sourceID, taskID, triggeredBy string) (*model.ImportRun, error)
}

// Config configures the scheduler.
type Config struct {
	// TickInterval is how often due sources are scanned.
	TickInterval time.Duration

	// Concurrency bounds the number of parallel import runs.
	Concurrency int
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		TickInterval: time.Minute,
		Concurrency:  2,
	}
}

// job is one due source paired with its target task.
type job struct {
	sourceID string
	taskID   string
}

// Scheduler scans for due auto-pull sources and executes their import runs
// through a bounded worker pool. Run starts are additionally rate-limited so
// a large backlog cannot hammer external systems after downtime.
type Scheduler struct {
	router  *router.Router
	runner  ImportRunner
	cfg     Config
	limiter *rate.Limiter

	stopOnce sync.Once
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewScheduler builds a scheduler.
func NewScheduler(rt *router.Router, runner ImportRunner, cfg Config) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Minute
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Scheduler{
		router:   rt,
		runner:   runner,
		cfg:      cfg,
		limiter:  rate.NewLimiter(rate.Limit(1), cfg.Concurrency),
		stopChan: make(chan struct{}),
	}
}

// Start launches the tick loop. Stop terminates it and waits for in-flight
// runs to finish.
func (s *Scheduler) Start() {
	common.Logger.WithField("tick", s.cfg.TickInterval.String()).
		WithField("concurrency", s.cfg.Concurrency).
		Info("auto-pull scheduler started")
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.RunOnce(context.Background())
			}
		}
	}()
}

// Stop terminates the scheduler and waits for the loop to exit.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
	common.Logger.Info("auto-pull scheduler stopped")
}

// RunOnce scans every entity database for due sources and executes their
// runs, bounded by the configured concurrency.
func (s *Scheduler) RunOnce(ctx context.Context) {
	jobs := s.collectDue(time.Now())
	if len(jobs) == 0 {
		return
	}
	common.Logger.WithField("due", len(jobs)).Debug("auto-pull tick")

	sem := make(chan struct{}, s.cfg.Concurrency)
	var wg sync.WaitGroup
	for _, j := range jobs {
		if err := s.limiter.Wait(ctx); err != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(j job) {
			defer wg.Done()
			defer func() { <-sem }()
			if _, err := s.runner.RunImport(ctx, j.sourceID, j.taskID, SystemActor); err != nil {
				common.Logger.WithError(err).WithField("source", j.sourceID).Warn("auto-pull run failed")
			}
		}(j)
	}
	wg.Wait()
}

// collectDue gathers the due sources across the main database and every
// entity database reachable through the entity table.
func (s *Scheduler) collectDue(now time.Time) []job {
	var jobs []job
	seen := make(map[string]bool)

	appendFrom := func(dbNIP string) {
		db, err := s.router.ForNIP(dbNIP)
		if err != nil {
			common.Logger.WithError(err).WithField("nip", dbNIP).Warn("failed to open entity database")
			return
		}
		var sources []model.DataSource
		if err := db.Where("direction = ? AND active = ? AND auto_pull = ?",
			model.DirectionImport, true, true).Find(&sources).Error; err != nil {
			return
		}
		for _, src := range sources {
			if seen[src.ID] || !sourceDue(src, now) {
				continue
			}
			taskID, ok := currentTask(db, src.ProjectID, now)
			if !ok {
				continue
			}
			seen[src.ID] = true
			jobs = append(jobs, job{sourceID: src.ID, taskID: taskID})
		}
	}

	appendFrom("")
	if s.router.PerEntity() {
		var entities []model.Entity
		if err := s.router.Main().Where("archived = ?", false).Find(&entities).Error; err == nil {
			for _, e := range entities {
				if e.NIP != nil && *e.NIP != "" {
					appendFrom(*e.NIP)
				}
			}
		}
	}
	return jobs
}

// sourceDue reports whether the pull interval has elapsed since the last run.
func sourceDue(src model.DataSource, now time.Time) bool {
	if src.LastRunAt == nil {
		return true
	}
	interval := time.Duration(src.PullInterval) * time.Minute
	if interval <= 0 {
		interval = time.Hour
	}
	return now.Sub(*src.LastRunAt) >= interval
}

// currentTask picks the project task whose period contains now, falling back
// to the most recently created task.
func currentTask(db *gorm.DB, projectID string, now time.Time) (string, bool) {
	var task model.Task
	err := db.Where("project_id = ? AND period_start <= ? AND period_end >= ?",
		projectID, now, now).Order("period_start DESC").First(&task).Error
	if err == nil {
		return task.ID, true
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false
	}
	if err := db.Where("project_id = ?", projectID).
		Order("created_at DESC").First(&task).Error; err != nil {
		return "", false
	}
	return task.ID, true
}
