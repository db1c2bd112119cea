package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/robfig/cron/v3"

	"scribe/internal/database"
	"scribe/internal/models"
)

// Pipeline is a named unit of scheduled work. The scheduler owns its ledger
// row; the pipeline only reports counters.
type Pipeline interface {
	JobType() string
	JobName() string
	Run(ctx context.Context) (*models.RunResult, error)
}

// SchedulerService is the job ledger plus the cron runtime. The ledger's
// running-status check-and-set is the sole overlap guard: there is no lock
// service, and a firing that observes `running` is dropped with a logged skip.
type SchedulerService struct {
	db        *database.DB
	scheduler gocron.Scheduler
	timezone  string
	location  *time.Location
	mu        sync.RWMutex
	pipelines map[string]Pipeline
}

// cronParser matches the standard five-field cron format.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// NewSchedulerService creates the scheduler. All cron evaluation happens in
// the single configured timezone to avoid daylight-saving ambiguity in daily
// boundaries.
func NewSchedulerService(db *database.DB, timezone string) (*SchedulerService, error) {
	location, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %s: %w", timezone, err)
	}

	scheduler, err := gocron.NewScheduler(
		gocron.WithLocation(location),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	return &SchedulerService{
		db:        db,
		scheduler: scheduler,
		timezone:  timezone,
		location:  location,
		pipelines: make(map[string]Pipeline),
	}, nil
}

// RegisterJob seeds a ledger row if it does not exist yet. Re-registering an
// existing (job_type, job_name) pair is a no-op, so deployment seeding is
// idempotent.
func (s *SchedulerService) RegisterJob(ctx context.Context, jobType, jobName, cronExpr string, config map[string]any) error {
	if _, err := cronParser.Parse(cronExpr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}

	var configJSON any
	if len(config) > 0 {
		b, err := json.Marshal(config)
		if err != nil {
			return fmt.Errorf("failed to marshal job config: %w", err)
		}
		configJSON = string(b)
	}

	now := time.Now()
	nextRun := s.nextRunTime(cronExpr, now)

	var stmt string
	if s.db.Driver() == "mysql" {
		stmt = `INSERT IGNORE INTO schedule_jobs
			(job_type, job_name, cron_expression, timezone, enabled, status, next_run_at, config, created_at, updated_at)
			VALUES (?, ?, ?, ?, 1, ?, ?, ?, ?, ?)`
	} else {
		stmt = `INSERT OR IGNORE INTO schedule_jobs
			(job_type, job_name, cron_expression, timezone, enabled, status, next_run_at, config, created_at, updated_at)
			VALUES (?, ?, ?, ?, 1, ?, ?, ?, ?, ?)`
	}

	res, err := s.db.ExecContext(ctx, stmt,
		jobType, jobName, cronExpr, s.timezone, models.JobStatusIdle,
		database.FormatTime(nextRun), configJSON,
		database.FormatTime(now.UTC()), database.FormatTime(now.UTC()),
	)
	if err != nil {
		return fmt.Errorf("failed to register job %s: %w", jobName, err)
	}
	if affected, _ := res.RowsAffected(); affected > 0 {
		log.Printf("📅 [SCHEDULER] Seeded ledger row for job %s (cron: %s, tz: %s)", jobName, cronExpr, s.timezone)
		return nil
	}

	// The row existed. Status and run history are never touched here, but a
	// changed cron expression must reach the ledger or the stored schedule
	// drifts from the one gocron actually fires.
	var stored string
	if err := s.db.QueryRowContext(ctx,
		`SELECT cron_expression FROM schedule_jobs WHERE job_name = ?`, jobName).Scan(&stored); err != nil {
		return fmt.Errorf("failed to read stored schedule for %s: %w", jobName, err)
	}
	if stored != cronExpr {
		_, err := s.db.ExecContext(ctx, `
			UPDATE schedule_jobs SET cron_expression = ?, timezone = ?, next_run_at = ?, updated_at = ?
			WHERE job_name = ?`,
			cronExpr, s.timezone, database.FormatTime(nextRun), database.FormatTime(now.UTC()), jobName)
		if err != nil {
			return fmt.Errorf("failed to update schedule for %s: %w", jobName, err)
		}
		log.Printf("🔁 [SCHEDULER] Schedule for job %s changed: %s -> %s", jobName, stored, cronExpr)
	}
	return nil
}

// AddPipeline registers a pipeline with the cron runtime and seeds its ledger
// row. The cron expression is prefixed with CRON_TZ so gocron evaluates it in
// the configured zone.
func (s *SchedulerService) AddPipeline(ctx context.Context, p Pipeline, cronExpr string, config map[string]any) error {
	if err := s.RegisterJob(ctx, p.JobType(), p.JobName(), cronExpr, config); err != nil {
		return err
	}

	s.mu.Lock()
	s.pipelines[p.JobName()] = p
	s.mu.Unlock()

	cronWithTZ := fmt.Sprintf("CRON_TZ=%s %s", s.timezone, cronExpr)
	jobName := p.JobName()

	_, err := s.scheduler.NewJob(
		gocron.CronJob(cronWithTZ, false),
		gocron.NewTask(func() {
			if err := s.TriggerJob(context.Background(), jobName); err != nil {
				log.Printf("❌ [SCHEDULER] Job %s firing failed: %v", jobName, err)
			}
		}),
		gocron.WithName(jobName),
		gocron.WithTags(p.JobType()),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", jobName, err)
	}

	log.Printf("⏰ [SCHEDULER] Pipeline %s scheduled (cron: %s)", jobName, cronExpr)
	return nil
}

// Start recovers ledger rows stranded by a crash, then starts the cron
// runtime.
func (s *SchedulerService) Start(ctx context.Context) error {
	if err := s.recoverInterruptedRuns(ctx); err != nil {
		return err
	}
	s.scheduler.Start()
	log.Printf("🚀 [SCHEDULER] Scheduler started with %d pipelines (tz: %s)", len(s.pipelines), s.timezone)
	return nil
}

// recoverInterruptedRuns resets rows stuck at running. This process is the
// only writer, so at boot a running status can only be the residue of a crash
// or kill mid-run; left alone it would make the overlap guard drop every
// future firing of that job.
func (s *SchedulerService) recoverInterruptedRuns(ctx context.Context) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE schedule_jobs SET status = ?, last_error = ?, updated_at = ?
		WHERE status = ?`,
		models.JobStatusFailed, "run interrupted by restart",
		database.FormatTime(time.Now().UTC()), models.JobStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to recover interrupted runs: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected > 0 {
		log.Printf("♻️ [SCHEDULER] Reset %d interrupted run(s) to failed", affected)
	}
	return nil
}

// Stop shuts the cron runtime down. A run already in flight completes; a
// missed firing is simply skipped until the next natural occurrence.
func (s *SchedulerService) Stop() error {
	log.Println("🛑 [SCHEDULER] Stopping scheduler...")
	return s.scheduler.Shutdown()
}

// TriggerJob begins a run only if the job's ledger status is not `running`.
// The status transition is one UPDATE with the status predicate in the WHERE
// clause, so no two firings can both observe a non-running state and proceed.
func (s *SchedulerService) TriggerJob(ctx context.Context, jobName string) error {
	s.mu.RLock()
	pipeline, exists := s.pipelines[jobName]
	s.mu.RUnlock()
	if !exists {
		return fmt.Errorf("no pipeline registered for job %s", jobName)
	}

	startedAt := time.Now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE schedule_jobs
		SET status = ?, last_run_at = ?, updated_at = ?
		WHERE job_name = ? AND enabled = 1 AND status <> ?`,
		models.JobStatusRunning,
		database.FormatTime(startedAt.UTC()), database.FormatTime(startedAt.UTC()),
		jobName, models.JobStatusRunning,
	)
	if err != nil {
		return fmt.Errorf("failed to claim job %s: %w", jobName, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read claim result for %s: %w", jobName, err)
	}
	if affected == 0 {
		// Overlap guard (or disabled job): the firing is dropped. `skipped`
		// is only ever a log line, never a stored terminal state.
		log.Printf("⏭️ [SCHEDULER] Job %s skipped (already running or disabled)", jobName)
		if m := GetMetrics(); m != nil {
			m.RecordJobSkip(jobName)
		}
		return nil
	}

	log.Printf("▶️ [SCHEDULER] Running job %s", jobName)
	s.runPipeline(ctx, pipeline, startedAt)
	return nil
}

// runPipeline executes one firing to completion and records the outcome. A
// panic escaping the pipeline is terminal for this firing only; work already
// committed stays committed, and the next firing is governed purely by cron.
func (s *SchedulerService) runPipeline(ctx context.Context, p Pipeline, startedAt time.Time) {
	jobName := p.JobName()

	defer func() {
		if r := recover(); r != nil {
			log.Printf("❌ [SCHEDULER] Job %s panicked: %v", jobName, r)
			s.recordFailure(ctx, jobName, fmt.Sprintf("panic: %v", r), startedAt)
		}
	}()

	result, err := p.Run(ctx)
	duration := time.Since(startedAt)

	if err != nil {
		log.Printf("❌ [SCHEDULER] Job %s failed after %v: %v", jobName, duration, err)
		s.recordFailure(ctx, jobName, err.Error(), startedAt)
		return
	}

	if result == nil {
		result = &models.RunResult{}
	}
	result.StartedAt = startedAt.UTC()
	result.FinishedAt = startedAt.Add(duration).UTC()
	result.DurationMS = duration.Milliseconds()

	s.recordCompletion(ctx, jobName, result, startedAt)
	log.Printf("✅ [SCHEDULER] Job %s completed in %v", jobName, duration)
}

// recordCompletion moves the ledger row to completed with the structured result.
func (s *SchedulerService) recordCompletion(ctx context.Context, jobName string, result *models.RunResult, startedAt time.Time) {
	nextRun := s.nextRunForJob(ctx, jobName)
	_, err := s.db.ExecContext(ctx, `
		UPDATE schedule_jobs
		SET status = ?, last_result = ?, last_error = NULL, next_run_at = ?, updated_at = ?
		WHERE job_name = ?`,
		models.JobStatusCompleted, result.Marshal(),
		database.FormatTimePtr(nextRun), database.FormatTime(time.Now().UTC()),
		jobName,
	)
	if err != nil {
		log.Printf("⚠️ [SCHEDULER] Failed to record completion for %s: %v", jobName, err)
	}
	if m := GetMetrics(); m != nil {
		m.RecordJobRun(jobName, models.JobStatusCompleted, time.Since(startedAt).Seconds())
	}
}

// recordFailure moves the ledger row to failed with the error message.
func (s *SchedulerService) recordFailure(ctx context.Context, jobName, errMsg string, startedAt time.Time) {
	nextRun := s.nextRunForJob(ctx, jobName)
	_, err := s.db.ExecContext(ctx, `
		UPDATE schedule_jobs
		SET status = ?, last_error = ?, next_run_at = ?, updated_at = ?
		WHERE job_name = ?`,
		models.JobStatusFailed, errMsg,
		database.FormatTimePtr(nextRun), database.FormatTime(time.Now().UTC()),
		jobName,
	)
	if err != nil {
		log.Printf("⚠️ [SCHEDULER] Failed to record failure for %s: %v", jobName, err)
	}
	if m := GetMetrics(); m != nil {
		m.RecordJobRun(jobName, models.JobStatusFailed, time.Since(startedAt).Seconds())
	}
}

// GetJob returns one ledger row. This is the minimal operational surface an
// external status endpoint or dashboard can be built on.
func (s *SchedulerService) GetJob(ctx context.Context, jobName string) (*models.ScheduleJob, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, job_type, job_name, cron_expression, timezone, enabled, status,
		       last_run_at, next_run_at, COALESCE(last_result, ''), COALESCE(last_error, ''),
		       COALESCE(config, ''), created_at, updated_at
		FROM schedule_jobs WHERE job_name = ?`, jobName)

	job, err := scanScheduleJob(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job %s not found", jobName)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", jobName, err)
	}
	return job, nil
}

// ListJobs returns every ledger row.
func (s *SchedulerService) ListJobs(ctx context.Context) ([]models.ScheduleJob, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_type, job_name, cron_expression, timezone, enabled, status,
		       last_run_at, next_run_at, COALESCE(last_result, ''), COALESCE(last_error, ''),
		       COALESCE(config, ''), created_at, updated_at
		FROM schedule_jobs ORDER BY job_type, job_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.ScheduleJob
	for rows.Next() {
		job, err := scanScheduleJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// SetEnabled pauses or resumes a job without touching its schedule.
func (s *SchedulerService) SetEnabled(ctx context.Context, jobName string, enabled bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE schedule_jobs SET enabled = ?, updated_at = ? WHERE job_name = ?`,
		enabled, database.FormatTime(time.Now().UTC()), jobName)
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", jobName, err)
	}
	return nil
}

// nextRunTime computes the next firing after `from` in the scheduler's zone.
func (s *SchedulerService) nextRunTime(cronExpr string, from time.Time) time.Time {
	schedule, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}
	}
	return schedule.Next(from.In(s.location))
}

// nextRunForJob recomputes next_run_at from the job's stored cron expression.
func (s *SchedulerService) nextRunForJob(ctx context.Context, jobName string) *time.Time {
	var cronExpr string
	err := s.db.QueryRowContext(ctx,
		`SELECT cron_expression FROM schedule_jobs WHERE job_name = ?`, jobName).Scan(&cronExpr)
	if err != nil {
		return nil
	}
	next := s.nextRunTime(cronExpr, time.Now())
	if next.IsZero() {
		return nil
	}
	return &next
}

func scanScheduleJob(row rowScanner) (*models.ScheduleJob, error) {
	var job models.ScheduleJob
	var lastRunAt, nextRunAt sql.NullString
	var lastResult, lastError, configRaw string
	var createdAt, updatedAt string

	err := row.Scan(&job.ID, &job.JobType, &job.JobName, &job.CronExpression, &job.Timezone,
		&job.Enabled, &job.Status, &lastRunAt, &nextRunAt, &lastResult, &lastError,
		&configRaw, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	job.LastRunAt = database.ParseNullTime(lastRunAt)
	job.NextRunAt = database.ParseNullTime(nextRunAt)
	job.LastResult = models.ParseRunResult(lastResult)
	job.LastError = lastError
	if configRaw != "" {
		if err := json.Unmarshal([]byte(configRaw), &job.Config); err != nil {
			job.Config = nil
		}
	}
	job.CreatedAt = database.ParseTime(createdAt)
	job.UpdatedAt = database.ParseTime(updatedAt)
	return &job, nil
}
