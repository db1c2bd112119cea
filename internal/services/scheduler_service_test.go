package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"scribe/internal/database"
	"scribe/internal/models"
)

type stubPipeline struct {
	name   string
	result *models.RunResult
	err    error
	runs   int
}

func (p *stubPipeline) JobType() string { return models.JobTypeMaintenance }
func (p *stubPipeline) JobName() string { return p.name }
func (p *stubPipeline) Run(ctx context.Context) (*models.RunResult, error) {
	p.runs++
	return p.result, p.err
}

func newTestScheduler(t *testing.T) (*SchedulerService, *database.DB) {
	t.Helper()
	db := newTestDB(t)
	s, err := NewSchedulerService(db, "UTC")
	if err != nil {
		t.Fatalf("failed to create scheduler: %v", err)
	}
	t.Cleanup(func() { s.Stop() })
	return s, db
}

func TestRegisterJobIsIdempotent(t *testing.T) {
	s, db := newTestScheduler(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := s.RegisterJob(ctx, models.JobTypeMaintenance, "hygiene", "*/30 * * * *", nil); err != nil {
			t.Fatalf("RegisterJob attempt %d failed: %v", i, err)
		}
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM schedule_jobs WHERE job_name = 'hygiene'`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("expected 1 ledger row, got %d", count)
	}

	job, err := s.GetJob(ctx, "hygiene")
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != models.JobStatusIdle {
		t.Errorf("seeded job status = %s, want idle", job.Status)
	}
	if job.NextRunAt == nil {
		t.Error("seeded job should have next_run_at computed")
	}
}

func TestRegisterJobRejectsBadCron(t *testing.T) {
	s, _ := newTestScheduler(t)
	if err := s.RegisterJob(context.Background(), models.JobTypeMaintenance, "bad", "not a cron", nil); err == nil {
		t.Error("expected error for invalid cron expression")
	}
}

func TestTriggerJobRecordsCompletion(t *testing.T) {
	s, _ := newTestScheduler(t)
	ctx := context.Background()

	p := &stubPipeline{
		name: "hygiene",
		result: &models.RunResult{
			Stages: map[string]models.StageStats{"capture": {Processed: 3, Applied: 2, Skipped: 1}},
		},
	}
	if err := s.AddPipeline(ctx, p, "*/30 * * * *", nil); err != nil {
		t.Fatal(err)
	}

	if err := s.TriggerJob(ctx, "hygiene"); err != nil {
		t.Fatal(err)
	}
	if p.runs != 1 {
		t.Fatalf("pipeline ran %d times, want 1", p.runs)
	}

	job, err := s.GetJob(ctx, "hygiene")
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != models.JobStatusCompleted {
		t.Errorf("status = %s, want completed", job.Status)
	}
	if job.LastRunAt == nil {
		t.Error("last_run_at not set")
	}
	if job.LastResult == nil {
		t.Fatal("last_result not recorded")
	}
	if got := job.LastResult.Stages["capture"].Applied; got != 2 {
		t.Errorf("recorded capture.applied = %d, want 2", got)
	}
}

func TestTriggerJobRecordsFailure(t *testing.T) {
	s, _ := newTestScheduler(t)
	ctx := context.Background()

	p := &stubPipeline{name: "hygiene", err: errors.New("collaborator unreachable")}
	if err := s.AddPipeline(ctx, p, "*/30 * * * *", nil); err != nil {
		t.Fatal(err)
	}

	if err := s.TriggerJob(ctx, "hygiene"); err != nil {
		t.Fatal(err)
	}

	job, err := s.GetJob(ctx, "hygiene")
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != models.JobStatusFailed {
		t.Errorf("status = %s, want failed", job.Status)
	}
	if job.LastError != "collaborator unreachable" {
		t.Errorf("last_error = %q", job.LastError)
	}

	// A failed run must not block the next firing.
	if err := s.TriggerJob(ctx, "hygiene"); err != nil {
		t.Fatal(err)
	}
	if p.runs != 2 {
		t.Errorf("pipeline ran %d times after retry, want 2", p.runs)
	}
}

func TestTriggerJobSkipsWhileRunning(t *testing.T) {
	s, db := newTestScheduler(t)
	ctx := context.Background()

	p := &stubPipeline{name: "hygiene", result: &models.RunResult{}}
	if err := s.AddPipeline(ctx, p, "*/30 * * * *", nil); err != nil {
		t.Fatal(err)
	}

	// Simulate a firing still in flight.
	staleRun := database.FormatTime(time.Now().Add(-time.Minute).UTC())
	if _, err := db.Exec(
		`UPDATE schedule_jobs SET status = ?, last_run_at = ? WHERE job_name = 'hygiene'`,
		models.JobStatusRunning, staleRun); err != nil {
		t.Fatal(err)
	}

	if err := s.TriggerJob(ctx, "hygiene"); err != nil {
		t.Fatal(err)
	}
	if p.runs != 0 {
		t.Fatalf("overlapping firing ran the pipeline %d times, want 0", p.runs)
	}

	job, err := s.GetJob(ctx, "hygiene")
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != models.JobStatusRunning {
		t.Errorf("status = %s, want running left untouched", job.Status)
	}
	if got := database.FormatTime(job.LastRunAt.UTC()); got != staleRun {
		t.Errorf("skip overwrote last_run_at: %s != %s", got, staleRun)
	}
}

func TestTriggerJobSkipsDisabled(t *testing.T) {
	s, _ := newTestScheduler(t)
	ctx := context.Background()

	p := &stubPipeline{name: "hygiene", result: &models.RunResult{}}
	if err := s.AddPipeline(ctx, p, "*/30 * * * *", nil); err != nil {
		t.Fatal(err)
	}
	if err := s.SetEnabled(ctx, "hygiene", false); err != nil {
		t.Fatal(err)
	}

	if err := s.TriggerJob(ctx, "hygiene"); err != nil {
		t.Fatal(err)
	}
	if p.runs != 0 {
		t.Errorf("disabled job ran %d times, want 0", p.runs)
	}
}

func TestStartRecoversInterruptedRuns(t *testing.T) {
	s, db := newTestScheduler(t)
	ctx := context.Background()

	p := &stubPipeline{name: "hygiene", result: &models.RunResult{}}
	if err := s.AddPipeline(ctx, p, "*/30 * * * *", nil); err != nil {
		t.Fatal(err)
	}

	// A kill mid-run leaves the ledger row stuck at running.
	if _, err := db.Exec(
		`UPDATE schedule_jobs SET status = ? WHERE job_name = 'hygiene'`,
		models.JobStatusRunning); err != nil {
		t.Fatal(err)
	}

	// Fresh process over the same database.
	restarted, err := NewSchedulerService(db, "UTC")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { restarted.Stop() })
	p2 := &stubPipeline{name: "hygiene", result: &models.RunResult{}}
	if err := restarted.AddPipeline(ctx, p2, "*/30 * * * *", nil); err != nil {
		t.Fatal(err)
	}
	if err := restarted.Start(ctx); err != nil {
		t.Fatal(err)
	}

	job, err := restarted.GetJob(ctx, "hygiene")
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != models.JobStatusFailed {
		t.Errorf("status after restart = %s, want failed", job.Status)
	}
	if job.LastError != "run interrupted by restart" {
		t.Errorf("last_error = %q", job.LastError)
	}

	// The overlap guard must admit firings again.
	if err := restarted.TriggerJob(ctx, "hygiene"); err != nil {
		t.Fatal(err)
	}
	if p2.runs != 1 {
		t.Fatalf("pipeline ran %d times after recovery, want 1", p2.runs)
	}
	job, err = restarted.GetJob(ctx, "hygiene")
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != models.JobStatusCompleted {
		t.Errorf("status after recovered firing = %s, want completed", job.Status)
	}
}

func TestRegisterJobRefreshesCronExpression(t *testing.T) {
	s, db := newTestScheduler(t)
	ctx := context.Background()

	p := &stubPipeline{name: "hygiene", result: &models.RunResult{}}
	if err := s.AddPipeline(ctx, p, "*/30 * * * *", nil); err != nil {
		t.Fatal(err)
	}
	// Give the row some history before the schedule changes.
	if err := s.TriggerJob(ctx, "hygiene"); err != nil {
		t.Fatal(err)
	}

	// Operator changes the cron setting and the process restarts.
	restarted, err := NewSchedulerService(db, "UTC")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { restarted.Stop() })
	p2 := &stubPipeline{name: "hygiene", result: &models.RunResult{}}
	if err := restarted.AddPipeline(ctx, p2, "0 4 * * *", nil); err != nil {
		t.Fatal(err)
	}

	job, err := restarted.GetJob(ctx, "hygiene")
	if err != nil {
		t.Fatal(err)
	}
	if job.CronExpression != "0 4 * * *" {
		t.Errorf("cron_expression = %q, want refreshed to %q", job.CronExpression, "0 4 * * *")
	}
	if job.NextRunAt == nil {
		t.Error("next_run_at not recomputed for the new schedule")
	}
	// Refreshing the schedule must not rewrite run history.
	if job.Status != models.JobStatusCompleted {
		t.Errorf("status = %s, want completed history preserved", job.Status)
	}
	if job.LastRunAt == nil {
		t.Error("last_run_at lost on re-registration")
	}
}

func TestTriggerJobUnknownPipeline(t *testing.T) {
	s, _ := newTestScheduler(t)
	if err := s.TriggerJob(context.Background(), "no-such-job"); err == nil {
		t.Error("expected error for unregistered pipeline")
	}
}
