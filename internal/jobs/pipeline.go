package jobs

import (
	"context"
	"fmt"
	"log"

	"scribe/internal/logging"
	"scribe/internal/models"
)

// Writer identities recorded on rows each pipeline touches. The reclassifier
// skips items already stamped with the current cataloger identity, and the
// compiler excludes its own journal entries from compilation input. Bumping a
// version suffix deliberately re-opens all previously processed rows.
const (
	CatalogerID = "scribe-cataloger/v1"
	CompilerID  = "scribe-compiler/v1"
)

// Ledger job names.
const (
	MaintenanceJobName = "knowledge-maintenance"
	CompilationJobName = "nightly-compilation"
)

// MaintenancePipeline is the recurring hygiene job: snippet capture followed
// by the reclassification pass. Stages run in order; a stage error aborts the
// run and fails the ledger row, but committed per-row work stays committed.
type MaintenancePipeline struct {
	Capture    *CaptureStage
	Reclassify *ReclassifyStage
}

func (p *MaintenancePipeline) JobType() string { return models.JobTypeMaintenance }
func (p *MaintenancePipeline) JobName() string { return MaintenanceJobName }

func (p *MaintenancePipeline) Run(ctx context.Context) (*models.RunResult, error) {
	result := &models.RunResult{Stages: make(map[string]models.StageStats)}

	captureStats, err := p.Capture.Run(ctx)
	result.Stages["capture"] = captureStats
	if err != nil {
		return result, err
	}

	reclassifyStats, err := p.Reclassify.Run(ctx)
	result.Stages["reclassify"] = reclassifyStats
	if err != nil {
		return result, err
	}

	logging.WithJob(p.JobType(), p.JobName()).Info("maintenance run finished",
		"captured", captureStats.Applied,
		"capture_skipped", captureStats.Skipped,
		"reclassified", reclassifyStats.Applied,
		"reclassify_failed", reclassifyStats.Failed)
	return result, nil
}

// CompilationPipeline is the nightly job: similarity deduplication followed by
// document compilation across all active projects. A dedup failure does not
// keep the compiler from running; the night's documents matter more than the
// night's merge flags.
type CompilationPipeline struct {
	Dedup   *DedupStage
	Compile *CompileStage
}

func (p *CompilationPipeline) JobType() string { return models.JobTypeCompilation }
func (p *CompilationPipeline) JobName() string { return CompilationJobName }

func (p *CompilationPipeline) Run(ctx context.Context) (*models.RunResult, error) {
	result := &models.RunResult{Stages: make(map[string]models.StageStats)}

	dedupStats, dedupErr := p.Dedup.Run(ctx)
	result.Stages["dedup"] = dedupStats
	if dedupErr != nil {
		log.Printf("⚠️ [COMPILATION] Dedup stage failed, continuing with compilation: %v", dedupErr)
	}

	compileStats, err := p.Compile.Run(ctx)
	result.Stages["compile"] = compileStats
	if err != nil {
		return result, err
	}

	logging.WithJob(p.JobType(), p.JobName()).Info("compilation run finished",
		"merge_flags", dedupStats.Applied,
		"documents", compileStats.Applied,
		"skipped_categories", compileStats.Skipped)
	if dedupErr != nil {
		return result, fmt.Errorf("dedup stage: %w", dedupErr)
	}
	return result, nil
}
