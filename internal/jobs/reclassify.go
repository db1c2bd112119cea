package jobs

import (
	"context"
	"fmt"
	"log"

	"scribe/internal/config"
	"scribe/internal/models"
	"scribe/internal/services"
)

// ReclassifyStage walks knowledge items not yet stamped by the current
// cataloger identity, oldest first, and asks the classifier to validate each
// item's category against the taxonomy vocabulary. The stamp is the only
// progress marker: an item that fails stays unstamped and is naturally
// reselected next firing.
type ReclassifyStage struct {
	Knowledge  *services.KnowledgeService
	Classifier services.Classifier
	Taxonomy   func() *config.Taxonomy
	BatchSize  int
}

func NewReclassifyStage(knowledge *services.KnowledgeService, classifier services.Classifier,
	taxonomy func() *config.Taxonomy, batchSize int) *ReclassifyStage {
	return &ReclassifyStage{
		Knowledge:  knowledge,
		Classifier: classifier,
		Taxonomy:   taxonomy,
		BatchSize:  batchSize,
	}
}

// Run processes at most one batch. Per-item failures are logged and skipped;
// only a batch-level query failure aborts the stage.
func (s *ReclassifyStage) Run(ctx context.Context) (models.StageStats, error) {
	var stats models.StageStats
	vocabulary := s.Taxonomy().Categories

	items, err := s.Knowledge.ListForReclassification(ctx, CatalogerID, s.BatchSize)
	if err != nil {
		return stats, fmt.Errorf("reclassify: list items: %w", err)
	}

	for i := range items {
		item := &items[i]
		stats.Processed++

		verdict, err := s.Classifier.ClassifyItem(ctx, &services.ClassifyRequest{
			ItemID:     item.ID,
			Title:      item.Title,
			Category:   item.Category,
			Summary:    item.Summary,
			Vocabulary: vocabulary,
		})
		if err != nil {
			log.Printf("⚠️ [RECLASSIFY] Item %d verdict failed: %v", item.ID, err)
			stats.Failed++
			continue
		}

		if verdict.NeedsChange && verdict.Category != item.Category {
			if err := s.Knowledge.UpdateCategory(ctx, item.ID, verdict.Category, verdict.Subcategory); err != nil {
				log.Printf("⚠️ [RECLASSIFY] Item %d category update failed: %v", item.ID, err)
				stats.Failed++
				continue
			}
			log.Printf("🏷️ [RECLASSIFY] Item %d moved %s → %s (%s)", item.ID, item.Category, verdict.Category, verdict.Reason)
			stats.Applied++
			if m := services.GetMetrics(); m != nil {
				m.ItemsReclassified.Inc()
			}
		} else {
			stats.Skipped++
		}

		// The stamp records a completed verdict, corrected or confirmed.
		if err := s.Knowledge.StampCataloger(ctx, item.ID, CatalogerID); err != nil {
			log.Printf("⚠️ [RECLASSIFY] Item %d stamp failed: %v", item.ID, err)
			stats.Failed++
		}
	}

	return stats, nil
}
