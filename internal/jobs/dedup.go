package jobs

import (
	"context"
	"fmt"
	"log"
	"strings"

	"scribe/internal/models"
	"scribe/internal/services"
)

// DedupStage flags near-duplicate knowledge items for human review. Per
// category it loads the most recent window of items and runs one greedy pass:
// each item either joins the first existing cluster whose primary it resembles
// or starts a cluster of its own. Clusters with members become pending merge
// corrections. Nothing is merged automatically.
type DedupStage struct {
	Knowledge   *services.KnowledgeService
	Corrections *services.CorrectionService
	Threshold   float64
	WindowSize  int
}

func NewDedupStage(knowledge *services.KnowledgeService, corrections *services.CorrectionService,
	threshold float64, windowSize int) *DedupStage {
	return &DedupStage{
		Knowledge:   knowledge,
		Corrections: corrections,
		Threshold:   threshold,
		WindowSize:  windowSize,
	}
}

type cluster struct {
	primary    *models.KnowledgeItem
	tokens     map[string]struct{}
	duplicates []models.DuplicateRef
}

// Run scans every category currently present in the knowledge table. A store
// error inside one category is logged and counted; the remaining categories
// are still scanned.
func (s *DedupStage) Run(ctx context.Context) (models.StageStats, error) {
	var stats models.StageStats

	categories, err := s.Knowledge.ListCategories(ctx)
	if err != nil {
		return stats, fmt.Errorf("dedup: list categories: %w", err)
	}

	for _, category := range categories {
		if err := s.dedupCategory(ctx, category, &stats); err != nil {
			log.Printf("⚠️ [DEDUP] Category %s failed: %v", category, err)
			stats.Failed++
		}
	}

	return stats, nil
}

func (s *DedupStage) dedupCategory(ctx context.Context, category string, stats *models.StageStats) error {
	items, err := s.Knowledge.ListRecentByCategory(ctx, category, s.WindowSize)
	if err != nil {
		return fmt.Errorf("dedup: list %s items: %w", category, err)
	}
	if len(items) < 2 {
		return nil
	}

	// Single pass: comparisons are only against cluster primaries, so the
	// work per category is bounded by window size times cluster count.
	var clusters []*cluster
	for i := range items {
		item := &items[i]
		stats.Processed++
		tokens := titleTokens(item.Title)

		matched := false
		for _, c := range clusters {
			sim := jaccard(tokens, c.tokens)
			if sim >= s.Threshold {
				c.duplicates = append(c.duplicates, models.DuplicateRef{
					ItemID:     item.ID,
					Title:      item.Title,
					Similarity: sim,
				})
				matched = true
				break
			}
		}
		if !matched {
			clusters = append(clusters, &cluster{primary: item, tokens: tokens})
		}
	}

	for _, c := range clusters {
		if len(c.duplicates) == 0 {
			continue
		}

		pending, err := s.Corrections.PendingMergeExists(ctx, "knowledge_item", c.primary.ID)
		if err != nil {
			return fmt.Errorf("dedup: pending check for item %d: %w", c.primary.ID, err)
		}
		if pending {
			stats.Skipped++
			continue
		}

		details := models.MergeDetails{
			PrimaryID:    c.primary.ID,
			PrimaryTitle: c.primary.Title,
			Category:     category,
			Duplicates:   c.duplicates,
		}
		_, err = s.Corrections.Create(ctx, &models.Correction{
			ItemType:       "knowledge_item",
			ItemID:         c.primary.ID,
			CorrectionType: models.CorrectionMerge,
			Status:         models.CorrectionStatusPending,
			Details:        details.Marshal(),
			CreatedBy:      CompilerID,
		})
		if err != nil {
			return fmt.Errorf("dedup: create merge flag for item %d: %w", c.primary.ID, err)
		}
		log.Printf("🔗 [DEDUP] Flagged %d near-duplicates of item %d (%q, category %s)",
			len(c.duplicates), c.primary.ID, c.primary.Title, category)
		stats.Applied++
		if m := services.GetMetrics(); m != nil {
			m.MergeFlagsCreated.Inc()
		}
	}

	return nil
}

// titleTokens lowercases a title and splits it on whitespace into a set.
func titleTokens(title string) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, tok := range strings.Fields(strings.ToLower(title)) {
		tokens[tok] = struct{}{}
	}
	return tokens
}

// jaccard is intersection over union of two token sets. Two empty sets score
// zero, not one, so blank titles never cluster.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// TitleSimilarity scores two titles on the same scale the deduplicator uses.
func TitleSimilarity(a, b string) float64 {
	return jaccard(titleTokens(a), titleTokens(b))
}
