package jobs

import (
	"context"
	"fmt"
	"log"
	"time"

	"scribe/internal/config"
	"scribe/internal/models"
	"scribe/internal/services"
)

// CaptureStage scans the three source tables for records finished inside the
// trailing window and derives one dated snippet per record. A record is
// processed once: the captured flag is flipped only after its snippet row
// exists, and a same-day identical-content check absorbs the crash window
// between the two writes.
type CaptureStage struct {
	Knowledge *services.KnowledgeService
	Snippets  *services.SnippetService
	Taxonomy  func() *config.Taxonomy
	Window    time.Duration
	Location  *time.Location
}

func NewCaptureStage(knowledge *services.KnowledgeService, snippets *services.SnippetService,
	taxonomy func() *config.Taxonomy, window time.Duration, loc *time.Location) *CaptureStage {
	return &CaptureStage{
		Knowledge: knowledge,
		Snippets:  snippets,
		Taxonomy:  taxonomy,
		Window:    window,
		Location:  loc,
	}
}

// Run processes all three source tables and returns per-record counters.
func (s *CaptureStage) Run(ctx context.Context) (models.StageStats, error) {
	var stats models.StageStats
	since := time.Now().Add(-s.Window)
	taxonomy := s.Taxonomy()

	items, err := s.Knowledge.ListUncaptured(ctx, since)
	if err != nil {
		return stats, fmt.Errorf("capture: list knowledge items: %w", err)
	}
	for i := range items {
		s.captureOne(ctx, &stats, s.itemSnippet(&items[i], taxonomy), func(at time.Time) error {
			return s.Knowledge.MarkCaptured(ctx, items[i].ID, at)
		})
	}

	todos, err := s.Knowledge.ListUncapturedTodos(ctx, since)
	if err != nil {
		return stats, fmt.Errorf("capture: list todos: %w", err)
	}
	for i := range todos {
		s.captureOne(ctx, &stats, s.todoSnippet(&todos[i]), func(time.Time) error {
			return s.Knowledge.MarkTodoCaptured(ctx, todos[i].ID)
		})
	}

	bugs, err := s.Knowledge.ListUncapturedBugs(ctx, since)
	if err != nil {
		return stats, fmt.Errorf("capture: list bugs: %w", err)
	}
	for i := range bugs {
		s.captureOne(ctx, &stats, s.bugSnippet(&bugs[i]), func(time.Time) error {
			return s.Knowledge.MarkBugCaptured(ctx, bugs[i].ID)
		})
	}

	return stats, nil
}

// captureOne inserts the snippet, then marks the source captured. The order
// matters: a crash after the insert leaves a snippet whose same-day duplicate
// check suppresses a second copy on the retry.
func (s *CaptureStage) captureOne(ctx context.Context, stats *models.StageStats,
	snippet *models.Snippet, markCaptured func(time.Time) error) {
	stats.Processed++

	exists, err := s.Snippets.SameDayExists(ctx, snippet.ProjectPath, snippet.Content, snippet.SnippetDate)
	if err != nil {
		log.Printf("⚠️ [CAPTURE] Duplicate check failed for %s %d: %v", snippet.SourceType, snippet.SourceID, err)
		stats.Failed++
		return
	}

	if exists {
		// The snippet is already there from an interrupted run; only the
		// source marker is missing.
		stats.Skipped++
	} else {
		if _, err := s.Snippets.Create(ctx, snippet); err != nil {
			log.Printf("⚠️ [CAPTURE] Snippet create failed for %s %d: %v", snippet.SourceType, snippet.SourceID, err)
			stats.Failed++
			return
		}
		stats.Applied++
		if m := services.GetMetrics(); m != nil {
			m.SnippetsCaptured.Inc()
		}
	}

	if err := markCaptured(time.Now().UTC()); err != nil {
		// The source stays uncaptured and is retried next firing; the
		// same-day check keeps the retry from duplicating the snippet.
		log.Printf("⚠️ [CAPTURE] Mark captured failed for %s %d: %v", snippet.SourceType, snippet.SourceID, err)
		stats.Failed++
	}
}

func (s *CaptureStage) itemSnippet(item *models.KnowledgeItem, taxonomy *config.Taxonomy) *models.Snippet {
	content := item.Content
	if content == "" {
		content = item.Summary
	}
	return &models.Snippet{
		ProjectPath: item.ProjectPath,
		SnippetType: taxonomy.SnippetTypeFor(item.Category),
		Content:     content,
		Context:     item.Title,
		SourceType:  models.SourceTypeKnowledgeItem,
		SourceID:    item.ID,
		SnippetDate: s.snippetDate(item.CreatedAt),
	}
}

func (s *CaptureStage) todoSnippet(todo *models.Todo) *models.Snippet {
	content := todo.Title
	if todo.Content != "" {
		content += "\n" + todo.Content
	}
	eventAt := todo.CreatedAt
	if todo.CompletedAt != nil {
		eventAt = *todo.CompletedAt
	}
	return &models.Snippet{
		ProjectPath: todo.ProjectPath,
		SnippetType: models.SnippetTypeNote,
		Content:     content,
		Context:     "completed todo",
		SourceType:  models.SourceTypeTodo,
		SourceID:    todo.ID,
		SnippetDate: s.snippetDate(eventAt),
	}
}

func (s *CaptureStage) bugSnippet(bug *models.Bug) *models.Snippet {
	content := bug.Title
	if bug.Description != "" {
		content += "\n" + bug.Description
	}
	eventAt := bug.CreatedAt
	if bug.FixedAt != nil {
		eventAt = *bug.FixedAt
	}
	return &models.Snippet{
		ProjectPath: bug.ProjectPath,
		SnippetType: models.SnippetTypeBugFix,
		Content:     content,
		Context:     "fixed bug",
		SourceType:  models.SourceTypeBug,
		SourceID:    bug.ID,
		SnippetDate: s.snippetDate(eventAt),
	}
}

// snippetDate renders the event time as a calendar date in the agent's zone.
// The zone matters: the same-day duplicate guard keys on this string.
func (s *CaptureStage) snippetDate(t time.Time) string {
	loc := s.Location
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("2006-01-02")
}
