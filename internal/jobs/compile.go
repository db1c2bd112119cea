package jobs

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"scribe/internal/logging"
	"scribe/internal/models"
	"scribe/internal/services"
)

// CompileStage produces at most one document per (project, category) per
// firing from the trailing window of journal entries, folding uncompiled
// snippets into the work log material. After all categories of a project,
// every consumed entry and snippet is archived with a back-reference to the
// first document created in that run; nothing is deleted. Entries written by
// the compiler itself are excluded from input so documents never compound.
type CompileStage struct {
	Projects    *services.ProjectService
	Journal     *services.JournalService
	Snippets    *services.SnippetService
	Documents   *services.DocumentService
	Synthesizer services.Synthesizer
	Window      time.Duration
}

func NewCompileStage(projects *services.ProjectService, journal *services.JournalService,
	snippets *services.SnippetService, documents *services.DocumentService,
	synthesizer services.Synthesizer, window time.Duration) *CompileStage {
	return &CompileStage{
		Projects:    projects,
		Journal:     journal,
		Snippets:    snippets,
		Documents:   documents,
		Synthesizer: synthesizer,
		Window:      window,
	}
}

// material is one dated block of raw compilation input.
type material struct {
	at    time.Time
	title string
	body  string
}

// projectRun accumulates what one project's firing consumed. The anchor is the
// id of the first document created in the run; all back-references point at it.
type projectRun struct {
	anchorDoc  string
	entryIDs   []string
	snippetIDs []string
}

// Run walks every active project and every category in the fixed compilation
// order. A failure in one project does not stop the others.
func (s *CompileStage) Run(ctx context.Context) (models.StageStats, error) {
	var stats models.StageStats
	since := time.Now().Add(-s.Window)

	projects, err := s.Projects.ListActive(ctx)
	if err != nil {
		return stats, fmt.Errorf("compile: list projects: %w", err)
	}

	for _, project := range projects {
		if err := s.compileProject(ctx, &project, since, &stats); err != nil {
			log.Printf("❌ [COMPILE] Project %s failed: %v", project.Path, err)
			stats.Failed++
		}
	}

	return stats, nil
}

func (s *CompileStage) compileProject(ctx context.Context, project *models.Project,
	since time.Time, stats *models.StageStats) error {
	var run projectRun

	for _, category := range models.CompilationCategories {
		if err := s.compileCategory(ctx, project, category, since, &run, stats); err != nil {
			return err
		}
	}

	if run.anchorDoc == "" {
		return nil
	}

	// Archival happens once per project, after all categories, with the
	// run's first document as the single anchor.
	archived := 0
	if len(run.entryIDs) > 0 {
		var err error
		archived, err = s.Journal.Archive(ctx, run.entryIDs, run.anchorDoc)
		if err != nil {
			return fmt.Errorf("archive entries: %w", err)
		}
	}
	if len(run.snippetIDs) > 0 {
		if _, err := s.Snippets.MarkCompiled(ctx, run.snippetIDs, run.anchorDoc); err != nil {
			return fmt.Errorf("mark snippets compiled: %w", err)
		}
	}
	if m := services.GetMetrics(); m != nil {
		m.EntriesArchived.Add(float64(archived))
	}
	logging.WithProject(logging.WithJob(models.JobTypeCompilation, CompilationJobName), project.Path).
		Info("project compiled",
			"archived_entries", archived,
			"archived_snippets", len(run.snippetIDs),
			"anchor_document", run.anchorDoc)
	return nil
}

func (s *CompileStage) compileCategory(ctx context.Context, project *models.Project,
	category string, since time.Time, run *projectRun, stats *models.StageStats) error {
	entries, err := s.Journal.ListCompilable(ctx, project.Path, category, since, CompilerID)
	if err != nil {
		return fmt.Errorf("list %s entries: %w", category, err)
	}

	var snippets []models.Snippet
	if category == models.EntryTypeWorkLog {
		snippets, err = s.Snippets.ListUncompiled(ctx, project.Path, since)
		if err != nil {
			return fmt.Errorf("list snippets: %w", err)
		}
	}

	if len(entries) == 0 && len(snippets) == 0 {
		// Nothing to say. No document, no archival, no empty-shell output.
		stats.Skipped++
		return nil
	}
	stats.Processed++

	materials := make([]material, 0, len(entries)+len(snippets))
	entryIDs := make([]string, 0, len(entries))
	for _, e := range entries {
		entryIDs = append(entryIDs, e.ID)
		materials = append(materials, material{at: e.CreatedAt, title: e.Title, body: e.Content})
	}
	snippetIDs := make([]string, 0, len(snippets))
	for _, sn := range snippets {
		snippetIDs = append(snippetIDs, sn.ID)
		title := sn.Context
		if title == "" {
			title = sn.SnippetType
		}
		materials = append(materials, material{at: sn.CreatedAt, title: title, body: sn.Content})
	}
	sort.SliceStable(materials, func(i, j int) bool { return materials[i].at.Before(materials[j].at) })

	raw := renderMaterials(materials)
	content, err := s.Synthesizer.Synthesize(ctx, &services.SynthesizeRequest{
		ProjectName: project.Name,
		Category:    category,
		Entries:     raw,
	})
	if err != nil {
		// The raw concatenation is a worse document than a synthesized one
		// but a better one than losing the window's material.
		log.Printf("⚠️ [COMPILE] Synthesis failed for %s/%s, falling back to raw material: %v",
			project.Path, category, err)
		content = raw
		stats.Note = "one or more documents used raw fallback"
	}

	date := time.Now().Format("2006-01-02")
	title := fmt.Sprintf("%s: %s digest %s", project.Name, strings.ReplaceAll(category, "_", " "), date)

	docID, err := s.Documents.Create(ctx, &models.Document{
		ProjectPath: project.Path,
		DocType:     category,
		Title:       title,
		Content:     content,
		SourceIDs:   append(append([]string{}, entryIDs...), snippetIDs...),
	})
	if err != nil {
		return fmt.Errorf("create %s document: %w", category, err)
	}

	// The compiler's own entry carries the digest forward in the journal.
	if _, err := s.Journal.Create(ctx, &models.JournalEntry{
		ProjectPath: project.Path,
		EntryType:   category,
		Title:       title,
		Content:     content,
		CreatedBy:   CompilerID,
	}); err != nil {
		return fmt.Errorf("create digest entry: %w", err)
	}

	if run.anchorDoc == "" {
		run.anchorDoc = docID
	}
	run.entryIDs = append(run.entryIDs, entryIDs...)
	run.snippetIDs = append(run.snippetIDs, snippetIDs...)

	if m := services.GetMetrics(); m != nil {
		m.DocumentsCompiled.Inc()
	}
	stats.Applied++
	log.Printf("📄 [COMPILE] %s/%s: document %s from %d entries, %d snippets",
		project.Path, category, docID, len(entryIDs), len(snippetIDs))
	return nil
}

// renderMaterials produces the timestamp-ordered plain-text block handed to
// the synthesizer, and doubles as the fallback document body.
func renderMaterials(materials []material) string {
	var b strings.Builder
	for i, m := range materials {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "### %s - %s\n%s", m.at.Format("2006-01-02 15:04"), m.title, m.body)
	}
	return b.String()
}
