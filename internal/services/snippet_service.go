package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"scribe/internal/database"
	"scribe/internal/models"
)

// SnippetService owns the snippets table. Snippets are created once by
// capture and mutated once by the compiler when absorbed.
type SnippetService struct {
	db *database.DB
}

// NewSnippetService creates a new snippet service
func NewSnippetService(db *database.DB) *SnippetService {
	return &SnippetService{db: db}
}

const snippetColumns = `id, project_path, snippet_type, content, COALESCE(context, ''),
	source_type, source_id, COALESCE(session_ref, ''), snippet_date, is_compiled,
	COALESCE(compiled_into, ''), created_at`

// Create inserts a snippet and returns its generated id.
func (s *SnippetService) Create(ctx context.Context, snippet *models.Snippet) (string, error) {
	if snippet.ID == "" {
		snippet.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if snippet.SnippetDate == "" {
		snippet.SnippetDate = now.Format("2006-01-02")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO snippets (id, project_path, snippet_type, content, context, source_type, source_id, session_ref, snippet_date, is_compiled, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		snippet.ID, snippet.ProjectPath, snippet.SnippetType, snippet.Content,
		nullable(snippet.Context), snippet.SourceType, snippet.SourceID,
		nullable(snippet.SessionRef), snippet.SnippetDate, database.FormatTime(now),
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert snippet: %w", err)
	}
	snippet.CreatedAt = now
	return snippet.ID, nil
}

// SameDayExists reports whether a snippet with identical derived content
// already exists for this project and day. This is the downstream
// deduplication guard that makes capture at-most-once effective even when the
// captured flag write was lost.
func (s *SnippetService) SameDayExists(ctx context.Context, projectPath, content, snippetDate string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM snippets
		WHERE project_path = ? AND snippet_date = ? AND content = ?`,
		projectPath, snippetDate, content).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check same-day snippet: %w", err)
	}
	return count > 0, nil
}

// ListUncompiled returns a project's uncompiled snippets created within the
// trailing window, oldest first.
func (s *SnippetService) ListUncompiled(ctx context.Context, projectPath string, since time.Time) ([]models.Snippet, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+snippetColumns+` FROM snippets
		 WHERE project_path = ? AND is_compiled = 0 AND created_at >= ?
		 ORDER BY created_at ASC`,
		projectPath, database.FormatTime(since))
	if err != nil {
		return nil, fmt.Errorf("failed to query uncompiled snippets: %w", err)
	}
	defer rows.Close()
	return collectSnippets(rows)
}

// MarkCompiled stamps the snippets with the document that absorbed them.
func (s *SnippetService) MarkCompiled(ctx context.Context, ids []string, documentID string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	marked := 0
	for _, id := range ids {
		res, err := s.db.ExecContext(ctx,
			`UPDATE snippets SET is_compiled = 1, compiled_into = ? WHERE id = ? AND is_compiled = 0`,
			documentID, id)
		if err != nil {
			return marked, fmt.Errorf("failed to mark snippet %s compiled: %w", id, err)
		}
		if affected, _ := res.RowsAffected(); affected > 0 {
			marked++
		}
	}
	return marked, nil
}

// GetBySource returns the snippets derived from one source row.
func (s *SnippetService) GetBySource(ctx context.Context, sourceType string, sourceID int64) ([]models.Snippet, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+snippetColumns+` FROM snippets
		 WHERE source_type = ? AND source_id = ?
		 ORDER BY created_at ASC`,
		sourceType, sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query snippets by source: %w", err)
	}
	defer rows.Close()
	return collectSnippets(rows)
}

func collectSnippets(rows *sql.Rows) ([]models.Snippet, error) {
	var snippets []models.Snippet
	for rows.Next() {
		var sn models.Snippet
		var createdAt string
		if err := rows.Scan(&sn.ID, &sn.ProjectPath, &sn.SnippetType, &sn.Content, &sn.Context,
			&sn.SourceType, &sn.SourceID, &sn.SessionRef, &sn.SnippetDate, &sn.IsCompiled,
			&sn.CompiledInto, &createdAt); err != nil {
			return nil, err
		}
		sn.CreatedAt = database.ParseTime(createdAt)
		snippets = append(snippets, sn)
	}
	return snippets, rows.Err()
}
