package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"scribe/internal/database"
	"scribe/internal/models"
)

// KnowledgeService owns the capture source tables: knowledge items, todos,
// and bugs. The reclassification pass mutates category/cataloger; snippet
// capture flips captured flags.
type KnowledgeService struct {
	db *database.DB
}

// NewKnowledgeService creates a new knowledge service
func NewKnowledgeService(db *database.DB) *KnowledgeService {
	return &KnowledgeService{db: db}
}

const knowledgeColumns = `id, project_path, title, COALESCE(content, ''), COALESCE(summary, ''), category,
	COALESCE(subcategory, ''), COALESCE(cataloger, ''), captured, captured_at,
	created_at, updated_at`

// CreateItem inserts a knowledge item and returns its id.
func (s *KnowledgeService) CreateItem(ctx context.Context, item *models.KnowledgeItem) (int64, error) {
	now := time.Now().UTC()
	if item.Category == "" {
		item.Category = "other"
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO knowledge_items (project_path, title, content, summary, category, subcategory, cataloger, captured, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		item.ProjectPath, item.Title, item.Content, item.Summary, item.Category,
		nullable(item.Subcategory), nullable(item.Cataloger),
		database.FormatTime(now), database.FormatTime(now),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert knowledge item: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read knowledge item id: %w", err)
	}
	item.ID = id
	item.CreatedAt = now
	item.UpdatedAt = now
	return id, nil
}

// GetItem fetches one knowledge item by id.
func (s *KnowledgeService) GetItem(ctx context.Context, id int64) (*models.KnowledgeItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+knowledgeColumns+` FROM knowledge_items WHERE id = ?`, id)
	item, err := scanKnowledgeItem(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("knowledge item %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get knowledge item: %w", err)
	}
	return item, nil
}

// ListUncaptured returns items updated within the trailing window that have
// not been captured as snippets yet.
func (s *KnowledgeService) ListUncaptured(ctx context.Context, since time.Time) ([]models.KnowledgeItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+knowledgeColumns+` FROM knowledge_items
		 WHERE captured = 0 AND updated_at >= ?
		 ORDER BY updated_at ASC`,
		database.FormatTime(since))
	if err != nil {
		return nil, fmt.Errorf("failed to query uncaptured items: %w", err)
	}
	defer rows.Close()
	return collectKnowledgeItems(rows)
}

// MarkCaptured flips the captured flag. Called only after the derived snippet
// was persisted, so a failed insert leaves the row eligible for retry.
func (s *KnowledgeService) MarkCaptured(ctx context.Context, id int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE knowledge_items SET captured = 1, captured_at = ?, updated_at = ? WHERE id = ?`,
		database.FormatTime(at), database.FormatTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("failed to mark item %d captured: %w", id, err)
	}
	return nil
}

// ListForReclassification returns items never reviewed by the given cataloger
// identity, oldest first, bounded by limit.
func (s *KnowledgeService) ListForReclassification(ctx context.Context, cataloger string, limit int) ([]models.KnowledgeItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+knowledgeColumns+` FROM knowledge_items
		 WHERE cataloger IS NULL OR cataloger <> ?
		 ORDER BY updated_at ASC
		 LIMIT ?`,
		cataloger, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query items for reclassification: %w", err)
	}
	defer rows.Close()
	return collectKnowledgeItems(rows)
}

// UpdateCategory applies a classification correction.
func (s *KnowledgeService) UpdateCategory(ctx context.Context, id int64, category, subcategory string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE knowledge_items SET category = ?, subcategory = ?, updated_at = ? WHERE id = ?`,
		category, nullable(subcategory), database.FormatTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("failed to update category for item %d: %w", id, err)
	}
	return nil
}

// StampCataloger records which pass last validated the item, so it is not
// reprocessed by the same pass.
func (s *KnowledgeService) StampCataloger(ctx context.Context, id int64, cataloger string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE knowledge_items SET cataloger = ?, updated_at = ? WHERE id = ?`,
		cataloger, database.FormatTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("failed to stamp cataloger for item %d: %w", id, err)
	}
	return nil
}

// UpdateTitle rewords an item's title (correction apply step).
func (s *KnowledgeService) UpdateTitle(ctx context.Context, id int64, title string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE knowledge_items SET title = ?, updated_at = ? WHERE id = ?`,
		title, database.FormatTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("failed to update title for item %d: %w", id, err)
	}
	return nil
}

// ListRecentByCategory returns the most recent items in one category, newest
// first, bounded by limit. This is the deduplicator's candidate window.
func (s *KnowledgeService) ListRecentByCategory(ctx context.Context, category string, limit int) ([]models.KnowledgeItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+knowledgeColumns+` FROM knowledge_items
		 WHERE category = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		category, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent items: %w", err)
	}
	defer rows.Close()
	return collectKnowledgeItems(rows)
}

// ListCategories returns the distinct categories currently in use.
func (s *KnowledgeService) ListCategories(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT category FROM knowledge_items ORDER BY category`)
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer rows.Close()

	var categories []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// --- todos ---

// CreateTodo inserts a todo and returns its id.
func (s *KnowledgeService) CreateTodo(ctx context.Context, todo *models.Todo) (int64, error) {
	now := time.Now().UTC()
	if todo.Status == "" {
		todo.Status = models.TodoStatusOpen
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO todos (project_path, title, content, status, completed_at, captured, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?)`,
		todo.ProjectPath, todo.Title, todo.Content, todo.Status,
		database.FormatTimePtr(todo.CompletedAt),
		database.FormatTime(now), database.FormatTime(now),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert todo: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	todo.ID = id
	return id, nil
}

// CompleteTodo marks a todo done, making it a capture candidate.
func (s *KnowledgeService) CompleteTodo(ctx context.Context, id int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE todos SET status = ?, completed_at = ?, updated_at = ? WHERE id = ?`,
		models.TodoStatusCompleted, database.FormatTime(at), database.FormatTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("failed to complete todo %d: %w", id, err)
	}
	return nil
}

// ListUncapturedTodos returns todos completed within the window, uncaptured.
func (s *KnowledgeService) ListUncapturedTodos(ctx context.Context, since time.Time) ([]models.Todo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_path, title, COALESCE(content, ''), status, completed_at, captured, created_at, updated_at
		FROM todos
		WHERE captured = 0 AND status = ? AND completed_at >= ?
		ORDER BY completed_at ASC`,
		models.TodoStatusCompleted, database.FormatTime(since))
	if err != nil {
		return nil, fmt.Errorf("failed to query uncaptured todos: %w", err)
	}
	defer rows.Close()

	var todos []models.Todo
	for rows.Next() {
		var t models.Todo
		var completedAt sql.NullString
		var createdAt, updatedAt string
		if err := rows.Scan(&t.ID, &t.ProjectPath, &t.Title, &t.Content, &t.Status,
			&completedAt, &t.Captured, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		t.CompletedAt = database.ParseNullTime(completedAt)
		t.CreatedAt = database.ParseTime(createdAt)
		t.UpdatedAt = database.ParseTime(updatedAt)
		todos = append(todos, t)
	}
	return todos, rows.Err()
}

// MarkTodoCaptured flips a todo's captured flag.
func (s *KnowledgeService) MarkTodoCaptured(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE todos SET captured = 1, updated_at = ? WHERE id = ?`,
		database.FormatTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("failed to mark todo %d captured: %w", id, err)
	}
	return nil
}

// --- bugs ---

// CreateBug inserts a bug and returns its id.
func (s *KnowledgeService) CreateBug(ctx context.Context, bug *models.Bug) (int64, error) {
	now := time.Now().UTC()
	if bug.Status == "" {
		bug.Status = models.BugStatusOpen
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO bugs (project_path, title, description, status, fixed_at, captured, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?)`,
		bug.ProjectPath, bug.Title, bug.Description, bug.Status,
		database.FormatTimePtr(bug.FixedAt),
		database.FormatTime(now), database.FormatTime(now),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert bug: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	bug.ID = id
	return id, nil
}

// FixBug marks a bug fixed, making it a capture candidate.
func (s *KnowledgeService) FixBug(ctx context.Context, id int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE bugs SET status = ?, fixed_at = ?, updated_at = ? WHERE id = ?`,
		models.BugStatusFixed, database.FormatTime(at), database.FormatTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("failed to fix bug %d: %w", id, err)
	}
	return nil
}

// ListUncapturedBugs returns bugs fixed within the window, uncaptured.
func (s *KnowledgeService) ListUncapturedBugs(ctx context.Context, since time.Time) ([]models.Bug, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_path, title, COALESCE(description, ''), status, fixed_at, captured, created_at, updated_at
		FROM bugs
		WHERE captured = 0 AND status = ? AND fixed_at >= ?
		ORDER BY fixed_at ASC`,
		models.BugStatusFixed, database.FormatTime(since))
	if err != nil {
		return nil, fmt.Errorf("failed to query uncaptured bugs: %w", err)
	}
	defer rows.Close()

	var bugs []models.Bug
	for rows.Next() {
		var b models.Bug
		var fixedAt sql.NullString
		var createdAt, updatedAt string
		if err := rows.Scan(&b.ID, &b.ProjectPath, &b.Title, &b.Description, &b.Status,
			&fixedAt, &b.Captured, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		b.FixedAt = database.ParseNullTime(fixedAt)
		b.CreatedAt = database.ParseTime(createdAt)
		b.UpdatedAt = database.ParseTime(updatedAt)
		bugs = append(bugs, b)
	}
	return bugs, rows.Err()
}

// MarkBugCaptured flips a bug's captured flag.
func (s *KnowledgeService) MarkBugCaptured(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE bugs SET captured = 1, updated_at = ? WHERE id = ?`,
		database.FormatTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("failed to mark bug %d captured: %w", id, err)
	}
	return nil
}

// --- scanning helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanKnowledgeItem(row rowScanner) (*models.KnowledgeItem, error) {
	var item models.KnowledgeItem
	var capturedAt sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(&item.ID, &item.ProjectPath, &item.Title, &item.Content, &item.Summary,
		&item.Category, &item.Subcategory, &item.Cataloger, &item.Captured,
		&capturedAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	item.CapturedAt = database.ParseNullTime(capturedAt)
	item.CreatedAt = database.ParseTime(createdAt)
	item.UpdatedAt = database.ParseTime(updatedAt)
	return &item, nil
}

func collectKnowledgeItems(rows *sql.Rows) ([]models.KnowledgeItem, error) {
	var items []models.KnowledgeItem
	for rows.Next() {
		item, err := scanKnowledgeItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// nullable maps empty strings to NULL columns.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
