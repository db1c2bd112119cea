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

// JournalService owns journal entries. Entries are archived with a
// back-reference when compiled, never hard-deleted.
type JournalService struct {
	db *database.DB
}

// NewJournalService creates a new journal service
func NewJournalService(db *database.DB) *JournalService {
	return &JournalService{db: db}
}

const journalColumns = `id, project_path, entry_type, title, content, created_by,
	is_archived, archived_at, COALESCE(archived_into, ''), created_at, updated_at`

// Create inserts a journal entry and returns its generated id.
func (s *JournalService) Create(ctx context.Context, entry *models.JournalEntry) (string, error) {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO journal_entries (id, project_path, entry_type, title, content, created_by, is_archived, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		entry.ID, entry.ProjectPath, entry.EntryType, entry.Title, entry.Content,
		entry.CreatedBy, database.FormatTime(now), database.FormatTime(now),
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert journal entry: %w", err)
	}
	entry.CreatedAt = now
	entry.UpdatedAt = now
	return entry.ID, nil
}

// Get fetches one entry by id.
func (s *JournalService) Get(ctx context.Context, id string) (*models.JournalEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+journalColumns+` FROM journal_entries WHERE id = ?`, id)
	entry, err := scanJournalEntry(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("journal entry %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get journal entry: %w", err)
	}
	return entry, nil
}

// ListCompilable returns a project's unarchived entries of one type created
// within the trailing window, excluding entries written by the compiler
// itself (loop prevention), ordered by creation time.
func (s *JournalService) ListCompilable(ctx context.Context, projectPath, entryType string, since time.Time, excludeCreator string) ([]models.JournalEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+journalColumns+` FROM journal_entries
		 WHERE project_path = ? AND entry_type = ? AND is_archived = 0
		   AND created_at >= ? AND created_by <> ?
		 ORDER BY created_at ASC, id ASC`,
		projectPath, entryType, database.FormatTime(since), excludeCreator)
	if err != nil {
		return nil, fmt.Errorf("failed to query compilable entries: %w", err)
	}
	defer rows.Close()
	return collectJournalEntries(rows)
}

// Archive marks the entries historical with a back-reference to the document
// that absorbed them. Rows already archived by a concurrent writer are left
// alone (last-write-wins is accepted, but we never clobber an existing
// back-reference).
func (s *JournalService) Archive(ctx context.Context, ids []string, documentID string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	now := database.FormatTime(time.Now().UTC())
	archived := 0
	for _, id := range ids {
		res, err := s.db.ExecContext(ctx, `
			UPDATE journal_entries
			SET is_archived = 1, archived_at = ?, archived_into = ?, updated_at = ?
			WHERE id = ? AND is_archived = 0`,
			now, documentID, now, id)
		if err != nil {
			return archived, fmt.Errorf("failed to archive entry %s: %w", id, err)
		}
		if affected, _ := res.RowsAffected(); affected > 0 {
			archived++
		}
	}
	return archived, nil
}

func scanJournalEntry(row rowScanner) (*models.JournalEntry, error) {
	var e models.JournalEntry
	var archivedAt sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(&e.ID, &e.ProjectPath, &e.EntryType, &e.Title, &e.Content, &e.CreatedBy,
		&e.IsArchived, &archivedAt, &e.ArchivedInto, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	e.ArchivedAt = database.ParseNullTime(archivedAt)
	e.CreatedAt = database.ParseTime(createdAt)
	e.UpdatedAt = database.ParseTime(updatedAt)
	return &e, nil
}

func collectJournalEntries(rows *sql.Rows) ([]models.JournalEntry, error) {
	var entries []models.JournalEntry
	for rows.Next() {
		entry, err := scanJournalEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}
