package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"scribe/internal/database"
	"scribe/internal/models"
)

// DocumentService owns compiled documents. Documents are immutable after
// creation except for the published toggle.
type DocumentService struct {
	db *database.DB
}

// NewDocumentService creates a new document service
func NewDocumentService(db *database.DB) *DocumentService {
	return &DocumentService{db: db}
}

// Create inserts a document and returns its generated id.
func (s *DocumentService) Create(ctx context.Context, doc *models.Document) (string, error) {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if doc.GeneratedAt.IsZero() {
		doc.GeneratedAt = time.Now().UTC()
	}
	sourceIDs, err := json.Marshal(doc.SourceIDs)
	if err != nil {
		return "", fmt.Errorf("failed to marshal source ids: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (id, project_path, doc_type, title, content, source_ids, generated_at, published)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.ProjectPath, doc.DocType, doc.Title, doc.Content,
		string(sourceIDs), database.FormatTime(doc.GeneratedAt), doc.Published,
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert document: %w", err)
	}
	return doc.ID, nil
}

// Get fetches one document by id.
func (s *DocumentService) Get(ctx context.Context, id string) (*models.Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_path, doc_type, title, content, COALESCE(source_ids, '[]'), generated_at, published
		FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("document %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return doc, nil
}

// ListByProject returns a project's documents, newest first.
func (s *DocumentService) ListByProject(ctx context.Context, projectPath string, limit int) ([]models.Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_path, doc_type, title, content, COALESCE(source_ids, '[]'), generated_at, published
		FROM documents WHERE project_path = ?
		ORDER BY generated_at DESC LIMIT ?`,
		projectPath, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

// SetPublished toggles the only mutable field of a document.
func (s *DocumentService) SetPublished(ctx context.Context, id string, published bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE documents SET published = ? WHERE id = ?`, published, id)
	if err != nil {
		return fmt.Errorf("failed to set published for document %s: %w", id, err)
	}
	return nil
}

func scanDocument(row rowScanner) (*models.Document, error) {
	var d models.Document
	var sourceIDs, generatedAt string
	err := row.Scan(&d.ID, &d.ProjectPath, &d.DocType, &d.Title, &d.Content,
		&sourceIDs, &generatedAt, &d.Published)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(sourceIDs), &d.SourceIDs); err != nil {
		d.SourceIDs = nil
	}
	d.GeneratedAt = database.ParseTime(generatedAt)
	return &d, nil
}
