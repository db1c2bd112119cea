package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"scribe/internal/database"
	"scribe/internal/models"
)

// CorrectionService owns review tasks. The deduplicator creates merge
// corrections; ApplyCorrection resolves pending ones by their stated type.
type CorrectionService struct {
	db        *database.DB
	knowledge *KnowledgeService
}

// NewCorrectionService creates a new correction service
func NewCorrectionService(db *database.DB, knowledge *KnowledgeService) *CorrectionService {
	return &CorrectionService{db: db, knowledge: knowledge}
}

const correctionColumns = `id, item_type, item_id, correction_type, status,
	COALESCE(details, ''), created_by, created_at, updated_at, resolved_at`

// Create inserts a correction and returns its generated id.
func (s *CorrectionService) Create(ctx context.Context, c *models.Correction) (string, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Status == "" {
		c.Status = models.CorrectionStatusPending
	}
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO corrections (id, item_type, item_id, correction_type, status, details, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.ItemType, c.ItemID, c.CorrectionType, c.Status,
		nullable(c.Details), c.CreatedBy,
		database.FormatTime(now), database.FormatTime(now),
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert correction: %w", err)
	}
	c.CreatedAt = now
	c.UpdatedAt = now
	return c.ID, nil
}

// Get fetches one correction by id.
func (s *CorrectionService) Get(ctx context.Context, id string) (*models.Correction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+correctionColumns+` FROM corrections WHERE id = ?`, id)
	c, err := scanCorrection(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("correction %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get correction: %w", err)
	}
	return c, nil
}

// ListByStatus returns corrections in one status, oldest first.
func (s *CorrectionService) ListByStatus(ctx context.Context, status string) ([]models.Correction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+correctionColumns+` FROM corrections WHERE status = ? ORDER BY created_at ASC`,
		status)
	if err != nil {
		return nil, fmt.Errorf("failed to query corrections: %w", err)
	}
	defer rows.Close()

	var corrections []models.Correction
	for rows.Next() {
		c, err := scanCorrection(rows)
		if err != nil {
			return nil, err
		}
		corrections = append(corrections, *c)
	}
	return corrections, rows.Err()
}

// PendingMergeExists reports whether a pending merge correction already
// references the given primary item, so the deduplicator does not re-flag the
// same cluster every night.
func (s *CorrectionService) PendingMergeExists(ctx context.Context, itemType string, primaryID int64) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM corrections
		WHERE item_type = ? AND item_id = ? AND correction_type = ? AND status = ?`,
		itemType, primaryID, models.CorrectionMerge, models.CorrectionStatusPending).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check pending merge: %w", err)
	}
	return count > 0, nil
}

// moveDetails / rewordDetails are the structured payloads of manual corrections.
type moveDetails struct {
	Category    string `json:"category"`
	Subcategory string `json:"subcategory,omitempty"`
}

type rewordDetails struct {
	NewTitle string `json:"newTitle"`
}

// Apply resolves a pending correction by its stated type. The correction
// always advances out of pending: applied when the mutation happened,
// reviewed for detector-only types, rejected when the payload or target is
// unusable.
func (s *CorrectionService) Apply(ctx context.Context, id string) error {
	c, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if c.Status != models.CorrectionStatusPending {
		return fmt.Errorf("correction %s is %s, not pending", id, c.Status)
	}

	finalStatus := models.CorrectionStatusApplied

	switch c.CorrectionType {
	case models.CorrectionMove:
		var d moveDetails
		if err := json.Unmarshal([]byte(c.Details), &d); err != nil || d.Category == "" {
			finalStatus = models.CorrectionStatusRejected
			break
		}
		if err := s.knowledge.UpdateCategory(ctx, c.ItemID, d.Category, d.Subcategory); err != nil {
			return err
		}

	case models.CorrectionReword:
		var d rewordDetails
		if err := json.Unmarshal([]byte(c.Details), &d); err != nil || d.NewTitle == "" {
			finalStatus = models.CorrectionStatusRejected
			break
		}
		if err := s.knowledge.UpdateTitle(ctx, c.ItemID, d.NewTitle); err != nil {
			return err
		}

	case models.CorrectionRemove:
		// Nothing is hard-deleted; removal moves the item into the archived
		// bucket of the vocabulary. A removal aimed at a missing item is
		// rejected rather than silently applied.
		if _, err := s.knowledge.GetItem(ctx, c.ItemID); err != nil {
			finalStatus = models.CorrectionStatusRejected
			break
		}
		if err := s.knowledge.UpdateCategory(ctx, c.ItemID, "other", "removed"); err != nil {
			return err
		}

	case models.CorrectionNote:
		// Annotation only; no item mutation.
		finalStatus = models.CorrectionStatusReviewed

	case models.CorrectionMerge:
		// The deduplicator is a detector, not a mutator: merging stays a human
		// decision. Applying a merge correction just acknowledges the cluster.
		finalStatus = models.CorrectionStatusReviewed

	default:
		finalStatus = models.CorrectionStatusRejected
	}

	now := database.FormatTime(time.Now().UTC())
	_, err = s.db.ExecContext(ctx, `
		UPDATE corrections SET status = ?, updated_at = ?, resolved_at = ? WHERE id = ?`,
		finalStatus, now, now, id)
	if err != nil {
		return fmt.Errorf("failed to resolve correction %s: %w", id, err)
	}

	log.Printf("✅ [CORRECTIONS] Correction %s (%s) resolved as %s", id, c.CorrectionType, finalStatus)
	return nil
}

func scanCorrection(row rowScanner) (*models.Correction, error) {
	var c models.Correction
	var resolvedAt sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(&c.ID, &c.ItemType, &c.ItemID, &c.CorrectionType, &c.Status,
		&c.Details, &c.CreatedBy, &createdAt, &updatedAt, &resolvedAt)
	if err != nil {
		return nil, err
	}
	c.ResolvedAt = database.ParseNullTime(resolvedAt)
	c.CreatedAt = database.ParseTime(createdAt)
	c.UpdatedAt = database.ParseTime(updatedAt)
	return &c, nil
}
