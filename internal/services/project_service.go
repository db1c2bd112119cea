package services

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"scribe/internal/database"
	"scribe/internal/models"
)

// ProjectService owns the projects table the compiler iterates.
type ProjectService struct {
	db *database.DB
}

// NewProjectService creates a new project service
func NewProjectService(db *database.DB) *ProjectService {
	return &ProjectService{db: db}
}

// Register inserts a project if it is not known yet (idempotent seeding).
func (s *ProjectService) Register(ctx context.Context, path string) error {
	name := filepath.Base(path)
	now := database.FormatTime(time.Now().UTC())

	var stmt string
	if s.db.Driver() == "mysql" {
		stmt = `INSERT IGNORE INTO projects (path, name, is_active, created_at) VALUES (?, ?, 1, ?)`
	} else {
		stmt = `INSERT OR IGNORE INTO projects (path, name, is_active, created_at) VALUES (?, ?, 1, ?)`
	}

	res, err := s.db.ExecContext(ctx, stmt, path, name, now)
	if err != nil {
		return fmt.Errorf("failed to register project %s: %w", path, err)
	}
	if affected, _ := res.RowsAffected(); affected > 0 {
		log.Printf("📁 [PROJECTS] Registered project %s", path)
	}
	return nil
}

// ListActive returns the active projects in stable path order.
func (s *ProjectService) ListActive(ctx context.Context) ([]models.Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, path, name, is_active, created_at FROM projects WHERE is_active = 1 ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("failed to query active projects: %w", err)
	}
	defer rows.Close()

	var projects []models.Project
	for rows.Next() {
		var p models.Project
		var createdAt string
		if err := rows.Scan(&p.ID, &p.Path, &p.Name, &p.IsActive, &createdAt); err != nil {
			return nil, err
		}
		p.CreatedAt = database.ParseTime(createdAt)
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// SetActive toggles a project's participation in nightly compilation.
func (s *ProjectService) SetActive(ctx context.Context, path string, active bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE projects SET is_active = ? WHERE path = ?`, active, path)
	if err != nil {
		return fmt.Errorf("failed to update project %s: %w", path, err)
	}
	return nil
}
