package models

import "time"

// Knowledge categories form the fixed vocabulary the reclassification pass
// validates against. Kept in one place so the prompt and the store agree.
var KnowledgeCategories = []string{
	"architecture",
	"bug_fix",
	"configuration",
	"convention",
	"decision",
	"feature",
	"tooling",
	"other",
}

// KnowledgeItem is a single fact about a project, owned by whichever capture
// process created it. Reclassification mutates category/cataloger; snippet
// capture flips the captured flag. Never both in the same run for one row.
type KnowledgeItem struct {
	ID          int64      `json:"id"`
	ProjectPath string     `json:"projectPath"`
	Title       string     `json:"title"`
	Content     string     `json:"content"`
	Summary     string     `json:"summary"`
	Category    string     `json:"category"`
	Subcategory string     `json:"subcategory,omitempty"`
	Cataloger   string     `json:"cataloger,omitempty"`
	Captured    bool       `json:"captured"`
	CapturedAt  *time.Time `json:"capturedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Todo statuses
const (
	TodoStatusOpen      = "open"
	TodoStatusCompleted = "completed"
)

// Todo is a unit of planned work; completed todos are a capture source.
type Todo struct {
	ID          int64      `json:"id"`
	ProjectPath string     `json:"projectPath"`
	Title       string     `json:"title"`
	Content     string     `json:"content"`
	Status      string     `json:"status"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Captured    bool       `json:"captured"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Bug statuses
const (
	BugStatusOpen  = "open"
	BugStatusFixed = "fixed"
)

// Bug is a tracked defect; fixed bugs are a capture source.
type Bug struct {
	ID          int64      `json:"id"`
	ProjectPath string     `json:"projectPath"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
	FixedAt     *time.Time `json:"fixedAt,omitempty"`
	Captured    bool       `json:"captured"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Project marks a source tree the compiler produces documents for.
type Project struct {
	ID        int64     `json:"id"`
	Path      string    `json:"path"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
}
