package models

import "time"

// Journal entry types double as the fixed compilation categories. The order
// here is the order the compiler walks them in.
const (
	EntryTypeWorkLog  = "work_log"
	EntryTypeIdea     = "idea"
	EntryTypeDecision = "decision"
	EntryTypeLesson   = "lesson"
)

// CompilationCategories is the stable category order for nightly compilation.
var CompilationCategories = []string{
	EntryTypeWorkLog,
	EntryTypeIdea,
	EntryTypeDecision,
	EntryTypeLesson,
}

// JournalEntry is one unit of project history. Entries are archived with a
// back-reference when compiled, never hard-deleted.
type JournalEntry struct {
	ID           string     `json:"id"`
	ProjectPath  string     `json:"projectPath"`
	EntryType    string     `json:"entryType"`
	Title        string     `json:"title"`
	Content      string     `json:"content"`
	CreatedBy    string     `json:"createdBy"`
	IsArchived   bool       `json:"isArchived"`
	ArchivedAt   *time.Time `json:"archivedAt,omitempty"`
	ArchivedInto string     `json:"archivedInto,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// Document is a compiled artifact: one per (project, category, run). Immutable
// after creation except for the published toggle.
type Document struct {
	ID          string    `json:"id"`
	ProjectPath string    `json:"projectPath"`
	DocType     string    `json:"docType"`
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	SourceIDs   []string  `json:"sourceIds"`
	GeneratedAt time.Time `json:"generatedAt"`
	Published   bool      `json:"published"`
}
