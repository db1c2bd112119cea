package models

import "time"

// Snippet types
const (
	SnippetTypeConversation = "conversation"
	SnippetTypeCodeChange   = "code_change"
	SnippetTypeBugFix       = "bug_fix"
	SnippetTypeFeature      = "feature"
	SnippetTypeConfig       = "config"
	SnippetTypeNote         = "note"
)

// Snippet source types identify which table a snippet was derived from.
const (
	SourceTypeKnowledgeItem = "knowledge_item"
	SourceTypeTodo          = "todo"
	SourceTypeBug           = "bug"
)

// Snippet is a normalized, dated excerpt derived from exactly one source row.
// Created once by capture; mutated once by the compiler when absorbed.
type Snippet struct {
	ID           string    `json:"id"`
	ProjectPath  string    `json:"projectPath"`
	SnippetType  string    `json:"snippetType"`
	Content      string    `json:"content"`
	Context      string    `json:"context,omitempty"`
	SourceType   string    `json:"sourceType"`
	SourceID     int64     `json:"sourceId"`
	SessionRef   string    `json:"sessionRef,omitempty"`
	SnippetDate  string    `json:"snippetDate"` // YYYY-MM-DD
	IsCompiled   bool      `json:"isCompiled"`
	CompiledInto string    `json:"compiledInto,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}
