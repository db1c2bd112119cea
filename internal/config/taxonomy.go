package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"scribe/internal/models"
)

// Taxonomy maps knowledge categories to snippet types and carries the
// category vocabulary handed to the classifier. Loaded from a YAML file and
// hot-reloaded when the file changes.
type Taxonomy struct {
	// Categories is the fixed vocabulary for reclassification.
	Categories []string `yaml:"categories"`
	// SnippetTypes maps a knowledge category to the snippet type derived
	// during capture. Categories without a mapping fall back to DefaultType.
	SnippetTypes map[string]string `yaml:"snippet_types"`
	// DefaultType is the exhaustive fallback snippet type.
	DefaultType string `yaml:"default_type"`
}

// DefaultTaxonomy is used when no taxonomy file is present.
func DefaultTaxonomy() *Taxonomy {
	return &Taxonomy{
		Categories: models.KnowledgeCategories,
		SnippetTypes: map[string]string{
			"architecture":  "code_change",
			"bug_fix":       "bug_fix",
			"configuration": "config",
			"convention":    "note",
			"decision":      "note",
			"feature":       "feature",
			"tooling":       "config",
		},
		DefaultType: "note",
	}
}

// LoadTaxonomy reads the taxonomy YAML file. A missing file is not an error;
// the built-in default is returned instead.
func LoadTaxonomy(path string) (*Taxonomy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultTaxonomy(), nil
		}
		return nil, fmt.Errorf("failed to read taxonomy file: %w", err)
	}

	var t Taxonomy
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse taxonomy YAML: %w", err)
	}

	def := DefaultTaxonomy()
	if len(t.Categories) == 0 {
		t.Categories = def.Categories
	}
	if t.SnippetTypes == nil {
		t.SnippetTypes = def.SnippetTypes
	}
	if t.DefaultType == "" {
		t.DefaultType = def.DefaultType
	}
	return &t, nil
}

// SnippetTypeFor resolves the snippet type for a knowledge category.
func (t *Taxonomy) SnippetTypeFor(category string) string {
	if st, ok := t.SnippetTypes[category]; ok {
		return st
	}
	return t.DefaultType
}
