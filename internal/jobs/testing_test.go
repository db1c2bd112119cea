package jobs

import (
	"context"
	"errors"
	"testing"

	"scribe/internal/config"
	"scribe/internal/database"
	"scribe/internal/services"
)

type testEnv struct {
	db          *database.DB
	knowledge   *services.KnowledgeService
	projects    *services.ProjectService
	snippets    *services.SnippetService
	journal     *services.JournalService
	documents   *services.DocumentService
	corrections *services.CorrectionService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.New(":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Initialize(); err != nil {
		t.Fatalf("failed to initialize schema: %v", err)
	}

	knowledge := services.NewKnowledgeService(db)
	return &testEnv{
		db:          db,
		knowledge:   knowledge,
		projects:    services.NewProjectService(db),
		snippets:    services.NewSnippetService(db),
		journal:     services.NewJournalService(db),
		documents:   services.NewDocumentService(db),
		corrections: services.NewCorrectionService(db, knowledge),
	}
}

func testTaxonomy() *config.Taxonomy {
	return config.DefaultTaxonomy()
}

// stubClassifier returns canned verdicts keyed by item title.
type stubClassifier struct {
	verdicts map[string]*services.ClassificationVerdict
	failOn   map[string]bool
	calls    int
}

func (c *stubClassifier) ClassifyItem(ctx context.Context, req *services.ClassifyRequest) (*services.ClassificationVerdict, error) {
	c.calls++
	if c.failOn[req.Title] {
		return nil, errors.New("collaborator timeout")
	}
	if v, ok := c.verdicts[req.Title]; ok {
		return v, nil
	}
	return &services.ClassificationVerdict{NeedsChange: false, Category: req.Category}, nil
}

// stubSynthesizer records requests and can be forced to fail.
type stubSynthesizer struct {
	output string
	err    error
	calls  []*services.SynthesizeRequest
}

func (s *stubSynthesizer) Synthesize(ctx context.Context, req *services.SynthesizeRequest) (string, error) {
	s.calls = append(s.calls, req)
	if s.err != nil {
		return "", s.err
	}
	return s.output, nil
}
