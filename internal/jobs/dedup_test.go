package jobs

import (
	"context"
	"testing"

	"scribe/internal/models"
)

func TestTitleSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want float64
	}{
		{"identical", "Fix login bug", "Fix login bug", 1.0},
		{"case and order insensitive", "Login Bug Fix", "fix login bug", 1.0},
		{"near miss", "Fix login bug", "Fix login bugs", 0.5},
		{"disjoint", "Fix login bug", "Rotate database credentials", 0.0},
		{"empty", "", "Fix login bug", 0.0},
		{"both empty", "", "", 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TitleSimilarity(tt.a, tt.b)
			if got != tt.want {
				t.Errorf("TitleSimilarity(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
			// Symmetry.
			if rev := TitleSimilarity(tt.b, tt.a); rev != got {
				t.Errorf("similarity is asymmetric: %v != %v", got, rev)
			}
		})
	}
}

func TestDedupFlagsNearDuplicates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	titles := []string{
		"Database connection pooling configuration",
		"Database connection pooling configuration",
		"Rotate credentials quarterly",
	}
	var ids []int64
	for _, title := range titles {
		id, err := env.knowledge.CreateItem(ctx, &models.KnowledgeItem{
			ProjectPath: "/repo/app",
			Title:       title,
			Category:    "configuration",
		})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}

	stage := NewDedupStage(env.knowledge, env.corrections, 0.85, 500)
	stats, err := stage.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Applied != 1 {
		t.Fatalf("stats = %+v, want exactly 1 merge flag", stats)
	}

	pending, err := env.corrections.ListByStatus(ctx, models.CorrectionStatusPending)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending corrections = %d, want 1", len(pending))
	}
	if pending[0].CorrectionType != models.CorrectionMerge {
		t.Errorf("correction type = %s, want merge", pending[0].CorrectionType)
	}

	details, err := models.ParseMergeDetails(pending[0].Details)
	if err != nil {
		t.Fatal(err)
	}
	if len(details.Duplicates) != 1 {
		t.Fatalf("duplicates = %d, want 1", len(details.Duplicates))
	}
	if details.Duplicates[0].Similarity != 1.0 {
		t.Errorf("similarity = %v, want 1.0", details.Duplicates[0].Similarity)
	}
	// The cluster holds the two identical titles, not the unrelated one.
	flagged := map[int64]bool{details.PrimaryID: true, details.Duplicates[0].ItemID: true}
	if flagged[ids[2]] {
		t.Error("unrelated item was pulled into the cluster")
	}

	// Items must be untouched: the deduplicator only flags.
	for _, id := range ids {
		item, err := env.knowledge.GetItem(ctx, id)
		if err != nil {
			t.Fatalf("item %d should still exist: %v", id, err)
		}
		if item.Category != "configuration" {
			t.Errorf("item %d mutated to %s", id, item.Category)
		}
	}
}

func TestDedupDoesNotReflagPendingClusters(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := env.knowledge.CreateItem(ctx, &models.KnowledgeItem{
			ProjectPath: "/repo/app",
			Title:       "Timeout tuning for the ingest worker",
			Category:    "tooling",
		}); err != nil {
			t.Fatal(err)
		}
	}

	stage := NewDedupStage(env.knowledge, env.corrections, 0.85, 500)
	for i := 0; i < 3; i++ {
		if _, err := stage.Run(ctx); err != nil {
			t.Fatalf("run %d failed: %v", i, err)
		}
	}

	pending, err := env.corrections.ListByStatus(ctx, models.CorrectionStatusPending)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Errorf("nightly reruns stacked %d pending flags, want 1", len(pending))
	}
}

func TestDedupBelowThresholdIsQuiet(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Jaccard("fix login bug", "fix login bugs") = 2/4 = 0.5, under 0.85.
	for _, title := range []string{"Fix login bug", "Fix login bugs"} {
		if _, err := env.knowledge.CreateItem(ctx, &models.KnowledgeItem{
			ProjectPath: "/repo/app",
			Title:       title,
			Category:    "bug_fix",
		}); err != nil {
			t.Fatal(err)
		}
	}

	stage := NewDedupStage(env.knowledge, env.corrections, 0.85, 500)
	stats, err := stage.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Applied != 0 {
		t.Errorf("stats = %+v, want no flags below threshold", stats)
	}
}

func TestDedupContinuesPastCategoryFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Two categories, each holding a duplicate pair.
	for _, category := range []string{"bug_fix", "tooling"} {
		for i := 0; i < 2; i++ {
			if _, err := env.knowledge.CreateItem(ctx, &models.KnowledgeItem{
				ProjectPath: "/repo/app",
				Title:       "Retry budget for the sync worker",
				Category:    category,
			}); err != nil {
				t.Fatal(err)
			}
		}
	}

	// Break the corrections store out from under the stage.
	if _, err := env.db.Exec(`DROP TABLE corrections`); err != nil {
		t.Fatal(err)
	}

	stage := NewDedupStage(env.knowledge, env.corrections, 0.85, 500)
	stats, err := stage.Run(ctx)
	if err != nil {
		t.Fatalf("a category failure must not abort the stage: %v", err)
	}
	// Both categories hit the broken store, so the loop provably kept going
	// past the first failure.
	if stats.Failed != 2 {
		t.Errorf("stats.Failed = %d, want 2", stats.Failed)
	}
	if stats.Applied != 0 {
		t.Errorf("stats.Applied = %d with a broken corrections store, want 0", stats.Applied)
	}
}

func TestDedupScopesByCategory(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Identical titles in different categories never form a cluster.
	categories := []string{"decision", "convention"}
	for _, category := range categories {
		if _, err := env.knowledge.CreateItem(ctx, &models.KnowledgeItem{
			ProjectPath: "/repo/app",
			Title:       "Prefer composition over inheritance",
			Category:    category,
		}); err != nil {
			t.Fatal(err)
		}
	}

	stage := NewDedupStage(env.knowledge, env.corrections, 0.85, 500)
	stats, err := stage.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Applied != 0 {
		t.Errorf("cross-category titles were clustered: %+v", stats)
	}
}
