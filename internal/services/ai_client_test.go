package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// completionsServer returns an OpenAI-compatible stub that answers every chat
// completion with the given content and counts requests.
func completionsServer(t *testing.T, content string, hits *int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		*hits++
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": content}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestClassifyItemParsesVerdict(t *testing.T) {
	var hits int
	server := completionsServer(t,
		`{"needsChange":true,"category":"bug_fix","subcategory":"","reason":"describes a fix"}`, &hits)
	defer server.Close()

	client := NewAIClient(server.URL, "", "test-model", "test-model", 6000)
	verdict, err := client.ClassifyItem(context.Background(), &ClassifyRequest{
		ItemID:     1,
		Title:      "Null pointer in session refresh",
		Category:   "feature",
		Vocabulary: []string{"feature", "bug_fix"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !verdict.NeedsChange || verdict.Category != "bug_fix" {
		t.Errorf("verdict = %+v", verdict)
	}
}

func TestClassifyItemCachesVerdicts(t *testing.T) {
	var hits int
	server := completionsServer(t,
		`{"needsChange":false,"category":"decision","subcategory":"","reason":"fine"}`, &hits)
	defer server.Close()

	client := NewAIClient(server.URL, "", "test-model", "test-model", 6000)
	req := &ClassifyRequest{
		ItemID:     7,
		Title:      "Adopt RFC3339 everywhere",
		Category:   "decision",
		Vocabulary: []string{"decision"},
	}

	for i := 0; i < 3; i++ {
		if _, err := client.ClassifyItem(context.Background(), req); err != nil {
			t.Fatal(err)
		}
	}
	if hits != 1 {
		t.Errorf("identical item hit the API %d times, want 1", hits)
	}

	// A changed title must bypass the cache.
	req.Title = "Adopt RFC3339 in the API too"
	if _, err := client.ClassifyItem(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	if hits != 2 {
		t.Errorf("edited item did not refresh the verdict (hits = %d)", hits)
	}
}

func TestClassifyItemRejectsOutOfVocabularyVerdict(t *testing.T) {
	var hits int
	server := completionsServer(t,
		`{"needsChange":true,"category":"made_up_category","subcategory":"","reason":"?"}`, &hits)
	defer server.Close()

	client := NewAIClient(server.URL, "", "test-model", "test-model", 6000)
	_, err := client.ClassifyItem(context.Background(), &ClassifyRequest{
		ItemID:     2,
		Title:      "Something",
		Category:   "other",
		Vocabulary: []string{"feature", "bug_fix", "other"},
	})
	if err == nil {
		t.Error("expected error for out-of-vocabulary verdict")
	}
}

func TestSynthesizeRejectsEmptyContent(t *testing.T) {
	var hits int
	server := completionsServer(t, "   ", &hits)
	defer server.Close()

	client := NewAIClient(server.URL, "", "test-model", "test-model", 6000)
	_, err := client.Synthesize(context.Background(), &SynthesizeRequest{
		ProjectName: "app",
		Category:    "work_log",
		Entries:     "### 2026-08-29 - note\nbody",
	})
	if err == nil {
		t.Error("expected error for empty synthesis output")
	}
}

func TestChatCompletionSurfacesAPIErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"overloaded"}`, http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewAIClient(server.URL, "", "test-model", "test-model", 6000)
	_, err := client.Synthesize(context.Background(), &SynthesizeRequest{
		ProjectName: "app",
		Category:    "work_log",
		Entries:     "material",
	})
	if err == nil {
		t.Error("expected error for non-200 response")
	}
}
