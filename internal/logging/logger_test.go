package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

// captureDefault swaps the default logger for a JSON handler writing into the
// returned buffer, restoring the previous default on cleanup.
func captureDefault(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestWithJobAttachesRunFields(t *testing.T) {
	buf := captureDefault(t)

	WithJob("maintenance", "knowledge-maintenance").Info("run finished", "captured", 3)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if rec["job_type"] != "maintenance" {
		t.Errorf("job_type = %v, want maintenance", rec["job_type"])
	}
	if rec["job_name"] != "knowledge-maintenance" {
		t.Errorf("job_name = %v, want knowledge-maintenance", rec["job_name"])
	}
	if rec["captured"] != float64(3) {
		t.Errorf("captured = %v, want 3", rec["captured"])
	}
}

func TestWithProjectScopesLogger(t *testing.T) {
	buf := captureDefault(t)

	WithProject(WithJob("compilation", "nightly-compilation"), "/repo/app").Info("project compiled")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if rec["project"] != "/repo/app" {
		t.Errorf("project = %v, want /repo/app", rec["project"])
	}
	if rec["job_name"] != "nightly-compilation" {
		t.Errorf("job_name = %v, want carried through", rec["job_name"])
	}
}
