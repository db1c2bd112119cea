package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Init configures the global slog logger.
// In production (ENVIRONMENT=production) it uses JSON output for log aggregation.
// Otherwise it uses the human-readable text handler.
func Init() {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))

	var handler slog.Handler
	if env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})
	}

	slog.SetDefault(slog.New(handler))
}

// WithJob returns a logger with job-run context fields attached.
// Use this for all logging within a scheduled pipeline run.
func WithJob(jobType, jobName string) *slog.Logger {
	return slog.With(
		"job_type", jobType,
		"job_name", jobName,
	)
}

// WithProject returns a logger scoped to one project inside a run.
func WithProject(logger *slog.Logger, projectPath string) *slog.Logger {
	return logger.With("project", projectPath)
}
