package stages

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anima/anima/internal/dispatch"
	"github.com/anima/anima/internal/health"
	"github.com/anima/anima/internal/kernel"
	"github.com/anima/anima/internal/ports"
)

const noGaps = "NO_GAPS"

const maxQualityOutput = 500

// AnalyzeConfig wires the analyze baseline to its dependencies.
type AnalyzeConfig struct {
	FS            ports.FileSystemPort
	RoadmapDir    string
	Monitor       *health.Monitor
	HistoryWindow int // default 3
	Logger        *slog.Logger
}

// NewAnalyze builds the baseline Analyzer from cfg.
func NewAnalyze(cfg AnalyzeConfig) dispatch.Analyzer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 3
	}

	return func(ctx context.Context, vision kernel.Vision, state kernel.ProjectState, history []kernel.IterationRecord) (string, error) {
		roadmap := loadRoadmap(ctx, cfg.FS, cfg.RoadmapDir, cfg.Logger)
		target := currentTarget(roadmap)

		var sections []string

		if s := roadmapSection(target, history, cfg.HistoryWindow); s != "" {
			sections = append(sections, s)
		}
		if s := infrastructureSection(target, state); s != "" {
			sections = append(sections, s)
		}
		if s := qualitySection(state); s != "" {
			sections = append(sections, s)
		}
		if s := testsSection(state); s != "" {
			sections = append(sections, s)
		}
		if s := inboxSection(state); s != "" {
			sections = append(sections, s)
		}
		if s := autoRewriteSection(state, cfg.Monitor); s != "" {
			sections = append(sections, s)
		}

		if len(sections) == 0 {
			return noGaps, nil
		}
		return strings.Join(sections, "\n\n"), nil
	}
}

func roadmapSection(target *kernel.RoadmapItem, history []kernel.IterationRecord, window int) string {
	open := uncheckedItems(target)
	if len(open) == 0 {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "UNCOMPLETED ROADMAP ITEMS (%s):\n", target.VersionLabel)
	for _, item := range open {
		label, failures := stuckStatus(item.Description, history, window)
		if label == "" {
			fmt.Fprintf(&b, "- %s\n", item.Description)
		} else if failures >= 2 {
			fmt.Fprintf(&b, "- %s [STUCK — skip]\n", item.Description)
		} else {
			fmt.Fprintf(&b, "- %s [STUCK — try different approach]\n", item.Description)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// stuckStatus reports whether description has repeated as a gap across
// the last window history records, and how many of those were failures.
func stuckStatus(description string, history []kernel.IterationRecord, window int) (string, int) {
	recent := history
	if len(recent) > window {
		recent = recent[len(recent)-window:]
	}

	occurrences, failures := 0, 0
	for _, r := range recent {
		if strings.Contains(r.GapAddressed, description) {
			occurrences++
			if r.Outcome == kernel.OutcomeFailure || r.Outcome == kernel.OutcomeRollback {
				failures++
			}
		}
	}
	if occurrences == 0 {
		return "", 0
	}
	return "stuck", failures
}

func infrastructureSection(target *kernel.RoadmapItem, state kernel.ProjectState) string {
	if target == nil {
		return ""
	}
	text := strings.ToLower(target.VersionLabel)

	var missing []string
	if strings.Contains(text, "domain layer") && !state.DomainExists {
		missing = append(missing, "domain layer is missing")
	}
	if strings.Contains(text, "project-config") && !state.HasPyproject {
		missing = append(missing, "project configuration file is missing")
	}
	if strings.Contains(text, "type-checker config") && !state.HasPyrightConfig {
		missing = append(missing, "type-checker configuration file is missing")
	}
	if len(missing) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("MISSING INFRASTRUCTURE:\n")
	for _, m := range missing {
		fmt.Fprintf(&b, "- %s\n", m)
	}
	return strings.TrimRight(b.String(), "\n")
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func qualitySection(state kernel.ProjectState) string {
	if state.Quality == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString("QUALITY FAILURES:\n")
	any := false

	if state.Quality.Lint != nil && !state.Quality.Lint.Passed {
		fmt.Fprintf(&b, "- lint: %s\n", truncate(state.Quality.Lint.Output, maxQualityOutput))
		any = true
	}
	if state.Quality.Format != nil && !state.Quality.Format.Passed {
		fmt.Fprintf(&b, "- format: %s\n", truncate(state.Quality.Format.Output, maxQualityOutput))
		any = true
	}
	if state.Quality.Typecheck != nil && !state.Quality.Typecheck.Passed {
		fmt.Fprintf(&b, "- typecheck: %s\n", truncate(state.Quality.Typecheck.Output, maxQualityOutput))
		any = true
	}
	if !any {
		return ""
	}
	return strings.TrimRight(b.String(), "\n")
}

func testsSection(state kernel.ProjectState) string {
	if state.Tests == nil || state.Tests.Passed {
		return ""
	}
	var b strings.Builder
	b.WriteString("FAILING TESTS:\n")
	fmt.Fprintf(&b, "stdout: %s\n", state.Tests.StdoutTail)
	fmt.Fprintf(&b, "stderr: %s\n", state.Tests.StderrTail)
	return strings.TrimRight(b.String(), "\n")
}

func inboxSection(state kernel.ProjectState) string {
	if len(state.Inbox) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("HUMAN REQUESTS:\n")
	for _, item := range state.Inbox {
		fmt.Fprintf(&b, "--- %s ---\n%s\n", item.Filename, item.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}

func autoRewriteSection(state kernel.ProjectState, monitor *health.Monitor) string {
	if monitor == nil || len(state.Modules) == 0 {
		return ""
	}
	stats := monitor.ReadStats()

	var b strings.Builder
	b.WriteString("AUTO-REWRITE TRIGGERS:\n")
	any := false
	for _, m := range state.Modules {
		mh := health.ModuleHealth(m.Name, m, stats.ModuleStats[m.Name])
		if mh.Status == kernel.HealthDegraded || mh.Status == kernel.HealthCritical {
			fmt.Fprintf(&b, "- %s: %s (score %.2f, %s)\n", m.Name, mh.Status, mh.Composite, mh.LeadingIssue)
			any = true
		}
	}
	if !any {
		return ""
	}
	return strings.TrimRight(b.String(), "\n")
}
