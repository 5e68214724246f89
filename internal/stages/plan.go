package stages

import (
	"fmt"
	"strings"

	"context"

	"github.com/anima/anima/internal/dispatch"
	"github.com/anima/anima/internal/kernel"
	"github.com/anima/anima/internal/ports"
)

const maxGapsSummary = 200

// PlanConfig wires the plan baseline to its dependencies.
type PlanConfig struct {
	FS              ports.FileSystemPort
	VisionPath      string
	SoulPath        string
	RoadmapDir      string
	ProtectedPaths  []string
	StuckThreshold  int // default 3

	// PromptFragmentDir, when set, names a directory holding optional
	// per-stage prompt template fragments (e.g. "plan.txt"). A fragment
	// found there is appended to the baseline prompt verbatim, letting an
	// operator tune agent instructions without touching this stage's code.
	PromptFragmentDir string
}

// NewPlan builds the baseline Planner from cfg.
func NewPlan(cfg PlanConfig) dispatch.Planner {
	if cfg.StuckThreshold <= 0 {
		cfg.StuckThreshold = 3
	}

	return func(ctx context.Context, state kernel.ProjectState, gapsText string, history []kernel.IterationRecord, iterationCount int) (kernel.IterationPlan, error) {
		roadmap := loadRoadmap(ctx, cfg.FS, cfg.RoadmapDir, nil)
		target := currentTarget(roadmap)
		targetVersion := "unknown"
		if target != nil {
			targetVersion = target.VersionLabel
		}

		gap := selectGap(gapsText)
		consecutiveFailures := countConsecutiveFailures(gap.Description, history)

		var warning *kernel.PlannedAction
		risk := kernel.RiskLow
		if consecutiveFailures >= cfg.StuckThreshold {
			if alt := selectAlternateGap(gapsText, gap.Description); alt != nil {
				gap = *alt
			} else {
				risk = kernel.RiskHigh
				warning = &kernel.PlannedAction{
					Description: fmt.Sprintf("WARNING: gap %q has failed %d consecutive times with no alternative found; proceeding anyway", gap.Description, consecutiveFailures),
					Type:        kernel.ActionModify,
				}
			}
		}

		actions := []kernel.PlannedAction{
			{Description: gap.Description, TargetFiles: filterProtected(nil, cfg.ProtectedPaths), Type: kernel.ActionModify},
		}
		if warning != nil {
			actions = append(actions, *warning)
		}

		acceptance := []string{
			"lint passes",
			"typecheck passes",
			"tests pass",
			"addresses: " + gap.Description,
		}

		prompt := buildPrompt(iterationCount, targetVersion, state, gapsText, history)
		prompt += loadPromptFragment(ctx, cfg.FS, cfg.PromptFragmentDir, "plan")

		return kernel.IterationPlan{
			PromptText:         prompt,
			IterationNum:       iterationCount,
			TargetVersion:      targetVersion,
			GapsSummary:        truncate(gapsText, maxGapsSummary),
			SelectedGap:        gap,
			Actions:            actions,
			AcceptanceCriteria: acceptance,
			Risk:               risk,
		}, nil
	}
}

// gapSectionCategories maps a section heading prefix to the GapCategory
// it represents, used to classify the bullet lines analyze emits.
var gapSectionCategories = []struct {
	prefix   string
	category kernel.GapCategory
}{
	{"UNCOMPLETED ROADMAP ITEMS", kernel.GapRoadmap},
	{"MISSING INFRASTRUCTURE", kernel.GapInfrastructure},
	{"QUALITY FAILURES", kernel.GapQuality},
	{"FAILING TESTS", kernel.GapTests},
	{"HUMAN REQUESTS", kernel.GapInbox},
	{"AUTO-REWRITE TRIGGERS", kernel.GapRewrite},
}

// selectGap picks the first bullet line in gapsText and classifies it
// by the section header it falls under.
func selectGap(gapsText string) kernel.Gap {
	if gapsText == "" || gapsText == noGaps {
		return kernel.Gap{Category: kernel.GapRoadmap, Description: "no gap identified", Priority: kernel.PriorityLow}
	}

	current := kernel.GapRoadmap
	for _, line := range strings.Split(gapsText, "\n") {
		trimmed := strings.TrimSpace(line)
		for _, section := range gapSectionCategories {
			if strings.HasPrefix(trimmed, section.prefix) {
				current = section.category
			}
		}
		if strings.HasPrefix(trimmed, "-") {
			desc := strings.TrimSpace(strings.TrimPrefix(trimmed, "-"))
			desc = strings.TrimSuffix(desc, " [STUCK — skip]")
			desc = strings.TrimSuffix(desc, " [STUCK — try different approach]")
			return kernel.Gap{
				Category:    current,
				Description: desc,
				Priority:    priorityFor(current),
				Evidence:    trimmed,
			}
		}
	}
	return kernel.Gap{Category: kernel.GapRoadmap, Description: "no gap identified", Priority: kernel.PriorityLow}
}

// selectAlternateGap finds a different bullet than exclude, used for
// stuck-gap escalation.
func selectAlternateGap(gapsText, exclude string) *kernel.Gap {
	current := kernel.GapRoadmap
	for _, line := range strings.Split(gapsText, "\n") {
		trimmed := strings.TrimSpace(line)
		for _, section := range gapSectionCategories {
			if strings.HasPrefix(trimmed, section.prefix) {
				current = section.category
			}
		}
		if !strings.HasPrefix(trimmed, "-") {
			continue
		}
		desc := strings.TrimSpace(strings.TrimPrefix(trimmed, "-"))
		desc = strings.TrimSuffix(desc, " [STUCK — skip]")
		desc = strings.TrimSuffix(desc, " [STUCK — try different approach]")
		if desc != exclude {
			g := kernel.Gap{Category: current, Description: desc, Priority: priorityFor(current), Evidence: trimmed}
			return &g
		}
	}
	return nil
}

func priorityFor(category kernel.GapCategory) kernel.Priority {
	switch category {
	case kernel.GapQuality, kernel.GapTests:
		return kernel.PriorityHigh
	case kernel.GapInbox:
		return kernel.PriorityUrgent
	case kernel.GapRewrite:
		return kernel.PriorityMedium
	default:
		return kernel.PriorityMedium
	}
}

// countConsecutiveFailures counts how many of the most recent history
// records (from the end, stopping at the first non-matching or
// non-failure record) addressed description and failed.
func countConsecutiveFailures(description string, history []kernel.IterationRecord) int {
	count := 0
	for i := len(history) - 1; i >= 0; i-- {
		r := history[i]
		if !strings.Contains(r.GapAddressed, description) {
			break
		}
		if r.Outcome != kernel.OutcomeFailure && r.Outcome != kernel.OutcomeRollback {
			break
		}
		count++
	}
	return count
}

// filterProtected drops any candidate target file that falls under a
// protected path.
func filterProtected(candidates, protectedPaths []string) []string {
	var out []string
	for _, c := range candidates {
		protected := false
		for _, p := range protectedPaths {
			p = strings.TrimSuffix(p, "/")
			if c == p || strings.HasPrefix(c, p+"/") {
				protected = true
				break
			}
		}
		if !protected {
			out = append(out, c)
		}
	}
	return out
}

func buildPrompt(iterationCount int, targetVersion string, state kernel.ProjectState, gapsText string, history []kernel.IterationRecord) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Iteration #%d — target version: %s\n\n", iterationCount, targetVersion)
	b.WriteString("Read the vision document, the soul document, and the current roadmap file before making any change.\n\n")

	b.WriteString("PROJECT STATE SUMMARY:\n")
	fmt.Fprintf(&b, "- domain layer present: %v\n", state.DomainExists)
	fmt.Fprintf(&b, "- adapters layer present: %v\n", state.AdaptersExist)
	fmt.Fprintf(&b, "- kernel layer present: %v\n", state.KernelExists)
	fmt.Fprintf(&b, "- inbox items: %d\n", len(state.Inbox))
	fmt.Fprintf(&b, "- modules: %s\n\n", moduleSummary(state.Modules))

	b.WriteString("GAPS TO ADDRESS:\n")
	b.WriteString(gapsText)
	b.WriteString("\n\n")

	if len(history) > 0 {
		b.WriteString("RECENT ITERATIONS:\n")
		recent := history
		if len(recent) > 3 {
			recent = recent[len(recent)-3:]
		}
		for _, r := range recent {
			marker := "FAIL"
			if r.Outcome == kernel.OutcomeSuccess {
				marker = "PASS"
			}
			fmt.Fprintf(&b, "- [%s] %s: %s\n", marker, r.IterationID, truncate(r.GapAddressed, 120))
		}
		b.WriteString("\n")
	}

	b.WriteString("Run the full verification suite (lint, typecheck, tests) after making changes.\n")
	b.WriteString("Address the single most important next step above; do not attempt multiple unrelated gaps in one iteration.\n")

	return b.String()
}

// loadPromptFragment reads "<dir>/<stage>.txt" through fs, returning it
// prefixed by a blank line so it reads as an appended section, or "" if
// dir is unset or no fragment exists for this stage.
func loadPromptFragment(ctx context.Context, fs ports.FileSystemPort, dir, stage string) string {
	if fs == nil || dir == "" {
		return ""
	}
	path := dir + "/" + stage + ".txt"
	fragment, err := fs.ReadFile(ctx, path)
	if err != nil || strings.TrimSpace(fragment) == "" {
		return ""
	}
	return "\n" + fragment
}

func moduleSummary(modules []kernel.ModuleInfo) string {
	if len(modules) == 0 {
		return "(none)"
	}
	names := make([]string, len(modules))
	for i, m := range modules {
		names[i] = m.Name
	}
	return strings.Join(names, ", ")
}
