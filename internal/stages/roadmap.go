package stages

import (
	"context"
	"log/slog"
	"path"
	"strings"

	"github.com/anima/anima/internal/kernel"
	"github.com/anima/anima/internal/ports"
)

// loadRoadmap reads every markdown file under dir and parses its
// checklist, returning items ordered by filename (the sequencing
// roadmap files rely on, e.g. "0001-foundations.md", "0002-api.md").
func loadRoadmap(ctx context.Context, fsPort ports.FileSystemPort, dir string, logger *slog.Logger) []kernel.RoadmapItem {
	if fsPort == nil || dir == "" {
		return nil
	}
	entries, err := fsPort.ListFiles(ctx, dir, "*.md")
	if err != nil {
		if logger != nil {
			logger.Warn("roadmap: listing files failed", "error", err)
		}
		return nil
	}

	items := make([]kernel.RoadmapItem, 0, len(entries))
	for _, e := range entries {
		content, err := fsPort.ReadFile(ctx, e.Path)
		if err != nil {
			if logger != nil {
				logger.Warn("roadmap: reading file failed", "path", e.Path, "error", err)
			}
			continue
		}
		label := versionLabelFromFilename(e.Path)
		items = append(items, kernel.RoadmapItem{
			VersionLabel: label,
			Path:         e.Path,
			Items:        parseChecklist(content, label),
		})
	}
	return items
}

func versionLabelFromFilename(filePath string) string {
	base := path.Base(filePath)
	return strings.TrimSuffix(base, path.Ext(base))
}

// parseChecklist extracts "- [ ] description" / "- [x] description"
// lines from markdown content.
func parseChecklist(content, versionLabel string) []kernel.ChecklistItem {
	var items []kernel.ChecklistItem
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		lower := strings.ToLower(trimmed)

		var checked bool
		var description string
		switch {
		case strings.HasPrefix(lower, "- [ ]"):
			checked = false
			description = strings.TrimSpace(trimmed[5:])
		case strings.HasPrefix(lower, "- [x]"):
			checked = true
			description = strings.TrimSpace(trimmed[5:])
		default:
			continue
		}

		items = append(items, kernel.ChecklistItem{
			VersionLabel: versionLabel,
			Description:  description,
			Completed:    checked,
		})
	}
	return items
}

// currentTarget returns the first roadmap item (in file order) that
// still has at least one unchecked item, or nil if the roadmap is
// fully complete.
func currentTarget(items []kernel.RoadmapItem) *kernel.RoadmapItem {
	for i := range items {
		for _, c := range items[i].Items {
			if !c.Completed {
				return &items[i]
			}
		}
	}
	return nil
}

// uncheckedItems returns the still-open checklist entries of item.
func uncheckedItems(item *kernel.RoadmapItem) []kernel.ChecklistItem {
	if item == nil {
		return nil
	}
	var open []kernel.ChecklistItem
	for _, c := range item.Items {
		if !c.Completed {
			open = append(open, c)
		}
	}
	return open
}

// isRoadmapFullyComplete reports whether every parsed roadmap item has
// no unchecked entries, i.e. the project has no remaining target
// version. Tag-on-advance does not use it; Milestones checks each file
// with isItemFullyComplete.
func isRoadmapFullyComplete(items []kernel.RoadmapItem) bool {
	return currentTarget(items) == nil
}

// MilestoneStatus pairs the current target version (first roadmap file,
// in sorted order, still carrying an unchecked item) with the achieved
// version (the roadmap file immediately preceding it that is fully
// checked), for the driver's tag-on-advance logic.
type MilestoneStatus struct {
	Target   string
	Achieved string
}

// Milestones loads the roadmap under dir and derives MilestoneStatus.
// Exported for internal/driver, which has no other way to reach the
// roadmap-parsing helpers this package keeps unexported everywhere else.
func Milestones(ctx context.Context, fsPort ports.FileSystemPort, dir string, logger *slog.Logger) MilestoneStatus {
	roadmap := loadRoadmap(ctx, fsPort, dir, logger)

	var achieved string
	for i := range roadmap {
		if isItemFullyComplete(roadmap[i]) {
			achieved = roadmap[i].VersionLabel
			continue
		}
		return MilestoneStatus{Target: roadmap[i].VersionLabel, Achieved: achieved}
	}
	return MilestoneStatus{Achieved: achieved}
}

func isItemFullyComplete(item kernel.RoadmapItem) bool {
	for _, c := range item.Items {
		if !c.Completed {
			return false
		}
	}
	return true
}
