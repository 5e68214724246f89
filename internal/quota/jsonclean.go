package quota

import (
	"strings"

	"github.com/anima/anima/internal/kernel"
)

// cleanJSONPayload strips markdown code fences and surrounding prose
// from a line of agent output, isolating the JSON object an agent
// backend may have wrapped in commentary or a ```json block before
// streaming a structured quota event. Adapted from
// pkg/orc/utils.CleanJSONResponse (used there to recover JSON from a
// model's chat completion), narrowed here to the single-object case
// DetectFromStructuredEvent expects.
func cleanJSONPayload(line string) string {
	line = strings.ReplaceAll(line, "```json", "")
	line = strings.ReplaceAll(line, "```", "")

	start := strings.Index(line, "{")
	end := strings.LastIndex(line, "}")
	if start >= 0 && end > start {
		line = line[start : end+1]
	}
	return strings.TrimSpace(line)
}

// DetectFromRawLine cleans a single line of streamed agent output and,
// if it contains a structured quota event (possibly wrapped in markdown
// fencing or trailing commentary), returns the resulting QuotaState.
// Returns nil for ordinary output lines.
func DetectFromRawLine(line string, nowUnix int64) *kernel.QuotaState {
	cleaned := cleanJSONPayload(line)
	if cleaned == "" {
		return nil
	}
	return DetectFromStructuredEvent([]byte(cleaned), nowUnix)
}
