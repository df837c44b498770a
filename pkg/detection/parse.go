package detection

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/uiscope/uiscope/pkg/types"
)

// ParseResult parses the raw model response into an AnalysisResult. The
// top-level shape must be a JSON object; within it, a missing or non-array
// events/annotations field degrades to an empty list rather than failing
// the batch item.
func ParseResult(raw string) (*types.AnalysisResult, error) {
	raw = sanitizeModelJSON(raw)

	if !strings.HasPrefix(strings.TrimSpace(raw), "{") {
		return nil, fmt.Errorf("model returned non-JSON response")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		// Try conservative brace-slice approach
		start := strings.Index(raw, "{")
		end := strings.LastIndex(raw, "}")
		if start < 0 || end <= start {
			return nil, fmt.Errorf("no valid JSON object in response")
		}
		if err2 := json.Unmarshal([]byte(raw[start:end+1]), &fields); err2 != nil {
			return nil, fmt.Errorf("failed to parse model response: %w", err2)
		}
	}

	result := &types.AnalysisResult{
		Events:      []types.Event{},
		Annotations: []types.Annotation{},
	}
	if msg, ok := fields["events"]; ok {
		var events []types.Event
		if err := json.Unmarshal(msg, &events); err == nil {
			result.Events = events
		}
	}
	if msg, ok := fields["annotations"]; ok {
		var annotations []types.Annotation
		if err := json.Unmarshal(msg, &annotations); err == nil {
			result.Annotations = annotations
		}
	}
	return result, nil
}

// sanitizeModelJSON removes code fences, comments, and trailing commas from
// a model response before parsing.
func sanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	// Strip triple-backtick fences if present
	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.TrimSpace(raw)
	raw = strings.Trim(raw, "`")

	// Remove /* ... */ block comments
	reBlock := regexp.MustCompile(`(?s)/\*.*?\*/`)
	raw = reBlock.ReplaceAllString(raw, "")

	// Remove // line/inline comments
	reLine := regexp.MustCompile(`(?m)^\s*//.*$`)
	raw = reLine.ReplaceAllString(raw, "")
	reInline := regexp.MustCompile(`(?m)//.*$`)
	raw = reInline.ReplaceAllString(raw, "")

	// Remove trailing commas before } or ]
	reTrailing := regexp.MustCompile(`,(\s*[}\]])`)
	raw = reTrailing.ReplaceAllString(raw, "$1")

	// Keep only the outermost {...}
	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}
	return strings.TrimSpace(raw)
}
