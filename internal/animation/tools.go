package animation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/eduviz/backend/internal/adapters"
)

// Tool declarations for the surgical-edit conversation. search_replace edits
// the scene; inspect_frames only requests a screenshot — the next turn must
// attach the frame as multimodal input.
var (
	searchReplaceTool = adapters.ToolDeclaration{
		Name:        "search_replace",
		Description: "Replace one occurrence of `search` with `replace` in the current scene code. The search text must match exactly once (exact or whitespace-normalized); ambiguous or missing matches are rejected.",
		Parameters: map[string]any{
			"type":     "object",
			"required": []any{"search", "replace"},
			"properties": map[string]any{
				"search":  map[string]any{"type": "string", "description": "Exact code fragment to find"},
				"replace": map[string]any{"type": "string", "description": "Replacement code fragment"},
			},
		},
	}
	inspectFramesTool = adapters.ToolDeclaration{
		Name:        "inspect_frames",
		Description: "Request a screenshot of the rendered scene at a timestamp. The frame is attached to the next message.",
		Parameters: map[string]any{
			"type":     "object",
			"required": []any{"timestamp_seconds"},
			"properties": map[string]any{
				"timestamp_seconds": map[string]any{"type": "number", "description": "Time in seconds to capture"},
			},
		},
	}
)

// SurgicalTools lists the declarations passed to the edit conversation.
func SurgicalTools() []adapters.ToolDeclaration {
	return []adapters.ToolDeclaration{searchReplaceTool, inspectFramesTool}
}

// ValidateToolArgs checks a model-issued call against its declaration before
// execution. Unknown tool names are rejected.
func ValidateToolArgs(call adapters.FunctionCall) error {
	var decl adapters.ToolDeclaration
	switch call.Name {
	case searchReplaceTool.Name:
		decl = searchReplaceTool
	case inspectFramesTool.Name:
		decl = inspectFramesTool
	default:
		return fmt.Errorf("unknown tool %q", call.Name)
	}
	required, _ := decl.Parameters["required"].([]any)
	for _, r := range required {
		name, _ := r.(string)
		if _, ok := call.Args[name]; !ok {
			return fmt.Errorf("tool %s missing required argument %q", call.Name, name)
		}
	}
	return nil
}

// ApplySearchReplace performs a surgical edit. The search text must match
// uniquely, first byte-exact, then whitespace-normalized; anything else is
// rejected so the model cannot make an ambiguous change.
func ApplySearchReplace(code, search, replace string) (string, error) {
	if strings.TrimSpace(search) == "" {
		return "", fmt.Errorf("empty search text")
	}

	switch strings.Count(code, search) {
	case 1:
		return strings.Replace(code, search, replace, 1), nil
	case 0:
		// fall through to whitespace-normalized matching
	default:
		return "", fmt.Errorf("search text matches more than once; make it unique")
	}

	normalized := normalizeWhitespacePattern(search)
	re, err := regexp.Compile(normalized)
	if err != nil {
		return "", fmt.Errorf("search text not found")
	}
	matches := re.FindAllStringIndex(code, -1)
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("search text not found")
	case 1:
		loc := matches[0]
		return code[:loc[0]] + replace + code[loc[1]:], nil
	default:
		return "", fmt.Errorf("search text matches more than once; make it unique")
	}
}

// normalizeWhitespacePattern builds a regexp that treats any whitespace run
// in the search text as interchangeable.
func normalizeWhitespacePattern(search string) string {
	fields := strings.Fields(search)
	escaped := make([]string, len(fields))
	for i, f := range fields {
		escaped[i] = regexp.QuoteMeta(f)
	}
	return strings.Join(escaped, `\s+`)
}
