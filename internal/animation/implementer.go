package animation

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/eduviz/backend/internal/adapters"
	"github.com/eduviz/backend/internal/domain"
)

// StyleConfig carries the theme settings the emitted scene must honor.
type StyleConfig struct {
	Name            string
	BackgroundColor string
	TextColor       string
	AccentColor     string
}

// DefaultStyle is used when the request names no theme.
var DefaultStyle = StyleConfig{
	Name:            "dark",
	BackgroundColor: "#0e1116",
	TextColor:       "#f5f5f5",
	AccentColor:     "#58a6ff",
}

// StyleByName resolves the small set of built-in themes.
func StyleByName(name string) StyleConfig {
	switch strings.ToLower(name) {
	case "light":
		return StyleConfig{Name: "light", BackgroundColor: "#fafafa", TextColor: "#1b1b1b", AccentColor: "#1a73e8"}
	case "", "dark", "default":
		return DefaultStyle
	default:
		return DefaultStyle
	}
}

// apiReference pins the renderer API surface the model may use, so emitted
// code doesn't drift onto removed or renamed calls.
const apiReference = `Allowed API surface (pinned):
- Mobjects: Text, Tex, MathTex, Circle, Square, Rectangle, Line, Arrow, Dot, VGroup, Table, Axes, NumberLine, DecimalNumber, ValueTracker
- Positioning: move_to, shift, next_to, to_edge, arrange, scale, scale_to_fit_width, set_fill, set_color
- Direction constants: ORIGIN, UP, DOWN, LEFT, RIGHT, UL, UR, DL, DR
- Animations: Write, Create, FadeIn, FadeOut, Transform, ReplacementTransform, Indicate, Circumscribe
- Scene calls: self.play(..., run_time=X), self.wait(X), self.add, self.remove
Never use: CENTER, TOP, BOTTOM, ease_in_expo, tracker.number, table.grid_lines, table[i][j].`

// Implementer runs the codegen stage: turn a plan into a complete scene file.
type Implementer struct {
	llm    adapters.LLMClient
	model  string
	logger *zap.Logger
}

func NewImplementer(llm adapters.LLMClient, model string, logger *zap.Logger) *Implementer {
	return &Implementer{llm: llm, model: model, logger: logger}
}

// ImplementInput is what stage 2 needs.
type ImplementInput struct {
	Section       *domain.Section
	Plan          *domain.ChoreographyPlan
	AudioDuration float64
	Style         StyleConfig
	Language      string
	SceneClass    string
}

// Implement asks the model for the scene class and wraps it into the
// canonical scene file. Empty output is an ImplementationError.
func (im *Implementer) Implement(ctx context.Context, in ImplementInput, temperature float64) (string, error) {
	prompt := im.buildPrompt(in)
	resp, err := im.llm.Generate(ctx, &adapters.GenerateRequest{
		Model:           im.model,
		Contents:        adapters.TextContent(prompt),
		Temperature:     temperature,
		MaxOutputTokens: 16384,
	})
	if err != nil {
		return "", &ImplementationError{Attempts: 1, Err: err}
	}

	code := ExtractPythonCode(resp.ResponseText)
	if strings.TrimSpace(code) == "" {
		return "", &ImplementationError{Attempts: 1, Err: fmt.Errorf("model returned no code")}
	}
	return WrapSceneFile(code, in.SceneClass, in.Style, in.AudioDuration), nil
}

var pythonFenceRe = regexp.MustCompile("(?s)```(?:python)?\\s*\\n(.*?)```")

// ExtractPythonCode pulls the first fenced code block, or returns the text
// as-is when it already looks like source.
func ExtractPythonCode(text string) string {
	if m := pythonFenceRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	trimmed := strings.TrimSpace(text)
	if strings.Contains(trimmed, "class ") && strings.Contains(trimmed, "def construct") {
		return trimmed
	}
	return ""
}

// WrapSceneFile normalizes model output into the canonical scene file:
// import header, one renamed Scene subclass, background color applied first,
// and a trailing wait padding the scene to the audio duration.
func WrapSceneFile(code, sceneClass string, style StyleConfig, targetDuration float64) string {
	body := code

	// Drop any import lines the model emitted; the header below provides them.
	var kept []string
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "from manim import") || trimmed == "import manim" {
			continue
		}
		kept = append(kept, line)
	}
	body = strings.Join(kept, "\n")

	// Rename whatever class the model chose to the canonical one.
	if declared := SceneClassName(body); declared != "" && declared != sceneClass {
		body = regexp.MustCompile(`\b`+regexp.QuoteMeta(declared)+`\b`).ReplaceAllString(body, sceneClass)
	}

	// Apply the theme background as the first statement of construct.
	bgLine := fmt.Sprintf(`        self.camera.background_color = "%s"`, style.BackgroundColor)
	if !strings.Contains(body, "self.camera.background_color") {
		constructAnywhereRe := regexp.MustCompile(`(?m)^\s+def\s+construct\s*\(\s*self\s*\)\s*:`)
		if m := constructAnywhereRe.FindStringIndex(body); m != nil {
			lineEnd := strings.Index(body[m[1]:], "\n")
			if lineEnd >= 0 {
				insert := m[1] + lineEnd + 1
				body = body[:insert] + bgLine + "\n" + body[insert:]
			}
		}
	}

	header := "from manim import *\nimport numpy as np\n\n"
	full := header + strings.TrimSpace(body) + "\n"
	return AdjustTiming(full, targetDuration)
}

func (im *Implementer) buildPrompt(in ImplementInput) string {
	planJSON, _ := json.MarshalIndent(in.Plan, "", "  ")
	var b strings.Builder
	b.WriteString("Implement the following choreography plan as a complete scene class.\n\n")
	fmt.Fprintf(&b, "Scene class name: %s\n", in.SceneClass)
	fmt.Fprintf(&b, "Target duration: %.2f seconds (must match the narration audio)\n", in.AudioDuration)
	fmt.Fprintf(&b, "Theme: background %s, text %s, accent %s\n",
		in.Style.BackgroundColor, in.Style.TextColor, in.Style.AccentColor)
	if in.Language != "" {
		fmt.Fprintf(&b, "On-screen text language: %s\n", in.Language)
	}
	if in.Section.VisualType != "" {
		fmt.Fprintf(&b, "Animation type guidance: %s\n", visualGuidance(in.Section.VisualType))
	}
	fmt.Fprintf(&b, "\nChoreography plan:\n%s\n\n", planJSON)
	b.WriteString(apiReference)
	fmt.Fprintf(&b, "\n\nKeep every object inside x in [-%.1f, %.1f] and y in [-%.1f, %.1f].", SafeXLimit, SafeXLimit, SafeYLimit, SafeYLimit)
	b.WriteString("\nReturn one class with a construct method, in a single python code block.")
	return b.String()
}

func visualGuidance(visualType string) string {
	switch visualType {
	case "graph":
		return "Use Axes with plotted curves; label axes; animate the plot with Create."
	case "table":
		return "Use Table; reveal rows progressively; highlight cells with get_cell."
	case "diagram":
		return "Compose shapes and arrows into a labeled diagram; introduce elements one at a time."
	case "equation":
		return "Use MathTex transformations; align equation steps with ReplacementTransform."
	default:
		return "Mix text and simple shapes; one idea on screen at a time."
	}
}
