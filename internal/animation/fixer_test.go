package animation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eduviz/backend/internal/domain"
)

func TestFixKnownPatternsRemovesZeroWaits(t *testing.T) {
	f := NewFixer()
	code := "        self.play(Write(title))\n        self.wait(0)\n        self.wait(1.0)\n"
	fixed, count := f.FixKnownPatterns(code)
	assert.NotContains(t, fixed, "self.wait(0)\n")
	assert.Contains(t, fixed, "self.wait(1.0)")
	assert.Equal(t, 1, count)
}

func TestFixKnownPatternsTrackerNumber(t *testing.T) {
	f := NewFixer()
	fixed, count := f.FixKnownPatterns("        label = Text(str(tracker.number))\n")
	assert.Contains(t, fixed, "tracker.get_value()")
	assert.NotContains(t, fixed, "tracker.number")
	assert.Equal(t, 1, count)
}

func TestFixKnownPatternsForbiddenIdentifiers(t *testing.T) {
	f := NewFixer()
	code := "        obj.move_to(CENTER)\n        box.to_edge(TOP)\n        thing.to_edge(BOTTOM)\n        self.play(anim, rate_func=ease_in_expo)\n"
	fixed, _ := f.FixKnownPatterns(code)
	assert.Contains(t, fixed, "move_to(ORIGIN)")
	assert.Contains(t, fixed, "to_edge(UP)")
	assert.Contains(t, fixed, "to_edge(DOWN)")
	assert.Contains(t, fixed, "rate_func=smooth")
}

func TestFixKnownPatternsTableAccess(t *testing.T) {
	f := NewFixer()
	code := "        cell = table[0][2]\n        lines = table.grid_lines\n"
	fixed, _ := f.FixKnownPatterns(code)
	assert.Contains(t, fixed, "table.get_cell(1, 3)")
	assert.Contains(t, fixed, "VGroup(table.get_horizontal_lines(), table.get_vertical_lines())")
}

func TestFixKnownPatternsMathTexArrangement(t *testing.T) {
	f := NewFixer()
	code := `        eq = MathTex("a", "+", "b", "=", "c")`
	fixed, _ := f.FixKnownPatterns(code)
	assert.Contains(t, fixed, "eq.arrange(RIGHT, buff=0.7)")
	assert.Contains(t, fixed, "eq.scale_to_fit_width(min(eq.width, 10.5))")

	// Keyword-only extras do not count as positional.
	short := `        eq = MathTex("a", "+", "b", font_size=40)`
	fixedShort, _ := f.FixKnownPatterns(short)
	assert.NotContains(t, fixedShort, "arrange")
}

func TestFixKnownPatternsDecorativeLineGroup(t *testing.T) {
	f := NewFixer()
	code := "        group = VGroup(table, line_x, line_y)\n"
	fixed, _ := f.FixKnownPatterns(code)
	assert.Contains(t, fixed, "group = table")
	assert.NotContains(t, fixed, "VGroup(table, line_x, line_y)")
}

func TestFixKnownPatternsStretchGeometry(t *testing.T) {
	f := NewFixer()
	code := "        highlight.stretch_to_fit_width(tableau.width / 8)\n"
	fixed, _ := f.FixKnownPatterns(code)
	assert.Contains(t, fixed, "tableau.width / 7")
}

func TestFixKnownPatternsIdempotent(t *testing.T) {
	f := NewFixer()
	code := strings.Join([]string{
		`        eq = MathTex("a", "+", "b", "=", "c")`,
		`        self.wait(0)`,
		`        cell = table[1][1]`,
		`        obj.move_to(CENTER)`,
		``,
	}, "\n")
	once, _ := f.FixKnownPatterns(code)
	twice, count := f.FixKnownPatterns(once)
	assert.Equal(t, once, twice)
	assert.Zero(t, count)
}

func TestFixOutOfBoundsClampsCoordinates(t *testing.T) {
	f := NewFixer()
	code := "        obj.move_to(RIGHT * 20.0)\n        obj.shift(UP * 5.0)\n        obj.move_to(LEFT * 2.0)\n"
	issue := domain.ValidationIssue{
		Severity:    domain.SeverityCritical,
		Confidence:  domain.ConfidenceHigh,
		Category:    domain.CategoryOutOfBounds,
		AutoFixable: true,
	}
	fixed, remaining, fixes := f.Fix(code, []domain.ValidationIssue{issue})
	assert.Equal(t, 1, fixes)
	assert.Empty(t, remaining)
	assert.Contains(t, fixed, "move_to(RIGHT * 5.5)")
	assert.Contains(t, fixed, "shift(UP * 3.0)")
	assert.Contains(t, fixed, "move_to(LEFT * 2.0)") // already safe
}

func TestFixOutOfBoundsGroupOverflow(t *testing.T) {
	f := NewFixer()
	code := "        diagram = VGroup(a, b)\n        diagram.move_to(RIGHT * 9)\n"
	issue := domain.ValidationIssue{
		Severity:    domain.SeverityCritical,
		Confidence:  domain.ConfidenceHigh,
		Category:    domain.CategoryOutOfBounds,
		AutoFixable: true,
		Details:     map[string]any{"is_group_overflow": true, "object_type": "VGroup"},
	}
	fixed, _, fixes := f.Fix(code, []domain.ValidationIssue{issue})
	assert.Equal(t, 1, fixes)
	assert.Contains(t, fixed, "diagram.scale_to_fit_width(min(diagram.width, 12.0))")
}

func TestFixTextOverlapWithAnchor(t *testing.T) {
	f := NewFixer()
	code := "        title = Text(\"Introduction to Limits\")\n        subtitle = Text(\"Epsilon and delta\")\n"
	issue := domain.ValidationIssue{
		Severity:    domain.SeverityCritical,
		Confidence:  domain.ConfidenceHigh,
		Category:    domain.CategoryTextOverlap,
		AutoFixable: true,
		Details:     map[string]any{"text1": "Introduction to Limits", "text2": "Epsilon and delta"},
	}
	fixed, remaining, fixes := f.Fix(code, []domain.ValidationIssue{issue})
	assert.Equal(t, 1, fixes)
	assert.Empty(t, remaining)
	assert.Contains(t, fixed, "subtitle.next_to(title, DOWN, buff=0.4)")
}

func TestFixTextOverlapWithoutAnchorShifts(t *testing.T) {
	f := NewFixer()
	code := "        subtitle = Text(\"Epsilon and delta\")\n"
	issue := domain.ValidationIssue{
		Severity:    domain.SeverityCritical,
		Confidence:  domain.ConfidenceHigh,
		Category:    domain.CategoryTextOverlap,
		AutoFixable: true,
		Details:     map[string]any{"text1": "not in code", "text2": "Epsilon and delta"},
	}
	fixed, _, fixes := f.Fix(code, []domain.ValidationIssue{issue})
	assert.Equal(t, 1, fixes)
	assert.Contains(t, fixed, "subtitle.shift(DOWN * 0.8)")
}

func TestFixObjectOcclusion(t *testing.T) {
	f := NewFixer()
	code := "        backdrop = Rectangle(width=10, height=6)\n"
	issue := domain.ValidationIssue{
		Severity:    domain.SeverityWarning,
		Confidence:  domain.ConfidenceHigh,
		Category:    domain.CategoryObjectOcclusion,
		AutoFixable: true,
		Details:     map[string]any{"object_type": "Rectangle"},
	}
	fixed, _, fixes := f.Fix(code, []domain.ValidationIssue{issue})
	assert.Equal(t, 1, fixes)
	assert.Contains(t, fixed, "backdrop.set_fill(opacity=0)")
}

func TestFixPassesThroughNonAutoFixable(t *testing.T) {
	f := NewFixer()
	issue := domain.ValidationIssue{
		Severity:   domain.SeverityCritical,
		Confidence: domain.ConfidenceHigh,
		Category:   domain.CategoryRuntime,
		Message:    "NameError: undefined",
	}
	code := "        pass\n"
	fixed, remaining, fixes := f.Fix(code, []domain.ValidationIssue{issue})
	assert.Equal(t, code, fixed)
	require.Len(t, remaining, 1)
	assert.Zero(t, fixes)
}

func TestExactlyOneRoutingPredicateHolds(t *testing.T) {
	cases := []domain.ValidationIssue{
		{Severity: domain.SeverityCritical, Confidence: domain.ConfidenceHigh, AutoFixable: true},
		{Severity: domain.SeverityCritical, Confidence: domain.ConfidenceHigh, AutoFixable: false},
		{Severity: domain.SeverityWarning, Confidence: domain.ConfidenceHigh, AutoFixable: true},
		{Severity: domain.SeverityInfo, Confidence: domain.ConfidenceMedium},
		{Severity: domain.SeverityCritical, Confidence: domain.ConfidenceLow},
		{Severity: domain.SeverityWarning, Confidence: domain.ConfidenceLow, AutoFixable: true},
	}
	for i, issue := range cases {
		n := 0
		if issue.ShouldAutoFix() {
			n++
		}
		if issue.RequiresLLM() {
			n++
		}
		if issue.NeedsVerification() {
			n++
		}
		assert.Equal(t, 1, n, "case %d", i)
	}
}
