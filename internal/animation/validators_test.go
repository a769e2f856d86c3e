package animation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eduviz/backend/internal/domain"
)

const validScene = `from manim import *

class Section0Scene(Scene):
    def construct(self):
        title = Text("Hello")
        self.play(Write(title))
        self.wait(1)
`

func TestValidateAcceptsWellFormedScene(t *testing.T) {
	v := NewValidator()
	result := v.Validate(validScene)
	assert.True(t, result.Valid)
	assert.Empty(t, result.CriticalIssues())
}

func TestValidateFlagsMissingSceneClass(t *testing.T) {
	v := NewValidator()
	result := v.Validate("from manim import *\n\nx = 1\n")
	assert.False(t, result.Valid)
	found := false
	for _, issue := range result.Issues {
		if issue.Category == domain.CategoryStructure && strings.Contains(issue.Message, "No Scene subclass") {
			found = true
		}
	}
	assert.True(t, found)
}

func TestValidateFlagsMissingConstruct(t *testing.T) {
	v := NewValidator()
	code := "from manim import *\n\nclass Foo(Scene):\n    def setup(self):\n        pass\n"
	result := v.Validate(code)
	assert.False(t, result.Valid)
}

func TestValidateFlagsMultipleSceneClasses(t *testing.T) {
	v := NewValidator()
	code := validScene + "\nclass Another(Scene):\n    def construct(self):\n        pass\n"
	result := v.Validate(code)
	assert.False(t, result.Valid)
}

func TestValidateFlagsMissingImport(t *testing.T) {
	v := NewValidator()
	code := "class Foo(Scene):\n    def construct(self):\n        pass\n"
	result := v.Validate(code)
	var categories []domain.IssueCategory
	for _, issue := range result.Issues {
		categories = append(categories, issue.Category)
	}
	assert.Contains(t, categories, domain.CategoryImports)
}

func TestValidateFlagsUnbalancedBrackets(t *testing.T) {
	v := NewValidator()
	code := "from manim import *\n\nclass Foo(Scene):\n    def construct(self):\n        x = (1 + 2\n"
	result := v.Validate(code)
	assert.False(t, result.Valid)
}

func TestValidateFlagsHardcodedOutOfBounds(t *testing.T) {
	v := NewValidator()
	code := strings.Replace(validScene,
		`        self.wait(1)`,
		"        title.move_to(RIGHT * 20.0)\n        self.wait(1)", 1)
	result := v.Validate(code)
	require.False(t, result.Valid)
	var oob *domain.ValidationIssue
	for i := range result.Issues {
		if result.Issues[i].Category == domain.CategoryOutOfBounds {
			oob = &result.Issues[i]
		}
	}
	require.NotNil(t, oob)
	assert.True(t, oob.AutoFixable)
	assert.True(t, oob.ShouldAutoFix())
}

func TestSceneClassName(t *testing.T) {
	assert.Equal(t, "Section0Scene", SceneClassName(validScene))
	assert.Equal(t, "", SceneClassName("x = 1\n"))
}

func TestDeterministicFixThenValidatePasses(t *testing.T) {
	// A hardcoded out-of-bounds coordinate converges without any LLM call:
	// validator flags it, fixer clamps it, validation passes.
	v := NewValidator()
	f := NewFixer()
	code := strings.Replace(validScene,
		`        self.wait(1)`,
		"        title.move_to(RIGHT * 20.0)\n        self.wait(1)", 1)

	result := v.Validate(code)
	require.False(t, result.Valid)

	fixed, remaining, fixes := f.Fix(code, result.Issues)
	assert.Equal(t, 1, fixes)
	assert.Empty(t, remaining)
	assert.Contains(t, fixed, "move_to(RIGHT * 5.5)")
	assert.True(t, v.Validate(fixed).Valid)
}
