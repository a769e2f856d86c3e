package animation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eduviz/backend/internal/adapters"
)

func TestApplySearchReplaceUniqueExact(t *testing.T) {
	code := "a = 1\nb = 2\n"
	out, err := ApplySearchReplace(code, "b = 2", "b = 3")
	require.NoError(t, err)
	assert.Equal(t, "a = 1\nb = 3\n", out)
}

func TestApplySearchReplaceRejectsAmbiguous(t *testing.T) {
	code := "x = 1\nx = 1\n"
	_, err := ApplySearchReplace(code, "x = 1", "x = 2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "more than once")
}

func TestApplySearchReplaceWhitespaceNormalized(t *testing.T) {
	code := "result = foo( 1,  2 )\n"
	out, err := ApplySearchReplace(code, "foo( 1, 2 )", "bar(1, 2)")
	require.NoError(t, err)
	assert.Contains(t, out, "bar(1, 2)")
}

func TestApplySearchReplaceRejectsMissing(t *testing.T) {
	_, err := ApplySearchReplace("a = 1\n", "z = 9", "z = 0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestValidateToolArgs(t *testing.T) {
	ok := adapters.FunctionCall{Name: "search_replace", Args: map[string]any{"search": "a", "replace": "b"}}
	assert.NoError(t, ValidateToolArgs(ok))

	missing := adapters.FunctionCall{Name: "search_replace", Args: map[string]any{"search": "a"}}
	assert.Error(t, ValidateToolArgs(missing))

	unknown := adapters.FunctionCall{Name: "rm_rf", Args: map[string]any{}}
	err := ValidateToolArgs(unknown)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown tool")

	frames := adapters.FunctionCall{Name: "inspect_frames", Args: map[string]any{"timestamp_seconds": 2.5}}
	assert.NoError(t, ValidateToolArgs(frames))
}

func TestExtractPythonCode(t *testing.T) {
	fenced := "Here you go:\n```python\nclass Foo(Scene):\n    def construct(self):\n        pass\n```\nDone."
	code := ExtractPythonCode(fenced)
	assert.Contains(t, code, "class Foo(Scene):")
	assert.NotContains(t, code, "```")

	bare := "class Foo(Scene):\n    def construct(self):\n        pass"
	assert.Equal(t, bare, ExtractPythonCode(bare))

	assert.Equal(t, "", ExtractPythonCode("no code here"))
}

func TestWrapSceneFile(t *testing.T) {
	raw := "from manim import *\n\nclass ModelChoice(Scene):\n    def construct(self):\n        t = Text(\"hi\")\n        self.play(Write(t))\n"
	wrapped := WrapSceneFile(raw, "Section2Scene", DefaultStyle, 8)

	assert.Contains(t, wrapped, "class Section2Scene(Scene):")
	assert.NotContains(t, wrapped, "ModelChoice")
	assert.Contains(t, wrapped, `self.camera.background_color = "#0e1116"`)
	// Padded to the audio duration: 1s play -> 7s wait.
	assert.Contains(t, wrapped, "self.wait(7.00)")
	// Exactly one import header.
	assert.Equal(t, 1, strings.Count(wrapped, "from manim import *"))
}
