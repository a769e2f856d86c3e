package animation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractTimingDefaults(t *testing.T) {
	code := strings.Join([]string{
		"        self.play(Write(title))",
		"        self.play(FadeIn(box), run_time=2.5)",
		"        self.wait()",
		"        self.wait(3)",
	}, "\n")
	total, calls := ExtractTiming(code)
	assert.Equal(t, 4, calls)
	assert.InDelta(t, 7.5, total, 0.001) // 1.0 + 2.5 + 1.0 + 3.0
}

func TestAdjustTimingLeavesMatchingScene(t *testing.T) {
	code := "        self.play(Write(a), run_time=5)\n        self.wait(5)\n"
	adjusted := AdjustTiming(code, 10.2)
	assert.Equal(t, sanitizeWaits(code), adjusted)
}

func TestAdjustTimingExtendsLastWait(t *testing.T) {
	code := "        self.play(Write(a), run_time=2)\n        self.wait(1)\n"
	adjusted := AdjustTiming(code, 10)
	// 3s scene, 10s target: last wait grows by 7.
	assert.Contains(t, adjusted, "self.wait(8.00)")
}

func TestAdjustTimingAppendsWaitWhenNoneExists(t *testing.T) {
	code := "        self.play(Write(a), run_time=2)"
	adjusted := AdjustTiming(code, 6)
	assert.Contains(t, adjusted, "self.wait(4.00)")
}

func TestAdjustTimingLongSceneNotCut(t *testing.T) {
	code := "        self.play(Write(a), run_time=30)\n        self.wait(2)\n"
	adjusted := AdjustTiming(code, 10)
	assert.Contains(t, adjusted, "run_time=30")
	assert.Contains(t, adjusted, "self.wait(2)")
}

func TestAdjustTimingEmptySceneGetsFullWait(t *testing.T) {
	code := "        title = Text(\"hello\")"
	adjusted := AdjustTiming(code, 12)
	assert.Contains(t, adjusted, "self.wait(12.00)")
}

func TestSanitizeWaitsRewritesNonPositive(t *testing.T) {
	code := "        self.wait(0)\n        self.wait(-1.5)\n        self.wait(0.5)\n"
	fixed := sanitizeWaits(code)
	assert.NotContains(t, fixed, "self.wait(0)\n")
	assert.NotContains(t, fixed, "self.wait(-1.5)")
	assert.Contains(t, fixed, "self.wait(0.10)")
	assert.Contains(t, fixed, "self.wait(0.5)")
}

func TestAdjustTimingNeverEmitsNonPositiveWaits(t *testing.T) {
	code := "        self.play(X)\n        self.wait(0)\n"
	adjusted := AdjustTiming(code, 0.1)
	assert.NotContains(t, adjusted, "self.wait(0)\n")
	assert.NotContains(t, adjusted, "self.wait(-")
}
