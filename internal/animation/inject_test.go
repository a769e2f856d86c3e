package animation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInjectAppendsCheckCallAndHelper(t *testing.T) {
	in := NewInjector()
	injected := in.Inject(validScene)

	require.Contains(t, injected, "self._perform_spatial_checks()")
	require.Contains(t, injected, "def _perform_spatial_checks(self):")
	assert.Contains(t, injected, "SCREEN_X_LIMIT = 7.1")
	assert.Contains(t, injected, "SCREEN_Y_LIMIT = 4.0")
	assert.Contains(t, injected, "sys.exit")
	assert.Contains(t, injected, "SPATIAL_ISSUES_JSON:")

	// The call lands after the last construct statement.
	callIdx := strings.Index(injected, "self._perform_spatial_checks()")
	waitIdx := strings.Index(injected, "self.wait(1)")
	assert.Greater(t, callIdx, waitIdx)
}

func TestInjectLeavesCodeWithoutConstructAlone(t *testing.T) {
	in := NewInjector()
	code := "x = 1\n"
	assert.Equal(t, code, in.Inject(code))
}

func TestInjectPreservesOriginalStatements(t *testing.T) {
	in := NewInjector()
	injected := in.Inject(validScene)
	for _, stmt := range []string{"Text(\"Hello\")", "self.play(Write(title))", "self.wait(1)"} {
		assert.Contains(t, injected, stmt)
	}
}
