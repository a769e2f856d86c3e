package animation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eduviz/backend/internal/domain"
)

func TestParseProbeStderrTraceback(t *testing.T) {
	stderr := `Traceback (most recent call last):
  File "scene_probe.py", line 14, in construct
    circle.shift(bogus)
NameError: name 'bogus' is not defined
`
	issues := ParseProbeStderr(stderr)
	require.Len(t, issues, 1)
	assert.Equal(t, domain.CategoryRuntime, issues[0].Category)
	assert.Equal(t, domain.SeverityCritical, issues[0].Severity)
	assert.Equal(t, 14, issues[0].Line)
	assert.Contains(t, issues[0].Message, "NameError")
}

func TestParseProbeStderrSpatialBounds(t *testing.T) {
	stderr := `Spatial Error: Object 'VGroup' is out of bounds (X/Y limits). Center: (10.00, 0.00).`
	issues := ParseProbeStderr(stderr)
	require.Len(t, issues, 1)
	assert.Equal(t, domain.CategoryOutOfBounds, issues[0].Category)
	assert.True(t, issues[0].AutoFixable)
	assert.Equal(t, "VGroup", issues[0].Details["object_type"])
	assert.Equal(t, 10.0, issues[0].Details["x"])
}

func TestParseProbeStderrTextOverlap(t *testing.T) {
	stderr := `Spatial Error: Text overlap detected between 'First title' and 'Second title'.`
	issues := ParseProbeStderr(stderr)
	require.Len(t, issues, 1)
	assert.Equal(t, domain.CategoryTextOverlap, issues[0].Category)
	assert.Equal(t, "First title", issues[0].Details["text1"])
	assert.Equal(t, "Second title", issues[0].Details["text2"])
}

func TestParseProbeStderrStructuredJSON(t *testing.T) {
	stderr := `SPATIAL_ISSUES_JSON:[{"category":"out_of_bounds","severity":"warning","confidence":"low","message":"Object nearly spans frame"}]`
	issues := ParseProbeStderr(stderr)
	require.Len(t, issues, 1)
	assert.Equal(t, domain.CategoryOutOfBounds, issues[0].Category)
	assert.Equal(t, domain.SeverityWarning, issues[0].Severity)
	assert.Equal(t, domain.ConfidenceLow, issues[0].Confidence)
	assert.True(t, issues[0].NeedsVerification())
}

func TestParseProbeStderrWeakWarnings(t *testing.T) {
	stderr := "SPATIAL_WARNING: object close to edge\n"
	issues := ParseProbeStderr(stderr)
	require.Len(t, issues, 1)
	assert.Equal(t, domain.SeverityInfo, issues[0].Severity)
	assert.Equal(t, "object close to edge", issues[0].Message)
}

func TestParseProbeStderrCleanRun(t *testing.T) {
	assert.Empty(t, ParseProbeStderr("Rendered scene at 480p15\n"))
}
