package animation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eduviz/backend/internal/domain"
)

func qcIssues() []domain.ValidationIssue {
	return []domain.ValidationIssue{
		{Category: domain.CategoryTextOverlap, Severity: domain.SeverityWarning, Confidence: domain.ConfidenceLow, Message: "titles overlap"},
		{Category: domain.CategoryVisibility, Severity: domain.SeverityInfo, Confidence: domain.ConfidenceLow, Message: "object near edge"},
	}
}

func TestParseVerdictsClassifies(t *testing.T) {
	response := "ISSUE 1: REAL\nISSUE 2: FALSE_POSITIVE\n"
	verdicts := ParseVerdicts(response, qcIssues())
	require.Len(t, verdicts, 2)
	assert.True(t, verdicts[0].Real)
	assert.False(t, verdicts[1].Real)
}

func TestParseVerdictsDefaultsToReal(t *testing.T) {
	// Unmentioned issues stay real; garbage lines are ignored.
	response := "I think issue 2 might be fine\nISSUE 2: FALSE_POSITIVE"
	verdicts := ParseVerdicts(response, qcIssues())
	require.Len(t, verdicts, 2)
	assert.True(t, verdicts[0].Real)
	assert.False(t, verdicts[1].Real)
}

func TestParseVerdictsIgnoresOutOfRange(t *testing.T) {
	verdicts := ParseVerdicts("ISSUE 9: FALSE_POSITIVE", qcIssues())
	assert.True(t, verdicts[0].Real)
	assert.True(t, verdicts[1].Real)
}

func TestWhitelistKeyStable(t *testing.T) {
	issue := qcIssues()[0]
	assert.Equal(t, WhitelistKey(issue), WhitelistKey(issue))
	assert.NotEqual(t, WhitelistKey(issue), WhitelistKey(qcIssues()[1]))
}
