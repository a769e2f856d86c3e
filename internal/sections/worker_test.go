package sections

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eduviz/backend/internal/domain"
)

type fakeTTS struct {
	wholeSection bool
}

func (f *fakeTTS) Synthesize(ctx context.Context, text, outputPath, voice string) (float64, error) {
	return 10, nil
}
func (f *fakeTTS) WholeSectionTTS() bool { return f.wholeSection }

func TestCollectSegmentsUsesScriptSegments(t *testing.T) {
	section := &domain.Section{
		Narration: "whole narration",
		NarrationSegments: []domain.NarrationSegment{
			{Text: "one", EstimatedDuration: 5},
			{Text: "two", EstimatedDuration: 7},
		},
	}
	segments := collectSegments(section)
	require.Len(t, segments, 2)
	assert.Equal(t, "one", segments[0].Text)
}

func TestCollectSegmentsSynthesizesFallback(t *testing.T) {
	section := &domain.Section{Narration: "a short narration", DurationSeconds: 30}
	segments := collectSegments(section)
	require.Len(t, segments, 1)
	assert.Equal(t, "a short narration", segments[0].Text)
	assert.Equal(t, 30.0, segments[0].EstimatedDuration)
}

func TestCollectSegmentsEmptyNarrationGetsPositiveDuration(t *testing.T) {
	section := &domain.Section{Narration: ""}
	segments := collectSegments(section)
	require.Len(t, segments, 1)
	assert.Greater(t, segments[0].EstimatedDuration, 0.0)
}

func TestShouldUseChunkedWholeSectionPolicy(t *testing.T) {
	long := []domain.NarrationSegment{
		{Text: "A", EstimatedDuration: 60},
		{Text: "B", EstimatedDuration: 60},
	}
	comprehensive := &domain.Section{VideoMode: "comprehensive"}
	overview := &domain.Section{VideoMode: "overview"}

	assert.True(t, shouldUseChunkedWholeSection(comprehensive, long, &fakeTTS{wholeSection: true}))
	assert.False(t, shouldUseChunkedWholeSection(overview, long, &fakeTTS{wholeSection: true}))
	assert.False(t, shouldUseChunkedWholeSection(comprehensive, long, &fakeTTS{wholeSection: false}))

	short := []domain.NarrationSegment{
		{Text: "A", EstimatedDuration: 60},
		{Text: "B", EstimatedDuration: 59.9},
	}
	assert.False(t, shouldUseChunkedWholeSection(comprehensive, short, &fakeTTS{wholeSection: true}))
}

func TestSplitSegmentsIntoContiguousChunks(t *testing.T) {
	segments := []domain.NarrationSegment{
		{Text: "s1", EstimatedDuration: 30},
		{Text: "s2", EstimatedDuration: 20},
		{Text: "s3", EstimatedDuration: 20},
		{Text: "s4", EstimatedDuration: 30},
	}
	chunks := splitSegmentsIntoContiguousChunks(segments, 2)
	require.Len(t, chunks, 2)
	assert.Len(t, chunks[0], 2)
	assert.Len(t, chunks[1], 2)

	// Order preserved across the chunk boundary.
	var flat []string
	for _, chunk := range chunks {
		for _, seg := range chunk {
			flat = append(flat, seg.Text)
		}
	}
	assert.Equal(t, []string{"s1", "s2", "s3", "s4"}, flat)
}

func TestNormalizeSegmentTimingsToTotal(t *testing.T) {
	segments := []domain.AudioSegment{
		{SegmentIndex: 0, Text: "A", Duration: 2},
		{SegmentIndex: 1, Text: "B", Duration: 3},
		{SegmentIndex: 2, Text: "C", Duration: 5},
	}
	normalized := normalizeSegmentTimingsToTotal(segments, 20)
	require.Len(t, normalized, 3)
	assert.InDelta(t, 0.0, normalized[0].StartTime, 0.001)
	assert.InDelta(t, 4.0, normalized[0].EndTime, 0.001)
	assert.InDelta(t, 4.0, normalized[1].StartTime, 0.001)
	assert.InDelta(t, 10.0, normalized[1].EndTime, 0.001)
	assert.InDelta(t, 10.0, normalized[2].StartTime, 0.001)
	assert.InDelta(t, 20.0, normalized[2].EndTime, 0.001)
}

func TestProportionalSegmentsSumExactlyToTotal(t *testing.T) {
	segments := []domain.NarrationSegment{
		{Text: "aaaa"}, {Text: "bbbb"}, {Text: "cc"},
	}
	cleaned := []string{"aaaa", "bbbb", "cc"}
	audio := proportionalSegments(segments, cleaned, "section_audio.mp3", 15)
	require.Len(t, audio, 3)

	sum := 0.0
	for _, seg := range audio {
		sum += seg.Duration
		assert.Equal(t, "section_audio.mp3", seg.AudioPath)
	}
	assert.InDelta(t, 15.0, sum, 0.0001)
	assert.InDelta(t, 15.0, audio[2].EndTime, 0.0001)
	// Longer text gets proportionally more time.
	assert.Greater(t, audio[0].Duration, audio[2].Duration)
}

func TestDurationsFromPauses(t *testing.T) {
	durations := durationsFromPauses([]float64{5.5, 12.8}, 20)
	require.Len(t, durations, 3)
	assert.InDelta(t, 5.5, durations[0], 0.001)
	assert.InDelta(t, 7.3, durations[1], 0.001)
	assert.InDelta(t, 7.2, durations[2], 0.001)

	sum := durations[0] + durations[1] + durations[2]
	assert.InDelta(t, 20.0, sum, 0.1)
}

func TestCleanNarrationForTTS(t *testing.T) {
	assert.Equal(t, "The slope equals two.",
		CleanNarrationForTTS("The **slope** equals `two`."))
	assert.Equal(t, "Watch the curve.",
		CleanNarrationForTTS("Watch the curve. [dramatic pause]"))
	assert.Equal(t, "One two.",
		CleanNarrationForTTS("One   two."))
}
