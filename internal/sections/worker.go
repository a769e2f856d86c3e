package sections

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/eduviz/backend/internal/adapters"
	"github.com/eduviz/backend/internal/animation"
	"github.com/eduviz/backend/internal/domain"
	"github.com/eduviz/backend/internal/media"
	"github.com/eduviz/backend/internal/storage"
)

// Whole-section synthesis policy knobs.
const (
	pauseMarker = " . . . . . . . . . . "

	// chunkedThresholdSeconds: comprehensive sections at least this long are
	// synthesized as two contiguous chunks to stay inside provider limits.
	chunkedThresholdSeconds = 120.0

	// silenceMinDuration is the minimum pause length the detector accepts.
	silenceMinDuration = 0.3
)

// Worker processes one section: audio first, then the animation aligned to
// the measured audio duration.
type Worker struct {
	layout    *storage.Layout
	tts       adapters.SpeechSynthesizer
	ffmpeg    *media.FFmpeg
	generator *animation.Generator
	logger    *zap.Logger
}

func NewWorker(layout *storage.Layout, tts adapters.SpeechSynthesizer, ffmpeg *media.FFmpeg, generator *animation.Generator, logger *zap.Logger) *Worker {
	return &Worker{layout: layout, tts: tts, ffmpeg: ffmpeg, generator: generator, logger: logger}
}

// Process runs the full audio-first pipeline for one section and emits the
// compact section result.
func (w *Worker) Process(ctx context.Context, jobID string, section *domain.Section, index int, language, voice, style string) (*domain.SectionResult, error) {
	sectionDir := w.layout.SectionDir(jobID, index)
	w.setStatus(jobID, index, storage.SectionStatusGeneratingAudio)

	segments, totalDuration, err := w.generateAudio(ctx, jobID, section, index, voice)
	if err != nil {
		w.setStatus(jobID, index, storage.SectionStatusFailed)
		return nil, fmt.Errorf("audio synthesis failed for section %d: %w", index, err)
	}

	w.setStatus(jobID, index, storage.SectionStatusGeneratingVideo)
	animResult, err := w.generator.GenerateAnimation(ctx, &animation.Request{
		Section:       section,
		Segments:      segments,
		AudioDuration: totalDuration,
		OutputDir:     sectionDir,
		SectionIndex:  index,
		Style:         style,
		Language:      language,
	})
	if err != nil {
		w.setStatus(jobID, index, storage.SectionStatusFailed)
		return nil, err
	}

	// Pair the silent render with the section audio.
	finalPath := w.layout.FinalSection(jobID, index)
	audioPath := w.layout.SectionAudio(jobID, index)
	if err := w.ffmpeg.MuxAudioVideo(ctx, animResult.VideoPath, audioPath, finalPath); err != nil {
		w.setStatus(jobID, index, storage.SectionStatusFailed)
		return nil, fmt.Errorf("failed to mux section %d: %w", index, err)
	}

	w.setStatus(jobID, index, storage.SectionStatusCompleted)
	return &domain.SectionResult{
		Index:         index,
		VideoPath:     finalPath,
		AudioPath:     audioPath,
		Segments:      segments,
		TotalDuration: totalDuration,
	}, nil
}

func (w *Worker) setStatus(jobID string, index int, status storage.SectionStatus) {
	if err := w.layout.WriteSectionStatus(jobID, index, status); err != nil {
		w.logger.Warn("Failed to write section status",
			zap.String("job_id", jobID), zap.Int("section", index), zap.Error(err))
	}
}

// generateAudio picks the synthesis mode per the adapter capability and the
// section policy, then returns per-segment timings plus the measured total.
func (w *Worker) generateAudio(ctx context.Context, jobID string, section *domain.Section, index int, voice string) ([]domain.AudioSegment, float64, error) {
	segments := collectSegments(section)
	sectionDir := w.layout.SectionDir(jobID, index)

	switch {
	case shouldUseChunkedWholeSection(section, segments, w.tts):
		audio, total, err := w.generateAudioWholeSectionChunked(ctx, jobID, index, segments, voice)
		if err == nil {
			return audio, total, nil
		}
		w.logger.Warn("Chunked whole-section TTS failed; falling back to single call",
			zap.String("job_id", jobID), zap.Int("section", index), zap.Error(err))
		fallthrough
	case w.tts.WholeSectionTTS():
		return w.generateAudioWholeSection(ctx, jobID, index, segments, voice)
	default:
		return w.generateAudioPerSegment(ctx, sectionDir, segments, voice)
	}
}

// collectSegments returns the section's narration segments, synthesizing one
// from the whole narration when the script provides none.
func collectSegments(section *domain.Section) []domain.NarrationSegment {
	if len(section.NarrationSegments) > 0 {
		return section.NarrationSegments
	}
	estimated := section.DurationSeconds
	if estimated <= 0 {
		words := len(strings.Fields(section.NarrationText()))
		estimated = float64(words) * 0.4
		if estimated < 1.0 {
			estimated = 1.0
		}
	}
	return []domain.NarrationSegment{{
		Text:              section.NarrationText(),
		EstimatedDuration: estimated,
	}}
}

// shouldUseChunkedWholeSection: chunked synthesis applies to long
// comprehensive sections only, and only with a whole-section-capable adapter.
func shouldUseChunkedWholeSection(section *domain.Section, segments []domain.NarrationSegment, tts adapters.SpeechSynthesizer) bool {
	if !tts.WholeSectionTTS() {
		return false
	}
	if section.VideoMode != "comprehensive" {
		return false
	}
	total := 0.0
	for _, seg := range segments {
		total += seg.EstimatedDuration
	}
	return total >= chunkedThresholdSeconds && len(segments) >= 2
}

// generateAudioWholeSection makes a single TTS call with pause markers
// between segments, then splits the stitched audio at detected silences.
func (w *Worker) generateAudioWholeSection(ctx context.Context, jobID string, index int, segments []domain.NarrationSegment, voice string) ([]domain.AudioSegment, float64, error) {
	sectionAudio := w.layout.SectionAudio(jobID, index)
	sectionDir := w.layout.SectionDir(jobID, index)

	cleaned := make([]string, len(segments))
	for i, seg := range segments {
		cleaned[i] = CleanNarrationForTTS(seg.Text)
	}
	text := strings.Join(cleaned, pauseMarker)

	if _, err := w.tts.Synthesize(ctx, text, sectionAudio, voice); err != nil {
		// Placeholder silence keeps the pipeline moving on provider failure.
		w.logger.Warn("Whole-section TTS failed; writing placeholder silence",
			zap.String("job_id", jobID), zap.Int("section", index), zap.Error(err))
		duration, placeholderErr := adapters.PlaceholderAudio(ctx, w.ffmpeg, text, sectionAudio)
		if placeholderErr != nil {
			return nil, 0, err
		}
		return proportionalSegments(segments, cleaned, sectionAudio, duration), duration, nil
	}

	total, err := w.ffmpeg.Duration(ctx, sectionAudio)
	if err != nil {
		return nil, 0, err
	}

	if len(segments) == 1 {
		return proportionalSegments(segments, cleaned, sectionAudio, total), total, nil
	}

	pauses, err := w.ffmpeg.DetectSilences(ctx, sectionAudio, silenceMinDuration)
	if err != nil || len(pauses) < len(segments)-1 {
		if err != nil {
			w.logger.Warn("Silence detection failed; using proportional timings", zap.Error(err))
		} else {
			w.logger.Warn("Too few pauses detected; using proportional timings",
				zap.Int("detected", len(pauses)), zap.Int("needed", len(segments)-1))
		}
		return proportionalSegments(segments, cleaned, sectionAudio, total), total, nil
	}

	audio, err := w.splitAudioAtPauses(ctx, sectionAudio, pauses, cleaned, sectionDir, total)
	if err != nil {
		w.logger.Warn("Audio splitting failed; using proportional timings", zap.Error(err))
		return proportionalSegments(segments, cleaned, sectionAudio, total), total, nil
	}
	return audio, total, nil
}

// generateAudioWholeSectionChunked splits segments into two contiguous
// chunks, synthesizes each half as one call, stitches them, and normalizes
// segment timings to the stitched total.
func (w *Worker) generateAudioWholeSectionChunked(ctx context.Context, jobID string, index int, segments []domain.NarrationSegment, voice string) ([]domain.AudioSegment, float64, error) {
	sectionDir := w.layout.SectionDir(jobID, index)
	sectionAudio := w.layout.SectionAudio(jobID, index)

	chunks := splitSegmentsIntoContiguousChunks(segments, 2)
	var chunkPaths []string
	var flat []domain.AudioSegment
	segIdx := 0

	for ci, chunk := range chunks {
		chunkPath := filepath.Join(sectionDir, fmt.Sprintf("chunk_%d.mp3", ci))
		cleaned := make([]string, len(chunk))
		for i, seg := range chunk {
			cleaned[i] = CleanNarrationForTTS(seg.Text)
		}
		text := strings.Join(cleaned, pauseMarker)
		if _, err := w.tts.Synthesize(ctx, text, chunkPath, voice); err != nil {
			return nil, 0, fmt.Errorf("chunk %d synthesis failed: %w", ci, err)
		}
		chunkDuration, err := w.ffmpeg.Duration(ctx, chunkPath)
		if err != nil {
			return nil, 0, err
		}

		// Per-chunk pause detection gives per-segment durations within the chunk.
		var durations []float64
		if len(chunk) > 1 {
			pauses, derr := w.ffmpeg.DetectSilences(ctx, chunkPath, silenceMinDuration)
			if derr == nil && len(pauses) >= len(chunk)-1 {
				durations = durationsFromPauses(pauses[:len(chunk)-1], chunkDuration)
			}
		}
		if durations == nil {
			durations = proportionalDurations(cleaned, chunkDuration)
		}

		for i := range chunk {
			flat = append(flat, domain.AudioSegment{
				SegmentIndex: segIdx,
				Text:         cleaned[i],
				AudioPath:    chunkPath,
				Duration:     durations[i],
			})
			segIdx++
		}
		chunkPaths = append(chunkPaths, chunkPath)
	}

	if err := w.ffmpeg.ConcatAudio(ctx, chunkPaths, sectionAudio); err != nil {
		return nil, 0, err
	}
	total, err := w.ffmpeg.Duration(ctx, sectionAudio)
	if err != nil {
		return nil, 0, err
	}

	normalized := normalizeSegmentTimingsToTotal(flat, total)
	for i := range normalized {
		normalized[i].AudioPath = sectionAudio
	}
	return normalized, total, nil
}

// generateAudioPerSegment makes one synthesis call per segment.
func (w *Worker) generateAudioPerSegment(ctx context.Context, sectionDir string, segments []domain.NarrationSegment, voice string) ([]domain.AudioSegment, float64, error) {
	var audio []domain.AudioSegment
	cursor := 0.0
	var segPaths []string

	for i, seg := range segments {
		text := CleanNarrationForTTS(seg.Text)
		segPath := filepath.Join(sectionDir, fmt.Sprintf("seg_%d", i), "audio.mp3")
		duration, err := w.tts.Synthesize(ctx, text, segPath, voice)
		if err != nil {
			w.logger.Warn("Segment TTS failed; writing placeholder silence",
				zap.Int("segment", i), zap.Error(err))
			duration, err = adapters.PlaceholderAudio(ctx, w.ffmpeg, text, segPath)
			if err != nil {
				return nil, 0, err
			}
		}
		audio = append(audio, domain.AudioSegment{
			SegmentIndex: i,
			Text:         text,
			AudioPath:    segPath,
			Duration:     duration,
			StartTime:    cursor,
			EndTime:      cursor + duration,
		})
		cursor += duration
		segPaths = append(segPaths, segPath)
	}

	// Stitch segments into the section audio used for the final mux.
	sectionAudio := filepath.Join(sectionDir, "section_audio.mp3")
	if err := w.ffmpeg.ConcatAudio(ctx, segPaths, sectionAudio); err != nil {
		return nil, 0, err
	}
	return audio, cursor, nil
}

// splitAudioAtPauses cuts the stitched audio at the pause midpoints, keeping
// only the first N-1 pauses when more were detected.
func (w *Worker) splitAudioAtPauses(ctx context.Context, sectionAudio string, pauses []float64, cleaned []string, sectionDir string, total float64) ([]domain.AudioSegment, error) {
	n := len(cleaned)
	if len(pauses) > n-1 {
		pauses = pauses[:n-1]
	}

	var audio []domain.AudioSegment
	start := 0.0
	for i := 0; i < n; i++ {
		end := total
		if i < len(pauses) {
			end = pauses[i]
		}
		segPath := filepath.Join(sectionDir, fmt.Sprintf("seg_%d", i), "audio.mp3")
		if err := w.ffmpeg.ExtractAudioSegment(ctx, sectionAudio, start, end, segPath); err != nil {
			return nil, err
		}
		duration, err := w.ffmpeg.Duration(ctx, segPath)
		if err != nil {
			duration = end - start
		}
		audio = append(audio, domain.AudioSegment{
			SegmentIndex: i,
			Text:         cleaned[i],
			AudioPath:    segPath,
			Duration:     duration,
			StartTime:    start,
			EndTime:      end,
		})
		start = end
	}
	return audio, nil
}

// proportionalSegments distributes the measured total across segments by
// character count. The timings sum exactly to the total.
func proportionalSegments(segments []domain.NarrationSegment, cleaned []string, audioPath string, total float64) []domain.AudioSegment {
	durations := proportionalDurations(cleaned, total)
	out := make([]domain.AudioSegment, len(segments))
	cursor := 0.0
	for i := range segments {
		out[i] = domain.AudioSegment{
			SegmentIndex: i,
			Text:         cleaned[i],
			AudioPath:    audioPath,
			Duration:     durations[i],
			StartTime:    cursor,
			EndTime:      cursor + durations[i],
		}
		cursor += durations[i]
	}
	if len(out) > 0 {
		out[len(out)-1].EndTime = total
	}
	return out
}

func proportionalDurations(texts []string, total float64) []float64 {
	chars := 0
	for _, t := range texts {
		chars += len(t)
	}
	durations := make([]float64, len(texts))
	if chars == 0 {
		for i := range durations {
			durations[i] = total / float64(len(texts))
		}
		return durations
	}
	acc := 0.0
	for i, t := range texts {
		if i == len(texts)-1 {
			durations[i] = total - acc
		} else {
			durations[i] = total * float64(len(t)) / float64(chars)
			acc += durations[i]
		}
	}
	return durations
}

func durationsFromPauses(pauses []float64, total float64) []float64 {
	durations := make([]float64, len(pauses)+1)
	start := 0.0
	for i, p := range pauses {
		durations[i] = p - start
		start = p
	}
	durations[len(pauses)] = total - start
	return durations
}

// splitSegmentsIntoContiguousChunks partitions segments into chunkCount
// contiguous runs balanced by estimated duration; order is preserved.
func splitSegmentsIntoContiguousChunks(segments []domain.NarrationSegment, chunkCount int) [][]domain.NarrationSegment {
	if chunkCount < 1 || len(segments) <= chunkCount {
		chunks := make([][]domain.NarrationSegment, 0, len(segments))
		for _, seg := range segments {
			chunks = append(chunks, []domain.NarrationSegment{seg})
		}
		return chunks
	}

	total := 0.0
	for _, seg := range segments {
		total += seg.EstimatedDuration
	}
	target := total / float64(chunkCount)

	var chunks [][]domain.NarrationSegment
	var current []domain.NarrationSegment
	acc := 0.0
	for i, seg := range segments {
		current = append(current, seg)
		acc += seg.EstimatedDuration
		remainingSegs := len(segments) - i - 1
		remainingChunks := chunkCount - len(chunks) - 1
		if acc >= target && remainingChunks > 0 && remainingSegs >= remainingChunks {
			chunks = append(chunks, current)
			current = nil
			acc = 0
		}
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}
	return chunks
}

// normalizeSegmentTimingsToTotal rescales segment durations proportionally so
// start/end times tile the stitched total exactly.
func normalizeSegmentTimingsToTotal(segments []domain.AudioSegment, total float64) []domain.AudioSegment {
	sum := 0.0
	for _, seg := range segments {
		sum += seg.Duration
	}
	out := make([]domain.AudioSegment, len(segments))
	cursor := 0.0
	for i, seg := range segments {
		scaled := total / float64(len(segments))
		if sum > 0 {
			scaled = seg.Duration / sum * total
		}
		seg.Duration = scaled
		seg.StartTime = cursor
		seg.EndTime = cursor + scaled
		cursor = seg.EndTime
		out[i] = seg
	}
	if len(out) > 0 {
		out[len(out)-1].EndTime = total
	}
	return out
}

var (
	markdownRe       = regexp.MustCompile("[*_`#]+")
	stageDirectionRe = regexp.MustCompile(`\[[^\]]*\]|\([^)]*pause[^)]*\)`)
	multiSpaceRe     = regexp.MustCompile(`\s+`)
)

// CleanNarrationForTTS strips markdown and stage directions that would be
// read aloud.
func CleanNarrationForTTS(text string) string {
	cleaned := markdownRe.ReplaceAllString(text, "")
	cleaned = stageDirectionRe.ReplaceAllString(cleaned, "")
	cleaned = multiSpaceRe.ReplaceAllString(cleaned, " ")
	return strings.TrimSpace(cleaned)
}
