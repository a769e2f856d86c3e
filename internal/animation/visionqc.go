package animation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/eduviz/backend/internal/adapters"
	"github.com/eduviz/backend/internal/domain"
	"github.com/eduviz/backend/internal/media"
)

// VisionQC verifies low-confidence validation issues against real rendered
// frames, discarding false positives.
type VisionQC struct {
	llm    adapters.LLMClient
	model  string
	ffmpeg *media.FFmpeg
	logger *zap.Logger
}

func NewVisionQC(llm adapters.LLMClient, model string, ffmpeg *media.FFmpeg, logger *zap.Logger) *VisionQC {
	return &VisionQC{llm: llm, model: model, ffmpeg: ffmpeg, logger: logger}
}

// Verdict is the per-issue outcome of a verification pass.
type Verdict struct {
	Issue domain.ValidationIssue
	Real  bool
}

// Verify extracts keyframes near each issue's timestamp (or spread across the
// video when none is known) and asks the multimodal model to classify each
// issue as REAL or FALSE_POSITIVE. On any failure it conservatively keeps the
// issues as real.
func (v *VisionQC) Verify(ctx context.Context, videoPath string, videoDuration float64, issues []domain.ValidationIssue, workDir string) []Verdict {
	if len(issues) == 0 {
		return nil
	}
	keepAll := func() []Verdict {
		out := make([]Verdict, len(issues))
		for i, issue := range issues {
			out[i] = Verdict{Issue: issue, Real: true}
		}
		return out
	}

	frames, err := v.extractKeyframes(ctx, videoPath, videoDuration, issues, workDir)
	if err != nil || len(frames) == 0 {
		v.logger.Warn("Vision QC frame extraction failed; keeping issues", zap.Error(err))
		return keepAll()
	}

	contents := v.buildContents(frames, issues)
	resp, err := v.llm.Generate(ctx, &adapters.GenerateRequest{
		Model:           v.model,
		Contents:        contents,
		Temperature:     0.1,
		MaxOutputTokens: 2048,
	})
	if err != nil {
		v.logger.Warn("Vision QC call failed; keeping issues", zap.Error(err))
		return keepAll()
	}

	verdicts := ParseVerdicts(resp.ResponseText, issues)
	real := 0
	for _, verdict := range verdicts {
		if verdict.Real {
			real++
		}
	}
	v.logger.Info("Vision QC verified issues",
		zap.Int("total", len(issues)),
		zap.Int("confirmed_real", real),
	)
	return verdicts
}

func (v *VisionQC) extractKeyframes(ctx context.Context, videoPath string, duration float64, issues []domain.ValidationIssue, workDir string) ([]domain.FrameCapture, error) {
	timestamps := map[float64]bool{}
	for _, issue := range issues {
		if issue.Details != nil {
			if ts, ok := issue.Details["timestamp"].(float64); ok {
				timestamps[clampTS(ts, duration)] = true
				continue
			}
		}
	}
	if len(timestamps) == 0 {
		// No anchors: sample start, middle, and near-end.
		for _, frac := range []float64{0.1, 0.5, 0.9} {
			timestamps[clampTS(duration*frac, duration)] = true
		}
	}

	framesDir := filepath.Join(workDir, "qc_frames")
	var frames []domain.FrameCapture
	i := 0
	for ts := range timestamps {
		framePath := filepath.Join(framesDir, fmt.Sprintf("frame_%d.jpg", i))
		if err := v.ffmpeg.ExtractFrame(ctx, videoPath, framePath, ts); err != nil {
			v.logger.Warn("Frame extraction failed",
				zap.Float64("timestamp", ts), zap.Error(err))
			continue
		}
		frames = append(frames, domain.FrameCapture{ScreenshotPath: framePath, TimestampSeconds: ts})
		i++
	}
	return frames, nil
}

func clampTS(ts, duration float64) float64 {
	if ts < 0 {
		return 0
	}
	if duration > 0 && ts > duration-0.1 {
		return duration - 0.1
	}
	return ts
}

func (v *VisionQC) buildContents(frames []domain.FrameCapture, issues []domain.ValidationIssue) []adapters.Content {
	var b strings.Builder
	b.WriteString("These frames come from a rendered educational animation. ")
	b.WriteString("For each reported issue below, answer whether the frames confirm it.\n\n")
	for i, issue := range issues {
		fmt.Fprintf(&b, "ISSUE %d [%s/%s]: %s\n", i+1, issue.Category, issue.Severity, issue.Message)
	}
	b.WriteString("\nRespond with one line per issue, exactly:\nISSUE <n>: REAL or ISSUE <n>: FALSE_POSITIVE")

	contents := []adapters.Content{{Text: b.String()}}
	for _, frame := range frames {
		data, err := os.ReadFile(frame.ScreenshotPath)
		if err != nil {
			continue
		}
		contents = append(contents, adapters.Content{Data: data, MIMEType: "image/jpeg"})
	}
	return contents
}

// ParseVerdicts reads "ISSUE n: REAL|FALSE_POSITIVE" lines. Issues the model
// does not mention stay real (conservative).
func ParseVerdicts(response string, issues []domain.ValidationIssue) []Verdict {
	verdicts := make([]Verdict, len(issues))
	for i, issue := range issues {
		verdicts[i] = Verdict{Issue: issue, Real: true}
	}
	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimSpace(strings.ToUpper(line))
		var n int
		var rest string
		if _, err := fmt.Sscanf(line, "ISSUE %d:%s", &n, &rest); err != nil {
			// Tolerate a space after the colon.
			if _, err := fmt.Sscanf(line, "ISSUE %d: %s", &n, &rest); err != nil {
				continue
			}
		}
		if n < 1 || n > len(issues) {
			continue
		}
		if strings.Contains(rest, "FALSE") {
			verdicts[n-1].Real = false
		}
	}
	return verdicts
}

// WhitelistKey builds the stable identifier attached to a verified false
// positive so later validator passes skip it.
func WhitelistKey(issue domain.ValidationIssue) string {
	return fmt.Sprintf("%s|%s", issue.Category, issue.Message)
}
