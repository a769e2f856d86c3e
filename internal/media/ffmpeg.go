package media

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	ffmpeg "github.com/u2takey/ffmpeg-go"
	"go.uber.org/zap"
)

// FFmpeg wraps the media muxer and probe binaries. Compound operations
// (concat, thumbnails, frames) go through ffmpeg-go; stderr-parsing
// operations (silence detection) and ffprobe run as direct subprocesses.
type FFmpeg struct {
	logger *zap.Logger
}

func NewFFmpeg(logger *zap.Logger) *FFmpeg {
	return &FFmpeg{logger: logger}
}

// Duration probes a media file's duration in seconds.
func (f *FFmpeg) Duration(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed for %s: %w", path, err)
	}
	duration, err := strconv.ParseFloat(strings.TrimSpace(string(output)), 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration %q: %w", string(output), err)
	}
	return duration, nil
}

// EscapeConcatPath escapes single quotes for the concat demuxer list format.
func EscapeConcatPath(path string) string {
	return strings.ReplaceAll(path, "'", `'\''`)
}

// WriteConcatList writes the concat demuxer input listing the given files.
func WriteConcatList(listPath string, videoPaths []string) error {
	var b strings.Builder
	for _, p := range videoPaths {
		fmt.Fprintf(&b, "file '%s'\n", EscapeConcatPath(p))
	}
	return os.WriteFile(listPath, []byte(b.String()), 0o644)
}

// Concat joins MP4s listed in a concat file into outputPath with stream copy.
func (f *FFmpeg) Concat(ctx context.Context, listPath, outputPath string) error {
	f.logger.Info("Concatenating videos",
		zap.String("list", listPath), zap.String("output", outputPath))

	var errBuf bytes.Buffer
	err := ffmpeg.Input(listPath, ffmpeg.KwArgs{"f": "concat", "safe": "0"}).
		Output(outputPath, ffmpeg.KwArgs{"c": "copy"}).
		OverWriteOutput().
		WithErrorOutput(&errBuf).
		Run()
	if err != nil {
		return fmt.Errorf("ffmpeg concat failed: %w (%s)", err, truncate(errBuf.String(), 500))
	}
	if _, statErr := os.Stat(outputPath); statErr != nil {
		return fmt.Errorf("ffmpeg concat produced no output: %w", statErr)
	}
	return nil
}

// Thumbnail extracts a JPEG frame at the given timestamp.
func (f *FFmpeg) Thumbnail(ctx context.Context, videoPath, outputPath string, atSeconds float64) error {
	var errBuf bytes.Buffer
	err := ffmpeg.Input(videoPath, ffmpeg.KwArgs{"ss": fmt.Sprintf("%.2f", atSeconds)}).
		Output(outputPath, ffmpeg.KwArgs{"vframes": "1", "q:v": "2"}).
		OverWriteOutput().
		WithErrorOutput(&errBuf).
		Run()
	if err != nil {
		return fmt.Errorf("thumbnail extraction failed: %w (%s)", err, truncate(errBuf.String(), 300))
	}
	return nil
}

// ExtractFrame grabs a full-resolution frame for vision QC.
func (f *FFmpeg) ExtractFrame(ctx context.Context, videoPath, outputPath string, atSeconds float64) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return err
	}
	return f.Thumbnail(ctx, videoPath, outputPath, atSeconds)
}

// ExtractAudioSegment cuts [start, end) out of an audio file.
func (f *FFmpeg) ExtractAudioSegment(ctx context.Context, audioPath string, start, end float64, outputPath string) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return err
	}
	args := []string{
		"-y",
		"-i", audioPath,
		"-ss", fmt.Sprintf("%.3f", start),
		"-to", fmt.Sprintf("%.3f", end),
		"-c", "copy",
		outputPath,
	}
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("audio segment extraction failed: %w (%s)", err, truncate(stderr.String(), 300))
	}
	return nil
}

// ConcatAudio joins audio files losslessly via the concat demuxer.
func (f *FFmpeg) ConcatAudio(ctx context.Context, inputPaths []string, outputPath string) error {
	listPath := outputPath + ".list"
	if err := WriteConcatList(listPath, inputPaths); err != nil {
		return err
	}
	defer os.Remove(listPath)

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-y", "-f", "concat", "-safe", "0",
		"-i", listPath, "-c", "copy", outputPath,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("audio concat failed: %w (%s)", err, truncate(stderr.String(), 300))
	}
	return nil
}

// EncodePCMToMP3 encodes raw 16-bit mono PCM into an mp3 file.
func (f *FFmpeg) EncodePCMToMP3(ctx context.Context, pcm []byte, sampleRate int, outputPath string) error {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-y",
		"-f", "s16le",
		"-ar", strconv.Itoa(sampleRate),
		"-ac", "1",
		"-i", "pipe:0",
		"-codec:a", "libmp3lame",
		"-qscale:a", "4",
		outputPath,
	)
	cmd.Stdin = bytes.NewReader(pcm)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("pcm encode failed: %w (%s)", err, truncate(stderr.String(), 300))
	}
	return nil
}

// GenerateSilence writes an mp3 of the given length.
func (f *FFmpeg) GenerateSilence(ctx context.Context, seconds float64, outputPath string) error {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-y",
		"-f", "lavfi",
		"-i", "anullsrc=r=24000:cl=mono",
		"-t", fmt.Sprintf("%.2f", seconds),
		"-codec:a", "libmp3lame",
		outputPath,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("silence generation failed: %w (%s)", err, truncate(stderr.String(), 300))
	}
	return nil
}

// MuxAudioVideo pairs a silent video with an audio track, trimming to the
// shorter stream.
func (f *FFmpeg) MuxAudioVideo(ctx context.Context, videoPath, audioPath, outputPath string) error {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-y",
		"-i", videoPath,
		"-i", audioPath,
		"-c:v", "copy",
		"-c:a", "aac",
		"-shortest",
		outputPath,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("audio/video mux failed: %w (%s)", err, truncate(stderr.String(), 300))
	}
	return nil
}

// silencedetect emits "silence_start: T" / "silence_end: T | silence_duration: D"
// pairs on stderr.
var (
	silenceStartRe = regexp.MustCompile(`silence_start:\s*([\d.]+)`)
	silenceEndRe   = regexp.MustCompile(`silence_end:\s*([\d.]+)`)
)

// DetectSilences scans audio for pauses of at least minDuration seconds and
// returns the midpoint of each detected silence, in order.
func (f *FFmpeg) DetectSilences(ctx context.Context, audioPath string, minDuration float64) ([]float64, error) {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-i", audioPath,
		"-af", fmt.Sprintf("silencedetect=noise=-35dB:d=%.2f", minDuration),
		"-f", "null", "-",
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	// ffmpeg exits 0 here; a failure still leaves parseable stderr empty.
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("silence detection failed: %w (%s)", err, truncate(stderr.String(), 300))
	}
	return ParseSilenceMidpoints(stderr.String()), nil
}

// ParseSilenceMidpoints extracts pause midpoints from silencedetect output.
func ParseSilenceMidpoints(output string) []float64 {
	var midpoints []float64
	var pendingStart *float64
	for _, line := range strings.Split(output, "\n") {
		if m := silenceStartRe.FindStringSubmatch(line); m != nil {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil {
				pendingStart = &v
			}
			continue
		}
		if m := silenceEndRe.FindStringSubmatch(line); m != nil && pendingStart != nil {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil {
				midpoints = append(midpoints, (*pendingStart+v)/2)
			}
			pendingStart = nil
		}
	}
	return midpoints
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
