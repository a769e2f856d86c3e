package renderer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/eduviz/backend/internal/concurrency"
)

// Quality selects the renderer's output preset.
type Quality string

const (
	QualityLow    Quality = "low"
	QualityMedium Quality = "medium"
	QualityHigh   Quality = "high"
)

func (q Quality) flag() string {
	switch q {
	case QualityHigh:
		return "-qh"
	case QualityMedium:
		return "-qm"
	default:
		return "-ql"
	}
}

func (q Quality) outputDir() string {
	switch q {
	case QualityHigh:
		return "1080p60"
	case QualityMedium:
		return "720p30"
	default:
		return "480p15"
	}
}

// Result captures one render invocation's outcome.
type Result struct {
	OutputPath string
	Stderr     string
	ExitCode   int
}

// ErrTimeout marks a render that exceeded its wall-clock budget.
var ErrTimeout = errors.New("render timed out")

// Renderer drives the external animation tool as a subprocess. Concurrent
// renders are bounded; each invocation gets an explicit wall-clock budget and
// is killed on expiry.
type Renderer struct {
	binary  string
	timeout time.Duration
	sem     *concurrency.Semaphore
	logger  *zap.Logger
}

func New(binary string, timeout time.Duration, maxConcurrent int, logger *zap.Logger) *Renderer {
	if binary == "" {
		binary = "manim"
	}
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Renderer{
		binary:  binary,
		timeout: timeout,
		sem:     concurrency.NewSemaphore(maxConcurrent),
		logger:  logger,
	}
}

// Binary returns the renderer executable name (for startup checks).
func (r *Renderer) Binary() string { return r.binary }

// Render executes `<binary> render <flags> <sceneFile> <sceneClass>` inside
// workDir. In dry-run mode the renderer still executes construct() — which is
// what lets injected spatial checks run — but skips video assembly.
//
// Callers must not infer failure from a missing output alone, nor success
// from exit code alone; both are checked here.
func (r *Renderer) Render(ctx context.Context, workDir, sceneFile, sceneClass string, quality Quality, dryRun bool) (*Result, error) {
	if err := r.sem.Acquire(ctx); err != nil {
		return nil, err
	}
	defer r.sem.Release()

	renderCtx := ctx
	var cancel context.CancelFunc
	if r.timeout > 0 {
		renderCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	args := []string{"render", quality.flag()}
	if dryRun {
		args = append(args, "--dry_run")
	}
	args = append(args, "--media_dir", filepath.Join(workDir, "media"))
	args = append(args, sceneFile, sceneClass)

	cmd := exec.CommandContext(renderCtx, r.binary, args...)
	cmd.Dir = workDir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	r.logger.Info("Starting render",
		zap.String("scene_file", sceneFile),
		zap.String("scene_class", sceneClass),
		zap.String("quality", string(quality)),
		zap.Bool("dry_run", dryRun),
	)

	err := cmd.Run()
	elapsed := time.Since(start)

	result := &Result{Stderr: stderr.String()}
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}

	if renderCtx.Err() == context.DeadlineExceeded {
		r.logger.Error("Render killed on timeout",
			zap.String("scene_class", sceneClass),
			zap.Duration("budget", r.timeout),
		)
		return result, fmt.Errorf("%w after %s", ErrTimeout, r.timeout)
	}

	if !dryRun {
		outputPath := r.outputPath(workDir, sceneFile, sceneClass, quality)
		if _, statErr := os.Stat(outputPath); statErr == nil {
			result.OutputPath = outputPath
		}
	}

	r.logger.Info("Render finished",
		zap.String("scene_class", sceneClass),
		zap.Int("exit_code", result.ExitCode),
		zap.Duration("elapsed", elapsed),
		zap.Bool("has_output", result.OutputPath != ""),
	)

	if err != nil {
		return result, fmt.Errorf("render exited with error: %w", err)
	}
	if !dryRun && result.OutputPath == "" {
		return result, fmt.Errorf("render exited cleanly but produced no output for %s", sceneClass)
	}
	return result, nil
}

// outputPath is where the tool writes the rendered MP4:
// media/videos/<scene file stem>/<quality dir>/<SceneClass>.mp4
func (r *Renderer) outputPath(workDir, sceneFile, sceneClass string, quality Quality) string {
	stem := strings.TrimSuffix(filepath.Base(sceneFile), filepath.Ext(sceneFile))
	return filepath.Join(workDir, "media", "videos", stem, quality.outputDir(), sceneClass+".mp4")
}
