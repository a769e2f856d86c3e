package pipeline

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/eduviz/backend/internal/domain"
	"github.com/eduviz/backend/internal/media"
	"github.com/eduviz/backend/internal/progress"
	"github.com/eduviz/backend/internal/sections"
	"github.com/eduviz/backend/internal/storage"
)

// ProgressCallback receives stage-local progress (0..100).
type ProgressCallback func(stage string, progress float64, message string)

// GenerateParams drives one job through the pipeline.
type GenerateParams struct {
	JobID           string
	MaterialPath    string
	Topic           *domain.TopicPayload
	Analysis        map[string]any
	Voice           string
	Style           string
	Language        string
	VideoMode       string
	ContentFocus    string
	DocumentContext string
	Resume          bool
	Progress        ProgressCallback
}

// Orchestrator walks a job through analyze -> script -> sections ->
// composite. Artifacts stay on disk after a failure so the next start can
// resume.
type Orchestrator struct {
	layout      *storage.Layout
	tracker     *progress.Tracker
	analyzer    *Analyzer
	scripts     *ScriptGenerator
	worker      *sections.Worker
	ffmpeg      *media.FFmpeg
	concurrency int
	logger      *zap.Logger
}

func NewOrchestrator(
	layout *storage.Layout,
	tracker *progress.Tracker,
	analyzer *Analyzer,
	scripts *ScriptGenerator,
	worker *sections.Worker,
	ffmpeg *media.FFmpeg,
	concurrency int,
	logger *zap.Logger,
) *Orchestrator {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Orchestrator{
		layout:      layout,
		tracker:     tracker,
		analyzer:    analyzer,
		scripts:     scripts,
		worker:      worker,
		ffmpeg:      ffmpeg,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Generate runs the whole pipeline for one job and returns the result record.
func (o *Orchestrator) Generate(ctx context.Context, p GenerateParams) (*domain.VideoResult, error) {
	report := p.Progress
	if report == nil {
		report = func(string, float64, string) {}
	}

	// Stage 1: analyze (skipped when resuming or when a stored analysis is
	// already supplied).
	analysis := p.Analysis
	if analysis == nil && !p.Resume {
		report(progress.StageAnalysis, 0, "Analyzing material...")
		if p.MaterialPath == "" {
			return nil, fmt.Errorf("no source file available for analysis")
		}
		var err error
		analysis, err = o.analyzer.Analyze(ctx, p.MaterialPath, p.Language)
		if err != nil {
			return nil, err
		}
		report(progress.StageAnalysis, 100, "Material analyzed")
	}

	// Stage 2: script. On resume an existing script.json wins.
	var script *domain.Script
	if o.layout.HasScript(p.JobID) && p.Resume {
		var err error
		script, err = o.layout.LoadScript(p.JobID)
		if err != nil {
			return nil, fmt.Errorf("corrupt script for resumed job: %w", err)
		}
		report(progress.StageScript, 100, "Reusing existing script")
	} else {
		report(progress.StageScript, 0, fmt.Sprintf("Generating %s video script...", p.VideoMode))
		if p.Topic == nil {
			return nil, fmt.Errorf("topic payload required for script generation")
		}
		summary := ""
		if analysis != nil {
			summary, _ = analysis["summary"].(string)
		}
		var err error
		script, err = o.scripts.Generate(ctx, ScriptInput{
			Topic:           p.Topic,
			Language:        p.Language,
			VideoMode:       p.VideoMode,
			ContentFocus:    p.ContentFocus,
			DocumentContext: p.DocumentContext,
			MaterialSummary: summary,
		})
		if err != nil {
			return nil, err
		}
		if err := o.layout.SaveScript(p.JobID, script); err != nil {
			return nil, err
		}
		report(progress.StageScript, 100, "Script ready")
	}
	if len(script.Sections) == 0 {
		return nil, fmt.Errorf("script has no sections")
	}

	// Stage 3: sections, bounded pool, resume-aware.
	todo := o.sectionsToProcess(p.JobID, script, p.Resume)
	if err := o.runSections(ctx, p, script, todo, report); err != nil {
		return nil, err
	}

	// Stage 4: composite.
	report(progress.StageCombining, 0, "Combining sections...")
	result, err := o.Composite(ctx, p.JobID, script)
	if err != nil {
		return nil, err
	}
	report(progress.StageCombining, 100, "Video generation complete!")

	o.cleanupAfterSuccess(p.JobID)
	return result, nil
}

// sectionsToProcess filters out sections whose videos already exist.
func (o *Orchestrator) sectionsToProcess(jobID string, script *domain.Script, resume bool) []int {
	var todo []int
	for i, section := range script.Sections {
		if resume {
			if _, done := o.layout.ResolveSectionVideo(jobID, i, section.ID); done {
				o.logger.Info("Skipping completed section on resume",
					zap.String("job_id", jobID), zap.Int("section", i))
				continue
			}
		}
		todo = append(todo, i)
	}
	return todo
}

func (o *Orchestrator) runSections(ctx context.Context, p GenerateParams, script *domain.Script, todo []int, report ProgressCallback) error {
	total := len(script.Sections)
	done := total - len(todo)
	if len(todo) == 0 {
		report(progress.StageSections, 100, "All sections already complete")
		return nil
	}
	report(progress.StageSections, float64(done)/float64(total)*100,
		fmt.Sprintf("Processing %d sections...", len(todo)))

	completed := make(chan int, len(todo))
	g, sectionCtx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)

	for _, idx := range todo {
		g.Go(func() error {
			section := script.Sections[idx]
			if section.VideoMode == "" {
				section.VideoMode = script.VideoMode
			}
			_, err := o.worker.Process(sectionCtx, p.JobID, &section, idx, p.Language, p.Voice, p.Style)
			if err != nil {
				return fmt.Errorf("section %d (%s): %w", idx, section.Title, err)
			}
			completed <- idx
			return nil
		})
	}

	// Progress updates as workers land, independent of completion order.
	reporterDone := make(chan struct{})
	go func() {
		defer close(reporterDone)
		for idx := range completed {
			done++
			report(progress.StageSections, float64(done)/float64(total)*100,
				fmt.Sprintf("Completed section %d/%d", done, total))
			o.logger.Info("Section complete",
				zap.String("job_id", p.JobID),
				zap.Int("section", idx),
				zap.Int("done", done),
				zap.Int("total", total),
			)
		}
	}()

	err := g.Wait()
	close(completed)
	<-reporterDone
	return err
}

// Composite reassembles section MP4s by index, writes the final video,
// thumbnail, and the durable video_info.json record.
func (o *Orchestrator) Composite(ctx context.Context, jobID string, script *domain.Script) (*domain.VideoResult, error) {
	var videoPaths []string
	type chapterSrc struct {
		index int
		path  string
	}
	var srcs []chapterSrc
	for i, section := range script.Sections {
		path, ok := o.layout.ResolveSectionVideo(jobID, i, section.ID)
		if !ok {
			return nil, fmt.Errorf("section %d video missing; cannot compose", i)
		}
		srcs = append(srcs, chapterSrc{index: i, path: path})
	}
	sort.Slice(srcs, func(a, b int) bool { return srcs[a].index < srcs[b].index })
	for _, src := range srcs {
		videoPaths = append(videoPaths, src.path)
	}

	listPath := o.layout.ConcatList(jobID)
	if err := media.WriteConcatList(listPath, videoPaths); err != nil {
		return nil, fmt.Errorf("failed to write concat list: %w", err)
	}
	defer os.Remove(listPath)

	finalPath := o.layout.FinalVideo(jobID)
	if err := o.ffmpeg.Concat(ctx, listPath, finalPath); err != nil {
		return nil, err
	}

	// Duration and chapters from measured section lengths, with script
	// durations as the fallback.
	var chapters []domain.VideoChapter
	cursor := 0.0
	for i, section := range script.Sections {
		length := section.DurationSeconds
		if measured, err := o.ffmpeg.Duration(ctx, videoPaths[i]); err == nil && measured > 0 {
			length = measured
		}
		chapters = append(chapters, domain.VideoChapter{
			Title:     section.Title,
			StartTime: cursor,
			Duration:  length,
		})
		cursor += length
	}
	totalDuration := cursor

	thumbnailURL := ""
	thumbAt := totalDuration / 2
	if thumbAt > 5.0 {
		thumbAt = 5.0
	}
	if err := o.ffmpeg.Thumbnail(ctx, finalPath, o.layout.Thumbnail(jobID), thumbAt); err != nil {
		o.logger.Warn("Thumbnail generation failed",
			zap.String("job_id", jobID), zap.Error(err))
	} else {
		thumbnailURL = fmt.Sprintf("/outputs/%s/thumbnail.jpg", jobID)
	}

	result := &domain.VideoResult{
		VideoID:      jobID,
		Title:        script.Title,
		Duration:     totalDuration,
		Chapters:     chapters,
		DownloadURL:  fmt.Sprintf("/outputs/%s/final_video.mp4", jobID),
		ThumbnailURL: thumbnailURL,
	}

	info := domain.VideoInfoFromResult(jobID, *result, time.Now().Format(time.RFC3339))
	if err := o.layout.SaveVideoInfo(info); err != nil {
		return nil, fmt.Errorf("failed to persist video info: %w", err)
	}
	return result, nil
}

// cleanupAfterSuccess prunes intermediates, keeping the final video, its
// metadata, the thumbnail, and translations.
func (o *Orchestrator) cleanupAfterSuccess(jobID string) {
	for _, path := range []string{
		o.layout.SectionsDir(jobID),
		o.layout.ConcatList(jobID),
		o.layout.ScriptPath(jobID),
	} {
		if err := os.RemoveAll(path); err != nil {
			o.logger.Warn("Post-success cleanup failed",
				zap.String("job_id", jobID), zap.String("path", path), zap.Error(err))
		}
	}
}
