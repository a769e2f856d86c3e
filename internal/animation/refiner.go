package animation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/eduviz/backend/internal/adapters"
	"github.com/eduviz/backend/internal/domain"
	"github.com/eduviz/backend/internal/media"
	"github.com/eduviz/backend/internal/renderer"
	"github.com/eduviz/backend/internal/storage"
)

// Options tune the refinement loop.
type Options struct {
	Model             string
	QCModel           string
	MaxRefineAttempts int
	MaxCleanRetries   int
	TemperatureBase   float64
	TemperatureStep   float64
}

func (o *Options) normalize() {
	if o.MaxRefineAttempts < 1 {
		o.MaxRefineAttempts = DefaultMaxRefineAttempts
	}
	if o.MaxCleanRetries < 1 {
		o.MaxCleanRetries = DefaultMaxCleanRetries
	}
	if o.TemperatureBase <= 0 {
		o.TemperatureBase = DefaultTemperatureBase
	}
	if o.TemperatureStep <= 0 {
		o.TemperatureStep = DefaultTemperatureStep
	}
	if o.TemperatureStep > MaxTemperatureStep {
		o.TemperatureStep = MaxTemperatureStep
	}
}

// Request is one section's animation job.
type Request struct {
	Section       *domain.Section
	Segments      []domain.AudioSegment
	AudioDuration float64
	OutputDir     string
	SectionIndex  int
	Style         string
	Language      string
}

// Result is the refiner's successful output.
type Result struct {
	VideoPath         string
	Code              string
	CodePath          string
	PlanPath          string
	ValidationResults []domain.ValidationResult
}

// Generator is the plan -> implement -> validate/repair engine producing a
// rendered scene per section.
type Generator struct {
	choreographer *Choreographer
	implementer   *Implementer
	fixer         *Fixer
	validator     *Validator
	probe         *RuntimeProbe
	qc            *VisionQC
	renderer      *renderer.Renderer
	llm           adapters.LLMClient
	opts          Options
	logger        *zap.Logger
}

func NewGenerator(llm adapters.LLMClient, rend *renderer.Renderer, ffmpeg *media.FFmpeg, opts Options, logger *zap.Logger) (*Generator, error) {
	opts.normalize()
	chor, err := NewChoreographer(llm, opts.Model, logger)
	if err != nil {
		return nil, err
	}
	qcModel := opts.QCModel
	if qcModel == "" {
		qcModel = opts.Model
	}
	return &Generator{
		choreographer: chor,
		implementer:   NewImplementer(llm, opts.Model, logger),
		fixer:         NewFixer(),
		validator:     NewValidator(),
		probe:         NewRuntimeProbe(rend, logger),
		qc:            NewVisionQC(llm, qcModel, ffmpeg, logger),
		renderer:      rend,
		llm:           llm,
		opts:          opts,
		logger:        logger,
	}, nil
}

// GenerateAnimation runs the full three-stage pipeline for one section.
// Each outer pass raises the temperature. A cancelled or expired context
// returns that pass's error as is; otherwise exhaustion returns the last
// failure wrapped in a RefinementError.
func (g *Generator) GenerateAnimation(ctx context.Context, req *Request) (*Result, error) {
	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create section dir: %w", err)
	}
	sceneClass := fmt.Sprintf("Section%dScene", req.SectionIndex)
	whitelist := map[string]bool{}
	var lastErr error

	for outer := 0; outer < g.opts.MaxCleanRetries; outer++ {
		temp := g.opts.TemperatureBase + float64(outer)*g.opts.TemperatureStep
		if temp > MaxTemperature {
			temp = MaxTemperature
		}
		g.logger.Info("Starting animation pass",
			zap.Int("section", req.SectionIndex),
			zap.Int("pass", outer+1),
			zap.Float64("temperature", temp),
		)

		result, err := g.runOnePass(ctx, req, sceneClass, temp, whitelist)
		if err == nil {
			return result, nil
		}
		lastErr = err

		var chErr *ChoreographyError
		var implErr *ImplementationError
		switch {
		case errors.As(err, &chErr), errors.As(err, &implErr):
			// Retry the whole pass at higher temperature.
		case errors.Is(ctx.Err(), context.Canceled), errors.Is(ctx.Err(), context.DeadlineExceeded):
			return nil, err
		}
		g.logger.Warn("Animation pass failed",
			zap.Int("section", req.SectionIndex),
			zap.Int("pass", outer+1),
			zap.Error(err),
		)
	}
	return nil, &RefinementError{Attempts: g.opts.MaxCleanRetries, Err: lastErr}
}

func (g *Generator) runOnePass(ctx context.Context, req *Request, sceneClass string, temp float64, whitelist map[string]bool) (*Result, error) {
	// Stage 1: plan.
	plan, rawPlan, err := g.choreographer.Plan(ctx, PlanInput{
		Section:       req.Section,
		Segments:      req.Segments,
		AudioDuration: req.AudioDuration,
		Style:         req.Style,
		Language:      req.Language,
	}, temp, 3)
	if err != nil {
		return nil, err
	}
	planPath := filepath.Join(req.OutputDir, "choreography_plan.json")
	if err := storage.WriteJSONAtomic(planPath, rawPlan); err != nil {
		g.logger.Warn("Failed to persist choreography plan", zap.Error(err))
	}

	// Stage 2: implement.
	style := StyleByName(req.Style)
	code, err := g.implementer.Implement(ctx, ImplementInput{
		Section:       req.Section,
		Plan:          plan,
		AudioDuration: req.AudioDuration,
		Style:         style,
		Language:      req.Language,
		SceneClass:    sceneClass,
	}, temp)
	if err != nil {
		return nil, err
	}
	// Scenes that run past the audio are logged and left uncut.
	if current, _ := ExtractTiming(code); current-req.AudioDuration > 0.5 {
		g.logger.Warn("Scene runs longer than its audio; not cutting",
			zap.Int("section", req.SectionIndex),
			zap.Float64("scene_seconds", current),
			zap.Float64("audio_seconds", req.AudioDuration),
		)
	}

	// Stage 3: validate and repair until no critical issues remain.
	var validations []domain.ValidationResult
	var deferred []domain.ValidationIssue
	converged := false

	for attempt := 0; attempt < g.opts.MaxRefineAttempts; attempt++ {
		code, _ = g.fixer.FixKnownPatterns(code)
		code = AdjustTiming(code, req.AudioDuration)

		static := g.validator.Validate(code)
		issues := filterWhitelisted(static.Issues, whitelist)

		// Static auto-fixables first; re-validate after the change.
		if auto := selectAutoFixable(issues); len(auto) > 0 {
			var fixes int
			code, _, fixes = g.fixer.Fix(code, issues)
			if fixes > 0 {
				static = g.validator.Validate(code)
				issues = filterWhitelisted(static.Issues, whitelist)
			}
		}

		// Runtime probe with the injected spatial checker.
		runtimeIssues, probeErr := g.probe.Probe(ctx, req.OutputDir, code, sceneClass)
		if probeErr != nil {
			return nil, probeErr
		}
		issues = append(issues, filterWhitelisted(runtimeIssues, whitelist)...)
		validations = append(validations, domain.NewValidationResult(issues))

		// Triage.
		var autoFix, llmFix []domain.ValidationIssue
		deferred = deferred[:0]
		for _, issue := range issues {
			switch {
			case issue.ShouldAutoFix():
				autoFix = append(autoFix, issue)
			case issue.RequiresLLM():
				llmFix = append(llmFix, issue)
			case issue.NeedsVerification():
				deferred = append(deferred, issue)
			}
		}

		if len(autoFix) == 0 && len(llmFix) == 0 {
			if !hasCritical(issues) {
				converged = true
				break
			}
		}

		if len(autoFix) > 0 {
			var remaining []domain.ValidationIssue
			code, remaining, _ = g.fixer.Fix(code, autoFix)
			// Whatever the fixer could not consume goes to the LLM path.
			for _, issue := range remaining {
				if issue.Severity == domain.SeverityCritical {
					llmFix = append(llmFix, issue)
				}
			}
		}
		if len(llmFix) > 0 {
			edited, editErr := g.surgicalEdit(ctx, code, llmFix, "", req.OutputDir, temp)
			if editErr != nil {
				g.logger.Warn("Surgical edit failed",
					zap.Int("section", req.SectionIndex), zap.Error(editErr))
			} else if edited != "" {
				code = edited
			}
		}
	}

	if !converged {
		return nil, &RefinementError{
			Attempts: g.opts.MaxRefineAttempts,
			Err:      fmt.Errorf("critical issues persisted in section %d", req.SectionIndex),
		}
	}

	// Persist the converged scene.
	codePath := filepath.Join(req.OutputDir, fmt.Sprintf("scene_%d.py", req.SectionIndex))
	if err := storage.WriteFileAtomic(codePath, []byte(code)); err != nil {
		return nil, fmt.Errorf("failed to write scene file: %w", err)
	}

	// Final render at full quality; retry once at reduced quality on failure.
	videoPath, err := g.renderFinal(ctx, req.OutputDir, codePath, sceneClass)
	if err != nil {
		return nil, err
	}

	// Vision QC on the final video: deferred low-confidence issues are either
	// confirmed (one reopened repair round) or whitelisted.
	if len(deferred) > 0 {
		verdicts := g.qc.Verify(ctx, videoPath, req.AudioDuration, deferred, req.OutputDir)
		var confirmed []domain.ValidationIssue
		for _, verdict := range verdicts {
			if verdict.Real {
				confirmed = append(confirmed, verdict.Issue)
			} else {
				whitelist[WhitelistKey(verdict.Issue)] = true
			}
		}
		if len(confirmed) > 0 {
			g.logger.Info("Vision QC confirmed issues; reopening repair once",
				zap.Int("section", req.SectionIndex),
				zap.Int("confirmed", len(confirmed)),
			)
			fixedCode, remaining, _ := g.fixer.Fix(code, promoteConfirmed(confirmed))
			if len(remaining) > 0 {
				if edited, editErr := g.surgicalEdit(ctx, fixedCode, remaining, videoPath, req.OutputDir, temp); editErr == nil && edited != "" {
					fixedCode = edited
				}
			}
			if fixedCode != code {
				code = sanitizeWaits(fixedCode)
				if err := storage.WriteFileAtomic(codePath, []byte(code)); err != nil {
					return nil, fmt.Errorf("failed to rewrite scene file: %w", err)
				}
				videoPath, err = g.renderFinal(ctx, req.OutputDir, codePath, sceneClass)
				if err != nil {
					return nil, err
				}
			}
		}
	}

	return &Result{
		VideoPath:         videoPath,
		Code:              code,
		CodePath:          codePath,
		PlanPath:          planPath,
		ValidationResults: validations,
	}, nil
}

// renderFinal renders at high quality, retrying once at medium on failure.
func (g *Generator) renderFinal(ctx context.Context, workDir, codePath, sceneClass string) (string, error) {
	result, err := g.renderer.Render(ctx, workDir, codePath, sceneClass, renderer.QualityHigh, false)
	if err == nil && result.OutputPath != "" {
		return result.OutputPath, nil
	}
	g.logger.Warn("High-quality render failed; retrying at medium quality",
		zap.String("scene_class", sceneClass), zap.Error(err))

	result, err = g.renderer.Render(ctx, workDir, codePath, sceneClass, renderer.QualityMedium, false)
	if err != nil {
		stderr := ""
		if result != nil {
			stderr = result.Stderr
		}
		return "", &RenderingError{Stderr: stderr, Err: err}
	}
	return result.OutputPath, nil
}

const maxSurgicalTurns = 6

// surgicalEdit runs the multi-turn tool conversation: the model edits the
// scene through search_replace and may request frames via inspect_frames.
func (g *Generator) surgicalEdit(ctx context.Context, code string, issues []domain.ValidationIssue, videoPath, workDir string, temp float64) (string, error) {
	current := code
	contents := []adapters.Content{{Text: buildSurgicalPrompt(current, issues)}}

	for turn := 0; turn < maxSurgicalTurns; turn++ {
		resp, err := g.llm.Generate(ctx, &adapters.GenerateRequest{
			Model:           g.opts.Model,
			Contents:        contents,
			Temperature:     temp,
			MaxOutputTokens: 8192,
			Tools:           SurgicalTools(),
		})
		if err != nil {
			return "", err
		}
		if len(resp.FunctionCalls) == 0 {
			break
		}

		var pendingFrame []byte
		for _, call := range resp.FunctionCalls {
			contents = append(contents, adapters.Content{Role: "model", FunctionCall: &call})

			if err := ValidateToolArgs(call); err != nil {
				contents = append(contents, toolResponse(call.Name, map[string]any{
					"success": false, "error": err.Error(),
				}))
				continue
			}

			switch call.Name {
			case "search_replace":
				search, _ := call.Args["search"].(string)
				replace, _ := call.Args["replace"].(string)
				edited, applyErr := ApplySearchReplace(current, search, replace)
				if applyErr != nil {
					contents = append(contents, toolResponse(call.Name, map[string]any{
						"success": false, "error": applyErr.Error(),
					}))
					continue
				}
				current = edited
				contents = append(contents, toolResponse(call.Name, map[string]any{"success": true}))

			case "inspect_frames":
				ts := floatArg(call.Args, "timestamp_seconds")
				frame, frameErr := g.captureFrame(ctx, videoPath, workDir, ts)
				if frameErr != nil {
					contents = append(contents, toolResponse(call.Name, map[string]any{
						"success": false, "error": frameErr.Error(),
					}))
					continue
				}
				contents = append(contents, toolResponse(call.Name, map[string]any{
					"success": true, "timestamp_seconds": ts,
				}))
				pendingFrame = frame
			}
		}
		// A requested frame rides along as multimodal input on the next turn.
		if pendingFrame != nil {
			contents = append(contents, adapters.Content{Data: pendingFrame, MIMEType: "image/jpeg"})
		}
	}

	if current == code {
		return "", nil
	}
	return current, nil
}

func (g *Generator) captureFrame(ctx context.Context, videoPath, workDir string, ts float64) ([]byte, error) {
	if videoPath == "" {
		return nil, fmt.Errorf("no rendered video available yet")
	}
	framePath := filepath.Join(workDir, "qc_frames", fmt.Sprintf("inspect_%.2f.jpg", ts))
	if err := g.qc.ffmpeg.ExtractFrame(ctx, videoPath, framePath, ts); err != nil {
		return nil, err
	}
	return os.ReadFile(framePath)
}

func toolResponse(name string, response map[string]any) adapters.Content {
	return adapters.Content{FunctionResponse: &adapters.FunctionResponse{Name: name, Response: response}}
}

func floatArg(args map[string]any, key string) float64 {
	switch v := args[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return 0
	}
}

func buildSurgicalPrompt(code string, issues []domain.ValidationIssue) string {
	var b strings.Builder
	b.WriteString("The scene code below has validation issues that must be fixed with minimal, surgical edits.\n\nIssues:\n")
	for i, issue := range issues {
		fmt.Fprintf(&b, "%d. [%s/%s] %s", i+1, issue.Category, issue.Severity, issue.Message)
		if issue.Line > 0 {
			fmt.Fprintf(&b, " (line %d)", issue.Line)
		}
		if issue.FixHint != "" {
			b.WriteString(" Hint: " + issue.FixHint)
		}
		b.WriteString("\n")
	}
	b.WriteString("\nUse the search_replace tool for each fix; the search text must match exactly once. ")
	b.WriteString("Use inspect_frames to view the rendered output if unsure. Do not rewrite unrelated code.\n\n")
	b.WriteString("Current code:\n```python\n")
	b.WriteString(code)
	b.WriteString("\n```")
	return b.String()
}

func filterWhitelisted(issues []domain.ValidationIssue, whitelist map[string]bool) []domain.ValidationIssue {
	var out []domain.ValidationIssue
	for _, issue := range issues {
		if whitelist[WhitelistKey(issue)] {
			continue
		}
		out = append(out, issue)
	}
	return out
}

func selectAutoFixable(issues []domain.ValidationIssue) []domain.ValidationIssue {
	var out []domain.ValidationIssue
	for _, issue := range issues {
		if issue.ShouldAutoFix() {
			out = append(out, issue)
		}
	}
	return out
}

func hasCritical(issues []domain.ValidationIssue) bool {
	for _, issue := range issues {
		if issue.Severity == domain.SeverityCritical {
			return true
		}
	}
	return false
}

// promoteConfirmed upgrades verified issues to high confidence so the normal
// routing predicates apply after verification collapses the classification.
func promoteConfirmed(issues []domain.ValidationIssue) []domain.ValidationIssue {
	out := make([]domain.ValidationIssue, len(issues))
	for i, issue := range issues {
		issue.Confidence = domain.ConfidenceHigh
		if issue.Severity == domain.SeverityInfo {
			issue.Severity = domain.SeverityWarning
		}
		out[i] = issue
	}
	return out
}
