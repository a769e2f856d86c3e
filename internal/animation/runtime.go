package animation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"

	"github.com/eduviz/backend/internal/domain"
	"github.com/eduviz/backend/internal/renderer"
)

// RuntimeProbe renders a scene in dry-run mode (construct still executes,
// video assembly is skipped) and classifies what came back on stderr: Python
// tracebacks, structured spatial issue JSON, and weak spatial warnings.
type RuntimeProbe struct {
	renderer *renderer.Renderer
	injector *Injector
	logger   *zap.Logger
}

func NewRuntimeProbe(r *renderer.Renderer, logger *zap.Logger) *RuntimeProbe {
	return &RuntimeProbe{renderer: r, injector: NewInjector(), logger: logger}
}

// Probe writes the injected scene next to the real one and dry-runs it.
func (p *RuntimeProbe) Probe(ctx context.Context, workDir, code, sceneClass string) ([]domain.ValidationIssue, error) {
	injected := p.injector.Inject(code)
	probeFile := filepath.Join(workDir, "scene_probe.py")
	if err := os.WriteFile(probeFile, []byte(injected), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write probe scene: %w", err)
	}
	defer os.Remove(probeFile)

	result, err := p.renderer.Render(ctx, workDir, probeFile, sceneClass, renderer.QualityLow, true)
	if err != nil {
		if errors.Is(err, renderer.ErrTimeout) {
			return nil, &RenderingError{Err: err}
		}
		if result == nil {
			return nil, &RenderingError{Err: err}
		}
		// Non-zero exit with diagnostics on stderr is the expected failure
		// mode; fall through to parsing.
	}
	if result == nil {
		return nil, nil
	}

	issues := ParseProbeStderr(result.Stderr)
	if len(issues) == 0 && result.ExitCode != 0 {
		issues = append(issues, domain.ValidationIssue{
			Severity:   domain.SeverityCritical,
			Confidence: domain.ConfidenceHigh,
			Category:   domain.CategoryRuntime,
			Message:    fmt.Sprintf("Renderer exited with code %d without diagnostics", result.ExitCode),
		})
	}
	return issues, nil
}

var (
	tracebackLineRe  = regexp.MustCompile(`File "[^"]*",\s*line\s*(\d+)`)
	exceptionLineRe  = regexp.MustCompile(`(?m)^(\w+(?:Error|Exception|Warning|Exit)):?\s*(.*)$`)
	spatialJSONRe    = regexp.MustCompile(`SPATIAL_ISSUES_JSON:(\[.*\])`)
	spatialWarnRe    = regexp.MustCompile(`SPATIAL_WARNING:\s*(.+)`)
	spatialBoundsRe  = regexp.MustCompile(`Spatial Error: Object '([^']+)' is out of bounds.*Center: \(([-\d.]+), ([-\d.]+)\)`)
	spatialOverlapRe = regexp.MustCompile(`Spatial Error: Text overlap detected between '([^']*)' and '([^']*)'`)
)

type probeSpatialIssue struct {
	Category   string         `mapstructure:"category"`
	Severity   string         `mapstructure:"severity"`
	Confidence string         `mapstructure:"confidence"`
	Message    string         `mapstructure:"message"`
	Details    map[string]any `mapstructure:",remain"`
}

// ParseProbeStderr turns a dry-run's stderr into validation issues.
func ParseProbeStderr(stderr string) []domain.ValidationIssue {
	var issues []domain.ValidationIssue

	// Structured spatial issues emitted by the injected checker.
	for _, m := range spatialJSONRe.FindAllStringSubmatch(stderr, -1) {
		var raw []map[string]any
		if err := json.Unmarshal([]byte(m[1]), &raw); err != nil {
			continue
		}
		for _, doc := range raw {
			var parsed probeSpatialIssue
			if err := mapstructure.Decode(doc, &parsed); err != nil {
				continue
			}
			issue := domain.ValidationIssue{
				Severity:   domain.Severity(defaultStr(parsed.Severity, string(domain.SeverityWarning))),
				Confidence: domain.Confidence(defaultStr(parsed.Confidence, string(domain.ConfidenceLow))),
				Category:   domain.IssueCategory(defaultStr(parsed.Category, string(domain.CategoryVisibility))),
				Message:    parsed.Message,
				Details:    parsed.Details,
			}
			issues = append(issues, issue)
		}
	}

	// Hard spatial violations surfaced through sys.exit.
	if m := spatialBoundsRe.FindStringSubmatch(stderr); m != nil {
		x, _ := strconv.ParseFloat(m[2], 64)
		y, _ := strconv.ParseFloat(m[3], 64)
		issues = append(issues, domain.ValidationIssue{
			Severity:    domain.SeverityCritical,
			Confidence:  domain.ConfidenceHigh,
			Category:    domain.CategoryOutOfBounds,
			Message:     fmt.Sprintf("Object '%s' is out of bounds at (%.2f, %.2f)", m[1], x, y),
			AutoFixable: true,
			Details:     map[string]any{"object_type": m[1], "x": x, "y": y},
		})
	}
	if m := spatialOverlapRe.FindStringSubmatch(stderr); m != nil {
		issues = append(issues, domain.ValidationIssue{
			Severity:    domain.SeverityCritical,
			Confidence:  domain.ConfidenceHigh,
			Category:    domain.CategoryTextOverlap,
			Message:     fmt.Sprintf("Text overlap between %q and %q", m[1], m[2]),
			AutoFixable: true,
			Details:     map[string]any{"text1": m[1], "text2": m[2]},
		})
	}

	// Weak hints.
	for _, m := range spatialWarnRe.FindAllStringSubmatch(stderr, -1) {
		issues = append(issues, domain.ValidationIssue{
			Severity:   domain.SeverityInfo,
			Confidence: domain.ConfidenceLow,
			Category:   domain.CategoryVisibility,
			Message:    strings.TrimSpace(m[1]),
		})
	}

	// Python tracebacks; skip the SystemExit raised by the injected checker —
	// it is already represented above.
	if strings.Contains(stderr, "Traceback (most recent call last)") &&
		!strings.Contains(stderr, "Spatial Error:") {
		line := 0
		if lineMatches := tracebackLineRe.FindAllStringSubmatch(stderr, -1); len(lineMatches) > 0 {
			line, _ = strconv.Atoi(lineMatches[len(lineMatches)-1][1])
		}
		message := "Runtime error during render"
		if em := exceptionLineRe.FindAllStringSubmatch(stderr, -1); len(em) > 0 {
			last := em[len(em)-1]
			message = strings.TrimSpace(last[1] + ": " + last[2])
		}
		issues = append(issues, domain.ValidationIssue{
			Severity:   domain.SeverityCritical,
			Confidence: domain.ConfidenceHigh,
			Category:   domain.CategoryRuntime,
			Message:    message,
			Line:       line,
		})
	}

	return issues
}

func defaultStr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
