package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/eduviz/backend/internal/adapters"
	"github.com/eduviz/backend/internal/domain"
)

// Analyzer extracts document structure and suggested topics from an upload.
type Analyzer struct {
	llm    adapters.LLMClient
	model  string
	logger *zap.Logger
}

func NewAnalyzer(llm adapters.LLMClient, model string, logger *zap.Logger) *Analyzer {
	return &Analyzer{llm: llm, model: model, logger: logger}
}

var mimeByExt = map[string]string{
	".pdf":  "application/pdf",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".txt":  "text/plain",
	".md":   "text/plain",
}

// Analyze reads the uploaded file and asks the model for material type,
// summary, and suggested topics. The result is a loosely typed document the
// analysis repository persists verbatim.
func (a *Analyzer) Analyze(ctx context.Context, filePath, language string) (map[string]any, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read uploaded file: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(filePath))
	mime, ok := mimeByExt[ext]
	if !ok {
		return nil, fmt.Errorf("unsupported file type %q", ext)
	}

	prompt := `Analyze this learning material. Return a JSON object with:
- material_type: one of "lecture_notes", "textbook_excerpt", "problem_set", "slides", "other"
- main_subject: the subject area
- summary: 2-3 sentence overview
- suggested_topics: array of {index, title, description, estimated_duration} covering the distinct teachable topics (estimated_duration in seconds)
Respond with only the JSON object.`
	if language != "" {
		prompt += fmt.Sprintf("\nWrite titles, descriptions, and the summary in %s.", language)
	}

	contents := []adapters.Content{{Text: prompt}}
	if mime == "text/plain" {
		contents = append(contents, adapters.Content{Text: string(data)})
	} else {
		contents = append(contents, adapters.Content{Data: data, MIMEType: mime})
	}

	resp, err := a.llm.Generate(ctx, &adapters.GenerateRequest{
		Model:           a.model,
		Contents:        contents,
		Temperature:     0.2,
		MaxOutputTokens: 8192,
		ResponseJSON:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("analysis failed: %w", err)
	}
	doc, ok := resp.ParseJSON()
	if !ok {
		return nil, fmt.Errorf("analysis response was not valid JSON")
	}
	if _, hasTopics := doc["suggested_topics"]; !hasTopics {
		return nil, fmt.Errorf("analysis response missing suggested_topics")
	}
	return doc, nil
}

// ScriptConstraints bound overview-mode script generation.
type ScriptConstraints struct {
	OverviewMaxSections     int
	OverviewTargetDuration  int
	OverviewMaxSectionWords int
}

// ScriptGenerator produces the video plan from the selected topics.
type ScriptGenerator struct {
	llm         adapters.LLMClient
	model       string
	constraints ScriptConstraints
	logger      *zap.Logger
}

func NewScriptGenerator(llm adapters.LLMClient, model string, constraints ScriptConstraints, logger *zap.Logger) *ScriptGenerator {
	return &ScriptGenerator{llm: llm, model: model, constraints: constraints, logger: logger}
}

// ScriptInput parameterizes one script generation call.
type ScriptInput struct {
	Topic           *domain.TopicPayload
	Language        string
	VideoMode       string
	ContentFocus    string
	DocumentContext string
	MaterialSummary string
}

// Generate asks the model for the script and decodes it tolerantly.
func (g *ScriptGenerator) Generate(ctx context.Context, in ScriptInput) (*domain.Script, error) {
	resp, err := g.llm.Generate(ctx, &adapters.GenerateRequest{
		Model:           g.model,
		Contents:        adapters.TextContent(g.buildPrompt(in)),
		Temperature:     0.5,
		MaxOutputTokens: 16384,
		ResponseJSON:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("script generation failed: %w", err)
	}
	doc, ok := resp.ParseJSON()
	if !ok {
		return nil, fmt.Errorf("script response was not valid JSON")
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var script domain.Script
	if err := json.Unmarshal(data, &script); err != nil {
		return nil, fmt.Errorf("invalid script document: %w", err)
	}
	if len(script.Sections) == 0 {
		return nil, fmt.Errorf("generated script has no sections")
	}

	script.VideoMode = in.VideoMode
	total := 0.0
	for i := range script.Sections {
		section := &script.Sections[i]
		if section.ID == "" {
			section.ID = fmt.Sprintf("section_%d", i)
		}
		section.VideoMode = in.VideoMode
		if section.DurationSeconds == 0 {
			for _, seg := range section.NarrationSegments {
				section.DurationSeconds += seg.EstimatedDuration
			}
		}
		total += section.DurationSeconds
	}
	if script.TotalDurationSeconds == 0 {
		script.TotalDurationSeconds = total
	}
	return &script, nil
}

func (g *ScriptGenerator) buildPrompt(in ScriptInput) string {
	var b strings.Builder
	b.WriteString("Write the plan for a narrated educational animation video as a JSON object with: ")
	b.WriteString(`title, video_mode, total_duration_seconds, and sections[] of {id, title, narration, tts_narration, narration_segments: [{text, estimated_duration}], duration_seconds, visual_type, supporting_data}.`)
	fmt.Fprintf(&b, "\n\nTopic: %s\n", in.Topic.Title)
	if in.Topic.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", in.Topic.Description)
	}
	if in.MaterialSummary != "" {
		fmt.Fprintf(&b, "Source material summary: %s\n", in.MaterialSummary)
	}
	fmt.Fprintf(&b, "Video mode: %s\n", in.VideoMode)
	if in.Language != "" {
		fmt.Fprintf(&b, "Narration language: %s\n", in.Language)
	}
	switch in.ContentFocus {
	case "practice":
		b.WriteString("Focus on worked examples and practice problems.\n")
	case "theory":
		b.WriteString("Focus on concepts, definitions, and derivations.\n")
	default:
		b.WriteString("Follow the document's own balance of theory and practice.\n")
	}
	if in.DocumentContext == "series" {
		b.WriteString("This video is part of a series; do not re-introduce prerequisites.\n")
	}
	if in.VideoMode == "overview" {
		fmt.Fprintf(&b, "Constraints: at most %d sections, target total duration %d seconds, at most %d words of narration per section.\n",
			g.constraints.OverviewMaxSections, g.constraints.OverviewTargetDuration, g.constraints.OverviewMaxSectionWords)
	} else if in.Topic.EstimatedDuration > 0 {
		fmt.Fprintf(&b, "Target total duration: about %d seconds.\n", in.Topic.EstimatedDuration)
	}
	b.WriteString("Sum of narration_segments estimated_duration must match each section's duration_seconds. ")
	b.WriteString("visual_type is one of: graph, table, diagram, equation, mixed. Respond with only the JSON object.")
	return b.String()
}

// ResolveTopicPayload maps selected topic indices against a stored analysis.
func ResolveTopicPayload(analysis map[string]any, analysisID, fileID string, selected []int) (*domain.TopicPayload, error) {
	if analysis == nil {
		return nil, fmt.Errorf("analysis not found; analyze the file again before generating")
	}
	if got, _ := analysis["file_id"].(string); got != "" && got != fileID {
		return nil, fmt.Errorf("analysis_id does not match file_id")
	}
	if len(selected) == 0 {
		return nil, fmt.Errorf("at least one topic must be selected")
	}
	rawTopics, _ := analysis["suggested_topics"].([]any)
	if len(rawTopics) == 0 {
		return nil, fmt.Errorf("analysis result does not contain suggested topics")
	}

	indexed := map[int]map[string]any{}
	for i, raw := range rawTopics {
		topic, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		idx := i
		if v, ok := topic["index"].(float64); ok {
			idx = int(v)
		}
		indexed[idx] = topic
	}

	var titles, descriptions []string
	estimated := 0
	for _, idx := range selected {
		topic, ok := indexed[idx]
		if !ok {
			continue
		}
		if title, _ := topic["title"].(string); title != "" {
			titles = append(titles, strings.TrimSpace(title))
		}
		if desc, _ := topic["description"].(string); strings.TrimSpace(desc) != "" {
			descriptions = append(descriptions, strings.TrimSpace(desc))
		}
		if d, ok := topic["estimated_duration"].(float64); ok {
			estimated += int(d)
		}
	}
	if len(titles) == 0 {
		return nil, fmt.Errorf("selected topic indices are invalid for this analysis")
	}

	head := strings.Join(titles[:min(3, len(titles))], " + ")
	if len(titles) > 3 {
		head = fmt.Sprintf("%s + %d more", head, len(titles)-3)
	}
	description := strings.Join(descriptions, " ")
	if description == "" {
		description, _ = analysis["summary"].(string)
	}
	subject, _ := analysis["subject_area"].(string)
	if subject == "" {
		subject, _ = analysis["main_subject"].(string)
	}
	if subject == "" {
		subject = "general"
	}

	return &domain.TopicPayload{
		Title:                head,
		Description:          description,
		EstimatedDuration:    estimated,
		SubjectArea:          subject,
		SelectedTopicIndices: selected,
		SelectedTopicTitles:  titles,
		AnalysisID:           analysisID,
	}, nil
}
