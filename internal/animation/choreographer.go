package animation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"

	"github.com/eduviz/backend/internal/adapters"
	"github.com/eduviz/backend/internal/domain"
)

// planJSONSchema is the contract the model's plan must satisfy.
const planJSONSchema = `{
  "type": "object",
  "required": ["version", "scene", "objects", "timeline"],
  "properties": {
    "version": {"type": "string"},
    "scene": {
      "type": "object",
      "required": ["mode", "safe_bounds"],
      "properties": {
        "mode": {"type": "string"},
        "camera": {"type": "string"},
        "safe_bounds": {
          "type": "object",
          "required": ["x", "y"],
          "properties": {"x": {"type": "number"}, "y": {"type": "number"}}
        }
      }
    },
    "objects": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "type"],
        "properties": {
          "id": {"type": "string"},
          "type": {"type": "string"},
          "zone": {"type": "string"},
          "content": {"type": "string"},
          "binding": {"type": "string"}
        }
      }
    },
    "timeline": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "at", "action"],
        "properties": {
          "id": {"type": "string"},
          "at": {"type": "number"},
          "duration": {"type": "number"},
          "action": {"type": "string"},
          "targets": {"type": "array", "items": {"type": "string"}},
          "narration_cue": {"type": "string"}
        }
      }
    },
    "constraints": {"type": "object"},
    "notes": {"type": "string"}
  }
}`

// responseSchemaForPlan is the coarse schema passed to the provider's
// structured-output mode; full validation happens locally.
var responseSchemaForPlan = map[string]any{
	"type":     "object",
	"required": []any{"version", "scene", "objects", "timeline"},
	"properties": map[string]any{
		"version": map[string]any{"type": "string"},
		"scene": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"mode":   map[string]any{"type": "string"},
				"camera": map[string]any{"type": "string"},
				"safe_bounds": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"x": map[string]any{"type": "number"},
						"y": map[string]any{"type": "number"},
					},
				},
			},
		},
		"objects":  map[string]any{"type": "array", "items": map[string]any{"type": "object", "properties": map[string]any{"id": map[string]any{"type": "string"}, "type": map[string]any{"type": "string"}, "zone": map[string]any{"type": "string"}, "content": map[string]any{"type": "string"}}}},
		"timeline": map[string]any{"type": "array", "items": map[string]any{"type": "object", "properties": map[string]any{"id": map[string]any{"type": "string"}, "at": map[string]any{"type": "number"}, "action": map[string]any{"type": "string"}}}},
		"notes":    map[string]any{"type": "string"},
	},
}

// Choreographer runs the planning stage: ask the model for a structured scene
// plan and validate it against the plan schema.
type Choreographer struct {
	llm    adapters.LLMClient
	model  string
	schema *gojsonschema.Schema
	logger *zap.Logger
}

func NewChoreographer(llm adapters.LLMClient, model string, logger *zap.Logger) (*Choreographer, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(planJSONSchema))
	if err != nil {
		return nil, fmt.Errorf("invalid plan schema: %w", err)
	}
	return &Choreographer{llm: llm, model: model, schema: schema, logger: logger}, nil
}

// PlanInput bundles what the choreographer needs to know about a section.
type PlanInput struct {
	Section       *domain.Section
	Segments      []domain.AudioSegment
	AudioDuration float64
	Style         string
	Language      string
}

// Plan asks for a choreography plan, retrying with graduated temperature and
// falling back to unconstrained JSON when the model cannot honor the schema.
func (c *Choreographer) Plan(ctx context.Context, in PlanInput, baseTemperature float64, maxAttempts int) (*domain.ChoreographyPlan, map[string]any, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	prompt := c.buildPrompt(in)

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		temp := baseTemperature + float64(attempt)*0.2
		if temp > MaxTemperature {
			temp = MaxTemperature
		}

		req := &adapters.GenerateRequest{
			Model:           c.model,
			Contents:        adapters.TextContent(prompt),
			Temperature:     temp,
			MaxOutputTokens: 8192,
			ResponseSchema:  responseSchemaForPlan,
		}
		if attempt == maxAttempts-1 {
			// Last try: plain JSON mode, no schema constraint.
			req.ResponseSchema = nil
			req.ResponseJSON = true
		}

		resp, err := c.llm.Generate(ctx, req)
		if err != nil {
			lastErr = err
			continue
		}
		doc, ok := resp.ParseJSON()
		if !ok {
			lastErr = fmt.Errorf("plan response was not valid JSON")
			continue
		}
		plan, err := c.decodePlan(doc)
		if err != nil {
			lastErr = err
			c.logger.Warn("Plan rejected",
				zap.Int("attempt", attempt+1), zap.Error(err))
			continue
		}
		return plan, doc, nil
	}
	return nil, nil, &ChoreographyError{Attempts: maxAttempts, Err: lastErr}
}

func (c *Choreographer) decodePlan(doc map[string]any) (*domain.ChoreographyPlan, error) {
	result, err := c.schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return nil, fmt.Errorf("plan validation failed: %w", err)
	}
	if !result.Valid() {
		var msgs []string
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("plan does not satisfy schema: %s", strings.Join(msgs, "; "))
	}

	var plan domain.ChoreographyPlan
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           &plan,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(doc); err != nil {
		return nil, fmt.Errorf("plan decode failed: %w", err)
	}
	if plan.Version == "" {
		plan.Version = "2.0"
	}
	if len(plan.Timeline) == 0 {
		return nil, fmt.Errorf("plan has an empty timeline")
	}
	return &plan, nil
}

func (c *Choreographer) buildPrompt(in PlanInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Design a choreography plan (JSON, version \"2.0\") for an educational animation section.\n\n")
	fmt.Fprintf(&b, "Title: %s\n", in.Section.Title)
	fmt.Fprintf(&b, "Narration: %s\n", in.Section.Narration)
	fmt.Fprintf(&b, "Total audio duration: %.2f seconds\n", in.AudioDuration)
	if in.Style != "" {
		fmt.Fprintf(&b, "Visual style: %s\n", in.Style)
	}
	if in.Language != "" {
		fmt.Fprintf(&b, "On-screen language: %s\n", in.Language)
	}
	if len(in.Segments) > 0 {
		b.WriteString("\nNarration segments with exact timings:\n")
		for _, seg := range in.Segments {
			fmt.Fprintf(&b, "  [%d] %.2f-%.2fs: %s\n", seg.SegmentIndex, seg.StartTime, seg.EndTime, seg.Text)
		}
	}
	if len(in.Section.SupportingData) > 0 {
		if data, err := json.Marshal(in.Section.SupportingData); err == nil {
			fmt.Fprintf(&b, "\nSupporting data: %s\n", data)
		}
	}
	fmt.Fprintf(&b, "\nThe plan must describe scene mode and camera, safe bounds (x=%.1f, y=%.1f), ", SafeXLimit, SafeYLimit)
	b.WriteString("the objects with layout zones, a timeline of events cued to the narration segments, and any constraints. ")
	b.WriteString("Return only the JSON document.")
	return b.String()
}
