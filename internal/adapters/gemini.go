package adapters

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/eduviz/backend/pkg/retry"
)

// schemaDisabledModels remembers preview models that rejected response
// schemas, so we stop sending schemas to them for the rest of the process.
// Other models drop the schema only for the rest of the current Generate call.
var schemaDisabledModels sync.Map

// GeminiClient implements LLMClient over the Gemini API.
type GeminiClient struct {
	client *genai.Client
	logger *zap.Logger
}

// NewGeminiClient builds the underlying genai client once; it is safe for
// concurrent use.
func NewGeminiClient(ctx context.Context, apiKey string, logger *zap.Logger) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GeminiClient{client: client, logger: logger}, nil
}

// Generate performs one generation call with retries and schema fallback.
func (g *GeminiClient) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	maxRetries := req.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	cfg := retry.APIConfig()
	cfg.MaxAttempts = maxRetries

	useSchema := req.ResponseSchema != nil
	if _, disabled := schemaDisabledModels.Load(req.Model); disabled {
		useSchema = false
	}

	var resp *GenerateResponse
	err := retry.Do(ctx, cfg, func() error {
		r, callErr := g.generateOnce(ctx, req, useSchema)
		if callErr != nil {
			if useSchema && isSchemaIncompatible(callErr) {
				g.logger.Warn("Model rejected response schema, retrying without it",
					zap.String("model", req.Model), zap.Error(callErr))
				useSchema = false
				if strings.Contains(req.Model, "preview") {
					schemaDisabledModels.Store(req.Model, true)
				}
				r, callErr = g.generateOnce(ctx, req, false)
			}
			if callErr != nil {
				return callErr
			}
		}
		resp = r
		return nil
	})
	if err != nil {
		g.logger.Error("Gemini generation failed",
			zap.String("model", req.Model), zap.Error(err))
		return &GenerateResponse{Success: false, Error: err.Error()}, err
	}
	return resp, nil
}

func (g *GeminiClient) generateOnce(ctx context.Context, req *GenerateRequest, useSchema bool) (*GenerateResponse, error) {
	start := time.Now()

	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	if req.MaxOutputTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxOutputTokens)
	}
	if useSchema && req.ResponseSchema != nil {
		config.ResponseMIMEType = "application/json"
		config.ResponseSchema = schemaFromMap(req.ResponseSchema)
	} else if req.ResponseJSON {
		config.ResponseMIMEType = "application/json"
	}
	if len(req.Tools) > 0 {
		tool := &genai.Tool{}
		for _, decl := range req.Tools {
			tool.FunctionDeclarations = append(tool.FunctionDeclarations, &genai.FunctionDeclaration{
				Name:        decl.Name,
				Description: decl.Description,
				Parameters:  schemaFromMap(decl.Parameters),
			})
		}
		config.Tools = []*genai.Tool{tool}
	}

	contents := buildGenaiContents(req.Contents)

	resp, err := g.client.Models.GenerateContent(ctx, req.Model, contents, config)
	if err != nil {
		if isSchemaIncompatible(err) || isClientError(err) {
			return nil, retry.NewNonRetryableError(err)
		}
		return nil, err
	}

	out := &GenerateResponse{Success: true, ResponseText: resp.Text()}
	for _, fc := range resp.FunctionCalls() {
		out.FunctionCalls = append(out.FunctionCalls, FunctionCall{Name: fc.Name, Args: fc.Args})
	}
	if resp.UsageMetadata != nil {
		out.Usage = Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}

	g.logger.Debug("Gemini call complete",
		zap.String("model", req.Model),
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("output_tokens", out.Usage.OutputTokens),
		zap.Int("function_calls", len(out.FunctionCalls)),
	)
	return out, nil
}

func buildGenaiContents(parts []Content) []*genai.Content {
	var contents []*genai.Content
	var current *genai.Content
	flush := func() {
		if current != nil && len(current.Parts) > 0 {
			contents = append(contents, current)
		}
		current = nil
	}
	for _, p := range parts {
		role := p.Role
		if role == "" {
			role = genai.RoleUser
		}
		if current == nil || current.Role != role {
			flush()
			current = &genai.Content{Role: role}
		}
		switch {
		case p.FunctionResponse != nil:
			current.Parts = append(current.Parts, genai.NewPartFromFunctionResponse(
				p.FunctionResponse.Name, p.FunctionResponse.Response))
		case p.FunctionCall != nil:
			current.Parts = append(current.Parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{Name: p.FunctionCall.Name, Args: p.FunctionCall.Args},
			})
		case p.Data != nil:
			current.Parts = append(current.Parts, genai.NewPartFromBytes(p.Data, p.MIMEType))
		default:
			current.Parts = append(current.Parts, genai.NewPartFromText(p.Text))
		}
	}
	flush()
	return contents
}

// schemaFromMap converts a JSON-schema-shaped map into a genai schema.
func schemaFromMap(m map[string]any) *genai.Schema {
	if m == nil {
		return nil
	}
	schema := &genai.Schema{}
	if t, ok := m["type"].(string); ok {
		schema.Type = genai.Type(strings.ToUpper(t))
	}
	if d, ok := m["description"].(string); ok {
		schema.Description = d
	}
	if props, ok := m["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*genai.Schema, len(props))
		for name, raw := range props {
			if sub, ok := raw.(map[string]any); ok {
				schema.Properties[name] = schemaFromMap(sub)
			}
		}
	}
	if items, ok := m["items"].(map[string]any); ok {
		schema.Items = schemaFromMap(items)
	}
	if required, ok := m["required"].([]any); ok {
		for _, r := range required {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	} else if required, ok := m["required"].([]string); ok {
		schema.Required = append(schema.Required, required...)
	}
	if enum, ok := m["enum"].([]any); ok {
		for _, e := range enum {
			if s, ok := e.(string); ok {
				schema.Enum = append(schema.Enum, s)
			}
		}
	}
	return schema
}

// isSchemaIncompatible detects providers rejecting structured-output config.
func isSchemaIncompatible(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "response_schema") ||
		strings.Contains(msg, "additional_properties") ||
		strings.Contains(msg, "additionalproperties")
}

// isClientError marks 4xx-style failures that retrying will not fix.
func isClientError(err error) bool {
	msg := err.Error()
	for _, marker := range []string{"400", "401", "403", "404", "INVALID_ARGUMENT", "PERMISSION_DENIED"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
