package adapters

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// Content is one part of a multimodal prompt: text, or raw image bytes with
// their MIME type.
type Content struct {
	Text     string
	Data     []byte
	MIMEType string
	// Role marks conversation turns in multi-turn tool exchanges
	// ("user", "model"); empty means user.
	Role string
	// FunctionResponse carries a tool result back to the model.
	FunctionResponse *FunctionResponse
	// FunctionCall echoes a model-issued call in the transcript.
	FunctionCall *FunctionCall
}

// TextContent is the common single-part prompt.
func TextContent(text string) []Content {
	return []Content{{Text: text}}
}

// ToolDeclaration describes one function the model may call.
type ToolDeclaration struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON schema for the arguments
}

// FunctionCall is a structured tool invocation returned by the model.
type FunctionCall struct {
	Name string
	Args map[string]any
}

// FunctionResponse is the tool's answer fed back to the model.
type FunctionResponse struct {
	Name     string
	Response map[string]any
}

// GenerateRequest is the provider-agnostic generation contract.
type GenerateRequest struct {
	Model           string
	Contents        []Content
	Temperature     float64
	MaxOutputTokens int
	Tools           []ToolDeclaration
	ResponseSchema  map[string]any
	ResponseJSON    bool // request application/json output without a schema
	Thinking        string
	Timeout         time.Duration
	MaxRetries      int
}

// Usage reports token accounting when the provider returns it.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// GenerateResponse is the normalized provider result.
type GenerateResponse struct {
	Success       bool
	ResponseText  string
	FunctionCalls []FunctionCall
	ParsedJSON    map[string]any
	Usage         Usage
	Error         string
}

// ParseJSON lazily decodes the response text as a JSON object, tolerating a
// markdown code fence around it.
func (r *GenerateResponse) ParseJSON() (map[string]any, bool) {
	if r.ParsedJSON != nil {
		return r.ParsedJSON, true
	}
	text := StripCodeFence(r.ResponseText)
	var doc map[string]any
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return nil, false
	}
	r.ParsedJSON = doc
	return doc, true
}

// StripCodeFence removes a surrounding ``` or ```json fence if present.
func StripCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.Index(trimmed, "\n"); idx >= 0 {
		// Drop the language tag line (e.g. "json" or "python").
		trimmed = trimmed[idx+1:]
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

// LLMClient is the contract both pipeline and refiner consume. The prompt
// text lives with the callers; the client handles transport, retries, and
// schema fallback.
type LLMClient interface {
	Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error)
}
