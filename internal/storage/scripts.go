package storage

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/eduviz/backend/internal/domain"
)

// SaveScript writes the canonical flat form of a script atomically.
func (l *Layout) SaveScript(jobID string, script *domain.Script) error {
	return WriteJSONAtomic(l.ScriptPath(jobID), script)
}

// LoadScript reads script.json, accepting both the flat form and the legacy
// wrapped form `{script: {...}, mode, output_language}`.
func (l *Layout) LoadScript(jobID string) (*domain.Script, error) {
	raw, err := l.LoadRawScript(jobID)
	if err != nil {
		return nil, err
	}
	return UnwrapScript(raw)
}

// LoadRawScript returns the script document exactly as stored, preserving any
// wrapper keys.
func (l *Layout) LoadRawScript(jobID string) (map[string]any, error) {
	data, err := os.ReadFile(l.ScriptPath(jobID))
	if err != nil {
		return nil, fmt.Errorf("failed to read script for job %s: %w", jobID, err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("corrupt script.json for job %s: %w", jobID, err)
	}
	return raw, nil
}

// UnwrapScript strips a wrapper if present and decodes into the typed form.
// Unknown fields in the document are tolerated.
func UnwrapScript(raw map[string]any) (*domain.Script, error) {
	doc := raw
	if inner, ok := raw["script"].(map[string]any); ok {
		doc = inner
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var script domain.Script
	if err := json.Unmarshal(data, &script); err != nil {
		return nil, fmt.Errorf("invalid script document: %w", err)
	}
	// Wrapper-level mode fills in when the inner script omits it.
	if _, ok := raw["script"]; ok && script.VideoMode == "" {
		if mode, ok := raw["mode"].(string); ok {
			script.VideoMode = mode
		}
	}
	return &script, nil
}

// HasScript reports whether a script.json exists for the job.
func (l *Layout) HasScript(jobID string) bool {
	return fileExists(l.ScriptPath(jobID))
}
