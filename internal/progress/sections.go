package progress

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/eduviz/backend/internal/domain"
	"github.com/eduviz/backend/internal/storage"
)

// SectionProgress is the per-section view returned by the jobs API. Derived
// from the live status.json plus file presence; never persisted.
type SectionProgress struct {
	Index            int     `json:"index"`
	ID               string  `json:"id"`
	Title            string  `json:"title"`
	Status           string  `json:"status"`
	DurationSeconds  float64 `json:"duration_seconds,omitempty"`
	NarrationPreview string  `json:"narration_preview"`
	HasVideo         bool    `json:"has_video"`
	HasAudio         bool    `json:"has_audio"`
	HasCode          bool    `json:"has_code"`
}

// StageFromStatus maps a job status to the display stage used by the UI.
func StageFromStatus(status domain.JobStatus) string {
	switch status {
	case domain.StatusPending, domain.StatusAnalyzing:
		return "analyzing"
	case domain.StatusGeneratingScript:
		return "script"
	case domain.StatusCreatingAnimation, domain.StatusSynthesizingAudio:
		return "sections"
	case domain.StatusComposingVideo:
		return "combining"
	case domain.StatusCompleted:
		return "completed"
	case domain.StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// BuildSectionsProgress derives a per-section progress list from the script
// and filesystem. Returns the list and the completed count.
func (t *Tracker) BuildSectionsProgress(jobID string, currentStage string) ([]SectionProgress, int) {
	script, err := t.layout.LoadScript(jobID)
	if err != nil {
		return nil, 0
	}

	var sections []SectionProgress
	completed := 0
	for i, section := range script.Sections {
		sp := t.buildSectionProgress(jobID, &section, i, currentStage, completed)
		if sp.Status == "completed" {
			completed++
		}
		sections = append(sections, sp)
	}
	return sections, completed
}

func (t *Tracker) buildSectionProgress(jobID string, section *domain.Section, index int, currentStage string, completedSoFar int) SectionProgress {
	sectionID := section.ID
	if sectionID == "" {
		sectionID = fmt.Sprintf("section_%d", index)
	}
	sectionDir := t.layout.SectionDir(jobID, index)

	hasAudio := fileExists(t.layout.SectionAudio(jobID, index))
	hasCode := false
	if matches, err := filepath.Glob(filepath.Join(sectionDir, "*.py")); err == nil && len(matches) > 0 {
		hasCode = true
	}
	_, hasVideo := t.layout.ResolveSectionVideo(jobID, index, sectionID)

	// status.json is the most current view; fall back to file-based detection.
	var status string
	switch live := t.layout.ReadSectionStatus(jobID, index); live {
	case storage.SectionStatusGeneratingAudio, storage.SectionStatusGeneratingVideo,
		storage.SectionStatusFixingError, storage.SectionStatusCompleted:
		status = string(live)
	default:
		switch {
		case hasVideo:
			status = "completed"
		case hasCode, hasAudio:
			status = "generating_video"
		case currentStage == "sections" && index == completedSoFar:
			status = "generating_audio"
		default:
			status = "waiting"
		}
	}

	narration := section.NarrationText()
	preview := narration
	if len(preview) > 200 {
		preview = preview[:200] + "..."
	}

	return SectionProgress{
		Index:            index,
		ID:               sectionID,
		Title:            section.Title,
		Status:           status,
		DurationSeconds:  section.DurationSeconds,
		NarrationPreview: preview,
		HasVideo:         hasVideo,
		HasAudio:         hasAudio,
		HasCode:          hasCode,
	}
}

// CurrentSectionIndex returns the index being processed, or -1 when the job
// is not in the sections stage.
func CurrentSectionIndex(sections []SectionProgress, completed, total int, currentStage string) int {
	if currentStage != "sections" || len(sections) == 0 {
		return -1
	}
	for _, s := range sections {
		if s.Status != "completed" && s.Status != "waiting" {
			return s.Index
		}
	}
	if completed < total {
		return completed
	}
	return -1
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
